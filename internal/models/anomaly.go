package models

import "time"

// AnomalyType tags which strategy produced a detection
type AnomalyType string

const (
	AnomalyTypeRuleBased       AnomalyType = "rule_based"
	AnomalyTypeMachineLearning AnomalyType = "machine_learning"
	AnomalyTypeNone            AnomalyType = "none"
)

// RuleViolation is a single fired predicate from the rule table
type RuleViolation struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
}

// AnomalyResult is the outcome of evaluating one telemetry sample.
// Confidence is method specific and not a calibrated probability.
type AnomalyResult struct {
	IsAnomaly   bool            `json:"is_anomaly"`
	Confidence  float64         `json:"confidence"`
	AnomalyType AnomalyType     `json:"anomaly_type"`
	Violations  []RuleViolation `json:"anomalies,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// DetectedAnomaly is an anomalous result tied to the sample it came from
type DetectedAnomaly struct {
	ID        string    `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
	AnomalyResult
	Snapshot *TelemetrySample `json:"telemetry_snapshot,omitempty"`
}

// AnomalyQuery filters stored anomalies
type AnomalyQuery struct {
	VehicleID   string
	AnomalyType AnomalyType
	Limit       int
}
