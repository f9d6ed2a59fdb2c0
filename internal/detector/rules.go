package detector

import "vehicle-anomaly-monitor/internal/models"

// Rule is a fixed predicate over a single sample's instantaneous values
type Rule struct {
	Type        string
	Severity    models.Severity
	Confidence  float64
	Description string
	Evaluator   func(s *models.TelemetrySample) bool
}

// Rule type tags reported in violations
const (
	RuleSuddenBraking     = "sudden_braking"
	RuleEngineOverheating = "engine_overheating"
	RuleHighRPMLowSpeed   = "high_rpm_low_speed"
	RuleLowFuelHighSpeed  = "low_fuel_high_speed"
	RuleConflictingInputs = "conflicting_inputs"
)

// DefaultRules is evaluated in order; every rule runs and every match is reported.
var DefaultRules = []Rule{
	{
		Type:        RuleSuddenBraking,
		Severity:    models.SeverityHigh,
		Confidence:  0.9,
		Description: "Hard braking above 80% at speed over 60 km/h",
		Evaluator: func(s *models.TelemetrySample) bool {
			return s.Brake > 80 && s.Speed > 60
		},
	},
	{
		Type:        RuleEngineOverheating,
		Severity:    models.SeverityHigh,
		Confidence:  0.95,
		Description: "Engine temperature above 105°C",
		Evaluator: func(s *models.TelemetrySample) bool {
			return s.EngineTemp > 105
		},
	},
	{
		Type:        RuleHighRPMLowSpeed,
		Severity:    models.SeverityMedium,
		Confidence:  0.7,
		Description: "Engine above 3500 RPM below 20 km/h",
		Evaluator: func(s *models.TelemetrySample) bool {
			return s.RPM > 3500 && s.Speed < 20
		},
	},
	{
		Type:        RuleLowFuelHighSpeed,
		Severity:    models.SeverityMedium,
		Confidence:  0.6,
		Description: "Fuel below 15% at speed over 80 km/h",
		Evaluator: func(s *models.TelemetrySample) bool {
			return s.FuelLevel < 15 && s.Speed > 80
		},
	},
	{
		Type:        RuleConflictingInputs,
		Severity:    models.SeverityLow,
		Confidence:  0.5,
		Description: "Throttle and brake both above 30%",
		Evaluator: func(s *models.TelemetrySample) bool {
			return s.Throttle > 30 && s.Brake > 30
		},
	},
}

// evaluateRules runs every rule against s. The result is a pure function of s.
func evaluateRules(rules []Rule, s models.TelemetrySample) models.AnomalyResult {
	result := models.AnomalyResult{AnomalyType: models.AnomalyTypeNone}
	for _, rule := range rules {
		if !rule.Evaluator(&s) {
			continue
		}
		result.Violations = append(result.Violations, models.RuleViolation{
			Type:        rule.Type,
			Severity:    rule.Severity,
			Description: rule.Description,
			Confidence:  rule.Confidence,
		})
		if rule.Confidence > result.Confidence {
			result.Confidence = rule.Confidence
		}
	}
	if len(result.Violations) > 0 {
		result.IsAnomaly = true
		result.AnomalyType = models.AnomalyTypeRuleBased
	}
	return result
}
