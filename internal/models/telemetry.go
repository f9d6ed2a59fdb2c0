package models

import "time"

// TelemetrySample represents a single telemetry reading from a vehicle
type TelemetrySample struct {
	ID         int64     `json:"id,omitempty"`
	VehicleID  string    `json:"vehicle_id" validate:"required"`
	Timestamp  time.Time `json:"timestamp"`
	Speed      float64   `json:"speed" validate:"gte=0,lte=300"`         // km/h
	RPM        float64   `json:"rpm" validate:"gte=0,lte=8000"`
	Throttle   float64   `json:"throttle" validate:"gte=0,lte=100"`      // percentage
	Brake      float64   `json:"brake" validate:"gte=0,lte=100"`         // percentage
	EngineTemp float64   `json:"engine_temp" validate:"gte=-40,lte=150"` // Celsius
	FuelLevel  float64   `json:"fuel_level" validate:"gte=0,lte=100"`    // percentage
	Latitude   float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Odometer   float64   `json:"odometer" validate:"gte=0"` // km
	Make       string    `json:"make,omitempty"`
	Model      string    `json:"model,omitempty"`
	SequenceID int64     `json:"sequence_id,omitempty"`
}

// Severity grades faults and rule violations
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// FaultEvent represents a diagnostic trouble code reported by a vehicle
type FaultEvent struct {
	ID          int64     `json:"id,omitempty"`
	VehicleID   string    `json:"vehicle_id" validate:"required"`
	Timestamp   time.Time `json:"timestamp"`
	Code        string    `json:"code" validate:"required"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity" validate:"oneof=LOW MEDIUM HIGH"`
	Resolved    bool      `json:"resolved"`
}

// FleetRecord is one element of a fleet generation tick. Exactly one of
// Telemetry or Fault is set.
type FleetRecord struct {
	VehicleID string           `json:"vehicle_id"`
	Telemetry *TelemetrySample `json:"telemetry,omitempty"`
	Fault     *FaultEvent      `json:"fault,omitempty"`
}

// IsFault reports whether the record carries a fault event
func (r FleetRecord) IsFault() bool {
	return r.Fault != nil
}

// Vehicle represents a fleet vehicle
type Vehicle struct {
	ID        string    `json:"id"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      int       `json:"year,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TelemetryQuery represents query parameters for telemetry searches
type TelemetryQuery struct {
	VehicleID string
	StartTime time.Time
	EndTime   time.Time
	MinSpeed  float64
	MaxSpeed  float64
	Limit     int
	Offset    int
}

// TelemetrySummary provides aggregated statistics
type TelemetrySummary struct {
	VehicleID       string  `json:"vehicle_id"`
	TotalRecords    int     `json:"total_records"`
	AvgSpeed        float64 `json:"avg_speed"`
	MaxSpeed        float64 `json:"max_speed"`
	AvgRPM          float64 `json:"avg_rpm"`
	MaxRPM          float64 `json:"max_rpm"`
	TotalDistanceKM float64 `json:"total_distance_km"`
	AvgFuelLevel    float64 `json:"avg_fuel_level"`
	AvgEngineTemp   float64 `json:"avg_engine_temp"`
}

// FaultQuery filters stored fault events
type FaultQuery struct {
	VehicleID string
	Severity  Severity
	Resolved  *bool
	Limit     int
}
