package simulator

import "vehicle-anomaly-monitor/internal/models"

// DiagnosticCode is an OBD-II trouble code the simulator can emit
type DiagnosticCode struct {
	Code        string
	Description string
}

// VehicleModel is a make/model pair assigned to fleet vehicles
type VehicleModel struct {
	Make  string
	Model string
}

var faultCatalogue = []DiagnosticCode{
	{"P0300", "Random/Multiple Cylinder Misfire Detected"},
	{"P0420", "Catalyst System Efficiency Below Threshold"},
	{"P0171", "System Too Lean (Bank 1)"},
	{"P0442", "Evaporative Emission Control System Leak Detected"},
}

var severities = []models.Severity{
	models.SeverityLow,
	models.SeverityMedium,
	models.SeverityHigh,
}

var vehicleCatalogue = []VehicleModel{
	{"Toyota", "Camry"},
	{"Toyota", "Prius"},
	{"Lexus", "RX"},
	{"Honda", "Civic"},
	{"Ford", "F-150"},
	{"Nissan", "Leaf"},
}

// FaultCatalogue returns a copy of the diagnostic codes GenerateFault draws from
func FaultCatalogue() []DiagnosticCode {
	return append([]DiagnosticCode(nil), faultCatalogue...)
}

// VehicleCatalogue returns a copy of the make/model pairs used by fleets
func VehicleCatalogue() []VehicleModel {
	return append([]VehicleModel(nil), vehicleCatalogue...)
}

// IsKnownFaultCode reports whether code belongs to the fault catalogue
func IsKnownFaultCode(code string) bool {
	for _, c := range faultCatalogue {
		if c.Code == code {
			return true
		}
	}
	return false
}
