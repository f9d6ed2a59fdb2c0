package simulator

import (
	"fmt"
	"math/rand"
	"time"

	"vehicle-anomaly-monitor/internal/models"
)

// Fleet drives a set of independently seeded vehicle simulators.
// A Fleet is not safe for concurrent use.
type Fleet struct {
	vehicles []*Simulator
}

type fleetConfig struct {
	seed    int64
	vehicle []Option
}

// FleetOption configures a Fleet
type FleetOption func(*fleetConfig)

// WithFleetSeed makes make/model assignment and every vehicle's seed reproducible
func WithFleetSeed(seed int64) FleetOption {
	return func(c *fleetConfig) {
		c.seed = seed
	}
}

// WithVehicleOptions applies opts to every vehicle simulator in the fleet
func WithVehicleOptions(opts ...Option) FleetOption {
	return func(c *fleetConfig) {
		c.vehicle = append(c.vehicle, opts...)
	}
}

// NewFleet creates size vehicles with ids VH0001..VHnnnn
func NewFleet(size int, opts ...FleetOption) *Fleet {
	cfg := &fleetConfig{seed: time.Now().UnixNano()}
	for _, opt := range opts {
		opt(cfg)
	}
	rng := rand.New(rand.NewSource(cfg.seed))

	f := &Fleet{vehicles: make([]*Simulator, 0, max(size, 0))}
	for i := 1; i <= size; i++ {
		vm := vehicleCatalogue[rng.Intn(len(vehicleCatalogue))]
		vopts := append([]Option{WithSeed(rng.Int63())}, cfg.vehicle...)
		f.vehicles = append(f.vehicles, New(VehicleID(i), vm.Make, vm.Model, vopts...))
	}
	return f
}

// VehicleID formats the fleet id of the n-th vehicle (1-indexed)
func VehicleID(n int) string {
	return fmt.Sprintf("VH%04d", n)
}

// Size returns the number of vehicles
func (f *Fleet) Size() int {
	return len(f.vehicles)
}

// Simulators returns the per-vehicle simulators in fleet order
func (f *Fleet) Simulators() []*Simulator {
	return append([]*Simulator(nil), f.vehicles...)
}

// Vehicles returns the fleet roster
func (f *Fleet) Vehicles() []models.Vehicle {
	out := make([]models.Vehicle, 0, len(f.vehicles))
	for _, s := range f.vehicles {
		out = append(out, models.Vehicle{ID: s.vehicleID, Make: s.make, Model: s.model})
	}
	return out
}

// GenerateFleetData produces one telemetry record per vehicle, each
// followed by a fault record when that vehicle emitted one.
func (f *Fleet) GenerateFleetData() []models.FleetRecord {
	records := make([]models.FleetRecord, 0, len(f.vehicles))
	for _, s := range f.vehicles {
		t := s.GenerateTelemetry()
		records = append(records, models.FleetRecord{VehicleID: s.vehicleID, Telemetry: &t})
		if fault := s.GenerateFault(); fault != nil {
			records = append(records, models.FleetRecord{VehicleID: s.vehicleID, Fault: fault})
		}
	}
	return records
}
