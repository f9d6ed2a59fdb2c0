// Package simulator produces synthetic vehicle telemetry using a bounded
// random walk over the vehicle's physical state.
package simulator

import (
	"math"
	"math/rand"
	"time"

	"vehicle-anomaly-monitor/internal/models"
)

// Physical limits of the simulated drivetrain
const (
	MaxSpeed      = 120.0
	IdleRPM       = 800.0
	MaxRPM        = 4000.0
	MaxPedal      = 100.0
	MinEngineTemp = 80.0
	MaxEngineTemp = 110.0

	// Reference position the GPS jitter is centred on
	ReferenceLatitude  = 35.6895
	ReferenceLongitude = 139.6917

	DefaultFaultProbability = 0.05

	accelerateProbability = 0.30
	brakeProbability      = 0.20
)

type behavior int

const (
	cruising behavior = iota
	accelerating
	braking
)

// vehicleState is the current physical state the next sample is derived from
type vehicleState struct {
	speed      float64
	rpm        float64
	throttle   float64
	brake      float64
	engineTemp float64
	fuelLevel  float64
	odometer   float64
}

// Simulator generates telemetry for a single vehicle.
// A Simulator is not safe for concurrent use.
type Simulator struct {
	vehicleID string
	make      string
	model     string

	rng       *rand.Rand
	now       func() time.Time
	step      time.Duration
	faultProb float64

	state   vehicleState
	lastSeq int64
}

// Option configures a Simulator
type Option func(*Simulator)

// WithSeed seeds the simulator's random source
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithClock replaces the wall clock used for timestamps and sequence ids
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

// WithStepInterval sets the simulated time between samples, used for odometer
func WithStepInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.step = d
		}
	}
}

// WithFaultProbability overrides the per-call fault chance
func WithFaultProbability(p float64) Option {
	return func(s *Simulator) {
		if p >= 0 && p <= 1 {
			s.faultProb = p
		}
	}
}

// New creates a simulator for one vehicle
func New(vehicleID, make, model string, opts ...Option) *Simulator {
	s := &Simulator{
		vehicleID: vehicleID,
		make:      make,
		model:     model,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		step:      time.Second,
		faultProb: DefaultFaultProbability,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.state = vehicleState{
		rpm:        IdleRPM,
		engineTemp: 90,
		fuelLevel:  100,
		odometer:   s.uniform(1000, 50000),
	}
	return s
}

// VehicleID returns the id stamped on every sample
func (s *Simulator) VehicleID() string { return s.vehicleID }

// Make returns the vehicle make
func (s *Simulator) Make() string { return s.make }

// Model returns the vehicle model
func (s *Simulator) Model() string { return s.model }

// GenerateTelemetry advances the vehicle state by one step and returns the
// resulting sample.
func (s *Simulator) GenerateTelemetry() models.TelemetrySample {
	st := &s.state

	switch s.chooseBehavior() {
	case accelerating:
		st.speed = math.Min(st.speed+s.uniform(1, 5), MaxSpeed)
		st.rpm = math.Min(st.rpm+s.uniform(50, 200), MaxRPM)
		st.throttle = math.Min(st.throttle+s.uniform(5, 15), MaxPedal)
	case braking:
		st.speed = math.Max(st.speed-s.uniform(2, 8), 0)
		st.rpm = math.Max(st.rpm-s.uniform(50, 150), IdleRPM)
		st.brake = math.Min(st.brake+s.uniform(10, 30), MaxPedal)
	default:
		st.speed = clamp(st.speed+s.uniform(-1, 1), 0, MaxSpeed)
		st.rpm = clamp(st.rpm+s.uniform(-20, 20), IdleRPM, MaxRPM)
		st.throttle = clamp(st.throttle+s.uniform(-2, 2), 0, MaxPedal)
		st.brake = clamp(st.brake+s.uniform(-5, 5), 0, MaxPedal)
	}

	if st.speed > 60 {
		st.engineTemp = math.Min(st.engineTemp+s.uniform(0.1, 0.5), MaxEngineTemp)
	} else {
		st.engineTemp = clamp(st.engineTemp+s.uniform(-0.2, 0.2), MinEngineTemp, MaxEngineTemp)
	}

	st.fuelLevel = math.Max(st.fuelLevel-(0.01+st.speed*0.001+st.rpm*0.00001), 0)
	st.odometer += st.speed * s.step.Hours()

	now := s.now()
	return models.TelemetrySample{
		VehicleID:  s.vehicleID,
		Timestamp:  now,
		Speed:      math.Max(st.speed+s.uniform(-0.5, 0.5), 0),
		RPM:        math.Max(st.rpm+s.uniform(-10, 10), IdleRPM),
		Throttle:   st.throttle,
		Brake:      st.brake,
		EngineTemp: st.engineTemp,
		FuelLevel:  st.fuelLevel,
		Latitude:   ReferenceLatitude + s.uniform(-0.01, 0.01),
		Longitude:  ReferenceLongitude + s.uniform(-0.01, 0.01),
		Odometer:   st.odometer,
		Make:       s.make,
		Model:      s.model,
		SequenceID: s.nextSequence(now),
	}
}

// GenerateFault returns a fault event with the configured probability, or nil.
func (s *Simulator) GenerateFault() *models.FaultEvent {
	if s.rng.Float64() >= s.faultProb {
		return nil
	}
	dtc := faultCatalogue[s.rng.Intn(len(faultCatalogue))]
	return &models.FaultEvent{
		VehicleID:   s.vehicleID,
		Timestamp:   s.now(),
		Code:        dtc.Code,
		Description: dtc.Description,
		Severity:    severities[s.rng.Intn(len(severities))],
	}
}

// chooseBehavior makes a single weighted draw so the modes are exclusive
func (s *Simulator) chooseBehavior() behavior {
	r := s.rng.Float64()
	switch {
	case r < accelerateProbability:
		return accelerating
	case r < accelerateProbability+brakeProbability:
		return braking
	default:
		return cruising
	}
}

func (s *Simulator) nextSequence(now time.Time) int64 {
	seq := now.UnixMilli()
	if seq < s.lastSeq {
		seq = s.lastSeq
	}
	s.lastSeq = seq
	return seq
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
