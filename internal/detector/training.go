package detector

import (
	"math/rand"
	"time"

	"vehicle-anomaly-monitor/internal/models"
)

// ExtremeFraction is the share of out-of-band samples added to a synthetic corpus.
const ExtremeFraction = 0.05

type band struct{ lo, hi float64 }

func (b band) draw(rng *rand.Rand) float64 {
	return b.lo + rng.Float64()*(b.hi-b.lo)
}

var (
	normalBands = [6]band{
		{0, 120},    // speed
		{800, 4000}, // rpm
		{0, 100},    // throttle
		{0, 100},    // brake
		{80, 110},   // engine_temp
		{0, 100},    // fuel_level
	}
	extremeBands = [6]band{
		{100, 150},
		{4000, 6000},
		{100, 100},
		{100, 100},
		{110, 130},
		{0, 5},
	}
)

// GenerateTrainingData returns n normal samples drawn uniformly from the
// simulator's physical ranges followed by int(n*ExtremeFraction) extreme ones.
// A nil rng is seeded from the clock.
func GenerateTrainingData(n int, rng *rand.Rand) []models.TelemetrySample {
	if n < 0 {
		n = 0
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	extreme := int(float64(n) * ExtremeFraction)

	now := time.Now()
	out := make([]models.TelemetrySample, 0, n+extreme)
	for i := 0; i < n; i++ {
		out = append(out, drawSample(normalBands, rng, now))
	}
	for i := 0; i < extreme; i++ {
		out = append(out, drawSample(extremeBands, rng, now))
	}
	return out
}

func drawSample(bands [6]band, rng *rand.Rand, ts time.Time) models.TelemetrySample {
	return models.TelemetrySample{
		VehicleID:  "SYNTHETIC",
		Timestamp:  ts,
		Speed:      bands[0].draw(rng),
		RPM:        bands[1].draw(rng),
		Throttle:   bands[2].draw(rng),
		Brake:      bands[3].draw(rng),
		EngineTemp: bands[4].draw(rng),
		FuelLevel:  bands[5].draw(rng),
	}
}
