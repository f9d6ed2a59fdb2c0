package detector

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-anomaly-monitor/internal/models"
)

type fakeHistory struct {
	samples []models.TelemetrySample
	err     error
	queries []models.TelemetryQuery
}

func (f *fakeHistory) QueryTelemetry(ctx context.Context, q models.TelemetryQuery) ([]models.TelemetrySample, error) {
	f.queries = append(f.queries, q)
	return f.samples, f.err
}

func neutralSample() models.TelemetrySample {
	return models.TelemetrySample{
		VehicleID:  "TEST001",
		Timestamp:  time.Now(),
		Speed:      50,
		RPM:        2000,
		Throttle:   20,
		Brake:      0,
		EngineTemp: 90,
		FuelLevel:  60,
	}
}

func violationTypes(r models.AnomalyResult) []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Type)
	}
	return out
}

func trainedDetector(t *testing.T) *Detector {
	t.Helper()
	d := New(DefaultConfig())
	require.NoError(t, d.Train(GenerateTrainingData(1000, rand.New(rand.NewSource(1)))))
	return d
}

func TestRuleBasedDetection(t *testing.T) {
	d := New(DefaultConfig())

	tests := []struct {
		name       string
		mutate     func(s *models.TelemetrySample)
		wantRules  []string
		wantConf   float64
		wantAnomal bool
	}{
		{
			name:       "normal driving",
			mutate:     func(s *models.TelemetrySample) {},
			wantRules:  []string{},
			wantAnomal: false,
		},
		{
			name:       "sudden braking",
			mutate:     func(s *models.TelemetrySample) { s.Brake = 85; s.Speed = 80; s.Throttle = 0 },
			wantRules:  []string{RuleSuddenBraking},
			wantConf:   0.9,
			wantAnomal: true,
		},
		{
			name:       "engine overheating",
			mutate:     func(s *models.TelemetrySample) { s.EngineTemp = 110 },
			wantRules:  []string{RuleEngineOverheating},
			wantConf:   0.95,
			wantAnomal: true,
		},
		{
			name:       "high rpm at low speed",
			mutate:     func(s *models.TelemetrySample) { s.RPM = 3600; s.Speed = 10 },
			wantRules:  []string{RuleHighRPMLowSpeed},
			wantConf:   0.7,
			wantAnomal: true,
		},
		{
			name:       "low fuel at high speed",
			mutate:     func(s *models.TelemetrySample) { s.FuelLevel = 10; s.Speed = 90 },
			wantRules:  []string{RuleLowFuelHighSpeed},
			wantConf:   0.6,
			wantAnomal: true,
		},
		{
			name:       "conflicting pedals",
			mutate:     func(s *models.TelemetrySample) { s.Throttle = 40; s.Brake = 40 },
			wantRules:  []string{RuleConflictingInputs},
			wantConf:   0.5,
			wantAnomal: true,
		},
		{
			name: "every rule fires in table order",
			mutate: func(s *models.TelemetrySample) {
				s.Brake, s.Speed, s.Throttle = 90, 85, 50
				s.EngineTemp, s.FuelLevel = 120, 5
			},
			wantRules:  []string{RuleSuddenBraking, RuleEngineOverheating, RuleLowFuelHighSpeed, RuleConflictingInputs},
			wantConf:   0.95,
			wantAnomal: true,
		},
		{
			name:       "thresholds are strict",
			mutate:     func(s *models.TelemetrySample) { s.Brake = 80; s.Speed = 60; s.EngineTemp = 105 },
			wantRules:  []string{},
			wantAnomal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := neutralSample()
			tt.mutate(&s)

			result := d.RuleBasedDetection(s)
			assert.Equal(t, tt.wantAnomal, result.IsAnomaly)
			assert.Equal(t, tt.wantRules, violationTypes(result))
			assert.InDelta(t, tt.wantConf, result.Confidence, 1e-9)
			if tt.wantAnomal {
				assert.Equal(t, models.AnomalyTypeRuleBased, result.AnomalyType)
			} else {
				assert.Equal(t, models.AnomalyTypeNone, result.AnomalyType)
			}
		})
	}
}

func TestRuleBasedDetectionViolationDetails(t *testing.T) {
	d := New(DefaultConfig())
	s := models.TelemetrySample{EngineTemp: 110}

	result := d.RuleBasedDetection(s)
	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, RuleEngineOverheating, v.Type)
	assert.Equal(t, models.SeverityHigh, v.Severity)
	assert.Equal(t, 0.95, v.Confidence)
	assert.NotEmpty(t, v.Description)
}

func TestRuleBasedDetectionIsPure(t *testing.T) {
	d := New(DefaultConfig())
	s := neutralSample()
	s.Brake, s.Speed, s.Throttle = 85, 80, 45

	assert.Equal(t, d.RuleBasedDetection(s), d.RuleBasedDetection(s))
}

func TestRuleBasedDetectionMissingFields(t *testing.T) {
	d := New(DefaultConfig())

	result := d.RuleBasedDetection(models.TelemetrySample{})
	assert.False(t, result.IsAnomaly)
	assert.Empty(t, result.Violations)
}

func TestTrainRequiresMinimumSamples(t *testing.T) {
	d := New(DefaultConfig())

	err := d.Train(GenerateTrainingData(5, rand.New(rand.NewSource(1))))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientSamples))
	assert.False(t, d.IsTrained())
	assert.False(t, d.Info().Trained)
}

func TestTrainKeepsPreviousModelOnFailure(t *testing.T) {
	d := trainedDetector(t)
	before := d.Info()

	err := d.Train(make([]models.TelemetrySample, 3))
	require.ErrorIs(t, err, ErrInsufficientSamples)
	assert.True(t, d.IsTrained())
	assert.Equal(t, before.Samples, d.Info().Samples)
}

func TestTrainOnSyntheticCorpus(t *testing.T) {
	d := trainedDetector(t)

	assert.True(t, d.IsTrained())
	info := d.Info()
	assert.Equal(t, 1050, info.Samples)
	assert.Equal(t, FeatureNames, info.Features)
	assert.False(t, info.TrainedAt.IsZero())
}

func TestTrainingContaminationRate(t *testing.T) {
	d := New(DefaultConfig())
	corpus := GenerateTrainingData(1000, rand.New(rand.NewSource(2)))
	require.NoError(t, d.Train(corpus))

	flagged := 0
	for _, s := range corpus {
		if d.ModelBasedDetection(s).IsAnomaly {
			flagged++
		}
	}
	rate := float64(flagged) / float64(len(corpus))
	assert.InDelta(t, 0.05, rate, 0.03)
}

func TestModelSeparatesExtremeFromNormal(t *testing.T) {
	d := trainedDetector(t)
	rng := rand.New(rand.NewSource(77))

	const trials = 300
	normalFlagged, extremeFlagged := 0, 0
	for i := 0; i < trials; i++ {
		if d.ModelBasedDetection(drawSample(normalBands, rng, time.Now())).IsAnomaly {
			normalFlagged++
		}
		if d.ModelBasedDetection(drawSample(extremeBands, rng, time.Now())).IsAnomaly {
			extremeFlagged++
		}
	}
	assert.Less(t, normalFlagged, extremeFlagged)
	assert.Greater(t, extremeFlagged, trials/2)
}

func TestModelBasedDetectionResultShape(t *testing.T) {
	d := trainedDetector(t)
	s := models.TelemetrySample{Speed: 140, RPM: 5800, Throttle: 100, Brake: 100, EngineTemp: 128, FuelLevel: 1}

	result := d.ModelBasedDetection(s)
	assert.Empty(t, result.Error)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.AnomalyTypeMachineLearning, result.AnomalyType)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestModelBasedDetectionUntrained(t *testing.T) {
	d := New(DefaultConfig())

	result := d.ModelBasedDetection(neutralSample())
	assert.False(t, result.IsAnomaly)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Contains(t, result.Error, ErrModelNotTrained.Error())
}

func TestScoringErrorDegrades(t *testing.T) {
	d := trainedDetector(t)
	m := d.snapshot().(*trainedModel)
	broken := &trainedModel{
		scaler:  &StandardScaler{Mean: m.scaler.Mean[:3], Scale: m.scaler.Scale[:3]},
		forest:  m.forest,
		samples: m.samples,
	}

	result := d.scoreModel(broken, neutralSample())
	assert.False(t, result.IsAnomaly)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Contains(t, result.Error, ErrFeatureMismatch.Error())

	result = d.scoreModel(&trainedModel{}, neutralSample())
	assert.False(t, result.IsAnomaly)
	assert.NotEmpty(t, result.Error)
}

func TestDetectSinglePointUntrainedMatchesRules(t *testing.T) {
	d := New(DefaultConfig())
	rng := rand.New(rand.NewSource(5))

	for i := 0; i < 200; i++ {
		s := drawSample(normalBands, rng, time.Now())
		assert.Equal(t, d.RuleBasedDetection(s), d.DetectSinglePoint(s))
	}
}

func TestDetectSinglePointRulesCannotBeVetoed(t *testing.T) {
	d := trainedDetector(t)

	s := neutralSample()
	s.Brake = 25
	s.EngineTemp = 106
	require.False(t, d.ModelBasedDetection(s).IsAnomaly, "fixture should look normal to the model")

	result := d.DetectSinglePoint(s)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.AnomalyTypeRuleBased, result.AnomalyType)
	assert.Equal(t, []string{RuleEngineOverheating}, violationTypes(result))
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
}

func TestDetectSinglePointModelAndRules(t *testing.T) {
	d := trainedDetector(t)
	s := models.TelemetrySample{Speed: 140, RPM: 5800, Throttle: 100, Brake: 100, EngineTemp: 128, FuelLevel: 1}

	result := d.DetectSinglePoint(s)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.AnomalyTypeMachineLearning, result.AnomalyType)
	assert.Contains(t, violationTypes(result), RuleSuddenBraking)
	assert.Contains(t, violationTypes(result), RuleEngineOverheating)
	assert.GreaterOrEqual(t, result.Confidence, 0.95, "highest rule confidence is kept")
	assert.GreaterOrEqual(t, result.Confidence, d.ModelBasedDetection(s).Confidence)
}

func TestAnomalyIDIsStable(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	id := AnomalyID("VH0001", ts, models.AnomalyTypeRuleBased)

	assert.Equal(t, id, AnomalyID("VH0001", ts.In(time.FixedZone("JST", 9*3600)), models.AnomalyTypeRuleBased))
	assert.NotEqual(t, id, AnomalyID("VH0002", ts, models.AnomalyTypeRuleBased))
	assert.NotEqual(t, id, AnomalyID("VH0001", ts.Add(time.Millisecond), models.AnomalyTypeRuleBased))
	assert.NotEqual(t, id, AnomalyID("VH0001", ts, models.AnomalyTypeMachineLearning))
}

func TestDetectSamplesAssignsStableIDs(t *testing.T) {
	d := New(DefaultConfig())
	s := neutralSample()
	s.VehicleID = "VH0001"
	s.Timestamp = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.EngineTemp = 120

	first := d.DetectSamples([]models.TelemetrySample{s})
	second := d.DetectSamples([]models.TelemetrySample{s})
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestDetectBatch(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

	hot := neutralSample()
	hot.EngineTemp = 120

	mk := func(ts time.Time, s models.TelemetrySample) models.TelemetrySample {
		s.VehicleID = "VH0001"
		s.Timestamp = ts
		return s
	}
	other := mk(at(5), hot)
	other.VehicleID = "VH0002"

	history := &fakeHistory{samples: []models.TelemetrySample{
		mk(at(30), hot),
		mk(at(10), hot),
		mk(at(20), neutralSample()),
		mk(at(60), hot), // end is exclusive
		mk(at(-1), hot),
		other,
	}}
	d := New(DefaultConfig(), WithHistory(history))

	found, err := d.DetectBatch(context.Background(), "VH0001", at(0), at(60))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, at(10), found[0].Timestamp)
	assert.Equal(t, at(30), found[1].Timestamp)
	for _, a := range found {
		assert.Equal(t, "VH0001", a.VehicleID)
		assert.NotEmpty(t, a.ID)
		require.NotNil(t, a.Snapshot)
		assert.Equal(t, a.Timestamp, a.Snapshot.Timestamp)
		assert.True(t, a.IsAnomaly)
	}

	require.Len(t, history.queries, 1)
	assert.Equal(t, "VH0001", history.queries[0].VehicleID)
}

func TestDetectBatchEmpty(t *testing.T) {
	now := time.Now()

	t.Run("no history configured", func(t *testing.T) {
		found, err := New(DefaultConfig()).DetectBatch(context.Background(), "VH0001", now.Add(-time.Hour), now)
		require.NoError(t, err)
		assert.NotNil(t, found)
		assert.Empty(t, found)
	})

	t.Run("inverted range", func(t *testing.T) {
		h := &fakeHistory{samples: []models.TelemetrySample{neutralSample()}}
		found, err := New(DefaultConfig(), WithHistory(h)).DetectBatch(context.Background(), "TEST001", now, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, found)
		assert.Empty(t, h.queries)
	})

	t.Run("no matching data", func(t *testing.T) {
		h := &fakeHistory{}
		found, err := New(DefaultConfig(), WithHistory(h)).DetectBatch(context.Background(), "VH0009", now.Add(-time.Hour), now)
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestDetectBatchStorageError(t *testing.T) {
	boom := errors.New("disk on fire")
	d := New(DefaultConfig(), WithHistory(&fakeHistory{err: boom}))

	_, err := d.DetectBatch(context.Background(), "VH0001", time.Now().Add(-time.Hour), time.Now())
	require.ErrorIs(t, err, boom)
}

func TestConcurrentScoring(t *testing.T) {
	d := trainedDetector(t)
	rng := rand.New(rand.NewSource(8))
	samples := GenerateTrainingData(200, rng)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range samples {
				r := d.DetectSinglePoint(s)
				assert.Empty(t, r.Error)
			}
		}()
	}
	wg.Wait()
}

func TestConfigDefaults(t *testing.T) {
	d := New(Config{Contamination: 2})
	cfg := d.Config()

	assert.Equal(t, 0.05, cfg.Contamination)
	assert.Equal(t, 100, cfg.Trees)
	assert.Equal(t, 256, cfg.SampleSize)
	assert.Equal(t, 10, cfg.MinTrainingSamples)
}
