// Package detector flags abnormal vehicle telemetry using a fixed rule table
// combined with an isolation forest trained on historical samples.
package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vehicle-anomaly-monitor/internal/metrics"
	"vehicle-anomaly-monitor/internal/models"
)

var (
	// ErrInsufficientSamples is returned by Train when the corpus is too small.
	ErrInsufficientSamples = errors.New("insufficient training samples")
	// ErrModelNotTrained is reported when model scoring is requested before Train.
	ErrModelNotTrained = errors.New("model not trained")
)

// History supplies stored telemetry for batch detection.
type History interface {
	QueryTelemetry(ctx context.Context, q models.TelemetryQuery) ([]models.TelemetrySample, error)
}

// Config holds the detector hyperparameters.
type Config struct {
	Contamination      float64
	Trees              int
	SampleSize         int
	Seed               int64
	MinTrainingSamples int
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		Contamination:      0.05,
		Trees:              100,
		SampleSize:         256,
		Seed:               42,
		MinTrainingSamples: 10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		c.Contamination = def.Contamination
	}
	if c.Trees <= 0 {
		c.Trees = def.Trees
	}
	if c.SampleSize < 2 {
		c.SampleSize = def.SampleSize
	}
	if c.MinTrainingSamples < 2 {
		c.MinTrainingSamples = def.MinTrainingSamples
	}
	return c
}

// modelState is either untrainedModel or *trainedModel.
type modelState interface {
	isModelState()
}

type untrainedModel struct{}

func (untrainedModel) isModelState() {}

// trainedModel is immutable once built; Train replaces it wholesale.
type trainedModel struct {
	scaler    *StandardScaler
	forest    *isolationForest
	samples   int
	trainedAt time.Time
}

func (*trainedModel) isModelState() {}

func (m *trainedModel) score(x []float64) (result models.AnomalyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring panic: %v", r)
		}
	}()

	scaled, err := m.scaler.Transform(x)
	if err != nil {
		return result, err
	}
	decision, err := m.forest.decision(scaled)
	if err != nil {
		return result, err
	}

	result = models.AnomalyResult{
		IsAnomaly:   decision < 0,
		Confidence:  math.Abs(decision),
		AnomalyType: models.AnomalyTypeNone,
	}
	if result.IsAnomaly {
		result.AnomalyType = models.AnomalyTypeMachineLearning
	}
	return result, nil
}

// ModelInfo describes the detector's current model.
type ModelInfo struct {
	Trained       bool      `json:"trained"`
	Samples       int       `json:"samples,omitempty"`
	TrainedAt     time.Time `json:"trained_at,omitempty"`
	Contamination float64   `json:"contamination"`
	Trees         int       `json:"trees"`
	Features      []string  `json:"features"`
}

// Detector evaluates telemetry samples. Scoring is safe for concurrent use;
// Train takes exclusive access.
type Detector struct {
	cfg     Config
	rules   []Rule
	logger  zerolog.Logger
	history History

	mu    sync.RWMutex
	model modelState
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Detector) {
		d.logger = l
	}
}

// WithHistory sets the telemetry source used by DetectBatch.
func WithHistory(h History) Option {
	return func(d *Detector) {
		d.history = h
	}
}

// New creates an untrained detector.
func New(cfg Config, opts ...Option) *Detector {
	d := &Detector{
		cfg:    cfg.withDefaults(),
		rules:  DefaultRules,
		logger: zerolog.Nop(),
		model:  untrainedModel{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger.Info().
		Float64("contamination", d.cfg.Contamination).
		Int("trees", d.cfg.Trees).
		Msg("anomaly detector initialized")
	return d
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// IsTrained reports whether a model has been fitted.
func (d *Detector) IsTrained() bool {
	_, ok := d.snapshot().(*trainedModel)
	return ok
}

// Info describes the current model.
func (d *Detector) Info() ModelInfo {
	info := ModelInfo{
		Contamination: d.cfg.Contamination,
		Trees:         d.cfg.Trees,
		Features:      append([]string(nil), FeatureNames...),
	}
	if m, ok := d.snapshot().(*trainedModel); ok {
		info.Trained = true
		info.Samples = m.samples
		info.TrainedAt = m.trainedAt
	}
	return info
}

func (d *Detector) snapshot() modelState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model
}

// Train fits the scaler and outlier model on samples. With fewer than
// MinTrainingSamples it returns ErrInsufficientSamples and leaves the current
// model in place.
func (d *Detector) Train(samples []models.TelemetrySample) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(samples) < d.cfg.MinTrainingSamples {
		metrics.ObserveTraining(metrics.OutcomeSkipped)
		d.logger.Warn().
			Int("samples", len(samples)).
			Int("required", d.cfg.MinTrainingSamples).
			Msg("training skipped")
		return fmt.Errorf("%w: got %d, need at least %d", ErrInsufficientSamples, len(samples), d.cfg.MinTrainingSamples)
	}

	start := time.Now()
	X := FeatureMatrix(samples)
	scaler := FitScaler(X)
	scaled, err := scaler.TransformMatrix(X)
	if err != nil {
		return fmt.Errorf("scale training matrix: %w", err)
	}

	forest := fitForest(scaled, forestParams{
		trees:         d.cfg.Trees,
		sampleSize:    d.cfg.SampleSize,
		contamination: d.cfg.Contamination,
	}, rand.New(rand.NewSource(d.cfg.Seed)))

	d.model = &trainedModel{
		scaler:    scaler,
		forest:    forest,
		samples:   len(samples),
		trainedAt: time.Now(),
	}
	metrics.ObserveTraining(metrics.OutcomeSuccess)
	d.logger.Info().
		Int("samples", len(samples)).
		Dur("elapsed", time.Since(start)).
		Msg("anomaly model trained")
	return nil
}

// RuleBasedDetection evaluates the fixed rule table. It needs no model and
// always returns the same result for the same sample.
func (d *Detector) RuleBasedDetection(s models.TelemetrySample) models.AnomalyResult {
	return evaluateRules(d.rules, s)
}

// ModelBasedDetection scores s with the trained model. Errors never escape:
// they produce a non-anomalous result carrying the error text.
func (d *Detector) ModelBasedDetection(s models.TelemetrySample) models.AnomalyResult {
	m, ok := d.snapshot().(*trainedModel)
	if !ok {
		return degraded(ErrModelNotTrained)
	}
	return d.scoreModel(m, s)
}

func (d *Detector) scoreModel(m *trainedModel, s models.TelemetrySample) models.AnomalyResult {
	result, err := m.score(FeatureVector(s))
	if err != nil {
		metrics.ObserveScoringError()
		d.logger.Warn().Err(err).Str("vehicle_id", s.VehicleID).Msg("model scoring failed")
		return degraded(err)
	}
	return result
}

// DetectSinglePoint combines both strategies. Without a model the rule result
// is returned unchanged. With a model, a rule hit always marks the sample
// anomalous and its violations are attached; the model cannot veto a rule.
func (d *Detector) DetectSinglePoint(s models.TelemetrySample) models.AnomalyResult {
	start := time.Now()
	result := d.detect(s)

	fired := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		fired = append(fired, v.Type)
	}
	metrics.ObserveDetection(string(result.AnomalyType), fired, time.Since(start))
	return result
}

func (d *Detector) detect(s models.TelemetrySample) models.AnomalyResult {
	m, ok := d.snapshot().(*trainedModel)
	if !ok {
		return d.RuleBasedDetection(s)
	}

	result := d.scoreModel(m, s)
	rules := d.RuleBasedDetection(s)
	if !rules.IsAnomaly {
		return result
	}

	result.Violations = rules.Violations
	result.Confidence = math.Max(result.Confidence, rules.Confidence)
	if !result.IsAnomaly {
		result.IsAnomaly = true
		result.AnomalyType = models.AnomalyTypeRuleBased
	}
	return result
}

// DetectSamples runs point-wise detection and returns the anomalous samples
// in input order.
func (d *Detector) DetectSamples(samples []models.TelemetrySample) []models.DetectedAnomaly {
	found := make([]models.DetectedAnomaly, 0)
	for i := range samples {
		s := samples[i]
		result := d.DetectSinglePoint(s)
		if !result.IsAnomaly {
			continue
		}
		found = append(found, models.DetectedAnomaly{
			ID:            AnomalyID(s.VehicleID, s.Timestamp, result.AnomalyType),
			VehicleID:     s.VehicleID,
			Timestamp:     s.Timestamp,
			AnomalyResult: result,
			Snapshot:      &s,
		})
	}
	return found
}

// DetectBatch scans stored telemetry for vehicleID within [start, end) and
// returns the anomalous samples in time order. A range without data yields
// an empty slice.
func (d *Detector) DetectBatch(ctx context.Context, vehicleID string, start, end time.Time) ([]models.DetectedAnomaly, error) {
	d.logger.Info().
		Str("vehicle_id", vehicleID).
		Time("start", start).
		Time("end", end).
		Msg("batch anomaly detection")

	if d.history == nil || !end.After(start) {
		return []models.DetectedAnomaly{}, nil
	}

	records, err := d.history.QueryTelemetry(ctx, models.TelemetryQuery{
		VehicleID: vehicleID,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	inRange := make([]models.TelemetrySample, 0, len(records))
	for _, r := range records {
		if r.VehicleID != vehicleID || r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		inRange = append(inRange, r)
	}
	sort.SliceStable(inRange, func(i, j int) bool {
		return inRange[i].Timestamp.Before(inRange[j].Timestamp)
	})

	return d.DetectSamples(inRange), nil
}

// anomalyNamespace scopes the name-based anomaly IDs.
var anomalyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:vehicle-anomaly-monitor:anomaly"))

// AnomalyID derives a stable ID from the sample identity and anomaly type,
// so rescoring the same sample yields the same ID.
func AnomalyID(vehicleID string, ts time.Time, anomalyType models.AnomalyType) string {
	name := vehicleID + "|" + ts.UTC().Format(time.RFC3339Nano) + "|" + string(anomalyType)
	return uuid.NewSHA1(anomalyNamespace, []byte(name)).String()
}

func degraded(err error) models.AnomalyResult {
	return models.AnomalyResult{
		IsAnomaly:   false,
		Confidence:  0,
		AnomalyType: models.AnomalyTypeNone,
		Error:       err.Error(),
	}
}
