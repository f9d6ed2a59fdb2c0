package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels a completed training run.
	OutcomeSuccess = "success"
	// OutcomeSkipped labels a training run rejected for insufficient samples.
	OutcomeSkipped = "skipped"
)

var (
	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet_monitor",
			Name:      "detections_total",
			Help:      "Telemetry samples evaluated, partitioned by resulting anomaly type.",
		},
		[]string{"anomaly_type"},
	)

	ruleViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet_monitor",
			Name:      "rule_violations_total",
			Help:      "Rule violations raised, partitioned by rule.",
		},
		[]string{"rule"},
	)

	scoringErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleet_monitor",
			Name:      "scoring_errors_total",
			Help:      "Model scoring calls that degraded to a non-anomalous result.",
		},
	)

	detectionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleet_monitor",
			Name:      "detection_seconds",
			Help:      "Single point detection latency in seconds.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	trainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet_monitor",
			Name:      "training_runs_total",
			Help:      "Model training attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	recordsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet_monitor",
			Name:      "records_published_total",
			Help:      "Records written to the message bus, partitioned by topic and result.",
		},
		[]string{"topic", "result"},
	)
)

// Register attaches fleet-monitor collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		detectionsTotal,
		ruleViolationsTotal,
		scoringErrorsTotal,
		detectionDurationSeconds,
		trainingRunsTotal,
		recordsPublishedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDetection records one evaluated sample.
func ObserveDetection(anomalyType string, rules []string, duration time.Duration) {
	detectionsTotal.WithLabelValues(anomalyType).Inc()
	for _, r := range rules {
		ruleViolationsTotal.WithLabelValues(r).Inc()
	}
	if duration < 0 {
		duration = 0
	}
	detectionDurationSeconds.Observe(duration.Seconds())
}

// ObserveScoringError counts a degraded model result.
func ObserveScoringError() {
	scoringErrorsTotal.Inc()
}

// ObserveTraining records a training attempt.
func ObserveTraining(outcome string) {
	label := outcome
	if label != OutcomeSkipped {
		label = OutcomeSuccess
	}
	trainingRunsTotal.WithLabelValues(label).Inc()
}

// ObservePublish records a bus write.
func ObservePublish(topic string, n int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	recordsPublishedTotal.WithLabelValues(topic, result).Add(float64(n))
}
