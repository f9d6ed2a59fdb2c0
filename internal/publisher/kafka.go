// Package publisher fans fleet records and detected anomalies out to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"vehicle-anomaly-monitor/internal/metrics"
	"vehicle-anomaly-monitor/internal/models"
)

// Topics names the destination for each record kind.
type Topics struct {
	Telemetry string
	Fault     string
	Anomaly   string
}

// Config holds the producer settings.
type Config struct {
	Brokers      []string
	Topics       Topics
	WriteTimeout time.Duration
	Async        bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON records keyed by vehicle id, so every record of one
// vehicle lands on the same partition.
type Publisher struct {
	writer messageWriter
	topics Topics
	logger zerolog.Logger
}

// New creates a Kafka-backed publisher.
func New(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 100 * time.Millisecond,
		Async:        cfg.Async,
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("telemetry_topic", cfg.Topics.Telemetry).
		Str("fault_topic", cfg.Topics.Fault).
		Msg("kafka publisher initialized")
	return newWithWriter(writer, cfg.Topics, logger), nil
}

func newWithWriter(w messageWriter, topics Topics, logger zerolog.Logger) *Publisher {
	return &Publisher{writer: w, topics: topics, logger: logger}
}

// PublishFleet writes one tick of fleet output. Telemetry and faults go to
// their own topics.
func (p *Publisher) PublishFleet(ctx context.Context, records []models.FleetRecord) error {
	var telemetry, faults []kafka.Message
	for _, r := range records {
		switch {
		case r.Fault != nil:
			msg, err := encode(p.topics.Fault, r.VehicleID, r.Fault)
			if err != nil {
				return err
			}
			faults = append(faults, msg)
		case r.Telemetry != nil:
			msg, err := encode(p.topics.Telemetry, r.VehicleID, r.Telemetry)
			if err != nil {
				return err
			}
			telemetry = append(telemetry, msg)
		}
	}

	return errors.Join(
		p.write(ctx, p.topics.Telemetry, telemetry),
		p.write(ctx, p.topics.Fault, faults),
	)
}

// PublishAnomalies writes detected anomalies to the anomaly topic.
func (p *Publisher) PublishAnomalies(ctx context.Context, anomalies []models.DetectedAnomaly) error {
	msgs := make([]kafka.Message, 0, len(anomalies))
	for i := range anomalies {
		msg, err := encode(p.topics.Anomaly, anomalies[i].VehicleID, &anomalies[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.write(ctx, p.topics.Anomaly, msgs)
}

// Close flushes pending writes and closes the producer.
func (p *Publisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func (p *Publisher) write(ctx context.Context, topic string, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	metrics.ObservePublish(topic, len(msgs), err)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Int("messages", len(msgs)).Msg("kafka write failed")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug().Str("topic", topic).Int("messages", len(msgs)).Msg("published")
	return nil
}

func encode(topic, key string, value interface{}) (kafka.Message, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal value: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: v,
		Time:  time.Now(),
	}, nil
}
