// Package events publishes session activity and pipeline results to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/observability/metrics"
)

const (
	EventTypeActivity = "activity_log"
	EventTypeResult   = "pipeline_result"
)

// Publisher publishes activity entries and pipeline results to separate
// Kafka topics.
type Publisher struct {
	writerActivity *kafka.Writer
	writerResults  *kafka.Writer
	principal      string
	topicActivity  string
	topicResults   string
	enabled        bool
	metrics        *metrics.Metrics
	// sessionID resolves the session an activity entry belongs to.
	sessionID func() string
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicActivity string
	TopicResults  string
	Principal     string
	Enabled       bool
}

// New creates a publisher. A nil or disabled config yields log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicActivity: cfg.TopicActivity,
			topicResults:  cfg.TopicResults,
			enabled:       false,
			metrics:       m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	// Activity entries are written from the log's append path, which must
	// not wait on the broker.
	writerActivity := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicActivity,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			for range messages {
				m.RecordKafkaPublish(cfg.TopicActivity, EventTypeActivity, err, 0)
			}
			if err != nil {
				log.Error().Err(err).Int("messages", len(messages)).Msg("Failed to write activity to Kafka")
			}
		},
	}

	writerResults := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicResults,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicActivity", cfg.TopicActivity).
		Str("topicResults", cfg.TopicResults).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerActivity: writerActivity,
		writerResults:  writerResults,
		principal:      cfg.Principal,
		topicActivity:  cfg.TopicActivity,
		topicResults:   cfg.TopicResults,
		enabled:        true,
		metrics:        m,
	}
}

// SetSessionSource sets how activity entries are keyed.
func (p *Publisher) SetSessionSource(fn func() string) {
	p.sessionID = fn
}

// OnLogEntry publishes an activity entry. It implements activity.Sink.
func (p *Publisher) OnLogEntry(entry models.LogEntry) {
	ev := models.ActivityEvent{
		EventType: EventTypeActivity,
		Time:      entry.Time,
		Message:   entry.Message,
		Type:      entry.Type,
		Timestamp: time.Now().UnixMilli(),
	}
	if p.sessionID != nil {
		ev.SessionID = p.sessionID()
	}
	p.publish(context.Background(), p.writerActivity, p.topicActivity, EventTypeActivity, ev.SessionID, ev)
}

// PublishResult publishes a committed pipeline result.
func (p *Publisher) PublishResult(ctx context.Context, ev models.ResultEvent) error {
	return p.publish(ctx, p.writerResults, p.topicResults, EventTypeResult, ev.SessionID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	if !writer.Async {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	}
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerActivity != nil {
		if e := p.writerActivity.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing activity writer")
			err = e
		}
	}
	if p.writerResults != nil {
		if e := p.writerResults.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing results writer")
			err = e
		}
	}
	return err
}
