// Package events publishes conversation events to Kafka for
// downstream consumers. Without brokers configured it degrades to a
// log-only mode, so the relay never depends on Kafka availability.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/voxrelay/voxrelay/pkg/relay/metrics"
)

// TranscriptEvent records one successfully transcribed utterance.
type TranscriptEvent struct {
	SessionID  string  `json:"session_id"`
	TurnID     string  `json:"turn_id,omitempty"`
	Text       string  `json:"text"`
	Provider   string  `json:"provider,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// ResponseEvent records one finished generation, complete or partial.
// TurnID matches the transcript event that produced the turn.
type ResponseEvent struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Text      string `json:"text"`
	Partial   bool   `json:"partial,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Config holds the Kafka publisher settings.
type Config struct {
	Enabled          bool
	Brokers          []string
	TopicTranscripts string
	TopicResponses   string
}

// Publisher writes conversation events to per-kind Kafka topics,
// keyed by session id so each session lands on one partition in order.
type Publisher struct {
	writerTranscripts *kafka.Writer
	writerResponses   *kafka.Writer
	topicTranscripts  string
	topicResponses    string
	enabled           bool
	logger            *slog.Logger
	metrics           *metrics.Metrics
}

// New builds a publisher. A nil return never happens; disabled or
// broker-less configs produce a log-only publisher.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicTranscripts == "" {
		cfg.TopicTranscripts = "voxrelay.transcripts"
	}
	if cfg.TopicResponses == "" {
		cfg.TopicResponses = "voxrelay.responses"
	}
	p := &Publisher{
		topicTranscripts: cfg.TopicTranscripts,
		topicResponses:   cfg.TopicResponses,
		logger:           logger,
		metrics:          m,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, events run in log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:  kafka.TCP(cfg.Brokers...),
			Topic: topic,
			// Hash keeps each session key on one partition.
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.writerTranscripts = newWriter(cfg.TopicTranscripts)
	p.writerResponses = newWriter(cfg.TopicResponses)
	p.enabled = true
	logger.Info("kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic_transcripts", cfg.TopicTranscripts,
		"topic_responses", cfg.TopicResponses)
	return p
}

// PublishTranscript emits a transcript event keyed by session id.
func (p *Publisher) PublishTranscript(ctx context.Context, e TranscriptEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, e.SessionID, e)
}

// PublishResponse emits a response event keyed by session id.
func (p *Publisher) PublishResponse(ctx context.Context, e ResponseEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.writerResponses, p.topicResponses, e.SessionID, e)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal event", "topic", topic, "error", err)
		return err
	}
	p.logger.Debug("publishing event", "topic", topic, "key", key, "bytes", len(payload))

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(topic)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka write failed", "topic", topic, "key", key, "error", err)
		p.metrics.RecordKafkaPublish(topic, err, time.Since(start).Seconds())
		return err
	}
	p.metrics.RecordKafkaPublish(topic, nil, time.Since(start).Seconds())
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var err error
	if p.writerTranscripts != nil {
		if e := p.writerTranscripts.Close(); e != nil {
			p.logger.Error("close transcripts writer", "error", e)
			err = e
		}
	}
	if p.writerResponses != nil {
		if e := p.writerResponses.Close(); e != nil {
			p.logger.Error("close responses writer", "error", e)
			err = e
		}
	}
	return err
}
