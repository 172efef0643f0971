// Package mirror publishes relay events to a Kafka topic so external
// consumers can follow pipeline progress without reading the local timeline
// database.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/flightline/flightline/internal/config"
)

// Event is the wire form of one mirrored relay event.
type Event struct {
	Kind     string    `json:"kind"`
	IssueID  string    `json:"issue_id"`
	Step     string    `json:"step,omitempty"`
	Role     string    `json:"role,omitempty"`
	ExitCode int       `json:"exit_code"`
	TS       time.Time `json:"ts"`
}

// messageWriter is the slice of kafka.Writer the publisher needs. Tests
// substitute a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes relay events to Kafka. A publisher built from a disabled
// config is inert: Publish and Close become no-ops.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher builds a publisher from config. When the mirror is disabled
// or no brokers are configured the returned publisher is inactive.
func NewPublisher(cfg config.MirrorConfig) *Publisher {
	if !cfg.Enabled || strings.TrimSpace(cfg.Brokers) == "" {
		return &Publisher{}
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "flightline-events"
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &Publisher{writer: w, topic: topic}
}

// Active reports whether events will actually be written.
func (p *Publisher) Active() bool {
	return p != nil && p.writer != nil
}

// Publish writes one event, keyed by work item so per-item ordering is
// preserved across partitions.
func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	if !p.Active() {
		return nil
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode mirror event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.IssueID),
		Value: value,
		Time:  evt.TS,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish mirror event: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	if !p.Active() {
		return nil
	}
	return p.writer.Close()
}
