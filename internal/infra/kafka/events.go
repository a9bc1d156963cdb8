package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	"github.com/arklim/auth-session-service/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	metaService    = "service"
	metaEnv        = "environment"
	metaInstanceID = "instance_id"
	metaTraceID    = "trace_id"
)

// Envelope is the wire format shared by every topic.
type Envelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Key       string            `json:"key,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DecodeEnvelope parses raw bytes and checks the schema version.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != schemaVersion {
		return Envelope{}, fmt.Errorf("unsupported envelope version %q", env.Version)
	}
	return env, nil
}

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
	now      func() time.Time
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{
		producer: producer,
		appCfg:   appCfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish wraps event in an Envelope and hands it to the async producer.
// The message key is the event key, so events for one user or token stay ordered.
func (p *EventPublisher) Publish(ctx context.Context, event domain.Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Type(), err)
	}

	metadata := map[string]string{
		metaService:    p.appCfg.Name,
		metaEnv:        p.appCfg.Env,
		metaInstanceID: p.appCfg.InstanceID,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata[metaTraceID] = sc.TraceID().String()
	}

	envelope := Envelope{
		EventID:   uuid.NewString(),
		EventType: string(event.Type()),
		Key:       event.Key(),
		Timestamp: p.now(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(envelope.EventType),
		Key:   sarama.StringEncoder(envelope.Key),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(envelope.EventType)},
		},
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.EventPublisher = (*EventPublisher)(nil)
