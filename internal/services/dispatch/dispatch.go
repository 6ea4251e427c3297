package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/engine"
	"github.com/LeonardoBeccarini/sdcc_dashboard/pkg/rabbitmq"
)

// IntentEvent is the message published on every actuator transition.
type IntentEvent struct {
	Source    string                  `json:"source"`
	Intent    messages.ActuatorIntent `json:"intent"`
	Reasons   []string                `json:"reasons"`
	Timestamp time.Time               `json:"timestamp"`
}

func eventOf(t engine.Tick) IntentEvent {
	reasons := t.Intent.Reasons()
	if reasons == nil {
		reasons = []string{}
	}
	return IntentEvent{
		Source:    string(t.Source),
		Intent:    t.Intent,
		Reasons:   reasons,
		Timestamp: t.At.UTC(),
	}
}

// MQTTSink publishes intents on a retained MQTT topic so a late agent
// picks up the current desired state on subscribe.
type MQTTSink struct {
	pub rabbitmq.IPublisher
	log *slog.Logger
}

func NewMQTTSink(pub rabbitmq.IPublisher, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSink{pub: pub, log: logger.With("component", "dispatch", "transport", "mqtt")}
}

func (s *MQTTSink) Record(_ context.Context, t engine.Tick) {
	if !t.Intent.Changed {
		return
	}
	b, err := json.Marshal(eventOf(t))
	if err != nil {
		s.log.Error("marshal intent", "err", err)
		return
	}
	if err := s.pub.PublishMessage(b); err != nil {
		s.log.Warn("publish intent failed", "err", err)
		return
	}
	s.log.Info("intent published", "pump", t.Intent.Pump.Speed, "light", t.Intent.Light.Status)
}

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// KafkaSink appends intents to a Kafka topic keyed by device, for audit.
type KafkaSink struct {
	w       MessageWriter
	key     []byte
	timeout time.Duration
	log     *slog.Logger
}

func NewKafkaSink(w MessageWriter, deviceKey string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{
		w:       w,
		key:     []byte(deviceKey),
		timeout: 5 * time.Second,
		log:     logger.With("component", "dispatch", "transport", "kafka"),
	}
}

func (s *KafkaSink) Record(ctx context.Context, t engine.Tick) {
	if !t.Intent.Changed {
		return
	}
	b, err := json.Marshal(eventOf(t))
	if err != nil {
		s.log.Error("marshal intent", "err", err)
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	msg := kafka.Message{Key: s.key, Value: b, Time: t.At}
	if err := s.w.WriteMessages(wctx, msg); err != nil {
		s.log.Warn("kafka write failed", "err", err)
	}
}

func (s *KafkaSink) Close() error { return s.w.Close() }
