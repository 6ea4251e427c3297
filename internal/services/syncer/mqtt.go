package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/sdcc_dashboard/pkg/dedup"
	"github.com/LeonardoBeccarini/sdcc_dashboard/pkg/rabbitmq"
)

// MQTTStream is the push-stream ingress: {type,data} envelopes on MQTT topics.
type MQTTStream struct {
	client   mqtt.Client
	consumer *rabbitmq.MultiConsumer
	deduper  *dedup.Deduper
	handler  func(ctx context.Context, payload []byte) error
	log      *slog.Logger

	mu  sync.RWMutex
	ctx context.Context
}

func NewMQTTStream(client mqtt.Client, topics []string, qos byte, d *dedup.Deduper, logger *slog.Logger) *MQTTStream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MQTTStream{
		client:  client,
		deduper: d,
		ctx:     context.Background(),
		log:     logger.With("component", "stream"),
	}
	s.consumer = rabbitmq.NewMultiConsumer(client, topics, qos, s.onMessage)
	s.consumer.SetLogger(s.log)
	return s
}

// SetHandler installs the payload callback, normally Scheduler.OnStreamMessage.
func (s *MQTTStream) SetHandler(h func(ctx context.Context, payload []byte) error) {
	s.handler = h
}

// Start binds the stream to ctx and blocks until it ends. Dialing and
// subscribing are left to Reconnect, driven by the scheduler.
func (s *MQTTStream) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	<-ctx.Done()
	if s.Connected() {
		s.consumer.Unsubscribe()
	}
}

func (s *MQTTStream) Connected() bool {
	return s.client != nil && s.client.IsConnectionOpen()
}

// Reconnect re-dials with backoff and restores the subscriptions.
func (s *MQTTStream) Reconnect(ctx context.Context) error {
	if s.client == nil {
		return errors.New("stream has no mqtt client")
	}
	if !s.Connected() {
		if err := rabbitmq.Connect(ctx, s.client, 3, 4*time.Second, s.log); err != nil {
			return err
		}
	}
	return s.consumer.Subscribe()
}

func (s *MQTTStream) onMessage(_ string, msg mqtt.Message) error {
	payload := msg.Payload()
	// the same bytes may legitimately repeat; only a flagged redelivery is dropped
	seen := s.deduper != nil && !s.deduper.ShouldProcessPayload(msg.Topic(), payload)
	if seen && msg.Duplicate() {
		s.log.Debug("duplicate redelivery dropped", "topic", msg.Topic())
		return nil
	}
	if s.handler == nil {
		return nil
	}
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	return s.handler(ctx, payload)
}
