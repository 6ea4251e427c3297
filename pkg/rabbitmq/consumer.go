package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MultiConsumer subscribes one handler to several topics at the same QoS.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	qos     byte
	handler func(queue string, message mqtt.Message) error
	log     *slog.Logger
}

func NewMultiConsumer(client mqtt.Client, topics []string, qos byte, handler func(queue string, message mqtt.Message) error) *MultiConsumer {
	return &MultiConsumer{
		client:  client,
		topics:  topics,
		qos:     qos,
		handler: handler,
		log:     slog.Default().With("component", "mqtt-consumer"),
	}
}

func (m *MultiConsumer) SetLogger(l *slog.Logger) {
	if l != nil {
		m.log = l
	}
}

// Subscribe (re)registers every topic. With a clean session it must be
// called again after each reconnect.
func (m *MultiConsumer) Subscribe() error {
	var errs []error
	for _, topic := range m.topics {
		topic := topic
		token := m.client.Subscribe(topic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
			if m.handler == nil {
				m.log.Warn("no handler set", "topic", topic)
				return
			}
			if err := m.handler(topic, msg); err != nil {
				m.log.Warn("error handling message", "topic", msg.Topic(), "err", err)
			}
		})
		token.Wait()
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", topic, err))
			continue
		}
		m.log.Info("subscribed", "topic", topic, "qos", m.qos)
	}
	return errors.Join(errs...)
}

func (m *MultiConsumer) Unsubscribe() {
	for _, topic := range m.topics {
		m.client.Unsubscribe(topic)
	}
}
