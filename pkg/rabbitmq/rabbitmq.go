package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RabbitMQConfig points at the broker's MQTT plugin.
type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	MaxRetries     int
	MaxElapsedTime time.Duration

	Logger *slog.Logger
}

func (cfg *RabbitMQConfig) clientOptions() *mqtt.ClientOptions {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	// reconnects are driven by the caller's liveness loop
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		cfg.logger().Warn("mqtt connection lost", "broker", connAddr, "err", err)
	})
	return opts
}

func (cfg *RabbitMQConfig) logger() *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default().With("component", "mqtt")
}

// NewRabbitMQClient builds a client without dialing; use Connect.
func NewRabbitMQClient(cfg *RabbitMQConfig) mqtt.Client {
	return mqtt.NewClient(cfg.clientOptions())
}

// Connect retries client.Connect with exponential backoff. It is also the
// reconnect path for an existing client.
func Connect(ctx context.Context, client mqtt.Client, maxRetries int, maxElapsed time.Duration, logger *slog.Logger) error {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if maxElapsed <= 0 {
		maxElapsed = 10 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	err := backoff.Retry(func() error {
		if client.IsConnectionOpen() {
			return nil
		}
		token := client.Connect()
		if token.Wait() && token.Error() != nil {
			logger.Warn("failed to connect to MQTT broker", "err", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}
	return nil
}

func CloseRabbitMQConn(client mqtt.Client) {
	if client.IsConnected() {
		client.Disconnect(250)
	}
}
