package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/config"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/observability"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/dispatch"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/engine"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/gateway"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/recorder"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/snapshot"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/syncer"
	"github.com/LeonardoBeccarini/sdcc_dashboard/pkg/dedup"
	"github.com/LeonardoBeccarini/sdcc_dashboard/pkg/rabbitmq"
)

func configPath() string {
	p := strings.TrimSpace(os.Getenv("DASHBOARD_CONFIG"))
	if p == "" {
		p = "config/dashboard.yaml"
	}
	if _, err := os.Stat(p); err != nil {
		return "" // defaults + env only
	}
	return p
}

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, level); err != nil {
		logger.Error("dashboard failed", "component", "main", "err", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so every deferred close runs.
func run(logger *slog.Logger, level *slog.LevelVar) error {
	log := logger.With("component", "main")

	// === Config ===
	loader := config.NewLoader(configPath())
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	level.Set(cfg.Log.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	// === Snapshot store ===
	backend, err := snapshot.OpenBackend(ctx, cfg.Snapshot.Backend)
	if err != nil {
		return fmt.Errorf("snapshot backend: %w", err)
	}
	store := snapshot.NewStore(backend, cfg.Snapshot.Prefix, logger, metrics)
	defer func() { _ = store.Close() }()

	// === MQTT (stream in, intents out) ===
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "dashboard-" + uuid.NewString()
	}
	mqttClient := rabbitmq.NewRabbitMQClient(&rabbitmq.RabbitMQConfig{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		User:           cfg.MQTT.User,
		Password:       cfg.MQTT.Password,
		ClientID:       clientID,
		MaxRetries:     cfg.MQTT.MaxRetries,
		MaxElapsedTime: cfg.MQTT.MaxElapsedTime,
		Logger:         logger.With("component", "mqtt"),
	})
	defer rabbitmq.CloseRabbitMQConn(mqttClient)

	sinks := []engine.Sink{
		dispatch.NewMQTTSink(rabbitmq.NewPublisher(mqttClient, cfg.MQTT.IntentTopic, 1, true), logger),
	}

	// === Kafka (optional intent audit) ===
	if cfg.Kafka.Enabled {
		ks := dispatch.NewKafkaSink(dispatch.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Kafka.DeviceKey, logger)
		defer func() { _ = ks.Close() }()
		sinks = append(sinks, ks)
	}

	// === InfluxDB (optional history) ===
	var (
		writer  *recorder.Writer
		history gateway.HistoryReader
	)
	if cfg.Influx.Enabled {
		influx := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token,
			influxdb2.DefaultOptions().SetBatchSize(20).SetFlushInterval(1000))
		defer influx.Close()
		writer = recorder.NewWriter(influx.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket), logger)
		defer writer.Flush()
		history = recorder.NewHistory(influx, cfg.Influx.Org, cfg.Influx.Bucket)
		sinks = append(sinks, writer)
	}

	// === Engine ===
	eng := engine.New(engine.Options{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		Sinks:   sinks,
	})
	// Restore first so the configured thresholds are evaluated against the
	// restored reading.
	eng.Restore(ctx)
	if len(cfg.Thresholds) > 0 {
		if err := eng.UpdateThresholdConfig(ctx, cfg.Thresholds); err != nil {
			log.Warn("configured thresholds rejected", "err", err)
		}
	}

	// === Stream + pull scheduling ===
	stream := syncer.NewMQTTStream(mqttClient, cfg.MQTT.Topics, cfg.MQTT.QoS, dedup.New(cfg.Dedup.TTL, cfg.Dedup.Max), logger)
	puller := syncer.NewHTTPPuller(cfg.Pull.BaseURL, cfg.Pull.Path, cfg.Pull.Timeout, syncer.BreakerConfig{
		Failures: cfg.Pull.BreakerFailures,
		OpenFor:  cfg.Pull.BreakerOpenFor,
	}, metrics)
	sched := syncer.New(syncer.Config{
		PullInterval:     cfg.Pull.Interval,
		LivenessInterval: cfg.Pull.LivenessInterval,
		PullTimeout:      cfg.Pull.Timeout,
	}, stream, puller, eng, logger)
	stream.SetHandler(sched.OnStreamMessage)

	health := gateway.NewStreamHealth(logger)
	sched.OnStateChange(func(st syncer.StreamState) {
		live := st == syncer.StreamLive
		health.SetLive(live)
		metrics.SetStreamLive(live)
	})

	// === Config hot reload ===
	if err := loader.Watch(ctx, 2*time.Second, logger, func(c *config.Config) {
		level.Set(c.Log.SlogLevel())
		if err := eng.UpdateThresholdConfig(ctx, c.Thresholds); err != nil {
			log.Warn("reloaded thresholds rejected", "err", err)
		}
	}); err != nil {
		log.Info("config hot reload disabled", "reason", err)
	}

	// === HTTP + gRPC health ===
	gin.SetMode(gin.ReleaseMode)
	deps := gateway.Deps{
		Dashboard:  eng,
		History:    history,
		StreamLive: sched.StreamLive,
		Metrics:    metrics,
		Logger:     logger,
	}
	if writer != nil {
		deps.LastWriteErrorAge = writer.LastErrorAge
	}
	srv := gateway.New(gateway.Config{Addr: cfg.HTTP.Addr, RequestTimeout: cfg.HTTP.RequestTimeout}, deps)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", cfg.GRPC.Addr, err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); stream.Start(ctx) }()
	go func() { defer wg.Done(); sched.Run(ctx) }()
	go func() {
		defer wg.Done()
		if err := health.Serve(ctx, lis); err != nil {
			log.Error("grpc health stopped", "err", err)
		}
	}()

	log.Info("dashboard started", "http", cfg.HTTP.Addr, "grpc", cfg.GRPC.Addr, "mqtt", cfg.MQTT.Host, "snapshot", cfg.Snapshot.Backend.Kind)
	runErr := srv.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		stop()
	}

	wg.Wait()
	if eng.ForceSave(context.Background()) {
		log.Info("final snapshot written")
	}
	log.Info("shutdown complete")
	if runErr != nil {
		return fmt.Errorf("http server: %w", runErr)
	}
	return nil
}
