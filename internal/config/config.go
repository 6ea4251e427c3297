package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/snapshot"
)

// EnvPrefix prefixes every environment override, e.g. DASHBOARD_HTTP_ADDR.
const EnvPrefix = "DASHBOARD"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Pull     PullConfig     `mapstructure:"pull"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	// Thresholds is keyed by upper-case metric name (SOIL_MOISTURE...).
	// Viper folds keys to lower case; the engine matches them case-insensitively.
	Thresholds map[string]entities.Range `mapstructure:"thresholds"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func (c LogConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type MQTTConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"client_id"`
	Topics         []string      `mapstructure:"topics"`
	QoS            byte          `mapstructure:"qos"`
	IntentTopic    string        `mapstructure:"intent_topic"`
	MaxRetries     int           `mapstructure:"max_retries"`
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`
}

type PullConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Path             string        `mapstructure:"path"`
	Interval         time.Duration `mapstructure:"interval"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerFailures  int           `mapstructure:"breaker_failures"`
	BreakerOpenFor   time.Duration `mapstructure:"breaker_open_for"`
}

type SnapshotConfig struct {
	Prefix  string                 `mapstructure:"prefix"`
	Backend snapshot.BackendConfig `mapstructure:"backend"`
}

type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

type KafkaConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	DeviceKey string   `mapstructure:"device_key"`
}

type DedupConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
	Max int           `mapstructure:"max"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.request_timeout", "10s")
	v.SetDefault("grpc.addr", ":50051")

	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.user", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topics", []string{"smart_watering/sensors/#"})
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.intent_topic", "smart_watering/intent")
	v.SetDefault("mqtt.max_retries", 5)
	v.SetDefault("mqtt.max_elapsed_time", "30s")

	v.SetDefault("pull.base_url", "http://localhost:3000")
	v.SetDefault("pull.path", "/api/sensors/latest")
	v.SetDefault("pull.interval", "60s")
	v.SetDefault("pull.liveness_interval", "5s")
	v.SetDefault("pull.timeout", "10s")
	v.SetDefault("pull.breaker_failures", 3)
	v.SetDefault("pull.breaker_open_for", "30s")

	v.SetDefault("snapshot.prefix", snapshot.DefaultPrefix)
	v.SetDefault("snapshot.backend.kind", "file")
	v.SetDefault("snapshot.backend.path", "./data/snapshots")
	v.SetDefault("snapshot.backend.dsn", "")
	v.SetDefault("snapshot.backend.table", "dashboard_snapshots")

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "smart-watering")
	v.SetDefault("influx.bucket", "dashboard")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "dashboard.intents")
	v.SetDefault("kafka.device_key", "smart_watering")

	v.SetDefault("dedup.ttl", "2m")
	v.SetDefault("dedup.max", 4096)
}

// Loader reads the YAML config file with env overrides. A .env file in the
// working directory is loaded first if present.
type Loader struct {
	v    *viper.Viper
	path string
	mu   sync.Mutex
}

func NewLoader(path string) *Loader {
	_ = godotenv.Load() // ignore missing file

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	return &Loader{v: v, path: path}
}

// Load reads the file (if any) and decodes the merged config.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Watch calls onChange with the reloaded config after the file settles.
// Bursts of writes within debounce collapse into one call. Nothing is
// called after ctx is done.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration, logger *slog.Logger, onChange func(*Config)) error {
	if l.path == "" {
		return fmt.Errorf("watch: no config file")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "config")

	var (
		tmu   sync.Mutex
		timer *time.Timer
	)
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			log.Warn("reloaded config rejected", "err", err)
			return
		}
		log.Info("config reloaded", "file", l.path)
		onChange(cfg)
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		tmu.Lock()
		defer tmu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, fire)
	})
	l.v.WatchConfig()

	go func() {
		<-ctx.Done()
		tmu.Lock()
		if timer != nil {
			timer.Stop()
		}
		tmu.Unlock()
	}()
	return nil
}
