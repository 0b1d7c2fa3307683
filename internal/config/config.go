package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Ingest   IngestConfig   `yaml:"ingest"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Relay    RelayConfig    `yaml:"relay"`
	Stream   StreamConfig   `yaml:"stream"`
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Influx   InfluxConfig   `yaml:"influx"`
	Postgres PostgresConfig `yaml:"postgres"`
	Alerts   AlertConfig    `yaml:"alerts"`
	Breaker  BreakerConfig  `yaml:"breaker"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

type IngestConfig struct {
	TCPAddr       string        `yaml:"tcp_addr"`
	MaxBufferSize int           `yaml:"max_buffer_size"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
}

type MQTTConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	ClientID string        `yaml:"client_id"`
	Topics   []string      `yaml:"topics"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

type RelayConfig struct {
	QueueCapacity      int  `yaml:"queue_capacity"`
	UseDeviceTimestamp bool `yaml:"use_device_timestamp"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
}

type AlertConfig struct {
	TemperatureMin float64 `yaml:"temperature_min"`
	TemperatureMax float64 `yaml:"temperature_max"`
	HumidityMin    float64 `yaml:"humidity_min"`
	HumidityMax    float64 `yaml:"humidity_max"`
}

type BreakerConfig struct {
	Failures uint32        `yaml:"failures"`
	OpenFor  time.Duration `yaml:"open_for"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Ingest: IngestConfig{
			TCPAddr:       ":3001",
			MaxBufferSize: 1 << 20,
			IdleTimeout:   2 * time.Minute,
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			User:     "guest",
			Password: "guest",
			ClientID: "sentry-relay",
			Topics:   []string{"sensor/raw/#"},
			DedupTTL: 2 * time.Minute,
		},
		Relay:  RelayConfig{QueueCapacity: 100},
		Stream: StreamConfig{HeartbeatInterval: 15 * time.Second, IdleTimeout: 45 * time.Second},
		HTTP:   HTTPConfig{Addr: ":8080"},
		GRPC:   GRPCConfig{Addr: ":50051"},
		Influx: InfluxConfig{
			URL:         "http://localhost:8086",
			Org:         "sentry",
			Bucket:      "readings",
			Measurement: "sensor_reading",
		},
		Postgres: PostgresConfig{Table: "alerts"},
		Alerts: AlertConfig{
			TemperatureMin: 5,
			TemperatureMax: 45,
			HumidityMin:    15,
			HumidityMax:    85,
		},
		Breaker: BreakerConfig{Failures: 5, OpenFor: 10 * time.Second},
	}
}

// Load reads the YAML file at path (optional), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
	c.Ingest.TCPAddr = envStr("INGEST_TCP_ADDR", c.Ingest.TCPAddr)
	c.Ingest.MaxBufferSize = envInt("INGEST_MAX_BUFFER", c.Ingest.MaxBufferSize)

	c.MQTT.Enabled = envBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Host = envStr("RABBITMQ_HOST", c.MQTT.Host)
	c.MQTT.Port = envInt("RABBITMQ_PORT", c.MQTT.Port)
	c.MQTT.User = envStr("RABBITMQ_USER", c.MQTT.User)
	c.MQTT.Password = envStr("RABBITMQ_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientID = envStr("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Topics = envList("MQTT_TOPICS", c.MQTT.Topics)

	c.Relay.QueueCapacity = envInt("RELAY_QUEUE_CAPACITY", c.Relay.QueueCapacity)
	c.Relay.UseDeviceTimestamp = envBool("RELAY_USE_DEVICE_TIMESTAMP", c.Relay.UseDeviceTimestamp)

	if port := envInt("HTTP_PORT", 0); port > 0 {
		c.HTTP.Addr = ":" + strconv.Itoa(port)
	}
	if port := envInt("GRPC_PORT", 0); port > 0 {
		c.GRPC.Addr = ":" + strconv.Itoa(port)
	}

	c.Influx.Enabled = envBool("INFLUX_ENABLED", c.Influx.Enabled)
	c.Influx.URL = envStr("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = envStr("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = envStr("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = envStr("INFLUX_BUCKET", c.Influx.Bucket)

	c.Postgres.Enabled = envBool("POSTGRES_ENABLED", c.Postgres.Enabled)
	c.Postgres.DSN = envStr("POSTGRES_DSN", c.Postgres.DSN)
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Ingest.MaxBufferSize <= 0 {
		c.Ingest.MaxBufferSize = def.Ingest.MaxBufferSize
	}
	if c.Ingest.IdleTimeout <= 0 {
		c.Ingest.IdleTimeout = def.Ingest.IdleTimeout
	}
	if c.Relay.QueueCapacity <= 0 {
		c.Relay.QueueCapacity = def.Relay.QueueCapacity
	}
	if c.Stream.HeartbeatInterval <= 0 {
		c.Stream.HeartbeatInterval = def.Stream.HeartbeatInterval
	}
	if c.Stream.IdleTimeout <= 0 {
		c.Stream.IdleTimeout = def.Stream.IdleTimeout
	}
	if len(c.MQTT.Topics) == 0 {
		c.MQTT.Topics = def.MQTT.Topics
	}
	if c.MQTT.DedupTTL <= 0 {
		c.MQTT.DedupTTL = def.MQTT.DedupTTL
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = def.Influx.Measurement
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = def.Postgres.Table
	}
	if c.Breaker.Failures == 0 {
		c.Breaker.Failures = def.Breaker.Failures
	}
	if c.Breaker.OpenFor <= 0 {
		c.Breaker.OpenFor = def.Breaker.OpenFor
	}
}

func (c *Config) validate() error {
	if c.Ingest.TCPAddr == "" && !c.MQTT.Enabled {
		return fmt.Errorf("no ingest transport: set ingest.tcp_addr or enable mqtt")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Stream.HeartbeatInterval >= c.Stream.IdleTimeout {
		return fmt.Errorf("stream.heartbeat_interval (%s) must be shorter than stream.idle_timeout (%s)",
			c.Stream.HeartbeatInterval, c.Stream.IdleTimeout)
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Token == "" || c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx config incomplete")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	if c.Alerts.TemperatureMin >= c.Alerts.TemperatureMax {
		return fmt.Errorf("alerts.temperature_min must be below alerts.temperature_max")
	}
	if c.Alerts.HumidityMin >= c.Alerts.HumidityMax {
		return fmt.Errorf("alerts.humidity_min must be below alerts.humidity_max")
	}
	return nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	out := make([]string, 0, 4)
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
