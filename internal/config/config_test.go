package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
ingest:
  tcp_addr: ":4001"
relay:
  queue_capacity: 0
stream:
  heartbeat_interval: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Ingest.TCPAddr != ":4001" {
		t.Fatalf("expected tcp addr :4001, got %s", cfg.Ingest.TCPAddr)
	}
	if cfg.Relay.QueueCapacity != 100 {
		t.Fatalf("expected default queue capacity 100, got %d", cfg.Relay.QueueCapacity)
	}
	if cfg.Stream.HeartbeatInterval != 5*time.Second {
		t.Fatalf("expected heartbeat 5s, got %s", cfg.Stream.HeartbeatInterval)
	}
	if cfg.Ingest.MaxBufferSize != 1<<20 {
		t.Fatalf("expected default max buffer 1MiB, got %d", cfg.Ingest.MaxBufferSize)
	}
	if cfg.Relay.UseDeviceTimestamp {
		t.Fatal("device timestamps must be opt-in")
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.HTTP.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RABBITMQ_HOST", "broker.local")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("MQTT_TOPICS", "sensor/raw/a, sensor/raw/b ,")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("RELAY_QUEUE_CAPACITY", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Host != "broker.local" {
		t.Fatalf("mqtt overrides not applied: %+v", cfg.MQTT)
	}
	if len(cfg.MQTT.Topics) != 2 || cfg.MQTT.Topics[1] != "sensor/raw/b" {
		t.Fatalf("unexpected topics %v", cfg.MQTT.Topics)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.HTTP.Addr)
	}
	if cfg.Relay.QueueCapacity != 7 {
		t.Fatalf("expected queue capacity 7, got %d", cfg.Relay.QueueCapacity)
	}
}

func TestValidateRejectsIncompleteInflux(t *testing.T) {
	path := writeConfig(t, `
influx:
  enabled: true
  token: ""
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for influx without token")
	}
}

func TestValidateHeartbeatShorterThanIdle(t *testing.T) {
	path := writeConfig(t, `
stream:
  heartbeat_interval: 1m
  idle_timeout: 30s
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when heartbeat exceeds idle timeout")
	}
}
