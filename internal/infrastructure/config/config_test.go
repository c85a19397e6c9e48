package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
broker:
  transport: "nats"
  base_topic: "devices"
nats:
  url: "nats://10.0.0.5:4222"
  state_bucket: "states"
commands:
  inject_meta_command_id: false
  timeout_seconds: 45
api:
  port: 8081
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Broker.Transport != TransportNATS {
		t.Errorf("Broker.Transport = %q, want %q", cfg.Broker.Transport, TransportNATS)
	}
	if cfg.Broker.BaseTopic != "devices" {
		t.Errorf("Broker.BaseTopic = %q, want %q", cfg.Broker.BaseTopic, "devices")
	}
	if cfg.NATS.StateBucket != "states" {
		t.Errorf("NATS.StateBucket = %q, want %q", cfg.NATS.StateBucket, "states")
	}
	if cfg.Commands.InjectMetaCommandID {
		t.Error("Commands.InjectMetaCommandID = true, want false")
	}
	if got := cfg.CommandTimeout(); got != 45*time.Second {
		t.Errorf("CommandTimeout() = %v, want 45s", got)
	}
	// Untouched sections keep their defaults.
	if cfg.Commands.SweepInterval != 30 {
		t.Errorf("Commands.SweepInterval = %d, want 30", cfg.Commands.SweepInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
broker:
  transport: "amqp"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for unknown transport, got nil")
	}
	if !strings.Contains(err.Error(), "broker.transport") {
		t.Errorf("error = %q, want mention of broker.transport", err.Error())
	}
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	if !cfg.Commands.InjectMetaCommandID {
		t.Error("InjectMetaCommandID default = false, want true")
	}
	if cfg.Commands.TimeoutSeconds != 120 {
		t.Errorf("TimeoutSeconds default = %d, want 120", cfg.Commands.TimeoutSeconds)
	}
	if cfg.Broker.BaseTopic != "device" {
		t.Errorf("BaseTopic default = %q, want %q", cfg.Broker.BaseTopic, "device")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "unknown state backend",
			mutate:  func(c *Config) { c.StateStore.Backend = "etcd" },
			wantErr: "state_store.backend",
		},
		{
			name: "redis backend needs addr",
			mutate: func(c *Config) {
				c.StateStore.Backend = StateBackendRedis
				c.Redis.Addr = ""
			},
			wantErr: "redis.addr",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.API.JWTSecret = "short" },
			wantErr: "api.jwt_secret",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want mention of %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/env/path.db")
	t.Setenv("GRAYLOGIC_NATS_URL", "nats://env:4222")
	t.Setenv("GRAYLOGIC_INJECT_META_COMMAND_ID", "false")
	t.Setenv("GRAYLOGIC_COMMAND_TIMEOUT_SECONDS", "300")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/env/path.db")
	}
	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("NATS.URL = %q, want %q", cfg.NATS.URL, "nats://env:4222")
	}
	if cfg.Commands.InjectMetaCommandID {
		t.Error("InjectMetaCommandID = true, want false from env")
	}
	if cfg.Commands.TimeoutSeconds != 300 {
		t.Errorf("TimeoutSeconds = %d, want 300", cfg.Commands.TimeoutSeconds)
	}
}

func TestCommandTimeoutFloor(t *testing.T) {
	cfg := defaultConfig()
	for _, seconds := range []int{0, -5} {
		cfg.Commands.TimeoutSeconds = seconds
		if got := cfg.CommandTimeout(); got != time.Second {
			t.Errorf("CommandTimeout() with %d = %v, want 1s", seconds, got)
		}
	}
}
