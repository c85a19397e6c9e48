package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker transports understood by Broker.Transport.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// State store backends understood by StateStore.Backend.
const (
	StateBackendNATS   = "nats"
	StateBackendRedis  = "redis"
	StateBackendSQLite = "sqlite"
)

// Config is the root configuration structure for the device command core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	Broker     BrokerConfig     `yaml:"broker"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	NATS       NATSConfig       `yaml:"nats"`
	Redis      RedisConfig      `yaml:"redis"`
	StateStore StateStoreConfig `yaml:"state_store"`
	Commands   CommandsConfig   `yaml:"commands"`
	API        APIConfig        `yaml:"api"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BrokerConfig selects the transport used for device traffic and the
// subject layout shared by publishing and inbound resolution.
type BrokerConfig struct {
	// Transport is "mqtt" or "nats".
	Transport string `yaml:"transport"`

	// BaseTopic is the fallback prefix for device subjects when a device
	// type does not define its own. Default: "device"
	BaseTopic string `yaml:"base_topic"`

	// Subscriptions are the MQTT filters the reconciler listens on. NATS
	// subscriptions use the same filters converted to NATS notation.
	// Default: ["#"]
	Subscriptions []string `yaml:"subscriptions"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// NATSConfig contains NATS connection settings.
type NATSConfig struct {
	URL string `yaml:"url"`

	// StateBucket is the JetStream key-value bucket holding the latest
	// payload per device subject.
	StateBucket string `yaml:"state_bucket"`

	// StateTTL is the bucket-level TTL in seconds. 0 keeps entries forever.
	StateTTL int `yaml:"state_ttl"`

	// EventsSubjectPrefix is prepended to lifecycle event names when they are
	// mirrored onto NATS. Empty disables mirroring.
	EventsSubjectPrefix string `yaml:"events_subject_prefix"`
}

// RedisConfig contains Redis connection settings for the Redis state store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTL       int    `yaml:"ttl"`
}

// StateStoreConfig selects where the latest device payloads are kept.
type StateStoreConfig struct {
	// Backend is "nats", "redis" or "sqlite".
	Backend string `yaml:"backend"`

	// HistoryLimit caps the rows kept per device topic by the sqlite
	// backend. 0 keeps only the latest.
	HistoryLimit int `yaml:"history_limit"`
}

// CommandsConfig contains command dispatch and expiry settings.
type CommandsConfig struct {
	// InjectMetaCommandID adds _meta.command_id to outbound payloads.
	InjectMetaCommandID bool `yaml:"inject_meta_command_id"`

	// TimeoutSeconds is how long an in-flight command may wait for
	// feedback before it is expired. Minimum 1.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// SweepInterval is the expirer period in seconds.
	SweepInterval int `yaml:"sweep_interval"`

	// PublishTimeout bounds a single broker publish, in seconds.
	PublishTimeout int `yaml:"publish_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// JWTSecret enables bearer-token checks on the API when set.
	JWTSecret string `yaml:"jwt_secret"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_COMMAND_TIMEOUT_SECONDS
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, used when no file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic IoT",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-iot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Broker: BrokerConfig{
			Transport:     TransportMQTT,
			BaseTopic:     "device",
			Subscriptions: []string{"#"},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "127.0.0.1",
				Port:     4223,
				ClientID: "graylogic-iot",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		NATS: NATSConfig{
			URL:                 "nats://127.0.0.1:4222",
			StateBucket:         "device-states",
			EventsSubjectPrefix: "iot.events",
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "iot:state",
		},
		StateStore: StateStoreConfig{
			Backend: StateBackendNATS,
		},
		Commands: CommandsConfig{
			InjectMetaCommandID: true,
			TimeoutSeconds:      120,
			SweepInterval:       30,
			PublishTimeout:      5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Broker
	if v := os.Getenv("GRAYLOGIC_BROKER_TRANSPORT"); v != "" {
		cfg.Broker.Transport = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// NATS
	if v := os.Getenv("GRAYLOGIC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	// Redis
	if v := os.Getenv("GRAYLOGIC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GRAYLOGIC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Commands
	if v := os.Getenv("GRAYLOGIC_INJECT_META_COMMAND_ID"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Commands.InjectMetaCommandID = b
		}
	}
	if v := os.Getenv("GRAYLOGIC_COMMAND_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Commands.TimeoutSeconds = n
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Broker.Transport {
	case TransportMQTT, TransportNATS:
	default:
		errs = append(errs, fmt.Sprintf("broker.transport must be %q or %q", TransportMQTT, TransportNATS))
	}

	if len(c.Broker.Subscriptions) == 0 {
		errs = append(errs, "broker.subscriptions needs at least one filter")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch c.StateStore.Backend {
	case StateBackendNATS:
		if c.NATS.StateBucket == "" {
			errs = append(errs, "nats.state_bucket is required for the nats state store")
		}
	case StateBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis state store")
		}
	case StateBackendSQLite:
		if c.StateStore.HistoryLimit < 0 {
			errs = append(errs, "state_store.history_limit cannot be negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("state_store.backend must be %q, %q or %q",
			StateBackendNATS, StateBackendRedis, StateBackendSQLite))
	}

	if c.Commands.SweepInterval < 1 {
		errs = append(errs, "commands.sweep_interval must be at least 1")
	}
	if c.Commands.PublishTimeout < 1 {
		errs = append(errs, "commands.publish_timeout must be at least 1")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "api.jwt_secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CommandTimeout returns the command feedback timeout, never below one second.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(max(c.Commands.TimeoutSeconds, 1)) * time.Second
}

// SweepInterval returns the expirer period as a Duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Commands.SweepInterval) * time.Second
}

// PublishTimeout returns the per-publish deadline as a Duration.
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.Commands.PublishTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
