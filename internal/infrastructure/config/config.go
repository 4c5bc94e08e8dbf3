package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted for the config
// file location when no --config flag is given.
const EnvConfigPath = "MQTT_CONNECTOR_CONFIG"

// DefaultPath is the config file used when neither flag nor environment names one.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the connector.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Module   ModuleConfig   `yaml:"module"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Queue    QueueConfig    `yaml:"queue"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ModuleConfig identifies this connector instance.
// The ID doubles as the default MQTT client id and is stamped on every
// device record the connector creates.
type ModuleConfig struct {
	ID string `yaml:"id" env:"MQTT_CONNECTOR_MODULE_ID"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	CleanSession   bool                `yaml:"clean_session" env:"MQTT_CONNECTOR_MQTT_CLEAN_SESSION"`
	KeepAlive      int                 `yaml:"keepalive" env:"MQTT_CONNECTOR_MQTT_KEEPALIVE"`
	QoS            int                 `yaml:"qos" env:"MQTT_CONNECTOR_MQTT_QOS"`
	EventTopic     string              `yaml:"event_topic" env:"MQTT_CONNECTOR_MQTT_EVENT_TOPIC"`
	ResponseTopic  string              `yaml:"response_topic" env:"MQTT_CONNECTOR_MQTT_RESPONSE_TOPIC"`
	PublishTimeout int                 `yaml:"publish_timeout"` // seconds
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"MQTT_CONNECTOR_MQTT_HOST"`
	Port     int    `yaml:"port" env:"MQTT_CONNECTOR_MQTT_PORT"`
	TLS      bool   `yaml:"tls" env:"MQTT_CONNECTOR_MQTT_TLS"`
	ClientID string `yaml:"client_id" env:"MQTT_CONNECTOR_MQTT_CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MQTT_CONNECTOR_MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_CONNECTOR_MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	// Delay is the fixed pause between connection attempts (seconds).
	Delay int `yaml:"delay" env:"MQTT_CONNECTOR_MQTT_RECONNECT_DELAY"`
}

// QueueConfig selects where inbound messages are queued.
type QueueConfig struct {
	Backend  string           `yaml:"backend" env:"MQTT_CONNECTOR_QUEUE_BACKEND"`
	Capacity int              `yaml:"capacity" env:"MQTT_CONNECTOR_QUEUE_CAPACITY"`
	Redis    RedisQueueConfig `yaml:"redis"`
}

// RedisQueueConfig contains settings for the Redis list backend.
type RedisQueueConfig struct {
	Addr     string `yaml:"addr" env:"MQTT_CONNECTOR_REDIS_ADDR"`
	Password string `yaml:"password" env:"MQTT_CONNECTOR_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	// TimeoutMS bounds each enqueue. The enqueue runs on the bridge's
	// callback goroutine, so keep it short.
	TimeoutMS int `yaml:"timeout_ms"`
}

// Queue backends.
const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"MQTT_CONNECTOR_DATABASE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"MQTT_CONNECTOR_INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"MQTT_CONNECTOR_INFLUXDB_URL"`
	Token         string `yaml:"token" env:"MQTT_CONNECTOR_INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled" env:"MQTT_CONNECTOR_API_ENABLED"`
	Host      string           `yaml:"host" env:"MQTT_CONNECTOR_API_HOST"`
	Port      int              `yaml:"port" env:"MQTT_CONNECTOR_API_PORT"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the live message stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"` // bytes accepted from a client
	PingInterval   int `yaml:"ping_interval"`    // seconds
	PongTimeout    int `yaml:"pong_timeout"`     // seconds
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"MQTT_CONNECTOR_LOG_LEVEL"`
	Format string `yaml:"format" env:"MQTT_CONNECTOR_LOG_FORMAT"`
	Output string `yaml:"output"`
	// MQTTLevel is the level of the MQTT client library's own logger.
	MQTTLevel string `yaml:"mqtt_level" env:"MQTT_CONNECTOR_MQTT_LOG_LEVEL"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables are declared with `env` struct tags and follow the
// pattern MQTT_CONNECTOR_SECTION_KEY, e.g. MQTT_CONNECTOR_MQTT_HOST.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath picks the config file path: an explicit flag value wins,
// then MQTT_CONNECTOR_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}

func defaultConfig() *Config {
	return &Config{
		Module: ModuleConfig{
			ID: "mqtt-connector",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			CleanSession:   true,
			KeepAlive:      30,
			QoS:            1,
			EventTopic:     "event/#",
			ResponseTopic:  "response/#",
			PublishTimeout: 5,
			Reconnect: MQTTReconnectConfig{
				Delay: 1,
			},
		},
		Queue: QueueConfig{
			Backend:  QueueBackendMemory,
			Capacity: 10000,
			Redis: RedisQueueConfig{
				Addr:    "localhost:6379",
				Key:     "mqtt-connector:inbound",
				TimeoutMS: 200,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/mqtt-connector.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Output:    "stdout",
			MQTTLevel: "warn",
		},
	}
}

// applyEnvOverrides decodes the `env` tagged fields. Unset variables leave
// the loaded values untouched; a malformed value is an error.
//
// StrictDecode reports "no variable set" as ErrInvalidTarget. cfg is always
// a valid target, so that error only ever means nothing was overridden.
func applyEnvOverrides(cfg *Config) error {
	err := envdecode.StrictDecode(cfg)
	switch {
	case err == nil,
		errors.Is(err, envdecode.ErrInvalidTarget),
		errors.Is(err, envdecode.ErrNoTargetFieldsAreSet):
		return nil
	}
	return err
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Module.ID == "" {
		errs = append(errs, "module.id is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if !validPort(c.MQTT.Broker.Port) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keepalive must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.EventTopic == "" {
		errs = append(errs, "mqtt.event_topic is required")
	}
	if c.MQTT.ResponseTopic == "" {
		errs = append(errs, "mqtt.response_topic is required")
	}
	if c.MQTT.PublishTimeout <= 0 {
		errs = append(errs, "mqtt.publish_timeout must be positive")
	}
	if c.MQTT.Reconnect.Delay < 0 {
		errs = append(errs, "mqtt.reconnect.delay must not be negative")
	}

	switch c.Queue.Backend {
	case QueueBackendMemory:
	case QueueBackendRedis:
		if c.Queue.Redis.Addr == "" {
			errs = append(errs, "queue.redis.addr is required for the redis backend")
		}
		if c.Queue.Redis.Key == "" {
			errs = append(errs, "queue.redis.key is required for the redis backend")
		}
		if c.Queue.Redis.TimeoutMS <= 0 {
			errs = append(errs, "queue.redis.timeout_ms must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("queue.backend %q must be %q or %q",
			c.Queue.Backend, QueueBackendMemory, QueueBackendRedis))
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, "queue.capacity must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.API.Enabled {
		if !validPort(c.API.Port) {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		ws := c.API.WebSocket
		if ws.MaxMessageSize <= 0 || ws.PingInterval <= 0 || ws.PongTimeout <= 0 {
			errs = append(errs, "api.websocket max_message_size, ping_interval and pong_timeout must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// ClientID returns the MQTT client identifier, falling back to the module id.
func (c *Config) ClientID() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return c.Module.ID
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
