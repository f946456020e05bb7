package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxKeepAlive is the largest keep-alive the CONNECT packet can carry.
const maxKeepAlive = 65535 * time.Second

// Config is the root configuration structure for the MQTT connector.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Journal   JournalConfig   `yaml:"journal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Example   ExampleConfig   `yaml:"example"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// The connector treats this value as immutable once it has been handed to
// mqtt.New.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	TLS       MQTTTLSConfig       `yaml:"tls"`
	Will      MQTTWillConfig      `yaml:"will"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Timeouts  MQTTTimeoutConfig   `yaml:"timeouts"`
	RateLimit MQTTRateLimitConfig `yaml:"rate_limit"`

	// InboundBuffer is the number of received messages queued for
	// dispatch before the transport is back-pressured.
	InboundBuffer int `yaml:"inbound_buffer"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`

	// ProtocolVersion selects the wire protocol: 4 (MQTT 3.1.1) or 5.
	ProtocolVersion int           `yaml:"protocol_version"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
	CleanSession    bool          `yaml:"clean_session"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig contains TLS settings for the broker connection.
type MQTTTLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// MQTTWillConfig contains the optional Last Will and Testament message.
// An empty topic disables the will.
type MQTTWillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// MQTTReconnectConfig contains the reconnection policy.
type MQTTReconnectConfig struct {
	// Enabled turns on retries for the initial connect and automatic
	// reconnection after a connection drop.
	Enabled      bool          `yaml:"enabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`

	// Jitter is the fraction (0..1) of each delay that is randomised.
	Jitter float64 `yaml:"jitter"`

	// MaxAttempts caps connection attempts per connect or reconnect cycle.
	// 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// MQTTTimeoutConfig bounds the waits of individual operations.
type MQTTTimeoutConfig struct {
	Connect    time.Duration `yaml:"connect"`
	Publish    time.Duration `yaml:"publish"`
	Subscribe  time.Duration `yaml:"subscribe"`
	Disconnect time.Duration `yaml:"disconnect"`
}

// MQTTRateLimitConfig limits outbound publishes. Zero disables limiting.
type MQTTRateLimitConfig struct {
	PublishesPerSecond float64 `yaml:"publishes_per_second"`
	Burst              int     `yaml:"burst"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used when LoggingConfig.Output is "file".
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// JournalConfig contains settings for the SQLite event journal.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval int           `yaml:"flush_interval"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the live event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// ExampleConfig holds the topics used by the example command.
type ExampleConfig struct {
	SubscribeTopic string `yaml:"subscribe_topic"`
	PublishTopic   string `yaml:"publish_topic"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTCONN_SECTION_KEY
// For example: MQTTCONN_MQTT_HOST, MQTTCONN_JOURNAL_PATH
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		MQTT: DefaultMQTT(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Journal: JournalConfig{
			Path:        "./data/journal.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 30 * time.Second,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Example: ExampleConfig{
			SubscribeTopic: "example/topic",
			PublishTopic:   "example/outgoing",
		},
	}
}

// DefaultMQTT returns the default MQTT section.
func DefaultMQTT() MQTTConfig {
	return MQTTConfig{
		Broker: MQTTBrokerConfig{
			Host:            "localhost",
			Port:            1883,
			ProtocolVersion: 4,
			KeepAlive:       60 * time.Second,
			CleanSession:    true,
		},
		QoS: 1,
		Reconnect: MQTTReconnectConfig{
			Enabled:      true,
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2,
			Jitter:       0.2,
			MaxAttempts:  10,
		},
		Timeouts: MQTTTimeoutConfig{
			Connect:    10 * time.Second,
			Publish:    5 * time.Second,
			Subscribe:  5 * time.Second,
			Disconnect: time.Second,
		},
		InboundBuffer: 256,
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTCONN_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("MQTTCONN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTTCONN_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MQTTCONN_MQTT_PORT %q: %w", v, err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("MQTTCONN_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("MQTTCONN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTTCONN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MQTTCONN_MQTT_TLS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MQTTCONN_MQTT_TLS %q: %w", v, err)
		}
		cfg.MQTT.TLS.Enabled = enabled
	}

	// Journal
	if v := os.Getenv("MQTTCONN_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTCONN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if err := c.MQTT.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Validate checks the MQTT section on its own. The connector calls this
// before any network I/O.
func (m MQTTConfig) Validate() error {
	var errs []string

	if m.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if m.Broker.Port < 1 || m.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if m.Broker.ProtocolVersion != 0 && m.Broker.ProtocolVersion != 4 && m.Broker.ProtocolVersion != 5 {
		errs = append(errs, "mqtt.broker.protocol_version must be 4 or 5")
	}
	if ka := m.Broker.KeepAlive; ka != 0 && (ka < time.Second || ka > maxKeepAlive) {
		errs = append(errs, "mqtt.broker.keep_alive must be 0 or between 1s and 65535s")
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if m.Will.Topic != "" && (m.Will.QoS < 0 || m.Will.QoS > 2) {
		errs = append(errs, "mqtt.will.qos must be 0, 1, or 2")
	}
	if m.Auth.Password != "" && m.Auth.Username == "" {
		errs = append(errs, "mqtt.auth.password requires mqtt.auth.username")
	}
	if (m.TLS.CertFile == "") != (m.TLS.KeyFile == "") {
		errs = append(errs, "mqtt.tls.cert_file and mqtt.tls.key_file must be set together")
	}

	r := m.Reconnect
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		errs = append(errs, "mqtt.reconnect delays must not be negative")
	}
	if r.MaxDelay > 0 && r.InitialDelay > r.MaxDelay {
		errs = append(errs, "mqtt.reconnect.initial_delay must not exceed max_delay")
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		errs = append(errs, "mqtt.reconnect.multiplier must be at least 1")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		errs = append(errs, "mqtt.reconnect.jitter must be between 0 and 1")
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative")
	}

	t := m.Timeouts
	if t.Connect < 0 || t.Publish < 0 || t.Subscribe < 0 || t.Disconnect < 0 {
		errs = append(errs, "mqtt.timeouts must not be negative")
	}

	if m.RateLimit.PublishesPerSecond < 0 || m.RateLimit.Burst < 0 {
		errs = append(errs, "mqtt.rate_limit values must not be negative")
	}
	if m.InboundBuffer < 0 {
		errs = append(errs, "mqtt.inbound_buffer must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// BrokerAddress returns host:port for log output.
func (m MQTTConfig) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", m.Broker.Host, m.Broker.Port)
}
