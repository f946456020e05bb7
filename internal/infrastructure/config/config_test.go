package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
mqtt:
  broker:
    host: "broker.local"
    port: 8883
    client_id: "test-client"
    keep_alive: 30s
  qos: 2
  reconnect:
    enabled: true
    initial_delay: 500ms
    max_delay: 20s
    max_attempts: 3
  timeouts:
    publish: 2s
journal:
  enabled: true
  path: "/tmp/journal.db"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.KeepAlive != 30*time.Second {
		t.Errorf("MQTT.Broker.KeepAlive = %v, want 30s", cfg.MQTT.Broker.KeepAlive)
	}
	if cfg.MQTT.QoS != 2 {
		t.Errorf("MQTT.QoS = %d, want 2", cfg.MQTT.QoS)
	}
	if cfg.MQTT.Reconnect.InitialDelay != 500*time.Millisecond {
		t.Errorf("Reconnect.InitialDelay = %v, want 500ms", cfg.MQTT.Reconnect.InitialDelay)
	}
	if cfg.MQTT.Reconnect.MaxAttempts != 3 {
		t.Errorf("Reconnect.MaxAttempts = %d, want 3", cfg.MQTT.Reconnect.MaxAttempts)
	}
	if cfg.MQTT.Timeouts.Publish != 2*time.Second {
		t.Errorf("Timeouts.Publish = %v, want 2s", cfg.MQTT.Timeouts.Publish)
	}
	// Unset keys keep their defaults.
	if cfg.MQTT.Timeouts.Connect != 10*time.Second {
		t.Errorf("Timeouts.Connect = %v, want default 10s", cfg.MQTT.Timeouts.Connect)
	}
	if cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("Journal.Path = %q, want %q", cfg.Journal.Path, "/tmp/journal.db")
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
mqtt:
  broker:
    host: ""
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty mqtt.broker.host, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return Default() }

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing host", mutate: func(c *Config) { c.MQTT.Broker.Host = "" }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.MQTT.Broker.Port = 70000 }, wantErr: true},
		{name: "keep alive disabled", mutate: func(c *Config) { c.MQTT.Broker.KeepAlive = 0 }, wantErr: false},
		{name: "keep alive at limit", mutate: func(c *Config) { c.MQTT.Broker.KeepAlive = 65535 * time.Second }, wantErr: false},
		{name: "keep alive above limit", mutate: func(c *Config) { c.MQTT.Broker.KeepAlive = 70000 * time.Second }, wantErr: true},
		{name: "keep alive below one second", mutate: func(c *Config) { c.MQTT.Broker.KeepAlive = 500 * time.Millisecond }, wantErr: true},
		{name: "negative keep alive", mutate: func(c *Config) { c.MQTT.Broker.KeepAlive = -time.Second }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "protocol 5", mutate: func(c *Config) { c.MQTT.Broker.ProtocolVersion = 5 }, wantErr: false},
		{name: "protocol 3", mutate: func(c *Config) { c.MQTT.Broker.ProtocolVersion = 3 }, wantErr: true},
		{name: "password without username", mutate: func(c *Config) { c.MQTT.Auth.Password = "secret" }, wantErr: true},
		{name: "cert without key", mutate: func(c *Config) { c.MQTT.TLS.CertFile = "client.pem" }, wantErr: true},
		{
			name: "initial delay above max",
			mutate: func(c *Config) {
				c.MQTT.Reconnect.InitialDelay = time.Minute
				c.MQTT.Reconnect.MaxDelay = time.Second
			},
			wantErr: true,
		},
		{name: "jitter above one", mutate: func(c *Config) { c.MQTT.Reconnect.Jitter = 1.5 }, wantErr: true},
		{name: "multiplier below one", mutate: func(c *Config) { c.MQTT.Reconnect.Multiplier = 0.5 }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.MQTT.Timeouts.Publish = -time.Second }, wantErr: true},
		{name: "journal without path", mutate: func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" }, wantErr: true},
		{name: "influxdb without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "b" }, wantErr: true},
		{name: "file logging without path", mutate: func(c *Config) { c.Logging.Output = "file" }, wantErr: true},
		{name: "api port invalid", mutate: func(c *Config) { c.API.Enabled = true; c.API.Port = 0 }, wantErr: true},
		{name: "api port ignored when disabled", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("MQTTCONN_MQTT_HOST", "mqtt.example.com")
	t.Setenv("MQTTCONN_MQTT_PORT", "1884")
	t.Setenv("MQTTCONN_MQTT_CLIENT_ID", "env-client")
	t.Setenv("MQTTCONN_MQTT_USERNAME", "testuser")
	t.Setenv("MQTTCONN_MQTT_PASSWORD", "testpass")
	t.Setenv("MQTTCONN_MQTT_TLS", "true")
	t.Setenv("MQTTCONN_JOURNAL_PATH", "/custom/journal.db")
	t.Setenv("MQTTCONN_INFLUXDB_TOKEN", "secret-token")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID != "env-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "env-client")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if !cfg.MQTT.TLS.Enabled {
		t.Error("MQTT.TLS.Enabled = false, want true")
	}
	if cfg.Journal.Path != "/custom/journal.db" {
		t.Errorf("Journal.Path = %q, want %q", cfg.Journal.Path, "/custom/journal.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_InvalidPort(t *testing.T) {
	cfg := Default()
	t.Setenv("MQTTCONN_MQTT_PORT", "not-a-port")

	if err := applyEnvOverrides(cfg); err == nil {
		t.Error("applyEnvOverrides() expected error for invalid port, got nil")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("Default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID != "" {
		t.Errorf("Default MQTT.Broker.ClientID = %q, want empty (generated at connect)", cfg.MQTT.Broker.ClientID)
	}
	if !cfg.MQTT.Reconnect.Enabled {
		t.Error("Default MQTT.Reconnect.Enabled = false, want true")
	}
	if cfg.Example.SubscribeTopic != "example/topic" {
		t.Errorf("Default Example.SubscribeTopic = %q, want %q", cfg.Example.SubscribeTopic, "example/topic")
	}
}

func TestMQTTConfig_BrokerAddress(t *testing.T) {
	m := DefaultMQTT()
	if got := m.BrokerAddress(); got != "localhost:1883" {
		t.Errorf("BrokerAddress() = %q, want %q", got, "localhost:1883")
	}
}

// TestLoad_ShippedConfig verifies the sample configuration loads and
// matches the built-in defaults where it repeats them.
func TestLoad_ShippedConfig(t *testing.T) {
	for _, key := range []string{
		"MQTTCONN_MQTT_HOST", "MQTTCONN_MQTT_PORT", "MQTTCONN_MQTT_CLIENT_ID",
		"MQTTCONN_MQTT_USERNAME", "MQTTCONN_MQTT_PASSWORD", "MQTTCONN_MQTT_TLS",
		"MQTTCONN_JOURNAL_PATH", "MQTTCONN_INFLUXDB_TOKEN",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if cfg.MQTT.Reconnect != def.MQTT.Reconnect {
		t.Errorf("Reconnect = %+v, want %+v", cfg.MQTT.Reconnect, def.MQTT.Reconnect)
	}
	if cfg.MQTT.Timeouts != def.MQTT.Timeouts {
		t.Errorf("Timeouts = %+v, want %+v", cfg.MQTT.Timeouts, def.MQTT.Timeouts)
	}
	if cfg.MQTT.Will.Topic != "example/status" || cfg.MQTT.Will.QoS != 1 || !cfg.MQTT.Will.Retain {
		t.Errorf("Will = %+v", cfg.MQTT.Will)
	}
	if !cfg.Journal.Enabled || cfg.InfluxDB.Enabled {
		t.Errorf("journal enabled = %v, influxdb enabled = %v", cfg.Journal.Enabled, cfg.InfluxDB.Enabled)
	}
}
