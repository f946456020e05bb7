package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for SUBACK/UNSUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = time.Second

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultInboundBuffer is the inbound queue depth per session.
	defaultInboundBuffer = 256

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// protocolV311 and protocolV5 are the MQTT protocol levels.
	protocolV311 = 4
	protocolV5   = 5

	// clientIDPrefix prefixes generated client identifiers.
	clientIDPrefix = "mqtt-connector-"

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildTransportConfig resolves the connector configuration into the
// values a Dialer needs. Certificate files are read here so that a bad
// path is reported as ErrConfiguration before any network I/O.
func buildTransportConfig(cfg config.MQTTConfig) (TransportConfig, error) {
	tc := TransportConfig{
		Host:            cfg.Broker.Host,
		Port:            cfg.Broker.Port,
		ClientID:        cfg.Broker.ClientID,
		Username:        cfg.Auth.Username,
		Password:        cfg.Auth.Password,
		KeepAlive:       cfg.Broker.KeepAlive,
		CleanSession:    cfg.Broker.CleanSession,
		ConnectTimeout:  cfg.Timeouts.Connect,
		ProtocolVersion: cfg.Broker.ProtocolVersion,
	}

	if tc.ClientID == "" {
		tc.ClientID = generateClientID()
	}
	if tc.KeepAlive == 0 {
		tc.KeepAlive = defaultKeepAlive
	}
	if tc.ConnectTimeout == 0 {
		tc.ConnectTimeout = defaultConnectTimeout
	}
	if tc.ProtocolVersion == 0 {
		tc.ProtocolVersion = protocolV311
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return TransportConfig{}, err
		}
		tc.TLS = tlsConfig
	}

	if cfg.Will.Topic != "" {
		if err := ValidateTopicName(cfg.Will.Topic); err != nil {
			return TransportConfig{}, fmt.Errorf("will: %w", err)
		}
		tc.Will = &Will{
			Topic:   cfg.Will.Topic,
			Payload: []byte(cfg.Will.Payload),
			QoS:     byte(cfg.Will.QoS),
			Retain:  cfg.Will.Retain,
		}
	}

	return tc, nil
}

// generateClientID returns a unique client identifier.
func generateClientID() string {
	return clientIDPrefix + uuid.NewString()
}

// buildTLSConfig creates the TLS configuration for the broker connection.
//
// Returns:
//   - *tls.Config: TLS 1.2+ configuration with optional CA pool and client certificate
//   - error: wraps ErrConfiguration if a certificate cannot be loaded
func buildTLSConfig(cfg config.MQTTTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tlsMinVersion,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for lab brokers with self-signed certificates
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrConfiguration, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrConfiguration, cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrConfiguration, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// buildClientOptions creates paho MQTT options for a single connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Clean session mode and protocol version
//   - TLS configuration (if enabled)
//   - Last Will and Testament (if configured)
//
// Paho's own reconnect logic is switched off: the Connector's state machine
// owns reconnection so that subscription replay and state events stay in
// one place.
func buildClientOptions(cfg TransportConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(cfg.CleanSession)
	opts.SetProtocolVersion(uint(protocolV311))

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(cfg.KeepAlive)

	// Deliver messages sequentially in broker order.
	opts.SetOrderMatters(true)

	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}

	if cfg.Will != nil {
		opts.SetBinaryWill(cfg.Will.Topic, cfg.Will.Payload, cfg.Will.QoS, cfg.Will.Retain)
	}

	return opts
}
