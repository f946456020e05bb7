package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"
)

//go:generate mockgen -source=transport.go -destination=mock_transport_test.go -package=mqtt

// Transport is one broker connection as seen by the Connector.
//
// A Transport is created per connection attempt by a Dialer and is never
// reused after Disconnect or a reported connection loss. Blocking methods
// must return when ctx is done.
//
// Implementations are provided for MQTT 3.1.1 (eclipse/paho.mqtt.golang)
// and MQTT 5 (eclipse/paho.golang). Tests substitute fakes and mocks.
type Transport interface {
	// Connect performs the network dial and CONNECT/CONNACK handshake.
	Connect(ctx context.Context) error

	// Subscribe issues SUBSCRIBE for a single filter and waits for SUBACK.
	Subscribe(ctx context.Context, filter string, qos byte) error

	// Unsubscribe issues UNSUBSCRIBE for a single filter and waits for UNSUBACK.
	Unsubscribe(ctx context.Context, filter string) error

	// Publish sends msg and waits for the acknowledgment its QoS requires.
	Publish(ctx context.Context, msg OutboundMessage) error

	// Disconnect closes the connection, allowing quiesce for in-flight work.
	Disconnect(quiesce time.Duration)
}

// TransportHandlers are the callbacks a Transport uses to report inbound
// traffic. The Connector supplies them when dialing.
type TransportHandlers struct {
	// OnMessage is called for every PUBLISH received from the broker, in
	// broker order. It may block to apply back-pressure.
	OnMessage func(InboundMessage)

	// OnConnectionLost is called at most once when an established
	// connection drops without Disconnect having been called.
	OnConnectionLost func(error)
}

// Dialer creates an unconnected Transport.
type Dialer func(cfg TransportConfig, handlers TransportHandlers) (Transport, error)

// TransportConfig is the resolved, immutable connection configuration
// handed to a Dialer.
type TransportConfig struct {
	Host            string
	Port            int
	ClientID        string
	Username        string
	Password        string
	TLS             *tls.Config
	KeepAlive       time.Duration
	CleanSession    bool
	ConnectTimeout  time.Duration
	ProtocolVersion int
	Will            *Will
}

// BrokerURL returns the broker address as a tcp:// or ssl:// URL.
func (c TransportConfig) BrokerURL() string {
	scheme := "tcp"
	if c.TLS != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Address returns host:port.
func (c TransportConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Will is the Last Will and Testament message registered at CONNECT.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// OutboundMessage is a message being published.
type OutboundMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// InboundMessage is a message delivered by the broker.
type InboundMessage struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
}

// DefaultDialer selects the transport implementation by protocol version:
// 5 uses eclipse/paho.golang, anything else eclipse/paho.mqtt.golang.
func DefaultDialer(cfg TransportConfig, handlers TransportHandlers) (Transport, error) {
	if cfg.ProtocolVersion == protocolV5 {
		return newV5Transport(cfg, handlers), nil
	}
	return newPahoTransport(cfg, handlers), nil
}
