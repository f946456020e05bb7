// Package mqtt provides a client-side MQTT connection manager.
//
// This package manages:
//   - A single broker connection with a connect/reconnect/disconnect state machine
//   - The set of desired subscriptions, replayed after every (re)connect
//   - Message publishing with QoS acknowledgment and timeouts
//   - Ordered dispatch of inbound messages to registered handlers
//   - Structured diagnostic events delivered to one log callback
//
// # Architecture
//
// A Connector composes a Registry (desired subscriptions), a Transport
// (one broker connection, recreated for every attempt) and an event
// emitter. The Transport is chosen by protocol version:
//
//	Connector → Transport (paho.mqtt.golang, MQTT 3.1.1)
//	          → Transport (paho.golang, MQTT 5)
//
// Paho's own reconnect machinery is disabled; the Connector owns it so
// that every transition is visible and subscription replay happens exactly
// once per new connection.
//
// # State Machine
//
//	Disconnected --Connect--> Connecting --ok--> Connected
//	Connecting --attempts exhausted--> Failed
//	Connected --drop--> Reconnecting (reconnect enabled) | Disconnected
//	Reconnecting --ok--> Connected | --attempts exhausted--> Failed
//	any --Disconnect--> Disconnecting --> Disconnected
//
// Each transition emits one "connection state changed" event with the
// old and new state.
//
// # Errors
//
// Every returned error wraps one of ErrConfiguration, ErrConnectionFailed,
// ErrTimeout or ErrNotConnected, and is also emitted as an event.
//
// # Security Considerations
//
//   - TLS is enabled with mqtt.tls.enabled; CA and client certificates are
//     loaded when the Connector is created
//   - Credentials are validated against broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	connector, err := mqtt.New(cfg.MQTT, mqtt.WithLogCallback(mqtt.SlogCallback(logger)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := connector.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer connector.Disconnect(context.Background())
//
//	err = connector.Subscribe(ctx, "example/topic", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	err = connector.Publish(ctx, "example/outgoing", map[string]any{"status": "online"})
//
// Handlers run on the Connector's dispatcher goroutine. A handler may
// Publish, but calling Disconnect from a handler waits for the handler
// itself and only returns when its ctx expires.
package mqtt
