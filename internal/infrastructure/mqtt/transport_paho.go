package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a rejected subscription.
const subackFailure = 0x80

// pahoTransport speaks MQTT 3.1.1 through eclipse/paho.mqtt.golang.
//
// Subscriptions are registered without per-topic callbacks; every message
// reaches the default publish handler and is routed by the Connector's
// Registry instead.
type pahoTransport struct {
	client pahomqtt.Client
}

func newPahoTransport(cfg TransportConfig, handlers TransportHandlers) *pahoTransport {
	opts := buildClientOptions(cfg)

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if handlers.OnMessage == nil {
			return
		}
		handlers.OnMessage(InboundMessage{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			QoS:       msg.Qos(),
			Retained:  msg.Retained(),
			Duplicate: msg.Duplicate(),
		})
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if handlers.OnConnectionLost != nil {
			handlers.OnConnectionLost(err)
		}
	})

	return &pahoTransport{client: pahomqtt.NewClient(opts)}
}

// Connect dials the broker. If ctx ends first, a late successful
// handshake is torn down so no orphaned connection remains.
func (t *pahoTransport) Connect(ctx context.Context) error {
	token := t.client.Connect()
	if err := awaitToken(ctx, token); err != nil {
		if ctx.Err() != nil {
			go func() {
				<-token.Done()
				if token.Error() == nil {
					t.client.Disconnect(0)
				}
			}()
		}
		return err
	}
	return nil
}

func (t *pahoTransport) Subscribe(ctx context.Context, filter string, qos byte) error {
	token := t.client.Subscribe(filter, qos, nil)
	if err := awaitToken(ctx, token); err != nil {
		return err
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[filter]; found && code >= subackFailure {
			return fmt.Errorf("broker rejected subscription to %q (code 0x%02x)", filter, code)
		}
	}
	return nil
}

func (t *pahoTransport) Unsubscribe(ctx context.Context, filter string) error {
	return awaitToken(ctx, t.client.Unsubscribe(filter))
}

// Publish waits on the paho token. For QoS 0 it completes once the packet
// is written; for QoS 1 and 2 once the broker handshake finishes.
func (t *pahoTransport) Publish(ctx context.Context, msg OutboundMessage) error {
	return awaitToken(ctx, t.client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload))
}

func (t *pahoTransport) Disconnect(quiesce time.Duration) {
	t.client.Disconnect(uint(quiesce.Milliseconds()))
}

// awaitToken blocks until the token completes or ctx ends.
func awaitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
