package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// reasonFailure is the first MQTT 5 reason code that signals failure.
const reasonFailure = 0x80

// v5Transport speaks MQTT 5 through eclipse/paho.golang.
//
// The low-level paho client is used rather than autopaho: reconnection,
// backoff and subscription replay belong to the Connector.
type v5Transport struct {
	cfg      TransportConfig
	handlers TransportHandlers

	client *paho.Client

	// closed is set once Disconnect runs or the loss has been reported,
	// so OnConnectionLost fires at most once.
	closed atomic.Bool
}

func newV5Transport(cfg TransportConfig, handlers TransportHandlers) *v5Transport {
	return &v5Transport{cfg: cfg, handlers: handlers}
}

func (t *v5Transport) Connect(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	t.client = paho.NewClient(paho.ClientConfig{
		ClientID: t.cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if t.handlers.OnMessage != nil {
					t.handlers.OnMessage(InboundMessage{
						Topic:    pr.Packet.Topic,
						Payload:  pr.Packet.Payload,
						QoS:      pr.Packet.QoS,
						Retained: pr.Packet.Retain,
					})
				}
				return true, nil
			},
		},
		OnClientError: func(err error) {
			t.lost(err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			t.lost(fmt.Errorf("server sent DISCONNECT (reason 0x%02x)", d.ReasonCode))
		},
	})

	cp := &paho.Connect{
		ClientID:   t.cfg.ClientID,
		KeepAlive:  uint16(t.cfg.KeepAlive / time.Second),
		CleanStart: t.cfg.CleanSession,
	}
	if t.cfg.Username != "" {
		cp.Username = t.cfg.Username
		cp.UsernameFlag = true
	}
	if t.cfg.Password != "" {
		cp.Password = []byte(t.cfg.Password)
		cp.PasswordFlag = true
	}
	if w := t.cfg.Will; w != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   w.Topic,
			Payload: w.Payload,
			QoS:     w.QoS,
			Retain:  w.Retain,
		}
	}

	ca, err := t.client.Connect(ctx, cp)
	if err != nil {
		t.closed.Store(true)
		_ = conn.Close()
		return err
	}
	if ca != nil && ca.ReasonCode >= reasonFailure {
		t.closed.Store(true)
		_ = conn.Close()
		return fmt.Errorf("broker refused connection (reason 0x%02x)", ca.ReasonCode)
	}
	return nil
}

// dial opens the TCP or TLS connection, bounded by ctx.
func (t *v5Transport) dial(ctx context.Context) (net.Conn, error) {
	if t.cfg.TLS != nil {
		d := &tls.Dialer{Config: t.cfg.TLS}
		return d.DialContext(ctx, "tcp", t.cfg.Address())
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", t.cfg.Address())
}

func (t *v5Transport) Subscribe(ctx context.Context, filter string, qos byte) error {
	if t.client == nil {
		return errors.New("transport not connected")
	}
	sa, err := t.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: qos}},
	})
	if err != nil {
		return err
	}
	if sa != nil {
		for _, code := range sa.Reasons {
			if code >= reasonFailure {
				return fmt.Errorf("broker rejected subscription to %q (reason 0x%02x)", filter, code)
			}
		}
	}
	return nil
}

func (t *v5Transport) Unsubscribe(ctx context.Context, filter string) error {
	if t.client == nil {
		return errors.New("transport not connected")
	}
	_, err := t.client.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	return err
}

func (t *v5Transport) Publish(ctx context.Context, msg OutboundMessage) error {
	if t.client == nil {
		return errors.New("transport not connected")
	}
	pr, err := t.client.Publish(ctx, &paho.Publish{
		Topic:   msg.Topic,
		Payload: msg.Payload,
		QoS:     msg.QoS,
		Retain:  msg.Retain,
	})
	if err != nil {
		return err
	}
	if pr != nil && pr.ReasonCode >= reasonFailure {
		return fmt.Errorf("broker rejected publish to %q (reason 0x%02x)", msg.Topic, pr.ReasonCode)
	}
	return nil
}

// Disconnect sends DISCONNECT. The paho client closes the network
// connection itself; quiesce is not used by MQTT 5.
func (t *v5Transport) Disconnect(_ time.Duration) {
	if !t.closed.CompareAndSwap(false, true) || t.client == nil {
		return
	}
	_ = t.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (t *v5Transport) lost(err error) {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	if t.handlers.OnConnectionLost != nil {
		t.handlers.OnConnectionLost(err)
	}
}
