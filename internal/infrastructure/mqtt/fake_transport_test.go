package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
)

var errRefused = errors.New("connection refused")

// fakeBroker is a scriptable in-memory broker. Every dial creates a
// fakeTransport attached to it.
type fakeBroker struct {
	mu sync.Mutex

	// connectErrs is consumed one entry per Connect; nil entries succeed.
	connectErrs []error
	// failAll fails every Connect once connectErrs is exhausted.
	failAll error
	// connectGate, when non-nil, holds Connect until closed or ctx ends.
	connectGate chan struct{}

	subscribeErrs map[string]error
	publishErr    error
	// publishHold makes Publish wait for its context.
	publishHold bool

	dials        int
	transports   []*fakeTransport
	subscribes   []string
	unsubscribes []string
	published    []OutboundMessage
	holding      int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subscribeErrs: make(map[string]error)}
}

func (b *fakeBroker) dialer() Dialer {
	return func(_ TransportConfig, h TransportHandlers) (Transport, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dials++
		t := &fakeTransport{broker: b, handlers: h, subs: make(map[string]byte)}
		b.transports = append(b.transports, t)
		return t, nil
	}
}

func (b *fakeBroker) setFailAll(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAll = err
}

func (b *fakeBroker) setSubscribeErr(filter string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.subscribeErrs, filter)
		return
	}
	b.subscribeErrs[filter] = err
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) holdingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.holding
}

func (b *fakeBroker) publishedMessages() []OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]OutboundMessage(nil), b.published...)
}

func (b *fakeBroker) subscribeLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscribes...)
}

func (b *fakeBroker) unsubscribeLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.unsubscribes...)
}

// latest returns the most recently dialed transport.
func (b *fakeBroker) latest() *fakeTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.transports) == 0 {
		return nil
	}
	return b.transports[len(b.transports)-1]
}

type fakeTransport struct {
	broker   *fakeBroker
	handlers TransportHandlers

	mu             sync.Mutex
	connected      bool
	disconnected   bool
	subs           map[string]byte
	subscribeOrder []string
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	b := t.broker
	b.mu.Lock()
	var err error
	if len(b.connectErrs) > 0 {
		err = b.connectErrs[0]
		b.connectErrs = b.connectErrs[1:]
	} else {
		err = b.failAll
	}
	gate := b.connectGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Subscribe(_ context.Context, filter string, qos byte) error {
	b := t.broker
	b.mu.Lock()
	b.subscribes = append(b.subscribes, filter)
	err := b.subscribeErrs[filter]
	b.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribeOrder = append(t.subscribeOrder, filter)
	if err != nil {
		return err
	}
	t.subs[filter] = qos
	return nil
}

func (t *fakeTransport) Unsubscribe(_ context.Context, filter string) error {
	b := t.broker
	b.mu.Lock()
	b.unsubscribes = append(b.unsubscribes, filter)
	b.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, filter)
	return nil
}

func (t *fakeTransport) Publish(ctx context.Context, msg OutboundMessage) error {
	b := t.broker
	b.mu.Lock()
	hold, err := b.publishHold, b.publishErr
	if hold {
		b.holding++
	}
	b.mu.Unlock()

	if hold {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.published = append(b.published, msg)
	b.mu.Unlock()
	return nil
}

func (t *fakeTransport) Disconnect(time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.disconnected = true
}

// drop simulates a network failure on an established connection.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.handlers.OnConnectionLost(err)
}

// deliver simulates an inbound PUBLISH.
func (t *fakeTransport) deliver(topic string, payload []byte) {
	t.handlers.OnMessage(InboundMessage{Topic: topic, Payload: payload, QoS: 1})
}

func (t *fakeTransport) activeSubs() map[string]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]byte, len(t.subs))
	for k, v := range t.subs {
		out[k] = v
	}
	return out
}

func (t *fakeTransport) order() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.subscribeOrder...)
}

func (t *fakeTransport) isDisconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnected
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) callback() LogCallback {
	return func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// transitions returns "from->to" for every state change event, in order.
func (r *eventRecorder) transitions() []string {
	var out []string
	for _, ev := range r.all() {
		if ev.Message == "connection state changed" {
			out = append(out, ev.Attr("from").(string)+"->"+ev.Attr("to").(string))
		}
	}
	return out
}

func (r *eventRecorder) count(level Level, msg string) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Level == level && ev.Message == msg {
			n++
		}
	}
	return n
}

func (r *eventRecorder) find(msg string) (Event, bool) {
	for _, ev := range r.all() {
		if ev.Message == msg {
			return ev, true
		}
	}
	return Event{}, false
}

// testConfig returns an MQTT configuration with short delays suitable
// for the in-memory broker.
func testConfig() config.MQTTConfig {
	cfg := config.DefaultMQTT()
	cfg.Broker.ClientID = "connector-test"
	cfg.Reconnect = config.MQTTReconnectConfig{
		Enabled:      true,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  3,
	}
	cfg.Timeouts = config.MQTTTimeoutConfig{
		Connect:    time.Second,
		Publish:    time.Second,
		Subscribe:  time.Second,
		Disconnect: 10 * time.Millisecond,
	}
	return cfg
}

// newTestConnector builds a Connector wired to b and records its events.
func newTestConnector(t *testing.T, b *fakeBroker, mutate ...func(*config.MQTTConfig)) (*Connector, *eventRecorder) {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	rec := &eventRecorder{}
	c, err := New(cfg, WithDialer(b.dialer()), WithLogCallback(rec.callback()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Disconnect(ctx)
	})
	return c, rec
}

// connectTestConnector is newTestConnector followed by a successful Connect.
func connectTestConnector(t *testing.T, b *fakeBroker, mutate ...func(*config.MQTTConfig)) (*Connector, *eventRecorder) {
	t.Helper()
	c, rec := newTestConnector(t, b, mutate...)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c, rec
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
