package mqtt

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
)

func noopHandler(string, []byte) error { return nil }

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribe_Validation(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{name: "empty filter", filter: "", qos: 1, handler: noopHandler, wantErr: ErrInvalidTopicFilter},
		{name: "hash not last", filter: "a/#/b", qos: 1, handler: noopHandler, wantErr: ErrInvalidTopicFilter},
		{name: "partial plus", filter: "a+/b", qos: 1, handler: noopHandler, wantErr: ErrInvalidTopicFilter},
		{name: "share without filter", filter: "$share/group", qos: 1, handler: noopHandler, wantErr: ErrInvalidTopicFilter},
		{name: "invalid qos", filter: "a/b", qos: 3, handler: noopHandler, wantErr: ErrInvalidQoS},
		{name: "nil handler", filter: "a/b", qos: 1, handler: nil, wantErr: ErrNilHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBroker()
			c, rec := connectTestConnector(t, b)

			err := c.Subscribe(context.Background(), tt.filter, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("Subscribe() error = %v, want ErrConfiguration", err)
			}
			if c.SubscriptionCount() != 0 {
				t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
			}
			if len(b.subscribeLog()) != 0 {
				t.Errorf("transport subscribes = %v, want none", b.subscribeLog())
			}
			if rec.count(LevelError, "subscribe rejected") != 1 {
				t.Error("expected one error event for the rejected subscribe")
			}
		})
	}
}

func TestSubscribe_DeferredUntilConnected(t *testing.T) {
	b := newFakeBroker()
	c, _ := newTestConnector(t, b)

	if err := c.Subscribe(context.Background(), "example/topic", 1, noopHandler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("example/topic") {
		t.Error("HasSubscription() = false, want true")
	}
	if b.dialCount() != 0 {
		t.Fatal("Subscribe() must not dial")
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if qos, ok := b.latest().activeSubs()["example/topic"]; !ok || qos != 1 {
		t.Errorf("active subscription = (%d, %v), want (1, true)", qos, ok)
	}
}

func TestSubscribe_Connected(t *testing.T) {
	b := newFakeBroker()
	c, rec := connectTestConnector(t, b)

	if err := c.Subscribe(context.Background(), "example/topic", 2, noopHandler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if qos, ok := b.latest().activeSubs()["example/topic"]; !ok || qos != 2 {
		t.Errorf("active subscription = (%d, %v), want (2, true)", qos, ok)
	}
	if rec.count(LevelInfo, "subscribed") != 1 {
		t.Error("expected one subscribed event")
	}
}

func TestSubscribe_ReplacesExistingFilter(t *testing.T) {
	b := newFakeBroker()
	c, _ := connectTestConnector(t, b)
	ctx := context.Background()

	var firstCalls, secondCalls atomic.Int32
	_ = c.Subscribe(ctx, "a/b", 0, func(string, []byte) error { firstCalls.Add(1); return nil })
	_ = c.Subscribe(ctx, "a/b", 1, func(string, []byte) error { secondCalls.Add(1); return nil })

	if c.SubscriptionCount() != 1 {
		t.Fatalf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}
	sub, _ := c.subs.Get("a/b")
	if sub.QoS != 1 {
		t.Errorf("QoS = %d, want 1", sub.QoS)
	}

	b.latest().deliver("a/b", []byte("x"))
	waitFor(t, "delivery", func() bool { return secondCalls.Load() == 1 })

	if firstCalls.Load() != 0 {
		t.Errorf("replaced handler called %d times, want 0", firstCalls.Load())
	}
}

func TestSubscribe_TransportFailureKeepsEntry(t *testing.T) {
	b := newFakeBroker()
	c, rec := connectTestConnector(t, b)
	refused := errors.New("not authorized")
	b.setSubscribeErr("secret/#", refused)

	err := c.Subscribe(context.Background(), "secret/#", 1, noopHandler)
	if !errors.Is(err, ErrSubscribeFailed) || !errors.Is(err, refused) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed wrapping cause", err)
	}
	if !c.HasSubscription("secret/#") {
		t.Error("failed subscribe must keep the registry entry")
	}
	if rec.count(LevelError, "subscribe failed") != 1 {
		t.Error("expected one subscribe failed event")
	}

	// The entry is retried on the next connection.
	b.setSubscribeErr("secret/#", nil)
	b.latest().drop(io.EOF)
	waitFor(t, "replay", func() bool {
		return rec.count(LevelInfo, "subscriptions restored") == 1
	})
	if _, ok := b.latest().activeSubs()["secret/#"]; !ok {
		t.Error("entry was not replayed after reconnect")
	}
}

func TestBind_LinkLost(t *testing.T) {
	b := newFakeBroker()
	c, _ := connectTestConnector(t, b, func(cfg *config.MQTTConfig) {
		cfg.Reconnect.Enabled = false
	})

	tr := b.latest()
	_, l := c.snapshot()
	tr.drop(io.EOF)
	<-l.ctx.Done()

	// The link is gone but the state change may still be pending; an
	// operation bound to the dead link reports the loss.
	err := c.bind(context.Background(), l, c.timeouts.subscribe, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("bind() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Unsubscribe Tests
// =============================================================================

func TestUnsubscribe_NotRegistered(t *testing.T) {
	b := newFakeBroker()
	c, _ := connectTestConnector(t, b)

	if err := c.Unsubscribe(context.Background(), "never/subscribed"); err != nil {
		t.Errorf("Unsubscribe() error = %v, want nil", err)
	}
	if len(b.unsubscribeLog()) != 0 {
		t.Errorf("transport unsubscribes = %v, want none", b.unsubscribeLog())
	}
}

func TestUnsubscribe_InvalidFilter(t *testing.T) {
	c, _ := newTestConnector(t, newFakeBroker())

	if err := c.Unsubscribe(context.Background(), ""); !errors.Is(err, ErrInvalidTopicFilter) {
		t.Errorf("Unsubscribe() error = %v, want ErrInvalidTopicFilter", err)
	}
}

func TestUnsubscribe_Connected(t *testing.T) {
	b := newFakeBroker()
	c, _ := connectTestConnector(t, b)
	ctx := context.Background()

	_ = c.Subscribe(ctx, "a/+", 1, noopHandler)
	if err := c.Unsubscribe(ctx, "a/+"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription("a/+") {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
	if got := b.unsubscribeLog(); !reflect.DeepEqual(got, []string{"a/+"}) {
		t.Errorf("transport unsubscribes = %v, want [a/+]", got)
	}
	if _, ok := b.latest().activeSubs()["a/+"]; ok {
		t.Error("filter still active on transport")
	}
}

func TestUnsubscribe_WhileDisconnected(t *testing.T) {
	b := newFakeBroker()
	c, _ := newTestConnector(t, b)
	ctx := context.Background()

	_ = c.Subscribe(ctx, "a/b", 1, noopHandler)
	if err := c.Unsubscribe(ctx, "a/b"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(b.subscribeLog()) != 0 {
		t.Errorf("removed filter was replayed: %v", b.subscribeLog())
	}
}

// =============================================================================
// Registry / Replay Properties
// =============================================================================

// The registry's final desired set equals the net effect of the calls,
// whatever the connection state was at each call.
func TestSubscriptions_NetEffect(t *testing.T) {
	filters := []string{"a", "a/+", "a/#", "b/c", "$share/g/d/#", "+/x"}
	r := rand.New(rand.NewSource(7))

	b := newFakeBroker()
	c, _ := newTestConnector(t, b)
	ctx := context.Background()
	want := make(map[string]bool)

	for i := 0; i < 200; i++ {
		switch r.Intn(10) {
		case 0:
			if err := c.Connect(ctx); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
		case 1:
			if err := c.Disconnect(ctx); err != nil {
				t.Fatalf("Disconnect() error = %v", err)
			}
		default:
			f := filters[r.Intn(len(filters))]
			if r.Intn(2) == 0 {
				if err := c.Subscribe(ctx, f, byte(r.Intn(3)), noopHandler); err != nil {
					t.Fatalf("Subscribe(%s) error = %v", f, err)
				}
				want[f] = true
			} else {
				if err := c.Unsubscribe(ctx, f); err != nil {
					t.Fatalf("Unsubscribe(%s) error = %v", f, err)
				}
				delete(want, f)
			}
		}
	}

	var got, wantList []string
	for _, s := range c.Subscriptions() {
		got = append(got, s.Filter)
	}
	for f := range want {
		wantList = append(wantList, f)
	}
	sort.Strings(got)
	sort.Strings(wantList)
	if !reflect.DeepEqual(got, wantList) {
		t.Errorf("desired set = %v, want %v", got, wantList)
	}

	// Replay completeness: after a fresh connection the transport carries
	// exactly the desired set.
	_ = c.Disconnect(ctx)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	var active []string
	for f := range b.latest().activeSubs() {
		active = append(active, f)
	}
	sort.Strings(active)
	if !reflect.DeepEqual(active, wantList) {
		t.Errorf("active after replay = %v, want %v", active, wantList)
	}
}

func TestReplay_ToleratesIndividualFailures(t *testing.T) {
	b := newFakeBroker()
	c, rec := newTestConnector(t, b)
	ctx := context.Background()

	for _, f := range []string{"one", "two", "three"} {
		_ = c.Subscribe(ctx, f, 1, noopHandler)
	}
	b.setSubscribeErr("two", errors.New("quota exceeded"))

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if got := b.latest().order(); !reflect.DeepEqual(got, []string{"one", "two", "three"}) {
		t.Errorf("replay order = %v, want [one two three]", got)
	}
	active := b.latest().activeSubs()
	if _, ok := active["three"]; !ok {
		t.Error("failure of one filter stopped the replay batch")
	}
	if !c.HasSubscription("two") {
		t.Error("replay failure removed the registry entry")
	}
	if rec.count(LevelError, "subscription replay failed") != 1 {
		t.Error("expected one replay failure event")
	}
	ev, ok := rec.find("subscriptions restored")
	if !ok || ev.Level != LevelWarning || ev.Attr("failed") != 1 {
		t.Errorf("restored event = %+v, want warning with failed=1", ev)
	}
}
