package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
)

// Connector owns a single broker connection and everything layered on it:
// the desired subscriptions, the reconnect policy, the publish path and
// inbound dispatch.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - State transitions, subscription replay and subscribe/unsubscribe
//     calls are serialized; no two of them ever interleave.
//   - Publish calls run concurrently with each other and with inbound dispatch.
//   - The log callback is invoked while transitions hold the internal
//     lock, so it must not call Connect, Disconnect, Subscribe or Unsubscribe.
//   - Message handlers may Publish. They must not call Subscribe or
//     Unsubscribe inline: while a replay holds the internal lock, the
//     blocked handler stalls inbound delivery, and with it the SUBACKs the
//     replay is waiting for, until each times out. Start a goroutine for
//     those calls instead.
type Connector struct {
	tcfg    TransportConfig
	dial    Dialer
	backoff Backoff
	limiter *rate.Limiter

	timeouts      timeouts
	defaultQoS    byte
	inboundBuffer int

	events *emitter
	subs   *Registry

	// opMu serializes transitions, replay and registry changes that reach
	// the transport.
	opMu sync.Mutex

	// mu guards the fields below for readers that must not wait on opMu.
	mu    sync.RWMutex
	state State
	sess  *session
	link  *link

	stats counters
}

type timeouts struct {
	publish    time.Duration
	subscribe  time.Duration
	disconnect time.Duration
}

// Option configures a Connector.
type Option func(*Connector)

// WithDialer replaces the transport factory. Tests use it to inject fakes.
func WithDialer(d Dialer) Option {
	return func(c *Connector) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithLogCallback registers the initial log callback.
func WithLogCallback(cb LogCallback) Option {
	return func(c *Connector) {
		c.events.set(cb)
	}
}

// New creates a Connector in the Disconnected state. No network I/O
// happens until Connect is called.
//
// Parameters:
//   - cfg: MQTT configuration; treated as immutable from here on
//   - opts: optional dialer and log callback
//
// Returns:
//   - *Connector: ready to Connect
//   - error: wraps ErrConfiguration if cfg is invalid
func New(cfg config.MQTTConfig, opts ...Option) (*Connector, error) {
	c := &Connector{
		dial:   DefaultDialer,
		events: newEmitter(),
		subs:   NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrConfiguration, err)
		c.events.err("invalid connector configuration", "error", err)
		return nil, err
	}

	tcfg, err := buildTransportConfig(cfg)
	if err != nil {
		c.events.err("invalid connector configuration", "error", err)
		return nil, err
	}
	c.tcfg = tcfg

	c.backoff = newBackoff(cfg.Reconnect)
	c.timeouts = timeouts{
		publish:    orDefault(cfg.Timeouts.Publish, defaultPublishTimeout),
		subscribe:  orDefault(cfg.Timeouts.Subscribe, defaultSubscribeTimeout),
		disconnect: orDefault(cfg.Timeouts.Disconnect, defaultDisconnectQuiesce),
	}
	c.defaultQoS = byte(cfg.QoS)
	c.inboundBuffer = cfg.InboundBuffer
	if c.inboundBuffer == 0 {
		c.inboundBuffer = defaultInboundBuffer
	}

	if rl := cfg.RateLimit; rl.PublishesPerSecond > 0 {
		burst := rl.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rl.PublishesPerSecond), burst)
	}

	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// ClientID returns the client identifier sent to the broker, including a
// generated one when the configuration left it empty.
func (c *Connector) ClientID() string {
	return c.tcfg.ClientID
}

// BrokerURL returns the broker address this Connector dials.
func (c *Connector) BrokerURL() string {
	return c.tcfg.BrokerURL()
}

// SetLogCallback replaces the log callback. Passing nil disables events.
func (c *Connector) SetLogCallback(cb LogCallback) {
	c.events.set(cb)
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the state is Connected.
func (c *Connector) IsConnected() bool {
	return c.State() == StateConnected
}

// HealthCheck verifies the connector is connected.
//
// Returns:
//   - error: ctx error if cancelled, ErrNotConnected if not connected, nil otherwise
func (c *Connector) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if st := c.State(); st != StateConnected {
		return fmt.Errorf("%w: state is %s", ErrNotConnected, st)
	}
	return nil
}

// SubscriptionCount returns the number of desired subscriptions.
func (c *Connector) SubscriptionCount() int {
	return c.subs.Len()
}

// HasSubscription checks if a subscription exists for the given filter.
//
// Note: This checks only the exact filter string, not pattern matching.
func (c *Connector) HasSubscription(filter string) bool {
	_, ok := c.subs.Get(filter)
	return ok
}

// Subscriptions returns the desired subscriptions in insertion order.
func (c *Connector) Subscriptions() []Subscription {
	return c.subs.Snapshot()
}

// Stats is a point-in-time snapshot of connector counters.
type Stats struct {
	State           State
	Subscriptions   int
	Published       uint64
	PublishFailures uint64
	Received        uint64
	HandlerErrors   uint64
	ConnectAttempts uint64
	Connects        uint64
	Reconnects      uint64
}

type counters struct {
	published       atomic.Uint64
	publishFailures atomic.Uint64
	received        atomic.Uint64
	handlerErrors   atomic.Uint64
	connectAttempts atomic.Uint64
	connects        atomic.Uint64
	reconnects      atomic.Uint64
}

// Stats returns the current counters.
func (c *Connector) Stats() Stats {
	return Stats{
		State:           c.State(),
		Subscriptions:   c.subs.Len(),
		Published:       c.stats.published.Load(),
		PublishFailures: c.stats.publishFailures.Load(),
		Received:        c.stats.received.Load(),
		HandlerErrors:   c.stats.handlerErrors.Load(),
		ConnectAttempts: c.stats.connectAttempts.Load(),
		Connects:        c.stats.connects.Load(),
		Reconnects:      c.stats.reconnects.Load(),
	}
}

// snapshot returns the state and live link together.
func (c *Connector) snapshot() (State, *link) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.link
}

// transition moves to a new state and emits exactly one event naming the
// old and new state. Callers must hold opMu.
func (c *Connector) transition(to State, attrs ...any) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	attrs = append([]any{"from", from.String(), "to", to.String(), "client_id", c.tcfg.ClientID}, attrs...)
	level := LevelInfo
	if to == StateFailed {
		level = LevelError
	}
	c.events.emit(level, "connection state changed", attrs...)
}

// setLink installs or clears the live transport. Callers must hold opMu.
func (c *Connector) setLink(l *link) {
	c.mu.Lock()
	c.link = l
	c.mu.Unlock()
}

// setSession installs or clears the session. Callers must hold opMu.
func (c *Connector) setSession(s *session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

// bind runs op against the live link with a timeout. op's context ends
// when ctx ends, the timeout expires, or the link goes away, whichever
// comes first; the returned error says which.
func (c *Connector) bind(ctx context.Context, l *link, timeout time.Duration, op func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	err := op(opCtx)
	if err == nil {
		return nil
	}

	switch {
	case l.ctx.Err() != nil:
		return context.Cause(l.ctx)
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: no acknowledgment within %v", ErrTimeout, timeout)
	default:
		return err
	}
}
