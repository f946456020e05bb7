package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// errConnectionLost is the cause attached to a link whose transport dropped.
var errConnectionLost = fmt.Errorf("%w: connection lost", ErrNotConnected)

// session spans one Connect call until Disconnect, Failed or a drop with
// reconnection disabled. It owns the inbound queue, the dispatcher and the
// goroutine establishing the transport.
type session struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	inbound chan InboundMessage
	wg      sync.WaitGroup

	// attempt is the connect or reconnect cycle in flight. Guarded by opMu.
	attempt *attempt
}

func (c *Connector) newSession() *session {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &session{
		ctx:     ctx,
		cancel:  cancel,
		inbound: make(chan InboundMessage, c.inboundBuffer),
		attempt: newAttempt(),
	}
}

// attempt is the outcome of one connect or reconnect cycle. Every Connect
// call made while the cycle runs waits on the same attempt.
type attempt struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newAttempt() *attempt {
	return &attempt{done: make(chan struct{})}
}

func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// link is one established transport. Its context ends when the transport
// drops or the session ends, which releases any operation bound to it.
type link struct {
	transport Transport
	ctx       context.Context
	cancel    context.CancelCauseFunc
	closeOnce sync.Once
}

func (l *link) close(quiesce time.Duration) {
	l.cancel(ErrDisconnected)
	l.closeOnce.Do(func() {
		if l.transport != nil {
			l.transport.Disconnect(quiesce)
		}
	})
}

// Connect establishes the broker connection.
//
// It is idempotent: when already Connected it returns nil immediately, and
// while a connect or reconnect cycle is in flight it waits for that cycle
// instead of opening a second transport. Connecting from Failed starts a
// new cycle.
//
// The cycle makes up to reconnect.max_attempts attempts (one if reconnect
// is disabled), each bounded by timeouts.connect, with exponential backoff
// between them. ctx bounds only the caller's wait; if it ends first the
// cycle continues in the background and can be stopped with Disconnect.
//
// After every successful connection all registered subscriptions are
// replayed onto the transport before Connect returns.
//
// Returns:
//   - error: nil once Connected; wraps ErrConnectionFailed when attempts are
//     exhausted; wraps ErrTimeout if ctx expires first; ErrDisconnected if
//     Disconnect interrupts the cycle
func (c *Connector) Connect(ctx context.Context) error {
	c.opMu.Lock()

	switch st := c.State(); {
	case st == StateConnected:
		c.opMu.Unlock()
		return nil
	case st.establishing() && c.sess != nil:
		a := c.sess.attempt
		c.opMu.Unlock()
		c.events.debug("connect joined in-flight attempt", "state", st.String())
		return c.await(ctx, a)
	}

	s := c.newSession()
	c.setSession(s)
	c.transition(StateConnecting, "broker", c.tcfg.BrokerURL())

	s.wg.Add(2)
	go c.dispatchLoop(s)
	go c.establish(s, s.attempt)

	a := s.attempt
	c.opMu.Unlock()

	return c.await(ctx, a)
}

func (c *Connector) await(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: connect still in progress: %w", ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	}
}

// establish runs one connect or reconnect cycle for s.
func (c *Connector) establish(s *session, a *attempt) {
	defer s.wg.Done()

	var lastErr error
	n := 0
	for c.backoff.Allows(n + 1) {
		n++
		if n > 1 {
			delay := c.backoff.Delay(n - 1)
			c.events.info("retrying connection",
				"attempt", n,
				"delay", delay,
				"error", lastErr,
			)
			timer := time.NewTimer(delay)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if s.ctx.Err() != nil {
			return
		}

		c.stats.connectAttempts.Add(1)
		l, err := c.dialAndConnect(s)
		if err == nil {
			if err = c.install(s, a, l); err == nil {
				return
			}
			l.close(0)
		}
		if s.ctx.Err() != nil {
			return
		}

		lastErr = err
		c.events.warn("connection attempt failed",
			"attempt", n,
			"broker", c.tcfg.BrokerURL(),
			"error", err,
		)
	}

	c.fail(s, a, n, lastErr)
}

// dialAndConnect creates a transport and performs the handshake, bounded
// by the connect timeout and the session.
func (c *Connector) dialAndConnect(s *session) (*link, error) {
	lctx, lcancel := context.WithCancelCause(s.ctx)
	l := &link{ctx: lctx, cancel: lcancel}

	t, err := c.dial(c.tcfg, TransportHandlers{
		OnMessage:        func(m InboundMessage) { c.enqueue(s, m) },
		OnConnectionLost: func(err error) { c.connectionLost(s, l, err) },
	})
	if err != nil {
		lcancel(err)
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	l.transport = t

	actx, acancel := context.WithTimeout(lctx, c.tcfg.ConnectTimeout)
	defer acancel()

	if err := t.Connect(actx); err != nil {
		lcancel(err)
		if s.ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no CONNACK within %v", ErrTimeout, c.tcfg.ConnectTimeout)
		}
		return nil, err
	}
	return l, nil
}

// install makes l the live link, moves to Connected and replays the
// registry. It fails if the session ended or l dropped in the meantime.
func (c *Connector) install(s *session, a *attempt, l *link) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.sess != s || s.ctx.Err() != nil {
		return ErrDisconnected
	}
	if l.ctx.Err() != nil {
		return errConnectionLost
	}

	c.setLink(l)
	c.stats.connects.Add(1)
	c.transition(StateConnected, "broker", c.tcfg.BrokerURL())
	c.replayAll(l)
	a.finish(nil)
	return nil
}

// fail ends the session after a cycle ran out of attempts.
func (c *Connector) fail(s *session, a *attempt, attempts int, lastErr error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.sess != s || s.ctx.Err() != nil {
		return
	}

	err := fmt.Errorf("%w after %d attempt(s): %w", ErrConnectionFailed, attempts, lastErr)
	c.transition(StateFailed, "attempts", attempts, "error", err)
	c.endSession(s, err)
	a.finish(err)
}

// connectionLost handles a drop reported by the transport of l.
//
// The link context is cancelled at once so operations waiting on the dead
// transport fail fast. The transition itself runs under opMu on its own
// goroutine because transports may report the loss from inside a call
// that is already holding opMu.
func (c *Connector) connectionLost(s *session, l *link, cause error) {
	l.cancel(errConnectionLost)

	go func() {
		c.opMu.Lock()
		defer c.opMu.Unlock()

		c.mu.RLock()
		current := c.sess == s && c.link == l
		c.mu.RUnlock()
		if !current || s.ctx.Err() != nil {
			return
		}

		c.setLink(nil)
		l.close(0)
		c.events.warn("connection lost", "broker", c.tcfg.BrokerURL(), "error", cause)

		if !c.backoff.Enabled {
			c.transition(StateDisconnected, "reason", "connection lost", "error", cause)
			c.endSession(s, errConnectionLost)
			return
		}

		a := newAttempt()
		s.attempt = a
		c.stats.reconnects.Add(1)
		c.transition(StateReconnecting, "error", cause)

		s.wg.Add(1)
		go c.establish(s, a)
	}()
}

// endSession detaches and cancels s. Callers must hold opMu.
func (c *Connector) endSession(s *session, cause error) {
	c.setSession(nil)
	s.cancel(cause)
}

// Disconnect closes the connection and stops all background work.
//
// It is idempotent and always ends in Disconnected: a pending backoff
// timer or connect attempt is cancelled, publishes and subscribes awaiting
// acknowledgment fail with ErrDisconnected, and the transport is closed
// with the configured quiesce period. Disconnect from Failed simply
// returns to Disconnected.
//
// Returns:
//   - error: nil, or wraps ErrTimeout if ctx ends before background
//     goroutines have exited (the state is Disconnected regardless)
func (c *Connector) Disconnect(ctx context.Context) error {
	// Cancel first so a backoff wait or handshake releases opMu quickly.
	c.mu.RLock()
	if c.sess != nil {
		c.sess.cancel(ErrDisconnected)
	}
	c.mu.RUnlock()

	c.opMu.Lock()
	s := c.sess

	switch st := c.State(); st {
	case StateDisconnected:
		c.opMu.Unlock()
		return nil
	case StateFailed:
		c.transition(StateDisconnected, "reason", "disconnect requested")
		c.opMu.Unlock()
		return nil
	}

	c.transition(StateDisconnecting)
	if l := c.link; l != nil {
		c.setLink(nil)
		l.close(c.timeouts.disconnect)
	}
	if s != nil {
		s.attempt.finish(ErrDisconnected)
		c.endSession(s, ErrDisconnected)
	}
	c.transition(StateDisconnected, "reason", "disconnect requested")
	c.opMu.Unlock()

	if s == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for background work: %w", ErrTimeout, ctx.Err())
	}
}
