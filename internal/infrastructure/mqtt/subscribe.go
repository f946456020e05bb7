package mqtt

import (
	"context"
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic filter.
//
// Filters can include MQTT wildcards:
//   - + (single-level): "sensors/+/temperature" matches any one sensor
//   - # (multi-level): "sensors/#" matches everything below sensors
//
// The subscription is recorded before anything is sent, and it stays
// recorded even if the broker rejects it, so it is retried on the next
// (re)connect. Subscribing an existing filter replaces its handler and QoS.
//
// When Connected, Subscribe waits for the broker's SUBACK. Otherwise it
// returns nil at once and the subscription is sent when the connection
// is established.
//
// Handlers run on a single dispatcher goroutine in broker order and should
// not block for extended periods. A handler that needs to change
// subscriptions must do so from a separate goroutine.
//
// Parameters:
//   - ctx: bounds the wait for SUBACK
//   - filter: the topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: wraps ErrConfiguration for a bad filter, QoS or nil handler;
//     wraps ErrSubscribeFailed if the broker rejects or the wait fails
//
// Example:
//
//	err := connector.Subscribe(ctx, "example/topic", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
func (c *Connector) Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error {
	if err := ValidateTopicFilter(filter); err != nil {
		c.events.err("subscribe rejected", "filter", filter, "error", err)
		return err
	}
	if qos > maxQoS {
		err := fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
		c.events.err("subscribe rejected", "filter", filter, "error", err)
		return err
	}
	if handler == nil {
		c.events.err("subscribe rejected", "filter", filter, "error", ErrNilHandler)
		return ErrNilHandler
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	replaced := c.subs.Put(Subscription{Filter: filter, QoS: qos, Handler: handler})

	st, l := c.snapshot()
	if st != StateConnected || l == nil {
		c.events.debug("subscription deferred until connected",
			"filter", filter,
			"qos", qos,
			"state", st.String(),
		)
		return nil
	}

	err := c.bind(ctx, l, c.timeouts.subscribe, func(ctx context.Context) error {
		return l.transport.Subscribe(ctx, filter, qos)
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
		c.events.err("subscribe failed", "filter", filter, "qos", qos, "error", err)
		return err
	}

	c.events.info("subscribed", "filter", filter, "qos", qos, "replaced", replaced)
	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for a filter.
//
// The registry entry is removed first, so the handler is no longer called
// and the filter is not replayed even if the UNSUBSCRIBE request fails.
// Unsubscribing a filter that was never registered is a no-op.
//
// Parameters:
//   - ctx: bounds the wait for UNSUBACK
//   - filter: The exact filter that was subscribed to
//
// Returns:
//   - error: wraps ErrInvalidTopicFilter or ErrUnsubscribeFailed
func (c *Connector) Unsubscribe(ctx context.Context, filter string) error {
	if err := ValidateTopicFilter(filter); err != nil {
		c.events.err("unsubscribe rejected", "filter", filter, "error", err)
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.subs.Remove(filter) {
		c.events.debug("unsubscribe ignored, filter not registered", "filter", filter)
		return nil
	}

	st, l := c.snapshot()
	if st != StateConnected || l == nil {
		c.events.debug("subscription removed while not connected", "filter", filter, "state", st.String())
		return nil
	}

	err := c.bind(ctx, l, c.timeouts.subscribe, func(ctx context.Context) error {
		return l.transport.Unsubscribe(ctx, filter)
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, filter, err)
		c.events.err("unsubscribe failed", "filter", filter, "error", err)
		return err
	}

	c.events.info("unsubscribed", "filter", filter)
	return nil
}

// replayAll re-issues every registered subscription on a fresh link, in
// insertion order. Individual failures are logged and do not stop the
// batch unless the link itself goes away. Callers must hold opMu.
func (c *Connector) replayAll(l *link) {
	subs := c.subs.Snapshot()
	if len(subs) == 0 {
		return
	}

	failed := 0
	for i, sub := range subs {
		err := c.bind(context.Background(), l, c.timeouts.subscribe, func(ctx context.Context) error {
			return l.transport.Subscribe(ctx, sub.Filter, sub.QoS)
		})
		if err == nil {
			continue
		}

		failed++
		c.events.err("subscription replay failed", "filter", sub.Filter, "qos", sub.QoS, "error", err)
		if l.ctx.Err() != nil {
			failed += len(subs) - i - 1
			break
		}
	}

	level := LevelInfo
	if failed > 0 {
		level = LevelWarning
	}
	c.events.emit(level, "subscriptions restored",
		"total", len(subs),
		"failed", failed,
	)
}
