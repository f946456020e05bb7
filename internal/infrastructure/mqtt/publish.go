package mqtt

import (
	"context"
	"fmt"
)

// PublishOption adjusts a single Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	qos    byte
	retain bool
}

// WithQoS overrides the configured default QoS.
func WithQoS(qos byte) PublishOption {
	return func(o *publishOptions) { o.qos = qos }
}

// WithRetain sets the retain flag.
func WithRetain(retain bool) PublishOption {
	return func(o *publishOptions) { o.retain = retain }
}

// Publish sends a message to the specified MQTT topic.
//
// The payload is encoded with EncodePayload: []byte and string are sent
// unchanged and other values are JSON-encoded. The message is sent with
// the configured default QoS and retain=false unless overridden.
//
// Publish fails immediately with ErrNotConnected unless the state is
// Connected; nothing is queued for later. Otherwise it waits for the
// acknowledgment the QoS requires, bounded by timeouts.publish and ctx.
// A publish in flight when the connection drops or Disconnect is called
// fails rather than hanging.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Parameters:
//   - ctx: bounds the wait for acknowledgment
//   - topic: The topic to publish to (no wildcards)
//   - payload: The message value (max 1MB once encoded)
//   - opts: WithQoS, WithRetain
//
// Returns:
//   - error: nil on success; wraps ErrConfiguration, ErrNotConnected,
//     ErrTimeout or ErrPublishFailed
//
// Example:
//
//	err := connector.Publish(ctx, "example/outgoing",
//	    map[string]any{"status": "online"}, mqtt.WithQoS(1))
func (c *Connector) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error {
	po := publishOptions{qos: c.defaultQoS}
	for _, opt := range opts {
		opt(&po)
	}

	msg, err := c.prepare(topic, payload, po)
	if err != nil {
		c.stats.publishFailures.Add(1)
		c.events.err("publish rejected", "topic", topic, "error", err)
		return err
	}

	st, l := c.snapshot()
	if st != StateConnected || l == nil {
		err := fmt.Errorf("%w: cannot publish to %s while %s", ErrNotConnected, topic, st)
		c.stats.publishFailures.Add(1)
		c.events.warn("publish failed", "topic", topic, "state", st.String(), "error", err)
		return err
	}

	err = c.bind(ctx, l, c.timeouts.publish, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %w", err)
			}
		}
		return l.transport.Publish(ctx, msg)
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
		c.stats.publishFailures.Add(1)
		c.events.err("publish failed", "topic", topic, "qos", msg.QoS, "error", err)
		return err
	}

	c.stats.published.Add(1)
	if msg.QoS > 0 {
		c.events.info("publish acknowledged",
			"topic", topic,
			"qos", msg.QoS,
			"retain", msg.Retain,
			"bytes", len(msg.Payload),
		)
	} else {
		c.events.debug("message published", "topic", topic, "bytes", len(msg.Payload))
	}
	return nil
}

// PublishRetained publishes a retained message with the configured default QoS.
//
// Use for state updates where new subscribers should receive the current state.
func (c *Connector) PublishRetained(ctx context.Context, topic string, payload any) error {
	return c.Publish(ctx, topic, payload, WithRetain(true))
}

// prepare validates and encodes a message before any state check.
func (c *Connector) prepare(topic string, payload any, po publishOptions) (OutboundMessage, error) {
	if err := ValidateTopicName(topic); err != nil {
		return OutboundMessage{}, err
	}
	if po.qos > maxQoS {
		return OutboundMessage{}, fmt.Errorf("%w: got %d", ErrInvalidQoS, po.qos)
	}
	data, err := EncodePayload(payload)
	if err != nil {
		return OutboundMessage{}, err
	}
	return OutboundMessage{Topic: topic, Payload: data, QoS: po.qos, Retain: po.retain}, nil
}
