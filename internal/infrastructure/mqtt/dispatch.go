package mqtt

// enqueue hands an inbound message to the session's dispatcher. It blocks
// while the queue is full, which back-pressures the transport, and drops
// the message once the session has ended.
func (c *Connector) enqueue(s *session, m InboundMessage) {
	select {
	case s.inbound <- m:
	case <-s.ctx.Done():
	}
}

// dispatchLoop delivers queued messages one at a time until the session ends.
func (c *Connector) dispatchLoop(s *session) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.inbound:
			c.dispatch(m)
		}
	}
}

// dispatch invokes every handler whose filter matches the message topic.
func (c *Connector) dispatch(m InboundMessage) {
	c.stats.received.Add(1)

	subs := c.subs.Match(m.Topic)
	if len(subs) == 0 {
		c.events.debug("message without matching subscription", "topic", m.Topic)
		return
	}

	for _, sub := range subs {
		c.invoke(sub, m)
	}
}

// invoke calls one handler, containing its errors and panics.
func (c *Connector) invoke(sub Subscription, m InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.handlerErrors.Add(1)
			c.events.err("MQTT handler panic recovered",
				"filter", sub.Filter,
				"topic", m.Topic,
				"panic", r,
			)
		}
	}()

	if err := sub.Handler(m.Topic, m.Payload); err != nil {
		c.stats.handlerErrors.Add(1)
		c.events.err("MQTT handler returned error",
			"filter", sub.Filter,
			"topic", m.Topic,
			"error", err,
		)
	}
}
