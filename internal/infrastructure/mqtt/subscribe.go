package mqtt

import (
	"fmt"
)

// Subscribe subscribes to a single topic filter. Messages are delivered
// to the handler set with SetMessageHandler.
//
// Subscriptions are automatically restored if the connection is lost and
// reconnected (tracked internally).
func (c *Client) Subscribe(topic string, qos byte) error {
	return c.SubscribeMultiple(map[string]byte{topic: qos})
}

// SubscribeMultiple subscribes to several filters with one SUBSCRIBE packet.
// On failure none of the filters are tracked.
//
// No per-filter route is registered with paho: every inbound PUBLISH goes
// to the connection's message handler exactly once, however many of the
// subscribed filters cover its topic. This also delivers messages for
// $queue/ filters, which the broker sends with the plain topic.
func (c *Client) SubscribeMultiple(filters map[string]byte) error {
	if len(filters) == 0 {
		return ErrInvalidTopic
	}
	for topic, qos := range filters {
		if topic == "" {
			return ErrInvalidTopic
		}
		if qos > maxQoS {
			return ErrInvalidQoS
		}
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	for topic, qos := range filters {
		c.subscriptions[topic] = subscription{topic: topic, qos: qos}
	}
	c.subMu.Unlock()

	untrack := func() {
		c.subMu.Lock()
		for topic := range filters {
			delete(c.subscriptions, topic)
		}
		c.subMu.Unlock()
	}

	token := c.client.SubscribeMultiple(filters, nil)
	if !token.WaitTimeout(defaultPublishTimeout) {
		untrack()
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		untrack()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes subscriptions and stops receiving messages for them.
//
// Any messages in flight may still be delivered.
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return ErrInvalidTopic
	}
	for _, topic := range topics {
		if topic == "" {
			return ErrInvalidTopic
		}
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	c.subMu.Unlock()

	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given filter.
//
// Note: This checks only the exact filter string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}

// Subscriptions returns the tracked filters and their QoS.
func (c *Client) Subscriptions() map[string]byte {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make(map[string]byte, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		out[topic] = sub.qos
	}
	return out
}
