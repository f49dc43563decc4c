package clients

import (
	"context"
	"fmt"
)

type publishOptions struct {
	qos      *byte
	retained bool
	callback func(error)
}

// PublishOption customises a single Publish call.
type PublishOption func(*publishOptions)

// WithQoS overrides the client's configured publish QoS.
func WithQoS(qos byte) PublishOption {
	return func(o *publishOptions) { o.qos = &qos }
}

// WithRetained sets the retain flag.
func WithRetained(retained bool) PublishOption {
	return func(o *publishOptions) { o.retained = retained }
}

// WithCallback makes Publish asynchronous. fn receives the outcome once
// the broker acknowledges the message, or the error that prevented it
// from being sent.
func WithCallback(fn func(error)) PublishOption {
	return func(o *publishOptions) { o.callback = fn }
}

// Publish converts payload with the table's conversion registry and sends
// it through clientID, or the default client when clientID is empty.
//
// A payload that converts to nothing is not sent: ErrNoPayload is logged,
// passed to the callback and returned.
func (m *Manager) Publish(ctx context.Context, clientID, topicName string, payload any, opts ...PublishOption) error {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	err := m.publish(ctx, clientID, topicName, payload, o)
	if err != nil && o.callback != nil {
		o.callback(err)
	}
	return err
}

func (m *Manager) publish(ctx context.Context, clientID, topicName string, payload any, o publishOptions) error {
	conn, err := m.Client(clientID)
	if err != nil {
		return err
	}

	data, ok := m.table.Registry().ToBytes(payload)
	if !ok {
		m.logger.Warn("publish skipped: payload produced no bytes",
			"client", conn.cfg.ID,
			"topic", topicName,
			"type", fmt.Sprintf("%T", payload),
		)
		return ErrNoPayload
	}

	qos := conn.cfg.PublishQoS
	if o.qos != nil {
		qos = *o.qos
	}

	if conn.limiter != nil {
		if err := conn.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish rate limit: %w", err)
		}
	}

	if o.callback != nil {
		// The callback is invoked by the transport on success and failure
		// after a successful hand-off; synchronous errors are reported by
		// Publish.
		return conn.transport.PublishAsync(topicName, data, qos, o.retained, o.callback)
	}
	return conn.transport.Publish(topicName, data, qos, o.retained)
}
