// Package clients connects the dispatch table to MQTT brokers.
//
// A Manager owns one connection per configured client. On every connect it
// subscribes the merged filter set the dispatch table computes for that
// client, keeps the subscriptions in step with route registration, and
// dispatches inbound messages tagged with the receiving client's ID. It
// also publishes on behalf of routes and the admin API.
package clients

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mqttroute/internal/topic"
)

// Logger is the logging surface used by the manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Hooks are extension points around connection setup.
type Hooks struct {
	// BeforeConnect may adjust the configuration used to dial. Returning an
	// error aborts Start.
	BeforeConnect func(cfg *config.ClientConfig) error

	// BeforeSubscribe may add to or remove from the filters about to be
	// subscribed for clientID.
	BeforeSubscribe func(clientID string, filters map[string]byte)
}

// Options configures a Manager.
type Options struct {
	// Disabled turns the manager into a no-op. Publish returns ErrDisabled.
	Disabled bool

	// DefaultClient names the client used when none is given. Empty means
	// the first configured client.
	DefaultClient string

	// Dialer opens connections. Nil means DialMQTT.
	Dialer Dialer

	Hooks  Hooks
	Logger Logger
}

// Connection is one managed client.
type Connection struct {
	cfg       config.ClientConfig
	transport Transport
	limiter   *rate.Limiter

	mu         sync.Mutex
	subscribed map[string]byte
}

// ID returns the client's routing identifier.
func (c *Connection) ID() string { return c.cfg.ID }

// Config returns the client's configuration.
func (c *Connection) Config() config.ClientConfig { return c.cfg }

// Subscribed returns the filters currently subscribed.
func (c *Connection) Subscribed() map[string]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.subscribed)
}

// Status describes one client for reporting.
type Status struct {
	ID            string          `json:"id"`
	ClientID      string          `json:"client_id"`
	URIs          []string        `json:"uris"`
	Default       bool            `json:"default"`
	Connected     bool            `json:"connected"`
	Shared        bool            `json:"shared_subscription"`
	Subscriptions map[string]byte `json:"subscriptions"`
}

// Manager owns the configured MQTT clients. It is safe for concurrent use.
type Manager struct {
	table  *dispatch.Table
	opts   Options
	logger Logger
	dial   Dialer

	mu        sync.RWMutex
	configs   []config.ClientConfig
	conns     []*Connection
	defaultID string
	started   bool
	watching  bool
}

// NewManager validates the client set. No connection is opened until Start.
func NewManager(table *dispatch.Table, clients []config.ClientConfig, opts Options) (*Manager, error) {
	if table == nil {
		return nil, fmt.Errorf("clients: dispatch table is required")
	}

	m := &Manager{
		table:   table,
		opts:    opts,
		logger:  opts.Logger,
		dial:    opts.Dialer,
		configs: slices.Clone(clients),
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	if m.dial == nil {
		m.dial = DialMQTT
	}
	if opts.Disabled {
		return m, nil
	}

	if len(clients) == 0 {
		return nil, ErrNoClients
	}
	seen := make(map[string]bool, len(clients))
	for _, c := range clients {
		if seen[c.ID] {
			return nil, fmt.Errorf("clients: duplicate client %q", c.ID)
		}
		seen[c.ID] = true
	}

	m.defaultID = clients[0].ID
	if opts.DefaultClient != "" {
		if !seen[opts.DefaultClient] {
			return nil, fmt.Errorf("%w: default %q", ErrUnknownClient, opts.DefaultClient)
		}
		m.defaultID = opts.DefaultClient
	}
	return m, nil
}

// Disabled reports whether MQTT is turned off.
func (m *Manager) Disabled() bool { return m.opts.Disabled }

// Start connects every client in declaration order and subscribes its
// merged filter plan. If any client fails, the ones already opened are
// closed and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	if m.opts.Disabled {
		m.logger.Info("mqtt disabled, no clients started")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	conns := make([]*Connection, 0, len(m.configs))
	for _, cfg := range m.configs {
		if err := ctx.Err(); err != nil {
			closeAll(conns)
			return err
		}

		conn, err := m.open(cfg)
		if err != nil {
			closeAll(conns)
			return err
		}
		conns = append(conns, conn)
	}
	m.conns = conns
	m.started = true

	for _, conn := range conns {
		if err := m.sync(conn); err != nil {
			m.logger.Error("initial subscribe failed", "client", conn.cfg.ID, "error", err)
		}
	}

	if !m.watching {
		m.watching = true
		m.table.OnChange(m.Resync)
	}
	return nil
}

func (m *Manager) open(cfg config.ClientConfig) (*Connection, error) {
	if hook := m.opts.Hooks.BeforeConnect; hook != nil {
		if err := hook(&cfg); err != nil {
			return nil, fmt.Errorf("client %s: before connect: %w", cfg.ID, err)
		}
	}

	transport, err := m.dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", cfg.ID, err)
	}

	conn := &Connection{
		cfg:        cfg,
		transport:  transport,
		subscribed: map[string]byte{},
	}
	if cfg.PublishRate > 0 {
		conn.limiter = rate.NewLimiter(rate.Limit(cfg.PublishRate), max(cfg.PublishBurst, 1))
	}

	transport.SetLogger(m.logger)
	transport.SetMessageHandler(m.handler(cfg.ID))
	// The transport restores its own filters on reconnect; this only
	// applies table changes made while the connection was down.
	transport.SetOnConnect(func() {
		if err := m.sync(conn); err != nil {
			m.logger.Error("resubscribe after reconnect failed", "client", cfg.ID, "error", err)
		}
	})

	m.logger.Info("mqtt client connected", "client", cfg.ID, "uris", cfg.URIs)
	return conn, nil
}

func closeAll(conns []*Connection) {
	for _, c := range conns {
		c.transport.Close() //nolint:errcheck // Best effort cleanup on error path
	}
}

// sync brings the broker subscriptions of conn in line with the table.
// Only the difference from the last applied plan is sent.
func (m *Manager) sync(conn *Connection) error {
	desired := topic.Filters(m.table.Subscriptions(conn.cfg.ID, conn.cfg.SharedSubscription))
	if hook := m.opts.Hooks.BeforeSubscribe; hook != nil {
		hook(conn.cfg.ID, desired)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	var stale []string
	for filter := range conn.subscribed {
		if _, ok := desired[filter]; !ok {
			stale = append(stale, filter)
		}
	}
	added := make(map[string]byte)
	for filter, qos := range desired {
		if prev, ok := conn.subscribed[filter]; !ok || prev != qos {
			added[filter] = qos
		}
	}

	if len(stale) > 0 {
		slices.Sort(stale)
		if err := conn.transport.Unsubscribe(stale...); err != nil {
			return fmt.Errorf("unsubscribing %v: %w", stale, err)
		}
		for _, filter := range stale {
			delete(conn.subscribed, filter)
		}
	}

	if len(added) > 0 {
		if err := conn.transport.SubscribeMultiple(added); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
		maps.Copy(conn.subscribed, added)
		m.logger.Debug("subscribed", "client", conn.cfg.ID, "filters", len(added))
	}
	return nil
}

// handler dispatches messages received by clientID.
func (m *Manager) handler(clientID string) mqtt.MessageHandler {
	return func(msg mqtt.Message) error {
		m.table.Dispatch(context.Background(), clientID, dispatch.Message{
			Topic:     msg.Topic,
			Payload:   msg.Payload,
			QoS:       msg.QoS,
			Retained:  msg.Retained,
			Duplicate: msg.Duplicate,
			MessageID: msg.MessageID,
		})
		return nil
	}
}

// Resync recomputes and applies the subscription plan of every client.
// It runs automatically after routes are registered or removed.
func (m *Manager) Resync() {
	m.mu.RLock()
	conns := slices.Clone(m.conns)
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sync(conn); err != nil {
			m.logger.Error("subscription resync failed", "client", conn.cfg.ID, "error", err)
		}
	}
}

// DefaultID returns the default client's ID, or "" when there is none.
func (m *Manager) DefaultID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultID
}

// Client returns the connection for id. An empty id selects the default.
func (m *Manager) Client(id string) (*Connection, error) {
	if m.opts.Disabled {
		return nil, ErrDisabled
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.started {
		return nil, ErrNotStarted
	}
	if id == "" {
		id = m.defaultID
		if id == "" {
			return nil, ErrNoClients
		}
	}
	for _, c := range m.conns {
		if c.cfg.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownClient, id)
}

// Statuses reports every open client in declaration order.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	conns := slices.Clone(m.conns)
	defaultID := m.defaultID
	m.mu.RUnlock()

	out := make([]Status, 0, len(conns))
	for _, c := range conns {
		out = append(out, Status{
			ID:            c.cfg.ID,
			ClientID:      c.cfg.ClientID,
			URIs:          slices.Clone(c.cfg.URIs),
			Default:       c.cfg.ID == defaultID,
			Connected:     c.transport.IsConnected(),
			Shared:        c.cfg.SharedSubscription,
			Subscriptions: c.Subscribed(),
		})
	}
	return out
}

// HealthCheck checks the default client.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.opts.Disabled {
		return nil
	}
	conn, err := m.Client("")
	if err != nil {
		return err
	}
	return conn.transport.HealthCheck(ctx)
}

// CloseClient disconnects one client. If it was the default, the next
// remaining client in declaration order becomes the default.
func (m *Manager) CloseClient(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.conns, func(c *Connection) bool { return c.cfg.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownClient, id)
	}
	conn := m.conns[i]
	m.conns = slices.Delete(m.conns, i, i+1)

	if m.defaultID == id {
		m.defaultID = ""
		if len(m.conns) > 0 {
			m.defaultID = m.conns[0].cfg.ID
		}
		m.logger.Info("default client closed", "client", id, "new_default", m.defaultID)
	}

	return conn.transport.Close()
}

// Close disconnects every client.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.started = false
	m.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.transport.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing client %s: %w", c.cfg.ID, err)
		}
	}
	return firstErr
}
