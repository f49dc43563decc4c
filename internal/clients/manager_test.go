package clients

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-mqttroute/internal/convert"
	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/mqtt"
)

// published is one message handed to a fakeTransport.
type published struct {
	topic    string
	payload  string
	qos      byte
	retained bool
	async    bool
}

type fakeTransport struct {
	id string

	mu           sync.Mutex
	filters      map[string]byte
	subscribes   []map[string]byte
	unsubscribes [][]string
	published    []published
	handler      mqtt.MessageHandler
	onConnect    func()
	closed       bool
	down         bool
	publishErr   error
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id, filters: map[string]byte{}}
}

func (f *fakeTransport) SubscribeMultiple(filters map[string]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return mqtt.ErrNotConnected
	}
	f.subscribes = append(f.subscribes, maps.Clone(filters))
	maps.Copy(f.filters, filters)
	return nil
}

func (f *fakeTransport) SetMessageHandler(handler mqtt.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeTransport) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, topics)
	for _, t := range topics {
		delete(f.filters, t)
	}
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic, string(payload), qos, retained, false})
	return nil
}

func (f *fakeTransport) PublishAsync(topic string, payload []byte, qos byte, retained bool, done func(error)) error {
	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()
		return err
	}
	f.published = append(f.published, published{topic, string(payload), qos, retained, true})
	f.mu.Unlock()
	if done != nil {
		done(nil)
	}
	return nil
}

func (f *fakeTransport) SetOnConnect(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = cb
}

func (f *fakeTransport) SetLogger(mqtt.Logger) {}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) HealthCheck(context.Context) error {
	if !f.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("transport %s has no handler", f.id)
	}
	if err := h(mqtt.Message{Topic: topic, Payload: []byte(payload), QoS: 1}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

func (f *fakeTransport) subscribedFilters() map[string]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.filters)
}

// fakeDialer hands out fakeTransports keyed by client ID.
type fakeDialer struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	dialed     []string
	failOn     string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{transports: map[string]*fakeTransport{}}
}

func (d *fakeDialer) dial(cfg config.ClientConfig) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.ID == d.failOn {
		return nil, errors.New("connection refused")
	}
	ft := newFakeTransport(cfg.ID)
	d.transports[cfg.ID] = ft
	d.dialed = append(d.dialed, cfg.ID)
	return ft, nil
}

func (d *fakeDialer) get(id string) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[id]
}

func clientConfigs(t *testing.T, layers ...config.ConnectionConfig) []config.ClientConfig {
	t.Helper()
	out := make([]config.ClientConfig, 0, len(layers))
	for _, l := range layers {
		cc, err := config.Resolve(l)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		out = append(out, cc)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func newTestManager(t *testing.T, table *dispatch.Table, opts Options, layers ...config.ConnectionConfig) (*Manager, *fakeDialer) {
	t.Helper()
	d := newFakeDialer()
	opts.Dialer = d.dial
	m, err := NewManager(table, clientConfigs(t, layers...), opts)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.Close() }) //nolint:errcheck // Test cleanup
	return m, d
}

func noopHandler() dispatch.Handler {
	return dispatch.HandlerFunc(func(context.Context, dispatch.Args) error { return nil })
}

// =============================================================================
// Construction
// =============================================================================

func TestNewManager_Errors(t *testing.T) {
	table := dispatch.NewTable(nil)

	if _, err := NewManager(nil, nil, Options{}); err == nil {
		t.Error("NewManager(nil table) error = nil")
	}
	if _, err := NewManager(table, nil, Options{}); !errors.Is(err, ErrNoClients) {
		t.Errorf("NewManager(no clients) error = %v, want ErrNoClients", err)
	}

	dup := clientConfigs(t, config.ConnectionConfig{ID: "a"}, config.ConnectionConfig{ID: "a"})
	if _, err := NewManager(table, dup, Options{}); err == nil {
		t.Error("NewManager(duplicate) error = nil")
	}

	one := clientConfigs(t, config.ConnectionConfig{ID: "a"})
	if _, err := NewManager(table, one, Options{DefaultClient: "b"}); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("NewManager(unknown default) error = %v, want ErrUnknownClient", err)
	}
}

func TestManager_DefaultClient(t *testing.T) {
	table := dispatch.NewTable(nil)

	m, _ := newTestManager(t, table, Options{}, config.ConnectionConfig{ID: "a"}, config.ConnectionConfig{ID: "b"})
	if m.DefaultID() != "a" {
		t.Errorf("DefaultID() = %q, want first client a", m.DefaultID())
	}

	m, _ = newTestManager(t, table, Options{DefaultClient: "b"}, config.ConnectionConfig{ID: "a"}, config.ConnectionConfig{ID: "b"})
	if m.DefaultID() != "b" {
		t.Errorf("DefaultID() = %q, want b", m.DefaultID())
	}
}

// =============================================================================
// Subscription plan
// =============================================================================

func TestManager_StartSubscribesMergedPlan(t *testing.T) {
	table := dispatch.NewTable(nil)
	table.MustRegister(dispatch.Definition{
		ID:      "temps",
		Topics:  []string{"sensors/{room}/temperature", "sensors/#"},
		QoS:     []byte{1},
		Handler: noopHandler(),
	})
	table.MustRegister(dispatch.Definition{
		ID:      "edge-only",
		Topics:  []string{"edge/status"},
		Clients: []string{"edge"},
		Handler: noopHandler(),
	})

	m, d := newTestManager(t, table, Options{},
		config.ConnectionConfig{ID: "main"},
		config.ConnectionConfig{ID: "edge"},
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !slices.Equal(d.dialed, []string{"main", "edge"}) {
		t.Errorf("dialed = %v, want declaration order", d.dialed)
	}

	// sensors/# covers sensors/+/temperature at the same QoS.
	main := d.get("main").subscribedFilters()
	if want := map[string]byte{"sensors/#": 1}; !maps.Equal(main, want) {
		t.Errorf("main filters = %v, want %v", main, want)
	}

	edge := d.get("edge").subscribedFilters()
	if want := map[string]byte{"sensors/#": 1, "edge/status": 0}; !maps.Equal(edge, want) {
		t.Errorf("edge filters = %v, want %v", edge, want)
	}

	// One SUBSCRIBE per client.
	if n := len(d.get("edge").subscribes); n != 1 {
		t.Errorf("edge subscribe calls = %d, want 1", n)
	}
}

func TestManager_SharedSubscription(t *testing.T) {
	table := dispatch.NewTable(nil)
	table.MustRegister(dispatch.Definition{
		ID:      "workers",
		Topics:  []string{"jobs/+"},
		Shared:  []bool{true},
		Groups:  []string{"pool"},
		Handler: noopHandler(),
	})

	m, d := newTestManager(t, table, Options{},
		config.ConnectionConfig{ID: "plain"},
		config.ConnectionConfig{ID: "shared", SharedSubscription: ptr(true)},
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := d.get("plain").subscribedFilters(); !maps.Equal(got, map[string]byte{"jobs/+": 0}) {
		t.Errorf("plain filters = %v, want jobs/+", got)
	}
	if got := d.get("shared").subscribedFilters(); !maps.Equal(got, map[string]byte{"$share/pool/jobs/+": 0}) {
		t.Errorf("shared filters = %v, want $share/pool/jobs/+", got)
	}
}

func TestManager_ResyncOnRouteChange(t *testing.T) {
	table := dispatch.NewTable(nil)
	table.MustRegister(dispatch.Definition{ID: "a", Topics: []string{"a/+"}, Handler: noopHandler()})

	m, d := newTestManager(t, table, Options{}, config.ConnectionConfig{ID: "main"})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ft := d.get("main")

	table.MustRegister(dispatch.Definition{ID: "b", Topics: []string{"b/#"}, QoS: []byte{2}, Handler: noopHandler()})
	if got := ft.subscribedFilters(); !maps.Equal(got, map[string]byte{"a/+": 0, "b/#": 2}) {
		t.Errorf("filters after register = %v", got)
	}
	// Only the new filter is subscribed.
	last := ft.subscribes[len(ft.subscribes)-1]
	if !maps.Equal(last, map[string]byte{"b/#": 2}) {
		t.Errorf("last subscribe = %v, want only b/#", last)
	}

	if err := table.Unregister("a"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if got := ft.subscribedFilters(); !maps.Equal(got, map[string]byte{"b/#": 2}) {
		t.Errorf("filters after unregister = %v", got)
	}
	if len(ft.unsubscribes) != 1 || !slices.Equal(ft.unsubscribes[0], []string{"a/+"}) {
		t.Errorf("unsubscribes = %v, want [[a/+]]", ft.unsubscribes)
	}

	conn, err := m.Client("main")
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	if got := conn.Subscribed(); !maps.Equal(got, map[string]byte{"b/#": 2}) {
		t.Errorf("Subscribed() = %v", got)
	}
}

func TestManager_ReconnectAppliesPendingChanges(t *testing.T) {
	table := dispatch.NewTable(nil)
	table.MustRegister(dispatch.Definition{ID: "a", Topics: []string{"a/+"}, Handler: noopHandler()})

	m, d := newTestManager(t, table, Options{}, config.ConnectionConfig{ID: "main"})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ft := d.get("main")

	ft.mu.Lock()
	reconnect := ft.onConnect
	ft.mu.Unlock()
	if reconnect == nil {
		t.Fatal("OnConnect callback not registered")
	}

	// The transport restores its own filters; an unchanged table adds nothing.
	reconnect()
	if n := len(ft.subscribes); n != 1 {
		t.Errorf("subscribe calls after reconnect = %d, want 1", n)
	}

	// A route registered while the connection is down is subscribed on
	// the next connect.
	ft.mu.Lock()
	ft.down = true
	ft.mu.Unlock()
	table.MustRegister(dispatch.Definition{ID: "b", Topics: []string{"b/#"}, Handler: noopHandler()})
	ft.mu.Lock()
	ft.down = false
	ft.mu.Unlock()
	reconnect()

	if n := len(ft.subscribes); n != 2 {
		t.Fatalf("subscribe calls = %d, want 2", n)
	}
	if last := ft.subscribes[1]; !maps.Equal(last, map[string]byte{"b/#": 0}) {
		t.Errorf("subscribe after reconnect = %v, want only b/#", last)
	}
}

func TestManager_OverlappingFiltersDispatchOnce(t *testing.T) {
	table := dispatch.NewTable(nil)

	var mu sync.Mutex
	counts := map[string]int{}
	count := func(id string) dispatch.Handler {
		return dispatch.HandlerFunc(func(context.Context, dispatch.Args) error {
			mu.Lock()
			defer mu.Unlock()
			counts[id]++
			return nil
		})
	}
	table.MustRegister(dispatch.Definition{ID: "wide", Topics: []string{"sensors/+/temp"}, Handler: count("wide")})
	table.MustRegister(dispatch.Definition{ID: "narrow", Topics: []string{"sensors/room1/temp"}, QoS: []byte{1}, Handler: count("narrow")})

	m, d := newTestManager(t, table, Options{}, config.ConnectionConfig{ID: "main"})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ft := d.get("main")

	want := map[string]byte{"sensors/+/temp": 0, "sensors/room1/temp": 1}
	if got := ft.subscribedFilters(); !maps.Equal(got, want) {
		t.Fatalf("filters = %v, want %v", got, want)
	}

	ft.deliver(t, "sensors/room1/temp", "21")

	mu.Lock()
	defer mu.Unlock()
	if counts["wide"] != 1 || counts["narrow"] != 1 {
		t.Errorf("dispatch counts = %v, want one per route", counts)
	}
}

func TestManager_QueueSubscriptionDispatches(t *testing.T) {
	table := dispatch.NewTable(nil)

	var got []string
	table.MustRegister(dispatch.Definition{
		ID:     "jobs",
		Topics: []string{"a/b"},
		Shared: []bool{true},
		Handler: dispatch.HandlerFunc(func(_ context.Context, a dispatch.Args) error {
			got = append(got, a.Message.Topic)
			return nil
		}),
	})

	m, d := newTestManager(t, table, Options{},
		config.ConnectionConfig{ID: "shared", SharedSubscription: ptr(true)},
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ft := d.get("shared")

	if filters := ft.subscribedFilters(); !maps.Equal(filters, map[string]byte{"$queue/a/b": 0}) {
		t.Fatalf("filters = %v, want $queue/a/b", filters)
	}

	// The broker delivers queued messages under the plain topic.
	ft.deliver(t, "a/b", "1")

	if !slices.Equal(got, []string{"a/b"}) {
		t.Errorf("dispatched = %v, want [a/b]", got)
	}
}

func TestManager_Hooks(t *testing.T) {
	table := dispatch.NewTable(nil)
	table.MustRegister(dispatch.Definition{ID: "a", Topics: []string{"a/+"}, Handler: noopHandler()})

	var seenURI string
	hooks := Hooks{
		BeforeConnect: func(cfg *config.ClientConfig) error {
			seenURI = cfg.URIs[0]
			cfg.PublishQoS = 2
			return nil
		},
		BeforeSubscribe: func(clientID string, filters map[string]byte) {
			filters["extra/"+clientID] = 1
		},
	}

	m, d := newTestManager(t, table, Options{Hooks: hooks}, config.ConnectionConfig{ID: "main"})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if seenURI != config.DefaultURI {
		t.Errorf("BeforeConnect saw %q, want %q", seenURI, config.DefaultURI)
	}
	if got := d.get("main").subscribedFilters(); !maps.Equal(got, map[string]byte{"a/+": 0, "extra/main": 1}) {
		t.Errorf("filters = %v, want hook addition", got)
	}

	conn, _ := m.Client("")
	if conn.Config().PublishQoS != 2 {
		t.Errorf("PublishQoS = %d, want 2 from BeforeConnect", conn.Config().PublishQoS)
	}
}

func TestManager_BeforeConnectError(t *testing.T) {
	table := dispatch.NewTable(nil)
	hooks := Hooks{BeforeConnect: func(*config.ClientConfig) error { return errors.New("vetoed") }}

	m, d := newTestManager(t, table, Options{Hooks: hooks}, config.ConnectionConfig{ID: "main"})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want hook error")
	}
	if len(d.dialed) != 0 {
		t.Errorf("dialed = %v, want none", d.dialed)
	}
}

func TestManager_StartFailureClosesOpened(t *testing.T) {
	table := dispatch.NewTable(nil)
	d := newFakeDialer()
	d.failOn = "second"

	m, err := NewManager(table, clientConfigs(t,
		config.ConnectionConfig{ID: "first"},
		config.ConnectionConfig{ID: "second"},
	), Options{Dialer: d.dial})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want dial error")
	}
	if !d.get("first").closed {
		t.Error("first transport not closed after second failed")
	}
	if _, err := m.Client(""); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Client() error = %v, want ErrNotStarted", err)
	}
}

// =============================================================================
// Dispatch
// =============================================================================

func TestManager_DispatchesWithClientID(t *testing.T) {
	table := dispatch.NewTable(nil)

	var mu sync.Mutex
	var got []string
	table.MustRegister(dispatch.Definition{
		ID:     "rooms",
		Topics: []string{"rooms/{room}"},
		Handler: dispatch.HandlerFunc(func(_ context.Context, a dispatch.Args) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, a.ClientID+":"+a.Vars["room"]+":"+string(a.Message.Payload))
			return nil
		}),
	})

	m, d := newTestManager(t, table, Options{},
		config.ConnectionConfig{ID: "a"},
		config.ConnectionConfig{ID: "b"},
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	d.get("a").deliver(t, "rooms/kitchen", "21")
	d.get("b").deliver(t, "rooms/hall", "19")

	want := []string{"a:kitchen:21", "b:hall:19"}
	if !slices.Equal(got, want) {
		t.Errorf("handled = %v, want %v", got, want)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestManager_CloseClientPromotesDefault(t *testing.T) {
	table := dispatch.NewTable(nil)
	m, d := newTestManager(t, table, Options{},
		config.ConnectionConfig{ID: "a"},
		config.ConnectionConfig{ID: "b"},
		config.ConnectionConfig{ID: "c"},
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := m.CloseClient("a"); err != nil {
		t.Fatalf("CloseClient() error = %v", err)
	}
	if !d.get("a").closed {
		t.Error("transport a not closed")
	}
	if m.DefaultID() != "b" {
		t.Errorf("DefaultID() = %q, want b", m.DefaultID())
	}

	if err := m.CloseClient("c"); err != nil {
		t.Fatalf("CloseClient() error = %v", err)
	}
	if m.DefaultID() != "b" {
		t.Errorf("DefaultID() = %q after closing non-default, want b", m.DefaultID())
	}

	if err := m.CloseClient("missing"); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("CloseClient(missing) error = %v, want ErrUnknownClient", err)
	}

	statuses := m.Statuses()
	if len(statuses) != 1 || statuses[0].ID != "b" || !statuses[0].Default || !statuses[0].Connected {
		t.Errorf("Statuses() = %+v, want only default b", statuses)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	table := dispatch.NewTable(nil)
	m, d := newTestManager(t, table, Options{}, config.ConnectionConfig{ID: "a"})

	if err := m.HealthCheck(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("HealthCheck() before Start error = %v, want ErrNotStarted", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	d.get("a").Close() //nolint:errcheck // Simulate lost connection
	if err := m.HealthCheck(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestManager_Disabled(t *testing.T) {
	table := dispatch.NewTable(convert.NewRegistry())
	d := newFakeDialer()

	m, err := NewManager(table, nil, Options{Disabled: true, Dialer: d.dial})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if !m.Disabled() {
		t.Error("Disabled() = false")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(d.dialed) != 0 {
		t.Errorf("dialed = %v, want none", d.dialed)
	}
	if err := m.Publish(context.Background(), "", "a", "x"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Publish() error = %v, want ErrDisabled", err)
	}
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil when disabled", err)
	}
}
