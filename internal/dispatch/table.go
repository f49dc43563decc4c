package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-mqttroute/internal/convert"
	"github.com/nerrad567/gray-logic-mqttroute/internal/topic"
)

// Logger is the logging interface used by the table.
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

// Table holds the registered routes and dispatches messages to them.
type Table struct {
	binder *Binder

	// routes is replaced wholesale on every change; readers load it
	// without locking.
	routes atomic.Pointer[[]*Route]

	observers atomic.Pointer[[]Observer]

	// mu serialises writers and guards the fields below.
	mu       sync.Mutex
	resolver Resolver
	onChange []func()

	logger atomic.Pointer[Logger]
}

// NewTable creates an empty table that converts arguments with registry.
// A nil registry gets the built-in converters only.
func NewTable(registry *convert.Registry) *Table {
	t := &Table{binder: NewBinder(registry)}
	empty := []*Route{}
	t.routes.Store(&empty)
	none := []Observer{}
	t.observers.Store(&none)
	t.SetLogger(nil)
	return t
}

// SetLogger sets the logger. nil disables logging.
func (t *Table) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.logger.Store(&logger)
}

func (t *Table) log() Logger { return *t.logger.Load() }

// SetResolver sets the property resolver applied to topics and groups at
// registration time.
func (t *Table) SetResolver(r Resolver) {
	t.mu.Lock()
	t.resolver = r
	t.mu.Unlock()
}

// AddObserver registers an observer for dispatch events.
func (t *Table) AddObserver(o Observer) {
	if o == nil {
		return
	}
	t.mu.Lock()
	next := append(slices.Clone(*t.observers.Load()), o)
	t.observers.Store(&next)
	t.mu.Unlock()
}

// OnChange registers fn to be called after every successful Register or
// Unregister. Callbacks run synchronously on the registering goroutine.
func (t *Table) OnChange(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.onChange = append(t.onChange, fn)
	t.mu.Unlock()
}

// Registry returns the conversion registry.
func (t *Table) Registry() *convert.Registry { return t.binder.Registry() }

// Register compiles def and adds it to the table.
//
// Registering an ID that already exists returns the existing route and
// changes nothing. Configuration errors (bad QoS, empty topic, malformed
// placeholder, invalid parameter) are returned here and never surface
// during dispatch.
func (t *Table) Register(def Definition) (*Route, error) {
	t.mu.Lock()

	if def.ID != "" {
		if existing := t.find(def.ID); existing != nil {
			t.mu.Unlock()
			return existing, nil
		}
	}

	route, err := compileRoute(def, t.resolver)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	current := *t.routes.Load()
	next := make([]*Route, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, route)
	slices.SortStableFunc(next, func(a, b *Route) int { return a.order - b.order })
	t.routes.Store(&next)

	callbacks := slices.Clone(t.onChange)
	t.mu.Unlock()

	t.log().Debug("route registered",
		"route_id", route.id,
		"patterns", len(route.patterns),
		"clients", route.clients,
	)
	for _, fn := range callbacks {
		fn()
	}

	return route, nil
}

// MustRegister is like Register but panics on error.
func (t *Table) MustRegister(def Definition) *Route {
	r, err := t.Register(def)
	if err != nil {
		panic(err)
	}
	return r
}

// Unregister removes the route with the given ID.
func (t *Table) Unregister(id string) error {
	t.mu.Lock()

	current := *t.routes.Load()
	idx := slices.IndexFunc(current, func(r *Route) bool { return r.id == id })
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}

	next := slices.Delete(slices.Clone(current), idx, idx+1)
	t.routes.Store(&next)

	callbacks := slices.Clone(t.onChange)
	t.mu.Unlock()

	t.log().Debug("route unregistered", "route_id", id)
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// find returns the route with id from the current snapshot.
func (t *Table) find(id string) *Route {
	for _, r := range *t.routes.Load() {
		if r.id == id {
			return r
		}
	}
	return nil
}

// Route returns the route with the given ID.
func (t *Table) Route(id string) (*Route, bool) {
	r := t.find(id)
	return r, r != nil
}

// Len returns the number of routes.
func (t *Table) Len() int { return len(*t.routes.Load()) }

// Routes returns all routes in dispatch order.
func (t *Table) Routes() []*Route {
	return slices.Clone(*t.routes.Load())
}

// RoutesFor returns the routes that apply to clientID in dispatch order.
func (t *Table) RoutesFor(clientID string) []*Route {
	var out []*Route
	for _, r := range *t.routes.Load() {
		if r.AppliesTo(clientID) {
			out = append(out, r)
		}
	}
	return out
}

// Patterns returns every pattern of the routes that apply to clientID.
func (t *Table) Patterns(clientID string) []*topic.Pattern {
	var out []*topic.Pattern
	for _, r := range t.RoutesFor(clientID) {
		out = append(out, r.patterns...)
	}
	return out
}

// Subscriptions returns the merged broker subscriptions for clientID.
func (t *Table) Subscriptions(clientID string, sharedEnabled bool) []topic.Subscription {
	return topic.Merge(t.Patterns(clientID), sharedEnabled)
}

// MatchResult describes one route matching a topic.
type MatchResult struct {
	RouteID string            `json:"route_id"`
	Pattern string            `json:"pattern"`
	Filter  string            `json:"filter"`
	Vars    map[string]string `json:"vars,omitempty"`
}

// Match reports which routes would handle topicName for clientID without
// invoking any handler.
func (t *Table) Match(clientID, topicName string) []MatchResult {
	var out []MatchResult
	for _, r := range t.RoutesFor(clientID) {
		p, vars, ok := r.Match(topicName)
		if !ok {
			continue
		}
		out = append(out, MatchResult{
			RouteID: r.id,
			Pattern: p.Topic(),
			Filter:  p.Filter(),
			Vars:    vars,
		})
	}
	return out
}

// Result summarises one Dispatch call.
type Result struct {
	Matched   int
	Delivered int
	Failed    int
	Skipped   int
}

// Dispatch delivers msg, received by clientID, to every applicable route.
//
// Handler errors and panics are logged and counted; they never stop the
// remaining routes from running. A message that matches no route is
// dropped.
func (t *Table) Dispatch(ctx context.Context, clientID string, msg Message) Result {
	var res Result

	observers := *t.observers.Load()
	logger := t.log()
	logger.Debug("MQTT message received",
		"client_id", clientID,
		"topic", msg.Topic,
		"qos", msg.QoS,
		"retained", msg.Retained,
		"bytes", len(msg.Payload),
	)
	notify(observers, t.event(EventReceived, clientID, msg))

	for _, r := range *t.routes.Load() {
		if !r.AppliesTo(clientID) {
			continue
		}
		p, vars, ok := r.Match(msg.Topic)
		if !ok {
			continue
		}
		res.Matched++

		ev := t.event(EventDelivered, clientID, msg)
		ev.RouteID = r.id
		ev.Pattern = p.Topic()

		values, err := t.binder.Bind(r.signature, msg, vars)
		if err != nil {
			res.Skipped++
			logger.Warn("handler skipped",
				"client_id", clientID,
				"topic", msg.Topic,
				"route_id", r.id,
				"pattern", p.Topic(),
				"error", err,
			)
			ev.Kind = EventSkipped
			ev.Err = err
			notify(observers, ev)
			continue
		}

		args := Args{
			ClientID: clientID,
			RouteID:  r.id,
			Pattern:  p.Topic(),
			Message:  msg,
			Vars:     vars,
			values:   values,
		}

		start := time.Now()
		err = invoke(ctx, r.handler, args)
		ev.Duration = time.Since(start)

		if err != nil {
			res.Failed++
			logger.Error("handler failed",
				"client_id", clientID,
				"topic", msg.Topic,
				"route_id", r.id,
				"pattern", p.Topic(),
				"error", err,
			)
			ev.Kind = EventFailed
			ev.Err = err
		} else {
			res.Delivered++
		}
		notify(observers, ev)
	}

	if res.Matched == 0 {
		logger.Debug("no route matched", "client_id", clientID, "topic", msg.Topic)
		notify(observers, t.event(EventUnmatched, clientID, msg))
	}

	return res
}

// invoke calls the handler, converting a panic into ErrHandlerPanic.
func invoke(ctx context.Context, h Handler, args Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Invoke(ctx, args)
}

func (t *Table) event(kind EventKind, clientID string, msg Message) Event {
	return Event{
		Kind:     kind,
		Time:     time.Now(),
		ClientID: clientID,
		Topic:    msg.Topic,
		QoS:      msg.QoS,
		Retained: msg.Retained,
		Payload:  msg.Payload,
	}
}

func notify(observers []Observer, ev Event) {
	for _, o := range observers {
		o.Observe(ev)
	}
}
