package dispatch

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-mqttroute/internal/topic"
)

// Definition declares a handler and its subscriptions.
//
// QoS, Shared and Groups are matched to Topics by position. A shorter list
// is padded with its last element and a longer one is truncated. Empty
// lists mean QoS 0, not shared, no group.
type Definition struct {
	// ID identifies the route. Registering an ID that is already present
	// is a no-op. Empty IDs are replaced with a random UUID.
	ID string

	// Topics are templates that may contain {name} placeholders, MQTT
	// wildcards, ${property} references, and a $share/<group>/ or $queue/
	// prefix.
	Topics []string

	QoS    []byte
	Shared []bool
	Groups []string

	// Clients restricts the route to the listed client IDs. Empty means
	// every client.
	Clients []string

	// Order ranks routes for dispatch. Lower values run first; equal
	// values keep registration order.
	Order int

	Params  []Param
	Handler Handler
}

// Route is a compiled Definition. Routes are immutable.
type Route struct {
	id        string
	order     int
	clients   []string
	patterns  []*topic.Pattern
	signature Signature
	handler   Handler
}

// Resolver expands ${...} property references in declared topics.
type Resolver interface {
	Expand(s string) (string, error)
}

// compileRoute validates def and compiles its templates.
func compileRoute(def Definition, resolver Resolver) (*Route, error) {
	if def.Handler == nil {
		return nil, ErrNoHandler
	}
	if len(def.Topics) == 0 {
		return nil, ErrNoTopics
	}

	id := def.ID
	if id == "" {
		id = uuid.NewString()
	}

	sig, err := NewSignature(def.Params)
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", id, err)
	}
	kinds := sig.Kinds()

	n := len(def.Topics)
	qos := pad(n, def.QoS, 0)
	shared := pad(n, def.Shared, false)
	groups := pad(n, def.Groups, "")

	patterns := make([]*topic.Pattern, 0, n)
	seen := make(map[topic.Template]struct{}, n)

	for i, declared := range def.Topics {
		expanded, group := declared, groups[i]
		if resolver != nil {
			if expanded, err = resolver.Expand(declared); err != nil {
				return nil, fmt.Errorf("route %q topic %q: %w", id, declared, err)
			}
			if group, err = resolver.Expand(group); err != nil {
				return nil, fmt.Errorf("route %q group %q: %w", id, groups[i], err)
			}
		}

		filter, prefixGroup, prefixed, err := topic.SplitShared(expanded)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", id, err)
		}

		tmpl := topic.Template{
			Topic:  filter,
			QoS:    qos[i],
			Group:  group,
			Shared: shared[i],
		}
		if prefixed {
			tmpl.Group = prefixGroup
			tmpl.Shared = true
		}

		if _, dup := seen[tmpl]; dup {
			continue
		}
		seen[tmpl] = struct{}{}

		p, err := topic.Compile(tmpl, kinds)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", id, err)
		}
		patterns = append(patterns, p)
	}

	topic.SortBySpecificity(patterns)

	return &Route{
		id:        id,
		order:     def.Order,
		clients:   slices.Clone(def.Clients),
		patterns:  patterns,
		signature: sig,
		handler:   def.Handler,
	}, nil
}

// pad fits vals to length n.
func pad[T any](n int, vals []T, zero T) []T {
	out := make([]T, n)
	if len(vals) == 0 {
		for i := range out {
			out[i] = zero
		}
		return out
	}
	copied := copy(out, vals)
	last := vals[len(vals)-1]
	for i := copied; i < n; i++ {
		out[i] = last
	}
	return out
}

// ID returns the route ID.
func (r *Route) ID() string { return r.id }

// Order returns the dispatch rank.
func (r *Route) Order() int { return r.order }

// Clients returns the client IDs the route is restricted to.
func (r *Route) Clients() []string { return slices.Clone(r.clients) }

// Patterns returns the compiled patterns in match order.
func (r *Route) Patterns() []*topic.Pattern { return slices.Clone(r.patterns) }

// Signature returns the validated parameter list.
func (r *Route) Signature() Signature { return r.signature }

// AppliesTo reports whether the route handles messages for clientID.
func (r *Route) AppliesTo(clientID string) bool {
	return len(r.clients) == 0 || slices.Contains(r.clients, clientID)
}

// Match returns the first pattern matching topicName and its captures.
func (r *Route) Match(topicName string) (*topic.Pattern, map[string]string, bool) {
	return topic.FirstMatch(r.patterns, topicName)
}
