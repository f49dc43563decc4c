// Package telemetry counts dispatch outcomes.
//
// A Recorder is a dispatch.Observer that keeps in-memory counters, overall
// and per route, and optionally forwards each outcome to a PointWriter
// such as the InfluxDB client.
package telemetry

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/influxdb"
)

// PointWriter receives one point per dispatch outcome. Implementations
// must not block.
type PointWriter interface {
	WriteDispatch(p influxdb.DispatchPoint)
}

// Counters is a snapshot of dispatch totals.
type Counters struct {
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Unmatched uint64 `json:"unmatched"`
}

// RouteStats is a per-route snapshot.
type RouteStats struct {
	RouteID       string        `json:"route_id"`
	Delivered     uint64        `json:"delivered"`
	Failed        uint64        `json:"failed"`
	Skipped       uint64        `json:"skipped"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastError     string        `json:"last_error,omitempty"`
	LastSeen      time.Time     `json:"last_seen"`
}

// Snapshot is the full recorder state at one instant.
type Snapshot struct {
	Since  time.Time    `json:"since"`
	Totals Counters     `json:"totals"`
	Routes []RouteStats `json:"routes"`
}

type counters struct {
	received, delivered, failed, skipped, unmatched atomic.Uint64
}

// Recorder aggregates dispatch events. It is safe for concurrent use.
type Recorder struct {
	since  time.Time
	totals counters
	writer PointWriter

	mu     sync.Mutex
	routes map[string]*RouteStats
}

// NewRecorder creates a Recorder. writer may be nil.
func NewRecorder(writer PointWriter) *Recorder {
	return &Recorder{
		since:  time.Now(),
		writer: writer,
		routes: make(map[string]*RouteStats),
	}
}

// Observe implements dispatch.Observer.
func (r *Recorder) Observe(e dispatch.Event) {
	switch e.Kind {
	case dispatch.EventReceived:
		r.totals.received.Add(1)
		return
	case dispatch.EventDelivered:
		r.totals.delivered.Add(1)
	case dispatch.EventFailed:
		r.totals.failed.Add(1)
	case dispatch.EventSkipped:
		r.totals.skipped.Add(1)
	case dispatch.EventUnmatched:
		r.totals.unmatched.Add(1)
	default:
		return
	}

	if e.RouteID != "" {
		r.route(e)
	}

	if r.writer != nil {
		r.writer.WriteDispatch(influxdb.DispatchPoint{
			ClientID:     e.ClientID,
			RouteID:      e.RouteID,
			Outcome:      e.Kind.String(),
			Duration:     e.Duration,
			PayloadBytes: len(e.Payload),
			Time:         e.Time,
		})
	}
}

func (r *Recorder) route(e dispatch.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.routes[e.RouteID]
	if !ok {
		s = &RouteStats{RouteID: e.RouteID}
		r.routes[e.RouteID] = s
	}

	switch e.Kind {
	case dispatch.EventDelivered:
		s.Delivered++
	case dispatch.EventFailed:
		s.Failed++
	case dispatch.EventSkipped:
		s.Skipped++
	}
	if e.Err != nil {
		s.LastError = e.Err.Error()
	}
	s.TotalDuration += e.Duration
	s.MaxDuration = max(s.MaxDuration, e.Duration)
	s.LastSeen = e.Time
}

// Totals returns the overall counters.
func (r *Recorder) Totals() Counters {
	return Counters{
		Received:  r.totals.received.Load(),
		Delivered: r.totals.delivered.Load(),
		Failed:    r.totals.failed.Load(),
		Skipped:   r.totals.skipped.Load(),
		Unmatched: r.totals.unmatched.Load(),
	}
}

// Route returns the stats of one route.
func (r *Recorder) Route(id string) (RouteStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.routes[id]
	if !ok {
		return RouteStats{}, false
	}
	return *s, true
}

// Snapshot returns totals and per-route stats sorted by route ID.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	routes := make([]RouteStats, 0, len(r.routes))
	for _, s := range r.routes {
		routes = append(routes, *s)
	}
	r.mu.Unlock()

	slices.SortFunc(routes, func(a, b RouteStats) int {
		return strings.Compare(a.RouteID, b.RouteID)
	})

	return Snapshot{
		Since:  r.since,
		Totals: r.Totals(),
		Routes: routes,
	}
}
