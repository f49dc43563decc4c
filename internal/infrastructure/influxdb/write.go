package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DispatchMeasurement is the measurement dispatch outcomes are written to.
const DispatchMeasurement = "mqtt_dispatch"

// DispatchPoint is one dispatch outcome.
type DispatchPoint struct {
	ClientID string
	RouteID  string

	// Outcome is the dispatch event kind: delivered, failed, skipped or unmatched.
	Outcome string

	Duration     time.Duration
	PayloadBytes int
	Time         time.Time
}

// NewDispatchPoint converts p to a line-protocol point.
//
// Tags: client, route (omitted when empty), outcome.
// Fields: count (always 1), duration_us, payload_bytes.
func NewDispatchPoint(p DispatchPoint) *write.Point {
	tags := map[string]string{
		"client":  p.ClientID,
		"outcome": p.Outcome,
	}
	if p.RouteID != "" {
		tags["route"] = p.RouteID
	}

	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		DispatchMeasurement,
		tags,
		map[string]interface{}{
			"count":         int64(1),
			"duration_us":   p.Duration.Microseconds(),
			"payload_bytes": int64(p.PayloadBytes),
		},
		ts,
	)
}

// WriteDispatch queues one dispatch outcome for the next batch. It never
// blocks and is a no-op after Close.
func (c *Client) WriteDispatch(p DispatchPoint) {
	if c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(NewDispatchPoint(p))
}
