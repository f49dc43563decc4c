// Package journal records problematic dispatches in SQLite.
//
// A Journal is a dispatch.Observer. Failed and skipped deliveries, and
// optionally unmatched messages, are queued and written to the
// dispatch_journal table by a background goroutine so that Observe never
// blocks the dispatching goroutine. When the queue is full entries are
// dropped and counted.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/database"
)

const (
	// writeTimeout bounds a single insert.
	writeTimeout = 5 * time.Second

	// defaultQueueSize is used when Options.QueueSize is not positive.
	defaultQueueSize = 256

	// defaultListLimit caps List when Filter.Limit is not positive.
	defaultListLimit = 100

	// timeFormat is fixed width so stored timestamps sort as text.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrClosed is returned by operations on a closed Journal.
var ErrClosed = errors.New("journal: closed")

// Logger receives write failures.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Options configures a Journal.
type Options struct {
	QueueSize       int
	RecordUnmatched bool

	// MaxPayload truncates stored payloads. Zero stores no payload.
	MaxPayload int

	Logger Logger
}

// Entry is one journaled dispatch event.
type Entry struct {
	ID         string        `json:"id"`
	RecordedAt time.Time     `json:"recorded_at"`
	Kind       string        `json:"kind"`
	ClientID   string        `json:"client_id"`
	Topic      string        `json:"topic"`
	QoS        byte          `json:"qos"`
	Retained   bool          `json:"retained"`
	RouteID    string        `json:"route_id,omitempty"`
	Pattern    string        `json:"pattern,omitempty"`
	Error      string        `json:"error,omitempty"`
	Payload    []byte        `json:"payload,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	RouteID string
	Kind    string
	Since   time.Time
	Limit   int
}

// Journal persists dispatch events. It is safe for concurrent use.
type Journal struct {
	db     *database.DB
	opts   Options
	logger Logger

	queue chan Entry
	flush chan chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Journal writing to db and starts its writer goroutine.
// The dispatch_journal table must exist; run db.Migrate first.
func New(db *database.DB, opts Options) *Journal {
	j := newJournal(db, opts)
	j.wg.Add(1)
	go j.run()
	return j
}

func newJournal(db *database.DB, opts Options) *Journal {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Journal{
		db:     db,
		opts:   opts,
		logger: logger,
		queue:  make(chan Entry, opts.QueueSize),
		flush:  make(chan chan struct{}),
	}
}

// Observe implements dispatch.Observer.
func (j *Journal) Observe(e dispatch.Event) {
	switch e.Kind {
	case dispatch.EventFailed, dispatch.EventSkipped:
	case dispatch.EventUnmatched:
		if !j.opts.RecordUnmatched {
			return
		}
	default:
		return
	}

	entry := j.entry(e)

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- entry:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) entry(e dispatch.Event) Entry {
	entry := Entry{
		ID:         uuid.NewString(),
		RecordedAt: e.Time.UTC(),
		Kind:       e.Kind.String(),
		ClientID:   e.ClientID,
		Topic:      e.Topic,
		QoS:        e.QoS,
		Retained:   e.Retained,
		RouteID:    e.RouteID,
		Pattern:    e.Pattern,
		Duration:   e.Duration,
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}
	if n := j.opts.MaxPayload; n > 0 && len(e.Payload) > 0 {
		entry.Payload = append([]byte(nil), e.Payload[:min(n, len(e.Payload))]...)
	}
	return entry
}

func (j *Journal) run() {
	defer j.wg.Done()
	for {
		select {
		case e, ok := <-j.queue:
			if !ok {
				return
			}
			j.write(e)
		case ack := <-j.flush:
			j.drain()
			close(ack)
		}
	}
}

// drain writes whatever is queued without waiting for more.
func (j *Journal) drain() {
	for {
		select {
		case e, ok := <-j.queue:
			if !ok {
				return
			}
			j.write(e)
		default:
			return
		}
	}
}

func (j *Journal) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.Record(ctx, e); err != nil {
		j.logger.Warn("journal write failed", "topic", e.Topic, "route", e.RouteID, "error", err)
		return
	}
	j.written.Add(1)
}

// Record inserts e synchronously. An empty ID is replaced by a new UUID.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO dispatch_journal
			(id, recorded_at, kind, client_id, topic, qos, retained, route_id, pattern, error, payload, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.RecordedAt.UTC().Format(timeFormat),
		e.Kind,
		e.ClientID,
		e.Topic,
		int(e.QoS),
		boolInt(e.Retained),
		nullString(e.RouteID),
		nullString(e.Pattern),
		nullString(e.Error),
		e.Payload,
		e.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording journal entry: %w", err)
	}
	return nil
}

// Flush blocks until every entry queued before the call has been written.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.RLock()
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ack := make(chan struct{})
	select {
	case j.flush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, writes what is queued and stops the
// writer. The database is not closed.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	j.wg.Wait()
	return nil
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.RouteID != "" {
		where = append(where, "route_id = ?")
		args = append(args, f.RouteID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if !f.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, f.Since.UTC().Format(timeFormat))
	}

	query := `SELECT id, recorded_at, kind, client_id, topic, qos, retained,
			route_id, pattern, error, payload, duration_us
		FROM dispatch_journal`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY recorded_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                        Entry
			recordedAt               string
			qos, retained            int
			routeID, pattern, errStr sql.NullString
			durationUS               int64
		)
		if err := rows.Scan(&e.ID, &recordedAt, &e.Kind, &e.ClientID, &e.Topic, &qos, &retained,
			&routeID, &pattern, &errStr, &e.Payload, &durationUS); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		e.RecordedAt, _ = time.Parse(timeFormat, recordedAt) //nolint:errcheck // Format is controlled
		e.QoS = byte(qos)
		e.Retained = retained != 0
		e.RouteID = routeID.String
		e.Pattern = pattern.String
		e.Error = errStr.String
		e.Duration = time.Duration(durationUS) * time.Microsecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dispatch_journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting journal: %w", err)
	}
	return n, nil
}

// Purge deletes entries recorded before the cutoff and returns how many
// were removed.
func (j *Journal) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM dispatch_journal WHERE recorded_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("purging journal: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports writer counters.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

// Stats returns the current counters.
func (j *Journal) Stats() Stats {
	return Stats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
		Queued:  len(j.queue),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
