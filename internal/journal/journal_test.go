package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mqttroute/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
		Migrations:  migrations.FS,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func failed(route, topicName string, at time.Time) dispatch.Event {
	return dispatch.Event{
		Kind:     dispatch.EventFailed,
		Time:     at,
		ClientID: "default",
		Topic:    topicName,
		QoS:      1,
		Retained: true,
		Payload:  []byte("0123456789"),
		RouteID:  route,
		Pattern:  "sensors/{id}",
		Err:      errors.New("handler exploded"),
		Duration: 1500 * time.Microsecond,
	}
}

func TestJournal_RecordsFailures(t *testing.T) {
	db := openTestDB(t)
	j := New(db, Options{QueueSize: 8, MaxPayload: 4})
	defer j.Close() //nolint:errcheck // Test cleanup

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.Observe(failed("r1", "sensors/1", at))
	j.Observe(dispatch.Event{Kind: dispatch.EventSkipped, Time: at.Add(time.Second), ClientID: "default",
		Topic: "sensors/2", RouteID: "r2", Err: dispatch.ErrMissingRequired})
	// Not journaled.
	j.Observe(dispatch.Event{Kind: dispatch.EventReceived, Topic: "sensors/1"})
	j.Observe(dispatch.Event{Kind: dispatch.EventDelivered, Topic: "sensors/1", RouteID: "r1"})
	j.Observe(dispatch.Event{Kind: dispatch.EventUnmatched, Topic: "nowhere"})

	ctx := context.Background()
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	entries, err := j.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() len = %d, want 2", len(entries))
	}

	// Newest first.
	if entries[0].Kind != "skipped" || entries[1].Kind != "failed" {
		t.Errorf("kinds = %s, %s, want skipped, failed", entries[0].Kind, entries[1].Kind)
	}

	got := entries[1]
	if got.ID == "" {
		t.Error("ID is empty, want generated UUID")
	}
	if !got.RecordedAt.Equal(at) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, at)
	}
	if got.ClientID != "default" || got.Topic != "sensors/1" || got.QoS != 1 || !got.Retained {
		t.Errorf("entry = %+v", got)
	}
	if got.RouteID != "r1" || got.Pattern != "sensors/{id}" || got.Error != "handler exploded" {
		t.Errorf("route/pattern/error = %q/%q/%q", got.RouteID, got.Pattern, got.Error)
	}
	if string(got.Payload) != "0123" {
		t.Errorf("Payload = %q, want truncated to 0123", got.Payload)
	}
	if got.Duration != 1500*time.Microsecond {
		t.Errorf("Duration = %v, want 1.5ms", got.Duration)
	}

	if s := j.Stats(); s.Written != 2 || s.Dropped != 0 {
		t.Errorf("Stats() = %+v, want 2 written", s)
	}
}

func TestJournal_RecordUnmatched(t *testing.T) {
	db := openTestDB(t)
	j := New(db, Options{RecordUnmatched: true})
	defer j.Close() //nolint:errcheck // Test cleanup

	j.Observe(dispatch.Event{Kind: dispatch.EventUnmatched, ClientID: "default", Topic: "nowhere", Payload: []byte("x")})

	ctx := context.Background()
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	entries, err := j.List(ctx, Filter{Kind: "unmatched"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Topic != "nowhere" {
		t.Fatalf("List() = %+v, want the unmatched topic", entries)
	}
	if entries[0].RouteID != "" || entries[0].Payload != nil {
		t.Errorf("entry = %+v, want no route and no stored payload", entries[0])
	}
}

func TestJournal_ListFilter(t *testing.T) {
	db := openTestDB(t)
	j := New(db, Options{})
	defer j.Close() //nolint:errcheck // Test cleanup

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		route := "a"
		if i%2 == 1 {
			route = "b"
		}
		j.Observe(failed(route, "t", base.Add(time.Duration(i)*time.Hour)))
	}

	ctx := context.Background()
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 5},
		{"by route", Filter{RouteID: "a"}, 3},
		{"by kind", Filter{Kind: "skipped"}, 0},
		{"since", Filter{Since: base.Add(3 * time.Hour)}, 2},
		{"limit", Filter{Limit: 2}, 2},
		{"combined", Filter{RouteID: "b", Since: base.Add(2 * time.Hour)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := j.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("List() len = %d, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestJournal_Purge(t *testing.T) {
	db := openTestDB(t)
	j := New(db, Options{})
	defer j.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		// Sub-second offsets check that stored timestamps compare in time order.
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := j.Record(ctx, Entry{Kind: "failed", ClientID: "c", Topic: "t", RecordedAt: at}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := j.Purge(ctx, base.Add(250*time.Millisecond))
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Purge() = %d, want 3", n)
	}

	count, err := j.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestJournal_DropsWhenFull(t *testing.T) {
	db := openTestDB(t)
	// No writer goroutine: the queue never drains.
	j := newJournal(db, Options{QueueSize: 1})

	at := time.Now()
	j.Observe(failed("r", "t", at))
	j.Observe(failed("r", "t", at))
	j.Observe(failed("r", "t", at))

	if s := j.Stats(); s.Queued != 1 || s.Dropped != 2 {
		t.Errorf("Stats() = %+v, want 1 queued, 2 dropped", s)
	}
}

func TestJournal_Close(t *testing.T) {
	db := openTestDB(t)
	j := New(db, Options{})

	j.Observe(failed("r", "t", time.Now()))
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Queued entries are written before Close returns.
	count, err := j.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}

	// Events after Close are dropped, not sent on a closed channel.
	j.Observe(failed("r", "t", time.Now()))
	if j.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", j.Stats().Dropped)
	}
	if err := j.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush() after Close error = %v, want ErrClosed", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
