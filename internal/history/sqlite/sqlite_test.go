package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/rollout/internal/history"
)

func TestSinkRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()

	events := []history.Event{
		{Type: history.EventDownload, Version: "1.1.0", OccurredAt: time.Now().UTC(), Success: true},
		{Type: history.EventActivate, Version: "1.1.0", OccurredAt: time.Now().UTC(), Success: false, Error: "unhealthy"},
	}
	for _, e := range events {
		if err := sink.Send(context.Background(), e); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	rows, err := sink.db.Query(`SELECT event, version, success, error FROM update_history ORDER BY rowid`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var got int
	for rows.Next() {
		var event, version string
		var success bool
		var errText *string
		if err := rows.Scan(&event, &version, &success, &errText); err != nil {
			t.Fatalf("scan: %v", err)
		}
		want := events[got]
		if event != string(want.Type) || version != want.Version || success != want.Success {
			t.Fatalf("row %d mismatch: %s %s %v", got, event, version, success)
		}
		if want.Error == "" && errText != nil {
			t.Fatalf("row %d: expected NULL error, got %q", got, *errText)
		}
		if want.Error != "" && (errText == nil || *errText != want.Error) {
			t.Fatalf("row %d: error mismatch: %v", got, errText)
		}
		got++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if got != len(events) {
		t.Fatalf("expected %d rows, got %d", len(events), got)
	}
}

func TestSinkDSNPrefix(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("New with prefix: %v", err)
	}
	_ = sink.Close()
}

func TestSinkEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
