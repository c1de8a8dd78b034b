package bbolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bykotofff/dnd-game-sub001/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestAppendAndListTelemetryEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := storage.TelemetryEvent{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Severity:  "INFO",
		Kind:      "connection_state",
		Fields:    map[string]string{"state": "connected"},
	}
	second := storage.TelemetryEvent{
		Timestamp: time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
		Severity:  "WARN",
		Kind:      "protocol_error",
	}

	if err := store.AppendTelemetryEvent(ctx, first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := store.AppendTelemetryEvent(ctx, second); err != nil {
		t.Fatalf("append second: %v", err)
	}

	events, err := store.ListTelemetryEvents(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Kind != "connection_state" || events[1].Kind != "protocol_error" {
		t.Fatalf("order = %q, %q; want oldest first", events[0].Kind, events[1].Kind)
	}
	if events[0].Fields["state"] != "connected" {
		t.Fatalf("fields = %v", events[0].Fields)
	}
}

func TestAppendRequiresKind(t *testing.T) {
	store := openTestStore(t)

	err := store.AppendTelemetryEvent(context.Background(), storage.TelemetryEvent{Severity: "INFO"})
	if err == nil {
		t.Fatal("expected error for missing kind")
	}
}

func TestListHonorsLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		evt := storage.TelemetryEvent{Severity: "INFO", Kind: "connection_state"}
		if err := store.AppendTelemetryEvent(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := store.ListTelemetryEvents(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
}

func TestAppendWithCancelledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	evt := storage.TelemetryEvent{Severity: "INFO", Kind: "connection_state"}
	if err := store.AppendTelemetryEvent(ctx, evt); err == nil {
		t.Fatal("expected context error")
	}
}
