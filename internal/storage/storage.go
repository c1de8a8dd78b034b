// Package storage defines the persistence interfaces for the session client.
//
// The only durable concern on this side of the wire is the local telemetry
// journal: connection lifecycle events kept for offline diagnosis. Campaign
// data lives on the server and is never persisted here.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("storage: not found")

// TelemetryEvent is one journal entry about the connection lifecycle.
type TelemetryEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Severity  string            `json:"severity"`
	Kind      string            `json:"kind"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// TelemetryStore persists telemetry events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}
