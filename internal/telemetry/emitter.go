// Package telemetry records operational events about the session connection
// into the local journal.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/bykotofff/dnd-game-sub001/internal/storage"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Event kinds written by the session client.
const (
	KindConnectionState = "connection_state"
	KindProtocolError   = "protocol_error"
	KindSessionJoined   = "session_joined"
	KindSessionLeft     = "session_left"
)

// Emitter records operational telemetry events.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter. A nil store disables it.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records a telemetry event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, severity Severity, kind string, fields map[string]string) error {
	if e == nil || e.store == nil {
		return nil
	}
	clock := e.clock
	if clock == nil {
		clock = time.Now
	}
	return e.store.AppendTelemetryEvent(ctx, storage.TelemetryEvent{
		Timestamp: clock().UTC(),
		Severity:  string(severity),
		Kind:      kind,
		Fields:    fields,
	})
}

// ConnectionState records a lifecycle transition.
func (e *Emitter) ConnectionState(ctx context.Context, state string, attempt int) error {
	fields := map[string]string{"state": state}
	if attempt > 0 {
		fields["attempt"] = strconv.Itoa(attempt)
	}
	severity := SeverityInfo
	if state == "error" {
		severity = SeverityError
	}
	return e.Emit(ctx, severity, KindConnectionState, fields)
}

// ProtocolError records a frame the client could not interpret.
func (e *Emitter) ProtocolError(ctx context.Context, frameType string, err error) error {
	fields := map[string]string{}
	if frameType != "" {
		fields["frame_type"] = frameType
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return e.Emit(ctx, SeverityWarn, KindProtocolError, fields)
}

// SessionJoined records a completed bootstrap.
func (e *Emitter) SessionJoined(ctx context.Context, sessionID string) error {
	return e.Emit(ctx, SeverityInfo, KindSessionJoined, map[string]string{"session_id": sessionID})
}

// SessionLeft records an explicit leave.
func (e *Emitter) SessionLeft(ctx context.Context, sessionID string) error {
	return e.Emit(ctx, SeverityInfo, KindSessionLeft, map[string]string{"session_id": sessionID})
}
