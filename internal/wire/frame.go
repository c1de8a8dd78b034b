// Package wire defines the JSON frame envelope shared by both directions of
// the session connection and the encoder for outbound user actions.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound frame types pushed by the server.
const (
	TypeChat         = "chat"
	TypeAction       = "action"
	TypeRoll         = "roll"
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeInitiative   = "initiative"
	TypeAiResponse   = "ai_response"
	TypeSessionState = "session_state_update"
	TypeSystem       = "system"
	TypePong         = "pong"
	TypeRollRequest  = "dice_roll_request"
)

// Outbound frame types sent by the client.
const (
	TypePing = "ping"
)

// Frame is the wire envelope carried on the session connection.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
}

// DecodeData unmarshals the frame payload into target.
func (f Frame) DecodeData(target any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("frame %q has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Data, target); err != nil {
		return fmt.Errorf("decode %q payload: %w", f.Type, err)
	}
	return nil
}

// KnownInboundType reports whether the server may legitimately push frames
// of the given type.
func KnownInboundType(frameType string) bool {
	switch frameType {
	case TypeChat, TypeAction, TypeRoll, TypeJoin, TypeLeave, TypeInitiative,
		TypeAiResponse, TypeSessionState, TypeSystem, TypePong, TypeRollRequest:
		return true
	default:
		return false
	}
}
