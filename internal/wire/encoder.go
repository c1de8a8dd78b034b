package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound payload shapes. Field names follow the server's snake_case data
// convention; the envelope itself uses the camelCase keys from the protocol.
type chatData struct {
	Content   string   `json:"content"`
	IsWhisper bool     `json:"is_whisper,omitempty"`
	WhisperTo []string `json:"whisper_to,omitempty"`
}

type actionData struct {
	Action string `json:"action"`
}

type rollData struct {
	Notation string `json:"notation"`
	Purpose  string `json:"purpose,omitempty"`
}

type initiativeData struct {
	CharacterID string `json:"character_id"`
}

// EncodeChat builds a chat frame for the live connection.
func EncodeChat(sessionID, content string, at time.Time) (Frame, error) {
	return encode(TypeChat, sessionID, at, chatData{Content: content})
}

// EncodeWhisper builds a chat frame visible only to the listed user ids.
func EncodeWhisper(sessionID, content string, to []string, at time.Time) (Frame, error) {
	return encode(TypeChat, sessionID, at, chatData{Content: content, IsWhisper: true, WhisperTo: to})
}

// EncodeAction builds a player action frame.
func EncodeAction(sessionID, action string, at time.Time) (Frame, error) {
	return encode(TypeAction, sessionID, at, actionData{Action: action})
}

// EncodeRoll builds a dice roll request frame.
func EncodeRoll(sessionID, notation, purpose string, at time.Time) (Frame, error) {
	return encode(TypeRoll, sessionID, at, rollData{Notation: notation, Purpose: purpose})
}

// EncodeInitiative builds an initiative roll request frame.
func EncodeInitiative(sessionID, characterID string, at time.Time) (Frame, error) {
	return encode(TypeInitiative, sessionID, at, initiativeData{CharacterID: characterID})
}

// EncodePing builds the heartbeat probe frame.
func EncodePing(sessionID string, at time.Time) (Frame, error) {
	return encode(TypePing, sessionID, at, struct{}{})
}

func encode(frameType, sessionID string, at time.Time, data any) (Frame, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %q payload: %w", frameType, err)
	}
	return Frame{
		Type:      frameType,
		Data:      payload,
		Timestamp: at.UTC(),
		SessionID: sessionID,
	}, nil
}
