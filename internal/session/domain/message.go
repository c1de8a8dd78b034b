package domain

import (
	"time"

	"github.com/bykotofff/dnd-game-sub001/internal/core/dice"
)

// SenderKind classifies who authored a message.
type SenderKind string

const (
	SenderPlayer SenderKind = "player"
	SenderDM     SenderKind = "dm"
	SenderSystem SenderKind = "system"
	SenderAI     SenderKind = "ai"
)

// IsValid reports whether the sender kind is supported.
func (k SenderKind) IsValid() bool {
	switch k {
	case SenderPlayer, SenderDM, SenderSystem, SenderAI:
		return true
	default:
		return false
	}
}

// Sender identifies the author of a game message.
type Sender struct {
	ID   string
	Kind SenderKind
	Name string
}

// MessageType identifies the kind of entry in the message feed.
type MessageType string

const (
	MessageChat   MessageType = "chat"
	MessageAction MessageType = "action"
	MessageRoll   MessageType = "roll"
	MessageSystem MessageType = "system"
	MessageAI     MessageType = "ai"
)

// GameMessage is one immutable entry in the session message feed.
type GameMessage struct {
	ID        string
	Sender    Sender
	Type      MessageType
	Content   string
	Timestamp time.Time
	DiceData  *dice.Result
	IsWhisper bool
	WhisperTo []string
}

// AiResponse is the most recent DM narration received from the AI service.
type AiResponse struct {
	Message      string
	SenderName   string
	InResponseTo string
	IsFallback   bool
	Timestamp    time.Time

	// Some responses advance the encounter; the carried values are applied
	// through the same turn transition as a dedicated turn frame.
	CurrentTurn *string
	TurnNumber  *int
}
