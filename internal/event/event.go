// Package event defines the closed set of semantic events produced from
// inbound wire frames, and the dispatcher that fans them out to handlers.
//
// Events are constructed exclusively by the Parser; the store and any other
// subscriber only ever see fully-typed, validated values. A frame that fails
// validation becomes a ProtocolError event instead of reaching consumers in
// a partially-decoded form.
package event

import (
	"github.com/bykotofff/dnd-game-sub001/internal/core/dice"
	"github.com/bykotofff/dnd-game-sub001/internal/session/domain"
)

// Kind discriminates the semantic event union.
type Kind int

const (
	KindChatOrAction Kind = iota
	KindPlayerJoined
	KindPlayerLeft
	KindDiceRolled
	KindInitiativeRolled
	KindTurnChanged
	KindSceneUpdated
	KindAiResponse
	KindProtocolError
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindChatOrAction:
		return "chat_or_action"
	case KindPlayerJoined:
		return "player_joined"
	case KindPlayerLeft:
		return "player_left"
	case KindDiceRolled:
		return "dice_rolled"
	case KindInitiativeRolled:
		return "initiative_rolled"
	case KindTurnChanged:
		return "turn_changed"
	case KindSceneUpdated:
		return "scene_updated"
	case KindAiResponse:
		return "ai_response"
	case KindProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Event is one member of the closed semantic event union.
type Event interface {
	Kind() Kind
	sealed()
}

// ChatOrAction carries a message destined for the session feed.
type ChatOrAction struct {
	Message domain.GameMessage
}

// PlayerJoined announces a roster addition or a rejoin.
type PlayerJoined struct {
	Player domain.Player
}

// PlayerLeft announces that a roster entry went offline.
type PlayerLeft struct {
	UserID     string
	PlayerName string
}

// DiceRolled carries a resolved roll result.
type DiceRolled struct {
	Result dice.Result
}

// InitiativeRolled carries one character's initiative value.
type InitiativeRolled struct {
	CharacterID   string
	CharacterName string
	Initiative    int
	IsPlayer      bool
}

// TurnChanged moves the active turn. TurnNumber is nil when the server did
// not carry an explicit counter value.
type TurnChanged struct {
	CharacterID string
	TurnNumber  *int
}

// SceneUpdated overwrites the scene fields that are present.
type SceneUpdated struct {
	Name        *string
	Description *string
}

// AiResponse carries DM narration from the AI service.
type AiResponse struct {
	Response domain.AiResponse
}

// ProtocolError quarantines a frame the client could not interpret.
type ProtocolError struct {
	FrameType string
	Err       error
}

func (ChatOrAction) Kind() Kind     { return KindChatOrAction }
func (PlayerJoined) Kind() Kind     { return KindPlayerJoined }
func (PlayerLeft) Kind() Kind       { return KindPlayerLeft }
func (DiceRolled) Kind() Kind       { return KindDiceRolled }
func (InitiativeRolled) Kind() Kind { return KindInitiativeRolled }
func (TurnChanged) Kind() Kind      { return KindTurnChanged }
func (SceneUpdated) Kind() Kind     { return KindSceneUpdated }
func (AiResponse) Kind() Kind       { return KindAiResponse }
func (ProtocolError) Kind() Kind    { return KindProtocolError }

func (ChatOrAction) sealed()     {}
func (PlayerJoined) sealed()     {}
func (PlayerLeft) sealed()       {}
func (DiceRolled) sealed()       {}
func (InitiativeRolled) sealed() {}
func (TurnChanged) sealed()      {}
func (SceneUpdated) sealed()     {}
func (AiResponse) sealed()       {}
func (ProtocolError) sealed()    {}
