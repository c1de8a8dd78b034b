package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/bykotofff/dnd-game-sub001/internal/core/dice"
	"github.com/bykotofff/dnd-game-sub001/internal/id"
)

// MaxMessages caps the message feed; older entries are dropped from the tail.
const MaxMessages = 100

// SessionState is the client-side view of one shared game session.
//
// Messages are ordered newest first. Players are keyed by user id.
// All mutation goes through the Apply* transitions.
type SessionState struct {
	SessionID        string
	Messages         []GameMessage
	Players          map[string]Player
	InitiativeOrder  []InitiativeEntry
	CurrentTurn      string // character id, empty when no active turn
	TurnNumber       int
	CurrentScene     string
	SceneDescription string
	LastDiceRoll     *dice.Result
	LastAiResponse   *AiResponse
}

// NewSessionState creates an empty state for the given session.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		Players:   make(map[string]Player),
	}
}

// Clear empties every collection and resets all counters. Called on an
// explicit session leave; a dropped connection never clears state.
func (s *SessionState) Clear() {
	s.Messages = nil
	s.Players = make(map[string]Player)
	s.InitiativeOrder = nil
	s.CurrentTurn = ""
	s.TurnNumber = 0
	s.CurrentScene = ""
	s.SceneDescription = ""
	s.LastDiceRoll = nil
	s.LastAiResponse = nil
}

// ApplyMessage prepends a message and trims the feed tail beyond MaxMessages.
func (s *SessionState) ApplyMessage(msg GameMessage) {
	s.Messages = append([]GameMessage{msg}, s.Messages...)
	if len(s.Messages) > MaxMessages {
		s.Messages = s.Messages[:MaxMessages]
	}
}

// ApplyPlayerJoined inserts the player, or marks the existing roster entry
// online when the user id is already known.
func (s *SessionState) ApplyPlayerJoined(player Player) {
	if s.Players == nil {
		s.Players = make(map[string]Player)
	}
	existing, ok := s.Players[player.UserID]
	if !ok {
		player.IsOnline = true
		s.Players[player.UserID] = player
		return
	}
	existing.IsOnline = true
	if player.CharacterID != "" {
		existing.CharacterID = player.CharacterID
	}
	if player.CharacterName != "" {
		existing.CharacterName = player.CharacterName
	}
	if player.Username != "" {
		existing.Username = player.Username
	}
	s.Players[player.UserID] = existing
}

// ApplyPlayerLeft marks the matching roster entry offline. Unknown user ids
// are ignored; the roster never shrinks during a session.
func (s *SessionState) ApplyPlayerLeft(userID string) {
	player, ok := s.Players[userID]
	if !ok {
		return
	}
	player.IsOnline = false
	s.Players[userID] = player
}

// ApplyDiceRolled records the roll and prepends a synthesized system message
// summarizing it. The now and idGenerator hooks keep the transition
// deterministic under test.
func (s *SessionState) ApplyDiceRolled(result dice.Result, now func() time.Time, idGenerator func() (string, error)) error {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	messageID, err := idGenerator()
	if err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}

	stored := result
	content := stored.Summary()
	if stored.PlayerName != "" {
		content = stored.PlayerName + " rolled " + content
	}

	s.LastDiceRoll = &stored
	s.ApplyMessage(GameMessage{
		ID:        messageID,
		Sender:    Sender{ID: "system", Kind: SenderSystem, Name: "system"},
		Type:      MessageRoll,
		Content:   content,
		Timestamp: now().UTC(),
		DiceData:  &stored,
	})
	return nil
}

// ApplyInitiativeRolled upserts the entry keyed by character id and restores
// the descending order. The sort is stable so equal values keep arrival order.
func (s *SessionState) ApplyInitiativeRolled(entry InitiativeEntry) {
	updated := false
	for i := range s.InitiativeOrder {
		if s.InitiativeOrder[i].CharacterID == entry.CharacterID {
			s.InitiativeOrder[i].Initiative = entry.Initiative
			if entry.CharacterName != "" {
				s.InitiativeOrder[i].CharacterName = entry.CharacterName
			}
			s.InitiativeOrder[i].IsPlayer = entry.IsPlayer
			updated = true
			break
		}
	}
	if !updated {
		entry.IsActive = false
		s.InitiativeOrder = append(s.InitiativeOrder, entry)
	}

	sort.SliceStable(s.InitiativeOrder, func(i, j int) bool {
		return s.InitiativeOrder[i].Initiative > s.InitiativeOrder[j].Initiative
	})
	s.markActiveTurn()
}

// ApplyTurnChanged sets the active turn. When turnNumber is nil the counter
// advances by one; an explicit value below the current counter is ignored so
// the counter stays monotonic.
func (s *SessionState) ApplyTurnChanged(characterID string, turnNumber *int) {
	s.CurrentTurn = characterID
	if turnNumber == nil {
		s.TurnNumber++
	} else if *turnNumber > s.TurnNumber {
		s.TurnNumber = *turnNumber
	}
	s.markActiveTurn()
}

// ApplySceneUpdated overwrites only the fields present on the update.
func (s *SessionState) ApplySceneUpdated(name, description *string) {
	if name != nil {
		s.CurrentScene = *name
	}
	if description != nil {
		s.SceneDescription = *description
	}
}

// ApplyAiResponse records the narration and prepends it to the feed. A
// response carrying turn data additionally applies the turn transition.
func (s *SessionState) ApplyAiResponse(resp AiResponse, now func() time.Time, idGenerator func() (string, error)) error {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	messageID, err := idGenerator()
	if err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}

	stored := resp
	s.LastAiResponse = &stored

	senderName := resp.SenderName
	if senderName == "" {
		senderName = "AI Dungeon Master"
	}
	timestamp := resp.Timestamp
	if timestamp.IsZero() {
		timestamp = now().UTC()
	}
	s.ApplyMessage(GameMessage{
		ID:        messageID,
		Sender:    Sender{ID: "ai", Kind: SenderAI, Name: senderName},
		Type:      MessageAI,
		Content:   resp.Message,
		Timestamp: timestamp,
	})

	if resp.CurrentTurn != nil {
		s.ApplyTurnChanged(*resp.CurrentTurn, resp.TurnNumber)
	}
	return nil
}

// markActiveTurn flags exactly the entry matching CurrentTurn as active.
func (s *SessionState) markActiveTurn() {
	for i := range s.InitiativeOrder {
		s.InitiativeOrder[i].IsActive = s.InitiativeOrder[i].CharacterID == s.CurrentTurn && s.CurrentTurn != ""
	}
}
