package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bykotofff/dnd-game-sub001/internal/core/dice"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("msg-%d", n), nil
	}
}

func TestApplyMessageCapsFeedNewestFirst(t *testing.T) {
	state := NewSessionState("sess-1")
	for i := 0; i < MaxMessages+20; i++ {
		state.ApplyMessage(GameMessage{
			ID:      fmt.Sprintf("m-%d", i),
			Content: fmt.Sprintf("message %d", i),
		})
	}

	if len(state.Messages) != MaxMessages {
		t.Fatalf("feed length = %d, want %d", len(state.Messages), MaxMessages)
	}
	if state.Messages[0].ID != fmt.Sprintf("m-%d", MaxMessages+19) {
		t.Fatalf("index 0 = %q, want most recent message", state.Messages[0].ID)
	}
	// Oldest surviving entry is the one 100 back from the newest.
	if last := state.Messages[len(state.Messages)-1].ID; last != "m-20" {
		t.Fatalf("tail = %q, want m-20", last)
	}
}

func TestApplyPlayerJoinedMergesOnRejoin(t *testing.T) {
	state := NewSessionState("sess-1")
	state.ApplyPlayerJoined(Player{UserID: "u-1", Username: "aria", CharacterName: "Aria"})
	state.ApplyPlayerLeft("u-1")
	if state.Players["u-1"].IsOnline {
		t.Fatal("player should be offline after leaving")
	}

	state.ApplyPlayerJoined(Player{UserID: "u-1", Username: "aria"})
	if len(state.Players) != 1 {
		t.Fatalf("roster size = %d, want 1", len(state.Players))
	}
	player := state.Players["u-1"]
	if !player.IsOnline {
		t.Fatal("rejoining should mark the entry online")
	}
	if player.CharacterName != "Aria" {
		t.Fatalf("merge dropped character name, got %q", player.CharacterName)
	}
}

func TestApplyPlayerLeftUnknownUserIgnored(t *testing.T) {
	state := NewSessionState("sess-1")
	state.ApplyPlayerLeft("ghost")
	if len(state.Players) != 0 {
		t.Fatal("unknown leave must not create roster entries")
	}
}

func TestApplyInitiativeRolledSortedWithStableTies(t *testing.T) {
	state := NewSessionState("sess-1")
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "A", Initiative: 12})
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "B", Initiative: 18})
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "C", Initiative: 18})

	got := make([]string, len(state.InitiativeOrder))
	for i, entry := range state.InitiativeOrder {
		got[i] = entry.CharacterID
	}
	want := []string{"B", "C", "A"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestApplyInitiativeRolledUpsertsByCharacter(t *testing.T) {
	state := NewSessionState("sess-1")
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "A", Initiative: 5})
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "B", Initiative: 10})
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "A", Initiative: 20})

	if len(state.InitiativeOrder) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(state.InitiativeOrder))
	}
	if state.InitiativeOrder[0].CharacterID != "A" || state.InitiativeOrder[0].Initiative != 20 {
		t.Fatalf("expected A at 20 first, got %+v", state.InitiativeOrder[0])
	}
}

func TestApplyTurnChangedMarksExactlyOneActive(t *testing.T) {
	state := NewSessionState("sess-1")
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "A", Initiative: 12})
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "B", Initiative: 18})

	turn := 3
	state.ApplyTurnChanged("A", &turn)

	if state.CurrentTurn != "A" {
		t.Fatalf("current turn = %q, want A", state.CurrentTurn)
	}
	if state.TurnNumber != 3 {
		t.Fatalf("turn number = %d, want 3", state.TurnNumber)
	}
	active := 0
	for _, entry := range state.InitiativeOrder {
		if entry.IsActive {
			active++
			if entry.CharacterID != "A" {
				t.Fatalf("active entry = %q, want A", entry.CharacterID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("active entries = %d, want 1", active)
	}

	state.ApplyTurnChanged("B", nil)
	if state.TurnNumber != 4 {
		t.Fatalf("turn number = %d, want 4 after implicit advance", state.TurnNumber)
	}
	for _, entry := range state.InitiativeOrder {
		if entry.CharacterID == "A" && entry.IsActive {
			t.Fatal("previous turn holder still marked active")
		}
	}
}

func TestApplyTurnChangedNeverDecreasesCounter(t *testing.T) {
	state := NewSessionState("sess-1")
	turn := 7
	state.ApplyTurnChanged("A", &turn)

	stale := 2
	state.ApplyTurnChanged("B", &stale)
	if state.TurnNumber != 7 {
		t.Fatalf("turn number = %d, want 7 (stale value ignored)", state.TurnNumber)
	}
	if state.CurrentTurn != "B" {
		t.Fatalf("current turn = %q, want B", state.CurrentTurn)
	}
}

func TestApplyDiceRolledSynthesizesSystemMessage(t *testing.T) {
	state := NewSessionState("sess-1")
	result := dice.Result{
		Notation:        "1d20",
		IndividualRolls: []int{15},
		Total:           15,
	}
	if err := state.ApplyDiceRolled(result, fixedClock, sequentialIDs()); err != nil {
		t.Fatalf("apply dice rolled: %v", err)
	}

	if state.LastDiceRoll == nil || state.LastDiceRoll.Total != 15 {
		t.Fatalf("last dice roll = %+v, want total 15", state.LastDiceRoll)
	}
	if state.LastDiceRoll.IsCritical {
		t.Fatal("15 is not a critical")
	}
	if len(state.Messages) != 1 {
		t.Fatalf("feed length = %d, want 1", len(state.Messages))
	}
	msg := state.Messages[0]
	if msg.Sender.Kind != SenderSystem {
		t.Fatalf("sender kind = %q, want system", msg.Sender.Kind)
	}
	if msg.Type != MessageRoll {
		t.Fatalf("message type = %q, want roll", msg.Type)
	}
	if !strings.Contains(msg.Content, "15") {
		t.Fatalf("summary %q should mention the total", msg.Content)
	}
	if msg.DiceData == nil {
		t.Fatal("expected dice data on the synthesized message")
	}
}

func TestApplySceneUpdatedPartial(t *testing.T) {
	state := NewSessionState("sess-1")
	name := "The Sunken Crypt"
	desc := "Water drips from the vaulted ceiling."
	state.ApplySceneUpdated(&name, &desc)

	newName := "The Ossuary"
	state.ApplySceneUpdated(&newName, nil)
	if state.CurrentScene != "The Ossuary" {
		t.Fatalf("scene = %q, want The Ossuary", state.CurrentScene)
	}
	if state.SceneDescription != desc {
		t.Fatalf("description = %q, want prior value kept", state.SceneDescription)
	}
}

func TestApplyAiResponseComposesTurnChange(t *testing.T) {
	state := NewSessionState("sess-1")
	turnCharacter := "C"
	turnNumber := 5
	resp := AiResponse{
		Message:     "The goblin snarls and lunges.",
		CurrentTurn: &turnCharacter,
		TurnNumber:  &turnNumber,
	}
	if err := state.ApplyAiResponse(resp, fixedClock, sequentialIDs()); err != nil {
		t.Fatalf("apply ai response: %v", err)
	}

	if state.LastAiResponse == nil || state.LastAiResponse.Message != resp.Message {
		t.Fatalf("last ai response = %+v", state.LastAiResponse)
	}
	if state.Messages[0].Sender.Kind != SenderAI {
		t.Fatalf("sender kind = %q, want ai", state.Messages[0].Sender.Kind)
	}
	if state.CurrentTurn != "C" || state.TurnNumber != 5 {
		t.Fatalf("turn = (%q, %d), want (C, 5)", state.CurrentTurn, state.TurnNumber)
	}
}

func TestClearResetsEverything(t *testing.T) {
	state := NewSessionState("sess-1")
	for i := 0; i < 5; i++ {
		state.ApplyMessage(GameMessage{ID: fmt.Sprintf("m-%d", i)})
	}
	state.ApplyPlayerJoined(Player{UserID: "u-1"})
	state.ApplyPlayerJoined(Player{UserID: "u-2"})
	state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: "A", Initiative: 9})
	state.ApplyTurnChanged("A", nil)

	state.Clear()

	if len(state.Messages) != 0 {
		t.Fatalf("messages = %d, want 0", len(state.Messages))
	}
	if len(state.Players) != 0 {
		t.Fatalf("players = %d, want 0", len(state.Players))
	}
	if len(state.InitiativeOrder) != 0 {
		t.Fatalf("initiative = %d, want 0", len(state.InitiativeOrder))
	}
	if state.CurrentTurn != "" || state.TurnNumber != 0 {
		t.Fatalf("turn = (%q, %d), want reset", state.CurrentTurn, state.TurnNumber)
	}
	if state.LastDiceRoll != nil || state.LastAiResponse != nil {
		t.Fatal("expected roll and ai response cleared")
	}
}

func TestInitiativeSortedAfterEverySequence(t *testing.T) {
	state := NewSessionState("sess-1")
	values := []int{4, 19, 11, 19, 2, 11, 20, 7}
	for i, v := range values {
		state.ApplyInitiativeRolled(InitiativeEntry{CharacterID: fmt.Sprintf("c-%d", i), Initiative: v})
		for j := 1; j < len(state.InitiativeOrder); j++ {
			if state.InitiativeOrder[j-1].Initiative < state.InitiativeOrder[j].Initiative {
				t.Fatalf("order not descending after insert %d: %+v", i, state.InitiativeOrder)
			}
		}
	}
}
