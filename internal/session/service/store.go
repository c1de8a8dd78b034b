// Package service implements the session store: the single authority for
// local session state. Inbound frames, REST fallbacks, and bootstrap data
// all funnel through the same domain transitions, and subscribers observe
// every change after it has been applied.
package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bykotofff/dnd-game-sub001/internal/api/rest"
	"github.com/bykotofff/dnd-game-sub001/internal/core/dice"
	"github.com/bykotofff/dnd-game-sub001/internal/event"
	"github.com/bykotofff/dnd-game-sub001/internal/id"
	platformerrors "github.com/bykotofff/dnd-game-sub001/internal/platform/errors"
	"github.com/bykotofff/dnd-game-sub001/internal/session/domain"
	"github.com/bykotofff/dnd-game-sub001/internal/transport/ws"
	"github.com/bykotofff/dnd-game-sub001/internal/wire"
)

// bootstrapMessagePage is how much history the join sequence loads; the
// feed cap trims anything beyond it.
const bootstrapMessagePage = domain.MaxMessages

// Conn is the live connection surface the store depends on.
type Conn interface {
	Connect(sessionID string) error
	Disconnect()
	Send(frame wire.Frame) error
	State() ws.State
	Events() <-chan ws.Event
}

// API is the REST collaborator surface the store depends on.
type API interface {
	JoinSession(ctx context.Context, sessionID, characterID string) error
	LeaveSession(ctx context.Context, sessionID string) error
	GetSnapshot(ctx context.Context, sessionID string) (rest.Snapshot, error)
	GetActivePlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	GetInitiativeOrder(ctx context.Context, sessionID string) ([]domain.InitiativeEntry, error)
	GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]domain.GameMessage, error)
	RollDice(ctx context.Context, sessionID, notation, purpose string) (dice.Result, error)
	RollInitiative(ctx context.Context, sessionID, characterID string) (rest.InitiativeRoll, error)
	AdvanceTurn(ctx context.Context, sessionID, characterID string) (rest.TurnAdvance, error)
}

// StateListener observes connection lifecycle transitions.
type StateListener func(ws.State)

// Store owns the session state and its event flow.
type Store struct {
	conn   Conn
	api    API
	parser *event.Parser

	dispatcher    *event.Dispatcher
	stateListener StateListener

	clock       func() time.Time
	idGenerator func() (string, error)

	// applyMu serializes apply+dispatch pairs so subscribers observe
	// transitions in a single total order.
	applyMu sync.Mutex

	mu        sync.Mutex
	state     *domain.SessionState
	sessionID string
	joined    bool

	done chan struct{}
}

// Option adjusts store construction.
type Option func(*Store)

// WithStateListener registers a connection lifecycle observer.
func WithStateListener(listener StateListener) Option {
	return func(s *Store) { s.stateListener = listener }
}

// WithHooks injects the clock and id generator used by transitions.
func WithHooks(clock func() time.Time, idGenerator func() (string, error)) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
		if idGenerator != nil {
			s.idGenerator = idGenerator
		}
	}
}

// NewStore creates a store and starts consuming connection events. The
// consumer goroutine exits when the connection's event channel closes.
func NewStore(conn Conn, api API, opts ...Option) *Store {
	store := &Store{
		conn:        conn,
		api:         api,
		dispatcher:  event.NewDispatcher(),
		clock:       time.Now,
		idGenerator: id.NewID,
		state:       domain.NewSessionState(""),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(store)
	}
	store.parser = event.NewParserWithHooks(store.clock, store.idGenerator)

	go store.run()
	return store
}

// Done is closed when the event consumer goroutine has exited.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Subscribe registers a handler for one semantic event kind. The returned
// function removes the subscription.
func (s *Store) Subscribe(kind event.Kind, handler event.Handler) func() {
	return s.dispatcher.Subscribe(kind, handler)
}

func (s *Store) run() {
	defer close(s.done)
	for evt := range s.conn.Events() {
		switch evt.Kind {
		case ws.EventStateChanged:
			log.Printf("connection state: %s", evt.State)
			if s.stateListener != nil {
				s.stateListener(evt.State)
			}
		case ws.EventFrame:
			for _, semantic := range s.parser.Parse(evt.Frame) {
				s.applyAndDispatch(semantic)
			}
		case ws.EventProtocolError:
			s.applyAndDispatch(event.ProtocolError{Err: evt.Err})
		}
	}
}

// applyAndDispatch mutates state and notifies subscribers as one unit.
func (s *Store) applyAndDispatch(evt event.Event) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	s.apply(evt)
	s.mu.Unlock()

	s.dispatcher.Dispatch(evt)
}

// apply runs the matching domain transition. Callers hold s.mu.
func (s *Store) apply(evt event.Event) {
	switch e := evt.(type) {
	case event.ChatOrAction:
		s.state.ApplyMessage(e.Message)
	case event.PlayerJoined:
		s.state.ApplyPlayerJoined(e.Player)
	case event.PlayerLeft:
		s.state.ApplyPlayerLeft(e.UserID)
	case event.DiceRolled:
		if err := s.state.ApplyDiceRolled(e.Result, s.clock, s.idGenerator); err != nil {
			log.Printf("apply dice roll: %v", err)
		}
	case event.InitiativeRolled:
		s.state.ApplyInitiativeRolled(domain.InitiativeEntry{
			CharacterID:   e.CharacterID,
			CharacterName: e.CharacterName,
			Initiative:    e.Initiative,
			IsPlayer:      e.IsPlayer,
		})
	case event.TurnChanged:
		s.state.ApplyTurnChanged(e.CharacterID, e.TurnNumber)
	case event.SceneUpdated:
		s.state.ApplySceneUpdated(e.Name, e.Description)
	case event.AiResponse:
		if err := s.state.ApplyAiResponse(e.Response, s.clock, s.idGenerator); err != nil {
			log.Printf("apply ai response: %v", err)
		}
	case event.ProtocolError:
		log.Printf("protocol error: %v", e.Err)
	}
}

// JoinSession runs the bootstrap sequence: REST join, state seeding from
// the snapshot endpoints, then the live connection. Any failure rolls the
// REST membership back and leaves the store unjoined.
func (s *Store) JoinSession(ctx context.Context, sessionID, characterID string) error {
	if sessionID == "" {
		return platformerrors.New(platformerrors.CodeSessionJoinFailed, "session id is required")
	}

	s.mu.Lock()
	if s.joined {
		already := s.sessionID
		s.mu.Unlock()
		return platformerrors.WithMetadata(platformerrors.CodeSessionJoinFailed,
			"already joined a session",
			map[string]string{"session_id": already})
	}
	s.mu.Unlock()

	if err := s.api.JoinSession(ctx, sessionID, characterID); err != nil {
		return err
	}

	state, err := s.loadInitialState(ctx, sessionID)
	if err != nil {
		s.rollbackJoin(ctx, sessionID)
		return err
	}

	// Frames arriving during the connection handshake must land on the
	// seeded state, not the placeholder it replaces.
	s.mu.Lock()
	s.state = state
	s.sessionID = sessionID
	s.joined = true
	s.mu.Unlock()

	if err := s.conn.Connect(sessionID); err != nil {
		s.mu.Lock()
		s.state = domain.NewSessionState("")
		s.sessionID = ""
		s.joined = false
		s.mu.Unlock()
		s.rollbackJoin(ctx, sessionID)
		return err
	}
	return nil
}

func (s *Store) loadInitialState(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	snapshot, err := s.api.GetSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	players, err := s.api.GetActivePlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	initiative, err := s.api.GetInitiativeOrder(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.api.GetMessages(ctx, sessionID, bootstrapMessagePage, 0)
	if err != nil {
		return nil, err
	}

	state := domain.NewSessionState(sessionID)
	state.ApplySceneUpdated(snapshot.CurrentScene, snapshot.SceneDescription)
	state.CurrentTurn = snapshot.CurrentTurn
	state.TurnNumber = snapshot.TurnNumber
	if len(initiative) == 0 {
		// The snapshot embeds the order too; keep it when the dedicated
		// endpoint has nothing.
		initiative = snapshot.InitiativeOrder
	}
	for _, entry := range initiative {
		state.ApplyInitiativeRolled(entry)
	}
	// Seed the roster directly; ApplyPlayerJoined would force everyone
	// online, and the snapshot knows who actually is.
	for _, player := range players {
		state.Players[player.UserID] = player
	}
	// History arrives newest first; replay oldest first so the prepend
	// transition rebuilds the same order.
	for i := len(messages) - 1; i >= 0; i-- {
		state.ApplyMessage(messages[i])
	}
	return state, nil
}

func (s *Store) rollbackJoin(ctx context.Context, sessionID string) {
	if err := s.api.LeaveSession(ctx, sessionID); err != nil {
		log.Printf("rollback session join %s: %v", sessionID, err)
	}
}

// LeaveSession drops the connection, clears local state, and releases the
// REST membership. State is cleared even when the REST call fails.
func (s *Store) LeaveSession(ctx context.Context) error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return platformerrors.New(platformerrors.CodeSessionNotJoined, "no session joined")
	}
	sessionID := s.sessionID
	s.joined = false
	s.sessionID = ""
	s.state.Clear()
	s.state.SessionID = ""
	s.mu.Unlock()

	s.conn.Disconnect()

	if err := s.api.LeaveSession(ctx, sessionID); err != nil {
		log.Printf("leave session %s: %v", sessionID, err)
		return err
	}
	return nil
}

// SendChat sends a chat message over the live connection.
func (s *Store) SendChat(content string) error {
	return s.sendFrame(func(sessionID string) (wire.Frame, error) {
		return wire.EncodeChat(sessionID, content, s.clock())
	})
}

// SendWhisper sends a chat message visible only to the listed user ids.
func (s *Store) SendWhisper(content string, to []string) error {
	return s.sendFrame(func(sessionID string) (wire.Frame, error) {
		return wire.EncodeWhisper(sessionID, content, to, s.clock())
	})
}

// SendAction sends a player action over the live connection.
func (s *Store) SendAction(action string) error {
	return s.sendFrame(func(sessionID string) (wire.Frame, error) {
		return wire.EncodeAction(sessionID, action, s.clock())
	})
}

func (s *Store) sendFrame(build func(sessionID string) (wire.Frame, error)) error {
	s.mu.Lock()
	joined := s.joined
	sessionID := s.sessionID
	s.mu.Unlock()
	if !joined {
		return platformerrors.New(platformerrors.CodeSessionNotJoined, "no session joined")
	}

	frame, err := build(sessionID)
	if err != nil {
		return err
	}
	return s.conn.Send(frame)
}

// RollDice requests a dice roll. The live connection carries the request
// when available; otherwise the REST fallback resolves the roll and the
// result is applied through the same transition a roll frame would take.
func (s *Store) RollDice(ctx context.Context, notation, purpose string) error {
	if _, err := dice.ParseNotation(notation); err != nil {
		return err
	}

	s.mu.Lock()
	joined := s.joined
	sessionID := s.sessionID
	s.mu.Unlock()
	if !joined {
		return platformerrors.New(platformerrors.CodeSessionNotJoined, "no session joined")
	}

	if s.conn.State().Live() {
		frame, err := wire.EncodeRoll(sessionID, notation, purpose, s.clock())
		if err != nil {
			return err
		}
		return s.conn.Send(frame)
	}

	result, err := s.api.RollDice(ctx, sessionID, notation, purpose)
	if err != nil {
		return err
	}
	s.applyAndDispatch(event.DiceRolled{Result: result})
	return nil
}

// RollInitiative requests an initiative roll for one character, with the
// same live-or-fallback split as RollDice.
func (s *Store) RollInitiative(ctx context.Context, characterID string) error {
	s.mu.Lock()
	joined := s.joined
	sessionID := s.sessionID
	s.mu.Unlock()
	if !joined {
		return platformerrors.New(platformerrors.CodeSessionNotJoined, "no session joined")
	}

	if s.conn.State().Live() {
		frame, err := wire.EncodeInitiative(sessionID, characterID, s.clock())
		if err != nil {
			return err
		}
		return s.conn.Send(frame)
	}

	roll, err := s.api.RollInitiative(ctx, sessionID, characterID)
	if err != nil {
		return err
	}
	s.applyAndDispatch(event.InitiativeRolled{
		CharacterID:   roll.CharacterID,
		CharacterName: roll.CharacterName,
		Initiative:    roll.Initiative,
		IsPlayer:      roll.IsPlayer,
	})
	return nil
}

// AdvanceTurn moves the active turn through the REST collaborator; the
// server remains the turn authority even while the connection is live.
func (s *Store) AdvanceTurn(ctx context.Context, characterID string) error {
	s.mu.Lock()
	joined := s.joined
	sessionID := s.sessionID
	s.mu.Unlock()
	if !joined {
		return platformerrors.New(platformerrors.CodeSessionNotJoined, "no session joined")
	}

	advance, err := s.api.AdvanceTurn(ctx, sessionID, characterID)
	if err != nil {
		return err
	}
	s.applyAndDispatch(event.TurnChanged{
		CharacterID: advance.CurrentTurn,
		TurnNumber:  advance.TurnNumber,
	})
	return nil
}

// Joined reports whether a session bootstrap has completed.
func (s *Store) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// SessionID returns the joined session id, or empty.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// ConnectionState returns the live connection lifecycle state.
func (s *Store) ConnectionState() ws.State {
	return s.conn.State()
}

// Snapshot returns an independent copy of the whole session state.
func (s *Store) Snapshot() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *s.state
	copied.Messages = append([]domain.GameMessage(nil), s.state.Messages...)
	copied.InitiativeOrder = append([]domain.InitiativeEntry(nil), s.state.InitiativeOrder...)
	copied.Players = make(map[string]domain.Player, len(s.state.Players))
	for userID, player := range s.state.Players {
		copied.Players[userID] = player
	}
	if s.state.LastDiceRoll != nil {
		roll := *s.state.LastDiceRoll
		copied.LastDiceRoll = &roll
	}
	if s.state.LastAiResponse != nil {
		resp := *s.state.LastAiResponse
		copied.LastAiResponse = &resp
	}
	return copied
}

// Messages returns a copy of the feed, newest first.
func (s *Store) Messages() []domain.GameMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.GameMessage(nil), s.state.Messages...)
}

// Players returns a copy of the roster.
func (s *Store) Players() []domain.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := make([]domain.Player, 0, len(s.state.Players))
	for _, player := range s.state.Players {
		players = append(players, player)
	}
	return players
}

// InitiativeOrder returns a copy of the turn order, highest first.
func (s *Store) InitiativeOrder() []domain.InitiativeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InitiativeEntry(nil), s.state.InitiativeOrder...)
}

// CurrentTurn returns the active character id and the turn counter.
func (s *Store) CurrentTurn() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentTurn, s.state.TurnNumber
}

// Scene returns the scene name and description.
func (s *Store) Scene() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentScene, s.state.SceneDescription
}
