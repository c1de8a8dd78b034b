package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bykotofff/dnd-game-sub001/internal/core/dice"
	"github.com/bykotofff/dnd-game-sub001/internal/id"
	"github.com/bykotofff/dnd-game-sub001/internal/session/domain"
	"github.com/bykotofff/dnd-game-sub001/internal/wire"
)

// Parser translates inbound wire frames into semantic events.
//
// One frame may yield several events: a session state update carrying both a
// scene and a turn fans out into SceneUpdated and TurnChanged.
type Parser struct {
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewParser creates a parser with default clock and id generation.
func NewParser() *Parser {
	return &Parser{clock: time.Now, idGenerator: id.NewID}
}

// NewParserWithHooks creates a parser with injected clock and id generation.
func NewParserWithHooks(clock func() time.Time, idGenerator func() (string, error)) *Parser {
	if clock == nil {
		clock = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	return &Parser{clock: clock, idGenerator: idGenerator}
}

type chatPayload struct {
	Content     string   `json:"content"`
	Message     string   `json:"message"`
	SenderID    string   `json:"sender_id"`
	SenderName  string   `json:"sender_name"`
	SenderKind  string   `json:"sender_kind"`
	MessageType string   `json:"message_type"`
	IsWhisper   bool     `json:"is_whisper"`
	WhisperTo   []string `json:"whisper_to"`
}

type joinPayload struct {
	UserID        string `json:"user_id"`
	CharacterID   string `json:"character_id"`
	Username      string `json:"username"`
	CharacterName string `json:"character_name"`
	CurrentHP     *int   `json:"current_hp"`
	MaxHP         *int   `json:"max_hp"`
}

type leavePayload struct {
	UserID     string `json:"user_id"`
	PlayerName string `json:"player_name"`
}

type initiativePayload struct {
	CharacterID   string `json:"character_id"`
	CharacterName string `json:"character_name"`
	Initiative    *int   `json:"initiative"`
	IsPlayer      bool   `json:"is_player"`
}

type aiResponsePayload struct {
	Message      string  `json:"message"`
	SenderName   string  `json:"sender_name"`
	InResponseTo string  `json:"in_response_to"`
	IsFallback   bool    `json:"is_fallback"`
	CurrentTurn  *string `json:"current_turn"`
	TurnNumber   *int    `json:"turn_number"`
}

type sessionStatePayload struct {
	CurrentScene     *string `json:"current_scene"`
	SceneDescription *string `json:"scene_description"`
	CurrentTurn      *string `json:"current_turn"`
	TurnNumber       *int    `json:"turn_number"`
}

type rollRequestPayload struct {
	Message      string `json:"message"`
	PlayerName   string `json:"player_name"`
	Skill        string `json:"skill"`
	DC           int    `json:"dc"`
	Modifier     int    `json:"modifier"`
	Advantage    bool   `json:"advantage"`
	Disadvantage bool   `json:"disadvantage"`
}

// Parse converts one frame into its semantic events. Malformed or unknown
// frames yield a single ProtocolError event; pong frames yield nothing.
func (p *Parser) Parse(frame wire.Frame) []Event {
	if !wire.KnownInboundType(frame.Type) {
		return []Event{ProtocolError{
			FrameType: frame.Type,
			Err:       fmt.Errorf("unsupported frame type %q", frame.Type),
		}}
	}

	switch frame.Type {
	case wire.TypePong:
		return nil
	case wire.TypeChat, wire.TypeAction, wire.TypeSystem:
		return p.parseChat(frame)
	case wire.TypeRoll:
		return p.parseRoll(frame)
	case wire.TypeJoin:
		return p.parseJoin(frame)
	case wire.TypeLeave:
		return p.parseLeave(frame)
	case wire.TypeInitiative:
		return p.parseInitiative(frame)
	case wire.TypeAiResponse:
		return p.parseAiResponse(frame)
	case wire.TypeSessionState:
		return p.parseSessionState(frame)
	case wire.TypeRollRequest:
		return p.parseRollRequest(frame)
	default:
		return []Event{ProtocolError{
			FrameType: frame.Type,
			Err:       fmt.Errorf("unsupported frame type %q", frame.Type),
		}}
	}
}

func (p *Parser) parseChat(frame wire.Frame) []Event {
	var payload chatPayload
	if err := frame.DecodeData(&payload); err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: err}}
	}
	content := payload.Content
	if content == "" {
		content = payload.Message
	}
	if strings.TrimSpace(content) == "" {
		return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("message content is required")}}
	}

	messageID, err := p.idGenerator()
	if err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: fmt.Errorf("generate message id: %w", err)}}
	}

	sender := domain.Sender{
		ID:   payload.SenderID,
		Kind: domain.SenderKind(payload.SenderKind),
		Name: payload.SenderName,
	}
	if sender.ID == "" {
		sender.ID = frame.SenderID
	}
	if !sender.Kind.IsValid() {
		switch frame.Type {
		case wire.TypeSystem:
			sender.Kind = domain.SenderSystem
		default:
			sender.Kind = domain.SenderPlayer
		}
	}
	if sender.Name == "" && sender.Kind == domain.SenderSystem {
		sender.Name = "system"
	}

	messageType := domain.MessageType(payload.MessageType)
	if messageType == "" {
		switch frame.Type {
		case wire.TypeAction:
			messageType = domain.MessageAction
		case wire.TypeSystem:
			messageType = domain.MessageSystem
		default:
			messageType = domain.MessageChat
		}
	}

	timestamp := frame.Timestamp
	if timestamp.IsZero() {
		timestamp = p.clock().UTC()
	}

	return []Event{ChatOrAction{Message: domain.GameMessage{
		ID:        messageID,
		Sender:    sender,
		Type:      messageType,
		Content:   content,
		Timestamp: timestamp,
		IsWhisper: payload.IsWhisper,
		WhisperTo: payload.WhisperTo,
	}}}
}

func (p *Parser) parseRoll(frame wire.Frame) []Event {
	var result dice.Result
	if err := frame.DecodeData(&result); err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: err}}
	}
	if result.Notation == "" {
		return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("roll notation is required")}}
	}
	return []Event{DiceRolled{Result: result}}
}

func (p *Parser) parseJoin(frame wire.Frame) []Event {
	var payload joinPayload
	if err := frame.DecodeData(&payload); err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: err}}
	}
	if payload.UserID == "" {
		return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("join frame missing user_id")}}
	}
	return []Event{PlayerJoined{Player: domain.Player{
		UserID:        payload.UserID,
		CharacterID:   payload.CharacterID,
		Username:      payload.Username,
		CharacterName: payload.CharacterName,
		IsOnline:      true,
		CurrentHP:     payload.CurrentHP,
		MaxHP:         payload.MaxHP,
	}}}
}

func (p *Parser) parseLeave(frame wire.Frame) []Event {
	var payload leavePayload
	if err := frame.DecodeData(&payload); err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: err}}
	}
	if payload.UserID == "" {
		return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("leave frame missing user_id")}}
	}
	return []Event{PlayerLeft{UserID: payload.UserID, PlayerName: payload.PlayerName}}
}

func (p *Parser) parseInitiative(frame wire.Frame) []Event {
	var payload initiativePayload
	if err := frame.DecodeData(&payload); err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: err}}
	}
	if payload.CharacterID == "" {
		return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("initiative frame missing character_id")}}
	}
	if payload.Initiative == nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("initiative frame missing initiative value")}}
	}
	return []Event{InitiativeRolled{
		CharacterID:   payload.CharacterID,
		CharacterName: payload.CharacterName,
		Initiative:    *payload.Initiative,
		IsPlayer:      payload.IsPlayer,
	}}
}

func (p *Parser) parseAiResponse(frame wire.Frame) []Event {
	var payload aiResponsePayload
	if err := frame.DecodeData(&payload); err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: err}}
	}
	if strings.TrimSpace(payload.Message) == "" {
		return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("ai response missing message")}}
	}
	timestamp := frame.Timestamp
	if timestamp.IsZero() {
		timestamp = p.clock().UTC()
	}
	return []Event{AiResponse{Response: domain.AiResponse{
		Message:      payload.Message,
		SenderName:   payload.SenderName,
		InResponseTo: payload.InResponseTo,
		IsFallback:   payload.IsFallback,
		Timestamp:    timestamp,
		CurrentTurn:  payload.CurrentTurn,
		TurnNumber:   payload.TurnNumber,
	}}}
}

// parseSessionState fans one frame out into up to two events; carrying both
// a scene field and a turn field is legitimate and yields both.
func (p *Parser) parseSessionState(frame wire.Frame) []Event {
	var payload sessionStatePayload
	if err := frame.DecodeData(&payload); err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: err}}
	}

	var events []Event
	if payload.CurrentScene != nil || payload.SceneDescription != nil {
		events = append(events, SceneUpdated{
			Name:        payload.CurrentScene,
			Description: payload.SceneDescription,
		})
	}
	if payload.CurrentTurn != nil {
		events = append(events, TurnChanged{
			CharacterID: *payload.CurrentTurn,
			TurnNumber:  payload.TurnNumber,
		})
	}
	if len(events) == 0 {
		return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("session state update carries no known fields")}}
	}
	return events
}

func (p *Parser) parseRollRequest(frame wire.Frame) []Event {
	var payload rollRequestPayload
	if err := frame.DecodeData(&payload); err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: err}}
	}
	content := payload.Message
	if strings.TrimSpace(content) == "" {
		if payload.Skill == "" || payload.PlayerName == "" {
			return []Event{ProtocolError{FrameType: frame.Type, Err: errors.New("roll request missing message")}}
		}
		content = fmt.Sprintf("%s must make a %s check (DC %d)", payload.PlayerName, payload.Skill, payload.DC)
	}

	messageID, err := p.idGenerator()
	if err != nil {
		return []Event{ProtocolError{FrameType: frame.Type, Err: fmt.Errorf("generate message id: %w", err)}}
	}
	timestamp := frame.Timestamp
	if timestamp.IsZero() {
		timestamp = p.clock().UTC()
	}
	return []Event{ChatOrAction{Message: domain.GameMessage{
		ID:        messageID,
		Sender:    domain.Sender{ID: "system", Kind: domain.SenderSystem, Name: "system"},
		Type:      domain.MessageSystem,
		Content:   content,
		Timestamp: timestamp,
	}}}
}
