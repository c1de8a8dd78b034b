// Package rest talks to the game backend over HTTP: session membership,
// bootstrap snapshots, message history, and fallback dice rolls for when
// the live connection is down.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bykotofff/dnd-game-sub001/internal/core/dice"
	platformerrors "github.com/bykotofff/dnd-game-sub001/internal/platform/errors"
	"github.com/bykotofff/dnd-game-sub001/internal/session/domain"
)

const defaultRequestTimeout = 15 * time.Second

// Client is the REST collaborator for one authenticated user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	tracer     trace.Tracer
}

// Option adjusts client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a REST client rooted at baseURL, e.g. https://host/api.
func NewClient(baseURL, token string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		tracer:     otel.Tracer("internal/api/rest"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Snapshot is the server-side view of a session used to seed local state.
type Snapshot struct {
	SessionID        string
	Name             string
	Status           string
	CurrentScene     *string
	SceneDescription *string
	CurrentTurn      string
	TurnNumber       int
	InitiativeOrder  []domain.InitiativeEntry
}

type snapshotResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Status           string  `json:"status"`
	CurrentScene     *string `json:"current_scene"`
	SceneDescription *string `json:"scene_description"`
	TurnInfo         struct {
		CurrentTurn     string `json:"current_turn"`
		RoundNumber     int    `json:"round_number"`
		InitiativeOrder []struct {
			CharacterID   string `json:"character_id"`
			CharacterName string `json:"character_name"`
			Initiative    int    `json:"initiative"`
			IsPlayer      bool   `json:"is_player"`
		} `json:"initiative_order"`
	} `json:"turn_info"`
}

// JoinSession registers the user as a session participant. CharacterID may
// be empty for spectating DMs.
func (c *Client) JoinSession(ctx context.Context, sessionID, characterID string) error {
	body := map[string]string{}
	if characterID != "" {
		body["character_id"] = characterID
	}
	return c.call(ctx, "rest.JoinSession", http.MethodPost,
		c.gamePath(sessionID, "join"), body, nil, sessionID)
}

// LeaveSession removes the user from the session roster.
func (c *Client) LeaveSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, "rest.LeaveSession", http.MethodPost,
		c.gamePath(sessionID, "leave"), struct{}{}, nil, sessionID)
}

// GetSnapshot fetches the session detail used to seed scene and turn state.
func (c *Client) GetSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	var resp snapshotResponse
	err := c.call(ctx, "rest.GetSnapshot", http.MethodGet,
		c.gamePath(sessionID, ""), nil, &resp, sessionID)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		SessionID:        resp.ID,
		Name:             resp.Name,
		Status:           resp.Status,
		CurrentScene:     resp.CurrentScene,
		SceneDescription: resp.SceneDescription,
		CurrentTurn:      resp.TurnInfo.CurrentTurn,
		TurnNumber:       resp.TurnInfo.RoundNumber,
	}
	for _, entry := range resp.TurnInfo.InitiativeOrder {
		snapshot.InitiativeOrder = append(snapshot.InitiativeOrder, domain.InitiativeEntry{
			CharacterID:   entry.CharacterID,
			CharacterName: entry.CharacterName,
			Initiative:    entry.Initiative,
			IsPlayer:      entry.IsPlayer,
		})
	}
	if snapshot.SessionID == "" {
		snapshot.SessionID = sessionID
	}
	return snapshot, nil
}

type playersResponse struct {
	GameID  string `json:"game_id"`
	Players []struct {
		UserID        string `json:"user_id"`
		CharacterID   string `json:"character_id"`
		Username      string `json:"username"`
		CharacterName string `json:"character_name"`
		IsOnline      bool   `json:"is_online"`
		Initiative    *int   `json:"initiative"`
		CurrentHP     *int   `json:"current_hp"`
		MaxHP         *int   `json:"max_hp"`
	} `json:"players"`
}

// GetActivePlayers fetches the session roster.
func (c *Client) GetActivePlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	var resp playersResponse
	err := c.call(ctx, "rest.GetActivePlayers", http.MethodGet,
		c.gamePath(sessionID, "players"), nil, &resp, sessionID)
	if err != nil {
		return nil, err
	}

	players := make([]domain.Player, 0, len(resp.Players))
	for _, p := range resp.Players {
		players = append(players, domain.Player{
			UserID:        p.UserID,
			CharacterID:   p.CharacterID,
			Username:      p.Username,
			CharacterName: p.CharacterName,
			IsOnline:      p.IsOnline,
			Initiative:    p.Initiative,
			CurrentHP:     p.CurrentHP,
			MaxHP:         p.MaxHP,
		})
	}
	return players, nil
}

type initiativeOrderResponse struct {
	GameID  string `json:"game_id"`
	Entries []struct {
		CharacterID   string `json:"character_id"`
		CharacterName string `json:"character_name"`
		Initiative    int    `json:"initiative"`
		IsPlayer      bool   `json:"is_player"`
	} `json:"initiative_order"`
}

// GetInitiativeOrder fetches the current encounter turn order.
func (c *Client) GetInitiativeOrder(ctx context.Context, sessionID string) ([]domain.InitiativeEntry, error) {
	var resp initiativeOrderResponse
	err := c.call(ctx, "rest.GetInitiativeOrder", http.MethodGet,
		c.gamePath(sessionID, "initiative"), nil, &resp, sessionID)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.InitiativeEntry, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		entries = append(entries, domain.InitiativeEntry{
			CharacterID:   entry.CharacterID,
			CharacterName: entry.CharacterName,
			Initiative:    entry.Initiative,
			IsPlayer:      entry.IsPlayer,
		})
	}
	return entries, nil
}

type messagesResponse struct {
	GameID   string `json:"game_id"`
	Messages []struct {
		ID          string       `json:"id"`
		SenderID    string       `json:"sender_id"`
		SenderName  string       `json:"sender_name"`
		SenderKind  string       `json:"sender_kind"`
		MessageType string       `json:"message_type"`
		Content     string       `json:"content"`
		Timestamp   time.Time    `json:"timestamp"`
		DiceData    *dice.Result `json:"dice_data"`
		IsWhisper   bool         `json:"is_whisper"`
		WhisperTo   []string     `json:"whisper_to"`
	} `json:"messages"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// GetMessages fetches a page of message history, newest first.
func (c *Client) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]domain.GameMessage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	path := c.gamePath(sessionID, "messages")
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp messagesResponse
	if err := c.call(ctx, "rest.GetMessages", http.MethodGet, path, nil, &resp, sessionID); err != nil {
		return nil, err
	}

	messages := make([]domain.GameMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		kind := domain.SenderKind(m.SenderKind)
		if !kind.IsValid() {
			kind = domain.SenderPlayer
		}
		messageType := domain.MessageType(m.MessageType)
		if messageType == "" {
			messageType = domain.MessageChat
		}
		messages = append(messages, domain.GameMessage{
			ID:        m.ID,
			Sender:    domain.Sender{ID: m.SenderID, Kind: kind, Name: m.SenderName},
			Type:      messageType,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			DiceData:  m.DiceData,
			IsWhisper: m.IsWhisper,
			WhisperTo: m.WhisperTo,
		})
	}
	return messages, nil
}

type rollResponse struct {
	Notation string `json:"notation"`
	Purpose  string `json:"purpose"`
	Rolls    []int  `json:"rolls"`
	Total    int    `json:"total"`
	Player   string `json:"player"`
}

// RollDice asks the server to roll on the user's behalf. Used when the live
// connection is down; the result feeds the same state transition as a roll
// frame would.
func (c *Client) RollDice(ctx context.Context, sessionID, notation, purpose string) (dice.Result, error) {
	parsed, err := dice.ParseNotation(notation)
	if err != nil {
		return dice.Result{}, err
	}

	var resp rollResponse
	err = c.call(ctx, "rest.RollDice", http.MethodPost,
		c.gamePath(sessionID, "roll"),
		map[string]string{"notation": parsed.String(), "purpose": purpose},
		&resp, sessionID)
	if err != nil {
		return dice.Result{}, err
	}

	result := dice.Result{
		Notation:        resp.Notation,
		IndividualRolls: resp.Rolls,
		Total:           resp.Total,
		PlayerName:      resp.Player,
		Purpose:         resp.Purpose,
	}
	if parsed.Modifier != 0 {
		result.Modifiers = map[string]int{"base": parsed.Modifier}
	}
	if parsed.Count == 1 && parsed.Sides == 20 && len(resp.Rolls) == 1 {
		result.IsCritical = resp.Rolls[0] == 20
		result.IsFumble = resp.Rolls[0] == 1
	}
	return result, nil
}

type initiativeResponse struct {
	CharacterID   string `json:"character_id"`
	CharacterName string `json:"character_name"`
	Initiative    int    `json:"initiative"`
	IsPlayer      bool   `json:"is_player"`
}

// InitiativeRoll is one character's server-resolved initiative value.
type InitiativeRoll struct {
	CharacterID   string
	CharacterName string
	Initiative    int
	IsPlayer      bool
}

// RollInitiative asks the server to roll initiative for one character.
func (c *Client) RollInitiative(ctx context.Context, sessionID, characterID string) (InitiativeRoll, error) {
	var resp initiativeResponse
	err := c.call(ctx, "rest.RollInitiative", http.MethodPost,
		c.gamePath(sessionID, "initiative"),
		map[string]string{"character_id": characterID},
		&resp, sessionID)
	if err != nil {
		return InitiativeRoll{}, err
	}
	return InitiativeRoll{
		CharacterID:   resp.CharacterID,
		CharacterName: resp.CharacterName,
		Initiative:    resp.Initiative,
		IsPlayer:      resp.IsPlayer,
	}, nil
}

type turnResponse struct {
	CurrentTurn string `json:"current_turn"`
	TurnNumber  *int   `json:"turn_number"`
}

// TurnAdvance is the server's view of the turn after advancing it.
type TurnAdvance struct {
	CurrentTurn string
	TurnNumber  *int
}

// AdvanceTurn moves the active turn. CharacterID may be empty to let the
// server pick the next entry in initiative order.
func (c *Client) AdvanceTurn(ctx context.Context, sessionID, characterID string) (TurnAdvance, error) {
	body := map[string]string{}
	if characterID != "" {
		body["character_id"] = characterID
	}
	var resp turnResponse
	err := c.call(ctx, "rest.AdvanceTurn", http.MethodPost,
		c.gamePath(sessionID, "turn"), body, &resp, sessionID)
	if err != nil {
		return TurnAdvance{}, err
	}
	return TurnAdvance{CurrentTurn: resp.CurrentTurn, TurnNumber: resp.TurnNumber}, nil
}

func (c *Client) gamePath(sessionID, suffix string) string {
	path := c.baseURL + "/games/" + url.PathEscape(sessionID)
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (c *Client) call(ctx context.Context, span, method, requestURL string, body, target any, sessionID string) error {
	ctx, traceSpan := c.tracer.Start(ctx, span, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer traceSpan.End()

	err := c.do(ctx, method, requestURL, body, target)
	if err != nil {
		traceSpan.RecordError(err)
		traceSpan.SetStatus(otelcodes.Error, err.Error())
	}
	return err
}

func (c *Client) do(ctx context.Context, method, requestURL string, body, target any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return platformerrors.Wrap(platformerrors.CodeRequestTimeout, "request deadline exceeded", err)
		}
		return platformerrors.Wrap(platformerrors.CodeTransportFailure, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readErrorDetail(resp.Body)
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return platformerrors.WithMetadata(platformerrors.FromHTTPStatus(resp.StatusCode),
			detail, map[string]string{"status": strconv.Itoa(resp.StatusCode)})
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return platformerrors.Wrap(platformerrors.CodeProtocolViolation, "decode response body", err)
	}
	return nil
}

func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return parsed.Detail
}
