// Package client parses game client flags and composes the session store,
// connection, and REST collaborator into a running command.
package client

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/bykotofff/dnd-game-sub001/internal/api/rest"
	"github.com/bykotofff/dnd-game-sub001/internal/auth"
	"github.com/bykotofff/dnd-game-sub001/internal/event"
	entrypoint "github.com/bykotofff/dnd-game-sub001/internal/platform/cmd"
	"github.com/bykotofff/dnd-game-sub001/internal/session/domain"
	"github.com/bykotofff/dnd-game-sub001/internal/session/service"
	"github.com/bykotofff/dnd-game-sub001/internal/storage/bbolt"
	"github.com/bykotofff/dnd-game-sub001/internal/telemetry"
	"github.com/bykotofff/dnd-game-sub001/internal/transport/ws"
)

const leaveTimeout = 5 * time.Second

// Config holds game client command configuration.
type Config struct {
	ServerURL       string `env:"DND_GAME_SERVER_URL"        envDefault:"http://localhost:8000/api"`
	WSURL           string `env:"DND_GAME_WS_URL"            envDefault:"ws://localhost:8000/ws"`
	Token           string `env:"DND_GAME_TOKEN"`
	TelemetryDBPath string `env:"DND_GAME_TELEMETRY_DB_PATH"`

	SessionID   string
	CharacterID string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "game backend REST base URL")
	fs.StringVar(&cfg.WSURL, "ws-url", cfg.WSURL, "game backend websocket base URL")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "session bearer token")
	fs.StringVar(&cfg.TelemetryDBPath, "telemetry-db", cfg.TelemetryDBPath, "optional telemetry journal path")
	fs.StringVar(&cfg.SessionID, "session", cfg.SessionID, "session id to join")
	fs.StringVar(&cfg.CharacterID, "character", cfg.CharacterID, "character id to play")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run joins the configured session and streams its events to the log until
// the context is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGameClient, func(ctx context.Context) error {
		if cfg.SessionID == "" {
			return fmt.Errorf("session id is required")
		}

		info, err := auth.Inspect(cfg.Token)
		if err != nil {
			return fmt.Errorf("inspect token: %w", err)
		}
		if info.Expired(time.Now()) {
			log.Printf("token for user %s expired at %s; the server will reject the connection",
				info.UserID, info.ExpiresAt.Format(time.RFC3339))
		}

		emitter := telemetry.NewEmitter(nil)
		if cfg.TelemetryDBPath != "" {
			journal, err := bbolt.Open(cfg.TelemetryDBPath)
			if err != nil {
				return fmt.Errorf("open telemetry journal: %w", err)
			}
			defer func() {
				if err := journal.Close(); err != nil {
					log.Printf("close telemetry journal: %v", err)
				}
			}()
			emitter = telemetry.NewEmitter(journal)
		}

		restClient := rest.NewClient(cfg.ServerURL, cfg.Token)
		conn := ws.NewClient(ws.Config{BaseURL: cfg.WSURL, Token: cfg.Token})

		store := service.NewStore(conn, restClient, service.WithStateListener(func(state ws.State) {
			if err := emitter.ConnectionState(ctx, state.String(), 0); err != nil {
				log.Printf("record connection state: %v", err)
			}
		}))
		logSessionEvents(store)

		if err := store.JoinSession(ctx, cfg.SessionID, cfg.CharacterID); err != nil {
			conn.Close()
			return fmt.Errorf("join session %s: %w", cfg.SessionID, err)
		}
		if err := emitter.SessionJoined(ctx, cfg.SessionID); err != nil {
			log.Printf("record session join: %v", err)
		}
		log.Printf("joined session %s", cfg.SessionID)

		<-ctx.Done()

		leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := store.LeaveSession(leaveCtx); err != nil {
			log.Printf("leave session %s: %v", cfg.SessionID, err)
		}
		if err := emitter.SessionLeft(leaveCtx, cfg.SessionID); err != nil {
			log.Printf("record session leave: %v", err)
		}
		conn.Close()
		<-store.Done()
		return nil
	})
}

// logSessionEvents mirrors every semantic event into the process log.
func logSessionEvents(store *service.Store) {
	store.Subscribe(event.KindChatOrAction, func(evt event.Event) {
		msg := evt.(event.ChatOrAction).Message
		log.Printf("[%s] %s: %s", msg.Type, senderLabel(msg.Sender), msg.Content)
	})
	store.Subscribe(event.KindPlayerJoined, func(evt event.Event) {
		player := evt.(event.PlayerJoined).Player
		log.Printf("player joined: %s (%s)", player.Username, player.CharacterName)
	})
	store.Subscribe(event.KindPlayerLeft, func(evt event.Event) {
		left := evt.(event.PlayerLeft)
		log.Printf("player left: %s", left.UserID)
	})
	store.Subscribe(event.KindDiceRolled, func(evt event.Event) {
		result := evt.(event.DiceRolled).Result
		log.Printf("dice: %s", result.Summary())
	})
	store.Subscribe(event.KindInitiativeRolled, func(evt event.Event) {
		rolled := evt.(event.InitiativeRolled)
		log.Printf("initiative: %s rolled %d", rolled.CharacterName, rolled.Initiative)
	})
	store.Subscribe(event.KindTurnChanged, func(evt event.Event) {
		turn := evt.(event.TurnChanged)
		log.Printf("turn: %s", turn.CharacterID)
	})
	store.Subscribe(event.KindSceneUpdated, func(event.Event) {
		scene, description := store.Scene()
		log.Printf("scene: %s -- %s", scene, description)
	})
	store.Subscribe(event.KindAiResponse, func(evt event.Event) {
		resp := evt.(event.AiResponse).Response
		suffix := ""
		if resp.IsFallback {
			suffix = " (fallback)"
		}
		log.Printf("dm%s: %s", suffix, resp.Message)
	})
	store.Subscribe(event.KindProtocolError, func(evt event.Event) {
		log.Printf("protocol error: %v", evt.(event.ProtocolError).Err)
	})
}

func senderLabel(sender domain.Sender) string {
	if sender.Name != "" {
		return sender.Name
	}
	if sender.ID != "" {
		return sender.ID
	}
	return string(sender.Kind)
}
