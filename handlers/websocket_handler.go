package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/services"
	"github.com/Dosada05/pong-arena/storage"
	"github.com/Dosada05/pong-arena/ws"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const actionTimeout = 10 * time.Second

type WebSocketHandler struct {
	hub         *ws.Hub
	auth        *middleware.Authenticator
	rooms       *services.RoomService
	engine      *services.MatchEngine
	tournaments *services.TournamentOrchestrator
	snapshots   storage.SnapshotStore
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

func NewWebSocketHandler(
	hub *ws.Hub,
	auth *middleware.Authenticator,
	rooms *services.RoomService,
	engine *services.MatchEngine,
	tournaments *services.TournamentOrchestrator,
	snapshots storage.SnapshotStore,
	allowedOrigins []string,
	logger *slog.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		auth:        auth,
		rooms:       rooms,
		engine:      engine,
		tournaments: tournaments,
		snapshots:   snapshots,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWs обрабатывает WebSocket запросы для конкретной комнаты.
// Клиент должен подключаться к /ws/rooms/{roomID}?token=<jwt>
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		http.Error(w, "Missing roomID", http.StatusBadRequest)
		return
	}

	claims, err := h.auth.Parse(middleware.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	identity, err := middleware.IdentityFromClaims(claims)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	room, err := h.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("failed to load room for websocket", slog.String("room_id", roomID), slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader.Upgrade сам отправляет HTTP ошибку клиенту, так что здесь просто логируем.
		h.logger.Warn("failed to upgrade connection", slog.String("room_id", roomID), slog.Any("error", err))
		return
	}

	client := ws.NewClient(h.hub, conn, identity.UserID)
	client.Role = string(identity.Role)
	h.hub.Join(roomID, client, identity.UserID)

	go client.WritePump()
	h.replay(r.Context(), client, room)
	go client.ReadPump(h.dispatch(roomID))

	h.logger.Info("client connected",
		slog.String("room_id", roomID),
		slog.Int("user_id", identity.UserID))
}

// replay sends a (re)connecting client the room state and the last known
// frame of every match in progress.
func (h *WebSocketHandler) replay(ctx context.Context, client *ws.Client, room *models.Room) {
	h.hub.SendTo(client, models.NewRoomStateEnvelope(room))

	matches, err := h.rooms.ActiveMatches(ctx, room.ID)
	if err != nil {
		h.logger.Warn("failed to list active matches for replay", slog.String("room_id", room.ID), slog.Any("error", err))
		return
	}
	for _, m := range matches {
		if m.Status != models.MatchStatusPlaying {
			continue
		}
		snap, err := h.snapshots.Get(ctx, m.ID)
		if err != nil {
			if !errors.Is(err, storage.ErrSnapshotNotFound) {
				h.logger.Warn("failed to load snapshot", slog.String("match_id", m.ID), slog.Any("error", err))
			}
			continue
		}
		h.hub.SendTo(client, models.Envelope{Status: models.EnvelopeMatch, Data: *snap})
	}
}

func (h *WebSocketHandler) dispatch(roomID string) ws.MessageHandler {
	return func(c *ws.Client, raw []byte) {
		var msg models.InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.hub.SendTo(c, models.ErrorEnvelope("malformed message"))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		var err error
		switch msg.Status {
		case models.EnvelopeMatch:
			err = h.handleMatch(ctx, c, roomID, msg)
		case models.EnvelopeRoom:
			err = h.handleRoom(ctx, c, roomID, msg)
		case models.EnvelopeTournament:
			err = h.handleTournament(ctx, c, roomID, msg)
		default:
			err = fmt.Errorf("%w: unknown status %q", services.ErrInvalidArgument, msg.Status)
		}
		if err != nil {
			h.logger.Info("websocket action rejected",
				slog.String("room_id", roomID),
				slog.Int("user_id", c.UserID),
				slog.String("status", msg.Status),
				slog.String("action", msg.Action),
				slog.Any("error", err))
			h.hub.SendTo(c, models.ErrorEnvelope(clientMessage(err)))
		}
	}
}

func (h *WebSocketHandler) handleMatch(ctx context.Context, c *ws.Client, roomID string, msg models.InboundMessage) error {
	if msg.MatchID == "" {
		return fmt.Errorf("%w: matchId is required", services.ErrInvalidArgument)
	}

	switch msg.Action {
	case models.ActionMatchMove:
		var data models.MoveData
		if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &data) != nil || data.Y == nil {
			return fmt.Errorf("%w: data.y is required", services.ErrInvalidArgument)
		}
		// Ввод для неактивного матча молча отбрасывается движком.
		if matchRoom, running := h.engine.RoomOf(msg.MatchID); running && matchRoom != roomID {
			return fmt.Errorf("match %s is not in room %s: %w", msg.MatchID, roomID, services.ErrNotFound)
		}
		h.engine.HandlePlayerInput(msg.MatchID, c.UserID, *data.Y)
		return nil

	case models.ActionMatchStart:
		match, err := h.tournaments.GetMatch(ctx, msg.MatchID)
		if err != nil {
			return err
		}
		if match.RoomID != roomID {
			return fmt.Errorf("match %s is not in room %s: %w", match.ID, roomID, services.ErrNotFound)
		}
		if !match.HasPlayer(c.UserID) {
			room, err := h.rooms.GetRoom(ctx, roomID)
			if err != nil {
				return err
			}
			if room.OwnerID != c.UserID {
				return fmt.Errorf("only players or the room owner can start a match: %w", services.ErrForbidden)
			}
		}
		return h.engine.StartMatch(ctx, match.ID)
	}
	return fmt.Errorf("%w: unknown match action %q", services.ErrInvalidArgument, msg.Action)
}

func (h *WebSocketHandler) handleRoom(ctx context.Context, c *ws.Client, roomID string, msg models.InboundMessage) error {
	switch msg.Action {
	case models.ActionRoomStart:
		_, err := h.rooms.StartRoom(ctx, roomID, c.UserID)
		return err
	case models.ActionRoomDelete:
		return h.rooms.DeleteRoom(ctx, roomID, c.UserID)
	}
	return fmt.Errorf("%w: unknown room action %q", services.ErrInvalidArgument, msg.Action)
}

func (h *WebSocketHandler) handleTournament(ctx context.Context, c *ws.Client, roomID string, msg models.InboundMessage) error {
	if msg.Action == models.ActionStartTournament {
		_, err := h.rooms.StartTournament(ctx, roomID, c.UserID)
		return err
	}

	tournamentID, err := h.tournamentOf(ctx, roomID, msg.TournamentID)
	if err != nil {
		return err
	}

	switch msg.Action {
	case models.ActionNextRound:
		_, err := h.tournaments.NextRound(ctx, tournamentID)
		return err
	case models.ActionGetNextMatch:
		bracket, err := h.tournaments.GetBracket(ctx, tournamentID)
		if err != nil {
			return err
		}
		h.hub.SendTo(c, models.NewBracketEnvelope(bracket))
		return nil
	case models.ActionFinishTournament:
		_, err := h.tournaments.FinishTournament(ctx, tournamentID)
		return err
	}
	return fmt.Errorf("%w: unknown tournament action %q", services.ErrInvalidArgument, msg.Action)
}

// tournamentOf resolves the tournament an action targets and makes sure it
// belongs to the connection's room.
func (h *WebSocketHandler) tournamentOf(ctx context.Context, roomID, tournamentID string) (string, error) {
	if tournamentID == "" {
		t, err := h.tournaments.GetTournamentByRoom(ctx, roomID)
		if err != nil {
			return "", err
		}
		return t.ID, nil
	}
	t, err := h.tournaments.GetTournament(ctx, tournamentID)
	if err != nil {
		return "", err
	}
	if t.RoomID != roomID {
		return "", fmt.Errorf("tournament %s is not in room %s: %w", tournamentID, roomID, services.ErrNotFound)
	}
	return t.ID, nil
}
