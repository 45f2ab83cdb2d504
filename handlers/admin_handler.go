package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/services"
)

// AdminHandler exposes operator controls over running matches.
type AdminHandler struct {
	engine *services.MatchEngine
	logger *slog.Logger
}

func NewAdminHandler(engine *services.MatchEngine, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, logger: logger}
}

// StopMatchHandler обрабатывает POST /api/matches/{matchID}/stop
func (h *AdminHandler) StopMatchHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getStringFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.engine.StopMatch(matchID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	adminID, _ := middleware.GetUserIDFromContext(r.Context())
	h.logger.Warn("match stopped via admin endpoint",
		slog.String("match_id", matchID),
		slog.Int("admin_id", adminID))
	w.WriteHeader(http.StatusNoContent)
}

// ActiveMatchesHandler обрабатывает GET /api/admin/matches
func (h *AdminHandler) ActiveMatchesHandler(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.ActiveMatches()
	sort.Strings(ids)
	if err := writeJSON(w, http.StatusOK, jsonResponse{"active_matches": ids}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
