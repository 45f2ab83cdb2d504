package handlers

import (
	"net/http"

	"github.com/Dosada05/pong-arena/services"
)

type MatchHandler struct {
	tournaments *services.TournamentOrchestrator
	engine      *services.MatchEngine
}

func NewMatchHandler(tournaments *services.TournamentOrchestrator, engine *services.MatchEngine) *MatchHandler {
	return &MatchHandler{tournaments: tournaments, engine: engine}
}

// GetByIDHandler обрабатывает GET /api/matches/{matchID}
func (h *MatchHandler) GetByIDHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getStringFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.tournaments.GetMatch(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	resp := jsonResponse{"match": match, "running": h.engine.IsActive(matchID)}
	if err := writeJSON(w, http.StatusOK, resp, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
