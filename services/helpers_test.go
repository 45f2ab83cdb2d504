package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Dosada05/pong-arena/game"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/repositories"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRule is a small table where a ball served along the centre line is
// either returned forever or scores within a dozen ticks.
func testRule(t *testing.T, pointToWin int) game.Rule {
	t.Helper()
	rule, err := game.NewRule(game.RuleParams{
		PointToWin:       pointToWin,
		InitialBallSpeed: game.Velocity{VX: 10, VY: 0},
		FieldSize:        game.FieldSize{Width: 200, Height: 100},
		Paddle:           game.PaddleSize{Width: 4, Height: 20},
		BallRadius:       2,
	})
	require.NoError(t, err)
	return rule
}

type recordingHub struct {
	mu       sync.Mutex
	messages map[string][]models.Envelope
	silent   map[string]bool
}

func newRecordingHub() *recordingHub {
	return &recordingHub{messages: make(map[string][]models.Envelope), silent: make(map[string]bool)}
}

func (h *recordingHub) BroadcastToRoom(roomID string, message interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	env, ok := message.(models.Envelope)
	if !ok {
		return
	}
	h.messages[roomID] = append(h.messages[roomID], env)
}

func (h *recordingHub) HasRoom(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.silent[roomID]
}

func (h *recordingHub) envelopes(roomID string) []models.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Envelope(nil), h.messages[roomID]...)
}

func (h *recordingHub) count(roomID, messageType string) int {
	n := 0
	for _, env := range h.envelopes(roomID) {
		switch data := env.Data.(type) {
		case models.MatchStateMessage:
			if data.Type == messageType {
				n++
			}
		case models.MatchFinishedMessage:
			if data.Type == messageType {
				n++
			}
		case models.RoomStateMessage:
			if data.Type == messageType {
				n++
			}
		}
	}
	return n
}

func (h *recordingHub) brackets(roomID string) []models.BracketMessage {
	var out []models.BracketMessage
	for _, env := range h.envelopes(roomID) {
		if b, ok := env.Data.(models.BracketMessage); ok {
			out = append(out, b)
		}
	}
	return out
}

var errStorageDown = errors.New("storage down")

// flakyMatchRepository fails every Save while failing is set, except for
// the first `grace` saves.
type flakyMatchRepository struct {
	repositories.MatchRepository
	failing atomic.Bool
	grace   atomic.Int64
}

func (r *flakyMatchRepository) Save(ctx context.Context, exec repositories.SQLExecutor, m *models.Match) error {
	if r.failing.Load() && r.grace.Add(-1) < 0 {
		return errStorageDown
	}
	return r.MatchRepository.Save(ctx, exec, m)
}

func createMatch(t *testing.T, repo repositories.MatchRepository, id, roomID string, p1, p2 int) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), nil, &models.Match{
		ID:        id,
		RoomID:    roomID,
		Round:     1,
		Player1ID: p1,
		Player2ID: p2,
		Status:    models.MatchStatusScheduled,
	}))
}
