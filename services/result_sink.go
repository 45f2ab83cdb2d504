package services

import (
	"context"
	"log/slog"

	"github.com/Dosada05/pong-arena/models"
)

// ResultSink receives finished tournament results. Delivery is fire and
// forget: errors are logged, never retried.
type ResultSink interface {
	Name() string
	Publish(ctx context.Context, result models.TournamentResult) error
}

type logSink struct {
	logger *slog.Logger
}

// NewLogSink records results in the service log. It is used when no external
// sink is configured.
func NewLogSink(logger *slog.Logger) ResultSink {
	return &logSink{logger: logger}
}

func (s *logSink) Name() string { return "log" }

func (s *logSink) Publish(_ context.Context, result models.TournamentResult) error {
	s.logger.Info("tournament result",
		slog.String("tournament_id", result.TournamentID),
		slog.String("room_id", result.RoomID),
		slog.Int("winner_id", result.WinnerID),
		slog.Any("participants", result.Participants))
	return nil
}
