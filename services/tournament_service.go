package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/pong-arena/brackets"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/repositories"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultSinkTimeout = 10 * time.Second

type OrchestratorOption func(*TournamentOrchestrator)

func WithResultSinks(sinks ...ResultSink) OrchestratorOption {
	return func(o *TournamentOrchestrator) { o.sinks = append(o.sinks, sinks...) }
}

func WithSinkTimeout(d time.Duration) OrchestratorOption {
	return func(o *TournamentOrchestrator) {
		if d > 0 {
			o.sinkTimeout = d
		}
	}
}

// TournamentOrchestrator creates single-elimination tournaments and advances
// them as their matches finish. Every decision is re-derived from persisted
// records, so handling the same finish twice is harmless.
type TournamentOrchestrator struct {
	tournaments repositories.TournamentRepository
	matches     repositories.MatchRepository
	rooms       repositories.RoomRepository
	tx          repositories.TxRunner
	generator   brackets.BracketGenerator
	hub         Broadcaster
	logger      *slog.Logger

	sinks       []ResultSink
	sinkTimeout time.Duration
	sinkWG      sync.WaitGroup

	locks *keyedMutex
	now   func() time.Time
}

func NewTournamentOrchestrator(
	tournaments repositories.TournamentRepository,
	matches repositories.MatchRepository,
	rooms repositories.RoomRepository,
	tx repositories.TxRunner,
	hub Broadcaster,
	logger *slog.Logger,
	opts ...OrchestratorOption,
) *TournamentOrchestrator {
	o := &TournamentOrchestrator{
		tournaments: tournaments,
		matches:     matches,
		rooms:       rooms,
		tx:          tx,
		generator:   brackets.NewSingleEliminationGenerator(),
		hub:         hub,
		logger:      logger,
		sinkTimeout: defaultSinkTimeout,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run consumes match finish events until ctx is done or events is closed.
func (o *TournamentOrchestrator) Run(ctx context.Context, events <-chan MatchFinishedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := o.OnMatchFinished(ctx, evt.MatchID); err != nil {
				o.logger.Error("failed to process finished match",
					slog.String("match_id", evt.MatchID),
					slog.String("room_id", evt.RoomID),
					slog.Any("error", err))
			}
		}
	}
}

// StartTournament creates a tournament for exactly four participants and
// schedules round 1 as [0,1] and [2,3].
func (o *TournamentOrchestrator) StartTournament(ctx context.Context, participants []int, roomID string, createdBy int) (*models.Tournament, error) {
	if len(participants) != models.TournamentSize {
		return nil, fmt.Errorf("%w: tournament needs exactly %d participants, got %d", ErrInvalidArgument, models.TournamentSize, len(participants))
	}
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", ErrInvalidArgument)
	}

	pairs, err := o.generator.FirstRound(participants)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	now := o.now().UTC()
	tournament := &models.Tournament{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		CreatedBy:    createdBy,
		Participants: append([]int(nil), participants...),
		Status:       models.TournamentStatusOngoing,
		CurrentRound: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tournament.Matches = o.buildMatches(tournament, pairs, now)

	err = o.tx.RunInTx(ctx, func(ctx context.Context, exec repositories.SQLExecutor) error {
		if err := o.tournaments.Create(ctx, exec, tournament); err != nil {
			return err
		}
		for _, m := range tournament.Matches {
			if err := o.matches.Create(ctx, exec, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, handleRepositoryError(err, "create tournament")
	}

	o.logger.Info("tournament started",
		slog.String("tournament_id", tournament.ID),
		slog.String("room_id", roomID),
		slog.Any("participants", participants))

	o.publish(tournament, tournament.Matches)
	return tournament, nil
}

func (o *TournamentOrchestrator) buildMatches(t *models.Tournament, pairs []brackets.BracketMatch, now time.Time) []*models.Match {
	matches := make([]*models.Match, 0, len(pairs))
	for _, p := range pairs {
		tournamentID := t.ID
		matches = append(matches, &models.Match{
			ID:           uuid.NewString(),
			RoomID:       t.RoomID,
			TournamentID: &tournamentID,
			Round:        p.Round,
			Player1ID:    p.Player1ID,
			Player2ID:    p.Player2ID,
			Status:       models.MatchStatusScheduled,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return matches
}

// OnMatchFinished reacts to a finished match: casual matches close their
// room, tournament matches may advance the bracket.
func (o *TournamentOrchestrator) OnMatchFinished(ctx context.Context, matchID string) error {
	match, err := o.matches.GetByID(ctx, matchID)
	if err != nil {
		return handleRepositoryError(err, fmt.Sprintf("load match %s", matchID))
	}
	if match.TournamentID == nil {
		return o.closeRoom(ctx, match.RoomID)
	}

	unlock := o.locks.Lock(*match.TournamentID)
	defer unlock()

	t, matches, err := o.load(ctx, *match.TournamentID)
	if err != nil {
		return err
	}
	if t.Status == models.TournamentStatusFinished || match.Round < t.CurrentRound {
		o.logger.Debug("finish already processed",
			slog.String("match_id", matchID),
			slog.String("tournament_id", t.ID))
		return nil
	}
	_, _, err = o.evaluate(ctx, t, matches)
	return err
}

// NextRound re-evaluates the current round and advances it when every match
// in it is finished.
func (o *TournamentOrchestrator) NextRound(ctx context.Context, tournamentID string) (models.BracketMessage, error) {
	unlock := o.locks.Lock(tournamentID)
	defer unlock()

	t, matches, err := o.load(ctx, tournamentID)
	if err != nil {
		return models.BracketMessage{}, err
	}
	if t.Status != models.TournamentStatusFinished {
		if t, matches, err = o.evaluate(ctx, t, matches); err != nil {
			return models.BracketMessage{}, err
		}
	}
	return bracketOf(t, matches), nil
}

// FinishTournament finishes a tournament whose final is decided. Calling it
// on a finished tournament is a no-op.
func (o *TournamentOrchestrator) FinishTournament(ctx context.Context, tournamentID string) (models.BracketMessage, error) {
	unlock := o.locks.Lock(tournamentID)
	defer unlock()

	t, matches, err := o.load(ctx, tournamentID)
	if err != nil {
		return models.BracketMessage{}, err
	}
	if t.Status == models.TournamentStatusFinished {
		return bracketOf(t, matches), nil
	}

	current := roundOf(matches, t.CurrentRound)
	if len(current) != 1 || current[0].Status != models.MatchStatusFinished || current[0].WinnerID == nil {
		return models.BracketMessage{}, fmt.Errorf("tournament %s: %w", tournamentID, ErrTournamentPending)
	}
	if t, err = o.finish(ctx, t, matches, *current[0].WinnerID); err != nil {
		return models.BracketMessage{}, err
	}
	return bracketOf(t, matches), nil
}

// GetBracket returns the bracket view of a tournament.
func (o *TournamentOrchestrator) GetBracket(ctx context.Context, tournamentID string) (models.BracketMessage, error) {
	t, matches, err := o.load(ctx, tournamentID)
	if err != nil {
		return models.BracketMessage{}, err
	}
	return bracketOf(t, matches), nil
}

func (o *TournamentOrchestrator) GetTournament(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	t, matches, err := o.load(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	t.Matches = matches
	return t, nil
}

func (o *TournamentOrchestrator) GetTournamentByRoom(ctx context.Context, roomID string) (*models.Tournament, error) {
	t, err := o.tournaments.GetByRoom(ctx, roomID)
	if err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("load tournament of room %s", roomID))
	}
	return o.GetTournament(ctx, t.ID)
}

func (o *TournamentOrchestrator) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	m, err := o.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("load match %s", matchID))
	}
	return m, nil
}

func (o *TournamentOrchestrator) load(ctx context.Context, tournamentID string) (*models.Tournament, []*models.Match, error) {
	var (
		t       *models.Tournament
		matches []*models.Match
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		t, err = o.tournaments.GetByID(gCtx, tournamentID)
		return err
	})
	g.Go(func() error {
		var err error
		matches, err = o.matches.ListByTournament(gCtx, tournamentID, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, handleRepositoryError(err, fmt.Sprintf("load tournament %s", tournamentID))
	}
	return t, matches, nil
}

// evaluate decides what the current round allows: wait, advance or finish.
// Callers hold the tournament lock.
func (o *TournamentOrchestrator) evaluate(ctx context.Context, t *models.Tournament, matches []*models.Match) (*models.Tournament, []*models.Match, error) {
	current := roundOf(matches, t.CurrentRound)
	if len(current) == 0 {
		return nil, nil, fmt.Errorf("tournament %s has no matches in round %d: %w", t.ID, t.CurrentRound, ErrInvalidTransition)
	}

	for _, m := range current {
		if m.Status == models.MatchStatusCanceled {
			return nil, nil, fmt.Errorf("tournament %s match %s: %w", t.ID, m.ID, ErrTournamentAbandoned)
		}
	}

	winners := make([]int, 0, len(current))
	for _, m := range current {
		if m.Status != models.MatchStatusFinished || m.WinnerID == nil {
			o.publish(t, matches)
			return t, matches, nil
		}
		winners = append(winners, *m.WinnerID)
	}

	if len(current) == 1 {
		t, err := o.finish(ctx, t, matches, winners[0])
		return t, matches, err
	}

	next, err := o.advance(ctx, t, winners)
	if err != nil {
		return nil, nil, err
	}
	if next == nil {
		return t, matches, nil
	}
	t.CurrentRound++
	matches = append(matches, next...)
	o.publish(t, matches)
	return t, matches, nil
}

// advance moves the tournament to the next round and schedules it. It
// returns nil matches when another caller already advanced the round.
func (o *TournamentOrchestrator) advance(ctx context.Context, t *models.Tournament, winners []int) ([]*models.Match, error) {
	nextRound := t.CurrentRound + 1
	pairs, err := o.generator.NextRound(nextRound, winners)
	if err != nil {
		return nil, fmt.Errorf("tournament %s round %d: %w", t.ID, nextRound, err)
	}

	created := o.buildMatches(t, pairs, o.now().UTC())
	applied := false
	err = o.tx.RunInTx(ctx, func(ctx context.Context, exec repositories.SQLExecutor) error {
		ok, err := o.tournaments.AdvanceRound(ctx, exec, t.ID, t.CurrentRound)
		if err != nil || !ok {
			return err
		}
		for _, m := range created {
			if err := o.matches.Create(ctx, exec, m); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("advance tournament %s", t.ID))
	}
	if !applied {
		return nil, nil
	}

	o.logger.Info("tournament round generated",
		slog.String("tournament_id", t.ID),
		slog.Int("round", nextRound),
		slog.Any("winners", winners))
	return created, nil
}

func (o *TournamentOrchestrator) finish(ctx context.Context, t *models.Tournament, matches []*models.Match, winnerID int) (*models.Tournament, error) {
	applied, err := o.tournaments.Finish(ctx, nil, t.ID, winnerID)
	if err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("finish tournament %s", t.ID))
	}

	finished := t.Clone()
	finished.Status = models.TournamentStatusFinished
	finished.WinnerID = &winnerID
	if !applied {
		return finished, nil
	}

	o.logger.Info("tournament finished",
		slog.String("tournament_id", t.ID),
		slog.String("room_id", t.RoomID),
		slog.Int("winner_id", winnerID))

	o.publish(finished, matches)
	if err := o.closeRoom(ctx, t.RoomID); err != nil {
		o.logger.Warn("failed to close room after tournament",
			slog.String("room_id", t.RoomID),
			slog.Any("error", err))
	}
	o.notifySinks(models.TournamentResult{
		TournamentID: t.ID,
		RoomID:       t.RoomID,
		WinnerID:     winnerID,
		Participants: append([]int(nil), t.Participants...),
		Matches:      matches,
		FinishedAt:   o.now().UTC(),
	})
	return finished, nil
}

// closeRoom marks a playing room finished and tells its listeners.
func (o *TournamentOrchestrator) closeRoom(ctx context.Context, roomID string) error {
	room, err := o.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return nil
		}
		return handleRepositoryError(err, fmt.Sprintf("load room %s", roomID))
	}
	if room.Status != models.RoomStatusPlaying {
		return nil
	}
	if err := o.rooms.UpdateStatus(ctx, nil, roomID, models.RoomStatusFinished); err != nil {
		return handleRepositoryError(err, fmt.Sprintf("close room %s", roomID))
	}
	room.Status = models.RoomStatusFinished
	if o.hub.HasRoom(roomID) {
		o.hub.BroadcastToRoom(roomID, models.NewRoomStateEnvelope(room))
	}
	return nil
}

func (o *TournamentOrchestrator) notifySinks(result models.TournamentResult) {
	for _, sink := range o.sinks {
		o.sinkWG.Add(1)
		go func(sink ResultSink) {
			defer o.sinkWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), o.sinkTimeout)
			defer cancel()
			if err := sink.Publish(ctx, result); err != nil {
				o.logger.Error("result sink failed",
					slog.String("sink", sink.Name()),
					slog.String("tournament_id", result.TournamentID),
					slog.Any("error", err))
			}
		}(sink)
	}
}

// WaitSinks blocks until in-flight sink deliveries are done or ctx expires.
func (o *TournamentOrchestrator) WaitSinks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.sinkWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *TournamentOrchestrator) publish(t *models.Tournament, matches []*models.Match) {
	if !o.hub.HasRoom(t.RoomID) {
		return
	}
	o.hub.BroadcastToRoom(t.RoomID, models.NewBracketEnvelope(bracketOf(t, matches)))
}

func roundOf(matches []*models.Match, round int) []*models.Match {
	out := make([]*models.Match, 0, 2)
	for _, m := range matches {
		if m.Round == round {
			out = append(out, m)
		}
	}
	return out
}

func bracketOf(t *models.Tournament, matches []*models.Match) models.BracketMessage {
	b := models.BracketMessage{
		Matches:      matches,
		CurrentRound: t.CurrentRound,
		WinnerID:     t.WinnerID,
	}
	if b.Matches == nil {
		b.Matches = []*models.Match{}
	}
	if t.Status == models.TournamentStatusFinished {
		return b
	}
	for _, m := range roundOf(matches, t.CurrentRound) {
		if m.Status == models.MatchStatusScheduled {
			b.NextMatchID = m.ID
			break
		}
	}
	return b
}
