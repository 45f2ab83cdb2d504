package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/pong-arena/game"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/repositories"
	"github.com/Dosada05/pong-arena/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	player1 = 11
	player2 = 22
)

func newTestEngine(t *testing.T, repo repositories.MatchRepository, hub Broadcaster, rule game.Rule, opts ...MatchEngineOption) *MatchEngine {
	t.Helper()
	opts = append([]MatchEngineOption{WithTickRate(1000)}, opts...)
	e := NewMatchEngine(repo, hub, rule, discardLogger(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func waitFinished(t *testing.T, e *MatchEngine) MatchFinishedEvent {
	t.Helper()
	select {
	case evt := <-e.Finished():
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("match did not finish in time")
		return MatchFinishedEvent{}
	}
}

func TestMatchEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryMatchRepository()
	hub := newRecordingHub()
	snapshots := storage.NewMemorySnapshotStore(time.Minute)
	createMatch(t, repo, "m1", "room-1", player1, player2)

	engine := newTestEngine(t, repo, hub, testRule(t, 2), WithSnapshotStore(snapshots))
	require.NoError(t, engine.StartMatch(ctx, "m1"))
	engine.HandlePlayerInput("m1", player2, 0)

	evt := waitFinished(t, engine)
	assert.Equal(t, "m1", evt.MatchID)
	assert.Equal(t, "room-1", evt.RoomID)
	assert.Equal(t, player1, evt.WinnerID)
	assert.Nil(t, evt.TournamentID)

	rec, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, rec.Status)
	require.NotNil(t, rec.WinnerID)
	assert.Equal(t, player1, *rec.WinnerID)
	assert.Equal(t, 2, rec.Score1)
	assert.Equal(t, 0, rec.Score2)

	assert.Equal(t, 1, hub.count("room-1", models.MessageMatchFinished))
	assert.Greater(t, hub.count("room-1", models.MessageMatchState), 2)
	assert.False(t, engine.IsActive("m1"))

	envs := hub.envelopes("room-1")
	last := envs[len(envs)-1].Data.(models.MatchFinishedMessage)
	require.NotNil(t, last.WinnerID)
	assert.Equal(t, player1, *last.WinnerID)

	snap, err := snapshots.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, snap.State.Status)
	assert.Equal(t, 2, snap.State.Scores.Player1)

	select {
	case extra := <-engine.Finished():
		t.Fatalf("unexpected second finish event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMatchEngine_StartErrors(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryMatchRepository()
	createMatch(t, repo, "m1", "room-1", player1, player2)
	engine := newTestEngine(t, repo, newRecordingHub(), testRule(t, 1000))

	assert.ErrorIs(t, engine.StartMatch(ctx, ""), ErrInvalidArgument)
	assert.ErrorIs(t, engine.StartMatch(ctx, "missing"), ErrNotFound)
	assert.False(t, engine.IsActive("missing"))

	require.NoError(t, engine.StartMatch(ctx, "m1"))
	assert.ErrorIs(t, engine.StartMatch(ctx, "m1"), ErrAlreadyRunning)
	assert.Equal(t, []string{"m1"}, engine.ActiveMatches())
}

func TestMatchEngine_StopMatch(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryMatchRepository()
	createMatch(t, repo, "m1", "room-1", player1, player2)
	engine := newTestEngine(t, repo, newRecordingHub(), testRule(t, 1000))

	require.NoError(t, engine.StartMatch(ctx, "m1"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, engine.StopMatch("m1"))
	assert.False(t, engine.IsActive("m1"))

	rec, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusPlaying, rec.Status)
	assert.Nil(t, rec.WinnerID)

	assert.ErrorIs(t, engine.StopMatch("m1"), ErrNotFound)
	assert.ErrorIs(t, engine.StartMatch(ctx, "m1"), ErrInvalidTransition)

	engine.HandlePlayerInput("m1", player1, 10)
	engine.HandlePlayerInput("never-started", player1, 10)
}

func TestMatchEngine_CancelMatch(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryMatchRepository()
	hub := newRecordingHub()
	createMatch(t, repo, "running", "room-1", player1, player2)
	createMatch(t, repo, "scheduled", "room-1", player1, player2)
	snapshots := storage.NewMemorySnapshotStore(time.Minute)
	engine := newTestEngine(t, repo, hub, testRule(t, 1000), WithSnapshotStore(snapshots))

	require.NoError(t, engine.StartMatch(ctx, "running"))
	require.Eventually(t, func() bool {
		_, err := snapshots.Get(ctx, "running")
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, engine.CancelMatch(ctx, "running"))
	_, err := snapshots.Get(ctx, "running")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
	require.NoError(t, engine.CancelMatch(ctx, "scheduled"))

	for _, id := range []string{"running", "scheduled"} {
		rec, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusCanceled, rec.Status, id)
		assert.Nil(t, rec.WinnerID)
	}
	assert.False(t, engine.IsActive("running"))
	assert.ErrorIs(t, engine.CancelMatch(ctx, "running"), ErrInvalidTransition)
	assert.ErrorIs(t, engine.CancelMatch(ctx, "missing"), ErrNotFound)
	assert.Equal(t, 0, hub.count("room-1", models.MessageMatchFinished))

	select {
	case evt := <-engine.Finished():
		t.Fatalf("canceled match must not emit a finish event: %+v", evt)
	default:
	}
}

func TestMatchEngine_PersistenceFailureDoesNotStopSimulation(t *testing.T) {
	ctx := context.Background()
	repo := &flakyMatchRepository{MatchRepository: repositories.NewMemoryMatchRepository()}
	hub := newRecordingHub()
	createMatch(t, repo, "m1", "room-1", player1, player2)
	engine := newTestEngine(t, repo, hub, testRule(t, 1), WithFailureThreshold(2))

	repo.grace.Store(1)
	repo.failing.Store(true)
	require.NoError(t, engine.StartMatch(ctx, "m1"), "the start save is let through")

	select {
	case err := <-engine.Errors():
		assert.True(t, errors.Is(err, ErrPersistenceFailure))
	case <-time.After(5 * time.Second):
		t.Fatal("sustained persistence failure was not escalated")
	}

	before := hub.count("room-1", models.MessageMatchState)
	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, hub.count("room-1", models.MessageMatchState), before, "ticks keep flowing while storage is down")
	assert.True(t, engine.IsActive("m1"))

	repo.failing.Store(false)
	engine.HandlePlayerInput("m1", player2, 0)
	evt := waitFinished(t, engine)
	assert.Equal(t, player1, evt.WinnerID)

	rec, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, rec.Status)
	assert.Equal(t, 1, rec.Score1)
}

func TestMatchEngine_SkipsBroadcastWithoutListeners(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryMatchRepository()
	hub := newRecordingHub()
	hub.silent["room-1"] = true
	createMatch(t, repo, "m1", "room-1", player1, player2)
	engine := newTestEngine(t, repo, hub, testRule(t, 1))

	require.NoError(t, engine.StartMatch(ctx, "m1"))
	engine.HandlePlayerInput("m1", player2, 0)
	waitFinished(t, engine)

	assert.Empty(t, hub.envelopes("room-1"))
}

func TestMatchEngine_Shutdown(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryMatchRepository()
	createMatch(t, repo, "m1", "room-1", player1, player2)
	engine := NewMatchEngine(repo, newRecordingHub(), testRule(t, 1000), discardLogger(), WithTickRate(1000))

	require.NoError(t, engine.StartMatch(ctx, "m1"))
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(shutdownCtx))

	assert.Empty(t, engine.ActiveMatches())
	assert.ErrorIs(t, engine.StartMatch(ctx, "m1"), ErrInvalidTransition)
}

// gatedMatchRepository blocks saves of playing records until release is closed.
type gatedMatchRepository struct {
	repositories.MatchRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *gatedMatchRepository) Save(ctx context.Context, exec repositories.SQLExecutor, m *models.Match) error {
	if m.Status == models.MatchStatusPlaying {
		r.once.Do(func() { close(r.entered) })
		<-r.release
	}
	return r.MatchRepository.Save(ctx, exec, m)
}

func TestMatchEngine_CancelDuringStart(t *testing.T) {
	ctx := context.Background()
	repo := &gatedMatchRepository{
		MatchRepository: repositories.NewMemoryMatchRepository(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	createMatch(t, repo, "m1", "room-1", player1, player2)
	engine := newTestEngine(t, repo, newRecordingHub(), testRule(t, 1000))

	started := make(chan error, 1)
	go func() { started <- engine.StartMatch(ctx, "m1") }()
	<-repo.entered

	canceled := make(chan error, 1)
	go func() { canceled <- engine.CancelMatch(ctx, "m1") }()

	select {
	case err := <-canceled:
		t.Fatalf("cancel returned before the start completed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(repo.release)
	require.NoError(t, <-started)
	select {
	case err := <-canceled:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not complete")
	}

	assert.False(t, engine.IsActive("m1"))
	rec, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCanceled, rec.Status)

	assert.ErrorIs(t, engine.StartMatch(ctx, "m1"), ErrInvalidTransition)
}

func TestMatchEngine_StartWhileCanceling(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryMatchRepository()
	createMatch(t, repo, "m1", "room-1", player1, player2)
	engine := newTestEngine(t, repo, newRecordingHub(), testRule(t, 1000))

	// a cancel that owns the reservation makes a concurrent start a no-op.
	own, err := engine.reserve("m1")
	require.NoError(t, err)
	assert.ErrorIs(t, engine.StartMatch(ctx, "m1"), ErrAlreadyRunning)
	require.NoError(t, engine.cancelStored(ctx, "m1"))
	engine.release(own)

	assert.ErrorIs(t, engine.StartMatch(ctx, "m1"), ErrInvalidTransition)
	assert.False(t, engine.IsActive("m1"))
}
