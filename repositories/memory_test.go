package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/Dosada05/pong-arena/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestMemoryMatchRepository_OrderAndClone(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMatchRepository()
	created := time.Now().UTC()

	for _, m := range []*models.Match{
		{ID: "final", RoomID: "r", TournamentID: strPtr("t"), Round: 2, Player1ID: 1, Player2ID: 3, Status: models.MatchStatusScheduled, CreatedAt: created},
		{ID: "m1", RoomID: "r", TournamentID: strPtr("t"), Round: 1, Player1ID: 1, Player2ID: 2, Status: models.MatchStatusScheduled, CreatedAt: created},
		{ID: "m2", RoomID: "r", TournamentID: strPtr("t"), Round: 1, Player1ID: 3, Player2ID: 4, Status: models.MatchStatusScheduled, CreatedAt: created},
		{ID: "casual", RoomID: "r", Round: 1, Player1ID: 5, Player2ID: 6, Status: models.MatchStatusPlaying, CreatedAt: created},
	} {
		require.NoError(t, repo.Create(ctx, nil, m))
	}
	assert.ErrorIs(t, repo.Create(ctx, nil, &models.Match{ID: "m1"}), ErrMatchConflict)

	all, err := repo.ListByTournament(ctx, "t", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"m1", "m2", "final"}, []string{all[0].ID, all[1].ID, all[2].ID})

	round := 1
	first, err := repo.ListByTournament(ctx, "t", &round)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	first[0].Score1 = 99
	again, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Score1, "returned records must not alias storage")

	active, err := repo.ListActiveByRoom(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, active, 4)

	winner := 1
	again.Status = models.MatchStatusFinished
	again.WinnerID = &winner
	again.Score1 = 5
	again.Player1ID = 42
	require.NoError(t, repo.Save(ctx, nil, again))

	saved, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, saved.Status)
	assert.Equal(t, 5, saved.Score1)
	assert.Equal(t, 1, saved.Player1ID, "save does not rewrite pairing")

	active, err = repo.ListActiveByRoom(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, active, 3)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrMatchNotFound)
	assert.ErrorIs(t, repo.Save(ctx, nil, &models.Match{ID: "missing"}), ErrMatchNotFound)
}

func TestMemoryTournamentRepository_GuardedUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTournamentRepository()

	require.NoError(t, repo.Create(ctx, nil, &models.Tournament{
		ID:           "t1",
		RoomID:       "r1",
		Participants: []int{1, 2, 3, 4},
		Status:       models.TournamentStatusOngoing,
		CurrentRound: 1,
		CreatedAt:    time.Now().UTC(),
	}))

	ok, err := repo.AdvanceRound(ctx, nil, "t1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AdvanceRound(ctx, nil, "t1", 1)
	require.NoError(t, err)
	assert.False(t, ok, "second advance from the same round is rejected")

	ok, err = repo.Finish(ctx, nil, "t1", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Finish(ctx, nil, "t1", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusFinished, got.Status)
	assert.Equal(t, 2, got.CurrentRound)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, 3, *got.WinnerID)

	_, err = repo.AdvanceRound(ctx, nil, "missing", 1)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
	_, err = repo.GetByRoom(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestMemoryRoomRepository_Participants(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, nil, &models.Room{ID: "r1", OwnerID: 1, Status: models.RoomStatusWaiting, MaxPlayers: 4, CreatedAt: now}))

	for i, role := range []models.RoomRole{models.RoomRolePlayer, models.RoomRoleSpectator, models.RoomRolePlayer} {
		require.NoError(t, repo.AddParticipant(ctx, nil, "r1", models.RoomParticipant{UserID: i + 1, Role: role, JoinedAt: now}))
	}
	assert.ErrorIs(t, repo.AddParticipant(ctx, nil, "r1", models.RoomParticipant{UserID: 1}), ErrParticipantExists)
	assert.ErrorIs(t, repo.AddParticipant(ctx, nil, "nope", models.RoomParticipant{UserID: 1}), ErrRoomNotFound)

	room, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, room.Players())

	require.NoError(t, repo.RemoveParticipant(ctx, nil, "r1", 1))
	assert.ErrorIs(t, repo.RemoveParticipant(ctx, nil, "r1", 1), ErrParticipantNotFound)

	require.NoError(t, repo.UpdateStatus(ctx, nil, "r1", models.RoomStatusPlaying))
	waiting := models.RoomStatusWaiting
	rooms, err := repo.List(ctx, &waiting)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	rooms, err = repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, []int{3}, rooms[0].Players())
}

func TestMemoryTxRunner(t *testing.T) {
	called := false
	err := NewMemoryTxRunner().RunInTx(context.Background(), func(ctx context.Context, exec SQLExecutor) error {
		called = true
		assert.Nil(t, exec)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
