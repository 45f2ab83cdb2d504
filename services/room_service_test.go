package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCanceler struct {
	mu       sync.Mutex
	canceled []string
}

func (c *recordingCanceler) CancelMatch(_ context.Context, matchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, matchID)
	return nil
}

type failingStarter struct{}

func (failingStarter) StartTournament(context.Context, []int, string, int) (*models.Tournament, error) {
	return nil, errors.New("database unavailable")
}

type roomFixture struct {
	rooms    repositories.RoomRepository
	matches  repositories.MatchRepository
	hub      *recordingHub
	canceler *recordingCanceler
	svc      *RoomService
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	f := &roomFixture{
		rooms:    repositories.NewMemoryRoomRepository(),
		matches:  repositories.NewMemoryMatchRepository(),
		hub:      newRecordingHub(),
		canceler: &recordingCanceler{},
	}
	tx := repositories.NewMemoryTxRunner()
	orchestrator := NewTournamentOrchestrator(repositories.NewMemoryTournamentRepository(), f.matches, f.rooms, tx, f.hub, discardLogger())
	f.svc = NewRoomService(f.rooms, f.matches, tx, orchestrator, f.canceler, f.hub, 8, discardLogger())
	return f
}

func (f *roomFixture) roomWithPlayers(t *testing.T, owner int, others ...int) *models.Room {
	t.Helper()
	ctx := context.Background()
	room, err := f.svc.CreateRoom(ctx, owner, CreateRoomInput{Name: "lobby"})
	require.NoError(t, err)
	for _, id := range others {
		room, err = f.svc.JoinRoom(ctx, room.ID, id, models.RoomRolePlayer, "")
		require.NoError(t, err)
	}
	return room
}

func TestCreateRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	room, err := f.svc.CreateRoom(ctx, 7, CreateRoomInput{Name: "  evening cup  ", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "evening cup", room.Name)
	assert.Equal(t, models.RoomStatusWaiting, room.Status)
	assert.Equal(t, 8, room.MaxPlayers)
	assert.True(t, room.HasPassword)
	require.NotNil(t, room.PasswordHash)
	assert.NotEqual(t, "secret", *room.PasswordHash)
	assert.Equal(t, []int{7}, room.Players())

	stored, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, stored.Players())

	tests := []struct {
		name  string
		owner int
		input CreateRoomInput
	}{
		{"empty name", 7, CreateRoomInput{Name: "   "}},
		{"no owner", 0, CreateRoomInput{Name: "x"}},
		{"one seat", 7, CreateRoomInput{Name: "x", MaxPlayers: 1}},
		{"above limit", 7, CreateRoomInput{Name: "x", MaxPlayers: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateRoom(ctx, tt.owner, tt.input)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	_, err = f.svc.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	room, err := f.svc.CreateRoom(ctx, 1, CreateRoomInput{Name: "duel", MaxPlayers: 2, Password: "pw"})
	require.NoError(t, err)

	_, err = f.svc.JoinRoom(ctx, room.ID, 2, models.RoomRolePlayer, "wrong")
	assert.ErrorIs(t, err, ErrRoomPassword)
	assert.ErrorIs(t, err, ErrForbidden)

	joined, err := f.svc.JoinRoom(ctx, room.ID, 2, "", "pw")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, joined.Players())

	_, err = f.svc.JoinRoom(ctx, room.ID, 2, models.RoomRolePlayer, "pw")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)

	_, err = f.svc.JoinRoom(ctx, room.ID, 3, models.RoomRolePlayer, "pw")
	assert.ErrorIs(t, err, ErrRoomFull)

	spectating, err := f.svc.JoinRoom(ctx, room.ID, 3, models.RoomRoleSpectator, "pw")
	require.NoError(t, err)
	assert.Len(t, spectating.Participants, 3)
	assert.Equal(t, 2, spectating.PlayersCount())

	_, err = f.svc.JoinRoom(ctx, room.ID, 4, "referee", "pw")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, 2, f.hub.count(room.ID, models.MessageRoomState))
}

func TestLeaveRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.roomWithPlayers(t, 1, 2, 3)

	left, err := f.svc.LeaveRoom(ctx, room.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, left.Players())

	_, err = f.svc.LeaveRoom(ctx, room.ID, 2)
	assert.ErrorIs(t, err, ErrNotInRoom)

	closed, err := f.svc.LeaveRoom(ctx, room.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinished, closed.Status)

	_, err = f.svc.JoinRoom(ctx, room.ID, 9, models.RoomRolePlayer, "")
	assert.ErrorIs(t, err, ErrRoomNotWaiting)
}

func TestStartRoom_CasualMatch(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.roomWithPlayers(t, 1, 2, 3)

	_, err := f.svc.StartRoom(ctx, room.ID, 2)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.svc.StartRoom(ctx, room.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, res.Tournament)
	require.NotNil(t, res.Match)
	assert.Equal(t, 1, res.Match.Player1ID)
	assert.Equal(t, 2, res.Match.Player2ID)
	assert.Nil(t, res.Match.TournamentID)
	assert.Equal(t, models.RoomStatusPlaying, res.Room.Status)

	stored, err := f.matches.GetByID(ctx, res.Match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusScheduled, stored.Status)

	_, err = f.svc.StartRoom(ctx, room.ID, 1)
	assert.ErrorIs(t, err, ErrRoomNotWaiting)
}

func TestStartRoom_Tournament(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.roomWithPlayers(t, 1, 2, 3, 4, 5)

	res, err := f.svc.StartRoom(ctx, room.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, res.Tournament)
	assert.Nil(t, res.Match)
	assert.Equal(t, []int{1, 2, 3, 4}, res.Tournament.Participants)
	assert.Equal(t, room.ID, res.Tournament.RoomID)
	assert.Len(t, f.hub.brackets(room.ID), 1)
}

func TestStartTournament_NeedsFourPlayers(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	solo := f.roomWithPlayers(t, 1)
	_, err := f.svc.StartRoom(ctx, solo.ID, 1)
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)

	trio := f.roomWithPlayers(t, 1, 2, 3)
	_, err = f.svc.StartTournament(ctx, trio.ID, 1)
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)

	stored, err := f.svc.GetRoom(ctx, trio.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusWaiting, stored.Status)
}

func TestStartRoom_ReopensOnFailure(t *testing.T) {
	rooms := repositories.NewMemoryRoomRepository()
	hub := newRecordingHub()
	svc := NewRoomService(rooms, repositories.NewMemoryMatchRepository(), repositories.NewMemoryTxRunner(),
		failingStarter{}, &recordingCanceler{}, hub, 8, discardLogger())
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, 1, CreateRoomInput{Name: "flaky"})
	require.NoError(t, err)
	for _, id := range []int{2, 3, 4} {
		_, err = svc.JoinRoom(ctx, room.ID, id, models.RoomRolePlayer, "")
		require.NoError(t, err)
	}

	_, err = svc.StartRoom(ctx, room.ID, 1)
	require.Error(t, err)

	stored, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusWaiting, stored.Status)
}

func TestDeleteRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.roomWithPlayers(t, 1, 2)

	res, err := f.svc.StartRoom(ctx, room.ID, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteRoom(ctx, room.ID, 2), ErrForbidden)
	require.NoError(t, f.svc.DeleteRoom(ctx, room.ID, 1))
	assert.Equal(t, []string{res.Match.ID}, f.canceler.canceled)

	stored, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinished, stored.Status)

	require.NoError(t, f.svc.DeleteRoom(ctx, room.ID, 1))
	assert.Len(t, f.canceler.canceled, 1)

	assert.ErrorIs(t, f.svc.DeleteRoom(ctx, "missing", 1), ErrNotFound)
}

func TestListRooms(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	open := f.roomWithPlayers(t, 1)
	started := f.roomWithPlayers(t, 2, 3)
	_, err := f.svc.StartRoom(ctx, started.ID, 2)
	require.NoError(t, err)

	all, err := f.svc.ListRooms(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	waiting := models.RoomStatusWaiting
	filtered, err := f.svc.ListRooms(ctx, &waiting)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, open.ID, filtered[0].ID)
}

func TestEvictIdle(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	idle := f.roomWithPlayers(t, 1)
	watched := f.roomWithPlayers(t, 2)
	f.hub.silent[idle.ID] = true

	evicted, err := f.svc.EvictIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, evicted)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	evicted, err = f.svc.EvictIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	stored, err := f.svc.GetRoom(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinished, stored.Status)

	stored, err = f.svc.GetRoom(ctx, watched.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusWaiting, stored.Status)
}
