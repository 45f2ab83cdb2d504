package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/repositories"
	"github.com/Dosada05/pong-arena/utils"
	"github.com/google/uuid"
)

const DefaultMaxRoomPlayers = 8

// TournamentStarter is the part of the orchestrator rooms depend on.
type TournamentStarter interface {
	StartTournament(ctx context.Context, participants []int, roomID string, createdBy int) (*models.Tournament, error)
}

// MatchCanceler is the part of the engine rooms depend on.
type MatchCanceler interface {
	CancelMatch(ctx context.Context, matchID string) error
}

type CreateRoomInput struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"max_players"`
	Password   string `json:"password,omitempty"`
}

// StartResult tells the caller what starting a room produced: a tournament
// for four or more players, a casual match otherwise.
type StartResult struct {
	Room       *models.Room       `json:"room"`
	Tournament *models.Tournament `json:"tournament,omitempty"`
	Match      *models.Match      `json:"match,omitempty"`
}

type startMode int

const (
	startAuto startMode = iota
	startTournamentOnly
)

type RoomService struct {
	rooms       repositories.RoomRepository
	matches     repositories.MatchRepository
	tx          repositories.TxRunner
	tournaments TournamentStarter
	engine      MatchCanceler
	hub         Broadcaster
	logger      *slog.Logger
	maxPlayers  int

	locks *keyedMutex
	now   func() time.Time
}

func NewRoomService(
	rooms repositories.RoomRepository,
	matches repositories.MatchRepository,
	tx repositories.TxRunner,
	tournaments TournamentStarter,
	engine MatchCanceler,
	hub Broadcaster,
	maxPlayers int,
	logger *slog.Logger,
) *RoomService {
	if maxPlayers < 2 {
		maxPlayers = DefaultMaxRoomPlayers
	}
	return &RoomService{
		rooms:       rooms,
		matches:     matches,
		tx:          tx,
		tournaments: tournaments,
		engine:      engine,
		hub:         hub,
		logger:      logger,
		maxPlayers:  maxPlayers,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, ownerID int, input CreateRoomInput) (*models.Room, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", ErrInvalidArgument)
	}
	if ownerID <= 0 {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidArgument)
	}
	maxPlayers := input.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = s.maxPlayers
	}
	if maxPlayers < 2 || maxPlayers > s.maxPlayers {
		return nil, fmt.Errorf("%w: max players must be between 2 and %d", ErrInvalidArgument, s.maxPlayers)
	}

	now := s.now().UTC()
	room := &models.Room{
		ID:         uuid.NewString(),
		Name:       name,
		OwnerID:    ownerID,
		Status:     models.RoomStatusWaiting,
		MaxPlayers: maxPlayers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if input.Password != "" {
		hash, err := utils.HashPassword(input.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash room password: %w", err)
		}
		room.PasswordHash = &hash
		room.HasPassword = true
	}
	owner := models.RoomParticipant{UserID: ownerID, Role: models.RoomRolePlayer, JoinedAt: now}

	err := s.tx.RunInTx(ctx, func(ctx context.Context, exec repositories.SQLExecutor) error {
		if err := s.rooms.Create(ctx, exec, room); err != nil {
			return err
		}
		return s.rooms.AddParticipant(ctx, exec, room.ID, owner)
	})
	if err != nil {
		return nil, handleRepositoryError(err, "create room")
	}
	room.Participants = []models.RoomParticipant{owner}

	s.logger.Info("room created", slog.String("room_id", room.ID), slog.Int("owner_id", ownerID))
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("load room %s", roomID))
	}
	return room, nil
}

func (s *RoomService) ListRooms(ctx context.Context, status *models.RoomStatus) ([]*models.Room, error) {
	rooms, err := s.rooms.List(ctx, status)
	if err != nil {
		return nil, handleRepositoryError(err, "list rooms")
	}
	return rooms, nil
}

// JoinRoom adds userID to a waiting room. Players count against MaxPlayers,
// spectators do not.
func (s *RoomService) JoinRoom(ctx context.Context, roomID string, userID int, role models.RoomRole, password string) (*models.Room, error) {
	if role == "" {
		role = models.RoomRolePlayer
	}
	if role != models.RoomRolePlayer && role != models.RoomRoleSpectator {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, role)
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusWaiting {
		return nil, ErrRoomNotWaiting
	}
	if _, ok := room.Participant(userID); ok {
		return nil, ErrAlreadyInRoom
	}
	if room.PasswordHash != nil && !utils.CheckPasswordHash(password, *room.PasswordHash) {
		return nil, ErrRoomPassword
	}
	if role == models.RoomRolePlayer && room.PlayersCount() >= room.MaxPlayers {
		return nil, ErrRoomFull
	}

	p := models.RoomParticipant{UserID: userID, Role: role, JoinedAt: s.now().UTC()}
	if err := s.rooms.AddParticipant(ctx, nil, roomID, p); err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("join room %s", roomID))
	}
	room.Participants = append(room.Participants, p)

	s.logger.Info("user joined room",
		slog.String("room_id", roomID),
		slog.Int("user_id", userID),
		slog.String("role", string(role)))
	s.broadcastRoom(room)
	return room, nil
}

// LeaveRoom removes userID. The owner leaving a waiting room closes it.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID string, userID int) (*models.Room, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, ok := room.Participant(userID); !ok {
		return nil, ErrNotInRoom
	}

	if room.OwnerID == userID && room.Status == models.RoomStatusWaiting {
		if err := s.rooms.UpdateStatus(ctx, nil, roomID, models.RoomStatusFinished); err != nil {
			return nil, handleRepositoryError(err, fmt.Sprintf("close room %s", roomID))
		}
		room.Status = models.RoomStatusFinished
		s.logger.Info("owner left, room closed", slog.String("room_id", roomID))
		s.broadcastRoom(room)
		return room, nil
	}

	if err := s.rooms.RemoveParticipant(ctx, nil, roomID, userID); err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("leave room %s", roomID))
	}
	kept := room.Participants[:0]
	for _, p := range room.Participants {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	room.Participants = kept
	s.broadcastRoom(room)
	return room, nil
}

// StartRoom starts a waiting room: four or more players play a tournament
// between the first four to join, two or three play a casual match.
func (s *RoomService) StartRoom(ctx context.Context, roomID string, userID int) (*StartResult, error) {
	return s.start(ctx, roomID, userID, startAuto)
}

// StartTournament is StartRoom restricted to the tournament shape.
func (s *RoomService) StartTournament(ctx context.Context, roomID string, userID int) (*StartResult, error) {
	return s.start(ctx, roomID, userID, startTournamentOnly)
}

func (s *RoomService) start(ctx context.Context, roomID string, userID int, mode startMode) (*StartResult, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.OwnerID != userID {
		return nil, fmt.Errorf("only the room owner can start it: %w", ErrForbidden)
	}
	if room.Status != models.RoomStatusWaiting {
		return nil, ErrRoomNotWaiting
	}
	players := room.Players()
	if len(players) < 2 {
		return nil, ErrNotEnoughPlayers
	}
	if mode == startTournamentOnly && len(players) < models.TournamentSize {
		return nil, fmt.Errorf("%w: a tournament needs %d players", ErrNotEnoughPlayers, models.TournamentSize)
	}

	if err := s.rooms.UpdateStatus(ctx, nil, roomID, models.RoomStatusPlaying); err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("start room %s", roomID))
	}
	room.Status = models.RoomStatusPlaying
	result := &StartResult{Room: room}

	if len(players) >= models.TournamentSize {
		result.Tournament, err = s.tournaments.StartTournament(ctx, players[:models.TournamentSize], roomID, userID)
	} else {
		result.Match, err = s.createCasualMatch(ctx, roomID, players[0], players[1])
	}
	if err != nil {
		if rbErr := s.rooms.UpdateStatus(ctx, nil, roomID, models.RoomStatusWaiting); rbErr != nil {
			s.logger.Error("failed to reopen room after start error",
				slog.String("room_id", roomID),
				slog.Any("error", rbErr))
		}
		return nil, err
	}

	s.logger.Info("room started",
		slog.String("room_id", roomID),
		slog.Int("players", len(players)),
		slog.Bool("tournament", result.Tournament != nil))
	s.broadcastRoom(room)
	return result, nil
}

func (s *RoomService) createCasualMatch(ctx context.Context, roomID string, p1, p2 int) (*models.Match, error) {
	now := s.now().UTC()
	m := &models.Match{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Round:     1,
		Player1ID: p1,
		Player2ID: p2,
		Status:    models.MatchStatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.matches.Create(ctx, nil, m); err != nil {
		return nil, handleRepositoryError(err, "create casual match")
	}
	return m, nil
}

// DeleteRoom closes a room for good and cancels its unfinished matches.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string, userID int) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != userID {
		return fmt.Errorf("only the room owner can delete it: %w", ErrForbidden)
	}
	if room.Status == models.RoomStatusFinished {
		return nil
	}
	return s.close(ctx, room)
}

func (s *RoomService) close(ctx context.Context, room *models.Room) error {
	active, err := s.matches.ListActiveByRoom(ctx, room.ID)
	if err != nil {
		return handleRepositoryError(err, fmt.Sprintf("list matches of room %s", room.ID))
	}
	for _, m := range active {
		if err := s.engine.CancelMatch(ctx, m.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			s.logger.Warn("failed to cancel match of closed room",
				slog.String("room_id", room.ID),
				slog.String("match_id", m.ID),
				slog.Any("error", err))
		}
	}

	if err := s.rooms.UpdateStatus(ctx, nil, room.ID, models.RoomStatusFinished); err != nil {
		return handleRepositoryError(err, fmt.Sprintf("close room %s", room.ID))
	}
	room.Status = models.RoomStatusFinished

	s.logger.Info("room closed", slog.String("room_id", room.ID), slog.Int("canceled_matches", len(active)))
	s.broadcastRoom(room)
	return nil
}

// ActiveMatches lists the scheduled and playing matches of a room.
func (s *RoomService) ActiveMatches(ctx context.Context, roomID string) ([]*models.Match, error) {
	matches, err := s.matches.ListActiveByRoom(ctx, roomID)
	if err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("list matches of room %s", roomID))
	}
	return matches, nil
}

// EvictIdle closes waiting rooms nobody is connected to that have not
// changed for idleFor. It returns how many rooms were closed.
func (s *RoomService) EvictIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	waiting := models.RoomStatusWaiting
	rooms, err := s.ListRooms(ctx, &waiting)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-idleFor)
	evicted := 0
	for _, room := range rooms {
		if room.UpdatedAt.After(cutoff) || s.hub.HasRoom(room.ID) {
			continue
		}
		unlock := s.locks.Lock(room.ID)
		current, err := s.GetRoom(ctx, room.ID)
		if err == nil && current.Status == models.RoomStatusWaiting && !current.UpdatedAt.After(cutoff) {
			err = s.close(ctx, current)
			if err == nil {
				evicted++
			}
		}
		unlock()
		if err != nil {
			s.logger.Warn("failed to evict idle room", slog.String("room_id", room.ID), slog.Any("error", err))
		}
	}
	return evicted, nil
}

func (s *RoomService) broadcastRoom(room *models.Room) {
	if !s.hub.HasRoom(room.ID) {
		return
	}
	s.hub.BroadcastToRoom(room.ID, models.NewRoomStateEnvelope(room.Clone()))
}
