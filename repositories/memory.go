package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/pong-arena/models"
)

// In-memory repositories back the service when no DATABASE_URL is set and in
// tests. Every read and write works on clones so callers never alias stored
// records.

type memoryMatchRepository struct {
	mu      sync.RWMutex
	seq     int64
	matches map[string]*storedMatch
}

type storedMatch struct {
	seq   int64
	match *models.Match
}

func NewMemoryMatchRepository() MatchRepository {
	return &memoryMatchRepository{matches: make(map[string]*storedMatch)}
}

func (r *memoryMatchRepository) Create(_ context.Context, _ SQLExecutor, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[match.ID]; ok {
		return ErrMatchConflict
	}
	r.seq++
	r.matches[match.ID] = &storedMatch{seq: r.seq, match: match.Clone()}
	return nil
}

func (r *memoryMatchRepository) GetByID(_ context.Context, id string) (*models.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return stored.match.Clone(), nil
}

func (r *memoryMatchRepository) ListByTournament(_ context.Context, tournamentID string, round *int) ([]*models.Match, error) {
	return r.filter(func(m *models.Match) bool {
		if m.TournamentID == nil || *m.TournamentID != tournamentID {
			return false
		}
		return round == nil || m.Round == *round
	}), nil
}

func (r *memoryMatchRepository) ListActiveByRoom(_ context.Context, roomID string) ([]*models.Match, error) {
	return r.filter(func(m *models.Match) bool {
		return m.RoomID == roomID && !m.IsTerminal()
	}), nil
}

func (r *memoryMatchRepository) Save(_ context.Context, _ SQLExecutor, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.matches[match.ID]
	if !ok {
		return ErrMatchNotFound
	}
	updated := stored.match.Clone()
	updated.Score1 = match.Score1
	updated.Score2 = match.Score2
	updated.Status = match.Status
	updated.WinnerID = match.Clone().WinnerID
	updated.UpdatedAt = match.UpdatedAt
	stored.match = updated
	return nil
}

func (r *memoryMatchRepository) filter(keep func(m *models.Match) bool) []*models.Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	selected := make([]*storedMatch, 0)
	for _, stored := range r.matches {
		if keep(stored.match) {
			selected = append(selected, stored)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		if a.match.Round != b.match.Round {
			return a.match.Round < b.match.Round
		}
		if !a.match.CreatedAt.Equal(b.match.CreatedAt) {
			return a.match.CreatedAt.Before(b.match.CreatedAt)
		}
		return a.seq < b.seq
	})
	out := make([]*models.Match, len(selected))
	for i, stored := range selected {
		out[i] = stored.match.Clone()
	}
	return out
}

type memoryTournamentRepository struct {
	mu          sync.RWMutex
	tournaments map[string]*models.Tournament
}

func NewMemoryTournamentRepository() TournamentRepository {
	return &memoryTournamentRepository{tournaments: make(map[string]*models.Tournament)}
}

func (r *memoryTournamentRepository) Create(_ context.Context, _ SQLExecutor, t *models.Tournament) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := t.Clone()
	stored.Matches = nil
	r.tournaments[t.ID] = stored
	return nil
}

func (r *memoryTournamentRepository) GetByID(_ context.Context, id string) (*models.Tournament, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tournaments[id]
	if !ok {
		return nil, ErrTournamentNotFound
	}
	return t.Clone(), nil
}

func (r *memoryTournamentRepository) GetByRoom(_ context.Context, roomID string) (*models.Tournament, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *models.Tournament
	for _, t := range r.tournaments {
		if t.RoomID != roomID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, ErrTournamentNotFound
	}
	return latest.Clone(), nil
}

func (r *memoryTournamentRepository) AdvanceRound(_ context.Context, _ SQLExecutor, id string, from int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tournaments[id]
	if !ok {
		return false, ErrTournamentNotFound
	}
	if t.Status != models.TournamentStatusOngoing || t.CurrentRound != from {
		return false, nil
	}
	t.CurrentRound++
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memoryTournamentRepository) Finish(_ context.Context, _ SQLExecutor, id string, winnerID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tournaments[id]
	if !ok {
		return false, ErrTournamentNotFound
	}
	if t.Status != models.TournamentStatusOngoing {
		return false, nil
	}
	t.Status = models.TournamentStatusFinished
	t.WinnerID = &winnerID
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

type memoryRoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
}

func NewMemoryRoomRepository() RoomRepository {
	return &memoryRoomRepository{rooms: make(map[string]*models.Room)}
}

func (r *memoryRoomRepository) Create(_ context.Context, _ SQLExecutor, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := room.Clone()
	stored.HasPassword = stored.PasswordHash != nil
	r.rooms[room.ID] = stored
	return nil
}

func (r *memoryRoomRepository) GetByID(_ context.Context, id string) (*models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (r *memoryRoomRepository) List(_ context.Context, status *models.RoomStatus) ([]*models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]*models.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if status == nil || room.Status == *status {
			rooms = append(rooms, room.Clone())
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	return rooms, nil
}

func (r *memoryRoomRepository) UpdateStatus(_ context.Context, _ SQLExecutor, id string, status models.RoomStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.Status = status
	room.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRoomRepository) AddParticipant(_ context.Context, _ SQLExecutor, roomID string, p models.RoomParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if _, exists := room.Participant(p.UserID); exists {
		return ErrParticipantExists
	}
	room.Participants = append(room.Participants, p)
	room.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRoomRepository) RemoveParticipant(_ context.Context, _ SQLExecutor, roomID string, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	for i, p := range room.Participants {
		if p.UserID == userID {
			room.Participants = append(room.Participants[:i:i], room.Participants[i+1:]...)
			room.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrParticipantNotFound
}
