package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dosada05/pong-arena/models"
	"github.com/redis/go-redis/v9"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// DefaultSnapshotTTL keeps the last state of a match around long enough for
// a reconnecting client to catch up.
const DefaultSnapshotTTL = 10 * time.Minute

// SnapshotStore keeps the latest state message of every live match.
type SnapshotStore interface {
	Save(ctx context.Context, state models.MatchStateMessage) error
	Get(ctx context.Context, matchID string) (*models.MatchStateMessage, error)
	Delete(ctx context.Context, matchID string) error
}

type redisSnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &redisSnapshotStore{client: client, prefix: "pong:snapshot:", ttl: ttl}
}

func (s *redisSnapshotStore) key(matchID string) string {
	return s.prefix + matchID
}

func (s *redisSnapshotStore) Save(ctx context.Context, state models.MatchStateMessage) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot of match %s: %w", state.MatchID, err)
	}
	if err := s.client.Set(ctx, s.key(state.MatchID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot of match %s: %w", state.MatchID, err)
	}
	return nil
}

func (s *redisSnapshotStore) Get(ctx context.Context, matchID string) (*models.MatchStateMessage, error) {
	payload, err := s.client.Get(ctx, s.key(matchID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot of match %s: %w", matchID, err)
	}
	var state models.MatchStateMessage
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot of match %s: %w", matchID, err)
	}
	return &state, nil
}

func (s *redisSnapshotStore) Delete(ctx context.Context, matchID string) error {
	if err := s.client.Del(ctx, s.key(matchID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot of match %s: %w", matchID, err)
	}
	return nil
}

type memorySnapshot struct {
	state     models.MatchStateMessage
	expiresAt time.Time
}

// MemorySnapshotStore is the single-process fallback when no REDIS_URL is set.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot
	ttl       time.Duration
	now       func() time.Time
}

func NewMemorySnapshotStore(ttl time.Duration) *MemorySnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &MemorySnapshotStore{
		snapshots: make(map[string]memorySnapshot),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *MemorySnapshotStore) Save(_ context.Context, state models.MatchStateMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[state.MatchID] = memorySnapshot{state: state, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, matchID string) (*models.MatchStateMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[matchID]
	if !ok || s.now().After(snap.expiresAt) {
		return nil, ErrSnapshotNotFound
	}
	state := snap.state
	return &state, nil
}

func (s *MemorySnapshotStore) Delete(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, matchID)
	return nil
}

// Sweep drops expired snapshots and returns how many were removed.
func (s *MemorySnapshotStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, snap := range s.snapshots {
		if now.After(snap.expiresAt) {
			delete(s.snapshots, id)
			removed++
		}
	}
	return removed
}
