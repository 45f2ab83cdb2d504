package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const (
	DefaultJanitorInterval = time.Minute
	DefaultRoomIdleTimeout = 30 * time.Minute
)

// StaleCloser drops connections that stopped answering.
type StaleCloser interface {
	CloseStale(cutoff time.Time) int
}

// IdleEvictor closes rooms nobody uses.
type IdleEvictor interface {
	EvictIdle(ctx context.Context, idleFor time.Duration) (int, error)
}

// Sweeper drops expired entries from an in-process cache.
type Sweeper interface {
	Sweep() int
}

type JanitorConfig struct {
	Interval        time.Duration
	RoomIdleTimeout time.Duration
	StaleAfter      time.Duration
}

// Janitor runs periodic cleanup: stale sockets, idle rooms and expired
// snapshots.
type Janitor struct {
	cfg       JanitorConfig
	conns     StaleCloser
	rooms     IdleEvictor
	snapshots Sweeper
	logger    *slog.Logger

	sched gocron.Scheduler
	now   func() time.Time
}

// NewJanitor registers the cleanup jobs. snapshots may be nil when the
// snapshot store expires entries on its own.
func NewJanitor(cfg JanitorConfig, conns StaleCloser, rooms IdleEvictor, snapshots Sweeper, logger *slog.Logger) (*Janitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultJanitorInterval
	}
	if cfg.RoomIdleTimeout <= 0 {
		cfg.RoomIdleTimeout = DefaultRoomIdleTimeout
	}

	sched, err := gocron.NewScheduler(gocron.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	j := &Janitor{
		cfg:       cfg,
		conns:     conns,
		rooms:     rooms,
		snapshots: snapshots,
		logger:    logger,
		sched:     sched,
		now:       time.Now,
	}

	tasks := map[string]func(){
		"close-stale-connections": j.closeStale,
		"evict-idle-rooms":        func() { j.evictIdle(context.Background()) },
	}
	if snapshots != nil {
		tasks["sweep-snapshots"] = j.sweepSnapshots
	}
	for name, task := range tasks {
		_, err := sched.NewJob(
			gocron.DurationJob(cfg.Interval),
			gocron.NewTask(task),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("failed to register job %s: %w", name, err)
		}
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.sched.Start()
	j.logger.Info("janitor started", slog.Duration("interval", j.cfg.Interval))
}

func (j *Janitor) Shutdown() error {
	return j.sched.Shutdown()
}

// RunOnce runs every cleanup task synchronously.
func (j *Janitor) RunOnce(ctx context.Context) {
	j.closeStale()
	j.evictIdle(ctx)
	if j.snapshots != nil {
		j.sweepSnapshots()
	}
}

func (j *Janitor) closeStale() {
	if j.cfg.StaleAfter <= 0 {
		return
	}
	if n := j.conns.CloseStale(j.now().Add(-j.cfg.StaleAfter)); n > 0 {
		j.logger.Info("closed stale connections", slog.Int("count", n))
	}
}

func (j *Janitor) evictIdle(ctx context.Context) {
	n, err := j.rooms.EvictIdle(ctx, j.cfg.RoomIdleTimeout)
	if err != nil {
		j.logger.Error("idle room eviction failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		j.logger.Info("evicted idle rooms", slog.Int("count", n))
	}
}

func (j *Janitor) sweepSnapshots() {
	if n := j.snapshots.Sweep(); n > 0 {
		j.logger.Debug("swept expired snapshots", slog.Int("count", n))
	}
}
