package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/pong-arena/game"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/repositories"
	"github.com/Dosada05/pong-arena/storage"
)

const (
	DefaultTickRate = 60

	defaultSaveTimeout      = 2 * time.Second
	defaultFailureThreshold = 30
	finalSaveAttempts       = 3
	inputBufferSize         = 64
	eventBufferSize         = 64
)

// Broadcaster delivers outbound messages to every connection of a room.
type Broadcaster interface {
	BroadcastToRoom(roomID string, message interface{})
	HasRoom(roomID string) bool
}

// MatchFinishedEvent is emitted once per match that ends with a winner.
type MatchFinishedEvent struct {
	MatchID      string
	RoomID       string
	TournamentID *string
	WinnerID     int
}

type playerInput struct {
	playerID int
	y        float64
}

// runningMatch is reserved before its record is loaded and becomes
// active once the loop is launched. ready closes on either outcome.
type runningMatch struct {
	id        string
	roomID    string
	inputs    chan playerInput
	cancel    context.CancelFunc
	abort     chan struct{}
	once      sync.Once
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

func (rm *runningMatch) requestCancel() {
	rm.once.Do(func() { close(rm.abort) })
}

func (rm *runningMatch) markReady() {
	rm.readyOnce.Do(func() { close(rm.ready) })
}

type MatchEngineOption func(*MatchEngine)

func WithTickRate(hz int) MatchEngineOption {
	return func(e *MatchEngine) {
		if hz > 0 {
			e.interval = time.Second / time.Duration(hz)
		}
	}
}

func WithSnapshotStore(store storage.SnapshotStore) MatchEngineOption {
	return func(e *MatchEngine) { e.snapshots = store }
}

// WithFailureThreshold sets how many consecutive failed saves escalate to the
// error channel.
func WithFailureThreshold(n int) MatchEngineOption {
	return func(e *MatchEngine) {
		if n > 0 {
			e.failureThreshold = n
		}
	}
}

func WithSaveTimeout(d time.Duration) MatchEngineOption {
	return func(e *MatchEngine) {
		if d > 0 {
			e.saveTimeout = d
		}
	}
}

// MatchEngine runs one fixed-rate tick goroutine per active match. The
// goroutine is the only owner of its game.Match; everything else talks to it
// through channels.
type MatchEngine struct {
	matches   repositories.MatchRepository
	hub       Broadcaster
	rule      game.Rule
	snapshots storage.SnapshotStore
	logger    *slog.Logger

	interval         time.Duration
	saveTimeout      time.Duration
	failureThreshold int

	mu     sync.Mutex
	active map[string]*runningMatch

	finished chan MatchFinishedEvent
	errs     chan error

	ctx      context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

func NewMatchEngine(
	matches repositories.MatchRepository,
	hub Broadcaster,
	rule game.Rule,
	logger *slog.Logger,
	opts ...MatchEngineOption,
) *MatchEngine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &MatchEngine{
		matches:          matches,
		hub:              hub,
		rule:             rule,
		logger:           logger,
		interval:         time.Second / DefaultTickRate,
		saveTimeout:      defaultSaveTimeout,
		failureThreshold: defaultFailureThreshold,
		active:           make(map[string]*runningMatch),
		finished:         make(chan MatchFinishedEvent, eventBufferSize),
		errs:             make(chan error, eventBufferSize),
		ctx:              ctx,
		shutdown:         cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Finished delivers one event per match that reached a winner.
func (e *MatchEngine) Finished() <-chan MatchFinishedEvent {
	return e.finished
}

// Errors delivers escalated persistence failures.
func (e *MatchEngine) Errors() <-chan error {
	return e.errs
}

func (e *MatchEngine) IsActive(matchID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[matchID]
	return ok
}

func (e *MatchEngine) ActiveMatches() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// StartMatch moves a scheduled match to playing and starts its tick loop.
func (e *MatchEngine) StartMatch(ctx context.Context, matchID string) error {
	if matchID == "" {
		return fmt.Errorf("%w: match id is required", ErrInvalidArgument)
	}
	if e.ctx.Err() != nil {
		return fmt.Errorf("match engine is shut down: %w", ErrInvalidTransition)
	}

	rm, err := e.reserve(matchID)
	if err != nil {
		e.logger.Warn("start requested for running match", slog.String("match_id", matchID))
		return err
	}

	started := false
	defer func() {
		if !started {
			e.release(rm)
		}
	}()

	record, err := e.matches.GetByID(ctx, matchID)
	if err != nil {
		return handleRepositoryError(err, fmt.Sprintf("load match %s", matchID))
	}

	match := game.NewMatch(record, e.rule)
	if err := match.Start(); err != nil {
		return err
	}
	if err := e.matches.Save(ctx, nil, match.Record()); err != nil {
		return handleRepositoryError(err, fmt.Sprintf("save match %s", matchID))
	}

	loopCtx, cancel := context.WithCancel(e.ctx)
	e.activate(rm, record.RoomID, cancel)

	e.wg.Add(1)
	go e.run(loopCtx, rm, match)
	started = true

	e.logger.Info("match started",
		slog.String("match_id", matchID),
		slog.String("room_id", record.RoomID),
		slog.Int("player1_id", record.Player1ID),
		slog.Int("player2_id", record.Player2ID))
	return nil
}

func (e *MatchEngine) reserve(matchID string) (*runningMatch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[matchID]; ok {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrAlreadyRunning)
	}
	rm := &runningMatch{
		id:     matchID,
		inputs: make(chan playerInput, inputBufferSize),
		abort:  make(chan struct{}),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.active[matchID] = rm
	return rm, nil
}

func (e *MatchEngine) activate(rm *runningMatch, roomID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm.roomID = roomID
	rm.cancel = cancel
	rm.markReady()
}

func (e *MatchEngine) release(rm *runningMatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[rm.id] == rm {
		delete(e.active, rm.id)
	}
	rm.markReady()
}

// entry returns the reservation for matchID and whether its loop runs.
func (e *MatchEngine) entry(matchID string) (*runningMatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm := e.active[matchID]
	if rm == nil {
		return nil, false
	}
	return rm, rm.cancel != nil
}

func (e *MatchEngine) lookup(matchID string) *runningMatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm := e.active[matchID]
	if rm == nil || rm.cancel == nil {
		return nil
	}
	return rm
}

// RoomOf returns the room of a running match.
func (e *MatchEngine) RoomOf(matchID string) (string, bool) {
	rm := e.lookup(matchID)
	if rm == nil {
		return "", false
	}
	return rm.roomID, true
}

// HandlePlayerInput queues a paddle position for the next tick. Input for a
// match that is not running is dropped.
func (e *MatchEngine) HandlePlayerInput(matchID string, playerID int, y float64) {
	rm := e.lookup(matchID)
	if rm == nil {
		return
	}
	select {
	case rm.inputs <- playerInput{playerID: playerID, y: y}:
	default:
		e.logger.Debug("input queue full, dropping input",
			slog.String("match_id", matchID),
			slog.Int("user_id", playerID))
	}
}

// StopMatch halts the tick loop without deciding the match. The persisted
// record keeps its last state.
func (e *MatchEngine) StopMatch(matchID string) error {
	rm := e.lookup(matchID)
	if rm == nil {
		return fmt.Errorf("match %s is not running: %w", matchID, ErrNotFound)
	}
	rm.cancel()
	<-rm.done
	e.logger.Info("match stopped by operator", slog.String("match_id", matchID))
	return nil
}

// CancelMatch ends a scheduled or playing match without a winner. A start
// in progress is waited for, so a canceled match never resumes.
func (e *MatchEngine) CancelMatch(ctx context.Context, matchID string) error {
	for {
		if own, err := e.reserve(matchID); err == nil {
			defer e.release(own)
			return e.cancelStored(ctx, matchID)
		}

		rm, running := e.entry(matchID)
		if rm == nil {
			continue
		}
		if !running {
			select {
			case <-rm.ready:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		rm.requestCancel()
		select {
		case <-rm.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// cancelStored cancels a match that has no loop. The caller holds its
// reservation so StartMatch cannot run concurrently.
func (e *MatchEngine) cancelStored(ctx context.Context, matchID string) error {
	record, err := e.matches.GetByID(ctx, matchID)
	if err != nil {
		return handleRepositoryError(err, fmt.Sprintf("load match %s", matchID))
	}
	match := game.NewMatch(record, e.rule)
	if err := match.Cancel(); err != nil {
		return err
	}
	if err := e.matches.Save(ctx, nil, match.Record()); err != nil {
		return handleRepositoryError(err, fmt.Sprintf("save match %s", matchID))
	}
	e.dropSnapshot(matchID, e.logger)
	e.logger.Info("match canceled", slog.String("match_id", matchID))
	return nil
}

// Shutdown stops every tick loop and waits for final saves to complete.
func (e *MatchEngine) Shutdown(ctx context.Context) error {
	e.shutdown()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("match engine shutdown: %w", ctx.Err())
	}
}

func (e *MatchEngine) run(ctx context.Context, rm *runningMatch, match *game.Match) {
	defer e.wg.Done()
	defer close(rm.done)

	logger := e.logger.With(slog.String("match_id", rm.id), slog.String("room_id", rm.roomID))
	p := newPersister(e, rm.id, logger)
	go p.loop()

	e.publish(rm, match)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.release(rm)
			p.offer(e.stateOf(rm, match))
			p.close()
			logger.Info("match loop stopped", slog.Int("score1", match.Record().Score1), slog.Int("score2", match.Record().Score2))
			return

		case <-rm.abort:
			e.release(rm)
			p.close()
			if err := match.Cancel(); err != nil {
				logger.Warn("cancel rejected", slog.Any("error", err))
				return
			}
			e.saveFinal(match.Record(), logger)
			e.dropSnapshot(rm.id, logger)
			e.publish(rm, match)
			logger.Info("match canceled")
			return

		case <-ticker.C:
			e.drainInputs(rm, match)
			res := match.Advance()
			if res.Finished {
				e.release(rm)
				p.close()
				e.finish(rm, match, logger)
				return
			}
			p.offer(e.stateOf(rm, match))
			e.publish(rm, match)
		}
	}
}

func (e *MatchEngine) drainInputs(rm *runningMatch, match *game.Match) {
	for {
		select {
		case in := <-rm.inputs:
			match.ApplyInput(in.playerID, in.y)
		default:
			return
		}
	}
}

func (e *MatchEngine) finish(rm *runningMatch, match *game.Match, logger *slog.Logger) {
	record := match.Record()
	e.saveFinal(record, logger)
	e.storeSnapshot(e.stateOf(rm, match).state, logger)

	e.publish(rm, match)
	if e.hub.HasRoom(rm.roomID) {
		e.hub.BroadcastToRoom(rm.roomID, models.NewMatchFinishedEnvelope(rm.id, record.WinnerID))
	}

	logger.Info("match finished",
		slog.Int("winner_id", *record.WinnerID),
		slog.Int("score1", record.Score1),
		slog.Int("score2", record.Score2))

	evt := MatchFinishedEvent{
		MatchID:      rm.id,
		RoomID:       rm.roomID,
		TournamentID: record.TournamentID,
		WinnerID:     *record.WinnerID,
	}
	select {
	case e.finished <- evt:
	case <-e.ctx.Done():
		logger.Warn("engine shut down before finish event was delivered")
	}
}

// saveFinal retries the terminal save a few times; the in-memory result is
// still announced when storage stays down.
func (e *MatchEngine) saveFinal(record *models.Match, logger *slog.Logger) {
	var err error
	for attempt := 1; attempt <= finalSaveAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
		err = e.matches.Save(ctx, nil, record)
		cancel()
		if err == nil {
			return
		}
		logger.Warn("final save failed", slog.Int("attempt", attempt), slog.Any("error", err))
		time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
	}
	e.escalate(fmt.Errorf("final save of match %s: %w: %v", record.ID, ErrPersistenceFailure, err), logger)
}

func (e *MatchEngine) escalate(err error, logger *slog.Logger) {
	logger.Error("persistence failure", slog.Any("error", err))
	select {
	case e.errs <- err:
	default:
	}
}

func (e *MatchEngine) publish(rm *runningMatch, match *game.Match) {
	if !e.hub.HasRoom(rm.roomID) {
		return
	}
	e.hub.BroadcastToRoom(rm.roomID, models.NewMatchStateEnvelope(rm.id, match.Snapshot()))
}

type tickState struct {
	record *models.Match
	state  models.MatchStateMessage
}

func (e *MatchEngine) stateOf(rm *runningMatch, match *game.Match) tickState {
	return tickState{
		record: match.Record(),
		state: models.MatchStateMessage{
			Type:    models.MessageMatchState,
			MatchID: rm.id,
			State:   match.Snapshot(),
		},
	}
}

func (e *MatchEngine) storeSnapshot(state models.MatchStateMessage, logger *slog.Logger) {
	if e.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
	defer cancel()
	if err := e.snapshots.Save(ctx, state); err != nil {
		logger.Debug("snapshot store failed", slog.Any("error", err))
	}
}

// dropSnapshot forgets the replay state of a match that will not resume.
func (e *MatchEngine) dropSnapshot(matchID string, logger *slog.Logger) {
	if e.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
	defer cancel()
	if err := e.snapshots.Delete(ctx, matchID); err != nil {
		logger.Debug("snapshot delete failed", slog.String("match_id", matchID), slog.Any("error", err))
	}
}

// persister writes tick states off the tick goroutine. Only the newest
// pending state is kept; a failed save is superseded by the next tick.
type persister struct {
	engine  *MatchEngine
	matchID string
	logger  *slog.Logger

	latest chan tickState
	quit   chan struct{}
	done   chan struct{}

	lastSaved *models.Match
	failures  int
}

func newPersister(e *MatchEngine, matchID string, logger *slog.Logger) *persister {
	return &persister{
		engine:  e,
		matchID: matchID,
		logger:  logger,
		latest:  make(chan tickState, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// offer is called only from the tick goroutine.
func (p *persister) offer(s tickState) {
	for {
		select {
		case p.latest <- s:
			return
		default:
			select {
			case <-p.latest:
			default:
			}
		}
	}
}

// close flushes the pending state and waits for the writer to exit.
func (p *persister) close() {
	close(p.quit)
	<-p.done
}

func (p *persister) loop() {
	defer close(p.done)
	for {
		select {
		case s := <-p.latest:
			p.write(s)
		case <-p.quit:
			select {
			case s := <-p.latest:
				p.write(s)
			default:
			}
			return
		}
	}
}

func (p *persister) write(s tickState) {
	p.engine.storeSnapshot(s.state, p.logger)

	if p.lastSaved != nil && sameProgress(p.lastSaved, s.record) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.engine.saveTimeout)
	err := p.engine.matches.Save(ctx, nil, s.record)
	cancel()
	if err == nil {
		p.lastSaved = s.record
		p.failures = 0
		return
	}

	p.failures++
	p.logger.Warn("match save failed, retrying on next tick",
		slog.Int("consecutive_failures", p.failures),
		slog.Any("error", err))
	if p.failures%p.engine.failureThreshold == 0 {
		p.engine.escalate(fmt.Errorf("match %s: %d consecutive saves failed: %w: %v",
			p.matchID, p.failures, ErrPersistenceFailure, err), p.logger)
	}
}

func sameProgress(a, b *models.Match) bool {
	if a.Score1 != b.Score1 || a.Score2 != b.Score2 || a.Status != b.Status {
		return false
	}
	if (a.WinnerID == nil) != (b.WinnerID == nil) {
		return false
	}
	return a.WinnerID == nil || *a.WinnerID == *b.WinnerID
}
