package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/pong-arena/models"
)

var (
	ErrInvalidTransition = errors.New("invalid match state transition")
	ErrNotParticipant    = errors.New("user is not a participant of this match")
)

// TickResult reports what a single Advance did.
type TickResult struct {
	Scorer   Side
	Finished bool
}

// Match drives one match record through its lifecycle. It is not safe for
// concurrent use: the engine's tick goroutine is its only owner.
type Match struct {
	record models.Match
	rule   Rule
	frame  FrameState
	now    func() time.Time
}

func NewMatch(record *models.Match, rule Rule) *Match {
	return &Match{
		record: *record.Clone(),
		rule:   rule,
		frame:  InitialFrame(rule),
		now:    time.Now,
	}
}

func (m *Match) ID() string { return m.record.ID }
func (m *Match) Status() models.MatchStatus { return m.record.Status }
func (m *Match) Frame() FrameState { return m.frame }

// Record returns a copy of the persisted view of the match.
func (m *Match) Record() *models.Match {
	return m.record.Clone()
}

func (m *Match) Start() error {
	if m.record.Status != models.MatchStatusScheduled {
		return fmt.Errorf("%w: cannot start match %s in status %s", ErrInvalidTransition, m.record.ID, m.record.Status)
	}
	m.record.Status = models.MatchStatusPlaying
	m.frame = InitialFrame(m.rule)
	m.touch()
	return nil
}

// ApplyInput moves the paddle of playerID. Input from non-participants and
// input outside of play are ignored; the return value reports whether it was applied.
func (m *Match) ApplyInput(playerID int, paddleY float64) bool {
	if m.record.Status != models.MatchStatusPlaying {
		return false
	}
	y := ClampPaddle(paddleY, m.rule)
	switch playerID {
	case m.record.Player1ID:
		m.frame.Player1Paddle.Y = y
	case m.record.Player2ID:
		m.frame.Player2Paddle.Y = y
	default:
		return false
	}
	return true
}

// Advance runs one tick. Outside of play it does nothing.
func (m *Match) Advance() TickResult {
	if m.record.Status != models.MatchStatusPlaying {
		return TickResult{}
	}

	step := Step(m.frame, m.rule)
	m.frame.Ball = step.Ball
	if step.Scorer == SideNone {
		return TickResult{}
	}

	var scorerID int
	switch step.Scorer {
	case SidePlayer1:
		m.record.Score1++
		scorerID = m.record.Player1ID
		m.frame.Ball = ServeBall(m.rule, SidePlayer2)
	case SidePlayer2:
		m.record.Score2++
		scorerID = m.record.Player2ID
		m.frame.Ball = ServeBall(m.rule, SidePlayer1)
	}
	m.touch()

	res := TickResult{Scorer: step.Scorer}
	if m.record.Score1 >= m.rule.pointToWin || m.record.Score2 >= m.rule.pointToWin {
		// Status is playing here, so Finish cannot fail.
		_ = m.Finish(scorerID)
		res.Finished = true
	}
	return res
}

func (m *Match) Finish(winnerID int) error {
	if m.record.Status != models.MatchStatusPlaying {
		return fmt.Errorf("%w: cannot finish match %s in status %s", ErrInvalidTransition, m.record.ID, m.record.Status)
	}
	if !m.record.HasPlayer(winnerID) {
		return fmt.Errorf("%w: winner %d in match %s", ErrNotParticipant, winnerID, m.record.ID)
	}
	m.record.Status = models.MatchStatusFinished
	m.record.WinnerID = &winnerID
	m.touch()
	return nil
}

func (m *Match) Cancel() error {
	if m.record.Status != models.MatchStatusScheduled && m.record.Status != models.MatchStatusPlaying {
		return fmt.Errorf("%w: cannot cancel match %s in status %s", ErrInvalidTransition, m.record.ID, m.record.Status)
	}
	m.record.Status = models.MatchStatusCanceled
	m.touch()
	return nil
}

func (m *Match) Snapshot() models.MatchSnapshot {
	return models.MatchSnapshot{
		Status: m.record.Status,
		Ball:   models.Point{X: m.frame.Ball.X, Y: m.frame.Ball.Y},
		Paddles: models.Paddles{
			Player1: models.PaddlePosition{Y: m.frame.Player1Paddle.Y},
			Player2: models.PaddlePosition{Y: m.frame.Player2Paddle.Y},
		},
		Scores: models.Scores{Player1: m.record.Score1, Player2: m.record.Score2},
	}
}

func (m *Match) touch() {
	m.record.UpdatedAt = m.now().UTC()
}
