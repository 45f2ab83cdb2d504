package models

import "time"

type MatchStatus string

const (
	MatchStatusScheduled MatchStatus = "scheduled"
	MatchStatusPlaying   MatchStatus = "playing"
	MatchStatusFinished  MatchStatus = "finished"
	MatchStatusCanceled  MatchStatus = "canceled"
)

// Match is the persisted record of a single game between two users.
// TournamentID is nil for casual room matches.
type Match struct {
	ID           string      `json:"id" db:"id"`
	RoomID       string      `json:"room_id" db:"room_id"`
	TournamentID *string     `json:"tournament_id,omitempty" db:"tournament_id"`
	Round        int         `json:"round" db:"round"`
	Player1ID    int         `json:"player1_id" db:"player1_id"`
	Player2ID    int         `json:"player2_id" db:"player2_id"`
	Score1       int         `json:"score1" db:"score1"`
	Score2       int         `json:"score2" db:"score2"`
	Status       MatchStatus `json:"status" db:"status"`
	WinnerID     *int        `json:"winner_id,omitempty" db:"winner_id"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

func (m *Match) HasPlayer(userID int) bool {
	return m.Player1ID == userID || m.Player2ID == userID
}

func (m *Match) IsTerminal() bool {
	return m.Status == MatchStatusFinished || m.Status == MatchStatusCanceled
}

// Clone returns a deep copy so callers never share pointer fields.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	if m.TournamentID != nil {
		id := *m.TournamentID
		c.TournamentID = &id
	}
	if m.WinnerID != nil {
		w := *m.WinnerID
		c.WinnerID = &w
	}
	return &c
}
