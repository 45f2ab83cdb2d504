package models

import "time"

type TournamentStatus string

const (
	TournamentStatusWaiting  TournamentStatus = "waiting"
	TournamentStatusOngoing  TournamentStatus = "ongoing"
	TournamentStatusFinished TournamentStatus = "finished"
)

// TournamentSize is the participant count of the supported bracket shape.
const TournamentSize = 4

// Tournament представляет турнир на выбывание внутри комнаты.
type Tournament struct {
	ID           string           `json:"id" db:"id"`
	RoomID       string           `json:"room_id" db:"room_id"`
	CreatedBy    int              `json:"created_by" db:"created_by"`
	Participants []int            `json:"participants" db:"participants"`
	Status       TournamentStatus `json:"status" db:"status"`
	CurrentRound int              `json:"current_round" db:"current_round"`
	WinnerID     *int             `json:"winner_id,omitempty" db:"winner_id"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`

	// Загружается отдельно, не мапится напрямую
	Matches []*Match `json:"matches,omitempty" db:"-"`
}

func (t *Tournament) Clone() *Tournament {
	if t == nil {
		return nil
	}
	c := *t
	c.Participants = append([]int(nil), t.Participants...)
	if t.WinnerID != nil {
		w := *t.WinnerID
		c.WinnerID = &w
	}
	if t.Matches != nil {
		c.Matches = make([]*Match, len(t.Matches))
		for i, m := range t.Matches {
			c.Matches[i] = m.Clone()
		}
	}
	return &c
}

// TournamentResult is what result sinks receive once a tournament is decided.
type TournamentResult struct {
	TournamentID string    `json:"tournament_id"`
	RoomID       string    `json:"room_id"`
	WinnerID     int       `json:"winner_id"`
	Participants []int     `json:"participants"`
	Matches      []*Match  `json:"matches"`
	FinishedAt   time.Time `json:"finished_at"`
}
