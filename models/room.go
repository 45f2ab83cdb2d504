package models

import "time"

type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusPlaying  RoomStatus = "playing"
	RoomStatusFinished RoomStatus = "finished"
)

type RoomRole string

const (
	RoomRolePlayer    RoomRole = "player"
	RoomRoleSpectator RoomRole = "spectator"
)

type RoomParticipant struct {
	UserID   int       `json:"user_id" db:"user_id"`
	Role     RoomRole  `json:"role" db:"role"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

type Room struct {
	ID           string            `json:"id" db:"id"`
	Name         string            `json:"name" db:"name"`
	OwnerID      int               `json:"owner_id" db:"owner_id"`
	Status       RoomStatus        `json:"status" db:"status"`
	MaxPlayers   int               `json:"max_players" db:"max_players"`
	PasswordHash *string           `json:"-" db:"password_hash"`
	HasPassword  bool              `json:"has_password" db:"-"`
	Participants []RoomParticipant `json:"participants" db:"-"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Players returns player user ids in join order.
func (r *Room) Players() []int {
	players := make([]int, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.Role == RoomRolePlayer {
			players = append(players, p.UserID)
		}
	}
	return players
}

func (r *Room) PlayersCount() int {
	return len(r.Players())
}

func (r *Room) Participant(userID int) (RoomParticipant, bool) {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return RoomParticipant{}, false
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Participants = append([]RoomParticipant(nil), r.Participants...)
	if r.PasswordHash != nil {
		h := *r.PasswordHash
		c.PasswordHash = &h
	}
	return &c
}
