package models

import "encoding/json"

// Envelope statuses, used both inbound and outbound.
const (
	EnvelopeMatch      = "Match"
	EnvelopeRoom       = "Room"
	EnvelopeTournament = "Tournament"
	EnvelopeError      = "error"
)

const (
	ActionMatchStart = "start"
	ActionMatchMove  = "move"

	ActionRoomStart  = "START"
	ActionRoomDelete = "DELETE"

	ActionStartTournament  = "start_tournament"
	ActionNextRound        = "next_round"
	ActionGetNextMatch     = "get_next_match"
	ActionFinishTournament = "finish_tournament"
)

const (
	MessageMatchState    = "match_state"
	MessageMatchFinished = "match_finished"
	MessageRoomState     = "room_state"
)

// InboundMessage is a client frame. Data is decoded per action.
type InboundMessage struct {
	Status       string          `json:"status"`
	Action       string          `json:"action"`
	MatchID      string          `json:"matchId,omitempty"`
	TournamentID string          `json:"tournamentId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type MoveData struct {
	Y *float64 `json:"y"`
}

type Envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Msg    string      `json:"msg,omitempty"`
}

func ErrorEnvelope(msg string) Envelope {
	return Envelope{Status: EnvelopeError, Msg: msg}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type PaddlePosition struct {
	Y float64 `json:"y"`
}

type Paddles struct {
	Player1 PaddlePosition `json:"player1"`
	Player2 PaddlePosition `json:"player2"`
}

type Scores struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

// MatchSnapshot is the full per-tick state sent to clients.
type MatchSnapshot struct {
	Status  MatchStatus `json:"status"`
	Ball    Point       `json:"ball"`
	Paddles Paddles     `json:"paddles"`
	Scores  Scores      `json:"scores"`
}

type MatchStateMessage struct {
	Type    string        `json:"type"`
	MatchID string        `json:"matchId"`
	State   MatchSnapshot `json:"state"`
}

type MatchFinishedMessage struct {
	Type     string `json:"type"`
	MatchID  string `json:"matchId"`
	WinnerID *int   `json:"winnerId"`
}

type BracketMessage struct {
	NextMatchID  string   `json:"next_match_id"`
	Matches      []*Match `json:"matches"`
	CurrentRound int      `json:"current_round"`
	WinnerID     *int     `json:"winner_id"`
}

type RoomStateMessage struct {
	Type string `json:"type"`
	Room *Room  `json:"room"`
}

func NewMatchStateEnvelope(matchID string, snap MatchSnapshot) Envelope {
	return Envelope{Status: EnvelopeMatch, Data: MatchStateMessage{Type: MessageMatchState, MatchID: matchID, State: snap}}
}

func NewMatchFinishedEnvelope(matchID string, winnerID *int) Envelope {
	return Envelope{Status: EnvelopeMatch, Data: MatchFinishedMessage{Type: MessageMatchFinished, MatchID: matchID, WinnerID: winnerID}}
}

func NewBracketEnvelope(b BracketMessage) Envelope {
	return Envelope{Status: EnvelopeTournament, Data: b}
}

func NewRoomStateEnvelope(room *Room) Envelope {
	return Envelope{Status: EnvelopeRoom, Data: RoomStateMessage{Type: MessageRoomState, Room: room}}
}
