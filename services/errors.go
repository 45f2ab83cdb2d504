package services

import (
	"errors"
	"fmt"

	"github.com/Dosada05/pong-arena/game"
	"github.com/Dosada05/pong-arena/repositories"
)

// Общие ошибки, используемые в сервисах и маппинге HTTP/WebSocket.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidTransition  = game.ErrInvalidTransition
	ErrNotFound           = errors.New("requested resource not found")
	ErrAlreadyRunning     = errors.New("match is already running")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrForbidden          = errors.New("operation not allowed for the current user")

	// Ошибки комнат
	ErrRoomNotWaiting    = fmt.Errorf("%w: room is not accepting players", ErrInvalidTransition)
	ErrRoomFull          = fmt.Errorf("%w: room is full", ErrInvalidArgument)
	ErrNotEnoughPlayers  = fmt.Errorf("%w: not enough players to start", ErrInvalidArgument)
	ErrRoomPassword      = fmt.Errorf("%w: wrong room password", ErrForbidden)
	ErrAlreadyInRoom     = fmt.Errorf("%w: user already in room", ErrInvalidArgument)
	ErrNotInRoom         = fmt.Errorf("%w: user is not in room", ErrNotFound)
	ErrTournamentPending = fmt.Errorf("%w: tournament round is not decided yet", ErrInvalidTransition)

	// Матч турнира отменен (комната закрыта), сетка больше не продвигается.
	ErrTournamentAbandoned = fmt.Errorf("%w: tournament has a canceled match", ErrInvalidTransition)
)

// handleRepositoryError maps repository sentinels onto the service taxonomy.
func handleRepositoryError(err error, what string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repositories.ErrMatchNotFound),
		errors.Is(err, repositories.ErrTournamentNotFound),
		errors.Is(err, repositories.ErrRoomNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, repositories.ErrParticipantExists):
		return fmt.Errorf("%s: %w", what, ErrAlreadyInRoom)
	case errors.Is(err, repositories.ErrParticipantNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotInRoom)
	}
	return fmt.Errorf("%s: %w: %v", what, ErrPersistenceFailure, err)
}
