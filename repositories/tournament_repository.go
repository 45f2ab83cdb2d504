package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/pong-arena/models"
	"github.com/lib/pq"
)

var (
	ErrTournamentNotFound    = errors.New("tournament not found")
	ErrTournamentRoomInvalid = errors.New("tournament room conflict or invalid")
)

type TournamentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, tournament *models.Tournament) error
	GetByID(ctx context.Context, id string) (*models.Tournament, error)
	// GetByRoom returns the most recent tournament of a room.
	GetByRoom(ctx context.Context, roomID string) (*models.Tournament, error)
	// AdvanceRound moves an ongoing tournament from round `from` to from+1.
	// It reports false when another caller already advanced it.
	AdvanceRound(ctx context.Context, exec SQLExecutor, id string, from int) (bool, error)
	// Finish marks an ongoing tournament finished with winnerID. It reports
	// false when the tournament was already finished.
	Finish(ctx context.Context, exec SQLExecutor, id string, winnerID int) (bool, error)
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

const tournamentColumns = `id, room_id, created_by, participants, status, current_round, winner_id, created_at, updated_at`

func (r *postgresTournamentRepository) Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	query := `
		INSERT INTO tournaments
			(id, room_id, created_by, participants, status, current_round, winner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := getExecutor(exec, r.db).ExecContext(ctx, query,
		t.ID,
		t.RoomID,
		t.CreatedBy,
		toInt64s(t.Participants),
		t.Status,
		t.CurrentRound,
		t.WinnerID,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id string) (*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *postgresTournamentRepository) GetByRoom(ctx context.Context, roomID string) (*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE room_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, roomID)
}

func (r *postgresTournamentRepository) getOne(ctx context.Context, query string, arg string) (*models.Tournament, error) {
	var (
		t            models.Tournament
		participants pq.Int64Array
		winnerID     sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID,
		&t.RoomID,
		&t.CreatedBy,
		&participants,
		&t.Status,
		&t.CurrentRound,
		&winnerID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament %s: %w", arg, err)
	}
	t.Participants = fromInt64s(participants)
	if winnerID.Valid {
		w := int(winnerID.Int64)
		t.WinnerID = &w
	}
	return &t, nil
}

func (r *postgresTournamentRepository) AdvanceRound(ctx context.Context, exec SQLExecutor, id string, from int) (bool, error) {
	query := `
		UPDATE tournaments
		SET current_round = current_round + 1, updated_at = $1
		WHERE id = $2 AND status = 'ongoing' AND current_round = $3`

	executor := getExecutor(exec, r.db)
	result, err := executor.ExecContext(ctx, query, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to advance tournament %s: %w", id, err)
	}
	return r.applied(ctx, executor, result, id)
}

func (r *postgresTournamentRepository) Finish(ctx context.Context, exec SQLExecutor, id string, winnerID int) (bool, error) {
	query := `
		UPDATE tournaments
		SET status = 'finished', winner_id = $1, updated_at = $2
		WHERE id = $3 AND status = 'ongoing'`

	executor := getExecutor(exec, r.db)
	result, err := executor.ExecContext(ctx, query, winnerID, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to finish tournament %s: %w", id, err)
	}
	return r.applied(ctx, executor, result, id)
}

// applied distinguishes "no row matched the guard" from "no such tournament".
func (r *postgresTournamentRepository) applied(ctx context.Context, exec SQLExecutor, result sql.Result, id string) (bool, error) {
	if err := checkAffectedRows(result, ErrTournamentNotFound); err == nil {
		return true, nil
	} else if !errors.Is(err, ErrTournamentNotFound) {
		return false, err
	}
	var exists bool
	if err := exec.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tournaments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check tournament %s: %w", id, err)
	}
	if !exists {
		return false, ErrTournamentNotFound
	}
	return false, nil
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Constraint == "tournaments_room_id_fkey" {
		return ErrTournamentRoomInvalid
	}
	return err
}
