package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Dosada05/pong-arena/models"
	"github.com/lib/pq"
)

var (
	ErrMatchNotFound          = errors.New("match not found")
	ErrMatchTournamentInvalid = errors.New("match tournament conflict or invalid")
	ErrMatchRoomInvalid       = errors.New("match room conflict or invalid")
	ErrMatchConflict          = errors.New("match already exists")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, id string) (*models.Match, error)
	// ListByTournament returns matches in creation order, optionally limited to one round.
	ListByTournament(ctx context.Context, tournamentID string, round *int) ([]*models.Match, error)
	// ListActiveByRoom returns scheduled and playing matches of a room.
	ListActiveByRoom(ctx context.Context, roomID string) ([]*models.Match, error)
	// Save writes scores, status and winner of an existing match.
	Save(ctx context.Context, exec SQLExecutor, match *models.Match) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

const matchColumns = `id, room_id, tournament_id, round, player1_id, player2_id,
	score1, score2, status, winner_id, created_at, updated_at`

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		INSERT INTO matches
			(id, room_id, tournament_id, round, player1_id, player2_id, score1, score2, status, winner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := getExecutor(exec, r.db).ExecContext(ctx, query,
		match.ID,
		match.RoomID,
		match.TournamentID,
		match.Round,
		match.Player1ID,
		match.Player2ID,
		match.Score1,
		match.Score2,
		match.Status,
		match.WinnerID,
		match.CreatedAt,
		match.UpdatedAt,
	)
	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %s: %w", id, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID string, round *int) ([]*models.Match, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1`)

	args := []interface{}{tournamentID}
	if round != nil {
		queryBuilder.WriteString(" AND round = $")
		queryBuilder.WriteString(strconv.Itoa(len(args) + 1))
		args = append(args, *round)
	}
	queryBuilder.WriteString(" ORDER BY round ASC, created_at ASC, seq ASC")

	return r.queryMatches(ctx, queryBuilder.String(), args...)
}

func (r *postgresMatchRepository) ListActiveByRoom(ctx context.Context, roomID string) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches
		WHERE room_id = $1 AND status IN ('scheduled', 'playing')
		ORDER BY created_at ASC, seq ASC`
	return r.queryMatches(ctx, query, roomID)
}

func (r *postgresMatchRepository) Save(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		UPDATE matches
		SET score1 = $1, score2 = $2, status = $3, winner_id = $4, updated_at = $5
		WHERE id = $6`

	result, err := getExecutor(exec, r.db).ExecContext(ctx, query,
		match.Score1, match.Score2, match.Status, match.WinnerID, match.UpdatedAt, match.ID)
	if err != nil {
		return r.handleMatchError(err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) queryMatches(ctx context.Context, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		match, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, match)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		match        models.Match
		tournamentID sql.NullString
		winnerID     sql.NullInt64
	)
	err := row.Scan(
		&match.ID,
		&match.RoomID,
		&tournamentID,
		&match.Round,
		&match.Player1ID,
		&match.Player2ID,
		&match.Score1,
		&match.Score2,
		&match.Status,
		&winnerID,
		&match.CreatedAt,
		&match.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tournamentID.Valid {
		id := tournamentID.String
		match.TournamentID = &id
	}
	if winnerID.Valid {
		w := int(winnerID.Int64)
		match.WinnerID = &w
	}
	return &match, nil
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "matches_tournament_id_fkey":
			return ErrMatchTournamentInvalid
		case "matches_room_id_fkey":
			return ErrMatchRoomInvalid
		case "matches_pkey":
			return ErrMatchConflict
		}
	}
	return err
}
