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
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantExists   = errors.New("user already in room")
	ErrParticipantNotFound = errors.New("user not in room")
)

type RoomRepository interface {
	Create(ctx context.Context, exec SQLExecutor, room *models.Room) error
	// GetByID loads the room with its participants in join order.
	GetByID(ctx context.Context, id string) (*models.Room, error)
	List(ctx context.Context, status *models.RoomStatus) ([]*models.Room, error)
	UpdateStatus(ctx context.Context, exec SQLExecutor, id string, status models.RoomStatus) error
	AddParticipant(ctx context.Context, exec SQLExecutor, roomID string, participant models.RoomParticipant) error
	RemoveParticipant(ctx context.Context, exec SQLExecutor, roomID string, userID int) error
}

type postgresRoomRepository struct {
	db *sql.DB
}

func NewPostgresRoomRepository(db *sql.DB) RoomRepository {
	return &postgresRoomRepository{db: db}
}

const roomColumns = `id, name, owner_id, status, max_players, password_hash, created_at, updated_at`

func (r *postgresRoomRepository) Create(ctx context.Context, exec SQLExecutor, room *models.Room) error {
	query := `
		INSERT INTO rooms (id, name, owner_id, status, max_players, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := getExecutor(exec, r.db).ExecContext(ctx, query,
		room.ID,
		room.Name,
		room.OwnerID,
		room.Status,
		room.MaxPlayers,
		room.PasswordHash,
		room.CreatedAt,
		room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert room %s: %w", room.ID, err)
	}
	return nil
}

func (r *postgresRoomRepository) GetByID(ctx context.Context, id string) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to scan room by id %s: %w", id, err)
	}

	participants, err := r.listParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	room.Participants = participants
	return room, nil
}

func (r *postgresRoomRepository) List(ctx context.Context, status *models.RoomStatus) ([]*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]*models.Room, 0)
	for rows.Next() {
		room, scanErr := scanRoom(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", scanErr)
		}
		rooms = append(rooms, room)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during room rows iteration: %w", err)
	}

	for _, room := range rooms {
		if room.Participants, err = r.listParticipants(ctx, room.ID); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

func (r *postgresRoomRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id string, status models.RoomStatus) error {
	query := `UPDATE rooms SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := getExecutor(exec, r.db).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update room %s status: %w", id, err)
	}
	return checkAffectedRows(result, ErrRoomNotFound)
}

func (r *postgresRoomRepository) AddParticipant(ctx context.Context, exec SQLExecutor, roomID string, p models.RoomParticipant) error {
	executor := getExecutor(exec, r.db)
	query := `INSERT INTO room_participants (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`
	if _, err := executor.ExecContext(ctx, query, roomID, p.UserID, p.Role, p.JoinedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Constraint {
			case "room_participants_pkey":
				return ErrParticipantExists
			case "room_participants_room_id_fkey":
				return ErrRoomNotFound
			}
		}
		return fmt.Errorf("failed to add user %d to room %s: %w", p.UserID, roomID, err)
	}
	return r.touch(ctx, executor, roomID)
}

func (r *postgresRoomRepository) RemoveParticipant(ctx context.Context, exec SQLExecutor, roomID string, userID int) error {
	executor := getExecutor(exec, r.db)
	result, err := executor.ExecContext(ctx, `DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove user %d from room %s: %w", userID, roomID, err)
	}
	if err := checkAffectedRows(result, ErrParticipantNotFound); err != nil {
		return err
	}
	return r.touch(ctx, executor, roomID)
}

func (r *postgresRoomRepository) touch(ctx context.Context, exec SQLExecutor, roomID string) error {
	_, err := exec.ExecContext(ctx, `UPDATE rooms SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), roomID)
	if err != nil {
		return fmt.Errorf("failed to touch room %s: %w", roomID, err)
	}
	return nil
}

func (r *postgresRoomRepository) listParticipants(ctx context.Context, roomID string) ([]models.RoomParticipant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, role, joined_at FROM room_participants WHERE room_id = $1 ORDER BY joined_at ASC, seq ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants of room %s: %w", roomID, err)
	}
	defer rows.Close()

	participants := make([]models.RoomParticipant, 0)
	for rows.Next() {
		var p models.RoomParticipant
		if err := rows.Scan(&p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		room         models.Room
		passwordHash sql.NullString
	)
	err := row.Scan(
		&room.ID,
		&room.Name,
		&room.OwnerID,
		&room.Status,
		&room.MaxPlayers,
		&passwordHash,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if passwordHash.Valid {
		h := passwordHash.String
		room.PasswordHash = &h
		room.HasPassword = true
	}
	return &room, nil
}
