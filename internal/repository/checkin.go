package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"travel-points/internal/model"
)

// CheckInRepository persists check-in records. Rows are append-only.
type CheckInRepository struct {
	pool *pgxpool.Pool
}

// NewCheckInRepository creates a new CheckInRepository instance.
func NewCheckInRepository(pool *pgxpool.Pool) *CheckInRepository {
	return &CheckInRepository{pool: pool}
}

// CreateCheckIn inserts a check-in. CreatedAt is taken from c when set.
func (r *CheckInRepository) CreateCheckIn(ctx context.Context, c *model.CheckIn) (*model.CheckIn, error) {
	const query = `
		INSERT INTO check_ins (user_id, place_id, latitude, longitude, note, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING id, user_id, place_id, latitude, longitude, note, created_at
	`

	var createdAt any
	if !c.CreatedAt.IsZero() {
		createdAt = c.CreatedAt
	}

	var out model.CheckIn
	err := r.pool.QueryRow(ctx, query,
		c.UserID, c.PlaceID, c.Coordinate.Latitude, c.Coordinate.Longitude, c.Note, createdAt,
	).Scan(
		&out.ID,
		&out.UserID,
		&out.PlaceID,
		&out.Coordinate.Latitude,
		&out.Coordinate.Longitude,
		&out.Note,
		&out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check-in: %w", err)
	}
	return &out, nil
}

// GetCheckIn returns a check-in by ID.
func (r *CheckInRepository) GetCheckIn(ctx context.Context, id int64) (*model.CheckIn, error) {
	const query = `
		SELECT id, user_id, place_id, latitude, longitude, note, created_at
		FROM check_ins
		WHERE id = $1
	`

	var c model.CheckIn
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.UserID,
		&c.PlaceID,
		&c.Coordinate.Latitude,
		&c.Coordinate.Longitude,
		&c.Note,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCheckInNotFound
		}
		return nil, fmt.Errorf("failed to get check-in: %w", err)
	}
	return &c, nil
}

// ListCheckIns returns a user's check-ins, newest first.
func (r *CheckInRepository) ListCheckIns(ctx context.Context, userID int64, limit int) ([]*model.CheckIn, error) {
	const query = `
		SELECT id, user_id, place_id, latitude, longitude, note, created_at
		FROM check_ins
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var out []*model.CheckIn
	for rows.Next() {
		var c model.CheckIn
		err := rows.Scan(
			&c.ID,
			&c.UserID,
			&c.PlaceID,
			&c.Coordinate.Latitude,
			&c.Coordinate.Longitude,
			&c.Note,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check-ins: %w", err)
	}
	return out, nil
}
