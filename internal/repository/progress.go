package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"travel-points/internal/model"
)

// ProgressRepository persists per-user requirement progress and
// challenge completion markers.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository instance.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

const progressColumns = `user_id, requirement_id, challenge_id, count, completed, completed_at, updated_at`

func scanProgress(row pgx.Row) (*model.RequirementProgress, error) {
	var p model.RequirementProgress
	err := row.Scan(
		&p.UserID,
		&p.RequirementID,
		&p.ChallengeID,
		&p.Count,
		&p.Completed,
		&p.CompletedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProgress returns the progress row for (userID, requirementID).
// Returns ErrProgressNotFound if there is none yet.
func (r *ProgressRepository) GetProgress(ctx context.Context, userID, requirementID int64) (*model.RequirementProgress, error) {
	const query = `
		SELECT ` + progressColumns + `
		FROM requirement_progress
		WHERE user_id = $1 AND requirement_id = $2
	`

	p, err := scanProgress(r.pool.QueryRow(ctx, query, userID, requirementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return p, nil
}

// GetRequirementProgress returns every progress row a user has for a challenge.
func (r *ProgressRepository) GetRequirementProgress(ctx context.Context, userID, challengeID int64) ([]*model.RequirementProgress, error) {
	const query = `
		SELECT ` + progressColumns + `
		FROM requirement_progress
		WHERE user_id = $1 AND challenge_id = $2
		ORDER BY requirement_id ASC
	`

	rows, err := r.pool.Query(ctx, query, userID, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge progress: %w", err)
	}
	defer rows.Close()

	var out []*model.RequirementProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress: %w", err)
	}
	return out, nil
}

// UpsertRequirementProgress applies checkInID to p's requirement and
// writes p keyed by (user, requirement), in one transaction.
//
// A check-in counts toward a requirement once: a repeat returns
// ErrCheckInAlreadyCounted. The progress write only lands when the stored
// row is absent, or is not completed and still has expectedCount.
// Otherwise nothing changes and ErrProgressConflict is returned so the
// caller can re-read.
func (r *ProgressRepository) UpsertRequirementProgress(ctx context.Context, p *model.RequirementProgress, expectedCount int, checkInID int64) (*model.RequirementProgress, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const markCounted = `
		INSERT INTO counted_check_ins (check_in_id, requirement_id, user_id, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (check_in_id, requirement_id) DO NOTHING
	`

	result, err := tx.Exec(ctx, markCounted, checkInID, p.RequirementID, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark check-in counted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrCheckInAlreadyCounted
	}

	const upsert = `
		INSERT INTO requirement_progress (user_id, requirement_id, challenge_id, count, completed, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, requirement_id) DO UPDATE
		SET count = EXCLUDED.count,
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()
		WHERE NOT requirement_progress.completed
		  AND requirement_progress.count = $7
		RETURNING ` + progressColumns

	saved, err := scanProgress(tx.QueryRow(ctx, upsert,
		p.UserID, p.RequirementID, p.ChallengeID, p.Count, p.Completed, p.CompletedAt, expectedCount,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgressConflict
		}
		return nil, fmt.Errorf("failed to upsert progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit progress: %w", err)
	}
	return saved, nil
}

// MarkChallengeCompleted inserts the completion marker for (user, challenge)
// and, only when this call inserted it, credits the bonus and writes the
// ledger entry in the same transaction. It reports whether the marker was new.
func (r *ProgressRepository) MarkChallengeCompleted(ctx context.Context, c *model.ChallengeCompletion) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertMarker = `
		INSERT INTO challenge_completions (user_id, challenge_id, bonus_points, completed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, challenge_id) DO NOTHING
	`

	result, err := tx.Exec(ctx, insertMarker, c.UserID, c.ChallengeID, c.BonusPoints)
	if err != nil {
		return false, fmt.Errorf("failed to insert challenge completion: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if c.BonusPoints > 0 {
		const credit = `UPDATE users SET points = points + $2, updated_at = NOW() WHERE id = $1`

		result, err := tx.Exec(ctx, credit, c.UserID, c.BonusPoints)
		if err != nil {
			return false, fmt.Errorf("failed to credit challenge bonus: %w", err)
		}
		if result.RowsAffected() == 0 {
			return false, ErrUserNotFound
		}

		desc := fmt.Sprintf("challenge %d completed", c.ChallengeID)
		if _, err := insertTransaction(ctx, tx, c.UserID, c.BonusPoints, model.TxTypeChallengeBonus, &desc); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit challenge completion: %w", err)
	}
	return true, nil
}

// GetChallengeCompletion returns the completion marker for (user, challenge).
func (r *ProgressRepository) GetChallengeCompletion(ctx context.Context, userID, challengeID int64) (*model.ChallengeCompletion, error) {
	const query = `
		SELECT user_id, challenge_id, bonus_points, completed_at
		FROM challenge_completions
		WHERE user_id = $1 AND challenge_id = $2
	`

	var c model.ChallengeCompletion
	err := r.pool.QueryRow(ctx, query, userID, challengeID).Scan(
		&c.UserID,
		&c.ChallengeID,
		&c.BonusPoints,
		&c.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompletionNotFound
		}
		return nil, fmt.Errorf("failed to get challenge completion: %w", err)
	}
	return &c, nil
}
