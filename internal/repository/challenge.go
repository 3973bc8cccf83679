package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"travel-points/internal/catalog"
	"travel-points/internal/model"
)

// ChallengeRepository handles challenges and their requirements.
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewChallengeRepository creates a new ChallengeRepository instance.
func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

const challengeColumns = `id, city, title, description, kind, category, difficulty, point_value, expires_at, created_at`

const requirementColumns = `id, challenge_id, kind, target_id, target_count, description`

func scanChallenge(row pgx.Row) (*model.Challenge, error) {
	var (
		c        model.Challenge
		category string
	)
	err := row.Scan(
		&c.ID,
		&c.City,
		&c.Title,
		&c.Description,
		&c.Kind,
		&category,
		&c.Difficulty,
		&c.PointValue,
		&c.ExpiresAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Category = catalog.Category(category)
	return &c, nil
}

func scanRequirement(row pgx.Row) (model.Requirement, error) {
	var req model.Requirement
	err := row.Scan(
		&req.ID,
		&req.ChallengeID,
		&req.Kind,
		&req.TargetID,
		&req.TargetCount,
		&req.Description,
	)
	return req, err
}

// CreateChallenge inserts a challenge and its requirements atomically.
// Requirement order is preserved.
func (r *ChallengeRepository) CreateChallenge(ctx context.Context, c *model.Challenge) (*model.Challenge, error) {
	if err := validateRequirements(c); err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := insertChallenge(ctx, tx, c)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit challenge: %w", err)
	}
	return created, nil
}

// CreateCityChallenges stores a city's whole challenge set in one
// transaction. It returns ErrChallengesExist and writes nothing when the
// city already has challenges. A transaction-scoped advisory lock on the
// city key serialises concurrent callers across instances.
func (r *ChallengeRepository) CreateCityChallenges(ctx context.Context, city string, list []*model.Challenge) ([]*model.Challenge, error) {
	for _, c := range list {
		if err := validateRequirements(c); err != nil {
			return nil, err
		}
	}

	key := catalog.CityKey(city)
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "challenges:"+key); err != nil {
		return nil, fmt.Errorf("failed to lock city: %w", err)
	}

	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM challenges WHERE city_key = $1`, key).Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to count challenges: %w", err)
	}
	if n > 0 {
		return nil, ErrChallengesExist
	}

	out := make([]*model.Challenge, 0, len(list))
	for _, c := range list {
		created, err := insertChallenge(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit challenges: %w", err)
	}
	return out, nil
}

func validateRequirements(c *model.Challenge) error {
	for i := range c.Requirements {
		if err := c.Requirements[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func insertChallenge(ctx context.Context, tx pgx.Tx, c *model.Challenge) (*model.Challenge, error) {
	const insertChallenge = `
		INSERT INTO challenges (city, city_key, title, description, kind, category, difficulty, point_value, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING ` + challengeColumns

	created, err := scanChallenge(tx.QueryRow(ctx, insertChallenge,
		c.City, catalog.CityKey(c.City), c.Title, c.Description, c.Kind,
		string(c.Category), c.Difficulty, c.PointValue, c.ExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	const insertRequirement = `
		INSERT INTO requirements (challenge_id, position, kind, target_id, target_count, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + requirementColumns

	for i, req := range c.Requirements {
		saved, err := scanRequirement(tx.QueryRow(ctx, insertRequirement,
			created.ID, i, req.Kind, req.TargetID, req.TargetCount, req.Description,
		))
		if err != nil {
			return nil, fmt.Errorf("failed to create requirement: %w", err)
		}
		created.Requirements = append(created.Requirements, saved)
	}
	return created, nil
}

// GetChallenge retrieves a challenge with its requirements.
func (r *ChallengeRepository) GetChallenge(ctx context.Context, id int64) (*model.Challenge, error) {
	const query = `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`

	c, err := scanChallenge(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	c.Requirements, err = r.GetRequirementsForChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetRequirement retrieves a single requirement.
func (r *ChallengeRepository) GetRequirement(ctx context.Context, id int64) (*model.Requirement, error) {
	const query = `SELECT ` + requirementColumns + ` FROM requirements WHERE id = $1`

	req, err := scanRequirement(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequirementNotFound
		}
		return nil, fmt.Errorf("failed to get requirement: %w", err)
	}
	return &req, nil
}

// GetRequirementsForChallenge returns a challenge's requirements in order.
func (r *ChallengeRepository) GetRequirementsForChallenge(ctx context.Context, challengeID int64) ([]model.Requirement, error) {
	const query = `
		SELECT ` + requirementColumns + `
		FROM requirements
		WHERE challenge_id = $1
		ORDER BY position ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get requirements: %w", err)
	}
	defer rows.Close()

	var reqs []model.Requirement
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requirements: %w", err)
	}
	return reqs, nil
}

// ListChallengesByCity returns a city's challenges with requirements,
// oldest first.
func (r *ChallengeRepository) ListChallengesByCity(ctx context.Context, city string) ([]*model.Challenge, error) {
	const query = `
		SELECT ` + challengeColumns + `
		FROM challenges
		WHERE city_key = $1
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query, catalog.CityKey(city))
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}

	var (
		challenges []*model.Challenge
		ids        []int64
		byID       = make(map[int64]*model.Challenge)
	)
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, c)
		ids = append(ids, c.ID)
		byID[c.ID] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenges: %w", err)
	}
	if len(ids) == 0 {
		return challenges, nil
	}

	const reqQuery = `
		SELECT ` + requirementColumns + `
		FROM requirements
		WHERE challenge_id = ANY($1)
		ORDER BY challenge_id ASC, position ASC, id ASC
	`

	reqRows, err := r.pool.Query(ctx, reqQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get requirements: %w", err)
	}
	defer reqRows.Close()

	for reqRows.Next() {
		req, err := scanRequirement(reqRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		if c, ok := byID[req.ChallengeID]; ok {
			c.Requirements = append(c.Requirements, req)
		}
	}
	if err := reqRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requirements: %w", err)
	}
	return challenges, nil
}

// CountChallengesByCity reports how many challenges a city has.
func (r *ChallengeRepository) CountChallengesByCity(ctx context.Context, city string) (int, error) {
	const query = `SELECT COUNT(*) FROM challenges WHERE city_key = $1`

	var n int
	if err := r.pool.QueryRow(ctx, query, catalog.CityKey(city)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count challenges: %w", err)
	}
	return n, nil
}
