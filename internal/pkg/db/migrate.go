package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is the subset of pgx used to apply migrations.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

// migrations are idempotent and applied in order on every start.
var migrations = []migration{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			points BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_points ON users(points DESC);
	`},
	{"places", `
		CREATE TABLE IF NOT EXISTS places (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(32) NOT NULL DEFAULT '',
			legacy_type VARCHAR(255) NOT NULL DEFAULT '',
			city VARCHAR(255) NOT NULL DEFAULT '',
			city_key VARCHAR(255) NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			point_value BIGINT NOT NULL DEFAULT 0 CHECK (point_value >= 0),
			visit_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK ((latitude IS NULL) = (longitude IS NULL))
		);
		CREATE INDEX IF NOT EXISTS idx_places_city_key ON places(city_key);
	`},
	{"check_ins", `
		CREATE TABLE IF NOT EXISTS check_ins (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			place_id BIGINT NOT NULL REFERENCES places(id),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_check_ins_user_time ON check_ins(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_check_ins_place ON check_ins(place_id);
	`},
	{"transactions", `
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
	`},
	{"challenges", `
		CREATE TABLE IF NOT EXISTS challenges (
			id BIGSERIAL PRIMARY KEY,
			city VARCHAR(255) NOT NULL DEFAULT '',
			city_key VARCHAR(255) NOT NULL DEFAULT '',
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			kind VARCHAR(32) NOT NULL,
			category VARCHAR(32) NOT NULL DEFAULT '',
			difficulty VARCHAR(16) NOT NULL DEFAULT 'medium',
			point_value BIGINT NOT NULL DEFAULT 0 CHECK (point_value >= 0),
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_challenges_city_key ON challenges(city_key);
	`},
	{"requirements", `
		CREATE TABLE IF NOT EXISTS requirements (
			id BIGSERIAL PRIMARY KEY,
			challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
			position INT NOT NULL DEFAULT 0,
			kind VARCHAR(32) NOT NULL,
			target_id BIGINT,
			target_count INT NOT NULL DEFAULT 1 CHECK (target_count >= 1),
			description TEXT NOT NULL DEFAULT '',
			CHECK (kind <> 'visit_place' OR target_id IS NOT NULL)
		);
		CREATE INDEX IF NOT EXISTS idx_requirements_challenge ON requirements(challenge_id, position);
	`},
	{"requirement_progress", `
		CREATE TABLE IF NOT EXISTS requirement_progress (
			user_id BIGINT NOT NULL,
			requirement_id BIGINT NOT NULL REFERENCES requirements(id) ON DELETE CASCADE,
			challenge_id BIGINT NOT NULL,
			count INT NOT NULL DEFAULT 0,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			completed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, requirement_id)
		);
		CREATE INDEX IF NOT EXISTS idx_requirement_progress_challenge ON requirement_progress(user_id, challenge_id);
	`},
	{"counted_check_ins", `
		CREATE TABLE IF NOT EXISTS counted_check_ins (
			check_in_id BIGINT NOT NULL REFERENCES check_ins(id) ON DELETE CASCADE,
			requirement_id BIGINT NOT NULL REFERENCES requirements(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (check_in_id, requirement_id)
		);
	`},
	{"challenge_completions", `
		CREATE TABLE IF NOT EXISTS challenge_completions (
			user_id BIGINT NOT NULL,
			challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
			bonus_points BIGINT NOT NULL DEFAULT 0,
			completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, challenge_id)
		);
	`},
}

// Migrate creates every table the service needs.
func Migrate(ctx context.Context, db Execer) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", i+1, m.name, err)
		}
		log.Debug().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Int("count", len(migrations)).Msg("All migrations completed successfully")
	return nil
}
