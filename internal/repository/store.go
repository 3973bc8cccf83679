package repository

import "github.com/jackc/pgx/v5/pgxpool"

// Postgres bundles every repository over one pool.
type Postgres struct {
	*UserRepository
	*TransactionRepository
	*PlaceRepository
	*CheckInRepository
	*ChallengeRepository
	*ProgressRepository
}

// NewPostgres creates all repositories on a shared pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		UserRepository:        NewUserRepository(pool),
		TransactionRepository: NewTransactionRepository(pool),
		PlaceRepository:       NewPlaceRepository(pool),
		CheckInRepository:     NewCheckInRepository(pool),
		ChallengeRepository:   NewChallengeRepository(pool),
		ProgressRepository:    NewProgressRepository(pool),
	}
}
