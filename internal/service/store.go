package service

import (
	"context"
	"time"

	"travel-points/internal/geo"
	"travel-points/internal/model"
)

// PlaceStore reads places and bumps their visitor counter.
type PlaceStore interface {
	GetPlace(ctx context.Context, id int64) (*model.Place, error)
	CreatePlace(ctx context.Context, p *model.Place) (*model.Place, error)
	IncrementVisitCount(ctx context.Context, id int64) error
	ListPlacesByCity(ctx context.Context, city string) ([]*model.Place, error)
	ListPlacesNear(ctx context.Context, center geo.Coordinate, radiusMeters float64, limit int) ([]*model.Place, error)
}

// CheckInStore appends check-in records.
type CheckInStore interface {
	CreateCheckIn(ctx context.Context, c *model.CheckIn) (*model.CheckIn, error)
	GetCheckIn(ctx context.Context, id int64) (*model.CheckIn, error)
	ListCheckIns(ctx context.Context, userID int64, limit int) ([]*model.CheckIn, error)
}

// UserStore holds users and their point totals.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetOrCreateUser(ctx context.Context, id int64, username string) (*model.User, bool, error)
	IncrementPoints(ctx context.Context, id int64, amount int64) (*model.User, error)
	UpdateUsername(ctx context.Context, id int64, username string) error
	TopUsers(ctx context.Context, limit int) ([]*model.User, error)
}

// TransactionStore holds the points ledger.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, userID, amount int64, txType string, description *string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error)
	TopEarners(ctx context.Context, from, to time.Time, limit int) ([]*model.DailyRank, error)
}

// ChallengeStore holds challenges and their requirements.
type ChallengeStore interface {
	GetChallenge(ctx context.Context, id int64) (*model.Challenge, error)
	GetRequirement(ctx context.Context, id int64) (*model.Requirement, error)
	GetRequirementsForChallenge(ctx context.Context, challengeID int64) ([]model.Requirement, error)
	ListChallengesByCity(ctx context.Context, city string) ([]*model.Challenge, error)
	CountChallengesByCity(ctx context.Context, city string) (int, error)
	CreateChallenge(ctx context.Context, c *model.Challenge) (*model.Challenge, error)
	CreateCityChallenges(ctx context.Context, city string, list []*model.Challenge) ([]*model.Challenge, error)
}

// ProgressStore holds requirement progress keyed by (user, requirement),
// the markers of which check-ins were counted toward which requirement,
// and the once-only challenge completion markers.
type ProgressStore interface {
	GetProgress(ctx context.Context, userID, requirementID int64) (*model.RequirementProgress, error)
	GetRequirementProgress(ctx context.Context, userID, challengeID int64) ([]*model.RequirementProgress, error)
	UpsertRequirementProgress(ctx context.Context, p *model.RequirementProgress, expectedCount int, checkInID int64) (*model.RequirementProgress, error)
	MarkChallengeCompleted(ctx context.Context, c *model.ChallengeCompletion) (bool, error)
	GetChallengeCompletion(ctx context.Context, userID, challengeID int64) (*model.ChallengeCompletion, error)
}

// Store is everything the services need from a backend.
type Store interface {
	PlaceStore
	CheckInStore
	UserStore
	TransactionStore
	ChallengeStore
	ProgressStore
}
