// Package model defines the data models for the travel points service.
package model

import (
	"errors"
	"fmt"
	"time"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
)

// User is a traveller collecting points. ID is the identity provider's
// subject, which for the Telegram adapter is the Telegram user ID.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Points    int64     `db:"points" json:"points"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Place is a point of interest users can check in to.
// Location is nil when the place has no registered coordinate.
type Place struct {
	ID         int64            `db:"id" json:"id"`
	Name       string           `db:"name" json:"name"`
	Category   catalog.Category `db:"category" json:"category"`
	LegacyType string           `db:"legacy_type" json:"legacyType,omitempty"`
	City       string           `db:"city" json:"city"`
	Location   *geo.Coordinate  `json:"location,omitempty"`
	PointValue int64            `db:"point_value" json:"pointValue"`
	VisitCount int64            `db:"visit_count" json:"visitCount"`
	CreatedAt  time.Time        `db:"created_at" json:"createdAt"`
}

// HasLocation reports whether the place can be checked into.
func (p *Place) HasLocation() bool {
	return p.Location != nil && p.Location.Valid()
}

// EffectiveCategory returns the explicit category, or the keyword-derived
// one for legacy rows.
func (p *Place) EffectiveCategory() catalog.Category {
	return catalog.Resolve(p.Category, p.LegacyType)
}

// CheckIn records that a user was physically at a place.
type CheckIn struct {
	ID         int64          `db:"id" json:"id"`
	UserID     int64          `db:"user_id" json:"userId"`
	PlaceID    int64          `db:"place_id" json:"placeId"`
	Coordinate geo.Coordinate `json:"coordinate"`
	Note       *string        `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}

// Challenge kinds.
const (
	ChallengeKindCollection = "collection"
	ChallengeKindExplorer   = "explorer"
	ChallengeKindManual     = "manual"
)

// Challenge difficulties.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Challenge is a named goal made of one or more requirements.
type Challenge struct {
	ID           int64            `db:"id" json:"id"`
	City         string           `db:"city" json:"city"`
	Title        string           `db:"title" json:"title"`
	Description  string           `db:"description" json:"description"`
	Kind         string           `db:"kind" json:"kind"`
	Category     catalog.Category `db:"category" json:"category,omitempty"`
	Difficulty   string           `db:"difficulty" json:"difficulty"`
	PointValue   int64            `db:"point_value" json:"pointValue"`
	ExpiresAt    *time.Time       `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	Requirements []Requirement    `json:"requirements,omitempty"`
}

// Expired reports whether the challenge's validity window closed before now.
func (c *Challenge) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Requirement kinds.
const (
	RequirementVisitPlace    = "visit_place"
	RequirementTakePhoto     = "take_photo"
	RequirementCheckIn       = "check_in"
	RequirementPostContent   = "post_content"
	RequirementVisitCategory = "visit_category"
	RequirementRatePlace     = "rate_place"
)

// ErrInvalidRequirement is returned by Requirement.Validate.
var ErrInvalidRequirement = errors.New("invalid requirement")

// Requirement is a single condition within a challenge.
type Requirement struct {
	ID          int64  `db:"id" json:"id"`
	ChallengeID int64  `db:"challenge_id" json:"challengeId"`
	Kind        string `db:"kind" json:"kind"`
	TargetID    *int64 `db:"target_id" json:"targetId,omitempty"`
	TargetCount int    `db:"target_count" json:"targetCount"`
	Description string `db:"description" json:"description"`
}

// Validate checks the requirement's invariants.
func (r *Requirement) Validate() error {
	switch r.Kind {
	case RequirementVisitPlace, RequirementTakePhoto, RequirementCheckIn,
		RequirementPostContent, RequirementVisitCategory, RequirementRatePlace:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequirement, r.Kind)
	}
	if r.TargetCount < 1 {
		return fmt.Errorf("%w: target count %d", ErrInvalidRequirement, r.TargetCount)
	}
	if r.Kind == RequirementVisitPlace && r.TargetID == nil {
		return fmt.Errorf("%w: visit_place without target", ErrInvalidRequirement)
	}
	return nil
}

// RequirementProgress is one user's state for one requirement.
// Completed flips to true when Count reaches the target and never reverts.
type RequirementProgress struct {
	UserID        int64      `db:"user_id" json:"userId"`
	RequirementID int64      `db:"requirement_id" json:"requirementId"`
	ChallengeID   int64      `db:"challenge_id" json:"challengeId"`
	Count         int        `db:"count" json:"count"`
	Completed     bool       `db:"completed" json:"completed"`
	CompletedAt   *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// ChallengeCompletion marks that a user's challenge bonus has been paid.
type ChallengeCompletion struct {
	UserID      int64     `db:"user_id" json:"userId"`
	ChallengeID int64     `db:"challenge_id" json:"challengeId"`
	BonusPoints int64     `db:"bonus_points" json:"bonusPoints"`
	CompletedAt time.Time `db:"completed_at" json:"completedAt"`
}

// Transaction is an entry in the points ledger.
type Transaction struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"userId"`
	Amount      int64     `db:"amount" json:"amount"`
	Type        string    `db:"type" json:"type"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// DailyRank is a user's points earned within one day, from the ledger.
type DailyRank struct {
	UserID   int64  `db:"user_id" json:"userId"`
	Username string `db:"username" json:"username"`
	Earned   int64  `db:"earned" json:"earned"`
}

// Transaction types for categorizing point awards.
const (
	TxTypeCheckIn        = "checkin"         // Place check-in reward
	TxTypeChallengeBonus = "challenge_bonus" // Challenge completion bonus
)
