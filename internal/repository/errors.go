// Package repository provides PostgreSQL implementations of the stores
// used by the services.
package repository

import "errors"

// Common errors for repository operations. The in-memory store returns
// the same values so services can match on them regardless of backend.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPlaceNotFound       = errors.New("place not found")
	ErrChallengeNotFound   = errors.New("challenge not found")
	ErrRequirementNotFound = errors.New("requirement not found")
	ErrProgressNotFound    = errors.New("requirement progress not found")
	ErrCompletionNotFound  = errors.New("challenge completion not found")
	ErrCheckInNotFound     = errors.New("check-in not found")

	// ErrProgressConflict is returned by UpsertRequirementProgress when the
	// stored row no longer matches the expected count or is already completed.
	ErrProgressConflict = errors.New("requirement progress changed concurrently")

	// ErrCheckInAlreadyCounted is returned by UpsertRequirementProgress when
	// the check-in has already been applied to the requirement.
	ErrCheckInAlreadyCounted = errors.New("check-in already counted for requirement")

	// ErrChallengesExist is returned by CreateCityChallenges when the city
	// already has a challenge set.
	ErrChallengesExist = errors.New("city already has challenges")

	// ErrInvalidAmount is returned when a point credit is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")
)
