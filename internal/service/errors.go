package service

import (
	"errors"
	"fmt"
)

// Check-in and reconciliation errors. Adapters translate these into
// status codes or chat replies.
var (
	ErrPlaceNotFound        = errors.New("place not found")
	ErrPlaceLocationMissing = errors.New("place has no location")
	ErrLocationUnavailable  = errors.New("location unavailable")
	ErrTooFarAway           = errors.New("too far away")
	ErrPersistence          = errors.New("persistence failure")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrChallengeNotFound    = errors.New("challenge not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrCheckInNotFound      = errors.New("check-in not found")
	ErrChallengesExist      = errors.New("city already has challenges")
)

// TooFarAwayError carries the measured distance of a rejected check-in.
// It matches ErrTooFarAway with errors.Is.
type TooFarAwayError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *TooFarAwayError) Error() string {
	return fmt.Sprintf("too far away: %.0fm from place, radius %.0fm", e.DistanceMeters, e.RadiusMeters)
}

// Is lets errors.Is(err, ErrTooFarAway) match.
func (e *TooFarAwayError) Is(target error) bool {
	return target == ErrTooFarAway
}
