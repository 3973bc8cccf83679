package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/pkg/lock"
	"travel-points/internal/pkg/text"
	"travel-points/internal/repository"
)

// CheckInOptions bounds the slow parts of a check-in.
type CheckInOptions struct {
	LocationTimeout time.Duration
	EffectTimeout   time.Duration
}

// DefaultCheckInOptions matches the config defaults.
var DefaultCheckInOptions = CheckInOptions{
	LocationTimeout: 15 * time.Second,
	EffectTimeout:   5 * time.Second,
}

// CheckInRequest is a single attempt to check in at a place.
type CheckInRequest struct {
	UserID     int64
	PlaceID    int64
	Coordinate *geo.Coordinate
	Note       *string
}

// CheckInService validates proximity and records check-ins.
type CheckInService struct {
	places     PlaceStore
	checkIns   CheckInStore
	users      UserStore
	txs        TransactionStore
	validator  *geo.Validator
	reconciler *ReconcileService
	opts       CheckInOptions
}

// NewCheckInService creates a new CheckInService. reconciler may be nil
// when challenge progress is not tracked.
func NewCheckInService(store Store, validator *geo.Validator, reconciler *ReconcileService, opts CheckInOptions) *CheckInService {
	if validator == nil {
		validator = geo.NewValidator(geo.DefaultRadiusMeters, false)
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = DefaultCheckInOptions.LocationTimeout
	}
	if opts.EffectTimeout <= 0 {
		opts.EffectTimeout = DefaultCheckInOptions.EffectTimeout
	}
	return &CheckInService{
		places:     store,
		checkIns:   store,
		users:      store,
		txs:        store,
		validator:  validator,
		reconciler: reconciler,
		opts:       opts,
	}
}

// loadCheckablePlace returns the place if it exists and has a coordinate.
func (s *CheckInService) loadCheckablePlace(ctx context.Context, placeID int64) (*model.Place, error) {
	place, err := s.places.GetPlace(ctx, placeID)
	if err != nil {
		if errors.Is(err, repository.ErrPlaceNotFound) {
			return nil, ErrPlaceNotFound
		}
		return nil, fmt.Errorf("failed to get place: %w", err)
	}
	if !place.HasLocation() {
		return nil, ErrPlaceLocationMissing
	}
	return place, nil
}

// Proximity previews a check-in without recording anything.
func (s *CheckInService) Proximity(ctx context.Context, placeID int64, coord *geo.Coordinate) (geo.Proximity, error) {
	place, err := s.loadCheckablePlace(ctx, placeID)
	if err != nil {
		return geo.Proximity{}, err
	}
	if coord == nil || !coord.Valid() {
		return geo.Proximity{}, ErrLocationUnavailable
	}
	p, err := s.validator.Check(coord, place.Location)
	if err != nil {
		return geo.Proximity{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	return p, nil
}

// CheckIn records that the user is at the place.
// Nothing is written unless the place is known, has a location and the
// user's coordinate lies within the configured radius.
func (s *CheckInService) CheckIn(ctx context.Context, req CheckInRequest) (*model.CheckIn, error) {
	if req.UserID <= 0 || req.PlaceID <= 0 {
		return nil, ErrInvalidRequest
	}

	place, err := s.loadCheckablePlace(ctx, req.PlaceID)
	if err != nil {
		return nil, err
	}

	// bypass skips the distance test, not the need for a coordinate
	if req.Coordinate == nil || !req.Coordinate.Valid() {
		return nil, ErrLocationUnavailable
	}

	prox, err := s.validator.Check(req.Coordinate, place.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	if !prox.Within {
		return nil, &TooFarAwayError{DistanceMeters: prox.DistanceMeters, RadiusMeters: prox.RadiusMeters}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	checkIn, err := s.checkIns.CreateCheckIn(ctx, &model.CheckIn{
		UserID:     req.UserID,
		PlaceID:    place.ID,
		Coordinate: *req.Coordinate,
		Note:       text.SanitizeNote(req.Note),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.applyEffects(ctx, checkIn, place)

	log.Info().
		Int64("user_id", req.UserID).
		Int64("place_id", place.ID).
		Float64("distance_m", prox.DistanceMeters).
		Msg("Check-in recorded")

	return checkIn, nil
}

// applyEffects runs the post-commit updates. They use a context that
// survives caller cancellation and their failures are only logged.
func (s *CheckInService) applyEffects(ctx context.Context, checkIn *model.CheckIn, place *model.Place) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.EffectTimeout)
	defer cancel()

	warn := func(effect string, err error) {
		log.Warn().Err(err).
			Int64("user_id", checkIn.UserID).
			Int64("place_id", place.ID).
			Str("effect", effect).
			Msg("Secondary effect failed")
	}

	if err := s.places.IncrementVisitCount(ctx, place.ID); err != nil {
		warn("visit_count", err)
	}

	if place.PointValue <= 0 {
		return
	}
	if _, err := s.users.IncrementPoints(ctx, checkIn.UserID, place.PointValue); err != nil {
		warn("points", err)
		return
	}
	desc := fmt.Sprintf("Check-in: %s", place.Name)
	if _, err := s.txs.CreateTransaction(ctx, checkIn.UserID, place.PointValue, model.TxTypeCheckIn, &desc); err != nil {
		warn("ledger", err)
	}
}

// CheckInAtCurrentLocation samples the provider and checks in with the
// coordinate it reports.
func (s *CheckInService) CheckInAtCurrentLocation(ctx context.Context, userID, placeID int64, provider geo.Provider, note *string) (*model.CheckIn, error) {
	coord, err := geo.Sample(ctx, provider, s.opts.LocationTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	return s.CheckIn(ctx, CheckInRequest{
		UserID:     userID,
		PlaceID:    placeID,
		Coordinate: &coord,
		Note:       note,
	})
}

// ChallengeCheckIn is a check-in and the reconciliation it triggered.
type ChallengeCheckIn struct {
	CheckIn        *model.CheckIn     `json:"checkIn"`
	Reconciliation []*ReconcileResult `json:"reconciliation,omitempty"`
}

// CheckInForChallenge checks in and reconciles the event against the
// challenge's visit requirements. The user lock is held across both so
// one process never reconciles the same user twice at once. A
// reconciliation failure does not undo or fail the check-in.
func (s *CheckInService) CheckInForChallenge(ctx context.Context, req CheckInRequest, challengeID int64) (*ChallengeCheckIn, error) {
	if s.reconciler == nil {
		checkIn, err := s.CheckIn(ctx, req)
		if err != nil {
			return nil, err
		}
		return &ChallengeCheckIn{CheckIn: checkIn}, nil
	}

	var out *ChallengeCheckIn
	err := s.reconciler.locker.WithLock(ctx, lock.UserKey(req.UserID), func() error {
		checkIn, err := s.CheckIn(ctx, req)
		if err != nil {
			return err
		}
		out = &ChallengeCheckIn{CheckIn: checkIn}

		results, err := s.reconciler.reconcileCheckIn(context.WithoutCancel(ctx), checkIn, &challengeID)
		if err != nil {
			log.Warn().Err(err).
				Int64("user_id", req.UserID).
				Int64("challenge_id", challengeID).
				Msg("Reconciliation after check-in failed")
		}
		out.Reconciliation = results
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns a user's recent check-ins.
func (s *CheckInService) History(ctx context.Context, userID int64, limit int) ([]*model.CheckIn, error) {
	list, err := s.checkIns.ListCheckIns(ctx, userID, clampLimit(limit, MaxHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return list, nil
}
