package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"travel-points/internal/model"
	"travel-points/internal/pkg/lock"
	"travel-points/internal/repository"
)

// maxProgressAttempts bounds the read-modify-write retries on a
// concurrently updated progress row.
const maxProgressAttempts = 3

// ReconcileStatus describes what a reconciliation did.
type ReconcileStatus string

// Reconciliation outcomes.
const (
	StatusNotApplicable    ReconcileStatus = "not_applicable"
	StatusProgressed       ReconcileStatus = "progressed"
	StatusCompleted        ReconcileStatus = "completed"
	StatusAlreadyCompleted ReconcileStatus = "already_completed"
	StatusAlreadyCounted   ReconcileStatus = "already_counted"
)

// ReconcileResult is the outcome of reconciling one requirement.
type ReconcileResult struct {
	Status             ReconcileStatus            `json:"status"`
	RequirementID      int64                      `json:"requirementId"`
	Progress           *model.RequirementProgress `json:"progress,omitempty"`
	ChallengeCompleted bool                       `json:"challengeCompleted"`
	BonusAwarded       bool                       `json:"bonusAwarded"`
	BonusPoints        int64                      `json:"bonusPoints,omitempty"`
}

// ReconcileService advances requirement progress and settles challenges.
type ReconcileService struct {
	checkIns   CheckInStore
	challenges ChallengeStore
	progress   ProgressStore
	locker     lock.Locker
	now        func() time.Time
}

// NewReconcileService creates a new ReconcileService. A nil locker
// falls back to an in-process keyed lock.
func NewReconcileService(store Store, locker lock.Locker) *ReconcileService {
	if locker == nil {
		locker = lock.NewKeyedLock(0)
	}
	return &ReconcileService{
		checkIns:   store,
		challenges: store,
		progress:   store,
		locker:     locker,
		now:        time.Now,
	}
}

// ReconcileRequirement counts one of the user's recorded check-ins toward
// a requirement.
//
// It returns ErrCheckInNotFound when the check-in does not exist or
// belongs to someone else. It writes nothing and reports
// StatusNotApplicable when challengeID is nil, the requirement is unknown,
// belongs to another challenge, is not a visit_place requirement, targets
// a different place than the check-in, or its challenge has expired. A
// check-in is counted at most once per requirement; a repeat reports
// StatusAlreadyCounted. Once a requirement is completed further calls are
// no-ops, and the challenge bonus is paid at most once per user.
func (s *ReconcileService) ReconcileRequirement(ctx context.Context, userID, checkInID, requirementID int64, challengeID *int64) (*ReconcileResult, error) {
	checkIn, err := s.checkIns.GetCheckIn(ctx, checkInID)
	if err != nil {
		if errors.Is(err, repository.ErrCheckInNotFound) {
			return nil, ErrCheckInNotFound
		}
		return nil, fmt.Errorf("failed to get check-in: %w", err)
	}
	if checkIn.UserID != userID {
		return nil, ErrCheckInNotFound
	}

	var result *ReconcileResult
	err = s.locker.WithLock(ctx, lock.UserKey(userID), func() error {
		var err error
		result, err = s.reconcile(ctx, checkIn, requirementID, challengeID)
		return err
	})
	return result, err
}

// ReconcileCheckIn reconciles every visit requirement of the challenge
// that targets the checked-in place.
func (s *ReconcileService) ReconcileCheckIn(ctx context.Context, checkIn *model.CheckIn, challengeID *int64) ([]*ReconcileResult, error) {
	var results []*ReconcileResult
	err := s.locker.WithLock(ctx, lock.UserKey(checkIn.UserID), func() error {
		var err error
		results, err = s.reconcileCheckIn(ctx, checkIn, challengeID)
		return err
	})
	return results, err
}

// reconcileCheckIn expects the caller to hold the user's lock.
func (s *ReconcileService) reconcileCheckIn(ctx context.Context, checkIn *model.CheckIn, challengeID *int64) ([]*ReconcileResult, error) {
	if challengeID == nil {
		return nil, nil
	}

	reqs, err := s.challenges.GetRequirementsForChallenge(ctx, *challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get requirements: %w", err)
	}

	var (
		results []*ReconcileResult
		errs    []error
	)
	for _, req := range reqs {
		if req.Kind != model.RequirementVisitPlace || req.TargetID == nil || *req.TargetID != checkIn.PlaceID {
			continue
		}
		result, err := s.reconcile(ctx, checkIn, req.ID, challengeID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

func (s *ReconcileService) reconcile(ctx context.Context, checkIn *model.CheckIn, requirementID int64, challengeID *int64) (*ReconcileResult, error) {
	notApplicable := &ReconcileResult{Status: StatusNotApplicable, RequirementID: requirementID}
	if challengeID == nil {
		return notApplicable, nil
	}

	req, err := s.challenges.GetRequirement(ctx, requirementID)
	if err != nil {
		if errors.Is(err, repository.ErrRequirementNotFound) {
			return notApplicable, nil
		}
		return nil, fmt.Errorf("failed to get requirement: %w", err)
	}
	if req.ChallengeID != *challengeID || req.Kind != model.RequirementVisitPlace {
		return notApplicable, nil
	}
	if req.TargetID == nil || *req.TargetID != checkIn.PlaceID {
		return notApplicable, nil
	}

	challenge, err := s.challenges.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return notApplicable, nil
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if challenge.Expired(s.now()) {
		return notApplicable, nil
	}

	result, err := s.advance(ctx, checkIn, req)
	if err != nil {
		return nil, err
	}

	if result.Progress != nil && result.Progress.Completed {
		s.settle(ctx, checkIn.UserID, challenge, result)
	}
	return result, nil
}

// advance bumps the progress row with a compare-and-set on its count and
// marks the check-in as counted in the same write.
func (s *ReconcileService) advance(ctx context.Context, checkIn *model.CheckIn, req *model.Requirement) (*ReconcileResult, error) {
	result := &ReconcileResult{RequirementID: req.ID}
	userID := checkIn.UserID

	for attempt := 0; attempt < maxProgressAttempts; attempt++ {
		expected := 0
		existing, err := s.progress.GetProgress(ctx, userID, req.ID)
		switch {
		case errors.Is(err, repository.ErrProgressNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to get progress: %w", err)
		case existing.Completed:
			result.Status = StatusAlreadyCompleted
			result.Progress = existing
			return result, nil
		default:
			expected = existing.Count
		}

		next := &model.RequirementProgress{
			UserID:        userID,
			RequirementID: req.ID,
			ChallengeID:   req.ChallengeID,
			Count:         expected + 1,
		}
		if next.Count >= req.TargetCount {
			now := s.now()
			next.Completed = true
			next.CompletedAt = &now
		}

		saved, err := s.progress.UpsertRequirementProgress(ctx, next, expected, checkIn.ID)
		if errors.Is(err, repository.ErrProgressConflict) {
			continue
		}
		if errors.Is(err, repository.ErrCheckInAlreadyCounted) {
			result.Status = StatusAlreadyCounted
			result.Progress = existing
			return result, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		result.Progress = saved
		result.Status = StatusProgressed
		if saved.Completed {
			result.Status = StatusCompleted
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: requirement %d: %w", ErrPersistence, req.ID, repository.ErrProgressConflict)
}

// settle records the challenge completion once every requirement is done.
// Failures are logged; the requirement progress already stands.
func (s *ReconcileService) settle(ctx context.Context, userID int64, challenge *model.Challenge, result *ReconcileResult) {
	if len(challenge.Requirements) == 0 {
		return
	}

	rows, err := s.progress.GetRequirementProgress(ctx, userID, challenge.ID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Int64("challenge_id", challenge.ID).Msg("Failed to load challenge progress")
		return
	}
	done := make(map[int64]bool, len(rows))
	for _, p := range rows {
		done[p.RequirementID] = p.Completed
	}
	for _, req := range challenge.Requirements {
		if !done[req.ID] {
			return
		}
	}
	result.ChallengeCompleted = true

	inserted, err := s.progress.MarkChallengeCompleted(ctx, &model.ChallengeCompletion{
		UserID:      userID,
		ChallengeID: challenge.ID,
		BonusPoints: challenge.PointValue,
	})
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Int64("challenge_id", challenge.ID).Msg("Failed to record challenge completion")
		return
	}
	if inserted {
		result.BonusAwarded = true
		result.BonusPoints = challenge.PointValue
		log.Info().
			Int64("user_id", userID).
			Int64("challenge_id", challenge.ID).
			Int64("bonus", challenge.PointValue).
			Msg("Challenge completed")
	}
}

// RequirementStatus is one requirement with the user's progress on it.
type RequirementStatus struct {
	Requirement model.Requirement `json:"requirement"`
	Count       int               `json:"count"`
	Completed   bool              `json:"completed"`
}

// ChallengeProgressView summarises a user's standing in a challenge.
type ChallengeProgressView struct {
	Challenge      *model.Challenge    `json:"challenge"`
	Requirements   []RequirementStatus `json:"requirements"`
	CompletedCount int                 `json:"completedCount"`
	Total          int                 `json:"total"`
	Completed      bool                `json:"completed"`
	BonusAwarded   bool                `json:"bonusAwarded"`
}

// ChallengeProgress returns the user's progress across a challenge.
func (s *ReconcileService) ChallengeProgress(ctx context.Context, userID, challengeID int64) (*ChallengeProgressView, error) {
	challenge, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	rows, err := s.progress.GetRequirementProgress(ctx, userID, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	byReq := make(map[int64]*model.RequirementProgress, len(rows))
	for _, p := range rows {
		byReq[p.RequirementID] = p
	}

	view := &ChallengeProgressView{
		Challenge: challenge,
		Total:     len(challenge.Requirements),
	}
	for _, req := range challenge.Requirements {
		st := RequirementStatus{Requirement: req}
		if p, ok := byReq[req.ID]; ok {
			st.Count = p.Count
			st.Completed = p.Completed
		}
		if st.Completed {
			view.CompletedCount++
		}
		view.Requirements = append(view.Requirements, st)
	}
	view.Completed = view.Total > 0 && view.CompletedCount == view.Total

	_, err = s.progress.GetChallengeCompletion(ctx, userID, challengeID)
	switch {
	case err == nil:
		view.BonusAwarded = true
	case errors.Is(err, repository.ErrCompletionNotFound):
	default:
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}
	return view, nil
}
