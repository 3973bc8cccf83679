package service

import (
	"context"
	"fmt"
	"time"

	"travel-points/internal/model"
)

// DefaultLeaderboardSize is used when a caller asks for no specific size.
const DefaultLeaderboardSize = 10

// maxLeaderboardSize caps any leaderboard request.
const maxLeaderboardSize = 100

// RankingService handles leaderboards.
type RankingService struct {
	users    UserStore
	txs      TransactionStore
	timezone *time.Location
	now      func() time.Time
}

// NewRankingService creates a new RankingService instance. Days are
// measured in timezone, which defaults to UTC.
func NewRankingService(store Store, timezone *time.Location) *RankingService {
	if timezone == nil {
		timezone = time.UTC
	}
	return &RankingService{
		users:    store,
		txs:      store,
		timezone: timezone,
		now:      time.Now,
	}
}

// TopUsers retrieves the top users by total points.
func (s *RankingService) TopUsers(ctx context.Context, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	users, err := s.users.TopUsers(ctx, clampLimit(limit, maxLeaderboardSize))
	if err != nil {
		return nil, fmt.Errorf("failed to get top users: %w", err)
	}
	return users, nil
}

// TopEarnersToday ranks users by points earned since local midnight.
func (s *RankingService) TopEarnersToday(ctx context.Context, limit int) ([]*model.DailyRank, error) {
	return s.TopEarnersOn(ctx, s.now(), limit)
}

// TopEarnersOn ranks users by points earned on the calendar day of date.
func (s *RankingService) TopEarnersOn(ctx context.Context, date time.Time, limit int) ([]*model.DailyRank, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	local := date.In(s.timezone)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.timezone)
	to := from.AddDate(0, 0, 1)

	ranks, err := s.txs.TopEarners(ctx, from, to, clampLimit(limit, maxLeaderboardSize))
	if err != nil {
		return nil, fmt.Errorf("failed to get top earners: %w", err)
	}
	return ranks, nil
}
