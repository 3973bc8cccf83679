// Package service holds the check-in, reconciliation, discovery and
// account logic. Adapters call it; it never formats user-facing text.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"travel-points/internal/model"
	"travel-points/internal/pkg/text"
	"travel-points/internal/repository"
)

// MaxHistoryLimit caps ledger and check-in listings.
const MaxHistoryLimit = 100

// AccountService handles user accounts and their points.
type AccountService struct {
	users UserStore
	txs   TransactionStore
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(store Store) *AccountService {
	return &AccountService{users: store, txs: store}
}

// EnsureUser ensures a user exists, creating one with zero points if
// necessary. A changed username is refreshed.
func (s *AccountService) EnsureUser(ctx context.Context, id int64, username string) (*model.User, bool, error) {
	if id <= 0 {
		return nil, false, ErrInvalidRequest
	}
	username = text.Clean(username)

	user, created, err := s.users.GetOrCreateUser(ctx, id, username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	if !created && username != "" && user.Username != username {
		if err := s.users.UpdateUsername(ctx, id, username); err != nil {
			// the user still exists, so carry on with the stale name
			log.Warn().Err(err).Int64("user_id", id).Msg("Failed to update username")
		} else {
			user.Username = username
		}
	}

	return user, created, nil
}

// GetUser retrieves a user by ID.
func (s *AccountService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetPoints retrieves a user's current points.
func (s *AccountService) GetPoints(ctx context.Context, id int64) (int64, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return 0, err
	}
	return user.Points, nil
}

// History returns the user's most recent ledger entries.
func (s *AccountService) History(ctx context.Context, id int64, limit int) ([]*model.Transaction, error) {
	list, err := s.txs.ListTransactions(ctx, id, clampLimit(limit, MaxHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return list, nil
}

func clampLimit(limit, ceiling int) int {
	if limit <= 0 || limit > ceiling {
		return ceiling
	}
	return limit
}
