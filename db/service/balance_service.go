package service

import (
	"context"

	"chatvault/db/models"
	"chatvault/db/repository"
	"chatvault/logger"
	"chatvault/retry"
)

// BalanceService persists point balances. It does not serialize writers;
// the accounting layer holds a per-user lock around every mutation.
type BalanceService struct {
	repo   repository.BalanceRepository
	policy retry.Policy
}

// NewBalanceService creates a new balance service
func NewBalanceService(repo repository.BalanceRepository, policy retry.Policy) *BalanceService {
	if policy.Retryable == nil {
		policy.Retryable = IsBusy
	}
	return &BalanceService{repo: repo, policy: policy}
}

// Get returns the current points for a user (zero when unknown)
func (s *BalanceService) Get(userID string) (float64, error) {
	balance, err := s.repo.Get(userID)
	if err != nil {
		return 0, err
	}
	return balance.Points, nil
}

// Add applies a signed delta to a user's balance and persists the result.
// The stored value is clamped at zero; an attempted dip below zero is logged
// rather than propagated.
func (s *BalanceService) Add(ctx context.Context, userID string, delta float64) (float64, error) {
	balance, err := s.repo.Get(userID)
	if err != nil {
		return 0, err
	}

	points := balance.Points + delta
	if points < 0 {
		logger.Logger.Warn().
			Str("user", userID).
			Float64("points", balance.Points).
			Float64("delta", delta).
			Msg("balance would go negative, clamping to zero")
		points = 0
	}

	updated := &models.Balance{UserID: userID, Points: points}
	err = retry.Do(ctx, s.policy, func() error {
		return s.repo.Upsert(updated)
	})
	if err != nil {
		return 0, err
	}
	return points, nil
}

// Decay lowers a balance by amount, flooring at zero. Unlike Add, hitting
// the floor here is the expected aging behavior and is not logged.
func (s *BalanceService) Decay(ctx context.Context, userID string, amount float64) (float64, error) {
	balance, err := s.repo.Get(userID)
	if err != nil {
		return 0, err
	}

	points := balance.Points - amount
	if points < 0 {
		points = 0
	}

	updated := &models.Balance{UserID: userID, Points: points}
	err = retry.Do(ctx, s.policy, func() error {
		return s.repo.Upsert(updated)
	})
	if err != nil {
		return 0, err
	}
	return points, nil
}

// All returns every known balance
func (s *BalanceService) All() ([]models.Balance, error) {
	return s.repo.All()
}
