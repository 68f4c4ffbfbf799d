package service

import (
	"context"
	"strings"
	"time"

	"chatvault/db/models"
	"chatvault/db/repository"
	"chatvault/retry"
)

// IsBusy reports whether err looks like a transiently locked sqlite store.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// LedgerService is the append path and query surface of the activity ledger.
// Appends run through the retry wrapper so a briefly locked store does not
// lose facts; exhausting the budget surfaces a hard failure to the caller.
type LedgerService struct {
	repo   repository.FactRepository
	policy retry.Policy
}

// NewLedgerService creates a new ledger service
func NewLedgerService(repo repository.FactRepository, policy retry.Policy) *LedgerService {
	if policy.Retryable == nil {
		policy.Retryable = IsBusy
	}
	return &LedgerService{repo: repo, policy: policy}
}

// Append records one activity fact with retry on lock contention
func (s *LedgerService) Append(ctx context.Context, userID string, occurredAt time.Time, attachmentCount int) error {
	return retry.Do(ctx, s.policy, func() error {
		return s.repo.Create(&models.ActivityFact{
			UserID:          userID,
			OccurredAt:      occurredAt.UTC(),
			AttachmentCount: attachmentCount,
		})
	})
}

// CountInWindow sums a user's archived attachments in [start, end)
func (s *LedgerService) CountInWindow(userID string, start, end time.Time) (int, error) {
	return s.repo.CountInWindow(userID, start.UTC(), end.UTC())
}

// TopNInWindow returns the busiest users in [start, end)
func (s *LedgerService) TopNInWindow(start, end time.Time, n int) ([]repository.UserCount, error) {
	return s.repo.TopNInWindow(start.UTC(), end.UTC(), n)
}
