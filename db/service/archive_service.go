package service

import (
	"context"
	"errors"

	"chatvault/db/models"
	"chatvault/db/repository"
	"chatvault/logger"
	"chatvault/retry"
)

// ArchiveService handles archive entry bookkeeping. Entry writes run
// through the retry wrapper so a briefly locked store does not orphan a
// published file.
type ArchiveService struct {
	repo   repository.ArchiveRepository
	policy retry.Policy
}

// NewArchiveService creates a new archive service
func NewArchiveService(repo repository.ArchiveRepository, policy retry.Policy) *ArchiveService {
	if policy.Retryable == nil {
		policy.Retryable = IsBusy
	}
	return &ArchiveService{repo: repo, policy: policy}
}

// RecordEntry stores the metadata row for a newly archived attachment.
// Returns false when another writer recorded the identity first.
func (s *ArchiveService) RecordEntry(ctx context.Context, entry *models.ArchiveEntry) (bool, error) {
	err := retry.Do(ctx, s.policy, func() error {
		return s.repo.Create(entry)
	})
	if errors.Is(err, repository.ErrDuplicateEntry) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EntryExists checks whether an identity has already been archived. A failed
// check reports "not archived" so the pipeline re-attempts the download; the
// atomic publish keeps that safe.
func (s *ArchiveService) EntryExists(identityKey string) bool {
	exists, err := s.repo.ExistsByIdentity(identityKey)
	if err != nil {
		logger.Logger.Error().Err(err).Str("identity", identityKey).Msg("archive existence check failed")
		return false
	}
	return exists
}

// EntriesForChannel lists everything archived from one channel
func (s *ArchiveService) EntriesForChannel(channelID string) ([]models.ArchiveEntry, error) {
	return s.repo.FindByChannel(channelID)
}

// TotalEntries returns the archive-wide entry count
func (s *ArchiveService) TotalEntries() (int64, error) {
	return s.repo.CountAll()
}
