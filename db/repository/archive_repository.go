package repository

import (
	"errors"
	"strings"

	"chatvault/db/models"
	"gorm.io/gorm"
)

// ErrDuplicateEntry reports that an archive entry for the identity already
// exists. Callers treat this as "someone else archived it first".
var ErrDuplicateEntry = errors.New("archive entry already exists")

// ArchiveRepository defines the interface for archive entry operations
type ArchiveRepository interface {
	Create(entry *models.ArchiveEntry) error
	ExistsByIdentity(identityKey string) (bool, error)
	FindByIdentity(identityKey string) (*models.ArchiveEntry, error)
	FindByChannel(channelID string) ([]models.ArchiveEntry, error)
	CountAll() (int64, error)
}

// GormArchiveRepository implements ArchiveRepository using GORM
type GormArchiveRepository struct {
	db *gorm.DB
}

// NewArchiveRepository creates a new archive repository
func NewArchiveRepository(db *gorm.DB) ArchiveRepository {
	return &GormArchiveRepository{db: db}
}

// Create adds a new archive entry. The unique index on IdentityKey turns a
// concurrent double-insert into ErrDuplicateEntry.
func (r *GormArchiveRepository) Create(entry *models.ArchiveEntry) error {
	err := r.db.Create(entry).Error
	if err != nil && (errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")) {
		return ErrDuplicateEntry
	}
	return err
}

// ExistsByIdentity checks whether an identity has already been archived
func (r *GormArchiveRepository) ExistsByIdentity(identityKey string) (bool, error) {
	var count int64
	err := r.db.Model(&models.ArchiveEntry{}).Where("identity_key = ?", identityKey).Count(&count).Error
	return count > 0, err
}

// FindByIdentity finds an archive entry by its identity key
func (r *GormArchiveRepository) FindByIdentity(identityKey string) (*models.ArchiveEntry, error) {
	var entry models.ArchiveEntry
	err := r.db.Where("identity_key = ?", identityKey).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindByChannel finds all archive entries for a channel
func (r *GormArchiveRepository) FindByChannel(channelID string) ([]models.ArchiveEntry, error) {
	var entries []models.ArchiveEntry
	err := r.db.Where("channel_id = ?", channelID).Find(&entries).Error
	return entries, err
}

// CountAll returns the total number of archived attachments
func (r *GormArchiveRepository) CountAll() (int64, error) {
	var count int64
	err := r.db.Model(&models.ArchiveEntry{}).Count(&count).Error
	return count, err
}
