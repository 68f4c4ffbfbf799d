package models

import (
	"time"
)

// ArchiveEntry records one attachment stored in the archive. IdentityKey is
// derived from (message id, filename, ordinal) and is unique across
// re-crawls.
type ArchiveEntry struct {
	ID          uint   `gorm:"primaryKey"`
	IdentityKey string `gorm:"uniqueIndex;not null"`
	UserID      string `gorm:"index;not null"`
	MessageID   string `gorm:"index;not null"`
	ChannelID   string `gorm:"index;not null"`
	FilePath    string `gorm:"not null"`
	Sha256      string `gorm:"index"`
	PostedAt    time.Time
	CreatedAt   time.Time
}

// TableName overrides the table name
func (ArchiveEntry) TableName() string {
	return "archive_entries"
}
