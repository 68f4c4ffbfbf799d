package models

import (
	"time"
)

// ActivityFact is one append-only accounting row: how many attachments a
// user had newly archived from a single post.
type ActivityFact struct {
	ID              uint      `gorm:"primaryKey"`
	UserID          string    `gorm:"index;not null"`
	OccurredAt      time.Time `gorm:"index;not null"`
	AttachmentCount int       `gorm:"not null"`
	CreatedAt       time.Time
}

// TableName overrides the table name
func (ActivityFact) TableName() string {
	return "activity_facts"
}
