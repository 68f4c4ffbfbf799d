package models

import (
	"time"
)

// Balance is a user's decaying point balance. Points never go below zero.
type Balance struct {
	UserID    string  `gorm:"primaryKey"`
	Points    float64 `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName overrides the table name
func (Balance) TableName() string {
	return "balances"
}
