package repository

import (
	"time"

	"chatvault/db/models"
	"gorm.io/gorm"
)

// UserCount is one leaderboard row.
type UserCount struct {
	UserID string
	Count  int
}

// FactRepository defines the interface for activity fact operations
type FactRepository interface {
	Create(fact *models.ActivityFact) error
	CountInWindow(userID string, start, end time.Time) (int, error)
	TopNInWindow(start, end time.Time, n int) ([]UserCount, error)
}

// GormFactRepository implements FactRepository using GORM
type GormFactRepository struct {
	db *gorm.DB
}

// NewFactRepository creates a new fact repository
func NewFactRepository(db *gorm.DB) FactRepository {
	return &GormFactRepository{db: db}
}

// Create appends a new activity fact
func (r *GormFactRepository) Create(fact *models.ActivityFact) error {
	return r.db.Create(fact).Error
}

// CountInWindow sums a user's attachment counts in [start, end). The end
// boundary is exclusive, the start boundary inclusive.
func (r *GormFactRepository) CountInWindow(userID string, start, end time.Time) (int, error) {
	var total *int
	err := r.db.Model(&models.ActivityFact{}).
		Select("SUM(attachment_count)").
		Where("user_id = ? AND occurred_at >= ? AND occurred_at < ?", userID, start, end).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// TopNInWindow returns per-user totals in [start, end) ordered by count
// descending, ties broken by user id ascending.
func (r *GormFactRepository) TopNInWindow(start, end time.Time, n int) ([]UserCount, error) {
	var rows []UserCount
	err := r.db.Model(&models.ActivityFact{}).
		Select("user_id, SUM(attachment_count) AS count").
		Where("occurred_at >= ? AND occurred_at < ?", start, end).
		Group("user_id").
		Order("count DESC, user_id ASC").
		Limit(n).
		Scan(&rows).Error
	return rows, err
}
