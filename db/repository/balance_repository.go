package repository

import (
	"errors"

	"chatvault/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BalanceRepository defines the interface for balance operations
type BalanceRepository interface {
	Get(userID string) (*models.Balance, error)
	Upsert(balance *models.Balance) error
	All() ([]models.Balance, error)
}

// GormBalanceRepository implements BalanceRepository using GORM
type GormBalanceRepository struct {
	db *gorm.DB
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *gorm.DB) BalanceRepository {
	return &GormBalanceRepository{db: db}
}

// Get returns a user's balance row, or a zero balance when none exists yet
func (r *GormBalanceRepository) Get(userID string) (*models.Balance, error) {
	var balance models.Balance
	err := r.db.Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Balance{UserID: userID, Points: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Upsert writes a balance row, inserting or replacing by user id
func (r *GormBalanceRepository) Upsert(balance *models.Balance) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"points", "updated_at"}),
	}).Create(balance).Error
}

// All returns every known balance row
func (r *GormBalanceRepository) All() ([]models.Balance, error) {
	var balances []models.Balance
	err := r.db.Find(&balances).Error
	return balances, err
}
