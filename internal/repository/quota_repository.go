package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messaging-gateway-service/internal/models"
)

// QuotaStore abstracts quota counter persistence
type QuotaStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*models.QuotaCounter, error)
	Save(ctx context.Context, counter *models.QuotaCounter) error
}

// QuotaRepository handles quota counter operations against PostgreSQL
type QuotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *gorm.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Get retrieves the quota counter for a tenant
func (r *QuotaRepository) Get(ctx context.Context, tenantID uuid.UUID) (*models.QuotaCounter, error) {
	var counter models.QuotaCounter
	if err := r.db.WithContext(ctx).First(&counter, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quota counter: %w", err)
	}
	return &counter, nil
}

// Save upserts the quota counter for a tenant
func (r *QuotaRepository) Save(ctx context.Context, counter *models.QuotaCounter) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"used", "allowance", "cycle_start", "updated_at"}),
	}).Create(counter).Error
	if err != nil {
		return fmt.Errorf("failed to save quota counter: %w", err)
	}
	return nil
}
