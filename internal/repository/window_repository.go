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

// WindowStore abstracts conversation window persistence
type WindowStore interface {
	Upsert(ctx context.Context, window *models.ConversationWindow) error
	Get(ctx context.Context, tenantID uuid.UUID, customerPhone string) (*models.ConversationWindow, error)
}

// WindowRepository handles conversation window operations against PostgreSQL
type WindowRepository struct {
	db *gorm.DB
}

// NewWindowRepository creates a new conversation window repository
func NewWindowRepository(db *gorm.DB) *WindowRepository {
	return &WindowRepository{db: db}
}

// Upsert writes the window row, overwriting the stored timestamp for the
// (tenant, customer) pair if one already exists.
func (r *WindowRepository) Upsert(ctx context.Context, window *models.ConversationWindow) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "customer_phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_customer_message_at", "updated_at"}),
	}).Create(window).Error
	if err != nil {
		return fmt.Errorf("failed to upsert conversation window: %w", err)
	}
	return nil
}

// Get retrieves the window for a (tenant, customer) pair
func (r *WindowRepository) Get(ctx context.Context, tenantID uuid.UUID, customerPhone string) (*models.ConversationWindow, error) {
	var window models.ConversationWindow
	err := r.db.WithContext(ctx).
		First(&window, "tenant_id = ? AND customer_phone = ?", tenantID, customerPhone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation window: %w", err)
	}
	return &window, nil
}
