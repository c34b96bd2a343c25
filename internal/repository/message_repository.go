package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"messaging-gateway-service/internal/models"
)

// MessageStore abstracts the append-only message audit trail
type MessageStore interface {
	Append(ctx context.Context, record *models.MessageRecord) error
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.MessageRecord, error)
}

// MessageRepository handles message record operations against PostgreSQL
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append writes an immutable message record
func (r *MessageRepository) Append(ctx context.Context, record *models.MessageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append message record: %w", err)
	}
	return nil
}

// ListRecent returns the most recent message records for a tenant,
// newest first. Used by the dashboard, never by routing logic.
func (r *MessageRepository) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []models.MessageRecord
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list message records: %w", err)
	}
	return records, nil
}
