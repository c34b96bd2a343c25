package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant statuses
const (
	TenantStatusPending  = "pending"
	TenantStatusActive   = "active"
	TenantStatusDisabled = "disabled"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Tenant represents a client business routed through the gateway.
// A tenant is never hard-deleted; disabling preserves message history.
type Tenant struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	BusinessName  string    `json:"business_name" gorm:"not null"`
	Status        string    `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	SetupCode     string    `json:"-" gorm:"type:varchar(32);uniqueIndex"`
	PhoneNumberID *string   `json:"phone_number_id" gorm:"type:varchar(64);uniqueIndex"`
	PhoneNumber   string    `json:"phone_number" gorm:"type:varchar(20)"`
	DisplayName   string    `json:"display_name" gorm:"type:varchar(255)"`
	AIConfigRef   string    `json:"ai_config_ref" gorm:"type:varchar(64)"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConversationWindow records the most recent customer-initiated message
// per (tenant, customer phone). Replies within 24h of that timestamp are free.
type ConversationWindow struct {
	TenantID              uuid.UUID `json:"tenant_id" gorm:"type:uuid;primaryKey"`
	CustomerPhone         string    `json:"customer_phone" gorm:"type:varchar(20);primaryKey"`
	LastCustomerMessageAt time.Time `json:"last_customer_message_at" gorm:"not null"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// QuotaCounter tracks a tenant's quota-bearing sends against the
// monthly allowance. CycleStart is the first day of the current cycle's month.
type QuotaCounter struct {
	TenantID   uuid.UUID `json:"tenant_id" gorm:"type:uuid;primaryKey"`
	Used       int       `json:"used" gorm:"default:0"`
	Allowance  int       `json:"allowance" gorm:"not null"`
	CycleStart time.Time `json:"cycle_start" gorm:"not null"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MessageRecord is the append-only audit trail of gateway traffic.
// Never read back by routing logic; consumed by analytics only.
type MessageRecord struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	TenantID    uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Direction   string    `json:"direction" gorm:"type:varchar(10);not null"`
	FromPhone   string    `json:"from_phone" gorm:"type:varchar(20)"`
	ToPhone     string    `json:"to_phone" gorm:"type:varchar(20)"`
	Body        string    `json:"body" gorm:"type:text"`
	AutoReplied bool      `json:"auto_replied" gorm:"default:false"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at"`
}
