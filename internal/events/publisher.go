package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"messaging-gateway-service/internal/models"
)

// Event subjects
const (
	SubjectTenantCreated        = "gateway.tenant.created"
	SubjectTenantActivated      = "gateway.tenant.activated"
	SubjectSessionStatusChanged = "gateway.session.status_changed"
	SubjectMessageSent          = "gateway.message.sent"
	SubjectQuotaExceeded        = "gateway.quota.exceeded"
)

// TenantEvent is published on tenant lifecycle changes
type TenantEvent struct {
	EventType     string    `json:"event_type"`
	TenantID      string    `json:"tenant_id"`
	BusinessName  string    `json:"business_name"`
	Status        string    `json:"status"`
	PhoneNumberID string    `json:"phone_number_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SessionStatusEvent is published on every QR session state transition
type SessionStatusEvent struct {
	EventType     string    `json:"event_type"`
	TenantID      string    `json:"tenant_id"`
	PreviousState string    `json:"previous_state"`
	State         string    `json:"state"`
	PhoneNumber   string    `json:"phone_number,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// MessageSentEvent is published after a successful outbound send
type MessageSentEvent struct {
	EventType  string    `json:"event_type"`
	TenantID   string    `json:"tenant_id"`
	To         string    `json:"to"`
	FreeWindow bool      `json:"free_window"`
	Timestamp  time.Time `json:"timestamp"`
}

// QuotaExceededEvent is published when a send is refused on quota, so the
// billing flow can prompt for an upgrade
type QuotaExceededEvent struct {
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id"`
	Allowance int       `json:"allowance"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher wraps the NATS connection for gateway event publishing
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher creates a new NATS publisher
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	entry := logger.WithField("component", "events.publisher")

	opts := []nats.Option{
		nats.Name("messaging-gateway-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			entry.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			entry.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	entry.WithField("url", url).Info("connected to NATS")
	return &Publisher{conn: conn, logger: entry}, nil
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

func (p *Publisher) publish(subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// PublishTenantCreated publishes a tenant.created event
func (p *Publisher) PublishTenantCreated(ctx context.Context, tenant *models.Tenant) error {
	return p.publish(SubjectTenantCreated, TenantEvent{
		EventType:    SubjectTenantCreated,
		TenantID:     tenant.ID.String(),
		BusinessName: tenant.BusinessName,
		Status:       tenant.Status,
		Timestamp:    time.Now().UTC(),
	})
}

// PublishTenantActivated publishes a tenant.activated event
func (p *Publisher) PublishTenantActivated(ctx context.Context, tenant *models.Tenant) error {
	event := TenantEvent{
		EventType:    SubjectTenantActivated,
		TenantID:     tenant.ID.String(),
		BusinessName: tenant.BusinessName,
		Status:       tenant.Status,
		Timestamp:    time.Now().UTC(),
	}
	if tenant.PhoneNumberID != nil {
		event.PhoneNumberID = *tenant.PhoneNumberID
	}
	return p.publish(SubjectTenantActivated, event)
}

// PublishSessionStatusChanged publishes a session.status_changed event
func (p *Publisher) PublishSessionStatusChanged(ctx context.Context, tenantID uuid.UUID, previousState, state, phoneNumber string) error {
	return p.publish(SubjectSessionStatusChanged, SessionStatusEvent{
		EventType:     SubjectSessionStatusChanged,
		TenantID:      tenantID.String(),
		PreviousState: previousState,
		State:         state,
		PhoneNumber:   phoneNumber,
		Timestamp:     time.Now().UTC(),
	})
}

// PublishMessageSent publishes a message.sent event
func (p *Publisher) PublishMessageSent(ctx context.Context, tenantID uuid.UUID, to string, freeWindow bool) error {
	return p.publish(SubjectMessageSent, MessageSentEvent{
		EventType:  SubjectMessageSent,
		TenantID:   tenantID.String(),
		To:         to,
		FreeWindow: freeWindow,
		Timestamp:  time.Now().UTC(),
	})
}

// PublishQuotaExceeded publishes a quota.exceeded event
func (p *Publisher) PublishQuotaExceeded(ctx context.Context, tenantID uuid.UUID, allowance int) error {
	return p.publish(SubjectQuotaExceeded, QuotaExceededEvent{
		EventType: SubjectQuotaExceeded,
		TenantID:  tenantID.String(),
		Allowance: allowance,
		Timestamp: time.Now().UTC(),
	})
}
