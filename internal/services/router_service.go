package services

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"messaging-gateway-service/internal/events"
	"messaging-gateway-service/internal/metrics"
	"messaging-gateway-service/internal/models"
	"messaging-gateway-service/internal/repository"
)

// OutboundTransport is the provider-facing send path
type OutboundTransport interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
}

// RouterService receives inbound webhook events, resolves the tenant,
// maintains the conversation window, invokes the responder and dispatches
// outbound sends, charging quota only for sends outside the free window.
type RouterService struct {
	registry    *RegistryService
	windows     *WindowService
	quota       *QuotaService
	responder   Responder
	transport   OutboundTransport
	messages    repository.MessageStore
	events      *events.Publisher // optional
	metrics     *metrics.Metrics  // optional
	verifyToken string
	logger      *logrus.Entry
}

// NewRouterService creates a new message router
func NewRouterService(
	registry *RegistryService,
	windows *WindowService,
	quota *QuotaService,
	responder Responder,
	transport OutboundTransport,
	messages repository.MessageStore,
	eventPublisher *events.Publisher,
	m *metrics.Metrics,
	verifyToken string,
	logger *logrus.Logger,
) *RouterService {
	return &RouterService{
		registry:    registry,
		windows:     windows,
		quota:       quota,
		responder:   responder,
		transport:   transport,
		messages:    messages,
		events:      eventPublisher,
		metrics:     m,
		verifyToken: verifyToken,
		logger:      logger.WithField("component", "router"),
	}
}

// VerifyWebhook performs the one-time subscribe handshake. The challenge is
// echoed only for mode "subscribe" with the configured token; everything
// else is rejected without a body, per webhook convention.
func (s *RouterService) VerifyWebhook(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && token == s.verifyToken && s.verifyToken != "" {
		return challenge, true
	}
	return "", false
}

// HandleInbound processes a webhook delivery. Failures are handled locally:
// webhooks are fire-and-forget from the sender's perspective, so nothing
// here surfaces an error to the HTTP layer.
func (s *RouterService) HandleInbound(ctx context.Context, payload *models.WebhookPayload) {
	now := time.Now().UTC()

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			phoneNumberID := change.Value.Metadata.PhoneNumberID
			if len(change.Value.Messages) == 0 {
				// Status callback, nothing to route.
				s.countWebhook("status_only")
				continue
			}

			tenant, err := s.registry.ResolveByPhoneNumberID(ctx, phoneNumberID)
			if err != nil {
				// No tenant to bill or reply as. Drop and signal.
				s.logger.WithError(err).WithField("phone_number_id", phoneNumberID).
					Warn("dropping inbound messages for unknown phone number id")
				s.countWebhook("dropped")
				if s.metrics != nil {
					s.metrics.MessagesDropped.Add(float64(len(change.Value.Messages)))
				}
				continue
			}
			if tenant.Status != models.TenantStatusActive {
				s.logger.WithField("tenant_id", tenant.ID).Warn("dropping inbound messages for inactive tenant")
				s.countWebhook("dropped")
				continue
			}

			for _, msg := range change.Value.Messages {
				s.handleMessage(ctx, tenant, msg, now)
			}
		}
	}
}

func (s *RouterService) handleMessage(ctx context.Context, tenant *models.Tenant, msg models.WebhookMessage, now time.Time) {
	if msg.Text == nil || msg.Text.Body == "" {
		s.countWebhook("no_text")
		return
	}

	receivedAt := parseWebhookTimestamp(msg.Timestamp, now)

	// This message, by definition, opened or renewed a free window.
	s.windows.RecordCustomerMessage(ctx, tenant.ID, msg.From, receivedAt)
	s.countWebhook("message")

	if s.messages != nil {
		record := &models.MessageRecord{
			TenantID:  tenant.ID,
			Direction: models.DirectionInbound,
			FromPhone: msg.From,
			Body:      msg.Text.Body,
			Timestamp: receivedAt,
		}
		if err := s.messages.Append(ctx, record); err != nil {
			s.logger.WithError(err).Warn("failed to record inbound message")
		}
	}

	reply, err := s.responder.Reply(ctx, tenant.AIConfigRef, msg.Text.Body)
	if err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenant.ID).Warn("responder failed, no reply sent")
		return
	}
	if reply == "" {
		return
	}

	if _, err := s.sendAsTenant(ctx, tenant, msg.From, reply, now, true); err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenant.ID).Warn("auto-reply not sent")
	}
}

// Send dispatches an outbound message for a tenant, e.g. a proactive
// campaign message triggered from the dashboard. Returns the provider
// message id, or QuotaExceededError / TransportError.
func (s *RouterService) Send(ctx context.Context, tenantID uuid.UUID, to, body string, now time.Time) (string, error) {
	tenant, err := s.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return s.sendAsTenant(ctx, tenant, to, body, now, false)
}

// sendAsTenant applies the free-window check and quota charge, then
// transmits. Quota is charged before the transport attempt: the atomic
// reservation is what prevents concurrent sends from overshooting the cap,
// at the cost of one consumed unit when the transport fails.
func (s *RouterService) sendAsTenant(ctx context.Context, tenant *models.Tenant, to, body string, now time.Time, autoReplied bool) (string, error) {
	if tenant.PhoneNumberID == nil {
		return "", NewNotFoundError("phone number for tenant", tenant.ID.String())
	}

	free := s.windows.IsWithinFreeWindow(ctx, tenant.ID, to, now)
	if !free {
		if err := s.quota.TryCharge(ctx, tenant.ID, now); err != nil {
			if quotaErr, ok := IsQuotaExceededError(err); ok {
				s.countSend("quota_exceeded")
				if s.metrics != nil {
					s.metrics.QuotaRefusals.Inc()
				}
				if s.events != nil {
					if pubErr := s.events.PublishQuotaExceeded(ctx, tenant.ID, quotaErr.Allowance); pubErr != nil {
						s.logger.WithError(pubErr).Warn("failed to publish quota.exceeded event")
					}
				}
			}
			return "", err
		}
	}

	messageID, err := s.transport.SendText(ctx, *tenant.PhoneNumberID, to, body)
	if err != nil {
		s.countSend("transport_error")
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"to":        to,
		}).Error("outbound transport failed")
		return "", &TransportError{Cause: err}
	}

	s.countSend("sent")

	if s.messages != nil {
		record := &models.MessageRecord{
			TenantID:    tenant.ID,
			Direction:   models.DirectionOutbound,
			FromPhone:   tenant.PhoneNumber,
			ToPhone:     to,
			Body:        body,
			AutoReplied: autoReplied,
			Timestamp:   now,
		}
		if err := s.messages.Append(ctx, record); err != nil {
			s.logger.WithError(err).Warn("failed to record outbound message")
		}
	}

	if s.events != nil {
		if err := s.events.PublishMessageSent(ctx, tenant.ID, to, free); err != nil {
			s.logger.WithError(err).Warn("failed to publish message.sent event")
		}
	}

	return messageID, nil
}

func (s *RouterService) countWebhook(outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(outcome).Inc()
	}
}

func (s *RouterService) countSend(result string) {
	if s.metrics != nil {
		s.metrics.OutboundSends.WithLabelValues(result).Inc()
	}
}

// parseWebhookTimestamp converts the provider's unix-seconds string,
// falling back to the receive time when absent or malformed.
func parseWebhookTimestamp(ts string, fallback time.Time) time.Time {
	if ts == "" {
		return fallback
	}
	seconds, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Unix(seconds, 0).UTC()
}
