package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-gateway-service/internal/models"
)

type sentMessage struct {
	phoneNumberID string
	to            string
	body          string
}

// fakeTransport records outbound sends and can be told to fail
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeTransport) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{phoneNumberID: phoneNumberID, to: to, body: body})
	return "wamid.test", nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type routerFixture struct {
	router    *RouterService
	registry  *RegistryService
	windows   *WindowService
	quota     *QuotaService
	transport *fakeTransport
}

func newRouterFixture(t *testing.T, allowance int) *routerFixture {
	t.Helper()
	logger := newTestLogger()
	registry, _ := newTestRegistry()
	windows := NewWindowService(nil, 24*time.Hour, logger)
	quota := NewQuotaService(nil, allowance, logger)
	transport := &fakeTransport{}

	router := NewRouterService(
		registry,
		windows,
		quota,
		NewKeywordResponder(),
		transport,
		nil,
		nil,
		nil,
		"test_verify_token",
		logger,
	)
	return &routerFixture{
		router:    router,
		registry:  registry,
		windows:   windows,
		quota:     quota,
		transport: transport,
	}
}

// activeTenant registers and attaches a tenant, returning it with its
// routing identifier.
func (f *routerFixture) activeTenant(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	ctx := context.Background()
	tenant, err := f.registry.RegisterTenant(ctx, "Acme Stores", "default")
	require.NoError(t, err)
	phoneNumberID, err := f.registry.AttachPhoneNumber(ctx, tenant.SetupCode, "+15551230000", "Acme")
	require.NoError(t, err)
	return tenant.ID, phoneNumberID
}

func inboundPayload(phoneNumberID, from, body string) *models.WebhookPayload {
	return &models.WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []models.WebhookEntry{{
			ID: "entry-1",
			Changes: []models.WebhookChange{{
				Field: "messages",
				Value: models.WebhookValue{
					Metadata: models.WebhookMetadata{PhoneNumberID: phoneNumberID},
					Messages: []models.WebhookMessage{{
						From: from,
						ID:   "wamid.inbound",
						Type: "text",
						Text: &models.WebhookText{Body: body},
					}},
				},
			}},
		}},
	}
}

func TestVerifyWebhook(t *testing.T) {
	f := newRouterFixture(t, 10)

	challenge, ok := f.router.VerifyWebhook("subscribe", "test_verify_token", "12345")
	assert.True(t, ok)
	assert.Equal(t, "12345", challenge)

	_, ok = f.router.VerifyWebhook("subscribe", "wrong_token", "12345")
	assert.False(t, ok)

	_, ok = f.router.VerifyWebhook("unsubscribe", "test_verify_token", "12345")
	assert.False(t, ok)
}

func TestHandleInbound_AutoReplies(t *testing.T) {
	f := newRouterFixture(t, 10)
	ctx := context.Background()
	tenantID, phoneNumberID := f.activeTenant(t)

	f.router.HandleInbound(ctx, inboundPayload(phoneNumberID, "15559990000", "hello there"))

	require.Equal(t, 1, f.transport.count())
	assert.Equal(t, phoneNumberID, f.transport.sent[0].phoneNumberID)
	assert.Equal(t, "15559990000", f.transport.sent[0].to)

	// The customer opened the window, so the auto-reply was free.
	remaining, err := f.quota.GetRemaining(ctx, tenantID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestHandleInbound_UnknownTenantDropped(t *testing.T) {
	f := newRouterFixture(t, 10)

	f.router.HandleInbound(context.Background(), inboundPayload("999999999999999", "15559990000", "hello"))

	assert.Equal(t, 0, f.transport.count(), "no tenant to reply as, event must be dropped")
}

func TestHandleInbound_StatusOnlyPayload(t *testing.T) {
	f := newRouterFixture(t, 10)
	_, phoneNumberID := f.activeTenant(t)

	payload := &models.WebhookPayload{
		Entry: []models.WebhookEntry{{
			Changes: []models.WebhookChange{{
				Field: "messages",
				Value: models.WebhookValue{
					Metadata: models.WebhookMetadata{PhoneNumberID: phoneNumberID},
					Statuses: []models.WebhookStatus{{ID: "wamid.x", Status: "delivered"}},
				},
			}},
		}},
	}

	f.router.HandleInbound(context.Background(), payload)
	assert.Equal(t, 0, f.transport.count())
}

func TestHandleInbound_DisabledTenantDropped(t *testing.T) {
	f := newRouterFixture(t, 10)
	ctx := context.Background()
	tenantID, phoneNumberID := f.activeTenant(t)

	require.NoError(t, f.registry.DisableTenant(ctx, tenantID))

	f.router.HandleInbound(ctx, inboundPayload(phoneNumberID, "15559990000", "hello"))
	assert.Equal(t, 0, f.transport.count())
}

func TestSend_FreeThenPaid(t *testing.T) {
	f := newRouterFixture(t, 1000)
	ctx := context.Background()
	tenantID, _ := f.activeTenant(t)
	customer := "15559990000"
	t0 := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	// Customer messages at t0, opening the window.
	f.windows.RecordCustomerMessage(ctx, tenantID, customer, t0)

	// Reply one second later: free, quota untouched.
	_, err := f.router.Send(ctx, tenantID, customer, "thanks!", t0.Add(time.Second))
	require.NoError(t, err)
	remaining, _ := f.quota.GetRemaining(ctx, tenantID, t0)
	assert.Equal(t, 1000, remaining)

	// Proactive message at t0+30h: window expired, charge applies.
	_, err = f.router.Send(ctx, tenantID, customer, "we miss you", t0.Add(30*time.Hour))
	require.NoError(t, err)
	remaining, _ = f.quota.GetRemaining(ctx, tenantID, t0.Add(30*time.Hour))
	assert.Equal(t, 999, remaining)
}

func TestSend_QuotaExhausted(t *testing.T) {
	f := newRouterFixture(t, 2)
	ctx := context.Background()
	tenantID, _ := f.activeTenant(t)
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.quota.TryCharge(ctx, tenantID, now))
	require.NoError(t, f.quota.TryCharge(ctx, tenantID, now))

	_, err := f.router.Send(ctx, tenantID, "15559990000", "promo", now)
	_, ok := IsQuotaExceededError(err)
	require.True(t, ok, "expected QuotaExceededError, got %v", err)

	assert.Equal(t, 0, f.transport.count(), "refused send must not reach the transport")
	remaining, _ := f.quota.GetRemaining(ctx, tenantID, now)
	assert.Equal(t, 0, remaining, "refused send must not change usage")
}

func TestSend_TransportError(t *testing.T) {
	f := newRouterFixture(t, 10)
	ctx := context.Background()
	tenantID, _ := f.activeTenant(t)
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	f.transport.err = errors.New("connection reset")

	_, err := f.router.Send(ctx, tenantID, "15559990000", "promo", now)
	_, ok := IsTransportError(err)
	require.True(t, ok, "expected TransportError, got %v", err)

	// Charge-before-send: the failed non-free send consumed one unit.
	remaining, _ := f.quota.GetRemaining(ctx, tenantID, now)
	assert.Equal(t, 9, remaining)
}

func TestSend_TransportErrorInFreeWindowDoesNotCharge(t *testing.T) {
	f := newRouterFixture(t, 10)
	ctx := context.Background()
	tenantID, _ := f.activeTenant(t)
	customer := "15559990000"
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	f.windows.RecordCustomerMessage(ctx, tenantID, customer, now)
	f.transport.err = errors.New("connection reset")

	_, err := f.router.Send(ctx, tenantID, customer, "thanks", now.Add(time.Second))
	_, ok := IsTransportError(err)
	require.True(t, ok)

	remaining, _ := f.quota.GetRemaining(ctx, tenantID, now)
	assert.Equal(t, 10, remaining, "free-window send must never charge")
}

func TestSend_UnknownTenant(t *testing.T) {
	f := newRouterFixture(t, 10)

	_, err := f.router.Send(context.Background(), uuid.New(), "15559990000", "hi", time.Now().UTC())
	_, ok := IsNotFoundError(err)
	assert.True(t, ok, "expected NotFoundError, got %v", err)
}
