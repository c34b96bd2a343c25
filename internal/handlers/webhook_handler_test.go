package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-gateway-service/internal/models"
	"messaging-gateway-service/internal/repository"
	"messaging-gateway-service/internal/services"
)

const testVerifyToken = "test_verify_token"

// memTenantStore is an in-memory TenantStore for handler tests
type memTenantStore struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]models.Tenant
}

func newMemTenantStore() *memTenantStore {
	return &memTenantStore{tenants: make(map[uuid.UUID]models.Tenant)}
}

func (s *memTenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	s.tenants[tenant.ID] = *tenant
	return nil
}

func (s *memTenantStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[id]; ok {
		copied := t
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memTenantStore) GetBySetupCode(ctx context.Context, setupCode string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.SetupCode == setupCode {
			copied := t
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memTenantStore) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.PhoneNumberID != nil && *t.PhoneNumberID == phoneNumberID {
			copied := t
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memTenantStore) Update(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = *tenant
	return nil
}

// recordingTransport counts outbound sends
type recordingTransport struct {
	mu    sync.Mutex
	sends int
}

func (t *recordingTransport) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends++
	return "wamid.test", nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sends
}

func newWebhookTestRouter(t *testing.T) (*gin.Engine, *recordingTransport, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := newMemTenantStore()
	registry := services.NewRegistryService(store, nil, nil, logger)
	windows := services.NewWindowService(nil, 24*time.Hour, logger)
	quota := services.NewQuotaService(nil, 100, logger)
	transport := &recordingTransport{}

	routerSvc := services.NewRouterService(
		registry,
		windows,
		quota,
		services.NewKeywordResponder(),
		transport,
		nil,
		nil,
		nil,
		testVerifyToken,
		logger,
	)

	ctx := context.Background()
	tenant, err := registry.RegisterTenant(ctx, "Acme Stores", "default")
	require.NoError(t, err)
	phoneNumberID, err := registry.AttachPhoneNumber(ctx, tenant.SetupCode, "+15551230000", "Acme")
	require.NoError(t, err)

	handler := NewWebhookHandler(routerSvc)
	engine := gin.New()
	engine.GET("/webhook", handler.Verify)
	engine.POST("/webhook", handler.Receive)

	return engine, transport, phoneNumberID
}

func TestWebhookVerify_EchoesChallenge(t *testing.T) {
	engine, _, _ := newWebhookTestRouter(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=4815162342", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4815162342", w.Body.String())
}

func TestWebhookVerify_RejectsBadToken(t *testing.T) {
	engine, _, _ := newWebhookTestRouter(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=4815162342", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWebhookReceive_RoutesMessage(t *testing.T) {
	engine, transport, phoneNumberID := newWebhookTestRouter(t)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"phone_number_id": "` + phoneNumberID + `"},
					"messages": [{
						"from": "15559990000",
						"id": "wamid.inbound",
						"timestamp": "1767225600",
						"type": "text",
						"text": {"body": "hello"}
					}]
				}
			}]
		}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, transport.count(), "inbound text should trigger one auto-reply")
}

func TestWebhookReceive_StatusCallbackAccepted(t *testing.T) {
	engine, transport, phoneNumberID := newWebhookTestRouter(t)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "` + phoneNumberID + `"},
					"statuses": [{"id": "wamid.x", "status": "delivered"}]
				}
			}]
		}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, transport.count())
}

func TestWebhookReceive_RejectsMalformedJSON(t *testing.T) {
	engine, transport, _ := newWebhookTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, transport.count())
}
