package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"messaging-gateway-service/internal/events"
	"messaging-gateway-service/internal/models"
	gatewayRedis "messaging-gateway-service/internal/redis"
	"messaging-gateway-service/internal/repository"
)

const setupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O, 1/I

// RegistryService maps gateway-assigned phone-number identifiers to tenants.
// Lookups go local map -> Redis -> PostgreSQL; writes invalidate both caches.
type RegistryService struct {
	tenants repository.TenantStore
	cache   *gatewayRedis.Client // optional, nil disables the shared cache
	events  *events.Publisher    // optional, nil disables event publishing
	logger  *logrus.Entry

	// read-through cache keyed by phone-number identifier, the webhook hot path
	local sync.Map // string -> *models.Tenant
}

// NewRegistryService creates a new tenant registry service
func NewRegistryService(tenants repository.TenantStore, cache *gatewayRedis.Client, eventPublisher *events.Publisher, logger *logrus.Logger) *RegistryService {
	return &RegistryService{
		tenants: tenants,
		cache:   cache,
		events:  eventPublisher,
		logger:  logger.WithField("component", "registry"),
	}
}

// RegisterTenant creates a tenant in pending state with a one-time setup
// code. The code is the bearer credential for the provisioning step, so it
// comes from crypto/rand, never a counter.
func (s *RegistryService) RegisterTenant(ctx context.Context, businessName, aiConfigRef string) (*models.Tenant, error) {
	if strings.TrimSpace(businessName) == "" {
		return nil, fmt.Errorf("business name is required")
	}

	setupCode, err := generateSetupCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate setup code: %w", err)
	}

	tenant := &models.Tenant{
		ID:           uuid.New(),
		BusinessName: strings.TrimSpace(businessName),
		Status:       models.TenantStatusPending,
		SetupCode:    setupCode,
		AIConfigRef:  aiConfigRef,
	}

	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":     tenant.ID,
		"business_name": tenant.BusinessName,
	}).Info("tenant registered")

	if s.events != nil {
		if err := s.events.PublishTenantCreated(ctx, tenant); err != nil {
			s.logger.WithError(err).Warn("failed to publish tenant.created event")
		}
	}

	return tenant, nil
}

// AttachPhoneNumber claims a phone number for the tenant identified by the
// setup code and returns the freshly generated phone-number identifier that
// becomes the routing key for all future inbound webhooks.
func (s *RegistryService) AttachPhoneNumber(ctx context.Context, setupCode, phoneNumber, displayName string) (string, error) {
	code := normalizeSetupCode(setupCode)

	tenant, err := s.tenants.GetBySetupCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", NewNotFoundError("setup code", setupCode)
		}
		return "", err
	}

	if tenant.PhoneNumberID != nil {
		return "", &AlreadyClaimedError{TenantID: tenant.ID.String()}
	}

	phoneNumberID, err := s.assignPhoneNumber(ctx, tenant, phoneNumber, displayName)
	if err != nil {
		return "", err
	}
	return phoneNumberID, nil
}

// AttachProvisionedNumber attaches a number obtained through the QR session
// path directly by tenant id. Idempotent for an already-active tenant.
func (s *RegistryService) AttachProvisionedNumber(ctx context.Context, tenantID uuid.UUID, phoneNumber string) (string, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", NewNotFoundError("tenant", tenantID.String())
		}
		return "", err
	}

	if tenant.PhoneNumberID != nil {
		return *tenant.PhoneNumberID, nil
	}

	return s.assignPhoneNumber(ctx, tenant, phoneNumber, tenant.BusinessName)
}

func (s *RegistryService) assignPhoneNumber(ctx context.Context, tenant *models.Tenant, phoneNumber, displayName string) (string, error) {
	phoneNumberID, err := generatePhoneNumberID()
	if err != nil {
		return "", fmt.Errorf("failed to generate phone number id: %w", err)
	}

	tenant.PhoneNumberID = &phoneNumberID
	tenant.PhoneNumber = phoneNumber
	tenant.DisplayName = displayName
	tenant.Status = models.TenantStatusActive

	if err := s.tenants.Update(ctx, tenant); err != nil {
		return "", err
	}

	s.local.Store(phoneNumberID, tenant)
	if s.cache != nil {
		if err := s.cache.SetTenant(ctx, tenant); err != nil {
			s.logger.WithError(err).Warn("failed to cache tenant after attach")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":       tenant.ID,
		"phone_number_id": phoneNumberID,
	}).Info("phone number attached, tenant active")

	if s.events != nil {
		if err := s.events.PublishTenantActivated(ctx, tenant); err != nil {
			s.logger.WithError(err).Warn("failed to publish tenant.activated event")
		}
	}

	return phoneNumberID, nil
}

// ResolveByPhoneNumberID resolves the tenant owning a phone-number
// identifier. Called on every inbound webhook.
func (s *RegistryService) ResolveByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Tenant, error) {
	if cached, ok := s.local.Load(phoneNumberID); ok {
		return cached.(*models.Tenant), nil
	}

	if s.cache != nil {
		tenant, err := s.cache.GetTenantByPhoneNumberID(ctx, phoneNumberID)
		if err == nil {
			s.local.Store(phoneNumberID, tenant)
			return tenant, nil
		}
		if !errors.Is(err, gatewayRedis.ErrCacheMiss) {
			s.logger.WithError(err).Warn("tenant cache read failed, falling back to database")
		}
	}

	tenant, err := s.tenants.GetByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("tenant", phoneNumberID)
		}
		return nil, err
	}

	s.local.Store(phoneNumberID, tenant)
	if s.cache != nil {
		if err := s.cache.SetTenant(ctx, tenant); err != nil {
			s.logger.WithError(err).Warn("failed to populate tenant cache")
		}
	}
	return tenant, nil
}

// GetTenant retrieves a tenant by id for the admin surface
func (s *RegistryService) GetTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("tenant", tenantID.String())
		}
		return nil, err
	}
	return tenant, nil
}

// DisableTenant soft-disables a tenant. The record is kept to preserve
// message-history integrity; routing stops immediately.
func (s *RegistryService) DisableTenant(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NewNotFoundError("tenant", tenantID.String())
		}
		return err
	}

	tenant.Status = models.TenantStatusDisabled
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return err
	}

	if tenant.PhoneNumberID != nil {
		s.local.Delete(*tenant.PhoneNumberID)
		if s.cache != nil {
			if err := s.cache.InvalidateTenant(ctx, *tenant.PhoneNumberID); err != nil {
				s.logger.WithError(err).Warn("failed to invalidate tenant cache")
			}
		}
	}

	s.logger.WithField("tenant_id", tenantID).Info("tenant disabled")
	return nil
}

// generateSetupCode returns a human-presentable high-entropy code in the
// form XXXX-XXXX.
func generateSetupCode() (string, error) {
	chars := make([]byte, 8)
	for i := range chars {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(setupCodeCharset))))
		if err != nil {
			return "", err
		}
		chars[i] = setupCodeCharset[n.Int64()]
	}
	return string(chars[:4]) + "-" + string(chars[4:]), nil
}

// generatePhoneNumberID returns an opaque 15-digit routing identifier in the
// style of provider-assigned phone-number ids.
func generatePhoneNumberID() (string, error) {
	var b strings.Builder
	for i := 0; i < 15; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%d", n.Int64())
	}
	return b.String(), nil
}

// normalizeSetupCode strips spaces and dashes and upcases so codes survive
// being read over the phone, then restores the canonical XXXX-XXXX form.
func normalizeSetupCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ToUpper(code)
	if len(code) == 8 {
		code = code[:4] + "-" + code[4:]
	}
	return code
}
