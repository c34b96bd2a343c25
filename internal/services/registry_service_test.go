package services

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-gateway-service/internal/models"
	"messaging-gateway-service/internal/repository"
)

// fakeTenantStore is an in-memory TenantStore for tests
type fakeTenantStore struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*models.Tenant
}

func newFakeTenantStore() *fakeTenantStore {
	return &fakeTenantStore{tenants: make(map[uuid.UUID]*models.Tenant)}
}

func (f *fakeTenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *tenant
	f.tenants[tenant.ID] = &copied
	return nil
}

func (f *fakeTenantStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tenant, ok := f.tenants[id]; ok {
		copied := *tenant
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTenantStore) GetBySetupCode(ctx context.Context, setupCode string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tenant := range f.tenants {
		if tenant.SetupCode == setupCode {
			copied := *tenant
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTenantStore) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tenant := range f.tenants {
		if tenant.PhoneNumberID != nil && *tenant.PhoneNumberID == phoneNumberID {
			copied := *tenant
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTenantStore) Update(ctx context.Context, tenant *models.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *tenant
	f.tenants[tenant.ID] = &copied
	return nil
}

func newTestRegistry() (*RegistryService, *fakeTenantStore) {
	store := newFakeTenantStore()
	return NewRegistryService(store, nil, nil, newTestLogger()), store
}

func TestRegisterTenant(t *testing.T) {
	registry, _ := newTestRegistry()

	tenant, err := registry.RegisterTenant(context.Background(), "Acme Stores", "profile-1")
	require.NoError(t, err)

	assert.Equal(t, models.TenantStatusPending, tenant.Status)
	assert.Nil(t, tenant.PhoneNumberID)
	assert.Regexp(t, regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`), tenant.SetupCode)
}

func TestRegisterTenant_CodesAreUnique(t *testing.T) {
	registry, _ := newTestRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tenant, err := registry.RegisterTenant(context.Background(), "Acme", "")
		require.NoError(t, err)
		assert.False(t, seen[tenant.SetupCode], "setup code repeated: %s", tenant.SetupCode)
		seen[tenant.SetupCode] = true
	}
}

func TestAttachPhoneNumber(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	tenant, err := registry.RegisterTenant(ctx, "Acme Stores", "")
	require.NoError(t, err)

	phoneNumberID, err := registry.AttachPhoneNumber(ctx, tenant.SetupCode, "+15551234567", "Acme")
	require.NoError(t, err)
	assert.Len(t, phoneNumberID, 15)

	resolved, err := registry.ResolveByPhoneNumberID(ctx, phoneNumberID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, resolved.ID)
	assert.Equal(t, models.TenantStatusActive, resolved.Status)
}

func TestAttachPhoneNumber_NormalizesSetupCode(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	tenant, err := registry.RegisterTenant(ctx, "Acme Stores", "")
	require.NoError(t, err)

	// Codes are read over the phone; spacing and case must not matter.
	sloppy := " " + tenant.SetupCode[:4] + " " + tenant.SetupCode[5:] + " "
	_, err = registry.AttachPhoneNumber(ctx, sloppy, "+15551234567", "Acme")
	assert.NoError(t, err)
}

func TestAttachPhoneNumber_UnknownCode(t *testing.T) {
	registry, _ := newTestRegistry()

	_, err := registry.AttachPhoneNumber(context.Background(), "ZZZZ-2222", "+15551234567", "Acme")
	_, ok := IsNotFoundError(err)
	assert.True(t, ok, "expected NotFoundError, got %v", err)
}

func TestAttachPhoneNumber_AlreadyClaimed(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	tenant, err := registry.RegisterTenant(ctx, "Acme Stores", "")
	require.NoError(t, err)

	_, err = registry.AttachPhoneNumber(ctx, tenant.SetupCode, "+15551234567", "Acme")
	require.NoError(t, err)

	_, err = registry.AttachPhoneNumber(ctx, tenant.SetupCode, "+15559876543", "Acme Again")
	_, ok := IsAlreadyClaimedError(err)
	assert.True(t, ok, "expected AlreadyClaimedError, got %v", err)
}

func TestResolveByPhoneNumberID_Unknown(t *testing.T) {
	registry, _ := newTestRegistry()

	_, err := registry.ResolveByPhoneNumberID(context.Background(), "000000000000000")
	_, ok := IsNotFoundError(err)
	assert.True(t, ok, "expected NotFoundError, got %v", err)
}

func TestResolveByPhoneNumberID_ReturnsLatestAttachment(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	first, err := registry.RegisterTenant(ctx, "First", "")
	require.NoError(t, err)
	second, err := registry.RegisterTenant(ctx, "Second", "")
	require.NoError(t, err)

	firstID, err := registry.AttachPhoneNumber(ctx, first.SetupCode, "+15550000001", "First")
	require.NoError(t, err)
	secondID, err := registry.AttachPhoneNumber(ctx, second.SetupCode, "+15550000002", "Second")
	require.NoError(t, err)

	resolvedFirst, err := registry.ResolveByPhoneNumberID(ctx, firstID)
	require.NoError(t, err)
	resolvedSecond, err := registry.ResolveByPhoneNumberID(ctx, secondID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, resolvedFirst.ID)
	assert.Equal(t, second.ID, resolvedSecond.ID)
}

func TestDisableTenant_StopsRouting(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	tenant, err := registry.RegisterTenant(ctx, "Acme", "")
	require.NoError(t, err)
	phoneNumberID, err := registry.AttachPhoneNumber(ctx, tenant.SetupCode, "+15551234567", "Acme")
	require.NoError(t, err)

	require.NoError(t, registry.DisableTenant(ctx, tenant.ID))

	resolved, err := registry.ResolveByPhoneNumberID(ctx, phoneNumberID)
	// The record survives (soft-disable) but is no longer active.
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusDisabled, resolved.Status)
}

func TestAttachProvisionedNumber_Idempotent(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	tenant, err := registry.RegisterTenant(ctx, "Acme", "")
	require.NoError(t, err)

	firstID, err := registry.AttachProvisionedNumber(ctx, tenant.ID, "+15551112222")
	require.NoError(t, err)
	secondID, err := registry.AttachProvisionedNumber(ctx, tenant.ID, "+15553334444")
	require.NoError(t, err)

	assert.Equal(t, firstID, secondID, "second attach must keep the original identifier")
}
