package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"messaging-gateway-service/internal/models"
	"messaging-gateway-service/internal/repository"
)

// tenantQuota serializes charges for one tenant. Tenants never share a
// lock, so cross-tenant throughput scales with hardware.
type tenantQuota struct {
	mu      sync.Mutex
	loaded  bool
	counter *models.QuotaCounter
}

// QuotaService tracks quota-bearing sends per tenant against a monthly
// allowance. Rollover is computed lazily at access time, so there are no
// background timers and the first access after a month boundary performs
// the catch-up even if the process was offline across it.
type QuotaService struct {
	store            repository.QuotaStore
	defaultAllowance int
	logger           *logrus.Entry

	counters sync.Map // uuid.UUID -> *tenantQuota
}

// NewQuotaService creates a new quota manager
func NewQuotaService(store repository.QuotaStore, defaultAllowance int, logger *logrus.Logger) *QuotaService {
	return &QuotaService{
		store:            store,
		defaultAllowance: defaultAllowance,
		logger:           logger.WithField("component", "quota"),
	}
}

// TryCharge atomically checks and increments the tenant's counter for a
// quota-bearing send. Returns QuotaExceededError once used >= allowance.
func (s *QuotaService) TryCharge(ctx context.Context, tenantID uuid.UUID, now time.Time) error {
	q := s.entry(tenantID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := s.ensureLoaded(ctx, q, tenantID, now); err != nil {
		return err
	}
	s.rollover(q.counter, now)

	if q.counter.Used >= q.counter.Allowance {
		return &QuotaExceededError{TenantID: tenantID.String(), Allowance: q.counter.Allowance}
	}

	q.counter.Used++
	s.persist(ctx, q.counter)
	return nil
}

// GetRemaining returns the tenant's remaining free messages for the current
// cycle, clamped at zero. Performs the same lazy rollover as TryCharge but
// never charges.
func (s *QuotaService) GetRemaining(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error) {
	q := s.entry(tenantID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := s.ensureLoaded(ctx, q, tenantID, now); err != nil {
		return 0, err
	}
	if s.rollover(q.counter, now) {
		s.persist(ctx, q.counter)
	}

	remaining := q.counter.Allowance - q.counter.Used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// UpdateAllowance changes the tenant's monthly allowance, e.g. after a plan
// upgrade. Takes effect immediately within the current cycle.
func (s *QuotaService) UpdateAllowance(ctx context.Context, tenantID uuid.UUID, allowance int, now time.Time) error {
	if allowance < 0 {
		return fmt.Errorf("allowance must not be negative")
	}

	q := s.entry(tenantID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := s.ensureLoaded(ctx, q, tenantID, now); err != nil {
		return err
	}
	s.rollover(q.counter, now)

	q.counter.Allowance = allowance
	s.persist(ctx, q.counter)
	return nil
}

func (s *QuotaService) entry(tenantID uuid.UUID) *tenantQuota {
	if q, ok := s.counters.Load(tenantID); ok {
		return q.(*tenantQuota)
	}
	q, _ := s.counters.LoadOrStore(tenantID, &tenantQuota{})
	return q.(*tenantQuota)
}

// ensureLoaded lazily hydrates the counter from the store; an unknown
// tenant starts a fresh cycle at the default allowance. Caller holds q.mu.
func (s *QuotaService) ensureLoaded(ctx context.Context, q *tenantQuota, tenantID uuid.UUID, now time.Time) error {
	if q.loaded {
		return nil
	}

	if s.store != nil {
		counter, err := s.store.Get(ctx, tenantID)
		if err == nil {
			q.counter = counter
			q.loaded = true
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	q.counter = &models.QuotaCounter{
		TenantID:   tenantID,
		Used:       0,
		Allowance:  s.defaultAllowance,
		CycleStart: firstOfMonth(now),
	}
	q.loaded = true
	return nil
}

// rollover resets the counter when the calendar month or year of now
// differs from the cycle start. Returns true if a reset happened.
// Caller holds q.mu.
func (s *QuotaService) rollover(counter *models.QuotaCounter, now time.Time) bool {
	nowUTC := now.UTC()
	start := counter.CycleStart.UTC()
	if nowUTC.Year() == start.Year() && nowUTC.Month() == start.Month() {
		return false
	}

	counter.Used = 0
	counter.CycleStart = firstOfMonth(now)
	return true
}

// persist writes the counter through to the store. Best-effort: the
// in-memory counter is authoritative for enforcement, a lost write only
// risks a slightly generous cap after a restart. Caller holds q.mu.
func (s *QuotaService) persist(ctx context.Context, counter *models.QuotaCounter) {
	if s.store == nil {
		return
	}
	counter.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(ctx, counter); err != nil {
		s.logger.WithError(err).WithField("tenant_id", counter.TenantID).Warn("failed to persist quota counter")
	}
}

func firstOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
