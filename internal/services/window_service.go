package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"messaging-gateway-service/internal/models"
	"messaging-gateway-service/internal/repository"
)

type windowKey struct {
	tenantID      uuid.UUID
	customerPhone string
}

// WindowService tracks the timestamp of the most recent customer-initiated
// message per (tenant, customer phone) and answers whether a reply is still
// inside the free conversation window.
//
// The in-memory map is authoritative; every update is written through to the
// store so windows survive restarts, and misses read through from the store.
// Stale entries are harmless since freshness is re-derived from the stored
// timestamp on every check, so there is no eviction sweep.
type WindowService struct {
	store    repository.WindowStore
	duration time.Duration
	logger   *logrus.Entry

	mu      sync.RWMutex
	windows map[windowKey]time.Time
}

// NewWindowService creates a new conversation window tracker
func NewWindowService(store repository.WindowStore, duration time.Duration, logger *logrus.Logger) *WindowService {
	return &WindowService{
		store:    store,
		duration: duration,
		logger:   logger.WithField("component", "window"),
		windows:  make(map[windowKey]time.Time),
	}
}

// RecordCustomerMessage records a customer-initiated message, opening or
// renewing the free window. Last write wins on wall-clock time: an
// out-of-order webhook delivery cannot regress a window already extended by
// a newer message.
func (s *WindowService) RecordCustomerMessage(ctx context.Context, tenantID uuid.UUID, customerPhone string, at time.Time) {
	key := windowKey{tenantID: tenantID, customerPhone: customerPhone}

	s.mu.Lock()
	if existing, ok := s.windows[key]; ok && existing.After(at) {
		s.mu.Unlock()
		return
	}
	s.windows[key] = at
	s.mu.Unlock()

	if s.store != nil {
		window := &models.ConversationWindow{
			TenantID:              tenantID,
			CustomerPhone:         customerPhone,
			LastCustomerMessageAt: at,
			UpdatedAt:             time.Now().UTC(),
		}
		if err := s.store.Upsert(ctx, window); err != nil {
			// Persistence is best-effort; the in-memory state already holds
			// the window and a lost row only risks charging a free reply
			// after a restart.
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id":      tenantID,
				"customer_phone": customerPhone,
			}).Warn("failed to persist conversation window")
		}
	}
}

// IsWithinFreeWindow reports whether a reply to the customer is still free.
// Absence of any customer-initiated message means every reply is
// quota-bearing, so an unknown pair returns false rather than an error.
func (s *WindowService) IsWithinFreeWindow(ctx context.Context, tenantID uuid.UUID, customerPhone string, now time.Time) bool {
	key := windowKey{tenantID: tenantID, customerPhone: customerPhone}

	s.mu.RLock()
	last, ok := s.windows[key]
	s.mu.RUnlock()

	if !ok && s.store != nil {
		window, err := s.store.Get(ctx, tenantID, customerPhone)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				s.logger.WithError(err).Warn("failed to read conversation window, treating as closed")
			}
			return false
		}
		last = window.LastCustomerMessageAt
		ok = true

		s.mu.Lock()
		if existing, cached := s.windows[key]; !cached || last.After(existing) {
			s.windows[key] = last
		} else {
			last = existing
		}
		s.mu.Unlock()
	}

	if !ok {
		return false
	}
	return now.Sub(last) <= s.duration
}
