package services

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"messaging-gateway-service/internal/config"
	"messaging-gateway-service/internal/metrics"
)

// SessionState is the QR connection lifecycle state
type SessionState string

// Session states
const (
	StateDisconnected SessionState = "disconnected"
	StateInitializing SessionState = "initializing"
	StateQRReady      SessionState = "qr_ready"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
)

// StatusListener observes session state transitions. Listeners are invoked
// synchronously after the transition commits and must not call back into
// the session service from the same goroutine.
type StatusListener func(tenantID uuid.UUID, previous, current SessionState, phoneNumber string)

// SessionStatus is the read-only view of a session
type SessionStatus struct {
	State       SessionState `json:"state"`
	QRPayload   string       `json:"qr_payload,omitempty"`
	PhoneNumber string       `json:"phone_number,omitempty"`
}

// session holds the live state for one tenant's QR connection. Sessions are
// in-memory only; a restart drops them back to disconnected, which is safe
// because the QR pairing flow is restartable from scratch.
type session struct {
	state       SessionState
	nonce       string
	qrPayload   string // base64 PNG, populated only in qr_ready
	phoneNumber string
	epoch       uint64 // bumped on every transition to invalidate stale timers
	scanTimer   *time.Timer
	pairTimer   *time.Timer
}

// SessionService drives the QR connection lifecycle per tenant:
// disconnected -> initializing -> qr_ready -> connecting -> connected,
// with destroy returning to disconnected from any state.
//
// Leaving qr_ready requires ConfirmPairing with the nonce encoded in the
// QR code; with SimulateScan enabled the service confirms its own nonce
// after a fixed delay, standing in for the device scan in development.
type SessionService struct {
	cfg     config.SessionConfig
	metrics *metrics.Metrics // optional
	logger  *logrus.Entry

	mu        sync.Mutex
	sessions  map[uuid.UUID]*session
	listeners []StatusListener

	notifications chan statusNotification
	done          chan struct{}
}

type statusNotification struct {
	tenantID    uuid.UUID
	previous    SessionState
	current     SessionState
	phoneNumber string
}

// NewSessionService creates a new session lifecycle manager
func NewSessionService(cfg config.SessionConfig, m *metrics.Metrics, logger *logrus.Logger) *SessionService {
	s := &SessionService{
		cfg:           cfg,
		metrics:       m,
		logger:        logger.WithField("component", "session"),
		sessions:      make(map[uuid.UUID]*session),
		notifications: make(chan statusNotification, 64),
		done:          make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// dispatch delivers status notifications to listeners in transition order,
// outside the session lock so listeners may query session state.
func (s *SessionService) dispatch() {
	for {
		select {
		case n := <-s.notifications:
			s.mu.Lock()
			listeners := make([]StatusListener, len(s.listeners))
			copy(listeners, s.listeners)
			s.mu.Unlock()

			for _, listener := range listeners {
				listener(n.tenantID, n.previous, n.current, n.phoneNumber)
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the notification dispatcher
func (s *SessionService) Close() {
	close(s.done)
}

// Subscribe registers a status listener. Call during wiring, before the
// service starts receiving traffic.
func (s *SessionService) Subscribe(listener StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// InitializeSession starts the QR pairing flow for a tenant. Valid only
// from disconnected; any live session must be destroyed first.
func (s *SessionService) InitializeSession(tenantID uuid.UUID) (*SessionStatus, error) {
	s.mu.Lock()

	sess, exists := s.sessions[tenantID]
	if exists && sess.state != StateDisconnected {
		state := sess.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: initialize from %s", ErrInvalidTransition, state)
	}

	sess = &session{state: StateInitializing}
	s.sessions[tenantID] = sess
	s.transitionLocked(tenantID, sess, StateDisconnected, StateInitializing)

	nonce, err := generateNonce()
	if err != nil {
		delete(s.sessions, tenantID)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to generate pairing nonce: %w", err)
	}

	content := fmt.Sprintf("gateway://pair?tenant=%s&nonce=%s", tenantID, nonce)
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		delete(s.sessions, tenantID)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	sess.nonce = nonce
	sess.qrPayload = base64.StdEncoding.EncodeToString(png)
	s.transitionLocked(tenantID, sess, StateInitializing, StateQRReady)

	if s.cfg.SimulateScan {
		epoch := sess.epoch
		sess.scanTimer = time.AfterFunc(s.cfg.ScanDelay, func() {
			s.simulateScan(tenantID, epoch, nonce)
		})
	}

	status := statusOf(sess)
	s.mu.Unlock()
	return status, nil
}

// ConfirmPairing advances a session out of qr_ready on an authenticated
// pairing confirmation. The nonce must match the one encoded in the issued
// QR code; anything else is rejected.
func (s *SessionService) ConfirmPairing(tenantID uuid.UUID, nonce string) error {
	s.mu.Lock()

	sess, exists := s.sessions[tenantID]
	if !exists || sess.state != StateQRReady {
		s.mu.Unlock()
		return fmt.Errorf("%w: no session awaiting pairing", ErrPairingRejected)
	}
	if nonce == "" || nonce != sess.nonce {
		s.mu.Unlock()
		return ErrPairingRejected
	}

	if sess.scanTimer != nil {
		sess.scanTimer.Stop()
		sess.scanTimer = nil
	}
	sess.qrPayload = ""
	sess.nonce = ""
	s.transitionLocked(tenantID, sess, StateQRReady, StateConnecting)

	// Handshake completion is still simulated; a real transport would
	// complete it from the pairing callback.
	epoch := sess.epoch
	sess.pairTimer = time.AfterFunc(s.cfg.HandshakeDelay, func() {
		s.completeHandshake(tenantID, epoch)
	})

	s.mu.Unlock()
	return nil
}

// DestroySession disconnects a tenant's session from any state and cancels
// pending timers. Destroying an already-disconnected session is a no-op.
func (s *SessionService) DestroySession(tenantID uuid.UUID) {
	s.mu.Lock()

	sess, exists := s.sessions[tenantID]
	if !exists || sess.state == StateDisconnected {
		s.mu.Unlock()
		return
	}

	if sess.scanTimer != nil {
		sess.scanTimer.Stop()
	}
	if sess.pairTimer != nil {
		sess.pairTimer.Stop()
	}

	previous := sess.state
	sess.state = StateDisconnected
	sess.epoch++
	sess.qrPayload = ""
	sess.nonce = ""
	delete(s.sessions, tenantID)

	s.notifyLocked(tenantID, previous, StateDisconnected, "")
	s.countTransition(StateDisconnected)
	s.mu.Unlock()
}

// GetStatus returns the session status for a tenant. Tenants without a
// live session report disconnected.
func (s *SessionService) GetStatus(tenantID uuid.UUID) *SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[tenantID]
	if !exists {
		return &SessionStatus{State: StateDisconnected}
	}
	return statusOf(sess)
}

// simulateScan confirms the service's own nonce, modeling the human scan.
func (s *SessionService) simulateScan(tenantID uuid.UUID, epoch uint64, nonce string) {
	s.mu.Lock()
	sess, exists := s.sessions[tenantID]
	if !exists || sess.epoch != epoch || sess.state != StateQRReady {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.ConfirmPairing(tenantID, nonce); err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID).Debug("simulated scan rejected")
	}
}

func (s *SessionService) completeHandshake(tenantID uuid.UUID, epoch uint64) {
	s.mu.Lock()

	sess, exists := s.sessions[tenantID]
	if !exists || sess.epoch != epoch || sess.state != StateConnecting {
		// A destroy raced the timer; the session is gone.
		s.mu.Unlock()
		return
	}

	phoneNumber, err := generateSimulatedPhoneNumber()
	if err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID).Error("failed to assign session phone number")
		phoneNumber = ""
	}
	sess.phoneNumber = phoneNumber
	s.transitionLocked(tenantID, sess, StateConnecting, StateConnected)
	s.mu.Unlock()
}

// transitionLocked commits a transition and notifies listeners.
// Caller holds s.mu.
func (s *SessionService) transitionLocked(tenantID uuid.UUID, sess *session, previous, current SessionState) {
	sess.state = current
	sess.epoch++
	s.notifyLocked(tenantID, previous, current, sess.phoneNumber)
	s.countTransition(current)
}

func (s *SessionService) notifyLocked(tenantID uuid.UUID, previous, current SessionState, phoneNumber string) {
	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"from":      previous,
		"to":        current,
	}).Info("session state changed")

	select {
	case s.notifications <- statusNotification{tenantID: tenantID, previous: previous, current: current, phoneNumber: phoneNumber}:
	default:
		s.logger.Warn("status notification dropped, listener backlog full")
	}
}

func (s *SessionService) countTransition(state SessionState) {
	if s.metrics != nil {
		s.metrics.SessionChanges.WithLabelValues(string(state)).Inc()
	}
}

func statusOf(sess *session) *SessionStatus {
	status := &SessionStatus{State: sess.state}
	if sess.state == StateQRReady {
		status.QRPayload = sess.qrPayload
	}
	if sess.state == StateConnected {
		status.PhoneNumber = sess.phoneNumber
	}
	return status
}

// generateNonce returns a tenant-scoped pairing nonce
func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// generateSimulatedPhoneNumber fabricates a number for the simulated
// pairing path; no real device exists to report one.
func generateSimulatedPhoneNumber() (string, error) {
	var digits [7]byte
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return "+1555" + string(digits[:]), nil
}
