package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-gateway-service/internal/repository"
	"messaging-gateway-service/internal/services"
)

// AdminHandler exposes the administrative surface consumed by the dashboard
type AdminHandler struct {
	registry *services.RegistryService
	quota    *services.QuotaService
	router   *services.RouterService
	sessions *services.SessionService
	messages repository.MessageStore
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	registry *services.RegistryService,
	quota *services.QuotaService,
	router *services.RouterService,
	sessions *services.SessionService,
	messages repository.MessageStore,
) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		quota:    quota,
		router:   router,
		sessions: sessions,
		messages: messages,
	}
}

// RegisterTenantRequest represents a tenant registration request
type RegisterTenantRequest struct {
	BusinessName string `json:"business_name" binding:"required,min=2"`
	AIConfigRef  string `json:"ai_config_ref"`
}

// RegisterTenant creates a tenant in pending state and returns its setup code
func (h *AdminHandler) RegisterTenant(c *gin.Context) {
	var req RegisterTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	tenant, err := h.registry.RegisterTenant(c.Request.Context(), req.BusinessName, req.AIConfigRef)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to register tenant", err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "Tenant registered", gin.H{
		"tenant_id":  tenant.ID,
		"setup_code": tenant.SetupCode,
		"status":     tenant.Status,
	})
}

// AttachPhoneNumberRequest represents a phone number claim
type AttachPhoneNumberRequest struct {
	SetupCode   string `json:"setup_code" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	DisplayName string `json:"display_name"`
}

// AttachPhoneNumber claims a phone number using a setup code
func (h *AdminHandler) AttachPhoneNumber(c *gin.Context) {
	var req AttachPhoneNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	phoneNumberID, err := h.registry.AttachPhoneNumber(c.Request.Context(), req.SetupCode, req.PhoneNumber, req.DisplayName)
	if err != nil {
		if _, ok := services.IsNotFoundError(err); ok {
			ErrorResponse(c, http.StatusNotFound, "Unknown setup code", err)
			return
		}
		if _, ok := services.IsAlreadyClaimedError(err); ok {
			ErrorResponse(c, http.StatusConflict, "Tenant already has a phone number", err)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to attach phone number", err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Phone number attached", gin.H{
		"phone_number_id": phoneNumberID,
	})
}

// GetTenant returns a tenant by id
func (h *AdminHandler) GetTenant(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	tenant, err := h.registry.GetTenant(c.Request.Context(), tenantID)
	if err != nil {
		if _, notFound := services.IsNotFoundError(err); notFound {
			ErrorResponse(c, http.StatusNotFound, "Tenant not found", err)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get tenant", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Tenant", tenant)
}

// DisableTenant soft-disables a tenant
func (h *AdminHandler) DisableTenant(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	if err := h.registry.DisableTenant(c.Request.Context(), tenantID); err != nil {
		if _, notFound := services.IsNotFoundError(err); notFound {
			ErrorResponse(c, http.StatusNotFound, "Tenant not found", err)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to disable tenant", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Tenant disabled", nil)
}

// GetQuota returns the tenant's remaining free messages for the cycle
func (h *AdminHandler) GetQuota(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	remaining, err := h.quota.GetRemaining(c.Request.Context(), tenantID, time.Now().UTC())
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get quota", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Quota", gin.H{"remaining": remaining})
}

// UpdateAllowanceRequest represents a plan change
type UpdateAllowanceRequest struct {
	Allowance *int `json:"allowance" binding:"required"`
}

// UpdateAllowance changes the tenant's monthly allowance
func (h *AdminHandler) UpdateAllowance(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	var req UpdateAllowanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	if err := h.quota.UpdateAllowance(c.Request.Context(), tenantID, *req.Allowance, time.Now().UTC()); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Failed to update allowance", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Allowance updated", nil)
}

// SendMessageRequest represents a proactive outbound send
type SendMessageRequest struct {
	To   string `json:"to" binding:"required"`
	Body string `json:"body" binding:"required"`
}

// SendMessage dispatches a proactive message for a tenant
func (h *AdminHandler) SendMessage(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	messageID, err := h.router.Send(c.Request.Context(), tenantID, req.To, req.Body, time.Now().UTC())
	if err != nil {
		if _, notFound := services.IsNotFoundError(err); notFound {
			ErrorResponse(c, http.StatusNotFound, "Tenant not found", err)
			return
		}
		if _, exceeded := services.IsQuotaExceededError(err); exceeded {
			ErrorResponse(c, http.StatusPaymentRequired, "Monthly message quota exceeded", err)
			return
		}
		if _, transport := services.IsTransportError(err); transport {
			ErrorResponse(c, http.StatusBadGateway, "Message transport failed", err)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to send message", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Message sent", gin.H{"message_id": messageID})
}

// ListMessages returns recent message records for a tenant
func (h *AdminHandler) ListMessages(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	records, err := h.messages.ListRecent(c.Request.Context(), tenantID, limit)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list messages", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Messages", records)
}

// InitSession starts the QR pairing flow for a tenant
func (h *AdminHandler) InitSession(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	status, err := h.sessions.InitializeSession(tenantID)
	if err != nil {
		ErrorResponse(c, http.StatusConflict, "Session cannot be initialized from its current state", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Session initialized", status)
}

// GetSession returns the tenant's session status
func (h *AdminHandler) GetSession(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}
	SuccessResponse(c, http.StatusOK, "Session status", h.sessions.GetStatus(tenantID))
}

// ConfirmPairingRequest carries the nonce scanned from the QR code
type ConfirmPairingRequest struct {
	Nonce string `json:"nonce" binding:"required"`
}

// ConfirmPairing advances a session out of qr_ready with a scanned nonce
func (h *AdminHandler) ConfirmPairing(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	var req ConfirmPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	if err := h.sessions.ConfirmPairing(tenantID, req.Nonce); err != nil {
		ErrorResponse(c, http.StatusConflict, "Pairing rejected", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Pairing confirmed", nil)
}

// DestroySession disconnects the tenant's session
func (h *AdminHandler) DestroySession(c *gin.Context) {
	tenantID, ok := h.tenantIDParam(c)
	if !ok {
		return
	}

	h.sessions.DestroySession(tenantID)
	SuccessResponse(c, http.StatusOK, "Session destroyed", nil)
}

func (h *AdminHandler) tenantIDParam(c *gin.Context) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(c.Param("tenantId"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid tenant ID format", err)
		return uuid.Nil, false
	}
	return tenantID, true
}
