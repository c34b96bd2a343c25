package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-gateway-service/internal/models"
	"messaging-gateway-service/internal/services"
)

// WebhookHandler handles the provider webhook surface
type WebhookHandler struct {
	router *services.RouterService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(router *services.RouterService) *WebhookHandler {
	return &WebhookHandler{router: router}
}

// Verify handles the one-time subscribe handshake (GET /webhook).
// Echoes hub.challenge on success; rejects silently with no body otherwise.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	echoed, ok := h.router.VerifyWebhook(mode, token, challenge)
	if !ok {
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, echoed)
}

// Receive handles webhook deliveries (POST /webhook). Always answers 200
// for parsable payloads: the sender retries on its own schedule and routing
// failures are handled internally.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload models.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid webhook payload", err)
		return
	}

	h.router.HandleInbound(c.Request.Context(), &payload)
	c.Status(http.StatusOK)
}
