package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"messaging-gateway-service/internal/events"
)

var startTime = time.Now()

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db     *gorm.DB
	events *events.Publisher
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB, eventPublisher *events.Publisher) *HealthHandler {
	return &HealthHandler{db: db, events: eventPublisher}
}

// Health reports liveness
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "messaging-gateway-service",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports readiness including dependency checks
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			checks["database"] = gin.H{"status": "down", "message": err.Error()}
			healthy = false
		} else {
			checks["database"] = gin.H{"status": "up"}
		}
	}

	if h.events != nil {
		if h.events.IsConnected() {
			checks["nats"] = gin.H{"status": "up"}
		} else {
			// Events are best-effort; a NATS outage degrades but does not
			// fail readiness.
			checks["nats"] = gin.H{"status": "down"}
		}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
	})
}
