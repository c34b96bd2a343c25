package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"messaging-gateway-service/internal/clients"
	"messaging-gateway-service/internal/config"
	"messaging-gateway-service/internal/events"
	"messaging-gateway-service/internal/handlers"
	"messaging-gateway-service/internal/metrics"
	"messaging-gateway-service/internal/middleware"
	"messaging-gateway-service/internal/models"
	gatewayRedis "messaging-gateway-service/internal/redis"
	"messaging-gateway-service/internal/repository"
	"messaging-gateway-service/internal/services"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.New()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// Initialize database connection
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Auto-migrate models
	if err := autoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize Redis connection for the tenant resolution cache
	var redisClient *gatewayRedis.Client
	redisClient, err = gatewayRedis.NewClient(cfg.Redis)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		log.Println("Tenant resolution will use PostgreSQL only (no shared cache)")
		redisClient = nil
	} else {
		log.Println("Connected to Redis successfully")
		defer redisClient.Close()
	}

	// Initialize NATS connection for event publishing
	var eventPublisher *events.Publisher
	if cfg.NATS.URL != "" {
		eventPublisher, err = events.NewPublisher(cfg.NATS.URL, logger)
		if err != nil {
			log.Printf("Warning: Failed to connect to NATS: %v", err)
			log.Println("Event publishing will be disabled")
			eventPublisher = nil
		} else {
			defer eventPublisher.Close()
		}
	} else {
		log.Println("NATS_URL not set, event publishing disabled")
	}

	// Initialize metrics
	metricsCollector := metrics.New()

	// Initialize repositories
	tenantRepo := repository.NewTenantRepository(db)
	windowRepo := repository.NewWindowRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// Initialize services
	registrySvc := services.NewRegistryService(tenantRepo, redisClient, eventPublisher, logger)
	windowSvc := services.NewWindowService(windowRepo, cfg.Window.Duration, logger)
	quotaSvc := services.NewQuotaService(quotaRepo, cfg.Quota.DefaultAllowance, logger)
	responder := services.NewKeywordResponder()
	transport := clients.NewWhatsAppClient(cfg.WhatsApp)

	routerSvc := services.NewRouterService(
		registrySvc,
		windowSvc,
		quotaSvc,
		responder,
		transport,
		messageRepo,
		eventPublisher,
		metricsCollector,
		cfg.WhatsApp.VerifyToken,
		logger,
	)

	sessionSvc := services.NewSessionService(cfg.Session, metricsCollector, logger)
	defer sessionSvc.Close()

	// Session status observers: NATS fanout for dashboard consumers, and
	// tenant activation once the QR path reaches connected.
	sessionSvc.Subscribe(func(tenantID uuid.UUID, previous, current services.SessionState, phoneNumber string) {
		if eventPublisher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := eventPublisher.PublishSessionStatusChanged(ctx, tenantID, string(previous), string(current), phoneNumber); err != nil {
				logger.WithError(err).Warn("failed to publish session status event")
			}
		}
	})
	sessionSvc.Subscribe(func(tenantID uuid.UUID, previous, current services.SessionState, phoneNumber string) {
		if current != services.StateConnected || phoneNumber == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := registrySvc.AttachProvisionedNumber(ctx, tenantID, phoneNumber); err != nil {
			logger.WithError(err).WithField("tenant_id", tenantID).Warn("failed to attach session phone number")
		}
	})

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, eventPublisher)
	webhookHandler := handlers.NewWebhookHandler(routerSvc)
	adminHandler := handlers.NewAdminHandler(registrySvc, quotaSvc, routerSvc, sessionSvc, messageRepo)

	router := setupRouter(cfg, logger, metricsCollector, healthHandler, webhookHandler, adminHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting messaging-gateway-service on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func setupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	metricsCollector *metrics.Metrics,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	adminHandler *handlers.AdminHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(metricsCollector.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// Health endpoints (no auth required)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhook surface (authenticated by the verify-token handshake)
	router.GET("/webhook", webhookHandler.Verify)
	router.POST("/webhook", webhookHandler.Receive)

	// Administrative API consumed by the dashboard
	v1 := router.Group("/api/v1")
	v1.Use(middleware.APIKeyAuth(cfg.Security.AdminAPIKey))
	{
		v1.POST("/tenants", adminHandler.RegisterTenant)
		v1.POST("/tenants/attach-number", adminHandler.AttachPhoneNumber)
		v1.GET("/tenants/:tenantId", adminHandler.GetTenant)
		v1.DELETE("/tenants/:tenantId", adminHandler.DisableTenant)
		v1.GET("/tenants/:tenantId/quota", adminHandler.GetQuota)
		v1.PUT("/tenants/:tenantId/quota/allowance", adminHandler.UpdateAllowance)
		v1.POST("/tenants/:tenantId/messages", adminHandler.SendMessage)
		v1.GET("/tenants/:tenantId/messages", adminHandler.ListMessages)
		v1.POST("/tenants/:tenantId/session", adminHandler.InitSession)
		v1.GET("/tenants/:tenantId/session", adminHandler.GetSession)
		v1.POST("/tenants/:tenantId/session/confirm", adminHandler.ConfirmPairing)
		v1.DELETE("/tenants/:tenantId/session", adminHandler.DestroySession)
	}

	return router
}

func autoMigrate(db *gorm.DB) error {
	log.Println("Starting database migration...")

	modelsToMigrate := []interface{}{
		&models.Tenant{},
		&models.ConversationWindow{},
		&models.QuotaCounter{},
		&models.MessageRecord{},
	}

	for _, model := range modelsToMigrate {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	log.Println("Database migration completed successfully")
	return nil
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Connected to database successfully")
	return db, nil
}
