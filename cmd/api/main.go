package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"eduka-backend/internal/admin"
	"eduka-backend/internal/auth"
	"eduka-backend/internal/bootstrap"
	"eduka-backend/internal/config"
	"eduka-backend/internal/database"
	"eduka-backend/internal/dedupe"
	"eduka-backend/internal/entitlements"
	"eduka-backend/internal/health"
	"eduka-backend/internal/metrics"
	"eduka-backend/internal/middleware"
	"eduka-backend/internal/models"
	"eduka-backend/internal/notifications"
	"eduka-backend/internal/webhooks"
	"eduka-backend/pkg/utils"
)

func main() {
	log.Println("🚀 Starting Eduka API Server")
	startedAt := time.Now()

	// Initialize Sentry before other subsystems so we capture initialization errors
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		env := os.Getenv("SENTRY_ENVIRONMENT")
		release := os.Getenv("SENTRY_RELEASE")
		if release == "" {
			release = os.Getenv("GIT_COMMIT")
		}
		host, _ := os.Hostname()

		opts := sentry.ClientOptions{
			Dsn:         dsn,
			Environment: env,
			Release:     release,
		}
		if host != "" {
			opts.ServerName = host
		}

		if err := sentry.Init(opts); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("service", "eduka-backend")
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if database.DB != nil {
		log.Println("Running database migrations...")
		if err := database.RunMigrations(
			&models.User{},
			&models.Plan{},
			&models.WebhookLog{},
			&models.UserSubscription{},
			&models.PendingPlan{},
			&models.Notification{},
		); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("✅ Database migrations completed")
		bootstrap.Run(database.DB)
	}

	// Initialize auth + dedupe cache
	auth.InitJWT()
	dedupe.InitManager()

	// Start background tasks
	middleware.StartCleanup()
	startSweepTicker()

	// Set up router
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	}))
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	if os.Getenv("ENABLE_SENTRY_DEBUG_ENDPOINT") == "true" {
		router.GET("/internal/sentry-test", func(c *gin.Context) {
			const msg = "Sentry debug endpoint hit"
			utils.CaptureSentryError(c, nil, msg, nil)
			_ = sentry.Flush(2 * time.Second)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	// Gateway webhook routes get their own permissive CORS: deliveries come
	// from checkout platforms, not browsers. Registered before the strict
	// CORS middleware so OPTIONS preflights never hit the origin allowlist.
	webhookRoutes := router.Group("/webhook")
	webhookRoutes.Use(cors.New(middleware.WebhookCORSConfig()))
	webhookRoutes.Use(middleware.WebhookRateLimit())
	{
		webhookRoutes.POST("/:gateway", webhooks.HandleGatewayWebhook)
		// Preflights must match a route for the group's CORS config to run;
		// the middleware answers them before this handler is reached.
		webhookRoutes.OPTIONS("/:gateway", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
	}

	// CORS - MUST be first to handle OPTIONS requests
	router.Use(cors.New(middleware.SecureCORSConfig()))

	// Security middleware - after CORS
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(int64(config.GetEnvInt("MAX_REQUEST_SIZE", 1<<20))))
	router.Use(middleware.GeneralRateLimit())

	// Health + telemetry endpoints
	router.GET("/health", health.HandleHealthCheck)
	router.GET("/ready", health.HandleSystemReady)
	router.GET("/metrics", metrics.HandlePrometheusMetrics())

	// Internal sweep trigger for the cron job
	router.POST("/internal/sweep", entitlements.HandleTriggerSweep)

	// API routes
	api := router.Group("/api/v1")
	{
		// Public routes
		api.GET("/plans", entitlements.HandleGetPlans)

		// Public auth routes
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", middleware.LoginRateLimit(), auth.HandleLogin)
			authRoutes.POST("/register", middleware.RegisterRateLimit(), auth.HandleRegister)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(auth.Middleware(database.DB))
		{
			// Profile
			protected.GET("/profile", auth.HandleGetProfile)

			// Subscription
			protected.GET("/subscription", entitlements.HandleGetCurrentSubscription)
			protected.GET("/subscription/history", entitlements.HandleGetSubscriptionHistory)

			// Notifications
			protected.GET("/notifications", notifications.HandleListNotifications)
			protected.PUT("/notifications/:id/read", notifications.HandleMarkNotificationRead)
			protected.PUT("/notifications/read-all", notifications.HandleMarkAllRead)

			// System metrics (JSON view for dashboards)
			protected.GET("/metrics", metrics.HandleSystemMetrics)

			// Admin
			adminRoutes := protected.Group("/admin")
			adminRoutes.Use(auth.AdminMiddleware())
			{
				adminRoutes.GET("/stats", admin.HandleGetAdminStats)
				adminRoutes.GET("/webhooks", admin.HandleListWebhookLogs)
				adminRoutes.GET("/webhooks/:id", admin.HandleGetWebhookLog)
				adminRoutes.POST("/webhooks/:id/reprocess", admin.HandleReprocessWebhook)
			}
		}
	}

	// Status metrics endpoint (outside API group)
	router.GET("/status/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uptime":   time.Since(startedAt).Seconds(),
			"version":  "1.0.0",
			"status":   "healthy",
			"started":  startedAt,
			"database": database.DB != nil,
		})
	})

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("✅ Server starting on port %s", port)

	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// startSweepTicker runs the expiration sweep in-process when
// SWEEP_INTERVAL_HOURS is set. Deployments with an external cron hit
// POST /internal/sweep instead and leave this off.
func startSweepTicker() {
	hours := config.GetEnvInt("SWEEP_INTERVAL_HOURS", 0)
	if hours <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(hours) * time.Hour)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				utils.CaptureSentryPanic("main.startSweepTicker", r)
			}
		}()
		for range ticker.C {
			result := entitlements.Sweep(database.DB, time.Now())
			log.Printf("🧹 Sweep completed: %d subscriptions expired, %d pending plans expired, %d notifications",
				result.ExpiredCount, result.PendingPlansExpired, result.NotificationsCreated)
			if len(result.Errors) > 0 {
				log.Printf("⚠️  Sweep finished with %d errors", len(result.Errors))
			}
		}
	}()
}
