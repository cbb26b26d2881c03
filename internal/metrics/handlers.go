package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eduka-backend/internal/database"
	"eduka-backend/internal/models"
)

var startTime = time.Now()

// HandleSystemMetrics returns system-level metrics
func HandleSystemMetrics(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Count resources
	var userCount, activeSubs, pendingPlans, webhookCount int64
	dbConnected := false
	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbConnected = true
			}
		}
		database.DB.Model(&models.User{}).Count(&userCount)
		database.DB.Model(&models.UserSubscription{}).Where("status = ?", models.SubscriptionActive).Count(&activeSubs)
		database.DB.Model(&models.PendingPlan{}).Where("status = ?", models.PendingPlanPending).Count(&pendingPlans)
		database.DB.Model(&models.WebhookLog{}).Count(&webhookCount)
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":     time.Since(startTime).Seconds(),
		"database_connected": dbConnected,
		"memory": gin.H{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"gc_runs":        m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
		"resources": gin.H{
			"users":                userCount,
			"active_subscriptions": activeSubs,
			"pending_plans":        pendingPlans,
			"webhook_logs":         webhookCount,
		},
		"timestamp": time.Now(),
	})
}

// HandlePrometheusMetrics exposes the Prometheus registry
func HandlePrometheusMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
