package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eduka-backend/internal/database"
	"eduka-backend/internal/models"
	"eduka-backend/internal/webhooks"
	"eduka-backend/pkg/utils"
)

// IsUserAdmin checks if the current user is an admin
func IsUserAdmin(c *gin.Context) bool {
	role := c.GetString("role")
	return role == "admin" || role == "superadmin"
}

// HandleListWebhookLogs returns webhook deliveries, newest first, with
// optional platform/status/email filters.
func HandleListWebhookLogs(c *gin.Context) {
	if !IsUserAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	query := database.DB.Model(&models.WebhookLog{})
	if platform := c.Query("platform"); platform != "" {
		query = query.Where("platform = ?", platform)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if email := c.Query("email"); email != "" {
		query = query.Where("customer_email = ?", email)
	}

	var total int64
	query.Count(&total)

	var logs []models.WebhookLog
	if err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		utils.HandleError(err, "admin.HandleListWebhookLogs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list webhook logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleGetWebhookLog returns a single delivery with its raw payload
func HandleGetWebhookLog(c *gin.Context) {
	if !IsUserAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}

	var entry models.WebhookLog
	if err := database.DB.First(&entry, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook log not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"log": entry})
}

// HandleReprocessWebhook re-runs a stored delivery through the pipeline.
// Safe to call on already-processed deliveries: the payment guard turns a
// second run into a duplicate.
func HandleReprocessWebhook(c *gin.Context) {
	if !IsUserAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}

	var entry models.WebhookLog
	if err := database.DB.First(&entry, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook log not found"})
		return
	}

	status, body := webhooks.Reprocess(database.DB, &entry)
	c.JSON(status, body)
}

// HandleGetAdminStats returns platform-wide counters
func HandleGetAdminStats(c *gin.Context) {
	if !IsUserAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}

	var totalUsers, activeSubscriptions, pendingPlans, webhookLogs, failedWebhooks int64
	database.DB.Model(&models.User{}).Count(&totalUsers)
	database.DB.Model(&models.UserSubscription{}).Where("status = ?", models.SubscriptionActive).Count(&activeSubscriptions)
	database.DB.Model(&models.PendingPlan{}).Where("status = ?", models.PendingPlanPending).Count(&pendingPlans)
	database.DB.Model(&models.WebhookLog{}).Count(&webhookLogs)
	database.DB.Model(&models.WebhookLog{}).Where("status IN ?", []string{models.WebhookStatusFailed, models.WebhookStatusError}).Count(&failedWebhooks)

	c.JSON(http.StatusOK, gin.H{
		"stats": gin.H{
			"total_users":          totalUsers,
			"active_subscriptions": activeSubscriptions,
			"pending_plans":        pendingPlans,
			"webhook_logs":         webhookLogs,
			"failed_webhooks":      failedWebhooks,
		},
	})
}
