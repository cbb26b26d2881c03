package entitlements

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"eduka-backend/internal/database"
	"eduka-backend/internal/models"
)

// HandleGetPlans returns the active plan catalog
func HandleGetPlans(c *gin.Context) {
	var plans []models.Plan
	if err := database.DB.Where("active = ?", true).Order("id ASC").Find(&plans).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch plans"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// HandleGetCurrentSubscription returns the user's most recent subscription
func HandleGetCurrentSubscription(c *gin.Context) {
	userID := c.GetUint("user_id")

	var subscription models.UserSubscription
	err := database.DB.Preload("Plan").Where("user_id = ?", userID).
		Order("id DESC").First(&subscription).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "No subscription found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch subscription"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": subscription})
}

// HandleGetSubscriptionHistory returns all of the user's subscriptions
func HandleGetSubscriptionHistory(c *gin.Context) {
	userID := c.GetUint("user_id")

	var subscriptions []models.UserSubscription
	if err := database.DB.Preload("Plan").Where("user_id = ?", userID).
		Order("id DESC").Find(&subscriptions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch subscriptions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subscriptions,
		"total":         len(subscriptions),
	})
}

// HandleTriggerSweep runs the expiration sweep. The endpoint is hit by the
// external cron scheduler and is guarded by a shared token instead of a user
// session.
func HandleTriggerSweep(c *gin.Context) {
	token := os.Getenv("SWEEP_TOKEN")
	if token == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sweep endpoint is not configured"})
		return
	}

	provided := strings.TrimSpace(c.GetHeader("X-Sweep-Token"))
	if provided == "" {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid sweep token"})
		return
	}

	result := Sweep(database.DB, time.Now())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}
