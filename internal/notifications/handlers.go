package notifications

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"eduka-backend/internal/database"
	"eduka-backend/internal/models"
)

// HandleListNotifications returns the user's recent notifications
func HandleListNotifications(c *gin.Context) {
	userID := c.GetUint("user_id")

	var notifications []models.Notification
	if err := database.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(50).
		Find(&notifications).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch notifications"})
		return
	}

	var unread int64
	database.DB.Model(&models.Notification{}).Where("user_id = ? AND read = ?", userID, false).Count(&unread)

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"total":         len(notifications),
		"unread":        unread,
	})
}

// HandleMarkNotificationRead marks one notification as read
func HandleMarkNotificationRead(c *gin.Context) {
	userID := c.GetUint("user_id")
	id := c.Param("id")

	var notification models.Notification
	if err := database.DB.Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch notification"})
		}
		return
	}

	if err := database.DB.Model(&notification).Update("read", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notification"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

// HandleMarkAllRead marks all of the user's notifications as read
func HandleMarkAllRead(c *gin.Context) {
	userID := c.GetUint("user_id")

	result := database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Notifications marked as read",
		"updated": result.RowsAffected,
	})
}
