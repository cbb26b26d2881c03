package notifications

import (
	"gorm.io/gorm"

	"eduka-backend/internal/models"
)

// Create persists a notification for a user. Used by the expiration sweeper
// and any other subsystem that needs to reach a user asynchronously.
func Create(db *gorm.DB, userID uint, notificationType, title, message string, metadata models.JSON) error {
	notification := models.Notification{
		UserID:   userID,
		Type:     notificationType,
		Title:    title,
		Message:  message,
		Metadata: metadata,
	}
	return db.Create(&notification).Error
}
