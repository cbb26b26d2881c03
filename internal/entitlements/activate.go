package entitlements

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"eduka-backend/internal/metrics"
	"eduka-backend/internal/models"
)

// ActivatePendingPlans converts every pending plan queued for the user's
// email into an active subscription. Called by the signup flow right after
// the account is created; safe to call again, since converted subscriptions
// collide on payment_id and the pending rows move out of "pending".
func ActivatePendingPlans(db *gorm.DB, user *models.User) (int, error) {
	email := strings.ToLower(strings.TrimSpace(user.Email))

	var pendings []models.PendingPlan
	if err := db.Where("email = ? AND status = ?", email, models.PendingPlanPending).
		Order("id ASC").Find(&pendings).Error; err != nil {
		return 0, fmt.Errorf("list pending plans: %w", err)
	}

	now := time.Now()
	activated := 0
	var lastPlanID uint

	for _, pending := range pendings {
		if pending.EndDate != nil && pending.EndDate.Before(now) {
			// Purchased window already over; nothing to grant.
			if err := db.Model(&models.PendingPlan{}).Where("id = ?", pending.ID).
				Update("status", models.PendingPlanExpired).Error; err != nil {
				log.Printf("activate: failed to expire stale pending plan %d: %v", pending.ID, err)
			}
			continue
		}

		sub := models.UserSubscription{
			UserID:     user.ID,
			PlanID:     pending.PlanID,
			Status:     models.SubscriptionActive,
			StartDate:  pending.StartDate,
			EndDate:    pending.EndDate,
			PaymentID:  pending.PaymentID,
			AmountPaid: pending.AmountPaid,
			WebhookID:  pending.WebhookID,
		}
		if err := db.Create(&sub).Error; err != nil {
			if !isDuplicateKey(err) {
				return activated, fmt.Errorf("activate pending plan %d: %w", pending.ID, err)
			}
			// Subscription already exists for this payment; just retire the row.
		}

		if err := db.Model(&models.PendingPlan{}).Where("id = ?", pending.ID).
			Update("status", models.PendingPlanActivated).Error; err != nil {
			log.Printf("activate: failed to mark pending plan %d activated: %v", pending.ID, err)
		}

		lastPlanID = pending.PlanID
		activated++
	}

	if activated > 0 {
		updates := map[string]interface{}{
			"active_plan_id": lastPlanID,
			"plano_ativo":    lastPlanID,
		}
		if err := db.Model(user).Updates(updates).Error; err != nil {
			log.Printf("activate: failed to update active plan for user %d: %v", user.ID, err)
		}
		metrics.PendingPlansActivated(activated)
	}

	return activated, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
