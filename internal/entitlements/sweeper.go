package entitlements

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"eduka-backend/internal/metrics"
	"eduka-backend/internal/models"
	"eduka-backend/internal/notifications"
)

// SweepResult reports what one sweeper run changed.
type SweepResult struct {
	ExpiredCount         int      `json:"expired_count"`
	NotificationsCreated int      `json:"notifications_created"`
	PendingPlansExpired  int      `json:"pending_plans_expired"`
	Errors               []string `json:"errors,omitempty"`
}

// Sweep transitions subscriptions and pending plans past their end date to
// expired and notifies the affected users. Each row is handled independently
// and best-effort: the job re-runs on a fixed interval and re-setting expired
// on an already-expired row is a no-op, so overlapping or partial runs are
// safe without locking.
func Sweep(db *gorm.DB, now time.Time) SweepResult {
	result := SweepResult{}

	var due []models.UserSubscription
	if err := db.Where("status = ? AND end_date IS NOT NULL AND end_date < ?", models.SubscriptionActive, now).
		Find(&due).Error; err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list due subscriptions: %v", err))
		return result
	}

	for _, sub := range due {
		if err := db.Model(&models.UserSubscription{}).Where("id = ?", sub.ID).
			Update("status", models.SubscriptionExpired).Error; err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("expire subscription %d: %v", sub.ID, err))
			continue
		}
		result.ExpiredCount++

		// Clear the active-plan pointer only if it still points at this plan.
		if err := db.Model(&models.User{}).
			Where("id = ? AND active_plan_id = ?", sub.UserID, sub.PlanID).
			Updates(map[string]interface{}{"active_plan_id": nil, "plano_ativo": 0}).Error; err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("clear active plan for user %d: %v", sub.UserID, err))
		}

		if err := notifications.Create(db, sub.UserID, "plan_expired", "Plano expirado",
			"Seu plano expirou. Renove para continuar acessando o conteudo.", nil); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("notify user %d: %v", sub.UserID, err))
			continue
		}
		result.NotificationsCreated++
	}

	var duePending []models.PendingPlan
	if err := db.Where("status = ? AND end_date IS NOT NULL AND end_date < ?", models.PendingPlanPending, now).
		Find(&duePending).Error; err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list due pending plans: %v", err))
		return result
	}

	// No notification here: there is no account to notify yet.
	for _, pending := range duePending {
		if err := db.Model(&models.PendingPlan{}).Where("id = ?", pending.ID).
			Update("status", models.PendingPlanExpired).Error; err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("expire pending plan %d: %v", pending.ID, err))
			continue
		}
		result.PendingPlansExpired++
	}

	metrics.SweepCompleted(result.ExpiredCount, result.PendingPlansExpired)
	log.Printf("sweep: %d subscription(s) expired, %d pending plan(s) expired, %d notification(s) created",
		result.ExpiredCount, result.PendingPlansExpired, result.NotificationsCreated)
	return result
}
