package webhooks

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "eduka-backend/internal/errors"
	"eduka-backend/internal/models"
)

// ItemOutcome records what happened to a single line item.
type ItemOutcome struct {
	ProductCode string `json:"product_code"`
	PlanID      uint   `json:"plan_id,omitempty"`
	Granted     bool   `json:"granted"`
	Pending     bool   `json:"pending"`
	Error       string `json:"error,omitempty"`
}

// Result summarizes reconciliation of one normalized event.
type Result struct {
	Duplicate bool          `json:"duplicate"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Outcomes  []ItemOutcome `json:"outcomes"`
}

// Notes renders the per-item outcomes into the log's notes field.
func (r *Result) Notes() string {
	if r.Duplicate {
		return "duplicate"
	}
	parts := []string{fmt.Sprintf("%d produto(s) processado(s) com sucesso", r.Succeeded)}
	for _, outcome := range r.Outcomes {
		if outcome.Error != "" {
			parts = append(parts, outcome.Error)
		}
	}
	return strings.Join(parts, "; ")
}

// PaymentExists reports whether a gateway payment id has already produced an
// entitlement row. Checked against both subscriptions and pending plans: this
// is the idempotency guard that makes at-least-once delivery safe.
func PaymentExists(db *gorm.DB, paymentID string) (bool, error) {
	var count int64
	if err := db.Model(&models.UserSubscription{}).Where("payment_id = ?", paymentID).Count(&count).Error; err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "check subscriptions for payment")
	}
	if count > 0 {
		return true, nil
	}
	if err := db.Model(&models.PendingPlan{}).Where("payment_id = ?", paymentID).Count(&count).Error; err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "check pending plans for payment")
	}
	return count > 0, nil
}

// ResolvePlan maps a gateway-specific product code to the internal plan whose
// mapping column for that platform matches.
func ResolvePlan(db *gorm.DB, platform, productCode string) (*models.Plan, error) {
	var column string
	switch platform {
	case models.PlatformVega:
		column = "vega_code"
	case models.PlatformGGCheckout:
		column = "ggcheckout_code"
	case models.PlatformAmploPay:
		column = "amplopay_code"
	default:
		return nil, apperrors.ErrUnknownPlatform
	}

	var plan models.Plan
	err := db.Where(fmt.Sprintf("%s = ? AND active = ?", column), productCode, true).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrUnmappedProduct.Code,
			fmt.Sprintf("Plano nao encontrado para %s", productCode))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "resolve plan")
	}
	return &plan, nil
}

// itemPaymentID derives the stored payment id for a line item. The first item
// uses the gateway id verbatim so retries always collide with it; additional
// items in multi-product payloads get an index suffix to satisfy the unique
// constraint while staying deterministic across redeliveries.
func itemPaymentID(paymentID string, index int) string {
	if index == 0 {
		return paymentID
	}
	return fmt.Sprintf("%s#%d", paymentID, index)
}

// isDuplicateKey reports whether an insert failed on the payment_id unique
// constraint. TranslateError covers the drivers we run; the string probes are
// a fallback for stores that bypass translation.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

// ProcessEvent applies the entitlement state machine to an approved,
// normalized event. Per line item: resolve the plan, then either activate a
// subscription for an existing user or queue a pending plan for the email.
// Line-item failures never abort sibling items.
func ProcessEvent(db *gorm.DB, event *NormalizedEvent, webhookID uint) (*Result, error) {
	result := &Result{}

	processed, err := PaymentExists(db, event.PaymentID)
	if err != nil {
		return nil, err
	}
	if processed {
		result.Duplicate = true
		return result, nil
	}

	now := time.Now()

	for i, item := range event.LineItems {
		outcome := ItemOutcome{ProductCode: item.ProductCode}

		plan, err := ResolvePlan(db, event.Platform, item.ProductCode)
		if err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) && appErr.Code == apperrors.ErrStoreUnavailable.Code {
				return nil, err
			}
			outcome.Error = err.Error()
			result.Failed++
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}
		outcome.PlanID = plan.ID

		var endDate *time.Time
		if plan.DurationDays != nil {
			end := now.AddDate(0, 0, *plan.DurationDays)
			endDate = &end
		}
		paymentID := itemPaymentID(event.PaymentID, i)

		var user models.User
		err = db.Where("email = ?", event.CustomerEmail).First(&user).Error
		switch {
		case err == nil:
			sub := models.UserSubscription{
				UserID:     user.ID,
				PlanID:     plan.ID,
				Status:     models.SubscriptionActive,
				StartDate:  now,
				EndDate:    endDate,
				PaymentID:  paymentID,
				AmountPaid: event.Amount,
				WebhookID:  &webhookID,
			}
			if err := db.Create(&sub).Error; err != nil {
				if isDuplicateKey(err) {
					// A concurrent delivery won the insert race. The payment is
					// fully handled by the winner; report duplicate, grant nothing.
					result.Duplicate = true
					return result, nil
				}
				return nil, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "create subscription")
			}

			updates := map[string]interface{}{
				"active_plan_id": plan.ID,
				"plano_ativo":    plan.ID,
			}
			if err := db.Model(&user).Updates(updates).Error; err != nil {
				log.Printf("webhook %d: failed to update active plan for user %d: %v", webhookID, user.ID, err)
			}
			outcome.Granted = true
			result.Succeeded++

		case errors.Is(err, gorm.ErrRecordNotFound):
			pending := models.PendingPlan{
				Email:      event.CustomerEmail,
				PlanID:     plan.ID,
				Status:     models.PendingPlanPending,
				StartDate:  now,
				EndDate:    endDate,
				PaymentID:  paymentID,
				AmountPaid: event.Amount,
				WebhookID:  &webhookID,
				Platform:   event.Platform,
			}
			if err := db.Create(&pending).Error; err != nil {
				if isDuplicateKey(err) {
					result.Duplicate = true
					return result, nil
				}
				return nil, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "create pending plan")
			}
			// Pending is a terminal success: the entitlement is secured and
			// activates when the buyer signs up.
			outcome.Granted = true
			outcome.Pending = true
			result.Succeeded++

		default:
			return nil, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "look up user")
		}

		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result, nil
}
