package webhooks

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"eduka-backend/internal/database"
	"eduka-backend/internal/dedupe"
	apperrors "eduka-backend/internal/errors"
	"eduka-backend/internal/metrics"
	"eduka-backend/internal/models"
	"eduka-backend/pkg/utils"
)

// HandleGatewayWebhook receives a payment notification on POST /webhook/:gateway.
// The path segment is only the mount point the gateway was configured with;
// the platform is always detected structurally from the payload itself.
func HandleGatewayWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Failed to read request body"})
		return
	}

	event := Normalize(raw)
	if event == nil {
		// Nothing parseable to log. Deliberate scope boundary: malformed JSON
		// leaves no audit trail.
		metrics.WebhookProcessed(models.PlatformUnknown, "malformed")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"code":    apperrors.ErrClientPayload.Code,
			"error":   "Invalid JSON payload",
		})
		return
	}

	if mount := c.Param("gateway"); mount != "" && mount != event.Platform {
		log.Printf("webhook: payload at /webhook/%s detected as platform %q", mount, event.Platform)
	}

	// Audit-first: the log row is written before any entitlement mutation.
	entry := models.WebhookLog{
		ExternalID:    uuid.NewString(),
		Platform:      event.Platform,
		EventType:     event.EventType,
		Status:        models.WebhookStatusReceived,
		CustomerEmail: event.CustomerEmail,
		CustomerName:  event.CustomerName,
		Amount:        event.Amount,
		PaymentMethod: event.PaymentMethod,
		TransactionID: event.PaymentID,
		ProductIDs:    models.StringArray(event.ProductCodes()),
		RawPayload:    models.JSON(raw),
	}
	if err := database.DB.Create(&entry).Error; err != nil {
		utils.HandleError(err, "webhooks.HandleGatewayWebhook: create log")
		metrics.WebhookProcessed(event.Platform, "store_error")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to record webhook"})
		return
	}

	status, code, body := processEvent(database.DB, event, &entry)
	metrics.WebhookProcessed(event.Platform, status)
	c.JSON(code, body)
}

// processEvent runs the normalized event through the guard and reconciler and
// finalizes the log entry. Shared by the live handler and admin reprocessing.
func processEvent(db *gorm.DB, event *NormalizedEvent, entry *models.WebhookLog) (outcome string, httpStatus int, body gin.H) {
	if event.Platform == models.PlatformUnknown {
		// Approval semantics cannot be determined; keep the row for forensics.
		finalizeLog(db, entry, models.WebhookStatusReceived, "unknown platform")
		return "unknown_platform", http.StatusOK, gin.H{
			"success":    true,
			"webhook_id": entry.ID,
			"message":    "Webhook registrado; plataforma desconhecida",
		}
	}

	if !event.Approved {
		// Only approved events ever grant access.
		finalizeLog(db, entry, models.WebhookStatusPending, "evento nao aprovado: "+event.EventType)
		return "not_approved", http.StatusOK, gin.H{
			"success":    true,
			"webhook_id": entry.ID,
			"message":    "Evento registrado sem liberacao de acesso",
		}
	}

	if event.CustomerEmail == "" || event.PaymentID == "" || len(event.LineItems) == 0 {
		finalizeLog(db, entry, models.WebhookStatusFailed, "campos obrigatorios ausentes no evento aprovado")
		return "invalid", http.StatusBadRequest, gin.H{
			"success":    false,
			"webhook_id": entry.ID,
			"code":       apperrors.ErrClientPayload.Code,
			"error":      "Missing required fields for approved event",
		}
	}

	// Best-effort fast path for gateway retry storms. The DB unique constraint
	// remains the correctness backstop when Redis is absent or cold.
	if dedupe.GlobalManager != nil && dedupe.GlobalManager.Seen(event.PaymentID) {
		finalizeLog(db, entry, models.WebhookStatusSuccess, "duplicate")
		return "duplicate", http.StatusOK, duplicateResponse(entry.ID)
	}

	result, err := ProcessEvent(db, event, entry.ID)
	if err != nil {
		utils.HandleError(err, "webhooks.processEvent: reconcile")
		finalizeLog(db, entry, models.WebhookStatusError, err.Error())
		return "store_error", http.StatusInternalServerError, gin.H{
			"success":    false,
			"webhook_id": entry.ID,
			"error":      "Internal error processing webhook",
		}
	}

	if result.Duplicate {
		finalizeLog(db, entry, models.WebhookStatusSuccess, result.Notes())
		markProcessed(event.PaymentID)
		return "duplicate", http.StatusOK, duplicateResponse(entry.ID)
	}

	notes := result.Notes()
	if result.Succeeded > 0 {
		// Partial success is a success at the log level: re-delivery would be
		// dropped as a duplicate anyway, so the gateway must not retry.
		finalizeLog(db, entry, models.WebhookStatusSuccess, notes)
		markProcessed(event.PaymentID)
		return "success", http.StatusOK, gin.H{
			"success":    true,
			"webhook_id": entry.ID,
			"message":    notes,
		}
	}

	finalizeLog(db, entry, models.WebhookStatusFailed, notes)
	return "failed", http.StatusOK, gin.H{
		"success":    true,
		"webhook_id": entry.ID,
		"message":    notes,
	}
}

// Reprocess re-runs a stored webhook through the same pipeline. Used by the
// admin surface; idempotency applies exactly as for a fresh delivery.
func Reprocess(db *gorm.DB, entry *models.WebhookLog) (int, gin.H) {
	event := Normalize([]byte(entry.RawPayload))
	if event == nil {
		return http.StatusBadRequest, gin.H{"success": false, "error": "Stored payload is not valid JSON"}
	}
	_, code, body := processEvent(db, event, entry)
	return code, body
}

func duplicateResponse(webhookID uint) gin.H {
	return gin.H{
		"success":    true,
		"webhook_id": webhookID,
		"code":       apperrors.ErrDuplicateDelivery.Code,
		"message":    "Pagamento ja processado (entrega duplicada)",
		"duplicate":  true,
	}
}

// finalizeLog advances the audit row's status. Best-effort: a failed update
// must not turn a processed webhook into a gateway retry.
func finalizeLog(db *gorm.DB, entry *models.WebhookLog, status, notes string) {
	now := time.Now()
	patch := map[string]interface{}{
		"status":       status,
		"notes":        notes,
		"processed_at": &now,
	}
	if err := db.Model(entry).Updates(patch).Error; err != nil {
		log.Printf("webhook %d: failed to finalize log: %v", entry.ID, err)
	}
}

func markProcessed(paymentID string) {
	if dedupe.GlobalManager != nil {
		dedupe.GlobalManager.MarkProcessed(paymentID)
	}
}
