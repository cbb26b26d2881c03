package webhooks

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"eduka-backend/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.WebhookLog{},
		&models.UserSubscription{},
		&models.PendingPlan{},
		&models.Notification{},
	))
	return db
}

func intPtr(v int) *int { return &v }

func seedPlan(t *testing.T, db *gorm.DB, name string, durationDays *int) models.Plan {
	t.Helper()

	plan := models.Plan{
		Name:           name,
		DisplayName:    name,
		DurationDays:   durationDays,
		VegaCode:       "vega-" + name,
		GGCheckoutCode: "gg-" + name,
		AmploPayCode:   "amplopay-" + name,
		Active:         true,
	}
	require.NoError(t, db.Create(&plan).Error)
	return plan
}

func seedUser(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()

	user := models.User{Email: email, Password: "x", Role: "user", Active: true}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func approvedEvent(platform, email, paymentID string, codes ...string) *NormalizedEvent {
	event := &NormalizedEvent{
		Platform:      platform,
		EventType:     "approved",
		Approved:      true,
		CustomerEmail: email,
		Amount:        29.9,
		PaymentID:     paymentID,
	}
	for _, code := range codes {
		event.LineItems = append(event.LineItems, LineItem{ProductCode: code})
	}
	return event
}

func TestProcessEventGrantsSubscription(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal", intPtr(30))
	user := seedUser(t, db, "aluno@example.com")

	result, err := ProcessEvent(db, approvedEvent(models.PlatformVega, user.Email, "PAY-1", plan.VegaCode), 1)
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	var sub models.UserSubscription
	require.NoError(t, db.Where("payment_id = ?", "PAY-1").First(&sub).Error)
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, plan.ID, sub.PlanID)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	require.NotNil(t, sub.EndDate)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), *sub.EndDate, time.Minute)

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	require.NotNil(t, updated.ActivePlanID)
	assert.Equal(t, plan.ID, *updated.ActivePlanID)
}

func TestProcessEventLifetimePlanHasNoEndDate(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "vitalicio", nil)
	user := seedUser(t, db, "aluno@example.com")

	_, err := ProcessEvent(db, approvedEvent(models.PlatformVega, user.Email, "PAY-LT", plan.VegaCode), 1)
	require.NoError(t, err)

	var sub models.UserSubscription
	require.NoError(t, db.Where("payment_id = ?", "PAY-LT").First(&sub).Error)
	assert.Nil(t, sub.EndDate)
}

func TestProcessEventCreatesPendingPlanForUnknownEmail(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal", intPtr(30))

	result, err := ProcessEvent(db, approvedEvent(models.PlatformGGCheckout, "naoexiste@example.com", "PAY-2", plan.GGCheckoutCode), 7)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].Pending)

	var pending models.PendingPlan
	require.NoError(t, db.Where("payment_id = ?", "PAY-2").First(&pending).Error)
	assert.Equal(t, "naoexiste@example.com", pending.Email)
	assert.Equal(t, plan.ID, pending.PlanID)
	assert.Equal(t, models.PendingPlanPending, pending.Status)
	assert.Equal(t, models.PlatformGGCheckout, pending.Platform)

	var subCount int64
	db.Model(&models.UserSubscription{}).Count(&subCount)
	assert.Zero(t, subCount)
}

// Redelivering the same payment must not create a second entitlement.
func TestProcessEventIdempotent(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal", intPtr(30))
	user := seedUser(t, db, "aluno@example.com")

	event := approvedEvent(models.PlatformVega, user.Email, "PAY-3", plan.VegaCode)

	first, err := ProcessEvent(db, event, 1)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := ProcessEvent(db, event, 2)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Zero(t, second.Succeeded)

	var subCount int64
	db.Model(&models.UserSubscription{}).Where("user_id = ?", user.ID).Count(&subCount)
	assert.Equal(t, int64(1), subCount)
}

// The guard also fires when the payment only produced a pending plan.
func TestProcessEventIdempotentAcrossPending(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal", intPtr(30))

	event := approvedEvent(models.PlatformAmploPay, "novo@example.com", "PAY-4", plan.AmploPayCode)

	first, err := ProcessEvent(db, event, 1)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := ProcessEvent(db, event, 2)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	var pendingCount int64
	db.Model(&models.PendingPlan{}).Count(&pendingCount)
	assert.Equal(t, int64(1), pendingCount)
}

// One unmapped product must not block the mapped ones in the same payload.
func TestProcessEventPartialSuccess(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal", intPtr(30))
	user := seedUser(t, db, "aluno@example.com")

	event := approvedEvent(models.PlatformVega, user.Email, "PAY-5", plan.VegaCode, "vega-inexistente")

	result, err := ProcessEvent(db, event, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Outcomes, 2)
	assert.True(t, result.Outcomes[0].Granted)
	assert.Contains(t, result.Outcomes[1].Error, "Plano nao encontrado para vega-inexistente")

	notes := result.Notes()
	assert.Contains(t, notes, "1 produto(s) processado(s) com sucesso")
	assert.Contains(t, notes, "vega-inexistente")
}

func TestProcessEventMultiItemPaymentIDs(t *testing.T) {
	db := newTestDB(t)
	planA := seedPlan(t, db, "mensal", intPtr(30))
	planB := seedPlan(t, db, "anual", intPtr(365))
	user := seedUser(t, db, "aluno@example.com")

	event := approvedEvent(models.PlatformVega, user.Email, "PAY-6", planA.VegaCode, planB.VegaCode)

	result, err := ProcessEvent(db, event, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)

	var ids []string
	db.Model(&models.UserSubscription{}).Order("id").Pluck("payment_id", &ids)
	assert.Equal(t, []string{"PAY-6", "PAY-6#1"}, ids)
}

func TestResolvePlanPerPlatformColumns(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal", intPtr(30))

	for platform, code := range map[string]string{
		models.PlatformVega:       plan.VegaCode,
		models.PlatformGGCheckout: plan.GGCheckoutCode,
		models.PlatformAmploPay:   plan.AmploPayCode,
	} {
		resolved, err := ResolvePlan(db, platform, code)
		require.NoError(t, err, platform)
		assert.Equal(t, plan.ID, resolved.ID)
	}

	_, err := ResolvePlan(db, models.PlatformUnknown, "anything")
	assert.Error(t, err)

	_, err = ResolvePlan(db, models.PlatformVega, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Plano nao encontrado para nope")
}

func TestResolvePlanIgnoresInactivePlans(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal", intPtr(30))
	require.NoError(t, db.Model(&models.Plan{}).Where("id = ?", plan.ID).Update("active", false).Error)

	_, err := ResolvePlan(db, models.PlatformVega, plan.VegaCode)
	assert.Error(t, err)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(errors.New("UNIQUE constraint failed: user_subscriptions.payment_id")))
	assert.True(t, isDuplicateKey(errors.New(`pq: duplicate key value violates unique constraint "idx_payment_id"`)))
	assert.False(t, isDuplicateKey(errors.New("connection refused")))
}

func TestResultNotesDuplicate(t *testing.T) {
	result := &Result{Duplicate: true}
	assert.Equal(t, "duplicate", result.Notes())
}

func TestResultNotesJoinsErrors(t *testing.T) {
	result := &Result{
		Succeeded: 2,
		Failed:    1,
		Outcomes: []ItemOutcome{
			{Granted: true},
			{Granted: true},
			{Error: "Plano nao encontrado para xyz"},
		},
	}
	notes := result.Notes()
	assert.True(t, strings.HasPrefix(notes, "2 produto(s) processado(s) com sucesso"))
	assert.Contains(t, notes, "Plano nao encontrado para xyz")
}
