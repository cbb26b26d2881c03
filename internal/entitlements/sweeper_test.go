package entitlements

import (
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
		&models.UserSubscription{},
		&models.PendingPlan{},
		&models.Notification{},
	))
	return db
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func seedPlan(t *testing.T, db *gorm.DB, name string) models.Plan {
	t.Helper()
	plan := models.Plan{Name: name, DisplayName: name, DurationDays: intPtr(30), Active: true}
	require.NoError(t, db.Create(&plan).Error)
	return plan
}

func seedUser(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	user := models.User{Email: email, Password: "x", Role: "user", Active: true}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedSubscription(t *testing.T, db *gorm.DB, user models.User, plan models.Plan, paymentID string, endDate *time.Time) models.UserSubscription {
	t.Helper()
	sub := models.UserSubscription{
		UserID:    user.ID,
		PlanID:    plan.ID,
		Status:    models.SubscriptionActive,
		StartDate: time.Now().AddDate(0, 0, -31),
		EndDate:   endDate,
		PaymentID: paymentID,
	}
	require.NoError(t, db.Create(&sub).Error)
	require.NoError(t, db.Model(&user).Updates(map[string]interface{}{
		"active_plan_id": plan.ID,
		"plano_ativo":    plan.ID,
	}).Error)
	return sub
}

func TestSweepExpiresDueSubscriptions(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal")
	user := seedUser(t, db, "aluno@example.com")
	sub := seedSubscription(t, db, user, plan, "PAY-1", timePtr(time.Now().Add(-time.Hour)))

	result := Sweep(db, time.Now())

	assert.Equal(t, 1, result.ExpiredCount)
	assert.Equal(t, 1, result.NotificationsCreated)
	assert.Empty(t, result.Errors)

	var updated models.UserSubscription
	require.NoError(t, db.First(&updated, sub.ID).Error)
	assert.Equal(t, models.SubscriptionExpired, updated.Status)

	var refreshed models.User
	require.NoError(t, db.First(&refreshed, user.ID).Error)
	assert.Nil(t, refreshed.ActivePlanID)
	assert.Zero(t, refreshed.PlanoAtivo)

	var notification models.Notification
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&notification).Error)
	assert.Equal(t, "plan_expired", notification.Type)
	assert.False(t, notification.Read)
}

// Running the sweep again right away finds nothing to do.
func TestSweepIdempotent(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal")
	user := seedUser(t, db, "aluno@example.com")
	seedSubscription(t, db, user, plan, "PAY-1", timePtr(time.Now().Add(-time.Hour)))

	first := Sweep(db, time.Now())
	assert.Equal(t, 1, first.ExpiredCount)

	second := Sweep(db, time.Now())
	assert.Zero(t, second.ExpiredCount)
	assert.Zero(t, second.NotificationsCreated)
	assert.Zero(t, second.PendingPlansExpired)

	var notifCount int64
	db.Model(&models.Notification{}).Count(&notifCount)
	assert.Equal(t, int64(1), notifCount)
}

// Lifetime subscriptions have no end date and are never swept.
func TestSweepSkipsLifetimeSubscriptions(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "vitalicio")
	user := seedUser(t, db, "aluno@example.com")
	sub := seedSubscription(t, db, user, plan, "PAY-LT", nil)

	result := Sweep(db, time.Now())
	assert.Zero(t, result.ExpiredCount)

	var updated models.UserSubscription
	require.NoError(t, db.First(&updated, sub.ID).Error)
	assert.Equal(t, models.SubscriptionActive, updated.Status)
}

func TestSweepSkipsFutureEndDates(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal")
	user := seedUser(t, db, "aluno@example.com")
	seedSubscription(t, db, user, plan, "PAY-FUT", timePtr(time.Now().Add(24*time.Hour)))

	result := Sweep(db, time.Now())
	assert.Zero(t, result.ExpiredCount)
}

// The active-plan pointer is only cleared when it still points at the plan
// that just expired.
func TestSweepKeepsNewerActivePlan(t *testing.T) {
	db := newTestDB(t)
	oldPlan := seedPlan(t, db, "mensal")
	newPlan := seedPlan(t, db, "anual")
	user := seedUser(t, db, "aluno@example.com")
	seedSubscription(t, db, user, oldPlan, "PAY-OLD", timePtr(time.Now().Add(-time.Hour)))
	seedSubscription(t, db, user, newPlan, "PAY-NEW", timePtr(time.Now().AddDate(0, 0, 365)))

	result := Sweep(db, time.Now())
	assert.Equal(t, 1, result.ExpiredCount)

	var refreshed models.User
	require.NoError(t, db.First(&refreshed, user.ID).Error)
	require.NotNil(t, refreshed.ActivePlanID)
	assert.Equal(t, newPlan.ID, *refreshed.ActivePlanID)
}

// Pending plans past their window expire too, without notifications: there is
// no account to notify.
func TestSweepExpiresDuePendingPlans(t *testing.T) {
	db := newTestDB(t)
	plan := seedPlan(t, db, "mensal")

	pending := models.PendingPlan{
		Email:     "futuro@example.com",
		PlanID:    plan.ID,
		Status:    models.PendingPlanPending,
		StartDate: time.Now().AddDate(0, 0, -31),
		EndDate:   timePtr(time.Now().Add(-time.Hour)),
		PaymentID: "PAY-PEND",
		Platform:  models.PlatformVega,
	}
	require.NoError(t, db.Create(&pending).Error)

	result := Sweep(db, time.Now())
	assert.Equal(t, 1, result.PendingPlansExpired)
	assert.Zero(t, result.NotificationsCreated)

	var updated models.PendingPlan
	require.NoError(t, db.First(&updated, pending.ID).Error)
	assert.Equal(t, models.PendingPlanExpired, updated.Status)

	var notifCount int64
	db.Model(&models.Notification{}).Count(&notifCount)
	assert.Zero(t, notifCount)
}
