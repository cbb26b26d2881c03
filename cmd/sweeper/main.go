package main

import (
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"eduka-backend/internal/database"
	"eduka-backend/internal/entitlements"
	"eduka-backend/internal/models"
)

// One-shot expiration sweep for cron. Exits non-zero when the sweep could
// not run at all; per-row failures are logged and reported but do not fail
// the job, the next run picks the rows up again.
func main() {
	log.Println("🧹 Starting Eduka expiration sweeper")

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		opts := sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		}
		if err := sentry.Init(opts); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("service", "eduka-sweeper")
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if err := database.RunMigrations(
		&models.User{},
		&models.Plan{},
		&models.UserSubscription{},
		&models.PendingPlan{},
		&models.Notification{},
	); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	result := entitlements.Sweep(database.DB, time.Now())

	log.Printf("✅ Sweep completed: %d subscriptions expired, %d pending plans expired, %d notifications created",
		result.ExpiredCount, result.PendingPlansExpired, result.NotificationsCreated)

	for _, sweepErr := range result.Errors {
		log.Printf("⚠️  sweep: %s", sweepErr)
		sentry.CaptureMessage("sweep: " + sweepErr)
	}
}
