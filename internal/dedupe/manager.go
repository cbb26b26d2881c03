package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manager keeps a short-TTL cache of processed gateway payment ids in Redis.
// It absorbs gateway retry storms before they reach the database; the unique
// constraint on payment_id remains the correctness backstop, so every
// operation here is best-effort.
type Manager struct {
	client  *redis.Client
	ctx     context.Context
	ttl     time.Duration
	timeout time.Duration
}

// GlobalManager is nil when Redis is not configured.
var GlobalManager *Manager

func (m *Manager) withTimeout() (context.Context, context.CancelFunc) {
	timeout := m.timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(m.ctx, timeout)
}

func wrapRedisError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s redis operation timed out: %w", operation, err)
	}
	return fmt.Errorf("%s redis operation failed: %w", operation, err)
}

// InitManager connects to Redis when REDIS_HOST is set. Without it the
// dedupe cache is simply disabled.
func InitManager() {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		log.Println("dedupe: REDIS_HOST not set, duplicate-delivery cache disabled")
		return
	}

	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}

	db := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			db = parsed
		}
	}

	ttl := 24 * time.Hour
	if raw := os.Getenv("DEDUPE_TTL_HOURS"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 {
			ttl = time.Duration(hours) * time.Hour
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	})

	manager := &Manager{
		client:  rdb,
		ctx:     context.Background(),
		ttl:     ttl,
		timeout: 2 * time.Second,
	}

	ctx, cancel := manager.withTimeout()
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  dedupe: redis ping failed, cache disabled: %v", err)
		return
	}

	GlobalManager = manager
	log.Println("✅ dedupe: duplicate-delivery cache connected")
}

func paymentKey(paymentID string) string {
	return "eduka:payment:" + paymentID
}

// Seen reports whether a payment id was recently processed. Errors count as
// not seen so the database guard stays authoritative.
func (m *Manager) Seen(paymentID string) bool {
	ctx, cancel := m.withTimeout()
	defer cancel()

	n, err := m.client.Exists(ctx, paymentKey(paymentID)).Result()
	if err != nil {
		log.Printf("dedupe: %v", wrapRedisError("seen", err))
		return false
	}
	return n > 0
}

// MarkProcessed records a processed payment id with the configured TTL.
func (m *Manager) MarkProcessed(paymentID string) {
	ctx, cancel := m.withTimeout()
	defer cancel()

	if err := m.client.Set(ctx, paymentKey(paymentID), time.Now().Format(time.RFC3339), m.ttl).Err(); err != nil {
		log.Printf("dedupe: %v", wrapRedisError("mark", err))
	}
}
