package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	apperrors "eduka-backend/internal/errors"
)

// DB is the global database instance
var DB *gorm.DB

// GetEnvDefault gets an environment variable or returns a default value
func GetEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDatabasePassword() (string, error) {
	explicit := os.Getenv("DB_PASSWORD")
	// Treat the literal "vault" as a signal to fetch dynamically.
	if explicit != "" && !strings.EqualFold(explicit, "vault") {
		return explicit, nil
	}

	password, err := fetchDBPasswordFromVault()
	if err != nil {
		if explicit != "" {
			// Explicit request to use Vault but fetch failed: propagate error.
			return "", err
		}
		return "", fmt.Errorf("fetch DB password from Vault: %w", err)
	}

	log.Println("🔐 Retrieved database password from Vault")
	_ = os.Setenv("DB_PASSWORD", password)
	return password, nil
}

func fetchDBPasswordFromVault() (string, error) {
	if strings.EqualFold(os.Getenv("VAULT_ENABLED"), "false") {
		return "", errors.New("vault integration disabled")
	}

	addr := strings.TrimRight(os.Getenv("VAULT_ADDR"), "/")
	if addr == "" {
		return "", errors.New("VAULT_ADDR not set")
	}

	token := strings.TrimSpace(os.Getenv("VAULT_TOKEN"))
	if token == "" {
		tokenFile := os.Getenv("VAULT_TOKEN_FILE")
		if tokenFile == "" {
			return "", errors.New("missing VAULT_TOKEN or VAULT_TOKEN_FILE")
		}
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", fmt.Errorf("read vault token: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}
	if token == "" {
		return "", errors.New("vault token empty")
	}

	client := &http.Client{Timeout: 10 * time.Second}

	secretPath := os.Getenv("VAULT_SECRETS_PATH")
	if secretPath == "" {
		secretPath = "secret/eduka-backend"
	}

	dataPath := secretPath
	if !strings.Contains(dataPath, "/data/") {
		if parts := strings.SplitN(dataPath, "/", 2); len(parts) == 2 {
			dataPath = fmt.Sprintf("%s/data/%s", parts[0], parts[1])
		} else {
			dataPath = fmt.Sprintf("secret/data/%s", dataPath)
		}
	}

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/v1/%s", addr, dataPath), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Vault-Token", token)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("vault kv %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data struct {
			Data map[string]interface{} `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode kv secret: %w", err)
	}

	for _, key := range []string{"DB_PASSWORD", "db_password"} {
		if raw, ok := payload.Data.Data[key]; ok {
			if v, isStr := raw.(string); isStr {
				return v, nil
			}
		}
	}
	return "", errors.New("db password not found in Vault secret")
}

// InitDatabase initializes the database connection
func InitDatabase() error {
	// Use environment variables for database connection (with Vault support)
	host := GetEnvDefault("DB_HOST", "localhost")
	port := GetEnvDefault("DB_PORT", "5432")
	user := GetEnvDefault("DB_USER", "eduka")
	password, err := getDatabasePassword()
	if err != nil {
		return fmt.Errorf("resolve database password: %w", err)
	}
	dbname := GetEnvDefault("DB_NAME", "eduka")

	// Security: Use SSL mode based on environment, default to require for production
	sslMode := GetEnvDefault("DB_SSLMODE", "require")
	if os.Getenv("DB_SSLMODE") == "" && (os.Getenv("ENVIRONMENT") == "development" || os.Getenv("ENVIRONMENT") == "dev") {
		sslMode = "disable"
		log.Println("⚠️  Database SSL disabled for development environment")
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, user, password, dbname, port, sslMode)

	// TranslateError lets the reconciler detect unique-constraint violations
	// as gorm.ErrDuplicatedKey: a concurrent duplicate delivery that slips past
	// the idempotency pre-check must fail the insert, not grant twice.
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnection.Code, "failed to connect to database")
	}

	log.Println("✅ Database connected successfully")
	return nil
}

// RunMigrations runs all database migrations
func RunMigrations(models ...interface{}) error {
	if DB == nil {
		log.Println("⚠️  Skipping migrations: no database connection")
		return nil
	}

	log.Println("Running database migrations...")

	if err := DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("✅ Database migrations completed")
	return nil
}
