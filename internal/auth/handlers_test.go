package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"eduka-backend/internal/database"
	apperrors "eduka-backend/internal/errors"
	"eduka-backend/internal/models"
)

func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("test-secret")

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
	))
	database.DB = db

	router := gin.New()
	router.POST("/api/v1/auth/login", HandleLogin)
	return router
}

func seedLoginUser(t *testing.T, password string) models.User {
	t.Helper()

	hashed, err := HashPassword(password)
	require.NoError(t, err)

	user := models.User{
		Email:    "aluno@example.com",
		Password: hashed,
		Name:     "Aluno",
		Role:     "user",
		Active:   true,
	}
	require.NoError(t, database.DB.Create(&user).Error)
	return user
}

func postLogin(router *gin.Engine, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var parsed map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &parsed)
	return rec, parsed
}

func TestHandleLoginSuccess(t *testing.T) {
	router := newAuthRouter(t)
	seedLoginUser(t, "super-secreta-123")

	rec, body := postLogin(router, `{"email": "Aluno@Example.com", "password": "super-secreta-123"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["token"])
}

func TestHandleLoginWrongPassword(t *testing.T) {
	router := newAuthRouter(t)
	user := seedLoginUser(t, "super-secreta-123")

	rec, body := postLogin(router, `{"email": "aluno@example.com", "password": "errada"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.ErrInvalidCredentials.Code, body["code"])
	assert.Equal(t, apperrors.ErrInvalidCredentials.Message, body["error"])

	// The failed attempt is recorded against the account.
	var reloaded models.User
	require.NoError(t, database.DB.First(&reloaded, user.ID).Error)
	assert.Equal(t, 1, reloaded.FailedLoginAttempts)
}

func TestHandleLoginUnknownEmail(t *testing.T) {
	router := newAuthRouter(t)

	rec, body := postLogin(router, `{"email": "ninguem@example.com", "password": "whatever"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.ErrInvalidCredentials.Code, body["code"])
}

func TestHandleLoginLockedAccount(t *testing.T) {
	router := newAuthRouter(t)
	user := seedLoginUser(t, "super-secreta-123")

	lockedUntil := time.Now().Add(10 * time.Minute)
	require.NoError(t, database.DB.Model(&user).Update("locked_until", &lockedUntil).Error)

	rec, body := postLogin(router, `{"email": "aluno@example.com", "password": "super-secreta-123"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.ErrAccountLocked.Code, body["code"])
	assert.Equal(t, apperrors.ErrAccountLocked.Message, body["error"])
}

func TestHandleLoginMissingPassword(t *testing.T) {
	router := newAuthRouter(t)

	rec, body := postLogin(router, `{"email": "aluno@example.com"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.ErrValidationFailed.Code, body["code"])
	assert.Equal(t, apperrors.ErrValidationFailed.Message, body["error"])
}
