package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"eduka-backend/internal/database"
	"eduka-backend/internal/entitlements"
	apperrors "eduka-backend/internal/errors"
	"eduka-backend/internal/middleware"
	"eduka-backend/internal/models"
	"eduka-backend/pkg/utils"
)

// HandleRegister creates a new account and activates any plans that were
// purchased for this email before signup.
func HandleRegister(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
		Name     string `json:"name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    apperrors.ErrValidationFailed.Code,
			"error":   apperrors.ErrValidationFailed.Message,
			"details": err.Error(),
		})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	hashed, err := HashPassword(req.Password)
	if err != nil {
		utils.HandleError(err, "auth.HandleRegister: hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	user := models.User{
		Email:    email,
		Password: hashed,
		Name:     strings.TrimSpace(req.Name),
		Role:     "user",
		Active:   true,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}
		utils.HandleError(err, "auth.HandleRegister: create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	activated, err := entitlements.ActivatePendingPlans(database.DB, &user)
	if err != nil {
		// The account exists; a failed activation is retried on next login.
		utils.HandleError(err, "auth.HandleRegister: activate pending plans")
	}

	token, expiry, err := GenerateToken(user)
	if err != nil {
		utils.HandleError(err, "auth.HandleRegister: generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":         "Account created successfully",
		"user":            user,
		"token":           token,
		"expires_at":      expiry,
		"activated_plans": activated,
	})
}

// HandleLogin authenticates a user and issues a JWT
func HandleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    apperrors.ErrValidationFailed.Code,
			"error":   apperrors.ErrValidationFailed.Message,
			"details": err.Error(),
		})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := database.DB.Where("email = ?", email).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  apperrors.ErrInvalidCredentials.Code,
			"error": apperrors.ErrInvalidCredentials.Message,
		})
		return
	}

	if IsAccountLocked(&user) {
		c.JSON(http.StatusForbidden, gin.H{
			"code":  apperrors.ErrAccountLocked.Code,
			"error": apperrors.ErrAccountLocked.Message,
		})
		return
	}

	if !CheckPassword(req.Password, user.Password) {
		if err := RecordFailedLogin(database.DB, &user); err != nil {
			utils.HandleError(err, "auth.HandleLogin: record failed login")
		}
		middleware.RecordFailedLoginAttempt(c)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  apperrors.ErrInvalidCredentials.Code,
			"error": apperrors.ErrInvalidCredentials.Message,
		})
		return
	}

	if !user.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "User account is disabled"})
		return
	}

	if err := RecordSuccessfulLogin(database.DB, &user); err != nil {
		utils.HandleError(err, "auth.HandleLogin: record successful login")
	}
	middleware.RecordSuccessfulLoginAttempt(c)

	// Pending plans created while the account already existed get picked up
	// here, so a failed signup-time activation self-heals.
	if _, err := entitlements.ActivatePendingPlans(database.DB, &user); err != nil {
		utils.HandleError(err, "auth.HandleLogin: activate pending plans")
	}

	token, expiry, err := GenerateToken(user)
	if err != nil {
		utils.HandleError(err, "auth.HandleLogin: generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"user":       user,
		"token":      token,
		"expires_at": expiry,
	})
}

// HandleGetProfile returns the authenticated user's profile
func HandleGetProfile(c *gin.Context) {
	userID := c.GetUint("user_id")

	var user models.User
	if err := database.DB.Preload("ActivePlan").First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
