// Package admin implements the management API: password login, token
// lifecycle, user administration, yank/unyank, and index rebuild. Everything
// here sits behind the auth middleware; the user and package mutation
// endpoints additionally require the admin flag.
package admin

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/middleware"
	"github.com/pratikychavan/PyPI-clone/internal/safego"
)

// AuthHandlers handles password authentication endpoints
type AuthHandlers struct {
	cfg      *config.Config
	db       *sql.DB
	userRepo *repositories.UserRepository
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, db *sql.DB) *AuthHandlers {
	return &AuthHandlers{
		cfg:      cfg,
		db:       db,
		userRepo: repositories.NewUserRepository(db),
	}
}

// LoginRequest carries the credentials for a password login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Log in with username and password
// @Description  Exchanges a username and password for a short-lived JWT. The JWT authenticates API requests the same way an upload token does; mint a token for anything long-lived.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "token, expires_at"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Invalid username or password"
// @Failure      403  {object}  map[string]interface{}  "Account is deactivated"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/auth/login [post]
// LoginHandler exchanges credentials for a JWT
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		user, err := h.userRepo.GetUserByUsername(c.Request.Context(), req.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up user",
			})
			return
		}

		// Same response for unknown user and wrong password so the endpoint
		// does not confirm which usernames exist.
		if user == nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid username or password",
			})
			return
		}

		if !user.Active {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Account is deactivated",
			})
			return
		}

		expiry := h.cfg.Auth.JWT.Expiry
		if expiry <= 0 {
			expiry = 24 * time.Hour
		}

		token, err := auth.GenerateJWT(user.ID, user.Username, user.IsAdmin, expiry)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		userID := user.ID
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = h.userRepo.UpdateLastLogin(ctx, userID)
		})

		c.Set(middleware.AuditResourceKey, user.Username)
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_at": time.Now().Add(expiry).UTC().Format(time.RFC3339),
		})
	}
}
