// users.go implements handlers for user account administration: listing,
// creating, and activating or deactivating accounts.
package admin

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/middleware"
)

// UserHandlers serves the admin user management endpoints.
type UserHandlers struct {
	userRepo *repositories.UserRepository
}

// NewUserHandlers wires the user admin endpoints. cfg is unused today; the
// signature matches the other admin constructors.
func NewUserHandlers(cfg *config.Config, db *sql.DB) *UserHandlers {
	return &UserHandlers{userRepo: repositories.NewUserRepository(db)}
}

// userResponse maps a user row to its API shape. The password hash never
// leaves the handler layer.
func userResponse(user *models.User) gin.H {
	resp := gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"is_admin":   user.IsAdmin,
		"active":     user.Active,
		"created_at": user.CreatedAt,
	}
	if user.LastLoginAt != nil {
		resp["last_login_at"] = user.LastLoginAt
	}
	return resp
}

// @Summary      List users
// @Description  Page through every user account, newest first.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        page      query  int  false  "Page number (default 1)"
// @Param        per_page  query  int  false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "users, pagination"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Admin privileges required"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/users [get]
// ListUsersHandler lists all users with pagination
// GET /api/v1/admin/users?page=1&per_page=20
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := pageParams(c, 20, 100)

		users, total, err := h.userRepo.ListUsers(c.Request.Context(), perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
			return
		}

		sanitized := make([]gin.H, 0, len(users))
		for _, user := range users {
			sanitized = append(sanitized, userResponse(user))
		}

		c.JSON(http.StatusOK, gin.H{
			"users": sanitized,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// CreateUserRequest is the body for POST /api/v1/admin/users.
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	IsAdmin  bool   `json:"is_admin"`
}

// @Summary      Create user
// @Description  Create an account. It can publish as soon as an upload token is minted for it via /api/v1/tokens.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateUserRequest  true  "User creation request"
// @Success      201  {object}  map[string]interface{}  "user"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Admin privileges required"
// @Failure      409  {object}  map[string]interface{}  "Username already taken"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/users [post]
// CreateUserHandler creates a new user
// POST /api/v1/admin/users
func (h *UserHandlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		switch existing, err := h.userRepo.GetUserByUsername(ctx, req.Username); {
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing user"})
			return
		case existing != nil:
			c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
			return
		}

		user := &models.User{
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: hash,
			IsAdmin:      req.IsAdmin,
			Active:       true,
		}
		if err := h.userRepo.CreateUser(ctx, user); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"user": userResponse(user)})
	}
}

// @Summary      Deactivate user
// @Description  Lock an account out. It can no longer log in, mint tokens, or upload, but its published files stay available. Admins cannot deactivate themselves.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        username  path  string  true  "Username"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Cannot deactivate your own account"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Admin privileges required"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/users/{username}/deactivate [post]
// DeactivateUserHandler deactivates a user account
// POST /api/v1/admin/users/:username/deactivate
func (h *UserHandlers) DeactivateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.setActive(c, false)
	}
}

// @Summary      Activate user
// @Description  Reverse a deactivation.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        username  path  string  true  "Username"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Admin privileges required"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/users/{username}/activate [post]
// ActivateUserHandler reactivates a user account
// POST /api/v1/admin/users/:username/activate
func (h *UserHandlers) ActivateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.setActive(c, true)
	}
}

func (h *UserHandlers) setActive(c *gin.Context, active bool) {
	ctx := c.Request.Context()

	user, err := h.userRepo.GetUserByUsername(ctx, c.Param("username"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	// An admin locking out their own account would leave the registry with
	// one fewer admin than they think; make them use a second account.
	if !active {
		if identity := middleware.Identity(c); identity != nil && identity.UserID == user.ID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate your own account"})
			return
		}
	}

	if err := h.userRepo.SetActive(ctx, user.ID, active); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}

	message := "User deactivated successfully"
	if active {
		message = "User activated successfully"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  message,
		"username": user.Username,
	})
}
