// tokens.go implements handlers for upload token lifecycle: minting, listing,
// and revocation. The plaintext token is returned exactly once, at creation;
// only its bcrypt hash and lookup prefix are stored.
package admin

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/middleware"
)

// TokenHandlers handles upload token endpoints
type TokenHandlers struct {
	cfg       *config.Config
	db        *sql.DB
	tokenRepo *repositories.TokenRepository
}

// NewTokenHandlers creates a new TokenHandlers instance
func NewTokenHandlers(cfg *config.Config, db *sql.DB) *TokenHandlers {
	return &TokenHandlers{
		cfg:       cfg,
		db:        db,
		tokenRepo: repositories.NewTokenRepository(db),
	}
}

// tokenResponse maps a token row to its API shape. The hash stays server-side.
func tokenResponse(token *models.Token) gin.H {
	resp := gin.H{
		"id":           token.ID,
		"name":         token.Name,
		"token_prefix": token.TokenPrefix,
		"created_at":   token.CreatedAt,
	}
	if token.ExpiresAt != nil {
		resp["expires_at"] = token.ExpiresAt
	}
	if token.LastUsedAt != nil {
		resp["last_used_at"] = token.LastUsedAt
	}
	return resp
}

// requireUser returns the authenticated user's ID, or writes a 401 and
// returns false. Token ownership needs a real account row, so the
// anonymous-admin identity from a no-auth deployment is rejected too.
func requireUser(c *gin.Context) (string, bool) {
	identity := middleware.Identity(c)
	if identity == nil || identity.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Token management requires a user account",
		})
		return "", false
	}
	return identity.UserID, true
}

// @Summary      List tokens
// @Description  List the authenticated user's upload tokens. Hashes are never returned; the prefix identifies which token is which.
// @Tags         Tokens
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "tokens, total"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/tokens [get]
// ListTokensHandler lists the caller's tokens
// GET /api/v1/tokens
func (h *TokenHandlers) ListTokensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		tokens, err := h.tokenRepo.ListTokensByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list tokens",
			})
			return
		}

		sanitized := make([]gin.H, 0, len(tokens))
		for _, token := range tokens {
			sanitized = append(sanitized, tokenResponse(token))
		}

		c.JSON(http.StatusOK, gin.H{
			"tokens": sanitized,
			"total":  len(sanitized),
		})
	}
}

// CreateTokenRequest represents the request to mint an upload token
type CreateTokenRequest struct {
	Name string `json:"name" binding:"required"`
	// ExpiresAt is RFC 3339; omit it to use the configured default TTL, or
	// the configured default of no expiry.
	ExpiresAt *string `json:"expires_at"`
}

// @Summary      Create token
// @Description  Mint a new upload token for the authenticated user. The response carries the plaintext token once; store it in your .pypirc, it cannot be retrieved again.
// @Tags         Tokens
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateTokenRequest  true  "Token creation request"
// @Success      201  {object}  map[string]interface{}  "token (plaintext, shown once), id, name, expires_at"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/tokens [post]
// CreateTokenHandler mints a new upload token
// POST /api/v1/tokens
func (h *TokenHandlers) CreateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var req CreateTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "expires_at must be RFC 3339",
				})
				return
			}
			if parsed.Before(time.Now()) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "expires_at is in the past",
				})
				return
			}
			expiresAt = &parsed
		} else if ttl := h.cfg.Auth.Tokens.DefaultTTL; ttl > 0 {
			t := time.Now().Add(ttl)
			expiresAt = &t
		}

		plaintext, hash, lookupPrefix, err := auth.GenerateToken(h.cfg.Auth.Tokens.Prefix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		token := &models.Token{
			UserID:      userID,
			Name:        req.Name,
			TokenPrefix: lookupPrefix,
			TokenHash:   hash,
			ExpiresAt:   expiresAt,
		}

		if err := h.tokenRepo.CreateToken(c.Request.Context(), token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create token",
			})
			return
		}

		c.Set(middleware.AuditResourceKey, token.ID)
		resp := tokenResponse(token)
		resp["token"] = plaintext
		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary      Delete token
// @Description  Revoke a token by ID. Users can revoke their own tokens; admins can revoke anyone's.
// @Tags         Tokens
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Token ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not your token"
// @Failure      404  {object}  map[string]interface{}  "Token not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/tokens/{id} [delete]
// DeleteTokenHandler revokes a token by ID
// DELETE /api/v1/tokens/:id
func (h *TokenHandlers) DeleteTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		tokenID := c.Param("id")

		token, err := h.tokenRepo.GetTokenByID(c.Request.Context(), tokenID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve token",
			})
			return
		}
		if token == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Token not found",
			})
			return
		}

		identity := middleware.Identity(c)
		if token.UserID != userID && (identity == nil || !identity.IsAdmin) {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Not your token",
			})
			return
		}

		if err := h.tokenRepo.RevokeToken(c.Request.Context(), tokenID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to revoke token",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Token revoked successfully",
		})
	}
}

// RevokeTokenRequest revokes a token by its value rather than its ID
type RevokeTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// @Summary      Revoke token by value
// @Description  Revoke a token by presenting the token itself. Useful when a token leaked and its ID is unknown; the caller must own the token.
// @Tags         Tokens
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  RevokeTokenRequest  true  "Token to revoke"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Token not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/tokens/revoke [post]
// RevokeTokenHandler revokes a token by its plaintext value
// POST /api/v1/tokens/revoke
func (h *TokenHandlers) RevokeTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var req RevokeTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		// Same prefix-indexed lookup the auth middleware uses.
		candidates, err := h.tokenRepo.GetTokensByPrefix(c.Request.Context(), auth.LookupPrefix(req.Token))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up token",
			})
			return
		}

		for _, candidate := range candidates {
			if candidate.UserID != userID {
				continue
			}
			if !auth.ValidateToken(req.Token, candidate.TokenHash) {
				continue
			}
			if err := h.tokenRepo.RevokeToken(c.Request.Context(), candidate.ID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to revoke token",
				})
				return
			}
			c.Set(middleware.AuditResourceKey, candidate.ID)
			c.JSON(http.StatusOK, gin.H{
				"message": "Token revoked successfully",
			})
			return
		}

		c.JSON(http.StatusNotFound, gin.H{
			"error": "Token not found",
		})
	}
}
