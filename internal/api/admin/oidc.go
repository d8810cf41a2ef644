// oidc.go implements trusted publishing: a CI job presents its OIDC identity
// token and receives a short-lived upload token bound to the configured user,
// so no long-lived credential ever lives in the CI secret store.
package admin

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/auth/oidc"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/middleware"
)

// defaultMintTTL bounds minted tokens when no TTL is configured. Long enough
// for a publish job, short enough that a leaked token is stale by the time
// anyone reads the CI log.
const defaultMintTTL = 15 * time.Minute

// identityVerifier is the part of the OIDC provider the mint handler needs.
type identityVerifier interface {
	VerifyIDToken(ctx context.Context, rawToken string) (string, error)
	LookupBinding(subject string) (string, bool)
}

// OIDCHandlers handles trusted-publishing endpoints
type OIDCHandlers struct {
	cfg       *config.Config
	db        *sql.DB
	userRepo  *repositories.UserRepository
	tokenRepo *repositories.TokenRepository
	verifier  identityVerifier
}

// NewOIDCHandlers creates a new OIDCHandlers instance. When trusted publishing
// is enabled this reaches out to the issuer for its discovery document.
func NewOIDCHandlers(cfg *config.Config, db *sql.DB) (*OIDCHandlers, error) {
	h := &OIDCHandlers{
		cfg:       cfg,
		db:        db,
		userRepo:  repositories.NewUserRepository(db),
		tokenRepo: repositories.NewTokenRepository(db),
	}

	if cfg.Auth.OIDC.Enabled {
		publisher, err := oidc.NewTrustedPublisher(&cfg.Auth.OIDC)
		if err != nil {
			return nil, err
		}
		h.verifier = publisher
	}

	return h, nil
}

// MintTokenRequest carries the CI job's OIDC identity token
type MintTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// @Summary      Mint upload token from OIDC identity
// @Description  Verifies a CI job's OIDC identity token against the configured issuer and, when the subject matches a publisher binding, mints a short-lived upload token for the bound user. Unauthenticated: the identity token is the credential.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  MintTokenRequest  true  "OIDC identity token"
// @Success      201  {object}  map[string]interface{}  "token (plaintext, shown once), expires_at, username"
// @Failure      400  {object}  map[string]interface{}  "Invalid request or trusted publishing not enabled"
// @Failure      401  {object}  map[string]interface{}  "Identity token failed verification"
// @Failure      403  {object}  map[string]interface{}  "No publisher binding, or bound account unavailable"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/oidc/mint-token [post]
// MintTokenHandler exchanges an OIDC identity token for an upload token
// POST /api/v1/oidc/mint-token
func (h *OIDCHandlers) MintTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.verifier == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Trusted publishing is not enabled",
			})
			return
		}

		var req MintTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		subject, err := h.verifier.VerifyIDToken(c.Request.Context(), req.Token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Identity token failed verification",
			})
			return
		}

		username, ok := h.verifier.LookupBinding(subject)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "No publisher binding for this identity",
			})
			return
		}

		user, err := h.userRepo.GetUserByUsername(c.Request.Context(), username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up publisher account",
			})
			return
		}
		if user == nil || !user.Active {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Publisher account unavailable",
			})
			return
		}

		ttl := h.cfg.Auth.OIDC.TokenTTL
		if ttl <= 0 {
			ttl = defaultMintTTL
		}
		expiresAt := time.Now().Add(ttl)

		plaintext, hash, lookupPrefix, err := auth.GenerateToken(h.cfg.Auth.Tokens.Prefix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		token := &models.Token{
			UserID:      user.ID,
			Name:        "trusted-publisher:" + subject,
			TokenPrefix: lookupPrefix,
			TokenHash:   hash,
			ExpiresAt:   &expiresAt,
		}

		if err := h.tokenRepo.CreateToken(c.Request.Context(), token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create token",
			})
			return
		}

		c.Set(middleware.AuditResourceKey, user.Username)
		c.JSON(http.StatusCreated, gin.H{
			"token":      plaintext,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
			"username":   user.Username,
		})
	}
}
