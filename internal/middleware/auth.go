// Package middleware provides Gin HTTP middleware for authentication,
// security headers, rate limiting, request IDs, and request metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Security → Metrics → RateLimit → Auth → Handler
//
// Request IDs are assigned first so every later log line can carry one.
// Security headers run next so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any
// bcrypt or database work. Auth populates the request identity that handlers
// and RequireAdmin read from the context.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/safego"
)

const identityKey = "identity"

// Identity returns the authenticated identity attached to the request by
// Auth or OptionalAuth, or nil for an unauthenticated request.
func Identity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, ok := v.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}

func setIdentity(c *gin.Context, identity *auth.Identity) {
	c.Set(identityKey, identity)
	c.Set("user_id", identity.UserID)
	c.Set("username", identity.Username)
	c.Set("auth_method", identity.Method)
}

func unauthorized(c *gin.Context, reason string) {
	c.Header("WWW-Authenticate", `Basic realm="pypi"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}

// Auth authenticates the request or rejects it. Three credentials are
// accepted: registry tokens (Bearer with the configured token prefix),
// session JWTs (any other Bearer value), and HTTP Basic username/password —
// the form twine sends. When authentication is disabled in the configuration
// every request proceeds as the anonymous admin identity instead of being
// checked at each call site.
func Auth(cfg *config.Config, userRepo *repositories.UserRepository, tokenRepo *repositories.TokenRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Auth.Enabled {
			setIdentity(c, auth.AnonymousAdmin())
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		if strings.HasPrefix(authHeader, "Basic ") {
			username, password, ok := c.Request.BasicAuth()
			if !ok {
				unauthorized(c, "malformed basic auth header")
				return
			}
			identity, err := authenticateBasic(c.Request.Context(), username, password, userRepo)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
				return
			}
			if identity == nil {
				unauthorized(c, "invalid username or password")
				return
			}
			setIdentity(c, identity)
			c.Next()
			return
		}

		token, err := auth.ExtractBearerToken(authHeader)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		// Registry tokens carry the configured prefix; any other bearer
		// value is treated as a session JWT. The JWT path is stateless and
		// the token path costs a prefix-indexed query plus bcrypt, so the
		// dispatch never runs bcrypt against a JWT.
		if strings.HasPrefix(token, cfg.Auth.Tokens.Prefix) {
			identity, err := authenticateToken(c.Request.Context(), token, userRepo, tokenRepo)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
				return
			}
			if identity == nil {
				unauthorized(c, "invalid or expired token")
				return
			}
			setIdentity(c, identity)
			c.Next()
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			unauthorized(c, "invalid credentials")
			return
		}
		user, err := userRepo.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}
		if user == nil || !user.Active {
			unauthorized(c, "user not found or deactivated")
			return
		}
		setIdentity(c, &auth.Identity{
			UserID:   user.ID,
			Username: user.Username,
			IsAdmin:  user.IsAdmin,
			Method:   auth.MethodJWT,
		})
		c.Next()
	}
}

// OptionalAuth attaches an identity when valid credentials are presented but
// never rejects the request. Read endpoints use it: the simple index and the
// JSON APIs stay anonymous-readable while still knowing who is asking when a
// client does log in.
func OptionalAuth(cfg *config.Config, userRepo *repositories.UserRepository, tokenRepo *repositories.TokenRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Auth.Enabled {
			setIdentity(c, auth.AnonymousAdmin())
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		if strings.HasPrefix(authHeader, "Basic ") {
			if username, password, ok := c.Request.BasicAuth(); ok {
				if identity, err := authenticateBasic(c.Request.Context(), username, password, userRepo); err == nil && identity != nil {
					setIdentity(c, identity)
				}
			}
			c.Next()
			return
		}

		token, err := auth.ExtractBearerToken(authHeader)
		if err != nil {
			c.Next()
			return
		}

		if strings.HasPrefix(token, cfg.Auth.Tokens.Prefix) {
			if identity, err := authenticateToken(c.Request.Context(), token, userRepo, tokenRepo); err == nil && identity != nil {
				setIdentity(c, identity)
			}
			c.Next()
			return
		}

		if claims, err := auth.ValidateJWT(token); err == nil {
			user, err := userRepo.GetUserByID(c.Request.Context(), claims.UserID)
			if err == nil && user != nil && user.Active {
				setIdentity(c, &auth.Identity{
					UserID:   user.ID,
					Username: user.Username,
					IsAdmin:  user.IsAdmin,
					Method:   auth.MethodJWT,
				})
			}
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose identity lacks the admin flag. It must
// run after Auth in the chain.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity(c)
		if identity == nil {
			unauthorized(c, "authentication required")
			return
		}
		if !identity.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator privileges required"})
			return
		}
		c.Next()
	}
}

// authenticateToken resolves a registry token to its owner. The stored
// plaintext prefix narrows the candidate set with one indexed query, then
// bcrypt runs only on those rows. Returns (nil, nil) for a token that does
// not authenticate.
func authenticateToken(ctx context.Context, providedToken string, userRepo *repositories.UserRepository, tokenRepo *repositories.TokenRepository) (*auth.Identity, error) {
	candidates, err := tokenRepo.GetTokensByPrefix(ctx, auth.LookupPrefix(providedToken))
	if err != nil {
		return nil, err
	}

	for _, t := range candidates {
		if !auth.ValidateToken(providedToken, t.TokenHash) {
			continue
		}

		if t.IsExpired() {
			// A replayed expired token is deleted on sight rather than
			// waiting for the hourly sweep.
			tokenID := t.ID
			safego.Go(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tokenRepo.RevokeToken(ctx, tokenID)
			})
			return nil, nil
		}

		user, err := userRepo.GetUserByID(ctx, t.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil || !user.Active {
			// Deactivating a user invalidates every token they own, even
			// ones that have not expired.
			return nil, nil
		}

		// Last-used tracking is best-effort and off the request path; the
		// timeout prevents leaked goroutines when the DB is unreachable.
		tokenID := t.ID
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tokenRepo.UpdateLastUsed(ctx, tokenID)
		})

		return &auth.Identity{
			UserID:   user.ID,
			Username: user.Username,
			IsAdmin:  user.IsAdmin,
			Method:   auth.MethodToken,
		}, nil
	}

	return nil, nil
}

// authenticateBasic resolves a username/password pair. Returns (nil, nil)
// when the pair does not authenticate.
func authenticateBasic(ctx context.Context, username, password string, userRepo *repositories.UserRepository) (*auth.Identity, error) {
	user, err := userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, nil
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, nil
	}

	userID := user.ID
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = userRepo.UpdateLastLogin(ctx, userID)
	})

	return &auth.Identity{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
		Method:   auth.MethodBasic,
	}, nil
}
