// Package auth - jwt.go handles session JWT creation, signing, and verification
// using a shared secret, including lazy secret initialization and claims parsing.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionIssuer     = "pypi-registry"
	defaultSessionTTL = 24 * time.Hour

	// Below this length an HS256 key is weaker than the hash it drives.
	minSecretLength = 32
)

// sessionSecret is the process-wide signing secret, resolved once on first
// use from SetJWTSecret's value or the PYPI_JWT_SECRET environment variable.
var sessionSecret secretState

type secretState struct {
	once       sync.Once
	configured string
	value      string
	err        error
}

func (s *secretState) resolve() (string, error) {
	s.once.Do(func() {
		secret := s.configured
		if secret == "" {
			secret = os.Getenv("PYPI_JWT_SECRET")
		}

		switch {
		case secret != "":
			if len(secret) < minSecretLength {
				slog.Warn("JWT secret is shorter than the recommended 32 characters")
			}
			s.value = secret

		case isDevMode():
			s.value = randomSecret()
			slog.Warn("JWT secret not set, using auto-generated secret for development")
			slog.Warn("sessions will not persist across restarts, set auth.jwt.secret or PYPI_JWT_SECRET")

		default:
			s.err = errors.New("SECURITY ERROR: auth.jwt.secret or PYPI_JWT_SECRET is required in production. " +
				"Generate a secure secret with: openssl rand -hex 32")
		}
	})
	return s.value, s.err
}

// Claims represents the session JWT claims structure
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// SetJWTSecret supplies the secret from configuration. Call it before the
// first token is generated or validated; later calls have no effect because
// the secret is captured once.
func SetJWTSecret(secret string) {
	sessionSecret.configured = secret
}

// ValidateJWTSecret forces secret resolution and reports whether the process
// has a usable signing secret. Without one, production startup must abort;
// dev mode (DEV_MODE=true or GIN_MODE=debug) falls back to a random secret.
// Call this at application startup.
func ValidateJWTSecret() error {
	_, err := sessionSecret.resolve()
	return err
}

// GetJWTSecret returns the resolved secret, panicking when none could be
// resolved. Request-path code goes through GenerateJWT/ValidateJWT instead,
// which return errors.
func GetJWTSecret() string {
	secret, err := sessionSecret.resolve()
	if err != nil {
		panic(err)
	}
	return secret
}

func isDevMode() bool {
	dev := os.Getenv("DEV_MODE")
	return dev == "true" || dev == "1" || os.Getenv("GIN_MODE") == "debug"
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// rand failing is effectively fatal elsewhere; keep dev mode limping.
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// GenerateJWT creates a session JWT for an authenticated user. A zero
// expiresIn means the default session length.
func GenerateJWT(userID, username string, isAdmin bool, expiresIn time.Duration) (string, error) {
	secret, err := sessionSecret.resolve()
	if err != nil {
		return "", err
	}
	if expiresIn == 0 {
		expiresIn = defaultSessionTTL
	}

	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
			Subject:   userID,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateJWT parses and verifies a session JWT, rejecting anything not
// HMAC-signed by this registry or past its expiry.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret, err := sessionSecret.resolve()
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
