package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenLength is the length of the random part of a registry token in bytes
	TokenLength = 32

	// TokenPrefixLength is the number of leading characters of a token stored
	// in plaintext alongside the bcrypt hash. The prefix narrows the candidate
	// set on lookup and is what token listings display.
	TokenPrefixLength = 12

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateToken creates a new random registry token with the given prefix.
// The prefix carries its own separator ("pypi-" by default), so the random
// part is appended directly.
// Returns: full token (to show once), bcrypt hash (to store), lookup prefix
func GenerateToken(prefix string) (token string, hash string, lookupPrefix string, err error) {
	// Generate random bytes
	randomBytes := make([]byte, TokenLength)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Encode to base64 (URL-safe) and append to the prefix
	fullToken := prefix + base64.RawURLEncoding.EncodeToString(randomBytes)

	// Hash the full token with bcrypt
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullToken), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash token: %w", err)
	}

	return fullToken, string(hashBytes), LookupPrefix(fullToken), nil
}

// ValidateToken checks if a provided token matches the stored hash
func ValidateToken(providedToken, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedToken))
	return err == nil
}

// LookupPrefix returns the leading characters of a token used to narrow the
// database lookup before the bcrypt comparison.
func LookupPrefix(token string) string {
	if len(token) > TokenPrefixLength {
		return token[:TokenPrefixLength]
	}
	return token
}

// ExtractBearerToken extracts the credential from an Authorization header
// Expected format: "Bearer pypi-abc123xyz..."
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	// Check if it starts with "Bearer "
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	// Extract the token (remove "Bearer " prefix)
	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)

	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
