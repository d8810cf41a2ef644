// Package auth provides authentication primitives for the registry, including registry token generation/validation, password hashing, and session JWT creation/verification.
// Three authentication methods are supported: registry tokens (long-lived bcrypt-hashed credentials for twine and pip), HTTP Basic (username/password against the users table), and JWTs (issued on login, stateless verification).
// See internal/middleware/auth.go for the request-time authentication logic that uses these primitives.
package auth

// Authentication method names recorded on the identity.
const (
	MethodToken     = "token"
	MethodBasic     = "basic"
	MethodJWT       = "jwt"
	MethodAnonymous = "anonymous"
)

// Identity describes the authenticated caller of a request. Handlers read it
// from the request context after the auth middleware has run.
type Identity struct {
	UserID    string
	Username  string
	IsAdmin   bool
	Anonymous bool

	// Method records how the caller authenticated: token, basic, jwt, or anonymous
	Method string
}

// AnonymousAdmin returns the identity attached to every request when
// authentication is disabled in configuration. It carries admin rights so
// every endpoint stays usable on a trust-everyone deployment.
func AnonymousAdmin() *Identity {
	return &Identity{
		Username:  "anonymous",
		IsAdmin:   true,
		Anonymous: true,
		Method:    MethodAnonymous,
	}
}
