// Package oidc implements trusted publishing for the registry. A CI system
// presents an OpenID Connect identity token instead of a password or API
// token; this package verifies the token against the configured issuer and
// audience, then maps its subject to a registry user through the publisher
// bindings in configuration. The binding list is the sole authority on which
// CI identities may publish.
package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pratikychavan/PyPI-clone/internal/config"
)

// TrustedPublisher verifies CI identity tokens and resolves their subjects
// to registry usernames.
type TrustedPublisher struct {
	verifier *oidc.IDTokenVerifier
	bindings map[string]string
}

// NewTrustedPublisher initializes a trusted publisher using a background context.
func NewTrustedPublisher(cfg *config.OIDCConfig) (*TrustedPublisher, error) {
	return NewTrustedPublisherWithContext(context.Background(), cfg)
}

// NewTrustedPublisherWithContext runs OIDC discovery against the issuer and
// builds the token verifier. The context bounds the discovery request only;
// each verification call carries its own.
func NewTrustedPublisherWithContext(ctx context.Context, cfg *config.OIDCConfig) (*TrustedPublisher, error) {
	switch {
	case !cfg.Enabled:
		return nil, errors.New("OIDC trusted publishing is not enabled")
	case cfg.IssuerURL == "":
		return nil, errors.New("OIDC issuer URL is required")
	case cfg.Audience == "":
		return nil, errors.New("OIDC audience is required")
	case len(cfg.Publishers) == 0:
		return nil, errors.New("at least one OIDC publisher binding is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	bindings := make(map[string]string, len(cfg.Publishers))
	for _, p := range cfg.Publishers {
		bindings[p.Subject] = p.Username
	}

	return &TrustedPublisher{
		// The library checks the aud claim through its client ID matching.
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Audience}),
		bindings: bindings,
	}, nil
}

// VerifyIDToken checks signature, issuer, audience, and expiry on the raw
// identity token and returns its subject claim.
func (tp *TrustedPublisher) VerifyIDToken(ctx context.Context, rawIDToken string) (string, error) {
	idToken, err := tp.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("failed to verify ID token: %w", err)
	}
	if idToken.Subject == "" {
		return "", errors.New("ID token missing 'sub' claim")
	}
	return idToken.Subject, nil
}

// LookupBinding resolves a verified token subject to the registry username
// allowed to publish under it. Subjects without a binding are rejected even
// when the identity token itself verifies.
func (tp *TrustedPublisher) LookupBinding(subject string) (string, bool) {
	username, ok := tp.bindings[subject]
	return username, ok
}
