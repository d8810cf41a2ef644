// security.go provides Gin middleware that injects protective HTTP response headers including
// Content-Security-Policy, HSTS, X-Frame-Options, and other security directives.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig selects which protective headers go out and with what
// values. Zero-valued fields suppress their header entirely; the cross-origin
// isolation set is always emitted.
type SecurityHeadersConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int // seconds
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	EnableFrameOptions bool
	// FrameOptionsValue is DENY or SAMEORIGIN.
	FrameOptionsValue string

	// EnableContentTypeOptions emits X-Content-Type-Options: nosniff.
	EnableContentTypeOptions bool
	// EnableXSSProtection emits the legacy X-XSS-Protection header.
	EnableXSSProtection bool

	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecurityHeadersConfig returns sensible defaults for the HTML
// surfaces: the landing page and the simple index. Inline styles are allowed
// because the landing page carries its stylesheet inline; installers like pip
// ignore these headers entirely.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:               true,
		HSTSMaxAge:               31536000, // 1 year
		HSTSIncludeSubdomains:    true,
		HSTSPreload:              false, // preload listing is hard to undo
		EnableFrameOptions:       true,
		FrameOptionsValue:        "DENY",
		EnableContentTypeOptions: true,
		EnableXSSProtection:      true,
		ContentSecurityPolicy:    "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'; connect-src 'self'",
		ReferrerPolicy:           "strict-origin-when-cross-origin",
		PermissionsPolicy:        "geolocation=(), microphone=(), camera=()",
	}
}

// APISecurityHeadersConfig returns headers for the JSON API endpoints. Nothing
// on these routes renders in a browser, so the CSP locks everything down and
// the legacy XSS filter header is omitted.
func APISecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:               true,
		HSTSMaxAge:               31536000,
		HSTSIncludeSubdomains:    true,
		HSTSPreload:              false,
		EnableFrameOptions:       true,
		FrameOptionsValue:        "DENY",
		EnableContentTypeOptions: true,
		EnableXSSProtection:      false,
		ContentSecurityPolicy:    "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:           "no-referrer",
		PermissionsPolicy:        "",
	}
}

// SecurityHeaders returns middleware that stamps the configured protective
// headers on every response. The header set depends only on the config, so it
// is assembled once here rather than on each request.
func SecurityHeaders(config SecurityHeadersConfig) gin.HandlerFunc {
	headers := headersFor(config)
	return func(c *gin.Context) {
		for _, h := range headers {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}

// headersFor flattens the config into name/value pairs.
func headersFor(conf SecurityHeadersConfig) [][2]string {
	var headers [][2]string
	add := func(name, value string) {
		headers = append(headers, [2]string{name, value})
	}

	if conf.EnableHSTS {
		hsts := "max-age=" + strconv.Itoa(conf.HSTSMaxAge)
		if conf.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
		if conf.HSTSPreload {
			hsts += "; preload"
		}
		add("Strict-Transport-Security", hsts)
	}
	if conf.EnableFrameOptions && conf.FrameOptionsValue != "" {
		add("X-Frame-Options", conf.FrameOptionsValue)
	}
	if conf.EnableContentTypeOptions {
		add("X-Content-Type-Options", "nosniff")
	}
	// Legacy, but still honored by older browsers.
	if conf.EnableXSSProtection {
		add("X-XSS-Protection", "1; mode=block")
	}
	if conf.ContentSecurityPolicy != "" {
		add("Content-Security-Policy", conf.ContentSecurityPolicy)
	}
	if conf.ReferrerPolicy != "" {
		add("Referrer-Policy", conf.ReferrerPolicy)
	}
	if conf.PermissionsPolicy != "" {
		add("Permissions-Policy", conf.PermissionsPolicy)
	}

	// Always-on isolation headers.
	add("X-Permitted-Cross-Domain-Policies", "none")
	add("Cross-Origin-Embedder-Policy", "require-corp")
	add("Cross-Origin-Opener-Policy", "same-origin")
	add("Cross-Origin-Resource-Policy", "same-origin")

	return headers
}
