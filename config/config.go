package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Config is the gateway's environment-derived configuration. Required values
// are fatal at startup; everything else has a workable default.
type Config struct {
	// ListenAddr is the HTTP bind address. ENV: LISTEN_ADDR
	ListenAddr string `env:"LISTEN_ADDR,default=:3000"`
	// Environment gates development-only allowances such as localhost
	// upstream URLs. ENV: ENVIRONMENT
	Environment string `env:"ENVIRONMENT,default=dev"`

	// Issuer is the OAuth authorization server issuer URL, compared
	// byte-exact against token iss claims. ENV: OAUTH_ISSUER
	Issuer string `env:"OAUTH_ISSUER,required"`
	// Audience is the API identifier expected in token aud claims. Empty
	// disables the audience check. ENV: OAUTH_AUDIENCE
	Audience string `env:"OAUTH_AUDIENCE"`
	// Scopes is the space-separated default scope string advertised to
	// clients. ENV: OAUTH_SCOPES
	Scopes string `env:"OAUTH_SCOPES,default=openid email profile"`
	// JWKSURI overrides the key-set URL derived from the issuer. ENV: JWKS_URI
	JWKSURI string `env:"JWKS_URI"`
	// OIDCDiscovery overrides the openid-configuration URL proxied by the
	// discovery responder. ENV: OIDC_DISCOVERY
	OIDCDiscovery string `env:"OIDC_DISCOVERY"`

	// UpstreamBaseURL is the backend base address. Empty means derive it from
	// the inbound request's forwarded headers. ENV: UPSTREAM_BASE_URL
	UpstreamBaseURL string `env:"UPSTREAM_BASE_URL"`
	// UpstreamPathPrefix is prepended to tool names when forwarding.
	// ENV: UPSTREAM_PATH_PREFIX
	UpstreamPathPrefix string `env:"UPSTREAM_PATH_PREFIX,default=/demo/tools"`

	// AppOrigin is the CORS allow-origin value. ENV: APP_ORIGIN
	AppOrigin string `env:"APP_ORIGIN,default=*"`

	// PIISalt keys the HMAC that pseudonymizes OAuth subjects in the demo
	// backend. The CRM fails closed without it. ENV: PII_SALT
	PIISalt string `env:"PII_SALT"`
	// CRMDBPath is the demo CRM's sqlite file. ENV: CRM_DB_PATH
	CRMDBPath string `env:"CRM_DB_PATH,default=./data/crm.sqlite"`

	// OverlayPath names an optional JSON file whose values override the
	// environment at runtime; the provider watches it for changes.
	// ENV: CONFIG_OVERLAY_PATH
	OverlayPath string `env:"CONFIG_OVERLAY_PATH"`
}

// Load decodes Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.Issuer); err != nil {
		return Config{}, fmt.Errorf("config: OAUTH_ISSUER is not a valid URL: %w", err)
	}
	return cfg, nil
}

// IssuerTrimmed returns the issuer with trailing slashes removed, for URL
// construction only. Token iss claims are still matched against the raw
// configured Issuer.
func (c Config) IssuerTrimmed() string {
	return strings.TrimRight(c.Issuer, "/")
}

// JWKSURL returns the configured key-set URL, defaulting to the issuer's
// conventional jwks.json location.
func (c Config) JWKSURL() string {
	if c.JWKSURI != "" {
		return c.JWKSURI
	}
	if c.Issuer == "" {
		return ""
	}
	return c.IssuerTrimmed() + "/.well-known/jwks.json"
}

// DiscoveryURL returns the openid-configuration URL to proxy, defaulting to
// the issuer's. A configured relative value is resolved against the issuer.
func (c Config) DiscoveryURL() string {
	raw := c.OIDCDiscovery
	if raw == "" {
		return c.IssuerTrimmed() + "/.well-known/openid-configuration"
	}
	if strings.HasPrefix(raw, "http") {
		return raw
	}
	return c.IssuerTrimmed() + "/" + strings.TrimLeft(raw, "/")
}

// DefaultScopes returns the split default scope string.
func (c Config) DefaultScopes() []string {
	return strings.Fields(c.Scopes)
}

// IsProduction reports whether the process runs in a production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production") || strings.EqualFold(c.Environment, "prod")
}

var placeholderRe = regexp.MustCompile(`\$\{[^}]+\}`)

// ContainsPlaceholder reports whether v carries an unexpanded ${...} token,
// the signature of a templated env value that never got substituted.
func ContainsPlaceholder(v string) bool {
	return placeholderRe.MatchString(v)
}

// WarnIfSuspiciousEnv logs a warning for upstream-related env values that
// match known misconfiguration shapes. Purely diagnostic; request-time
// guardrails in the upstream package reject these for real.
func WarnIfSuspiciousEnv(log *slog.Logger) {
	candidates := []string{
		"UPSTREAM_BASE_URL",
		"TOOLS_BASE_URL",
		"TOOL_BASE_URL",
	}
	for _, key := range candidates {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if ContainsPlaceholder(v) {
			log.Warn("env value contains an unexpanded ${...} placeholder",
				slog.String("key", key), slog.String("value", v))
		}
		if strings.Contains(strings.ToLower(v), "localhost") {
			log.Warn("env value contains localhost; this breaks behind a reverse proxy",
				slog.String("key", key), slog.String("value", v))
		}
		if _, err := url.ParseRequestURI(v); err != nil {
			log.Warn("env value is not a valid URL",
				slog.String("key", key), slog.String("value", v))
		}
	}
}
