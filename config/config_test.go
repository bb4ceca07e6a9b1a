package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_RequiresIssuer(t *testing.T) {
	t.Setenv("OAUTH_ISSUER", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without OAUTH_ISSUER")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OAUTH_ISSUER", "https://issuer.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":3000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Scopes != "openid email profile" {
		t.Errorf("Scopes = %q", cfg.Scopes)
	}
	if cfg.UpstreamPathPrefix != "/demo/tools" {
		t.Errorf("UpstreamPathPrefix = %q", cfg.UpstreamPathPrefix)
	}
}

func TestJWKSURL_DefaultsFromIssuer(t *testing.T) {
	cfg := Config{Issuer: "https://issuer.example.com/"}
	if got := cfg.JWKSURL(); got != "https://issuer.example.com/.well-known/jwks.json" {
		t.Errorf("JWKSURL = %q", got)
	}
	cfg.JWKSURI = "https://keys.example.com/jwks"
	if got := cfg.JWKSURL(); got != "https://keys.example.com/jwks" {
		t.Errorf("explicit JWKSURL = %q", got)
	}
}

func TestDiscoveryURL(t *testing.T) {
	cfg := Config{Issuer: "https://issuer.example.com"}
	if got := cfg.DiscoveryURL(); got != "https://issuer.example.com/.well-known/openid-configuration" {
		t.Errorf("default = %q", got)
	}
	cfg.OIDCDiscovery = "/custom/meta"
	if got := cfg.DiscoveryURL(); got != "https://issuer.example.com/custom/meta" {
		t.Errorf("relative = %q", got)
	}
	cfg.OIDCDiscovery = "https://other.example.com/meta"
	if got := cfg.DiscoveryURL(); got != "https://other.example.com/meta" {
		t.Errorf("absolute = %q", got)
	}
}

func TestContainsPlaceholder(t *testing.T) {
	if !ContainsPlaceholder("https://${RAILWAY_STATIC_URL}/api") {
		t.Error("unexpanded placeholder not detected")
	}
	if ContainsPlaceholder("https://api.example.com/$path") {
		t.Error("bare dollar sign is not a placeholder")
	}
}

func TestProvider_OverlayOverridesBase(t *testing.T) {
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "overlay.json")
	if err := os.WriteFile(overlayPath, []byte(`{"issuer":"https://new.example.com","audience":""}`), 0o600); err != nil {
		t.Fatal(err)
	}

	base := Config{
		Issuer:      "https://old.example.com",
		Audience:    "https://api.example.com",
		Scopes:      "openid",
		OverlayPath: overlayPath,
	}
	p := NewProvider(base, nil)

	snap := p.Snapshot()
	if snap.Issuer != "https://new.example.com" {
		t.Errorf("Issuer = %q, want overlay value", snap.Issuer)
	}
	// Explicit empty string in the overlay clears the audience.
	if snap.Audience != "" {
		t.Errorf("Audience = %q, want cleared", snap.Audience)
	}
	// Untouched fields keep base values.
	if snap.Scopes != "openid" {
		t.Errorf("Scopes = %q", snap.Scopes)
	}
}

func TestProvider_MissingOverlayKeepsBase(t *testing.T) {
	base := Config{
		Issuer:      "https://issuer.example.com",
		OverlayPath: filepath.Join(t.TempDir(), "nope.json"),
	}
	p := NewProvider(base, nil)
	if got := p.Snapshot().Issuer; got != "https://issuer.example.com" {
		t.Errorf("Issuer = %q", got)
	}
}

func TestProvider_InvalidOverlayIgnored(t *testing.T) {
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "overlay.json")
	if err := os.WriteFile(overlayPath, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	p := NewProvider(Config{Issuer: "https://keep.example.com", OverlayPath: overlayPath}, nil)
	if got := p.Snapshot().Issuer; got != "https://keep.example.com" {
		t.Errorf("Issuer = %q, want base value after bad overlay", got)
	}
}
