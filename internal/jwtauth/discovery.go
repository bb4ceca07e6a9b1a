package jwtauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// DiscoverJWKSURI performs OIDC discovery against the issuer and returns the
// jwks_uri the provider advertises. Run once at startup to fill in the
// key-set URL when no explicit override is configured; the conventional
// issuer-derived default stays in place if discovery fails.
func DiscoverJWKSURI(ctx context.Context, issuer string) (string, error) {
	if issuer == "" {
		return "", errors.New("jwtauth: issuer is required for discovery")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("jwtauth: oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("jwtauth: invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return "", errors.New("jwtauth: discovery metadata has no jwks_uri")
	}
	return meta.JwksURI, nil
}
