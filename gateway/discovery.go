package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/davidcrowe/gatewaystack-chatgpt-starter/config"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/wellknown"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/upstream"
)

const (
	discoveryFetchTries   = 3
	discoveryFetchTimeout = 4 * time.Second
)

// handleProtectedResourceMetadata serves the document bearer clients use to
// find the authorization server and scope set for this resource. The
// authorization server listed is this gateway's own public base URL, so
// clients route discovery back through the gateway.
func (h *Handler) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	base, err := upstream.PublicBaseURL(r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, restEnvelope{
			OK:    false,
			Error: &restError{Code: "GATEWAY_ERROR", Message: "cannot derive public base URL"},
		})
		return
	}

	scopes := unionScopes(cfg.DefaultScopes(), h.catalog.RequiredScopes())
	writeJSON(w, http.StatusOK, wellknown.ProtectedResourceMetadata{
		AuthorizationServers:   []string{base},
		ScopesSupported:        scopes,
		BearerMethodsSupported: []string{"header"},
		Resource:               cfg.Audience,
	})
}

// handleAuthServerMetadata synthesizes a minimal authorization-server document
// from the configured issuer using conventional endpoint paths.
func (h *Handler) handleAuthServerMetadata(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	issuer := cfg.IssuerTrimmed()
	writeJSON(w, http.StatusOK, wellknown.AuthServerMetadata{
		Issuer:                 issuer,
		AuthorizationEndpoint:  issuer + "/authorize",
		TokenEndpoint:          issuer + "/oauth/token",
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code"},
	})
}

// handleOpenIDConfiguration proxies the identity provider's
// openid-configuration verbatim. Failures after the retry budget become a 502
// rather than a synthesized document; serving stale or guessed OIDC data would
// send clients to wrong endpoints.
func (h *Handler) handleOpenIDConfiguration(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	doc, err := upstream.FetchJSONWithRetry(r.Context(), h.httpc, cfg.DiscoveryURL(), discoveryFetchTries, discoveryFetchTimeout)
	if err != nil {
		h.log.ErrorContext(r.Context(), "discovery.fetch.fail",
			slog.String("url", cfg.DiscoveryURL()), slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  "discovery_fetch_failed",
			"detail": err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func unionScopes(a, b []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
