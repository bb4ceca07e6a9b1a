// Package demoapi is the demo tool backend the gateway forwards to: a small
// HTTP service under /demo/tools/{toolName} that re-verifies the forwarded
// bearer on its own and implements the starter tools (identity proof, echo,
// per-user notes, mock CRM). It trusts nothing from the gateway except the
// token itself.
package demoapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/davidcrowe/gatewaystack-chatgpt-starter/config"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/demoapi/crm"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/jwtauth"
)

// MountPrefix is the backend's slice of the URL space.
const MountPrefix = "/demo/"

// PathPrefix is where the backend mounts its tool routes.
const PathPrefix = "/demo/tools/"

// Server implements the demo tool backend.
type Server struct {
	log      *slog.Logger
	cfgp     *config.Provider
	verifier *jwtauth.Verifier
	notes    *noteStore
	crm      *crm.Store
}

// NewServer constructs the backend. The verifier is typically shared with the
// gateway process when co-located, but verification still runs independently
// per request.
func NewServer(cfgp *config.Provider, verifier *jwtauth.Verifier, crmStore *crm.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log,
		cfgp:     cfgp,
		verifier: verifier,
		notes:    newNoteStore(),
		crm:      crmStore,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/demo/health" {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "demo-api"})
		return
	}
	if !strings.HasPrefix(r.URL.Path, PathPrefix) {
		writeError(w, http.StatusNotFound, "unknown route")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	toolName := strings.TrimPrefix(r.URL.Path, PathPrefix)
	if toolName == "" || strings.Contains(toolName, "/") {
		writeError(w, http.StatusNotFound, "unknown tool route")
		return
	}

	if r.Header.Get("Content-Type") != "" {
		mt, err := contenttype.GetMediaType(r)
		if err != nil || mt.Type != "application" || mt.Subtype != "json" {
			writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
			return
		}
	}

	cfg := s.cfgp.Snapshot()
	identity, err := s.verifyRequest(r, cfg)
	if err != nil {
		s.log.WarnContext(r.Context(), "demoapi.auth.fail", slog.String("err", err.Error()))
		writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
		return
	}

	var args map[string]any
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			writeError(w, http.StatusBadRequest, "body must be a JSON object")
			return
		}
	}

	s.dispatch(w, r, cfg, identity, toolName, args)
}

func (s *Server) verifyRequest(r *http.Request, cfg config.Config) (*jwtauth.Identity, error) {
	const prefix = "Bearer "
	a := r.Header.Get("Authorization")
	if !strings.HasPrefix(a, prefix) {
		return nil, &jwtauth.VerifyError{Kind: jwtauth.KindMissingBearer}
	}
	return s.verifier.Verify(r.Context(), a[len(prefix):], jwtauth.Params{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		KeySetURI: cfg.JWKSURL(),
	})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, cfg config.Config, identity *jwtauth.Identity, toolName string, args map[string]any) {
	switch toolName {
	case "whoami":
		s.handleWhoami(w, cfg, identity)
	case "echo":
		msg, _ := args["message"].(string)
		writeOK(w, map[string]any{"message": msg})
	case "seedMyNotes":
		count := 0
		if c, ok := args["count"].(float64); ok {
			count = int(c)
		}
		writeOK(w, map[string]any{"seeded": s.notes.seed(userStorageKey(cfg, identity), count)})
	case "listMyNotes":
		writeOK(w, map[string]any{"notes": s.notes.list(userStorageKey(cfg, identity))})
	case "addNote":
		text, _ := args["text"].(string)
		if strings.TrimSpace(text) == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		writeOK(w, map[string]any{"note": s.notes.add(userStorageKey(cfg, identity), text)})
	case "crmInit":
		s.handleCRMInit(w, r, cfg, identity)
	case "crmGetSalesSummary":
		s.handleCRMSalesSummary(w, r, cfg, identity, args)
	case "crmExplainAccess":
		s.handleCRMExplainAccess(w, cfg, identity)
	case "crmAttemptCrossUserRead":
		s.handleCRMCrossUserRead(w, cfg, identity, args)
	default:
		writeError(w, http.StatusNotFound, "unknown tool: "+toolName)
	}
}

func (s *Server) handleWhoami(w http.ResponseWriter, cfg config.Config, identity *jwtauth.Identity) {
	user := map[string]any{"sub": identity.Subject}
	if email, ok := identity.Claims["email"].(string); ok && email != "" {
		user["email"] = email
	}
	if key, err := crm.UserKey(cfg.PIISalt, identity.Subject); err == nil {
		user["user_key"] = crm.Label(key)
	}

	writeOK(w, map[string]any{
		"user": user,
		"authorization": map[string]any{
			"issuer":         identity.Issuer,
			"scope":          identity.Scope,
			"scope_list":     identity.GrantedScopes(),
			"permissions":    identity.Permissions,
			"exp_in_seconds": int(time.Until(identity.ExpiresAt).Seconds()),
		},
	})
}

func (s *Server) handleCRMInit(w http.ResponseWriter, r *http.Request, cfg config.Config, identity *jwtauth.Identity) {
	key, err := crm.UserKey(cfg.PIISalt, identity.Subject)
	if err != nil {
		s.log.ErrorContext(r.Context(), "demoapi.crm.nosalt")
		writeError(w, http.StatusInternalServerError, "CRM is not configured on this deployment")
		return
	}
	seeded, created, err := s.crm.EnsureUser(r.Context(), key)
	if err != nil {
		s.log.ErrorContext(r.Context(), "demoapi.crm.init.fail", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "CRM initialization failed")
		return
	}
	users, entries, err := s.crm.Counts(r.Context())
	if err != nil {
		s.log.ErrorContext(r.Context(), "demoapi.crm.counts.fail", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "CRM query failed")
		return
	}
	writeOK(w, map[string]any{
		"welcome": map[string]any{
			"user":         crm.Label(key),
			"seeded":       seeded,
			"createdDeals": created,
			"dbUsers":      users,
			"dbEntries":    entries,
			"try": []string{
				"What were my sales in Q2 2025?",
				"Explain what CRM data I can access.",
			},
		},
	})
}

func (s *Server) handleCRMSalesSummary(w http.ResponseWriter, r *http.Request, cfg config.Config, identity *jwtauth.Identity, args map[string]any) {
	key, err := crm.UserKey(cfg.PIISalt, identity.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "CRM is not configured on this deployment")
		return
	}
	year, _ := args["year"].(float64)
	quarter, _ := args["quarter"].(float64)
	if year == 0 || quarter == 0 {
		writeError(w, http.StatusBadRequest, "year and quarter are required")
		return
	}

	// Queries are hard-scoped to the caller's derived key; there is no
	// parameter that can widen them to another user.
	if _, _, err := s.crm.EnsureUser(r.Context(), key); err != nil {
		s.log.ErrorContext(r.Context(), "demoapi.crm.ensure.fail", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "CRM query failed")
		return
	}
	summary, err := s.crm.SalesSummary(r.Context(), key, int(year), int(quarter))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid summary window")
		return
	}
	writeOK(w, map[string]any{"summary": summary})
}

func (s *Server) handleCRMExplainAccess(w http.ResponseWriter, cfg config.Config, identity *jwtauth.Identity) {
	key, err := crm.UserKey(cfg.PIISalt, identity.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "CRM is not configured on this deployment")
		return
	}
	writeOK(w, map[string]any{
		"access": map[string]any{
			"you_are": crm.Label(key),
			"can": []string{
				"read your own deals",
				"read your own sales summaries",
			},
			"cannot": []string{
				"read any other user's CRM data",
			},
		},
	})
}

func (s *Server) handleCRMCrossUserRead(w http.ResponseWriter, cfg config.Config, identity *jwtauth.Identity, args map[string]any) {
	key, err := crm.UserKey(cfg.PIISalt, identity.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "CRM is not configured on this deployment")
		return
	}
	target, _ := args["targetUser"].(string)
	// Deliberate denial: the refusal is the demo.
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               false,
		"requested_target": target,
		"actual_scope":     crm.Label(key),
		"reason":           "CRM queries are bound to the authenticated identity",
	})
}

// userStorageKey picks the notes storage key: the pseudonymous CRM key when a
// salt is configured, the raw subject otherwise. Notes are in-memory only, so
// falling back to the subject leaks nothing at rest.
func userStorageKey(cfg config.Config, identity *jwtauth.Identity) string {
	if key, err := crm.UserKey(cfg.PIISalt, identity.Subject); err == nil {
		return key
	}
	return identity.Subject
}

func writeOK(w http.ResponseWriter, payload map[string]any) {
	writeJSON(w, http.StatusOK, payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
