// Package gateway implements the protocol front door: it classifies inbound
// HTTP traffic (JSON-RPC envelope, discovery path, or REST tool call), runs
// bearer verification and scope authorization for tool-invoking paths, and
// shapes backend results into protocol-correct replies.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidcrowe/gatewaystack-chatgpt-starter/auth"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/config"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/jwtauth"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/logctx"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/tools"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/upstream"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	requestIDHeader       = "X-Request-Id"

	maxBodyBytes = 2 << 20
)

// Handler is the gateway's single http.Handler. Stateless per request; the
// only shared mutable state lives in the verifier's key-set cache.
type Handler struct {
	log      *slog.Logger
	cfgp     *config.Provider
	verifier *jwtauth.Verifier
	catalog  *tools.Catalog
	invoker  *upstream.Client
	httpc    *http.Client

	serverName    string
	serverVersion string
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the handler. Pair it with the
// logctx handler so request and RPC context lands on every record. If not
// provided, the default logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithServerInfo sets the name/version advertised from initialize.
func WithServerInfo(name, version string) Option {
	return func(h *Handler) {
		h.serverName = name
		h.serverVersion = version
	}
}

// New constructs the gateway handler.
func New(cfgp *config.Provider, verifier *jwtauth.Verifier, catalog *tools.Catalog, invoker *upstream.Client, opts ...Option) (*Handler, error) {
	if cfgp == nil {
		return nil, errors.New("config provider is required")
	}
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if invoker == nil {
		return nil, errors.New("invoker is required")
	}
	h := &Handler{
		log:           slog.Default(),
		cfgp:          cfgp,
		verifier:      verifier,
		catalog:       catalog,
		invoker:       invoker,
		httpc:         &http.Client{},
		serverName:    "gatewaystack-chatgpt-starter",
		serverVersion: "1.0.0",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
	})
	r = r.WithContext(ctx)

	// Last line of defense: nothing below may leak a panic (or a stack
	// trace) to the transport.
	defer func() {
		if rec := recover(); rec != nil {
			h.log.ErrorContext(ctx, "gateway.panic", slog.Any("panic", rec))
			writeJSON(w, http.StatusInternalServerError, restEnvelope{
				OK:    false,
				Error: &restError{Code: "GATEWAY_ERROR", Message: "internal server error"},
			})
		}
	}()

	cfg := h.cfgp.Snapshot()
	h.setCORS(w, cfg)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := r.URL.Path
	if r.Method == http.MethodGet && (path == "/favicon.ico" || path == "/favicon.png" || path == "/favicon.svg") {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var body []byte
	if r.Method == http.MethodPost {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, restEnvelope{
				OK:    false,
				Error: &restError{Code: "BAD_REQUEST", Message: "failed to read request body"},
			})
			return
		}
	}

	// JSON-RPC detection outranks path routing: any POST whose body parses
	// as an envelope is MCP traffic regardless of path. The literal /mcp
	// path is MCP even when the body does not parse, so malformed envelopes
	// still get a JSON-RPC-shaped parse error.
	if r.Method == http.MethodPost && (looksLikeJSONRPC(body) || path == "/mcp") {
		h.handleMCP(w, r, cfg, body)
		return
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		switch path {
		case "", "/":
			h.handleHealth(w, r)
			return
		case "/debug-token":
			h.handleDebugToken(w, r, cfg)
			return
		case "/.well-known/oauth-protected-resource":
			h.handleProtectedResourceMetadata(w, r, cfg)
			return
		case "/.well-known/oauth-authorization-server":
			h.handleAuthServerMetadata(w, r, cfg)
			return
		case "/.well-known/openid-configuration":
			h.handleOpenIDConfiguration(w, r, cfg)
			return
		}
	}

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, restEnvelope{
			OK:    false,
			Error: &restError{Code: "METHOD_NOT_ALLOWED"},
		})
		return
	}

	h.handleRESTToolCall(w, r, cfg, body)
}

func (h *Handler) setCORS(w http.ResponseWriter, cfg config.Config) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", cfg.AppOrigin)
	hdr.Set("Vary", "Origin")
	hdr.Set("Access-Control-Allow-Headers", "authorization,content-type,x-request-id")
	hdr.Set("Access-Control-Allow-Methods", "GET,HEAD,POST,OPTIONS")
	hdr.Set("Access-Control-Expose-Headers", "WWW-Authenticate, Location")
}

// bearerShape classifies the Authorization header without verifying anything:
// "jwt" for three dot-separated segments, "opaque" for any other non-empty
// token, "none" when absent. Used to short-circuit and prompt
// re-authentication before spending cryptographic work.
func bearerShape(r *http.Request) (token string, shape string) {
	const prefix = "Bearer "
	a := r.Header.Get(authorizationHeader)
	if !strings.HasPrefix(a, prefix) {
		return "", "none"
	}
	token = a[len(prefix):]
	if token == "" {
		return "", "none"
	}
	if len(strings.Split(token, ".")) == 3 {
		return token, "jwt"
	}
	return token, "opaque"
}

// verifyBearer runs full token verification with issuer/audience/key-set read
// freshly from the config snapshot. Returns the identity or a typed
// *jwtauth.VerifyError.
func (h *Handler) verifyBearer(ctx context.Context, r *http.Request, cfg config.Config) (*jwtauth.Identity, string, error) {
	token, shape := bearerShape(r)
	ctx = logctx.WithAuthShape(ctx, &logctx.AuthShape{
		HasAuth:    shape != "none",
		TokenShape: shape,
		TokenLen:   len(token),
	})
	if shape == "none" {
		return nil, "", &jwtauth.VerifyError{Kind: jwtauth.KindMissingBearer}
	}

	identity, err := h.verifier.Verify(ctx, token, jwtauth.Params{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		KeySetURI: cfg.JWKSURL(),
	})
	if err != nil {
		// Full detail lands in the server log only; callers get a generic
		// invalid_token.
		h.log.WarnContext(ctx, "auth.verify.fail", slog.String("err", err.Error()))
		return nil, "", err
	}
	h.log.InfoContext(ctx, "auth.verify.ok", slog.String("sub", identity.Subject))
	return identity, token, nil
}

// authorizeTool checks the identity's granted scopes against the tool's
// requirement.
func (h *Handler) authorizeTool(ctx context.Context, identity *jwtauth.Identity, toolName string) error {
	need := h.catalog.Scopes(toolName)
	if err := auth.RequireScopes(identity.GrantedScopes(), need); err != nil {
		h.log.WarnContext(ctx, "auth.scope.fail", slog.String("err", err.Error()))
		return err
	}
	return nil
}

// challenge builds the WWW-Authenticate value pointing clients at this
// gateway's protected-resource metadata.
func (h *Handler) challenge(r *http.Request, cfg config.Config, errCode string) string {
	base, err := upstream.PublicBaseURL(r)
	if err != nil {
		base = ""
	}
	scopes := h.catalog.RequiredScopes()
	if len(scopes) == 0 {
		scopes = cfg.DefaultScopes()
	}
	return auth.Challenge{
		MetadataURL: base + "/.well-known/oauth-protected-resource",
		Scopes:      scopes,
		Resource:    cfg.Audience,
		ErrorCode:   errCode,
	}.String()
}

// subjectToUID maps an OAuth subject to the gateway's user id namespace.
func subjectToUID(sub string) string {
	return "auth0:" + sub
}

func looksLikeJSONRPC(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	return jsonrpcLooksLike(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// restEnvelope is the flat REST response shape.
type restEnvelope struct {
	OK        bool       `json:"ok"`
	Data      any        `json:"data,omitempty"`
	Error     *restError `json:"error,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
	ElapsedMs int64      `json:"elapsedMs,omitempty"`
	UID       string     `json:"uid,omitempty"`
}

type restError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func elapsedSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
