package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidcrowe/gatewaystack-chatgpt-starter/auth"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/config"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/logctx"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/upstream"
)

// handleRESTToolCall serves POST /{toolName}: the same verify, authorize,
// forward pipeline as tools/call, but shaped as the flat REST envelope instead
// of a JSON-RPC result.
func (h *Handler) handleRESTToolCall(w http.ResponseWriter, r *http.Request, cfg config.Config, body []byte) {
	started := time.Now()
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	toolName := lastPathSegment(r.URL.Path)
	if toolName == "" {
		writeJSON(w, http.StatusBadRequest, restEnvelope{
			OK:        false,
			Error:     &restError{Code: "NO_TOOL", Message: "no tool name in path"},
			RequestID: requestID,
		})
		return
	}

	ctx := logctx.WithToolCallData(r.Context(), &logctx.ToolCallData{ToolName: toolName})
	r = r.WithContext(ctx)

	identity, token, err := h.verifyBearer(ctx, r, cfg)
	if err != nil {
		w.Header().Set(wwwAuthenticateHeader, h.challenge(r, cfg, "invalid_token"))
		writeJSON(w, http.StatusUnauthorized, restEnvelope{
			OK:        false,
			Error:     &restError{Code: "UNAUTHORIZED", Message: "invalid or missing bearer token"},
			RequestID: requestID,
		})
		return
	}
	uid := subjectToUID(identity.Subject)

	if !h.catalog.Known(toolName) {
		writeJSON(w, http.StatusNotFound, restEnvelope{
			OK:        false,
			Error:     &restError{Code: "unknown_tool", Message: "Unknown tool: " + toolName},
			RequestID: requestID,
			UID:       uid,
		})
		return
	}

	if err := h.authorizeTool(ctx, identity, toolName); err != nil {
		var se *auth.ScopeError
		details := any(nil)
		if errors.As(err, &se) {
			details = map[string]any{"required": se.Need, "granted": se.Have}
		}
		w.Header().Set(wwwAuthenticateHeader, h.challenge(r, cfg, "insufficient_scope"))
		writeJSON(w, http.StatusForbidden, restEnvelope{
			OK:        false,
			Error:     &restError{Code: "INSUFFICIENT_SCOPE", Message: "missing required scope", Details: details},
			RequestID: requestID,
			UID:       uid,
		})
		return
	}

	var args any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeJSON(w, http.StatusBadRequest, restEnvelope{
				OK:        false,
				Error:     &restError{Code: "BAD_REQUEST", Message: "request body must be JSON"},
				RequestID: requestID,
				UID:       uid,
			})
			return
		}
	}

	baseURL, err := upstream.ResolveBaseURL(cfg, r)
	if err != nil {
		h.log.ErrorContext(ctx, "upstream.resolve.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, restEnvelope{
			OK:        false,
			Error:     &restError{Code: "GATEWAY_ERROR", Message: "gateway configuration error"},
			RequestID: requestID,
			ElapsedMs: elapsedSince(started),
			UID:       uid,
		})
		return
	}

	result, err := h.invoker.CallTool(ctx, baseURL, cfg.UpstreamPathPrefix, toolName, args, token)
	if err != nil {
		status := http.StatusBadGateway
		env := restEnvelope{
			OK:        false,
			Error:     &restError{Code: "UPSTREAM_ERROR", Message: "backend call failed"},
			RequestID: requestID,
			ElapsedMs: elapsedSince(started),
			UID:       uid,
		}
		var ue *upstream.Error
		if errors.As(err, &ue) {
			env.Error.Details = ue.Body
		}
		h.log.ErrorContext(ctx, "upstream.call.fail", slog.String("err", err.Error()))
		writeJSON(w, status, env)
		return
	}

	if !result.OK {
		// The backend answered 2xx but flagged failure; surface it as a
		// backend error rather than pretending success.
		writeJSON(w, http.StatusInternalServerError, restEnvelope{
			OK:        false,
			Error:     &restError{Code: "BACKEND_ERROR", Message: "backend returned ok:false", Details: result.Payload},
			RequestID: requestID,
			ElapsedMs: elapsedSince(started),
			UID:       uid,
		})
		return
	}

	writeJSON(w, http.StatusOK, restEnvelope{
		OK:        true,
		Data:      result.Payload,
		RequestID: requestID,
		ElapsedMs: elapsedSince(started),
		UID:       uid,
	})
}

// handleHealth answers GET / with a small liveness document listing the
// discovery endpoints.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "tool-gateway",
		"message": "POST a JSON-RPC envelope or /{toolName} with a bearer token.",
		"well_known": []string{
			"/.well-known/oauth-protected-resource",
			"/.well-known/oauth-authorization-server",
			"/.well-known/openid-configuration",
		},
	})
}

// handleDebugToken verifies the presented bearer and echoes the identity's
// non-sensitive claims. A development aid; it never returns the token itself.
func (h *Handler) handleDebugToken(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	identity, _, err := h.verifyBearer(r.Context(), r, cfg)
	if err != nil {
		w.Header().Set(wwwAuthenticateHeader, h.challenge(r, cfg, "invalid_token"))
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"ok":    false,
			"error": "token verification failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"sub":         identity.Subject,
		"iss":         identity.Issuer,
		"aud":         identity.Claims["aud"],
		"scope":       identity.Scope,
		"permissions": identity.Permissions,
		"granted":     identity.GrantedScopes(),
		"expires_at":  identity.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func lastPathSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}
