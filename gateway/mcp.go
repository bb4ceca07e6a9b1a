package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/davidcrowe/gatewaystack-chatgpt-starter/auth"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/config"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/jsonrpc"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/logctx"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/tools"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/upstream"
)

// mcpProtocolVersion is the protocol revision reported from initialize.
const mcpProtocolVersion = "2024-11-05"

func jsonrpcLooksLike(body []byte) bool {
	return jsonrpc.LooksLikeRequest(body)
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools toolsCapability `json:"tools"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type listToolsResult struct {
	Tools []tools.Descriptor `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type callToolResult struct {
	Content           []contentBlock `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// handleMCP dispatches one JSON-RPC envelope. Auth boundaries are per method:
// initialize is open so clients can handshake and discover the auth
// requirement, everything that exposes or invokes tools verifies first.
func (h *Handler) handleMCP(w http.ResponseWriter, r *http.Request, cfg config.Config, body []byte) {
	req, errResp := jsonrpc.DecodeRequest(body)
	if errResp != nil {
		writeJSON(w, http.StatusBadRequest, errResp)
		return
	}

	ctx := logctx.WithRPCMessage(r.Context(), &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
	})
	r = r.WithContext(ctx)
	h.log.InfoContext(ctx, "mcp.request")

	switch req.Method {
	case "initialize":
		h.rpcInitialize(w, req)
	case "notifications/initialized":
		// The only notification in the dialect. Acknowledged with 202 and an
		// empty body; everything else always gets a response envelope.
		w.WriteHeader(http.StatusAccepted)
	case "tools/list":
		h.rpcListTools(w, r, cfg, req)
	case "tools/call":
		h.rpcCallTool(w, r, cfg, req)
	default:
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil))
	}
}

func (h *Handler) rpcInitialize(w http.ResponseWriter, req *jsonrpc.Request) {
	resp, err := jsonrpc.NewResultResponse(req.ID, initializeResult{
		ProtocolVersion: mcpProtocolVersion,
		Capabilities:    serverCapabilities{Tools: toolsCapability{ListChanged: false}},
		ServerInfo:      serverInfo{Name: h.serverName, Version: h.serverVersion},
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) rpcListTools(w http.ResponseWriter, r *http.Request, cfg config.Config, req *jsonrpc.Request) {
	if _, _, err := h.verifyBearer(r.Context(), r, cfg); err != nil {
		h.writeRPCAuthError(w, r, cfg, req, err)
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, listToolsResult{Tools: h.catalog.Descriptors()})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) rpcCallTool(w http.ResponseWriter, r *http.Request, cfg config.Config, req *jsonrpc.Request) {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusBadRequest,
				jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params", nil))
			return
		}
	}
	if params.Name == "" {
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: missing tool name", nil))
		return
	}

	ctx := logctx.WithToolCallData(r.Context(), &logctx.ToolCallData{ToolName: params.Name})
	r = r.WithContext(ctx)

	// Existence before authorization: an unknown name is a 404 regardless of
	// the caller's credential.
	if !h.catalog.Known(params.Name) {
		writeJSON(w, http.StatusNotFound,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Unknown tool: "+params.Name, nil))
		return
	}

	identity, token, err := h.verifyBearer(ctx, r, cfg)
	if err != nil {
		h.writeRPCAuthError(w, r, cfg, req, err)
		return
	}
	if err := h.authorizeTool(ctx, identity, params.Name); err != nil {
		h.writeRPCAuthError(w, r, cfg, req, err)
		return
	}

	var args any
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			writeJSON(w, http.StatusBadRequest,
				jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: arguments must be JSON", nil))
			return
		}
	}

	baseURL, err := upstream.ResolveBaseURL(cfg, r)
	if err != nil {
		h.log.ErrorContext(ctx, "upstream.resolve.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Gateway configuration error", nil))
		return
	}

	result, err := h.invoker.CallTool(ctx, baseURL, cfg.UpstreamPathPrefix, params.Name, args, token)
	if err != nil {
		var ue *upstream.Error
		if errors.As(err, &ue) {
			h.log.ErrorContext(ctx, "upstream.call.fail",
				slog.Int("status", ue.Status), slog.String("err", ue.Error()))
			writeJSON(w, http.StatusBadGateway,
				jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Upstream error", ue.Body))
			return
		}
		h.log.ErrorContext(ctx, "upstream.call.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil))
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, shapeCallResult(params.Name, result))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// shapeCallResult normalizes a backend result into the tools/call reply: a
// text block from the per-tool summarizer plus the structured payload. A
// logical backend failure (ok:false) becomes isError without losing the body.
func shapeCallResult(toolName string, result *upstream.Result) callToolResult {
	summary, structured := tools.Summarize(toolName, result.Payload)
	if summary == "" {
		summary = tools.FallbackText(result.Payload)
	}
	if structured == nil {
		if _, isObj := result.Payload.(map[string]any); isObj {
			structured = result.Payload
		}
	}
	return callToolResult{
		Content:           []contentBlock{{Type: "text", Text: summary}},
		StructuredContent: structured,
		IsError:           !result.OK,
	}
}

// writeRPCAuthError renders an auth failure on the JSON-RPC surface: the
// WWW-Authenticate challenge rides on the HTTP response while the body stays a
// proper JSON-RPC error with the dialect's unauthorized code. Callers only
// learn invalid_token vs insufficient_scope; the precise failure kind stays in
// the server log.
func (h *Handler) writeRPCAuthError(w http.ResponseWriter, r *http.Request, cfg config.Config, req *jsonrpc.Request, err error) {
	status := http.StatusUnauthorized
	message := "Unauthorized"
	errCode := "invalid_token"

	var se *auth.ScopeError
	if errors.As(err, &se) {
		status = http.StatusForbidden
		message = "insufficient_scope"
		errCode = "insufficient_scope"
	}

	w.Header().Set(wwwAuthenticateHeader, h.challenge(r, cfg, errCode))

	var data any
	if se != nil {
		data = map[string]any{"required": se.Need}
	}
	writeJSON(w, status,
		jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnauthorized, message, data))
}
