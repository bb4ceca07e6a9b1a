package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request represents an inbound JSON-RPC request or notification.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response. The ID field is always serialized,
// echoing the request's id or null when the request carried none.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// LooksLikeRequest reports whether the body parses as a JSON-RPC 2.0 envelope:
// an object with jsonrpc "2.0" and a string method. It never errors; malformed
// bodies simply return false so the caller can fall back to path routing.
func LooksLikeRequest(body []byte) bool {
	var probe struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         json.RawMessage `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	if probe.JSONRPCVersion != ProtocolVersion {
		return false
	}
	var method string
	return json.Unmarshal(probe.Method, &method) == nil && method != ""
}

// DecodeRequest parses the body into a Request, distinguishing unparseable
// JSON (parse error) from a structurally invalid envelope (invalid request).
func DecodeRequest(body []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewErrorResponse(nil, ErrorCodeParseError, "Parse error", nil)
	}
	if req.JSONRPCVersion != ProtocolVersion || req.Method == "" {
		return nil, NewErrorResponse(req.ID, ErrorCodeInvalidRequest, "Invalid Request", nil)
	}
	return &req, nil
}
