// Package upstream forwards tool invocations to the backend implementation.
// The gateway never mints credentials of its own: the caller's bearer token
// is forwarded as-is so the backend can re-verify it independently.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/davidcrowe/gatewaystack-chatgpt-starter/config"
)

// ErrConfig indicates the backend base address is misconfigured. Surfaced as
// a request-time error; the process keeps running.
var ErrConfig = errors.New("upstream: configuration error")

// Error is a transport-level upstream failure: the backend was unreachable or
// answered outside 2xx. Logical failures (a 2xx carrying ok:false) are not
// Errors; they come back in Result.
type Error struct {
	Status int // 0 when the transport itself failed
	Body   any // decoded error body when the backend sent one
	detail string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream: http %d: %s", e.Status, e.detail)
	}
	return fmt.Sprintf("upstream: %s", e.detail)
}

// Result is the normalized backend response. Payload is the decoded JSON
// value; OK reflects the conventional boolean "ok" field, where absent means
// success.
type Result struct {
	Payload any
	OK      bool
}

// Client invokes backend tools over HTTP. Safe for concurrent use.
type Client struct {
	http *http.Client
}

// New returns a Client with a bounded per-call timeout. Calls are not
// retried: a half-completed invocation must not be replayed.
func New() *Client {
	return &Client{http: &http.Client{Timeout: 30 * time.Second}}
}

// ResolveBaseURL picks the backend base address: an explicitly configured
// upstream URL wins; otherwise it is derived from the inbound request's
// forwarded headers (the co-located backend case). Known misconfiguration
// shapes are rejected before any dial is attempted.
func ResolveBaseURL(cfg config.Config, r *http.Request) (string, error) {
	base := cfg.UpstreamBaseURL
	if base == "" {
		derived, err := PublicBaseURL(r)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrConfig, err)
		}
		base = derived
	}
	base = strings.TrimRight(base, "/")

	if base == "" {
		return "", fmt.Errorf("%w: upstream base URL is empty", ErrConfig)
	}
	if config.ContainsPlaceholder(base) {
		return "", fmt.Errorf("%w: upstream base URL contains an unexpanded ${...} placeholder: %s", ErrConfig, base)
	}
	if cfg.IsProduction() && strings.Contains(strings.ToLower(base), "localhost") {
		return "", fmt.Errorf("%w: upstream base URL must not be localhost in production: %s", ErrConfig, base)
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return "", fmt.Errorf("%w: invalid upstream base URL %q: %v", ErrConfig, base, err)
	}
	return base, nil
}

// PublicBaseURL derives the externally reachable base URL of this service
// from the request's forwarded headers. Works behind reverse proxies that
// set X-Forwarded-Proto / X-Forwarded-Host.
func PublicBaseURL(r *http.Request) (string, error) {
	proto := firstForwarded(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	host := firstForwarded(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return "", errors.New("missing Host header; cannot derive public base URL")
	}
	return proto + "://" + host, nil
}

func firstForwarded(v string) string {
	if v == "" {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(v, ",", 2)[0])
}

// CallTool forwards a tool invocation to POST {base}{prefix}/{name} with the
// caller's bearer credential and JSON-encoded args. A 2xx response decodes
// into Result; anything else is an *Error.
func (c *Client) CallTool(ctx context.Context, baseURL, pathPrefix, name string, args any, bearer string) (*Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("upstream: encode args: %w", err)
	}

	endpoint := baseURL + pathPrefix + "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{detail: err.Error()}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 2<<20))
	if err != nil {
		return nil, &Error{Status: res.StatusCode, detail: err.Error()}
	}

	var payload any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload = map[string]any{"raw": string(raw)}
		}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &Error{Status: res.StatusCode, Body: payload, detail: "backend returned non-2xx"}
	}

	ok := true
	if m, isMap := payload.(map[string]any); isMap {
		if v, present := m["ok"].(bool); present && !v {
			ok = false
		}
	}
	return &Result{Payload: payload, OK: ok}, nil
}

// FetchJSONWithRetry fetches a JSON document with a bounded number of
// attempts, capped linear backoff (150ms x attempt), and a per-attempt
// timeout. Used only for discovery metadata, which is safe to refetch.
func FetchJSONWithRetry(ctx context.Context, client *http.Client, rawURL string, tries int, perAttempt time.Duration) (json.RawMessage, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if tries <= 0 {
		tries = 3
	}
	var lastErr error
	for i := 0; i < tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * 150 * time.Millisecond):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		doc, err := fetchJSONOnce(attemptCtx, client, rawURL)
		cancel()
		if err == nil {
			return doc, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func fetchJSONOnce(ctx context.Context, client *http.Client, rawURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("http_%d", res.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var probe json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON from %s: %w", rawURL, err)
	}
	return probe, nil
}
