package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davidcrowe/gatewaystack-chatgpt-starter/config"
)

func TestResolveBaseURL_ConfiguredWins(t *testing.T) {
	cfg := config.Config{UpstreamBaseURL: "https://backend.example.com/"}
	r := httptest.NewRequest(http.MethodPost, "http://gw.example.com/echo", nil)
	r.Header.Set("X-Forwarded-Host", "other.example.com")

	got, err := ResolveBaseURL(cfg, r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://backend.example.com" {
		t.Errorf("base = %q", got)
	}
}

func TestResolveBaseURL_DerivesFromForwardedHeaders(t *testing.T) {
	cfg := config.Config{}
	r := httptest.NewRequest(http.MethodPost, "http://internal:3000/echo", nil)
	r.Header.Set("X-Forwarded-Proto", "https, http")
	r.Header.Set("X-Forwarded-Host", "gw.example.com, internal:3000")

	got, err := ResolveBaseURL(cfg, r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://gw.example.com" {
		t.Errorf("base = %q", got)
	}
}

func TestResolveBaseURL_Guardrails(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://gw.example.com/echo", nil)

	cases := []struct {
		name string
		cfg  config.Config
	}{
		{"unexpanded placeholder", config.Config{UpstreamBaseURL: "https://${RAILWAY_STATIC_URL}"}},
		{"localhost in production", config.Config{UpstreamBaseURL: "http://localhost:3000", Environment: "production"}},
		{"unparseable", config.Config{UpstreamBaseURL: "::::not-a-url"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolveBaseURL(tc.cfg, r)
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestResolveBaseURL_LocalhostAllowedInDev(t *testing.T) {
	cfg := config.Config{UpstreamBaseURL: "http://localhost:3000", Environment: "dev"}
	r := httptest.NewRequest(http.MethodPost, "http://gw/echo", nil)
	if _, err := ResolveBaseURL(cfg, r); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestCallTool_ForwardsBearerAndDetectsOKFalse(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "reason": "nope"})
	}))
	defer srv.Close()

	c := New()
	res, err := c.CallTool(context.Background(), srv.URL, "/demo/tools", "echo",
		map[string]any{"message": "hi"}, "tok-123")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotPath != "/demo/tools/echo" {
		t.Errorf("path = %q", gotPath)
	}
	if res.OK {
		t.Error("ok:false body must yield OK=false")
	}
}

func TestCallTool_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "bad args"})
	}))
	defer srv.Close()

	c := New()
	_, err := c.CallTool(context.Background(), srv.URL, "/demo/tools", "echo", nil, "tok")
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ue.Status != http.StatusBadRequest {
		t.Errorf("status = %d", ue.Status)
	}
	if ue.Body == nil {
		t.Error("error body should carry the decoded payload")
	}
}

func TestCallTool_UnreachableBackendIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := New()
	_, err := c.CallTool(context.Background(), base, "/demo/tools", "echo", nil, "tok")
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ue.Status != 0 {
		t.Errorf("status = %d, want 0 for a transport failure", ue.Status)
	}
}

func TestCallTool_BackendTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := &Client{http: &http.Client{Timeout: 100 * time.Millisecond}}
	_, err := c.CallTool(context.Background(), srv.URL, "/demo/tools", "echo", nil, "tok")
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ue.Status != 0 {
		t.Errorf("status = %d, want 0 for a timeout", ue.Status)
	}
}

func TestCallTool_MissingOKFieldMeansSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "hi"})
	}))
	defer srv.Close()

	c := New()
	res, err := c.CallTool(context.Background(), srv.URL, "/demo/tools", "echo", nil, "tok")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !res.OK {
		t.Error("payload without ok field must be success")
	}
}

func TestFetchJSONWithRetry_RecoversAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"issuer": "https://x"})
	}))
	defer srv.Close()

	doc, err := FetchJSONWithRetry(context.Background(), srv.Client(), srv.URL, 3, time.Second)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	var out map[string]any
	if err := json.Unmarshal(doc, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestFetchJSONWithRetry_ExhaustsBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := FetchJSONWithRetry(context.Background(), srv.Client(), srv.URL, 3, time.Second)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}
