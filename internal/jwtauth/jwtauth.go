package jwtauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FailureKind tags a verification failure. Every way a token can be rejected
// maps to exactly one kind; callers branch on the kind, never on error text.
type FailureKind string

const (
	KindMissingBearer        FailureKind = "missing_bearer"
	KindNotAJWS              FailureKind = "not_a_jws"
	KindEncryptedUnsupported FailureKind = "encrypted_unsupported"
	KindSignatureInvalid     FailureKind = "signature_invalid"
	KindIssuerMismatch       FailureKind = "issuer_mismatch"
	KindAudienceMismatch     FailureKind = "audience_mismatch"
	KindExpired              FailureKind = "expired"
	KindNoSubject            FailureKind = "no_subject"
)

// VerifyError is the typed failure returned by Verify. It never carries the
// token value.
type VerifyError struct {
	Kind   FailureKind
	Detail string
}

func (e *VerifyError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("jwtauth: %s", e.Kind)
	}
	return fmt.Sprintf("jwtauth: %s: %s", e.Kind, e.Detail)
}

// KindOf extracts the failure kind from err, or "" when err is not a
// verification failure.
func KindOf(err error) FailureKind {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// Params are the expected issuer/audience/key-set values for a single Verify
// call. They are read freshly per request by the caller so configuration
// changes apply without a restart.
type Params struct {
	Issuer    string
	Audience  string // empty disables the audience check
	KeySetURI string
}

// Identity is the verified claim set attached to a request. Immutable once
// constructed; never cached across requests.
type Identity struct {
	Subject     string
	Issuer      string
	Scope       string   // space-separated "scope" claim, possibly empty
	Permissions []string // "permissions" claim, possibly empty
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Claims      map[string]any
}

// GrantedScopes returns the deduplicated, sorted union of the space-separated
// scope claim and the permissions claim. Both encodings are honored so tokens
// from either identity-provider convention authorize correctly.
func (id *Identity) GrantedScopes() []string {
	set := map[string]struct{}{}
	for _, s := range strings.Fields(id.Scope) {
		set[s] = struct{}{}
	}
	for _, p := range id.Permissions {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Verifier validates bearer tokens against a remote key set.
type Verifier struct {
	resolver    *KeySetResolver
	log         *slog.Logger
	allowedAlgs []string
	leeway      time.Duration
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) VerifierOption {
	return func(v *Verifier) { v.allowedAlgs = append([]string(nil), algs...) }
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// NewVerifier constructs a Verifier sharing the given key-set resolver.
func NewVerifier(resolver *KeySetResolver, log *slog.Logger, opts ...VerifierOption) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	v := &Verifier{
		resolver:    resolver,
		log:         log,
		allowedAlgs: []string{"RS256"},
		leeway:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates the raw bearer token against params and returns the
// verified identity, or a *VerifyError. It never panics across this boundary
// and never logs the token value.
func (v *Verifier) Verify(ctx context.Context, token string, params Params) (*Identity, error) {
	if token == "" {
		return nil, &VerifyError{Kind: KindMissingBearer}
	}

	// Structural shape check before any cryptographic work. Two segments is
	// an opaque (non-JWS) token; five segments is an encrypted JWE the
	// gateway cannot decrypt.
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		if len(segments) == 5 {
			return nil, &VerifyError{Kind: KindEncryptedUnsupported, Detail: "access token is an encrypted JWE"}
		}
		return nil, &VerifyError{Kind: KindNotAJWS, Detail: fmt.Sprintf("token has %d segments, want 3", len(segments))}
	}

	// Decode the header for diagnostics only; verification still goes through
	// the key set below.
	alg, kid := peekHeader(segments[0])
	v.log.InfoContext(ctx, "auth.token.shape",
		slog.Int("segments", len(segments)),
		slog.String("header_alg", alg),
		slog.String("header_kid", kid),
	)
	v.log.InfoContext(ctx, "auth.expected",
		slog.String("issuer", params.Issuer),
		slog.String("audience", params.Audience),
		slog.String("jwks_uri", params.KeySetURI),
	)

	keyFn, err := v.resolver.Resolve(params.KeySetURI)
	if err != nil {
		return nil, &VerifyError{Kind: KindSignatureInvalid, Detail: err.Error()}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.allowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	parsed, err := parser.Parse(token, keyFn)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired),
			errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
			errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, &VerifyError{Kind: KindExpired, Detail: err.Error()}
		default:
			return nil, &VerifyError{Kind: KindSignatureInvalid, Detail: err.Error()}
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &VerifyError{Kind: KindSignatureInvalid, Detail: "unexpected claims type"}
	}

	// Byte-exact issuer comparison. A trailing-slash difference is a real
	// misconfiguration and must surface as a failure, not be papered over.
	iss, _ := claims["iss"].(string)
	if iss == "" || iss != params.Issuer {
		return nil, &VerifyError{Kind: KindIssuerMismatch, Detail: fmt.Sprintf("token issuer %q does not match configured issuer", iss)}
	}

	if params.Audience != "" && !audContains(claims["aud"], params.Audience) {
		return nil, &VerifyError{Kind: KindAudienceMismatch, Detail: "token audience does not include configured audience"}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, &VerifyError{Kind: KindNoSubject}
	}

	id := &Identity{
		Subject: sub,
		Issuer:  iss,
		Claims:  map[string]any(claims),
	}
	if scope, ok := claims["scope"].(string); ok {
		id.Scope = scope
	}
	if perms, ok := claims["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				id.Permissions = append(id.Permissions, s)
			}
		}
	}
	if iat, ok := claims["iat"].(float64); ok {
		id.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := claims["exp"].(float64); ok {
		id.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return id, nil
}

// peekHeader decodes the JOSE header segment to read alg and kid for
// diagnostics. Failures are ignored; this never influences validation.
func peekHeader(segment string) (alg, kid string) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return "", ""
	}
	var hdr struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return "", ""
	}
	return hdr.Alg, hdr.Kid
}

func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}
