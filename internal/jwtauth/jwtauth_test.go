package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func newJWKSServer(t *testing.T, keysJSON []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseClaims(issuer, aud string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   issuer,
		"sub":   "user-123",
		"aud":   aud,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "starter.echo starter.whoami",
	}
}

func newVerifierForTest(t *testing.T) *Verifier {
	t.Helper()
	return NewVerifier(NewKeySetResolver(), nil, WithLeeway(0))
}

func TestVerify_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	const aud = "https://api.example.com"
	v := newVerifierForTest(t)

	claims := baseClaims(issuer, aud)
	claims["permissions"] = []string{"starter.crm"}
	token := signToken(t, pk, kid, claims)

	id, err := v.Verify(context.Background(), token, Params{
		Issuer: issuer, Audience: aud, KeySetURI: srv.URL,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Subject != "user-123" {
		t.Errorf("subject = %q, want user-123", id.Subject)
	}
	want := []string{"starter.crm", "starter.echo", "starter.whoami"}
	if got := id.GrantedScopes(); !reflect.DeepEqual(got, want) {
		t.Errorf("granted scopes = %v, want %v", got, want)
	}
}

func TestVerify_ShapeFailures(t *testing.T) {
	v := newVerifierForTest(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		token string
		kind  FailureKind
	}{
		{"empty", "", KindMissingBearer},
		{"opaque two segments", "aaaa.bbbb", KindNotAJWS},
		{"one segment", "justanopaquetoken", KindNotAJWS},
		{"encrypted five segments", "a.b.c.d.e", KindEncryptedUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tc.token, Params{Issuer: "https://x", KeySetURI: "https://x/jwks"})
			if got := KindOf(err); got != tc.kind {
				t.Errorf("kind = %q, want %q (err: %v)", got, tc.kind, err)
			}
		})
	}
}

func TestVerify_IssuerMismatchIsByteExact(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	v := newVerifierForTest(t)

	// Token issuer carries a trailing slash the configuration lacks.
	claims := baseClaims(issuer+"/", "")
	token := signToken(t, pk, kid, claims)

	_, err := v.Verify(context.Background(), token, Params{
		Issuer: issuer, KeySetURI: srv.URL,
	})
	if got := KindOf(err); got != KindIssuerMismatch {
		t.Fatalf("kind = %q, want %q (err: %v)", got, KindIssuerMismatch, err)
	}
}

func TestVerify_AudienceMismatch(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	v := newVerifierForTest(t)
	token := signToken(t, pk, kid, baseClaims(issuer, "https://other.example.com"))

	_, err := v.Verify(context.Background(), token, Params{
		Issuer: issuer, Audience: "https://api.example.com", KeySetURI: srv.URL,
	})
	if got := KindOf(err); got != KindAudienceMismatch {
		t.Fatalf("kind = %q, want %q (err: %v)", got, KindAudienceMismatch, err)
	}
}

func TestVerify_AudienceCheckSkippedWhenUnconfigured(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	v := newVerifierForTest(t)
	token := signToken(t, pk, kid, baseClaims(issuer, "https://whatever.example.com"))

	if _, err := v.Verify(context.Background(), token, Params{
		Issuer: issuer, KeySetURI: srv.URL,
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	v := newVerifierForTest(t)

	claims := baseClaims(issuer, "")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	token := signToken(t, pk, kid, claims)

	_, err := v.Verify(context.Background(), token, Params{Issuer: issuer, KeySetURI: srv.URL})
	if got := KindOf(err); got != KindExpired {
		t.Fatalf("kind = %q, want %q (err: %v)", got, KindExpired, err)
	}
}

func TestVerify_NoSubject(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	v := newVerifierForTest(t)

	claims := baseClaims(issuer, "")
	delete(claims, "sub")
	token := signToken(t, pk, kid, claims)

	_, err := v.Verify(context.Background(), token, Params{Issuer: issuer, KeySetURI: srv.URL})
	if got := KindOf(err); got != KindNoSubject {
		t.Fatalf("kind = %q, want %q (err: %v)", got, KindNoSubject, err)
	}
}

func TestVerify_WrongKeyIsSignatureInvalid(t *testing.T) {
	_, _, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	// Signed with a key the JWKS does not contain.
	otherPK, kid, _ := genRSA(t)

	const issuer = "https://issuer.example.com"
	v := newVerifierForTest(t)
	token := signToken(t, otherPK, kid, baseClaims(issuer, ""))

	_, err := v.Verify(context.Background(), token, Params{Issuer: issuer, KeySetURI: srv.URL})
	if got := KindOf(err); got != KindSignatureInvalid {
		t.Fatalf("kind = %q, want %q (err: %v)", got, KindSignatureInvalid, err)
	}
}

func TestVerify_EmptyKeySetURI(t *testing.T) {
	pk, kid, _ := genRSA(t)
	v := newVerifierForTest(t)
	token := signToken(t, pk, kid, baseClaims("https://issuer.example.com", ""))

	_, err := v.Verify(context.Background(), token, Params{Issuer: "https://issuer.example.com"})
	if err == nil {
		t.Fatal("expected error for empty key set uri")
	}
}

func TestVerify_KeySetFetchOutlivesCallerContext(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	const issuer = "https://issuer.example.com"
	v := newVerifierForTest(t)
	token := signToken(t, pk, kid, baseClaims(issuer, ""))

	// The key set is fetched on the resolver's own context, so a dead caller
	// context must not poison the cache or fail the fetch.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.Verify(ctx, token, Params{Issuer: issuer, KeySetURI: srv.URL}); err != nil {
		t.Fatalf("verify with canceled caller context: %v", err)
	}
}

func TestGrantedScopes_UnionDedupes(t *testing.T) {
	id := &Identity{
		Scope:       "a b b",
		Permissions: []string{"b", "c", ""},
	}
	want := []string{"a", "b", "c"}
	if got := id.GrantedScopes(); !reflect.DeepEqual(got, want) {
		t.Errorf("granted = %v, want %v", got, want)
	}
}
