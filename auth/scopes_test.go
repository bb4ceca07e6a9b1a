package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestRequireScopes(t *testing.T) {
	cases := []struct {
		name    string
		have    []string
		need    []string
		wantErr bool
	}{
		{"empty requirement always passes", nil, nil, false},
		{"empty requirement with grants", []string{"a"}, nil, false},
		{"exact match", []string{"a"}, []string{"a"}, false},
		{"superset passes", []string{"a", "b", "c"}, []string{"b"}, false},
		{"order independent", []string{"b", "a"}, []string{"a", "b"}, false},
		{"missing one", []string{"a"}, []string{"a", "b"}, true},
		{"no grants", nil, []string{"a"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := RequireScopes(tc.have, tc.need)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInsufficientScope) {
				t.Errorf("error does not unwrap to ErrInsufficientScope: %v", err)
			}
		})
	}
}

func TestScopeError_CarriesBothSets(t *testing.T) {
	err := RequireScopes([]string{"a"}, []string{"a", "b"})
	var se *ScopeError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScopeError, got %T", err)
	}
	if len(se.Have) != 1 || se.Have[0] != "a" {
		t.Errorf("Have = %v", se.Have)
	}
	if len(se.Need) != 2 {
		t.Errorf("Need = %v", se.Need)
	}
}

func TestChallenge_String(t *testing.T) {
	c := Challenge{
		MetadataURL: "https://gw.example.com/.well-known/oauth-protected-resource",
		Scopes:      []string{"starter.echo", "starter.crm"},
		Resource:    "https://api.example.com",
		ErrorCode:   "invalid_token",
	}
	s := c.String()
	if !strings.HasPrefix(s, "Bearer ") {
		t.Fatalf("challenge must start with Bearer: %q", s)
	}
	for _, want := range []string{
		`resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource"`,
		`scope="starter.echo starter.crm"`,
		`resource="https://api.example.com"`,
		`error="invalid_token"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("challenge %q missing %q", s, want)
		}
	}
}

func TestChallenge_OmitsEmptyOptionalParts(t *testing.T) {
	s := Challenge{MetadataURL: "https://gw/.well-known/oauth-protected-resource"}.String()
	if !strings.Contains(s, `scope=""`) {
		t.Errorf("scope attribute is always present: %q", s)
	}
	if strings.Contains(s, "resource=") || strings.Contains(s, "error=") {
		t.Errorf("empty resource/error must be omitted: %q", s)
	}
}
