package auth

import (
	"fmt"
	"strings"
)

// Challenge describes the WWW-Authenticate value returned alongside a 401 or
// 403. It points the client at the gateway's protected-resource metadata and
// advertises the scopes it should request.
type Challenge struct {
	// MetadataURL is the absolute URL of the oauth-protected-resource
	// document, derived from the inbound request's forwarded host.
	MetadataURL string
	// Scopes is the space-joined scope string clients should request.
	Scopes []string
	// Resource is the audience identifier, when one is configured.
	Resource string
	// ErrorCode is the RFC 6750 error attribute, e.g. "invalid_token".
	// Omitted when empty (a bare challenge prompting initial auth).
	ErrorCode string
}

// String renders the challenge header value.
//
//	Bearer resource_metadata="...", scope="..."[, resource="..."][, error="..."]
func (c Challenge) String() string {
	esc := func(v string) string {
		return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
	}
	var b strings.Builder
	b.WriteString("Bearer ")
	fmt.Fprintf(&b, `resource_metadata="%s"`, esc(c.MetadataURL))
	fmt.Fprintf(&b, `, scope="%s"`, esc(strings.Join(c.Scopes, " ")))
	if c.Resource != "" {
		fmt.Fprintf(&b, `, resource="%s"`, esc(c.Resource))
	}
	if c.ErrorCode != "" {
		fmt.Fprintf(&b, `, error="%s"`, esc(c.ErrorCode))
	}
	return b.String()
}
