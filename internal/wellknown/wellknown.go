// Package wellknown holds the discovery document shapes served under
// /.well-known/. The openid-configuration document is not modeled here; it is
// proxied verbatim from the identity provider.
package wellknown

// ProtectedResourceMetadata is the OAuth protected-resource document clients
// use to self-configure bearer authentication against this gateway.
type ProtectedResourceMetadata struct {
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	Resource               string   `json:"resource,omitempty"`
}

// AuthServerMetadata is the minimal RFC 8414 authorization-server document
// synthesized from the configured issuer. Serving it is a convenience for
// clients; this process is not an authorization server.
type AuthServerMetadata struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	TokenEndpoint          string   `json:"token_endpoint"`
	ResponseTypesSupported []string `json:"response_types_supported"`
	GrantTypesSupported    []string `json:"grant_types_supported"`
}
