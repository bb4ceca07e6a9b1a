// Package auth implements the authorization half of the gateway's security
// model: deriving the caller's granted scope set from a verified identity and
// checking it against per-tool requirements, plus construction of RFC 6750
// Bearer challenges that point clients at the gateway's protected-resource
// metadata.
//
// Token verification itself lives in internal/jwtauth; this package only
// consumes its output. Authorization failures (403, insufficient_scope) are
// deliberately distinct from authentication failures (401, invalid_token):
// the former may name the required scopes, the latter never reveals which
// check failed beyond a generic invalid_token.
package auth
