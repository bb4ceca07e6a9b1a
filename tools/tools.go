// Package tools defines the static catalog of tools the gateway fronts:
// their descriptors (name, description, input schema), their required scope
// sets, and the per-tool result summarizers used when shaping tools/call
// responses.
package tools

import "sort"

// Descriptor is a static catalog entry, served verbatim from tools/list.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// Catalog is the immutable set of tools exposed by the gateway, defined at
// startup. Every descriptor has a scope entry (possibly empty); a tool name
// absent from the scope map is unknown to the gateway.
type Catalog struct {
	descriptors []Descriptor
	scopes      map[string][]string
}

// NewCatalog builds a catalog. Descriptors without a scope entry get an
// empty (always-authorized) one so the discovery invariant holds.
func NewCatalog(descriptors []Descriptor, scopes map[string][]string) *Catalog {
	m := make(map[string][]string, len(descriptors))
	for _, d := range descriptors {
		m[d.Name] = append([]string(nil), scopes[d.Name]...)
	}
	return &Catalog{descriptors: descriptors, scopes: m}
}

// Descriptors returns the catalog entries in definition order.
func (c *Catalog) Descriptors() []Descriptor {
	return c.descriptors
}

// Known reports whether name is a tool this gateway fronts.
func (c *Catalog) Known(name string) bool {
	_, ok := c.scopes[name]
	return ok
}

// Scopes returns the required scope set for a tool. Empty for unknown tools
// as well; gate on Known first.
func (c *Catalog) Scopes(name string) []string {
	return c.scopes[name]
}

// RequiredScopes returns the deduplicated, sorted union of every tool's
// required scopes. This is what gets advertised in challenges and discovery
// documents.
func (c *Catalog) RequiredScopes() []string {
	set := map[string]struct{}{}
	for _, need := range c.scopes {
		for _, s := range need {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Default returns the starter catalog: identity proof, echo, per-user notes,
// and the mock CRM. Scope names must match what the OAuth provider issues.
func Default() *Catalog {
	scopes := map[string][]string{
		"whoami": {"starter.whoami"},
		"echo":   {"starter.echo"},

		"seedMyNotes": {"starter.notes"},
		"listMyNotes": {"starter.notes"},
		"addNote":     {"starter.notes"},

		"crmInit":                {"starter.crm"},
		"crmGetSalesSummary":     {"starter.crm"},
		"crmExplainAccess":       {"starter.crm"},
		"crmAttemptCrossUserRead": {"starter.crm"},
	}

	descriptors := []Descriptor{
		{
			Name:        "whoami",
			Description: "Return an OAuth-verified identity proof panel (user + issuer/audience/scopes/expiry). Use to validate user-scoped auth end-to-end.",
			InputSchema: reflectInputSchema[noArgs](),
		},
		{
			Name:        "echo",
			Description: "Echo back the input (starter demo tool).",
			InputSchema: reflectInputSchema[echoArgs](),
		},
		{
			Name:        "seedMyNotes",
			Description: "Create a few demo notes for the current user (stored by OAuth sub).",
			InputSchema: reflectInputSchema[seedNotesArgs](),
		},
		{
			Name:        "listMyNotes",
			Description: "List the current user's notes (scoped by OAuth sub).",
			InputSchema: reflectInputSchema[noArgs](),
		},
		{
			Name:        "addNote",
			Description: "Add a note for the current user (scoped by OAuth sub).",
			InputSchema: reflectInputSchema[addNoteArgs](),
		},
		{
			Name:        "crmInit",
			Description: "Initialize a mock CRM for the current user (no PII stored). Seeds dummy deals if this user is new and returns a welcome message plus database counts and suggested commands.",
			InputSchema: reflectInputSchema[noArgs](),
		},
		{
			Name:        "crmGetSalesSummary",
			Description: "Return mock CRM sales totals for a given quarter/year for the current authenticated user. Example: {year: 2025, quarter: 2}.",
			InputSchema: reflectInputSchema[salesSummaryArgs](),
		},
		{
			Name:        "crmExplainAccess",
			Description: "Explain what CRM data the current authenticated user can access and what they cannot. Emphasizes user-scoped isolation and that CRM stores no PII. Also returns suggested demo commands.",
			InputSchema: reflectInputSchema[noArgs](),
		},
		{
			Name:        "crmAttemptCrossUserRead",
			Description: "Demonstrate that cross-user CRM access is denied. Provide a target user label (e.g. from another login) and the tool will refuse and explain why.",
			InputSchema: reflectInputSchema[crossUserReadArgs](),
		},
	}

	return NewCatalog(descriptors, scopes)
}

// Typed argument structs. Schemas are reflected from these; description text
// rides on jsonschema tags, requiredness on the absence of omitempty.

type noArgs struct{}

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Message to echo."`
}

type seedNotesArgs struct {
	Count float64 `json:"count,omitempty" jsonschema:"description=How many notes to create (default 3)."`
}

type addNoteArgs struct {
	Text string `json:"text" jsonschema:"description=Note text."`
}

type salesSummaryArgs struct {
	Year    float64 `json:"year" jsonschema:"description=e.g. 2025"`
	Quarter float64 `json:"quarter" jsonschema:"description=1-4"`
}

type crossUserReadArgs struct {
	TargetUser string `json:"targetUser" jsonschema:"description=User label to attempt\\, e.g. \"user-abc123\""`
}
