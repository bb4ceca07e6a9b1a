package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Summarizer produces the human-readable text (and optional structured
// payload) for one tool's raw backend result. Pure function of the payload.
type Summarizer func(payload any) (summary string, structured any)

// Summarize renders the display summary and structured content for a tool
// result. Unknown tools fall back to a generic completion line; payloads that
// are not JSON objects are stringified as-is.
func Summarize(toolName string, payload any) (string, any) {
	p := unwrapData(payload)
	if fn, ok := summarizers[toolName]; ok {
		return fn(p)
	}
	return fmt.Sprintf("Tool '%s' completed.", toolName), nil
}

// FallbackText renders a bounded textual form of an arbitrary payload, used
// when a summarizer produced no text.
func FallbackText(payload any) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload.(string); ok {
		return s
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	const max = 800
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}

var summarizers = map[string]Summarizer{
	"echo": func(p any) (string, any) {
		m, _ := asMap(p)
		msg := str(m, "message")
		if msg == "" {
			msg = str(m, "echo")
		}
		return "Echo: " + msg, nil
	},

	"whoami": func(p any) (string, any) {
		m, _ := asMap(p)
		if proof := str(m, "proof"); proof != "" {
			return proof, nil
		}

		user, _ := asMap(m["user"])
		authz, _ := asMap(m["authorization"])

		sub := str(user, "sub")
		if sub == "" {
			sub = str(m, "sub")
		}
		email := str(user, "email")
		userKey := str(user, "user_key")

		scope := str(authz, "scope")
		if scope == "" {
			scope = str(m, "scope")
		}
		var scopeBits []string
		for _, v := range arr(authz, "scope_list") {
			if s, ok := v.(string); ok && s != "" {
				scopeBits = append(scopeBits, s)
			}
		}
		perms := arr(authz, "permissions")
		if perms == nil {
			perms = arr(m, "permissions")
		}
		for _, v := range perms {
			if s, ok := v.(string); ok && s != "" {
				scopeBits = append(scopeBits, s)
			}
		}

		who := "(unknown)"
		if email != "" {
			who = email
		} else if sub != "" {
			who = "sub=" + sub
		}

		var b strings.Builder
		fmt.Fprintf(&b, "✅ Verified OAuth user: %s", who)
		if userKey != "" {
			fmt.Fprintf(&b, " user_key=%s", userKey)
		}
		if iss := str(authz, "issuer"); iss != "" {
			fmt.Fprintf(&b, " issuer=%s", iss)
		}
		if exp, ok := num(authz, "exp_in_seconds"); ok {
			fmt.Fprintf(&b, " exp_in=%dm", int(exp)/60)
		}
		scopesPretty := strings.TrimSpace(strings.Join(scopeBits, " "))
		if scopesPretty == "" {
			scopesPretty = scope
		}
		if scopesPretty == "" {
			scopesPretty = "(none)"
		}
		fmt.Fprintf(&b, " scopes=%s", scopesPretty)
		return b.String(), nil
	},

	"seedMyNotes": func(p any) (string, any) {
		m, _ := asMap(p)
		return fmt.Sprintf("Seeded %d notes.", len(arr(m, "seeded"))), nil
	},

	"listMyNotes": func(p any) (string, any) {
		m, _ := asMap(p)
		return fmt.Sprintf("You have %d notes.", len(arr(m, "notes"))), nil
	},

	"addNote": func(p any) (string, any) {
		m, _ := asMap(p)
		note, _ := asMap(m["note"])
		text := str(note, "text")
		if len(text) > 120 {
			text = text[:120]
		}
		return "Added note: " + text, nil
	},

	"crmInit": func(p any) (string, any) {
		m, _ := asMap(p)
		w, ok := asMap(m["welcome"])
		if !ok {
			return "CRM initialized.", nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Welcome %s. ", str(w, "user"))
		if seeded, _ := w["seeded"].(bool); seeded {
			created, _ := num(w, "createdDeals")
			fmt.Fprintf(&b, "Created %d dummy deals for you. ", int(created))
		} else {
			b.WriteString("Your demo CRM is ready. ")
		}
		users, _ := num(w, "dbUsers")
		entries, _ := num(w, "dbEntries")
		fmt.Fprintf(&b, "Database: %d users, %d total entries.", int(users), int(entries))
		try := arr(w, "try")
		suggestion := "What were my sales in Q2 2025?"
		if len(try) > 0 {
			if s, ok := try[0].(string); ok && s != "" {
				suggestion = s
			}
		}
		fmt.Fprintf(&b, " Try: “%s”", suggestion)
		return b.String(), nil
	},

	"crmGetSalesSummary": func(p any) (string, any) {
		m, _ := asMap(p)
		s, ok := asMap(m["summary"])
		if !ok {
			return "Sales summary unavailable.", nil
		}
		revenue, _ := num(s, "revenue_cents")
		quarter, _ := num(s, "quarter")
		year, _ := num(s, "year")
		won, _ := num(s, "deals_won")
		return fmt.Sprintf("📊 Sales in Q%d %d: $%.0f across %d won deals.",
			int(quarter), int(year), revenue/100, int(won)), nil
	},

	"crmExplainAccess": func(p any) (string, any) {
		m, _ := asMap(p)
		a, ok := asMap(m["access"])
		if !ok {
			return "CRM access rules unavailable.", nil
		}
		return fmt.Sprintf("🔐 You are %s. You can access YOUR mock CRM data (deals + sales summaries). "+
			"You cannot access any other user's CRM data. Why: identity-scoped queries + no user-id inputs + CRM stores no PII. "+
			"Try: crmAttemptCrossUserRead with another user's label.", str(a, "you_are")), nil
	},

	"crmAttemptCrossUserRead": func(p any) (string, any) {
		m, _ := asMap(p)
		requested := str(m, "requested_target")
		if requested == "" {
			requested = "(none)"
		}
		actual := str(m, "actual_scope")
		if actual == "" {
			actual = "(unknown)"
		}
		return fmt.Sprintf("❌ Access denied. Requested %s but your scope is %s. "+
			"CRM tools are hard-scoped to your authenticated identity, so cross-user reads are blocked.",
			requested, actual), nil
	},
}

// unwrapData peels an enclosing {data: ...} envelope when present so
// summarizers see the tool payload either way.
func unwrapData(payload any) any {
	if m, ok := asMap(payload); ok {
		if d, ok := m["data"]; ok && d != nil {
			return d
		}
	}
	return payload
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	f, ok := m[key].(float64)
	return f, ok
}

func arr(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	a, _ := m[key].([]any)
	return a
}
