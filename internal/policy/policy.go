// Package policy decides which tools an agent may call and whether a
// call needs human approval first.
package policy

import (
	"fmt"
	"strings"
)

// Mode selects how a tool policy treats tools it does not list.
type Mode int

const (
	// ModeUnrestricted allows every tool.
	ModeUnrestricted Mode = iota + 1
	// ModeAllowlist allows only listed tools.
	ModeAllowlist
	// ModeDenylist allows everything except listed tools.
	ModeDenylist
)

func (m Mode) String() string {
	switch m {
	case ModeUnrestricted:
		return "unrestricted"
	case ModeAllowlist:
		return "allowlist"
	case ModeDenylist:
		return "denylist"
	default:
		return "unspecified"
	}
}

// ParseMode maps the wire name of a mode back to its value.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unrestricted":
		return ModeUnrestricted, true
	case "allowlist":
		return ModeAllowlist, true
	case "denylist":
		return ModeDenylist, true
	default:
		return 0, false
	}
}

// ToolPolicy is the per-agent record governing tool calls.
type ToolPolicy struct {
	Mode Mode
	// Allowed is consulted in allowlist mode.
	Allowed []string
	// Denied is consulted in denylist mode.
	Denied []string
	// AlwaysRequireApproval forces approval for the listed tools in
	// every mode, including unrestricted.
	AlwaysRequireApproval []string
	// RequireApprovalForUnlisted lets allowlist mode pass unlisted tools
	// through with approval instead of blocking them.
	RequireApprovalForUnlisted bool
	// MaxToolCallsPerTurn caps calls within one agent turn. Nil means no
	// cap.
	MaxToolCallsPerTurn *int
}

// AgentPolicy couples a tool policy with per-service access ceilings.
// ServiceAccess values are access level names ("none", "read", "write",
// "full"); services without an entry default to full.
type AgentPolicy struct {
	AgentID       string
	Tools         ToolPolicy
	ServiceAccess map[string]string
}

// Default returns the policy applied when an agent has no stored
// configuration: unrestricted, no caps.
func Default() *ToolPolicy {
	return &ToolPolicy{Mode: ModeUnrestricted}
}

// Decision is the outcome of checking one tool against a policy.
type Decision struct {
	Allowed          bool
	RequiresApproval bool
}

// Check evaluates a tool against the policy. The always-require-approval
// list is consulted first and wins over every mode; after that the mode
// governs. List entries match a tool ID exactly or as a capability
// prefix at an underscore boundary, so "search" covers "search_web".
// A nil policy behaves as unrestricted.
func Check(toolID string, p *ToolPolicy) Decision {
	if p == nil {
		return Decision{Allowed: true}
	}
	id := normalize(toolID)

	if containsTool(p.AlwaysRequireApproval, id) {
		return Decision{Allowed: true, RequiresApproval: true}
	}

	switch p.Mode {
	case ModeAllowlist:
		if containsTool(p.Allowed, id) {
			return Decision{Allowed: true}
		}
		if p.RequireApprovalForUnlisted {
			return Decision{Allowed: true, RequiresApproval: true}
		}
		return Decision{}
	case ModeDenylist:
		if containsTool(p.Denied, id) {
			return Decision{}
		}
		return Decision{Allowed: true}
	case ModeUnrestricted:
		return Decision{Allowed: true}
	default:
		// Unknown modes behave as unrestricted.
		return Decision{Allowed: true}
	}
}

// FilterTools returns the subset of tools the policy exposes. Tools that
// need approval stay in; only blocked tools drop out.
func FilterTools(tools []string, p *ToolPolicy) []string {
	out := make([]string, 0, len(tools))
	for _, tool := range tools {
		if Check(tool, p).Allowed {
			out = append(out, tool)
		}
	}
	return out
}

// OverCallLimit reports whether count exceeds the per-turn call cap.
// A count equal to the cap is still within it; an unset cap never trips.
func OverCallLimit(count int, p *ToolPolicy) bool {
	if p == nil || p.MaxToolCallsPerTurn == nil {
		return false
	}
	return count > *p.MaxToolCallsPerTurn
}

// Summary renders the policy for display.
func Summary(p *ToolPolicy) string {
	if p == nil {
		return "Unrestricted"
	}
	switch p.Mode {
	case ModeAllowlist:
		return fmt.Sprintf("Allowlist (%d tools)", len(p.Allowed))
	case ModeDenylist:
		return fmt.Sprintf("Denylist (%d tools)", len(p.Denied))
	default:
		return "Unrestricted"
	}
}

func normalize(toolID string) string {
	return strings.ToLower(strings.TrimSpace(toolID))
}

// containsTool reports whether the list covers the tool. An entry
// matches exactly or as a capability prefix: "search" covers
// "search_web" but not "research_topic" or "searchable".
func containsTool(list []string, normalizedID string) bool {
	for _, entry := range list {
		e := normalize(entry)
		if e == "" {
			continue
		}
		if normalizedID == e || strings.HasPrefix(normalizedID, e+"_") {
			return true
		}
	}
	return false
}
