package engine

// Verdict is the final outcome of the authorization pipeline.
type Verdict int

const (
	VerdictAllow Verdict = iota + 1
	VerdictRequireApproval
	VerdictDeny
)

// String returns the lowercase verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictRequireApproval:
		return "require_approval"
	case VerdictDeny:
		return "deny"
	default:
		return "unspecified"
	}
}

// DecisionSource identifies the pipeline stage that settled the verdict.
type DecisionSource int

const (
	SourceUnspecified DecisionSource = iota
	SourcePolicy                     // tool policy: mode, approval lists, turn cap
	SourceRateLimit                  // service window exhausted
	SourceAccess                     // access level below the action's tier
	SourceRisk                       // hard tier forced a confirmation
	SourceDefault                    // nothing objected
)

// String returns the lowercase source name.
func (s DecisionSource) String() string {
	switch s {
	case SourcePolicy:
		return "policy"
	case SourceRateLimit:
		return "rate_limit"
	case SourceAccess:
		return "access"
	case SourceRisk:
		return "risk"
	case SourceDefault:
		return "default"
	default:
		return "unspecified"
	}
}
