package risk

import "strings"

// Level is the per-service ceiling on how much risk an agent may take.
type Level int

const (
	// LevelNone blocks every action on the service.
	LevelNone Level = iota + 1
	// LevelRead permits auto-tier actions only.
	LevelRead
	// LevelWrite permits actions of any tier.
	LevelWrite
	// LevelFull permits actions of any tier, including administrative ones.
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	case LevelFull:
		return "full"
	default:
		return "unspecified"
	}
}

// ParseLevel maps the wire name of an access level back to its value.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, true
	case "read":
		return LevelRead, true
	case "write":
		return LevelWrite, true
	case "full":
		return LevelFull, true
	default:
		return 0, false
	}
}

// Permits reports whether an action of the given tier fits under this
// access level.
func (l Level) Permits(t Tier) bool {
	switch l {
	case LevelNone:
		return false
	case LevelRead:
		return t == TierAuto
	case LevelWrite, LevelFull:
		return true
	default:
		return false
	}
}

// PermitsAction classifies actionID and applies Permits.
func (l Level) PermitsAction(actionID string) bool {
	return l.Permits(Classify(actionID))
}

// LevelMeta returns the display triple for an access level. Each valid
// level maps to exactly one triple.
func LevelMeta(l Level) Meta {
	switch l {
	case LevelNone:
		return Meta{Icon: "ban", Label: "No access", Color: "gray"}
	case LevelRead:
		return Meta{Icon: "eye", Label: "Read only", Color: "blue"}
	case LevelWrite:
		return Meta{Icon: "pencil", Label: "Read and write", Color: "amber"}
	case LevelFull:
		return Meta{Icon: "key", Label: "Full access", Color: "red"}
	default:
		return Meta{Icon: "question", Label: "Unknown", Color: "gray"}
	}
}
