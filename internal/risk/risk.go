package risk

import "strings"

// Tier grades how dangerous an action is to run unattended.
type Tier int

const (
	// TierAuto actions are read-only and safe to run without review.
	TierAuto Tier = iota + 1
	// TierSoft actions mutate state but are reversible.
	TierSoft
	// TierHard actions are destructive or irreversible.
	TierHard
)

func (t Tier) String() string {
	switch t {
	case TierAuto:
		return "auto"
	case TierSoft:
		return "soft"
	case TierHard:
		return "hard"
	default:
		return "unspecified"
	}
}

// ParseTier maps the wire name of a tier back to its value.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return TierAuto, true
	case "soft":
		return TierSoft, true
	case "hard":
		return TierHard, true
	default:
		return 0, false
	}
}

// verbRule assigns a tier to any action identifier containing the verb.
type verbRule struct {
	verb string
	tier Tier
}

// verbRules is scanned top to bottom and the first substring match wins,
// so the order is part of the classifier contract. An identifier naming
// several verbs takes the tier of whichever verb appears first in this
// table: "remove_user" classifies soft through "move", not hard through
// "remove". Treat reordering as a breaking change.
var verbRules = []verbRule{
	{"list", TierAuto},
	{"get", TierAuto},
	{"search", TierAuto},
	{"read", TierAuto},
	{"fetch", TierAuto},
	{"send", TierSoft},
	{"create", TierSoft},
	{"update", TierSoft},
	{"move", TierSoft},
	{"delete", TierHard},
	{"remove", TierHard},
	{"archive", TierHard},
	{"revoke", TierHard},
}

// Classify maps an action identifier to its risk tier. Matching is
// case-insensitive and substring-based. Identifiers that match no rule,
// including empty ones, default to TierSoft.
func Classify(actionID string) Tier {
	id := strings.ToLower(actionID)
	for _, r := range verbRules {
		if strings.Contains(id, r.verb) {
			return r.tier
		}
	}
	return TierSoft
}

// Meta holds the display attributes for one tier.
type Meta struct {
	Icon  string `json:"icon"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// TierMeta returns the display triple for a tier. Each valid tier maps to
// exactly one triple.
func TierMeta(t Tier) Meta {
	switch t {
	case TierAuto:
		return Meta{Icon: "check", Label: "Auto", Color: "green"}
	case TierSoft:
		return Meta{Icon: "alert", Label: "Confirm", Color: "amber"}
	case TierHard:
		return Meta{Icon: "shield", Label: "Approval", Color: "red"}
	default:
		return Meta{Icon: "question", Label: "Unknown", Color: "gray"}
	}
}
