package audit

import "time"

// Writer is the interface for persisting decision events.
// Write() must NEVER block the caller.
type Writer interface {
	Write(event *Event)
	Close()
}

// Event represents a single authorization decision to be persisted.
type Event struct {
	RequestID     string
	RuntimeID     string
	AgentID       string
	Timestamp     time.Time
	Service       string
	Action        string
	Target        string // first 500 chars
	Verdict       string
	Source        string // pipeline stage that fixed the verdict
	Reason        string
	Risk          string
	RateRemaining int32
	LatencyMs     float32
	IsShadow      bool
}

// TargetPreviewLength is the max chars stored in the target column.
const TargetPreviewLength = 500

// Preview returns the first maxLen characters (runes) of a value for
// storage. It never splits a multi-byte UTF-8 character.
func Preview(value string, maxLen int) string {
	runes := []rune(value)
	if len(runes) <= maxLen {
		return value
	}
	return string(runes[:maxLen])
}
