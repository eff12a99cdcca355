package ratelimit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookup_OverrideWins(t *testing.T) {
	overrides := []Config{{Service: "slack", MaxActions: 5, WindowMinutes: 1}}

	got := Lookup("slack", overrides)
	if got.MaxActions != 5 || got.WindowMinutes != 1 || got.Service != "slack" {
		t.Errorf("Lookup(slack) = %+v, want the override back unchanged", got)
	}
}

func TestLookup_BuiltinDefaults(t *testing.T) {
	tests := []struct {
		service    string
		maxActions int
	}{
		{"slack", 30},
		{"email", 10},
		{"github", 60},
		{"stripe", 5},
	}
	for _, tt := range tests {
		got := Lookup(tt.service, nil)
		if got.MaxActions != tt.maxActions || got.WindowMinutes != 15 {
			t.Errorf("Lookup(%s) = %+v, want %d per 15m", tt.service, got, tt.maxActions)
		}
	}
}

func TestLookup_GenericFallback(t *testing.T) {
	got := Lookup("internal_crm", nil)
	if got.MaxActions != 20 || got.WindowMinutes != 15 {
		t.Errorf("Lookup(internal_crm) = %+v, want the generic 20 per 15m", got)
	}
	if got.Service != "internal_crm" {
		t.Errorf("fallback config names %q, want the requested service", got.Service)
	}
}

func TestLookup_NormalizesServiceName(t *testing.T) {
	got := Lookup("  SLACK ", nil)
	if got.MaxActions != 30 {
		t.Errorf("Lookup(  SLACK ) = %+v, want the slack builtin", got)
	}
}

func TestBuiltinLimits_AllPositive(t *testing.T) {
	for name, cfg := range builtinLimits {
		if cfg.MaxActions <= 0 || cfg.WindowMinutes <= 0 {
			t.Errorf("builtin %q has non-positive quota: %+v", name, cfg)
		}
	}
	if genericLimit.MaxActions <= 0 || genericLimit.WindowMinutes <= 0 {
		t.Errorf("generic fallback has non-positive quota: %+v", genericLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	doc := `limits:
  - service: slack
    max_actions: 5
    window_minutes: 1
  - service: internal_crm
    max_actions: 100
    window_minutes: 60
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	overrides, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if len(overrides) != 2 {
		t.Fatalf("got %d overrides, want 2", len(overrides))
	}

	got := Lookup("slack", overrides)
	if got.MaxActions != 5 || got.WindowMinutes != 1 {
		t.Errorf("override round trip = %+v, want 5 per 1m", got)
	}
}

func TestLoadOverrides_RejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing service", "limits:\n  - max_actions: 5\n    window_minutes: 1\n"},
		{"zero max", "limits:\n  - service: slack\n    max_actions: 0\n    window_minutes: 1\n"},
		{"negative window", "limits:\n  - service: slack\n    max_actions: 5\n    window_minutes: -1\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "limits.yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadOverrides(path); err == nil {
				t.Error("LoadOverrides accepted a bad file")
			}
		})
	}
}

func TestLoadOverrides_MissingFile(t *testing.T) {
	if _, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadOverrides on a missing file should fail")
	}
}
