package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/aegis-ai/warden/internal/dryrun"
	"github.com/aegis-ai/warden/internal/policy"
	"github.com/aegis-ai/warden/internal/ratelimit"
	"github.com/aegis-ai/warden/internal/risk"
)

type mockLoader struct {
	mu     sync.Mutex
	record *policy.AgentPolicy
	err    error
	calls  int
}

func (m *mockLoader) LoadPolicy(ctx context.Context, agentID string) (*policy.AgentPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.record, m.err
}

var _ PolicyLoader = (*mockLoader)(nil)

func newTestEngine(loader PolicyLoader) *Engine {
	return New(Config{
		Policies: loader,
		Limiter:  ratelimit.NewLimiter(),
		Logger:   zap.NewNop(),
	})
}

func intPtr(n int) *int {
	return &n
}

func TestAuthorize_DefaultAllow(t *testing.T) {
	e := newTestEngine(&mockLoader{})

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "github",
		Action:  "list_issues",
	})

	if got.Verdict != VerdictAllow {
		t.Fatalf("Verdict = %v, want allow", got.Verdict)
	}
	if got.Source != SourceDefault {
		t.Errorf("Source = %v, want default", got.Source)
	}
	if got.Risk != risk.TierAuto {
		t.Errorf("Risk = %v, want auto", got.Risk)
	}
	if !got.Consumed {
		t.Error("allowed action should consume rate quota")
	}
	if got.Limit != 60 || got.Remaining != 59 {
		t.Errorf("rate state = %d/%d, want 59/60", got.Remaining, got.Limit)
	}
}

func TestAuthorize_PolicyDenyConsumesNoQuota(t *testing.T) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID: "agent-1",
		Tools:   policy.ToolPolicy{Mode: policy.ModeDenylist, Denied: []string{"exec"}},
	}}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "shell",
		Action:  "exec",
	})

	if got.Verdict != VerdictDeny || got.Source != SourcePolicy {
		t.Fatalf("decision = %v/%v, want deny/policy", got.Verdict, got.Source)
	}
	if got.Consumed {
		t.Error("policy denial must not consume rate quota")
	}
	if _, _, ok := e.Limiter().Snapshot("shell"); ok {
		t.Error("policy denial started a rate window")
	}

	// The first permitted call still sees the full window.
	got = e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "shell",
		Action:  "read_file",
	})
	if got.Verdict != VerdictAllow {
		t.Fatalf("follow-up verdict = %v, want allow", got.Verdict)
	}
	if got.Remaining != got.Limit-1 {
		t.Errorf("remaining = %d, want %d", got.Remaining, got.Limit-1)
	}
}

func TestAuthorize_TurnCapDeniesBeforeQuota(t *testing.T) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID: "agent-1",
		Tools:   policy.ToolPolicy{Mode: policy.ModeUnrestricted, MaxToolCallsPerTurn: intPtr(3)},
	}}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID:       "agent-1",
		Service:       "slack",
		Action:        "send_message",
		TurnCallCount: 4,
	})

	if got.Verdict != VerdictDeny || got.Source != SourcePolicy {
		t.Fatalf("decision = %v/%v, want deny/policy", got.Verdict, got.Source)
	}
	if got.Reason != "per-turn tool call limit reached" {
		t.Errorf("Reason = %q", got.Reason)
	}
	if _, _, ok := e.Limiter().Snapshot("slack"); ok {
		t.Error("turn-cap denial started a rate window")
	}

	// At the cap is still within it.
	got = e.Authorize(context.Background(), Request{
		AgentID:       "agent-1",
		Service:       "slack",
		Action:        "send_message",
		TurnCallCount: 3,
	})
	if got.Verdict != VerdictAllow {
		t.Errorf("at-cap verdict = %v, want allow", got.Verdict)
	}
}

func TestAuthorize_ApprovalConsumesQuota(t *testing.T) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID: "agent-1",
		Tools: policy.ToolPolicy{
			Mode:                  policy.ModeUnrestricted,
			AlwaysRequireApproval: []string{"send_payment"},
		},
	}}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "stripe",
		Action:  "send_payment",
	})

	if got.Verdict != VerdictRequireApproval || got.Source != SourcePolicy {
		t.Fatalf("decision = %v/%v, want require_approval/policy", got.Verdict, got.Source)
	}
	if !got.Consumed {
		t.Error("approval-required action should consume rate quota")
	}
	count, _, ok := e.Limiter().Snapshot("stripe")
	if !ok || count != 1 {
		t.Errorf("stripe window count = %d (tracked=%v), want 1", count, ok)
	}

	// Give the unit back, as a caller would after a cancelled approval.
	e.Limiter().Bump("stripe", -1)
	count, _, _ = e.Limiter().Snapshot("stripe")
	if count != 0 {
		t.Errorf("count after give-back = %d, want 0", count)
	}
}

func TestAuthorize_RateExhaustion(t *testing.T) {
	e := newTestEngine(&mockLoader{})
	req := Request{
		AgentID:       "agent-1",
		Service:       "webhooks",
		Action:        "get_status",
		RateOverrides: []ratelimit.Config{{Service: "webhooks", MaxActions: 2, WindowMinutes: 15}},
	}

	for i := 0; i < 2; i++ {
		if got := e.Authorize(context.Background(), req); got.Verdict != VerdictAllow {
			t.Fatalf("call %d verdict = %v, want allow", i+1, got.Verdict)
		}
	}

	got := e.Authorize(context.Background(), req)
	if got.Verdict != VerdictDeny || got.Source != SourceRateLimit {
		t.Fatalf("decision = %v/%v, want deny/rate_limit", got.Verdict, got.Source)
	}
	if got.Remaining != 0 || got.Limit != 2 {
		t.Errorf("rate state = %d/%d, want 0/2", got.Remaining, got.Limit)
	}
	if !got.Consumed {
		t.Error("rate denial still increments the window counter")
	}
	if got.Reason == "" {
		t.Error("rate denial should carry a reason")
	}
}

func TestAuthorize_AccessGate(t *testing.T) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID:       "agent-1",
		Tools:         policy.ToolPolicy{Mode: policy.ModeUnrestricted},
		ServiceAccess: map[string]string{"slack": "read"},
	}}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "slack",
		Action:  "send_message",
	})
	if got.Verdict != VerdictDeny || got.Source != SourceAccess {
		t.Fatalf("decision = %v/%v, want deny/access", got.Verdict, got.Source)
	}
	if !got.Consumed {
		t.Error("access denial happens after the rate check and should consume")
	}

	got = e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "slack",
		Action:  "list_channels",
	})
	if got.Verdict != VerdictAllow {
		t.Errorf("auto-tier under read access = %v, want allow", got.Verdict)
	}

	// Other services stay at the full default.
	got = e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "github",
		Action:  "create_issue",
	})
	if got.Verdict != VerdictAllow {
		t.Errorf("unlisted service = %v, want allow", got.Verdict)
	}
}

func TestAuthorize_AccessNoneBlocksEverything(t *testing.T) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID:       "agent-1",
		Tools:         policy.ToolPolicy{Mode: policy.ModeUnrestricted},
		ServiceAccess: map[string]string{"stripe": "none"},
	}}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "stripe",
		Action:  "list_charges",
	})
	if got.Verdict != VerdictDeny || got.Source != SourceAccess {
		t.Errorf("decision = %v/%v, want deny/access", got.Verdict, got.Source)
	}
}

func TestAuthorize_AccessKeysMatchCaseInsensitively(t *testing.T) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID:       "agent-1",
		Tools:         policy.ToolPolicy{Mode: policy.ModeUnrestricted},
		ServiceAccess: map[string]string{" Slack ": "none"},
	}}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "slack",
		Action:  "list_channels",
	})
	if got.Verdict != VerdictDeny {
		t.Errorf("Verdict = %v, want deny despite key casing", got.Verdict)
	}
}

func TestAuthorize_UnknownAccessLevelTreatedAsFull(t *testing.T) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID:       "agent-1",
		Tools:         policy.ToolPolicy{Mode: policy.ModeUnrestricted},
		ServiceAccess: map[string]string{"slack": "superuser"},
	}}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "slack",
		Action:  "send_message",
	})
	if got.Verdict != VerdictAllow {
		t.Errorf("Verdict = %v, want allow", got.Verdict)
	}
}

func TestAuthorize_HardTierRequiresApproval(t *testing.T) {
	e := newTestEngine(&mockLoader{})

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "github",
		Action:  "delete_repo",
	})

	if got.Verdict != VerdictRequireApproval || got.Source != SourceRisk {
		t.Fatalf("decision = %v/%v, want require_approval/risk", got.Verdict, got.Source)
	}
	if got.Risk != risk.TierHard {
		t.Errorf("Risk = %v, want hard", got.Risk)
	}
	if !got.Consumed {
		t.Error("hard-tier approval should consume rate quota")
	}
}

func TestAuthorize_PolicyApprovalTakesPrecedenceOverRisk(t *testing.T) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID: "agent-1",
		Tools: policy.ToolPolicy{
			Mode:                       policy.ModeAllowlist,
			Allowed:                    []string{"search"},
			RequireApprovalForUnlisted: true,
		},
	}}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "browser",
		Action:  "search_web",
	})
	if got.Verdict != VerdictAllow {
		t.Fatalf("listed capability = %v, want allow", got.Verdict)
	}

	// delete_file is hard-tier on its own, but the policy's unlisted
	// escape is what flags it, so the source is policy, not risk.
	got = e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "files",
		Action:  "delete_file",
	})
	if got.Verdict != VerdictRequireApproval {
		t.Fatalf("unlisted tool = %v, want require_approval", got.Verdict)
	}
	if got.Source != SourcePolicy {
		t.Errorf("Source = %v, want policy", got.Source)
	}
	if got.Risk != risk.TierHard {
		t.Errorf("Risk = %v, want hard", got.Risk)
	}
}

func TestAuthorize_LoaderErrorDegradesToUnrestricted(t *testing.T) {
	loader := &mockLoader{err: errors.New("store down")}
	e := newTestEngine(loader)

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "slack",
		Action:  "send_message",
	})

	if got.Verdict != VerdictAllow {
		t.Errorf("Verdict = %v, want allow under the default policy", got.Verdict)
	}
	if loader.calls != 1 {
		t.Errorf("loader calls = %d, want 1", loader.calls)
	}
}

func TestAuthorize_NilLoaderAllows(t *testing.T) {
	e := New(Config{Limiter: ratelimit.NewLimiter(), Logger: zap.NewNop()})

	got := e.Authorize(context.Background(), Request{
		AgentID: "agent-1",
		Service: "slack",
		Action:  "send_message",
	})
	if got.Verdict != VerdictAllow {
		t.Errorf("Verdict = %v, want allow", got.Verdict)
	}
}

func TestEvaluatePlan(t *testing.T) {
	e := newTestEngine(&mockLoader{})

	plan, confirm := e.EvaluatePlan([]dryrun.ProposedStep{
		{Service: "slack", Action: "list_channels"},
		{Service: "slack", Action: "delete_channel"},
	})
	if !confirm {
		t.Error("plan with a hard step should need confirmation")
	}
	if plan.HighRiskCount != 1 {
		t.Errorf("HighRiskCount = %d, want 1", plan.HighRiskCount)
	}

	_, confirm = e.EvaluatePlan([]dryrun.ProposedStep{
		{Service: "slack", Action: "list_channels"},
		{Service: "slack", Action: "send_message"},
		{Service: "github", Action: "create_issue"},
	})
	if confirm {
		t.Error("three safe steps should not need confirmation")
	}

	_, confirm = e.EvaluatePlan([]dryrun.ProposedStep{
		{Service: "slack", Action: "list_channels"},
		{Service: "slack", Action: "list_users"},
		{Service: "github", Action: "list_issues"},
		{Service: "github", Action: "get_issue"},
	})
	if !confirm {
		t.Error("four steps should need confirmation on size alone")
	}
}

func TestVerdictString(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{VerdictAllow, "allow"},
		{VerdictRequireApproval, "require_approval"},
		{VerdictDeny, "deny"},
		{Verdict(0), "unspecified"},
		{Verdict(99), "unspecified"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Verdict(%d).String() = %q, want %q", int(tt.v), got, tt.want)
		}
	}
}

func TestDecisionSourceString(t *testing.T) {
	tests := []struct {
		s    DecisionSource
		want string
	}{
		{SourcePolicy, "policy"},
		{SourceRateLimit, "rate_limit"},
		{SourceAccess, "access"},
		{SourceRisk, "risk"},
		{SourceDefault, "default"},
		{SourceUnspecified, "unspecified"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("DecisionSource(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

func BenchmarkAuthorize(b *testing.B) {
	loader := &mockLoader{record: &policy.AgentPolicy{
		AgentID: "agent-1",
		Tools: policy.ToolPolicy{
			Mode:    policy.ModeAllowlist,
			Allowed: []string{"send_message", "list_channels", "search"},
		},
		ServiceAccess: map[string]string{"slack": "write"},
	}}
	e := newTestEngine(loader)
	req := Request{
		AgentID: "agent-1",
		Service: "slack",
		Action:  "send_message",
		RateOverrides: []ratelimit.Config{
			{Service: "slack", MaxActions: 1 << 30, WindowMinutes: 15},
		},
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		e.Authorize(context.Background(), req)
	}
}
