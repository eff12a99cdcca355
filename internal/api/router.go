package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-ai/warden/internal/audit"
	"github.com/aegis-ai/warden/internal/engine"
	"github.com/aegis-ai/warden/internal/ratelimit"
	"github.com/aegis-ai/warden/internal/store"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store         *store.Store              // nil if Postgres unavailable
	Policies      *store.CachedPolicyLoader // nil if Postgres unavailable
	Engine        *engine.Engine
	Writer        audit.Writer
	Reader        *audit.Reader // nil if ClickHouse unavailable
	RateOverrides []ratelimit.Config
	Logger        *zap.Logger
	CacheTTL      time.Duration
	AuthFailOpen  bool
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	authed := deps.newAuthMiddleware()

	// Decision endpoints (auth required via Bearer wsk_ key)
	mux.HandleFunc("POST /v1/warden/authorize", authed(deps.handleAuthorize))
	mux.HandleFunc("POST /v1/warden/plan", authed(deps.handlePlan))
	mux.HandleFunc("POST /v1/warden/command", authed(deps.handleCommand))

	// Runtime CRUD (no auth — dashboard auth added later)
	mux.HandleFunc("POST /api/warden/runtimes", deps.handleCreateRuntime)
	mux.HandleFunc("GET /api/warden/runtimes", deps.handleListRuntimes)
	mux.HandleFunc("GET /api/warden/runtimes/{runtime_id}", deps.handleGetRuntime)
	mux.HandleFunc("PATCH /api/warden/runtimes/{runtime_id}", deps.handleUpdateRuntime)
	mux.HandleFunc("DELETE /api/warden/runtimes/{runtime_id}", deps.handleDeleteRuntime)
	mux.HandleFunc("POST /api/warden/runtimes/{runtime_id}/rotate-key", deps.handleRotateKey)

	// Agent policy CRUD (no auth)
	mux.HandleFunc("GET /api/warden/agents", deps.handleListAgentPolicies)
	mux.HandleFunc("GET /api/warden/agents/{agent_id}/policy", deps.handleGetAgentPolicy)
	mux.HandleFunc("PUT /api/warden/agents/{agent_id}/policy", deps.handleReplaceAgentPolicy)
	mux.HandleFunc("PATCH /api/warden/agents/{agent_id}/policy", deps.handleUpdateAgentPolicy)
	mux.HandleFunc("DELETE /api/warden/agents/{agent_id}/policy", deps.handleDeleteAgentPolicy)

	// Decisions & analytics (no auth)
	mux.HandleFunc("GET /api/warden/decisions", deps.handleListDecisions)
	mux.HandleFunc("GET /api/warden/decisions/summary", deps.handleDecisionSummary)
	mux.HandleFunc("GET /api/warden/decisions/{request_id}", deps.handleGetDecision)

	// Rate limit inspection & admin reset (no auth)
	mux.HandleFunc("GET /api/warden/limits/{service}", deps.handleGetLimit)
	mux.HandleFunc("POST /api/warden/limits/{service}/reset", deps.handleResetLimit)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
