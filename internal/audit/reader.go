package audit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse decision_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// DecisionRow represents a single row from the decision_events table.
type DecisionRow struct {
	RequestID     string
	RuntimeID     string
	AgentID       string
	Timestamp     time.Time
	Service       string
	Action        string
	Target        string
	Verdict       string
	Source        string
	Reason        string
	Risk          string
	RateRemaining int32
	LatencyMs     float32
	IsShadow      uint8
}

// ListDecisionsParams holds filters and pagination for decision listing.
// All filters are optional.
type ListDecisionsParams struct {
	RuntimeID *string
	AgentID   *string
	Service   *string
	Verdict   *string
	Risk      *string
	IsShadow  *bool
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

const decisionColumns = "request_id, runtime_id, agent_id, timestamp, " +
	"service, action, target, verdict, decision_source, reason, risk, " +
	"rate_remaining, latency_ms, is_shadow"

func scanDecision(row interface{ Scan(dest ...any) error }, e *DecisionRow) error {
	return row.Scan(
		&e.RequestID, &e.RuntimeID, &e.AgentID, &e.Timestamp,
		&e.Service, &e.Action, &e.Target, &e.Verdict, &e.Source,
		&e.Reason, &e.Risk, &e.RateRemaining, &e.LatencyMs, &e.IsShadow,
	)
}

// ListDecisions returns paginated, filtered decision events and the total
// count.
func (r *Reader) ListDecisions(ctx context.Context, params ListDecisionsParams) ([]DecisionRow, int, error) {
	var conditions []string
	var args []any

	if params.RuntimeID != nil {
		conditions = append(conditions, "runtime_id = @runtime_id")
		args = append(args, clickhouse.Named("runtime_id", *params.RuntimeID))
	}
	if params.AgentID != nil {
		conditions = append(conditions, "agent_id = @agent_id")
		args = append(args, clickhouse.Named("agent_id", *params.AgentID))
	}
	if params.Service != nil {
		conditions = append(conditions, "service = @service")
		args = append(args, clickhouse.Named("service", *params.Service))
	}
	if params.Verdict != nil {
		conditions = append(conditions, "verdict = @verdict")
		args = append(args, clickhouse.Named("verdict", *params.Verdict))
	}
	if params.Risk != nil {
		conditions = append(conditions, "risk = @risk")
		args = append(args, clickhouse.Named("risk", *params.Risk))
	}
	if params.IsShadow != nil {
		var v uint8
		if *params.IsShadow {
			v = 1
		}
		conditions = append(conditions, "is_shadow = @is_shadow")
		args = append(args, clickhouse.Named("is_shadow", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := "1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM decision_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListDecisions count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT %s FROM decision_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		decisionColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListDecisions query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []DecisionRow
	for rows.Next() {
		var e DecisionRow
		if err := scanDecision(rows, &e); err != nil {
			return nil, 0, fmt.Errorf("ListDecisions scan: %w", err)
		}
		decisions = append(decisions, e)
	}

	return decisions, int(total), rows.Err()
}

// GetDecision returns a single decision by request ID, or nil if not found.
func (r *Reader) GetDecision(ctx context.Context, requestID string) (*DecisionRow, error) {
	row := r.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM decision_events WHERE request_id = @request_id", decisionColumns),
		clickhouse.Named("request_id", requestID),
	)

	var e DecisionRow
	if err := scanDecision(row, &e); err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetDecision: %w", err)
	}
	if e.RequestID == "" {
		return nil, nil
	}
	return &e, nil
}

// SummaryStats holds aggregate verdict counts.
type SummaryStats struct {
	TotalDecisions int `json:"total_decisions"`
	Allows         int `json:"allows"`
	Approvals      int `json:"approvals"`
	Denies         int `json:"denies"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// ServiceCount holds a service and its count.
type ServiceCount struct {
	Service string `json:"service"`
	Count   int    `json:"count"`
}

// AgentCount holds an agent_id and its count.
type AgentCount struct {
	AgentID string `json:"agent_id"`
	Count   int    `json:"count"`
}

// ShadowReportStats holds shadow mode analysis.
type ShadowReportStats struct {
	Total                int `json:"total"`
	WouldDeny            int `json:"would_deny"`
	WouldRequireApproval int `json:"would_require_approval"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	DeniesOverTime     []TimeSeriesBucket `json:"denies_over_time"`
	TopDeniedServices  []ServiceCount     `json:"top_denied_services"`
	TopFlaggedAgents   []AgentCount       `json:"top_flagged_agents"`
	ShadowReport       ShadowReportStats  `json:"shadow_report"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated analytics over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts
	var total, allows, approvals, denies uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(verdict = 'allow') as allows, "+
			"countIf(verdict = 'require_approval') as approvals, "+
			"countIf(verdict = 'deny') as denies "+
			"FROM decision_events "+
			"WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &allows, &approvals, &denies)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalDecisions: int(total),
		Allows:         int(allows),
		Approvals:      int(approvals),
		Denies:         int(denies),
	}

	// Denies over time (hourly)
	dotRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM decision_events "+
			"WHERE verdict = 'deny' AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics denies_over_time: %w", err)
	}
	defer func() { _ = dotRows.Close() }()
	for dotRows.Next() {
		var hour time.Time
		var count uint64
		if err := dotRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics denies_over_time scan: %w", err)
		}
		result.DeniesOverTime = append(result.DeniesOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top denied services
	svcRows, err := r.conn.Query(ctx,
		"SELECT service, count() as count "+
			"FROM decision_events "+
			"WHERE verdict = 'deny' AND service != '' "+
			"AND timestamp >= @range_start "+
			"GROUP BY service ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_denied_services: %w", err)
	}
	defer func() { _ = svcRows.Close() }()
	for svcRows.Next() {
		var svc string
		var count uint64
		if err := svcRows.Scan(&svc, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_denied_services scan: %w", err)
		}
		result.TopDeniedServices = append(result.TopDeniedServices, ServiceCount{
			Service: svc, Count: int(count),
		})
	}

	// Top flagged agents
	agentRows, err := r.conn.Query(ctx,
		"SELECT agent_id, count() as count "+
			"FROM decision_events "+
			"WHERE verdict IN ('deny', 'require_approval') "+
			"AND agent_id != '' AND timestamp >= @range_start "+
			"GROUP BY agent_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_flagged_agents: %w", err)
	}
	defer func() { _ = agentRows.Close() }()
	for agentRows.Next() {
		var agentID string
		var count uint64
		if err := agentRows.Scan(&agentID, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_flagged_agents scan: %w", err)
		}
		result.TopFlaggedAgents = append(result.TopFlaggedAgents, AgentCount{
			AgentID: agentID, Count: int(count),
		})
	}

	// Shadow report
	var shadowTotal, wouldDeny, wouldApprove uint64
	err = r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(verdict = 'deny') as would_deny, "+
			"countIf(verdict = 'require_approval') as would_require_approval "+
			"FROM decision_events "+
			"WHERE is_shadow = 1 AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&shadowTotal, &wouldDeny, &wouldApprove)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics shadow_report: %w", err)
	}
	result.ShadowReport = ShadowReportStats{
		Total: int(shadowTotal), WouldDeny: int(wouldDeny), WouldRequireApproval: int(wouldApprove),
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM decision_events "+
			"WHERE timestamp >= @day_start",
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Ensure slices are non-nil for JSON serialization
	if result.DeniesOverTime == nil {
		result.DeniesOverTime = []TimeSeriesBucket{}
	}
	if result.TopDeniedServices == nil {
		result.TopDeniedServices = []ServiceCount{}
	}
	if result.TopFlaggedAgents == nil {
		result.TopFlaggedAgents = []AgentCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
