package hostdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guileen/heimdall/plan"
)

// CostEstimator prices plans through the host planner's own cost model via
// EXPLAIN (FORMAT JSON). Estimates are deterministic for a fixed query and
// schema because no statement is ever executed.
type CostEstimator struct {
	session *Session
}

// NewCostEstimator returns an estimator over the session.
func NewCostEstimator(session *Session) *CostEstimator {
	return &CostEstimator{session: session}
}

type explainRow struct {
	Plan struct {
		TotalCost float64 `json:"Total Cost"`
	} `json:"Plan"`
}

// Estimate implements optimizer.CostEstimator. The opaque per-query session
// handle is unused: the pool carries the host connection.
func (e *CostEstimator) Estimate(ctx context.Context, p *plan.LogicalPlan, _ any) (float64, error) {
	if p == nil || p.OriginalSQL == "" {
		return 0, fmt.Errorf("estimate: empty plan")
	}
	var raw []byte
	err := e.session.pool.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+p.OriginalSQL).Scan(&raw)
	if err != nil {
		return 0, fmt.Errorf("explain: %w", err)
	}
	var rows []explainRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0, fmt.Errorf("parse explain output: %w", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("explain returned no plan")
	}
	cost := rows[0].Plan.TotalCost
	if cost < 0 {
		cost = 0
	}
	return cost, nil
}
