// Package optimizer orchestrates the rewrite pipeline: gate, generate
// candidates through the LLM client, validate, cost, select. Its contract
// with the host is strict: a failure anywhere degrades to returning the
// original query, never an error.
package optimizer

import (
	"strings"
	"time"
)

// SelectionMode picks how a validated candidate is chosen.
type SelectionMode int

const (
	// BestCost chooses the validated candidate with the lowest estimated cost.
	BestCost SelectionMode = iota
	// FirstValid chooses the first candidate, in generation order, to pass
	// validation.
	FirstValid
	// Conservative chooses the best-cost candidate, but only when it clears
	// the minimum improvement ratio.
	Conservative
)

// String returns the mode name as used in configuration.
func (m SelectionMode) String() string {
	switch m {
	case FirstValid:
		return "first_valid"
	case Conservative:
		return "conservative"
	default:
		return "best_cost"
	}
}

// ParseSelectionMode maps a configuration string to a SelectionMode,
// defaulting to BestCost.
func ParseSelectionMode(s string) SelectionMode {
	switch strings.ToLower(s) {
	case "first_valid":
		return FirstValid
	case "conservative":
		return Conservative
	default:
		return BestCost
	}
}

// Strategy controls when the rewriter engages and how it picks a winner.
type Strategy struct {
	// Trigger conditions.
	EnableForSubqueries   bool    `json:"enable_for_subqueries"`
	EnableForComplexJoins bool    `json:"enable_for_complex_joins"`
	MinEstimatedCost      float64 `json:"min_estimated_cost"`

	// Generation.
	MaxCandidates     int           `json:"max_candidates"`
	ValidationTimeout time.Duration `json:"validation_timeout"`

	// Selection.
	SelectionMode       SelectionMode `json:"selection_mode"`
	MinImprovementRatio float64       `json:"min_improvement_ratio"`
}

// ComplexJoinThreshold is the join count at which a query becomes eligible
// for rewriting under EnableForComplexJoins.
const ComplexJoinThreshold = 3

// DefaultStrategy returns the stock strategy.
func DefaultStrategy() Strategy {
	return Strategy{
		EnableForSubqueries:   true,
		EnableForComplexJoins: true,
		MinEstimatedCost:      1000,
		MaxCandidates:         5,
		ValidationTimeout:     10 * time.Second,
		SelectionMode:         BestCost,
		MinImprovementRatio:   1.2,
	}
}

// OverallDeadline is the budget for one optimization call: past it the
// orchestrator abandons remaining candidates and returns the best so far.
func (s Strategy) OverallDeadline() time.Duration {
	return 10 * s.ValidationTimeout
}
