// Package validator decides whether a rewritten query is semantically
// equivalent to its original by canonicalizing both logical plans and
// comparing the results under a configurable strictness mode.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/guileen/heimdall/canon"
	"github.com/guileen/heimdall/logger"
	"github.com/guileen/heimdall/plan"
)

// Mode selects how strictly two canonical plans are compared.
type Mode int

const (
	// Strict accepts only byte-identical canonical serializations.
	Strict Mode = iota
	// Relaxed additionally ignores projection and group-by ordering where
	// no order-sensitive operator depends on it.
	Relaxed
	// Heuristic falls back to a structural similarity score when the
	// relaxed comparison fails; plans scoring at least
	// SimilarityThreshold are accepted with that score as confidence.
	Heuristic
)

// SimilarityThreshold is the minimum structural similarity for a Heuristic
// equivalence verdict.
const SimilarityThreshold = 0.9

// String returns the mode name as used in configuration.
func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Relaxed:
		return "relaxed"
	case Heuristic:
		return "heuristic"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration string to a Mode. Unknown values fall back
// to Strict: the safe direction for an equivalence gate.
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "relaxed":
		return Relaxed
	case "heuristic":
		return Heuristic
	default:
		return Strict
	}
}

// Verdict reasons.
const (
	ReasonIdentical    = "identical_canonical_form"
	ReasonRelaxedMatch = "relaxed_match"
	ReasonDifferences  = "structural_differences"
	ReasonSimilarity   = "similarity_above_threshold"
	ReasonExtraction   = "extraction_failed"
	ReasonDiverged     = "canonicalization_diverged"
	ReasonUnsupported  = "unsupported_fragment"
	ReasonTimeout      = "validation_timeout"
	ReasonEmptyPlan    = "empty_plan"
)

// Difference categories.
const (
	DiffOperator   = "operator_mismatch"
	DiffCondition  = "condition_mismatch"
	DiffProjection = "projection_mismatch"
	DiffMissing    = "missing_subtree"
)

// Difference names one structural divergence between two plans. Path is the
// root-to-node location via child indices ("root.0.1").
type Difference struct {
	Path     string `json:"path"`
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

// Result is the validator's verdict on a candidate rewrite.
type Result struct {
	IsEquivalent bool         `json:"is_equivalent"`
	Confidence   float64      `json:"confidence"`
	Reason       string       `json:"reason"`
	Differences  []Difference `json:"differences,omitempty"`
}

func failure(reason string) Result {
	return Result{IsEquivalent: false, Confidence: 0, Reason: reason}
}

// Validator compares queries through a plan extractor and a rule registry.
// It is stateless apart from configuration and safe for concurrent use.
type Validator struct {
	extractor plan.Extractor
	registry  *canon.Registry
	mode      Mode
}

// New returns a validator in the given mode. A nil registry gets the
// standard rule set.
func New(extractor plan.Extractor, registry *canon.Registry, mode Mode) *Validator {
	if registry == nil {
		registry = canon.NewRegistry()
	}
	return &Validator{extractor: extractor, registry: registry, mode: mode}
}

// Mode returns the configured comparison mode.
func (v *Validator) Mode() Mode { return v.mode }

// Validate extracts and canonicalizes both queries, then compares the
// canonical plans. It never returns an error: every failure path is a
// non-equivalent verdict with confidence zero.
func (v *Validator) Validate(ctx context.Context, session any, originalSQL, rewrittenSQL string) Result {
	original, err := v.extractCanonical(ctx, session, originalSQL)
	if err != nil {
		return failure(reasonFor(err))
	}
	if ctx.Err() != nil {
		return failure(ReasonTimeout)
	}
	rewritten, err := v.extractCanonical(ctx, session, rewrittenSQL)
	if err != nil {
		return failure(reasonFor(err))
	}
	if ctx.Err() != nil {
		return failure(ReasonTimeout)
	}
	return v.ValidatePlans(original, rewritten)
}

// extractCanonical runs extraction and canonicalization for one query.
func (v *Validator) extractCanonical(ctx context.Context, session any, sql string) (*plan.LogicalPlan, error) {
	p, err := v.extractor.Extract(ctx, session, sql)
	if err != nil {
		logger.Debug("plan extraction failed", logger.SQL(sql), logger.ErrorField(err))
		return nil, fmt.Errorf("extract: %w", err)
	}
	canonical, err := v.registry.Canonicalize(p)
	if err != nil {
		logger.Warn("canonicalization did not converge", logger.SQL(sql))
		return nil, err
	}
	return canonical, nil
}

func reasonFor(err error) string {
	if errors.Is(err, canon.ErrDiverged) {
		return ReasonDiverged
	}
	return ReasonExtraction
}

// ValidatePlans compares two already-canonicalized plans under the
// configured mode.
func (v *Validator) ValidatePlans(original, rewritten *plan.LogicalPlan) Result {
	if original == nil || original.Root == nil || rewritten == nil || rewritten.Root == nil {
		return failure(ReasonEmptyPlan)
	}
	if original.Unsupported() || rewritten.Unsupported() {
		return failure(ReasonUnsupported)
	}

	if original.ToJSON() == rewritten.ToJSON() {
		return Result{IsEquivalent: true, Confidence: 1.0, Reason: ReasonIdentical}
	}

	if v.mode != Strict {
		var diffs []Difference
		compareNodes(original.Root, rewritten.Root, "root", false, &diffs)
		if len(diffs) == 0 {
			return Result{IsEquivalent: true, Confidence: 1.0, Reason: ReasonRelaxedMatch}
		}
		if v.mode == Heuristic {
			score := similarity(original.Root, rewritten.Root)
			if score >= SimilarityThreshold {
				return Result{IsEquivalent: true, Confidence: score, Reason: ReasonSimilarity}
			}
			return Result{IsEquivalent: false, Confidence: score, Reason: ReasonDifferences, Differences: diffs}
		}
		return Result{IsEquivalent: false, Confidence: 0, Reason: ReasonDifferences, Differences: diffs}
	}

	var diffs []Difference
	compareNodesStrict(original.Root, rewritten.Root, "root", &diffs)
	return Result{IsEquivalent: false, Confidence: 0, Reason: ReasonDifferences, Differences: diffs}
}

// compareNodesStrict enumerates differences under positional comparison.
func compareNodesStrict(a, b *plan.PlanNode, path string, diffs *[]Difference) {
	compareNodes(a, b, path, true, diffs)
}

// compareNodes walks both trees positionally, starting order-insensitive.
// compare's orderSensitive flag is true while an enclosing Limit (with no
// intervening Sort) makes row order observable, which disables the set
// comparison of projections in relaxed mode.
func compareNodes(a, b *plan.PlanNode, path string, strict bool, diffs *[]Difference) {
	if a == nil || b == nil {
		if a != b {
			*diffs = append(*diffs, Difference{Path: path, Category: DiffMissing})
		}
		return
	}
	compare(a, b, path, strict, false, diffs)
}

func compare(a, b *plan.PlanNode, path string, strict, orderSensitive bool, diffs *[]Difference) {
	if a.Type != b.Type || a.TableName != b.TableName || a.JoinType != b.JoinType {
		*diffs = append(*diffs, Difference{
			Path:     path,
			Category: DiffOperator,
			Detail:   fmt.Sprintf("%s(%s%s) vs %s(%s%s)", a.Type, a.TableName, a.JoinType, b.Type, b.TableName, b.JoinType),
		})
		return
	}

	if a.Condition.ToJSON() != b.Condition.ToJSON() {
		*diffs = append(*diffs, Difference{Path: path, Category: DiffCondition})
	}

	if !columnsMatch(a.ProjectedColumns, b.ProjectedColumns, strict || orderSensitive) {
		*diffs = append(*diffs, Difference{
			Path:     path,
			Category: DiffProjection,
			Detail:   fmt.Sprintf("[%s] vs [%s]", strings.Join(a.ProjectedColumns, ","), strings.Join(b.ProjectedColumns, ",")),
		})
	}
	if !columnsMatch(a.GroupByColumns, b.GroupByColumns, strict) {
		*diffs = append(*diffs, Difference{Path: path, Category: DiffProjection, Detail: "group by"})
	}

	// Sort fixes the output order below it; Limit makes order observable
	// until a Sort is reached.
	childOrderSensitive := orderSensitive
	switch a.Type {
	case plan.NodeLimit:
		childOrderSensitive = true
	case plan.NodeSort:
		childOrderSensitive = false
	}

	n := len(a.Children)
	if len(b.Children) > n {
		n = len(b.Children)
	}
	for i := 0; i < n; i++ {
		childPath := path + "." + strconv.Itoa(i)
		switch {
		case i >= len(a.Children) || i >= len(b.Children):
			*diffs = append(*diffs, Difference{Path: childPath, Category: DiffMissing})
		default:
			compare(a.Children[i], b.Children[i], childPath, strict, childOrderSensitive, diffs)
		}
	}
}

// columnsMatch compares column lists positionally, or as multisets when
// ordered is false.
func columnsMatch(a, b []string, ordered bool) bool {
	if len(a) != len(b) {
		return false
	}
	if ordered {
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	counts := make(map[string]int, len(a))
	for _, s := range a {
		counts[s]++
	}
	for _, s := range b {
		counts[s]--
		if counts[s] < 0 {
			return false
		}
	}
	return true
}

// similarity scores the positional alignment of two trees: matching nodes
// divided by the node count of the larger tree.
func similarity(a, b *plan.PlanNode) float64 {
	max := countNodes(a)
	if n := countNodes(b); n > max {
		max = n
	}
	if max == 0 {
		return 0
	}
	return float64(countMatches(a, b)) / float64(max)
}

func countNodes(n *plan.PlanNode) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}

func countMatches(a, b *plan.PlanNode) int {
	if a == nil || b == nil {
		return 0
	}
	matched := 0
	if a.Type == b.Type && a.TableName == b.TableName && a.JoinType == b.JoinType &&
		a.Condition.ToJSON() == b.Condition.ToJSON() {
		matched = 1
	}
	n := len(a.Children)
	if len(b.Children) < n {
		n = len(b.Children)
	}
	for i := 0; i < n; i++ {
		matched += countMatches(a.Children[i], b.Children[i])
	}
	return matched
}
