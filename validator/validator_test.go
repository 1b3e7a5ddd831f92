package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/heimdall/plan"
)

func newValidator(mode Mode) *Validator {
	return New(plan.NewPGQueryExtractor(), nil, mode)
}

func TestValidateCommutativeJoinStrict(t *testing.T) {
	v := newValidator(Strict)
	result := v.Validate(context.Background(), nil,
		"SELECT * FROM a JOIN b ON a.x = b.y",
		"SELECT * FROM b JOIN a ON b.y = a.x")

	assert.True(t, result.IsEquivalent, "reason: %s, diffs: %v", result.Reason, result.Differences)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Empty(t, result.Differences)
}

func TestValidateInExpansionStrict(t *testing.T) {
	v := newValidator(Strict)
	result := v.Validate(context.Background(), nil,
		"SELECT * FROM t WHERE x IN (1, 2, 3)",
		"SELECT * FROM t WHERE x = 1 OR x = 2 OR x = 3")

	assert.True(t, result.IsEquivalent, "reason: %s, diffs: %v", result.Reason, result.Differences)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestValidateProjectionReorder(t *testing.T) {
	original := "SELECT a, b FROM t"
	reordered := "SELECT b, a FROM t"

	strict := newValidator(Strict).Validate(context.Background(), nil, original, reordered)
	assert.False(t, strict.IsEquivalent, "strict must reject projection reorder")
	assert.Equal(t, 0.0, strict.Confidence)
	assert.NotEmpty(t, strict.Differences)

	relaxed := newValidator(Relaxed).Validate(context.Background(), nil, original, reordered)
	assert.True(t, relaxed.IsEquivalent, "relaxed must accept projection reorder: %v", relaxed.Differences)
	assert.Equal(t, 1.0, relaxed.Confidence)
}

func TestValidateProjectionReorderUnderLimit(t *testing.T) {
	// Under a bare LIMIT the row order is observable, so even relaxed mode
	// must keep projections positional.
	relaxed := newValidator(Relaxed).Validate(context.Background(), nil,
		"SELECT a, b FROM t LIMIT 5",
		"SELECT b, a FROM t LIMIT 5")
	assert.False(t, relaxed.IsEquivalent)
}

func TestValidateSemanticChange(t *testing.T) {
	for _, mode := range []Mode{Strict, Relaxed, Heuristic} {
		t.Run(mode.String(), func(t *testing.T) {
			result := newValidator(mode).Validate(context.Background(), nil,
				"SELECT * FROM t WHERE x > 5",
				"SELECT * FROM t WHERE x >= 5")
			assert.False(t, result.IsEquivalent, "mode %s must reject the changed comparison", mode)
		})
	}

	// The differences list points at the filter condition.
	result := newValidator(Relaxed).Validate(context.Background(), nil,
		"SELECT * FROM t WHERE x > 5",
		"SELECT * FROM t WHERE x >= 5")
	require.NotEmpty(t, result.Differences)
	var sawCondition bool
	for _, d := range result.Differences {
		if d.Category == DiffCondition {
			sawCondition = true
			assert.NotEmpty(t, d.Path)
		}
	}
	assert.True(t, sawCondition, "expected a condition_mismatch difference, got %v", result.Differences)
}

func TestValidateExtractionFailure(t *testing.T) {
	result := newValidator(Strict).Validate(context.Background(), nil,
		"SELECT rank() OVER (ORDER BY x) FROM t",
		"SELECT x FROM t")

	assert.False(t, result.IsEquivalent)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Equal(t, ReasonExtraction, result.Reason)
	assert.Empty(t, result.Differences)
}

func TestValidateUnsupportedFragment(t *testing.T) {
	// DISTINCT extracts but is marked unsupported, which poisons every mode.
	for _, mode := range []Mode{Strict, Relaxed, Heuristic} {
		result := newValidator(mode).Validate(context.Background(), nil,
			"SELECT DISTINCT a FROM t",
			"SELECT DISTINCT a FROM t")
		assert.False(t, result.IsEquivalent, "mode %s", mode)
		assert.Equal(t, ReasonUnsupported, result.Reason)
	}
}

func TestValidateHeuristicSimilarity(t *testing.T) {
	// Identical shape except the filter's comparison constant on a five-node
	// plan: similar but below the acceptance threshold.
	result := newValidator(Heuristic).Validate(context.Background(), nil,
		"SELECT a, b FROM t JOIN u ON t.id = u.id WHERE t.x > 5",
		"SELECT a, b FROM t JOIN u ON t.id = u.id WHERE t.x > 9")

	assert.False(t, result.IsEquivalent)
	assert.Greater(t, result.Confidence, 0.0, "heuristic confidence is the similarity score")
	assert.Less(t, result.Confidence, 1.0)
}

func TestValidateIdenticalSQL(t *testing.T) {
	sql := "SELECT a FROM t WHERE a = 1"
	result := newValidator(Strict).Validate(context.Background(), nil, sql, sql)
	assert.True(t, result.IsEquivalent)
	assert.Equal(t, ReasonIdentical, result.Reason)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, Strict, ParseMode("strict"))
	assert.Equal(t, Relaxed, ParseMode("RELAXED"))
	assert.Equal(t, Heuristic, ParseMode("heuristic"))
	assert.Equal(t, Strict, ParseMode("bogus"), "unknown modes fall back to strict")
}
