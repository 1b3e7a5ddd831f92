package prompt

// Built-in system prompts, selected by optimization goal.
const (
	DefaultSystemPrompt = `You are an expert SQL performance engineer.
Your task is to rewrite inefficient SQL queries to achieve better performance while maintaining 100% semantic equivalence.

Key principles:
1. MUST preserve exact semantic equivalence - results must be identical
2. Focus on performance improvements: reduce subqueries, optimize joins, eliminate redundancy
3. Apply proven optimization techniques: subquery unnesting, predicate pushdown, join reordering
4. Output ONLY the optimized SQL code, no explanations`

	PerformanceFocusedPrompt = `You are an expert SQL performance engineer.
Rewrite the given query for maximum execution speed while maintaining 100% semantic equivalence.
Prefer joins over subqueries, push predicates toward the data, and minimize intermediate result sizes.
Output ONLY the optimized SQL code, no explanations.`

	ReadabilityFocusedPrompt = `You are an expert SQL engineer.
Rewrite the given query to be clearer and easier to maintain while maintaining 100% semantic equivalence.
Prefer explicit JOIN syntax, well-structured predicates and meaningful aliases.
Output ONLY the rewritten SQL code, no explanations.`

	// SafetyConstraints is appended to every prompt regardless of goal.
	SafetyConstraints = `## Constraints

- The rewritten query MUST return exactly the same rows as the original for every possible database state.
- Do not change the set of referenced tables or columns.
- Do not introduce non-deterministic functions.
- When in doubt, return the original query unchanged.`
)

func systemPromptFor(goal Goal) string {
	switch goal {
	case GoalPerformance:
		return PerformanceFocusedPrompt
	case GoalReadability:
		return ReadabilityFocusedPrompt
	default:
		return DefaultSystemPrompt
	}
}

// Techniques catalogs the optimization hints the builder can expand into
// full descriptions.
var Techniques = map[string]string{
	"subquery_unnesting":     "Convert correlated subqueries to JOINs when possible",
	"predicate_pushdown":     "Push filter conditions closer to data sources",
	"join_reordering":        "Reorder joins to reduce intermediate result size",
	"redundancy_elimination": "Remove redundant conditions and operations",
	"in_to_join":             "Convert IN subqueries to JOIN operations",
	"exists_to_join":         "Convert EXISTS subqueries to JOIN operations",
}
