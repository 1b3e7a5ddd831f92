// Package prompt assembles the rewrite prompt sent to LLM providers. The
// section order is fixed so that identical inputs always produce an
// identical prompt string, which the client's cache fingerprint depends on.
package prompt

import (
	"fmt"
	"strings"
)

// Goal selects the built-in system prompt when none is overridden.
type Goal int

const (
	GoalPerformance Goal = iota
	GoalReadability
	GoalBalanced
)

// String returns the goal name as used in configuration.
func (g Goal) String() string {
	switch g {
	case GoalPerformance:
		return "performance"
	case GoalReadability:
		return "readability"
	default:
		return "balanced"
	}
}

// ParseGoal maps a configuration string to a Goal, defaulting to balanced.
func ParseGoal(s string) Goal {
	switch strings.ToLower(s) {
	case "performance":
		return GoalPerformance
	case "readability":
		return GoalReadability
	default:
		return GoalBalanced
	}
}

// TableSchema describes one table for the schema section of the prompt.
type TableSchema struct {
	TableName       string   `json:"table_name"`
	Columns         []string `json:"columns"`
	PrimaryKeys     []string `json:"primary_keys"`
	ForeignKeys     []string `json:"foreign_keys"`
	CreateStatement string   `json:"create_statement"`
}

// FewShotExample is one worked optimization shown to the model.
type FewShotExample struct {
	OriginalSQL  string  `json:"original_sql"`
	OptimizedSQL string  `json:"optimized_sql"`
	Explanation  string  `json:"explanation"`
	SpeedupRatio float64 `json:"speedup_ratio"`
}

// maxFewShotExamples bounds the example section; later additions rotate out.
const maxFewShotExamples = 3

// Builder composes rewrite prompts. Configure at initialization; Build is
// read-only and safe for concurrent use afterwards.
type Builder struct {
	systemPrompt string
	goal         Goal
	examples     []FewShotExample
	hints        []string
}

// NewBuilder returns a builder for the given optimization goal with the
// matching built-in system prompt.
func NewBuilder(goal Goal) *Builder {
	return &Builder{goal: goal, systemPrompt: systemPromptFor(goal)}
}

// SetSystemPrompt overrides the built-in system prompt.
func (b *Builder) SetSystemPrompt(p string) {
	if p != "" {
		b.systemPrompt = p
	}
}

// AddFewShotExample appends a worked example to the few-shot section.
func (b *Builder) AddFewShotExample(e FewShotExample) {
	b.examples = append(b.examples, e)
}

// SetHints installs the optimization hint list. Hints matching a known
// technique are expanded with its description.
func (b *Builder) SetHints(hints []string) {
	b.hints = hints
}

// Build composes the prompt for one query. Sections appear in a fixed
// order: system prompt, schema, hints, few-shot examples (when enabled),
// safety constraints, and the target SQL with the output requirements.
func (b *Builder) Build(originalSQL string, schemas []TableSchema, useFewShot bool) string {
	var parts []string
	parts = append(parts, b.systemPrompt, "")

	if len(schemas) > 0 {
		parts = append(parts, "## Database Schema", "")
		for _, schema := range schemas {
			parts = append(parts, fmt.Sprintf("### Table: %s", schema.TableName))
			if schema.CreateStatement != "" {
				parts = append(parts, "```sql\n"+schema.CreateStatement+"\n```")
			} else {
				parts = append(parts, "Columns: "+strings.Join(schema.Columns, ", "))
				if len(schema.PrimaryKeys) > 0 {
					parts = append(parts, "Primary Keys: "+strings.Join(schema.PrimaryKeys, ", "))
				}
				if len(schema.ForeignKeys) > 0 {
					parts = append(parts, "Foreign Keys: "+strings.Join(schema.ForeignKeys, ", "))
				}
			}
			parts = append(parts, "")
		}
	}

	if len(b.hints) > 0 {
		parts = append(parts, "## Optimization Techniques to Consider", "")
		for _, hint := range b.hints {
			if desc, ok := Techniques[hint]; ok {
				parts = append(parts, fmt.Sprintf("- **%s**: %s", hint, desc))
			} else {
				parts = append(parts, "- "+hint)
			}
		}
		parts = append(parts, "")
	}

	if useFewShot && len(b.examples) > 0 {
		parts = append(parts, "## Examples of Successful Optimizations", "")
		examples := b.examples
		if len(examples) > maxFewShotExamples {
			examples = examples[:maxFewShotExamples]
		}
		for i, e := range examples {
			parts = append(parts, fmt.Sprintf("### Example %d (Speedup: %.1fx)", i+1, e.SpeedupRatio), "")
			parts = append(parts, "**Original:**", "```sql\n"+e.OriginalSQL+"\n```")
			parts = append(parts, "", "**Optimized:**", "```sql\n"+e.OptimizedSQL+"\n```")
			if e.Explanation != "" {
				parts = append(parts, "", "*"+e.Explanation+"*")
			}
			parts = append(parts, "")
		}
	}

	parts = append(parts, SafetyConstraints, "")

	parts = append(parts, "## Query to Optimize", "")
	parts = append(parts, "Rewrite the following query for better performance:")
	parts = append(parts, "```sql\n"+originalSQL+"\n```", "")
	parts = append(parts, "## Requirements", "")
	parts = append(parts, "1. Output ONLY the optimized SQL query inside a ```sql code block")
	parts = append(parts, "2. Ensure 100% semantic equivalence")
	parts = append(parts, "3. Focus on measurable performance improvements")
	parts = append(parts, "4. If no optimization is possible, return the original query")

	return strings.Join(parts, "\n")
}
