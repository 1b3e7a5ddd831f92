package optimizer

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/guileen/heimdall/canon"
	"github.com/guileen/heimdall/llm"
	"github.com/guileen/heimdall/logger"
	"github.com/guileen/heimdall/plan"
	"github.com/guileen/heimdall/prompt"
	"github.com/guileen/heimdall/validator"
)

// CostEstimator is the host cost-model boundary. Estimates must be
// deterministic for a fixed plan and schema and never negative.
type CostEstimator interface {
	Estimate(ctx context.Context, p *plan.LogicalPlan, session any) (float64, error)
}

// SchemaProvider supplies table schemas for the prompt's schema section.
type SchemaProvider interface {
	Schemas(ctx context.Context, session any, tables []string) ([]prompt.TableSchema, error)
}

// HistoryRecorder receives accepted rewrites. Implementations must not
// block the pipeline; errors are logged and dropped.
type HistoryRecorder interface {
	Record(ctx context.Context, original, optimized string, improvementRatio float64) error
}

// Orchestrator runs the optimization pipeline. It holds no per-query state:
// one instance serves all host sessions concurrently.
type Orchestrator struct {
	strategy  Strategy
	genConfig llm.GenerationConfig

	extractor plan.Extractor
	registry  *canon.Registry
	validator *validator.Validator
	client    *llm.Client
	prompts   *prompt.Builder
	costs     CostEstimator
	schemas   SchemaProvider
	history   HistoryRecorder

	enabled atomic.Bool
	stats   Statistics
}

// Options carries the orchestrator's collaborators. Extractor, Validator,
// Client, Prompts and Costs are required; Schemas and History are optional.
type Options struct {
	Strategy         *Strategy
	GenerationConfig *llm.GenerationConfig
	Extractor        plan.Extractor
	Registry         *canon.Registry
	Validator        *validator.Validator
	Client           *llm.Client
	Prompts          *prompt.Builder
	Costs            CostEstimator
	Schemas          SchemaProvider
	History          HistoryRecorder
}

// New assembles an orchestrator. Missing optional collaborators are left
// nil and skipped at runtime; a nil registry gets the standard rule set.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		strategy:  DefaultStrategy(),
		genConfig: llm.DefaultGenerationConfig(),
		extractor: opts.Extractor,
		registry:  opts.Registry,
		validator: opts.Validator,
		client:    opts.Client,
		prompts:   opts.Prompts,
		costs:     opts.Costs,
		schemas:   opts.Schemas,
		history:   opts.History,
	}
	if o.registry == nil {
		o.registry = canon.NewRegistry()
	}
	if opts.Strategy != nil {
		o.strategy = *opts.Strategy
	}
	if opts.GenerationConfig != nil {
		o.genConfig = *opts.GenerationConfig
	}
	o.enabled.Store(true)
	return o
}

// SetEnabled toggles the whole rewriter.
func (o *Orchestrator) SetEnabled(enabled bool) { o.enabled.Store(enabled) }

// Enabled reports whether the rewriter is engaged.
func (o *Orchestrator) Enabled() bool { return o.enabled.Load() }

// Strategy returns the configured strategy.
func (o *Orchestrator) Strategy() Strategy { return o.strategy }

// Statistics returns the running counters, including LLM cache hits.
func (o *Orchestrator) Statistics() StatisticsSnapshot {
	var hits uint64
	if o.client != nil {
		hits = o.client.Stats().Hits
	}
	return o.stats.Snapshot(hits)
}

// ResetStatistics zeroes the counters, including the LLM cache counters.
func (o *Orchestrator) ResetStatistics() {
	o.stats.Reset()
	if o.client != nil {
		o.client.ResetStats()
	}
}

// ShouldOptimize reports whether the query is worth sending through the
// pipeline: the rewriter is enabled, the plan shape matches a trigger, and
// the estimated cost clears the threshold.
func (o *Orchestrator) ShouldOptimize(ctx context.Context, session any, sql string) bool {
	if !o.enabled.Load() {
		return false
	}
	p, err := o.extractor.Extract(ctx, session, sql)
	if err != nil {
		return false
	}
	if !o.triggered(p) {
		return false
	}
	cost, err := o.costs.Estimate(ctx, p, session)
	return err == nil && cost >= o.strategy.MinEstimatedCost
}

func (o *Orchestrator) triggered(p *plan.LogicalPlan) bool {
	joins, subqueries := planFeatures(p.Root)
	if o.strategy.EnableForSubqueries && subqueries > 0 {
		return true
	}
	if o.strategy.EnableForComplexJoins && joins >= ComplexJoinThreshold {
		return true
	}
	return false
}

// planFeatures counts join and subquery operators in the plan.
func planFeatures(n *plan.PlanNode) (joins, subqueries int) {
	if n == nil {
		return 0, 0
	}
	switch n.Type {
	case plan.NodeJoin:
		joins++
	case plan.NodeSubquery:
		subqueries++
	}
	for _, c := range n.Children {
		j, s := planFeatures(c)
		joins += j
		subqueries += s
	}
	return joins, subqueries
}

// Optimize runs the full pipeline for one query. It never returns an
// error: every failure path yields a pass-through result carrying the
// original SQL and a diagnostic reason.
func (o *Orchestrator) Optimize(ctx context.Context, session any, sql string) *Result {
	start := time.Now()
	defer func() { o.stats.recordQuery(time.Since(start)) }()

	ctx = logger.WithRequestID(ctx, uuid.NewString())
	ctx, cancel := context.WithTimeout(ctx, o.strategy.OverallDeadline())
	defer cancel()

	var stats Stats

	if !o.enabled.Load() {
		return unchanged(sql, 0, ReasonDisabled, start, stats)
	}

	// Step 1: extract and cost the original.
	original, err := o.extractor.Extract(ctx, session, sql)
	if err != nil {
		logger.DebugContext(ctx, "declining optimization", logger.Reason(ReasonExtractionFailed), logger.ErrorField(err))
		return unchanged(sql, 0, ReasonExtractionFailed, start, stats)
	}
	if !o.triggered(original) {
		return unchanged(sql, 0, ReasonNotTriggered, start, stats)
	}

	costStart := time.Now()
	originalCost, err := o.costs.Estimate(ctx, original, session)
	stats.CostTime += time.Since(costStart)
	if err != nil {
		logger.WarnContext(ctx, "original cost estimation failed", logger.ErrorField(err))
		return unchanged(sql, 0, ReasonCostEstimation, start, stats)
	}
	if originalCost < o.strategy.MinEstimatedCost {
		return unchanged(sql, originalCost, ReasonBelowCostThreshold, start, stats)
	}

	origCanonical, err := o.registry.Canonicalize(original)
	if err != nil {
		return unchanged(sql, originalCost, ReasonExtractionFailed, start, stats)
	}

	// Step 2: generate candidates.
	candidates, llmStats, reason := o.generateCandidates(ctx, session, sql, original)
	stats.LLMTime = llmStats.LLMTime
	stats.CacheHit = llmStats.CacheHit
	stats.CandidatesGenerated = len(candidates)
	if reason != "" {
		return unchanged(sql, originalCost, reason, start, stats)
	}

	// Steps 3-4: validate sequentially in generation order, then cost the
	// survivors. Sequential validation keeps FirstValid deterministic.
	survivors := o.validateCandidates(ctx, session, origCanonical, candidates, &stats)
	stats.CandidatesValidated = len(survivors)
	if len(survivors) == 0 {
		return unchanged(sql, originalCost, ReasonNoValidCandidate, start, stats)
	}

	costStart = time.Now()
	o.costSurvivors(ctx, session, survivors)
	stats.CostTime += time.Since(costStart)

	// Step 5: selection policy.
	chosen := o.selectCandidate(survivors, originalCost)
	if chosen == nil {
		return unchanged(sql, originalCost, ReasonNoValidCandidate, start, stats)
	}

	// Step 6: minimum improvement gate.
	ratio := improvementRatio(originalCost, chosen.cost)
	if ratio < o.strategy.MinImprovementRatio {
		return unchanged(sql, originalCost, ReasonNoImprovement, start, stats)
	}

	o.stats.recordOptimized(ratio)
	o.recordHistory(ctx, sql, chosen.sql, ratio)
	logger.InfoContext(ctx, "query optimized",
		logger.Float64("improvement_ratio", ratio),
		logger.Int("candidates", stats.CandidatesGenerated),
		logger.Int("validated", stats.CandidatesValidated))

	return &Result{
		Optimized:        true,
		OriginalSQL:      sql,
		OptimizedSQL:     chosen.sql,
		OriginalCost:     originalCost,
		OptimizedCost:    chosen.cost,
		ImprovementRatio: ratio,
		TotalTime:        time.Since(start),
		Stats:            stats,
		Reason:           ReasonOptimized,
	}
}

// candidate tracks one rewrite through validation and costing.
type candidate struct {
	index int
	sql   string
	cost  float64
}

func (o *Orchestrator) generateCandidates(ctx context.Context, session any, sql string, p *plan.LogicalPlan) ([]string, Stats, string) {
	var stats Stats

	var schemas []prompt.TableSchema
	if o.schemas != nil {
		tables := map[string]bool{}
		collectTables(p.Root, tables)
		names := make([]string, 0, len(tables))
		for t := range tables {
			names = append(names, t)
		}
		var err error
		schemas, err = o.schemas.Schemas(ctx, session, names)
		if err != nil {
			logger.DebugContext(ctx, "schema lookup failed, prompting without schemas", logger.ErrorField(err))
			schemas = nil
		}
	}

	promptText := o.prompts.Build(sql, schemas, o.genConfig.UseFewShot)

	llmStart := time.Now()
	resp, err := o.client.Generate(ctx, promptText, o.genConfig)
	stats.LLMTime = time.Since(llmStart)
	if err != nil {
		if errors.Is(err, llm.ErrProviderUnavailable) || errors.Is(err, llm.ErrNoProvider) {
			return nil, stats, ReasonProviderUnavailable
		}
		return nil, stats, ReasonProviderError
	}
	stats.CacheHit = resp.CacheHit

	seen := map[string]bool{}
	var out []string
	for _, c := range resp.Candidates {
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(c), ";"))
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
		if len(out) >= o.strategy.MaxCandidates {
			break
		}
	}
	if len(out) == 0 {
		return nil, stats, ReasonNoValidCandidate
	}
	return out, stats, ""
}

func collectTables(n *plan.PlanNode, into map[string]bool) {
	if n == nil {
		return
	}
	if n.Type == plan.NodeScan && n.TableName != "" {
		into[strings.Fields(n.TableName)[0]] = true
	}
	for _, c := range n.Children {
		collectTables(c, into)
	}
}

// validateCandidates checks each candidate against the canonicalized
// original under a per-candidate deadline, in generation order.
func (o *Orchestrator) validateCandidates(ctx context.Context, session any, origCanonical *plan.LogicalPlan, candidates []string, stats *Stats) []*candidate {
	var survivors []*candidate
	for i, sql := range candidates {
		if ctx.Err() != nil {
			logger.DebugContext(ctx, "overall deadline reached, abandoning remaining candidates", logger.Candidate(i))
			break
		}
		vStart := time.Now()
		result := o.validateOne(ctx, session, origCanonical, sql)
		stats.ValidationTime += time.Since(vStart)

		if !result.IsEquivalent {
			o.stats.recordFailedValidation()
			logger.DebugContext(ctx, "candidate rejected",
				logger.Candidate(i), logger.Reason(result.Reason),
				logger.Float64("confidence", result.Confidence))
			continue
		}
		survivors = append(survivors, &candidate{index: i, sql: sql, cost: math.Inf(1)})
	}
	return survivors
}

func (o *Orchestrator) validateOne(ctx context.Context, session any, origCanonical *plan.LogicalPlan, sql string) validator.Result {
	vctx, cancel := context.WithTimeout(ctx, o.strategy.ValidationTimeout)
	defer cancel()

	p, err := o.extractor.Extract(vctx, session, sql)
	if err != nil {
		return validator.Result{Reason: validator.ReasonExtraction}
	}
	canonical, err := o.registry.Canonicalize(p)
	if err != nil {
		return validator.Result{Reason: validator.ReasonDiverged}
	}
	if vctx.Err() != nil {
		return validator.Result{Reason: validator.ReasonTimeout}
	}
	return o.validator.ValidatePlans(origCanonical, canonical)
}

// costSurvivors estimates each surviving candidate. A failed estimate
// leaves the cost at +Inf so the candidate can never win selection.
func (o *Orchestrator) costSurvivors(ctx context.Context, session any, survivors []*candidate) {
	for _, c := range survivors {
		p, err := o.extractor.Extract(ctx, session, c.sql)
		if err != nil {
			continue
		}
		cost, err := o.costs.Estimate(ctx, p, session)
		if err != nil {
			logger.DebugContext(ctx, "candidate cost estimation failed",
				logger.Candidate(c.index), logger.ErrorField(err))
			continue
		}
		c.cost = cost
	}
}

// selectCandidate applies the selection policy. Survivors arrive in
// generation order, which makes FirstValid deterministic; cost ties break
// toward the earlier candidate.
func (o *Orchestrator) selectCandidate(survivors []*candidate, originalCost float64) *candidate {
	switch o.strategy.SelectionMode {
	case FirstValid:
		return survivors[0]
	case Conservative:
		best := bestByCost(survivors)
		if best == nil || improvementRatio(originalCost, best.cost) < o.strategy.MinImprovementRatio {
			return nil
		}
		return best
	default:
		return bestByCost(survivors)
	}
}

func bestByCost(survivors []*candidate) *candidate {
	var best *candidate
	for _, c := range survivors {
		if math.IsInf(c.cost, 1) {
			continue
		}
		if best == nil || c.cost < best.cost {
			best = c
		}
	}
	return best
}

func improvementRatio(originalCost, candidateCost float64) float64 {
	if candidateCost <= 0 || math.IsInf(candidateCost, 1) {
		return 0
	}
	return originalCost / candidateCost
}

func (o *Orchestrator) recordHistory(ctx context.Context, original, optimized string, ratio float64) {
	if o.history == nil {
		return
	}
	if err := o.history.Record(ctx, original, optimized, ratio); err != nil {
		logger.WarnContext(ctx, "history record failed", logger.ErrorField(err))
	}
}
