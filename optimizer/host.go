package optimizer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/guileen/heimdall/config"
	"github.com/guileen/heimdall/llm"
	"github.com/guileen/heimdall/logger"
	"github.com/guileen/heimdall/plan"
	"github.com/guileen/heimdall/prompt"
	"github.com/guileen/heimdall/validator"
)

// Callback status codes returned to the host optimizer.
const (
	StatusUnchanged = 0
	StatusRewritten = 1
	StatusError     = -1
)

// QueryBlock is the host's handle for one query under optimization. The
// host adapter implements it over its internal representation; the
// orchestrator only reads the SQL and writes the rewrite back.
type QueryBlock interface {
	SQL() string
	SetSQL(sql string)
}

var (
	globalMu sync.Mutex
	global   *Orchestrator
)

// Init builds the process-wide orchestrator from configuration. It is
// called once at host startup; later calls replace the instance.
//
// The host session collaborators (cost estimator, schema provider) and the
// history recorder are passed in by the integration layer, which owns their
// lifecycles. The cost estimator is required (nil is an error); a nil schema
// provider or history recorder disables the corresponding feature.
func Init(cfg config.Config, costs CostEstimator, schemas SchemaProvider, history HistoryRecorder) (*Orchestrator, error) {
	if costs == nil {
		return nil, fmt.Errorf("init: cost estimator is required")
	}

	client := llm.NewClient(cfg.CacheSize)
	for _, pc := range cfg.Providers {
		provider, err := buildProvider(pc)
		if err != nil {
			return nil, err
		}
		client.RegisterProvider(provider)
	}

	builder := prompt.NewBuilder(prompt.ParseGoal(cfg.OptimizationGoal))
	if cfg.LoadStockExamples {
		builder.LoadTPCDSExamples()
	}
	if len(cfg.OptimizationHints) > 0 {
		builder.SetHints(cfg.OptimizationHints)
	}

	extractor := plan.NewPGQueryExtractor()
	strategy := strategyFromConfig(cfg.Strategy)
	genConfig := llm.GenerationConfig{
		ModelName:     cfg.Generation.ModelName,
		Temperature:   cfg.Generation.Temperature,
		MaxTokens:     cfg.Generation.MaxTokens,
		NumCandidates: cfg.Generation.NumCandidates,
		UseFewShot:    cfg.Generation.UseFewShot,
	}

	o := New(Options{
		Strategy:         &strategy,
		GenerationConfig: &genConfig,
		Extractor:        extractor,
		Validator:        validator.New(extractor, nil, validator.ParseMode(cfg.ValidationMode)),
		Client:           client,
		Prompts:          builder,
		Costs:            costs,
		Schemas:          schemas,
		History:          history,
	})
	o.SetEnabled(cfg.Enabled)

	globalMu.Lock()
	global = o
	globalMu.Unlock()

	logger.Info("rewriter initialized",
		logger.Bool("enabled", cfg.Enabled),
		logger.Int("providers", len(cfg.Providers)),
		logger.String("validation_mode", cfg.ValidationMode))
	return o, nil
}

func buildProvider(pc config.ProviderConfig) (llm.Provider, error) {
	switch pc.Kind {
	case "openai":
		apiKey := os.Getenv(pc.APIKeyEnv)
		return llm.NewOpenAIProvider(apiKey, pc.Endpoint), nil
	case "local":
		return llm.NewLocalProvider(pc.Endpoint), nil
	}
	return nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
}

func strategyFromConfig(sc config.StrategyConfig) Strategy {
	s := DefaultStrategy()
	s.EnableForSubqueries = sc.EnableForSubqueries
	s.EnableForComplexJoins = sc.EnableForComplexJoins
	if sc.MinEstimatedCost > 0 {
		s.MinEstimatedCost = sc.MinEstimatedCost
	}
	if sc.MaxCandidates > 0 {
		s.MaxCandidates = sc.MaxCandidates
	}
	if sc.ValidationTimeoutSec > 0 {
		s.ValidationTimeout = sc.ValidationTimeout()
	}
	s.SelectionMode = ParseSelectionMode(sc.SelectionMode)
	if sc.MinImprovementRatio > 0 {
		s.MinImprovementRatio = sc.MinImprovementRatio
	}
	return s
}

// Instance returns the process-wide orchestrator, or nil before Init.
func Instance() *Orchestrator {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// OptimizerCallback is the entrypoint the host optimizer invokes per query
// block. It never blocks past the configured overall deadline and never
// surfaces an error: the worst case is leaving the query unchanged.
func OptimizerCallback(session any, block QueryBlock) int {
	o := Instance()
	if o == nil || block == nil {
		return StatusUnchanged
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("optimizer callback panicked", logger.Any("panic", r))
		}
	}()

	result := o.Optimize(context.Background(), session, block.SQL())
	if !result.Optimized {
		return StatusUnchanged
	}
	block.SetSQL(result.OptimizedSQL)
	return StatusRewritten
}
