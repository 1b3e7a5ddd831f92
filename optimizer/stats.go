package optimizer

import (
	"math"
	"sync/atomic"
	"time"
)

// Statistics tracks orchestrator-wide counters. All updates are atomic; the
// running means use a compare-and-swap retry loop so concurrent callers
// never lose an update.
type Statistics struct {
	totalQueries      atomic.Uint64
	optimizedQueries  atomic.Uint64
	failedValidations atomic.Uint64

	improvementMean onlineMean // over optimized queries only
	wallTimeMean    onlineMean // milliseconds, over all queries
}

// StatisticsSnapshot is a point-in-time copy of the counters.
type StatisticsSnapshot struct {
	TotalQueries        uint64  `json:"total_queries"`
	OptimizedQueries    uint64  `json:"optimized_queries"`
	FailedValidations   uint64  `json:"failed_validations"`
	AvgImprovementRatio float64 `json:"avg_improvement_ratio"`
	AvgOptimizationMs   float64 `json:"avg_optimization_ms"`
	CacheHits           uint64  `json:"cache_hits"`
}

func (s *Statistics) recordQuery(elapsed time.Duration) {
	s.totalQueries.Add(1)
	s.wallTimeMean.observe(float64(elapsed) / float64(time.Millisecond))
}

func (s *Statistics) recordOptimized(ratio float64) {
	s.optimizedQueries.Add(1)
	s.improvementMean.observe(ratio)
}

func (s *Statistics) recordFailedValidation() {
	s.failedValidations.Add(1)
}

// Snapshot returns the current counter values. cacheHits is supplied by the
// caller, which owns the LLM client.
func (s *Statistics) Snapshot(cacheHits uint64) StatisticsSnapshot {
	return StatisticsSnapshot{
		TotalQueries:        s.totalQueries.Load(),
		OptimizedQueries:    s.optimizedQueries.Load(),
		FailedValidations:   s.failedValidations.Load(),
		AvgImprovementRatio: s.improvementMean.value(),
		AvgOptimizationMs:   s.wallTimeMean.value(),
		CacheHits:           cacheHits,
	}
}

// Reset zeroes every counter.
func (s *Statistics) Reset() {
	s.totalQueries.Store(0)
	s.optimizedQueries.Store(0)
	s.failedValidations.Store(0)
	s.improvementMean.reset()
	s.wallTimeMean.reset()
}

// onlineMean is a lock-free Welford-style running mean. Count and mean are
// packed into one word so an observation updates both in a single CAS.
type onlineMean struct {
	state atomic.Pointer[meanState]
}

type meanState struct {
	count uint64
	mean  float64
}

func (m *onlineMean) observe(x float64) {
	for {
		old := m.state.Load()
		next := &meanState{count: 1, mean: x}
		if old != nil {
			next.count = old.count + 1
			next.mean = old.mean + (x-old.mean)/float64(next.count)
		}
		if m.state.CompareAndSwap(old, next) {
			return
		}
	}
}

func (m *onlineMean) value() float64 {
	s := m.state.Load()
	if s == nil || s.count == 0 || math.IsNaN(s.mean) {
		return 0
	}
	return s.mean
}

func (m *onlineMean) reset() {
	m.state.Store(nil)
}
