package recovery

import (
	"sync"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
)

// StrategyRegistry holds the set of known RecoveryStrategy entries and
// a rolling per-strategy success rate used to break selection ties
// (spec §4.J strategy selector).
type StrategyRegistry struct {
	opts config.RecoveryOptions

	mu          sync.RWMutex
	strategies  map[string]types.RecoveryStrategy
	successRate map[string]float64 // strategyId -> EMA, seeded from SuccessProbability
}

// NewStrategyRegistry constructs an empty registry.
func NewStrategyRegistry(opts config.RecoveryOptions) *StrategyRegistry {
	return &StrategyRegistry{
		opts:        opts,
		strategies:  make(map[string]types.RecoveryStrategy),
		successRate: make(map[string]float64),
	}
}

// Register adds or replaces a strategy. Its initial rolling success
// rate is seeded from SuccessProbability until a real outcome updates it.
func (r *StrategyRegistry) Register(s types.RecoveryStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID] = s
	if _, ok := r.successRate[s.ID]; !ok {
		r.successRate[s.ID] = s.SuccessProbability
	}
}

// SuccessRate returns strategyID's current rolling success rate.
func (r *StrategyRegistry) SuccessRate(strategyID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.successRate[strategyID]
}

// RecordOutcome feeds one execution outcome into strategyID's rolling
// success rate: rate ← factor·rate + (1−factor)·outcome, per spec
// §4.J's "exponential moving average, factor 0.9".
func (r *StrategyRegistry) RecordOutcome(strategyID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	factor := r.opts.SuccessRateEMAFactor
	if factor <= 0 || factor >= 1 {
		factor = 0.9
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	r.successRate[strategyID] = factor*r.successRate[strategyID] + (1-factor)*outcome
}

// SelectFor returns the best registered strategy applicable to
// errorType: among all strategies whose ApplicableErrorTypes include
// errorType, the one with the highest rolling success rate wins; ties
// broken by strategy id for determinism.
func (r *StrategyRegistry) SelectFor(errorType string) (types.RecoveryStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best types.RecoveryStrategy
	bestRate := -1.0
	found := false
	for id, s := range r.strategies {
		if !applicable(s, errorType) {
			continue
		}
		rate := r.successRate[id]
		if !found || rate > bestRate || (rate == bestRate && id < best.ID) {
			best = s
			bestRate = rate
			found = true
		}
	}
	return best, found
}

func applicable(s types.RecoveryStrategy, errorType string) bool {
	for _, t := range s.ApplicableErrorTypes {
		if t == errorType {
			return true
		}
	}
	return false
}
