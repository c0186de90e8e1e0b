package optimizer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAdaptiveScheduleDecaysWithoutReheatOnFlatLandscape pins spec §8
// scenario S6: a single-node problem is a flat fitness landscape (every
// neighbour move leaves energy unchanged, so every candidate is
// accepted). The adaptive schedule must still decay temperature
// geometrically via the target-acceptance-rate rule and terminate at
// T <= MinTemperature without reheating.
func TestAdaptiveScheduleDecaysWithoutReheatOnFlatLandscape(t *testing.T) {
	nodes := []types.Node{roomyNode("n1", "us-east")}
	tasks := make([]types.Task, 5)
	for i := range tasks {
		tasks[i] = smallTask(string(rune('a' + i)))
	}
	p := NewProblem(nodes, tasks, Constraints{})

	opts := config.Default().Annealing
	opts.ScheduleType = "adaptive"
	opts.MaxDuration = 0
	opts.EquilibriumIterations = 10
	opts.AdaptiveWindow = 10

	rng := rand.New(rand.NewSource(42))
	result := runAnnealing(p, opts, nil, rng)

	require.LessOrEqual(t, result.FinalTemp, opts.MinTemperature)
	assert.Zero(t, result.Reheats, "a flat landscape accepts every move, so acceptance rate never drops below reheatingThreshold")
}

// TestCoolAdaptiveBranches pins the literal target·0.5/target·1.5
// thresholds from spec §4.E.5 directly, independent of a full run.
func TestCoolAdaptiveBranches(t *testing.T) {
	opts := config.Default().Annealing
	opts.ScheduleType = "adaptive"
	opts.TargetAcceptanceRate = 0.4

	below := cool(opts, 100, 0, 0.1) // < target*0.5 (0.2) -> reheat-ish warm-up
	assert.InDelta(t, 110, below, 1e-9)

	above := cool(opts, 100, 0, 0.9) // > target*1.5 (0.6) -> cool faster
	assert.InDelta(t, 90, above, 1e-9)

	mid := cool(opts, 100, 0, 0.4) // within [0.2, 0.6] -> cool slowly
	assert.InDelta(t, 95, mid, 1e-9)

	noWindowYet := cool(opts, 100, 0, -1) // no equilibrium block observed yet
	assert.InDelta(t, 100*opts.CoolingRate, noWindowYet, 1e-9)
}

// TestReheatFormulaCapsAtInitialTemperature pins spec §4.E.5/§4.I's
// literal reheat rule: T <- min(T0, 2T).
func TestReheatFormulaCapsAtInitialTemperature(t *testing.T) {
	t0 := 100.0
	assert.InDelta(t, 80.0, math.Min(t0, 2*40), 1e-9)
	assert.InDelta(t, t0, math.Min(t0, 2*90), 1e-9)
}
