package optimizer

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roomyNode(id, region string) types.Node {
	return types.Node{
		ID:       id,
		Region:   region,
		Capacity: types.ResourceVector{Compute: 1000, Memory: 1000, Bandwidth: 1000, Storage: 1000},
		UnitCost: types.UnitCost{PerCompute: 0.1, PerMemory: 0.1, PerBandwidth: 0.1, PerStorage: 0.1},
		Performance: types.Performance{
			Latency:      10,
			Throughput:   5000,
			Reliability:  0.99,
			Availability: 0.99,
		},
		Status: types.NodeStatusHealthy,
	}
}

func smallTask(id string) types.Task {
	return types.Task{
		ID:                id,
		Demand:            types.ResourceVector{Compute: 5, Memory: 5, Bandwidth: 5, Storage: 5},
		EstimatedDuration: 100 * time.Millisecond,
	}
}

func TestReplayProducesValidPlacementWithinCapacity(t *testing.T) {
	nodes := []types.Node{roomyNode("n1", "us-east"), roomyNode("n2", "us-east")}
	tasks := []types.Task{smallTask("t1"), smallTask("t2"), smallTask("t3")}
	p := NewProblem(nodes, tasks, Constraints{})

	sol := Solution{0, 1, 0}
	placement := p.Replay(sol)

	assert.True(t, placement.Valid)
	assert.Empty(t, placement.ViolatedConstraints)
	assert.Len(t, placement.Assignments, 3)
}

func TestReplayDetectsCapacityViolation(t *testing.T) {
	n := roomyNode("n1", "us-east")
	n.Capacity = types.ResourceVector{Compute: 1, Memory: 1, Bandwidth: 1, Storage: 1}
	p := NewProblem([]types.Node{n}, []types.Task{smallTask("t1")}, Constraints{})

	placement := p.Replay(Solution{0})
	assert.False(t, placement.Valid)
	assert.Contains(t, placement.ViolatedConstraints, "capacity.compute")
}

func TestReplayDetectsSovereigntyViolation(t *testing.T) {
	n := roomyNode("n1", "us-east")
	task := smallTask("t1")
	task.DataSovereignty = "eu-west"
	p := NewProblem([]types.Node{n}, []types.Task{task}, Constraints{})

	placement := p.Replay(Solution{0})
	assert.False(t, placement.Valid)
	assert.Contains(t, placement.ViolatedConstraints, "sovereignty")
}

func TestGeneticEngineFindsValidSolutionForUnderfullCluster(t *testing.T) {
	nodes := []types.Node{roomyNode("n1", "us-east"), roomyNode("n2", "us-east"), roomyNode("n3", "us-east")}
	tasks := make([]types.Task, 10)
	for i := range tasks {
		tasks[i] = smallTask(string(rune('a' + i)))
	}
	p := NewProblem(nodes, tasks, Constraints{})

	opts := config.Default().Genetic
	opts.PopulationSize = 30
	opts.Generations = 40

	rng := rand.New(rand.NewSource(1))
	result := runGenetic(p, opts, rng, 1)

	placement := p.Replay(result.Best)
	assert.True(t, placement.Valid)
}

func TestGeneticMonotonicallyNonDecreasingBestFitness(t *testing.T) {
	// spec §8 invariant 5: the GA's tracked best fitness never regresses
	// across generations because of elitism.
	nodes := []types.Node{roomyNode("n1", "us-east"), roomyNode("n2", "us-east")}
	tasks := make([]types.Task, 6)
	for i := range tasks {
		tasks[i] = smallTask(string(rune('a' + i)))
	}
	p := NewProblem(nodes, tasks, Constraints{})

	opts := config.Default().Genetic
	opts.PopulationSize = 20
	opts.Generations = 1
	opts.MaxStagnantGenerations = 1000

	rng := rand.New(rand.NewSource(2))
	first := runGenetic(p, opts, rng, 1)

	opts.Generations = 25
	rng2 := rand.New(rand.NewSource(2))
	second := runGenetic(p, opts, rng2, 1)

	assert.GreaterOrEqual(t, second.BestFitness, first.BestFitness-1e-9)
}

func TestAnnealingEngineConvergesBelowMinTemperature(t *testing.T) {
	nodes := []types.Node{roomyNode("n1", "us-east")}
	tasks := []types.Task{smallTask("t1"), smallTask("t2")}
	p := NewProblem(nodes, tasks, Constraints{})

	opts := config.Default().Annealing
	opts.MaxDuration = 2 * time.Second
	rng := rand.New(rand.NewSource(3))

	result := runAnnealing(p, opts, nil, rng)
	assert.LessOrEqual(t, result.FinalTemp, opts.InitialTemperature)
	assert.True(t, result.FinalTemp <= opts.MinTemperature || result.Iterations >= opts.MaxIterations)
}

func TestSelectAlgorithmHonoursPreferredAlgorithm(t *testing.T) {
	p := NewProblem(nil, nil, Constraints{PreferredAlgorithm: "simulated_annealing"})
	assert.Equal(t, algoAnnealing, selectAlgorithm(p, config.Default().StrategySelector))
}

func TestSelectAlgorithmPicksGeneticForLargeProblems(t *testing.T) {
	nodes := make([]types.Node, 10)
	tasks := make([]types.Task, 10)
	p := NewProblem(nodes, tasks, Constraints{TimeBudget: 10 * time.Second})
	assert.Equal(t, algoGenetic, selectAlgorithm(p, config.Default().StrategySelector))
}

func TestSelectAlgorithmPicksAnnealingForTightBudget(t *testing.T) {
	nodes := make([]types.Node, 2)
	tasks := make([]types.Task, 2)
	p := NewProblem(nodes, tasks, Constraints{TimeBudget: 200 * time.Millisecond})
	assert.Equal(t, algoAnnealing, selectAlgorithm(p, config.Default().StrategySelector))
}

func TestOptimizeReturnsValidPlacementForSimpleCluster(t *testing.T) {
	o := New(nil, config.Default())
	nodes := []types.Node{roomyNode("n1", "us-east"), roomyNode("n2", "us-east")}
	tasks := []types.Task{smallTask("t1"), smallTask("t2"), smallTask("t3")}

	report := o.Optimize(context.Background(), nodes, tasks, Constraints{PreferredAlgorithm: "simulated_annealing"})
	require.Len(t, report.Placement.Assignments, 3)
	assert.True(t, report.Placement.Valid)
	assert.NotEmpty(t, report.Algorithm)
}

func TestOptimizeZeroTasksReturnsEmptyValidPlacement(t *testing.T) {
	o := New(nil, config.Default())
	report := o.Optimize(context.Background(), []types.Node{roomyNode("n1", "us-east")}, nil, Constraints{})
	assert.True(t, report.Placement.Valid)
	assert.Empty(t, report.Placement.Assignments)
}

func TestOptimizeOverCapacityReturnsBestEffortInvalidPlacement(t *testing.T) {
	o := New(nil, config.Default())
	n := roomyNode("n1", "us-east")
	n.Capacity = types.ResourceVector{Compute: 1, Memory: 1, Bandwidth: 1, Storage: 1}

	report := o.Optimize(context.Background(), []types.Node{n}, []types.Task{smallTask("t1")}, Constraints{PreferredAlgorithm: "simulated_annealing"})
	assert.False(t, report.Placement.Valid)
	assert.NotEmpty(t, report.Placement.ViolatedConstraints)
}
