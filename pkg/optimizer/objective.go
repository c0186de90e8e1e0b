package optimizer

import "github.com/cuemby/helmsman/pkg/types"

// Weights for the GA fitness function (spec §4.E.2): latency, cost,
// reliability, load balance. Must sum to 1.
const (
	weightLatency     = 0.30
	weightCost        = 0.25
	weightReliability = 0.30
	weightLoadBalance = 0.15
)

// networkLatency is node-to-task transmission latency: the node's
// measured latency, inflated only once the task's bandwidth demand
// exceeds the node's bandwidth supply (spec §4.E.2).
func networkLatency(n types.Node, t types.Task) float64 {
	if n.Capacity.Bandwidth <= 0 {
		return n.Performance.Latency
	}
	ratio := t.Demand.Bandwidth / n.Capacity.Bandwidth
	if ratio < 1 {
		ratio = 1
	}
	return n.Performance.Latency * ratio
}

// processingLatency is the task's compute demand as a fraction of the
// node's compute capacity, in milliseconds (spec §4.E.2).
func processingLatency(n types.Node, t types.Task) float64 {
	if n.Capacity.Compute <= 0 {
		return t.Demand.Compute * 1000
	}
	return (t.Demand.Compute / n.Capacity.Compute) * 1000
}

// cost is the task's resource demand priced at the node's per-axis unit
// cost (spec §4.E.2's cost(n,t)).
func cost(n types.Node, t types.Task) float64 {
	return t.Demand.Compute*n.UnitCost.PerCompute +
		t.Demand.Memory*n.UnitCost.PerMemory +
		t.Demand.Bandwidth*n.UnitCost.PerBandwidth +
		t.Demand.Storage*n.UnitCost.PerStorage
}

// reliability is the node's steady-state reliability discounted by the
// task's compute weight and estimated duration (spec §4.E.2): a large
// or long-running task is riskier than a small, quick one regardless of
// the node's current load.
func reliability(n types.Node, t types.Task) float64 {
	computeFactor := 1 - t.Demand.Compute/10000
	if computeFactor < 0.9 {
		computeFactor = 0.9
	}
	durationFactor := 1 - float64(t.EstimatedDuration.Milliseconds())/3_600_000
	if durationFactor < 0.95 {
		durationFactor = 0.95
	}
	return n.Performance.Reliability * n.Performance.Availability * computeFactor * durationFactor
}

// normalize clamps x/threshold into [0,1], per spec §4.E.2's "each
// component normalised to [0,1] by constraint thresholds".
func normalize(x, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	v := x / threshold
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fitness computes the GA's maximization objective for a full solution:
// a weighted blend of (inverted) latency, (inverted) cost, reliability,
// and load balance, each normalised to [0,1]. Invalid solutions are
// penalised sharply but not set to zero, so the GA can still improve
// infeasible populations by gradient.
func fitness(p *Problem, sol Solution) float64 {
	placement := p.Replay(sol)

	latencyScore := 1 - normalize(placement.AvgLatency, p.Constraints.MaxLatencyMs)
	costScore := 1 - normalize(placement.TotalCost, p.Constraints.MaxCostBudget)
	reliabilityScore := placement.AvgReliability
	loadBalanceScore := 1 - placement.LoadBalanceIndex

	score := weightLatency*latencyScore +
		weightCost*costScore +
		weightReliability*reliabilityScore +
		weightLoadBalance*loadBalanceScore

	if !placement.Valid {
		score *= 0.1 / float64(1+len(placement.ViolatedConstraints))
	}
	return score
}

// energy is the simulated-annealing engine's minimization objective:
// the inverse of fitness plus a constraint-violation penalty, per spec
// §4.E.2.
func energy(p *Problem, sol Solution) float64 {
	placement := p.Replay(sol)
	f := fitness(p, sol)

	base := 1 - f
	if !placement.Valid {
		base += 0.5 * float64(len(placement.ViolatedConstraints))
	}
	return base
}
