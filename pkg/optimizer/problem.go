package optimizer

import (
	"math"
	"math/rand"
	"time"

	"github.com/cuemby/helmsman/pkg/types"
)

// Solution is an integer vector of length len(Problem.Tasks); entry i is
// the index into Problem.Nodes chosen for task i (spec §4.E.1).
type Solution []int

// Constraints carries the caller-supplied knobs for one Optimize call:
// a tentative region preference per task (from pkg/geo, soft unless the
// task's dataSovereignty makes it hard), normalisation thresholds, and
// an optional prior placement to seed simulated annealing with.
type Constraints struct {
	TimeBudget         time.Duration     `json:"timeBudget,omitempty"`
	PreferredAlgorithm string            `json:"preferredAlgorithm,omitempty"` // "", "genetic", "simulated_annealing", "ml_hybrid"
	RegionPreference   map[string]string `json:"regionPreference,omitempty"`

	MaxLatencyMs  float64 `json:"maxLatencyMs,omitempty"`
	MaxCostBudget float64 `json:"maxCostBudget,omitempty"`

	SeedPlacement *types.Placement `json:"seedPlacement,omitempty"`
}

func (c Constraints) normalized(taskCount int) Constraints {
	if c.MaxLatencyMs <= 0 {
		c.MaxLatencyMs = 1000
	}
	if c.MaxCostBudget <= 0 {
		c.MaxCostBudget = float64(taskCount) * 100
	}
	return c
}

// Problem is one optimization instance: the candidate nodes, the tasks
// to place, and the constraints governing fitness/validity.
type Problem struct {
	Nodes       []types.Node
	Tasks       []types.Task
	Constraints Constraints
}

// NewProblem builds a Problem, applying default normalisation
// thresholds to constraints when unset.
func NewProblem(nodes []types.Node, tasks []types.Task, constraints Constraints) *Problem {
	return &Problem{Nodes: nodes, Tasks: tasks, Constraints: constraints.normalized(len(tasks))}
}

// nodeSelectionWeight computes the weighted-random selection weight for
// candidate node n against task t, per spec §4.E.4: proportional to
// predicted reliability·availability·1/(1+latency/100)·throughput/1000
// · exp(−cost/100), boosted for region-preference and affinity matches.
func (p *Problem) nodeSelectionWeight(n types.Node, t types.Task) float64 {
	base := n.Performance.Reliability * n.Performance.Availability *
		(1 / (1 + n.Performance.Latency/100)) *
		(n.Performance.Throughput / 1000) *
		math.Exp(-cost(n, t)/100)

	if base <= 0 {
		base = 1e-6
	}

	if region, ok := p.Constraints.RegionPreference[t.ID]; ok && region == n.Region {
		base *= 1.5
	}
	base *= 1 + 0.2*float64(n.TagMatchCount(&t))
	return base
}

// RandomSolution draws one solution by independent weighted node
// selection per task.
func (p *Problem) RandomSolution(rng *rand.Rand) Solution {
	sol := make(Solution, len(p.Tasks))
	for i, t := range p.Tasks {
		sol[i] = p.weightedPick(t, rng)
	}
	return sol
}

func (p *Problem) weightedPick(t types.Task, rng *rand.Rand) int {
	if len(p.Nodes) == 0 {
		return 0
	}
	weights := make([]float64, len(p.Nodes))
	var total float64
	for i, n := range p.Nodes {
		w := p.nodeSelectionWeight(n, t)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return rng.Intn(len(p.Nodes))
	}
	r := rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum {
			return i
		}
	}
	return len(p.Nodes) - 1
}

// compatibleNodeIndex picks a random node index among those for which
// n.SupportsTask(&t) is true, falling back to any node when none qualify
// (spec §4.E.5's "single-point re-assign to a *compatible* node").
func (p *Problem) compatibleNodeIndex(t types.Task, rng *rand.Rand) int {
	if len(p.Nodes) == 0 {
		return 0
	}
	candidates := make([]int, 0, len(p.Nodes))
	for i, n := range p.Nodes {
		if n.SupportsTask(&t) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return rng.Intn(len(p.Nodes))
	}
	return candidates[rng.Intn(len(candidates))]
}

// Replay derives a Placement from sol by evaluating every assignment
// and accumulating per-node utilization.
func (p *Problem) Replay(sol Solution) types.Placement {
	util := make([]types.ResourceVector, len(p.Nodes))

	assignments := make([]types.Assignment, len(sol))
	var totalLatency, totalCost, totalReliability float64

	for i, nodeIdx := range sol {
		if nodeIdx < 0 || nodeIdx >= len(p.Nodes) {
			continue
		}
		n := p.Nodes[nodeIdx]
		t := p.Tasks[i]

		util[nodeIdx] = util[nodeIdx].Add(t.Demand)

		latency := networkLatency(n, t) + processingLatency(n, t)
		taskCost := cost(n, t)
		rel := reliability(n, t)

		totalLatency += latency
		totalCost += taskCost
		totalReliability += rel

		assignments[i] = types.Assignment{
			TaskID:   t.ID,
			NodeID:   n.ID,
			Region:   n.Region,
			Score:    rel,
			ScoreBreakdown: map[string]float64{
				"latency":     latency,
				"cost":        taskCost,
				"reliability": rel,
			},
		}
	}

	n := float64(len(sol))
	var avgLatency, avgReliability float64
	if n > 0 {
		avgLatency = totalLatency / n
		avgReliability = totalReliability / n
	}

	valid, violations := p.validate(sol, util)

	return types.Placement{
		Assignments:         assignments,
		AvgLatency:          avgLatency,
		TotalCost:           totalCost,
		AvgReliability:      avgReliability,
		LoadBalanceIndex:    loadBalanceIndex(p.Nodes, util),
		AvgUtilization:      meanUtilizationFraction(p.Nodes, util),
		Valid:               valid,
		ViolatedConstraints: violations,
	}
}

// validate checks the spec §4.E.2 validity predicate: per-node capacity
// on every axis, and sovereignty/compliance for every assignment.
func (p *Problem) validate(sol Solution, util []types.ResourceVector) (bool, []string) {
	var violations []string
	seen := make(map[string]bool)
	add := func(class string) {
		if !seen[class] {
			seen[class] = true
			violations = append(violations, class)
		}
	}

	for idx, n := range p.Nodes {
		u := util[idx]
		if u.Compute > n.Capacity.Compute {
			add("capacity.compute")
		}
		if u.Memory > n.Capacity.Memory {
			add("capacity.memory")
		}
		if u.Bandwidth > n.Capacity.Bandwidth {
			add("capacity.bandwidth")
		}
		if u.Storage > n.Capacity.Storage {
			add("capacity.storage")
		}
	}

	for i, nodeIdx := range sol {
		if nodeIdx < 0 || nodeIdx >= len(p.Nodes) {
			add("assignment.invalid_node")
			continue
		}
		t := p.Tasks[i]
		n := p.Nodes[nodeIdx]
		if t.DataSovereignty != "" && n.Region != t.DataSovereignty {
			add("sovereignty")
		}
		if len(t.ComplianceRegions) > 0 {
			ok := false
			for _, r := range t.ComplianceRegions {
				if r == n.Region {
					ok = true
					break
				}
			}
			if !ok {
				add("compliance")
			}
		}
	}

	return len(violations) == 0, violations
}

func loadBalanceIndex(nodes []types.Node, util []types.ResourceVector) float64 {
	var maxFrac, minFrac float64
	first := true
	for i, n := range nodes {
		if util[i].Compute == 0 || n.Capacity.Compute <= 0 {
			continue
		}
		frac := util[i].Compute / n.Capacity.Compute
		if first {
			maxFrac, minFrac = frac, frac
			first = false
			continue
		}
		if frac > maxFrac {
			maxFrac = frac
		}
		if frac < minFrac {
			minFrac = frac
		}
	}
	if first || maxFrac == 0 {
		return 0
	}
	return (maxFrac - minFrac) / maxFrac
}

func meanUtilizationFraction(nodes []types.Node, util []types.ResourceVector) float64 {
	var sum float64
	var count int
	for i, n := range nodes {
		if n.Capacity.Compute <= 0 {
			continue
		}
		sum += util[i].Compute / n.Capacity.Compute
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
