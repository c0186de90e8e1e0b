package geo

import (
	"sort"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/registry"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/rs/zerolog"
)

// Strategy selects which scoring emphasis the Distributor applies.
type Strategy string

const (
	LatencyOptimized Strategy = "latency_optimized"
	CostOptimized     Strategy = "cost_optimized"
	Balanced          Strategy = "balanced"
	ComplianceAware   Strategy = "compliance_aware"
)

// ScoredNode is a candidate node ranked for a particular task.
type ScoredNode struct {
	Node      types.Node
	Score     float64
	Breakdown map[string]float64
}

// Distribution is a Distributor's tentative assignment of every task to
// a region and a ranked candidate set within it.
type Distribution struct {
	TaskRegion map[string]string // taskId -> region
	Candidates map[string][]ScoredNode
}

// Distributor resolves regions and scores candidate nodes per spec §4.D.
type Distributor struct {
	registry *registry.Registry
	opts     config.GeoOptions
	log      zerolog.Logger
}

// New constructs a Distributor backed by reg.
func New(reg *registry.Registry, opts config.GeoOptions) *Distributor {
	return &Distributor{registry: reg, opts: opts, log: log.WithComponent("geo")}
}

// Distribute resolves a preferred region and ranked candidate set for
// every task in tasks, using strategy's scoring emphasis.
func (d *Distributor) Distribute(strategy Strategy, tasks []types.Task) Distribution {
	dist := Distribution{
		TaskRegion: make(map[string]string, len(tasks)),
		Candidates: make(map[string][]ScoredNode, len(tasks)),
	}
	for _, t := range tasks {
		region := d.preferredRegion(t)
		dist.TaskRegion[t.ID] = region
		dist.Candidates[t.ID] = d.candidateSet(strategy, region, t)
	}
	return dist
}

// preferredRegion resolves a task's preferred region in priority order:
// dataSovereignty (hard constraint) > explicit regionPreference >
// dataLocation > userLocation > nearest region by location > the
// best-scoring known region.
func (d *Distributor) preferredRegion(t types.Task) string {
	switch {
	case t.DataSovereignty != "":
		return t.DataSovereignty
	case t.RegionPreference != "":
		return t.RegionPreference
	case t.DataLocation != "":
		return t.DataLocation
	case t.UserLocation != "":
		return t.UserLocation
	}
	if t.LocationPreference != nil {
		if region, ok := d.registry.RegionFor(*t.LocationPreference); ok {
			return region
		}
	}
	return d.bestScoringRegion()
}

// bestScoringRegion returns the known region with the highest cached
// health score, breaking ties lexicographically.
func (d *Distributor) bestScoringRegion() string {
	regions := make(map[string]struct{})
	for _, n := range d.registry.Nodes() {
		regions[n.Region] = struct{}{}
	}
	best := ""
	bestScore := -1.0
	for region := range regions {
		score := d.registry.RegionHealth(region)
		if score > bestScore || (score == bestScore && (best == "" || region < best)) {
			best = region
			bestScore = score
		}
	}
	return best
}

// candidateSet builds the ranked candidate node list for task t in
// region, falling back to any healthy feasible node cluster-wide if the
// region has none. compliance_aware further restricts candidates to
// regions satisfying t's sovereignty/compliance allow-list.
func (d *Distributor) candidateSet(strategy Strategy, region string, t types.Task) []ScoredNode {
	nodes := d.filterFeasible(d.registry.NodesByRegion(region), t, strategy)
	if len(nodes) == 0 && t.DataSovereignty == "" {
		nodes = d.filterFeasible(d.registry.Nodes(), t, strategy)
	}
	return d.rank(strategy, nodes, t)
}

func (d *Distributor) filterFeasible(nodes []types.Node, t types.Task, strategy Strategy) []types.Node {
	var out []types.Node
	for _, n := range nodes {
		if n.Status == types.NodeStatusUnhealthy {
			continue
		}
		if !t.Demand.Fits(n.Capacity, n.Utilization) {
			continue
		}
		if !n.SupportsTask(&t) {
			continue
		}
		if strategy == ComplianceAware && !regionCompliant(n.Region, t) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func regionCompliant(region string, t types.Task) bool {
	if t.DataSovereignty != "" {
		return region == t.DataSovereignty
	}
	if len(t.ComplianceRegions) == 0 {
		return true
	}
	for _, r := range t.ComplianceRegions {
		if r == region {
			return true
		}
	}
	return false
}

func (d *Distributor) rank(strategy Strategy, nodes []types.Node, t types.Task) []ScoredNode {
	scored := make([]ScoredNode, 0, len(nodes))
	for _, n := range nodes {
		score, breakdown := d.scoreNode(strategy, n, t)
		scored = append(scored, ScoredNode{Node: n, Score: score, Breakdown: breakdown})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Node.ID < scored[j].Node.ID
	})
	return scored
}

func (d *Distributor) scoreNode(strategy Strategy, n types.Node, t types.Task) (float64, map[string]float64) {
	regionScore := d.registry.RegionHealth(n.Region)
	latencyScore := 1 / (1 + n.Performance.Latency/100)
	loadScore := 1 - utilizationFraction(n)

	cost := t.Demand.Compute*n.UnitCost.PerCompute +
		t.Demand.Memory*n.UnitCost.PerMemory +
		t.Demand.Bandwidth*n.UnitCost.PerBandwidth +
		t.Demand.Storage*n.UnitCost.PerStorage
	costScore := 1 / (1 + cost)

	complianceScore := 1.0
	if !regionCompliant(n.Region, t) {
		complianceScore = 0
	}

	var total float64
	switch strategy {
	case LatencyOptimized:
		total = latencyScore
	case CostOptimized:
		total = costScore
	case ComplianceAware:
		total = d.opts.ComplianceWeight*complianceScore +
			d.opts.RegionWeight*regionScore +
			d.opts.LatencyWeight*latencyScore +
			d.opts.LoadWeight*loadScore
	default: // Balanced
		total = d.opts.RegionWeight*regionScore +
			d.opts.LatencyWeight*latencyScore +
			d.opts.LoadWeight*loadScore +
			d.opts.CostWeight*costScore
	}

	return total, map[string]float64{
		"region":     regionScore,
		"latency":    latencyScore,
		"load":       loadScore,
		"cost":       costScore,
		"compliance": complianceScore,
	}
}

func utilizationFraction(n types.Node) float64 {
	axis := func(used, cap float64) float64 {
		if cap <= 0 {
			return 0
		}
		f := used / cap
		if f > 1 {
			return 1
		}
		if f < 0 {
			return 0
		}
		return f
	}
	return (axis(n.Utilization.Compute, n.Capacity.Compute) +
		axis(n.Utilization.Memory, n.Capacity.Memory) +
		axis(n.Utilization.Bandwidth, n.Capacity.Bandwidth) +
		axis(n.Utilization.Storage, n.Capacity.Storage)) / 4
}
