package predictor

import (
	"time"

	"github.com/cuemby/helmsman/pkg/registry"
	"github.com/cuemby/helmsman/pkg/types"
)

// FeatureDim is the width of the feature vector spec §4.C describes as
// "25 fields combining node capacity, task demand, ratios, time-of-day,
// geo distance, affinity score, and historical per-node aggregates".
const FeatureDim = 25

// TargetDim is the width of the prediction target vector:
// [latency, cost, reliability, successRate].
const TargetDim = 4

// HistoricalAggregate summarizes prior observations for a (node, task
// kind) pair, folded into the feature vector as the predictor's memory
// of how this pairing has performed before.
type HistoricalAggregate struct {
	AvgLatency     float64
	AvgReliability float64
}

// BuildFeatures assembles the fixed-width feature vector for a candidate
// (node, task) pairing at instant now.
func BuildFeatures(n types.Node, t types.Task, hist HistoricalAggregate, now time.Time) [FeatureDim]float64 {
	ratio := func(demand, cap float64) float64 {
		if cap <= 0 {
			return 0
		}
		return demand / cap
	}

	var geoDistance float64
	if t.LocationPreference != nil {
		geoDistance = registry.Haversine(n.Location, *t.LocationPreference)
	}

	return [FeatureDim]float64{
		n.Capacity.Compute,
		n.Capacity.Memory,
		n.Capacity.Bandwidth,
		n.Capacity.Storage,

		t.Demand.Compute,
		t.Demand.Memory,
		t.Demand.Bandwidth,
		t.Demand.Storage,

		ratio(t.Demand.Compute, n.Capacity.Compute),
		ratio(t.Demand.Memory, n.Capacity.Memory),
		ratio(t.Demand.Bandwidth, n.Capacity.Bandwidth),
		ratio(t.Demand.Storage, n.Capacity.Storage),

		n.Performance.Latency,
		n.Performance.Throughput,
		n.Performance.Reliability,
		n.Performance.Availability,

		n.UnitCost.PerCompute,
		n.UnitCost.PerMemory,
		n.UnitCost.PerBandwidth,
		n.UnitCost.PerStorage,

		float64(now.Hour()),
		geoDistance,
		float64(n.TagMatchCount(&t)),

		hist.AvgLatency,
		hist.AvgReliability,
	}
}
