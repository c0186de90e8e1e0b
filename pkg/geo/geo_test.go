package geo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuemby/helmsman/pkg/bus"
	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/registry"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*registry.Registry, context.Context) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	busOpts := config.Default().Bus
	busOpts.RetryBaseDelay = time.Millisecond
	b := bus.NewWithClient(client, busOpts)
	return registry.New(b, config.Default().Registry), context.Background()
}

func feasibleNode(id, region string, latency, unitCost float64) types.Node {
	return types.Node{
		ID:       id,
		Region:   region,
		Capacity: types.ResourceVector{Compute: 100, Memory: 100, Bandwidth: 100, Storage: 100},
		UnitCost: types.UnitCost{PerCompute: unitCost, PerMemory: unitCost, PerBandwidth: unitCost, PerStorage: unitCost},
		Performance: types.Performance{
			Latency:      latency,
			Availability: 0.99,
			Reliability:  0.99,
		},
		Status: types.NodeStatusHealthy,
	}
}

func TestPreferredRegionSovereigntyWins(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("n1", "eu-west", 10, 1)))
	d := New(reg, config.Default().Geo)

	task := types.Task{ID: "t1", DataSovereignty: "eu-west", RegionPreference: "us-east"}
	assert.Equal(t, "eu-west", d.preferredRegion(task))
}

func TestPreferredRegionFallsBackThroughPriority(t *testing.T) {
	d := &Distributor{opts: config.Default().Geo}
	task := types.Task{ID: "t1", DataLocation: "us-east"}
	assert.Equal(t, "us-east", d.preferredRegion(task))
}

func TestDistributeLatencyOptimizedPrefersLowLatency(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("fast", "us-east", 10, 5)))
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("slow", "us-east", 200, 1)))

	d := New(reg, config.Default().Geo)
	task := types.Task{ID: "t1", RegionPreference: "us-east", Demand: types.ResourceVector{Compute: 10, Memory: 10, Bandwidth: 10, Storage: 10}}

	dist := d.Distribute(LatencyOptimized, []types.Task{task})
	candidates := dist.Candidates["t1"]
	require.Len(t, candidates, 2)
	assert.Equal(t, "fast", candidates[0].Node.ID)
}

func TestDistributeCostOptimizedPrefersCheaperNode(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("expensive", "us-east", 10, 10)))
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("cheap", "us-east", 10, 0.1)))

	d := New(reg, config.Default().Geo)
	task := types.Task{ID: "t1", RegionPreference: "us-east", Demand: types.ResourceVector{Compute: 10, Memory: 10, Bandwidth: 10, Storage: 10}}

	dist := d.Distribute(CostOptimized, []types.Task{task})
	candidates := dist.Candidates["t1"]
	require.Len(t, candidates, 2)
	assert.Equal(t, "cheap", candidates[0].Node.ID)
}

func TestComplianceAwareExcludesNonCompliantRegion(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("n1", "eu-west", 10, 1)))
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("n2", "us-east", 10, 1)))

	d := New(reg, config.Default().Geo)
	task := types.Task{
		ID:                "t1",
		RegionPreference:  "eu-west",
		ComplianceRegions: []string{"eu-west"},
		Demand:            types.ResourceVector{Compute: 10, Memory: 10, Bandwidth: 10, Storage: 10},
	}

	dist := d.Distribute(ComplianceAware, []types.Task{task})
	candidates := dist.Candidates["t1"]
	require.Len(t, candidates, 1)
	assert.Equal(t, "n1", candidates[0].Node.ID)
}

func TestCandidateSetFallsBackClusterWide(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("n1", "us-east", 10, 1)))

	d := New(reg, config.Default().Geo)
	task := types.Task{ID: "t1", RegionPreference: "eu-west", Demand: types.ResourceVector{Compute: 10, Memory: 10, Bandwidth: 10, Storage: 10}}

	dist := d.Distribute(Balanced, []types.Task{task})
	assert.Len(t, dist.Candidates["t1"], 1)
}

func TestOverCapacityNodeExcludedFromCandidates(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	require.NoError(t, reg.RegisterNode(ctx, feasibleNode("n1", "us-east", 10, 1)))

	d := New(reg, config.Default().Geo)
	task := types.Task{ID: "t1", RegionPreference: "us-east", Demand: types.ResourceVector{Compute: 1000, Memory: 10, Bandwidth: 10, Storage: 10}}

	dist := d.Distribute(Balanced, []types.Task{task})
	assert.Empty(t, dist.Candidates["t1"])
}
