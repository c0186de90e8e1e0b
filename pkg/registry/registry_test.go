package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	busPkg "github.com/cuemby/helmsman/pkg/bus"
	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, context.Context) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	busOpts := config.Default().Bus
	busOpts.RetryBaseDelay = time.Millisecond
	b := busPkg.NewWithClient(client, busOpts)
	return New(b, config.Default().Registry), context.Background()
}

func node(id, region string, lat, lon float64) types.Node {
	return types.Node{
		ID:       id,
		Region:   region,
		Location: types.GeoPoint{Lat: lat, Lon: lon},
		Capacity: types.ResourceVector{Compute: 100, Memory: 100, Bandwidth: 100, Storage: 100},
		Performance: types.Performance{
			Latency:      20,
			Availability: 0.99,
			Reliability:  0.99,
		},
		Status: types.NodeStatusHealthy,
	}
}

func TestRegisterAndLoadFromBusRoundTrip(t *testing.T) {
	r, ctx := newTestRegistry(t)
	require.NoError(t, r.RegisterNode(ctx, node("n1", "us-east", 40.7, -74.0)))

	fresh := New(r.b, config.Default().Registry)
	require.NoError(t, fresh.LoadFromBus(ctx))

	got, ok := fresh.Node("n1")
	require.True(t, ok)
	assert.Equal(t, "us-east", got.Region)
}

func TestDeregisterRemovesNode(t *testing.T) {
	r, ctx := newTestRegistry(t)
	require.NoError(t, r.RegisterNode(ctx, node("n1", "us-east", 40.7, -74.0)))
	require.NoError(t, r.DeregisterNode(ctx, "n1"))

	_, ok := r.Node("n1")
	assert.False(t, ok)
	assert.Equal(t, float64(0), r.RegionHealth("us-east"))
}

func TestNodesByRegionFiltersCorrectly(t *testing.T) {
	r, ctx := newTestRegistry(t)
	require.NoError(t, r.RegisterNode(ctx, node("n1", "us-east", 40.7, -74.0)))
	require.NoError(t, r.RegisterNode(ctx, node("n2", "eu-west", 51.5, -0.1)))

	east := r.NodesByRegion("us-east")
	require.Len(t, east, 1)
	assert.Equal(t, "n1", east[0].ID)
}

func TestRegionForNearestByHaversine(t *testing.T) {
	r, ctx := newTestRegistry(t)
	require.NoError(t, r.RegisterNode(ctx, node("n1", "us-east", 40.7, -74.0)))   // NYC
	require.NoError(t, r.RegisterNode(ctx, node("n2", "eu-west", 51.5, -0.1)))    // London

	region, ok := r.RegionFor(types.GeoPoint{Lat: 40.6, Lon: -73.9}) // near NYC
	require.True(t, ok)
	assert.Equal(t, "us-east", region)
}

func TestRegionForTiesBreakLexicographically(t *testing.T) {
	r, ctx := newTestRegistry(t)
	require.NoError(t, r.RegisterNode(ctx, node("n1", "zz-region", 0, 0)))
	require.NoError(t, r.RegisterNode(ctx, node("n2", "aa-region", 0, 0)))

	region, ok := r.RegionFor(types.GeoPoint{Lat: 0, Lon: 0})
	require.True(t, ok)
	assert.Equal(t, "aa-region", region)
}

func TestUpdateMetricsRecomputesRegionHealth(t *testing.T) {
	r, ctx := newTestRegistry(t)
	require.NoError(t, r.RegisterNode(ctx, node("n1", "us-east", 40.7, -74.0)))

	before := r.RegionHealth("us-east")

	require.NoError(t, r.UpdateMetrics(ctx, "n1",
		types.ResourceVector{Compute: 90, Memory: 90, Bandwidth: 90, Storage: 90},
		types.Performance{Latency: 800, Availability: 0.5, Reliability: 0.5},
	))

	after := r.RegionHealth("us-east")
	assert.Less(t, after, before)
}

func TestIsRegionUnhealthyRespectsThreshold(t *testing.T) {
	r, ctx := newTestRegistry(t)
	require.NoError(t, r.RegisterNode(ctx, node("n1", "us-east", 40.7, -74.0)))
	require.NoError(t, r.UpdateMetrics(ctx, "n1",
		types.ResourceVector{Compute: 99, Memory: 99, Bandwidth: 99, Storage: 99},
		types.Performance{Latency: 5000, Availability: 0.1, Reliability: 0.1},
	))
	assert.True(t, r.IsRegionUnhealthy("us-east"))
}

func TestHaversineZeroForSamePoint(t *testing.T) {
	p := types.GeoPoint{Lat: 12.3, Lon: 45.6}
	assert.InDelta(t, 0, Haversine(p, p), 1e-9)
}

func TestHaversineKnownDistance(t *testing.T) {
	// NYC to London, roughly 5570km.
	nyc := types.GeoPoint{Lat: 40.7128, Lon: -74.0060}
	london := types.GeoPoint{Lat: 51.5074, Lon: -0.1278}
	d := Haversine(nyc, london)
	assert.InDelta(t, 5570, d, 100)
}
