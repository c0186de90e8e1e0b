package registry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/helmsman/pkg/bus"
	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/rs/zerolog"
)

const (
	nodeKeyPrefix = "nodes:"
	taskKeyPrefix = "tasks:"
	earthRadiusKm = 6371.0
)

// Registry is the in-memory canonical Node/Task model, write-through
// to the coordination bus.
type Registry struct {
	b    *bus.Bus
	opts config.RegistryOptions
	log  zerolog.Logger

	mu     sync.RWMutex
	nodes  map[string]*types.Node
	tasks  map[string]*types.Task
	health map[string]float64 // region -> cached health score

	stopCh chan struct{}
}

// New constructs a Registry bound to b.
func New(b *bus.Bus, opts config.RegistryOptions) *Registry {
	return &Registry{
		b:      b,
		opts:   opts,
		log:    log.WithComponent("registry"),
		nodes:  make(map[string]*types.Node),
		tasks:  make(map[string]*types.Task),
		health: make(map[string]float64),
		stopCh: make(chan struct{}),
	}
}

// LoadFromBus reconstructs the in-memory model from bus keys "nodes:*"
// and "tasks:*", the registry's cold-start path.
func (r *Registry) LoadFromBus(ctx context.Context) error {
	nodeKeys, err := r.b.ListKeys(ctx, nodeKeyPrefix)
	if err != nil {
		return fmt.Errorf("list node keys: %w", err)
	}
	taskKeys, err := r.b.ListKeys(ctx, taskKeyPrefix)
	if err != nil {
		return fmt.Errorf("list task keys: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range nodeKeys {
		var n types.Node
		found, err := r.b.Get(ctx, key, &n)
		if err != nil || !found {
			continue
		}
		node := n
		r.nodes[node.ID] = &node
	}
	for _, key := range taskKeys {
		var t types.Task
		found, err := r.b.Get(ctx, key, &t)
		if err != nil || !found {
			continue
		}
		task := t
		r.tasks[task.ID] = &task
	}
	r.recomputeAllRegionHealthLocked()
	return nil
}

// RegisterNode writes n through to the bus and adds it to the in-memory
// model, publishing node.registered.
func (r *Registry) RegisterNode(ctx context.Context, n types.Node) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.LastHeartbeat = time.Now()

	if err := r.b.Put(ctx, nodeKeyPrefix+n.ID, n, r.opts.NodeTTL); err != nil {
		return err
	}

	r.mu.Lock()
	r.nodes[n.ID] = &n
	r.recomputeRegionHealthLocked(n.Region)
	r.mu.Unlock()

	metrics.NodesTotal.WithLabelValues(n.Region, string(n.Status)).Inc()

	env, err := bus.NewEnvelope("registry", bus.EventNodeRegistered, n)
	if err != nil {
		return err
	}
	return r.b.Publish(ctx, bus.ChannelMonitoring, env)
}

// DeregisterNode removes a node from both the bus and the in-memory
// model, publishing node.deregistered.
func (r *Registry) DeregisterNode(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	n, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("node %q not registered", nodeID)
	}
	region := n.Region
	delete(r.nodes, nodeID)
	r.recomputeRegionHealthLocked(region)
	r.mu.Unlock()

	if err := r.b.Delete(ctx, nodeKeyPrefix+nodeID); err != nil {
		return err
	}

	env, err := bus.NewEnvelope("registry", bus.EventNodeDeregistered, map[string]string{"nodeId": nodeID})
	if err != nil {
		return err
	}
	return r.b.Publish(ctx, bus.ChannelMonitoring, env)
}

// UpdateMetrics merges observed runtime utilization/performance into the
// node record and recomputes its region's health score.
func (r *Registry) UpdateMetrics(ctx context.Context, nodeID string, utilization types.ResourceVector, perf types.Performance) error {
	r.mu.Lock()
	n, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("node %q not registered", nodeID)
	}
	n.Utilization = utilization
	n.Performance = perf
	n.LastHeartbeat = time.Now()
	region := n.Region
	snapshot := *n
	r.recomputeRegionHealthLocked(region)
	r.mu.Unlock()

	return r.b.Put(ctx, nodeKeyPrefix+nodeID, snapshot, r.opts.NodeTTL)
}

// RegisterTask writes t through to the bus and adds it to the in-memory
// model.
func (r *Registry) RegisterTask(ctx context.Context, t types.Task) error {
	if err := r.b.Put(ctx, taskKeyPrefix+t.ID, t, r.opts.NodeTTL); err != nil {
		return err
	}
	r.mu.Lock()
	r.tasks[t.ID] = &t
	r.mu.Unlock()
	return nil
}

// Node returns a copy of the node record, if known.
func (r *Registry) Node(nodeID string) (types.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return types.Node{}, false
	}
	return *n, true
}

// Nodes returns a snapshot copy of every registered node.
func (r *Registry) Nodes() []types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodesByRegion returns a snapshot copy of every node registered in region.
func (r *Registry) NodesByRegion(region string) []types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Node
	for _, n := range r.nodes {
		if n.Region == region {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegionHealth returns the cached weighted-mean health score for region
// (0 if the region has no registered nodes).
func (r *Registry) RegionHealth(region string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health[region]
}

// IsRegionUnhealthy reports whether region's health score is below the
// configured threshold.
func (r *Registry) IsRegionUnhealthy(region string) bool {
	return r.RegionHealth(region) < r.opts.UnhealthyThreshold
}

// RegionFor resolves the nearest region to loc by Haversine distance
// between loc and each known region's centroid (the mean location of its
// registered nodes), breaking ties lexicographically by region id.
func (r *Registry) RegionFor(loc types.GeoPoint) (string, bool) {
	centroids := r.regionCentroids()
	if len(centroids) == 0 {
		return "", false
	}

	type candidate struct {
		region   string
		distance float64
	}
	candidates := make([]candidate, 0, len(centroids))
	for region, centroid := range centroids {
		candidates = append(candidates, candidate{region, Haversine(loc, centroid)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].region < candidates[j].region
	})
	return candidates[0].region, true
}

// regionCentroids computes the mean location of every region's
// registered nodes. Computed on demand, never cached as a stored field.
func (r *Registry) regionCentroids() map[string]types.GeoPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sums := make(map[string]types.GeoPoint)
	counts := make(map[string]int)
	for _, n := range r.nodes {
		sum := sums[n.Region]
		sum.Lat += n.Location.Lat
		sum.Lon += n.Location.Lon
		sums[n.Region] = sum
		counts[n.Region]++
	}
	centroids := make(map[string]types.GeoPoint, len(sums))
	for region, sum := range sums {
		n := float64(counts[region])
		centroids[region] = types.GeoPoint{Lat: sum.Lat / n, Lon: sum.Lon / n}
	}
	return centroids
}

// recomputeRegionHealthLocked recomputes the cached health score for a
// single region. Caller must hold r.mu.
func (r *Registry) recomputeRegionHealthLocked(region string) {
	var nodes []*types.Node
	for _, n := range r.nodes {
		if n.Region == region {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		delete(r.health, region)
		return
	}
	r.health[region] = regionHealthScore(nodes, r.opts)
}

// recomputeAllRegionHealthLocked recomputes every region's cached health
// score. Caller must hold r.mu.
func (r *Registry) recomputeAllRegionHealthLocked() {
	byRegion := make(map[string][]*types.Node)
	for _, n := range r.nodes {
		byRegion[n.Region] = append(byRegion[n.Region], n)
	}
	r.health = make(map[string]float64, len(byRegion))
	for region, nodes := range byRegion {
		r.health[region] = regionHealthScore(nodes, r.opts)
	}
}

// regionHealthScore is the weighted mean of load-score, latency-score,
// and availability-score across nodes, per spec §4.B (weights 0.4/0.3/0.3
// by default).
func regionHealthScore(nodes []*types.Node, opts config.RegistryOptions) float64 {
	var total float64
	for _, n := range nodes {
		loadScore := 1 - utilizationFraction(n)
		latencyScore := 1 / (1 + n.Performance.Latency/100)
		availabilityScore := n.Performance.Availability

		total += opts.LoadWeight*loadScore + opts.LatencyWeight*latencyScore + opts.AvailabilityWeight*availabilityScore
	}
	return total / float64(len(nodes))
}

// utilizationFraction returns the mean fraction of capacity consumed
// across the four resource axes, clamped to [0,1].
func utilizationFraction(n *types.Node) float64 {
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

// Haversine returns the great-circle distance between a and b in
// kilometers.
func Haversine(a, b types.GeoPoint) float64 {
	lat1, lon1 := toRadians(a.Lat), toRadians(a.Lon)
	lat2, lon2 := toRadians(b.Lat), toRadians(b.Lon)

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Start begins the background heartbeat-staleness sweep, mirroring
// cuemby-warren's reconciler ticker loop. The sweep refreshes no bus
// TTLs; UpdateMetrics does that when it re-puts a node.
func (r *Registry) Start() {
	go r.run()
}

// Stop halts the background sweep.
func (r *Registry) Stop() {
	close(r.stopCh)
}

func (r *Registry) run() {
	interval := r.opts.RefreshInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep marks nodes whose heartbeat is stale as unhealthy and recomputes
// affected regions' health scores.
func (r *Registry) sweep() {
	staleAfter := r.opts.HeartbeatStaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	touchedRegions := make(map[string]struct{})
	for _, n := range r.nodes {
		if now.Sub(n.LastHeartbeat) > staleAfter && n.Status != types.NodeStatusUnhealthy {
			n.Status = types.NodeStatusUnhealthy
			touchedRegions[n.Region] = struct{}{}
			r.log.Warn().Str("node_id", n.ID).Dur("since_heartbeat", now.Sub(n.LastHeartbeat)).Msg("node heartbeat stale, marking unhealthy")
		}
	}
	for region := range touchedRegions {
		r.recomputeRegionHealthLocked(region)
	}
}
