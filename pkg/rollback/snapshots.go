package rollback

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/helmsman/pkg/bus"
	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
)

// SnapshotRegistry keeps Snapshots indexed by deploymentId, write-through
// to the bus under snapshots:{id} with TTL snapshotRetention.
type SnapshotRegistry struct {
	b    *bus.Bus
	opts config.RollbackOptions

	mu   sync.RWMutex
	byID map[string][]types.Snapshot // deploymentId -> snapshots, oldest first
}

func newSnapshotRegistry(b *bus.Bus, opts config.RollbackOptions) *SnapshotRegistry {
	return &SnapshotRegistry{b: b, opts: opts, byID: make(map[string][]types.Snapshot)}
}

// Capture records snap, persisting it to the bus when one is attached.
func (r *SnapshotRegistry) Capture(ctx context.Context, snap types.Snapshot) error {
	r.mu.Lock()
	r.byID[snap.DeploymentID] = append(r.byID[snap.DeploymentID], snap)
	r.mu.Unlock()

	if r.b == nil {
		return nil
	}
	return r.b.Put(ctx, fmt.Sprintf("snapshots:%s", snap.ID), snap, r.opts.SnapshotRetention)
}

// Best returns the snapshot the rollback manager should restore to for
// deploymentId: the most recent snapshot whose health baseline was
// healthy, or failing that the most recent snapshot overall (spec
// §4.I).
func (r *SnapshotRegistry) Best(deploymentID string) (types.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := r.byID[deploymentID]
	if len(snaps) == 0 {
		return types.Snapshot{}, false
	}

	ordered := make([]types.Snapshot, len(snaps))
	copy(ordered, snaps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.After(ordered[j].Timestamp) })

	for _, s := range ordered {
		if s.HealthBaseline.Overall == "healthy" {
			return s, true
		}
	}
	return ordered[0], true
}

// All returns every snapshot captured for deploymentID, oldest first.
func (r *SnapshotRegistry) All(deploymentID string) []types.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Snapshot, len(r.byID[deploymentID]))
	copy(out, r.byID[deploymentID])
	return out
}
