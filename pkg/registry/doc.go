/*
Package registry implements Helmsman's Node/Task Registry (spec §4.B): an
in-memory canonical model of the cluster, reconstructed from the
coordination bus on startup and kept in sync by write-through puts and a
background staleness sweep.

Node and Task records are written through to the bus under "nodes:{id}"
and "tasks:{id}" with a TTL, the same write-through-before-return shape
cuemby-warren's pkg/manager.Manager uses for its Raft-backed store — this
registry drops the Raft log and talks to Redis directly via pkg/bus, but
keeps the "mutate the in-memory copy, then persist, then publish an
event" ordering.

Region health and region membership are never stored fields on Node:
they are recomputed on every register/deregister/updateMetrics call, the
same way cuemby-warren's reconciler recomputes node liveness instead of
trusting a cached flag (pkg/reconciler/reconciler.go). A background
refresh loop, grounded on that same reconciler's ticker pattern, sweeps
for heartbeat staleness on an interval.
*/
package registry
