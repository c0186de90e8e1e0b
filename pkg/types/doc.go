/*
Package types defines the canonical data model shared by every Helmsman
component: nodes, tasks, placements, deployments, and recoveries.

# Architecture

	┌──────────────────────── DATA MODEL ───────────────────────┐
	│                                                              │
	│  Node ◄──── capacity/util/cost/perf vectors                │
	│  Task ◄──── demand vector, affinity, sovereignty            │
	│     │                                                        │
	│     ▼                                                        │
	│  Assignment (taskId -> nodeId, region, score)               │
	│     │                                                        │
	│     ▼                                                        │
	│  Placement (ordered assignments + aggregate metrics)        │
	│                                                              │
	│  Snapshot ──── DeploymentExecution ──── RecoveryExecution    │
	│  (rollback)     (phase engine)          (queued steps)      │
	└──────────────────────────────────────────────────────────┘

No type in this package owns a reference back to a collection it lives
in (no Node -> Region -> []Node cycle); regions are always computed
views over node tags by pkg/registry, never stored on Node itself beyond
the opaque Region tag.

This package has no dependency on any other Helmsman package; every
other package imports it.
*/
package types
