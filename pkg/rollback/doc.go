/*
Package rollback implements Helmsman's Rollback Manager (spec §4.I): a
TTL-bound Snapshot registry keyed by deploymentId, a set of automatic
triggers each watching one metric against a threshold over a sustained
window, and an ordered reversal sequence (restore config, restore data,
flip traffic, verify, cleanup) with bounded per-step retries and an
at-most-one-rollback-in-flight guarantee per deployment.

The "capture a point-in-time record, restore it later" shape is
grounded on the teacher's pkg/manager.WarrenFSM Snapshot/Restore pair
(fsm.go), minus the Raft log: a Snapshot here is a plain Redis-backed
TTL record rather than a consensus-replicated FSM snapshot, since spec
§1 rules out a consensus protocol entirely.
*/
package rollback
