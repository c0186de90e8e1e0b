/*
Package geo implements Helmsman's Geographic Distributor (spec §4.D):
four interchangeable strategies that resolve, for each task, a preferred
region and a scored candidate set of nodes within it, which the
optimizer then treats as a soft (or, for compliance, hard) constraint.

There's no teacher equivalent for geographic scoring, but the dispatch
shape is cuemby-warren's: pkg/scheduler.Scheduler.scheduleService picks
between scheduleGlobalService and scheduleReplicatedService based on one
field on the input (types.ServiceModeGlobal). Distribute here does the
same — one switch over a Strategy string picks the scoring function, all
four sharing the same candidate-set construction.
*/
package geo
