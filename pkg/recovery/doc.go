/*
Package recovery implements Helmsman's Automated Recovery Orchestrator
(spec §4.J): a context analyzer that classifies an incoming error into
a RecoveryContext, a strategy selector that picks the best registered
RecoveryStrategy for that context's errorType (ties broken by a rolling
exponential-moving-average success rate), a FIFO-within-priority queue
with resource-aware dispatch, and an execution engine that runs a
strategy's steps in order, invoking the strategy's rollbackPlan when
the observed step-failure rate crosses rollbackThreshold.

The queue/dispatcher shape is grounded on the teacher's
pkg/reconciler.Reconciler: a ticker-driven loop that repeatedly asks
"is there work to do, and is there room to do it" rather than reacting
to every event synchronously. The step-failure-rate bookkeeping is
grounded on pkg/worker.HealthMonitor's consecutive-failure counting,
generalized from "mark the container failed" to "compute a rate and
decide whether to roll back".

Recovery concurrency is bounded by opts.MaxConcurrentRecoveries (spec
§3 invariant); critical-severity contexts jump the FIFO queue but never
bypass the concurrency bound itself.
*/
package recovery
