/*
Package optimizer implements Helmsman's Placement Optimizer (spec §4.E):
a genetic-algorithm engine, a simulated-annealing engine, and a strategy
selector that picks between them (or chases both, for ml_hybrid) based
on problem size and time budget.

There is no teacher equivalent — cuemby-warren's pkg/scheduler is a
greedy bin-packer, not a metaheuristic search — so the search engines
are new. Optimize accepts a context.Context the way the rest of this
module does, but uses it only for its tracing span and event publishing:
the GA and SA loops run synchronously inside the call and stop only on
their own generation, stagnation, temperature, iteration or duration
limits; they do not observe context cancellation or any other external
stop signal.

Optimizer errors never propagate past Optimize: a failed or
not-yet-converged search still returns the best-effort Placement found,
with Valid=false and a diagnostic when no valid solution exists.
*/
package optimizer
