/*
Package orchestrator wires Helmsman's ten components (§4.A-J) into the
single process-wide context struct spec §9 asks for in place of the
source's global mutable singletons: "a process-wide context struct
constructed at startup and passed explicitly", grounded on the
teacher's pkg/manager.Manager — the one object cmd/warren constructs
once and threads through every subcommand.

Context exposes the plain-Go operator surface from spec §6:
optimize/deploy/rollback/initiateRecovery/status/cancel. It contains no
algorithmic logic of its own; every call delegates to the owning
component and stitches together the cross-component hand-offs spec §2's
data-flow diagram describes — geo pre-partitioning feeding the
optimizer's soft region constraint, deployment phase failures handing
off to rollback, and recovery executions optionally triggering a
deployment rollback.
*/
package orchestrator
