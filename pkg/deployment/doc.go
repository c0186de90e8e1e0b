/*
Package deployment implements Helmsman's Deployment State Machine
(spec §4.H): a strict-order phase sequence — preparation,
deploy_new_color, health_validation, traffic_shift, cleanup_old_color,
post_deployment_validation — executed for blue/green and canary
strategies, with the teacher's rolling-update retained as a third,
non-zero-downtime fallback strategy.

The phase loop and its batch/delay/log shape are adapted from the
teacher's pkg/deploy.Deployer.rollingUpdate: same per-batch structured
logging, same "the scheduler/health checker reconciles the rest"
philosophy, generalized from one flat function into an ordered phase
machine with typed lifecycle events. Each phase is bounded by
phaseTimeout and recorded as an append-only PhaseRecord on the
DeploymentExecution, matching the teacher's append-only container state
transitions.

Phase failures never retry internally: they publish
deployment.phase.failed and hand off to whatever rollback hook the
caller wired via Engine.OnPhaseFailed (pkg/orchestrator wires this to
pkg/rollback), per spec §7's "phase errors are local to the deployment."
*/
package deployment
