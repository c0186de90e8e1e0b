package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/helmsman/pkg/bus"
	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/deployment"
	"github.com/cuemby/helmsman/pkg/geo"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/optimizer"
	"github.com/cuemby/helmsman/pkg/predictor"
	"github.com/cuemby/helmsman/pkg/readiness"
	"github.com/cuemby/helmsman/pkg/recovery"
	"github.com/cuemby/helmsman/pkg/registry"
	"github.com/cuemby/helmsman/pkg/rollback"
	"github.com/cuemby/helmsman/pkg/types"
)

// Context is the process-wide struct a Helmsman process constructs
// once at startup and passes explicitly everywhere (spec §9), wiring
// components A-J together. It exposes the transport-agnostic operator
// surface from spec §6.
type Context struct {
	Opts config.Options
	Bus  *bus.Bus

	Registry   *registry.Registry
	Predictor  *predictor.Ensemble
	Geo        *geo.Distributor
	Optimizer  *optimizer.Optimizer
	Readiness  *readiness.Assessor
	Deployment *deployment.Engine
	Rollback   *rollback.Manager
	Recovery   *recovery.Orchestrator

	log zerolog.Logger

	mu         sync.Mutex
	deployCfgs map[string]types.ApplicationConfig // deploymentId -> cfg, so Cancel can be informative
}

// New constructs a Context with every component wired together: a
// deployment phase failure hands off to Rollback.Rollback, and a
// recovery execution that names a deploymentId can trigger the same
// hand-off (spec §1 "Recovery Orchestrator ... can trigger rollback of
// an in-flight deployment").
func New(opts config.Options) *Context {
	b := bus.New(opts.Bus)
	return newContext(b, opts)
}

// NewWithBus constructs a Context over an already-configured Bus,
// used by tests to inject a miniredis-backed bus or a nil bus for
// pure in-memory exercises.
func NewWithBus(b *bus.Bus, opts config.Options) *Context {
	return newContext(b, opts)
}

func newContext(b *bus.Bus, opts config.Options) *Context {
	reg := registry.New(b, opts.Registry)
	geoDist := geo.New(reg, opts.Geo)
	pred := predictor.New(opts.Predictor)
	opt := optimizer.New(b, opts).WithPredictor(pred)
	ready := readiness.New(opts.Readiness)
	dep := deployment.New(b, opts.Deployment)
	rb := rollback.New(b, opts.Rollback)

	c := &Context{
		Opts:       opts,
		Bus:        b,
		Registry:   reg,
		Predictor:  pred,
		Geo:        geoDist,
		Optimizer:  opt,
		Readiness:  ready,
		Deployment: dep,
		Rollback:   rb,
		log:        log.WithComponent("orchestrator"),
		deployCfgs: make(map[string]types.ApplicationConfig),
	}

	dep.WithSnapshot(func(ctx context.Context, exec *types.DeploymentExecution) (types.Snapshot, error) {
		snap := types.Snapshot{
			ID:           uuid.NewString(),
			DeploymentID: exec.ID,
			Timestamp:    time.Now(),
		}
		if err := rb.Snapshots.Capture(ctx, snap); err != nil {
			return types.Snapshot{}, err
		}
		return snap, nil
	})

	rec := recovery.New(b, opts.Recovery, c.clusterUtilization)
	rec.WithRollbackHook(func(ctx context.Context, deploymentID string, trigger types.RollbackTrigger) error {
		_, err := rb.Rollback(ctx, deploymentID, trigger)
		return err
	})
	c.Recovery = rec

	dep.OnPhaseFailed(func(ctx context.Context, exec *types.DeploymentExecution, phase types.DeploymentPhase, cause error) {
		c.log.Warn().Str("deploymentId", exec.ID).Str("phase", string(phase)).Err(cause).Msg("phase failed, evaluating rollback")
		if _, err := rb.Rollback(ctx, exec.ID, types.TriggerManual); err != nil {
			c.log.Error().Err(err).Str("deploymentId", exec.ID).Msg("rollback after phase failure did not complete")
			return
		}
		exec.Status = types.DeploymentRolledBack
	})

	return c
}

// Start begins the registry's heartbeat-staleness sweep and the
// recovery orchestrator's dispatcher.
func (c *Context) Start(ctx context.Context) {
	c.Registry.Start()
	c.Recovery.Start(ctx)
}

// Stop halts every background loop this Context started.
func (c *Context) Stop() {
	c.Registry.Stop()
	c.Recovery.Stop()
}

// clusterUtilization reports the cluster-wide average fractional
// utilization per resource axis, feeding the recovery dispatcher's
// resource-availability gate.
func (c *Context) clusterUtilization() types.ResourceVector {
	nodes := c.Registry.Nodes()
	if len(nodes) == 0 {
		return types.ResourceVector{}
	}
	var sum types.ResourceVector
	for _, n := range nodes {
		sum.Compute += axisFraction(n.Utilization.Compute, n.Capacity.Compute)
		sum.Memory += axisFraction(n.Utilization.Memory, n.Capacity.Memory)
		sum.Bandwidth += axisFraction(n.Utilization.Bandwidth, n.Capacity.Bandwidth)
		sum.Storage += axisFraction(n.Utilization.Storage, n.Capacity.Storage)
	}
	count := float64(len(nodes))
	return types.ResourceVector{
		Compute:   sum.Compute / count,
		Memory:    sum.Memory / count,
		Bandwidth: sum.Bandwidth / count,
		Storage:   sum.Storage / count,
	}
}

func axisFraction(used, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	frac := used / capacity
	if frac < 0 {
		return 0
	}
	if frac > 1 {
		return 1
	}
	return frac
}

// Optimize is the operator-surface `optimize(nodes, tasks, constraints,
// options) -> Placement` call (spec §6). When geoStrategy is non-empty
// the Geographic Distributor pre-partitions tasks by region and feeds
// the result back to the optimizer as a soft (or, under compliance_aware
// with dataSovereignty, hard) region constraint.
func (c *Context) Optimize(ctx context.Context, nodes []types.Node, tasks []types.Task, constraints optimizer.Constraints, geoStrategy geo.Strategy) optimizer.OptimizationReport {
	if geoStrategy != "" {
		dist := c.Geo.Distribute(geoStrategy, tasks)
		if constraints.RegionPreference == nil {
			constraints.RegionPreference = make(map[string]string, len(dist.TaskRegion))
		}
		for taskID, region := range dist.TaskRegion {
			constraints.RegionPreference[taskID] = region
		}
	}
	return c.Optimizer.Optimize(ctx, nodes, tasks, constraints)
}

// Deploy is the operator-surface `deploy(applicationConfig, options) ->
// DeploymentId` call: it registers the execution synchronously (so the
// id is available immediately) and runs the phase sequence in the
// background, matching spec §6's "long-running id" contract.
func (c *Context) Deploy(ctx context.Context, cfg types.ApplicationConfig) string {
	exec := c.Deployment.Begin(cfg)

	c.mu.Lock()
	c.deployCfgs[exec.ID] = cfg
	c.mu.Unlock()

	go func() {
		if err := c.Deployment.Run(ctx, exec, cfg); err != nil {
			c.log.Warn().Err(err).Str("deploymentId", exec.ID).Msg("deployment ended with error")
		}
	}()
	return exec.ID
}

// TriggerRollback is the operator-surface `rollback(deploymentId?,
// snapshotId?) -> RollbackId` call. snapshotID is accepted for
// interface symmetry with spec §6 but is not used: Manager.Rollback
// always restores the best available snapshot for deploymentID (spec
// §4.I), and no call pins a specific snapshot.
func (c *Context) TriggerRollback(ctx context.Context, deploymentID, snapshotID string) (string, error) {
	exec, err := c.Rollback.Rollback(ctx, deploymentID, types.TriggerManual)
	if err != nil {
		return "", err
	}
	return exec.ID, nil
}

// InitiateRecovery is the operator-surface `initiateRecovery(errorData)
// -> RecoveryId` call.
func (c *Context) InitiateRecovery(ctx context.Context, data recovery.ErrorData) (string, error) {
	exec, err := c.Recovery.InitiateRecovery(ctx, data)
	if err != nil {
		return "", err
	}
	return exec.ID, nil
}

// Status looks up id across every long-running-operation namespace
// this Context owns (deployment, rollback, recovery) and returns
// whichever record matches.
func (c *Context) Status(id string) (any, bool) {
	if exec, ok := c.Deployment.Get(id); ok {
		return exec, true
	}
	if exec, ok := c.Rollback.Get(id); ok {
		return exec, true
	}
	if exec, ok := c.Recovery.Get(id); ok {
		return exec, true
	}
	return nil, false
}

// Cancel stops the long-running operation named by id, if it is a
// cancelable one (only recovery executions currently expose
// mid-flight cancellation; deployments and rollbacks run to a bounded
// phase/step timeout instead, per spec §5).
func (c *Context) Cancel(id string) error {
	if c.Recovery.Cancel(id) {
		return nil
	}
	if _, ok := c.Deployment.Get(id); ok {
		return fmt.Errorf("orchestrator: deployment %q cannot be canceled mid-phase, only timed out", id)
	}
	return fmt.Errorf("orchestrator: no cancelable operation found for id %q", id)
}
