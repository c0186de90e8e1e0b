package deployment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/helmsman/pkg/bus"
	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/cuemby/helmsman/pkg/telemetry"
	"github.com/cuemby/helmsman/pkg/types"
)

// HealthCheck is one named, typed check run during health_validation
// and post_deployment_validation.
type HealthCheck struct {
	Name string
	Fn   func(ctx context.Context, exec *types.DeploymentExecution) error
}

// SnapshotFunc captures a point-in-time Snapshot during preparation, for
// the rollback manager to restore to later.
type SnapshotFunc func(ctx context.Context, exec *types.DeploymentExecution) (types.Snapshot, error)

// FailureHook is invoked whenever a phase fails; pkg/orchestrator wires
// this to pkg/rollback.Manager.Rollback.
type FailureHook func(ctx context.Context, exec *types.DeploymentExecution, phase types.DeploymentPhase, cause error)

// ProvisionFunc provisions the idle color with cfg and reports when it
// is ready to receive traffic.
type ProvisionFunc func(ctx context.Context, exec *types.DeploymentExecution, cfg types.ApplicationConfig) error

// TrafficShiftFunc moves pct% of traffic to exec's new color.
type TrafficShiftFunc func(ctx context.Context, exec *types.DeploymentExecution, pct int) error

// DrainFunc gracefully drains and terminates the old color.
type DrainFunc func(ctx context.Context, exec *types.DeploymentExecution) error

// Engine runs deployment executions through the phase state machine.
type Engine struct {
	opts config.DeploymentOptions
	b    *bus.Bus
	log  zerolog.Logger

	healthChecks   []HealthCheck
	postChecks     []HealthCheck
	snapshot       SnapshotFunc
	provision      ProvisionFunc
	shiftTraffic   TrafficShiftFunc
	drainOldColor  DrainFunc
	onPhaseFailed  FailureHook

	mu        sync.Mutex
	execMu    map[string]*sync.Mutex // one mutex per execution id: guards single-running-phase invariant
	executions map[string]*types.DeploymentExecution
}

// New constructs an Engine. All hook fields default to no-ops that
// succeed immediately, so a caller can exercise the phase machine before
// wiring real provisioning/traffic/drain logic.
func New(b *bus.Bus, opts config.DeploymentOptions) *Engine {
	noopProvision := func(ctx context.Context, exec *types.DeploymentExecution, cfg types.ApplicationConfig) error { return nil }
	noopShift := func(ctx context.Context, exec *types.DeploymentExecution, pct int) error { return nil }
	noopDrain := func(ctx context.Context, exec *types.DeploymentExecution) error { return nil }
	noopSnapshot := func(ctx context.Context, exec *types.DeploymentExecution) (types.Snapshot, error) {
		return types.Snapshot{ID: uuid.NewString(), DeploymentID: exec.ID, Timestamp: time.Now()}, nil
	}

	return &Engine{
		opts:          opts,
		b:             b,
		log:           log.WithComponent("deployment"),
		provision:     noopProvision,
		shiftTraffic:  noopShift,
		drainOldColor: noopDrain,
		snapshot:      noopSnapshot,
		execMu:        make(map[string]*sync.Mutex),
		executions:    make(map[string]*types.DeploymentExecution),
	}
}

// WithProvision overrides the idle-color provisioning hook.
func (e *Engine) WithProvision(fn ProvisionFunc) *Engine { e.provision = fn; return e }

// WithTrafficShift overrides the traffic-shift hook.
func (e *Engine) WithTrafficShift(fn TrafficShiftFunc) *Engine { e.shiftTraffic = fn; return e }

// WithDrain overrides the old-color drain hook.
func (e *Engine) WithDrain(fn DrainFunc) *Engine { e.drainOldColor = fn; return e }

// WithSnapshot overrides the preparation-phase snapshot hook.
func (e *Engine) WithSnapshot(fn SnapshotFunc) *Engine { e.snapshot = fn; return e }

// WithHealthChecks sets the checks run during health_validation.
func (e *Engine) WithHealthChecks(checks ...HealthCheck) *Engine { e.healthChecks = checks; return e }

// WithPostDeploymentChecks sets the checks run during
// post_deployment_validation.
func (e *Engine) WithPostDeploymentChecks(checks ...HealthCheck) *Engine {
	e.postChecks = checks
	return e
}

// OnPhaseFailed registers the hook invoked when any phase fails.
func (e *Engine) OnPhaseFailed(hook FailureHook) *Engine { e.onPhaseFailed = hook; return e }

// Get returns the cached execution record for id, if known to this
// Engine instance.
func (e *Engine) Get(id string) (*types.DeploymentExecution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[id]
	return exec, ok
}

// Begin constructs and registers a new DeploymentExecution for cfg,
// returning it immediately with status "running" and phase
// "preparation" so a caller can hand its ID back to an operator before
// the phase sequence (run via Run) completes — the operator-surface
// deploy() call is asynchronous by contract (spec §6).
func (e *Engine) Begin(cfg types.ApplicationConfig) *types.DeploymentExecution {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = types.StrategyBlueGreen
	}

	exec := &types.DeploymentExecution{
		ID:               uuid.NewString(),
		Strategy:         strategy,
		Phase:            types.PhasePreparation,
		ActiveColor:      types.ColorBlue,
		Status:           types.DeploymentRunning,
		StartedAt:        time.Now(),
		CanaryPercentage: cfg.CanaryPercentage,
	}
	if exec.CanaryPercentage == 0 {
		exec.CanaryPercentage = e.opts.CanaryPercentage
	}

	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.execMu[exec.ID] = &sync.Mutex{}
	e.mu.Unlock()
	return exec
}

// Deploy runs cfg through the full phase sequence for the selected
// strategy, synchronously, returning the final execution record. A
// phase failure stops the sequence, invokes OnPhaseFailed, and returns
// a non-nil error of kind phase_failed; the execution itself is never
// left in the "running" status (spec §5's cancellation guarantee).
func (e *Engine) Deploy(ctx context.Context, cfg types.ApplicationConfig) (*types.DeploymentExecution, error) {
	exec := e.Begin(cfg)
	err := e.Run(ctx, exec, cfg)
	return exec, err
}

// Run executes exec's phase sequence to completion or failure. Callers
// that need exec's ID before the sequence finishes should obtain it via
// Begin and call Run separately (typically in its own goroutine);
// Deploy is the synchronous Begin+Run convenience used by tests and by
// callers with no asynchrony requirement.
func (e *Engine) Run(ctx context.Context, exec *types.DeploymentExecution, cfg types.ApplicationConfig) error {
	e.mu.Lock()
	mu, ok := e.execMu[exec.ID]
	e.mu.Unlock()
	if !ok {
		mu = &sync.Mutex{}
	}

	e.publish(ctx, bus.EventDeploymentStarted, exec)
	e.log.Info().Str("deploymentId", exec.ID).Str("strategy", string(exec.Strategy)).Msg("deployment started")

	strategy := exec.Strategy
	phases := types.PhaseOrder
	if strategy == types.StrategyRolling {
		// Rolling retains the teacher's flat batch update, without the
		// blue/green color machinery; still recorded as three phases
		// (preparation, deploy_new_color, post_deployment_validation)
		// so the execution record stays uniform.
		phases = []types.DeploymentPhase{types.PhasePreparation, types.PhaseDeployNewColor, types.PhasePostDeploymentValidation}
	}

	for _, phase := range phases {
		mu.Lock() // invariant: at most one phase of this execution runs at a time
		err := e.runPhase(ctx, exec, cfg, phase)
		mu.Unlock()
		if err != nil {
			exec.Status = types.DeploymentFailed
			now := time.Now()
			exec.EndedAt = &now
			e.log.Error().Err(err).Str("deploymentId", exec.ID).Str("phase", string(phase)).Msg("deployment phase failed")
			if e.onPhaseFailed != nil {
				e.onPhaseFailed(ctx, exec, phase, err)
			}
			return err
		}
	}

	exec.Status = types.DeploymentCompleted
	now := time.Now()
	exec.EndedAt = &now
	metrics.DeploymentsTotal.WithLabelValues(string(strategy), "completed").Inc()
	metrics.DeploymentDuration.WithLabelValues(string(strategy)).Observe(now.Sub(exec.StartedAt).Seconds())
	e.publish(ctx, bus.EventDeploymentCompleted, exec)
	e.log.Info().Str("deploymentId", exec.ID).Msg("deployment completed")
	return nil
}

// runPhase bounds one phase by phaseTimeout, dispatches to the
// phase-specific implementation, and records a PhaseRecord regardless
// of outcome.
func (e *Engine) runPhase(ctx context.Context, exec *types.DeploymentExecution, cfg types.ApplicationConfig, phase types.DeploymentPhase) error {
	ctx, endSpan := telemetry.StartSpan(ctx, "deployment", string(phase))
	defer endSpan()

	exec.Phase = phase
	record := types.PhaseRecord{Phase: phase, Status: "running", StartedAt: time.Now()}
	exec.PhaseHistory = append(exec.PhaseHistory, record)
	idx := len(exec.PhaseHistory) - 1

	e.publish(ctx, bus.EventDeploymentPhaseStarted, map[string]any{"deploymentId": exec.ID, "phase": phase})

	phaseCtx, cancel := context.WithTimeout(ctx, e.opts.PhaseTimeout)
	defer cancel()

	err := e.dispatchPhase(phaseCtx, exec, cfg, phase)

	exec.PhaseHistory[idx].EndedAt = time.Now()
	metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(exec.PhaseHistory[idx].EndedAt.Sub(exec.PhaseHistory[idx].StartedAt).Seconds())

	if err != nil {
		if phaseCtx.Err() == context.DeadlineExceeded {
			exec.PhaseHistory[idx].Status = "timeout"
			err = types.NewError(types.KindPhaseFailed, fmt.Sprintf("phase %s timed out", phase), err)
		} else {
			exec.PhaseHistory[idx].Status = "failed"
			err = types.NewError(types.KindPhaseFailed, fmt.Sprintf("phase %s failed", phase), err)
		}
		exec.PhaseHistory[idx].Error = err.Error()
		telemetry.RecordError(ctx, err)
		e.publish(ctx, bus.EventDeploymentPhaseFailed, map[string]any{"deploymentId": exec.ID, "phase": phase, "error": err.Error()})
		return err
	}

	exec.PhaseHistory[idx].Status = "completed"
	e.publish(ctx, bus.EventDeploymentPhaseDone, map[string]any{"deploymentId": exec.ID, "phase": phase})
	return nil
}

func (e *Engine) dispatchPhase(ctx context.Context, exec *types.DeploymentExecution, cfg types.ApplicationConfig, phase types.DeploymentPhase) error {
	switch phase {
	case types.PhasePreparation:
		return e.runPreparation(ctx, exec)
	case types.PhaseDeployNewColor:
		return e.runDeployNewColor(ctx, exec, cfg)
	case types.PhaseHealthValidation:
		return e.runHealthValidation(ctx, exec)
	case types.PhaseTrafficShift:
		return e.runTrafficShift(ctx, exec)
	case types.PhaseCleanupOldColor:
		return e.runCleanupOldColor(ctx, exec)
	case types.PhasePostDeploymentValidation:
		return e.runPostDeploymentValidation(ctx, exec)
	default:
		return fmt.Errorf("deployment: unknown phase %q", phase)
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, payload any) {
	if e.b == nil {
		return
	}
	env, err := bus.NewEnvelope("deployment", eventType, payload)
	if err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Msg("failed to build deployment event envelope")
		return
	}
	if err := e.b.Publish(ctx, bus.ChannelDeployment, env); err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Msg("failed to publish deployment event")
	}
}
