package recovery

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

// StepExecutor performs one RecoveryStep's action against the running
// execution. Returning an error counts the step as failed for the
// purposes of the rollback-threshold computation.
type StepExecutor func(ctx context.Context, exec *types.RecoveryExecution, step types.RecoveryStep) error

// RollbackHook lets the orchestrator trigger rollback of an in-flight
// deployment when a recovery context names one (spec §1: "can trigger
// rollback of an in-flight deployment"). pkg/orchestrator wires this to
// pkg/rollback.Manager.Rollback.
type RollbackHook func(ctx context.Context, deploymentID string, trigger types.RollbackTrigger) error

// PreemptiveExecutor runs a self-healing pre-emptive action.
type PreemptiveExecutor func(ctx context.Context, action types.PreemptiveAction) error

// Orchestrator is the §4.J Recovery Orchestrator: context analyzer,
// strategy selector, queue/dispatcher, and step execution engine.
type Orchestrator struct {
	opts     config.RecoveryOptions
	b        *bus.Bus
	log      zerolog.Logger
	analyzer *Analyzer
	Strategies *StrategyRegistry

	runStep    StepExecutor
	onRollback RollbackHook
	preemptive PreemptiveExecutor

	q *queue

	mu         sync.Mutex
	active     map[string]context.CancelFunc // execution id -> cancel (lets the dispatcher pause it)
	executions map[string]*types.RecoveryExecution

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Orchestrator. Hooks default to no-ops so the queue
// and strategy-selection machinery can be exercised before real step
// execution, rollback triggering, or pre-emptive actions are wired.
func New(b *bus.Bus, opts config.RecoveryOptions, resourcesFn ResourceFunc) *Orchestrator {
	return &Orchestrator{
		opts:       opts,
		b:          b,
		log:        log.WithComponent("recovery"),
		analyzer:   NewAnalyzer(resourcesFn),
		Strategies: NewStrategyRegistry(opts),
		runStep:    func(ctx context.Context, exec *types.RecoveryExecution, step types.RecoveryStep) error { return nil },
		onRollback: func(ctx context.Context, deploymentID string, trigger types.RollbackTrigger) error { return nil },
		preemptive: func(ctx context.Context, action types.PreemptiveAction) error { return nil },
		q:          newQueue(),
		active:     make(map[string]context.CancelFunc),
		executions: make(map[string]*types.RecoveryExecution),
		stopCh:     make(chan struct{}),
	}
}

// WithStepExecutor overrides how individual recovery steps are run.
func (o *Orchestrator) WithStepExecutor(fn StepExecutor) *Orchestrator { o.runStep = fn; return o }

// WithRollbackHook overrides the deployment-rollback trigger.
func (o *Orchestrator) WithRollbackHook(fn RollbackHook) *Orchestrator { o.onRollback = fn; return o }

// WithPreemptiveExecutor overrides how self-healing actions are run.
func (o *Orchestrator) WithPreemptiveExecutor(fn PreemptiveExecutor) *Orchestrator {
	o.preemptive = fn
	return o
}

// Start launches the background dispatcher loop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(1)
	go o.dispatchLoop(ctx)
}

// Stop halts the dispatcher loop and waits for it to exit.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

// Get returns the cached execution record for id, if known.
func (o *Orchestrator) Get(id string) (*types.RecoveryExecution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.executions[id]
	return exec, ok
}

// Cancel stops an active execution's current step context, leaving it
// recorded as failed rather than in limbo (spec §5 cancellation rule).
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	cancel, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// InitiateRecovery is the operator-surface `initiateRecovery(errorData)`
// call: it analyzes errorData, selects an applicable strategy, and
// enqueues a RecoveryExecution for dispatch. Returns recovery_failed if
// no registered strategy applies.
func (o *Orchestrator) InitiateRecovery(ctx context.Context, data ErrorData) (*types.RecoveryExecution, error) {
	rc := o.analyzer.Analyze(data)
	strategy, ok := o.Strategies.SelectFor(rc.ErrorType)
	if !ok {
		return nil, types.NewError(types.KindRecoveryFailed, "no applicable recovery strategy registered", nil).
			WithField("errorType", rc.ErrorType)
	}

	exec := &types.RecoveryExecution{
		ID:        uuid.NewString(),
		Context:   rc,
		Strategy:  strategy,
		Status:    types.RecoveryQueued,
		StartedAt: time.Now(),
	}

	o.mu.Lock()
	o.executions[exec.ID] = exec
	o.mu.Unlock()

	o.q.push(&queuedItem{exec: exec, strategy: strategy, enqueuedAt: time.Now()})
	metrics.RecoveryQueueDepth.Set(float64(o.q.len()))
	o.publish(ctx, bus.ChannelRecovery, bus.EventRecoveryQueued, exec)

	if soft := o.opts.QueueSoftBound; soft > 0 && o.q.len() > soft {
		o.publish(ctx, bus.ChannelRecovery, bus.EventRecoveryQueueSaturated, map[string]any{"depth": o.q.len()})
	}

	return exec, nil
}

// dispatchLoop periodically pulls the front of the queue and attempts
// to run it, respecting maxConcurrentRecoveries and resource headroom.
func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.wg.Done()
	interval := o.opts.DispatchInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.dispatchOnce(ctx)
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// dispatchOnce attempts to start the next queued execution, if the
// concurrency bound and resource gate both allow it.
func (o *Orchestrator) dispatchOnce(ctx context.Context) {
	o.mu.Lock()
	activeCount := len(o.active)
	o.mu.Unlock()

	max := o.opts.MaxConcurrentRecoveries
	if max <= 0 {
		max = 1
	}
	if activeCount >= max {
		return
	}

	item, ok := o.q.peek()
	if !ok {
		return
	}

	if !resourcesAvailable(item.strategy.RequiredResources, item.exec.Context.AvailableResources) {
		// Try to make room by pausing one non-critical active execution.
		if item.exec.Context.Severity == "critical" {
			o.pauseOneNonCritical()
		}
		return
	}

	item, ok = o.q.popFront()
	if !ok {
		return
	}

	execCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.active[item.exec.ID] = cancel
	o.mu.Unlock()
	metrics.RecoveryQueueDepth.Set(float64(o.q.len()))
	metrics.RecoveryActive.Set(float64(len(o.active)))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer func() {
			o.mu.Lock()
			delete(o.active, item.exec.ID)
			o.mu.Unlock()
			metrics.RecoveryActive.Set(float64(len(o.active)))
		}()
		o.run(execCtx, item.exec)
	}()
}

// pauseOneNonCritical cancels one non-critical active execution's
// context, re-queueing it at the front so it resumes before anything
// else — spec §4.J dispatcher "may pause one non-critical active
// execution to make room".
func (o *Orchestrator) pauseOneNonCritical() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, cancel := range o.active {
		exec, ok := o.executions[id]
		if !ok || exec.Context.Severity == "critical" {
			continue
		}
		cancel()
		delete(o.active, id)
		o.q.pushFront(&queuedItem{exec: exec, strategy: exec.Strategy, enqueuedAt: time.Now()})
		o.log.Info().Str("recoveryId", id).Msg("paused non-critical recovery to make room for a higher-priority one")
		return
	}
}

// run executes exec's strategy steps in order, publishing progress
// events and invoking the rollback plan if the failure rate crosses
// opts.RollbackThreshold.
func (o *Orchestrator) run(ctx context.Context, exec *types.RecoveryExecution) {
	ctx, endSpan := telemetry.StartSpan(ctx, "recovery", exec.Strategy.ID)
	defer endSpan()

	exec.Status = types.RecoveryRunning
	o.publish(ctx, bus.ChannelRecovery, bus.EventRecoveryStarted, exec)
	o.log.Info().Str("recoveryId", exec.ID).Str("strategy", exec.Strategy.ID).Msg("recovery started")

	for i, step := range exec.Strategy.Steps {
		exec.CurrentStepIndex = i
		if err := o.runOneStep(ctx, exec, step); err != nil {
			exec.FailedSteps = append(exec.FailedSteps, step.Name)
			metrics.RecoveryStepFailures.WithLabelValues(exec.Strategy.ID).Inc()
			telemetry.RecordError(ctx, err)
			o.publish(ctx, bus.ChannelRecovery, bus.EventRecoveryStepFailed,
				map[string]any{"recoveryId": exec.ID, "step": step.Name, "error": err.Error()})
		} else {
			exec.CompletedSteps = append(exec.CompletedSteps, step.Name)
		}
		exec.Progress = float64(len(exec.CompletedSteps)+len(exec.FailedSteps)) / float64(len(exec.Strategy.Steps))

		if o.failureRate(exec) >= o.opts.RollbackThreshold && o.opts.EnableAutomaticRollback {
			o.rollbackStrategy(ctx, exec)
			return
		}
	}

	now := time.Now()
	exec.EndedAt = &now
	if len(exec.FailedSteps) == 0 {
		exec.Status = types.RecoveryCompleted
		o.Strategies.RecordOutcome(exec.Strategy.ID, true)
		metrics.RecoveriesTotal.WithLabelValues(exec.Strategy.ID, "completed").Inc()
		o.publish(ctx, bus.ChannelRecovery, bus.EventRecoveryCompleted, exec)
		o.log.Info().Str("recoveryId", exec.ID).Msg("recovery completed")
	} else {
		exec.Status = types.RecoveryFailed
		o.Strategies.RecordOutcome(exec.Strategy.ID, false)
		metrics.RecoveriesTotal.WithLabelValues(exec.Strategy.ID, "failed").Inc()
		o.publish(ctx, bus.ChannelRecovery, bus.EventRecoveryFailed, exec)
		o.log.Warn().Str("recoveryId", exec.ID).Msg("recovery completed with step failures below rollback threshold")
	}

	if exec.Context.DeploymentID != "" && exec.Status == types.RecoveryFailed {
		_ = o.onRollback(ctx, exec.Context.DeploymentID, types.TriggerManual)
	}
}

// runOneStep bounds step by its own timeout and retries it up to
// retryAttempts times.
func (o *Orchestrator) runOneStep(ctx context.Context, exec *types.RecoveryExecution, step types.RecoveryStep) error {
	attempts := step.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := time.Duration(step.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		err := o.runStep(stepCtx, exec, step)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("recovery step %q failed after %d attempts: %w", step.Name, attempts, lastErr)
}

// failureRate is |failedSteps| / (|completedSteps| + |failedSteps|),
// the recovery-engine convention for spec §9 open question 2 (a rate,
// not a count — contrast pkg/rollback's count-based critical-pattern
// trigger).
func (o *Orchestrator) failureRate(exec *types.RecoveryExecution) float64 {
	total := len(exec.CompletedSteps) + len(exec.FailedSteps)
	if total == 0 {
		return 0
	}
	return float64(len(exec.FailedSteps)) / float64(total)
}

// rollbackStrategy runs exec.Strategy.RollbackPlan to completion,
// records the recovery as rolled_back, and optionally triggers the
// associated deployment's rollback.
func (o *Orchestrator) rollbackStrategy(ctx context.Context, exec *types.RecoveryExecution) {
	exec.Status = types.RecoveryRollingBack
	o.log.Warn().Str("recoveryId", exec.ID).Float64("failureRate", o.failureRate(exec)).Msg("recovery failure rate crossed rollback threshold")

	for _, step := range exec.Strategy.RollbackPlan {
		if err := o.runOneStep(ctx, exec, step); err != nil {
			o.log.Error().Err(err).Str("recoveryId", exec.ID).Str("step", step.Name).Msg("recovery rollback step failed")
		}
		exec.RollbackHistory = append(exec.RollbackHistory, step.Name)
	}

	now := time.Now()
	exec.EndedAt = &now
	exec.Status = types.RecoveryRolledBack
	o.Strategies.RecordOutcome(exec.Strategy.ID, false)
	metrics.RecoveriesTotal.WithLabelValues(exec.Strategy.ID, "rolled_back").Inc()
	o.publish(ctx, bus.ChannelRecovery, bus.EventRecoveryFailed, exec)

	if exec.Context.DeploymentID != "" {
		if err := o.onRollback(ctx, exec.Context.DeploymentID, types.TriggerManual); err != nil {
			o.log.Error().Err(err).Str("deploymentId", exec.Context.DeploymentID).Msg("recovery-triggered deployment rollback failed")
		}
	}
}

// ConsiderPreemptive runs action via the wired PreemptiveExecutor only
// if action.Confidence meets opts.HealingConfidenceThreshold, per spec
// §4.J self-healing. Returns whether the action was scheduled.
func (o *Orchestrator) ConsiderPreemptive(ctx context.Context, action types.PreemptiveAction) (bool, error) {
	if action.Confidence < o.opts.HealingConfidenceThreshold {
		return false, nil
	}
	if err := o.preemptive(ctx, action); err != nil {
		return true, fmt.Errorf("preemptive action %q failed: %w", action.Name, err)
	}
	o.log.Info().Str("action", action.Name).Float64("confidence", action.Confidence).Msg("scheduled self-healing pre-emptive action")
	return true, nil
}

func (o *Orchestrator) publish(ctx context.Context, channel, eventType string, payload any) {
	if o.b == nil {
		return
	}
	env, err := bus.NewEnvelope("recovery", eventType, payload)
	if err != nil {
		o.log.Warn().Err(err).Str("event", eventType).Msg("failed to build recovery event envelope")
		return
	}
	if err := o.b.Publish(ctx, channel, env); err != nil {
		o.log.Warn().Err(err).Str("event", eventType).Msg("failed to publish recovery event")
	}
}
