package rollback

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
	"github.com/cuemby/helmsman/pkg/types"
)

// StepFunc performs one reversal step against snap.
type StepFunc func(ctx context.Context, exec *types.RollbackExecution, snap types.Snapshot) error

// step pairs a reversal step's name with its implementation, in the
// fixed spec §4.I order: restore config, restore data, flip traffic,
// verify, cleanup.
type step struct {
	name string
	fn   StepFunc
}

// Manager runs rollbacks: it owns the snapshot registry, the automatic
// trigger evaluator, and the ordered reversal execution engine.
type Manager struct {
	opts      config.RollbackOptions
	b         *bus.Bus
	log       zerolog.Logger
	Snapshots *SnapshotRegistry
	windows   *triggerWindows

	steps []step

	mu         sync.Mutex
	inFlight   map[string]bool                      // deploymentId -> rollback running
	executions map[string]*types.RollbackExecution // rollbackId -> execution, for Get
}

// New constructs a Manager with no-op reversal steps; wire real ones
// with WithStep before use.
func New(b *bus.Bus, opts config.RollbackOptions) *Manager {
	m := &Manager{
		opts:      opts,
		b:         b,
		log:       log.WithComponent("rollback"),
		Snapshots: newSnapshotRegistry(b, opts),
		windows:   newTriggerWindows(),
		inFlight:  make(map[string]bool),
		executions: make(map[string]*types.RollbackExecution),
	}
	noop := func(ctx context.Context, exec *types.RollbackExecution, snap types.Snapshot) error { return nil }
	m.steps = []step{
		{"restore_configuration", noop},
		{"restore_data", noop},
		{"flip_traffic", noop},
		{"verify", noop},
		{"cleanup", noop},
	}
	return m
}

// WithStep overrides the implementation of the named reversal step.
// name must be one of the five fixed step names; unknown names panic,
// since this is a wiring-time programmer error, not a runtime one.
func (m *Manager) WithStep(name string, fn StepFunc) *Manager {
	for i := range m.steps {
		if m.steps[i].name == name {
			m.steps[i].fn = fn
			return m
		}
	}
	panic(fmt.Sprintf("rollback: unknown step %q", name))
}

// Get returns the cached execution record for rollbackID, if known.
func (m *Manager) Get(rollbackID string) (*types.RollbackExecution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[rollbackID]
	return exec, ok
}

// Observe feeds one metrics sample through the automatic triggers,
// initiating a rollback when one fires. Returns the execution (nil if
// no trigger fired).
func (m *Manager) Observe(ctx context.Context, sample types.MetricsSample) (*types.RollbackExecution, error) {
	trigger, fired := m.windows.Evaluate(sample, m.opts)
	if !fired {
		return nil, nil
	}
	return m.Rollback(ctx, sample.DeploymentID, trigger)
}

// Rollback restores deploymentID to its best available snapshot,
// running the fixed ordered reversal sequence. At most one rollback
// per deployment runs at a time; a concurrent call for the same
// deployment is rejected rather than queued, since a second rollback
// mid-flight would race with the first's traffic flip.
func (m *Manager) Rollback(ctx context.Context, deploymentID string, trigger types.RollbackTrigger) (*types.RollbackExecution, error) {
	m.mu.Lock()
	if m.inFlight[deploymentID] {
		m.mu.Unlock()
		return nil, types.NewError(types.KindRollbackFailed, "rollback already in flight for this deployment", nil).WithField("deploymentId", deploymentID)
	}
	m.inFlight[deploymentID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, deploymentID)
		m.mu.Unlock()
	}()

	snap, ok := m.Snapshots.Best(deploymentID)
	if !ok {
		return nil, types.NewError(types.KindRollbackFailed, "no snapshot available to restore", nil).WithField("deploymentId", deploymentID)
	}

	exec := &types.RollbackExecution{
		ID:           uuid.NewString(),
		DeploymentID: deploymentID,
		SnapshotID:   snap.ID,
		Trigger:      trigger,
		Status:       types.RollbackRunning,
		StartedAt:    time.Now(),
	}
	m.mu.Lock()
	m.executions[exec.ID] = exec
	m.mu.Unlock()

	m.publish(ctx, bus.EventRollbackInitiated, exec)
	m.log.Warn().Str("deploymentId", deploymentID).Str("trigger", string(trigger)).Str("snapshotId", snap.ID).Msg("rollback initiated")

	rbCtx, cancel := context.WithTimeout(ctx, m.opts.RollbackTimeout)
	defer cancel()

	for _, s := range m.steps {
		if err := m.runStep(rbCtx, exec, snap, s); err != nil {
			exec.Status = types.RollbackFailed
			if rbCtx.Err() == context.DeadlineExceeded {
				exec.Status = types.RollbackTimedOut
			}
			exec.Error = err.Error()
			now := time.Now()
			exec.EndedAt = &now
			metrics.RollbacksTotal.WithLabelValues(string(trigger), string(exec.Status)).Inc()
			m.publish(ctx, bus.EventRollbackFailed, exec)
			m.windows.Reset(deploymentID)
			return exec, err
		}
	}

	exec.Status = types.RollbackCompleted
	now := time.Now()
	exec.EndedAt = &now
	metrics.RollbacksTotal.WithLabelValues(string(trigger), "completed").Inc()
	metrics.RollbackDuration.Observe(now.Sub(exec.StartedAt).Seconds())
	m.publish(ctx, bus.EventRollbackCompleted, exec)
	m.windows.Reset(deploymentID)
	m.log.Info().Str("deploymentId", deploymentID).Msg("rollback completed")
	return exec, nil
}

// runStep retries s up to maxRollbackAttempts times, recording one
// RollbackStepRecord per attempt.
func (m *Manager) runStep(ctx context.Context, exec *types.RollbackExecution, snap types.Snapshot, s step) error {
	maxAttempts := m.opts.MaxRollbackAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		record := types.RollbackStepRecord{Name: s.name, Status: "running", Attempt: attempt, StartedAt: time.Now()}
		exec.Steps = append(exec.Steps, record)
		idx := len(exec.Steps) - 1

		err := s.fn(ctx, exec, snap)
		exec.Steps[idx].EndedAt = time.Now()

		if err == nil {
			exec.Steps[idx].Status = "completed"
			m.publish(ctx, bus.EventRollbackStep, map[string]any{"deploymentId": exec.DeploymentID, "step": s.name, "attempt": attempt})
			return nil
		}

		exec.Steps[idx].Status = "failed"
		exec.Steps[idx].Error = err.Error()
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("step %q failed after %d attempts: %w", s.name, maxAttempts, lastErr)
}

func (m *Manager) publish(ctx context.Context, eventType string, payload any) {
	if m.b == nil {
		return
	}
	env, err := bus.NewEnvelope("rollback", eventType, payload)
	if err != nil {
		m.log.Warn().Err(err).Str("event", eventType).Msg("failed to build rollback event envelope")
		return
	}
	if err := m.b.Publish(ctx, bus.ChannelRollback, env); err != nil {
		m.log.Warn().Err(err).Str("event", eventType).Msg("failed to publish rollback event")
	}
}
