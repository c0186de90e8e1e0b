package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
)

func strategy(id string, successProb float64, steps ...types.RecoveryStep) types.RecoveryStrategy {
	return types.RecoveryStrategy{
		ID:                   id,
		ApplicableErrorTypes: []string{"database-connection-lost"},
		SuccessProbability:   successProb,
		Steps:                steps,
	}
}

func TestStrategySelectorPrefersHigherSuccessRate(t *testing.T) {
	reg := NewStrategyRegistry(config.Default().Recovery)
	reg.Register(strategy("a", 0.9))
	reg.Register(strategy("b", 0.6))

	selected, ok := reg.SelectFor("database-connection-lost")
	require.True(t, ok)
	assert.Equal(t, "a", selected.ID)
}

func TestStrategySelectorIgnoresInapplicableErrorTypes(t *testing.T) {
	reg := NewStrategyRegistry(config.Default().Recovery)
	reg.Register(strategy("a", 0.9))
	_, ok := reg.SelectFor("disk-full")
	assert.False(t, ok)
}

func TestRecordOutcomeShiftsSelectionOverTime(t *testing.T) {
	reg := NewStrategyRegistry(config.Default().Recovery)
	reg.Register(strategy("a", 0.9))
	reg.Register(strategy("b", 0.6))

	for i := 0; i < 50; i++ {
		reg.RecordOutcome("a", false)
		reg.RecordOutcome("b", true)
	}

	selected, ok := reg.SelectFor("database-connection-lost")
	require.True(t, ok)
	assert.Equal(t, "b", selected.ID)
}

func TestQueueCriticalJumpsAheadOfNonCritical(t *testing.T) {
	q := newQueue()
	low := &queuedItem{exec: &types.RecoveryExecution{ID: "low", Context: types.RecoveryContext{Severity: "low"}}}
	crit := &queuedItem{exec: &types.RecoveryExecution{ID: "crit", Context: types.RecoveryContext{Severity: "critical"}}}
	q.push(low)
	q.push(crit)

	front, ok := q.popFront()
	require.True(t, ok)
	assert.Equal(t, "crit", front.exec.ID)

	front, ok = q.popFront()
	require.True(t, ok)
	assert.Equal(t, "low", front.exec.ID)
}

func TestQueueFIFOAmongEqualPriority(t *testing.T) {
	q := newQueue()
	for _, id := range []string{"1", "2", "3"} {
		q.push(&queuedItem{exec: &types.RecoveryExecution{ID: id, Context: types.RecoveryContext{Severity: "medium"}}})
	}
	var order []string
	for {
		item, ok := q.popFront()
		if !ok {
			break
		}
		order = append(order, item.exec.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, order)
}

func TestResourcesAvailableRejectsOverCommit(t *testing.T) {
	required := types.ResourceVector{Compute: 0.5}
	available := types.ResourceVector{Compute: 0.3}
	assert.False(t, resourcesAvailable(required, available))

	available.Compute = 0.6
	assert.True(t, resourcesAvailable(required, available))
}

func TestInitiateRecoveryReturnsErrorWithNoApplicableStrategy(t *testing.T) {
	o := New(nil, config.Default().Recovery, nil)
	_, err := o.InitiateRecovery(context.Background(), ErrorData{ErrorType: "unknown-error"})
	assert.Error(t, err)
	var typedErr *types.Error
	require.True(t, errors.As(err, &typedErr))
	assert.Equal(t, types.KindRecoveryFailed, typedErr.Kind)
}

func TestEndToEndRecoverySucceedsWithinRetryBudget(t *testing.T) {
	opts := config.Default().Recovery
	opts.DispatchInterval = 5 * time.Millisecond
	o := New(nil, opts, nil)
	o.Strategies.Register(strategy("db-reconnect", 0.9,
		types.RecoveryStep{Name: "reconnect", TimeoutMs: 100, RetryAttempts: 1},
		types.RecoveryStep{Name: "verify", TimeoutMs: 100, RetryAttempts: 1},
	))

	var calls int32
	var mu sync.Mutex
	o.WithStepExecutor(func(ctx context.Context, exec *types.RecoveryExecution, step types.RecoveryStep) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	exec, err := o.InitiateRecovery(context.Background(), ErrorData{ErrorType: "database-connection-lost"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := o.Get(exec.ID)
		return ok && got.Status == types.RecoveryCompleted
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(2), calls)
}

func TestRollbackPlanRunsWhenFailureRateCrossesThreshold(t *testing.T) {
	opts := config.Default().Recovery
	opts.DispatchInterval = 5 * time.Millisecond
	opts.RollbackThreshold = 0.5
	opts.EnableAutomaticRollback = true
	o := New(nil, opts, nil)

	s := strategy("flaky", 0.9,
		types.RecoveryStep{Name: "step1", TimeoutMs: 100, RetryAttempts: 1},
	)
	s.RollbackPlan = []types.RecoveryStep{{Name: "undo", TimeoutMs: 100, RetryAttempts: 1}}
	o.Strategies.Register(s)

	o.WithStepExecutor(func(ctx context.Context, exec *types.RecoveryExecution, step types.RecoveryStep) error {
		return errors.New("boom")
	})

	var rolledBackDeployment string
	o.WithRollbackHook(func(ctx context.Context, deploymentID string, trigger types.RollbackTrigger) error {
		rolledBackDeployment = deploymentID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	exec, err := o.InitiateRecovery(context.Background(), ErrorData{ErrorType: "database-connection-lost", DeploymentID: "dep-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := o.Get(exec.ID)
		return ok && got.Status == types.RecoveryRolledBack
	}, time.Second, 5*time.Millisecond)

	got, _ := o.Get(exec.ID)
	assert.Contains(t, got.RollbackHistory, "undo")
	assert.Equal(t, "dep-1", rolledBackDeployment)
}

func TestConsiderPreemptiveRespectsConfidenceThreshold(t *testing.T) {
	opts := config.Default().Recovery
	opts.HealingConfidenceThreshold = 0.8
	o := New(nil, opts, nil)

	scheduled, err := o.ConsiderPreemptive(context.Background(), types.PreemptiveAction{Name: "restart-pool", Confidence: 0.5})
	require.NoError(t, err)
	assert.False(t, scheduled)

	var ran bool
	o.WithPreemptiveExecutor(func(ctx context.Context, action types.PreemptiveAction) error {
		ran = true
		return nil
	})
	scheduled, err = o.ConsiderPreemptive(context.Background(), types.PreemptiveAction{Name: "restart-pool", Confidence: 0.9})
	require.NoError(t, err)
	assert.True(t, scheduled)
	assert.True(t, ran)
}
