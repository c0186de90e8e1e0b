package rollback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
)

func fastOpts() config.RollbackOptions {
	opts := config.Default().Rollback
	opts.RollbackTimeout = 2 * time.Second
	opts.MaxRollbackAttempts = 2
	return opts
}

func healthySnapshot(deploymentID string, age time.Duration) types.Snapshot {
	return types.Snapshot{
		ID:             deploymentID + "-" + age.String(),
		DeploymentID:   deploymentID,
		Timestamp:      time.Now().Add(-age),
		HealthBaseline: types.HealthBaseline{Overall: "healthy"},
	}
}

func TestRollbackFailsWithoutSnapshot(t *testing.T) {
	m := New(nil, fastOpts())
	_, err := m.Rollback(context.Background(), "dep-1", types.TriggerManual)
	require.Error(t, err)
	var typedErr *types.Error
	require.True(t, errors.As(err, &typedErr))
	assert.Equal(t, types.KindRollbackFailed, typedErr.Kind)
}

func TestRollbackRunsStepsInOrderAndCompletes(t *testing.T) {
	m := New(nil, fastOpts())
	require.NoError(t, m.Snapshots.Capture(context.Background(), healthySnapshot("dep-1", time.Minute)))

	var order []string
	for _, name := range []string{"restore_configuration", "restore_data", "flip_traffic", "verify", "cleanup"} {
		name := name
		m.WithStep(name, func(ctx context.Context, exec *types.RollbackExecution, snap types.Snapshot) error {
			order = append(order, name)
			return nil
		})
	}

	exec, err := m.Rollback(context.Background(), "dep-1", types.TriggerErrorRate)
	require.NoError(t, err)
	assert.Equal(t, types.RollbackCompleted, exec.Status)
	assert.Equal(t, []string{"restore_configuration", "restore_data", "flip_traffic", "verify", "cleanup"}, order)

	got, ok := m.Get(exec.ID)
	require.True(t, ok)
	assert.Equal(t, exec.ID, got.ID)
}

func TestRollbackPicksMostRecentHealthySnapshot(t *testing.T) {
	m := New(nil, fastOpts())
	old := healthySnapshot("dep-1", time.Hour)
	unhealthy := types.Snapshot{
		ID:             "dep-1-unhealthy",
		DeploymentID:   "dep-1",
		Timestamp:      time.Now().Add(-time.Minute),
		HealthBaseline: types.HealthBaseline{Overall: "unhealthy"},
	}
	recentHealthy := healthySnapshot("dep-1", 30*time.Second)

	require.NoError(t, m.Snapshots.Capture(context.Background(), old))
	require.NoError(t, m.Snapshots.Capture(context.Background(), unhealthy))
	require.NoError(t, m.Snapshots.Capture(context.Background(), recentHealthy))

	snap, ok := m.Snapshots.Best("dep-1")
	require.True(t, ok)
	assert.Equal(t, recentHealthy.ID, snap.ID)
}

func TestRollbackRetriesFailingStepUpToMaxAttempts(t *testing.T) {
	m := New(nil, fastOpts())
	require.NoError(t, m.Snapshots.Capture(context.Background(), healthySnapshot("dep-1", time.Minute)))

	attempts := 0
	m.WithStep("restore_configuration", func(ctx context.Context, exec *types.RollbackExecution, snap types.Snapshot) error {
		attempts++
		return errors.New("transient")
	})

	exec, err := m.Rollback(context.Background(), "dep-1", types.TriggerManual)
	require.Error(t, err)
	assert.Equal(t, types.RollbackFailed, exec.Status)
	assert.Equal(t, m.opts.MaxRollbackAttempts, attempts)
}

func TestRollbackRejectsConcurrentRollbackForSameDeployment(t *testing.T) {
	m := New(nil, fastOpts())
	require.NoError(t, m.Snapshots.Capture(context.Background(), healthySnapshot("dep-1", time.Minute)))

	release := make(chan struct{})
	m.WithStep("restore_configuration", func(ctx context.Context, exec *types.RollbackExecution, snap types.Snapshot) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		_, _ = m.Rollback(context.Background(), "dep-1", types.TriggerManual)
		close(done)
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.inFlight["dep-1"]
	}, time.Second, time.Millisecond)

	_, err := m.Rollback(context.Background(), "dep-1", types.TriggerManual)
	assert.Error(t, err)

	close(release)
	<-done
}

func TestObserveFiresOnSustainedErrorRateBreach(t *testing.T) {
	opts := fastOpts()
	opts.ErrorRateThreshold = 0.1
	opts.SustainedWindow = 10 * time.Millisecond
	m := New(nil, opts)
	require.NoError(t, m.Snapshots.Capture(context.Background(), healthySnapshot("dep-1", time.Minute)))

	now := time.Now()
	exec, err := m.Observe(context.Background(), types.MetricsSample{DeploymentID: "dep-1", ErrorRate: 0.5, ObservedAt: now})
	require.NoError(t, err)
	assert.Nil(t, exec, "first breach is not yet sustained")

	exec, err = m.Observe(context.Background(), types.MetricsSample{DeploymentID: "dep-1", ErrorRate: 0.5, ObservedAt: now.Add(20 * time.Millisecond)})
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, types.TriggerErrorRate, exec.Trigger)
}
