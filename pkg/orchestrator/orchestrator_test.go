package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/deployment"
	"github.com/cuemby/helmsman/pkg/geo"
	"github.com/cuemby/helmsman/pkg/optimizer"
	"github.com/cuemby/helmsman/pkg/types"
)

func fastTestOpts() config.Options {
	opts := config.Default()
	opts.Deployment.PhaseTimeout = 2 * time.Second
	opts.Deployment.StabilizationPeriod = time.Millisecond
	opts.Deployment.StepStabilizePerPct = time.Microsecond
	opts.Rollback.RollbackTimeout = 2 * time.Second
	opts.Rollback.MaxRollbackAttempts = 2
	return opts
}

func smallNode(id, region string) types.Node {
	return types.Node{
		ID:          id,
		Region:      region,
		Capacity:    types.ResourceVector{Compute: 100, Memory: 100, Bandwidth: 100, Storage: 100},
		Performance: types.Performance{Latency: 10, Throughput: 1000, Reliability: 0.99, Availability: 0.99},
		Status:      types.NodeStatusHealthy,
	}
}

func smallTask(id string) types.Task {
	return types.Task{
		ID:     id,
		Demand: types.ResourceVector{Compute: 10, Memory: 10, Bandwidth: 10, Storage: 10},
	}
}

func TestOptimizeWithoutGeoStrategyDelegatesToOptimizer(t *testing.T) {
	octx := NewWithBus(nil, fastTestOpts())

	nodes := []types.Node{smallNode("n1", "us-east"), smallNode("n2", "eu-west")}
	tasks := []types.Task{smallTask("t1"), smallTask("t2")}

	report := octx.Optimize(context.Background(), nodes, tasks, optimizer.Constraints{}, geo.Strategy(""))
	assert.True(t, report.Placement.Valid)
	assert.Len(t, report.Placement.Assignments, 2)
}

func TestDeployPhaseFailureTriggersAutomaticRollback(t *testing.T) {
	octx := NewWithBus(nil, fastTestOpts())
	octx.Deployment.WithHealthChecks(deployment.HealthCheck{
		Name: "always-fails",
		Fn: func(ctx context.Context, exec *types.DeploymentExecution) error {
			return errors.New("synthetic health check failure")
		},
	})

	exec, err := octx.Deployment.Deploy(context.Background(), types.ApplicationConfig{
		ServiceName: "svc",
		Strategy:    types.StrategyBlueGreen,
	})
	require.Error(t, err)
	assert.Equal(t, types.DeploymentRolledBack, exec.Status)
}

func TestStatusFindsDeploymentAndRejectsUnknownID(t *testing.T) {
	octx := NewWithBus(nil, fastTestOpts())

	exec := octx.Deployment.Begin(types.ApplicationConfig{ServiceName: "svc", Strategy: types.StrategyBlueGreen})
	got, ok := octx.Status(exec.ID)
	require.True(t, ok)
	assert.Equal(t, exec.ID, got.(*types.DeploymentExecution).ID)

	_, ok = octx.Status("no-such-id")
	assert.False(t, ok)
}

func TestCancelRejectsNonCancelableDeployment(t *testing.T) {
	octx := NewWithBus(nil, fastTestOpts())
	exec := octx.Deployment.Begin(types.ApplicationConfig{ServiceName: "svc", Strategy: types.StrategyBlueGreen})

	err := octx.Cancel(exec.ID)
	assert.Error(t, err)
}
