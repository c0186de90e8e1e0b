package deployment

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/helmsman/pkg/types"
)

// runPreparation verifies prerequisites and captures a Snapshot for the
// rollback manager to restore to if a later phase fails.
func (e *Engine) runPreparation(ctx context.Context, exec *types.DeploymentExecution) error {
	snap, err := e.snapshot(ctx, exec)
	if err != nil {
		return fmt.Errorf("snapshot capture: %w", err)
	}
	exec.SnapshotID = snap.ID
	e.log.Info().Str("deploymentId", exec.ID).Str("snapshotId", snap.ID).Msg("preparation complete")
	return nil
}

// runDeployNewColor provisions the idle color with the new
// application config.
func (e *Engine) runDeployNewColor(ctx context.Context, exec *types.DeploymentExecution, cfg types.ApplicationConfig) error {
	idle := exec.ActiveColor.Other()
	if err := e.provision(ctx, exec, cfg); err != nil {
		return fmt.Errorf("provision %s color: %w", idle, err)
	}
	e.log.Info().Str("deploymentId", exec.ID).Str("color", string(idle)).Msg("new color provisioned")
	return nil
}

// runHealthValidation runs the configured health checks against the new
// color. Canary deployments additionally route canaryPercentage traffic
// to the new color before validating, so the checks observe real
// traffic rather than just a synthetic probe.
func (e *Engine) runHealthValidation(ctx context.Context, exec *types.DeploymentExecution) error {
	if exec.Strategy == types.StrategyCanary && exec.CanaryPercentage > 0 {
		if err := e.shiftTraffic(ctx, exec, exec.CanaryPercentage); err != nil {
			return fmt.Errorf("canary traffic shift to %d%%: %w", exec.CanaryPercentage, err)
		}
	}

	for _, check := range e.healthChecks {
		if err := runWithContext(ctx, exec, check); err != nil {
			return fmt.Errorf("health check %q: %w", check.Name, err)
		}
	}
	return nil
}

// runTrafficShift moves production traffic onto the new color. Canary
// walks the configured step sequence (default 10/25/50/75/100%), each
// step waited out for a stabilization period proportional to the
// percentage and gated by the configured health checks; any step
// failure aborts the shift (and the deployment) immediately rather than
// continuing to a higher percentage. Blue/green shifts in one step.
func (e *Engine) runTrafficShift(ctx context.Context, exec *types.DeploymentExecution) error {
	if exec.Strategy != types.StrategyCanary {
		if err := e.shiftTraffic(ctx, exec, 100); err != nil {
			return fmt.Errorf("traffic shift to 100%%: %w", err)
		}
		exec.ActiveColor = exec.ActiveColor.Other()
		return nil
	}

	steps := e.opts.CanarySteps
	if len(steps) == 0 {
		steps = []int{10, 25, 50, 75, 100}
	}

	for _, pct := range steps {
		if err := e.shiftTraffic(ctx, exec, pct); err != nil {
			return fmt.Errorf("canary step %d%%: %w", pct, err)
		}
		exec.CanaryPercentage = pct

		wait := time.Duration(pct) * e.opts.StepStabilizePerPct
		if err := sleepOrCancel(ctx, wait); err != nil {
			return err
		}

		for _, check := range e.healthChecks {
			if err := runWithContext(ctx, exec, check); err != nil {
				return fmt.Errorf("canary step %d%% health gate %q: %w", pct, check.Name, err)
			}
		}
	}

	exec.ActiveColor = exec.ActiveColor.Other()
	return nil
}

// runCleanupOldColor waits out the stabilization period, then drains
// and terminates the color that traffic was shifted away from.
func (e *Engine) runCleanupOldColor(ctx context.Context, exec *types.DeploymentExecution) error {
	if err := sleepOrCancel(ctx, e.opts.StabilizationPeriod); err != nil {
		return err
	}
	if err := e.drainOldColor(ctx, exec); err != nil {
		return fmt.Errorf("drain old color: %w", err)
	}
	return nil
}

// runPostDeploymentValidation runs the final smoke/performance/security/
// monitoring check set. A failure here still triggers rollback, per
// spec §4.H, even though the traffic shift already completed.
func (e *Engine) runPostDeploymentValidation(ctx context.Context, exec *types.DeploymentExecution) error {
	for _, check := range e.postChecks {
		if err := runWithContext(ctx, exec, check); err != nil {
			return fmt.Errorf("post-deployment check %q: %w", check.Name, err)
		}
	}
	return nil
}

func runWithContext(ctx context.Context, exec *types.DeploymentExecution, check HealthCheck) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return check.Fn(ctx, exec)
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
