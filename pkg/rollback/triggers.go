package rollback

import (
	"sync"
	"time"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
)

// triggerWindows tracks, per deployment, the recent samples that
// breached each rate-based trigger's threshold, so a single noisy
// sample can't fire a rollback — the breach must be sustained across
// sustainedWindow.
type triggerWindows struct {
	mu      sync.Mutex
	breachStart map[string]map[types.RollbackTrigger]time.Time
}

func newTriggerWindows() *triggerWindows {
	return &triggerWindows{breachStart: make(map[string]map[types.RollbackTrigger]time.Time)}
}

// Evaluate feeds sample into every automatic trigger and returns the
// first trigger whose condition has now been sustained for at least
// opts.SustainedWindow (rate-based triggers) or whose count threshold
// has been met (the critical-pattern trigger, which is a count, not a
// rate — spec §4.I names it alongside the rate triggers but a pattern
// match count doesn't have a meaningful "sustained duration").
func (w *triggerWindows) Evaluate(sample types.MetricsSample, opts config.RollbackOptions) (types.RollbackTrigger, bool) {
	if sample.CriticalPatternMatches >= opts.CriticalPatternCount && opts.CriticalPatternCount > 0 {
		return types.TriggerCriticalPattern, true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	deployments := w.breachStart[sample.DeploymentID]
	if deployments == nil {
		deployments = make(map[types.RollbackTrigger]time.Time)
		w.breachStart[sample.DeploymentID] = deployments
	}

	checks := []struct {
		trigger  types.RollbackTrigger
		breached bool
	}{
		{types.TriggerErrorRate, sample.ErrorRate >= opts.ErrorRateThreshold},
		{types.TriggerP95Latency, sample.P95ResponseTimeMs >= opts.P95ThresholdMs},
		{types.TriggerAvailability, sample.Availability <= opts.AvailabilityThreshold},
		{types.TriggerHealthCheckPassRate, sample.HealthCheckPassRate <= opts.HealthPassRateThreshold},
	}

	for _, c := range checks {
		if !c.breached {
			delete(deployments, c.trigger)
			continue
		}
		start, ok := deployments[c.trigger]
		if !ok {
			deployments[c.trigger] = sample.ObservedAt
			continue
		}
		if sample.ObservedAt.Sub(start) >= opts.SustainedWindow {
			return c.trigger, true
		}
	}
	return "", false
}

// Reset clears tracked breach state for a deployment, called once a
// rollback has been initiated so a second trigger doesn't fire again
// immediately for the same sustained breach.
func (w *triggerWindows) Reset(deploymentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.breachStart, deploymentID)
}
