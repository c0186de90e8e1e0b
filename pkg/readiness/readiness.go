package readiness

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/rs/zerolog"

	"github.com/cuemby/helmsman/pkg/types"
)

// CheckFunc evaluates one readiness signal within a category, returning
// a score in [0,1].
type CheckFunc func(ctx context.Context) (float64, error)

// Assessor computes a weighted ReadinessReport from a caller-supplied
// set of per-category checks (spec §4.F).
type Assessor struct {
	opts   config.ReadinessOptions
	log    zerolog.Logger
	checks map[string]map[string]CheckFunc // category -> check name -> func
}

// New constructs an Assessor with no checks registered.
func New(opts config.ReadinessOptions) *Assessor {
	return &Assessor{
		opts:   opts,
		log:    log.WithComponent("readiness"),
		checks: make(map[string]map[string]CheckFunc),
	}
}

// Register adds a named check to category. Re-registering the same
// name replaces the previous check.
func (a *Assessor) Register(category, name string, fn CheckFunc) {
	if a.checks[category] == nil {
		a.checks[category] = make(map[string]CheckFunc)
	}
	a.checks[category][name] = fn
}

// Assess runs every registered check and produces a ReadinessReport.
// A failing check contributes a score of 0 rather than aborting the
// whole assessment — one bad signal should degrade the category, not
// hide the rest of it.
func (a *Assessor) Assess(ctx context.Context) types.ReadinessReport {
	var categories []types.CategoryScore
	var overall float64

	for category, weight := range a.opts.CategoryWeights {
		checks := a.checks[category]
		results := make(map[string]float64, len(checks))
		var sum float64
		for name, fn := range checks {
			score, err := fn(ctx)
			if err != nil {
				a.log.Warn().Err(err).Str("category", category).Str("check", name).Msg("readiness check failed")
				score = 0
			}
			results[name] = clamp01(score)
			sum += results[name]
		}
		var catScore float64
		if len(checks) > 0 {
			catScore = sum / float64(len(checks))
		}
		categories = append(categories, types.CategoryScore{
			Category: category,
			Score:    catScore,
			Weight:   weight,
			Checks:   results,
		})
		overall += catScore * weight
	}

	return types.ReadinessReport{
		Categories: categories,
		Overall:    overall,
		Decision:   a.decide(overall),
		AssessedAt: time.Now(),
	}
}

// decide maps an overall score to a go/conditional/no-go verdict.
func (a *Assessor) decide(overall float64) types.ReadinessDecision {
	switch {
	case overall >= a.opts.GoThreshold:
		return types.ReadinessGo
	case overall >= a.opts.ConditionalFloor:
		return types.ReadinessConditional
	default:
		return types.ReadinessNoGo
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Checklist wraps items in a §4.G go-live checklist for deploymentID,
// stamped with the current time. Items are stored as given: no check is
// run and no Passed or approval field is changed here.
func Checklist(deploymentID string, items []types.ChecklistItem) types.Checklist {
	return types.Checklist{
		DeploymentID: deploymentID,
		Items:        items,
		CreatedAt:    time.Now(),
	}
}

// Approve records a manual approval for item name in cl, returning an
// error if the item doesn't exist or is not a manual item.
func Approve(cl *types.Checklist, name, approver string) error {
	for i := range cl.Items {
		if cl.Items[i].Name != name {
			continue
		}
		if cl.Items[i].Kind != types.ChecklistManual {
			return fmt.Errorf("readiness: checklist item %q is not a manual approval gate", name)
		}
		now := time.Now()
		cl.Items[i].Passed = true
		cl.Items[i].Approver = approver
		cl.Items[i].ApprovedAt = &now
		return nil
	}
	return fmt.Errorf("readiness: checklist item %q not found", name)
}
