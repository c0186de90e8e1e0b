package readiness

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allPassingAssessor() *Assessor {
	a := New(config.Default().Readiness)
	for category := range a.opts.CategoryWeights {
		a.Register(category, "baseline", func(ctx context.Context) (float64, error) {
			return 1, nil
		})
	}
	return a
}

func TestAssessAllPassingYieldsGo(t *testing.T) {
	a := allPassingAssessor()
	report := a.Assess(context.Background())
	assert.Equal(t, types.ReadinessGo, report.Decision)
	assert.InDelta(t, 1.0, report.Overall, 1e-9)
}

func TestAssessFailingCheckDegradesCategoryNotAborts(t *testing.T) {
	a := allPassingAssessor()
	a.Register("security", "vuln_scan", func(ctx context.Context) (float64, error) {
		return 0, errors.New("scan unreachable")
	})

	report := a.Assess(context.Background())
	require.Len(t, report.Categories, len(a.opts.CategoryWeights))

	var security types.CategoryScore
	for _, c := range report.Categories {
		if c.Category == "security" {
			security = c
		}
	}
	assert.InDelta(t, 0.5, security.Score, 1e-9) // baseline=1 averaged with failed=0
	assert.Less(t, report.Overall, 1.0)
}

func TestAssessLowScoresYieldNoGo(t *testing.T) {
	a := New(config.Default().Readiness)
	for category := range a.opts.CategoryWeights {
		a.Register(category, "baseline", func(ctx context.Context) (float64, error) {
			return 0.1, nil
		})
	}
	report := a.Assess(context.Background())
	assert.Equal(t, types.ReadinessNoGo, report.Decision)
}

func TestAssessMidScoresYieldConditional(t *testing.T) {
	a := New(config.Default().Readiness)
	for category := range a.opts.CategoryWeights {
		a.Register(category, "baseline", func(ctx context.Context) (float64, error) {
			return 0.7, nil
		})
	}
	report := a.Assess(context.Background())
	assert.Equal(t, types.ReadinessConditional, report.Decision)
}

func TestChecklistAllSatisfiedRequiresApprovalOnManualItems(t *testing.T) {
	cl := Checklist("dep-1", []types.ChecklistItem{
		{Name: "smoke_tests", Kind: types.ChecklistAutomated, Required: true, Passed: true},
		{Name: "security_signoff", Kind: types.ChecklistManual, Required: true, ApprovalRequired: true},
	})
	assert.False(t, cl.AllSatisfied())

	require.NoError(t, Approve(&cl, "security_signoff", "alice"))
	assert.True(t, cl.AllSatisfied())
}

func TestApproveRejectsAutomatedItem(t *testing.T) {
	cl := Checklist("dep-1", []types.ChecklistItem{
		{Name: "smoke_tests", Kind: types.ChecklistAutomated, Required: true},
	})
	err := Approve(&cl, "smoke_tests", "alice")
	assert.Error(t, err)
}

func TestChecklistOptionalItemDoesNotBlockSatisfaction(t *testing.T) {
	cl := Checklist("dep-1", []types.ChecklistItem{
		{Name: "smoke_tests", Kind: types.ChecklistAutomated, Required: true, Passed: true},
		{Name: "nice_to_have", Kind: types.ChecklistAutomated, Required: false, Passed: false},
	})
	assert.True(t, cl.AllSatisfied())
}
