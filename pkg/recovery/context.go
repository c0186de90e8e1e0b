package recovery

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/helmsman/pkg/types"
)

// ErrorData is the raw input to initiateRecovery(errorData) (spec §6
// operator surface). It is intentionally loose — callers supply
// whatever signal they have, and the context analyzer fills gaps with
// conservative defaults.
type ErrorData struct {
	ErrorType          string   `json:"errorType"`
	Severity           string   `json:"severity,omitempty"` // low|medium|high|critical; defaults to "medium"
	AffectedComponents []string `json:"affectedComponents,omitempty"`
	BusinessImpact     string   `json:"businessImpact,omitempty"`
	TimeConstraintMs   int64    `json:"timeConstraintMs,omitempty"`
	DeploymentID       string   `json:"deploymentId,omitempty"`
}

// ResourceFunc reports the orchestrator's current resource utilization
// as a fraction in [0,1] per axis (1.0 = fully saturated). The queue
// dispatcher subtracts this from 1 to get available headroom.
type ResourceFunc func() types.ResourceVector

// Analyzer turns raw ErrorData into a typed RecoveryContext, sampling
// available resources at analysis time.
type Analyzer struct {
	resources ResourceFunc
}

// NewAnalyzer constructs an Analyzer. resourcesFn may be nil, in which
// case AvailableResources is always reported as fully available
// (1,1,1,1) — the dispatcher's resource gate becomes a no-op, useful
// before a real utilization source is wired.
func NewAnalyzer(resourcesFn ResourceFunc) *Analyzer {
	if resourcesFn == nil {
		resourcesFn = func() types.ResourceVector {
			return types.ResourceVector{Compute: 1, Memory: 1, Bandwidth: 1, Storage: 1}
		}
	}
	return &Analyzer{resources: resourcesFn}
}

// Analyze produces a RecoveryContext from d.
func (a *Analyzer) Analyze(d ErrorData) types.RecoveryContext {
	severity := d.Severity
	if severity == "" {
		severity = "medium"
	}
	used := a.resources()
	available := types.ResourceVector{
		Compute:   clampUnit(1 - used.Compute),
		Memory:    clampUnit(1 - used.Memory),
		Bandwidth: clampUnit(1 - used.Bandwidth),
		Storage:   clampUnit(1 - used.Storage),
	}
	return types.RecoveryContext{
		ID:                 uuid.NewString(),
		ErrorType:          d.ErrorType,
		Severity:           severity,
		AffectedComponents: d.AffectedComponents,
		AvailableResources: available,
		BusinessImpact:     d.BusinessImpact,
		TimeConstraintMs:   d.TimeConstraintMs,
		DeploymentID:       d.DeploymentID,
		CreatedAt:          time.Now(),
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
