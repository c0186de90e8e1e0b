package types

import (
	"encoding/json"
	"time"
)

// ResourceVector is the four-axis capacity/demand/utilization vector
// shared by Node and Task: compute, memory, bandwidth, storage.
type ResourceVector struct {
	Compute   float64 `json:"compute"`
	Memory    float64 `json:"memory"`
	Bandwidth float64 `json:"bandwidth"`
	Storage   float64 `json:"storage"`
}

// Add returns the element-wise sum of v and o.
func (v ResourceVector) Add(o ResourceVector) ResourceVector {
	return ResourceVector{
		Compute:   v.Compute + o.Compute,
		Memory:    v.Memory + o.Memory,
		Bandwidth: v.Bandwidth + o.Bandwidth,
		Storage:   v.Storage + o.Storage,
	}
}

// Fits reports whether v (demand) can be satisfied by capacity cap given
// already-committed utilization used, on every axis.
func (v ResourceVector) Fits(cap, used ResourceVector) bool {
	return used.Compute+v.Compute <= cap.Compute &&
		used.Memory+v.Memory <= cap.Memory &&
		used.Bandwidth+v.Bandwidth <= cap.Bandwidth &&
		used.Storage+v.Storage <= cap.Storage
}

// UnitCost is the per-axis unit price used by cost(n,t) in spec §4.E.2.
type UnitCost struct {
	PerCompute   float64 `json:"perCompute"`
	PerMemory    float64 `json:"perMemory"`
	PerBandwidth float64 `json:"perBandwidth"`
	PerStorage   float64 `json:"perStorage"`
}

// Performance holds a node's steady-state performance characteristics.
type Performance struct {
	Latency      float64 `json:"latency"`      // ms
	Throughput   float64 `json:"throughput"`   // ops/sec
	Reliability  float64 `json:"reliability"`  // [0,1]
	Availability float64 `json:"availability"` // [0,1]
}

// GeoPoint is a latitude/longitude pair used by the Haversine distance
// computation in pkg/registry.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NodeStatus mirrors the teacher's NodeStatus enum convention.
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// Node is a worker node eligible to receive task assignments.
type Node struct {
	ID       string   `json:"id"`
	Region   string   `json:"region"`
	Location GeoPoint `json:"location"`

	Capacity    ResourceVector `json:"capacity"`
	Utilization ResourceVector `json:"utilization"`
	UnitCost    UnitCost       `json:"unitCost"`
	Performance Performance    `json:"performance"`

	Capabilities     map[string]bool `json:"capabilities,omitempty"`
	SupportedTaskIDs map[string]bool `json:"supportedTaskIds,omitempty"` // empty = any task

	Status NodeStatus `json:"status"`

	CreatedAt     time.Time `json:"createdAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// SupportsTask reports whether this node is eligible to run t based on
// the supported-task allow-list (empty means "any task") and t's
// anti-affinity set: a node advertising any of those tags as a
// capability is rejected.
func (n *Node) SupportsTask(t *Task) bool {
	if len(n.SupportedTaskIDs) > 0 && !n.SupportedTaskIDs[t.ID] {
		return false
	}
	for _, tag := range t.AntiAffinity {
		if n.Capabilities[tag] {
			return false
		}
	}
	return true
}

// TagMatchCount counts how many of t's affinity tags this node advertises
// as capabilities. Used by the GA's weighted initial-population selection
// (spec §4.E.4).
func (n *Node) TagMatchCount(t *Task) int {
	count := 0
	for _, tag := range t.Affinity {
		if n.Capabilities[tag] {
			count++
		}
	}
	return count
}

// Task is a unit of work to be assigned to exactly one Node.
type Task struct {
	ID       string         `json:"id"`
	Demand   ResourceVector `json:"demand"`
	Priority int            `json:"priority"`
	Deadline time.Time      `json:"deadline"`

	EstimatedDuration time.Duration `json:"estimatedDuration"`

	Affinity     []string `json:"affinity,omitempty"`
	AntiAffinity []string `json:"antiAffinity,omitempty"`

	LocationPreference *GeoPoint `json:"locationPreference,omitempty"`
	RegionPreference    string   `json:"regionPreference,omitempty"`
	DataLocation         string   `json:"dataLocation,omitempty"`
	UserLocation         string   `json:"userLocation,omitempty"`

	// DataSovereignty, if set, MUST equal Assignment.Region (spec invariant).
	DataSovereignty string `json:"dataSovereignty,omitempty"`
	// ComplianceRegions is an allow-list; empty means unrestricted.
	ComplianceRegions []string `json:"complianceRegions,omitempty"`
}

// Assignment is an immutable record of one task's placement decision.
type Assignment struct {
	TaskID   string  `json:"taskId"`
	NodeID   string  `json:"nodeId"`
	Region   string  `json:"region"`
	Score    float64 `json:"score"`
	Strategy string  `json:"strategy"`

	// ScoreBreakdown carries the per-component scores (latency, cost,
	// reliability, loadBalance) that summed to Score, for audit.
	ScoreBreakdown map[string]float64 `json:"scoreBreakdown,omitempty"`
}

// Placement is the ordered result of one optimization run.
type Placement struct {
	Assignments []Assignment `json:"assignments"`

	AvgLatency      float64 `json:"avgLatency"`
	TotalCost       float64 `json:"totalCost"`
	AvgReliability  float64 `json:"avgReliability"`
	LoadBalanceIndex float64 `json:"loadBalanceIndex"`
	AvgUtilization  float64 `json:"avgUtilization"`

	Valid bool `json:"valid"`
	// ViolatedConstraints enumerates constraint classes violated when
	// Valid is false, e.g. "capacity.compute", "sovereignty".
	ViolatedConstraints []string `json:"violatedConstraints,omitempty"`
}

// HealthBaseline is a point-in-time summary of system health captured
// into a Snapshot.
type HealthBaseline struct {
	Overall           string             `json:"overall"` // healthy|degraded|unhealthy
	ErrorRate         float64            `json:"errorRate"`
	P95ResponseTimeMs float64            `json:"p95ResponseTimeMs"`
	Availability      float64            `json:"availability"`
	ComponentHealth   map[string]string  `json:"componentHealth,omitempty"`
	CapturedAt        time.Time          `json:"capturedAt"`
}

// PerformanceBaseline captures throughput/latency numbers at snapshot time.
type PerformanceBaseline struct {
	Throughput float64 `json:"throughput"`
	LatencyMs  float64 `json:"latencyMs"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Snapshot is an immutable, TTL-bound capture of deployment state
// sufficient to restore a previous deployment.
type Snapshot struct {
	ID              string               `json:"id"`
	Timestamp       time.Time            `json:"timestamp"`
	DeploymentID    string               `json:"deploymentId"`
	Version         string               `json:"version"`
	Configuration   map[string]string    `json:"configuration,omitempty"`
	DBState         json.RawMessage      `json:"dbState,omitempty"`
	HealthBaseline  HealthBaseline       `json:"healthBaseline"`
	PerformanceBaseline PerformanceBaseline `json:"performanceBaseline"`
}

// ReadinessDecision is the go/no-go verdict produced by the readiness
// assessor.
type ReadinessDecision string

const (
	ReadinessGo          ReadinessDecision = "go"
	ReadinessConditional ReadinessDecision = "conditional"
	ReadinessNoGo        ReadinessDecision = "no_go"
)

// CategoryScore is one weighted readiness category's result.
type CategoryScore struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"` // [0,1], caller-supplied per-check signal averaged
	Weight   float64 `json:"weight"`
	Checks   map[string]float64 `json:"checks,omitempty"`
}

// ReadinessReport is the §4.F output: a weighted overall score and the
// go/no-go/conditional decision derived from it.
type ReadinessReport struct {
	Categories []CategoryScore  `json:"categories"`
	Overall    float64          `json:"overall"`
	Decision   ReadinessDecision `json:"decision"`
	AssessedAt time.Time        `json:"assessedAt"`
}

// ChecklistItemKind distinguishes automated checks from manual approval
// gates in a go-live checklist.
type ChecklistItemKind string

const (
	ChecklistAutomated ChecklistItemKind = "automated"
	ChecklistManual    ChecklistItemKind = "manual"
)

// ChecklistItem is one gate in a §4.G go-live checklist. Automated items
// are satisfied by a passing check result; manual items require an
// explicit approval.
type ChecklistItem struct {
	Name             string            `json:"name"`
	Kind             ChecklistItemKind `json:"kind"`
	Required         bool              `json:"required"`
	Passed           bool              `json:"passed"`
	ApprovalRequired bool              `json:"approvalRequired,omitempty"`
	Approver         string            `json:"approver,omitempty"`
	ApprovedAt       *time.Time        `json:"approvedAt,omitempty"`
	Note             string            `json:"note,omitempty"`
}

// Checklist is the durable §4.G record gating one deployment's go-live.
type Checklist struct {
	DeploymentID string          `json:"deploymentId"`
	Items        []ChecklistItem `json:"items"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// AllSatisfied reports whether every required item in the checklist has
// passed (and, for manual items, been approved).
func (c Checklist) AllSatisfied() bool {
	for _, item := range c.Items {
		if !item.Required {
			continue
		}
		if !item.Passed {
			return false
		}
		if item.ApprovalRequired && item.ApprovedAt == nil {
			return false
		}
	}
	return true
}

// ApplicationConfig describes the application version a deploy()
// operator call provisions into the idle color.
type ApplicationConfig struct {
	ServiceName string            `json:"serviceName"`
	Version     string            `json:"version"`
	Image       string            `json:"image"`
	Replicas    int               `json:"replicas"`
	Env         map[string]string `json:"env,omitempty"`
	Strategy    DeploymentStrategy `json:"strategy"`
	// CanaryPercentage overrides DeploymentOptions.CanaryPercentage for
	// this deploy when set (>0).
	CanaryPercentage int `json:"canaryPercentage,omitempty"`
}

// DeploymentColor is the active/idle color pair for blue/green rollouts.
type DeploymentColor string

const (
	ColorBlue  DeploymentColor = "blue"
	ColorGreen DeploymentColor = "green"
)

// Other returns the color that is not c.
func (c DeploymentColor) Other() DeploymentColor {
	if c == ColorBlue {
		return ColorGreen
	}
	return ColorBlue
}

// DeploymentPhase enumerates the strict-order phases of spec §4.H.
type DeploymentPhase string

const (
	PhasePreparation             DeploymentPhase = "preparation"
	PhaseDeployNewColor          DeploymentPhase = "deploy_new_color"
	PhaseHealthValidation        DeploymentPhase = "health_validation"
	PhaseTrafficShift            DeploymentPhase = "traffic_shift"
	PhaseCleanupOldColor         DeploymentPhase = "cleanup_old_color"
	PhasePostDeploymentValidation DeploymentPhase = "post_deployment_validation"
)

// PhaseOrder is the strict execution order of DeploymentPhase values.
var PhaseOrder = []DeploymentPhase{
	PhasePreparation,
	PhaseDeployNewColor,
	PhaseHealthValidation,
	PhaseTrafficShift,
	PhaseCleanupOldColor,
	PhasePostDeploymentValidation,
}

// DeploymentStrategy selects the rollout algorithm.
type DeploymentStrategy string

const (
	StrategyRolling   DeploymentStrategy = "rolling"
	StrategyBlueGreen DeploymentStrategy = "blue_green"
	StrategyCanary    DeploymentStrategy = "canary"
)

// DeploymentStatus is the overall lifecycle status of a DeploymentExecution.
type DeploymentStatus string

const (
	DeploymentPending     DeploymentStatus = "pending"
	DeploymentRunning     DeploymentStatus = "running"
	DeploymentCompleted   DeploymentStatus = "completed"
	DeploymentFailed      DeploymentStatus = "failed"
	DeploymentRollingBack DeploymentStatus = "rolling_back"
	DeploymentRolledBack  DeploymentStatus = "rolled_back"
)

// PhaseRecord is one append-only entry in a DeploymentExecution's history.
type PhaseRecord struct {
	Phase     DeploymentPhase `json:"phase"`
	Status    string          `json:"status"` // running|completed|failed|timeout
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   time.Time       `json:"endedAt,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// DeploymentExecution is the durable record of one rollout in progress.
type DeploymentExecution struct {
	ID           string              `json:"id"`
	Strategy     DeploymentStrategy  `json:"strategy"`
	Phase        DeploymentPhase     `json:"phase"`
	ActiveColor  DeploymentColor     `json:"activeColor"`
	SnapshotID   string              `json:"snapshotId"`
	PhaseHistory []PhaseRecord       `json:"phaseHistory"`
	StartedAt    time.Time           `json:"startedAt"`
	EndedAt      *time.Time          `json:"endedAt,omitempty"`
	Status       DeploymentStatus    `json:"status"`
	CanaryPercentage int             `json:"canaryPercentage,omitempty"`
}

// RollbackTrigger names what caused a rollback to be initiated.
type RollbackTrigger string

const (
	TriggerManual               RollbackTrigger = "manual"
	TriggerErrorRate            RollbackTrigger = "error_rate"
	TriggerP95Latency           RollbackTrigger = "p95_latency"
	TriggerAvailability         RollbackTrigger = "availability"
	TriggerHealthCheckPassRate  RollbackTrigger = "health_check_pass_rate"
	TriggerCriticalPattern      RollbackTrigger = "critical_pattern"
)

// RollbackStatus is the lifecycle status of a RollbackExecution.
type RollbackStatus string

const (
	RollbackPending   RollbackStatus = "pending"
	RollbackRunning   RollbackStatus = "running"
	RollbackCompleted RollbackStatus = "completed"
	RollbackFailed    RollbackStatus = "failed"
	RollbackTimedOut  RollbackStatus = "timeout"
)

// MetricsSample is one point-in-time reading of the signals the
// rollback manager's automatic triggers watch.
type MetricsSample struct {
	DeploymentID           string    `json:"deploymentId"`
	ErrorRate              float64   `json:"errorRate"`
	P95ResponseTimeMs      float64   `json:"p95ResponseTimeMs"`
	Availability           float64   `json:"availability"`
	HealthCheckPassRate    float64   `json:"healthCheckPassRate"`
	CriticalPatternMatches int       `json:"criticalPatternMatches"`
	ObservedAt             time.Time `json:"observedAt"`
}

// RollbackStepRecord is one append-only reversal-step entry.
type RollbackStepRecord struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"` // running|completed|failed
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// RollbackExecution is the durable record of one rollback in progress.
type RollbackExecution struct {
	ID           string               `json:"id"`
	DeploymentID string               `json:"deploymentId"`
	SnapshotID   string               `json:"snapshotId"`
	Trigger      RollbackTrigger      `json:"trigger"`
	Status       RollbackStatus       `json:"status"`
	Steps        []RollbackStepRecord `json:"steps"`
	StartedAt    time.Time            `json:"startedAt"`
	EndedAt      *time.Time           `json:"endedAt,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// RecoveryStatus is the lifecycle status of a RecoveryExecution.
type RecoveryStatus string

const (
	RecoveryQueued     RecoveryStatus = "queued"
	RecoveryRunning    RecoveryStatus = "running"
	RecoveryCompleted  RecoveryStatus = "completed"
	RecoveryFailed     RecoveryStatus = "failed"
	RecoveryRollingBack RecoveryStatus = "rolling_back"
	RecoveryRolledBack RecoveryStatus = "rolled_back"
)

// RecoveryContext describes the situation a recovery execution addresses.
type RecoveryContext struct {
	ID                  string            `json:"id"`
	ErrorType           string            `json:"errorType"`
	Severity            string            `json:"severity"` // low|medium|high|critical
	AffectedComponents  []string          `json:"affectedComponents"`
	AvailableResources  ResourceVector    `json:"availableResources"`
	BusinessImpact      string            `json:"businessImpact"`
	TimeConstraintMs    int64             `json:"timeConstraintMs"`
	DeploymentID        string            `json:"deploymentId,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
}

// RecoveryStep is one ordered step of a RecoveryStrategy.
type RecoveryStep struct {
	Name               string            `json:"name"`
	TimeoutMs          int64             `json:"timeoutMs"`
	RetryAttempts      int               `json:"retryAttempts"`
	ValidationCriteria map[string]string `json:"validationCriteria,omitempty"`
}

// RecoveryStrategy is a registered, reusable remediation plan.
type RecoveryStrategy struct {
	ID                   string            `json:"id"`
	ApplicableErrorTypes []string          `json:"applicableErrorTypes"`
	RequiredResources    ResourceVector    `json:"requiredResources"`
	EstimatedDuration    time.Duration     `json:"estimatedDuration"`
	SuccessProbability   float64           `json:"successProbability"`
	RiskLevel            string            `json:"riskLevel"` // low|medium|high
	Steps                []RecoveryStep    `json:"steps"`
	RollbackPlan         []RecoveryStep    `json:"rollbackPlan,omitempty"`
	Prerequisites        []string          `json:"prerequisites,omitempty"`
	SideEffects          []string          `json:"sideEffects,omitempty"`
}

// PreemptiveAction is a self-healing action scheduled ahead of an
// observed failure, when predictor/recovery confidence is high enough.
type PreemptiveAction struct {
	Name          string   `json:"name"`
	Confidence    float64  `json:"confidence"`
	RiskLevel     string   `json:"riskLevel"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// RecoveryExecution is the durable record of one recovery in progress.
type RecoveryExecution struct {
	ID               string            `json:"id"`
	Context          RecoveryContext   `json:"context"`
	Strategy         RecoveryStrategy  `json:"strategy"`
	Status           RecoveryStatus    `json:"status"`
	CurrentStepIndex int               `json:"currentStepIndex"`
	CompletedSteps   []string          `json:"completedSteps"`
	FailedSteps      []string          `json:"failedSteps"`
	Progress         float64           `json:"progress"`
	RollbackHistory  []string          `json:"rollbackHistory,omitempty"`
	StartedAt        time.Time         `json:"startedAt"`
	EndedAt          *time.Time        `json:"endedAt,omitempty"`
}
