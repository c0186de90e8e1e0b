package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GeneticOptions tunes the GA engine (spec §4.E.4).
type GeneticOptions struct {
	PopulationSize           int     `yaml:"populationSize"`
	Generations              int     `yaml:"generations"`
	TournamentSize           int     `yaml:"tournamentSize"`
	CrossoverRate            float64 `yaml:"crossoverRate"`
	MutationRate             float64 `yaml:"mutationRate"`
	ElitismRate              float64 `yaml:"elitismRate"`
	ConvergenceThreshold     float64 `yaml:"convergenceThreshold"`
	MaxStagnantGenerations   int     `yaml:"maxStagnantGenerations"`
}

// AnnealingOptions tunes the SA engine (spec §4.E.5).
type AnnealingOptions struct {
	InitialTemperature    float64       `yaml:"initialTemperature"`
	MinTemperature        float64       `yaml:"minTemperature"`
	CoolingRate           float64       `yaml:"coolingRate"`
	ScheduleType          string        `yaml:"scheduleType"` // geometric|logarithmic|adaptive
	EquilibriumIterations int           `yaml:"equilibriumIterations"`
	ReheatingThreshold    float64       `yaml:"reheatingThreshold"`
	MaxReheats            int           `yaml:"maxReheats"`
	MaxIterations         int           `yaml:"maxIterations"`
	TargetAcceptanceRate  float64       `yaml:"targetAcceptanceRate"`
	AdaptiveWindow        int           `yaml:"adaptiveWindow"`
	MaxDuration           time.Duration `yaml:"maxDuration"`
}

// StrategySelectorOptions tunes the §4.E.3 strategy selector thresholds.
type StrategySelectorOptions struct {
	GeneticMinProblemSize int           `yaml:"geneticMinProblemSize"`
	MediumTimeBudget      time.Duration `yaml:"mediumTimeBudget"`
	HybridGAGenerations   int           `yaml:"hybridGAGenerations"`
	HybridTopK            int           `yaml:"hybridTopK"`
}

// GeoOptions tunes the §4.D geographic distributor scoring weights.
type GeoOptions struct {
	RegionWeight     float64 `yaml:"regionWeight"`
	LatencyWeight    float64 `yaml:"latencyWeight"`
	LoadWeight       float64 `yaml:"loadWeight"`
	CostWeight       float64 `yaml:"costWeight"`
	ComplianceWeight float64 `yaml:"complianceWeight"`
}

// RegistryOptions tunes §4.B region health scoring and bus TTLs.
type RegistryOptions struct {
	LoadWeight           float64       `yaml:"loadWeight"`
	LatencyWeight        float64       `yaml:"latencyWeight"`
	AvailabilityWeight   float64       `yaml:"availabilityWeight"`
	UnhealthyThreshold   float64       `yaml:"unhealthyThreshold"`
	NodeTTL              time.Duration `yaml:"nodeTTL"`
	HeartbeatStaleAfter  time.Duration `yaml:"heartbeatStaleAfter"`
	RefreshInterval      time.Duration `yaml:"refreshInterval"`
}

// PredictorOptions tunes §4.C the performance predictor ensemble.
type PredictorOptions struct {
	EnsembleSize         int     `yaml:"ensembleSize"`
	ModelUpdateThreshold float64 `yaml:"modelUpdateThreshold"`
	StubConfidence       float64 `yaml:"stubConfidence"`
}

// ReadinessOptions tunes §4.F category weights and §4.G go-live gating.
type ReadinessOptions struct {
	CategoryWeights   map[string]float64 `yaml:"categoryWeights"`
	GoThreshold       float64            `yaml:"goThreshold"`
	ConditionalFloor  float64            `yaml:"conditionalFloor"`
}

// DeploymentOptions tunes §4.H phase timeouts and canary steps.
type DeploymentOptions struct {
	PhaseTimeout        time.Duration `yaml:"phaseTimeout"`
	StabilizationPeriod time.Duration `yaml:"stabilizationPeriod"`
	CanaryPercentage    int           `yaml:"canaryPercentage"` // initial health-validation canary slice
	CanarySteps         []int         `yaml:"canarySteps"`      // traffic-shift sequence
	StepStabilizePerPct time.Duration `yaml:"stepStabilizePerPct"`
}

// RollbackOptions tunes §4.I snapshot retention and triggers.
type RollbackOptions struct {
	SnapshotRetention      time.Duration `yaml:"snapshotRetention"`
	MetricsRetention       time.Duration `yaml:"metricsRetention"`
	MaxRollbackAttempts    int           `yaml:"maxRollbackAttempts"`
	RollbackTimeout        time.Duration `yaml:"rollbackTimeout"`
	ErrorRateThreshold     float64       `yaml:"errorRateThreshold"`
	P95ThresholdMs         float64       `yaml:"p95ThresholdMs"`
	AvailabilityThreshold  float64       `yaml:"availabilityThreshold"`
	HealthPassRateThreshold float64      `yaml:"healthPassRateThreshold"`
	CriticalPatternCount   int           `yaml:"criticalPatternCount"`
	SustainedWindow        time.Duration `yaml:"sustainedWindow"`
}

// RecoveryOptions tunes §4.J the recovery orchestrator.
type RecoveryOptions struct {
	MaxConcurrentRecoveries  int           `yaml:"maxConcurrentRecoveries"`
	RollbackThreshold        float64       `yaml:"rollbackThreshold"` // failure rate
	EnableAutomaticRollback  bool          `yaml:"enableAutomaticRollback"`
	HealingConfidenceThreshold float64     `yaml:"healingConfidenceThreshold"`
	QueueSoftBound           int           `yaml:"queueSoftBound"`
	SuccessRateEMAFactor     float64       `yaml:"successRateEMAFactor"`
	DispatchInterval         time.Duration `yaml:"dispatchInterval"`
}

// BusOptions tunes §4.A coordination bus connectivity and resilience.
type BusOptions struct {
	RedisHost         string        `yaml:"redisHost"`
	RedisPort         int           `yaml:"redisPort"`
	RedisPassword     string        `yaml:"redisPassword"`
	RedisDB           int           `yaml:"redisDB"`
	DefaultTTL        time.Duration `yaml:"defaultTTL"`
	EventTTL          time.Duration `yaml:"eventTTL"`
	MaxRetries        int           `yaml:"maxRetries"`
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay"`
	BreakerMaxFailures uint32       `yaml:"breakerMaxFailures"`
}

// Options is the top-level typed configuration struct for a Helmsman
// process, constructed once at startup and passed explicitly (spec §9:
// "global mutable singletons map to a process-wide context struct").
type Options struct {
	Genetic          GeneticOptions           `yaml:"genetic"`
	Annealing        AnnealingOptions         `yaml:"annealing"`
	StrategySelector StrategySelectorOptions  `yaml:"strategySelector"`
	Geo              GeoOptions               `yaml:"geo"`
	Registry         RegistryOptions          `yaml:"registry"`
	Predictor        PredictorOptions         `yaml:"predictor"`
	Readiness        ReadinessOptions         `yaml:"readiness"`
	Deployment       DeploymentOptions        `yaml:"deployment"`
	Rollback         RollbackOptions          `yaml:"rollback"`
	Recovery         RecoveryOptions          `yaml:"recovery"`
	Bus              BusOptions               `yaml:"bus"`
}

// Default returns an Options populated with the documented defaults for
// every tunable named across spec §4.
func Default() Options {
	return Options{
		Genetic: GeneticOptions{
			PopulationSize:         100,
			Generations:            200,
			TournamentSize:         5,
			CrossoverRate:          0.8,
			MutationRate:           0.15,
			ElitismRate:            0.1,
			ConvergenceThreshold:   0.0005,
			MaxStagnantGenerations: 20,
		},
		Annealing: AnnealingOptions{
			InitialTemperature:    100,
			MinTemperature:        0.01,
			CoolingRate:           0.95,
			ScheduleType:          "geometric",
			EquilibriumIterations: 25,
			ReheatingThreshold:    0.05,
			MaxReheats:            3,
			MaxIterations:         10000,
			TargetAcceptanceRate:  0.4,
			AdaptiveWindow:        50,
			MaxDuration:           30 * time.Second,
		},
		StrategySelector: StrategySelectorOptions{
			GeneticMinProblemSize: 25,
			MediumTimeBudget:      2 * time.Second,
			HybridGAGenerations:   30,
			HybridTopK:            5,
		},
		Geo: GeoOptions{
			RegionWeight:     0.3,
			LatencyWeight:    0.3,
			LoadWeight:       0.2,
			CostWeight:       0.15,
			ComplianceWeight: 0.05,
		},
		Registry: RegistryOptions{
			LoadWeight:          0.4,
			LatencyWeight:       0.3,
			AvailabilityWeight:  0.3,
			UnhealthyThreshold:  0.5,
			NodeTTL:             24 * time.Hour,
			HeartbeatStaleAfter: 30 * time.Second,
			RefreshInterval:     10 * time.Second,
		},
		Predictor: PredictorOptions{
			EnsembleSize:         5,
			ModelUpdateThreshold: 0.2,
			StubConfidence:       0.5,
		},
		Readiness: ReadinessOptions{
			CategoryWeights: map[string]float64{
				"infrastructure": 0.25,
				"application":    0.25,
				"monitoring":     0.2,
				"security":       0.2,
				"rollback_plan":  0.1,
			},
			GoThreshold:      0.85,
			ConditionalFloor: 0.65,
		},
		Deployment: DeploymentOptions{
			PhaseTimeout:        5 * time.Minute,
			StabilizationPeriod: 30 * time.Second,
			CanaryPercentage:    10,
			CanarySteps:         []int{10, 25, 50, 75, 100},
			StepStabilizePerPct: 2 * time.Second,
		},
		Rollback: RollbackOptions{
			SnapshotRetention:       7 * 24 * time.Hour,
			MetricsRetention:       72 * time.Hour,
			MaxRollbackAttempts:    3,
			RollbackTimeout:        5 * time.Minute,
			ErrorRateThreshold:     0.05,
			P95ThresholdMs:         1000,
			AvailabilityThreshold:  0.99,
			HealthPassRateThreshold: 0.9,
			CriticalPatternCount:   3,
			SustainedWindow:        1 * time.Minute,
		},
		Recovery: RecoveryOptions{
			MaxConcurrentRecoveries:    3,
			RollbackThreshold:          0.5,
			EnableAutomaticRollback:    true,
			HealingConfidenceThreshold: 0.8,
			QueueSoftBound:             50,
			SuccessRateEMAFactor:       0.9,
			DispatchInterval:           1 * time.Second,
		},
		Bus: BusOptions{
			RedisHost:          "127.0.0.1",
			RedisPort:          6379,
			RedisDB:            0,
			DefaultTTL:         24 * time.Hour,
			EventTTL:           72 * time.Hour,
			MaxRetries:         5,
			RetryBaseDelay:     50 * time.Millisecond,
			RetryMaxDelay:      5 * time.Second,
			BreakerMaxFailures: 5,
		},
	}
}

// LoadFile reads a YAML file at path and merges it over Default().
// A missing file is not an error — it simply returns the defaults.
func LoadFile(path string) (Options, error) {
	opts := Default()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return opts, nil
	}
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// ApplyEnv overlays the REDIS_HOST / REDIS_PORT / REDIS_PASSWORD
// environment variables onto opts, per spec §6.
func ApplyEnv(opts Options) Options {
	if host := os.Getenv("REDIS_HOST"); host != "" {
		opts.Bus.RedisHost = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			opts.Bus.RedisPort = p
		}
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		opts.Bus.RedisPassword = pw
	}
	return opts
}

// Load is the convenience entry point: defaults, layered with an optional
// YAML file, layered with environment variables.
func Load(yamlPath string) (Options, error) {
	opts, err := LoadFile(yamlPath)
	if err != nil {
		return opts, err
	}
	return ApplyEnv(opts), nil
}
