package predictor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictReturnsStubWhenUntrained(t *testing.T) {
	e := New(config.Default().Predictor)
	var features [FeatureDim]float64
	pred := e.Predict(features)
	assert.Equal(t, config.Default().Predictor.StubConfidence, pred.Confidence)
	assert.False(t, e.IsTrained())
}

func TestTrainOnSyntheticDataYieldsTrainedEnsemble(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	observations := make([]Observation, 0, 120)
	for i := 0; i < 120; i++ {
		var f [FeatureDim]float64
		for j := range f {
			f[j] = rng.Float64() * 100
		}
		// Targets are a simple deterministic function of a few features
		// (latency from two, cost from four), giving the ensemble a
		// learnable signal.
		latency := f[12]*0.5 + f[8]*10
		cost := f[16]*f[4]*0.01 + f[17]*f[5]*0.01
		observations = append(observations, Observation{
			Features: f,
			Targets:  [TargetDim]float64{latency, cost, 0.9, 0.95},
		})
	}

	opts := config.Default().Predictor
	opts.EnsembleSize = 3
	e := New(opts)
	require.NoError(t, e.Train(observations))
	assert.True(t, e.IsTrained())

	pred := e.Predict(observations[0].Features)
	assert.Greater(t, pred.Confidence, 0.0)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
}

func TestCheckDriftFlagsLargeError(t *testing.T) {
	opts := config.Default().Predictor
	opts.ModelUpdateThreshold = 0.1
	e := New(opts)

	predicted := Prediction{Latency: 10, Cost: 1, Reliability: 0.9, SuccessRate: 0.9}
	actual := Observation{Targets: [TargetDim]float64{1000, 500, 0.1, 0.1}}

	assert.True(t, e.CheckDrift(predicted, actual))
}

func TestCheckDriftIgnoresSmallError(t *testing.T) {
	opts := config.Default().Predictor
	opts.ModelUpdateThreshold = 5
	e := New(opts)

	predicted := Prediction{Latency: 10, Cost: 1, Reliability: 0.9, SuccessRate: 0.9}
	actual := Observation{Targets: [TargetDim]float64{10.5, 1.1, 0.91, 0.89}}

	assert.False(t, e.CheckDrift(predicted, actual))
}

func TestHistoryStoreAppendAndLoad(t *testing.T) {
	store, err := OpenHistoryStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	var f [FeatureDim]float64
	f[0] = 1
	obs := Observation{Features: f, Targets: [TargetDim]float64{1, 2, 3, 4}}

	require.NoError(t, store.Append(obs, time.Now()))
	require.NoError(t, store.Append(obs, time.Now().Add(time.Second)))

	all, err := store.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, float64(1), all[0].Features[0])
}

func TestBuildFeaturesHasExpectedWidth(t *testing.T) {
	n := types.Node{
		Capacity:    types.ResourceVector{Compute: 10, Memory: 10, Bandwidth: 10, Storage: 10},
		Performance: types.Performance{Latency: 5, Availability: 0.99},
		Location:    types.GeoPoint{Lat: 1, Lon: 1},
	}
	task := types.Task{Demand: types.ResourceVector{Compute: 1, Memory: 1, Bandwidth: 1, Storage: 1}}

	f := BuildFeatures(n, task, HistoricalAggregate{AvgLatency: 3, AvgReliability: 0.9}, time.Now())
	assert.Len(t, f, FeatureDim)
}
