package predictor

import (
	"math"
	"math/rand"
	"sync"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/rs/zerolog"
)

// minMax tracks the observed range of a single feature or target axis,
// used for running min-max normalization/denormalization.
type minMax struct {
	min, max float64
}

func (r minMax) normalize(v float64) float64 {
	if r.max <= r.min {
		return 0.5
	}
	n := (v - r.min) / (r.max - r.min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func (r minMax) denormalize(v float64) float64 {
	if r.max <= r.min {
		return r.min
	}
	return r.min + v*(r.max-r.min)
}

// Prediction is the predictor's estimate for one (node, task) pairing.
type Prediction struct {
	Latency     float64
	Cost        float64
	Reliability float64
	SuccessRate float64
	Confidence  float64
}

// Observation is one completed (features, outcome) training example.
type Observation struct {
	Features [FeatureDim]float64
	Targets  [TargetDim]float64 // latency, cost, reliability, successRate
}

// Ensemble is a bagged ensemble of MLPs, one vote per model weighted by
// its held-out validation performance (spec §4.C).
type Ensemble struct {
	opts config.PredictorOptions
	log  zerolog.Logger

	mu            sync.RWMutex
	models        []*mlp
	modelWeights  []float64
	featureRanges [FeatureDim]minMax
	targetRanges  [TargetDim]minMax
	trained       bool
}

// New constructs an untrained Ensemble. Predict returns the neutral
// stub until Train is called successfully.
func New(opts config.PredictorOptions) *Ensemble {
	return &Ensemble{opts: opts, log: log.WithComponent("predictor")}
}

// Train fits opts.EnsembleSize models on bootstrap samples of
// observations, weighting each by 1/(1+MSE) on a held-out slice.
func (e *Ensemble) Train(observations []Observation) error {
	if len(observations) < 10 {
		return nil // not enough data to train a meaningful ensemble yet.
	}

	featureRanges := computeFeatureRanges(observations)
	targetRanges := computeTargetRanges(observations)

	normed := make([]Observation, len(observations))
	for i, o := range observations {
		normed[i] = normalizeObservation(o, featureRanges, targetRanges)
	}

	size := e.opts.EnsembleSize
	if size <= 0 {
		size = 5
	}

	rng := rand.New(rand.NewSource(1))
	models := make([]*mlp, 0, size)
	weights := make([]float64, 0, size)

	for i := 0; i < size; i++ {
		train, holdout := bootstrapSplit(normed, rng)
		arch := archSet[rng.Intn(len(archSet))]
		model := newMLP(FeatureDim, arch, TargetDim, rng)

		const epochs = 150
		lr := 0.01
		for epoch := 0; epoch < epochs; epoch++ {
			for _, s := range train {
				model.trainStep(s.Features[:], s.Targets[:], lr)
			}
			lr *= 0.995
		}

		mse := meanSquaredError(model, holdout)
		weight := 1 / (1 + mse)

		models = append(models, model)
		weights = append(weights, weight)
	}

	e.mu.Lock()
	e.models = models
	e.modelWeights = weights
	e.featureRanges = featureRanges
	e.targetRanges = targetRanges
	e.trained = true
	e.mu.Unlock()

	e.log.Info().Int("models", len(models)).Int("observations", len(observations)).Msg("ensemble trained")
	return nil
}

// Predict estimates latency/cost/reliability/successRate for features.
// Returns the neutral stub (confidence = opts.StubConfidence) if the
// ensemble has not yet been trained.
func (e *Ensemble) Predict(features [FeatureDim]float64) Prediction {
	metrics.PredictorInferencesTotal.Inc()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.trained {
		stub := Prediction{Latency: 0.5, Cost: 0.5, Reliability: 0.5, SuccessRate: 0.5, Confidence: e.stubConfidence()}
		metrics.PredictorConfidence.Observe(stub.Confidence)
		return stub
	}

	normFeatures := make([]float64, FeatureDim)
	for i, v := range features {
		normFeatures[i] = e.featureRanges[i].normalize(v)
	}

	outputs := make([][]float64, len(e.models))
	totalWeight := 0.0
	for i, m := range e.models {
		outputs[i] = m.predict(normFeatures)
		totalWeight += e.modelWeights[i]
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	var mean [TargetDim]float64
	for i, out := range outputs {
		w := e.modelWeights[i]
		for k := 0; k < TargetDim; k++ {
			mean[k] += w * out[k]
		}
	}
	for k := range mean {
		mean[k] /= totalWeight
	}

	var varianceSum float64
	for i, out := range outputs {
		w := e.modelWeights[i]
		for k := 0; k < TargetDim; k++ {
			d := out[k] - mean[k]
			varianceSum += w * d * d
		}
	}
	weightedVariance := varianceSum / (totalWeight * TargetDim)
	confidence := 1 - math.Sqrt(weightedVariance)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	metrics.PredictorConfidence.Observe(confidence)

	return Prediction{
		Latency:     e.targetRanges[0].denormalize(mean[0]),
		Cost:        e.targetRanges[1].denormalize(mean[1]),
		Reliability: e.targetRanges[2].denormalize(mean[2]),
		SuccessRate: e.targetRanges[3].denormalize(mean[3]),
		Confidence:  confidence,
	}
}

func (e *Ensemble) stubConfidence() float64 {
	if e.opts.StubConfidence > 0 {
		return e.opts.StubConfidence
	}
	return 0.5
}

// CheckDrift computes the mean absolute error between predicted and the
// actually-observed outcome; if it exceeds opts.ModelUpdateThreshold it
// reports that a retrain should be enqueued (never run synchronously,
// per spec §4.C).
func (e *Ensemble) CheckDrift(predicted Prediction, actual Observation) bool {
	actualTargets := []float64{actual.Targets[0], actual.Targets[1], actual.Targets[2], actual.Targets[3]}
	predictedTargets := []float64{predicted.Latency, predicted.Cost, predicted.Reliability, predicted.SuccessRate}

	var sumAbs float64
	for i := range actualTargets {
		sumAbs += math.Abs(actualTargets[i] - predictedTargets[i])
	}
	meanAbs := sumAbs / float64(len(actualTargets))

	threshold := e.opts.ModelUpdateThreshold
	if threshold <= 0 {
		threshold = 0.2
	}
	shouldRetrain := meanAbs > threshold
	if shouldRetrain {
		metrics.PredictorRetrainsQueued.Inc()
	}
	return shouldRetrain
}

// IsTrained reports whether the ensemble has completed at least one
// training pass.
func (e *Ensemble) IsTrained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trained
}

func computeFeatureRanges(observations []Observation) [FeatureDim]minMax {
	var ranges [FeatureDim]minMax
	for i := range ranges {
		ranges[i] = minMax{min: math.Inf(1), max: math.Inf(-1)}
	}
	for _, o := range observations {
		for i, v := range o.Features {
			if v < ranges[i].min {
				ranges[i].min = v
			}
			if v > ranges[i].max {
				ranges[i].max = v
			}
		}
	}
	return ranges
}

func computeTargetRanges(observations []Observation) [TargetDim]minMax {
	var ranges [TargetDim]minMax
	for i := range ranges {
		ranges[i] = minMax{min: math.Inf(1), max: math.Inf(-1)}
	}
	for _, o := range observations {
		for i, v := range o.Targets {
			if v < ranges[i].min {
				ranges[i].min = v
			}
			if v > ranges[i].max {
				ranges[i].max = v
			}
		}
	}
	return ranges
}

func normalizeObservation(o Observation, featureRanges [FeatureDim]minMax, targetRanges [TargetDim]minMax) Observation {
	var n Observation
	for i, v := range o.Features {
		n.Features[i] = featureRanges[i].normalize(v)
	}
	for i, v := range o.Targets {
		n.Targets[i] = targetRanges[i].normalize(v)
	}
	return n
}

// bootstrapSplit draws a bootstrap sample (sampling with replacement,
// same size as observations) as the training set, and the out-of-bag
// observations as the held-out validation slice.
func bootstrapSplit(observations []Observation, rng *rand.Rand) (train, holdout []Observation) {
	n := len(observations)
	inBag := make(map[int]bool, n)
	train = make([]Observation, 0, n)
	for i := 0; i < n; i++ {
		idx := rng.Intn(n)
		inBag[idx] = true
		train = append(train, observations[idx])
	}
	for i := 0; i < n; i++ {
		if !inBag[i] {
			holdout = append(holdout, observations[i])
		}
	}
	if len(holdout) == 0 {
		holdout = train[:max(1, n/5)]
	}
	return train, holdout
}

func meanSquaredError(m *mlp, holdout []Observation) float64 {
	if len(holdout) == 0 {
		return 1
	}
	var sum float64
	for _, o := range holdout {
		out := m.predict(o.Features[:])
		for k := 0; k < TargetDim; k++ {
			d := out[k] - o.Targets[k]
			sum += d * d
		}
	}
	return sum / float64(len(holdout)*TargetDim)
}
