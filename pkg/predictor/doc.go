/*
Package predictor implements Helmsman's Performance Predictor (spec
§4.C): a bagged ensemble of small multi-layer perceptrons trained on
historical placement outcomes, used by the optimizer to estimate latency,
cost, reliability, and success rate for a candidate (node, task) pairing
before it is ever tried.

cuemby-warren has no machine-learning code to ground this on, so the
numeric core is built on gonum.org/v1/gonum/mat (gonum is present
in the retrieved pack's KhryptorGraphics-OllamaMax go.mod) while the
surrounding shape — package layout, the historical-observation store —
still follows the teacher: the store in history.go is bucket-per-entity
BoltDB, the same convention as cuemby-warren's pkg/storage/boltdb.go,
just with one bucket ("observations") instead of nine.

The predictor never blocks placement: until an ensemble has been
trained, Predict returns a neutral stub with confidence fixed at
config.PredictorOptions.StubConfidence.
*/
package predictor
