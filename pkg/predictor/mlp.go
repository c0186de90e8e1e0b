package predictor

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// archSet is the fixed set of hidden-layer shapes models are drawn from,
// per spec §4.C ("a random architecture drawn from a fixed set"),
// centered on the ~25→{64,32,16}→4 shape the spec names explicitly.
var archSet = [][]int{
	{64, 32, 16},
	{48, 24, 12},
	{32, 16, 8},
	{64, 32},
	{96, 48, 24, 12},
}

// mlp is a small fully-connected feedforward network: ReLU hidden
// layers, linear output layer (the targets are continuous).
type mlp struct {
	weights []*mat.Dense // weights[l]: (out x in)
	biases  []*mat.Dense // biases[l]: (out x 1)
}

func newMLP(inputDim int, hidden []int, outputDim int, rng *rand.Rand) *mlp {
	dims := append([]int{inputDim}, hidden...)
	dims = append(dims, outputDim)

	m := &mlp{}
	for l := 0; l < len(dims)-1; l++ {
		in, out := dims[l], dims[l+1]
		scale := math.Sqrt(2.0 / float64(in))
		w := mat.NewDense(out, in, nil)
		for i := 0; i < out; i++ {
			for j := 0; j < in; j++ {
				w.Set(i, j, rng.NormFloat64()*scale)
			}
		}
		b := mat.NewDense(out, 1, nil)
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, b)
	}
	return m
}

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func reluDeriv(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// forward runs input through the network, returning the output vector
// and the per-layer pre-activations/activations needed for backprop.
func (m *mlp) forward(input []float64) (output []float64, preActs, acts []*mat.Dense) {
	a := mat.NewDense(len(input), 1, append([]float64(nil), input...))
	acts = append(acts, a)

	for l, w := range m.weights {
		rows, _ := w.Dims()
		z := mat.NewDense(rows, 1, nil)
		z.Mul(w, a)
		z.Add(z, m.biases[l])
		preActs = append(preActs, z)

		isOutput := l == len(m.weights)-1
		next := mat.NewDense(rows, 1, nil)
		for i := 0; i < rows; i++ {
			v := z.At(i, 0)
			if !isOutput {
				v = relu(v)
			}
			next.Set(i, 0, v)
		}
		acts = append(acts, next)
		a = next
	}

	out := acts[len(acts)-1]
	r, _ := out.Dims()
	output = make([]float64, r)
	for i := 0; i < r; i++ {
		output[i] = out.At(i, 0)
	}
	return output, preActs, acts
}

// predict returns the network's output for input without retaining
// intermediate state.
func (m *mlp) predict(input []float64) []float64 {
	out, _, _ := m.forward(input)
	return out
}

// trainStep performs one online-SGD backprop update for a single
// (input, target) pair using mean-squared-error loss, returning the
// per-sample loss before the update.
func (m *mlp) trainStep(input, target []float64, lr float64) float64 {
	output, preActs, acts := m.forward(input)

	loss := 0.0
	for i, y := range target {
		d := output[i] - y
		loss += d * d
	}
	loss /= float64(len(target))

	// dL/dz for the output layer (linear activation => dz == da).
	outRows := len(output)
	dz := mat.NewDense(outRows, 1, nil)
	for i := range output {
		dz.Set(i, 0, 2*(output[i]-target[i])/float64(outRows))
	}

	for l := len(m.weights) - 1; l >= 0; l-- {
		aPrev := acts[l] // activation feeding into layer l
		rows, cols := m.weights[l].Dims()

		dw := mat.NewDense(rows, cols, nil)
		dw.Mul(dz, aPrev.T())
		dzCur := dz // layer l's gradient; dz moves on to layer l-1 below

		if l > 0 {
			wT := m.weights[l].T()
			dzPrev := mat.NewDense(cols, 1, nil)
			dzPrev.Mul(wT, dz)
			prevPre := preActs[l-1]
			for i := 0; i < cols; i++ {
				dzPrev.Set(i, 0, dzPrev.At(i, 0)*reluDeriv(prevPre.At(i, 0)))
			}
			dz = dzPrev
		}

		w := m.weights[l]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				w.Set(i, j, w.At(i, j)-lr*dw.At(i, j))
			}
		}
		b := m.biases[l]
		for i := 0; i < rows; i++ {
			b.Set(i, 0, b.At(i, 0)-lr*dzCur.At(i, 0))
		}
	}
	return loss
}
