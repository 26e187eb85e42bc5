package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Dense is a fully connected layer y = x W^T + b over (N, in) batches.
type Dense struct {
	inFeatures  int
	outFeatures int

	weight *Parameter // (outFeatures, inFeatures)
	bias   *Parameter // (outFeatures)

	input *tensor.Dense
}

// NewDense creates a fully connected layer with Xavier-uniform initialized
// weights and zero biases.
func NewDense(name string, inFeatures, outFeatures int, rng *rand.Rand) *Dense {
	l := &Dense{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".weight", outFeatures, inFeatures),
		bias:        NewParameter(name+".bias", outFeatures),
	}
	bound := math.Sqrt(6.0 / float64(inFeatures+outFeatures))
	fillUniform(l.weight.Data.Data().([]float64), bound, rng)
	return l
}

// Forward computes the affine transform for the batch.
func (l *Dense) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	shape := input.Shape()
	if len(shape) != 2 || shape[1] != l.inFeatures {
		return nil, fmt.Errorf("%s: expected (N,%d) input, got %v", l.weight.Name, l.inFeatures, shape)
	}
	n := shape[0]

	out := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(n, l.outFeatures))

	xMat := mat.NewDense(n, l.inFeatures, input.Data().([]float64))
	wMat := mat.NewDense(l.outFeatures, l.inFeatures, l.weight.Data.Data().([]float64))
	yMat := mat.NewDense(n, l.outFeatures, out.Data().([]float64))
	yMat.Mul(xMat, wMat.T())

	outData := out.Data().([]float64)
	biases := l.bias.Data.Data().([]float64)
	for i := 0; i < n; i++ {
		row := outData[i*l.outFeatures : (i+1)*l.outFeatures]
		for j := range row {
			row[j] += biases[j]
		}
	}

	l.input = input
	return out, nil
}

// Backward accumulates dW = dy^T x and db, and returns dx = dy W.
func (l *Dense) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: Backward called before Forward", l.weight.Name)
	}
	n := l.input.Shape()[0]
	gs := gradOutput.Shape()
	if len(gs) != 2 || gs[0] != n || gs[1] != l.outFeatures {
		return nil, fmt.Errorf("%s: gradient shape %v does not match output (%d,%d)", l.weight.Name, gs, n, l.outFeatures)
	}

	gradInput := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(n, l.inFeatures))

	dyMat := mat.NewDense(n, l.outFeatures, gradOutput.Data().([]float64))
	xMat := mat.NewDense(n, l.inFeatures, l.input.Data().([]float64))
	wMat := mat.NewDense(l.outFeatures, l.inFeatures, l.weight.Data.Data().([]float64))

	dwMat := mat.NewDense(l.outFeatures, l.inFeatures, l.weight.Grad.Data().([]float64))
	dwScratch := mat.NewDense(l.outFeatures, l.inFeatures, make([]float64, l.outFeatures*l.inFeatures))
	dwScratch.Mul(dyMat.T(), xMat)
	dwMat.Add(dwMat, dwScratch)

	dy := gradOutput.Data().([]float64)
	dBias := l.bias.Grad.Data().([]float64)
	for i := 0; i < n; i++ {
		for j := 0; j < l.outFeatures; j++ {
			dBias[j] += dy[i*l.outFeatures+j]
		}
	}

	dxMat := mat.NewDense(n, l.inFeatures, gradInput.Data().([]float64))
	dxMat.Mul(dyMat, wMat)

	return gradInput, nil
}

// Parameters returns the weight and bias.
func (l *Dense) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}
