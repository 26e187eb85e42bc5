package nn

import (
	"math/rand"

	"gorgonia.org/tensor"
)

// Parameter is a trainable tensor paired with its accumulated gradient.
// Data and Grad always share the same shape.
type Parameter struct {
	Name string
	Data *tensor.Dense
	Grad *tensor.Dense
}

// NewParameter creates a zero-initialized parameter with the given shape.
func NewParameter(name string, shape ...int) *Parameter {
	return &Parameter{
		Name: name,
		Data: tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...)),
		Grad: tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...)),
	}
}

// ZeroGrad clears the accumulated gradient in place.
func (p *Parameter) ZeroGrad() {
	grad := p.Grad.Data().([]float64)
	for i := range grad {
		grad[i] = 0
	}
}

// NumElements returns the number of scalar values in the parameter.
func (p *Parameter) NumElements() int {
	return len(p.Data.Data().([]float64))
}

// fillUniform initializes values from U(-bound, bound).
func fillUniform(data []float64, bound float64, rng *rand.Rand) {
	for i := range data {
		data[i] = (rng.Float64()*2.0 - 1.0) * bound
	}
}
