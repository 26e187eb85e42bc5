package nn

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// ReLU is the elementwise rectifier max(0, x).
type ReLU struct {
	output *tensor.Dense
}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies the rectifier.
func (r *ReLU) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	out := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(input.Shape()...))
	in := input.Data().([]float64)
	outData := out.Data().([]float64)
	for i, v := range in {
		if v > 0 {
			outData[i] = v
		}
	}
	r.output = out
	return out, nil
}

// Backward masks the gradient where the activation was zero.
func (r *ReLU) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if r.output == nil {
		return nil, fmt.Errorf("relu: Backward called before Forward")
	}
	gradInput := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(gradOutput.Shape()...))
	dy := gradOutput.Data().([]float64)
	y := r.output.Data().([]float64)
	dx := gradInput.Data().([]float64)
	for i := range dy {
		if y[i] > 0 {
			dx[i] = dy[i]
		}
	}
	return gradInput, nil
}

// Parameters returns nil; ReLU has no trainable state.
func (r *ReLU) Parameters() []*Parameter { return nil }

// Sigmoid is the elementwise logistic function 1/(1+e^-x).
type Sigmoid struct {
	output *tensor.Dense
}

// NewSigmoid creates a Sigmoid activation.
func NewSigmoid() *Sigmoid {
	return &Sigmoid{}
}

// Forward applies the logistic function.
func (s *Sigmoid) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	out := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(input.Shape()...))
	in := input.Data().([]float64)
	outData := out.Data().([]float64)
	for i, v := range in {
		outData[i] = 1.0 / (1.0 + math.Exp(-v))
	}
	s.output = out
	return out, nil
}

// Backward scales the gradient by y(1-y) using the cached activation.
func (s *Sigmoid) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if s.output == nil {
		return nil, fmt.Errorf("sigmoid: Backward called before Forward")
	}
	gradInput := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(gradOutput.Shape()...))
	dy := gradOutput.Data().([]float64)
	y := s.output.Data().([]float64)
	dx := gradInput.Data().([]float64)
	for i := range dy {
		dx[i] = dy[i] * y[i] * (1.0 - y[i])
	}
	return gradInput, nil
}

// Parameters returns nil; Sigmoid has no trainable state.
func (s *Sigmoid) Parameters() []*Parameter { return nil }
