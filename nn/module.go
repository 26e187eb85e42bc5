// Package nn provides the small layer kit the world-models VAE is built
// from: strided convolutions, transposed convolutions, dense layers and
// elementwise activations, each with an explicit forward and backward pass.
// All tensors are NCHW float64 and live in gorgonia.org/tensor containers;
// the matrix products behind the convolutions go through gonum.
package nn

import (
	"gorgonia.org/tensor"
)

// Module is implemented by every layer. Forward caches whatever state the
// matching Backward call needs; Backward consumes the gradient with respect
// to the layer output, accumulates parameter gradients, and returns the
// gradient with respect to the layer input. A Backward without a preceding
// Forward is an error.
type Module interface {
	Forward(input *tensor.Dense) (*tensor.Dense, error)
	Backward(gradOutput *tensor.Dense) (*tensor.Dense, error)
	Parameters() []*Parameter
}

// shapeDims unpacks an NCHW shape.
func shapeDims(s tensor.Shape) (n, c, h, w int) {
	return s[0], s[1], s[2], s[3]
}
