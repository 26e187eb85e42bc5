package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Conv2D is a strided, valid-padding convolution over NCHW batches.
// The weight is stored flattened as (outChannels, inChannels*kernel*kernel)
// so the forward pass is a GEMM against the im2col matrix.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernel      int
	stride      int

	weight *Parameter
	bias   *Parameter

	input *tensor.Dense // cached by Forward for the backward pass
}

// NewConv2D creates a convolution layer with Xavier-uniform initialized
// weights and zero biases.
func NewConv2D(name string, inChannels, outChannels, kernel, stride int, rng *rand.Rand) *Conv2D {
	patch := inChannels * kernel * kernel
	c := &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernel:      kernel,
		stride:      stride,
		weight:      NewParameter(name+".weight", outChannels, patch),
		bias:        NewParameter(name+".bias", outChannels),
	}
	bound := math.Sqrt(6.0 / float64(patch+outChannels*kernel*kernel))
	fillUniform(c.weight.Data.Data().([]float64), bound, rng)
	return c
}

// Forward computes y = W * im2col(x) + b for every sample in the batch.
func (c *Conv2D) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != c.inChannels {
		return nil, fmt.Errorf("%s: expected (N,%d,H,W) input, got %v", c.weight.Name, c.inChannels, shape)
	}
	n, _, h, w := shapeDims(shape)
	if h < c.kernel || w < c.kernel {
		return nil, fmt.Errorf("%s: input %dx%d smaller than kernel %d", c.weight.Name, h, w, c.kernel)
	}

	outH := outDim(h, c.kernel, c.stride)
	outW := outDim(w, c.kernel, c.stride)
	out := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(n, c.outChannels, outH, outW))

	patch := c.inChannels * c.kernel * c.kernel
	cols := outH * outW
	sampleIn := c.inChannels * h * w
	sampleOut := c.outChannels * cols

	in := input.Data().([]float64)
	outData := out.Data().([]float64)
	biases := c.bias.Data.Data().([]float64)
	wMat := mat.NewDense(c.outChannels, patch, c.weight.Data.Data().([]float64))

	colBuf := make([]float64, patch*cols)
	for i := 0; i < n; i++ {
		im2col(in[i*sampleIn:(i+1)*sampleIn], c.inChannels, h, w, c.kernel, c.stride, colBuf)
		colMat := mat.NewDense(patch, cols, colBuf)
		outMat := mat.NewDense(c.outChannels, cols, outData[i*sampleOut:(i+1)*sampleOut])
		outMat.Mul(wMat, colMat)
		for ch := 0; ch < c.outChannels; ch++ {
			row := outData[i*sampleOut+ch*cols : i*sampleOut+(ch+1)*cols]
			floats.AddConst(biases[ch], row)
		}
	}

	c.input = input
	return out, nil
}

// Backward accumulates dW and db and returns the gradient with respect to
// the layer input. The im2col matrices are recomputed from the cached
// input rather than held across the whole forward pass.
func (c *Conv2D) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if c.input == nil {
		return nil, fmt.Errorf("%s: Backward called before Forward", c.weight.Name)
	}
	shape := c.input.Shape()
	n, _, h, w := shapeDims(shape)
	outH := outDim(h, c.kernel, c.stride)
	outW := outDim(w, c.kernel, c.stride)

	gs := gradOutput.Shape()
	if len(gs) != 4 || gs[0] != n || gs[1] != c.outChannels || gs[2] != outH || gs[3] != outW {
		return nil, fmt.Errorf("%s: gradient shape %v does not match output (%d,%d,%d,%d)",
			c.weight.Name, gs, n, c.outChannels, outH, outW)
	}

	patch := c.inChannels * c.kernel * c.kernel
	cols := outH * outW
	sampleIn := c.inChannels * h * w
	sampleOut := c.outChannels * cols

	gradInput := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(n, c.inChannels, h, w))

	in := c.input.Data().([]float64)
	dy := gradOutput.Data().([]float64)
	dx := gradInput.Data().([]float64)
	dBias := c.bias.Grad.Data().([]float64)

	wMat := mat.NewDense(c.outChannels, patch, c.weight.Data.Data().([]float64))
	dwMat := mat.NewDense(c.outChannels, patch, c.weight.Grad.Data().([]float64))
	dwScratch := mat.NewDense(c.outChannels, patch, make([]float64, c.outChannels*patch))

	colBuf := make([]float64, patch*cols)
	dcolBuf := make([]float64, patch*cols)
	for i := 0; i < n; i++ {
		im2col(in[i*sampleIn:(i+1)*sampleIn], c.inChannels, h, w, c.kernel, c.stride, colBuf)
		colMat := mat.NewDense(patch, cols, colBuf)
		dyMat := mat.NewDense(c.outChannels, cols, dy[i*sampleOut:(i+1)*sampleOut])

		dwScratch.Mul(dyMat, colMat.T())
		dwMat.Add(dwMat, dwScratch)

		for ch := 0; ch < c.outChannels; ch++ {
			dBias[ch] += floats.Sum(dy[i*sampleOut+ch*cols : i*sampleOut+(ch+1)*cols])
		}

		dcolMat := mat.NewDense(patch, cols, dcolBuf)
		dcolMat.Mul(wMat.T(), dyMat)
		col2im(dcolBuf, c.inChannels, h, w, c.kernel, c.stride, dx[i*sampleIn:(i+1)*sampleIn])
	}

	return gradInput, nil
}

// Parameters returns the weight and bias.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// OutputSize returns the spatial output size for a square input.
func (c *Conv2D) OutputSize(in int) int {
	return outDim(in, c.kernel, c.stride)
}
