package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// ConvTranspose2D is a strided transposed convolution (deconvolution) over
// NCHW batches, the adjoint of Conv2D with the same geometry: a spatial
// input of size s grows to (s-1)*stride + kernel. The weight is stored
// flattened as (inChannels, outChannels*kernel*kernel).
type ConvTranspose2D struct {
	inChannels  int
	outChannels int
	kernel      int
	stride      int

	weight *Parameter
	bias   *Parameter

	input *tensor.Dense
}

// NewConvTranspose2D creates a transposed convolution layer with
// Xavier-uniform initialized weights and zero biases.
func NewConvTranspose2D(name string, inChannels, outChannels, kernel, stride int, rng *rand.Rand) *ConvTranspose2D {
	patch := outChannels * kernel * kernel
	d := &ConvTranspose2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernel:      kernel,
		stride:      stride,
		weight:      NewParameter(name+".weight", inChannels, patch),
		bias:        NewParameter(name+".bias", outChannels),
	}
	bound := math.Sqrt(6.0 / float64(inChannels*kernel*kernel+patch))
	fillUniform(d.weight.Data.Data().([]float64), bound, rng)
	return d
}

// Forward computes y = col2im(W^T * x) + b for every sample. The column
// matrix has one entry per (output channel, kernel offset, input position);
// col2im scatter-adds the overlapping kernel footprints.
func (d *ConvTranspose2D) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != d.inChannels {
		return nil, fmt.Errorf("%s: expected (N,%d,H,W) input, got %v", d.weight.Name, d.inChannels, shape)
	}
	n, _, inH, inW := shapeDims(shape)
	outH := (inH-1)*d.stride + d.kernel
	outW := (inW-1)*d.stride + d.kernel

	out := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(n, d.outChannels, outH, outW))

	patch := d.outChannels * d.kernel * d.kernel
	cols := inH * inW
	sampleIn := d.inChannels * cols
	sampleOut := d.outChannels * outH * outW

	in := input.Data().([]float64)
	outData := out.Data().([]float64)
	biases := d.bias.Data.Data().([]float64)
	wMat := mat.NewDense(d.inChannels, patch, d.weight.Data.Data().([]float64))

	colBuf := make([]float64, patch*cols)
	for i := 0; i < n; i++ {
		xMat := mat.NewDense(d.inChannels, cols, in[i*sampleIn:(i+1)*sampleIn])
		colMat := mat.NewDense(patch, cols, colBuf)
		colMat.Mul(wMat.T(), xMat)

		sample := outData[i*sampleOut : (i+1)*sampleOut]
		col2im(colBuf, d.outChannels, outH, outW, d.kernel, d.stride, sample)
		for ch := 0; ch < d.outChannels; ch++ {
			floats.AddConst(biases[ch], sample[ch*outH*outW:(ch+1)*outH*outW])
		}
	}

	d.input = input
	return out, nil
}

// Backward accumulates dW and db and returns the gradient with respect to
// the layer input, using im2col on the output gradient (the adjoint of the
// forward scatter).
func (d *ConvTranspose2D) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if d.input == nil {
		return nil, fmt.Errorf("%s: Backward called before Forward", d.weight.Name)
	}
	shape := d.input.Shape()
	n, _, inH, inW := shapeDims(shape)
	outH := (inH-1)*d.stride + d.kernel
	outW := (inW-1)*d.stride + d.kernel

	gs := gradOutput.Shape()
	if len(gs) != 4 || gs[0] != n || gs[1] != d.outChannels || gs[2] != outH || gs[3] != outW {
		return nil, fmt.Errorf("%s: gradient shape %v does not match output (%d,%d,%d,%d)",
			d.weight.Name, gs, n, d.outChannels, outH, outW)
	}

	patch := d.outChannels * d.kernel * d.kernel
	cols := inH * inW
	sampleIn := d.inChannels * cols
	sampleOut := d.outChannels * outH * outW

	gradInput := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(n, d.inChannels, inH, inW))

	in := d.input.Data().([]float64)
	dy := gradOutput.Data().([]float64)
	dx := gradInput.Data().([]float64)
	dBias := d.bias.Grad.Data().([]float64)

	wMat := mat.NewDense(d.inChannels, patch, d.weight.Data.Data().([]float64))
	dwMat := mat.NewDense(d.inChannels, patch, d.weight.Grad.Data().([]float64))
	dwScratch := mat.NewDense(d.inChannels, patch, make([]float64, d.inChannels*patch))

	dcolBuf := make([]float64, patch*cols)
	for i := 0; i < n; i++ {
		im2col(dy[i*sampleOut:(i+1)*sampleOut], d.outChannels, outH, outW, d.kernel, d.stride, dcolBuf)
		dcolMat := mat.NewDense(patch, cols, dcolBuf)

		dxMat := mat.NewDense(d.inChannels, cols, dx[i*sampleIn:(i+1)*sampleIn])
		dxMat.Mul(wMat, dcolMat)

		xMat := mat.NewDense(d.inChannels, cols, in[i*sampleIn:(i+1)*sampleIn])
		dwScratch.Mul(xMat, dcolMat.T())
		dwMat.Add(dwMat, dwScratch)

		for ch := 0; ch < d.outChannels; ch++ {
			dBias[ch] += floats.Sum(dy[i*sampleOut+ch*outH*outW : i*sampleOut+(ch+1)*outH*outW])
		}
	}

	return gradInput, nil
}

// Parameters returns the weight and bias.
func (d *ConvTranspose2D) Parameters() []*Parameter {
	return []*Parameter{d.weight, d.bias}
}

// OutputSize returns the spatial output size for a square input.
func (d *ConvTranspose2D) OutputSize(in int) int {
	return (in-1)*d.stride + d.kernel
}
