// Package vae implements the world-models variational autoencoder: a
// convolutional encoder from 3x64x64 frames to the mean and log standard
// deviation of a 32-dim diagonal Gaussian, and a deconvolutional decoder
// from latent vectors back to image space.
package vae

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/tensor"

	"github.com/drivesim/worldmodels/nn"
)

// ImageSize is the spatial resolution the model consumes and produces.
const ImageSize = 64

// Encoder maps an (N,C,64,64) batch to the latent mean and log-sigma,
// both (N,latentSize).
type Encoder struct {
	conv1, conv2, conv3, conv4 *nn.Conv2D
	relu1, relu2, relu3, relu4 *nn.ReLU
	fcMu, fcLogSigma           *nn.Dense

	featShape tensor.Shape // conv trunk output shape, cached for Backward
}

// NewEncoder builds the four-layer conv trunk and the two latent heads.
func NewEncoder(imageChannels, latentSize int, rng *rand.Rand) *Encoder {
	return &Encoder{
		conv1:      nn.NewConv2D("encoder.conv1", imageChannels, 32, 4, 2, rng),
		conv2:      nn.NewConv2D("encoder.conv2", 32, 64, 4, 2, rng),
		conv3:      nn.NewConv2D("encoder.conv3", 64, 128, 4, 2, rng),
		conv4:      nn.NewConv2D("encoder.conv4", 128, 256, 4, 2, rng),
		relu1:      nn.NewReLU(),
		relu2:      nn.NewReLU(),
		relu3:      nn.NewReLU(),
		relu4:      nn.NewReLU(),
		fcMu:       nn.NewDense("encoder.fc_mu", 2*2*256, latentSize, rng),
		fcLogSigma: nn.NewDense("encoder.fc_logsigma", 2*2*256, latentSize, rng),
	}
}

// Forward runs the conv trunk and both heads.
func (e *Encoder) Forward(x *tensor.Dense) (mu, logsigma *tensor.Dense, err error) {
	h := x
	trunk := []nn.Module{e.conv1, e.relu1, e.conv2, e.relu2, e.conv3, e.relu3, e.conv4, e.relu4}
	for _, m := range trunk {
		if h, err = m.Forward(h); err != nil {
			return nil, nil, err
		}
	}

	e.featShape = h.Shape()
	n := e.featShape[0]
	flat := tensor.New(tensor.WithShape(n, e.featShape[1]*e.featShape[2]*e.featShape[3]),
		tensor.WithBacking(h.Data().([]float64)))

	if mu, err = e.fcMu.Forward(flat); err != nil {
		return nil, nil, err
	}
	if logsigma, err = e.fcLogSigma.Forward(flat); err != nil {
		return nil, nil, err
	}
	return mu, logsigma, nil
}

// Backward routes the two head gradients through the shared trunk and
// returns the gradient with respect to the input batch.
func (e *Encoder) Backward(dMu, dLogSigma *tensor.Dense) (*tensor.Dense, error) {
	if e.featShape == nil {
		return nil, fmt.Errorf("encoder: Backward called before Forward")
	}

	dFlatMu, err := e.fcMu.Backward(dMu)
	if err != nil {
		return nil, err
	}
	dFlatSigma, err := e.fcLogSigma.Backward(dLogSigma)
	if err != nil {
		return nil, err
	}

	a := dFlatMu.Data().([]float64)
	b := dFlatSigma.Data().([]float64)
	for i := range a {
		a[i] += b[i]
	}

	grad := tensor.New(tensor.WithShape(e.featShape...), tensor.WithBacking(a))
	trunk := []nn.Module{e.relu4, e.conv4, e.relu3, e.conv3, e.relu2, e.conv2, e.relu1, e.conv1}
	for _, m := range trunk {
		if grad, err = m.Backward(grad); err != nil {
			return nil, err
		}
	}
	return grad, nil
}

// Parameters returns all trainable encoder parameters.
func (e *Encoder) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, m := range []nn.Module{e.conv1, e.conv2, e.conv3, e.conv4, e.fcMu, e.fcLogSigma} {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Decoder maps an (N,latentSize) batch of latent vectors back to
// (N,C,64,64) images in [0,1].
type Decoder struct {
	fc      *nn.Dense
	modules []nn.Module // deconv/activation chain after the dense layer
}

// NewDecoder builds the dense projection and the four-layer deconv chain.
func NewDecoder(imageChannels, latentSize int, rng *rand.Rand) *Decoder {
	return &Decoder{
		fc: nn.NewDense("decoder.fc", latentSize, 1024, rng),
		modules: []nn.Module{
			nn.NewConvTranspose2D("decoder.deconv1", 1024, 128, 5, 2, rng),
			nn.NewReLU(),
			nn.NewConvTranspose2D("decoder.deconv2", 128, 64, 5, 2, rng),
			nn.NewReLU(),
			nn.NewConvTranspose2D("decoder.deconv3", 64, 32, 6, 2, rng),
			nn.NewReLU(),
			nn.NewConvTranspose2D("decoder.deconv4", 32, imageChannels, 6, 2, rng),
			nn.NewSigmoid(),
		},
	}
}

// Forward decodes a latent batch into images.
func (d *Decoder) Forward(z *tensor.Dense) (*tensor.Dense, error) {
	h, err := d.fc.Forward(z)
	if err != nil {
		return nil, err
	}

	n := h.Shape()[0]
	out := tensor.New(tensor.WithShape(n, 1024, 1, 1), tensor.WithBacking(h.Data().([]float64)))
	for _, m := range d.modules {
		if out, err = m.Forward(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Backward returns the gradient with respect to the latent batch.
func (d *Decoder) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	grad := gradOutput
	var err error
	for i := len(d.modules) - 1; i >= 0; i-- {
		if grad, err = d.modules[i].Backward(grad); err != nil {
			return nil, err
		}
	}

	n := grad.Shape()[0]
	flat := tensor.New(tensor.WithShape(n, 1024), tensor.WithBacking(grad.Data().([]float64)))
	return d.fc.Backward(flat)
}

// Parameters returns all trainable decoder parameters.
func (d *Decoder) Parameters() []*nn.Parameter {
	params := d.fc.Parameters()
	for _, m := range d.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// VAE composes the encoder and decoder with the reparameterization trick
// z = mu + eps*exp(logsigma), eps ~ N(0,1).
type VAE struct {
	Encoder *Encoder
	Decoder *Decoder

	latentSize int
	rng        *rand.Rand

	// cached by Forward for the backward pass
	mu, logsigma, eps *tensor.Dense
}

// New creates a VAE for images with the given channel count and latent
// dimensionality. The rng drives both weight init and noise sampling.
func New(imageChannels, latentSize int, rng *rand.Rand) *VAE {
	return &VAE{
		Encoder:    NewEncoder(imageChannels, latentSize, rng),
		Decoder:    NewDecoder(imageChannels, latentSize, rng),
		latentSize: latentSize,
		rng:        rng,
	}
}

// LatentSize returns the latent dimensionality.
func (v *VAE) LatentSize() int { return v.latentSize }

// Forward encodes the batch, samples a latent code, and decodes it.
func (v *VAE) Forward(x *tensor.Dense) (recon, mu, logsigma *tensor.Dense, err error) {
	mu, logsigma, err = v.Encoder.Forward(x)
	if err != nil {
		return nil, nil, nil, err
	}

	muData := mu.Data().([]float64)
	lsData := logsigma.Data().([]float64)

	eps := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(mu.Shape()...))
	z := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(mu.Shape()...))
	epsData := eps.Data().([]float64)
	zData := z.Data().([]float64)
	for i := range zData {
		epsData[i] = v.rng.NormFloat64()
		zData[i] = muData[i] + epsData[i]*math.Exp(lsData[i])
	}

	recon, err = v.Decoder.Forward(z)
	if err != nil {
		return nil, nil, nil, err
	}

	v.mu, v.logsigma, v.eps = mu, logsigma, eps
	return recon, mu, logsigma, nil
}

// Backward propagates the three loss gradients through the decoder, the
// reparameterization, and the encoder, accumulating parameter gradients.
func (v *VAE) Backward(dRecon, dMu, dLogSigma *tensor.Dense) error {
	if v.eps == nil {
		return fmt.Errorf("vae: Backward called before Forward")
	}

	dz, err := v.Decoder.Backward(dRecon)
	if err != nil {
		return err
	}

	// z = mu + eps*exp(logsigma): the pathwise gradient adds dz to the mu
	// head and dz*eps*exp(logsigma) to the logsigma head.
	dzData := dz.Data().([]float64)
	epsData := v.eps.Data().([]float64)
	lsData := v.logsigma.Data().([]float64)
	dMuData := dMu.Data().([]float64)
	dLsData := dLogSigma.Data().([]float64)

	dMuTotal := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(dMu.Shape()...))
	dLsTotal := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(dLogSigma.Shape()...))
	a := dMuTotal.Data().([]float64)
	b := dLsTotal.Data().([]float64)
	for i := range dzData {
		a[i] = dMuData[i] + dzData[i]
		b[i] = dLsData[i] + dzData[i]*epsData[i]*math.Exp(lsData[i])
	}

	_, err = v.Encoder.Backward(dMuTotal, dLsTotal)
	return err
}

// Decode runs the decoder alone, for sampling outside the training step.
func (v *VAE) Decode(z *tensor.Dense) (*tensor.Dense, error) {
	return v.Decoder.Forward(z)
}

// Parameters returns encoder then decoder parameters in a stable order.
func (v *VAE) Parameters() []*nn.Parameter {
	return append(v.Encoder.Parameters(), v.Decoder.Parameters()...)
}

// ZeroGrad clears every parameter gradient.
func (v *VAE) ZeroGrad() {
	for _, p := range v.Parameters() {
		p.ZeroGrad()
	}
}
