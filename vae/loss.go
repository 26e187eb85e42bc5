package vae

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// LossTerms breaks the training objective into its two components. All
// terms are summed over the batch and every dimension, not averaged.
type LossTerms struct {
	Total          float64
	Reconstruction float64
	KL             float64
}

// Loss computes the summed squared-error reconstruction loss plus the
// closed-form KL divergence of the diagonal Gaussian posterior against the
// unit Gaussian prior:
//
//	KL = -0.5 * sum(1 + 2*logsigma - mu^2 - sigma^2)
//
// See Kingma and Welling, Auto-Encoding Variational Bayes, appendix B.
func Loss(recon, x, mu, logsigma *tensor.Dense) (LossTerms, error) {
	reconData := recon.Data().([]float64)
	xData := x.Data().([]float64)
	if len(reconData) != len(xData) {
		return LossTerms{}, fmt.Errorf("vae loss: reconstruction has %d values, input has %d", len(reconData), len(xData))
	}
	muData := mu.Data().([]float64)
	lsData := logsigma.Data().([]float64)
	if len(muData) != len(lsData) {
		return LossTerms{}, fmt.Errorf("vae loss: mu has %d values, logsigma has %d", len(muData), len(lsData))
	}

	var recLoss float64
	for i := range reconData {
		diff := reconData[i] - xData[i]
		recLoss += diff * diff
	}

	var kl float64
	for i := range muData {
		kl += 1 + 2*lsData[i] - muData[i]*muData[i] - math.Exp(2*lsData[i])
	}
	kl *= -0.5

	return LossTerms{
		Total:          recLoss + kl,
		Reconstruction: recLoss,
		KL:             kl,
	}, nil
}

// LossGradients returns the gradients of the summed objective with respect
// to the reconstruction and the two encoder heads:
//
//	dRecon    = 2*(recon - x)
//	dMu       = mu
//	dLogSigma = sigma^2 - 1
func LossGradients(recon, x, mu, logsigma *tensor.Dense) (dRecon, dMu, dLogSigma *tensor.Dense) {
	dRecon = tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(recon.Shape()...))
	dMu = tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(mu.Shape()...))
	dLogSigma = tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(logsigma.Shape()...))

	reconData := recon.Data().([]float64)
	xData := x.Data().([]float64)
	dr := dRecon.Data().([]float64)
	for i := range dr {
		dr[i] = 2 * (reconData[i] - xData[i])
	}

	muData := mu.Data().([]float64)
	lsData := logsigma.Data().([]float64)
	dm := dMu.Data().([]float64)
	dl := dLogSigma.Data().([]float64)
	for i := range dm {
		dm[i] = muData[i]
		dl[i] = math.Exp(2*lsData[i]) - 1
	}

	return dRecon, dMu, dLogSigma
}
