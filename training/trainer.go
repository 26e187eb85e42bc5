// Package training runs the VAE optimization loop: a gradient phase over
// the training split and an evaluation phase over the held-out split each
// epoch, followed by checkpointing and qualitative sampling.
package training

import (
	"log"
	"os"
	"path/filepath"

	"github.com/drivesim/worldmodels/checkpoints"
	"github.com/drivesim/worldmodels/optimizer"
	"github.com/drivesim/worldmodels/rollout"
	"github.com/drivesim/worldmodels/vae"
)

// Config collects the run parameters of a training session.
type Config struct {
	Epochs       int
	BatchSize    int
	LogDir       string
	NoReload     bool
	LearningRate float64

	// LogEvery is the number of training batches between progress lines.
	LogEvery int
}

// BufferedDataset is the dataset surface the trainer needs: sample access
// plus the between-epoch buffer reload.
type BufferedDataset interface {
	rollout.Dataset
	LoadBuffer() error
}

// Trainer owns the model, optimizer, data and checkpointing for one run.
type Trainer struct {
	model *vae.VAE
	opt   optimizer.Optimizer

	trainSet BufferedDataset
	testSet  BufferedDataset

	trainLoader *rollout.DataLoader
	testLoader  *rollout.DataLoader

	manager *checkpoints.Manager
	sampler *Sampler

	cfg Config
}

// NewTrainer wires a trainer together and prepares the {logdir}/vae run
// directory (checkpoints plus a samples/ subdirectory).
func NewTrainer(model *vae.VAE, opt optimizer.Optimizer,
	trainSet, testSet BufferedDataset,
	trainLoader, testLoader *rollout.DataLoader,
	sampler *Sampler, cfg Config) (*Trainer, error) {

	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 20
	}

	manager, err := checkpoints.NewManager(filepath.Join(cfg.LogDir, "vae"), checkpoints.FormatGob)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		model:       model,
		opt:         opt,
		trainSet:    trainSet,
		testSet:     testSet,
		trainLoader: trainLoader,
		testLoader:  testLoader,
		manager:     manager,
		sampler:     sampler,
		cfg:         cfg,
	}, nil
}

// Manager exposes the checkpoint manager, mainly for tests.
func (t *Trainer) Manager() *checkpoints.Manager { return t.manager }

// Reload restores model and optimizer state from the best checkpoint if
// one exists and reloading was not disabled. A missing checkpoint is not
// an error; training simply starts fresh.
func (t *Trainer) Reload() error {
	if t.cfg.NoReload {
		return nil
	}

	ckpt, err := t.manager.LoadBest()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	log.Printf("Reloading model at epoch %d, with test error %g",
		ckpt.TrainingState.Epoch, ckpt.TrainingState.Precision)

	if err := checkpoints.LoadWeights(ckpt.Weights, t.model.Parameters()); err != nil {
		return err
	}
	if ckpt.OptimizerState != nil {
		if err := t.opt.RestoreState(ckpt.OptimizerState); err != nil {
			return err
		}
	}
	return nil
}

// TrainEpoch runs one gradient phase over the training split and returns
// the average per-sample loss.
func (t *Trainer) TrainEpoch(epoch int) (float64, error) {
	if err := t.trainSet.LoadBuffer(); err != nil {
		return 0, err
	}
	t.trainLoader.Reset()

	var meter Meter
	total := t.trainLoader.NumSamples()
	batchIdx := 0
	for t.trainLoader.HasNext() {
		batch, err := t.trainLoader.Next()
		if err != nil {
			return 0, err
		}
		if batch == nil {
			break
		}
		batchSize := batch.Shape()[0]

		t.model.ZeroGrad()
		recon, mu, logsigma, err := t.model.Forward(batch)
		if err != nil {
			return 0, err
		}
		terms, err := vae.Loss(recon, batch, mu, logsigma)
		if err != nil {
			return 0, err
		}

		dRecon, dMu, dLogSigma := vae.LossGradients(recon, batch, mu, logsigma)
		if err := t.model.Backward(dRecon, dMu, dLogSigma); err != nil {
			return 0, err
		}
		if err := t.opt.Step(t.model.Parameters()); err != nil {
			return 0, err
		}

		meter.Add(terms.Total, batchSize)
		if batchIdx%t.cfg.LogEvery == 0 {
			log.Printf("Train Epoch: %d [%d/%d (%.0f%%)]\tLoss: %.6f",
				epoch, meter.Count(), total,
				100*float64(meter.Count())/float64(total),
				terms.Total/float64(batchSize))
		}
		batchIdx++
	}

	avg := meter.Average()
	log.Printf("====> Epoch: %d Average loss: %.4f", epoch, avg)
	return avg, nil
}

// TestEpoch runs one forward-only phase over the held-out split and
// returns the average per-sample loss.
func (t *Trainer) TestEpoch() (float64, error) {
	if err := t.testSet.LoadBuffer(); err != nil {
		return 0, err
	}
	t.testLoader.Reset()

	var meter Meter
	for t.testLoader.HasNext() {
		batch, err := t.testLoader.Next()
		if err != nil {
			return 0, err
		}
		if batch == nil {
			break
		}

		recon, mu, logsigma, err := t.model.Forward(batch)
		if err != nil {
			return 0, err
		}
		terms, err := vae.Loss(recon, batch, mu, logsigma)
		if err != nil {
			return 0, err
		}
		meter.Add(terms.Total, batch.Shape()[0])
	}

	avg := meter.Average()
	log.Printf("====> Test set loss: %.4f", avg)
	return avg, nil
}

// Run executes the configured number of epochs. Each epoch trains, tests,
// checkpoints (rolling plus best), and writes a sample grid.
func (t *Trainer) Run() error {
	if err := t.Reload(); err != nil {
		return err
	}

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if _, err := t.TrainEpoch(epoch); err != nil {
			return err
		}
		testLoss, err := t.TestEpoch()
		if err != nil {
			return err
		}

		ckpt := &checkpoints.Checkpoint{
			Weights: checkpoints.ExtractWeights(t.model.Parameters()),
			TrainingState: checkpoints.TrainingState{
				Epoch:        epoch,
				Precision:    testLoss,
				LearningRate: t.cfg.LearningRate,
			},
			OptimizerState: t.opt.ExportState(),
		}
		isBest, err := t.manager.Save(ckpt)
		if err != nil {
			return err
		}
		if isBest {
			log.Printf("====> New best model with test loss %.4f", testLoss)
		}

		if t.sampler != nil {
			if err := t.sampler.Sample(t.model, epoch); err != nil {
				return err
			}
		}
	}
	return nil
}
