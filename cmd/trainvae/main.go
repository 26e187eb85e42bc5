// Command trainvae trains the world-models VAE on recorded simulator
// rollouts. It runs train and test phases each epoch, keeps a rolling and
// a best checkpoint under {logdir}/vae, and writes a grid of decoded
// random latents after every epoch for qualitative inspection.
package main

import (
	"flag"
	"log"
	"math/rand"
	"path/filepath"

	"github.com/drivesim/worldmodels/optimizer"
	"github.com/drivesim/worldmodels/rollout"
	"github.com/drivesim/worldmodels/training"
	"github.com/drivesim/worldmodels/vae"
)

const (
	latentSize    = 32
	imageChannels = 3

	// Archives buffered in memory per LoadBuffer, per split.
	trainBufferSize = 200
	testBufferSize  = 10

	sampleCount = 64
)

var (
	flagBatchSize = flag.Int("batch-size", 32, "input batch size for training")
	flagEpochs    = flag.Int("epochs", 1000, "number of epochs to train")
	flagLogDir    = flag.String("logdir", "", "directory where results are logged")
	flagNoReload  = flag.Bool("noreload", false, "do not reload the best model if it exists")
	flagDataset   = flag.String("dataset", "datasets/carracing", "directory of npz rollout archives")
	flagSeed      = flag.Int64("seed", 123, "random seed")
	flagLR        = flag.Float64("lr", 0.001, "Adam learning rate")
)

func main() {
	flag.Parse()
	if *flagLogDir == "" {
		log.Fatal("missing required -logdir flag")
	}

	rng := rand.New(rand.NewSource(*flagSeed))

	trainTransform := rollout.NewFrameTransform(vae.ImageSize, true, rng)
	testTransform := rollout.NewFrameTransform(vae.ImageSize, false, rng)

	trainSet, err := rollout.NewObservationDataset(*flagDataset, trainBufferSize, true, trainTransform)
	if err != nil {
		log.Fatalf("failed to open training set: %v", err)
	}
	testSet, err := rollout.NewObservationDataset(*flagDataset, testBufferSize, false, testTransform)
	if err != nil {
		log.Fatalf("failed to open test set: %v", err)
	}
	log.Printf("Dataset: %d training rollouts, %d test rollouts", trainSet.NumFiles(), testSet.NumFiles())

	trainLoader := rollout.NewDataLoader(trainSet, *flagBatchSize, true, rng)
	testLoader := rollout.NewDataLoader(testSet, *flagBatchSize, true, rng)

	model := vae.New(imageChannels, latentSize, rng)

	adamCfg := optimizer.DefaultAdamConfig()
	adamCfg.LearningRate = *flagLR
	opt, err := optimizer.NewAdam(adamCfg, model.Parameters())
	if err != nil {
		log.Fatalf("failed to create optimizer: %v", err)
	}

	cfg := training.Config{
		Epochs:       *flagEpochs,
		BatchSize:    *flagBatchSize,
		LogDir:       *flagLogDir,
		NoReload:     *flagNoReload,
		LearningRate: adamCfg.LearningRate,
	}

	sampler, err := training.NewSampler(filepath.Join(*flagLogDir, "vae", "samples"), sampleCount, rng)
	if err != nil {
		log.Fatalf("failed to create sampler: %v", err)
	}

	trainer, err := training.NewTrainer(model, opt, trainSet, testSet, trainLoader, testLoader, sampler, cfg)
	if err != nil {
		log.Fatalf("failed to create trainer: %v", err)
	}

	if err := trainer.Run(); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
