// Package optimizer provides the gradient-descent optimizers used by the
// training loop. State lives on the CPU alongside the parameters and can be
// exported to and restored from checkpoints.
package optimizer

import (
	"github.com/drivesim/worldmodels/checkpoints"
	"github.com/drivesim/worldmodels/nn"
)

// Optimizer is implemented by all parameter-update rules. Step consumes the
// gradients accumulated on the given parameters since the last ZeroGrad.
type Optimizer interface {
	Step(params []*nn.Parameter) error
	UpdateLearningRate(newLR float64)
	ExportState() *checkpoints.OptimizerState
	RestoreState(state *checkpoints.OptimizerState) error
}
