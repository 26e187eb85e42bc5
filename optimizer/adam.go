package optimizer

import (
	"fmt"
	"math"

	"github.com/drivesim/worldmodels/checkpoints"
	"github.com/drivesim/worldmodels/nn"
)

// AdamConfig holds configuration for the Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam update rule with bias correction. First and
// second moment estimates are kept per parameter, keyed by parameter name.
type Adam struct {
	config    AdamConfig
	stepCount uint64

	m map[string][]float64
	v map[string][]float64
}

// NewAdam creates an Adam optimizer and allocates zeroed moment buffers for
// every parameter.
func NewAdam(config AdamConfig, params []*nn.Parameter) (*Adam, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}

	adam := &Adam{
		config: config,
		m:      make(map[string][]float64, len(params)),
		v:      make(map[string][]float64, len(params)),
	}
	for _, p := range params {
		if _, ok := adam.m[p.Name]; ok {
			return nil, fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		n := p.NumElements()
		adam.m[p.Name] = make([]float64, n)
		adam.v[p.Name] = make([]float64, n)
	}
	return adam, nil
}

// Step performs a single Adam optimization step over the given parameters.
func (a *Adam) Step(params []*nn.Parameter) error {
	a.stepCount++
	c1 := 1 - math.Pow(a.config.Beta1, float64(a.stepCount))
	c2 := 1 - math.Pow(a.config.Beta2, float64(a.stepCount))

	for _, p := range params {
		m, ok := a.m[p.Name]
		if !ok {
			return fmt.Errorf("parameter %q was not registered with this optimizer", p.Name)
		}
		v := a.v[p.Name]

		w := p.Data.Data().([]float64)
		g := p.Grad.Data().([]float64)
		if len(g) != len(m) {
			return fmt.Errorf("parameter %q: gradient has %d values, state has %d", p.Name, len(g), len(m))
		}

		for i := range w {
			grad := g[i]
			if a.config.WeightDecay != 0 {
				grad += a.config.WeightDecay * w[i]
			}
			m[i] = a.config.Beta1*m[i] + (1-a.config.Beta1)*grad
			v[i] = a.config.Beta2*v[i] + (1-a.config.Beta2)*grad*grad
			mHat := m[i] / c1
			vHat := v[i] / c2
			w[i] -= a.config.LearningRate * mHat / (math.Sqrt(vHat) + a.config.Epsilon)
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate (useful for scheduling).
func (a *Adam) UpdateLearningRate(newLR float64) {
	a.config.LearningRate = newLR
}

// GetStep returns the current step count.
func (a *Adam) GetStep() uint64 {
	return a.stepCount
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 {
	return a.config.LearningRate
}

// ExportState serializes the moment buffers and hyperparameters for
// checkpointing.
func (a *Adam) ExportState() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]float64{
			"learning_rate": a.config.LearningRate,
			"beta1":         a.config.Beta1,
			"beta2":         a.config.Beta2,
			"epsilon":       a.config.Epsilon,
			"weight_decay":  a.config.WeightDecay,
			"step_count":    float64(a.stepCount),
		},
	}

	for name, m := range a.m {
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      name,
			Shape:     []int{len(m)},
			Data:      append([]float64(nil), m...),
			StateType: "m",
		})
		v := a.v[name]
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      name,
			Shape:     []int{len(v)},
			Data:      append([]float64(nil), v...),
			StateType: "v",
		})
	}
	return state
}

// RestoreState restores moment buffers and hyperparameters from a
// checkpoint. The optimizer must have been created over the same parameter
// set the state was exported from.
func (a *Adam) RestoreState(state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != "Adam" {
		return fmt.Errorf("state type %q is not Adam", state.Type)
	}

	if lr, ok := state.Parameters["learning_rate"]; ok {
		a.config.LearningRate = lr
	}
	if steps, ok := state.Parameters["step_count"]; ok {
		a.stepCount = uint64(steps)
	}

	for _, st := range state.StateData {
		var dst []float64
		switch st.StateType {
		case "m":
			dst = a.m[st.Name]
		case "v":
			dst = a.v[st.Name]
		default:
			return fmt.Errorf("unknown state type %q for %s", st.StateType, st.Name)
		}
		if dst == nil {
			return fmt.Errorf("state for unregistered parameter %q", st.Name)
		}
		if len(st.Data) != len(dst) {
			return fmt.Errorf("state size mismatch for %s: expected %d values, got %d", st.Name, len(dst), len(st.Data))
		}
		copy(dst, st.Data)
	}
	return nil
}
