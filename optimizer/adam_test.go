package optimizer

import (
	"math"
	"testing"

	"github.com/drivesim/worldmodels/nn"
)

// TestAdamConfig tests the Adam configuration defaults
func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()

	if config.LearningRate != 0.001 {
		t.Errorf("Expected learning rate 0.001, got %f", config.LearningRate)
	}
	if config.Beta1 != 0.9 {
		t.Errorf("Expected beta1 0.9, got %f", config.Beta1)
	}
	if config.Beta2 != 0.999 {
		t.Errorf("Expected beta2 0.999, got %f", config.Beta2)
	}
	if config.Epsilon != 1e-8 {
		t.Errorf("Expected epsilon 1e-8, got %f", config.Epsilon)
	}
	if config.WeightDecay != 0.0 {
		t.Errorf("Expected weight decay 0.0, got %f", config.WeightDecay)
	}
}

func newQuadraticParam(t *testing.T, values []float64) *nn.Parameter {
	t.Helper()
	p := nn.NewParameter("w", len(values))
	copy(p.Data.Data().([]float64), values)
	return p
}

// TestAdamFirstStep checks the bias-corrected first update: with zeroed
// state the very first step moves every weight by ~lr against the
// gradient sign.
func TestAdamFirstStep(t *testing.T) {
	p := newQuadraticParam(t, []float64{1.0, -2.0})
	copy(p.Grad.Data().([]float64), []float64{0.5, -3.0})

	config := DefaultAdamConfig()
	adam, err := NewAdam(config, []*nn.Parameter{p})
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	if err := adam.Step([]*nn.Parameter{p}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	w := p.Data.Data().([]float64)
	// mHat = g, vHat = g^2, so the update is lr * g/(|g|+eps) = lr * sign(g)
	if math.Abs(w[0]-(1.0-0.001)) > 1e-6 {
		t.Errorf("w[0] = %v, want %v", w[0], 1.0-0.001)
	}
	if math.Abs(w[1]-(-2.0+0.001)) > 1e-6 {
		t.Errorf("w[1] = %v, want %v", w[1], -2.0+0.001)
	}
	if adam.GetStep() != 1 {
		t.Errorf("step count %d, want 1", adam.GetStep())
	}
}

// TestAdamConvergesOnQuadratic minimizes f(w) = sum(w^2) and expects the
// weights to approach zero.
func TestAdamConvergesOnQuadratic(t *testing.T) {
	p := newQuadraticParam(t, []float64{1.5, -0.8, 0.3})

	config := DefaultAdamConfig()
	config.LearningRate = 0.05
	adam, err := NewAdam(config, []*nn.Parameter{p})
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	w := p.Data.Data().([]float64)
	g := p.Grad.Data().([]float64)
	for step := 0; step < 500; step++ {
		p.ZeroGrad()
		for i := range w {
			g[i] = 2 * w[i]
		}
		if err := adam.Step([]*nn.Parameter{p}); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}

	for i, v := range w {
		if math.Abs(v) > 1e-2 {
			t.Errorf("w[%d] = %v did not converge toward 0", i, v)
		}
	}
}

func TestAdamRejectsUnknownParameter(t *testing.T) {
	p := newQuadraticParam(t, []float64{1.0})
	adam, err := NewAdam(DefaultAdamConfig(), []*nn.Parameter{p})
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	stranger := nn.NewParameter("stranger", 1)
	if err := adam.Step([]*nn.Parameter{stranger}); err == nil {
		t.Error("expected error stepping an unregistered parameter")
	}
}

// TestAdamStateRoundTrip exports optimizer state, restores it into a fresh
// optimizer, and checks both produce identical updates.
func TestAdamStateRoundTrip(t *testing.T) {
	makeParam := func() *nn.Parameter {
		return newQuadraticParam(t, []float64{0.7, -1.2})
	}

	warmup := func(p *nn.Parameter, adam *Adam) {
		w := p.Data.Data().([]float64)
		g := p.Grad.Data().([]float64)
		for step := 0; step < 10; step++ {
			p.ZeroGrad()
			for i := range w {
				g[i] = 2 * w[i]
			}
			if err := adam.Step([]*nn.Parameter{p}); err != nil {
				t.Fatalf("Step failed: %v", err)
			}
		}
	}

	p1 := makeParam()
	a1, err := NewAdam(DefaultAdamConfig(), []*nn.Parameter{p1})
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	warmup(p1, a1)
	state := a1.ExportState()

	if state.Type != "Adam" {
		t.Errorf("state type %q, want Adam", state.Type)
	}
	if got := state.Parameters["step_count"]; got != 10 {
		t.Errorf("exported step_count = %v, want 10", got)
	}

	p2 := makeParam()
	a2, err := NewAdam(DefaultAdamConfig(), []*nn.Parameter{p2})
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	copy(p2.Data.Data().([]float64), p1.Data.Data().([]float64))
	if err := a2.RestoreState(state); err != nil {
		t.Fatalf("RestoreState failed: %v", err)
	}
	if a2.GetStep() != a1.GetStep() {
		t.Errorf("restored step count %d, want %d", a2.GetStep(), a1.GetStep())
	}

	// One more identical step on both must yield identical weights.
	step := func(p *nn.Parameter, adam *Adam) {
		w := p.Data.Data().([]float64)
		g := p.Grad.Data().([]float64)
		p.ZeroGrad()
		for i := range w {
			g[i] = 2 * w[i]
		}
		if err := adam.Step([]*nn.Parameter{p}); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}
	step(p1, a1)
	step(p2, a2)

	w1 := p1.Data.Data().([]float64)
	w2 := p2.Data.Data().([]float64)
	for i := range w1 {
		if w1[i] != w2[i] {
			t.Errorf("weights diverge at %d: %v vs %v", i, w1[i], w2[i])
		}
	}
}

func TestAdamRestoreRejectsWrongType(t *testing.T) {
	p := newQuadraticParam(t, []float64{1.0})
	adam, err := NewAdam(DefaultAdamConfig(), []*nn.Parameter{p})
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	state := adam.ExportState()
	state.Type = "SGD"
	if err := adam.RestoreState(state); err == nil {
		t.Error("expected error restoring state of a different optimizer type")
	}
}
