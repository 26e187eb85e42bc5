// Package checkpoints persists model weights, optimizer state and training
// progress, and tracks the best-seen validation loss across epochs.
package checkpoints

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/drivesim/worldmodels/nn"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatGob
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatGob:
		return "Gob"
	default:
		return "Unknown"
	}
}

// Checkpoint represents a complete model state including weights, optimizer
// state, and training metadata
type Checkpoint struct {
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState captures the current training progress. Precision is the
// test-set loss recorded when the checkpoint was written.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Precision    float64 `json:"precision"`
	LearningRate float64 `json:"learning_rate"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", etc.
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "worldmodels"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatGob:
		return cs.saveGob(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatGob:
		return cs.loadGob(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(checkpoint); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}

	return nil
}

func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}

	return &checkpoint, nil
}

func (cs *CheckpointSaver) saveGob(checkpoint *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(checkpoint); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}

	return nil
}

func (cs *CheckpointSaver) loadGob(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := gob.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}

	return &checkpoint, nil
}

// ExtractWeights copies parameter data into serializable weight tensors.
func ExtractWeights(params []*nn.Parameter) []WeightTensor {
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data := p.Data.Data().([]float64)
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Data.Shape()...),
			Data:  append([]float64(nil), data...),
		})
	}
	return weights
}

// LoadWeights copies serialized weight data back into the parameters,
// matching by name and verifying shapes.
func LoadWeights(weights []WeightTensor, params []*nn.Parameter) error {
	weightMap := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		weightMap[w.Name] = w
	}

	for _, p := range params {
		w, ok := weightMap[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing weights for %s", p.Name)
		}

		shape := p.Data.Shape()
		if len(shape) != len(w.Shape) {
			return fmt.Errorf("shape mismatch for %s: parameter %v vs checkpoint %v", p.Name, shape, w.Shape)
		}
		for i, dim := range shape {
			if dim != w.Shape[i] {
				return fmt.Errorf("shape mismatch for %s: parameter %v vs checkpoint %v", p.Name, shape, w.Shape)
			}
		}

		dst := p.Data.Data().([]float64)
		if len(w.Data) != len(dst) {
			return fmt.Errorf("data size mismatch for %s: expected %d values, got %d", p.Name, len(dst), len(w.Data))
		}
		copy(dst, w.Data)
	}

	return nil
}
