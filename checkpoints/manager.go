package checkpoints

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Default file names under the run directory. The .tar extension is kept
// for compatibility with tooling that consumes the original training runs.
const (
	CheckpointFileName = "checkpoint.tar"
	BestFileName       = "best.tar"
)

// Manager writes a rolling checkpoint every epoch and mirrors it to the
// best-checkpoint file whenever the recorded test loss is the lowest seen
// since the manager was created.
type Manager struct {
	saver *CheckpointSaver
	dir   string

	best    float64
	hasBest bool
}

// NewManager creates the run directory if needed and returns a manager
// rooted there.
func NewManager(dir string, format CheckpointFormat) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}
	return &Manager{
		saver: NewCheckpointSaver(format),
		dir:   dir,
	}, nil
}

// Dir returns the run directory.
func (m *Manager) Dir() string { return m.dir }

// CheckpointPath returns the rolling checkpoint path.
func (m *Manager) CheckpointPath() string { return filepath.Join(m.dir, CheckpointFileName) }

// BestPath returns the best checkpoint path.
func (m *Manager) BestPath() string { return filepath.Join(m.dir, BestFileName) }

// Save writes the rolling checkpoint and, when the checkpoint's recorded
// precision is the lowest seen, the best checkpoint as well. It reports
// whether this checkpoint became the new best.
func (m *Manager) Save(ckpt *Checkpoint) (bool, error) {
	if err := m.saver.SaveCheckpoint(ckpt, m.CheckpointPath()); err != nil {
		return false, err
	}

	isBest := !m.hasBest || ckpt.TrainingState.Precision < m.best
	if isBest {
		m.best = ckpt.TrainingState.Precision
		m.hasBest = true
		if err := m.saver.SaveCheckpoint(ckpt, m.BestPath()); err != nil {
			return true, err
		}
	}
	return isBest, nil
}

// BestLoss returns the lowest precision saved so far, and whether any
// checkpoint has been saved.
func (m *Manager) BestLoss() (float64, bool) {
	return m.best, m.hasBest
}

// LoadBest loads the best checkpoint. It returns os.ErrNotExist (wrapped)
// when no best checkpoint has been written, so callers can skip the reload
// silently.
func (m *Manager) LoadBest() (*Checkpoint, error) {
	if _, err := os.Stat(m.BestPath()); err != nil {
		return nil, err
	}
	return m.saver.LoadCheckpoint(m.BestPath())
}
