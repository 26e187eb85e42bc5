// Package rollout loads recorded driving-simulation rollouts from npz
// archives and serves batches of transformed observation frames. Archives
// are rotated through a bounded in-memory buffer between epochs, so a
// dataset directory far larger than RAM can still be trained on.
package rollout

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gorgonia.org/tensor"
)

// observationsEntry is the array name the simulator writes each rollout's
// frame stack under.
const observationsEntry = "observations.npy"

// ObservationDataset serves individual frames drawn from a rotating buffer
// of rollout archives. LoadBuffer must be called before the first Get and
// is expected to be called again between epochs to advance the window.
type ObservationDataset struct {
	files      []string
	bufferSize int
	transform  *FrameTransform

	bufferIndex int
	frames      [][]byte // raw HWC uint8 frames currently buffered
	frameH      int
	frameW      int
	frameC      int
}

// NewObservationDataset scans root recursively for .npz rollout archives
// and keeps either the training or the held-out split of the file list.
// The last tenth of the archives (at least one) forms the test split.
func NewObservationDataset(root string, bufferSize int, train bool, transform *FrameTransform) (*ObservationDataset, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".npz") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan rollout directory %s", root)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no rollout archives found in %s", root)
	}
	sort.Strings(files)

	testCount := len(files) / 10
	if testCount == 0 {
		testCount = 1
	}
	if testCount >= len(files) {
		return nil, fmt.Errorf("not enough rollout archives in %s to split train/test", root)
	}
	if train {
		files = files[:len(files)-testCount]
	} else {
		files = files[len(files)-testCount:]
	}

	if bufferSize <= 0 || bufferSize > len(files) {
		bufferSize = len(files)
	}

	return &ObservationDataset{
		files:      files,
		bufferSize: bufferSize,
		transform:  transform,
	}, nil
}

// NumFiles returns the number of archives in this split.
func (d *ObservationDataset) NumFiles() int { return len(d.files) }

// LoadBuffer replaces the in-memory frame buffer with the next window of
// archives, wrapping around the file list.
func (d *ObservationDataset) LoadBuffer() error {
	d.frames = d.frames[:0]
	for i := 0; i < d.bufferSize; i++ {
		path := d.files[(d.bufferIndex+i)%len(d.files)]
		frames, h, w, c, err := readObservations(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load rollout %s", path)
		}
		if d.frameH == 0 {
			d.frameH, d.frameW, d.frameC = h, w, c
		} else if h != d.frameH || w != d.frameW || c != d.frameC {
			return fmt.Errorf("rollout %s has %dx%dx%d frames, buffer holds %dx%dx%d",
				path, h, w, c, d.frameH, d.frameW, d.frameC)
		}
		d.frames = append(d.frames, frames...)
	}
	d.bufferIndex = (d.bufferIndex + d.bufferSize) % len(d.files)
	return nil
}

// Len returns the number of frames currently buffered.
func (d *ObservationDataset) Len() int { return len(d.frames) }

// Get returns the transformed frame at idx as a (C,size,size) tensor.
func (d *ObservationDataset) Get(idx int) (*tensor.Dense, error) {
	if idx < 0 || idx >= len(d.frames) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.frames))
	}
	return d.transform.Apply(d.frames[idx], d.frameH, d.frameW), nil
}

// readObservations decodes the observations array of a single npz archive
// into per-frame raw HWC byte slices.
func readObservations(path string) (frames [][]byte, h, w, c int, err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, 0, 0, 0, errors.Wrap(err, "failed to open npz archive")
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != observationsEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, 0, 0, 0, errors.Wrap(err, "failed to open observations entry")
		}
		frames, h, w, c, err = decodeFrames(rc)
		rc.Close()
		if err != nil {
			return nil, 0, 0, 0, err
		}
		return frames, h, w, c, nil
	}
	return nil, 0, 0, 0, fmt.Errorf("archive has no %s entry", observationsEntry)
}

func decodeFrames(r io.Reader) ([][]byte, int, int, int, error) {
	rdr, err := npyio.NewReader(r)
	if err != nil {
		return nil, 0, 0, 0, errors.Wrap(err, "failed to parse npy header")
	}

	shape := rdr.Header.Descr.Shape
	if len(shape) != 4 {
		return nil, 0, 0, 0, fmt.Errorf("expected (N,H,W,C) observations, got shape %v", shape)
	}
	n, h, w, c := shape[0], shape[1], shape[2], shape[3]

	var raw []uint8
	if err := rdr.Read(&raw); err != nil {
		return nil, 0, 0, 0, errors.Wrap(err, "failed to read observations data")
	}
	if len(raw) != n*h*w*c {
		return nil, 0, 0, 0, fmt.Errorf("observations hold %d values, shape %v needs %d", len(raw), shape, n*h*w*c)
	}

	frameSize := h * w * c
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = raw[i*frameSize : (i+1)*frameSize]
	}
	return frames, h, w, c, nil
}
