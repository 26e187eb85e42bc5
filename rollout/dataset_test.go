package rollout

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// npyBytes serializes a uint8 array in the v1.0 npy format.
func npyBytes(t *testing.T, shape []int, data []byte) []byte {
	t.Helper()

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	header := fmt.Sprintf("{'descr': '|u1', 'fortran_order': False, 'shape': (%s), }",
		strings.Join(dims, ", "))
	// header block (magic + version + length prefix + text) is padded to a
	// multiple of 64 bytes, terminated by a newline
	pad := (64 - (10+len(header)+1)%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		t.Fatalf("writing header length: %v", err)
	}
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

// writeArchive writes an npz rollout archive holding numFrames constant
// h x w x c frames filled with value.
func writeArchive(t *testing.T, path string, numFrames, h, w, c int, value byte) {
	t.Helper()

	data := make([]byte, numFrames*h*w*c)
	for i := range data {
		data[i] = value
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entry, err := zw.Create(observationsEntry)
	if err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	if _, err := entry.Write(npyBytes(t, []int{numFrames, h, w, c}, data)); err != nil {
		t.Fatalf("writing zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing archive: %v", err)
	}
}

func TestDatasetTrainTestSplit(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeArchive(t, filepath.Join(dir, fmt.Sprintf("rollout_%02d.npz", i)), 2, 2, 2, 1, byte(i))
	}

	transform := NewFrameTransform(2, false, rand.New(rand.NewSource(1)))
	train, err := NewObservationDataset(dir, 0, true, transform)
	if err != nil {
		t.Fatalf("train dataset: %v", err)
	}
	test, err := NewObservationDataset(dir, 0, false, transform)
	if err != nil {
		t.Fatalf("test dataset: %v", err)
	}

	if train.NumFiles() != 9 {
		t.Errorf("train split has %d files, want 9", train.NumFiles())
	}
	if test.NumFiles() != 1 {
		t.Errorf("test split has %d files, want 1", test.NumFiles())
	}

	// the held-out split is the tail of the sorted file list
	if err := test.LoadBuffer(); err != nil {
		t.Fatalf("loading test buffer: %v", err)
	}
	frame, err := test.Get(0)
	if err != nil {
		t.Fatalf("getting test frame: %v", err)
	}
	if got := frame.Data().([]float64)[0]; got != 9.0/255.0 {
		t.Errorf("test frame value %v, want %v", got, 9.0/255.0)
	}
}

func TestDatasetBufferRotation(t *testing.T) {
	dir := t.TempDir()
	// five archives, last one held out, four remain in the training split
	for i := 0; i < 5; i++ {
		writeArchive(t, filepath.Join(dir, fmt.Sprintf("rollout_%d.npz", i)), 2, 2, 2, 1, byte(i*10))
	}

	transform := NewFrameTransform(2, false, rand.New(rand.NewSource(1)))
	ds, err := NewObservationDataset(dir, 2, true, transform)
	if err != nil {
		t.Fatalf("NewObservationDataset failed: %v", err)
	}

	// each LoadBuffer advances the window by bufferSize archives, wrapping
	wantValues := [][]float64{
		{0, 10},
		{20, 30},
		{0, 10},
	}
	for round, want := range wantValues {
		if err := ds.LoadBuffer(); err != nil {
			t.Fatalf("round %d: LoadBuffer failed: %v", round, err)
		}
		if ds.Len() != 4 {
			t.Fatalf("round %d: buffered %d frames, want 4", round, ds.Len())
		}
		for archive := 0; archive < 2; archive++ {
			frame, err := ds.Get(archive * 2)
			if err != nil {
				t.Fatalf("round %d: Get failed: %v", round, err)
			}
			got := frame.Data().([]float64)[0] * 255.0
			if math.Abs(got-want[archive]) > 1e-9 {
				t.Errorf("round %d archive %d: frame value %v, want %v", round, archive, got, want[archive])
			}
		}
	}
}

func TestDatasetGetOutOfRange(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, filepath.Join(dir, "a.npz"), 1, 2, 2, 1, 0)
	writeArchive(t, filepath.Join(dir, "b.npz"), 1, 2, 2, 1, 0)

	transform := NewFrameTransform(2, false, rand.New(rand.NewSource(1)))
	ds, err := NewObservationDataset(dir, 0, true, transform)
	if err != nil {
		t.Fatalf("NewObservationDataset failed: %v", err)
	}
	if err := ds.LoadBuffer(); err != nil {
		t.Fatalf("LoadBuffer failed: %v", err)
	}

	if _, err := ds.Get(ds.Len()); err == nil {
		t.Error("expected out-of-range error")
	}
	if _, err := ds.Get(-1); err == nil {
		t.Error("expected out-of-range error for negative index")
	}
}

func TestDatasetFrameSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, filepath.Join(dir, "a.npz"), 1, 2, 2, 1, 0)
	writeArchive(t, filepath.Join(dir, "b.npz"), 1, 4, 4, 1, 0)
	writeArchive(t, filepath.Join(dir, "c.npz"), 1, 2, 2, 1, 0)

	transform := NewFrameTransform(2, false, rand.New(rand.NewSource(1)))
	ds, err := NewObservationDataset(dir, 2, true, transform)
	if err != nil {
		t.Fatalf("NewObservationDataset failed: %v", err)
	}
	if err := ds.LoadBuffer(); err == nil {
		t.Error("expected error for mismatched frame dimensions")
	}
}

func TestDatasetEmptyDirectory(t *testing.T) {
	transform := NewFrameTransform(2, false, rand.New(rand.NewSource(1)))
	if _, err := NewObservationDataset(t.TempDir(), 0, true, transform); err == nil {
		t.Error("expected error for directory with no archives")
	}
}

func TestDecodeFramesRejectsWrongRank(t *testing.T) {
	raw := npyBytes(t, []int{2, 3, 3}, make([]byte, 18))
	if _, _, _, _, err := decodeFrames(bytes.NewReader(raw)); err == nil {
		t.Error("expected error for 3-D observations")
	}
}
