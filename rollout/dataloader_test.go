package rollout

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"gorgonia.org/tensor"
)

// indexDataset serves scalar samples whose value equals their index, which
// makes batch contents easy to assert on.
type indexDataset struct {
	length int
}

func (d *indexDataset) Len() int { return d.length }

func (d *indexDataset) Get(idx int) (*tensor.Dense, error) {
	if idx < 0 || idx >= d.length {
		return nil, fmt.Errorf("index %d out of range", idx)
	}
	return tensor.New(tensor.WithShape(1), tensor.WithBacking([]float64{float64(idx)})), nil
}

func TestDataLoaderSequentialBatches(t *testing.T) {
	ds := &indexDataset{length: 10}
	dl := NewDataLoader(ds, 4, false, rand.New(rand.NewSource(1)))

	if dl.Len() != 3 {
		t.Errorf("Len() = %d, want 3 batches", dl.Len())
	}
	if dl.NumSamples() != 10 {
		t.Errorf("NumSamples() = %d, want 10", dl.NumSamples())
	}

	wantSizes := []int{4, 4, 2}
	var seen []float64
	for i, want := range wantSizes {
		if !dl.HasNext() {
			t.Fatalf("HasNext() false before batch %d", i)
		}
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		if batch.Shape()[0] != want {
			t.Errorf("batch %d has %d samples, want %d", i, batch.Shape()[0], want)
		}
		seen = append(seen, batch.Data().([]float64)...)
	}

	if dl.HasNext() {
		t.Error("HasNext() true after last batch")
	}
	batch, err := dl.Next()
	if err != nil {
		t.Fatalf("Next() after epoch: %v", err)
	}
	if batch != nil {
		t.Error("Next() after epoch returned a batch")
	}

	for i, v := range seen {
		if v != float64(i) {
			t.Errorf("unshuffled sample %d = %v, want %v", i, v, float64(i))
		}
	}
}

func TestDataLoaderShuffleIsPermutation(t *testing.T) {
	ds := &indexDataset{length: 32}
	dl := NewDataLoader(ds, 8, true, rand.New(rand.NewSource(42)))

	var seen []float64
	for dl.HasNext() {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		seen = append(seen, batch.Data().([]float64)...)
	}
	if len(seen) != 32 {
		t.Fatalf("epoch yielded %d samples, want 32", len(seen))
	}

	ordered := true
	for i, v := range seen {
		if v != float64(i) {
			ordered = false
			break
		}
	}
	if ordered {
		t.Error("shuffled epoch came out in identity order")
	}

	sort.Float64s(seen)
	for i, v := range seen {
		if v != float64(i) {
			t.Fatalf("shuffle dropped or duplicated samples: position %d = %v", i, v)
		}
	}
}

func TestDataLoaderResetTracksDatasetLength(t *testing.T) {
	ds := &indexDataset{length: 4}
	dl := NewDataLoader(ds, 2, false, rand.New(rand.NewSource(1)))

	if dl.NumSamples() != 4 {
		t.Fatalf("NumSamples() = %d, want 4", dl.NumSamples())
	}

	// a buffer reload can change the number of available frames
	ds.length = 6
	dl.Reset()
	if dl.NumSamples() != 6 {
		t.Errorf("NumSamples() after Reset = %d, want 6", dl.NumSamples())
	}
	if dl.Len() != 3 {
		t.Errorf("Len() after Reset = %d, want 3", dl.Len())
	}
}

func TestDataLoaderIterator(t *testing.T) {
	ds := &indexDataset{length: 7}
	dl := NewDataLoader(ds, 3, false, rand.New(rand.NewSource(1)))

	var batches, samples int
	for batch := range dl.Iterator() {
		batches++
		samples += batch.Shape()[0]
	}
	if batches != 3 {
		t.Errorf("iterator yielded %d batches, want 3", batches)
	}
	if samples != 7 {
		t.Errorf("iterator yielded %d samples, want 7", samples)
	}
}
