package rollout

import (
	"fmt"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"
)

// Dataset interface defines methods that all frame datasets must implement
type Dataset interface {
	Len() int                             // Number of samples currently available
	Get(idx int) (*tensor.Dense, error)   // Returns a single (C,H,W) sample
}

// DataLoader provides batching, shuffling, and sequential batch iteration
// over a Dataset. Because datasets reload their buffer between epochs,
// Reset re-reads the dataset length each time.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) *DataLoader {
	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
	}
	dl.rebuildIndices()
	return dl
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// NumSamples returns the number of samples in an epoch.
func (dl *DataLoader) NumSamples() int {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return len(dl.indices)
}

// Reset resets the data loader for a new epoch, picking up any change in
// the dataset's buffered length.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	dl.rebuildIndices()
}

func (dl *DataLoader) rebuildIndices() {
	n := dl.dataset.Len()
	if len(dl.indices) != n {
		dl.indices = make([]int, n)
		for i := range dl.indices {
			dl.indices[i] = i
		}
	}
	dl.position = 0

	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := dl.rng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch as an (N,C,H,W) tensor, or nil when the
// epoch is complete.
func (dl *DataLoader) Next() (*tensor.Dense, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	return dl.loadBatch(batchIndices)
}

// HasNext returns true if there are more batches in the current epoch.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch loads samples and stacks them into one batch tensor.
func (dl *DataLoader) loadBatch(indices []int) (*tensor.Dense, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	first, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}

	sampleShape := first.Shape()
	batchShape := append([]int{len(indices)}, sampleShape...)
	batch := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(batchShape...))
	batchData := batch.Data().([]float64)

	sampleSize := len(first.Data().([]float64))
	copy(batchData[:sampleSize], first.Data().([]float64))

	for i := 1; i < len(indices); i++ {
		sample, err := dl.dataset.Get(indices[i])
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", indices[i], err)
		}
		data := sample.Data().([]float64)
		if len(data) != sampleSize {
			return nil, fmt.Errorf("sample %d has %d values, batch expects %d", indices[i], len(data), sampleSize)
		}
		copy(batchData[i*sampleSize:(i+1)*sampleSize], data)
	}

	return batch, nil
}

// Iterator returns a channel-based iterator for use in training loops. It
// resets the loader and streams every batch of the epoch.
func (dl *DataLoader) Iterator() <-chan *tensor.Dense {
	batchChan := make(chan *tensor.Dense, 1)

	go func() {
		defer close(batchChan)

		dl.Reset()
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				fmt.Printf("DataLoader error: %v\n", err)
				return
			}
			if batch == nil {
				break
			}
			batchChan <- batch
		}
	}()

	return batchChan
}
