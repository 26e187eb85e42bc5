package training

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/drivesim/worldmodels/vae"
)

// Sampler decodes random latent vectors after each epoch and writes the
// reconstructions as a single PNG grid for qualitative inspection.
type Sampler struct {
	dir   string
	count int
	rng   *rand.Rand
}

// NewSampler creates the samples directory and a sampler that decodes
// count latents per epoch.
func NewSampler(dir string, count int, rng *rand.Rand) (*Sampler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create samples directory %s", dir)
	}
	return &Sampler{dir: dir, count: count, rng: rng}, nil
}

// Sample draws count latents from N(0,1), decodes them, and writes
// sample_<epoch>.png under the samples directory.
func (s *Sampler) Sample(model *vae.VAE, epoch int) error {
	z := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(s.count, model.LatentSize()))
	zData := z.Data().([]float64)
	for i := range zData {
		zData[i] = s.rng.NormFloat64()
	}

	images, err := model.Decode(z)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, fmt.Sprintf("sample_%d.png", epoch))
	return writeGrid(images, path)
}

// writeGrid tiles an (N,C,H,W) batch into a near-square PNG grid.
func writeGrid(batch *tensor.Dense, path string) error {
	shape := batch.Shape()
	if len(shape) != 4 {
		return fmt.Errorf("expected (N,C,H,W) batch, got shape %v", shape)
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	data := batch.Data().([]float64)

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	img := image.NewRGBA(image.Rect(0, 0, cols*w, rows*h))
	plane := h * w
	sample := c * plane

	for i := 0; i < n; i++ {
		offsetX := (i % cols) * w
		offsetY := (i / cols) * h
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var rgb [3]uint8
				for ch := 0; ch < 3; ch++ {
					// grayscale batches broadcast their single channel
					src := ch
					if src >= c {
						src = c - 1
					}
					rgb[ch] = clampByte(data[i*sample+src*plane+y*w+x])
				}
				img.Set(offsetX+x, offsetY+y, color.RGBA{rgb[0], rgb[1], rgb[2], 255})
			}
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create sample image")
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return errors.Wrap(err, "failed to encode sample image")
	}
	return nil
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
