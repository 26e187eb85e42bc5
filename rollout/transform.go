package rollout

import (
	"math/rand"

	"gorgonia.org/tensor"
)

// FrameTransform converts a raw HWC uint8 frame into a CHW float64 tensor
// in [0,1], bilinearly resized to a square target. With flipping enabled it
// mirrors the frame horizontally half the time, the only augmentation the
// training split uses.
type FrameTransform struct {
	size int
	flip bool
	rng  *rand.Rand
}

// NewFrameTransform creates a transform targeting size x size output.
func NewFrameTransform(size int, flip bool, rng *rand.Rand) *FrameTransform {
	return &FrameTransform{size: size, flip: flip, rng: rng}
}

// Size returns the target spatial resolution.
func (t *FrameTransform) Size() int { return t.size }

// Apply transforms one frame.
func (t *FrameTransform) Apply(frame []byte, height, width int) *tensor.Dense {
	channels := len(frame) / (height * width)
	out := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(channels, t.size, t.size))
	data := out.Data().([]float64)

	mirror := t.flip && t.rng.Float64() < 0.5

	scaleY := float64(height) / float64(t.size)
	scaleX := float64(width) / float64(t.size)
	plane := t.size * t.size

	for y := 0; y < t.size; y++ {
		srcY := (float64(y)+0.5)*scaleY - 0.5
		y0, fy := splitCoord(srcY, height)
		y1 := y0 + 1
		if y1 >= height {
			y1 = height - 1
		}
		for x := 0; x < t.size; x++ {
			srcX := (float64(x)+0.5)*scaleX - 0.5
			x0, fx := splitCoord(srcX, width)
			x1 := x0 + 1
			if x1 >= width {
				x1 = width - 1
			}

			outX := x
			if mirror {
				outX = t.size - 1 - x
			}
			for ch := 0; ch < channels; ch++ {
				tl := float64(frame[(y0*width+x0)*channels+ch])
				tr := float64(frame[(y0*width+x1)*channels+ch])
				bl := float64(frame[(y1*width+x0)*channels+ch])
				br := float64(frame[(y1*width+x1)*channels+ch])
				top := tl + (tr-tl)*fx
				bottom := bl + (br-bl)*fx
				data[ch*plane+y*t.size+outX] = (top + (bottom-top)*fy) / 255.0
			}
		}
	}
	return out
}

// splitCoord clamps a source coordinate and splits it into an integer base
// and an interpolation fraction.
func splitCoord(v float64, limit int) (int, float64) {
	if v < 0 {
		return 0, 0
	}
	base := int(v)
	if base >= limit-1 {
		return limit - 1, 0
	}
	return base, v - float64(base)
}
