package rollout

import (
	"math"
	"math/rand"
	"testing"
)

func TestTransformIdentityResize(t *testing.T) {
	// when target size equals the source size the sampling grid lands on
	// source pixels exactly, so values pass through scaled by 1/255
	frame := []byte{
		10, 20,
		30, 40,
	}
	transform := NewFrameTransform(2, false, rand.New(rand.NewSource(1)))
	out := transform.Apply(frame, 2, 2)

	if !out.Shape().Eq([]int{1, 2, 2}) {
		t.Fatalf("output shape %v, want (1, 2, 2)", out.Shape())
	}
	data := out.Data().([]float64)
	want := []float64{10, 20, 30, 40}
	for i, w := range want {
		if math.Abs(data[i]-w/255.0) > 1e-12 {
			t.Errorf("pixel %d = %v, want %v", i, data[i], w/255.0)
		}
	}
}

func TestTransformChannelLayout(t *testing.T) {
	// a single HWC pixel with distinct channel values must land in three
	// separate CHW planes
	frame := []byte{50, 100, 150}
	transform := NewFrameTransform(1, false, rand.New(rand.NewSource(1)))
	out := transform.Apply(frame, 1, 1)

	if !out.Shape().Eq([]int{3, 1, 1}) {
		t.Fatalf("output shape %v, want (3, 1, 1)", out.Shape())
	}
	data := out.Data().([]float64)
	want := []float64{50, 100, 150}
	for ch, w := range want {
		if math.Abs(data[ch]-w/255.0) > 1e-12 {
			t.Errorf("channel %d = %v, want %v", ch, data[ch], w/255.0)
		}
	}
}

func TestTransformDownscaleConstant(t *testing.T) {
	// constant input stays constant under bilinear interpolation
	frame := make([]byte, 8*8)
	for i := range frame {
		frame[i] = 128
	}
	transform := NewFrameTransform(4, false, rand.New(rand.NewSource(1)))
	out := transform.Apply(frame, 8, 8)

	for i, v := range out.Data().([]float64) {
		if math.Abs(v-128.0/255.0) > 1e-12 {
			t.Errorf("pixel %d = %v, want %v", i, v, 128.0/255.0)
		}
	}
}

func TestTransformOutputRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	frame := make([]byte, 16*16*3)
	for i := range frame {
		frame[i] = byte(rng.Intn(256))
	}
	transform := NewFrameTransform(8, false, rand.New(rand.NewSource(1)))
	out := transform.Apply(frame, 16, 16)

	if !out.Shape().Eq([]int{3, 8, 8}) {
		t.Fatalf("output shape %v, want (3, 8, 8)", out.Shape())
	}
	for i, v := range out.Data().([]float64) {
		if v < 0 || v > 1 {
			t.Errorf("pixel %d = %v, outside [0,1]", i, v)
		}
	}
}

func TestTransformRandomFlip(t *testing.T) {
	// asymmetric frame: the flipped output reverses each row
	frame := []byte{
		0, 255,
		0, 255,
	}
	transform := NewFrameTransform(2, true, rand.New(rand.NewSource(3)))

	var plain, mirrored int
	for i := 0; i < 200; i++ {
		data := transform.Apply(frame, 2, 2).Data().([]float64)
		switch {
		case data[0] == 0 && data[1] == 1 && data[2] == 0 && data[3] == 1:
			plain++
		case data[0] == 1 && data[1] == 0 && data[2] == 1 && data[3] == 0:
			mirrored++
		default:
			t.Fatalf("unexpected output %v", data)
		}
	}
	if plain == 0 || mirrored == 0 {
		t.Errorf("flip never alternated: %d plain, %d mirrored", plain, mirrored)
	}

	// the test split never flips
	fixed := NewFrameTransform(2, false, rand.New(rand.NewSource(3)))
	for i := 0; i < 50; i++ {
		data := fixed.Apply(frame, 2, 2).Data().([]float64)
		if data[0] != 0 || data[1] != 1 {
			t.Fatal("flip applied with augmentation disabled")
		}
	}
}
