package nn

// outDim returns the spatial output size of a valid (unpadded) convolution.
func outDim(in, kernel, stride int) int {
	return (in-kernel)/stride + 1
}

// im2col unrolls overlapping kernel patches of a CHW image into a
// (channels*kernel*kernel) x (outH*outW) row-major matrix so the
// convolution reduces to a single matrix product. dst must have room for
// channels*kernel*kernel*outH*outW values.
func im2col(src []float64, channels, height, width, kernel, stride int, dst []float64) {
	outH := outDim(height, kernel, stride)
	outW := outDim(width, kernel, stride)
	cols := outH * outW
	for c := 0; c < channels; c++ {
		for ki := 0; ki < kernel; ki++ {
			for kj := 0; kj < kernel; kj++ {
				row := (c*kernel+ki)*kernel + kj
				for oy := 0; oy < outH; oy++ {
					srcRow := (c*height+oy*stride+ki)*width + kj
					dstRow := row*cols + oy*outW
					for ox := 0; ox < outW; ox++ {
						dst[dstRow+ox] = src[srcRow+ox*stride]
					}
				}
			}
		}
	}
}

// col2im scatters a column matrix back onto a CHW image, accumulating
// overlapping contributions. It is the exact adjoint of im2col with the
// same geometry. dst is not cleared; callers zero it first.
func col2im(col []float64, channels, height, width, kernel, stride int, dst []float64) {
	outH := outDim(height, kernel, stride)
	outW := outDim(width, kernel, stride)
	cols := outH * outW
	for c := 0; c < channels; c++ {
		for ki := 0; ki < kernel; ki++ {
			for kj := 0; kj < kernel; kj++ {
				row := (c*kernel+ki)*kernel + kj
				for oy := 0; oy < outH; oy++ {
					dstRow := (c*height+oy*stride+ki)*width + kj
					colRow := row*cols + oy*outW
					for ox := 0; ox < outW; ox++ {
						dst[dstRow+ox*stride] += col[colRow+ox]
					}
				}
			}
		}
	}
}
