// Package pixel turns raw grayscale sample buffers into displayable 8-bit rasters.
//
// The pipeline is Decode -> Normalize -> Renderer. Each stage is usable on its
// own and none of them retain or mutate the caller's input buffers.
package pixel

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when a buffer is shorter than its declared geometry.
	ErrInsufficientData = errors.New("pixel: insufficient data")
	// ErrUnsupportedBitDepth is returned for any BitsAllocated other than 8 or 16.
	ErrUnsupportedBitDepth = errors.New("pixel: unsupported bit depth")
	// ErrInvalidDimensions is returned for zero, negative or overflowing dimensions.
	ErrInvalidDimensions = errors.New("pixel: invalid dimensions")
	// ErrUnsupportedSamples is returned for anything but single-sample grayscale.
	ErrUnsupportedSamples = errors.New("pixel: unsupported samples per pixel")
	// ErrDecodeRender wraps raster encoding failures.
	ErrDecodeRender = errors.New("pixel: render failed")
	// ErrNoImage is returned by renderer operations when nothing is loaded.
	ErrNoImage = errors.New("pixel: no image loaded")
	// ErrNotDragging is returned by Pan outside of a drag gesture.
	ErrNotDragging = errors.New("pixel: pan requires an active drag")
)

// Geometry describes the layout of a raw sample buffer.
type Geometry struct {
	Width           int
	Height          int
	BitsAllocated   int
	SamplesPerPixel int
}

// BytesPerSample returns ceil(BitsAllocated/8).
func (g Geometry) BytesPerSample() int {
	return (g.BitsAllocated + 7) / 8
}

// ExpectedLength returns the minimum number of bytes a buffer with this
// geometry must hold. Returns -1 if the geometry is invalid or overflows.
func (g Geometry) ExpectedLength() int {
	spp := g.SamplesPerPixel
	if spp == 0 {
		spp = 1
	}
	if g.Width <= 0 || g.Height <= 0 || spp < 0 || g.BitsAllocated <= 0 {
		return -1
	}
	maxSize := int(^uint(0) >> 1)
	n := g.Width
	for _, f := range []int{g.Height, spp, g.BytesPerSample()} {
		if n > maxSize/f {
			return -1
		}
		n *= f
	}
	return n
}

// Decode converts a raw byte buffer into one sample per pixel.
//
// 16-bit samples are read little-endian (low byte first). 8-bit samples are
// one byte each. Any other bit depth is rejected rather than misread. Extra
// trailing bytes are ignored.
func Decode(raw []byte, bitsAllocated, width, height int) ([]uint16, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	var bytesPerSample int
	switch bitsAllocated {
	case 8:
		bytesPerSample = 1
	case 16:
		bytesPerSample = 2
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitsAllocated)
	}

	// Check for potential overflow on 32-bit systems
	maxSize := int(^uint(0) >> 1)
	if width > maxSize/height || width*height > maxSize/bytesPerSample {
		return nil, fmt.Errorf("%w: %dx%d overflows", ErrInvalidDimensions, width, height)
	}

	count := width * height
	if len(raw) < count*bytesPerSample {
		return nil, fmt.Errorf("%w: need %d bytes for %dx%d at %d bits, got %d",
			ErrInsufficientData, count*bytesPerSample, width, height, bitsAllocated, len(raw))
	}

	samples := make([]uint16, count)
	if bytesPerSample == 1 {
		for i := range samples {
			samples[i] = uint16(raw[i])
		}
		return samples, nil
	}

	for i := range samples {
		samples[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return samples, nil
}
