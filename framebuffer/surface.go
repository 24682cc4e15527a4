// Package framebuffer holds the local mirror of a remote framebuffer and
// applies raw rectangle updates to it.
package framebuffer

import (
	"image"
	"sync"
)

// Surface is a double-buffered RGBA raster. Updates are built on a private
// copy and published with a single pointer swap, so an image returned by
// Snapshot is never written to again.
type Surface struct {
	mu       sync.RWMutex
	front    *image.RGBA
	width    int
	height   int
	released bool
}

// NewSurface allocates a black, opaque surface.
func NewSurface(width, height int) *Surface {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	return &Surface{front: img, width: width, height: height}
}

// Width is the surface width in pixels.
func (s *Surface) Width() int { return s.width }

// Height is the surface height in pixels.
func (s *Surface) Height() int { return s.height }

// Bounds is the full surface rectangle.
func (s *Surface) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.width, s.height)
}

// Snapshot returns the most recently published image, or nil once the
// surface has been released. Callers must not modify it.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.front
}

// Released reports whether Release has been called.
func (s *Surface) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

// Release drops the published image. Later publishes are discarded.
func (s *Surface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.front = nil
	s.released = true
}

// scratch returns a private copy of the published image to draw on.
func (s *Surface) scratch() (*image.RGBA, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.released {
		return nil, false
	}
	img := &image.RGBA{
		Pix:    make([]byte, len(s.front.Pix)),
		Stride: s.front.Stride,
		Rect:   s.front.Rect,
	}
	copy(img.Pix, s.front.Pix)
	return img, true
}

// publish makes img the visible image. It reports false if the surface was
// released in the meantime.
func (s *Surface) publish(img *image.RGBA) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.front = img
	return true
}
