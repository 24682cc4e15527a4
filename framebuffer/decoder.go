package framebuffer

import (
	"context"
	"errors"
	"image"

	"github.com/coder/vncgate/rfb"
)

// ErrReleased is returned when an update targets a released surface.
var ErrReleased = errors.New("framebuffer: surface released")

// Decoder applies framebuffer updates in one pixel format.
type Decoder struct {
	conv *rfb.Converter
}

// NewDecoder returns a decoder for pf, or an UnsupportedFormat error.
func NewDecoder(pf rfb.PixelFormat) (*Decoder, error) {
	conv, err := rfb.NewConverter(pf)
	if err != nil {
		return nil, err
	}
	return &Decoder{conv: conv}, nil
}

// PixelFormat is the format the decoder reads.
func (d *Decoder) PixelFormat() rfb.PixelFormat {
	return d.conv.PixelFormat()
}

// Validate checks one rectangle against a surface of the given size.
// Zero-area rectangles are always valid.
func (d *Decoder) Validate(r rfb.Rectangle, width, height int) error {
	if r.Area() == 0 {
		return nil
	}
	if err := r.CheckBounds(width, height); err != nil {
		return err
	}
	if r.Encoding != rfb.EncodingRaw {
		return rfb.Errorf("apply rectangle", rfb.UnsupportedEncoding, "%s encoding (%d)", r.Encoding, int32(r.Encoding))
	}
	if want := r.Area() * d.conv.BytesPerPixel(); len(r.Pixels) != want {
		return rfb.Errorf("apply rectangle", rfb.MalformedRectangle,
			"%dx%d rectangle carries %d bytes, want %d", r.Width, r.Height, len(r.Pixels), want)
	}
	return nil
}

// Apply draws every rectangle of update, in order, onto a copy of the
// surface and publishes the result. It returns the union of the painted
// regions. On any error, or if ctx is done between rectangles, nothing is
// published.
func (d *Decoder) Apply(ctx context.Context, s *Surface, update rfb.FramebufferUpdate) (image.Rectangle, error) {
	img, ok := s.scratch()
	if !ok {
		return image.Rectangle{}, ErrReleased
	}

	var dirty image.Rectangle
	bpp := d.conv.BytesPerPixel()
	for _, r := range update.Rectangles {
		if err := ctx.Err(); err != nil {
			return image.Rectangle{}, err
		}
		if err := d.Validate(r, s.Width(), s.Height()); err != nil {
			return image.Rectangle{}, err
		}
		if r.Area() == 0 {
			continue
		}

		w, h := int(r.Width), int(r.Height)
		rowBytes := w * bpp
		for row := 0; row < h; row++ {
			off := img.PixOffset(int(r.X), int(r.Y)+row)
			d.conv.ConvertRow(img.Pix[off:off+w*4], r.Pixels[row*rowBytes:(row+1)*rowBytes])
		}
		dirty = dirty.Union(image.Rect(int(r.X), int(r.Y), int(r.X)+w, int(r.Y)+h))
	}

	if dirty.Empty() {
		return dirty, nil
	}
	if !s.publish(img) {
		return image.Rectangle{}, ErrReleased
	}
	return dirty, nil
}
