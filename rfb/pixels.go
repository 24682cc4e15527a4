package rfb

import (
	"image"
	"image/color"
)

// ValidatePixelFormat reports whether pf can be decoded into RGBA. Only
// 24 and 32 bit true-colour formats are supported.
func ValidatePixelFormat(pf PixelFormat) error {
	if pf.TrueColorFlag == 0 {
		return Errorf("validate pixel format", UnsupportedFormat, "colour-mapped formats are not supported")
	}
	switch pf.BitsPerPixel {
	case 24, 32:
	default:
		return Errorf("validate pixel format", UnsupportedFormat, "%d bits per pixel is not supported", pf.BitsPerPixel)
	}
	if pf.RedMax == 0 || pf.GreenMax == 0 || pf.BlueMax == 0 {
		return Errorf("validate pixel format", UnsupportedFormat, "component maximum must be non-zero")
	}
	if pf.RedShift >= pf.BitsPerPixel || pf.GreenShift >= pf.BitsPerPixel || pf.BlueShift >= pf.BitsPerPixel {
		return Errorf("validate pixel format", UnsupportedFormat, "component shift exceeds pixel width")
	}
	return nil
}

// Converter turns wire pixels of a single validated format into RGBA.
type Converter struct {
	pf            PixelFormat
	bytesPerPixel int
	r, g, b       [256]uint8
	small         bool
}

// NewConverter validates pf and prepares scale tables for it.
func NewConverter(pf PixelFormat) (*Converter, error) {
	if err := ValidatePixelFormat(pf); err != nil {
		return nil, err
	}
	c := &Converter{pf: pf, bytesPerPixel: pf.BytesPerPixel()}
	if pf.RedMax <= 255 && pf.GreenMax <= 255 && pf.BlueMax <= 255 {
		c.small = true
		for i := 0; i < 256; i++ {
			c.r[i] = scale(uint32(i), pf.RedMax)
			c.g[i] = scale(uint32(i), pf.GreenMax)
			c.b[i] = scale(uint32(i), pf.BlueMax)
		}
	}
	return c, nil
}

// PixelFormat returns the format the converter was built for.
func (c *Converter) PixelFormat() PixelFormat {
	return c.pf
}

// BytesPerPixel is the wire size of one input pixel.
func (c *Converter) BytesPerPixel() int {
	return c.bytesPerPixel
}

// Convert decodes one pixel. raw must hold exactly BytesPerPixel bytes.
func (c *Converter) Convert(raw []byte) color.RGBA {
	v := ReadPixelValue(raw, c.pf.BigEndianFlag)
	r := (v >> c.pf.RedShift) & uint32(c.pf.RedMax)
	g := (v >> c.pf.GreenShift) & uint32(c.pf.GreenMax)
	b := (v >> c.pf.BlueShift) & uint32(c.pf.BlueMax)
	if c.small {
		return color.RGBA{R: c.r[r], G: c.g[g], B: c.b[b], A: 255}
	}
	return color.RGBA{
		R: scale(r, c.pf.RedMax),
		G: scale(g, c.pf.GreenMax),
		B: scale(b, c.pf.BlueMax),
		A: 255,
	}
}

// ConvertRow decodes len(dst)/4 pixels from src into dst as packed RGBA.
func (c *Converter) ConvertRow(dst, src []byte) {
	bpp := c.bytesPerPixel
	for i, j := 0, 0; i+3 < len(dst) && j+bpp <= len(src); i, j = i+4, j+bpp {
		px := c.Convert(src[j : j+bpp])
		dst[i] = px.R
		dst[i+1] = px.G
		dst[i+2] = px.B
		dst[i+3] = px.A
	}
}

// ConvertPixel converts a single pixel from the server's format to RGBA.
func ConvertPixel(raw []byte, pf PixelFormat) (color.RGBA, error) {
	c, err := NewConverter(pf)
	if err != nil {
		return color.RGBA{}, err
	}
	if len(raw) != c.bytesPerPixel {
		return color.RGBA{}, Errorf("convert pixel", MalformedRectangle, "pixel has %d bytes, want %d", len(raw), c.bytesPerPixel)
	}
	return c.Convert(raw), nil
}

// scale maps v in [0, max] to [0, 255], rounding to nearest.
func scale(v uint32, max uint16) uint8 {
	m := uint32(max)
	if v >= m {
		return 255
	}
	return uint8((v*255 + m/2) / m)
}

// EncodePixels converts an RGBA image into the target pixel format, row by
// row. Any bits per pixel from 8 to 32 are produced.
func EncodePixels(img *image.RGBA, targetFormat PixelFormat) []byte {
	bounds := img.Bounds()
	bytesPerPixel := targetFormat.BytesPerPixel()
	out := make([]byte, bounds.Dx()*bounds.Dy()*bytesPerPixel)

	offset := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[img.PixOffset(bounds.Min.X, y):]
		for x := 0; x < bounds.Dx(); x++ {
			r := uint32(row[x*4])
			g := uint32(row[x*4+1])
			b := uint32(row[x*4+2])

			pixelValue := (r*uint32(targetFormat.RedMax)+127)/255<<targetFormat.RedShift |
				(g*uint32(targetFormat.GreenMax)+127)/255<<targetFormat.GreenShift |
				(b*uint32(targetFormat.BlueMax)+127)/255<<targetFormat.BlueShift

			WritePixelValue(out[offset:offset+bytesPerPixel], pixelValue, targetFormat.BigEndianFlag)
			offset += bytesPerPixel
		}
	}
	return out
}

// WritePixelValue writes a pixel value to the buffer in the specified endianness
func WritePixelValue(buffer []byte, value uint32, bigEndian uint8) {
	switch len(buffer) {
	case 1:
		buffer[0] = uint8(value)
	case 2:
		if bigEndian == 1 {
			buffer[0] = uint8(value >> 8)
			buffer[1] = uint8(value)
		} else {
			buffer[0] = uint8(value)
			buffer[1] = uint8(value >> 8)
		}
	case 3:
		if bigEndian == 1 {
			buffer[0] = uint8(value >> 16)
			buffer[1] = uint8(value >> 8)
			buffer[2] = uint8(value)
		} else {
			buffer[0] = uint8(value)
			buffer[1] = uint8(value >> 8)
			buffer[2] = uint8(value >> 16)
		}
	case 4:
		if bigEndian == 1 {
			buffer[0] = uint8(value >> 24)
			buffer[1] = uint8(value >> 16)
			buffer[2] = uint8(value >> 8)
			buffer[3] = uint8(value)
		} else {
			buffer[0] = uint8(value)
			buffer[1] = uint8(value >> 8)
			buffer[2] = uint8(value >> 16)
			buffer[3] = uint8(value >> 24)
		}
	}
}

// ReadPixelValue reads a pixel value from the buffer considering endianness
func ReadPixelValue(buffer []byte, bigEndian uint8) uint32 {
	var v uint32
	if bigEndian == 1 {
		for _, b := range buffer {
			v = v<<8 | uint32(b)
		}
		return v
	}
	for i := len(buffer) - 1; i >= 0; i-- {
		v = v<<8 | uint32(buffer[i])
	}
	return v
}

// IsDefaultPixelFormat checks if a pixel format matches the default 32bpp BGRA format
func IsDefaultPixelFormat(pf PixelFormat) bool {
	def := DefaultPixelFormat()
	pf.Padding = def.Padding
	return pf == def
}
