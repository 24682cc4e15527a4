package rfb

// PixelFormat represents the RFB pixel format structure
type PixelFormat struct {
	BitsPerPixel  uint8    `json:"bitsPerPixel"`
	Depth         uint8    `json:"depth"`
	BigEndianFlag uint8    `json:"bigEndianFlag"`
	TrueColorFlag uint8    `json:"trueColorFlag"`
	RedMax        uint16   `json:"redMax"`
	GreenMax      uint16   `json:"greenMax"`
	BlueMax       uint16   `json:"blueMax"`
	RedShift      uint8    `json:"redShift"`
	GreenShift    uint8    `json:"greenShift"`
	BlueShift     uint8    `json:"blueShift"`
	Padding       [3]uint8 `json:"-"`
}

// BytesPerPixel is the wire size of one pixel.
func (pf PixelFormat) BytesPerPixel() int {
	return int(pf.BitsPerPixel) / 8
}

// ServerInit represents the server initialization message
type ServerInit struct {
	Width       uint16
	Height      uint16
	PixelFormat PixelFormat
	Name        string
}

// Rectangle is one region of a framebuffer update. Pixels holds the
// encoded payload, which for raw encoding is Width*Height pixels in the
// session's pixel format.
type Rectangle struct {
	X        uint16
	Y        uint16
	Width    uint16
	Height   uint16
	Encoding Encoding
	Pixels   []byte
}

// Area is the number of pixels the rectangle covers.
func (r Rectangle) Area() int {
	return int(r.Width) * int(r.Height)
}

// CheckBounds returns an OutOfBounds error when r does not fit a width x
// height framebuffer. Zero-area rectangles always fit.
func (r Rectangle) CheckBounds(width, height int) error {
	if r.Area() == 0 {
		return nil
	}
	if int(r.X)+int(r.Width) > width || int(r.Y)+int(r.Height) > height {
		return Errorf("check rectangle", OutOfBounds,
			"%dx%d at (%d,%d) exceeds %dx%d framebuffer", r.Width, r.Height, r.X, r.Y, width, height)
	}
	return nil
}

// ServerMessage is implemented by every message a server can send after
// initialization.
type ServerMessage interface {
	serverMessage()
}

// FramebufferUpdate carries rectangles to be applied in order.
type FramebufferUpdate struct {
	Rectangles []Rectangle
}

// ColorMapEntry is one 16-bit-per-channel colour map slot.
type ColorMapEntry struct {
	Red, Green, Blue uint16
}

// SetColorMapEntries updates a colour-mapped palette. Colour-mapped
// formats are not rendered; the message is parsed to keep the stream
// aligned.
type SetColorMapEntries struct {
	FirstColor uint16
	Colors     []ColorMapEntry
}

// Bell asks the client to ring.
type Bell struct{}

// ServerCutText carries the server's clipboard contents.
type ServerCutText struct {
	Text string
}

// ServerFailure is a fatal error report from the server or the gateway in
// front of it.
type ServerFailure struct {
	Message string
}

func (FramebufferUpdate) serverMessage()  {}
func (SetColorMapEntries) serverMessage() {}
func (Bell) serverMessage()               {}
func (ServerCutText) serverMessage()      {}
func (ServerFailure) serverMessage()      {}

// FramebufferUpdateRequest asks the server for the given region.
type FramebufferUpdateRequest struct {
	Incremental bool
	X           uint16
	Y           uint16
	Width       uint16
	Height      uint16
}

// KeyEvent presses or releases the key identified by Keysym.
type KeyEvent struct {
	Down   bool
	Keysym uint32
}

// PointerEvent reports pointer position and the buttons held down.
type PointerEvent struct {
	ButtonMask ButtonMask
	X          uint16
	Y          uint16
}

// DefaultPixelFormat returns the standard 32bpp BGRA pixel format
func DefaultPixelFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel:  32,
		Depth:         24,
		BigEndianFlag: 0, // little-endian
		TrueColorFlag: 1,
		RedMax:        255,
		GreenMax:      255,
		BlueMax:       255,
		RedShift:      16,
		GreenShift:    8,
		BlueShift:     0,
	}
}

// RGB565PixelFormat returns a 16bpp RGB565 pixel format. The engine
// rejects it for decoding; the mock server still produces it.
func RGB565PixelFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel:  16,
		Depth:         16,
		BigEndianFlag: 0,
		TrueColorFlag: 1,
		RedMax:        31,
		GreenMax:      63,
		BlueMax:       31,
		RedShift:      11,
		GreenShift:    5,
		BlueShift:     0,
	}
}

// Packed24PixelFormat returns a 24bpp big-endian RGB format.
func Packed24PixelFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel:  24,
		Depth:         24,
		BigEndianFlag: 1,
		TrueColorFlag: 1,
		RedMax:        255,
		GreenMax:      255,
		BlueMax:       255,
		RedShift:      16,
		GreenShift:    8,
		BlueShift:     0,
	}
}
