package rfb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxTextLength bounds cut text and desktop names read off the wire.
const maxTextLength = 16 << 20

func (ServerInit) serverMessage() {}

// ReadServerMessage reads one server-to-client message for a width x
// height framebuffer. pf sizes raw pixel payloads. Each rectangle header is
// checked against the framebuffer before its payload is read, so an
// oversized rectangle fails with OutOfBounds without allocating. Rectangles
// in encodings other than raw cannot be framed and fail with
// UnsupportedEncoding; unknown message types wrap ErrUnknownMessage and
// leave the stream unaligned.
func ReadServerMessage(r io.Reader, pf PixelFormat, width, height uint16) (ServerMessage, error) {
	var msgType [1]byte
	if _, err := io.ReadFull(r, msgType[:]); err != nil {
		return nil, err
	}

	switch msgType[0] {
	case MsgFramebufferUpdate:
		return readFramebufferUpdate(r, pf, width, height)
	case MsgSetColorMapEntries:
		var header [5]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, unexpected(err)
		}
		msg := SetColorMapEntries{FirstColor: binary.BigEndian.Uint16(header[1:3])}
		body := make([]byte, 6*int(binary.BigEndian.Uint16(header[3:5])))
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, unexpected(err)
		}
		msg.Colors = make([]ColorMapEntry, len(body)/6)
		for i := range msg.Colors {
			msg.Colors[i] = ColorMapEntry{
				Red:   binary.BigEndian.Uint16(body[6*i:]),
				Green: binary.BigEndian.Uint16(body[6*i+2:]),
				Blue:  binary.BigEndian.Uint16(body[6*i+4:]),
			}
		}
		return msg, nil
	case MsgBell:
		return Bell{}, nil
	case MsgServerCutText:
		var header [7]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, unexpected(err)
		}
		n := binary.BigEndian.Uint32(header[3:7])
		if n > maxTextLength {
			return nil, Errorf("read server cut text", ProtocolViolation, "text length %d exceeds limit", n)
		}
		text := make([]byte, n)
		if _, err := io.ReadFull(r, text); err != nil {
			return nil, unexpected(err)
		}
		return ServerCutText{Text: string(text)}, nil
	default:
		return nil, fmt.Errorf("%w: server message %d", ErrUnknownMessage, msgType[0])
	}
}

func readFramebufferUpdate(r io.Reader, pf PixelFormat, width, height uint16) (FramebufferUpdate, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return FramebufferUpdate{}, unexpected(err)
	}
	numRects := int(binary.BigEndian.Uint16(header[1:3]))
	bpp := pf.BytesPerPixel()
	if bpp == 0 {
		return FramebufferUpdate{}, Errorf("read framebuffer update", UnsupportedFormat, "%d bits per pixel", pf.BitsPerPixel)
	}

	update := FramebufferUpdate{Rectangles: make([]Rectangle, 0, numRects)}
	var rh [RectangleHeaderLength]byte
	for i := 0; i < numRects; i++ {
		if _, err := io.ReadFull(r, rh[:]); err != nil {
			return FramebufferUpdate{}, unexpected(err)
		}
		rect, err := parseRectangleHeader(rh[:], i, width, height)
		if err != nil {
			return FramebufferUpdate{}, err
		}
		rect.Pixels = make([]byte, rect.Area()*bpp)
		if _, err := io.ReadFull(r, rect.Pixels); err != nil {
			return FramebufferUpdate{}, unexpected(err)
		}
		update.Rectangles = append(update.Rectangles, rect)
	}
	return update, nil
}

// parseRectangleHeader decodes the i-th rectangle header of an update and
// rejects it unless it is a raw rectangle inside the framebuffer.
func parseRectangleHeader(h []byte, i int, width, height uint16) (Rectangle, error) {
	rect := Rectangle{
		X:        binary.BigEndian.Uint16(h[0:2]),
		Y:        binary.BigEndian.Uint16(h[2:4]),
		Width:    binary.BigEndian.Uint16(h[4:6]),
		Height:   binary.BigEndian.Uint16(h[6:8]),
		Encoding: Encoding(int32(binary.BigEndian.Uint32(h[8:12]))),
	}
	if err := rect.CheckBounds(int(width), int(height)); err != nil {
		return Rectangle{}, fmt.Errorf("rectangle %d: %w", i, err)
	}
	if rect.Encoding != EncodingRaw {
		return Rectangle{}, Errorf("read framebuffer update", UnsupportedEncoding, "rectangle %d uses %s encoding (%d)", i, rect.Encoding, int32(rect.Encoding))
	}
	return rect, nil
}

// unexpected turns a clean EOF in the middle of a message into
// io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// serverMessageLength reports the total length of the server message at the
// start of buf, or io.ErrShortBuffer when buf does not yet say. Rectangle
// headers are validated as soon as they are buffered.
func serverMessageLength(buf []byte, pf PixelFormat, width, height uint16) (int, error) {
	if len(buf) == 0 {
		return 0, io.ErrShortBuffer
	}
	switch buf[0] {
	case MsgFramebufferUpdate:
		if len(buf) < 4 {
			return 0, io.ErrShortBuffer
		}
		bpp := pf.BytesPerPixel()
		if bpp == 0 {
			return 0, Errorf("frame server message", UnsupportedFormat, "%d bits per pixel", pf.BitsPerPixel)
		}
		n := int(binary.BigEndian.Uint16(buf[2:4]))
		off := 4
		for i := 0; i < n; i++ {
			if len(buf) < off+RectangleHeaderLength {
				return 0, io.ErrShortBuffer
			}
			rect, err := parseRectangleHeader(buf[off:off+RectangleHeaderLength], i, width, height)
			if err != nil {
				return 0, err
			}
			off += RectangleHeaderLength + rect.Area()*bpp
		}
		return off, nil
	case MsgSetColorMapEntries:
		if len(buf) < 6 {
			return 0, io.ErrShortBuffer
		}
		return 6 + 6*int(binary.BigEndian.Uint16(buf[4:6])), nil
	case MsgBell:
		return 1, nil
	case MsgServerCutText:
		if len(buf) < 8 {
			return 0, io.ErrShortBuffer
		}
		n := binary.BigEndian.Uint32(buf[4:8])
		if n > maxTextLength {
			return 0, Errorf("frame server message", ProtocolViolation, "text length %d exceeds limit", n)
		}
		return 8 + int(n), nil
	default:
		return 0, fmt.Errorf("%w: server message %d", ErrUnknownMessage, buf[0])
	}
}

// EncodeFramebufferUpdate encodes an update. Rectangle payloads are written
// as given.
func EncodeFramebufferUpdate(update FramebufferUpdate) []byte {
	size := 4
	for _, r := range update.Rectangles {
		size += RectangleHeaderLength + len(r.Pixels)
	}
	msg := make([]byte, 4, size)
	msg[0] = MsgFramebufferUpdate
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(update.Rectangles)))
	for _, r := range update.Rectangles {
		var h [RectangleHeaderLength]byte
		binary.BigEndian.PutUint16(h[0:2], r.X)
		binary.BigEndian.PutUint16(h[2:4], r.Y)
		binary.BigEndian.PutUint16(h[4:6], r.Width)
		binary.BigEndian.PutUint16(h[6:8], r.Height)
		binary.BigEndian.PutUint32(h[8:12], uint32(r.Encoding))
		msg = append(msg, h[:]...)
		msg = append(msg, r.Pixels...)
	}
	return msg
}

// EncodeSetColorMapEntries encodes a colour map update.
func EncodeSetColorMapEntries(m SetColorMapEntries) []byte {
	msg := make([]byte, 6+6*len(m.Colors))
	msg[0] = MsgSetColorMapEntries
	binary.BigEndian.PutUint16(msg[2:4], m.FirstColor)
	binary.BigEndian.PutUint16(msg[4:6], uint16(len(m.Colors)))
	for i, c := range m.Colors {
		binary.BigEndian.PutUint16(msg[6+6*i:], c.Red)
		binary.BigEndian.PutUint16(msg[8+6*i:], c.Green)
		binary.BigEndian.PutUint16(msg[10+6*i:], c.Blue)
	}
	return msg
}

// EncodeBell encodes a Bell message.
func EncodeBell() []byte {
	return []byte{MsgBell}
}

// EncodeServerCutText encodes a ServerCutText message.
func EncodeServerCutText(text string) []byte {
	msg := make([]byte, 8+len(text))
	msg[0] = MsgServerCutText
	binary.BigEndian.PutUint32(msg[4:8], uint32(len(text)))
	copy(msg[8:], text)
	return msg
}

// StreamDecoder frames server messages out of a byte stream whose chunk
// boundaries are arbitrary. The first message decoded is the ServerInit.
type StreamDecoder struct {
	buf      []byte
	pf       PixelFormat
	init     ServerInit
	haveInit bool
}

// NewStreamDecoder returns a decoder that expects a ServerInit first.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{}
}

// SetPixelFormat changes the format used to size later raw rectangles.
func (d *StreamDecoder) SetPixelFormat(pf PixelFormat) {
	d.pf = pf
}

// Feed appends stream bytes.
func (d *StreamDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered is the number of bytes not yet consumed.
func (d *StreamDecoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete message, or nil with a nil error when more
// bytes are needed. An unknown message type is fatal here since its length
// cannot be known.
func (d *StreamDecoder) Next() (ServerMessage, error) {
	var n int
	var err error
	if !d.haveInit {
		n, err = serverInitLength(d.buf)
	} else {
		n, err = serverMessageLength(d.buf, d.pf, d.init.Width, d.init.Height)
	}
	if err == io.ErrShortBuffer || (err == nil && len(d.buf) < n) {
		return nil, nil
	}
	if errors.Is(err, ErrUnknownMessage) {
		return nil, NewError("decode stream", ProtocolViolation, "cannot frame server message", err)
	}
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(d.buf[:n])
	var msg ServerMessage
	if !d.haveInit {
		init, ierr := ReadServerInit(r)
		if ierr != nil {
			return nil, ierr
		}
		d.haveInit = true
		d.init = init
		d.pf = init.PixelFormat
		msg = init
	} else {
		msg, err = ReadServerMessage(r, d.pf, d.init.Width, d.init.Height)
		if err != nil {
			return nil, err
		}
	}

	d.buf = append(d.buf[:0], d.buf[n:]...)
	return msg, nil
}

func serverInitLength(buf []byte) (int, error) {
	if len(buf) < ServerInitHeaderLength {
		return 0, io.ErrShortBuffer
	}
	n := binary.BigEndian.Uint32(buf[20:24])
	if n > maxTextLength {
		return 0, Errorf("frame server init", ProtocolViolation, "desktop name length %d exceeds limit", n)
	}
	return ServerInitHeaderLength + int(n), nil
}
