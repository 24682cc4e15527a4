package rfb

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func rawRect(x, y, w, h uint16, pf PixelFormat) Rectangle {
	pixels := make([]byte, int(w)*int(h)*pf.BytesPerPixel())
	for i := range pixels {
		pixels[i] = byte(i)
	}
	return Rectangle{X: x, Y: y, Width: w, Height: h, Encoding: EncodingRaw, Pixels: pixels}
}

func TestReadServerMessage(t *testing.T) {
	pf := DefaultPixelFormat()
	update := FramebufferUpdate{Rectangles: []Rectangle{rawRect(0, 0, 2, 2, pf), rawRect(5, 5, 0, 3, pf)}}

	var stream bytes.Buffer
	stream.Write(EncodeFramebufferUpdate(update))
	stream.Write(EncodeBell())
	stream.Write(EncodeServerCutText("clip"))
	stream.Write(EncodeSetColorMapEntries(SetColorMapEntries{FirstColor: 4, Colors: []ColorMapEntry{{1, 2, 3}}}))

	msg, err := ReadServerMessage(&stream, pf, 8, 8)
	if err != nil {
		t.Fatalf("ReadServerMessage() error = %v", err)
	}
	fu, ok := msg.(FramebufferUpdate)
	if !ok {
		t.Fatalf("ReadServerMessage() = %T, want FramebufferUpdate", msg)
	}
	if len(fu.Rectangles) != 2 {
		t.Fatalf("rectangles = %d, want 2", len(fu.Rectangles))
	}
	if !bytes.Equal(fu.Rectangles[0].Pixels, update.Rectangles[0].Pixels) {
		t.Error("rectangle 0 pixels differ")
	}
	if fu.Rectangles[1].X != 5 || fu.Rectangles[1].Width != 0 || len(fu.Rectangles[1].Pixels) != 0 {
		t.Errorf("rectangle 1 = %+v, want empty at x=5", fu.Rectangles[1])
	}

	if msg, err = ReadServerMessage(&stream, pf, 8, 8); err != nil || msg != (Bell{}) {
		t.Errorf("ReadServerMessage() = %v, %v, want Bell", msg, err)
	}
	if msg, err = ReadServerMessage(&stream, pf, 8, 8); err != nil || msg != (ServerCutText{Text: "clip"}) {
		t.Errorf("ReadServerMessage() = %v, %v, want ServerCutText", msg, err)
	}
	msg, err = ReadServerMessage(&stream, pf, 8, 8)
	if err != nil {
		t.Fatalf("ReadServerMessage() error = %v", err)
	}
	if cm, ok := msg.(SetColorMapEntries); !ok || cm.FirstColor != 4 || len(cm.Colors) != 1 || cm.Colors[0].Blue != 3 {
		t.Errorf("ReadServerMessage() = %+v, want SetColorMapEntries", msg)
	}

	if _, err := ReadServerMessage(&stream, pf, 8, 8); err != io.EOF {
		t.Errorf("ReadServerMessage(empty) error = %v, want io.EOF", err)
	}
}

func TestReadServerMessageErrors(t *testing.T) {
	pf := DefaultPixelFormat()

	if _, err := ReadServerMessage(bytes.NewReader([]byte{77}), pf, 16, 16); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("unknown type error = %v, want %v", err, ErrUnknownMessage)
	}

	hextile := EncodeFramebufferUpdate(FramebufferUpdate{Rectangles: []Rectangle{{Width: 16, Height: 16, Encoding: EncodingHextile}}})
	if _, err := ReadServerMessage(bytes.NewReader(hextile), pf, 16, 16); KindOf(err) != UnsupportedEncoding {
		t.Errorf("hextile error = %v, want %v", err, UnsupportedEncoding)
	}

	full := EncodeFramebufferUpdate(FramebufferUpdate{Rectangles: []Rectangle{rawRect(0, 0, 4, 4, pf)}})
	if _, err := ReadServerMessage(bytes.NewReader(full[:len(full)-1]), pf, 16, 16); err != io.ErrUnexpectedEOF {
		t.Errorf("truncated error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

// oversizedUpdate is the header of a one-rectangle raw update with no
// pixel data behind it.
func oversizedUpdate(x, y, w, h uint16) []byte {
	return EncodeFramebufferUpdate(FramebufferUpdate{Rectangles: []Rectangle{{X: x, Y: y, Width: w, Height: h, Encoding: EncodingRaw}}})
}

func TestReadServerMessageRejectsOversizedRectangle(t *testing.T) {
	pf := DefaultPixelFormat()
	tests := []struct {
		name   string
		header []byte
	}{
		{"huge", oversizedUpdate(0, 0, 65535, 65535)},
		{"past right edge", oversizedUpdate(700, 0, 101, 1)},
		{"past bottom edge", oversizedUpdate(0, 599, 1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Only the header is available; reading a payload would hit EOF.
			_, err := ReadServerMessage(bytes.NewReader(tt.header), pf, 800, 600)
			if KindOf(err) != OutOfBounds {
				t.Errorf("ReadServerMessage() error = %v, want %v", err, OutOfBounds)
			}
		})
	}

	edge := EncodeFramebufferUpdate(FramebufferUpdate{Rectangles: []Rectangle{rawRect(799, 599, 1, 1, pf)}})
	if _, err := ReadServerMessage(bytes.NewReader(edge), pf, 800, 600); err != nil {
		t.Errorf("ReadServerMessage(corner pixel) error = %v", err)
	}
}

func TestStreamDecoderChunked(t *testing.T) {
	pf := Packed24PixelFormat()
	init := ServerInit{Width: 4, Height: 4, PixelFormat: pf, Name: "chunky"}

	var stream []byte
	stream = append(stream, EncodeServerInit(init)...)
	stream = append(stream, EncodeFramebufferUpdate(FramebufferUpdate{Rectangles: []Rectangle{rawRect(0, 0, 4, 4, pf), rawRect(1, 1, 2, 1, pf)}})...)
	stream = append(stream, EncodeBell()...)
	stream = append(stream, EncodeServerCutText("done")...)

	for _, chunk := range []int{1, 3, 7, 64, len(stream)} {
		d := NewStreamDecoder()
		var got []ServerMessage
		for off := 0; off < len(stream); off += chunk {
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			d.Feed(stream[off:end])
			for {
				msg, err := d.Next()
				if err != nil {
					t.Fatalf("chunk %d: Next() error = %v", chunk, err)
				}
				if msg == nil {
					break
				}
				got = append(got, msg)
			}
		}

		if len(got) != 4 {
			t.Fatalf("chunk %d: decoded %d messages, want 4", chunk, len(got))
		}
		if got[0] != init {
			t.Errorf("chunk %d: first message = %+v, want %+v", chunk, got[0], init)
		}
		if fu := got[1].(FramebufferUpdate); len(fu.Rectangles[1].Pixels) != 6 {
			t.Errorf("chunk %d: rect 1 pixels = %d bytes, want 6", chunk, len(fu.Rectangles[1].Pixels))
		}
		if got[3] != (ServerCutText{Text: "done"}) {
			t.Errorf("chunk %d: last message = %+v", chunk, got[3])
		}
		if d.Buffered() != 0 {
			t.Errorf("chunk %d: %d bytes left over", chunk, d.Buffered())
		}
	}
}

func TestStreamDecoderPixelFormatChange(t *testing.T) {
	d := NewStreamDecoder()
	d.Feed(EncodeServerInit(ServerInit{Width: 2, Height: 1, PixelFormat: DefaultPixelFormat()}))
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	pf := Packed24PixelFormat()
	d.SetPixelFormat(pf)
	d.Feed(EncodeFramebufferUpdate(FramebufferUpdate{Rectangles: []Rectangle{rawRect(0, 0, 2, 1, pf)}}))
	msg, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if fu, ok := msg.(FramebufferUpdate); !ok || len(fu.Rectangles[0].Pixels) != 6 {
		t.Errorf("Next() = %+v, want 24bpp update", msg)
	}
}

func TestStreamDecoderUnknownTypeIsFatal(t *testing.T) {
	d := NewStreamDecoder()
	d.Feed(EncodeServerInit(ServerInit{Width: 1, Height: 1, PixelFormat: DefaultPixelFormat()}))
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	d.Feed([]byte{200, 0, 0})
	_, err := d.Next()
	if KindOf(err) != ProtocolViolation || !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Next() error = %v, want protocol violation wrapping unknown message", err)
	}
}

func TestStreamDecoderRejectsOversizedHeader(t *testing.T) {
	d := NewStreamDecoder()
	d.Feed(EncodeServerInit(ServerInit{Width: 800, Height: 600, PixelFormat: DefaultPixelFormat()}))
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	d.Feed(oversizedUpdate(0, 0, 65535, 65535))
	msg, err := d.Next()
	if KindOf(err) != OutOfBounds {
		t.Errorf("Next() = %v, %v, want %v", msg, err, OutOfBounds)
	}
}
