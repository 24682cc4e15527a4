package rfb

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Framing selects how RFB traffic is carried over a message transport.
type Framing int

const (
	// FramingJSON carries server messages as JSON envelopes in text frames.
	FramingJSON Framing = iota
	// FramingCBOR carries the same envelopes CBOR-encoded in binary frames.
	FramingCBOR
	// FramingRaw carries the RFB byte stream in binary frames, starting
	// with the ServerInit message.
	FramingRaw
)

func (f Framing) String() string {
	switch f {
	case FramingJSON:
		return "json"
	case FramingCBOR:
		return "cbor"
	case FramingRaw:
		return "raw"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

// ParseFraming parses a framing name as used in configuration.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FramingJSON, nil
	case "cbor":
		return FramingCBOR, nil
	case "raw", "binary":
		return FramingRaw, nil
	default:
		return 0, fmt.Errorf("unknown framing %q (want json, cbor or raw)", s)
	}
}

// Codec returns the envelope codec for f, or nil for FramingRaw.
func (f Framing) Codec() Codec {
	switch f {
	case FramingJSON:
		return JSONCodec{}
	case FramingCBOR:
		return CBORCodec{}
	default:
		return nil
	}
}

// Envelope is the structured form of a message exchanged with the browser.
// Type selects which of the other fields are meaningful.
type Envelope struct {
	Type string `json:"type"`

	// init
	Width       uint16       `json:"width,omitempty"`
	Height      uint16       `json:"height,omitempty"`
	PixelFormat *PixelFormat `json:"pixelFormat,omitempty"`
	Name        string       `json:"name,omitempty"`

	// framebuffer_update, single rectangle form; also framebuffer_request
	// and pointer_event coordinates.
	X         uint16 `json:"x,omitempty"`
	Y         uint16 `json:"y,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	PixelData []byte `json:"pixelData,omitempty"`

	// framebuffer_update, multi rectangle form
	Rectangles []EnvelopeRect `json:"rectangles,omitempty"`

	// server_cut_text
	Text string `json:"text,omitempty"`
	// error
	Message string `json:"message,omitempty"`

	// framebuffer_request
	Incremental bool `json:"incremental,omitempty"`
	// key_event
	Down   bool   `json:"down,omitempty"`
	Keysym uint32 `json:"keysym,omitempty"`
	// pointer_event
	ButtonMask uint8 `json:"buttonMask,omitempty"`
}

// EnvelopeRect is one rectangle of a framebuffer_update envelope.
type EnvelopeRect struct {
	X         uint16 `json:"x"`
	Y         uint16 `json:"y"`
	Width     uint16 `json:"width"`
	Height    uint16 `json:"height"`
	Encoding  string `json:"encoding"`
	PixelData []byte `json:"pixelData"`
}

// Codec marshals envelopes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Binary reports whether encoded envelopes travel in binary frames.
	Binary() bool
}

// JSONCodec encodes envelopes as JSON. Byte payloads are base64 strings.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Binary() bool                       { return false }

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rfb: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("rfb: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes envelopes as deterministic CBOR. Field names follow the
// json tags, so both codecs produce the same logical document.
type CBORCodec struct{}

func (CBORCodec) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (CBORCodec) Unmarshal(data []byte, v any) error { return cborDec.Unmarshal(data, v) }
func (CBORCodec) Binary() bool                       { return true }

// ServerEnvelope builds the envelope for a server message. SetColorMapEntries
// has no envelope form and yields ErrUnknownMessage.
func ServerEnvelope(msg ServerMessage) (Envelope, error) {
	switch m := msg.(type) {
	case ServerInit:
		pf := m.PixelFormat
		return Envelope{Type: EnvelopeInit, Width: m.Width, Height: m.Height, PixelFormat: &pf, Name: m.Name}, nil
	case FramebufferUpdate:
		env := Envelope{Type: EnvelopeFramebufferUpdate, Rectangles: make([]EnvelopeRect, len(m.Rectangles))}
		for i, r := range m.Rectangles {
			env.Rectangles[i] = EnvelopeRect{
				X:         r.X,
				Y:         r.Y,
				Width:     r.Width,
				Height:    r.Height,
				Encoding:  r.Encoding.String(),
				PixelData: r.Pixels,
			}
		}
		return env, nil
	case Bell:
		return Envelope{Type: EnvelopeBell}, nil
	case ServerCutText:
		return Envelope{Type: EnvelopeServerCutText, Text: m.Text}, nil
	case ServerFailure:
		return Envelope{Type: EnvelopeError, Message: m.Message}, nil
	default:
		return Envelope{}, fmt.Errorf("%w: no envelope for %T", ErrUnknownMessage, msg)
	}
}

// EncodeServerEnvelope marshals msg with codec.
func EncodeServerEnvelope(codec Codec, msg ServerMessage) ([]byte, error) {
	env, err := ServerEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(env)
}

// DecodeServerEnvelope unmarshals a server envelope into a ServerMessage.
// Unknown discriminators wrap ErrUnknownMessage.
func DecodeServerEnvelope(codec Codec, data []byte) (ServerMessage, error) {
	var env Envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, NewError("decode envelope", ProtocolViolation, "malformed envelope", err)
	}

	switch env.Type {
	case EnvelopeInit:
		if env.PixelFormat == nil {
			return nil, Errorf("decode envelope", ProtocolViolation, "init envelope without pixel format")
		}
		return ServerInit{Width: env.Width, Height: env.Height, PixelFormat: *env.PixelFormat, Name: env.Name}, nil
	case EnvelopeFramebufferUpdate:
		rects := env.Rectangles
		if rects == nil && (env.Encoding != "" || len(env.PixelData) > 0) {
			rects = []EnvelopeRect{{X: env.X, Y: env.Y, Width: env.Width, Height: env.Height, Encoding: env.Encoding, PixelData: env.PixelData}}
		}
		update := FramebufferUpdate{Rectangles: make([]Rectangle, len(rects))}
		for i, r := range rects {
			enc, ok := ParseEncoding(r.Encoding)
			if !ok {
				return nil, Errorf("decode envelope", UnsupportedEncoding, "rectangle %d has unknown encoding %q", i, r.Encoding)
			}
			update.Rectangles[i] = Rectangle{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height, Encoding: enc, Pixels: r.PixelData}
		}
		return update, nil
	case EnvelopeBell:
		return Bell{}, nil
	case EnvelopeServerCutText:
		return ServerCutText{Text: env.Text}, nil
	case EnvelopeError:
		return ServerFailure{Message: env.Message}, nil
	default:
		return nil, fmt.Errorf("%w: envelope %q", ErrUnknownMessage, env.Type)
	}
}

// ClientEnvelope builds the envelope for an outgoing client message. It
// returns false for messages with no envelope form.
func ClientEnvelope(msg any) (Envelope, bool) {
	switch m := msg.(type) {
	case FramebufferUpdateRequest:
		return Envelope{Type: EnvelopeFramebufferRequest, X: m.X, Y: m.Y, Width: m.Width, Height: m.Height, Incremental: m.Incremental}, true
	case KeyEvent:
		return Envelope{Type: EnvelopeKeyEvent, Down: m.Down, Keysym: m.Keysym}, true
	case PointerEvent:
		return Envelope{Type: EnvelopePointerEvent, ButtonMask: uint8(m.ButtonMask), X: m.X, Y: m.Y}, true
	default:
		return Envelope{}, false
	}
}

// DecodeClientEnvelope turns a client envelope into the binary message the
// server expects.
func DecodeClientEnvelope(codec Codec, data []byte) ([]byte, error) {
	var env Envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, NewError("decode client envelope", ProtocolViolation, "malformed envelope", err)
	}

	switch env.Type {
	case EnvelopeFramebufferRequest:
		return EncodeFramebufferUpdateRequest(FramebufferUpdateRequest{
			Incremental: env.Incremental,
			X:           env.X,
			Y:           env.Y,
			Width:       env.Width,
			Height:      env.Height,
		}), nil
	case EnvelopeKeyEvent:
		return EncodeKeyEvent(KeyEvent{Down: env.Down, Keysym: env.Keysym}), nil
	case EnvelopePointerEvent:
		return EncodePointerEvent(PointerEvent{ButtonMask: ButtonMask(env.ButtonMask), X: env.X, Y: env.Y}), nil
	default:
		return nil, fmt.Errorf("%w: client envelope %q", ErrUnknownMessage, env.Type)
	}
}
