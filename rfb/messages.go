package rfb

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// GetMessageLength calculates the expected length of a client message based
// on its type. data holds the bytes seen so far, starting at the type byte.
func GetMessageLength(messageType byte, data []byte) (int, error) {
	switch messageType {
	case MsgSetPixelFormat:
		return SetPixelFormatLength, nil
	case MsgSetEncodings:
		if len(data) < 4 {
			return 0, io.ErrShortBuffer
		}
		return 4 + int(binary.BigEndian.Uint16(data[2:4]))*4, nil
	case MsgFramebufferUpdateRequest:
		return FramebufferUpdateRequestLength, nil
	case MsgKeyEvent:
		return KeyEventLength, nil
	case MsgPointerEvent:
		return PointerEventLength, nil
	case MsgClientCutText:
		if len(data) < 8 {
			return 0, io.ErrShortBuffer
		}
		return 8 + int(binary.BigEndian.Uint32(data[4:8])), nil
	default:
		return 0, fmt.Errorf("%w: client message %d", ErrUnknownMessage, messageType)
	}
}

// SplitClientMessages cuts buf into complete client messages. The unconsumed
// tail of an incomplete message is returned as rest.
func SplitClientMessages(buf []byte) (msgs [][]byte, rest []byte, err error) {
	for len(buf) > 0 {
		n, lerr := GetMessageLength(buf[0], buf)
		if lerr == io.ErrShortBuffer {
			break
		}
		if lerr != nil {
			return msgs, buf, lerr
		}
		if len(buf) < n {
			break
		}
		msgs = append(msgs, buf[:n:n])
		buf = buf[n:]
	}
	return msgs, buf, nil
}

func putPixelFormat(b []byte, pf PixelFormat) {
	b[0] = pf.BitsPerPixel
	b[1] = pf.Depth
	b[2] = pf.BigEndianFlag
	b[3] = pf.TrueColorFlag
	binary.BigEndian.PutUint16(b[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(b[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(b[8:10], pf.BlueMax)
	b[10] = pf.RedShift
	b[11] = pf.GreenShift
	b[12] = pf.BlueShift
	copy(b[13:16], pf.Padding[:])
}

func parsePixelFormat(b []byte) PixelFormat {
	return PixelFormat{
		BitsPerPixel:  b[0],
		Depth:         b[1],
		BigEndianFlag: b[2],
		TrueColorFlag: b[3],
		RedMax:        binary.BigEndian.Uint16(b[4:6]),
		GreenMax:      binary.BigEndian.Uint16(b[6:8]),
		BlueMax:       binary.BigEndian.Uint16(b[8:10]),
		RedShift:      b[10],
		GreenShift:    b[11],
		BlueShift:     b[12],
		Padding:       [3]uint8{b[13], b[14], b[15]},
	}
}

// ParseSetPixelFormat parses a SetPixelFormat message from raw bytes
func ParseSetPixelFormat(data []byte) (PixelFormat, error) {
	if len(data) != SetPixelFormatLength {
		return PixelFormat{}, fmt.Errorf("SetPixelFormat message must be exactly %d bytes, got %d", SetPixelFormatLength, len(data))
	}
	return parsePixelFormat(data[4:20]), nil
}

// CreateSetPixelFormat creates a SetPixelFormat message from a PixelFormat
func CreateSetPixelFormat(pf PixelFormat) []byte {
	msg := make([]byte, SetPixelFormatLength)
	msg[0] = MsgSetPixelFormat
	putPixelFormat(msg[4:20], pf)
	return msg
}

// CreateSetEncodings creates a SetEncodings message listing encodings in
// preference order.
func CreateSetEncodings(encodings ...Encoding) []byte {
	msg := make([]byte, 4+4*len(encodings))
	msg[0] = MsgSetEncodings
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(encodings)))
	for i, enc := range encodings {
		binary.BigEndian.PutUint32(msg[4+4*i:], uint32(enc))
	}
	return msg
}

// ParseSetEncodings parses a SetEncodings message.
func ParseSetEncodings(data []byte) ([]Encoding, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("SetEncodings message too short: %d bytes", len(data))
	}
	n := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) != 4+4*n {
		return nil, fmt.Errorf("SetEncodings message declares %d encodings in %d bytes", n, len(data))
	}
	encs := make([]Encoding, n)
	for i := range encs {
		encs[i] = Encoding(int32(binary.BigEndian.Uint32(data[4+4*i:])))
	}
	return encs, nil
}

// EncodeFramebufferUpdateRequest encodes a FramebufferUpdateRequest.
func EncodeFramebufferUpdateRequest(req FramebufferUpdateRequest) []byte {
	msg := make([]byte, FramebufferUpdateRequestLength)
	msg[0] = MsgFramebufferUpdateRequest
	if req.Incremental {
		msg[1] = 1
	}
	binary.BigEndian.PutUint16(msg[2:4], req.X)
	binary.BigEndian.PutUint16(msg[4:6], req.Y)
	binary.BigEndian.PutUint16(msg[6:8], req.Width)
	binary.BigEndian.PutUint16(msg[8:10], req.Height)
	return msg
}

// EncodeKeyEvent encodes a KeyEvent.
func EncodeKeyEvent(ev KeyEvent) []byte {
	msg := make([]byte, KeyEventLength)
	msg[0] = MsgKeyEvent
	if ev.Down {
		msg[1] = 1
	}
	binary.BigEndian.PutUint32(msg[4:8], ev.Keysym)
	return msg
}

// EncodePointerEvent encodes a PointerEvent.
func EncodePointerEvent(ev PointerEvent) []byte {
	msg := make([]byte, PointerEventLength)
	msg[0] = MsgPointerEvent
	msg[1] = uint8(ev.ButtonMask)
	binary.BigEndian.PutUint16(msg[2:4], ev.X)
	binary.BigEndian.PutUint16(msg[4:6], ev.Y)
	return msg
}

// EncodeClientCutText encodes a ClientCutText message.
func EncodeClientCutText(text string) []byte {
	msg := make([]byte, 8+len(text))
	msg[0] = MsgClientCutText
	binary.BigEndian.PutUint32(msg[4:8], uint32(len(text)))
	copy(msg[8:], text)
	return msg
}

// DecodeClientMessage decodes exactly one complete client message. It
// returns one of FramebufferUpdateRequest, KeyEvent, PointerEvent,
// PixelFormat (for SetPixelFormat), []Encoding or string (for
// ClientCutText).
func DecodeClientMessage(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	n, err := GetMessageLength(data[0], data)
	if err == io.ErrShortBuffer {
		return nil, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("client message %d is %d bytes, want %d", data[0], len(data), n)
	}

	switch data[0] {
	case MsgSetPixelFormat:
		return ParseSetPixelFormat(data)
	case MsgSetEncodings:
		return ParseSetEncodings(data)
	case MsgFramebufferUpdateRequest:
		return FramebufferUpdateRequest{
			Incremental: data[1] != 0,
			X:           binary.BigEndian.Uint16(data[2:4]),
			Y:           binary.BigEndian.Uint16(data[4:6]),
			Width:       binary.BigEndian.Uint16(data[6:8]),
			Height:      binary.BigEndian.Uint16(data[8:10]),
		}, nil
	case MsgKeyEvent:
		return KeyEvent{Down: data[1] != 0, Keysym: binary.BigEndian.Uint32(data[4:8])}, nil
	case MsgPointerEvent:
		return PointerEvent{
			ButtonMask: ButtonMask(data[1]),
			X:          binary.BigEndian.Uint16(data[2:4]),
			Y:          binary.BigEndian.Uint16(data[4:6]),
		}, nil
	default:
		return string(data[8:]), nil
	}
}

// SendRFBVersion sends the RFB protocol version
func SendRFBVersion(w io.Writer) error {
	_, err := io.WriteString(w, RFBVersion)
	return err
}

// ReadRFBVersion reads and returns the RFB protocol version
func ReadRFBVersion(r io.Reader) (string, error) {
	version := make([]byte, len(RFBVersion))
	if _, err := io.ReadFull(r, version); err != nil {
		return "", err
	}
	if !strings.HasPrefix(string(version), "RFB ") || version[len(version)-1] != '\n' {
		return "", Errorf("read version", ProtocolViolation, "bad protocol version %q", version)
	}
	return string(version), nil
}

// SendSecurityTypes sends the list of supported security types
func SendSecurityTypes(w io.Writer, types []uint8) error {
	msg := make([]byte, 1+len(types))
	msg[0] = uint8(len(types))
	copy(msg[1:], types)
	_, err := w.Write(msg)
	return err
}

// SendSecurityFailure refuses the connection with an empty type list and a
// reason string.
func SendSecurityFailure(w io.Writer, reason string) error {
	msg := make([]byte, 5+len(reason))
	binary.BigEndian.PutUint32(msg[1:5], uint32(len(reason)))
	copy(msg[5:], reason)
	_, err := w.Write(msg)
	return err
}

// ReadSecurityTypes reads the list of supported security types. An empty
// list is followed by a reason, which is returned as a ProtocolViolation.
func ReadSecurityTypes(r io.Reader) ([]uint8, error) {
	var numTypes [1]byte
	if _, err := io.ReadFull(r, numTypes[:]); err != nil {
		return nil, err
	}

	if numTypes[0] == 0 {
		reason, err := readReason(r)
		if err != nil {
			return nil, err
		}
		return nil, Errorf("read security types", ProtocolViolation, "server refused connection: %s", reason)
	}

	types := make([]uint8, numTypes[0])
	if _, err := io.ReadFull(r, types); err != nil {
		return nil, err
	}
	return types, nil
}

// SendSecurityResult sends the security handshake result
func SendSecurityResult(w io.Writer, result uint32) error {
	var msg [4]byte
	binary.BigEndian.PutUint32(msg[:], result)
	_, err := w.Write(msg[:])
	return err
}

// SendSecurityResultFailure sends a failed result followed by its reason.
func SendSecurityResultFailure(w io.Writer, reason string) error {
	msg := make([]byte, 8+len(reason))
	binary.BigEndian.PutUint32(msg[0:4], SecurityResultFailed)
	binary.BigEndian.PutUint32(msg[4:8], uint32(len(reason)))
	copy(msg[8:], reason)
	_, err := w.Write(msg)
	return err
}

// ReadSecurityResult reads the security handshake result
func ReadSecurityResult(r io.Reader) (uint32, error) {
	var result [4]byte
	if _, err := io.ReadFull(r, result[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(result[:]), nil
}

func readReason(r io.Reader) (string, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", err
	}
	reason := make([]byte, binary.BigEndian.Uint32(n[:]))
	if _, err := io.ReadFull(r, reason); err != nil {
		return "", err
	}
	return string(reason), nil
}

// EncodeServerInit encodes the server initialization message
func EncodeServerInit(init ServerInit) []byte {
	msg := make([]byte, ServerInitHeaderLength+len(init.Name))
	binary.BigEndian.PutUint16(msg[0:2], init.Width)
	binary.BigEndian.PutUint16(msg[2:4], init.Height)
	putPixelFormat(msg[4:20], init.PixelFormat)
	binary.BigEndian.PutUint32(msg[20:24], uint32(len(init.Name)))
	copy(msg[24:], init.Name)
	return msg
}

// SendServerInit sends the server initialization message
func SendServerInit(w io.Writer, init ServerInit) error {
	_, err := w.Write(EncodeServerInit(init))
	return err
}

// ReadServerInit reads the server initialization message
func ReadServerInit(r io.Reader) (ServerInit, error) {
	var init ServerInit
	header := make([]byte, ServerInitHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return init, err
	}

	init.Width = binary.BigEndian.Uint16(header[0:2])
	init.Height = binary.BigEndian.Uint16(header[2:4])
	init.PixelFormat = parsePixelFormat(header[4:20])

	nameLen := binary.BigEndian.Uint32(header[20:24])
	if nameLen > maxTextLength {
		return init, Errorf("read server init", ProtocolViolation, "desktop name length %d exceeds limit", nameLen)
	}
	if nameLen > 0 {
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return init, err
		}
		init.Name = string(name)
	}
	return init, nil
}

// ClientHandshake runs the client side of the RFB 3.8 handshake with
// SecurityNone and returns the ServerInit. Callers bound it with a deadline.
func ClientHandshake(rw io.ReadWriter, shared bool) (ServerInit, error) {
	version, err := ReadRFBVersion(rw)
	if err != nil {
		return ServerInit{}, fmt.Errorf("read server version: %w", err)
	}
	if version < "RFB 003.008\n" {
		return ServerInit{}, Errorf("handshake", ProtocolViolation, "server version %q is older than 3.8", strings.TrimSpace(version))
	}
	if err := SendRFBVersion(rw); err != nil {
		return ServerInit{}, fmt.Errorf("send client version: %w", err)
	}

	types, err := ReadSecurityTypes(rw)
	if err != nil {
		return ServerInit{}, err
	}
	found := false
	for _, t := range types {
		if t == SecurityNone {
			found = true
			break
		}
	}
	if !found {
		return ServerInit{}, Errorf("handshake", ProtocolViolation, "server does not offer security type None (offered %v)", types)
	}
	if _, err := rw.Write([]byte{SecurityNone}); err != nil {
		return ServerInit{}, fmt.Errorf("select security type: %w", err)
	}

	result, err := ReadSecurityResult(rw)
	if err != nil {
		return ServerInit{}, fmt.Errorf("read security result: %w", err)
	}
	if result != SecurityResultOK {
		reason, _ := readReason(rw)
		return ServerInit{}, Errorf("handshake", ProtocolViolation, "security handshake failed: %s", reason)
	}

	var clientInit [ClientInitLength]byte
	if shared {
		clientInit[0] = 1
	}
	if _, err := rw.Write(clientInit[:]); err != nil {
		return ServerInit{}, fmt.Errorf("send client init: %w", err)
	}

	init, err := ReadServerInit(rw)
	if err != nil {
		return ServerInit{}, fmt.Errorf("read server init: %w", err)
	}
	return init, nil
}

// ServerHandshake runs the server side of the RFB 3.8 handshake offering
// only SecurityNone. It returns the client's shared flag.
func ServerHandshake(rw io.ReadWriter, init ServerInit) (bool, error) {
	if err := SendRFBVersion(rw); err != nil {
		return false, fmt.Errorf("send version: %w", err)
	}
	version, err := ReadRFBVersion(rw)
	if err != nil {
		return false, fmt.Errorf("read client version: %w", err)
	}
	if version != RFBVersion {
		_ = SendSecurityFailure(rw, "unsupported protocol version")
		return false, Errorf("handshake", ProtocolViolation, "client version %q not supported", strings.TrimSpace(version))
	}

	if err := SendSecurityTypes(rw, []uint8{SecurityNone}); err != nil {
		return false, fmt.Errorf("send security types: %w", err)
	}
	var choice [1]byte
	if _, err := io.ReadFull(rw, choice[:]); err != nil {
		return false, fmt.Errorf("read security choice: %w", err)
	}
	if choice[0] != SecurityNone {
		_ = SendSecurityResultFailure(rw, "unsupported security type")
		return false, Errorf("handshake", ProtocolViolation, "client chose security type %d", choice[0])
	}
	if err := SendSecurityResult(rw, SecurityResultOK); err != nil {
		return false, fmt.Errorf("send security result: %w", err)
	}

	var clientInit [ClientInitLength]byte
	if _, err := io.ReadFull(rw, clientInit[:]); err != nil {
		return false, fmt.Errorf("read client init: %w", err)
	}
	if err := SendServerInit(rw, init); err != nil {
		return false, fmt.Errorf("send server init: %w", err)
	}
	return clientInit[0] != 0, nil
}
