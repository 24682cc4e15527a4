package vncgate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
	"github.com/coder/vncgate/transport"
)

// writeTimeout bounds a single frame write to the browser.
const writeTimeout = 10 * time.Second

// bridge relays one browser connection to one VNC server.
type bridge struct {
	ws      *transport.WebSocket
	framing rfb.Framing
	codec   rfb.Codec
	target  string
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	pf      rfb.PixelFormat
	pending []byte
}

func (b *bridge) pixelFormat() rfb.PixelFormat {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pf
}

func (b *bridge) setPixelFormat(pf rfb.PixelFormat) {
	b.mu.Lock()
	b.pf = pf
	b.mu.Unlock()
}

func (b *bridge) run(ctx context.Context) {
	defer b.ws.Close()

	vnc, init, err := b.connect(ctx)
	if err != nil {
		b.logger.Printf("%s: %v", b.target, err)
		b.fail(failureMessage(err))
		return
	}
	defer vnc.Close()
	b.logger.Printf("connected to %s (%q, %dx%d)", b.target, init.Name, init.Width, init.Height)

	b.setPixelFormat(init.PixelFormat)
	if err := b.sendServerInit(ctx, init); err != nil {
		b.logger.Printf("writing to WS failed: %s", err)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { vnc.Close() })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		b.forwardTCP(ctx, vnc, init)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		b.forwardWeb(ctx, vnc)
	}()
	wg.Wait()
	b.logger.Printf("closed bridge to %s", b.target)
}

// connectError carries the message shown to the browser.
type connectError struct {
	message string
	err     error
}

func (e *connectError) Error() string { return fmt.Sprintf("%s: %v", e.message, e.err) }
func (e *connectError) Unwrap() error { return e.err }

func failureMessage(err error) string {
	var ce *connectError
	if errors.As(err, &ce) {
		return ce.message
	}
	return err.Error()
}

// connect dials the VNC server, runs the handshake and negotiates the raw
// encoding. A server whose native format cannot be decoded is asked for
// the default format instead.
func (b *bridge) connect(ctx context.Context) (net.Conn, rfb.ServerInit, error) {
	dialer := net.Dialer{Timeout: b.timeout}
	vnc, err := dialer.DialContext(ctx, "tcp", b.target)
	if err != nil {
		return nil, rfb.ServerInit{}, &connectError{fmt.Sprintf("Could not connect to VNC server at %s", b.target), err}
	}

	init, err := b.handshake(vnc)
	if err != nil {
		vnc.Close()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			err = rfb.NewError("handshake", rfb.HandshakeTimeout, fmt.Sprintf("no ServerInit within %s", b.timeout), err)
		}
		return nil, rfb.ServerInit{}, &connectError{fmt.Sprintf("VNC Handshake failed: %v", err), err}
	}
	return vnc, init, nil
}

func (b *bridge) handshake(vnc net.Conn) (rfb.ServerInit, error) {
	if err := vnc.SetDeadline(time.Now().Add(b.timeout)); err != nil {
		return rfb.ServerInit{}, err
	}
	init, err := rfb.ClientHandshake(vnc, true)
	if err != nil {
		return rfb.ServerInit{}, err
	}

	if err := rfb.ValidatePixelFormat(init.PixelFormat); err != nil {
		b.logger.Printf("%s: %v; requesting the default format", b.target, err)
		init.PixelFormat = rfb.DefaultPixelFormat()
		if _, err := vnc.Write(rfb.CreateSetPixelFormat(init.PixelFormat)); err != nil {
			return rfb.ServerInit{}, fmt.Errorf("send SetPixelFormat: %w", err)
		}
	}
	if _, err := vnc.Write(rfb.CreateSetEncodings(rfb.EncodingRaw)); err != nil {
		return rfb.ServerInit{}, fmt.Errorf("send SetEncodings: %w", err)
	}
	return init, vnc.SetDeadline(time.Time{})
}

func (b *bridge) write(ctx context.Context, f transport.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return b.ws.WriteFrame(ctx, f)
}

func (b *bridge) sendServerInit(ctx context.Context, init rfb.ServerInit) error {
	if b.codec == nil {
		return b.write(ctx, transport.Frame{Kind: transport.Binary, Data: rfb.EncodeServerInit(init)})
	}
	return b.sendEnvelope(ctx, init)
}

func (b *bridge) sendEnvelope(ctx context.Context, msg rfb.ServerMessage) error {
	data, err := rfb.EncodeServerEnvelope(b.codec, msg)
	if err != nil {
		return err
	}
	kind := transport.Text
	if b.codec.Binary() {
		kind = transport.Binary
	}
	return b.write(ctx, transport.Frame{Kind: kind, Data: data})
}

// fail reports message to the browser and closes the connection. Envelope
// framings get an error envelope; raw framing gets it as the close reason.
func (b *bridge) fail(message string) {
	if b.codec == nil {
		_ = b.ws.CloseWithReason(websocket.CloseTryAgainLater, message)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.sendEnvelope(ctx, rfb.ServerFailure{Message: message}); err != nil {
		b.logger.Printf("writing to WS failed: %s", err)
	}
	_ = b.ws.Close()
}

// forwardTCP relays server messages to the browser. Rectangles are checked
// against the framebuffer announced in init.
func (b *bridge) forwardTCP(ctx context.Context, vnc net.Conn, init rfb.ServerInit) {
	if b.codec == nil {
		b.forwardRaw(ctx, vnc)
		return
	}

	br := bufio.NewReaderSize(vnc, 64<<10)
	for {
		msg, err := rfb.ReadServerMessage(br, b.pixelFormat(), init.Width, init.Height)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				b.logger.Printf("VNC server %s closed the connection", b.target)
				b.fail("VNC server closed the connection")
			case errors.Is(err, rfb.ErrUnknownMessage):
				b.logger.Printf("reading from TCP failed: %s", err)
				b.fail("Unsupported message from VNC server")
			default:
				b.logger.Printf("reading from TCP failed: %s", err)
				b.fail(err.Error())
			}
			return
		}

		if m, ok := msg.(rfb.SetColorMapEntries); ok {
			logging.Debugf(b.logger, "dropping %d colour map entries", len(m.Colors))
			continue
		}
		if err := b.sendEnvelope(ctx, msg); err != nil {
			if ctx.Err() == nil {
				b.logger.Printf("writing to WS failed: %s", err)
			}
			return
		}
	}
}

func (b *bridge) forwardRaw(ctx context.Context, vnc net.Conn) {
	buf := make([]byte, 32<<10)
	for {
		n, err := vnc.Read(buf)
		if n > 0 {
			if werr := b.write(ctx, transport.Frame{Kind: transport.Binary, Data: buf[:n]}); werr != nil {
				if ctx.Err() == nil {
					b.logger.Printf("writing to WS failed: %s", werr)
				}
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				b.logger.Printf("reading from TCP failed: %s", err)
			}
			return
		}
	}
}

// forwardWeb relays browser frames to the VNC server.
func (b *bridge) forwardWeb(ctx context.Context, vnc net.Conn) {
	for {
		f, err := b.ws.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				b.logger.Printf("reading from WS failed: %s", err)
			}
			return
		}

		data, err := b.translate(f)
		if err != nil {
			b.logger.Printf("dropping browser connection: %s", err)
			return
		}
		if len(data) == 0 {
			continue
		}
		if _, err := vnc.Write(data); err != nil {
			if ctx.Err() == nil {
				b.logger.Printf("writing to TCP failed: %s", err)
			}
			return
		}
	}
}

// translate turns one browser frame into bytes for the VNC server. Text
// frames, and CBOR maps under cbor framing, are client envelopes; other
// binary frames are RFB client messages. A nil result sends nothing.
func (b *bridge) translate(f transport.Frame) ([]byte, error) {
	if f.Kind == transport.Text {
		return b.decodeEnvelope(rfb.JSONCodec{}, f.Data)
	}
	if b.framing == rfb.FramingCBOR && len(f.Data) > 0 && f.Data[0]&0xe0 == 0xa0 {
		return b.decodeEnvelope(rfb.CBORCodec{}, f.Data)
	}
	return b.filterClientMessages(f.Data)
}

func (b *bridge) decodeEnvelope(codec rfb.Codec, data []byte) ([]byte, error) {
	msg, err := rfb.DecodeClientEnvelope(codec, data)
	if err != nil {
		b.logger.Printf("ignoring client envelope: %s", err)
		return nil, nil
	}
	return msg, nil
}

// filterClientMessages frames binary client messages, following pixel
// format changes so server updates stay framed. SetEncodings is dropped
// since the gateway only negotiates raw rectangles. Under raw framing the
// client decodes the stream itself, so SetPixelFormat passes unchecked.
func (b *bridge) filterClientMessages(data []byte) ([]byte, error) {
	b.mu.Lock()
	b.pending = append(b.pending, data...)
	msgs, rest, err := rfb.SplitClientMessages(b.pending)
	b.pending = append(b.pending[:0:0], rest...)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, m := range msgs {
		switch m[0] {
		case rfb.MsgSetEncodings:
			logging.Debugf(b.logger, "dropping client SetEncodings")
			continue
		case rfb.MsgSetPixelFormat:
			if b.framing == rfb.FramingRaw {
				break
			}
			pf, err := rfb.ParseSetPixelFormat(m)
			if err != nil {
				return nil, err
			}
			if err := rfb.ValidatePixelFormat(pf); err != nil {
				b.logger.Printf("dropping SetPixelFormat: %s", err)
				continue
			}
			b.setPixelFormat(pf)
		}
		out = append(out, m...)
	}
	return out, nil
}
