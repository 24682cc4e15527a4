// Package session drives one RFB connection from transport open to close:
// it waits for ServerInit, keeps exactly one framebuffer update request
// outstanding, applies updates to a double-buffered surface and turns
// browser input into client messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/coder/vncgate/framebuffer"
	"github.com/coder/vncgate/internal/clock"
	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
	"github.com/coder/vncgate/transport"
)

var (
	// ErrSessionReused is returned by Run on a session that already ran.
	ErrSessionReused = errors.New("session: already used")
	// ErrNotStreaming is returned by input methods outside Streaming.
	ErrNotStreaming = errors.New("session: not streaming")
	// ErrDisconnectRequested is the close reason after Disconnect.
	ErrDisconnectRequested = errors.New("session: disconnect requested")
)

// Config configures a Session.
type Config struct {
	// HandshakeTimeout bounds the wait for ServerInit once the transport
	// is open. It is required.
	HandshakeTimeout time.Duration

	// Framing is how the peer carries server messages.
	Framing rfb.Framing

	// PixelFormat, when set, is requested right after ServerInit and used
	// to decode every update that follows.
	PixelFormat *rfb.PixelFormat

	Logger logging.Logger
	Clock  clock.Clock
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return errors.New("session: handshake timeout must be positive")
	}
	switch c.Framing {
	case rfb.FramingJSON, rfb.FramingCBOR, rfb.FramingRaw:
	default:
		return fmt.Errorf("session: unknown framing %s", c.Framing)
	}
	if c.PixelFormat != nil {
		if err := rfb.ValidatePixelFormat(*c.PixelFormat); err != nil {
			return err
		}
	}
	return nil
}

// Session is a single-use RFB client session. Input methods are safe to
// call from any goroutine while Run is streaming.
type Session struct {
	dialer  transport.Dialer
	handler Handler
	cfg     Config
	log     logging.Logger
	clock   clock.Clock

	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	used           bool
	ctx            context.Context
	cancel         context.CancelCauseFunc
	tr             transport.Transport
	init           rfb.ServerInit
	surface        *framebuffer.Surface
	decoder        *framebuffer.Decoder
	stream         *rfb.StreamDecoder
	requestPending bool
	refreshWanted  bool
}

// New returns a session that will dial with dialer and report to handler.
// A nil handler ignores every event.
func New(dialer transport.Dialer, handler Handler, cfg Config) (*Session, error) {
	if dialer == nil {
		return nil, errors.New("session: nil dialer")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = NopHandler{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Session{
		dialer:  dialer,
		handler: handler,
		cfg:     cfg,
		log:     logging.OrDefault(cfg.Logger),
		clock:   cfg.Clock,
	}, nil
}

// Run connects and processes server messages until the session ends. It
// returns nil after Disconnect, the context error if ctx ends, and
// otherwise the *rfb.Error that closed the session. The handler's
// OnSessionClosed sees the same reason, with ErrDisconnectRequested in
// place of nil.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrSessionReused
	}
	s.used = true
	s.state = Connecting
	ctx, cancel := context.WithCancelCause(ctx)
	s.ctx, s.cancel = ctx, cancel
	s.mu.Unlock()
	defer cancel(nil)

	reason := s.serve(ctx)
	s.shutdown(reason)
	if errors.Is(reason, ErrDisconnectRequested) {
		return nil
	}
	return reason
}

// Disconnect asks a running session to close. It does not wait.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(ErrDisconnectRequested)
	}
}

type readResult struct {
	frame transport.Frame
	err   error
}

func (s *Session) serve(ctx context.Context) error {
	tr, err := s.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return rfb.NewError("dial", rfb.TransportClosed, "could not open transport", err)
	}

	s.mu.Lock()
	s.tr = tr
	s.state = AwaitingServerInit
	if s.cfg.Framing == rfb.FramingRaw {
		s.stream = rfb.NewStreamDecoder()
	}
	s.mu.Unlock()

	readCtx, stopReader := context.WithCancel(ctx)
	frames := make(chan readResult)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(readCtx, tr, frames)
	}()
	defer func() {
		s.setState(Closing)
		stopReader()
		if err := tr.Close(); err != nil {
			logging.Debugf(s.log, "session: close transport: %v", err)
		}
		wg.Wait()
	}()

	handshake := s.clock.After(s.cfg.HandshakeTimeout)
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-handshake:
			return rfb.Errorf("await server init", rfb.HandshakeTimeout, "no ServerInit within %s", s.cfg.HandshakeTimeout)
		case res := <-frames:
			if res.err != nil {
				return s.readError(ctx, res.err)
			}
			if err := s.handleFrame(ctx, res.frame); err != nil {
				return err
			}
			if handshake != nil && s.State() == Streaming {
				handshake = nil
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, tr transport.Transport, out chan<- readResult) {
	for {
		f, err := tr.ReadFrame(ctx)
		select {
		case out <- readResult{frame: f, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if errors.Is(err, io.EOF) {
		return rfb.NewError("read", rfb.TransportClosed, "connection closed by peer", err)
	}
	return rfb.NewError("read", rfb.TransportClosed, "read failed", err)
}

func (s *Session) shutdown(reason error) {
	s.mu.Lock()
	s.state = Closing
	surface := s.surface
	s.surface, s.decoder, s.stream = nil, nil, nil
	s.init = rfb.ServerInit{}
	s.mu.Unlock()

	if surface != nil {
		surface.Release()
	}
	switch {
	case reason == nil, errors.Is(reason, ErrDisconnectRequested):
		s.log.Printf("session: disconnected")
	default:
		s.log.Printf("session: closed: %v", reason)
	}

	s.setState(Disconnected)
	s.handler.OnSessionClosed(reason)
}

func (s *Session) handleFrame(ctx context.Context, f transport.Frame) error {
	if s.cfg.Framing == rfb.FramingRaw {
		if f.Kind != transport.Binary {
			s.log.Printf("session: ignoring %s frame on raw framing", f.Kind)
			return nil
		}
		return s.handleStream(ctx, f.Data)
	}

	msg, err := rfb.DecodeServerEnvelope(s.cfg.Framing.Codec(), f.Data)
	if errors.Is(err, rfb.ErrUnknownMessage) {
		s.log.Printf("session: ignoring %v", err)
		return nil
	}
	if err != nil {
		return err
	}
	return s.handleMessage(ctx, msg)
}

// handleStream decodes one message at a time so a pixel format change
// made while handling a message applies to the bytes that follow it.
func (s *Session) handleStream(ctx context.Context, data []byte) error {
	s.mu.Lock()
	s.stream.Feed(data)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		msg, err := s.stream.Next()
		s.mu.Unlock()
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		if err := s.handleMessage(ctx, msg); err != nil {
			return err
		}
	}
}

func (s *Session) handleMessage(ctx context.Context, msg rfb.ServerMessage) error {
	switch m := msg.(type) {
	case rfb.ServerInit:
		return s.onServerInit(ctx, m)
	case rfb.ServerFailure:
		return rfb.Errorf("server", rfb.ServerError, "%s", m.Message)
	}

	if st := s.State(); st != Streaming {
		return rfb.Errorf("handle message", rfb.ProtocolViolation, "%s received while %s", messageName(msg), st)
	}

	switch m := msg.(type) {
	case rfb.FramebufferUpdate:
		return s.onUpdate(ctx, m)
	case rfb.Bell:
		s.handler.OnBell()
	case rfb.ServerCutText:
		s.handler.OnCutText(m.Text)
	case rfb.SetColorMapEntries:
		logging.Debugf(s.log, "session: ignoring %d colour map entries", len(m.Colors))
	}
	return nil
}

func messageName(msg rfb.ServerMessage) string {
	switch msg.(type) {
	case rfb.FramebufferUpdate:
		return "FramebufferUpdate"
	case rfb.SetColorMapEntries:
		return "SetColorMapEntries"
	case rfb.Bell:
		return "Bell"
	case rfb.ServerCutText:
		return "ServerCutText"
	default:
		return fmt.Sprintf("%T", msg)
	}
}

func (s *Session) onServerInit(ctx context.Context, init rfb.ServerInit) error {
	if st := s.State(); st != AwaitingServerInit {
		return rfb.Errorf("handle server init", rfb.ProtocolViolation, "ServerInit received while %s", st)
	}
	if init.Width == 0 || init.Height == 0 {
		return rfb.Errorf("handle server init", rfb.ProtocolViolation, "empty %dx%d framebuffer", init.Width, init.Height)
	}

	pf := init.PixelFormat
	if s.cfg.PixelFormat != nil {
		pf = *s.cfg.PixelFormat
	}
	dec, err := framebuffer.NewDecoder(pf)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.init = init
	s.surface = framebuffer.NewSurface(int(init.Width), int(init.Height))
	s.decoder = dec
	if s.stream != nil {
		s.stream.SetPixelFormat(pf)
	}
	s.state = Streaming
	s.mu.Unlock()

	s.log.Printf("session: connected to %q (%dx%d)", init.Name, init.Width, init.Height)

	if s.cfg.PixelFormat != nil {
		if err := s.write(ctx, rfb.CreateSetPixelFormat(pf)); err != nil {
			return err
		}
	}
	s.mu.Lock()
	req := s.nextRequestLocked(false)
	s.mu.Unlock()
	if err := s.write(ctx, rfb.EncodeFramebufferUpdateRequest(req)); err != nil {
		return err
	}

	s.handler.OnServerInit(init)
	return nil
}

func (s *Session) onUpdate(ctx context.Context, update rfb.FramebufferUpdate) error {
	s.mu.Lock()
	dec, surface := s.decoder, s.surface
	s.mu.Unlock()

	dirty, err := dec.Apply(ctx, surface, update)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	logging.Debugf(s.log, "session: applied %d rectangles, dirty %v", len(update.Rectangles), dirty)

	s.mu.Lock()
	s.requestPending = false
	req := s.nextRequestLocked(true)
	s.mu.Unlock()
	if err := s.write(ctx, rfb.EncodeFramebufferUpdateRequest(req)); err != nil {
		return err
	}

	s.handler.OnFramebufferApplied(dirty)
	return nil
}

// nextRequestLocked marks a request outstanding and returns it. A pending
// refresh turns it into a full one.
func (s *Session) nextRequestLocked(incremental bool) rfb.FramebufferUpdateRequest {
	if s.refreshWanted {
		incremental = false
		s.refreshWanted = false
	}
	s.requestPending = true
	return rfb.FramebufferUpdateRequest{
		Incremental: incremental,
		Width:       s.init.Width,
		Height:      s.init.Height,
	}
}

// RequestRefresh asks for a full, non-incremental update. If a request is
// already outstanding the next one is made non-incremental instead.
func (s *Session) RequestRefresh() error {
	s.mu.Lock()
	if s.state != Streaming {
		s.mu.Unlock()
		return ErrNotStreaming
	}
	if s.requestPending {
		s.refreshWanted = true
		s.mu.Unlock()
		return nil
	}
	req := s.nextRequestLocked(false)
	ctx := s.ctx
	s.mu.Unlock()
	return s.write(ctx, rfb.EncodeFramebufferUpdateRequest(req))
}

func (s *Session) write(ctx context.Context, msgs ...[]byte) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, b := range msgs {
		if err := tr.WriteFrame(ctx, transport.Frame{Kind: transport.Binary, Data: b}); err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return rfb.NewError("write", rfb.TransportClosed, "write failed", err)
		}
	}
	return nil
}

// streaming returns the run context and ServerInit, or ErrNotStreaming.
func (s *Session) streaming() (context.Context, rfb.ServerInit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Streaming {
		return nil, rfb.ServerInit{}, ErrNotStreaming
	}
	return s.ctx, s.init, nil
}

func clamp(v int, size uint16) uint16 {
	switch {
	case v < 0:
		return 0
	case v >= int(size):
		return size - 1
	default:
		return uint16(v)
	}
}

// Pointer reports the pointer at (x, y), in framebuffer coordinates, with
// the given buttons held. Coordinates are clamped to the framebuffer.
func (s *Session) Pointer(x, y int, held ...rfb.Button) error {
	ctx, init, err := s.streaming()
	if err != nil {
		return err
	}
	ev := rfb.TranslatePointer(clamp(x, init.Width), clamp(y, init.Height), held...)
	return s.write(ctx, rfb.EncodePointerEvent(ev))
}

// Wheel sends one wheel step at (x, y) as a press and release pair per
// axis.
func (s *Session) Wheel(x, y, deltaX, deltaY int, held ...rfb.Button) error {
	ctx, init, err := s.streaming()
	if err != nil {
		return err
	}
	events := rfb.TranslateWheel(clamp(x, init.Width), clamp(y, init.Height), deltaX, deltaY, held...)
	msgs := make([][]byte, len(events))
	for i, ev := range events {
		msgs[i] = rfb.EncodePointerEvent(ev)
	}
	return s.write(ctx, msgs...)
}

// Key sends a key transition for a KeyboardEvent.code value. It reports
// false, and sends nothing, for keys without a keysym.
func (s *Session) Key(code string, pressed bool) (bool, error) {
	ctx, _, err := s.streaming()
	if err != nil {
		return false, err
	}
	ev, ok := rfb.TranslateKey(code, pressed)
	if !ok {
		logging.Debugf(s.log, "session: no keysym for %q", code)
		return false, nil
	}
	return true, s.write(ctx, rfb.EncodeKeyEvent(ev))
}

// Keysym sends a key transition for an explicit keysym.
func (s *Session) Keysym(keysym uint32, down bool) error {
	ctx, _, err := s.streaming()
	if err != nil {
		return err
	}
	return s.write(ctx, rfb.EncodeKeyEvent(rfb.KeyEvent{Down: down, Keysym: keysym}))
}

// SetPixelFormat asks the server for pf and decodes later updates with it.
// Unsupported formats are rejected without affecting the session. Updates
// the server sent before it saw the request still arrive in the old
// format.
func (s *Session) SetPixelFormat(pf rfb.PixelFormat) error {
	dec, err := framebuffer.NewDecoder(pf)
	if err != nil {
		return err
	}
	ctx, _, err := s.streaming()
	if err != nil {
		return err
	}
	if err := s.write(ctx, rfb.CreateSetPixelFormat(pf)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Streaming {
		return ErrNotStreaming
	}
	s.decoder = dec
	if s.stream != nil {
		s.stream.SetPixelFormat(pf)
	}
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ServerInit returns the server's announcement while the session holds
// one, from its arrival until the session closes.
func (s *Session) ServerInit() (rfb.ServerInit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.init, s.surface != nil
}

// PixelFormat returns the format updates are currently decoded with.
func (s *Session) PixelFormat() (rfb.PixelFormat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decoder == nil {
		return rfb.PixelFormat{}, false
	}
	return s.decoder.PixelFormat(), true
}

// Snapshot returns the latest published framebuffer. The image is never
// modified afterwards. It is nil before ServerInit and after close.
func (s *Session) Snapshot() *image.RGBA {
	s.mu.Lock()
	surface := s.surface
	s.mu.Unlock()
	if surface == nil {
		return nil
	}
	return surface.Snapshot()
}
