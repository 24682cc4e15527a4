// Package rfbtest is a mock RFB 3.8 server that answers every update
// request with a frame of a generated animation. Tests use it as the VNC
// end of the gateway; cmd/vncserver serves it on a real port.
package rfbtest

import (
	"context"
	"errors"
	"image"
	"io"
	"net"
	"sync"
	"time"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
)

// Options configures a Server. Zero values select the defaults noted.
type Options struct {
	// Width and Height default to 800x600.
	Width, Height int
	// Name defaults to "rfbtest".
	Name string
	// PixelFormat is the native format announced in ServerInit. It
	// defaults to rfb.DefaultPixelFormat.
	PixelFormat *rfb.PixelFormat
	// Animation defaults to "wheel".
	Animation string
	// FrameInterval delays the answer to each incremental request.
	FrameInterval time.Duration
	// OnFrame, if set, sees every frame before it is encoded.
	OnFrame func(frame int, img *image.RGBA)
	Logger  logging.Logger
}

// Server is a mock VNC server.
type Server struct {
	opts      Options
	init      rfb.ServerInit
	animation Animation
	log       logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	messages []any
	notify   chan struct{}
}

type conn struct {
	nc      net.Conn
	writeMu sync.Mutex
	pf      rfb.PixelFormat
	frame   int
}

// NewServer validates opts and returns a server that is not yet listening.
func NewServer(opts Options) (*Server, error) {
	if opts.Width == 0 && opts.Height == 0 {
		opts.Width, opts.Height = 800, 600
	}
	if opts.Width <= 0 || opts.Height <= 0 || opts.Width > 0xffff || opts.Height > 0xffff {
		return nil, errors.New("rfbtest: invalid framebuffer size")
	}
	if opts.Name == "" {
		opts.Name = "rfbtest"
	}
	if opts.Animation == "" {
		opts.Animation = "wheel"
	}
	pf := rfb.DefaultPixelFormat()
	if opts.PixelFormat != nil {
		pf = *opts.PixelFormat
	}
	animation, err := LookupAnimation(opts.Animation)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts: opts,
		init: rfb.ServerInit{
			Width:       uint16(opts.Width),
			Height:      uint16(opts.Height),
			PixelFormat: pf,
			Name:        opts.Name,
		},
		animation: animation,
		log:       logging.OrDefault(opts.Logger),
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[*conn]struct{}),
		notify:    make(chan struct{}),
	}, nil
}

// ServerInit is what the server announces to every client.
func (s *Server) ServerInit() rfb.ServerInit {
	return s.init
}

// Listen binds addr, for example "127.0.0.1:0".
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// Addr is the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(); err != nil {
			s.log.Printf("rfbtest: serve: %v", err)
		}
	}()
	return nil
}

// Serve accepts connections until Close. It returns nil after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("rfbtest: not listening")
	}

	for {
		nc, err := l.Accept()
		if err != nil {
			if s.closed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Printf("rfbtest: accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ServeConn(nc); err != nil {
				s.log.Printf("rfbtest: %s: %v", nc.RemoteAddr(), err)
			}
		}()
	}
}

// ServeConn runs the handshake and message loop on one connection and
// closes it when done. A client disconnect returns nil.
func (s *Server) ServeConn(nc net.Conn) error {
	defer nc.Close()
	stop := context.AfterFunc(s.ctx, func() { nc.Close() })
	defer stop()

	shared, err := rfb.ServerHandshake(nc, s.init)
	if err != nil {
		return err
	}

	c := &conn{nc: nc, pf: s.init.PixelFormat}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()
	s.log.Printf("rfbtest: client %s connected (shared=%t)", nc.RemoteAddr(), shared)

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			msgs, rest, serr := rfb.SplitClientMessages(buf)
			for _, m := range msgs {
				if herr := s.handle(c, m); herr != nil {
					return herr
				}
			}
			if serr != nil {
				return serr
			}
			buf = append(buf[:0], rest...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || s.closed() {
				return nil
			}
			return err
		}
	}
}

func (s *Server) closed() bool {
	return s.ctx.Err() != nil
}

func (s *Server) handle(c *conn, data []byte) error {
	msg, err := rfb.DecodeClientMessage(data)
	if err != nil {
		return err
	}
	s.record(msg)

	switch m := msg.(type) {
	case rfb.PixelFormat:
		if err := rfb.ValidatePixelFormat(m); err != nil {
			s.log.Printf("rfbtest: keeping current pixel format: %v", err)
			return nil
		}
		c.pf = m
		logging.Debugf(s.log, "rfbtest: SetPixelFormat %d bpp, depth %d", m.BitsPerPixel, m.Depth)
	case []rfb.Encoding:
		logging.Debugf(s.log, "rfbtest: SetEncodings %v", m)
	case rfb.FramebufferUpdateRequest:
		if m.Incremental && s.opts.FrameInterval > 0 {
			select {
			case <-time.After(s.opts.FrameInterval):
			case <-s.ctx.Done():
				return nil
			}
		}
		return s.sendFrame(c, m)
	case rfb.KeyEvent:
		logging.Debugf(s.log, "rfbtest: key %#x down=%t", m.Keysym, m.Down)
	case rfb.PointerEvent:
		logging.Debugf(s.log, "rfbtest: pointer (%d,%d) mask %#x", m.X, m.Y, m.ButtonMask)
	case string:
		logging.Debugf(s.log, "rfbtest: client cut text of %d bytes", len(m))
	}
	return nil
}

// sendFrame answers a request with the next animation frame, clipped to
// the requested region.
func (s *Server) sendFrame(c *conn, req rfb.FramebufferUpdateRequest) error {
	img := image.NewRGBA(image.Rect(0, 0, int(s.init.Width), int(s.init.Height)))
	s.animation(c.frame, img)
	if s.opts.OnFrame != nil {
		s.opts.OnFrame(c.frame, img)
	}
	c.frame++

	region := image.Rect(int(req.X), int(req.Y), int(req.X)+int(req.Width), int(req.Y)+int(req.Height)).Intersect(img.Rect)
	update := rfb.FramebufferUpdate{}
	if !region.Empty() {
		update.Rectangles = []rfb.Rectangle{{
			X:        uint16(region.Min.X),
			Y:        uint16(region.Min.Y),
			Width:    uint16(region.Dx()),
			Height:   uint16(region.Dy()),
			Encoding: rfb.EncodingRaw,
			Pixels:   rfb.EncodePixels(img.SubImage(region).(*image.RGBA), c.pf),
		}}
	}
	return c.write(rfb.EncodeFramebufferUpdate(update))
}

func (c *conn) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(b)
	return err
}

func (s *Server) record(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	close(s.notify)
	s.notify = make(chan struct{})
}

// Messages returns every decoded client message received so far, across
// all connections.
func (s *Server) Messages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.messages...)
}

// WaitForMessages blocks until at least n client messages have arrived.
func (s *Server) WaitForMessages(ctx context.Context, n int) ([]any, error) {
	for {
		s.mu.Lock()
		if len(s.messages) >= n {
			msgs := append([]any(nil), s.messages...)
			s.mu.Unlock()
			return msgs, nil
		}
		notify := s.notify
		s.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return s.Messages(), ctx.Err()
		}
	}
}

// Bell rings every connected client.
func (s *Server) Bell() error {
	return s.broadcast(rfb.EncodeBell())
}

// CutText sends text to every connected client.
func (s *Server) CutText(text string) error {
	return s.broadcast(rfb.EncodeServerCutText(text))
}

func (s *Server) broadcast(b []byte) error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.write(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the listener, drops every connection and waits for their
// goroutines.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	return err
}
