// Package vncgate bridges browser WebSockets to VNC servers. Unlike a plain
// websockify proxy it runs the RFB handshake itself and relays the session
// as JSON or CBOR envelopes, or as the raw RFB stream starting at
// ServerInit.
package vncgate

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
	"github.com/coder/vncgate/transport"
)

// Logger is the logging interface the gateway writes to. *log.Logger
// satisfies it.
type Logger = logging.Logger

// NoOpLogger discards all log output.
type NoOpLogger = logging.NoOpLogger

const (
	DefaultPath             = "/websockify"
	DefaultHandshakeTimeout = 10 * time.Second
)

// ErrUnsafeWebRoot is returned when the web root is the working directory.
var ErrUnsafeWebRoot = errors.New("refusing to serve static content from the current working directory")

// Config holds the configuration for the gateway.
type Config struct {
	Listener string
	// Target is the default VNC server address, host:port.
	Target  string
	WebRoot string
	// Path is where the WebSocket endpoint is mounted by Serve. It
	// defaults to DefaultPath.
	Path    string
	Framing rfb.Framing
	// HandshakeTimeout bounds the TCP dial and the RFB handshake with the
	// VNC server. It defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// AllowTargetOverride lets clients pick the VNC server with the
	// target, or host and port, query parameters.
	AllowTargetOverride bool
	// AllowedOrigins restricts the Origin header. When empty any
	// non-empty origin is accepted.
	AllowedOrigins []string
	// Logger is used for all log output. It defaults to the standard
	// logger.
	Logger Logger
}

// Server accepts WebSocket connections and bridges each one to a VNC
// server. It is an http.Handler and can be mounted on any mux.
type Server struct {
	config   Config
	logger   Logger
	upgrader websocket.Upgrader
	server   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// New creates a gateway with the given configuration.
func New(config Config) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: config,
		logger: logging.OrDefault(config.Logger),
		ctx:    ctx,
		cancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns a mux serving the WebSocket endpoint at the configured
// path and, when a web root is set, static files at /.
func (s *Server) Handler() (http.Handler, error) {
	path, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	switch {
	case s.config.WebRoot == path:
		return nil, ErrUnsafeWebRoot
	case s.config.WebRoot == "":
		s.logger.Println("No web root specified; serving no static content.")
	default:
		s.logger.Printf("Serving %s at %s", s.config.WebRoot, s.config.Listener)
		mux.Handle("/", http.FileServer(http.Dir(s.config.WebRoot)))
	}

	s.logger.Printf("Serving WS of %s at %s%s (%s framing)", s.config.Target, s.config.Listener, s.config.Path, s.config.Framing)
	mux.Handle(s.config.Path, s)
	return mux, nil
}

// Serve starts the gateway and blocks until the context is cancelled. Open
// bridges are closed before it returns.
func (s *Server) Serve(ctx context.Context) error {
	handler, err := s.Handler()
	if errors.Is(err, ErrUnsafeWebRoot) {
		s.logger.Println("Refusing to serve static content from the current working directory.")
		s.logger.Println("Please use the --web-root flag to specify a different directory.")
		return err
	}
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:           s.config.Listener,
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Handle graceful shutdown
	stop := context.AfterFunc(ctx, func() {
		s.server.Close()
		s.cancel()
	})
	defer stop()

	err = s.server.ListenAndServe()
	s.cancel()
	s.conns.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close ends every open bridge.
func (s *Server) Close() {
	s.cancel()
	s.conns.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

var errTargetMissing = errors.New("VNC host or port missing")

func (s *Server) resolveTarget(r *http.Request) (string, error) {
	if s.config.AllowTargetOverride {
		q := r.URL.Query()
		if target := q.Get("target"); target != "" {
			return target, nil
		}
		host, port := q.Get("host"), q.Get("port")
		if host != "" || port != "" {
			if host == "" || port == "" {
				return "", errTargetMissing
			}
			return net.JoinHostPort(host, port), nil
		}
	}
	if s.config.Target == "" {
		return "", errTargetMissing
	}
	return s.config.Target, nil
}

// ServeHTTP upgrades the request and bridges it until either side closes.
// The framing query parameter overrides the configured framing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	framing := s.config.Framing
	if name := r.URL.Query().Get("framing"); name != "" {
		f, err := rfb.ParseFraming(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		framing = f
	}
	target, targetErr := s.resolveTarget(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("failed to upgrade to WS: %s", err)
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	b := &bridge{
		ws:      transport.NewWebSocket(ws),
		framing: framing,
		codec:   framing.Codec(),
		target:  target,
		timeout: s.config.HandshakeTimeout,
		logger:  s.logger,
	}
	if targetErr != nil {
		s.logger.Printf("%s: %v", r.RemoteAddr, targetErr)
		b.fail(targetErr.Error())
		return
	}
	b.run(ctx)
}
