package vncgate

import (
	"context"
	"image"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/coder/vncgate/internal/rfbtest"
	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
	"github.com/coder/vncgate/session"
	"github.com/coder/vncgate/transport"
)

const testOrigin = "http://localhost"

func startVNC(t *testing.T, opts rfbtest.Options) *rfbtest.Server {
	t.Helper()
	if opts.Width == 0 {
		opts.Width, opts.Height = 32, 16
	}
	if opts.Animation == "" {
		opts.Animation = "bars"
	}
	opts.Logger = logging.NoOpLogger{}
	vnc, err := rfbtest.NewServer(opts)
	require.NoError(t, err)
	require.NoError(t, vnc.Start("127.0.0.1:0"))
	t.Cleanup(func() { vnc.Close() })
	return vnc
}

func startGateway(t *testing.T, config Config) string {
	t.Helper()
	config.Logger = NoOpLogger{}
	gw := New(config)
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		srv.Close()
		gw.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Origin": {testOrigin}}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) rfb.Envelope {
	t.Helper()
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var env rfb.Envelope
	require.NoError(t, rfb.JSONCodec{}.Unmarshal(data, &env))
	return env
}

func TestGatewayJSONEnvelopes(t *testing.T) {
	vnc := startVNC(t, rfbtest.Options{Name: "bars"})
	ws := dialWS(t, startGateway(t, Config{Target: vnc.Addr()}))

	env := readEnvelope(t, ws)
	require.Equal(t, rfb.EnvelopeInit, env.Type)
	require.Equal(t, uint16(32), env.Width)
	require.Equal(t, uint16(16), env.Height)
	require.Equal(t, "bars", env.Name)
	require.Equal(t, rfb.DefaultPixelFormat(), *env.PixelFormat)

	req := rfb.EncodeFramebufferUpdateRequest(rfb.FramebufferUpdateRequest{Width: 32, Height: 16})
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, req))

	env = readEnvelope(t, ws)
	require.Equal(t, rfb.EnvelopeFramebufferUpdate, env.Type)
	require.Len(t, env.Rectangles, 1)
	rect := env.Rectangles[0]
	require.Equal(t, "raw", rect.Encoding)
	require.Equal(t, rfb.EncodePixels(rfbtest.Frame("bars", 0, 32, 16), rfb.DefaultPixelFormat()), rect.PixelData)

	// the same request as a client envelope
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"framebuffer_request","incremental":true,"x":0,"y":0,"width":32,"height":16}`)))
	env = readEnvelope(t, ws)
	require.Equal(t, rfb.EnvelopeFramebufferUpdate, env.Type)
	require.Equal(t, rfb.EncodePixels(rfbtest.Frame("bars", 1, 32, 16), rfb.DefaultPixelFormat()), env.Rectangles[0].PixelData)
}

func TestGatewayTranslatesClientEnvelopes(t *testing.T) {
	vnc := startVNC(t, rfbtest.Options{})
	ws := dialWS(t, startGateway(t, Config{Target: vnc.Addr()}))
	readEnvelope(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"key_event","down":true,"keysym":97}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"clipboard","text":"ignored"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"pointer_event","buttonMask":1,"x":5,"y":6}`)))
	// split across frames
	set := rfb.CreateSetEncodings(rfb.EncodingRaw, rfb.EncodingZRLE)
	key := rfb.EncodeKeyEvent(rfb.KeyEvent{Keysym: 'a'})
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, append(set, key[:3]...)))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, key[3:]))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := vnc.WaitForMessages(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, []any{
		[]rfb.Encoding{rfb.EncodingRaw},
		rfb.KeyEvent{Down: true, Keysym: 'a'},
		rfb.PointerEvent{ButtonMask: rfb.ButtonLeft, X: 5, Y: 6},
		rfb.KeyEvent{Keysym: 'a'},
	}, msgs)
}

func TestGatewaySessionEndToEnd(t *testing.T) {
	for _, framing := range []rfb.Framing{rfb.FramingJSON, rfb.FramingCBOR, rfb.FramingRaw} {
		t.Run(framing.String(), func(t *testing.T) {
			vnc := startVNC(t, rfbtest.Options{FrameInterval: 10 * time.Millisecond})
			url := startGateway(t, Config{Target: vnc.Addr(), Framing: framing})

			var sess *session.Session
			first := make(chan *image.RGBA, 1)
			handler := session.HandlerFuncs{
				FramebufferApplied: func(dirty image.Rectangle) {
					select {
					case first <- sess.Snapshot():
					default:
					}
				},
			}
			sess, err := session.New(transport.WebSocketDialer{
				URL:    url,
				Header: http.Header{"Origin": {testOrigin}},
			}, handler, session.Config{
				HandshakeTimeout: 5 * time.Second,
				Framing:          framing,
				Logger:           logging.NoOpLogger{},
			})
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() { done <- sess.Run(context.Background()) }()

			select {
			case img := <-first:
				require.Equal(t, image.Rect(0, 0, 32, 16), img.Rect)
				require.Equal(t, rfbtest.Frame("bars", 0, 32, 16).Pix, img.Pix)
			case err := <-done:
				t.Fatalf("session ended: %v", err)
			case <-time.After(5 * time.Second):
				t.Fatal("no update applied")
			}

			_, err = sess.Key("Enter", true)
			require.NoError(t, err)
			require.Eventually(t, func() bool {
				for _, m := range vnc.Messages() {
					if m == any(rfb.KeyEvent{Down: true, Keysym: rfb.KeysymReturn}) {
						return true
					}
				}
				return false
			}, 5*time.Second, 10*time.Millisecond)

			sess.Disconnect()
			require.NoError(t, <-done)
		})
	}
}

func TestGatewayNegotiatesDecodableFormat(t *testing.T) {
	rgb565 := rfb.RGB565PixelFormat()
	vnc := startVNC(t, rfbtest.Options{PixelFormat: &rgb565})
	ws := dialWS(t, startGateway(t, Config{Target: vnc.Addr()}))

	env := readEnvelope(t, ws)
	require.Equal(t, rfb.DefaultPixelFormat(), *env.PixelFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := vnc.WaitForMessages(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, rfb.DefaultPixelFormat(), msgs[0])
}

func TestGatewayErrors(t *testing.T) {
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := closed.Addr().String()
	closed.Close()

	silent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { silent.Close() })
	go func() {
		for {
			c, err := silent.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(io.Discard, c)
				c.Close()
			}()
		}
	}()

	tests := []struct {
		name    string
		config  Config
		query   string
		message string
	}{
		{"no target", Config{}, "", "VNC host or port missing"},
		{"half override", Config{AllowTargetOverride: true}, "?host=localhost", "VNC host or port missing"},
		{"unreachable", Config{Target: deadAddr}, "", "Could not connect to VNC server at " + deadAddr},
		{"override", Config{Target: "127.0.0.1:1", AllowTargetOverride: true}, "?target=" + deadAddr, "Could not connect to VNC server at " + deadAddr},
		{"handshake timeout", Config{Target: silent.Addr().String(), HandshakeTimeout: 100 * time.Millisecond}, "", "VNC Handshake failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := dialWS(t, startGateway(t, tt.config)+tt.query)
			env := readEnvelope(t, ws)
			require.Equal(t, rfb.EnvelopeError, env.Type)
			require.Contains(t, env.Message, tt.message)
		})
	}
}

func TestGatewayRawFailureClosesWithReason(t *testing.T) {
	ws := dialWS(t, startGateway(t, Config{Framing: rfb.FramingRaw}))
	_, _, err := ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, websocket.CloseTryAgainLater, ce.Code)
	require.Equal(t, "VNC host or port missing", ce.Text)
}

func TestGatewayRawFramingFiltersClientMessages(t *testing.T) {
	vnc := startVNC(t, rfbtest.Options{})
	ws := dialWS(t, startGateway(t, Config{Target: vnc.Addr(), Framing: rfb.FramingRaw}))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.Equal(t, rfb.EncodeServerInit(vnc.ServerInit()), data)

	rgb565 := rfb.RGB565PixelFormat()
	var msgs []byte
	msgs = append(msgs, rfb.CreateSetEncodings(rfb.EncodingZRLE, rfb.EncodingRaw)...)
	msgs = append(msgs, rfb.CreateSetPixelFormat(rgb565)...)
	msgs = append(msgs, rfb.EncodeKeyEvent(rfb.KeyEvent{Down: true, Keysym: 'q'})...)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, msgs))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := vnc.WaitForMessages(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []any{
		[]rfb.Encoding{rfb.EncodingRaw},
		rgb565,
		rfb.KeyEvent{Down: true, Keysym: 'q'},
	}, got)
}

func TestGatewayRejectsOversizedRectangle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		init := rfb.ServerInit{Width: 800, Height: 600, PixelFormat: rfb.DefaultPixelFormat(), Name: "huge"}
		if _, err := rfb.ServerHandshake(c, init); err != nil {
			return
		}
		// a 65535x65535 raw rectangle header with no pixels behind it
		header := rfb.EncodeFramebufferUpdate(rfb.FramebufferUpdate{Rectangles: []rfb.Rectangle{
			{Width: 65535, Height: 65535, Encoding: rfb.EncodingRaw},
		}})
		if _, err := c.Write(header); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, c)
	}()

	ws := dialWS(t, startGateway(t, Config{Target: ln.Addr().String()}))
	require.Equal(t, rfb.EnvelopeInit, readEnvelope(t, ws).Type)
	env := readEnvelope(t, ws)
	require.Equal(t, rfb.EnvelopeError, env.Type)
	require.Contains(t, env.Message, "exceeds 800x600 framebuffer")
}

func TestGatewayOrigin(t *testing.T) {
	url := startGateway(t, Config{Target: "127.0.0.1:1", AllowedOrigins: []string{"https://desk.example"}})

	tests := []struct {
		origin string
		ok     bool
	}{
		{"", false},
		{"http://evil.example", false},
		{"https://desk.example", true},
	}
	for _, tt := range tests {
		header := http.Header{}
		if tt.origin != "" {
			header.Set("Origin", tt.origin)
		}
		ws, resp, err := websocket.DefaultDialer.Dial(url, header)
		if tt.ok {
			require.NoError(t, err, tt.origin)
			ws.Close()
		} else {
			require.Error(t, err, tt.origin)
			require.Equal(t, http.StatusForbidden, resp.StatusCode, tt.origin)
		}
		if resp != nil {
			resp.Body.Close()
		}
	}
}

func TestGatewayRejectsUnknownFraming(t *testing.T) {
	url := startGateway(t, Config{Target: "127.0.0.1:1"})
	_, resp, err := websocket.DefaultDialer.Dial(url+"?framing=xml", http.Header{"Origin": {testOrigin}})
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandlerRefusesWorkingDirectory(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	_, err = New(Config{WebRoot: wd, Logger: NoOpLogger{}}).Handler()
	require.ErrorIs(t, err, ErrUnsafeWebRoot)

	err = New(Config{WebRoot: wd, Logger: NoOpLogger{}}).Serve(context.Background())
	require.ErrorIs(t, err, ErrUnsafeWebRoot)
}

func TestHandlerServesStaticFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(root+"/index.html", []byte("<html>viewer</html>"), 0o644))

	h, err := New(Config{WebRoot: root, Logger: NoOpLogger{}}).Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "viewer")
}
