package rfbtest

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	opts.Logger = logging.NoOpLogger{}
	s, err := NewServer(opts)
	require.NoError(t, err)
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader, rfb.ServerInit) {
	t.Helper()
	nc, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	require.NoError(t, nc.SetDeadline(time.Now().Add(5*time.Second)))

	br := bufio.NewReader(nc)
	init, err := rfb.ClientHandshake(struct {
		io.Reader
		io.Writer
	}{br, nc}, true)
	require.NoError(t, err)
	return nc, br, init
}

func TestServerHandshake(t *testing.T) {
	s := newTestServer(t, Options{Width: 64, Height: 32, Name: "test desk", Animation: "bars"})
	_, _, init := dial(t, s)

	require.Equal(t, uint16(64), init.Width)
	require.Equal(t, uint16(32), init.Height)
	require.Equal(t, "test desk", init.Name)
	require.Equal(t, rfb.DefaultPixelFormat(), init.PixelFormat)
}

func TestServerAnswersRequests(t *testing.T) {
	s := newTestServer(t, Options{Width: 16, Height: 8, Animation: "bars"})
	nc, br, init := dial(t, s)

	_, err := nc.Write(rfb.EncodeFramebufferUpdateRequest(rfb.FramebufferUpdateRequest{Width: 16, Height: 8}))
	require.NoError(t, err)

	msg, err := rfb.ReadServerMessage(br, init.PixelFormat, init.Width, init.Height)
	require.NoError(t, err)
	update := msg.(rfb.FramebufferUpdate)
	require.Len(t, update.Rectangles, 1)

	want := rfb.EncodePixels(Frame("bars", 0, 16, 8), init.PixelFormat)
	require.Equal(t, want, update.Rectangles[0].Pixels)

	// the next request gets the next frame, clipped to the requested region
	_, err = nc.Write(rfb.EncodeFramebufferUpdateRequest(rfb.FramebufferUpdateRequest{Incremental: true, X: 4, Y: 2, Width: 100, Height: 2}))
	require.NoError(t, err)
	msg, err = rfb.ReadServerMessage(br, init.PixelFormat, init.Width, init.Height)
	require.NoError(t, err)
	r := msg.(rfb.FramebufferUpdate).Rectangles[0]
	require.Equal(t, rfb.Rectangle{X: 4, Y: 2, Width: 12, Height: 2, Encoding: rfb.EncodingRaw, Pixels: r.Pixels}, r)
	require.Len(t, r.Pixels, 12*2*4)
}

func TestServerHonoursPixelFormat(t *testing.T) {
	s := newTestServer(t, Options{Width: 8, Height: 4, Animation: "bars"})
	nc, br, init := dial(t, s)

	packed := rfb.Packed24PixelFormat()
	_, err := nc.Write(append(rfb.CreateSetPixelFormat(packed),
		rfb.EncodeFramebufferUpdateRequest(rfb.FramebufferUpdateRequest{Width: 8, Height: 4})...))
	require.NoError(t, err)

	msg, err := rfb.ReadServerMessage(br, packed, init.Width, init.Height)
	require.NoError(t, err)
	pixels := msg.(rfb.FramebufferUpdate).Rectangles[0].Pixels
	require.Equal(t, rfb.EncodePixels(Frame("bars", 0, 8, 4), packed), pixels)
}

func TestServerRecordsMessages(t *testing.T) {
	s := newTestServer(t, Options{Width: 8, Height: 8})
	nc, _, _ := dial(t, s)

	_, err := nc.Write(append(
		rfb.EncodeKeyEvent(rfb.KeyEvent{Down: true, Keysym: 'a'}),
		rfb.EncodePointerEvent(rfb.PointerEvent{ButtonMask: rfb.ButtonLeft, X: 3, Y: 4})...,
	))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := s.WaitForMessages(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []any{
		rfb.KeyEvent{Down: true, Keysym: 'a'},
		rfb.PointerEvent{ButtonMask: rfb.ButtonLeft, X: 3, Y: 4},
	}, msgs)
}

func TestServerBroadcast(t *testing.T) {
	s := newTestServer(t, Options{Width: 8, Height: 8})
	nc, br, init := dial(t, s)

	// a recorded message proves the connection is registered
	_, err := nc.Write(rfb.EncodeKeyEvent(rfb.KeyEvent{Keysym: 'x'}))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = s.WaitForMessages(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.Bell())
	require.NoError(t, s.CutText("hello"))

	msg, err := rfb.ReadServerMessage(br, init.PixelFormat, init.Width, init.Height)
	require.NoError(t, err)
	require.Equal(t, rfb.Bell{}, msg)
	msg, err = rfb.ReadServerMessage(br, init.PixelFormat, init.Width, init.Height)
	require.NoError(t, err)
	require.Equal(t, rfb.ServerCutText{Text: "hello"}, msg)
}

func TestNewServerValidates(t *testing.T) {
	_, err := NewServer(Options{Animation: "fireworks"})
	require.Error(t, err)
	_, err = NewServer(Options{Width: 10})
	require.Error(t, err)
}

func TestAnimationsAreOpaque(t *testing.T) {
	for _, name := range AnimationNames() {
		img := Frame(name, 3, 40, 30)
		for i := 3; i < len(img.Pix); i += 4 {
			if img.Pix[i] != 255 {
				t.Fatalf("%s: pixel %d has alpha %d", name, i/4, img.Pix[i])
			}
		}
	}
}
