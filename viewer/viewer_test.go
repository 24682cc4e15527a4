package viewer

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
)

func TestKeyCode(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"A", "KeyA"},
		{"Z", "KeyZ"},
		{"7", "Digit7"},
		{"Return", "Enter"},
		{"KP_Enter", "NumpadEnter"},
		{"BackSpace", "Backspace"},
		{"Prior", "PageUp"},
		{"LeftShift", "ShiftLeft"},
		{"RightSuper", "MetaRight"},
		{"`", "Backquote"},
		{"F5", "F5"},
	}
	for _, tt := range tests {
		got := keyCode(tt.name)
		require.Equal(t, tt.want, got, tt.name)
		_, ok := rfb.LookupKeysym(got)
		require.True(t, ok, "%s maps to %s, which has no keysym", tt.name, got)
	}
}

func TestPointerTracksButtons(t *testing.T) {
	var p pointer
	require.Empty(t, p.buttons())
	require.Equal(t, []rfb.Button{rfb.Right}, p.set(rfb.Right, true))
	require.Equal(t, []rfb.Button{rfb.Left, rfb.Right}, p.set(rfb.Left, true))
	require.Equal(t, []rfb.Button{rfb.Left}, p.set(rfb.Right, false))
	require.Equal(t, []rfb.Button{rfb.Left}, p.buttons())
}

func TestScaleAndWheel(t *testing.T) {
	require.Equal(t, 400, scale(200, 400, 800))
	require.Equal(t, 0, scale(10, 0, 800))
	require.Equal(t, -1, wheelDirection(2.5))
	require.Equal(t, 1, wheelDirection(-10))
	require.Equal(t, 0, wheelDirection(0))
}

func TestShowKeepsNewest(t *testing.T) {
	v := newViewer("t", 2, 2, logging.NoOpLogger{})
	first := image.NewRGBA(image.Rect(0, 0, 1, 1))
	second := image.NewRGBA(image.Rect(0, 0, 2, 2))

	v.Show(first)
	v.Show(second)
	v.Show(nil)
	require.Same(t, second, <-v.frames)
	require.Empty(t, v.frames)
}

type fakeRemote struct {
	img *image.RGBA
}

func (f fakeRemote) Snapshot() *image.RGBA                       { return f.img }
func (fakeRemote) Pointer(int, int, ...rfb.Button) error         { return nil }
func (fakeRemote) Wheel(int, int, int, int, ...rfb.Button) error { return nil }
func (fakeRemote) Key(string, bool) (bool, error)                { return true, nil }

func TestViewerHandlesSessionEvents(t *testing.T) {
	v := newViewer("t", 1, 1, logging.NoOpLogger{})
	var resized []int
	v.resize = func(title string, w, h int) { resized = append(resized, w, h) }

	v.OnServerInit(rfb.ServerInit{Width: 640, Height: 480, Name: "desk"})
	require.Equal(t, []int{640, 480}, resized)
	w, h := v.size()
	require.Equal(t, 640, w)
	require.Equal(t, 480, h)

	// nothing attached yet
	v.OnFramebufferApplied(image.Rect(0, 0, 1, 1))
	require.Empty(t, v.frames)

	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	v.Attach(fakeRemote{img: img})
	v.OnFramebufferApplied(image.Rect(0, 0, 640, 480))
	require.Same(t, img, <-v.frames)

	v.OnBell()
	v.OnCutText("x")
	v.OnSessionClosed(nil)
	v.Close()
	v.Close()
	<-v.Done()
}
