package session

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coder/vncgate/rfb"
)

func TestHandlersFanOut(t *testing.T) {
	var events []string
	record := func(prefix string) Handler {
		return HandlerFuncs{
			ServerInit:         func(init rfb.ServerInit) { events = append(events, prefix+" init "+init.Name) },
			FramebufferApplied: func(image.Rectangle) { events = append(events, prefix+" applied") },
			Bell:               func() { events = append(events, prefix+" bell") },
			CutText:            func(text string) { events = append(events, prefix+" cut "+text) },
			SessionClosed:      func(reason error) { events = append(events, prefix+" closed "+reason.Error()) },
		}
	}

	h := Handlers{record("a"), NopHandler{}, HandlerFuncs{}, record("b")}
	h.OnServerInit(rfb.ServerInit{Name: "desk"})
	h.OnFramebufferApplied(image.Rect(0, 0, 1, 1))
	h.OnBell()
	h.OnCutText("hi")
	h.OnSessionClosed(errors.New("done"))

	require.Equal(t, []string{
		"a init desk", "b init desk",
		"a applied", "b applied",
		"a bell", "b bell",
		"a cut hi", "b cut hi",
		"a closed done", "b closed done",
	}, events)
}
