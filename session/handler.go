package session

import (
	"image"

	"github.com/coder/vncgate/rfb"
)

// Handler receives session events. Calls are made from the goroutine
// running Session.Run, one at a time, without session locks held, so a
// handler may call back into the session.
type Handler interface {
	OnServerInit(init rfb.ServerInit)
	OnFramebufferApplied(dirty image.Rectangle)
	OnBell()
	OnCutText(text string)
	// OnSessionClosed is called exactly once per Run with the terminal
	// reason: a *rfb.Error, ErrDisconnectRequested or the context error.
	OnSessionClosed(reason error)
}

// NopHandler ignores every event.
type NopHandler struct{}

func (NopHandler) OnServerInit(rfb.ServerInit)          {}
func (NopHandler) OnFramebufferApplied(image.Rectangle) {}
func (NopHandler) OnBell()                              {}
func (NopHandler) OnCutText(string)                     {}
func (NopHandler) OnSessionClosed(error)                {}

// HandlerFuncs adapts optional functions to Handler. Nil fields are
// skipped.
type HandlerFuncs struct {
	ServerInit         func(init rfb.ServerInit)
	FramebufferApplied func(dirty image.Rectangle)
	Bell               func()
	CutText            func(text string)
	SessionClosed      func(reason error)
}

func (h HandlerFuncs) OnServerInit(init rfb.ServerInit) {
	if h.ServerInit != nil {
		h.ServerInit(init)
	}
}

func (h HandlerFuncs) OnFramebufferApplied(dirty image.Rectangle) {
	if h.FramebufferApplied != nil {
		h.FramebufferApplied(dirty)
	}
}

func (h HandlerFuncs) OnBell() {
	if h.Bell != nil {
		h.Bell()
	}
}

func (h HandlerFuncs) OnCutText(text string) {
	if h.CutText != nil {
		h.CutText(text)
	}
}

func (h HandlerFuncs) OnSessionClosed(reason error) {
	if h.SessionClosed != nil {
		h.SessionClosed(reason)
	}
}

// Handlers fans every event out to each handler in order.
type Handlers []Handler

func (hs Handlers) OnServerInit(init rfb.ServerInit) {
	for _, h := range hs {
		h.OnServerInit(init)
	}
}

func (hs Handlers) OnFramebufferApplied(dirty image.Rectangle) {
	for _, h := range hs {
		h.OnFramebufferApplied(dirty)
	}
}

func (hs Handlers) OnBell() {
	for _, h := range hs {
		h.OnBell()
	}
}

func (hs Handlers) OnCutText(text string) {
	for _, h := range hs {
		h.OnCutText(text)
	}
}

func (hs Handlers) OnSessionClosed(reason error) {
	for _, h := range hs {
		h.OnSessionClosed(reason)
	}
}
