// Package viewer presents a framebuffer in a window. Built with the gui tag
// it opens a fyne window and forwards mouse and keyboard input; otherwise
// it only logs.
//
// A Viewer implements session.Handler, so it can be handed straight to
// session.New and shows every applied update.
package viewer

import (
	"image"
	"sync"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
)

// Remote is the session a viewer shows and controls. *session.Session
// satisfies it.
type Remote interface {
	Snapshot() *image.RGBA
	Pointer(x, y int, held ...rfb.Button) error
	Wheel(x, y, deltaX, deltaY int, held ...rfb.Button) error
	Key(code string, pressed bool) (bool, error)
}

// Viewer is safe for use from the session goroutine and the UI goroutine.
type Viewer struct {
	log    logging.Logger
	frames chan image.Image
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	title  string
	width  int
	height int
	remote Remote
	resize func(title string, width, height int)
}

func newViewer(title string, width, height int, logger logging.Logger) *Viewer {
	return &Viewer{
		log:    logging.OrDefault(logger),
		frames: make(chan image.Image, 1),
		done:   make(chan struct{}),
		title:  title,
		width:  width,
		height: height,
	}
}

// Attach sets the session whose snapshots are shown and which receives
// input.
func (v *Viewer) Attach(r Remote) {
	v.mu.Lock()
	v.remote = r
	v.mu.Unlock()
}

func (v *Viewer) attached() Remote {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.remote
}

// Show queues img for display. Only the newest queued image is kept.
func (v *Viewer) Show(img image.Image) {
	if img == nil {
		return
	}
	for {
		select {
		case v.frames <- img:
			return
		default:
		}
		select {
		case <-v.frames:
		default:
		}
	}
}

// Resize updates the title and framebuffer size.
func (v *Viewer) Resize(title string, width, height int) {
	v.mu.Lock()
	v.title, v.width, v.height = title, width, height
	resize := v.resize
	v.mu.Unlock()
	if resize != nil {
		resize(title, width, height)
	}
}

func (v *Viewer) size() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width, v.height
}

// Done is closed once the window is closed or Close is called.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// Close marks the viewer done. It does not close the window.
func (v *Viewer) Close() {
	v.once.Do(func() { close(v.done) })
}

func (v *Viewer) OnServerInit(init rfb.ServerInit) {
	v.Resize(init.Name, int(init.Width), int(init.Height))
}

func (v *Viewer) OnFramebufferApplied(image.Rectangle) {
	if r := v.attached(); r != nil {
		v.Show(r.Snapshot())
	}
}

func (v *Viewer) OnBell() {
	v.log.Println("bell")
}

func (v *Viewer) OnCutText(text string) {
	v.log.Printf("server clipboard: %d bytes", len(text))
}

func (v *Viewer) OnSessionClosed(reason error) {
	v.log.Printf("session closed: %v", reason)
}

// pointer tracks held buttons between mouse events.
type pointer struct {
	mu   sync.Mutex
	held map[rfb.Button]bool
}

func (p *pointer) set(b rfb.Button, down bool) []rfb.Button {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held == nil {
		p.held = make(map[rfb.Button]bool)
	}
	if down {
		p.held[b] = true
	} else {
		delete(p.held, b)
	}
	return p.buttonsLocked()
}

func (p *pointer) buttons() []rfb.Button {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buttonsLocked()
}

func (p *pointer) buttonsLocked() []rfb.Button {
	var held []rfb.Button
	for _, b := range []rfb.Button{rfb.Left, rfb.Middle, rfb.Right} {
		if p.held[b] {
			held = append(held, b)
		}
	}
	return held
}

// scale maps a position in a widget of the given size onto the framebuffer.
func scale(pos, extent float32, size int) int {
	if extent <= 0 {
		return 0
	}
	return int(pos / extent * float32(size))
}

// wheelDirection converts a fyne scroll delta, positive away from the
// user, to the sign rfb.TranslateWheel expects.
func wheelDirection(delta float32) int {
	switch {
	case delta > 0:
		return -1
	case delta < 0:
		return 1
	}
	return 0
}

// keyCodes maps fyne key names to the physical key codes of rfb.KeyTable.
var keyCodes = map[string]string{
	"Escape":    "Escape",
	"Return":    "Enter",
	"KP_Enter":  "NumpadEnter",
	"Tab":       "Tab",
	"BackSpace": "Backspace",
	"Insert":    "Insert",
	"Delete":    "Delete",
	"Right":     "ArrowRight",
	"Left":      "ArrowLeft",
	"Down":      "ArrowDown",
	"Up":        "ArrowUp",
	"Prior":     "PageUp",
	"Next":      "PageDown",
	"Home":      "Home",
	"End":       "End",
	"Space":     "Space",

	"LeftShift":    "ShiftLeft",
	"RightShift":   "ShiftRight",
	"LeftControl":  "ControlLeft",
	"RightControl": "ControlRight",
	"LeftAlt":      "AltLeft",
	"RightAlt":     "AltRight",
	"LeftSuper":    "MetaLeft",
	"RightSuper":   "MetaRight",

	"'":  "Quote",
	",":  "Comma",
	"-":  "Minus",
	".":  "Period",
	"/":  "Slash",
	"\\": "Backslash",
	";":  "Semicolon",
	"=":  "Equal",
	"[":  "BracketLeft",
	"]":  "BracketRight",
	"`":  "Backquote",
}

// keyCode returns the physical key code for a fyne key name.
func keyCode(name string) string {
	if code, ok := keyCodes[name]; ok {
		return code
	}
	if len(name) == 1 {
		switch c := name[0]; {
		case c >= 'A' && c <= 'Z':
			return "Key" + name
		case c >= '0' && c <= '9':
			return "Digit" + name
		}
	}
	// F1 to F12 share their names.
	return name
}
