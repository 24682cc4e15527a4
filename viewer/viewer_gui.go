//go:build gui

package viewer

import (
	"image"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
)

// Run opens a window on the calling goroutine, which must be the main one,
// and runs fn in the background. It returns when the window is closed; the
// viewer is Done by then.
func Run(title string, width, height int, logger logging.Logger, fn func(*Viewer)) {
	a := app.New()
	w := a.NewWindow(title)
	w.Resize(fyne.NewSize(float32(width), float32(height)))

	v := newViewer(title, width, height, logger)
	v.resize = func(title string, width, height int) {
		fyne.Do(func() {
			w.SetTitle(title)
			w.Resize(fyne.NewSize(float32(width), float32(height)))
		})
	}

	surface := newSurface(v)
	w.SetContent(container.NewBorder(nil, nil, nil, nil, surface))
	if dc, ok := w.Canvas().(desktop.Canvas); ok {
		dc.SetOnKeyDown(func(ev *fyne.KeyEvent) { v.key(ev.Name, true) })
		dc.SetOnKeyUp(func(ev *fyne.KeyEvent) { v.key(ev.Name, false) })
	}
	w.SetOnClosed(v.Close)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				v.log.Printf("viewer client panic: %v", r)
			}
		}()
		fn(v)
	}()
	go v.handleUpdates(surface.image)

	w.ShowAndRun()
	v.Close()
}

// handleUpdates repaints at most every 16ms with the newest frame.
func (v *Viewer) handleUpdates(img *canvas.Image) {
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	var latest image.Image
	for {
		select {
		case latest = <-v.frames:
		case <-ticker.C:
			if latest == nil {
				continue
			}
			frame := latest
			latest = nil
			fyne.Do(func() {
				img.Image = frame
				img.Refresh()
			})
		case <-v.done:
			return
		}
	}
}

func (v *Viewer) key(name fyne.KeyName, down bool) {
	r := v.attached()
	if r == nil {
		return
	}
	code := keyCode(string(name))
	mapped, err := r.Key(code, down)
	if err != nil {
		logging.Debugf(v.log, "key %s: %v", code, err)
		return
	}
	if !mapped {
		logging.Debugf(v.log, "key %s has no keysym", code)
	}
}

// surface is the framebuffer image plus mouse handling.
type surface struct {
	widget.BaseWidget
	viewer  *Viewer
	image   *canvas.Image
	pointer pointer
}

var (
	_ desktop.Mouseable = (*surface)(nil)
	_ desktop.Hoverable = (*surface)(nil)
	_ fyne.Scrollable   = (*surface)(nil)
)

func newSurface(v *Viewer) *surface {
	img := canvas.NewImageFromResource(nil)
	img.FillMode = canvas.ImageFillStretch
	img.ScaleMode = canvas.ImageScalePixels

	s := &surface{viewer: v, image: img}
	s.ExtendBaseWidget(s)
	return s
}

func (s *surface) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(s.image)
}

// position maps a widget position onto framebuffer coordinates.
func (s *surface) position(pos fyne.Position) (int, int) {
	width, height := s.viewer.size()
	size := s.Size()
	return scale(pos.X, size.Width, width), scale(pos.Y, size.Height, height)
}

func (s *surface) send(pos fyne.Position, held []rfb.Button) {
	r := s.viewer.attached()
	if r == nil {
		return
	}
	x, y := s.position(pos)
	if err := r.Pointer(x, y, held...); err != nil {
		logging.Debugf(s.viewer.log, "pointer: %v", err)
	}
}

func button(b desktop.MouseButton) (rfb.Button, bool) {
	switch b {
	case desktop.MouseButtonPrimary:
		return rfb.Left, true
	case desktop.MouseButtonTertiary:
		return rfb.Middle, true
	case desktop.MouseButtonSecondary:
		return rfb.Right, true
	}
	return 0, false
}

func (s *surface) MouseDown(ev *desktop.MouseEvent) {
	if b, ok := button(ev.Button); ok {
		s.send(ev.Position, s.pointer.set(b, true))
	}
}

func (s *surface) MouseUp(ev *desktop.MouseEvent) {
	if b, ok := button(ev.Button); ok {
		s.send(ev.Position, s.pointer.set(b, false))
	}
}

func (s *surface) MouseIn(ev *desktop.MouseEvent) {
	s.send(ev.Position, s.pointer.buttons())
}

func (s *surface) MouseMoved(ev *desktop.MouseEvent) {
	s.send(ev.Position, s.pointer.buttons())
}

func (s *surface) MouseOut() {}

func (s *surface) Scrolled(ev *fyne.ScrollEvent) {
	r := s.viewer.attached()
	if r == nil {
		return
	}
	x, y := s.position(ev.Position)
	dx := -wheelDirection(ev.Scrolled.DX)
	dy := wheelDirection(ev.Scrolled.DY)
	if err := r.Wheel(x, y, dx, dy, s.pointer.buttons()...); err != nil {
		logging.Debugf(s.viewer.log, "wheel: %v", err)
	}
}
