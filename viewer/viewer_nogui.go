//go:build !gui

package viewer

import (
	"github.com/coder/vncgate/logging"
)

// Run runs fn with a viewer that only logs frames, since this binary was
// built without the gui tag. It returns when fn does.
func Run(title string, width, height int, logger logging.Logger, fn func(*Viewer)) {
	v := newViewer(title, width, height, logger)
	v.log.Printf("GUI viewer disabled (built without 'gui' tag). Title: %s, Size: %dx%d", title, width, height)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		frames := 0
		for {
			select {
			case <-v.frames:
				frames++
			case <-v.done:
				logging.Debugf(v.log, "viewer dropped %d frames", frames)
				return
			}
		}
	}()

	fn(v)
	v.Close()
	<-drained
}
