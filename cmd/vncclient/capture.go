package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/vncgate/logging"
)

// recorder saves applied frames as numbered PNG files.
type recorder struct {
	dir       string
	maxFrames int
	snapshot  func() *image.RGBA
	log       logging.Logger

	mu     sync.Mutex
	frames int
}

func newRecorder(dir string, maxFrames int, logger logging.Logger) (*recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &recorder{dir: dir, maxFrames: maxFrames, log: logger}, nil
}

// Frames is the number of frames written so far.
func (r *recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *recorder) save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil || (r.maxFrames > 0 && r.frames >= r.maxFrames) {
		return nil
	}
	img := r.snapshot()
	if img == nil {
		return nil
	}

	r.frames++
	filename := filepath.Join(r.dir, fmt.Sprintf("frame_%04d.png", r.frames))
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	logging.Debugf(r.log, "Saved frame %d to %s", r.frames, filename)
	return nil
}
