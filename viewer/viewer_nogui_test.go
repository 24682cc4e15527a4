//go:build !gui

package viewer

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coder/vncgate/logging"
)

func TestRunWithoutGUI(t *testing.T) {
	var got *Viewer
	Run("t", 4, 4, logging.NoOpLogger{}, func(v *Viewer) {
		got = v
		v.Show(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	})
	require.NotNil(t, got)
	<-got.Done()
}
