// Package opencv provides the gocv-backed render surface for the detection
// overlay and PNG encoding for the snapshot endpoint.
package opencv

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"media-analyzer-go/internal/overlay"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// MatSurface is an overlay.Surface backed by a BGRA Mat. Pixels stay fully
// transparent except where boxes and labels are drawn, so the snapshot can
// be composited over the video frame.
type MatSurface struct {
	mu  sync.Mutex
	mat gocv.Mat
}

var _ overlay.Surface = (*MatSurface)(nil)

// NewMatSurface allocates a transparent surface of the given dimensions.
func NewMatSurface(width, height int) *MatSurface {
	s := &MatSurface{
		mat: gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC4),
	}
	s.Clear()
	return s
}

// Size returns the surface dimensions in pixels.
func (s *MatSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mat.Cols(), s.mat.Rows()
}

// Resize reallocates the surface at the new dimensions. Content is not
// preserved; the renderer repaints after resizing.
func (s *MatSurface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mat.Cols() == width && s.mat.Rows() == height {
		return
	}

	s.mat.Close()
	s.mat = gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC4)
	s.clearLocked()
	log.Debugf("Overlay surface resized to %dx%d", width, height)
}

// Clear resets every pixel to transparent.
func (s *MatSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *MatSurface) clearLocked() {
	s.mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

// DrawRect draws a 2px rectangle outline.
func (s *MatSurface) DrawRect(x, y, width, height int, c color.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gocv.Rectangle(&s.mat, image.Rect(x, y, x+width, y+height), c, 2)
}

// DrawLabel draws text with its baseline at (x, y).
func (s *MatSurface) DrawLabel(text string, x, y int, c color.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gocv.PutText(&s.mat, text, image.Pt(x, y), gocv.FontHersheySimplex, 0.5, c, 1)
}

// EncodePNG returns the current surface as a PNG image.
func (s *MatSurface) EncodePNG() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, s.mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode overlay snapshot: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}

// Close releases the underlying Mat.
func (s *MatSurface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mat.Close()
}
