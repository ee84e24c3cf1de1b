// Package overlay draws detection bounding boxes and labels onto a render
// surface kept in sync with the video's rendered dimensions.
package overlay

import (
	"fmt"
	"image/color"
	"sync"

	"media-analyzer-go/internal/core/models"
	"media-analyzer-go/internal/core/pubsub"

	log "github.com/sirupsen/logrus"
)

// Surface is a drawing target sized to the video box. Implementations are
// not required to be safe for concurrent use; the renderer serializes all
// access.
type Surface interface {
	Size() (width, height int)
	Resize(width, height int)
	Clear()
	DrawRect(x, y, width, height int, c color.RGBA)
	DrawLabel(text string, x, y int, c color.RGBA)
}

// typeColors maps a detection type to its box/label color.
var typeColors = map[models.DetectionType]color.RGBA{
	models.DetectionObject: {R: 0, G: 200, B: 83, A: 255},
	models.DetectionLogo:   {R: 41, G: 121, B: 255, A: 255},
	models.DetectionText:   {R: 255, G: 196, B: 0, A: 255},
}

// defaultColor is used for unrecognized detection types.
var defaultColor = color.RGBA{R: 158, G: 158, B: 158, A: 255}

// ColorFor returns the color for a detection type, falling back to the
// default for unrecognized types.
func ColorFor(t models.DetectionType) color.RGBA {
	if c, ok := typeColors[t]; ok {
		return c
	}
	return defaultColor
}

// ScaleBox converts a normalized unit-square bounding box into surface pixel
// coordinates.
func ScaleBox(b models.BoundingBox, width, height int) (x, y, w, h int) {
	x = int(b.X * float64(width))
	y = int(b.Y * float64(height))
	w = int(b.Width * float64(width))
	h = int(b.Height * float64(height))
	return x, y, w, h
}

// Renderer repaints a surface from the current detection list. Every
// detection change clears the surface; boxes and labels are only drawn while
// the overlay is visible.
type Renderer struct {
	mu      sync.Mutex
	surface Surface
	visible bool
	last    []models.DetectionResult
	cancel  func()
}

// NewRenderer creates a renderer drawing onto surface.
func NewRenderer(surface Surface, visible bool) *Renderer {
	return &Renderer{surface: surface, visible: visible}
}

// Attach subscribes the renderer to a detection value so every change
// triggers a repaint. It returns the renderer for chaining.
func (r *Renderer) Attach(detections *pubsub.Value[[]models.DetectionResult]) *Renderer {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	cancel := detections.Subscribe(r.Render)

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	return r
}

// Detach unsubscribes from the detection value.
func (r *Renderer) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Render repaints the surface for the given detection list.
func (r *Renderer) Render(detections []models.DetectionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = detections
	r.paint()
}

// SetVisible toggles the overlay. Turning it off clears the surface and
// suppresses draws; turning it on repaints the last detection list.
func (r *Renderer) SetVisible(visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visible == visible {
		return
	}
	r.visible = visible
	r.paint()
}

// Visible reports whether the overlay is drawn.
func (r *Renderer) Visible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

// SyncSize resizes the surface to the video's rendered box and repaints.
// Call it on metadata-loaded, video-resize and window-resize events.
func (r *Renderer) SyncSize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface.Resize(width, height)
	r.paint()
}

// paint redraws the surface from r.last. Callers hold r.mu.
func (r *Renderer) paint() {
	r.surface.Clear()
	if !r.visible {
		return
	}

	width, height := r.surface.Size()
	for _, d := range r.last {
		c := ColorFor(d.DetectionType)
		x, y, w, h := ScaleBox(d.BBox, width, height)
		r.surface.DrawRect(x, y, w, h, c)

		label := fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100)
		labelY := y - 4
		if labelY < 12 {
			labelY = y + 14
		}
		r.surface.DrawLabel(label, x, labelY, c)
	}

	log.Debugf("Overlay repainted with %d detections", len(r.last))
}
