package window

import (
	"github.com/bryanchriswhite/wlmirror/internal/transform"
)

// Snapshot is a copy of the committed window state, safe to hand to other
// goroutines.
type Snapshot struct {
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
	Scale        float64             `json:"scale"`
	BufferWidth  int                 `json:"buffer_width"`
	BufferHeight int                 `json:"buffer_height"`
	Transform    transform.Transform `json:"transform"`
	Output       string              `json:"output,omitempty"`
	Fullscreen   bool                `json:"fullscreen"`
	Fractional   bool                `json:"fractional_scale"`
	InitDone     bool                `json:"init_done"`
	Changed      string              `json:"changed,omitempty"`

	// SourceWidth and SourceHeight are the buffer size before the transform,
	// the size a mirrored image must have to fill the buffer.
	SourceWidth  int `json:"source_width"`
	SourceHeight int `json:"source_height"`
	// TextureMatrix maps buffer texture coordinates to source coordinates.
	TextureMatrix transform.Mat3 `json:"texture_matrix"`
}

// Snapshot copies the current state. changed is recorded as given, so
// listeners can pass the bits of the commit they are handling.
func (w *Window) Snapshot(changed Changed) Snapshot {
	s := Snapshot{
		Width:        w.width,
		Height:       w.height,
		Scale:        w.scale,
		BufferWidth:  w.bufferWidth,
		BufferHeight: w.bufferHeight,
		Transform:    w.transform,
		Fullscreen:   w.fullscreen,
		Fractional:   w.fractional,
		InitDone:     w.InitDone(),
	}
	s.SourceWidth, s.SourceHeight = w.transform.Dimensions(w.bufferWidth, w.bufferHeight)
	s.TextureMatrix = transform.Identity()
	s.TextureMatrix.ApplyTransform(w.transform)
	if w.current != nil {
		s.Output = w.current.Name
	}
	if changed != 0 {
		s.Changed = changed.String()
	}
	return s
}
