package output

import (
	"fmt"

	"github.com/bryanchriswhite/wlmirror/internal/transform"
)

// Geometry is the area an output covers in the global compositor space, in
// physical pixels.
type Geometry struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Contains reports whether the point (x, y) lies inside g.
func (g Geometry) Contains(x, y int32) bool {
	return x >= g.X && x < g.X+g.Width && y >= g.Y && y < g.Y+g.Height
}

// Entry describes one output known to the registry. The registry owns entries;
// anyone else holding an *Entry treats it as an identity handle that becomes
// invalid once OutputRemoved reports it.
type Entry struct {
	ID        uint32              `json:"id"`
	Name      string              `json:"name"`
	Scale     int32               `json:"scale"`
	Transform transform.Transform `json:"transform"`
	Geometry  Geometry            `json:"geometry"`
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s (%d)", e.Name, e.ID)
}

// Observer receives output lifecycle notifications. All methods run on the
// reactor thread.
type Observer interface {
	// OutputInitDone is called once, when the initial output sync completes.
	OutputInitDone()

	// OutputChanged is called after a known output's properties changed.
	OutputChanged(entry *Entry)

	// OutputRemoved is called before entry is forgotten by the registry.
	OutputRemoved(entry *Entry)
}
