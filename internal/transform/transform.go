// Package transform models output orientations and the 3x3 matrices used to
// map texture coordinates through them.
package transform

import (
	"fmt"
	"strings"
)

// Transform is one of the 8 canonical output orientations. Values match the
// protocol enumeration so they can be passed through unchanged.
type Transform uint32

const (
	Normal Transform = iota
	Rotate90
	Rotate180
	Rotate270
	Flipped
	Flipped90
	Flipped180
	Flipped270
)

var names = [...]string{
	Normal:     "normal",
	Rotate90:   "90",
	Rotate180:  "180",
	Rotate270:  "270",
	Flipped:    "flipped",
	Flipped90:  "flipped-90",
	Flipped180: "flipped-180",
	Flipped270: "flipped-270",
}

func (t Transform) String() string {
	if t.Valid() {
		return names[t]
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// Valid reports whether t is one of the 8 orientations.
func (t Transform) Valid() bool {
	return t <= Flipped270
}

// Parse returns the transform named s, as produced by String.
func Parse(s string) (Transform, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range names {
		if name == s {
			return Transform(i), nil
		}
	}
	return Normal, fmt.Errorf("unknown transform %q", s)
}

// Rotation is a counter-clockwise rotation in quarter turns.
type Rotation int

const (
	RotNormal Rotation = iota
	RotCCW90
	RotCCW180
	RotCCW270
)

// Decomposed is a transform split into its flips and rotation. Flips are
// applied before the rotation.
type Decomposed struct {
	FlipX    bool
	FlipY    bool
	Rotation Rotation
}

// Decompose splits t into a horizontal flip and a rotation.
func (t Transform) Decompose() Decomposed {
	if !t.Valid() {
		return Decomposed{}
	}
	return Decomposed{
		FlipX:    t >= Flipped,
		Rotation: Rotation(t % 4),
	}
}

// SwapsAxes reports whether t rotates by a quarter turn, exchanging width
// and height.
func (t Transform) SwapsAxes() bool {
	return t.Valid() && t%2 == 1
}

// Dimensions returns the size of a w×h area after applying t.
func (t Transform) Dimensions(w, h int) (int, int) {
	if t.SwapsAxes() {
		return h, w
	}
	return w, h
}

// MarshalText encodes t by name.
func (t Transform) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid transform %d", uint32(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a transform name.
func (t *Transform) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
