package window

import "strings"

// Flags record lifecycle milestones. Bits are only ever set.
type Flags uint8

const (
	FlagOutputsDone Flags = 1 << iota
	FlagToplevelDone
	FlagComplete

	// FlagReady is set once both the outputs and the toplevel are known.
	FlagReady = FlagOutputsDone | FlagToplevelDone
)

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

func (f Flags) String() string {
	return joinBits(uint8(f), []string{"outputs-done", "toplevel-done", "complete"})
}

// Changed is the set of attributes mutated since the last commit.
type Changed uint8

const (
	ChangedSize Changed = 1 << iota
	ChangedScale
	ChangedTransform
	ChangedOutput
	ChangedBufferSize
)

// Has reports whether any bit of mask is set.
func (c Changed) Has(mask Changed) bool {
	return c&mask != 0
}

func (c Changed) String() string {
	return joinBits(uint8(c), []string{"size", "scale", "transform", "output", "buffer-size"})
}

func joinBits(bits uint8, names []string) string {
	if bits == 0 {
		return "none"
	}
	var parts []string
	for i, name := range names {
		if bits&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
