package room

import (
	"github.com/devansh6012/code-collab/internal/v1/types"
	"k8s.io/utils/set"
)

// palette is the fixed set of cursor colors, chosen to stay readable against
// both light and dark editor themes.
var palette = []string{
	"#e06c75", // red
	"#61afef", // blue
	"#98c379", // green
	"#e5c07b", // yellow
	"#c678dd", // purple
	"#56b6c2", // cyan
	"#d19a66", // orange
	"#abb2bf", // gray
}

// colorAllocator hands out palette colors per room. A user keeps the same
// color for the lifetime of their presence; released colors return to the
// pool. With more users than palette entries, colors repeat round-robin.
// Not safe for concurrent use; callers hold the room lock.
type colorAllocator struct {
	assigned map[types.ClientIDType]string
	inUse    set.Set[string]
	next     int
}

func newColorAllocator() *colorAllocator {
	return &colorAllocator{
		assigned: make(map[types.ClientIDType]string),
		inUse:    set.New[string](),
	}
}

// assign returns the user's existing color or picks the next free one.
func (a *colorAllocator) assign(userID types.ClientIDType) string {
	if color, ok := a.assigned[userID]; ok {
		return color
	}

	// Prefer an unused color, scanning from the cursor so consecutive
	// joiners get distinct colors even after churn.
	for i := 0; i < len(palette); i++ {
		candidate := palette[(a.next+i)%len(palette)]
		if !a.inUse.Has(candidate) {
			a.next = (a.next + i + 1) % len(palette)
			a.assigned[userID] = candidate
			a.inUse.Insert(candidate)
			return candidate
		}
	}

	// Palette exhausted: cycle regardless of collisions.
	color := palette[a.next%len(palette)]
	a.next = (a.next + 1) % len(palette)
	a.assigned[userID] = color
	return color
}

// release frees the user's color for reuse. Colors shared due to palette
// exhaustion stay in use until their last holder leaves.
func (a *colorAllocator) release(userID types.ClientIDType) {
	color, ok := a.assigned[userID]
	if !ok {
		return
	}
	delete(a.assigned, userID)

	for _, c := range a.assigned {
		if c == color {
			return // still held by someone else
		}
	}
	a.inUse.Delete(color)
}
