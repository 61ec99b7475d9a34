// Package ot implements the operational-transform engine for collaborative
// text editing. It is pure: no I/O, no shared state, safe for concurrent use.
//
// All positions and lengths are UTF-16 code-unit offsets, matching the
// coordinate system of browser editor widgets. Content crosses the package
// boundary as a Go string and is re-encoded to UTF-16 only inside Apply.
package ot

import (
	"unicode/utf16"
)

// OpType distinguishes the two operation variants.
type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

// Operation is a single user-originated edit.
//
// For inserts, Text carries the payload and Length is ignored.
// For deletes, Length carries the span and Text is empty.
// Timestamp is the client's local clock; it is trusted only as a
// deterministic tie-breaker for same-position conflicts, never for
// cross-client ordering.
type Operation struct {
	Type      OpType `json:"type"`
	Position  int    `json:"position"`
	Text      string `json:"text,omitempty"`
	Length    int    `json:"length,omitempty"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

// IsNoop reports whether applying the operation leaves content unchanged.
func (op Operation) IsNoop() bool {
	switch op.Type {
	case OpInsert:
		return op.Text == ""
	case OpDelete:
		return op.Length <= 0
	}
	return true
}

// TextLen returns the length of s in UTF-16 code units.
func TextLen(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Transform rewrites a on the assumption that b has already been applied to
// the document, so that applying the result afterwards preserves a's intent.
// b is never modified.
func Transform(a, b Operation) Operation {
	if b.IsNoop() {
		return a
	}

	switch {
	case a.Type == OpInsert && b.Type == OpInsert:
		return transformInsertInsert(a, b)
	case a.Type == OpDelete && b.Type == OpDelete:
		return transformDeleteDelete(a, b)
	case a.Type == OpInsert && b.Type == OpDelete:
		return transformInsertDelete(a, b)
	case a.Type == OpDelete && b.Type == OpInsert:
		return transformDeleteInsert(a, b)
	}
	return a
}

func transformInsertInsert(a, b Operation) Operation {
	switch {
	case a.Position < b.Position:
		return a
	case a.Position > b.Position:
		a.Position += TextLen(b.Text)
		return a
	default:
		// Same position: the lower timestamp keeps its spot, the higher
		// one shifts past the other's text. Equal timestamps fall back to
		// user id so both sides resolve the race identically.
		if a.Timestamp < b.Timestamp || (a.Timestamp == b.Timestamp && a.UserID < b.UserID) {
			return a
		}
		a.Position += TextLen(b.Text)
		return a
	}
}

func transformDeleteDelete(a, b Operation) Operation {
	switch {
	case a.Position < b.Position:
		return a
	case a.Position > b.Position:
		a.Position = max(b.Position, a.Position-b.Length)
		return a
	default:
		// Same start: b already removed min(L1,L2) of the range a wanted.
		// When the ranges are identical a becomes a no-op on both sides;
		// keeping the "winner" intact would delete the text that follows.
		if a.Length > b.Length {
			a.Length -= b.Length
			return a
		}
		a.Length = 0
		return a
	}
}

func transformInsertDelete(a, b Operation) Operation {
	switch {
	case a.Position <= b.Position:
		return a
	case a.Position > b.Position+b.Length:
		a.Position -= b.Length
		return a
	default:
		// Insert fell inside the deleted window; collapse to its start.
		a.Position = b.Position
		return a
	}
}

func transformDeleteInsert(a, b Operation) Operation {
	if a.Position < b.Position {
		return a
	}
	a.Position += TextLen(b.Text)
	return a
}

// TransformAgainst folds Transform over window in order, producing the
// operation as it must be applied after every operation in the window.
func TransformAgainst(op Operation, window []Operation) Operation {
	for _, w := range window {
		op = Transform(op, w)
	}
	return op
}

// Apply splices op into content and returns the result. Out-of-range
// positions are clamped to the document bounds rather than rejected; the
// caller is expected to log clamped operations. No-ops return content
// unchanged.
func Apply(content string, op Operation) string {
	if op.IsNoop() {
		return content
	}

	units := utf16.Encode([]rune(content))
	pos := clamp(op.Position, 0, len(units))

	switch op.Type {
	case OpInsert:
		ins := utf16.Encode([]rune(op.Text))
		out := make([]uint16, 0, len(units)+len(ins))
		out = append(out, units[:pos]...)
		out = append(out, ins...)
		out = append(out, units[pos:]...)
		return string(utf16.Decode(out))
	case OpDelete:
		end := clamp(pos+op.Length, pos, len(units))
		out := make([]uint16, 0, len(units)-(end-pos))
		out = append(out, units[:pos]...)
		out = append(out, units[end:]...)
		return string(utf16.Decode(out))
	}
	return content
}

// Compose compacts a sequence by merging adjacent operations from the same
// user: contiguous inserts (first ends where second begins) and deletes at
// the same position. Relative order of everything else is preserved. Used to
// keep the per-file operation log small.
func Compose(ops []Operation) []Operation {
	if len(ops) < 2 {
		return ops
	}

	out := make([]Operation, 0, len(ops))
	out = append(out, ops[0])

	for _, next := range ops[1:] {
		last := &out[len(out)-1]
		if last.UserID == next.UserID && mergeable(*last, next) {
			if last.Type == OpInsert {
				last.Text += next.Text
			} else {
				last.Length += next.Length
			}
			continue
		}
		out = append(out, next)
	}
	return out
}

func mergeable(a, b Operation) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case OpInsert:
		return a.Position+TextLen(a.Text) == b.Position
	case OpDelete:
		return a.Position == b.Position
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
