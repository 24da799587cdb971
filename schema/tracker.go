package schema

import "math"

// Change is one field whose value differs from what was last sent.
type Change struct {
	Name  string
	Value any
}

// Tracker remembers the last value seen for every field of a schema.
// Not safe for concurrent use: Diff mutates state on every call.
type Tracker[S any] struct {
	schema   *Schema[S]
	lastSent []any
	seen     []bool // false = never extracted (unset)
}

// NewTracker creates a Tracker with every field unset.
func NewTracker[S any](s *Schema[S]) *Tracker[S] {
	return &Tracker[S]{
		schema:   s,
		lastSent: make([]any, s.Len()),
		seen:     make([]bool, s.Len()),
	}
}

// Diff returns the fields whose value changed since the previous Diff, in schema order.
// Every field's last value is overwritten whether it changed or not, so an
// unchanged state diffs to nothing on the next call.
func (t *Tracker[S]) Diff(state S) []Change {
	var changes []Change

	for i, f := range t.schema.fields {
		value := f.extract(state)
		if !t.seen[i] || !same(t.lastSent[i], value) {
			changes = append(changes, Change{Name: f.Name, Value: value})
		}
		t.lastSent[i] = value
		t.seen[i] = true
	}

	return changes
}

// Reset forgets every remembered value; the next Diff reports all fields.
func (t *Tracker[S]) Reset() {
	for i := range t.lastSent {
		t.lastSent[i] = nil
		t.seen[i] = false
	}
}

// same is == except that NaN equals NaN, so a float stuck at NaN is not
// reported on every pass.
func same(a, b any) bool {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok && math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
	case float32:
		if y, ok := b.(float32); ok && x != x && y != y {
			return true
		}
	}
	return a == b
}
