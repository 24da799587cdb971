// Package schema implements the static field schema and per-field change tracking.
package schema

import (
	"fmt"
)

// Field is one tracked value: a wire name plus the accessor that reads it from state.
type Field[S any] struct {
	Name    string
	extract func(S) any
}

// Track builds a field from a typed accessor.
// V must be comparable so the tracker can use plain value equality (no epsilon).
func Track[S any, V comparable](name string, fn func(S) V) Field[S] {
	if fn == nil {
		return Field[S]{Name: name}
	}
	return Field[S]{
		Name:    name,
		extract: func(s S) any { return fn(s) },
	}
}

// Schema is the ordered, immutable list of tracked fields.
// Order decides payload key order and nothing else.
type Schema[S any] struct {
	fields []Field[S]
}

// New validates the fields and freezes them into a Schema.
func New[S any](fields ...Field[S]) (*Schema[S], error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema requires at least one field")
	}

	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d: name required", i)
		}
		if f.extract == nil {
			return nil, fmt.Errorf("field %q: extractor required", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("field %q registered twice", f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	frozen := make([]Field[S], len(fields))
	copy(frozen, fields)
	return &Schema[S]{fields: frozen}, nil
}

// MustNew is New for schemas built from package-level literals.
func MustNew[S any](fields ...Field[S]) *Schema[S] {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of tracked fields.
func (s *Schema[S]) Len() int {
	return len(s.fields)
}

// Names returns the wire names in schema order.
func (s *Schema[S]) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}
