// Package normalization canonicalizes enum-like configuration values, so
// "SQLite", " sqlite" and "sqlite" select the same driver.
package normalization

import (
	"fmt"
	"sort"
	"strings"
)

// Key is the canonical form used for lookups: trimmed and lower-cased.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Enum maps raw strings onto a closed set of values.
type Enum[T ~string] struct {
	name   string
	values map[string]T
	keys   []string
}

// NewEnum creates an enum named name (used in error messages) over values.
func NewEnum[T ~string](name string, values ...T) *Enum[T] {
	e := &Enum[T]{name: name, values: make(map[string]T, len(values))}
	for _, v := range values {
		k := Key(string(v))
		e.values[k] = v
		e.keys = append(e.keys, k)
	}
	sort.Strings(e.keys)
	return e
}

// Parse returns the value matching raw after normalization.
func (e *Enum[T]) Parse(raw string) (T, error) {
	if v, ok := e.values[Key(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("unsupported %s %q, valid options: %s", e.name, raw, strings.Join(e.keys, ", "))
}

// Normalize rewrites *v to its canonical value when it is recognized and
// leaves it untouched otherwise, so validation can still report it.
func (e *Enum[T]) Normalize(v *T) {
	if canon, err := e.Parse(string(*v)); err == nil {
		*v = canon
	}
}

// Values returns the accepted keys in sorted order.
func (e *Enum[T]) Values() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}
