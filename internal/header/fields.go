// Package header provides an ordered, case-insensitive header multi-map.
package header

import (
	"net/http"
	"slices"
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Is reports whether the field name equals name, ignoring case.
func (f Field) Is(name string) bool {
	return strings.EqualFold(f.Name, name)
}

// Fields is an ordered list of header lines. Repeated names are kept as
// separate entries in the order they were added.
type Fields []Field

// FromHTTP converts h into Fields. http.Header keeps every value of a name in
// order but not the order between names, so names are sorted.
func FromHTTP(h http.Header) Fields {
	names := make([]string, 0, len(h))
	n := 0
	for name, vals := range h {
		names = append(names, name)
		n += len(vals)
	}
	slices.Sort(names)

	fs := make(Fields, 0, n)
	for _, name := range names {
		for _, v := range h[name] {
			fs = append(fs, Field{Name: name, Value: v})
		}
	}
	return fs
}

// Add appends a field.
func (fs *Fields) Add(name, value string) {
	*fs = append(*fs, Field{Name: name, Value: value})
}

// Get returns the first value for name, or "".
func (fs Fields) Get(name string) string {
	for _, f := range fs {
		if f.Is(name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name in order.
func (fs Fields) Values(name string) []string {
	var vals []string
	for _, f := range fs {
		if f.Is(name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// Has reports whether at least one field is named name.
func (fs Fields) Has(name string) bool {
	return slices.ContainsFunc(fs, func(f Field) bool { return f.Is(name) })
}

// Del removes every field named name.
func (fs *Fields) Del(name string) {
	*fs = slices.DeleteFunc(*fs, func(f Field) bool { return f.Is(name) })
}

// Clone returns a copy that shares no storage with fs.
func (fs Fields) Clone() Fields {
	if fs == nil {
		return nil
	}
	return slices.Clone(fs)
}

// Len returns the number of fields.
func (fs Fields) Len() int { return len(fs) }
