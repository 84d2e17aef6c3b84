package entity

import (
	"fmt"
	"io"
	"iter"
	"maps"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
)

// Well-known header names used by the codecs.
const (
	HeaderContentType        = "Content-Type"
	HeaderContentDisposition = "Content-Disposition"
	HeaderContentLength      = "Content-Length"
)

// Header is an ordered, multi-valued MIME header. Names are matched
// case-insensitively and stored in canonical form. The order in which
// distinct names were first added is preserved, as is the order of values
// under each name. The zero value is an empty header ready to use.
type Header struct {
	fields []headerField
}

type headerField struct {
	name   string
	values []string
}

// HeaderFromHTTP converts an http.Header. Go maps are unordered, so names
// are added in sorted order.
func HeaderFromHTTP(h http.Header) Header {
	var out Header
	for _, k := range slices.Sorted(maps.Keys(h)) {
		for _, v := range h[k] {
			out.Add(k, v)
		}
	}
	return out
}

func (h Header) index(name string) int {
	name = textproto.CanonicalMIMEHeaderKey(name)
	for i := range h.fields {
		if h.fields[i].name == name {
			return i
		}
	}
	return -1
}

// Add appends value under name.
func (h *Header) Add(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].values = append(h.fields[i].values, value)
		return
	}
	h.fields = append(h.fields, headerField{
		name:   textproto.CanonicalMIMEHeaderKey(name),
		values: []string{value},
	})
}

// Set replaces all values under name. A name that already exists keeps
// its position.
func (h *Header) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].values = []string{value}
		return
	}
	h.Add(name, value)
}

// Get returns the first value under name, or "".
func (h Header) Get(name string) string {
	if i := h.index(name); i >= 0 {
		return h.fields[i].values[0]
	}
	return ""
}

// Values returns all values under name in insertion order.
func (h Header) Values(name string) []string {
	if i := h.index(name); i >= 0 {
		return slices.Clone(h.fields[i].values)
	}
	return nil
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	return h.index(name) >= 0
}

// Del removes name and all of its values.
func (h *Header) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = slices.Delete(h.fields, i, i+1)
	}
}

// Keys returns the canonical names in insertion order.
func (h Header) Keys() []string {
	keys := make([]string, len(h.fields))
	for i, f := range h.fields {
		keys[i] = f.name
	}
	return keys
}

// Len returns the number of distinct names.
func (h Header) Len() int { return len(h.fields) }

// All iterates over every (name, value) pair in order.
func (h Header) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, f := range h.fields {
			for _, v := range f.values {
				if !yield(f.name, v) {
					return
				}
			}
		}
	}
}

// Clone returns a deep copy.
func (h Header) Clone() Header {
	out := Header{fields: make([]headerField, len(h.fields))}
	for i, f := range h.fields {
		out.fields[i] = headerField{name: f.name, values: slices.Clone(f.values)}
	}
	return out
}

// CopyTo adds every field to an http.Header, replacing existing values.
func (h Header) CopyTo(dst http.Header) {
	for _, f := range h.fields {
		dst[f.name] = slices.Clone(f.values)
	}
}

// WriteTo writes the fields in wire form, one "Name: value\r\n" line per
// value. It does not write the terminating blank line.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for name, value := range h.All() {
		if err := checkHeaderField(name, value); err != nil {
			return total, err
		}
		n, err := io.WriteString(w, name+": "+value+"\r\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// validate reports the first field WriteTo would reject.
func (h Header) validate() error {
	for name, value := range h.All() {
		if err := checkHeaderField(name, value); err != nil {
			return err
		}
	}
	return nil
}

func checkHeaderField(name, value string) error {
	if name == "" || strings.ContainsAny(name, ":\r\n \t") {
		return fmt.Errorf("%w: invalid header name %q", ErrInvalidHeader, name)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: header %s contains a line break", ErrInvalidHeader, name)
	}
	// The parser trims surrounding whitespace, so it could not round trip.
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%w: header %s has surrounding whitespace", ErrInvalidHeader, name)
	}
	return nil
}
