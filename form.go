package entity

import (
	"bytes"
	"context"
	"errors"
	"mime"
)

// Form is a multipart message materialized in memory: every part's headers
// and content, in wire order. Use Message to stream large bodies instead.
type Form struct {
	// Boundary is the boundary the form was read with. Writers reuse it
	// when set.
	Boundary string
	Parts    []FormPart
}

// FormPart is one fully read part of a Form.
type FormPart struct {
	Header  Header
	Content []byte
}

// Name returns the "name" parameter of the Content-Disposition header.
func (p FormPart) Name() string { return dispositionParam(p.Header, "name") }

// Filename returns the base name of the Content-Disposition "filename"
// parameter, or "".
func (p FormPart) Filename() string {
	return baseFilename(dispositionParam(p.Header, "filename"))
}

// ContentType returns the part's Content-Type, defaulting to text/plain.
func (p FormPart) ContentType() string { return partContentType(p.Header) }

// IsFile reports whether the part carries a filename.
func (p FormPart) IsFile() bool { return p.Filename() != "" }

// Value returns the content of the first non-file part called name.
func (f *Form) Value(name string) string {
	for _, p := range f.Parts {
		if p.Name() == name && !p.IsFile() {
			return string(p.Content)
		}
	}
	return ""
}

// Values returns the contents of all non-file parts called name.
func (f *Form) Values(name string) []string {
	var out []string
	for _, p := range f.Parts {
		if p.Name() == name && !p.IsFile() {
			out = append(out, string(p.Content))
		}
	}
	return out
}

// File returns the first file part called name.
func (f *Form) File(name string) (FormPart, bool) {
	for _, p := range f.Parts {
		if p.Name() == name && p.IsFile() {
			return p, true
		}
	}
	return FormPart{}, false
}

// AddField appends a plain form field.
func (f *Form) AddField(name, value string) {
	var h Header
	h.Set(HeaderContentDisposition, mime.FormatMediaType("form-data", map[string]string{"name": name}))
	f.Parts = append(f.Parts, FormPart{Header: h, Content: []byte(value)})
}

// AddFile appends a file part. An empty contentType defaults to
// application/octet-stream.
func (f *Form) AddFile(name, filename, contentType string, content []byte) {
	p := FormFile(name, filename, contentType, nil)
	f.Parts = append(f.Parts, FormPart{Header: p.Header, Content: content})
}

// ReadForm reads every remaining part of m into a Form.
func ReadForm(ctx context.Context, m *Message) (*Form, error) {
	form := &Form{Boundary: m.Boundary()}
	for part, err := range m.Parts(ctx) {
		if err != nil {
			return nil, err
		}
		content, err := part.Bytes()
		if err != nil {
			return nil, err
		}
		form.Parts = append(form.Parts, FormPart{Header: part.Header, Content: content})
	}
	return form, nil
}

// writeParts serializes the form through mw and closes it.
func (f *Form) writeParts(ctx context.Context, mw *MultipartWriter) error {
	for _, p := range f.Parts {
		if err := mw.WritePart(ctx, Part{Header: p.Header, Body: bytes.NewReader(p.Content)}); err != nil {
			return err
		}
	}
	return mw.Close()
}

// errNoForm reports a nil form passed to a writer.
var errNoForm = errors.New("nil form")
