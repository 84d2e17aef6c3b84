package entity

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
)

// Part is an outbound body part: headers plus the source of its content.
// A nil Body writes an empty part.
type Part struct {
	Header Header
	Body   io.Reader
}

// FormField returns a form-data part carrying a plain value.
func FormField(name, value string) Part {
	var h Header
	h.Set(HeaderContentDisposition, mime.FormatMediaType("form-data", map[string]string{"name": name}))
	return Part{Header: h, Body: strings.NewReader(value)}
}

// FormFile returns a form-data part carrying a file. An empty contentType
// defaults to application/octet-stream.
func FormFile(name, filename, contentType string, body io.Reader) Part {
	if contentType == "" {
		contentType = MediaOctetStream.String()
	}
	var h Header
	h.Set(HeaderContentDisposition, mime.FormatMediaType("form-data", map[string]string{
		"name":     name,
		"filename": filename,
	}))
	h.Set(HeaderContentType, contentType)
	return Part{Header: h, Body: body}
}

// RandomBoundary returns a boundary token derived from a random UUID.
func RandomBoundary() string {
	return "entity-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidBoundary checks a boundary against the RFC 2046 grammar: 1 to 70
// characters from the bchars set, not ending in a space.
func ValidBoundary(boundary string) error {
	if boundary == "" || len(boundary) > maxBoundaryLen {
		return fmt.Errorf("%w: length %d", ErrInvalidBoundary, len(boundary))
	}
	for i, c := range []byte(boundary) {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte("'()+_,-./:=?", c) >= 0:
		case c == ' ' && i != len(boundary)-1:
		default:
			return fmt.Errorf("%w: invalid character %q", ErrInvalidBoundary, c)
		}
	}
	return nil
}

// MultipartWriter serializes body parts into a boundary-delimited stream.
// Content is written verbatim; the boundary must not occur in any part.
type MultipartWriter struct {
	w        io.Writer
	boundary string
	subtype  string
	parts    int
	closed   bool
}

// NewMultipartWriter returns a writer using boundary, or a random one when
// boundary is empty.
func NewMultipartWriter(w io.Writer, boundary string) (*MultipartWriter, error) {
	if boundary == "" {
		boundary = RandomBoundary()
	}
	if err := ValidBoundary(boundary); err != nil {
		return nil, err
	}
	return &MultipartWriter{w: w, boundary: boundary, subtype: "form-data"}, nil
}

// Boundary returns the boundary token.
func (mw *MultipartWriter) Boundary() string { return mw.boundary }

// SetSubtype changes the multipart subtype reported by MediaType
// (default "form-data").
func (mw *MultipartWriter) SetSubtype(subtype string) { mw.subtype = subtype }

// MediaType returns the multipart media type with the boundary parameter.
func (mw *MultipartWriter) MediaType() MediaType {
	return MediaType{Type: "multipart", Subtype: mw.subtype}.With("boundary", mw.boundary)
}

// ContentType returns MediaType formatted for a Content-Type header.
func (mw *MultipartWriter) ContentType() string {
	return mw.MediaType().String()
}

// CreatePart writes the delimiter and headers for a new part and returns
// a writer for its content. The returned writer is valid until the next
// CreatePart or Close.
func (mw *MultipartWriter) CreatePart(h Header) (io.Writer, error) {
	if mw.closed {
		return nil, fmt.Errorf("multipart writer: %w", ErrMessageClosed)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}

	delim := "--" + mw.boundary + "\r\n"
	if mw.parts > 0 {
		delim = "\r\n" + delim
	}
	if _, err := io.WriteString(mw.w, delim); err != nil {
		return nil, err
	}
	if _, err := h.WriteTo(mw.w); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(mw.w, "\r\n"); err != nil {
		return nil, err
	}
	mw.parts++
	return mw.w, nil
}

// WritePart writes a whole part, copying its body until EOF. The copy
// stops early when ctx is cancelled.
func (mw *MultipartWriter) WritePart(ctx context.Context, p Part) error {
	w, err := mw.CreatePart(p.Header)
	if err != nil {
		return err
	}
	if p.Body == nil {
		return nil
	}
	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: p.Body}); err != nil {
		return fmt.Errorf("write part %d: %w", mw.parts-1, err)
	}
	return nil
}

// Close writes the closing boundary. It does not close the underlying
// writer.
func (mw *MultipartWriter) Close() error {
	if mw.closed {
		return nil
	}
	mw.closed = true

	closing := "--" + mw.boundary + "--\r\n"
	if mw.parts > 0 {
		closing = "\r\n" + closing
	}
	_, err := io.WriteString(mw.w, closing)
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
