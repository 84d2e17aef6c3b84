package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"reflect"
)

// PartSeq is a lazily produced sequence of outbound parts. Writing stops
// at the first error the sequence yields.
type PartSeq iter.Seq2[Part, error]

var (
	formType     = reflect.TypeFor[Form]()
	formPtrType  = reflect.TypeFor[*Form]()
	messagePtr   = reflect.TypeFor[*Message]()
	partSeqType  = reflect.TypeFor[PartSeq]()
	iterSeqType  = reflect.TypeFor[iter.Seq2[Part, error]]()
	partListType = reflect.TypeFor[[]Part]()
)

var (
	multipartReaderMediaTypes = []MediaType{MediaMultipartAny}
	multipartWriterMediaTypes = []MediaType{MediaFormData, MediaMultipartAny}
)

// sourceOf wraps body as a chunk source without exposing its Close, so a
// message opened by a codec never closes the caller's body.
func sourceOf(body io.Reader) ChunkSource {
	return ReaderSource(struct{ io.Reader }{body}, 0)
}

// newMultipartWriter starts a writer for the negotiated media type and sets
// the Content-Type header, boundary included.
func newMultipartWriter(w io.Writer, boundary string, mt MediaType, h *Header) (*MultipartWriter, error) {
	mw, err := NewMultipartWriter(w, boundary)
	if err != nil {
		return nil, err
	}
	if mt.Type == "multipart" && mt.Subtype != "*" {
		mw.SetSubtype(mt.Subtype)
	}
	h.Set(HeaderContentType, mw.ContentType())
	return mw, nil
}

// formCodec reads a whole multipart body into a Form and writes a Form
// back out.
type formCodec struct {
	opts []MessageOption
}

func (formCodec) MediaTypes() []MediaType { return multipartReaderMediaTypes }

func (formCodec) Accept(t reflect.Type, _ MediaType) Verdict {
	if t == formType || t == formPtrType {
		return Supported
	}
	return Unsupported
}

func (c formCodec) Read(ctx context.Context, target reflect.Type, h Header, body io.Reader) (any, error) {
	m, err := OpenMessage(h, sourceOf(body), c.opts...)
	if err != nil {
		return nil, err
	}
	form, err := ReadForm(ctx, m)
	if err != nil {
		return nil, err
	}
	if target == formType {
		return *form, nil
	}
	return form, nil
}

// formWriter is the writing half of formCodec. Its declared media types
// prefer multipart/form-data for wildcard ranges.
type formWriter struct{}

func (formWriter) MediaTypes() []MediaType { return multipartWriterMediaTypes }

func (formWriter) Accept(t reflect.Type, mt MediaType) Verdict {
	return formCodec{}.Accept(t, mt)
}

func (formWriter) Write(ctx context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
	var form *Form
	switch x := v.(type) {
	case Form:
		form = &x
	case *Form:
		form = x
	}
	if form == nil {
		return errNoForm
	}
	mw, err := newMultipartWriter(w, form.Boundary, mt, h)
	if err != nil {
		return err
	}
	return form.writeParts(ctx, mw)
}

// messageCodec hands out a streaming *Message for reads and writes part
// sequences, part lists and inbound messages part by part.
type messageCodec struct {
	opts []MessageOption
}

func (messageCodec) MediaTypes() []MediaType { return multipartReaderMediaTypes }

func (messageCodec) Accept(t reflect.Type, _ MediaType) Verdict {
	if t == messagePtr {
		return Supported
	}
	return Unsupported
}

func (c messageCodec) Read(_ context.Context, _ reflect.Type, h Header, body io.Reader) (any, error) {
	return OpenMessage(h, sourceOf(body), c.opts...)
}

// messageWriter is the writing half of messageCodec.
type messageWriter struct{}

func (messageWriter) MediaTypes() []MediaType { return multipartWriterMediaTypes }

func (messageWriter) Accept(t reflect.Type, _ MediaType) Verdict {
	switch t {
	case partSeqType, iterSeqType, partListType, messagePtr:
		return Supported
	}
	return Unsupported
}

// Write streams parts through a MultipartWriter. Part bodies that are
// io.Closers are closed once written. An inbound *Message is echoed with
// its own boundary.
func (messageWriter) Write(ctx context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
	var (
		seq      iter.Seq2[Part, error]
		boundary string
	)
	switch x := v.(type) {
	case PartSeq:
		seq = iter.Seq2[Part, error](x)
	case iter.Seq2[Part, error]:
		seq = x
	case []Part:
		seq = func(yield func(Part, error) bool) {
			for _, p := range x {
				if !yield(p, nil) {
					return
				}
			}
		}
	case *Message:
		boundary = x.Boundary()
		seq = messageParts(ctx, x)
	default:
		return fmt.Errorf("multipart writer cannot encode %T", v)
	}

	mw, err := newMultipartWriter(w, boundary, mt, h)
	if err != nil {
		return err
	}
	for p, err := range seq {
		if err != nil {
			return err
		}
		werr := mw.WritePart(ctx, p)
		if c, ok := p.Body.(io.Closer); ok {
			werr = errors.Join(werr, c.Close())
		}
		if werr != nil {
			return werr
		}
	}
	return mw.Close()
}

// messageParts adapts the remaining parts of m to outbound parts that
// stream their content straight from the inbound message.
func messageParts(ctx context.Context, m *Message) iter.Seq2[Part, error] {
	return func(yield func(Part, error) bool) {
		for part, err := range m.Parts(ctx) {
			if err != nil {
				yield(Part{}, err)
				return
			}
			body, err := part.Reader()
			if err != nil {
				yield(Part{}, err)
				return
			}
			if !yield(Part{Header: part.Header.Clone(), Body: body}, nil) {
				return
			}
		}
	}
}
