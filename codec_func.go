package entity

import (
	"context"
	"fmt"
	"io"
	"reflect"
)

// ReaderFunc is an EntityReader assembled from functions.
type ReaderFunc struct {
	Types      []MediaType
	AcceptFunc func(target reflect.Type, mt MediaType) Verdict
	ReadFunc   func(ctx context.Context, target reflect.Type, h Header, body io.Reader) (any, error)
}

// MediaTypes returns Types.
func (f ReaderFunc) MediaTypes() []MediaType { return f.Types }

// Accept calls AcceptFunc.
func (f ReaderFunc) Accept(target reflect.Type, mt MediaType) Verdict { return f.AcceptFunc(target, mt) }

// Read calls ReadFunc.
func (f ReaderFunc) Read(ctx context.Context, target reflect.Type, h Header, body io.Reader) (any, error) {
	return f.ReadFunc(ctx, target, h, body)
}

// WriterFunc is an EntityWriter assembled from functions.
type WriterFunc struct {
	Types      []MediaType
	AcceptFunc func(t reflect.Type, mt MediaType) Verdict
	WriteFunc  func(ctx context.Context, v any, mt MediaType, h *Header, w io.Writer) error
}

// MediaTypes returns Types.
func (f WriterFunc) MediaTypes() []MediaType { return f.Types }

// Accept calls AcceptFunc.
func (f WriterFunc) Accept(t reflect.Type, mt MediaType) Verdict { return f.AcceptFunc(t, mt) }

// Write calls WriteFunc.
func (f WriterFunc) Write(ctx context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
	return f.WriteFunc(ctx, v, mt, h, w)
}

// TypedReader returns a reader that supports exactly T on the given media
// types (any media type when none are given).
func TypedReader[T any](read func(ctx context.Context, h Header, body io.Reader) (T, error), mediaTypes ...MediaType) EntityReader {
	want := reflect.TypeFor[T]()
	return ReaderFunc{
		Types:      mediaTypes,
		AcceptFunc: exactly(want),
		ReadFunc: func(ctx context.Context, _ reflect.Type, h Header, body io.Reader) (any, error) {
			return read(ctx, h, body)
		},
	}
}

// TypedWriter returns a writer that supports exactly T on the given media
// types. Content-Type is set to the negotiated media type before write
// runs.
func TypedWriter[T any](write func(ctx context.Context, v T, w io.Writer) error, mediaTypes ...MediaType) EntityWriter {
	want := reflect.TypeFor[T]()
	return WriterFunc{
		Types:      mediaTypes,
		AcceptFunc: exactly(want),
		WriteFunc: func(ctx context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
			tv, ok := v.(T)
			if !ok {
				return fmt.Errorf("writer for %v got %T", want, v)
			}
			h.Set(HeaderContentType, mt.String())
			return write(ctx, tv, w)
		},
	}
}

func exactly(want reflect.Type) func(reflect.Type, MediaType) Verdict {
	return func(t reflect.Type, _ MediaType) Verdict {
		if t == want {
			return Supported
		}
		return Unsupported
	}
}
