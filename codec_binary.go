package entity

import (
	"context"
	"fmt"
	"io"
	"reflect"
)

var bytesType = reflect.TypeFor[[]byte]()

// binaryCodec reads a body of any media type into an io.Reader or a
// []byte.
type binaryCodec struct{}

var binaryMediaTypes = []MediaType{MediaOctetStream, MediaAny}

func (binaryCodec) MediaTypes() []MediaType { return binaryMediaTypes }

func (binaryCodec) Accept(t reflect.Type, _ MediaType) Verdict {
	if t == readerType || (t != nil && deref(t) == bytesType) {
		return Supported
	}
	return Unsupported
}

func (binaryCodec) Read(_ context.Context, target reflect.Type, _ Header, body io.Reader) (any, error) {
	switch {
	case target == readerType:
		return body, nil
	case deref(target) == bytesType:
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return boxAs(reflect.ValueOf(data), target), nil
	}
	return nil, fmt.Errorf("binary reader cannot produce %v", target)
}

// binaryWriter writes byte slices and any io.Reader verbatim, closing
// readers that are io.Closers.
type binaryWriter struct{}

func (binaryWriter) MediaTypes() []MediaType { return binaryMediaTypes }

func (binaryWriter) Accept(t reflect.Type, _ MediaType) Verdict {
	if t == nil || isEntityOnly(t) {
		return Unsupported
	}
	if deref(t) == bytesType || t.Implements(readerType) {
		return Supported
	}
	return Unsupported
}

func (binaryWriter) Write(ctx context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
	h.Set(HeaderContentType, mt.String())
	switch x := v.(type) {
	case []byte:
		_, err := w.Write(x)
		return err
	case *[]byte:
		_, err := w.Write(*x)
		return err
	case io.Reader:
		_, err := io.Copy(w, &ctxReader{ctx: ctx, r: x})
		if c, ok := x.(io.Closer); ok {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}
	return fmt.Errorf("binary writer cannot encode %T", v)
}
