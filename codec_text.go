package entity

import (
	"context"
	"encoding"
	"fmt"
	"io"
	"reflect"
	"strings"

	xencoding "golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var (
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	stringerType        = reflect.TypeFor[fmt.Stringer]()
)

// charsetEncoding resolves a header-declared charset. UTF-8, US-ASCII and
// an absent charset need no transcoding and yield nil.
func charsetEncoding(charset string) (xencoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc, nil
}

// textCodec reads any text/* body into strings, byte slices and
// encoding.TextUnmarshaler implementations, decoding the declared charset.
type textCodec struct{}

var textReaderMediaTypes = []MediaType{{Type: "text", Subtype: "*"}}

func (textCodec) MediaTypes() []MediaType { return textReaderMediaTypes }

func (textCodec) Accept(t reflect.Type, _ MediaType) Verdict {
	if t == nil {
		return Unsupported
	}
	if t.Kind() == reflect.Interface {
		if t.NumMethod() == 0 {
			return CompatibleButUnconfirmed
		}
		return Unsupported
	}
	if isEntityType(t) {
		return Unsupported
	}
	b := deref(t)
	switch {
	case b.Kind() == reflect.String:
		return Supported
	case b.Kind() == reflect.Slice && b.Elem().Kind() == reflect.Uint8:
		return Supported
	case reflect.PointerTo(b).Implements(textUnmarshalerType):
		return Supported
	}
	return Unsupported
}

func (textCodec) Read(_ context.Context, target reflect.Type, h Header, body io.Reader) (any, error) {
	r := body
	if ct := h.Get(HeaderContentType); ct != "" {
		if mt, err := ParseMediaType(ct); err == nil {
			enc, err := charsetEncoding(mt.Param("charset"))
			if err != nil {
				return nil, err
			}
			if enc != nil {
				r = enc.NewDecoder().Reader(body)
			}
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if target.Kind() == reflect.Interface {
		return string(data), nil
	}

	b := deref(target)
	v := reflect.New(b).Elem()
	switch {
	case b.Kind() == reflect.String:
		v.SetString(string(data))
	case b.Kind() == reflect.Slice && b.Elem().Kind() == reflect.Uint8:
		v.SetBytes(data)
	default:
		u, _ := v.Addr().Interface().(encoding.TextUnmarshaler) //nolint:errcheck // Accept guarantees the interface
		if err := u.UnmarshalText(data); err != nil {
			return nil, err
		}
	}
	return boxAs(v, target), nil
}

// textWriter writes strings, byte slices, encoding.TextMarshaler and
// fmt.Stringer values as text/plain, encoding to the negotiated charset.
type textWriter struct{}

var textWriterMediaTypes = []MediaType{MediaTextPlain}

func (textWriter) MediaTypes() []MediaType { return textWriterMediaTypes }

func (textWriter) Accept(t reflect.Type, _ MediaType) Verdict {
	if t == nil || isEntityType(t) {
		return Unsupported
	}
	b := deref(t)
	switch {
	case b.Kind() == reflect.String:
		return Supported
	case t.Implements(textMarshalerType), t.Implements(stringerType):
		return Supported
	case b.Kind() == reflect.Slice && b.Elem().Kind() == reflect.Uint8:
		// Raw bytes go to the binary writer unless text was asked for.
		return CompatibleButUnconfirmed
	}
	return Unsupported
}

func (textWriter) Write(_ context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
	if mt.Param("charset") == "" {
		mt = mt.With("charset", "utf-8")
	}
	enc, err := charsetEncoding(mt.Param("charset"))
	if err != nil {
		return err
	}

	var text []byte
	switch x := v.(type) {
	case encoding.TextMarshaler:
		if text, err = x.MarshalText(); err != nil {
			return err
		}
	case fmt.Stringer:
		text = []byte(x.String())
	default:
		rv := reflect.Indirect(reflect.ValueOf(v))
		if rv.Kind() == reflect.String {
			text = []byte(rv.String())
		} else {
			text = rv.Bytes()
		}
	}

	h.Set(HeaderContentType, mt.String())
	if enc != nil {
		ew := transform.NewWriter(w, enc.NewEncoder())
		if _, err := ew.Write(text); err != nil {
			return err
		}
		return ew.Close()
	}
	_, err = w.Write(text)
	return err
}

// boxAs returns v as a value of target, taking its address when target is
// a pointer to v's type.
func boxAs(v reflect.Value, target reflect.Type) any {
	if target.Kind() == reflect.Pointer && v.Type() == target.Elem() {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.Interface()
	}
	return v.Interface()
}
