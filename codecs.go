package entity

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"reflect"
)

var (
	readerType     = reflect.TypeFor[io.Reader]()
	entityOnlyType = map[reflect.Type]bool{
		reflect.TypeFor[Message]():    true,
		reflect.TypeFor[Form]():       true,
		reflect.TypeFor[FileUpload](): true,
		reflect.TypeFor[PartSeq]():    true,
		reflect.TypeFor[[]Part]():     true,
	}
)

// isEntityOnly reports whether t is one of the multipart or upload types.
func isEntityOnly(t reflect.Type) bool { return entityOnlyType[deref(t)] }

// isEntityType reports whether t is a stream or multipart type that only
// the multipart and binary codecs may handle.
func isEntityType(t reflect.Type) bool {
	if isEntityOnly(t) {
		return true
	}
	return t.Implements(readerType) || (t.Kind() != reflect.Interface && reflect.PointerTo(t).Implements(readerType))
}

// structuredVerdict is the acceptance rule shared by the JSON and YAML
// codecs: anything data-shaped is supported, untyped interfaces and
// strings might be, and streams never are.
func structuredVerdict(t reflect.Type) Verdict {
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

	//exhaustive:ignore
	switch b := deref(t); b.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer,
		reflect.Complex64, reflect.Complex128, reflect.Interface:
		return Unsupported
	case reflect.String:
		return CompatibleButUnconfirmed
	case reflect.Slice:
		if b.Elem().Kind() == reflect.Uint8 {
			return Unsupported
		}
	}
	return Supported
}

// jsonCodec implements both EntityReader and EntityWriter for JSON.
type jsonCodec struct{}

var jsonMediaTypes = []MediaType{MediaJSON, MustMediaType("application/*+json")}

func (jsonCodec) MediaTypes() []MediaType { return jsonMediaTypes }

func (jsonCodec) Accept(t reflect.Type, _ MediaType) Verdict { return structuredVerdict(t) }

func (jsonCodec) Read(_ context.Context, target reflect.Type, _ Header, body io.Reader) (any, error) {
	return decodeTarget(target, func(ptr any) error {
		err := json.NewDecoder(body).Decode(ptr)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
}

func (jsonCodec) Write(_ context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
	h.Set(HeaderContentType, mt.Essence())
	return json.NewEncoder(w).Encode(v)
}

// xmlCodec implements both EntityReader and EntityWriter for XML.
type xmlCodec struct{}

var xmlMediaTypes = []MediaType{
	MediaXML,
	MustMediaType("text/xml"),
	MustMediaType("application/*+xml"),
}

func (xmlCodec) MediaTypes() []MediaType { return xmlMediaTypes }

func (xmlCodec) Accept(t reflect.Type, _ MediaType) Verdict {
	if t == nil || t.Kind() == reflect.Interface || isEntityType(t) {
		return Unsupported
	}

	//exhaustive:ignore
	switch deref(t).Kind() {
	case reflect.Struct:
		return Supported
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return CompatibleButUnconfirmed
	}
	return Unsupported
}

func (xmlCodec) Read(_ context.Context, target reflect.Type, _ Header, body io.Reader) (any, error) {
	return decodeTarget(target, func(ptr any) error {
		err := xml.NewDecoder(body).Decode(ptr)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
}

func (xmlCodec) Write(_ context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
	h.Set(HeaderContentType, mt.Essence())
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}
