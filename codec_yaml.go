package entity

import (
	"context"
	"errors"
	"io"
	"reflect"

	"gopkg.in/yaml.v3"
)

// yamlCodec implements both EntityReader and EntityWriter for YAML.
type yamlCodec struct{}

var yamlMediaTypes = []MediaType{
	MediaYAML,
	MustMediaType("application/x-yaml"),
	MustMediaType("text/yaml"),
	MustMediaType("application/*+yaml"),
}

func (yamlCodec) MediaTypes() []MediaType { return yamlMediaTypes }

func (yamlCodec) Accept(t reflect.Type, _ MediaType) Verdict { return structuredVerdict(t) }

func (yamlCodec) Read(_ context.Context, target reflect.Type, _ Header, body io.Reader) (any, error) {
	return decodeTarget(target, func(ptr any) error {
		err := yaml.NewDecoder(body).Decode(ptr)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
}

func (yamlCodec) Write(_ context.Context, v any, mt MediaType, h *Header, w io.Writer) error {
	h.Set(HeaderContentType, mt.Essence())
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
