package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync/atomic"
)

// Verdict is a codec's answer to "can you convert this type?".
type Verdict int

const (
	// Unsupported means the codec cannot handle the type.
	Unsupported Verdict = iota
	// CompatibleButUnconfirmed means the codec can probably handle the
	// type, but only an attempt would tell. It is used when no codec
	// answers Supported.
	CompatibleButUnconfirmed
	// Supported means the codec handles the type.
	Supported
)

func (v Verdict) String() string {
	switch v {
	case Unsupported:
		return "unsupported"
	case CompatibleButUnconfirmed:
		return "compatible-but-unconfirmed"
	case Supported:
		return "supported"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// EntityReader converts an entity body into a value of a target type.
type EntityReader interface {
	// MediaTypes lists the media types the reader declares, wildcards
	// allowed. An empty list means any media type.
	MediaTypes() []MediaType
	// Accept reports whether the reader can produce target from a body of
	// media type mt.
	Accept(target reflect.Type, mt MediaType) Verdict
	// Read converts body. The returned value has exactly the target type.
	Read(ctx context.Context, target reflect.Type, h Header, body io.Reader) (any, error)
}

// EntityWriter converts a value into an entity body.
type EntityWriter interface {
	// MediaTypes lists the media types the writer can produce.
	MediaTypes() []MediaType
	// Accept reports whether the writer can encode values of type t as mt.
	Accept(t reflect.Type, mt MediaType) Verdict
	// Write encodes v as mt to w. It sets at least Content-Type in h
	// before writing any byte.
	Write(ctx context.Context, v any, mt MediaType, h *Header, w io.Writer) error
}

// Registry holds readers and writers in registration order. Registration
// happens during setup; the registry seals itself on first selection and
// is then safe for concurrent use.
type Registry struct {
	readers []EntityReader
	writers []EntityWriter

	msgOpts  []MessageOption
	spoolDir string

	sealed atomic.Bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithReader registers an additional reader.
func WithReader(rd EntityReader) RegistryOption {
	return func(r *Registry) {
		r.readers = append(r.readers, rd)
	}
}

// WithWriter registers an additional writer.
func WithWriter(wr EntityWriter) RegistryOption {
	return func(r *Registry) {
		r.writers = append(r.writers, wr)
	}
}

// WithMessageOptions sets the options the built-in multipart readers pass
// to every Message they open.
func WithMessageOptions(opts ...MessageOption) RegistryOption {
	return func(r *Registry) {
		r.msgOpts = append(r.msgOpts, opts...)
	}
}

// WithSpoolDir sets where the built-in FileUpload reader spools content.
// The default is os.TempDir().
func WithSpoolDir(dir string) RegistryOption {
	return func(r *Registry) {
		r.spoolDir = dir
	}
}

// NewRegistry returns a registry holding only the codecs given in opts.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry returns a registry with the built-in codecs first, in
// this order: JSON, XML, YAML, plain text, whole multipart form, streaming
// multipart, spooled file upload and raw binary. Codecs passed with
// WithReader or WithWriter follow them.
func NewDefaultRegistry(opts ...RegistryOption) *Registry {
	user := NewRegistry(opts...)

	r := &Registry{msgOpts: user.msgOpts, spoolDir: user.spoolDir}
	r.readers = []EntityReader{
		jsonCodec{},
		xmlCodec{},
		yamlCodec{},
		textCodec{},
		formCodec{opts: r.msgOpts},
		messageCodec{opts: r.msgOpts},
		uploadCodec{dir: r.spoolDir},
		binaryCodec{},
	}
	r.writers = []EntityWriter{
		jsonCodec{},
		xmlCodec{},
		yamlCodec{},
		textWriter{},
		formWriter{},
		messageWriter{},
		binaryWriter{},
	}
	r.readers = append(r.readers, user.readers...)
	r.writers = append(r.writers, user.writers...)
	return r
}

// RegisterReader appends a reader. It panics once the registry is in use.
func (r *Registry) RegisterReader(rd EntityReader) {
	r.mustBeOpen()
	r.readers = append(r.readers, rd)
}

// RegisterWriter appends a writer. It panics once the registry is in use.
func (r *Registry) RegisterWriter(wr EntityWriter) {
	r.mustBeOpen()
	r.writers = append(r.writers, wr)
}

// Freeze seals the registry so later registration panics. Selection
// freezes the registry implicitly.
func (r *Registry) Freeze() { r.sealed.Store(true) }

func (r *Registry) mustBeOpen() {
	if r.sealed.Load() {
		panic("entity: codec registered after the registry was first used")
	}
}

// declaredMatch returns the declared media type that best matches wanted
// and how well it matches. An empty declaration matches anything.
func declaredMatch(declared []MediaType, wanted MediaType) (MediaType, matchLevel) {
	if len(declared) == 0 {
		return MediaAny, matchMediaType(MediaAny, wanted)
	}
	var best MediaType
	level := matchNone
	for _, d := range declared {
		if l := matchMediaType(d, wanted); l > level {
			best, level = d, l
		}
	}
	return best, level
}

// concrete picks the media type reported for a conversion: the wanted one
// when it is concrete, else the codec's declared one, else octet-stream.
func concrete(declared, wanted MediaType) MediaType {
	switch {
	case !wanted.IsWildcard():
		return wanted
	case !declared.IsWildcard():
		return declared
	}
	return MediaOctetStream
}

// SelectReader picks the reader for target given the body's Content-Type.
// Readers are tried in registration order: the first Supported wins, else
// the first CompatibleButUnconfirmed. An empty content type matches any
// reader. Selection never touches the body.
func (r *Registry) SelectReader(target reflect.Type, contentType string) (EntityReader, MediaType, error) {
	r.sealed.Store(true)

	wanted := MediaAny
	if contentType != "" {
		mt, err := ParseMediaType(contentType)
		if err != nil {
			return nil, MediaType{}, &UnsupportedError{Target: target, MediaType: contentType}
		}
		wanted = mt
	}

	var (
		fallback   EntityReader
		fallbackMT MediaType
	)
	for _, rd := range r.readers {
		declared, level := declaredMatch(rd.MediaTypes(), wanted)
		if level == matchNone {
			continue
		}
		mt := concrete(declared, wanted)
		switch rd.Accept(target, mt) {
		case Supported:
			return rd, mt, nil
		case CompatibleButUnconfirmed:
			if fallback == nil {
				fallback, fallbackMT = rd, mt
			}
		case Unsupported:
		}
	}
	if fallback != nil {
		return fallback, fallbackMT, nil
	}
	return nil, MediaType{}, &UnsupportedError{Target: target, MediaType: contentType}
}

// SelectWriter picks the writer for values of type t given an Accept
// header value. Accepted ranges are tried by descending quality. Within a
// range, writers whose declared media type matches exactly are tried
// first, then subtype wildcard matches, then full wildcard matches; each
// tier prefers Supported over CompatibleButUnconfirmed and breaks ties by
// registration order. The returned media type is concrete.
func (r *Registry) SelectWriter(t reflect.Type, accept string) (EntityWriter, MediaType, error) {
	r.sealed.Store(true)

	for _, ar := range parseAccept(accept) {
		for level := matchExact; level >= matchAny; level-- {
			var (
				fallback   EntityWriter
				fallbackMT MediaType
			)
			for _, wr := range r.writers {
				declared, l := declaredMatch(wr.MediaTypes(), ar.media)
				if l != level {
					continue
				}
				mt := concrete(declared, ar.media)
				switch wr.Accept(t, mt) {
				case Supported:
					return wr, mt, nil
				case CompatibleButUnconfirmed:
					if fallback == nil {
						fallback, fallbackMT = wr, mt
					}
				case Unsupported:
				}
			}
			if fallback != nil {
				return fallback, fallbackMT, nil
			}
		}
	}
	return nil, MediaType{}, &UnsupportedError{Target: t, MediaType: accept, Writer: true}
}

// Read converts body into a value of type target.
func (r *Registry) Read(ctx context.Context, target reflect.Type, h Header, body io.Reader) (any, error) {
	rd, _, err := r.SelectReader(target, h.Get(HeaderContentType))
	if err != nil {
		return nil, err
	}
	v, err := rd.Read(ctx, target, h, body)
	if err != nil {
		return nil, conversionError(err)
	}
	return v, nil
}

// ReadAs converts body into a T using reg.
func ReadAs[T any](ctx context.Context, reg *Registry, h Header, body io.Reader) (T, error) {
	var zero T
	v, err := reg.Read(ctx, reflect.TypeFor[T](), h, body)
	if err != nil {
		return zero, err
	}
	return assertResult[T](v)
}

// ReadPart converts the content of a body part into a T using reg. The
// part's content is opened and consumed. Results holding resources, such
// as a spooled *FileUpload, are released when the part's message closes.
func ReadPart[T any](ctx context.Context, reg *Registry, part *BodyPart) (T, error) {
	var zero T
	body, err := part.Reader()
	if err != nil {
		return zero, err
	}
	if part.msg != nil {
		ctx = contextWithLogger(ctx, part.msg.logger)
	}
	v, err := reg.Read(ctx, reflect.TypeFor[T](), part.Header, body)
	if err != nil {
		return zero, err
	}
	if rel, ok := v.(releaser); ok && part.msg != nil {
		part.msg.onClose(rel.release)
	}
	return assertResult[T](v)
}

func assertResult[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: reader returned %T, want %v", ErrConversion, v, reflect.TypeFor[T]())
	}
	return out, nil
}

// Write encodes v for the given Accept value, setting Content-Type in h.
// It returns the negotiated media type.
func (r *Registry) Write(ctx context.Context, v any, accept string, h *Header, w io.Writer) (MediaType, error) {
	if v == nil {
		return MediaType{}, fmt.Errorf("%w: nil value", ErrConversion)
	}
	wr, mt, err := r.SelectWriter(reflect.TypeOf(v), accept)
	if err != nil {
		return MediaType{}, err
	}
	if err := wr.Write(ctx, v, mt, h, w); err != nil {
		return mt, conversionError(err)
	}
	return mt, nil
}

// releaser is implemented by read results that hold resources tied to
// the lifetime of a message.
type releaser interface {
	release() error
}

// conversionError wraps codec failures with ErrConversion unless they are
// already classified.
func conversionError(err error) error {
	switch {
	case errors.Is(err, ErrFraming),
		errors.Is(err, ErrUpstreamIO),
		errors.Is(err, ErrConversion),
		errors.Is(err, ErrPartTooLarge),
		errors.Is(err, ErrContentConsumed),
		errors.Is(err, ErrPartDiscarded),
		errors.Is(err, ErrMessageClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrConversion, err)
}

// deref returns the element type of a pointer type, or t.
func deref(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

// decodeTarget allocates storage for target, lets fill decode into a
// pointer to it, and returns the stored value. A nil pointer result is
// replaced by a pointer to a zero value.
func decodeTarget(target reflect.Type, fill func(ptr any) error) (any, error) {
	ptr := reflect.New(target)
	if err := fill(ptr.Interface()); err != nil {
		return nil, err
	}
	v := ptr.Elem()
	if v.Kind() == reflect.Pointer && v.IsNil() {
		v.Set(reflect.New(target.Elem()))
	}
	return v.Interface(), nil
}
