// Package entity parses and writes multipart MIME bodies as streams and
// negotiates the codec that converts an entity body to or from a Go value.
//
// A Message pulls byte chunks from a ChunkSource and yields body parts one
// at a time. Nothing is read ahead of the consumer: a part's content is
// pulled from the source only as it is read, and advancing to the next
// part discards whatever was left unread.
//
//	m, err := entity.OpenMessage(entity.HeaderFromHTTP(r.Header), entity.ReaderSource(r.Body, 0))
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//	for part, err := range m.Parts(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(part.Name(), part.Filename())
//	}
//
// A Registry holds EntityReader and EntityWriter codecs in registration
// order. Selection is driven by the target type and the media type: each
// codec answers Supported, CompatibleButUnconfirmed or Unsupported, the
// first Supported codec wins and the first CompatibleButUnconfirmed one is
// the fallback.
//
//	reg := entity.NewDefaultRegistry()
//	comments, err := entity.ReadAs[[]Comment](ctx, reg, header, body)
//
// Handle adapts typed handlers to net/http on top of a Registry:
//
//	http.Handle("/inspect", entity.Handle(reg, func(ctx context.Context, m *entity.Message) (*Summary, error) {
//	    ...
//	}))
package entity
