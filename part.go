package entity

import (
	"io"
	"mime"
	"path/filepath"
)

// BodyPart is one segment of a multipart message: its headers and a
// forward-only content stream that can be opened exactly once.
//
// A part stays readable only while it is the message's current part.
// Advancing the message discards any unread content, after which reads
// return ErrPartDiscarded.
type BodyPart struct {
	Header Header

	index     int
	msg       *Message
	opened    bool
	done      bool
	discarded bool
	size      int64
}

// Index returns the zero-based position of the part in its message.
func (p *BodyPart) Index() int { return p.index }

// Name returns the "name" parameter of the Content-Disposition header.
func (p *BodyPart) Name() string {
	return dispositionParam(p.Header, "name")
}

// Filename returns the base name of the Content-Disposition "filename"
// parameter, or "" when the part is not a file.
func (p *BodyPart) Filename() string {
	return baseFilename(dispositionParam(p.Header, "filename"))
}

// dispositionParam returns a parameter of a form-data, attachment or inline
// Content-Disposition header.
func dispositionParam(h Header, key string) string {
	v := h.Get(HeaderContentDisposition)
	if v == "" {
		return ""
	}
	disp, params, err := mime.ParseMediaType(v)
	if err != nil || (disp != "form-data" && disp != "attachment" && disp != "inline") {
		return ""
	}
	return params[key]
}

func baseFilename(name string) string {
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

// ContentType returns the part's Content-Type, defaulting to text/plain.
func (p *BodyPart) ContentType() string {
	return partContentType(p.Header)
}

func partContentType(h Header) string {
	if ct := h.Get(HeaderContentType); ct != "" {
		return ct
	}
	return MediaTextPlain.String()
}

// Size returns the number of content bytes delivered so far.
func (p *BodyPart) Size() int64 { return p.size }

// Done reports whether the content has been read to the end.
func (p *BodyPart) Done() bool { return p.done }

// Reader opens the content stream. It may be called once; later calls
// return ErrContentConsumed.
func (p *BodyPart) Reader() (io.Reader, error) {
	if p.opened {
		return nil, ErrContentConsumed
	}
	p.opened = true
	return &partReader{part: p}, nil
}

// Bytes opens the content stream and reads it to the end.
func (p *BodyPart) Bytes() ([]byte, error) {
	r, err := p.Reader()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Discard drops any unread content. The content cannot be opened
// afterwards.
func (p *BodyPart) Discard() error {
	p.opened = true
	if p.done || p.discarded || p.msg == nil || p.msg.current != p {
		return nil
	}
	n, err := p.msg.drain(p)
	if err != nil {
		return err
	}
	p.msg.logger.Debug("part discarded", "part", p.index, "bytes", n)
	return nil
}

type partReader struct {
	part *BodyPart
}

func (r *partReader) Read(b []byte) (int, error) {
	if r.part.msg == nil {
		return 0, io.EOF
	}
	return r.part.msg.readContent(r.part, b)
}
