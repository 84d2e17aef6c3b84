package entity

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// DefaultMaxHeaderBytes bounds a single part's header block.
const DefaultMaxHeaderBytes = 16 << 10

// maxBoundaryLen is the RFC 2046 limit on boundary length.
const maxBoundaryLen = 70

type messageState int

const (
	stateAwaitingFirstBoundary messageState = iota
	stateHeaderBlock
	stateContent
	statePartComplete
	stateTerminal
)

func (s messageState) String() string {
	switch s {
	case stateAwaitingFirstBoundary:
		return "awaiting-first-boundary"
	case stateHeaderBlock:
		return "header-block"
	case stateContent:
		return "content"
	case statePartComplete:
		return "part-complete"
	case stateTerminal:
		return "terminal"
	}
	return "unknown"
}

// MessageOption configures a Message.
type MessageOption func(*messageConfig)

type messageConfig struct {
	maxHeaderBytes int
	maxPartBytes   int64
	logger         *slog.Logger
	limiter        *rate.Limiter
}

// WithMaxHeaderBytes bounds the size of each part's header block. A larger
// block is a framing error.
func WithMaxHeaderBytes(n int) MessageOption {
	return func(c *messageConfig) {
		c.maxHeaderBytes = n
	}
}

// WithMaxPartBytes bounds the content size of each part. Exceeding it
// fails the message with ErrPartTooLarge. Zero means no limit.
func WithMaxPartBytes(n int64) MessageOption {
	return func(c *messageConfig) {
		c.maxPartBytes = n
	}
}

// WithLogger sets the logger used for discard and release diagnostics.
func WithLogger(l *slog.Logger) MessageOption {
	return func(c *messageConfig) {
		c.logger = l
	}
}

// WithReadLimiter throttles how fast bytes are pulled from the source.
// The limiter's tokens are bytes; its burst must be positive.
func WithReadLimiter(l *rate.Limiter) MessageOption {
	return func(c *messageConfig) {
		c.limiter = l
	}
}

// Message is a multipart body parsed incrementally from a ChunkSource.
//
// Parts are produced one at a time in wire order by NextPart or Parts.
// Input is pulled only when the caller asks for the next part or reads
// part content, so a slow consumer never causes unbounded buffering.
// A Message is not safe for concurrent use.
type Message struct {
	boundary string
	delim    []byte
	src      ChunkSource
	cfg      messageConfig
	logger   *slog.Logger

	// ctx is the context of the most recent NextPart call. Part content
	// reads pull under it.
	ctx context.Context

	buf   []byte // pending input is buf[off:]
	off   int
	eof   bool
	avail int // bytes at buf[off:] already known to be content

	state        messageState
	lastTerminal bool
	current      *BodyPart
	count        int
	err          error
	closed       bool

	releases []func() error
}

// OpenMessage opens a multipart message whose boundary is taken from the
// Content-Type header. A missing or non-multipart content type, or a
// missing boundary parameter, is a framing error.
func OpenMessage(h Header, src ChunkSource, opts ...MessageOption) (*Message, error) {
	ct := h.Get(HeaderContentType)
	if ct == "" {
		return nil, framingErrorf("missing %s", HeaderContentType)
	}
	mt, err := ParseMediaType(ct)
	if err != nil {
		return nil, framingErrorf("%v", err)
	}
	if mt.Type != "multipart" {
		return nil, framingErrorf("%s is not multipart", mt.Essence())
	}
	boundary := mt.Param("boundary")
	if boundary == "" {
		return nil, framingErrorf("%s has no boundary parameter", mt.Essence())
	}
	return NewMessage(boundary, src, opts...)
}

// NewMessage parses src as a multipart body delimited by boundary.
func NewMessage(boundary string, src ChunkSource, opts ...MessageOption) (*Message, error) {
	if boundary == "" || len(boundary) > maxBoundaryLen {
		return nil, framingErrorf("boundary length %d out of range", len(boundary))
	}

	cfg := messageConfig{
		maxHeaderBytes: DefaultMaxHeaderBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.limiter != nil && cfg.limiter.Burst() > 0 {
		src = &throttledSource{src: src, limiter: cfg.limiter}
	}

	return &Message{
		boundary: boundary,
		delim:    []byte("\r\n--" + boundary),
		src:      src,
		cfg:      cfg,
		logger:   cfg.logger.With(slog.String("boundary", boundary)),
		ctx:      context.Background(),
		// The leading line break lets the first boundary match without one.
		buf: []byte("\r\n"),
	}, nil
}

// Boundary returns the delimiter token.
func (m *Message) Boundary() string { return m.boundary }

// NextPart returns the next body part, or io.EOF after the closing
// boundary. If the previous part's content was not fully read it is
// discarded first.
func (m *Message) NextPart(ctx context.Context) (*BodyPart, error) {
	if m.closed {
		return nil, ErrMessageClosed
	}
	if m.err != nil {
		return nil, m.err
	}
	m.ctx = ctx

	if prev := m.current; prev != nil && m.state == stateContent {
		n, err := m.drain(prev)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			prev.discarded = true
			m.logger.DebugContext(ctx, "discarded unread part content",
				slog.Int("part", prev.index),
				slog.String("name", prev.Name()),
				slog.Int64("bytes", n),
			)
		}
	}

	switch m.state {
	case stateAwaitingFirstBoundary:
		if err := m.awaitFirstBoundary(ctx); err != nil {
			return nil, m.fail(err)
		}
	case statePartComplete:
		if m.lastTerminal {
			m.state = stateTerminal
		} else {
			m.state = stateHeaderBlock
		}
	case stateHeaderBlock, stateContent, stateTerminal:
	}

	if m.state == stateTerminal {
		m.current = nil
		m.buf, m.off, m.avail = nil, 0, 0
		return nil, io.EOF
	}

	h, err := m.readHeaderBlock(ctx)
	if err != nil {
		return nil, m.fail(err)
	}

	part := &BodyPart{Header: h, index: m.count, msg: m}
	m.count++
	m.current = part
	m.state = stateContent
	return part, nil
}

// Parts iterates over the remaining parts. Iteration stops after the
// closing boundary; any error is yielded once as the final element.
func (m *Message) Parts(ctx context.Context) iter.Seq2[*BodyPart, error] {
	return func(yield func(*BodyPart, error) bool) {
		for {
			part, err := m.NextPart(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(part, nil) {
				return
			}
		}
	}
}

// Err returns the error that ended the message, if any.
func (m *Message) Err() error { return m.err }

// Done reports whether the closing boundary has been reached.
func (m *Message) Done() bool { return m.state == stateTerminal }

// Close abandons the message. It releases buffered input, ends the current
// part, runs release hooks registered by codecs (such as spooled upload
// files) and closes the source when it is an io.Closer. Closing before the
// closing boundary is not an error.
func (m *Message) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	if m.current != nil && m.state == stateContent {
		m.current.discarded = true
		m.logger.Debug("message abandoned mid-part", slog.Int("part", m.current.index))
	}
	m.current = nil
	m.buf, m.off, m.avail = nil, 0, 0

	var errs []error
	for i := len(m.releases) - 1; i >= 0; i-- {
		if err := m.releases[i](); err != nil {
			m.logger.Warn("release part resource", slog.Any("err", err))
			errs = append(errs, err)
		}
	}
	m.releases = nil

	if c, ok := m.src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onClose registers a release hook run by Close.
func (m *Message) onClose(fn func() error) {
	m.releases = append(m.releases, fn)
}

func (m *Message) fail(err error) error {
	if m.err == nil {
		m.err = err
		m.logger.Debug("multipart message failed",
			slog.String("state", m.state.String()),
			slog.Any("err", err),
		)
	}
	return m.err
}

func (m *Message) pending() []byte { return m.buf[m.off:] }

// fill pulls one chunk from the source into the pending buffer.
func (m *Message) fill(ctx context.Context) error {
	chunk, err := pull(ctx, m.src)
	if len(chunk) > 0 {
		if m.off > 0 {
			n := copy(m.buf, m.buf[m.off:])
			m.buf = m.buf[:n]
			m.off = 0
		}
		m.buf = append(m.buf, chunk...)
	}
	if errors.Is(err, io.EOF) {
		m.eof = true
		return nil
	}
	return err
}

func (m *Message) awaitFirstBoundary(ctx context.Context) error {
	for {
		r := scanBoundary(m.pending(), m.delim, m.eof)
		if r.found {
			m.off += r.next
			if r.terminal {
				m.state = stateTerminal
			} else {
				m.state = stateHeaderBlock
			}
			return nil
		}

		// Preamble is dropped, keeping only a possible partial delimiter.
		if r.offset >= 0 {
			m.off += r.offset
		} else {
			m.off = len(m.buf)
		}
		if m.eof {
			return framingErrorf("no boundary %q found", m.boundary)
		}
		if err := m.fill(ctx); err != nil {
			return err
		}
	}
}

var crlfcrlf = []byte("\r\n\r\n")

func (m *Message) readHeaderBlock(ctx context.Context) (Header, error) {
	for {
		p := m.pending()
		if bytes.HasPrefix(p, []byte("\r\n")) {
			m.off += 2
			return Header{}, nil
		}
		if i := bytes.Index(p, crlfcrlf); i >= 0 {
			if i > m.cfg.maxHeaderBytes {
				return Header{}, framingErrorf("part header block exceeds %d bytes", m.cfg.maxHeaderBytes)
			}
			h, err := parseHeaderBlock(p[:i])
			if err != nil {
				return Header{}, err
			}
			m.off += i + len(crlfcrlf)
			return h, nil
		}
		if len(p) > m.cfg.maxHeaderBytes {
			return Header{}, framingErrorf("part header block exceeds %d bytes", m.cfg.maxHeaderBytes)
		}
		if m.eof {
			return Header{}, framingErrorf("unexpected end of input in part headers")
		}
		if err := m.fill(ctx); err != nil {
			return Header{}, err
		}
	}
}

// parseHeaderBlock parses CRLF separated "Name: value" lines. Lines that
// start with a space or tab continue the previous value.
func parseHeaderBlock(block []byte) (Header, error) {
	type field struct{ name, value string }
	var fields []field

	for line := range strings.SplitSeq(string(block), "\r\n") {
		if line == "" {
			return Header{}, framingErrorf("empty line inside part headers")
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(fields) == 0 {
				return Header{}, framingErrorf("continuation line without a header")
			}
			last := &fields[len(fields)-1]
			last.value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Header{}, framingErrorf("malformed part header line %q", line)
		}
		if name == "" || strings.ContainsAny(name, " \t") {
			return Header{}, framingErrorf("malformed part header name %q", name)
		}
		fields = append(fields, field{name: name, value: strings.TrimSpace(value)})
	}

	var h Header
	for _, f := range fields {
		h.Add(f.name, f.value)
	}
	return h, nil
}

// readContent copies the current part's content into p. It returns io.EOF
// once the delimiter that ends the part has been consumed.
func (m *Message) readContent(part *BodyPart, p []byte) (int, error) {
	switch {
	case part.discarded:
		return 0, ErrPartDiscarded
	case part.done:
		return 0, io.EOF
	case m.closed:
		return 0, ErrMessageClosed
	case m.err != nil:
		return 0, m.err
	case part != m.current:
		return 0, ErrPartDiscarded
	case len(p) == 0:
		return 0, nil
	}

	for {
		if m.avail > 0 {
			n := copy(p, m.pending()[:m.avail])
			m.off += n
			m.avail -= n
			part.size += int64(n)
			if limit := m.cfg.maxPartBytes; limit > 0 && part.size > limit {
				return n, m.fail(ErrPartTooLarge)
			}
			return n, nil
		}

		r := scanBoundary(m.pending(), m.delim, m.eof)
		switch {
		case r.offset > 0:
			m.avail = r.offset
			continue
		case r.offset < 0 && len(m.pending()) > 0:
			m.avail = len(m.pending())
			continue
		case r.found:
			m.off += r.next
			part.done = true
			m.state = statePartComplete
			m.lastTerminal = r.terminal
			return 0, io.EOF
		}

		if m.eof {
			return 0, m.fail(framingErrorf("missing closing boundary %q", "--"+m.boundary+"--"))
		}
		if err := m.fill(m.ctx); err != nil {
			return 0, m.fail(err)
		}
	}
}

// drain consumes the rest of part without delivering it.
func (m *Message) drain(part *BodyPart) (int64, error) {
	scratch := make([]byte, 4<<10)
	var total int64
	for {
		n, err := m.readContent(part, scratch)
		total += int64(n)
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
