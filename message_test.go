package entity_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bjaus/entity"
	"github.com/bjaus/entity/entitytest"
)

type parsedPart struct {
	Header  map[string][]string
	Content string
}

func headerMap(h entity.Header) map[string][]string {
	out := map[string][]string{}
	for _, k := range h.Keys() {
		out[k] = h.Values(k)
	}
	return out
}

// parseAll reads every part of a message fed from chunks.
func parseAll(t *testing.T, boundary string, chunks [][]byte, opts ...entity.MessageOption) ([]parsedPart, error) {
	t.Helper()

	m, err := entity.NewMessage(boundary, entity.Chunks(chunks...), opts...)
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Close()) }()

	var parts []parsedPart
	for part, err := range m.Parts(context.Background()) {
		if err != nil {
			return parts, err
		}
		content, err := part.Bytes()
		if err != nil {
			return parts, err
		}
		parts = append(parts, parsedPart{Header: headerMap(part.Header), Content: string(content)})
	}
	return parts, nil
}

func TestMessage_single_part_scenario(t *testing.T) {
	t.Parallel()

	input := "--XYZ\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\nhello\r\n--XYZ--\r\n"
	m, err := entity.NewMessage("XYZ", entity.Chunks([]byte(input)))
	require.NoError(t, err)

	part, err := m.NextPart(context.Background())
	require.NoError(t, err)
	assert.True(t, part.Header.Has("Content-Disposition"))
	assert.Equal(t, "a", part.Name())
	assert.Equal(t, 0, part.Index())

	content, err := part.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	assert.Equal(t, int64(5), part.Size())
	assert.True(t, part.Done())

	_, err = m.NextPart(context.Background())
	require.ErrorIs(t, err, io.EOF)
	assert.True(t, m.Done())
	assert.NoError(t, m.Err())
}

func TestMessage_chunk_boundary_independence(t *testing.T) {
	t.Parallel()

	input := entitytest.BuildMessage(t, "chunky-boundary",
		entity.FormField("title", "hello world"),
		entity.FormFile("doc", "a.txt", "text/plain", strings.NewReader("line one\r\n--chunky-bound\r\nline two")),
		entity.Part{},
		entity.FormField("empty", ""),
	)

	want, err := parseAll(t, "chunky-boundary", [][]byte{input})
	require.NoError(t, err)
	require.Len(t, want, 4)

	for i := range len(input) + 1 {
		got, err := parseAll(t, "chunky-boundary", entitytest.SplitAt(input, i))
		require.NoError(t, err, "split at %d", i)
		require.Equal(t, want, got, "split at %d", i)
	}

	for _, n := range []int{1, 2, 3, 7, 16, 64} {
		got, err := parseAll(t, "chunky-boundary", entitytest.ChunkEvery(input, n))
		require.NoError(t, err, "chunks of %d", n)
		require.Equal(t, want, got, "chunks of %d", n)
	}
}

func TestMessage_boundary_prefix_in_content(t *testing.T) {
	t.Parallel()

	content := "a\r\n--XY\r\n--XYZW\r\n--XYZ-x\r\n--"
	input := "--XYZ\r\n\r\n" + content + "\r\n--XYZ--\r\n"

	for _, n := range []int{1, 4, len(input)} {
		parts, err := parseAll(t, "XYZ", entitytest.ChunkEvery([]byte(input), n))
		require.NoError(t, err)
		require.Len(t, parts, 1)
		assert.Equal(t, content, parts[0].Content)
	}
}

func TestMessage_framing_errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		input string
		opts  []entity.MessageOption
	}{
		"missing terminal boundary": {
			input: "--XYZ\r\n\r\nhello",
		},
		"missing terminal boundary after delimiter": {
			input: "--XYZ\r\n\r\nhello\r\n--XYZ\r\n",
		},
		"no boundary at all": {
			input: "just some text",
		},
		"malformed header line": {
			input: "--XYZ\r\nNoColonHere\r\n\r\nx\r\n--XYZ--\r\n",
		},
		"header name with space": {
			input: "--XYZ\r\nBad Name: x\r\n\r\nx\r\n--XYZ--\r\n",
		},
		"continuation without header": {
			input: "--XYZ\r\n folded\r\nA: b\r\n\r\nx\r\n--XYZ--\r\n",
		},
		"truncated header block": {
			input: "--XYZ\r\nA: b\r\n",
		},
		"header block too large": {
			input: "--XYZ\r\nA: " + strings.Repeat("b", 64) + "\r\n\r\nx\r\n--XYZ--\r\n",
			opts:  []entity.MessageOption{entity.WithMaxHeaderBytes(32)},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := parseAll(t, "XYZ", [][]byte{[]byte(tc.input)}, tc.opts...)
			require.ErrorIs(t, err, entity.ErrFraming)
		})
	}
}

func TestMessage_framing_error_is_sticky(t *testing.T) {
	t.Parallel()

	m, err := entity.NewMessage("XYZ", entity.Chunks([]byte("--XYZ\r\n\r\nhello")))
	require.NoError(t, err)

	part, err := m.NextPart(context.Background())
	require.NoError(t, err)

	_, err = part.Bytes()
	require.ErrorIs(t, err, entity.ErrFraming)

	_, err = m.NextPart(context.Background())
	require.ErrorIs(t, err, entity.ErrFraming)
	require.ErrorIs(t, m.Err(), entity.ErrFraming)
}

func TestMessage_preamble_and_epilogue(t *testing.T) {
	t.Parallel()

	input := "This is the preamble.\r\n--XYZ\r\nA: 1\r\n\r\none\r\n--XYZ\r\n\r\ntwo\r\n--XYZ--\r\nThis is the epilogue."
	parts, err := parseAll(t, "XYZ", [][]byte{[]byte(input)})
	require.NoError(t, err)

	assert.Equal(t, []parsedPart{
		{Header: map[string][]string{"A": {"1"}}, Content: "one"},
		{Header: map[string][]string{}, Content: "two"},
	}, parts)
}

func TestMessage_terminal_without_line_break(t *testing.T) {
	t.Parallel()

	parts, err := parseAll(t, "XYZ", [][]byte{[]byte("--XYZ\r\n\r\nhello\r\n--XYZ--")})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "hello", parts[0].Content)
}

func TestMessage_zero_parts(t *testing.T) {
	t.Parallel()

	parts, err := parseAll(t, "XYZ", [][]byte{[]byte("--XYZ--\r\n")})
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestMessage_header_parsing(t *testing.T) {
	t.Parallel()

	input := "--XYZ\r\n" +
		"content-disposition: form-data; name=\"f\"; filename=\"dir/report.pdf\"\r\n" +
		"X-Note: first\r\n" +
		"\tcontinued\r\n" +
		"X-Note: second\r\n" +
		"Content-Type: application/pdf\r\n" +
		"\r\n%PDF\r\n--XYZ--\r\n"

	m, err := entity.NewMessage("XYZ", entity.Chunks([]byte(input)))
	require.NoError(t, err)

	part, err := m.NextPart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Content-Disposition", "X-Note", "Content-Type"}, part.Header.Keys())
	assert.Equal(t, []string{"first continued", "second"}, part.Header.Values("x-note"))
	assert.Equal(t, "f", part.Name())
	assert.Equal(t, "report.pdf", part.Filename())
	assert.Equal(t, "application/pdf", part.ContentType())
}

func TestMessage_default_content_type(t *testing.T) {
	t.Parallel()

	m, err := entity.NewMessage("XYZ", entity.Chunks([]byte("--XYZ\r\n\r\nx\r\n--XYZ--\r\n")))
	require.NoError(t, err)

	part, err := m.NextPart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "text/plain", part.ContentType())
	assert.Empty(t, part.Name())
	assert.Empty(t, part.Filename())
}

func TestMessage_unread_part_is_discarded(t *testing.T) {
	t.Parallel()

	input := "--XYZ\r\n\r\nfirst part\r\n--XYZ\r\n\r\nsecond\r\n--XYZ--\r\n"
	m, err := entity.NewMessage("XYZ", entity.Chunks([]byte(input)), entity.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	first, err := m.NextPart(context.Background())
	require.NoError(t, err)

	r, err := first.Reader()
	require.NoError(t, err)
	buf := make([]byte, 3)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "fir", string(buf[:n]))

	second, err := m.NextPart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index())

	_, err = r.Read(buf)
	require.ErrorIs(t, err, entity.ErrPartDiscarded)

	content, err := second.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))
}

func TestMessage_explicit_discard(t *testing.T) {
	t.Parallel()

	input := "--XYZ\r\n\r\nskip me\r\n--XYZ\r\n\r\nkeep\r\n--XYZ--\r\n"
	m, err := entity.NewMessage("XYZ", entity.Chunks([]byte(input)))
	require.NoError(t, err)

	first, err := m.NextPart(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Discard())
	assert.True(t, first.Done())

	_, err = first.Reader()
	require.ErrorIs(t, err, entity.ErrContentConsumed)

	second, err := m.NextPart(context.Background())
	require.NoError(t, err)
	content, err := second.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "keep", string(content))
}

func TestMessage_content_is_one_shot(t *testing.T) {
	t.Parallel()

	m, err := entity.NewMessage("XYZ", entity.Chunks([]byte("--XYZ\r\n\r\nx\r\n--XYZ--\r\n")))
	require.NoError(t, err)

	part, err := m.NextPart(context.Background())
	require.NoError(t, err)

	_, err = part.Reader()
	require.NoError(t, err)

	_, err = part.Reader()
	require.ErrorIs(t, err, entity.ErrContentConsumed)

	_, err = part.Bytes()
	require.ErrorIs(t, err, entity.ErrContentConsumed)
}

func TestMessage_pulls_lazily(t *testing.T) {
	t.Parallel()

	src := entitytest.Count(
		[]byte("--XYZ\r\nA: b\r\n\r\n"),
		[]byte("aaaa"),
		[]byte("bbbb"),
		[]byte("\r\n--XYZ--\r\n"),
	)
	m, err := entity.NewMessage("XYZ", src)
	require.NoError(t, err)
	assert.Equal(t, 0, src.Pulls())

	part, err := m.NextPart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.Pulls())

	r, err := part.Reader()
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(buf[:n]))
	assert.Equal(t, 2, src.Pulls())
}

func TestMessage_upstream_error(t *testing.T) {
	t.Parallel()

	src := entitytest.FailingSource(
		[]byte("--XYZ\r\n\r\ndelivered\r\n--XYZ\r\n\r\npartial"),
	)
	m, err := entity.NewMessage("XYZ", src)
	require.NoError(t, err)

	first, err := m.NextPart(context.Background())
	require.NoError(t, err)
	content, err := first.Bytes()
	require.NoError(t, err)

	second, err := m.NextPart(context.Background())
	require.NoError(t, err)
	_, err = second.Bytes()
	require.ErrorIs(t, err, entity.ErrUpstreamIO)
	require.ErrorIs(t, err, entitytest.ErrInjected)

	_, err = m.NextPart(context.Background())
	require.ErrorIs(t, err, entity.ErrUpstreamIO)

	assert.Equal(t, "delivered", string(content), "already delivered parts stay valid")
}

func TestMessage_context_cancelled(t *testing.T) {
	t.Parallel()

	m, err := entity.NewMessage("XYZ", entity.Chunks([]byte("--XYZ\r\n\r\nx\r\n--XYZ--\r\n")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.NextPart(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, entity.ErrUpstreamIO))
}

func TestMessage_close(t *testing.T) {
	t.Parallel()

	src := &entitytest.ClosingSource{ChunkSource: entity.Chunks(
		[]byte("--XYZ\r\n\r\nfirst"),
		[]byte(" part\r\n--XYZ--\r\n"),
	)}
	m, err := entity.NewMessage("XYZ", src)
	require.NoError(t, err)

	part, err := m.NextPart(context.Background())
	require.NoError(t, err)
	r, err := part.Reader()
	require.NoError(t, err)

	require.NoError(t, m.Close(), "abandoning a message is not an error")
	assert.True(t, src.Closed)
	require.NoError(t, m.Close())

	_, err = r.Read(make([]byte, 8))
	require.ErrorIs(t, err, entity.ErrPartDiscarded)

	_, err = m.NextPart(context.Background())
	require.ErrorIs(t, err, entity.ErrMessageClosed)
}

func TestMessage_max_part_bytes(t *testing.T) {
	t.Parallel()

	input := "--XYZ\r\n\r\n" + strings.Repeat("x", 100) + "\r\n--XYZ--\r\n"
	_, err := parseAll(t, "XYZ", [][]byte{[]byte(input)}, entity.WithMaxPartBytes(10))
	require.ErrorIs(t, err, entity.ErrPartTooLarge)

	parts, err := parseAll(t, "XYZ", [][]byte{[]byte(input)}, entity.WithMaxPartBytes(100))
	require.NoError(t, err)
	assert.Len(t, parts[0].Content, 100)
}

func TestMessage_read_limiter(t *testing.T) {
	t.Parallel()

	input := entitytest.BuildMessage(t, "XYZ", entity.FormField("a", strings.Repeat("z", 40)))
	limiter := rate.NewLimiter(rate.Limit(200), 10)

	start := time.Now()
	parts, err := parseAll(t, "XYZ", entitytest.ChunkEvery(input, 16), entity.WithReadLimiter(limiter))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, strings.Repeat("z", 40), parts[0].Content)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestMessage_parts_iterator_stops_early(t *testing.T) {
	t.Parallel()

	input := entitytest.BuildMessage(t, "XYZ",
		entity.FormField("a", "1"),
		entity.FormField("b", "2"),
		entity.FormField("c", "3"),
	)
	m, err := entity.NewMessage("XYZ", entity.Chunks(input))
	require.NoError(t, err)

	var names []string
	for part, err := range m.Parts(context.Background()) {
		require.NoError(t, err)
		names = append(names, part.Name())
		if part.Name() == "b" {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, names)

	rest, err := m.NextPart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", rest.Name())
}

func TestOpenMessage(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		contentType string
		wantErr     error
	}{
		"form data":            {contentType: "multipart/form-data; boundary=XYZ"},
		"quoted boundary":      {contentType: `multipart/mixed; boundary="XYZ"`},
		"missing content type": {wantErr: entity.ErrFraming},
		"not multipart":        {contentType: "application/json", wantErr: entity.ErrFraming},
		"missing boundary":     {contentType: "multipart/form-data", wantErr: entity.ErrFraming},
		"unparsable":           {contentType: "multipart/", wantErr: entity.ErrFraming},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var h entity.Header
			if tc.contentType != "" {
				h.Set("Content-Type", tc.contentType)
			}
			m, err := entity.OpenMessage(h, entity.Chunks([]byte("--XYZ--\r\n")))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "XYZ", m.Boundary())
		})
	}
}

func TestNewMessage_boundary_length(t *testing.T) {
	t.Parallel()

	_, err := entity.NewMessage("", entity.Chunks())
	require.ErrorIs(t, err, entity.ErrFraming)

	_, err = entity.NewMessage(strings.Repeat("b", 71), entity.Chunks())
	require.ErrorIs(t, err, entity.ErrFraming)

	_, err = entity.NewMessage(strings.Repeat("b", 70), entity.Chunks())
	require.NoError(t, err)
}

func TestReaderSource(t *testing.T) {
	t.Parallel()

	input := entitytest.BuildMessage(t, "XYZ", entity.FormField("a", "hello"))
	m, err := entity.NewMessage("XYZ", entity.ReaderSource(bytes.NewReader(input), 3))
	require.NoError(t, err)

	part, err := m.NextPart(context.Background())
	require.NoError(t, err)
	content, err := part.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}
