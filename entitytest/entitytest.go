// Package entitytest provides test helpers for multipart messages and
// entity codecs: chunking sources, a counting source, message builders
// and an HTTP test client.
package entitytest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bjaus/entity"
)

// ErrInjected is the error returned by FailingSource.
var ErrInjected = errors.New("entitytest: injected source failure")

// SplitAt cuts data at the given offsets. Offsets out of range or out of
// order are clamped.
func SplitAt(data []byte, offsets ...int) [][]byte {
	var chunks [][]byte
	prev := 0
	for _, off := range offsets {
		off = min(max(off, prev), len(data))
		chunks = append(chunks, data[prev:off])
		prev = off
	}
	return append(chunks, data[prev:])
}

// ChunkEvery cuts data into chunks of n bytes.
func ChunkEvery(data []byte, n int) [][]byte {
	if n <= 0 {
		n = 1
	}
	var chunks [][]byte
	for len(data) > n {
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return append(chunks, data)
}

// CountingSource wraps a source and counts how often it is pulled.
type CountingSource struct {
	Src   entity.ChunkSource
	pulls int
	bytes int
}

// Count returns a CountingSource over the given chunks.
func Count(chunks ...[]byte) *CountingSource {
	return &CountingSource{Src: entity.Chunks(chunks...)}
}

// Next pulls from the wrapped source.
func (s *CountingSource) Next(ctx context.Context) ([]byte, error) {
	s.pulls++
	chunk, err := s.Src.Next(ctx)
	s.bytes += len(chunk)
	return chunk, err
}

// Pulls returns the number of Next calls so far.
func (s *CountingSource) Pulls() int { return s.pulls }

// Bytes returns the number of bytes handed out so far.
func (s *CountingSource) Bytes() int { return s.bytes }

// FailingSource yields chunks and then fails with ErrInjected instead of
// io.EOF.
func FailingSource(chunks ...[]byte) entity.ChunkSource {
	src := entity.Chunks(chunks...)
	return entity.SourceFunc(func(ctx context.Context) ([]byte, error) {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil, ErrInjected
		}
		return chunk, err
	})
}

// ClosingSource records whether Close was called.
type ClosingSource struct {
	entity.ChunkSource
	Closed bool
}

// Close marks the source closed.
func (s *ClosingSource) Close() error {
	s.Closed = true
	return nil
}

// BuildMessage serializes parts with a MultipartWriter and returns the
// bytes.
func BuildMessage(t testing.TB, boundary string, parts ...entity.Part) []byte {
	t.Helper()
	var buf bytes.Buffer
	mw, err := entity.NewMultipartWriter(&buf, boundary)
	if err != nil {
		t.Fatalf("entitytest: new writer: %v", err)
	}
	for _, p := range parts {
		if err := mw.WritePart(context.Background(), p); err != nil {
			t.Fatalf("entitytest: write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("entitytest: close writer: %v", err)
	}
	return buf.Bytes()
}

// Client wraps an httptest.Server for convenient handler testing.
type Client struct {
	Server *httptest.Server
}

// NewClient creates a test client serving h.
func NewClient(t testing.TB, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &Client{Server: srv}
}

// Response holds a received response with its body read.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// JSON decodes the body into a T.
func JSON[T any](t testing.TB, r *Response) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(r.Body, &v); err != nil {
		t.Fatalf("entitytest: decode %q: %v", r.Body, err)
	}
	return v
}

// Post sends body with the given Content-Type and Accept headers.
func (c *Client) Post(t testing.TB, path, contentType, accept string, body io.Reader) *Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.Server.URL+path, body)
	if err != nil {
		t.Fatalf("entitytest: create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set(entity.HeaderContentType, contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("entitytest: execute request: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.Errorf("entitytest: close body: %v", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("entitytest: read body: %v", err)
	}
	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: data}
}

// PostMultipart writes parts as multipart/form-data and posts them.
func (c *Client) PostMultipart(t testing.TB, path, accept string, parts ...entity.Part) *Response {
	t.Helper()
	boundary := entity.RandomBoundary()
	body := BuildMessage(t, boundary, parts...)
	ct := entity.MediaFormData.With("boundary", boundary).String()
	return c.Post(t, path, ct, accept, bytes.NewReader(body))
}
