package entity

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

// DefaultChunkSize is the read size used by ReaderSource when none is given.
const DefaultChunkSize = 32 << 10

// ChunkSource is an ordered, finite, non-restartable sequence of byte
// chunks. Next blocks until a chunk is available and returns io.EOF once
// the sequence is exhausted. The returned slice is only valid until the
// next call. Sources are consumed by a single goroutine.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to ChunkSource.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Next calls f.
func (f SourceFunc) Next(ctx context.Context) ([]byte, error) { return f(ctx) }

// ReaderSource pulls chunks of up to size bytes from r. If r is an
// io.Closer the source is one too.
func ReaderSource(r io.Reader, size int) ChunkSource {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &readerSource{r: r, buf: make([]byte, size)}
}

type readerSource struct {
	r   io.Reader
	buf []byte
}

func (s *readerSource) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.r.Read(s.buf)
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *readerSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Chunks returns a source that yields the given chunks in order.
func Chunks(chunks ...[]byte) ChunkSource {
	i := 0
	return SourceFunc(func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i < len(chunks) {
			c := chunks[i]
			i++
			if len(c) > 0 {
				return c, nil
			}
		}
		return nil, io.EOF
	})
}

// throttledSource waits on a token bucket sized in bytes before handing
// out each chunk.
type throttledSource struct {
	src     ChunkSource
	limiter *rate.Limiter
}

func (s *throttledSource) Next(ctx context.Context) ([]byte, error) {
	chunk, err := s.src.Next(ctx)
	if len(chunk) == 0 {
		return chunk, err
	}
	burst := s.limiter.Burst()
	for rest := len(chunk); rest > 0; rest -= burst {
		if werr := s.limiter.WaitN(ctx, min(rest, burst)); werr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, werr
		}
	}
	return chunk, err
}

func (s *throttledSource) Close() error {
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// pull fetches the next chunk and classifies failures: io.EOF passes
// through, context errors pass through, anything else is wrapped with
// ErrUpstreamIO.
func pull(ctx context.Context, src ChunkSource) ([]byte, error) {
	chunk, err := src.Next(ctx)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return chunk, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return chunk, err
	case errors.Is(err, ErrUpstreamIO):
		return chunk, err
	}
	return chunk, fmt.Errorf("%w: %w", ErrUpstreamIO, err)
}
