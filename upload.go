package entity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// FileUpload holds part content spooled to a temporary file.
//
// Uploads read with ReadPart are removed when their message closes. Uploads
// read any other way must be closed by the caller.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	// SHA256 is the hex-encoded digest of the content.
	SHA256 string
	Header Header

	path      string
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Open returns a reader for the spooled content.
func (f *FileUpload) Open() (io.ReadCloser, error) {
	if f.path == "" {
		return nil, errors.New("upload has no spooled content")
	}
	return os.Open(f.path)
}

// Path returns the location of the spooled file.
func (f *FileUpload) Path() string { return f.path }

// Close removes the spooled file. It is safe to call more than once.
func (f *FileUpload) Close() error {
	f.closeOnce.Do(func() {
		if f.path == "" {
			return
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.closeErr = err
			return
		}
		logger := f.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("released spooled upload", slog.String("file", f.Filename), slog.String("path", f.path))
	})
	return f.closeErr
}

func (f *FileUpload) release() error { return f.Close() }

var uploadPtrType = reflect.TypeFor[*FileUpload]()

// uploadCodec spools any body into a *FileUpload.
type uploadCodec struct {
	dir string
}

func (uploadCodec) MediaTypes() []MediaType { return nil }

func (uploadCodec) Accept(t reflect.Type, _ MediaType) Verdict {
	if t == uploadPtrType {
		return Supported
	}
	return Unsupported
}

func (c uploadCodec) Read(ctx context.Context, _ reflect.Type, h Header, body io.Reader) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := c.dir
	if dir == "" {
		dir = os.TempDir()
	}
	logger := loggerFromContext(ctx)
	path := filepath.Join(dir, spoolFileName())
	t, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open spool file: %w", err)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			logger.WarnContext(ctx, "failed to close spool file", slog.Any("err", closeErr))
		}
		if !success {
			if rmErr := os.Remove(path); rmErr != nil {
				logger.WarnContext(ctx, "failed to remove spool file", slog.Any("err", rmErr))
			}
		}
	}()

	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(sum, t), &ctxReader{ctx: ctx, r: body})
	if err != nil {
		return nil, fmt.Errorf("could not spool content: %w", err)
	}

	success = true
	return &FileUpload{
		Filename:    baseFilename(dispositionParam(h, "filename")),
		ContentType: partContentType(h),
		Size:        n,
		SHA256:      hex.EncodeToString(sum.Sum(nil)),
		Header:      h.Clone(),
		path:        path,
		logger:      logger,
	}, nil
}

type loggerKey struct{}

// contextWithLogger carries a message's logger to the codecs reading its
// parts.
func contextWithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func loggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func spoolFileName() string {
	return fmt.Sprintf("entity-%s.upload", uuid.New().String())
}
