package entity_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/entity"
)

func TestLogger(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		handlerStatus int
		wantSubstr    []string
	}{
		"request is logged": {
			handlerStatus: http.StatusOK,
			wantSubstr: []string{
				"level=INFO",
				"msg=request",
				"method=POST",
				"path=/test-log",
				"status=200",
				"content_type=application/json",
			},
		},
		"status code is captured": {
			handlerStatus: http.StatusCreated,
			wantSubstr: []string{
				"status=201",
			},
		},
		"server errors log at error level": {
			handlerStatus: http.StatusBadGateway,
			wantSubstr: []string{
				"level=ERROR",
				"status=502",
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			handler := entity.Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.handlerStatus)
			}))

			req := httptest.NewRequestWithContext(context.Background(), http.MethodPost, "/test-log", strings.NewReader("{}"))
			req.Header.Set("Content-Type", "application/json")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			logOutput := buf.String()
			for _, s := range tc.wantSubstr {
				assert.Contains(t, logOutput, s, "log output should contain %q", s)
			}
		})
	}
}

func TestLogger_captures_body_size_and_response_type(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	bodyContent := "hello world response"
	handler := entity.Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(bodyContent)) //nolint:errcheck
	}))

	req := httptest.NewRequestWithContext(context.Background(), http.MethodGet, "/size-test", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	logOutput := buf.String()
	assert.Contains(t, logOutput, "size=20")
	assert.Contains(t, logOutput, `response_type="text/plain; charset=utf-8"`)
	assert.NotContains(t, logOutput, "content_type=")
}

func TestLogger_unwrap_response_controller(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := entity.Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Flush goes through Unwrap and implicitly writes headers.
		rc := http.NewResponseController(w)
		_ = rc.Flush() //nolint:errcheck
	}))

	rec := httptest.NewRecorder()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/unwrap-test", nil)
	require.NoError(t, err)

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Contains(t, buf.String(), "request")
}

func TestLogger_counts_request_bytes_read(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := entity.Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		head := make([]byte, 4)
		_, err := io.ReadFull(r.Body, head)
		assert.NoError(t, err)
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequestWithContext(context.Background(), http.MethodPost, "/partial", strings.NewReader("0123456789"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), "read=4")
	assert.Contains(t, buf.String(), "status=202")
}
