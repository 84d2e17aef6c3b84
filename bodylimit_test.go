package entity_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bjaus/entity"
	"github.com/bjaus/entity/entitytest"
)

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		maxBytes   int64
		bodySize   int
		wantStatus int
	}{
		"request within limit succeeds": {
			maxBytes:   1024,
			bodySize:   512,
			wantStatus: http.StatusOK,
		},
		"request exceeding limit fails": {
			maxBytes:   64,
			bodySize:   128,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			handler := entity.BodyLimit(tc.maxBytes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := io.ReadAll(r.Body); err != nil {
					w.WriteHeader(entity.ErrorStatus(err))
					return
				}
				w.WriteHeader(http.StatusOK)
			}))

			client := entitytest.NewClient(t, handler)
			resp := client.Post(t, "/", "application/octet-stream", "", bytes.NewReader(bytes.Repeat([]byte("x"), tc.bodySize)))

			assert.Equal(t, tc.wantStatus, resp.Status)
		})
	}
}

func TestBodyLimit_typed_handler(t *testing.T) {
	t.Parallel()

	type Req struct {
		Data string `json:"data"`
	}
	type Resp struct {
		Len int `json:"len"`
	}

	reg := entity.NewDefaultRegistry()
	handler := entity.Chain(
		entity.Handle(reg, func(_ context.Context, req *Req) (*Resp, error) {
			return &Resp{Len: len(req.Data)}, nil
		}),
		entity.BodyLimit(64),
	)
	client := entitytest.NewClient(t, handler)

	tests := map[string]struct {
		body       string
		wantStatus int
	}{
		"small body within limit": {
			body:       `{"data":"hello"}`,
			wantStatus: http.StatusOK,
		},
		"large body exceeds limit": {
			body:       `{"data":"` + strings.Repeat("x", 200) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			resp := client.Post(t, "/", "application/json", "application/json", strings.NewReader(tc.body))
			assert.Equal(t, tc.wantStatus, resp.Status)

			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, 5, entitytest.JSON[Resp](t, resp).Len)
			} else {
				assert.Equal(t, "application/problem+json", resp.Headers.Get("Content-Type"))
			}
		})
	}
}

func TestBodyLimit_multipart_upload(t *testing.T) {
	t.Parallel()

	reg := entity.NewDefaultRegistry(entity.WithSpoolDir(t.TempDir()))
	handler := entity.Chain(
		entity.Handle(reg, func(_ context.Context, _ *entity.Form) (*entity.Void, error) {
			return nil, nil
		}),
		entity.BodyLimit(128),
	)
	client := entitytest.NewClient(t, handler)

	resp := client.PostMultipart(t, "/", "",
		entity.FormFile("doc", "big.bin", "", bytes.NewReader(bytes.Repeat([]byte("z"), 1024))),
	)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Status)
}
