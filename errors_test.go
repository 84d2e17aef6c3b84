package entity_test

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/entity"
)

func TestError(t *testing.T) {
	t.Parallel()

	err := entity.Error(http.StatusNotFound, "not found")
	assert.EqualError(t, err, "not found")

	var sc entity.StatusCoder
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, http.StatusNotFound, sc.StatusCode())
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	err := entity.Errorf(http.StatusBadRequest, "invalid %s", "email")
	assert.EqualError(t, err, "invalid email")
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err    error
		expect int
	}{
		"with StatusCoder": {
			err:    entity.Error(http.StatusForbidden, "forbidden"),
			expect: http.StatusForbidden,
		},
		"without StatusCoder": {
			err:    errors.New("plain error"),
			expect: http.StatusInternalServerError,
		},
		"framing": {
			err:    fmt.Errorf("read form: %w", entity.ErrFraming),
			expect: http.StatusBadRequest,
		},
		"upstream": {
			err:    fmt.Errorf("%w: connection reset", entity.ErrUpstreamIO),
			expect: http.StatusBadRequest,
		},
		"conversion": {
			err:    fmt.Errorf("%w: bad json", entity.ErrConversion),
			expect: http.StatusBadRequest,
		},
		"part too large": {
			err:    entity.ErrPartTooLarge,
			expect: http.StatusRequestEntityTooLarge,
		},
		"body too large": {
			err:    fmt.Errorf("read: %w", &http.MaxBytesError{Limit: 10}),
			expect: http.StatusRequestEntityTooLarge,
		},
		"unsupported reader": {
			err:    &entity.UnsupportedError{Target: reflect.TypeFor[int](), MediaType: "text/csv"},
			expect: http.StatusUnsupportedMediaType,
		},
		"unsupported writer": {
			err:    &entity.UnsupportedError{Target: reflect.TypeFor[int](), MediaType: "image/png", Writer: true},
			expect: http.StatusNotAcceptable,
		},
		"bare unsupported sentinel": {
			err:    entity.ErrUnsupportedConversion,
			expect: http.StatusUnsupportedMediaType,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expect, entity.ErrorStatus(tc.err))
		})
	}
}

func TestHTTPError_fields(t *testing.T) {
	t.Parallel()

	err := entity.Error(http.StatusConflict, "conflict")

	var httpErr *entity.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusConflict, httpErr.Status)
	assert.Equal(t, "conflict", httpErr.Message)
}

func TestUnsupportedError(t *testing.T) {
	t.Parallel()

	err := &entity.UnsupportedError{Target: reflect.TypeFor[[]string]()}
	require.ErrorIs(t, err, entity.ErrUnsupportedConversion)
	assert.EqualError(t, err, "unsupported conversion: no reader for []string as */*")

	err = &entity.UnsupportedError{Target: reflect.TypeFor[int](), MediaType: "image/png", Writer: true}
	assert.EqualError(t, err, "unsupported conversion: no writer for int as image/png")
}

func TestProblemDetail(t *testing.T) {
	t.Parallel()

	pd := &entity.ProblemDetail{Title: "Conflict", Status: http.StatusConflict}
	assert.EqualError(t, pd, "Conflict")
	assert.Equal(t, http.StatusConflict, entity.ErrorStatus(pd))

	pd.Detail = "version mismatch"
	assert.EqualError(t, pd, "version mismatch")
}
