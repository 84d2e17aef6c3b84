package entity

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
)

// Sentinel errors. Errors returned by this package wrap one of these and
// can be matched with errors.Is.
var (
	// ErrFraming reports a malformed or absent boundary, a missing terminal
	// boundary, or an unparsable part header block. It is fatal to the
	// message it occurred in.
	ErrFraming = errors.New("multipart framing")

	// ErrUnsupportedConversion reports that no registered codec accepts the
	// requested target type and media type.
	ErrUnsupportedConversion = errors.New("unsupported conversion")

	// ErrUpstreamIO reports a failure of the underlying byte source.
	ErrUpstreamIO = errors.New("upstream read")

	// ErrConversion reports that a codec failed to convert a single entity,
	// for example malformed JSON. It never poisons the owning message.
	ErrConversion = errors.New("conversion")

	ErrContentConsumed = errors.New("part content already consumed")
	ErrPartDiscarded   = errors.New("part discarded")
	ErrMessageClosed   = errors.New("message closed")
	ErrPartTooLarge    = errors.New("part too large")
	ErrInvalidHeader   = errors.New("invalid header")
	ErrInvalidBoundary = errors.New("invalid boundary")
)

// StatusCoder is implemented by errors or responses that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// UnsupportedError is returned by codec selection when nothing accepts the
// requested conversion.
type UnsupportedError struct {
	Target    reflect.Type
	MediaType string
	Writer    bool
}

func (e *UnsupportedError) Error() string {
	dir := "reader"
	if e.Writer {
		dir = "writer"
	}
	mt := e.MediaType
	if mt == "" {
		mt = "*/*"
	}
	return fmt.Sprintf("%s: no %s for %v as %s", ErrUnsupportedConversion, dir, e.Target, mt)
}

// Unwrap lets errors.Is match ErrUnsupportedConversion.
func (e *UnsupportedError) Unwrap() error { return ErrUnsupportedConversion }

// StatusCode is 415 for readers and 406 for writers.
func (e *UnsupportedError) StatusCode() int {
	if e.Writer {
		return http.StatusNotAcceptable
	}
	return http.StatusUnsupportedMediaType
}

// ProblemDetail is an RFC 9457 problem details response.
//
//nolint:errname // RFC 9457 standard name
type ProblemDetail struct {
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Status   int    `json:"status" yaml:"status"`
	Detail   string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Instance string `json:"instance,omitempty" yaml:"instance,omitempty"`
}

// Error returns the detail message (or title if detail is empty).
func (p *ProblemDetail) Error() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

// StatusCode returns the HTTP status code.
func (p *ProblemDetail) StatusCode() int { return p.Status }

// HTTPError is an error with an HTTP status code.
type HTTPError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Error returns the error message.
func (e *HTTPError) Error() string { return e.Message }

// StatusCode returns the HTTP status code.
func (e *HTTPError) StatusCode() int { return e.Status }

// Error returns an error with the given HTTP status code and message.
func Error(status int, message string) error {
	return &HTTPError{Status: status, Message: message}
}

// Errorf returns a formatted error with the given HTTP status code.
func Errorf(status int, format string, args ...any) error {
	return &HTTPError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// ErrorStatus extracts the HTTP status code from an error. A StatusCoder in
// the chain wins; otherwise the package sentinels are mapped, and anything
// else is http.StatusInternalServerError.
func ErrorStatus(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, ErrPartTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrFraming),
		errors.Is(err, ErrUpstreamIO),
		errors.Is(err, ErrConversion):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedConversion):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

func framingErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFraming, fmt.Sprintf(format, args...))
}
