package entity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
)

// Void is used as a type parameter when a request has no body or a
// response has no body (results in 204 No Content).
type Void struct{}

// Handler is a typed HTTP handler. Request bodies are decoded and response
// values encoded through a Registry; handlers never see
// http.ResponseWriter or *http.Request.
type Handler[Req, Resp any] func(ctx context.Context, req *Req) (*Resp, error)

// ErrorHandler writes an error response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// HandleOption configures Handle.
type HandleOption func(*handleConfig)

type handleConfig struct {
	status     int
	errHandler ErrorHandler
	logger     *slog.Logger
}

// WithStatus sets the success status. The default is 200, or 204 for a
// Void response.
func WithStatus(code int) HandleOption {
	return func(c *handleConfig) {
		c.status = code
	}
}

// WithErrorHandler replaces the default RFC 9457 problem details error
// response.
func WithErrorHandler(h ErrorHandler) HandleOption {
	return func(c *handleConfig) {
		c.errHandler = h
	}
}

// WithHandlerLogger sets the logger for failures that happen after the
// response has started.
func WithHandlerLogger(l *slog.Logger) HandleOption {
	return func(c *handleConfig) {
		c.logger = l
	}
}

var voidType = reflect.TypeFor[Void]()

// streamedRequest reports whether a request entity of type t keeps pulling
// the request body after the handler returns it.
func streamedRequest(t reflect.Type) bool {
	return t == reflect.TypeFor[Message]()
}

// ReadRequest converts the request body into a T using reg and the
// request's Content-Type.
func ReadRequest[T any](reg *Registry, r *http.Request) (T, error) {
	return ReadAs[T](r.Context(), reg, HeaderFromHTTP(r.Header), r.Body)
}

// WriteResponse encodes v for the request's Accept header and writes it
// with status. Headers and status are sent with the first body byte, so
// when encoding fails before any output the caller may still write an
// error response.
func WriteResponse(w http.ResponseWriter, r *http.Request, reg *Registry, status int, v any) error {
	_, err := writeResponse(w, r, reg, status, v)
	return err
}

func writeResponse(w http.ResponseWriter, r *http.Request, reg *Registry, status int, v any) (started bool, err error) {
	hw := &headerWriter{w: w, status: status}
	if _, err := reg.Write(r.Context(), v, r.Header.Get("Accept"), &hw.h, hw); err != nil {
		return hw.started, err
	}
	hw.start()
	return true, nil
}

// headerWriter defers WriteHeader until the first body byte so a writer
// can still set headers.
type headerWriter struct {
	w       http.ResponseWriter
	h       Header
	status  int
	started bool
}

func (hw *headerWriter) start() {
	if hw.started {
		return
	}
	hw.started = true
	hw.h.CopyTo(hw.w.Header())
	hw.w.WriteHeader(hw.status)
}

func (hw *headerWriter) Write(p []byte) (int, error) {
	hw.start()
	return hw.w.Write(p)
}

// Handle adapts a typed handler to http.Handler. The request body is read
// into a *Req with reg, and the response is negotiated from the Accept
// header. Request values that are io.Closers, such as *Message and
// *FileUpload, are closed after the response is written.
//
// A *Message request is read while the response is written, so Handle
// enables full-duplex HTTP/1.1 for it. Without that the server drops the
// unread request body once the response starts.
func Handle[Req, Resp any](reg *Registry, h Handler[Req, Resp], opts ...HandleOption) http.Handler {
	cfg := handleConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.status == 0 {
		if reflect.TypeFor[Resp]() == voidType {
			cfg.status = http.StatusNoContent
		} else {
			cfg.status = http.StatusOK
		}
	}

	writeErr := func(w http.ResponseWriter, r *http.Request, err error) {
		if cfg.errHandler != nil {
			cfg.errHandler(w, r, err)
			return
		}
		writeErrorResponse(w, err)
	}

	duplex := streamedRequest(reflect.TypeFor[Req]())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if duplex {
			// Writers that cannot switch, such as recorders, report
			// ErrNotSupported.
			if err := http.NewResponseController(w).EnableFullDuplex(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				cfg.logger.DebugContext(r.Context(), "enable full duplex", slog.Any("err", err))
			}
		}

		req := new(Req)
		if reflect.TypeFor[Req]() != voidType {
			v, err := ReadRequest[*Req](reg, r)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			req = v
		}
		defer closeRequest(r.Context(), cfg.logger, req)

		resp, err := h(r.Context(), req)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		if _, ok := any(resp).(*Void); ok || resp == nil {
			w.WriteHeader(cfg.status)
			return
		}

		status := cfg.status
		if sc, ok := any(resp).(StatusCoder); ok {
			status = sc.StatusCode()
		}

		started, err := writeResponse(w, r, reg, status, responseValue(resp))
		if err != nil {
			if !started {
				writeErr(w, r, err)
				return
			}
			cfg.logger.ErrorContext(r.Context(), "response encoding failed after headers were sent",
				slog.String("path", r.URL.Path),
				slog.Any("err", err),
			)
		}
	})
}

// responseValue unwraps pointers to reference kinds so writers see a
// PartSeq or []Part rather than a pointer to one.
func responseValue[Resp any](resp *Resp) any {
	//exhaustive:ignore
	switch reflect.TypeFor[Resp]().Kind() {
	case reflect.Func, reflect.Slice, reflect.Map, reflect.Interface:
		return *resp
	}
	return resp
}

func closeRequest[Req any](ctx context.Context, logger *slog.Logger, req *Req) {
	var c io.Closer
	if rc, ok := any(req).(io.Closer); ok {
		c = rc
	} else if rc, ok := any(*req).(io.Closer); ok {
		c = rc
	}
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.WarnContext(ctx, "close request entity", slog.Any("err", err))
	}
}

// writeErrorResponse writes an error as an RFC 9457 problem details response.
func writeErrorResponse(w http.ResponseWriter, err error) {
	status := ErrorStatus(err)

	// If the error is already a ProblemDetail, use it directly.
	var pd *ProblemDetail
	if errors.As(err, &pd) {
		w.Header().Set(HeaderContentType, "application/problem+json")
		w.WriteHeader(pd.Status)
		//nolint:errcheck,errchkjson,gosec // best-effort after WriteHeader
		json.NewEncoder(w).Encode(pd)
		return
	}

	problem := &ProblemDetail{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: err.Error(),
	}

	w.Header().Set(HeaderContentType, "application/problem+json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson,gosec // best-effort after WriteHeader
	json.NewEncoder(w).Encode(problem)
}
