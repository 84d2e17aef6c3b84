package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/bjaus/entity"
)

// PartSummary describes one inspected part.
type PartSummary struct {
	Index       int    `json:"index" yaml:"index" xml:"index,attr"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty" xml:"name,attr,omitempty"`
	Filename    string `json:"filename,omitempty" yaml:"filename,omitempty" xml:"filename,attr,omitempty"`
	ContentType string `json:"content_type" yaml:"content_type" xml:"content-type,attr"`
	Size        int64  `json:"size" yaml:"size" xml:"size,attr"`
	SHA256      string `json:"sha256" yaml:"sha256" xml:"sha256"`
}

// Summary describes an inspected multipart message.
type Summary struct {
	XMLName  xml.Name      `json:"-" yaml:"-" xml:"summary"`
	Boundary string        `json:"boundary" yaml:"boundary" xml:"boundary,attr"`
	Parts    []PartSummary `json:"parts" yaml:"parts" xml:"part"`
}

// newRouter builds the HTTP handler tree. All messages share one registry
// and, when a read rate is configured, one limiter.
func newRouter(cfg *Config, logger *slog.Logger) http.Handler {
	msgOpts := []entity.MessageOption{
		entity.WithMaxHeaderBytes(cfg.Limits.MaxHeaderBytes),
		entity.WithMaxPartBytes(cfg.Limits.MaxPartBytes),
		entity.WithLogger(logger),
	}
	if cfg.Limits.ReadRate > 0 {
		burst := cfg.Limits.ReadBurst
		if burst <= 0 {
			burst = entity.DefaultChunkSize
		}
		msgOpts = append(msgOpts, entity.WithReadLimiter(rate.NewLimiter(rate.Limit(cfg.Limits.ReadRate), burst)))
	}

	reg := entity.NewDefaultRegistry(
		entity.WithMessageOptions(msgOpts...),
		entity.WithSpoolDir(cfg.Spool.Dir),
	)
	reg.Freeze()

	r := chi.NewRouter()
	r.Use(entity.Recovery(logger), entity.Logger(logger))
	if cfg.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         cfg.CORS.MaxAge,
		}))
	}
	if cfg.Limits.MaxBodyBytes > 0 {
		r.Use(entity.BodyLimit(cfg.Limits.MaxBodyBytes))
	}

	hopts := []entity.HandleOption{entity.WithHandlerLogger(logger)}
	r.Post("/inspect", entity.Handle(reg, inspect, hopts...).ServeHTTP)
	r.Post("/echo", entity.Handle(reg, echo, hopts...).ServeHTTP)
	r.Post("/upload", entity.Handle(reg, uploads(reg), hopts...).ServeHTTP)
	return r
}

// inspect reads every part and reports its metadata and content digest.
func inspect(ctx context.Context, m *entity.Message) (*Summary, error) {
	summary := &Summary{Boundary: m.Boundary(), Parts: []PartSummary{}}
	for part, err := range m.Parts(ctx) {
		if err != nil {
			return nil, err
		}
		body, err := part.Reader()
		if err != nil {
			return nil, err
		}
		sum := sha256.New()
		if _, err := io.Copy(sum, body); err != nil {
			return nil, err
		}
		summary.Parts = append(summary.Parts, PartSummary{
			Index:       part.Index(),
			Name:        part.Name(),
			Filename:    part.Filename(),
			ContentType: part.ContentType(),
			Size:        part.Size(),
			SHA256:      hex.EncodeToString(sum.Sum(nil)),
		})
	}
	return summary, nil
}

// echo streams the inbound parts back unchanged.
func echo(_ context.Context, m *entity.Message) (*entity.Message, error) {
	return m, nil
}

// uploads spools file parts to disk and summarizes them. Plain fields are
// skipped. Spooled files are removed when the request message closes.
func uploads(reg *entity.Registry) entity.Handler[entity.Message, Summary] {
	return func(ctx context.Context, m *entity.Message) (*Summary, error) {
		summary := &Summary{Boundary: m.Boundary(), Parts: []PartSummary{}}
		for part, err := range m.Parts(ctx) {
			if err != nil {
				return nil, err
			}
			if part.Filename() == "" {
				continue
			}
			up, err := entity.ReadPart[*entity.FileUpload](ctx, reg, part)
			if err != nil {
				return nil, err
			}
			summary.Parts = append(summary.Parts, PartSummary{
				Index:       part.Index(),
				Name:        part.Name(),
				Filename:    up.Filename,
				ContentType: up.ContentType,
				Size:        up.Size,
				SHA256:      up.SHA256,
			})
		}
		return summary, nil
	}
}
