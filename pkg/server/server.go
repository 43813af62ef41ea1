// Package server exposes workout rendering over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/realtime-ai/workout-audio/pkg/logger"
	"github.com/realtime-ai/workout-audio/pkg/pipeline"
)

// Encoder is an output format the service can answer with.
type Encoder interface {
	pipeline.Exporter
	ContentType() string
	Extension() string
}

// Config configures a Server.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
	// Encoders maps ?format= values to encoders. DefaultFormat must be one
	// of the keys.
	Encoders      map[string]Encoder
	DefaultFormat string
	// DefaultLanguage applies to requests that do not name a language.
	DefaultLanguage string
	// MaxBodyBytes caps request bodies; 0 uses 1 MiB.
	MaxBodyBytes int64
	Logger       hclog.Logger
}

// Server renders workouts for POST /workout and serves /health and /metrics.
type Server struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	engine   *gin.Engine
	logger   hclog.Logger
}

// New builds the router. p's own exporter is ignored; each request encodes
// with the encoder its format selects.
func New(p *pipeline.Pipeline, cfg Config) (*Server, error) {
	if p == nil {
		return nil, errors.New("server: pipeline is required")
	}
	if len(cfg.Encoders) == 0 {
		return nil, errors.New("server: at least one encoder is required")
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = "mp3"
	}
	if _, ok := cfg.Encoders[cfg.DefaultFormat]; !ok {
		return nil, fmt.Errorf("server: no encoder for default format %q", cfg.DefaultFormat)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}

	s := &Server{
		cfg:      cfg,
		pipeline: p,
		logger:   logger.OrNull(cfg.Logger).Named("server"),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog(), cors())

	r.POST("/workout", s.handleWorkout)
	r.GET("/health", handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to the request timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr, "formats", strings.Join(s.formats(), ","))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) formats() []string {
	out := make([]string, 0, len(s.cfg.Encoders))
	for f := range s.cfg.Encoders {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
