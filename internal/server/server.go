// Package server exposes the configured local model over an
// OpenAI-compatible HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Completer is the part of api.Engine the server dispatches to.
type Completer interface {
	Complete(ctx context.Context, kind backend.Kind, req *api.Request) (string, error)
	Stream(ctx context.Context, kind backend.Kind, req *api.Request, onChunk func(string)) (string, error)
}

// Options configures a Server.
type Options struct {
	Host           string
	Port           int
	Model          string
	Kind           backend.Kind
	System         string
	MaxTokens      int
	Temperature    float64
	AllowedOrigins []string
	Engine         Completer
}

// Addr returns host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Server answers chat completion requests one at a time.
type Server struct {
	opts  Options
	sem   chan struct{}
	now   func() time.Time
	newID func() string
}

// New validates opts and returns a server. Remote backends are refused:
// the server fronts local models only.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if opts.Kind.IsRemote() {
		return nil, apperr.Unsupportedf("serve runs local models only; %s is served by %s", opts.Model, opts.Kind.Provider())
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, apperr.Usagef("invalid port %d", opts.Port)
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		opts:  opts,
		sem:   make(chan struct{}, 1),
		now:   time.Now,
		newID: completionID,
	}, nil
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChat)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// ListenAndServe binds the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("server listening", logging.Fields{"addr": ln.Addr().String(), "model": s.opts.Model, "backend": string(s.opts.Kind)})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logging.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
