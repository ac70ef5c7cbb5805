// Package server exposes a tag store over HTTP.
//
//	GET  {mount}            sorted group ids
//	GET  {mount}/{groupId}  sorted tags of a group, 404 with [] when unknown
//	POST {mount}/{groupId}  JSON array of candidate tags
//	GET  /healthz           200 once the store is watching
//	GET  /metrics           Prometheus exposition
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/tagstore/internal/store"
)

const (
	// DefaultMount is the path prefix of the tag routes.
	DefaultMount = "/tags"

	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
	readTimeout     = 10 * time.Second
)

// TagStore is the part of [store.Store] the server uses.
type TagStore interface {
	Get(groupID string) ([]string, bool, error)
	AddTags(ctx context.Context, groupID string, candidates []string) (store.AddResult, error)
	Groups() ([]string, error)
	State() store.State
}

// Options configures [New].
type Options struct {
	// Mount is the route prefix; defaults to [DefaultMount].
	Mount string

	// Logger receives access and error logs. Nil disables logging.
	Logger *zerolog.Logger

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server serves a [TagStore].
type Server struct {
	store    TagStore
	mount    string
	log      zerolog.Logger
	gatherer prometheus.Gatherer
}

// New returns a server for st.
func New(st TagStore, opts Options) *Server {
	mount := "/" + strings.Trim(opts.Mount, "/")
	if mount == "/" {
		mount = DefaultMount
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "http").Logger()
	}

	return &Server{store: st, mount: mount, log: log, gatherer: opts.Gatherer}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+s.mount, s.handleGroups)
	mux.HandleFunc("GET "+s.mount+"/{$}", s.handleGroups)
	mux.HandleFunc("GET "+s.mount+"/{groupId}", s.handleGet)
	mux.HandleFunc("POST "+s.mount+"/{groupId}", s.handleAdd)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})

	return withLogging(s.log, mux)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Str("mount", s.mount).Msg("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve: %w", err)

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.log.Info().Msg("stopped")

	return nil
}
