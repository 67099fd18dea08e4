package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/internal/logging"
)

// Config contains operations listener configuration
type Config struct {
	Addr string
}

// ReadyFunc reports whether the service is ready to take traffic.
type ReadyFunc func() bool

// Server is the out-of-band operations listener: Prometheus metrics and
// health probes live here, away from the application port.
type Server struct {
	config Config
	ready  ReadyFunc
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates an operations server.
func NewServer(config Config, ready ReadyFunc) *Server {
	if config.Addr == "" {
		config.Addr = ":9090"
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Server{
		config: config,
		ready:  ready,
		logger: logging.Component("ops"),
	}
}

// Start serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	s.srv = &http.Server{
		Addr:         s.config.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("Starting ops server")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
