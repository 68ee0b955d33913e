package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Server exposes /metrics for a registry and /healthz while a run is being
// reported.
type Server struct {
	log      log.Logger
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewServer(logger log.Logger, registry *prometheus.Registry) *Server {
	return &Server{
		log:      logger,
		registry: registry,
	}
}

// Handler routes the server's endpoints.
func (s *Server) Handler() http.Handler {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", s.handleHealthz)
	hdlr.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(hdlr)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.log.Info("starting metrics server", "addr", listener.Addr().String())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server failed", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	s.log.Info("metrics server stopped")
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}
