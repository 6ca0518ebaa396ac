package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ahura-cloud/kube-provisioner/pkg/metrics"
)

// Check reports whether a dependency of the worker is usable
type Check func(ctx context.Context) error

type Server struct {
	logger  *log.Entry
	address string
	metrics *metrics.Metrics
	checks  map[string]Check
	srv     *http.Server
}

// New creates a server exposing metrics and a health endpoint running checks
func New(address string, logger *log.Entry, m *metrics.Metrics, checks map[string]Check) *Server {
	s := &Server{
		logger:  logger.WithField("component", "server"),
		address: address,
		metrics: m,
		checks:  checks,
	}
	s.srv = &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Serve blocks until the server is shut down
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.logger.Infof("metrics listening on %s", ln.Addr())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Debugf("health check %s failed: %v", name, err)
			http.Error(w, name+": "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
