package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/util"
)

// Server exposes a Collector on /metrics
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Serve starts serving the collector on addr in the background. The server
// stops when ctx is cancelled or Shutdown is called.
func Serve(ctx context.Context, addr string, c *Collector) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.PrometheusHandler())
	s := &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
	}

	util.SafeGoWithName("metrics-server", func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server stopped", logging.Err(err))
		}
	})
	util.SafeGoWithName("metrics-server-shutdown", func() {
		<-ctx.Done()
		s.Shutdown(context.Background())
	})

	logging.Info("metrics server listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound listen address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting up to five seconds for open scrapes
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
