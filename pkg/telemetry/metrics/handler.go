package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(
		c.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		},
	)
}

// Handle mounts h on pattern next to the metrics endpoint. It must be
// called before Serve.
func (c *Collector) Handle(pattern string, h http.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.routes == nil {
		c.routes = make(map[string]http.Handler)
	}
	c.routes[pattern] = h
}

// Serve exposes the metrics endpoint on the configured address until ctx
// is cancelled.
func (c *Collector) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.config.ListenAddress)
	if err != nil {
		return err
	}
	return c.serve(ctx, ln)
}

func (c *Collector) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	c.mu.Lock()
	for pattern, h := range c.routes {
		mux.Handle(pattern, h)
	}
	c.mu.Unlock()

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("metrics endpoint listening", "address", ln.Addr().String(), "path", c.config.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
