package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adewale/feedrefresh/pkg/logging"
)

// notifyShutdown returns a context cancelled on SIGINT/SIGTERM, matching
// the teacher's fetchFeeds signal-handling idiom.
func notifyShutdown() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if _, ok := <-sigChan; !ok {
			return
		}
		cancel()
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// serveMetrics starts a background HTTP server exposing Prometheus metrics
// at /metrics. It never blocks the caller; listen failures are logged, not
// fatal, since scraping is ancillary to the tick loop it instruments.
func serveMetrics(addr string, logger logging.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped: %v", err)
		}
	}()
}
