package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/localstore/pkg/localstore"
	"github.com/vango-dev/localstore/pkg/metrics"
	"github.com/vango-dev/localstore/pkg/relay"
	"github.com/vango-dev/localstore/pkg/storage"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve keys over HTTP and run the change relay",
		Long: `Serve the configured backend over HTTP.

Routes:
  GET    /items/{key}   resolved JSON value (404 when undefined)
  PUT    /items/{key}   store the JSON request body
  DELETE /items/{key}   remove the key
  GET    /relay         websocket change relay for sql and s3 clients
  GET    /metrics       Prometheus metrics (metrics.enabled)

Examples:
  localstore serve
  localstore serve --port=8080 --host=0.0.0.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags, host, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from localstore.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from localstore.json)")

	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, host string, port int) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(flags.verbose)

	var (
		collector      *metrics.Collector
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		collector = metrics.New(metrics.WithRegistry(registry), metrics.WithNamespace(cfg.Metrics.Namespace))
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	hub := relay.NewHub(
		relay.WithHubLogger(logger),
		relay.WithOnRelay(func(relay.Message) { collector.RelayMessage() }),
	)
	defer hub.Close()

	// The relay this process hosts is not a client of itself
	cfg.Relay.URL = ""
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if b.host.Changes == nil {
		// Announce our writes to relay clients and hear theirs
		b.host.Storage = storage.Notifying(b.host.Storage, hub, logger)
		b.host.Changes = hub
	}

	api := newItemsAPI(
		localstore.WithHost(b.host),
		localstore.WithLogger(logger),
		localstore.WithMetrics(collector),
		localstore.WithTimeout(cfg.TimeoutDuration()),
	)
	defer api.Close()

	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           newRouter(api, hub, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	success("Serving %s backend on http://%s", cfg.Backend, cfg.ServerAddress())
	info("Relay:   ws://%s/relay", cfg.ServerAddress())
	if metricsHandler != nil {
		info("Metrics: http://%s/metrics", cfg.ServerAddress())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
