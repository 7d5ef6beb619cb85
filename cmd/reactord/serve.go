package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Viet-ph/reactor/config"
	"github.com/Viet-ph/reactor/reactor"
	"github.com/Viet-ph/reactor/server"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var (
		host        string
		port        int
		idleTimeout time.Duration
		tick        time.Duration
		maxClients  int
		metricsAddr string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server until SIGINT or SIGTERM",
		Example: `  reactord serve --port 7000
  reactord serve --config reactord.yaml --metrics-addr ""`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("host") {
				config.Host = host
			}
			if flags.Changed("port") {
				config.Port = port
			}
			if flags.Changed("idle-timeout") {
				config.IdleTimeout = idleTimeout
			}
			if flags.Changed("tick") {
				config.TickCeiling = tick
			}
			if flags.Changed("max-clients") {
				config.MaximumClients = maxClients
			}
			if flags.Changed("metrics-addr") {
				config.MetricsAddr = metricsAddr
			}
			if flags.Changed("log-level") {
				config.LogLevel = logLevel
			}
			return serve()
		},
	}

	cmd.Flags().StringVar(&host, "host", config.Host, "IPv4 address to listen on")
	cmd.Flags().IntVar(&port, "port", config.Port, "TCP port to listen on")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", config.IdleTimeout, "close clients idle for this long")
	cmd.Flags().DurationVar(&tick, "tick", config.TickCeiling, "upper bound on a single reactor wait")
	cmd.Flags().IntVar(&maxClients, "max-clients", config.MaximumClients, "maximum concurrent clients")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", config.MetricsAddr, "address for /metrics, empty to disable")
	cmd.Flags().StringVar(&logLevel, "log-level", config.LogLevel, "debug, info, warn or error")

	return cmd
}

func serve() error {
	log, err := newLogger(config.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r, err := reactor.New(
		reactor.WithLogger(log),
		reactor.WithRegisterer(registry),
		reactor.WithMaxEvents(config.MaxEvents),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	if limit := r.Limit(); limit > 0 && config.MaximumClients >= limit {
		log.Warn("max clients exceeds backend descriptor limit",
			zap.Int("max_clients", config.MaximumClients), zap.Int("limit", limit))
	}

	srv, err := server.NewEchoServer(r)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	stopSignals, err := watchSignals(r)
	if err != nil {
		return err
	}
	defer stopSignals()

	if config.MetricsAddr != "" {
		metricsSrv := newMetricsServer(config.MetricsAddr, registry)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("addr", config.MetricsAddr))
	}

	status, err := r.Run(config.TickCeiling)
	if err != nil {
		return fmt.Errorf("reactor %s: %w", status, err)
	}
	log.Info("reactor exited", zap.Stringer("status", status))
	return nil
}

func newMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
