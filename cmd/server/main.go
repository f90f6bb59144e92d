package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"client-portal/internal/access"
	"client-portal/internal/auth"
	"client-portal/internal/changefeed"
	"client-portal/internal/config"
	"client-portal/internal/server"
	"client-portal/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	Version = "0.1.0"
	appName = "client-portal"

	janitorInterval = 10 * time.Minute
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the portal HTTP and realtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Client portal API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(serve)
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger, sink store.EventSink) (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath, store.Options{Sink: sink, Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	st, err := openStore(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	return st.Close()
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	brokerOpts := changefeed.Options{Logger: logger, Metrics: changefeed.NewMetrics(reg)}
	if cfg.NATSURL != "" {
		mirror, err := changefeed.ConnectNATS(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return err
		}
		defer func() { _ = mirror.Close() }()
		brokerOpts.Mirror = mirror
	}
	broker := changefeed.NewBroker(brokerOpts)
	defer broker.Close()

	st, err := openStore(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	tokens := auth.DefaultTokenConfig(cfg.SessionSecret)
	tokens.Expiry = cfg.TokenExpiry
	svc := auth.NewService(st, tokens, auth.Options{Logger: logger})

	router := server.NewRouter(server.Deps{
		Store:        st,
		Auth:         svc,
		Broker:       broker,
		Policy:       access.OwnerPolicy{},
		Logger:       logger,
		Registry:     reg,
		CookieSecure: cfg.CookieSecure,
	})

	logger.Info("listening", "addr", fmt.Sprintf(":%d", cfg.Port), "version", Version, "database", cfg.DatabasePath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, cfg, router) })
	g.Go(func() error { return svc.Run(gctx, janitorInterval) })
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}
