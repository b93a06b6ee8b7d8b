package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/internal/logging"
	parleyhttp "github.com/aretw0/parley/pkg/adapters/http"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/adapters/websocket"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/replication"
	"github.com/aretw0/parley/pkg/session"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve [path...]",
	Short: "Start the dialogue server",
	Long: `Starts the dialogue engine as an HTTP server: a REST API described by
/openapi.yaml, a server-sent event stream and a WebSocket endpoint (/ws) for
observers, and Prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig(cmd, args)
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logger := logging.New(level, logging.WithFormat(logging.Format(cfg.Log.Format)))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			if err := a.engine.Watch(ctx); err != nil {
				logger.Warn("hot reload disabled", "error", err)
			}
		}
		return serve(ctx, cfg.Addr, a.handler, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides the config file)")
	serveCmd.Flags().String("store", "", "Snapshot store: memory, file or redis (overrides the config file)")
	serveCmd.Flags().String("redis", "", "Redis address (overrides the config file)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
	serveCmd.Flags().Bool("watch", false, "Republish graphs when their sources change")
}

// loadServeConfig reads the config file and applies the flags given on top.
func loadServeConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if graphs, _ := cmd.Flags().GetStringSlice("graphs"); len(graphs) > 0 {
		cfg.Graphs = graphs
	} else if len(args) > 0 {
		cfg.Graphs = args
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Driver, _ = cmd.Flags().GetString("store")
	}
	if cmd.Flags().Changed("redis") {
		cfg.Store.Redis.Addr, _ = cmd.Flags().GetString("redis")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, cfg.Validate()
}

// app is a fully wired server.
type app struct {
	engine  *parley.Engine
	handler http.Handler
	closers []func() error
}

func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(a.engine.Close(ctx), a.closeAll())
}

// buildApp wires the store, the engine and the transports described by cfg.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	loader, err := parley.PathsLoader(cfg.Graphs...)
	if err != nil {
		return nil, err
	}

	var (
		store  ports.SnapshotStore
		sinks  = []ports.FrameSink{metrics.FrameSink()}
		mgrOpt = []session.Option{session.WithLogger(logger)}
	)
	switch cfg.Store.Driver {
	case config.DriverFile:
		store = file.New(cfg.Store.Dir)
	case config.DriverRedis:
		rc := cfg.Store.Redis
		client := goredis.NewClient(&goredis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", rc.Addr, err)
		}

		store = redis.NewFromClient(client, redis.WithPrefix(rc.Prefix+"snapshot:"), redis.WithTTL(rc.TTL))
		mgrOpt = append(mgrOpt, session.WithLocker(redis.NewLocker(client, rc.Prefix)))
		if rc.LockTTL > 0 {
			mgrOpt = append(mgrOpt, session.WithLockTTL(rc.LockTTL))
		}
		if cfg.Replication.PubSub {
			sinks = append(sinks, redis.NewFrameBus(client,
				redis.WithBusPrefix(rc.Prefix+"frames:"),
				redis.WithBusLogger(logger),
			))
		}
	default:
		store = memory.NewStore()
	}

	var mws []middleware.Middleware
	if len(cfg.Store.Mask) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.Store.Mask))
	}
	key, err := cfg.Store.Key()
	if err != nil {
		return nil, err
	}
	if key != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	if cfg.Store.KeepTerminal {
		mgrOpt = append(mgrOpt, session.WithKeepTerminal())
	}
	sessions := session.NewManager(middleware.Chain(store, mws...), mgrOpt...)

	opts := []parley.Option{
		parley.WithLoader(loader),
		parley.WithLogger(logger),
		parley.WithLifecycleHooks(domain.ChainHooks(metrics.Hooks(), observability.AuditHooks(logger))),
		parley.WithSessionManager(sessions),
		parley.WithTracerProvider(otel.GetTracerProvider()),
		parley.WithReplication(replication.WithBufferSize(cfg.Replication.BufferSize)),
	}
	if cfg.Replication.Backlog > 0 {
		opts = append(opts, parley.WithReplication(replication.WithBacklog(cfg.Replication.Backlog)))
	}
	for _, sink := range sinks {
		opts = append(opts, parley.WithFrameSink(sink))
	}
	if cfg.Engine.HistoryCap > 0 {
		opts = append(opts, parley.WithHistoryCap(cfg.Engine.HistoryCap))
	}
	if cfg.Engine.StepLimit > 0 {
		opts = append(opts, parley.WithStepLimit(cfg.Engine.StepLimit))
	}
	if cfg.Engine.QueueSize > 0 {
		opts = append(opts, parley.WithQueueSize(cfg.Engine.QueueSize))
	}

	a.engine, err = parley.New(ctx, cfg.Graphs[0], opts...)
	if err != nil {
		_ = a.closeAll()
		return nil, fmt.Errorf("error initializing parley: %w", err)
	}

	coord := a.engine.Coordinator()
	router := chi.NewRouter()
	router.Handle("/ws", websocket.NewHandler(coord, coord, websocket.WithLogger(logger)))
	router.Mount("/", parleyhttp.NewHandler(a.engine, a.engine.Catalog(), coord,
		parleyhttp.WithLogger(logger),
		parleyhttp.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	))
	a.handler = router
	return a, nil
}

func (a *app) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// serve runs the HTTP server until ctx is done, then drains it.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("parley server listening", "address", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
			return srv.Close()
		}
		logger.Info("parley server stopped gracefully")
		return nil
	}
}
