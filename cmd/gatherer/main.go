package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kucoin-stream/internal/api"
	"github.com/rickgao/kucoin-stream/internal/auth"
	"github.com/rickgao/kucoin-stream/internal/config"
	"github.com/rickgao/kucoin-stream/internal/database"
	"github.com/rickgao/kucoin-stream/internal/metrics"
	"github.com/rickgao/kucoin-stream/internal/recorder"
	"github.com/rickgao/kucoin-stream/internal/relay"
	"github.com/rickgao/kucoin-stream/internal/session"
	"github.com/rickgao/kucoin-stream/internal/token"
	"github.com/rickgao/kucoin-stream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gatherer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
		"private", cfg.WebSocket.Private,
		"subscriptions", len(cfg.Subscriptions),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("gatherer failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gatherer stopped")
}

func run(cfg *config.GathererConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(reg)

	apiClient, err := newAPIClient(cfg, logger)
	if err != nil {
		return err
	}

	provider := token.NewRESTProvider(apiClient, cfg.WebSocket.Private)
	svc := session.New(sessionConfig(cfg.WebSocket), provider, logger, session.WithMetrics(mc))

	out := &fanout{logger: logger}

	// Recorder
	var pool *pgxpool.Pool
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Recorder.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, mc, logger)
		if err := rec.EnsureSchema(ctx); err != nil {
			return err
		}
		rec.Start(ctx)
		out.add(rec)
	}

	// Relay
	var redisClient *redis.Client
	var rl *relay.Relay
	if cfg.Relay.Enabled {
		redisClient, err = relay.NewClient(ctx, cfg.Relay.Addr, cfg.Relay.Password, cfg.Relay.DB)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		rl = relay.New(relay.Config{
			Prefix:     cfg.Relay.Prefix,
			BufferSize: cfg.Relay.BufferSize,
		}, redisClient, mc, logger)
		rl.Start(ctx)
		out.add(rl)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newHTTPHandler(svc, pool, reg, cfg.Metrics.Path),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Event log; a terminal session failure ends the process.
	g.Go(func() error {
		for ev := range svc.Events() {
			logEvent(logger, ev)
			if ev.Type == session.EventClientFail {
				return ev.Err
			}
		}
		return nil
	})

	if err := svc.Start(gctx); err != nil {
		cancel()
		shutdown(logger, svc, rec, rl, server)
		g.Wait()
		return err
	}

	for _, sub := range cfg.Subscriptions {
		id, err := svc.Subscribe(gctx, sub.Prefix, sub.Args, out)
		if err != nil {
			logger.Error("subscribe failed", "prefix", sub.Prefix, "args", sub.Args, "error", err)
			continue
		}
		logger.Info("subscription active", "id", id)
	}

	logger.Info("gatherer running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for a signal or a failed component
	<-gctx.Done()

	logger.Info("shutting down...")
	shutdown(logger, svc, rec, rl, server)
	return g.Wait()
}

// shutdown stops the session first so no handler runs while the sinks drain.
func shutdown(logger *slog.Logger, svc *session.Service, rec *recorder.Recorder, rl *relay.Relay, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Stop(ctx); err != nil {
		logger.Warn("session stop", "error", err)
	}
	if rec != nil {
		if err := rec.Stop(ctx); err != nil {
			logger.Warn("recorder stop", "error", err)
		}
	}
	if rl != nil {
		if err := rl.Stop(ctx); err != nil {
			logger.Warn("relay stop", "error", err)
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
}

func newAPIClient(cfg *config.GathererConfig, logger *slog.Logger) (*api.Client, error) {
	opts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	}
	if cfg.API.HasCredentials() {
		creds, err := auth.LoadCredentials(cfg.API.Key, cfg.API.Secret, cfg.API.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		opts = append(opts, api.WithSigner(creds))
		logger.Info("using API credentials", "key", cfg.API.Key)
	}
	return api.NewClient(cfg.API.RestURL, opts...), nil
}

func sessionConfig(ws config.WebSocketConfig) session.Config {
	return session.Config{
		Private:           ws.Private,
		DialTimeout:       ws.DialTimeout,
		WriteTimeout:      ws.WriteTimeout,
		AckTimeout:        ws.AckTimeout,
		DisableReconnect:  ws.DisableReconnect,
		ReconnectAttempts: ws.ReconnectAttempts,
		ReconnectBaseWait: ws.ReconnectBaseDelay,
		ReconnectMaxWait:  ws.ReconnectMaxDelay,
		InboundLimit:      ws.InboundBuffer,
		EventBuffer:       ws.EventBuffer,
	}
}

func logEvent(logger *slog.Logger, ev session.Event) {
	attrs := []any{"event", ev.Type, "detail", ev.Detail}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err)
	}

	switch ev.Type {
	case session.EventClientFail, session.EventResubscribeError:
		logger.Error("session event", attrs...)
	case session.EventDisconnected, session.EventTryReconnect, session.EventErrorReceived, session.EventCallbackError:
		logger.Warn("session event", attrs...)
	default:
		logger.Info("session event", attrs...)
	}
}
