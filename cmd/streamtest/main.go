// streamtest connects to the KuCoin WebSocket and prints routed frames to the console.
// Usage: go run ./cmd/streamtest --config configs/gatherer.local.yaml
//
// Private topics need credentials in the config, usually via:
//
//	KUCOIN_API_KEY, KUCOIN_API_SECRET, KUCOIN_API_PASSPHRASE
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/kucoin-stream/internal/api"
	"github.com/rickgao/kucoin-stream/internal/auth"
	"github.com/rickgao/kucoin-stream/internal/config"
	"github.com/rickgao/kucoin-stream/internal/session"
	"github.com/rickgao/kucoin-stream/internal/token"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print frame payloads")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Subscriptions) == 0 {
		logger.Error("no subscriptions configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	opts := []api.ClientOption{api.WithLogger(logger)}
	if cfg.API.HasCredentials() {
		creds, err := auth.LoadCredentials(cfg.API.Key, cfg.API.Secret, cfg.API.Passphrase)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		opts = append(opts, api.WithSigner(creds))
	} else if cfg.WebSocket.Private {
		logger.Error("API credentials required for a private websocket",
			"api_key_set", cfg.API.Key != "",
			"api_secret_set", cfg.API.Secret != "",
		)
		os.Exit(1)
	}
	apiClient := api.NewClient(cfg.API.RestURL, opts...)

	scfg := session.DefaultConfig()
	scfg.Private = cfg.WebSocket.Private
	svc := session.New(scfg, token.NewRESTProvider(apiClient, scfg.Private), logger)

	go func() {
		for ev := range svc.Events() {
			fmt.Printf("[EVENT] %s %s %v\n", ev.Type, ev.Detail, ev.Err)
			if ev.Type == session.EventClientFail {
				cancel()
			}
		}
	}()

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	printer := session.HandlerFunc(func(msg session.Message) error {
		if *verbose {
			fmt.Printf("[%s] subject=%s sn=%d %s\n", msg.Topic, msg.Subject, msg.Sn, msg.Data)
		} else {
			fmt.Printf("[%s] subject=%s sn=%d bytes=%d\n", msg.Topic, msg.Subject, msg.Sn, len(msg.Data))
		}
		return nil
	})

	for _, sub := range cfg.Subscriptions {
		id, err := svc.Subscribe(ctx, sub.Prefix, sub.Args, printer)
		if err != nil {
			logger.Error("subscribe failed", "prefix", sub.Prefix, "error", err)
			continue
		}
		logger.Info("subscribed", "id", id)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := svc.Stats()
				logger.Info("stats",
					"state", st.State,
					"subscriptions", st.Subscriptions,
					"frames", st.FramesReceived,
					"unroutable", st.FramesUnroutable,
					"reconnects", st.Reconnects,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	svc.Stop(shutdownCtx)
	apiClient.Close()
	logger.Info("shutdown complete")
}
