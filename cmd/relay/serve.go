package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamlab-ai/nostr-relay/internal/relay"
	"github.com/dreamlab-ai/nostr-relay/internal/server"
	"github.com/dreamlab-ai/nostr-relay/internal/store"
	"github.com/dreamlab-ai/nostr-relay/pkg/metrics"

	"github.com/urfave/cli/v2"
)

func runServe(cctx *cli.Context) error {
	logger := configLogger(cctx, os.Stdout)

	// Trap SIGINT to trigger a shutdown.
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ep := cctx.String("otel-exporter-otlp-endpoint"); ep != "" {
		logger.Info("setting up trace exporter", "endpoint", ep)
		shutdown, err := metrics.InitTracing(ctx, "nostr-relay", cctx.String("env"))
		if err != nil {
			return fmt.Errorf("setting up trace exporter: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("failed to shutdown trace exporter", "err", err)
			}
		}()
	}

	dbOpts := store.GormOptions{
		MaxConnections: cctx.Int("max-db-conn"),
		Tracing:        cctx.Bool("enable-db-tracing"),
	}

	dburl := cctx.String("db-url")
	logger.Info("configuring event store", "url", dburl, "maxConn", dbOpts.MaxConnections)
	st, err := store.Open(ctx, dburl, dbOpts)
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close event store", "err", err)
		}
	}()

	wl, err := store.OpenWhitelist(ctx, cctx.String("whitelist-url"), cctx.String("whitelist-redis-prefix"), cctx.StringSlice("whitelist"), dbOpts)
	if err != nil {
		return fmt.Errorf("opening whitelist: %w", err)
	}
	admins := cctx.StringSlice("admin-pubkeys")
	logger.Info("configured whitelist", "source", fmt.Sprintf("%T", wl), "admins", len(admins))
	gate := relay.NewGate(wl, admins, cctx.Int("whitelist-cache-size"), cctx.Duration("whitelist-cache-ttl"))

	relayConfig := relay.DefaultConfig()
	relayConfig.EventsPerSecond = cctx.Int("events-per-second")
	relayConfig.MaxConnectionsPerOrigin = cctx.Int("max-conns-per-origin")
	relayConfig.MaxSubscriptions = cctx.Int("max-subscriptions")
	relayConfig.MaxLimit = cctx.Int("max-limit")
	if relayConfig.DefaultLimit > relayConfig.MaxLimit {
		relayConfig.DefaultLimit = relayConfig.MaxLimit
	}

	shards := relay.NewShardSet(cctx.StringSlice("shards"), st, gate, relayConfig)

	svcConfig := server.DefaultConfig()
	svcConfig.Logger = logger
	svcConfig.Bind = cctx.String("bind")
	svcConfig.TrustProxyHeaders = cctx.Bool("trust-proxy-headers")
	svcConfig.ShutdownTimeout = cctx.Duration("shutdown-timeout")
	svc := server.New(svcConfig, shards, st, gate)

	// start metrics endpoint
	go func() {
		if err := metrics.RunServer(ctx, cctx.String("metrics-listen")); err != nil {
			logger.Error("failed to start metrics endpoint", "err", err)
			stop()
		}
	}()

	logger.Info("startup complete")
	if err := svc.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
