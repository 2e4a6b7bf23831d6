package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/dreamlab-ai/nostr-relay/internal/relay"
	"github.com/dreamlab-ai/nostr-relay/pkg/env"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting process", "err", err.Error())
		os.Exit(-1)
	}
}

func run(args []string) error {
	env.Version = versioninfo.Short()

	defaults := relay.DefaultConfig()

	app := cli.App{
		Name:    "relay",
		Usage:   "whitelist-gated nostr relay",
		Version: versioninfo.Short(),
	}
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"RELAY_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}
	app.Commands = []*cli.Command{
		&cli.Command{
			Name:   "serve",
			Usage:  "run the relay daemon",
			Action: runServe,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "bind",
					Usage:   "IP or address, and port, to listen on for websocket clients",
					Value:   ":7777",
					EnvVars: []string{"RELAY_BIND", "RELAY_API_LISTEN"},
				},
				&cli.StringFlag{
					Name:    "metrics-listen",
					Usage:   "IP or address, and port, to listen on for prometheus metrics",
					Value:   ":7778",
					EnvVars: []string{"RELAY_METRICS_LISTEN"},
				},
				&cli.StringFlag{
					Name:    "db-url",
					Usage:   "event store: sqlite://, postgres://, pebble://<dir> or memory://",
					Value:   "sqlite://data/relay/relay.sqlite",
					EnvVars: []string{"DATABASE_URL", "RELAY_DB_URL"},
				},
				&cli.IntFlag{
					Name:    "max-db-conn",
					Usage:   "limit on size of database connection pool",
					Value:   40,
					EnvVars: []string{"MAX_DB_CONNECTIONS"},
				},
				&cli.StringFlag{
					Name:    "whitelist-url",
					Usage:   "whitelist source: a database URL, redis://..., or empty to use --whitelist",
					EnvVars: []string{"RELAY_WHITELIST_URL"},
				},
				&cli.StringFlag{
					Name:    "whitelist-redis-prefix",
					Usage:   "key prefix for whitelist entries in redis",
					Value:   "whitelist:",
					EnvVars: []string{"RELAY_WHITELIST_REDIS_PREFIX"},
				},
				&cli.StringSliceFlag{
					Name:    "whitelist",
					Usage:   "hex pubkeys allowed to publish, when no whitelist source is configured",
					EnvVars: []string{"RELAY_WHITELIST"},
				},
				&cli.StringSliceFlag{
					Name:    "admin-pubkeys",
					Usage:   "hex pubkeys which may always publish",
					EnvVars: []string{"RELAY_ADMIN_PUBKEYS"},
				},
				&cli.DurationFlag{
					Name:    "whitelist-cache-ttl",
					Usage:   "how long whitelist lookups are cached in-process (0 disables)",
					Value:   time.Minute,
					EnvVars: []string{"RELAY_WHITELIST_CACHE_TTL"},
				},
				&cli.IntFlag{
					Name:    "whitelist-cache-size",
					Value:   100_000,
					EnvVars: []string{"RELAY_WHITELIST_CACHE_SIZE"},
				},
				&cli.StringSliceFlag{
					Name:    "shards",
					Usage:   "independent relay shards; 'main' is served at /, the rest at /shard/<name>",
					Value:   cli.NewStringSlice(relay.DefaultShard),
					EnvVars: []string{"RELAY_SHARDS"},
				},
				&cli.IntFlag{
					Name:    "events-per-second",
					Usage:   "event submissions allowed per origin per second (0 disables)",
					Value:   defaults.EventsPerSecond,
					EnvVars: []string{"RELAY_EVENTS_PER_SECOND"},
				},
				&cli.IntFlag{
					Name:    "max-conns-per-origin",
					Value:   defaults.MaxConnectionsPerOrigin,
					EnvVars: []string{"RELAY_MAX_CONNS_PER_ORIGIN"},
				},
				&cli.IntFlag{
					Name:    "max-subscriptions",
					Usage:   "open subscriptions allowed per session",
					Value:   defaults.MaxSubscriptions,
					EnvVars: []string{"RELAY_MAX_SUBSCRIPTIONS"},
				},
				&cli.IntFlag{
					Name:    "max-limit",
					Usage:   "upper bound on stored events returned for one subscription request",
					Value:   defaults.MaxLimit,
					EnvVars: []string{"RELAY_MAX_LIMIT"},
				},
				&cli.BoolFlag{
					Name:    "trust-proxy-headers",
					Usage:   "take client addresses from X-Forwarded-For; only enable behind a proxy",
					EnvVars: []string{"RELAY_TRUST_PROXY_HEADERS"},
				},
				&cli.DurationFlag{
					Name:    "shutdown-timeout",
					Value:   10 * time.Second,
					EnvVars: []string{"RELAY_SHUTDOWN_TIMEOUT"},
				},
				&cli.StringFlag{
					Name:    "env",
					Value:   "dev",
					EnvVars: []string{"ENVIRONMENT"},
					Usage:   "declared hosting environment (prod, qa, etc); used in traces",
				},
				&cli.BoolFlag{
					Name:    "enable-db-tracing",
					EnvVars: []string{"RELAY_ENABLE_DB_TRACING"},
				},
				&cli.StringFlag{
					Name:    "otel-exporter-otlp-endpoint",
					EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
				},
			},
		},
		cmdKeygen,
		cmdSign,
	}
	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
