package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dreamlab-ai/nostr-relay/internal/relay"
	"github.com/dreamlab-ai/nostr-relay/internal/store"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Logger *slog.Logger
	Bind   string

	// take the client address from X-Forwarded-For / X-Real-IP; only safe behind a proxy
	// which sets them
	TrustProxyHeaders bool

	// how often the store is pinged in the background; zero disables it
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration

	// registry for HTTP metrics; defaults to the global prometheus registry
	Registerer prometheus.Registerer
}

func DefaultConfig() Config {
	return Config{
		Bind:            ":7777",
		HealthInterval:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

type Server struct {
	cfg Config
	log *slog.Logger

	echo   *echo.Echo
	shards *relay.ShardSet
	store  store.Store
	gate   *relay.Gate
}

// ErrorResponse is the JSON body of every non-websocket error.
type ErrorResponse struct {
	ErrStr  string `json:"error"`
	Message string `json:"message,omitempty"`
}

func New(config Config, shards *relay.ShardSet, st store.Store, gate *relay.Gate) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:    config,
		log:    config.Logger.With("system", "server"),
		shards: shards,
		store:  st,
		gate:   gate,
	}
	s.echo = s.router()
	return s
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if s.cfg.TrustProxyHeaders {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Use(slogecho.New(s.log))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("nostr-relay"))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "nostr_relay_http",
		Registerer: s.cfg.Registerer,
		// websocket handlers run for the lifetime of the connection
		Skipper:    isWebsocket,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/", s.handleHome)
	e.GET("/shard/:shard", s.handleShard)
	e.GET("/_health", s.handleHealth)
	e.GET("/api/check-whitelist", s.handleCheckWhitelist)

	return e
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves HTTP and runs every shard until ctx is cancelled or one of them fails, then
// shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.shards.Run(ctx)
		return nil
	})

	eg.Go(func() error {
		s.log.Info("api server listening", "bind", s.cfg.Bind, "shards", s.shards.Keys())
		if err := s.echo.Start(s.cfg.Bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.echo.Server.SetKeepAlivesEnabled(false)
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.log.Error("error shutting down API server", "err", err)
			return err
		}
		return nil
	})

	if s.cfg.HealthInterval > 0 {
		eg.Go(func() error {
			s.watchStore(ctx)
			return nil
		})
	}

	return eg.Wait()
}

// watchStore pings the store periodically and records the result as a gauge.
func (s *Server) watchStore(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.pingStore(ctx); err != nil {
				s.log.Warn("store health check failed", "err", err)
				storeUp.Set(0)
			} else {
				storeUp.Set(1)
			}
		}
	}
}

func (s *Server) pingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.store.Ping(ctx)
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	errStr := "InternalServerError"
	msg := "internal server error"

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		switch code {
		case http.StatusBadRequest:
			errStr = "BadRequest"
		case http.StatusNotFound:
			errStr = "NotFound"
		case http.StatusMethodNotAllowed:
			errStr = "MethodNotAllowed"
		case http.StatusTooManyRequests:
			errStr = "RateLimitExceeded"
		case http.StatusServiceUnavailable:
			errStr = "ServiceUnavailable"
		}
	}

	if code >= 500 {
		s.log.Error("handler error", "path", c.Path(), "err", err)
	}

	if !c.Response().Committed {
		if err := c.JSON(code, ErrorResponse{ErrStr: errStr, Message: msg}); err != nil {
			s.log.Error("failed to write error response", "err", err)
		}
	}
}
