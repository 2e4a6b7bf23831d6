package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dreamlab-ai/nostr-relay/internal/relay"
	"github.com/dreamlab-ai/nostr-relay/nostr"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func isWebsocket(c echo.Context) bool {
	return websocket.IsWebSocketUpgrade(c.Request())
}

func (s *Server) handleHome(c echo.Context) error {
	if isWebsocket(c) {
		r, err := s.shards.Get(relay.DefaultShard)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "no default shard on this relay")
		}
		return s.serveWebsocket(c, r)
	}

	var b strings.Builder
	b.WriteString("This is a nostr relay. Only whitelisted members may publish.\n\n")
	b.WriteString("Connect with a websocket client. Shards:\n")
	for _, k := range s.shards.Keys() {
		if k == relay.DefaultShard {
			fmt.Fprintf(&b, "  %s: /\n", k)
		} else {
			fmt.Fprintf(&b, "  %s: /shard/%s\n", k, k)
		}
	}
	return c.String(http.StatusOK, b.String())
}

func (s *Server) handleShard(c echo.Context) error {
	r, err := s.shards.Get(c.Param("shard"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown shard")
	}
	if !isWebsocket(c) {
		return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade required")
	}
	return s.serveWebsocket(c, r)
}

func (s *Server) serveWebsocket(c echo.Context, r *relay.Relay) error {
	err := r.HandleConnection(c.Response(), c.Request(), c.RealIP())
	switch {
	case errors.Is(err, relay.ErrTooManyConnections):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many connections from this address")
	case errors.Is(err, relay.ErrShutdown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "relay is shutting down")
	case err != nil:
		// the upgrader has already written its own response
		s.log.Info("websocket connection failed", "shard", r.Shard(), "err", err)
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pingStore(c.Request().Context()); err != nil {
		s.log.Error("health check: store unreachable", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"error":  "store unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type checkWhitelistResponse struct {
	PubKey        string `json:"pubkey"`
	IsWhitelisted bool   `json:"isWhitelisted"`
	IsAdmin       bool   `json:"isAdmin"`
}

// handleCheckWhitelist lets clients find out whether a key may publish, before they try.
func (s *Server) handleCheckWhitelist(c echo.Context) error {
	pubkey := strings.ToLower(c.QueryParam("pubkey"))
	if !nostr.IsLowerHex(pubkey, 64) {
		return echo.NewHTTPError(http.StatusBadRequest, "pubkey must be 64 hex characters")
	}

	member, admin, err := s.gate.Lookup(c.Request().Context(), pubkey)
	if err != nil {
		s.log.Error("whitelist lookup failed", "pubkey", pubkey, "err", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "whitelist lookup failed")
	}
	return c.JSON(http.StatusOK, checkWhitelistResponse{
		PubKey:        pubkey,
		IsWhitelisted: member || admin,
		IsAdmin:       admin,
	})
}
