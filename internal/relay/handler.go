package relay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval    = 30 * time.Second
	pingPongTimeout = 5 * time.Second
	writeTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  10 << 10,
	WriteBufferSize: 10 << 10,
	// browser clients connect from arbitrary origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConnection serves one websocket client on this shard. The connection slot is
// taken before the upgrade; when the origin is at its cap nothing is written and
// ErrTooManyConnections is returned for the caller to turn into an HTTP 429.
func (r *Relay) HandleConnection(w http.ResponseWriter, req *http.Request, origin string) error {
	sess, err := r.Connect(origin)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.Disconnect(sess)
		return fmt.Errorf("upgrading websocket: %w", err)
	}
	defer conn.Close() //nolint:errcheck
	defer r.Disconnect(sess)

	conn.SetReadLimit(r.Config.MaxMessageBytes)
	log := r.log.With("session_id", sess.ID, "origin", origin)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lastWriteMu := sync.Mutex{}
	lastWrite := time.Now()

	// ping after idle periods, to keep the connection alive and detect dead clients
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				lastWriteMu.Lock()
				lw := lastWrite
				lastWriteMu.Unlock()

				if time.Since(lw) < pingInterval {
					continue
				}
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(pingPongTimeout)); err != nil {
					log.Info("failed to ping client", "err", err)
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	conn.SetPingHandler(func(message string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(pingPongTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		return err
	})

	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("read failed", "err", err)
				}
				return
			}
			if err := r.Deliver(sess, data); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-sess.outgoing:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("write failed", "err", err)
				return nil
			}
			lastWriteMu.Lock()
			lastWrite = time.Now()
			lastWriteMu.Unlock()
		case <-sess.kick:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection dropped by relay")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)) //nolint:errcheck
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
