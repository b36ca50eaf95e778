package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
)

// handleEvents streams assistant notices as JSON text frames until the
// client disconnects. Messages from the client are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notices == nil {
		writeError(w, http.StatusNotFound, errors.New("api: event stream not available"), false)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		slog.Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	notices, cancel := s.deps.Notices.Subscribe(eventBuffer)
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	slog.Debug("api: event stream opened", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("api: event stream closed", "remote", r.RemoteAddr)
			return
		case n, ok := <-notices:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				slog.Error("api: marshal notice", "kind", n.Kind, "err", err)
				continue
			}
			if err := write(ctx, conn, data); err != nil {
				slog.Debug("api: event stream write failed", "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
