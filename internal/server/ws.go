package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// writeTimeout bounds a single snapshot write to a websocket client.
const writeTimeout = 5 * time.Second

// handleOverlayStream upgrades to a websocket and sends the current overlay
// snapshot followed by every later one. Snapshots a slow client misses are
// skipped; it always receives the newest. Client messages are ignored.
func (s *Server) handleOverlayStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Debug("overlay stream: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead drains client frames and cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	snaps, unsubscribe := s.cfg.Canvas.Subscribe()
	defer unsubscribe()

	s.cfg.Metrics.RecordOverlaySubscribers(ctx, 1)
	defer s.cfg.Metrics.RecordOverlaySubscribers(context.WithoutCancel(ctx), -1)

	log := s.log.With("remote", r.RemoteAddr)
	log.Debug("overlay stream: client connected")

	for {
		select {
		case <-ctx.Done():
			log.Debug("overlay stream: client gone", "err", context.Cause(ctx))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap, ok := <-snaps:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "overlay closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, snap)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("overlay stream: write failed", "err", err)
				}
				return
			}
		}
	}
}
