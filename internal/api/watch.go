package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const watchWriteTimeout = 5 * time.Second

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("watch handshake rejected", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	updates, detach := s.board.Subscribe()
	defer detach()

	ctx := conn.CloseRead(r.Context())
	if latest, ok := s.board.Latest(); ok {
		if err := writeStatus(ctx, conn, NewStatusView(latest)); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case status := <-updates:
			if err := writeStatus(ctx, conn, NewStatusView(status)); err != nil {
				s.logger.Debug("watch write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeStatus(ctx context.Context, conn *websocket.Conn, view StatusView) error {
	writeCtx, cancel := context.WithTimeout(ctx, watchWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, view)
}
