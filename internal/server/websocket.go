package server

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/qcserver/internal/core/observability/log"
)

const transportWebSocket = "websocket"

type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsSink) WriteFrame(data []byte) error {
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsSink) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func admitStatus(err error) int {
	if errors.Is(err, ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	return http.StatusServiceUnavailable
}

// handleWebSocket streams binary frames until the client goes away. The
// client is not expected to send anything; reads only detect the close.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, err := s.hub.Admit(transportWebSocket)
	if err != nil {
		http.Error(w, err.Error(), admitStatus(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", log.Error(err))
		s.hub.Remove(sub)
		return
	}
	conn.SetReadLimit(512)

	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	_ = s.hub.Serve(sub, &wsSink{conn: conn, timeout: s.cfg.WriteTimeout})
}
