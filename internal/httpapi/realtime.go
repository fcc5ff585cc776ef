package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"clproxy/internal/requestlog"
)

// upgrader accepts connections from any origin: the proxy listens on
// localhost and is fronted by a local monitoring UI, not a public site,
// so the usual cross-site-websocket-hijacking concern doesn't apply here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const realtimeWriteWait = 10 * time.Second

// handleRealtime upgrades the connection and streams requestlog.Event values
// as JSON text frames until the client disconnects or the log's hub drops
// this subscriber for being too slow.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := s.reqlog.Subscribe()

	// Drain and discard anything the client sends; we only push, but a
	// client-initiated close frame still needs to be read to be seen.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range events {
		if err := s.writeEvent(conn, ev); err != nil {
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev requestlog.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("marshal realtime event failed", "error", err)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
