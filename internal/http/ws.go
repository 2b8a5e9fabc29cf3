package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// handleWS attaches a crew app to its offer channel. The read loop only detects disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["resource_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "resource_id", id, "err", err)
		return
	}
	s.wsReg.Add(id, conn)
	s.logger.Info("resource connected", "resource_id", id)
	defer func() {
		s.wsReg.Remove(id, conn)
		_ = conn.Close()
		s.logger.Info("resource disconnected", "resource_id", id)
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
