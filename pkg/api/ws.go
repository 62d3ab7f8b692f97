package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // same-origin requests have no Origin header
		}
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
				return true
			}
		}
		logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// wsEvent is the frame sent to WebSocket clients.
type wsEvent struct {
	Type      string        `json:"type"`
	Timestamp string        `json:"timestamp"`
	Update    module.Update `json:"update"`
}

// handleWS streams the caller's update events over a WebSocket. Each
// connection gets its own tap on the hub; updates for other users or for
// modules the user isn't subscribed to are filtered out.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	tapName := "ws-" + uuid.NewString()
	tap := s.hub.Subscribe(tapName)
	defer s.hub.Unsubscribe(tapName)

	// Reader goroutine: we never expect frames, but reading surfaces the
	// close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case u, ok := <-tap:
			if !ok {
				return
			}
			if !s.updateForUser(u, user) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(wsEvent{
				Type:      u.Type,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Update:    u,
			}); err != nil {
				return
			}
		}
	}
}

// updateForUser filters hub traffic down to this connection's user and
// subscriptions.
func (s *Server) updateForUser(u module.Update, user *module.UserContext) bool {
	if target, ok := u.Metadata["user_id"]; ok && target != "" && (user == nil || target != user.UserID) {
		return false
	}
	if s.settings != nil && user != nil && !s.settings.IsSubscribed(u.ModuleID, user.UserID) {
		return false
	}
	return true
}
