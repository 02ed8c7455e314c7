package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
)

// WebSocketManager upgrades HTTP requests into notification streams:
// each client gets its own Bus subscription and receives every
// Notification as one JSON text message. A client that cannot keep up
// loses messages first (the Bus drops them) and its connection next.
type WebSocketManager struct {
	bus      *Bus
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewWebSocketManager builds a manager fanning out from bus.
func NewWebSocketManager(bus *Bus, log *logrus.Logger) *WebSocketManager {
	if log == nil {
		log = logrus.New()
	}
	return &WebSocketManager{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The listener is bound to localhost; browsers talking to
			// it are the local GUI.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.WithField("component", "notify.websocket"),
	}
}

// ServeHTTP upgrades the request and streams notifications until the
// client disconnects.
func (m *WebSocketManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	ch, unsubscribe := m.bus.Subscribe()
	defer unsubscribe()
	defer conn.Close()

	closed := make(chan struct{})
	go m.readUntilClose(conn, closed)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case n, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(n)
			if err != nil {
				m.log.WithError(err).WithField("kind", n.Kind).Error("notification not serializable")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

// readUntilClose drains inbound frames (clients send nothing we care
// about) so pings/pongs and close frames are processed, closing
// closed when the peer goes away.
func (m *WebSocketManager) readUntilClose(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
