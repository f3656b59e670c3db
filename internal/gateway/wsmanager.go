// ConnectionManager maintains the set of active WebSocket clients and
// provides a broadcast primitive, grounded on
// original_source/services/gateway_service/ws_manager.py's ConnectionManager.
package gateway

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/admadc/pipeline/internal/logging"
)

type ConnectionManager struct {
	mu     sync.Mutex
	active map[*websocket.Conn]struct{}
	logger logging.Logger
}

func NewConnectionManager(logger logging.Logger) *ConnectionManager {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &ConnectionManager{active: make(map[*websocket.Conn]struct{}), logger: logger}
}

func (m *ConnectionManager) Connect(conn *websocket.Conn) {
	m.mu.Lock()
	m.active[conn] = struct{}{}
	count := len(m.active)
	m.mu.Unlock()
	m.logger.Info("gateway: websocket connected", logging.Fields{"active_connections": count})
}

func (m *ConnectionManager) Disconnect(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.active, conn)
	count := len(m.active)
	m.mu.Unlock()
	m.logger.Info("gateway: websocket disconnected", logging.Fields{"active_connections": count})
}

// Broadcast sends message to every connected client, dropping (and
// disconnecting) any client whose write fails.
func (m *ConnectionManager) Broadcast(message []byte) {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.active))
	for c := range m.active {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var dead []*websocket.Conn
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		m.Disconnect(c)
		c.Close()
	}
}

func (m *ConnectionManager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
