package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/stablepath/flowtrack/metrics"
	"github.com/stablepath/flowtrack/types"
)

const (
	wsReadLimit  = 1 << 20 // 1MB
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS policy is enforced by the HTTP middleware in front of the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConnection is one upgraded client. A single writer goroutine drains the
// send buffer; bus handlers drop updates when the buffer is full, clients
// reconcile by re-reading /api/flow/:id/status.
type wsConnection struct {
	id   string
	sock *websocket.Conn
	send chan []byte
	done chan struct{}

	mu   sync.Mutex
	subs map[string]func()
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sock, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err.Error())
		return
	}

	conn := &wsConnection{
		id:   uuid.NewString(),
		sock: sock,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
		subs: make(map[string]func()),
	}
	s.logger.Debug("websocket connected", "connection_id", conn.id)

	go conn.writePump()
	conn.enqueue(mustMarshal(map[string]any{
		"type":         "connected",
		"connectionId": conn.id,
		"message":      "subscribe with {\"type\":\"subscribe\",\"flowId\":\"...\"}",
	}))

	s.readLoop(conn)
}

// readLoop serves one connection's inbound messages until it closes.
func (s *Server) readLoop(conn *wsConnection) {
	defer func() {
		conn.unsubscribeAll()
		close(conn.done)
		conn.sock.Close()
		s.logger.Debug("websocket disconnected", "connection_id", conn.id)
	}()

	conn.sock.SetReadLimit(wsReadLimit)
	for {
		_, msg, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}

		msgType := gjson.GetBytes(msg, "type").String()
		flowID := gjson.GetBytes(msg, "flowId").String()
		if flowID == "" {
			continue
		}

		switch msgType {
		case "subscribe":
			s.subscribe(conn, flowID)
		case "unsubscribe":
			conn.unsubscribe(flowID)
		}
	}
}

// subscribe registers a per-connection subscription for one flow's updates.
func (s *Server) subscribe(conn *wsConnection, flowID string) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if _, ok := conn.subs[flowID]; ok {
		return
	}

	unsub := s.bus.Subscribe(flowID, func(update types.StatusUpdate) {
		conn.enqueue(mustMarshal(map[string]any{
			"type": "status-update",
			"data": update,
		}))
	})
	conn.subs[flowID] = unsub
	metrics.ActiveSubscriptions.Inc()
	s.logger.Debug("websocket subscribed", "connection_id", conn.id, "flow_id", flowID)
}

func (c *wsConnection) unsubscribe(flowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unsub, ok := c.subs[flowID]; ok {
		unsub()
		delete(c.subs, flowID)
		metrics.ActiveSubscriptions.Dec()
	}
}

func (c *wsConnection) unsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for flowID, unsub := range c.subs {
		unsub()
		delete(c.subs, flowID)
		metrics.ActiveSubscriptions.Dec()
	}
}

// enqueue hands a frame to the writer, dropping when the client cannot keep
// up. Delivery is best-effort per the fan-out contract.
func (c *wsConnection) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
	}
}

func (c *wsConnection) writePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func mustMarshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
