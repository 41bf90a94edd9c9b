package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/bus"
	"github.com/execdesk/execdesk/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 64
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// same-origin policy is handled by the CORS middleware; the stream is
	// read-only
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventStream broadcasts every bus message to connected websocket clients.
// It observes the bus as a mirror, so it sees exactly what agents see.
type EventStream struct {
	logger *logger.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan MessageResponse
}

// NewEventStream creates the stream and registers it on the bus.
func NewEventStream(b *bus.Bus, log *logger.Logger) *EventStream {
	s := &EventStream{
		logger:  log,
		clients: make(map[*streamClient]struct{}),
	}
	b.AddMirror(s)
	return s
}

// MirrorMessage implements bus.Mirror. A slow client's backlog is dropped
// rather than blocking the publisher.
func (s *EventStream) MirrorMessage(msg *bus.Message) error {
	payload := messageToResponse(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- payload:
		default:
			s.logger.Warn("dropping event for slow websocket client",
				zap.String("message_id", msg.ID))
		}
	}
	return nil
}

// Handle upgrades the connection and streams events until the client
// disconnects.
// GET /ws/events
func (s *EventStream) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan MessageResponse, clientBuffer),
	}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("websocket client connected", zap.Int("clients", total))

	go s.writePump(client)
	s.readPump(client)
}

func (s *EventStream) remove(client *streamClient) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
	s.mu.Unlock()
	client.conn.Close()
}

// readPump drains control frames; the stream carries no client input.
func (s *EventStream) readPump(client *streamClient) {
	defer s.remove(client)
	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventStream) writePump(client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of connected stream clients.
func (s *EventStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
