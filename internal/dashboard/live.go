package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"orderflow/logger"
	"orderflow/models"
)

const (
	livePingInterval  = 20 * time.Second
	liveWriteDeadline = time.Second
	liveSendBuffer    = 8
)

// liveEvent is the envelope pushed to websocket subscribers.
type liveEvent struct {
	Type     string                  `json:"type"`
	Snapshot *models.ProfileSnapshot `json:"snapshot,omitempty"`
}

// liveHub fans freshly computed snapshots out to connected websocket clients.
// Slow clients lose frames rather than stalling the feed.
type liveHub struct {
	log      *logger.Log
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*liveClient]struct{}
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *liveClient) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func newLiveHub(log *logger.Log) *liveHub {
	return &liveHub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*liveClient]struct{}),
	}
}

// run consumes the snapshot feed until the context ends or the feed closes.
func (h *liveHub) run(ctx context.Context, feed <-chan models.ProfileSnapshot) {
	log := h.log.WithComponent("dashboard_live")
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-feed:
			if !ok {
				return
			}
			payload, err := json.Marshal(liveEvent{Type: "snapshot", Snapshot: &snap})
			if err != nil {
				log.WithError(err).Warn("failed to encode live snapshot")
				continue
			}
			h.broadcast(payload, log)
		}
	}
}

// broadcast delivers a frame to every connected client without blocking.
// Clients are only closed after removal from the map, so a send here can
// never hit a closed channel.
func (h *liveHub) broadcast(payload []byte, log *logger.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			log.Debug("live client send buffer full, dropping frame")
		}
	}
}

func (h *liveHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handle upgrades the request and services the client until it disconnects.
func (h *liveHub) handle(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithComponent("dashboard_live")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &liveClient{
		conn: conn,
		send: make(chan []byte, liveSendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client, log)
	h.readLoop(client)
}

func (h *liveHub) writeLoop(client *liveClient, log *logger.Entry) {
	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(liveWriteDeadline))
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.drop(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(liveWriteDeadline))
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteDeadline)); err != nil {
				log.WithError(err).Debug("failed to ping live client")
				h.drop(client)
				return
			}
		}
	}
}

// readLoop discards inbound frames; it exists to notice the peer closing.
func (h *liveHub) readLoop(client *liveClient) {
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.drop(client)
			return
		}
	}
}

func (h *liveHub) drop(client *liveClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (h *liveHub) closeAll() {
	h.mu.Lock()
	clients := make([]*liveClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*liveClient]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}
