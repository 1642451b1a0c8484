package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/webpilot/webpilot/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the peer. Clients only send
	// pings, so this stays small.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server only binds loopback; the UI is served from the same
	// origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope is the frame pushed to UI clients.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans event bus traffic out to connected UI clients.
type Hub struct {
	log        *slog.Logger
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}
	subs       []events.Subscription
}

func newHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// bind relays run events from the bus to every connected client.
func (h *Hub) bind(bus *events.Subject) {
	h.subs = append(h.subs,
		events.Subscribe(bus, events.TopicRunProgress, func(_ context.Context, p events.Progress) error {
			return h.push("progress", p)
		}),
		events.Subscribe(bus, events.TopicRunLog, func(_ context.Context, e events.LogEntry) error {
			return h.push("log", e)
		}),
		events.Subscribe(bus, events.TopicRunFinished, func(_ context.Context, f events.Finished) error {
			return h.push("finished", f)
		}),
	)
}

func (h *Hub) push(kind string, data any) error {
	frame, err := json.Marshal(wsEnvelope{Type: kind, Data: data})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- frame:
	default:
		h.log.Warn("websocket broadcast buffer full, dropping frame", "type", kind)
	}
	return nil
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close()
			}
			for _, sub := range h.subs {
				sub.Unsubscribe()
			}
			// Nobody services register/unregister after this point;
			// done lets pump goroutines bail out instead of blocking.
			close(h.done)
			return
		case c := <-h.register:
			h.clients[c] = true
			h.log.Info("ui client connected", "client", c.id)
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
				h.log.Info("ui client disconnected", "client", c.id)
			}
		case frame := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// Slow client, drop it.
					delete(h.clients, c)
					c.close()
				}
			}
		}
	}
}

// drop hands a client back for removal. It gives up once the hub has
// shut down, since nothing drains unregister after that.
func (h *Hub) drop(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// handler upgrades the connection and starts the pumps.
func (h *Hub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Error("websocket upgrade failed", "error", err)
			return
		}
		c := &wsClient{
			id:   uuid.NewString(),
			hub:  h,
			conn: conn,
			send: make(chan []byte, 256),
			done: make(chan struct{}),
		}
		select {
		case h.register <- c:
		case <-h.done:
			_ = conn.Close()
			return
		}
		go c.writePump()
		go c.readPump()
	}
}

// wsClient is one connected UI websocket.
type wsClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func (c *wsClient) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
		_ = c.conn.Close()
	}
}

// readPump drains the connection so pings and close frames are
// processed. UI clients never send application messages.
func (c *wsClient) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
