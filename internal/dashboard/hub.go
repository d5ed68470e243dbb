package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stepscope/stepscope/internal/correlation"
)

// Message is the frame sent to dashboard websocket clients.
type Message struct {
	Type      string    `json:"type"` // "series", "error", "pong"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// SeriesPayload carries one correlated snapshot.
type SeriesPayload struct {
	Series  correlation.DataSource `json:"series"`
	Summary correlation.Summary    `json:"summary"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// Hub fans fresh series snapshots out to connected websocket clients. The
// loader is polled on a fixed interval; a broadcast goes out only when the
// series grew, so clients are quiet while the artifact store is idle.
type Hub struct {
	load     SeriesFunc
	interval time.Duration

	clients    map[string]*client
	register   chan *client
	unregister chan string
	broadcast  chan Message
	done       chan struct{}
	once       sync.Once
}

func NewHub(load SeriesFunc, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		load:       load,
		interval:   interval,
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan string),
		broadcast:  make(chan Message, 16),
		done:       make(chan struct{}),
	}
}

// Run drives the hub until Stop or context end. Call it in its own
// goroutine.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	lastLen := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return

		case c := <-h.register:
			h.clients[c.id] = c
			log.Printf("[DASH] client connected: %s (total %d)", c.id, len(h.clients))

		case id := <-h.unregister:
			if c, ok := h.clients[id]; ok {
				delete(h.clients, id)
				close(c.send)
			}
			log.Printf("[DASH] client disconnected: %s (total %d)", id, len(h.clients))

		case msg := <-h.broadcast:
			for _, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client, drop the frame.
				}
			}

		case <-ticker.C:
			if len(h.clients) == 0 {
				continue
			}
			series, err := h.load(ctx)
			if err != nil {
				log.Printf("[DASH] refresh failed: %v", err)
				continue
			}
			if series.Len() == lastLen {
				continue
			}
			lastLen = series.Len()
			h.Broadcast(Message{
				Type:      "series",
				Timestamp: time.Now().UTC(),
				Data:      SeriesPayload{Series: series.DataSource(), Summary: series.Summary()},
			})
		}
	}
}

// Broadcast queues a message for every connected client, dropping it when
// the queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Stop ends the run loop. Connected clients are closed by their pumps.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// readPump drains client frames until the connection drops, answering pings
// so probes can check liveness.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c.id:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[DASH] read error from %s: %v", c.id, err)
			}
			return
		}
		if msg.Type == "ping" {
			select {
			case c.send <- Message{Type: "pong", Timestamp: time.Now().UTC()}:
			default:
			}
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[DASH] write error to %s: %v", c.id, err)
			}
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
