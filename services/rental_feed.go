package services

import (
	"context"
	"log/slog"
	"time"

	"domadoAPI/internal/notification"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Riders only send control frames; anything larger is dropped.
	maxMessageSize = 512
)

// FeedClient is one rider connection on the live rental feed.
type FeedClient struct {
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	feed   *RentalFeed
}

type feedMessage struct {
	userID  uuid.UUID
	payload []byte
}

// RentalFeed pushes rental events to every open connection of the rider they
// belong to. All client bookkeeping happens on the Run goroutine.
type RentalFeed struct {
	clients    map[uuid.UUID]map[*FeedClient]bool
	broadcast  chan feedMessage
	register   chan *FeedClient
	unregister chan *FeedClient
	done       chan struct{}
	logger     *slog.Logger
}

func NewRentalFeed(logger *slog.Logger) *RentalFeed {
	return &RentalFeed{
		clients:    make(map[uuid.UUID]map[*FeedClient]bool),
		broadcast:  make(chan feedMessage, 64),
		register:   make(chan *FeedClient),
		unregister: make(chan *FeedClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (f *RentalFeed) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range f.clients {
				for c := range set {
					close(c.Send)
				}
			}
			f.clients = nil
			return

		case c := <-f.register:
			set, ok := f.clients[c.UserID]
			if !ok {
				set = make(map[*FeedClient]bool)
				f.clients[c.UserID] = set
			}
			set[c] = true
			f.logger.Debug("feed client connected", "user_id", c.UserID, "connections", len(set))

		case c := <-f.unregister:
			f.remove(c)

		case msg := <-f.broadcast:
			for c := range f.clients[msg.userID] {
				select {
				case c.Send <- msg.payload:
				default:
					f.remove(c)
				}
			}
		}
	}
}

func (f *RentalFeed) remove(c *FeedClient) {
	set, ok := f.clients[c.UserID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.Send)
	if len(set) == 0 {
		delete(f.clients, c.UserID)
	}
}

// Broadcast queues msg for the rider's connections. It drops the message when
// the feed is stopped or saturated.
func (f *RentalFeed) Broadcast(userID uuid.UUID, msg notification.FeedMessage) {
	payload, err := jsoniter.ConfigFastest.Marshal(msg)
	if err != nil {
		f.logger.Error("failed to marshal feed message", "error", err)
		return
	}
	select {
	case f.broadcast <- feedMessage{userID: userID, payload: payload}:
	case <-f.done:
	default:
		dispatchFailures.WithLabelValues("feed").Inc()
		f.logger.Warn("feed saturated, dropping message", "user_id", userID, "type", msg.Type)
	}
}

// Attach registers conn for userID and starts its pumps.
func (f *RentalFeed) Attach(userID uuid.UUID, conn *websocket.Conn) *FeedClient {
	c := &FeedClient{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 32),
		feed:   f,
	}
	select {
	case f.register <- c:
	case <-f.done:
		conn.Close()
		return c
	}
	go c.WritePump()
	go c.ReadPump()
	return c
}

// ReadPump only services control frames and detects disconnects.
func (c *FeedClient) ReadPump() {
	defer func() {
		select {
		case c.feed.unregister <- c:
		case <-c.feed.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.feed.logger.Debug("feed read error", "user_id", c.UserID, "error", err)
			}
			return
		}
	}
}

// WritePump handles messages going to the rider.
func (c *FeedClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The feed closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
