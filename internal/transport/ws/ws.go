package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/router"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer     = 256
	defaultMaxMessageSize = 64 << 10
)

var ErrSendBufferFull = errors.New("ws: send buffer full")

var ErrClosed = errors.New("ws: connection closed")

// Router is the inbound side of the application, satisfied by *router.Router.
type Router interface {
	Connect(ctx context.Context, conn router.Conn)
	Disconnect(ctx context.Context, conn router.Conn)
	Handle(ctx context.Context, conn router.Conn, env router.Envelope)
}

type Config struct {
	SendBuffer     int   `mapstructure:"send_buffer"`
	MaxMessageSize int64 `mapstructure:"max_message_size"`
}

type Handler struct {
	router   Router
	upgrader websocket.Upgrader
	config   Config
}

func NewHandler(r Router, c Config) *Handler {
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}

	return &Handler{
		router: r,
		config: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Identity is not authenticated, so origins are not either.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts the websocket endpoint.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/ws", h.Serve)
}

// Serve upgrades the request and pumps frames until the peer goes away.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("ws: upgrade failed", "remote", c.Request.RemoteAddr, "error", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.config.SendBuffer),
		done: make(chan struct{}),
	}

	// The request context ends with the handler, the connection outlives it.
	ctx := context.WithoutCancel(c.Request.Context())

	h.router.Connect(ctx, client)
	go client.writePump()
	client.readPump(ctx, h.router, h.config.MaxMessageSize)
	h.router.Disconnect(ctx, client)
}

// Client is one websocket connection. It implements router.Conn.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

var _ router.Conn = (*Client)(nil)

func (c *Client) ID() string { return c.id }

// Send queues frame for the write pump. A peer too slow to drain its buffer is dropped so
// it cannot hold up anyone else; it will resync on reconnect.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.close()
		return ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context, r Router, maxMessageSize int64) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Info("ws: read failed", "conn", c.id, "error", err)
			}
			return
		}

		var env router.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("ws: malformed frame dropped", "conn", c.id, "error", err)
			continue
		}

		r.Handle(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("ws: write failed", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}
