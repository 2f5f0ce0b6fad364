package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP offers with many candidates fit comfortably in 64 KB.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one websocket connection to a participant.
type Client struct {
	id     domain.ParticipantID
	conn   *websocket.Conn
	send   chan domain.Envelope
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func NewClient(id domain.ParticipantID, conn *websocket.Conn) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan domain.Envelope, sendBufferSize),
		done:   make(chan struct{}),
		logger: log.With().Str("client_id", id.String()).Logger(),
	}
}

func (c *Client) ID() domain.ParticipantID {
	return c.id
}

// Send queues env for the write pump. It never blocks: a client that cannot
// keep up loses the envelope.
func (c *Client) Send(env domain.Envelope) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	default:
		c.logger.Warn().Str("type", string(env.Type)).Msg("Send buffer full, dropping envelope")
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

// ReadPump pumps envelopes from the connection to the hub. It must run in
// its own goroutine, and it is the only reader of the connection.
func (c *Client) ReadPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		if env.Type == "" {
			c.logger.Debug().Msg("Ignoring envelope without type")
			continue
		}
		h.Dispatch(c.id, env)
	}
}

// WritePump pumps queued envelopes to the connection and keeps it alive
// with pings. It is the only writer of the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Error().Err(err).Msg("Error writing envelope")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
