// Package signaling is the participant side of the relay connection.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TypeReconnected is delivered on Incoming after the connection was lost
// and established again. The relay treats the new connection as a new
// participant.
const TypeReconnected domain.MessageType = "signaling-reconnected"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	bufferSize     = 64
)

var ErrClosed = errors.New("signaling client closed")

type Options struct {
	// Attempts bounds the dial retries, both initially and after a drop.
	Attempts int
	// Delay is the first retry interval; later ones back off exponentially.
	Delay  time.Duration
	Header http.Header
	Dialer *websocket.Dialer
}

type Client struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	incoming chan domain.Envelope
	outgoing chan domain.Envelope
	done     chan struct{}
	once     sync.Once
	logger   zerolog.Logger
}

func NewClient(serverURL string, opts Options) *Client {
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		url:      serverURL,
		opts:     opts,
		dialer:   dialer,
		incoming: make(chan domain.Envelope, bufferSize),
		outgoing: make(chan domain.Envelope, bufferSize),
		done:     make(chan struct{}),
		logger:   log.With().Str("server", serverURL).Logger(),
	}
}

// Connect dials the relay and starts the pumps. It retries with backoff
// before giving up.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	go c.run(ctx, conn)
	return nil
}

// Send queues env for the relay.
func (c *Client) Send(env domain.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming is closed once the client is closed or cannot reconnect.
func (c *Client) Incoming() <-chan domain.Envelope {
	return c.incoming
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.Delay
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(c.opts.Attempts, 0))), ctx)

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		if c.closed() {
			return backoff.Permanent(ErrClosed)
		}
		var err error
		conn, _, err = c.dialer.DialContext(ctx, c.url, c.opts.Header)
		return err
	}, b, func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Signaling connection failed")
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.url, err)
	}
	c.logger.Info().Msg("Connected to signaling server")
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.incoming)
	for {
		readDone := make(chan struct{})
		go c.readPump(conn, readDone)
		c.writePump(ctx, conn, readDone)
		conn.Close()
		<-readDone

		if c.closed() || ctx.Err() != nil {
			return
		}
		c.logger.Warn().Msg("Signaling connection lost, reconnecting")
		next, err := c.dial(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("Giving up on signaling server")
			return
		}
		conn = next
		c.discardOutgoing()
		select {
		case c.incoming <- domain.Envelope{Type: TypeReconnected}:
		case <-c.done:
		}
	}
}

// discardOutgoing drops envelopes queued for the lost connection. They
// address a participant the relay has already forgotten.
func (c *Client) discardOutgoing() {
	for {
		select {
		case env := <-c.outgoing:
			c.logger.Debug().Str("type", string(env.Type)).Msg("Discarding envelope queued before reconnect")
		default:
			return
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn, readDone chan<- struct{}) {
	defer close(readDone)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed() {
				c.logger.Debug().Err(err).Msg("Signaling read failed")
			}
			return
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

// writePump returns when the reader stopped, a write failed, or the client
// was closed.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, readDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				c.logger.Debug().Err(err).Str("type", string(env.Type)).Msg("Signaling write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-readDone:
			return

		case <-ctx.Done():
			c.Close()
			c.writeClose(conn)
			return

		case <-c.done:
			c.writeClose(conn)
			return
		}
	}
}

func (c *Client) writeClose(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		c.logger.Debug().Err(err).Msg("Writing close frame")
	}
}
