// Package signal implements the WebSocket signaling channel and a two-peer
// relay coordinator.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/bbielsa/rtcsession/internal/domain"
)

const (
	defaultPingInterval     = 20 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 5 * time.Second
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("signal: channel closed")

// Dialer opens WebSocket signaling channels. It implements domain.SignalDialer.
type Dialer struct {
	// Room and ClientID fill in outbound Join messages that leave them empty.
	Room     string
	ClientID string

	// PingInterval defaults to 20s.
	PingInterval time.Duration
	// HandshakeTimeout defaults to 10s.
	HandshakeTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Dial connects to a ws:// or wss:// URL and starts the read and ping loops.
func (d *Dialer) Dial(ctx context.Context, rawURL string, handler domain.ChannelHandler) (domain.Signaler, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse signal url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("signal url %q: unsupported scheme %q", rawURL, u.Scheme)
	}

	lf := d.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	log := lf.NewLogger("signal")

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}

	log.Infof("connecting to %s", u.String())
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	ping := d.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}

	c := &Client{
		conn:         conn,
		handler:      handler,
		room:         d.Room,
		clientID:     d.ClientID,
		pingInterval: ping,
		log:          log,
		closed:       make(chan struct{}),
	}

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Client is an open signaling channel over a WebSocket connection.
type Client struct {
	conn         *websocket.Conn
	handler      domain.ChannelHandler
	room         string
	clientID     string
	pingInterval time.Duration
	log          logging.LeveledLogger

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Send encodes and writes one message.
func (c *Client) Send(msg domain.Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if msg.Kind == domain.MessageJoin {
		if msg.Room == "" {
			msg.Room = c.room
		}
		if msg.ClientID == "" {
			msg.ClientID = c.clientID
		}
	}

	data, err := encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Tracef(">>> %s", string(data))
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Kind, err)
	}
	return nil
}

// Close shuts down the WebSocket connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.mu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.log.Warnf("read error: %v", err)
			c.Close()
			c.handler.OnClosed(err)
			return
		}

		c.log.Tracef("<<< %s", string(data))

		msg, err := decode(data)
		if err != nil {
			c.log.Warnf("discarding frame: %v", err)
			c.handler.OnMalformed(err)
			continue
		}

		c.log.Debugf("received %s", msg.Kind)
		c.handler.OnMessage(msg)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeWait),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warnf("ping error: %v", err)
				}
				return
			}
		}
	}
}
