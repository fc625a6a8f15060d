package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("not connected to relay")

const (
	TokenCookie = "ct"

	writeWait        = 5 * time.Second
	handshakeTimeout = 5 * time.Second
)

// Handler receives the relay connection lifecycle and its frames. All calls
// come from the client's read goroutine.
type Handler interface {
	OnConnect(s core.JSONSender)
	OnMessage(typ string, data []byte)
	OnDisconnect(err error)
}

type Options struct {
	// Token identifies the client across reconnects. Generated if empty.
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client is a reconnecting relay connection. It is the agent's
// core.SignalTransport.
type Client struct {
	url  string
	h    Handler
	opts Options

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex
}

func New(url string, h Handler, opts Options) *Client {
	if opts.Token == "" {
		opts.Token = uuid.NewString()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(5*time.Second, opts.MinBackoff)
	}
	return &Client{url: url, h: h, opts: opts}
}

// SetHandler replaces the handler. Call it before Run.
func (c *Client) SetHandler(h Handler) { c.h = h }

func (c *Client) Token() string { return c.opts.Token }

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (c *Client) Run(ctx context.Context) {
	backoff := c.opts.MinBackoff
	for {
		connected, err := c.connectAndReadLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = c.opts.MinBackoff
		}
		log.Warn().Err(err).Str("module", "wsclient").Dur("backoff", backoff).Msg("relay connection lost")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

func (c *Client) connectAndReadLoop(ctx context.Context) (bool, error) {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: TokenCookie, Value: c.opts.Token}).String())
	conn, resp, err := d.DialContext(ctx, c.url, header)
	if err != nil {
		return false, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	log.Info().Str("module", "wsclient").Str("url", c.url).Msg("relay connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.h.OnConnect(c)
	err = c.readLoop(conn)
	c.disconnect(conn)
	c.h.OnDisconnect(err)
	return true, err
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("bad frame")
			continue
		}
		c.h.OnMessage(env.Type, data)
	}
}

func (c *Client) disconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// SendJSON writes one frame. ErrNotConnected while the relay is down.
func (c *Client) SendJSON(v any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// Send relays a signaling envelope to peer to.
func (c *Client) Send(to domain.PeerID, t domain.SignalType, payload json.RawMessage) error {
	return c.SendJSON(domain.SignalMsg{
		Type:       domain.MsgSignal,
		To:         to,
		SignalType: t,
		Payload:    payload,
	})
}
