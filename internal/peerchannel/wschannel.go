package peerchannel

import (
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// inboundRatePerSecond and inboundBurst bound how fast a single peer may
// push messages before WSChannel starts dropping them — protects the
// lockstep coordinator from a misbehaving or malicious peer flooding
// HandlePeerInput.
const (
	inboundRatePerSecond = 60
	inboundBurst         = 120
)

// WSChannel is a Channel backed by a gorilla/websocket connection.
type WSChannel struct {
	openFlag

	conn *websocket.Conn

	writeMu sync.Mutex

	limiter *rate.Limiter

	onMessage func(data []byte)
	onStatus  func(status Status)

	closeOnce sync.Once
}

// NewWSChannel wraps an already-upgraded websocket connection and starts
// its read loop.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn:    conn,
		limiter: rate.NewLimiter(inboundRatePerSecond, inboundBurst),
	}
	c.markOpen()
	go c.readLoop()
	return c
}

// Send writes one message frame. Safe for concurrent use — gorilla's
// *websocket.Conn requires a single writer at a time, which writeMu
// enforces.
func (c *WSChannel) Send(data []byte) error {
	if !c.isOpen() {
		return errClosed
	}
	if len(data) > MaxPayloadSize {
		return errPayloadTooLarge
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the underlying connection down. Idempotent.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.markClosed()
		err = c.conn.Close()
		c.reportStatus(StatusClosed)
	})
	return err
}

// IsOpen reports whether Send can still succeed.
func (c *WSChannel) IsOpen() bool { return c.isOpen() }

// OnMessage installs the inbound message callback.
func (c *WSChannel) OnMessage(cb func(data []byte)) { c.onMessage = cb }

// OnStatus installs the status-change callback.
func (c *WSChannel) OnStatus(cb func(status Status)) { c.onStatus = cb }

func (c *WSChannel) reportStatus(s Status) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

func (c *WSChannel) readLoop() {
	defer func() {
		if c.isOpen() {
			c.markClosed()
			c.reportStatus(StatusClosed)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.reportStatus(StatusError)
			return
		}
		if len(data) > MaxPayloadSize {
			continue // drop silently, diagnostic-worthy but not fatal
		}
		if !c.limiter.Allow() {
			continue // peer exceeding its inbound rate, drop silently
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}
