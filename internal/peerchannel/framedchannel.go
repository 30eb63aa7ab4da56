package peerchannel

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// frameVersion is the length-prefixed header format's version. Adapted
// from the IPC protocol's 8-byte header, with the gob body replaced by raw
// JSON bytes — peer messages are small, human-diffable session/game
// payloads, not internal snapshot structs.
const frameVersion uint16 = 1

// frameHeaderSize is 2 (version) + 1 (reserved) + 1 (reserved) + 4 (length).
const frameHeaderSize = 8

// FramedChannel is a Channel backed by a length-prefixed header over any
// net.Conn (a raw TCP peer connection, or a relay-brokered tunnel).
type FramedChannel struct {
	openFlag

	conn net.Conn

	writeMu sync.Mutex

	onMessage func(data []byte)
	onStatus  func(status Status)

	closeOnce sync.Once
}

// NewFramedChannel wraps an already-established connection and starts its
// read loop.
func NewFramedChannel(conn net.Conn) *FramedChannel {
	c := &FramedChannel{conn: conn}
	c.markOpen()
	go c.readLoop()
	return c
}

// Send writes one length-framed message.
func (c *FramedChannel) Send(data []byte) error {
	if !c.isOpen() {
		return errClosed
	}
	if len(data) > MaxPayloadSize {
		return errPayloadTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.conn, data)
}

// Close shuts the underlying connection down. Idempotent.
func (c *FramedChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.markClosed()
		err = c.conn.Close()
		c.reportStatus(StatusClosed)
	})
	return err
}

// IsOpen reports whether Send can still succeed.
func (c *FramedChannel) IsOpen() bool { return c.isOpen() }

// OnMessage installs the inbound message callback.
func (c *FramedChannel) OnMessage(cb func(data []byte)) { c.onMessage = cb }

// OnStatus installs the status-change callback.
func (c *FramedChannel) OnStatus(cb func(status Status)) { c.onStatus = cb }

func (c *FramedChannel) reportStatus(s Status) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

func (c *FramedChannel) readLoop() {
	defer func() {
		if c.isOpen() {
			c.markClosed()
			c.reportStatus(StatusClosed)
		}
	}()

	for {
		data, err := readFrame(c.conn)
		if err != nil {
			c.reportStatus(StatusError)
			return
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

// writeFrame writes a version+length-prefixed message to w.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > MaxPayloadSize {
		return errPayloadTooLarge
	}

	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint16(header[0:2], frameVersion)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return errors.Wrap(err, "write frame body")
		}
	}
	return nil
}

// readFrame reads one version+length-prefixed message from r.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "read frame header")
	}

	version := binary.LittleEndian.Uint16(header[0:2])
	if version != frameVersion {
		return nil, errVersionMismatch
	}
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > MaxPayloadSize {
		return nil, errPayloadTooLarge
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errors.Wrap(err, "read frame body")
		}
	}
	return body, nil
}
