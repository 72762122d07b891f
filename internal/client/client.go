// Package client speaks the game protocol from the client side: it
// answers the server's challenge, sends an RSA-encrypted login block and
// then exchanges XTEA-encrypted frames.  castd uses it for the --watch
// viewer and in integration tests.
package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"castd/internal/errors"
	"castd/internal/handshake"
	"castd/internal/protocol"
	"castd/util"
)

// Client is one game connection.  It is not safe for concurrent use.
type Client struct {
	// OS and Version are announced in the login message.
	OS      uint16
	Version uint16

	conn   net.Conn
	buf    []byte
	cipher *protocol.Cipher

	challenged bool
	timestamp  uint32
	random     uint8
}

// Dial connects to a game or cast port.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap("dial", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		OS:      protocol.OSOTClientLinux,
		Version: 1098,
		conn:    conn,
		buf:     make([]byte, util.FrameSize),
	}
}

// Challenge reads the server's challenge if it has not been read yet.
func (c *Client) Challenge(timeout time.Duration) (uint32, uint8, error) {
	if c.challenged {
		return c.timestamp, c.random, nil
	}
	msg, err := c.ReadPacket(timeout)
	if err != nil {
		return 0, 0, fmt.Errorf("reading challenge: %w", err)
	}
	if op := msg.ReadU8(); op != protocol.OpChallenge {
		return 0, 0, fmt.Errorf("expected challenge, got opcode %#x", op)
	}
	c.timestamp, c.random = msg.ReadU32(), msg.ReadU8()
	if err := msg.Err(); err != nil {
		return 0, 0, err
	}
	c.challenged = true
	return c.timestamp, c.random, nil
}

// Login answers the challenge with a fresh XTEA key and the given
// credentials.  On a spectator port name is the caster to watch and
// password the cast password.
func (c *Client) Login(pub *rsa.PublicKey, name, password string) error {
	ts, rnd, err := c.Challenge(5 * time.Second)
	if err != nil {
		return err
	}
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	l := handshake.Login{
		OS:        c.OS,
		Version:   c.Version,
		Name:      name,
		Password:  password,
		Timestamp: ts,
		Random:    rnd,
	}
	for i := range l.Key {
		l.Key[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return c.Handshake(pub, l)
}

// Handshake sends l exactly as given and installs its key.
func (c *Client) Handshake(pub *rsa.PublicKey, l handshake.Login) error {
	first, err := handshake.Build(l, pub)
	if err != nil {
		return err
	}
	if err := c.Send(first); err != nil {
		return err
	}
	cipher, err := protocol.NewCipher(l.Key)
	if err != nil {
		return err
	}
	c.cipher = cipher
	return nil
}

// ── Frames ───────────────────────────────────────────────────────────

// ReadPacket reads one frame.  The returned message owns its bytes.
func (c *Client) ReadPacket(timeout time.Duration) (*protocol.Message, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
	}
	payload, err := protocol.ReadFrame(c.conn, c.buf)
	if err != nil {
		return nil, err
	}
	if c.cipher != nil {
		if payload, err = c.cipher.Open(payload); err != nil {
			return nil, err
		}
	}
	return protocol.NewMessage(append([]byte(nil), payload...)), nil
}

// ReadUntil reads frames until one starts with op, discarding others.
func (c *Client) ReadUntil(op byte, timeout time.Duration) (*protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := c.ReadPacket(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if msg.Len() > 0 && msg.ReadU8() == op {
			return msg, nil
		}
	}
}

// Send writes one frame, encrypted once the key is installed.
func (c *Client) Send(payload []byte) error {
	if c.cipher != nil {
		sealed, err := c.cipher.Seal(payload)
		if err != nil {
			return err
		}
		payload = sealed
	}
	frame, err := protocol.EncodeFrame(payload)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	if _, err := c.conn.Write(frame); err != nil {
		return errors.Wrap("write", c.conn.RemoteAddr().String(), err)
	}
	return nil
}

// ── Commands ─────────────────────────────────────────────────────────

// Say speaks text.  On TalkChannelY it goes to channel.
func (c *Client) Say(typ uint8, channel uint16, text string) error {
	b := protocol.NewBuilder(protocol.OpSay).AddU8(typ)
	if typ == protocol.TalkChannelY {
		b.AddU16(channel)
	}
	return c.Send(b.AddString(text).Bytes())
}

// Ping asks the server for a ping back.
func (c *Client) Ping() error { return c.Send([]byte{protocol.OpPing}) }

// Logout asks the server to end the session.
func (c *Client) Logout() error { return c.Send([]byte{protocol.OpLogout}) }

// Walk steps one tile; dir is 0..3 for north, east, south, west.
func (c *Client) Walk(dir uint8) error {
	return c.Send([]byte{protocol.OpWalkNorth + dir&3})
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
