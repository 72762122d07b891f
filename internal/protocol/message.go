// Package protocol implements the game wire format: little-endian
// message reading and building, checksummed length-prefixed frames and
// the XTEA frame cipher installed after the handshake.
package protocol

import (
	"encoding/binary"

	"castd/internal/errors"
)

// Position is a map coordinate as it appears on the wire.
type Position struct {
	X, Y uint16
	Z    uint8
}

// ── Reader ───────────────────────────────────────────────────────────

// Message reads fields from an inbound payload.  Reads past the end do
// not panic: they return zero values and mark the message overrun, so a
// parser can read a whole opcode and check [Message.Err] once.
type Message struct {
	buf     []byte
	pos     int
	overrun bool
}

// NewMessage wraps b without copying it.
func NewMessage(b []byte) *Message {
	return &Message{buf: b}
}

// Len is the total payload length.
func (m *Message) Len() int { return len(m.buf) }

// Remaining is the number of unread bytes.
func (m *Message) Remaining() int { return len(m.buf) - m.pos }

// Overrun reports whether any read went past the end.
func (m *Message) Overrun() bool { return m.overrun }

// Err returns [errors.ErrOverrun] once a read went past the end.
func (m *Message) Err() error {
	if m.overrun {
		return errors.ErrOverrun
	}
	return nil
}

func (m *Message) take(n int) []byte {
	if n < 0 || m.overrun || m.pos+n > len(m.buf) {
		m.overrun = true
		return nil
	}
	b := m.buf[m.pos : m.pos+n]
	m.pos += n
	return b
}

// Next returns the next n bytes and advances past them.  The slice
// aliases the payload; wrap it in its own Message to read fields out
// of it after transforming it in place.
func (m *Message) Next(n int) []byte { return m.take(n) }

// Skip discards n bytes.
func (m *Message) Skip(n int) { m.take(n) }

func (m *Message) ReadU8() uint8 {
	b := m.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (m *Message) ReadU16() uint16 {
	b := m.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (m *Message) ReadU32() uint32 {
	b := m.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadString reads a u16 length-prefixed string.
func (m *Message) ReadString() string {
	n := int(m.ReadU16())
	b := m.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (m *Message) ReadPosition() Position {
	return Position{X: m.ReadU16(), Y: m.ReadU16(), Z: m.ReadU8()}
}

// ── Builder ──────────────────────────────────────────────────────────

// Builder assembles an outbound payload.  The zero value is ready to
// use.
type Builder struct {
	buf []byte
}

// NewBuilder starts a payload with the given opcode.
func NewBuilder(op byte) *Builder {
	b := &Builder{buf: make([]byte, 0, 64)}
	b.buf = append(b.buf, op)
	return b
}

func (b *Builder) AddU8(v uint8) *Builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *Builder) AddU16(v uint16) *Builder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *Builder) AddU32(v uint32) *Builder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

// AddString appends a u16 length-prefixed string, truncated to fit.
func (b *Builder) AddString(s string) *Builder {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	b.AddU16(uint16(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *Builder) AddPosition(p Position) *Builder {
	return b.AddU16(p.X).AddU16(p.Y).AddU8(p.Z)
}

func (b *Builder) AddBytes(p []byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// Append copies another builder's payload onto this one.
func (b *Builder) Append(o *Builder) *Builder {
	return b.AddBytes(o.buf)
}

func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the payload.  The slice is owned by the builder.
func (b *Builder) Bytes() []byte { return b.buf }
