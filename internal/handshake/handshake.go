// Package handshake parses and builds the first message of a game
// connection: client version gate, RSA login block carrying the XTEA
// key and credentials, and the echoed anti-replay challenge.
package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"castd/internal/errors"
	"castd/internal/protocol"
)

// Config bounds which clients may connect and how their login block is
// decrypted.
type Config struct {
	MinVersion uint16
	MaxVersion uint16
	Decrypter  Decrypter
}

// VersionString renders MaxVersion the way clients display it (1098 is
// "10.98").
func (c Config) VersionString() string {
	return fmt.Sprintf("%d.%02d", c.MaxVersion/100, c.MaxVersion%100)
}

// Result is a fully validated first message.
type Result struct {
	OS       uint16
	Version  uint16
	Key      [4]uint32
	Account  string
	Name     string
	Password string
}

// NeedsAck reports whether the client expects the extended opcode ack
// after the key is installed.
func (r *Result) NeedsAck() bool { return r.OS >= protocol.OSOTClientLinux }

// Parse validates the first message of a connection against the
// challenge issued at accept.  Every error ends the session; a version
// rejection carries a user-facing reason, the rest close silently.
func Parse(msg *protocol.Message, cfg Config, ch *Challenge) (*Result, error) {
	r := &Result{
		OS:      msg.ReadU16(),
		Version: msg.ReadU16(),
	}
	if err := msg.Err(); err != nil {
		return nil, errors.Protocol("handshake", "", err)
	}
	if r.Version < cfg.MinVersion || r.Version > cfg.MaxVersion {
		reason := fmt.Sprintf("Only clients with protocol %s allowed!", cfg.VersionString())
		return nil, errors.Protocol("handshake", reason, errors.ErrVersionRejected)
	}

	msg.Skip(5) // u32 client version, u8 client type
	block := msg.Next(BlockSize)
	if err := msg.Err(); err != nil {
		return nil, errors.Protocol("handshake", "", err)
	}
	if err := cfg.Decrypter.Decrypt(block); err != nil {
		return nil, errors.Protocol("handshake", "", errors.ErrDecryptFailed)
	}

	// The decrypter checked the leading zero byte.
	inner := protocol.NewMessage(block)
	inner.Skip(1)
	for i := range r.Key {
		r.Key[i] = inner.ReadU32()
	}
	inner.Skip(1) // gamemaster flag
	r.Account = inner.ReadString()
	r.Name = inner.ReadString()
	r.Password = inner.ReadString()
	timestamp := inner.ReadU32()
	random := inner.ReadU8()
	if err := inner.Err(); err != nil {
		return nil, errors.Protocol("handshake", "", err)
	}

	if err := ch.Consume(timestamp, random); err != nil {
		return nil, errors.Protocol("handshake", "", err)
	}
	return r, nil
}

// ── Client side ──────────────────────────────────────────────────────

// Login is what a client puts in its first message.
type Login struct {
	OS       uint16
	Version  uint16
	Key      [4]uint32
	Account  string
	Name     string
	Password string

	// Challenge echo, normally copied from the server's challenge frame.
	Timestamp uint32
	Random    uint8
}

// Build assembles the first message, encrypting the login block with
// the server's public key.
func Build(l Login, pub *rsa.PublicKey) ([]byte, error) {
	inner := protocol.NewBuilder(0x00)
	for _, w := range l.Key {
		inner.AddU32(w)
	}
	inner.AddU8(0) // gamemaster flag
	inner.AddString(l.Account).
		AddString(l.Name).
		AddString(l.Password).
		AddU32(l.Timestamp).
		AddU8(l.Random)
	if inner.Len() > BlockSize {
		return nil, fmt.Errorf("login block is %d bytes, limit %d", inner.Len(), BlockSize)
	}

	block := make([]byte, BlockSize)
	copy(block, inner.Bytes())
	if _, err := rand.Read(block[inner.Len():]); err != nil {
		return nil, fmt.Errorf("padding login block: %w", err)
	}
	if err := EncryptBlock(pub, block); err != nil {
		return nil, err
	}

	out := &protocol.Builder{}
	out.AddU16(l.OS).
		AddU16(l.Version).
		AddU32(uint32(l.Version)).
		AddU8(0).
		AddBytes(block)
	return out.Bytes(), nil
}
