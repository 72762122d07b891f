package handshake

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"castd/internal/errors"
	"castd/internal/protocol"
)

// Challenge is the (timestamp, random) pair issued when a connection is
// accepted.  The client must echo it inside its encrypted login block;
// a stale or replayed block fails the comparison.
type Challenge struct {
	Timestamp uint32
	Random    uint8
	used      atomic.Bool
}

// NewChallenge issues a challenge stamped with now.
func NewChallenge(now time.Time) (*Challenge, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("challenge random: %w", err)
	}
	return &Challenge{Timestamp: uint32(now.Unix()), Random: b[0]}, nil
}

// Payload is the frame body announcing the challenge to the client.
func (c *Challenge) Payload() []byte {
	return protocol.NewBuilder(protocol.OpChallenge).
		AddU32(c.Timestamp).
		AddU8(c.Random).
		Bytes()
}

// Consume compares the client's echo.  A challenge can be consumed
// once; every later call fails regardless of the values.
func (c *Challenge) Consume(timestamp uint32, random uint8) error {
	if !c.used.CompareAndSwap(false, true) {
		return errors.ErrChallengeMismatch
	}
	if timestamp != c.Timestamp || random != c.Random {
		return errors.ErrChallengeMismatch
	}
	return nil
}
