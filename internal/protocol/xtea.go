package protocol

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/xtea"

	"castd/internal/errors"
)

// Cipher encrypts frame payloads with the session's XTEA key.
//
// Game clients treat each 8-byte block as two little-endian words,
// while x/crypto/xtea reads big-endian words, so every word is byte
// swapped around the block operation.
type Cipher struct {
	block *xtea.Cipher
}

// NewCipher builds a cipher from the four key words sent by the client.
func NewCipher(key [4]uint32) (*Cipher, error) {
	var k [16]byte
	for i, w := range key {
		binary.BigEndian.PutUint32(k[i*4:], w)
	}
	block, err := xtea.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("xtea key: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Seal wraps body as u16 length + body + zero padding to a multiple of
// the block size, then encrypts it.
func (c *Cipher) Seal(body []byte) ([]byte, error) {
	padded := (2 + len(body) + xtea.BlockSize - 1) &^ (xtea.BlockSize - 1)
	if padded > MaxPayload {
		return nil, errors.ErrFrameTooLarge
	}
	out := make([]byte, padded)
	binary.LittleEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	c.crypt(out, true)
	return out, nil
}

// Open decrypts payload in place and returns the inner body.
func (c *Cipher) Open(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload)%xtea.BlockSize != 0 {
		return nil, errors.ErrDecryptFailed
	}
	c.crypt(payload, false)
	n := int(binary.LittleEndian.Uint16(payload))
	if n > len(payload)-2 {
		return nil, errors.ErrOverrun
	}
	return payload[2 : 2+n], nil
}

func (c *Cipher) crypt(b []byte, encrypt bool) {
	for i := 0; i < len(b); i += xtea.BlockSize {
		blk := b[i : i+xtea.BlockSize]
		swapWords(blk)
		if encrypt {
			c.block.Encrypt(blk, blk)
		} else {
			c.block.Decrypt(blk, blk)
		}
		swapWords(blk)
	}
}

func swapWords(b []byte) {
	for i := 0; i+4 <= len(b); i += 4 {
		b[i], b[i+1], b[i+2], b[i+3] = b[i+3], b[i+2], b[i+1], b[i]
	}
}
