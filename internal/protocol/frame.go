package protocol

import (
	"encoding/binary"
	"hash/adler32"
	"io"

	"castd/internal/errors"
)

const (
	// HeaderSize is the u16 length prefix of every frame.
	HeaderSize = 2
	// ChecksumSize is the u32 adler32 that leads every frame body.
	ChecksumSize = 4
	// MaxPayload is the largest payload a u16 length can carry.
	MaxPayload = 0xFFFF - ChecksumSize
)

// ReadFrame reads one frame from r into buf and returns its payload
// after verifying the checksum.  The payload aliases buf.
func ReadFrame(r io.Reader, buf []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, buf[:HeaderSize]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(buf[:HeaderSize]))
	if n < ChecksumSize {
		return nil, errors.ErrOverrun
	}
	if n > len(buf) {
		return nil, errors.ErrFrameTooLarge
	}

	body := buf[:n]
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	payload := body[ChecksumSize:]
	if adler32.Checksum(payload) != binary.LittleEndian.Uint32(body) {
		return nil, errors.ErrChecksum
	}
	return payload, nil
}

// EncodeFrame prefixes payload with its length and checksum.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.ErrFrameTooLarge
	}
	out := make([]byte, HeaderSize+ChecksumSize, HeaderSize+ChecksumSize+len(payload))
	binary.LittleEndian.PutUint16(out, uint16(ChecksumSize+len(payload)))
	binary.LittleEndian.PutUint32(out[HeaderSize:], adler32.Checksum(payload))
	return append(out, payload...), nil
}
