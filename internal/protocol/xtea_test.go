package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"castd/internal/errors"
)

var testKey = [4]uint32{0x01234567, 0x89ABCDEF, 0xFEDCBA98, 0x76543210}

// referenceEncrypt is textbook XTEA over two little-endian words.
func referenceEncrypt(key [4]uint32, block []byte) {
	v0 := binary.LittleEndian.Uint32(block)
	v1 := binary.LittleEndian.Uint32(block[4:])
	var sum uint32
	const delta = 0x9E3779B9
	for i := 0; i < 32; i++ {
		v0 += (((v1 << 4) ^ (v1 >> 5)) + v1) ^ (sum + key[sum&3])
		sum += delta
		v1 += (((v0 << 4) ^ (v0 >> 5)) + v0) ^ (sum + key[(sum>>11)&3])
	}
	binary.LittleEndian.PutUint32(block, v0)
	binary.LittleEndian.PutUint32(block[4:], v1)
}

func TestCipher_MatchesClientWordOrder(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}
	body := []byte{0x14, 0x03, 0x00, 'b', 'y', 'e'}

	sealed, err := c.Seal(body)
	if err != nil {
		t.Fatal(err)
	}

	want := make([]byte, 8)
	binary.LittleEndian.PutUint16(want, uint16(len(body)))
	copy(want[2:], body)
	referenceEncrypt(testKey, want)

	if !bytes.Equal(sealed, want) {
		t.Errorf("sealed = % x\nwant     % x", sealed, want)
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, _ := NewCipher(testKey)
	for _, size := range []int{0, 1, 6, 7, 8, 100, 1000} {
		body := bytes.Repeat([]byte{0xA5}, size)
		sealed, err := c.Seal(body)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if len(sealed)%8 != 0 {
			t.Errorf("size %d: sealed length %d not block aligned", size, len(sealed))
		}
		opened, err := c.Open(sealed)
		if err != nil {
			t.Fatalf("size %d: open: %v", size, err)
		}
		if !bytes.Equal(opened, body) {
			t.Errorf("size %d: round trip mismatch", size)
		}
	}
}

func TestCipher_OpenRejects(t *testing.T) {
	c, _ := NewCipher(testKey)

	if _, err := c.Open(make([]byte, 7)); !errors.Is(err, errors.ErrDecryptFailed) {
		t.Errorf("unaligned: err = %v", err)
	}
	if _, err := c.Open(nil); !errors.Is(err, errors.ErrDecryptFailed) {
		t.Errorf("empty: err = %v", err)
	}

	// A block whose inner length claims more than it holds.
	blk := make([]byte, 8)
	binary.LittleEndian.PutUint16(blk, 100)
	referenceEncrypt(testKey, blk)
	if _, err := c.Open(blk); !errors.Is(err, errors.ErrOverrun) {
		t.Errorf("bad inner length: err = %v", err)
	}
}

func TestCipher_WrongKey(t *testing.T) {
	a, _ := NewCipher(testKey)
	b, _ := NewCipher([4]uint32{1, 2, 3, 4})
	sealed, _ := a.Seal([]byte("secret spectator text"))
	opened, err := b.Open(sealed)
	if err == nil && bytes.Equal(opened, []byte("secret spectator text")) {
		t.Error("wrong key must not recover the body")
	}
}
