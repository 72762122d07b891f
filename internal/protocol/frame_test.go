package protocol

import (
	"bytes"
	"io"
	"testing"

	"castd/internal/errors"
)

func TestFrame_RoundTrip(t *testing.T) {
	payload := []byte("spectate")
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != HeaderSize+ChecksumSize+len(payload) {
		t.Fatalf("frame length = %d", len(frame))
	}

	got, err := ReadFrame(bytes.NewReader(frame), make([]byte, 128))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q", got)
	}
}

func TestFrame_Errors(t *testing.T) {
	good, _ := EncodeFrame([]byte("abc"))

	tampered := append([]byte(nil), good...)
	tampered[len(tampered)-1] ^= 0xFF

	tests := []struct {
		name  string
		input []byte
		buf   int
		want  error
	}{
		{"checksum", tampered, 64, errors.ErrChecksum},
		{"too small", []byte{0x02, 0x00, 0x00, 0x00}, 64, errors.ErrOverrun},
		{"too large", good, 4, errors.ErrFrameTooLarge},
		{"truncated", good[:len(good)-1], 64, io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.input), make([]byte, tt.buf))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	if _, err := EncodeFrame(make([]byte, MaxPayload+1)); !errors.Is(err, errors.ErrFrameTooLarge) {
		t.Errorf("err = %v", err)
	}
}

func TestFrame_Stream(t *testing.T) {
	var stream bytes.Buffer
	for _, p := range []string{"one", "two", "three"} {
		f, _ := EncodeFrame([]byte(p))
		stream.Write(f)
	}
	buf := make([]byte, 64)
	for _, want := range []string{"one", "two", "three"} {
		got, err := ReadFrame(&stream, buf)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := ReadFrame(&stream, buf); err != io.EOF {
		t.Errorf("end of stream err = %v, want io.EOF", err)
	}
}
