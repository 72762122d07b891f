package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"castd/internal/errors"
	"castd/internal/protocol"
)

var (
	keyOnce sync.Once
	testKey *RSAKey
)

func serverKey(t *testing.T) *RSAKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		testKey = k
	})
	return testKey
}

func testConfig(t *testing.T) Config {
	return Config{MinVersion: 1097, MaxVersion: 1098, Decrypter: serverKey(t)}
}

func validLogin(ch *Challenge) Login {
	return Login{
		OS:        protocol.OSOTClientLinux,
		Version:   1098,
		Key:       [4]uint32{1, 2, 3, 4},
		Account:   "ignored",
		Name:      "Bob",
		Password:  "pw",
		Timestamp: ch.Timestamp,
		Random:    ch.Random,
	}
}

func build(t *testing.T, l Login) *protocol.Message {
	t.Helper()
	raw, err := Build(l, serverKey(t).Public())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return protocol.NewMessage(raw)
}

// ── Parse ────────────────────────────────────────────────────────────

func TestParse_Valid(t *testing.T) {
	ch, _ := NewChallenge(time.Unix(1_700_000_000, 0))
	res, err := Parse(build(t, validLogin(ch)), testConfig(t), ch)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Key != [4]uint32{1, 2, 3, 4} {
		t.Errorf("key = %v", res.Key)
	}
	if res.Name != "Bob" || res.Password != "pw" || res.Account != "ignored" {
		t.Errorf("credentials = %q/%q/%q", res.Account, res.Name, res.Password)
	}
	if !res.NeedsAck() {
		t.Error("OTClient should need the ack")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		l    Login
	}{
		{"windows client", Login{
			OS: protocol.OSClientWindows, Version: 1097,
			Key:     [4]uint32{0xDEADBEEF, 0, 0xFFFFFFFF, 42},
			Account: "acc", Name: "Alice", Password: "hunter2",
		}},
		{"empty password", Login{
			OS: protocol.OSOTClientWindows, Version: 1098,
			Key:  [4]uint32{9, 8, 7, 6},
			Name: "Spectator",
		}},
		{"long name", Login{
			OS: protocol.OSOTClientLinux, Version: 1098,
			Key:  [4]uint32{1, 1, 1, 1},
			Name: "Sir Bartholomew the Unreasonably Verbose", Password: "p@ss word",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &Challenge{Timestamp: 0x0A0B0C0D, Random: 0xEE}
			l := tt.l
			l.Timestamp, l.Random = ch.Timestamp, ch.Random

			msg := build(t, l)
			res, err := Parse(msg, testConfig(t), ch)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if res.OS != l.OS || res.Version != l.Version {
				t.Errorf("os/version = %d/%d", res.OS, res.Version)
			}
			if res.Key != l.Key {
				t.Errorf("key = %v, want %v", res.Key, l.Key)
			}
			if res.Account != l.Account || res.Name != l.Name || res.Password != l.Password {
				t.Errorf("credentials = %q/%q/%q", res.Account, res.Name, res.Password)
			}
			if msg.Remaining() != 0 {
				t.Errorf("%d bytes left after the block", msg.Remaining())
			}
		})
	}
}

func TestParse_VersionRejected(t *testing.T) {
	for _, v := range []uint16{1096, 1099, 0} {
		ch, _ := NewChallenge(time.Now())
		l := validLogin(ch)
		l.Version = v
		_, err := Parse(build(t, l), testConfig(t), ch)
		if !errors.Is(err, errors.ErrVersionRejected) {
			t.Fatalf("version %d: err = %v", v, err)
		}
		if got := errors.Reason(err); got != "Only clients with protocol 10.98 allowed!" {
			t.Errorf("version %d: reason = %q", v, got)
		}
	}
}

func TestParse_ChallengeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *Login)
	}{
		{"timestamp", func(l *Login) { l.Timestamp++ }},
		{"random", func(l *Login) { l.Random ^= 0xFF }},
		{"both", func(l *Login) { l.Timestamp, l.Random = 0, 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &Challenge{Timestamp: 1234, Random: 7}
			l := validLogin(ch)
			tt.mutate(&l)
			_, err := Parse(build(t, l), testConfig(t), ch)
			if !errors.Is(err, errors.ErrChallengeMismatch) {
				t.Errorf("err = %v", err)
			}
			if errors.Is(err, errors.ErrOverrun) {
				t.Error("block should be read in full before the challenge check")
			}
			if errors.Reason(err) != "" {
				t.Error("challenge mismatch should close without a reason")
			}

			// A fresh challenge with the same values accepts the same
			// block body once the echo matches.
			fresh := &Challenge{Timestamp: ch.Timestamp, Random: ch.Random}
			good := validLogin(fresh)
			good.Key = l.Key
			res, err := Parse(build(t, good), testConfig(t), fresh)
			if err != nil {
				t.Fatalf("matching echo: %v", err)
			}
			if res.Key != l.Key {
				t.Errorf("key = %v, want %v", res.Key, l.Key)
			}
		})
	}
}

func TestParse_ChallengeSingleUse(t *testing.T) {
	ch, _ := NewChallenge(time.Now())
	l := validLogin(ch)
	if _, err := Parse(build(t, l), testConfig(t), ch); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := Parse(build(t, l), testConfig(t), ch); !errors.Is(err, errors.ErrChallengeMismatch) {
		t.Errorf("replay: err = %v", err)
	}
}

func TestParse_DecryptFailure(t *testing.T) {
	ch, _ := NewChallenge(time.Now())
	raw, _ := Build(validLogin(ch), serverKey(t).Public())
	for i := 9; i < len(raw); i++ {
		raw[i] = 0xFF // above any 1024-bit modulus
	}
	_, err := Parse(protocol.NewMessage(raw), testConfig(t), ch)
	if !errors.Is(err, errors.ErrDecryptFailed) {
		t.Errorf("err = %v", err)
	}
}

func TestParse_Truncated(t *testing.T) {
	ch, _ := NewChallenge(time.Now())
	raw, _ := Build(validLogin(ch), serverKey(t).Public())
	for _, n := range []int{0, 3, 9, 9 + BlockSize - 1} {
		_, err := Parse(protocol.NewMessage(raw[:n]), testConfig(t), ch)
		if !errors.Is(err, errors.ErrOverrun) {
			t.Errorf("len %d: err = %v", n, err)
		}
	}
}

func TestResult_NeedsAck(t *testing.T) {
	tests := []struct {
		os   uint16
		want bool
	}{
		{protocol.OSClientLinux, false},
		{protocol.OSClientWindows, false},
		{protocol.OSOTClientLinux, true},
		{protocol.OSOTClientWindows, true},
	}
	for _, tt := range tests {
		r := &Result{OS: tt.os}
		if got := r.NeedsAck(); got != tt.want {
			t.Errorf("OS %d: NeedsAck = %v, want %v", tt.os, got, tt.want)
		}
	}
}

func TestBuild_BlockTooLong(t *testing.T) {
	l := Login{Name: string(make([]byte, 120))}
	if _, err := Build(l, serverKey(t).Public()); err == nil {
		t.Error("expected oversize block error")
	}
}

// ── Challenge ────────────────────────────────────────────────────────

func TestChallenge_Payload(t *testing.T) {
	ch := &Challenge{Timestamp: 0x01020304, Random: 0x2A}
	want := []byte{protocol.OpChallenge, 0x04, 0x03, 0x02, 0x01, 0x2A}
	if got := ch.Payload(); string(got) != string(want) {
		t.Errorf("payload = % x", got)
	}
}

// ── RSA ──────────────────────────────────────────────────────────────

func TestRSA_RoundTrip(t *testing.T) {
	k := serverKey(t)
	block := make([]byte, BlockSize)
	copy(block[1:], "login block")
	orig := append([]byte(nil), block...)

	if err := EncryptBlock(k.Public(), block); err != nil {
		t.Fatal(err)
	}
	if string(block) == string(orig) {
		t.Fatal("block unchanged by encryption")
	}
	if err := k.Decrypt(block); err != nil {
		t.Fatal(err)
	}
	if string(block) != string(orig) {
		t.Error("round trip mismatch")
	}
}

func TestRSA_WrongSize(t *testing.T) {
	if err := serverKey(t).Decrypt(make([]byte, 64)); !errors.Is(err, errors.ErrDecryptFailed) {
		t.Errorf("err = %v", err)
	}
}

func TestNewRSAKey_RejectsOtherSizes(t *testing.T) {
	wide, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRSAKey(wide); err == nil {
		t.Error("2048-bit key should be rejected")
	}
	if _, err := NewRSAKey(nil); err == nil {
		t.Error("nil key should be rejected")
	}
}

func TestLoadRSAKey(t *testing.T) {
	k := serverKey(t)
	path := filepath.Join(t.TempDir(), "server.pem")
	data := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k.key),
	})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadRSAKey(path)
	if err != nil {
		t.Fatalf("LoadRSAKey: %v", err)
	}
	if loaded.Public().N.Cmp(k.Public().N) != 0 {
		t.Error("loaded key differs")
	}

	if _, err := LoadRSAKey(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("missing file should fail")
	}
}
