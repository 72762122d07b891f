package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"castd/internal/errors"
)

// BlockSize is the length of the RSA login block.
const BlockSize = 128

// Decrypter turns the client's login block back into plaintext in
// place.  Implementations must fail when the result is not a well-formed
// block.
type Decrypter interface {
	Decrypt(block []byte) error
}

// RSAKey decrypts login blocks with raw (unpadded) RSA, which is what
// game clients send: a 128-byte block whose plaintext starts with 0x00.
type RSAKey struct {
	key *rsa.PrivateKey
}

// NewRSAKey wraps a 1024-bit private key.
func NewRSAKey(key *rsa.PrivateKey) (*RSAKey, error) {
	if key == nil {
		return nil, fmt.Errorf("rsa: nil key")
	}
	if bits := key.N.BitLen(); bits != BlockSize*8 {
		return nil, fmt.Errorf("rsa: key is %d bits, want %d", bits, BlockSize*8)
	}
	return &RSAKey{key: key}, nil
}

// GenerateKey creates an ephemeral key for servers started without one.
func GenerateKey() (*RSAKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, BlockSize*8)
	if err != nil {
		return nil, fmt.Errorf("rsa: generate: %w", err)
	}
	return NewRSAKey(key)
}

// LoadRSAKey reads a PEM private key (PKCS#1, PKCS#8 or OpenSSH
// format).  When the key is passphrase protected and stdin is a
// terminal, the passphrase is prompted for.
func LoadRSAKey(path string) (*RSAKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}

	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		if _, ok := err.(*ssh.PassphraseMissingError); !ok {
			return nil, fmt.Errorf("parsing key %s: %w", path, err)
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("key %s is encrypted and stdin is not a terminal", path)
		}
		fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", path)
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, pass)
		if err != nil {
			return nil, fmt.Errorf("decrypting key %s: %w", path, err)
		}
	}

	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key %s is %T, want an RSA key", path, raw)
	}
	return NewRSAKey(key)
}

// Public returns the key clients encrypt their login block with.
func (k *RSAKey) Public() *rsa.PublicKey { return &k.key.PublicKey }

// Decrypt implements [Decrypter].
func (k *RSAKey) Decrypt(block []byte) error {
	if len(block) != BlockSize {
		return errors.ErrDecryptFailed
	}
	c := new(big.Int).SetBytes(block)
	if c.Cmp(k.key.N) >= 0 {
		return errors.ErrDecryptFailed
	}
	c.Exp(c, k.key.D, k.key.N)
	c.FillBytes(block)
	if block[0] != 0 {
		return errors.ErrDecryptFailed
	}
	return nil
}

// EncryptBlock is the client half of [RSAKey.Decrypt].
func EncryptBlock(pub *rsa.PublicKey, block []byte) error {
	if len(block) != BlockSize || pub.N.BitLen() != BlockSize*8 {
		return fmt.Errorf("rsa: block is %d bytes for a %d-bit key", len(block), pub.N.BitLen())
	}
	m := new(big.Int).SetBytes(block)
	if m.Cmp(pub.N) >= 0 {
		return fmt.Errorf("rsa: block exceeds modulus")
	}
	m.Exp(m, big.NewInt(int64(pub.E)), pub.N)
	m.FillBytes(block)
	return nil
}
