package codec

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// MinSecretSize is the minimum length of the ledger master secret.
	MinSecretSize = 32

	macKeySize = 32

	macKeyInfo  = "ledger-mac-v1"
	sealKeyInfo = "ledger-seal-v1"
)

var hkdfSalt = []byte("points-ledger")

// keys holds the material derived from the master secret. It is read-only after
// construction and must never be logged or serialized.
type keys struct {
	mac  []byte
	seal []byte
}

// String keeps key material out of accidental %v formatting.
func (keys) String() string { return "codec.keys{redacted}" }

func (k keys) GoString() string { return k.String() }

func deriveKeys(secret []byte) (keys, error) {
	if len(secret) < MinSecretSize {
		return keys{}, fmt.Errorf("ledger secret must be at least %d bytes, got %d", MinSecretSize, len(secret))
	}

	mac, err := deriveKey(secret, macKeyInfo, macKeySize)
	if err != nil {
		return keys{}, err
	}
	seal, err := deriveKey(secret, sealKeyInfo, chacha20poly1305.KeySize)
	if err != nil {
		return keys{}, err
	}
	return keys{mac: mac, seal: seal}, nil
}

func deriveKey(secret []byte, info string, size int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, hkdfSalt, []byte(info))
	key := make([]byte, size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	return key, nil
}
