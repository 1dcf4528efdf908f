// Package codec builds, signs, seals and opens ledger transactions.
//
// A transaction is signed with HMAC-SHA256 over a sorted-key JSON encoding of every
// field except the signature, and carries a SHA-256 content hash that is checked
// independently. Sealing encrypts the full record with XChaCha20-Poly1305 so that
// account identifiers and reasons stay confidential in transit.
package codec

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

const (
	// SealVersion is the first byte of every sealed blob.
	SealVersion byte = 1

	nonceSize = 16
)

// Codec is safe for concurrent use.
type Codec struct {
	keys keys
	now  func() time.Time
	rand io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the timestamp source used by Create.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRandom overrides the randomness source used for nonces.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		if r != nil {
			c.rand = r
		}
	}
}

// New derives the signing and sealing keys from secret.
func New(secret []byte, opts ...Option) (*Codec, error) {
	k, err := deriveKeys(secret)
	if err != nil {
		return nil, err
	}
	c := &Codec{keys: k, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create builds and signs a new transaction. Amount policy is enforced by the
// rules validator before this is called; Create only rejects structurally invalid
// input.
func (c *Codec) Create(from, to string, amount int64, reason string, kind ledger.Kind) (ledger.Transaction, error) {
	if err := checkFields(from, to, amount, reason, kind); err != nil {
		return ledger.Transaction{}, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return ledger.Transaction{}, fmt.Errorf("generate nonce: %w", err)
	}

	tx := ledger.Transaction{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    amount,
		Reason:    reason,
		Kind:      kind,
		CreatedAt: time.Unix(0, c.now().UnixNano()).UTC(),
		Nonce:     hex.EncodeToString(nonce),
	}
	tx.ContentHash = ContentHash(tx)

	sig, err := c.Signature(tx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.Signature = sig
	return tx, nil
}

func checkFields(from, to string, amount int64, reason string, kind ledger.Kind) error {
	switch {
	case !kind.Valid():
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundKind}
	case amount <= 0:
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundMin, Limit: 1}
	case strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "":
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundAccount, Detail: "from and to are required"}
	case from == to:
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundAccount, Detail: "from and to must differ"}
	case len(reason) > ledger.MaxReasonLength:
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundReason,
			Detail: fmt.Sprintf("reason exceeds %d bytes", ledger.MaxReasonLength)}
	case !utf8.ValidString(reason):
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundReason, Detail: "reason must be valid UTF-8"}
	}
	return nil
}

// canonical returns the sorted-key JSON encoding of tx. The signature is only
// included for sealing.
func canonical(tx ledger.Transaction, withSignature bool) ([]byte, error) {
	fields := map[string]any{
		"id":           tx.ID,
		"from":         tx.From,
		"to":           tx.To,
		"amount":       tx.Amount,
		"reason":       tx.Reason,
		"kind":         string(tx.Kind),
		"created_at":   tx.CreatedAt.UnixNano(),
		"nonce":        tx.Nonce,
		"content_hash": tx.ContentHash,
	}
	if withSignature {
		fields["signature"] = tx.Signature
	}
	// encoding/json sorts map keys, which makes the encoding order-independent.
	return json.Marshal(fields)
}

// Signature computes the hex HMAC over the canonical encoding of tx.
func (c *Codec) Signature(tx ledger.Transaction) (string, error) {
	sum, err := c.mac(tx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func (c *Codec) mac(tx ledger.Transaction) ([]byte, error) {
	payload, err := canonical(tx, false)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding: %w", err)
	}
	h := hmac.New(sha256.New, c.keys.mac)
	h.Write(payload)
	return h.Sum(nil), nil
}

// VerifySignature recomputes the MAC and compares it in constant time.
func (c *Codec) VerifySignature(tx ledger.Transaction) bool {
	provided, err := hex.DecodeString(tx.Signature)
	if err != nil {
		return false
	}
	expected, err := c.mac(tx)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, expected)
}

// ContentHash computes SHA256(id || 0 || from || 0 || to || 0 || amount || created_at).
func ContentHash(tx ledger.Transaction) string {
	h := sha256.New()

	h.Write([]byte(tx.ID))
	h.Write([]byte{0})
	h.Write([]byte(tx.From))
	h.Write([]byte{0})
	h.Write([]byte(tx.To))
	h.Write([]byte{0})

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(tx.Amount))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(tx.CreatedAt.UnixNano()))
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}

// VerifyContentHash recomputes the content hash and compares it in constant time.
func VerifyContentHash(tx ledger.Transaction) bool {
	expected := ContentHash(tx)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(tx.ContentHash)) == 1
}

// Seal encrypts the full transaction, signature included.
// Layout: version || nonce || ciphertext. The version byte is authenticated.
func (c *Codec) Seal(tx ledger.Transaction) ([]byte, error) {
	plaintext, err := canonical(tx, true)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.keys.seal)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	header := []byte{SealVersion}
	out := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, header), nil
}

// wireTransaction is the decoded form of a sealed payload.
type wireTransaction struct {
	ID          string `json:"id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	Kind        string `json:"kind"`
	CreatedAt   int64  `json:"created_at"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
	ContentHash string `json:"content_hash"`
}

// Open decrypts and decodes a sealed blob. Any failure yields a *ledger.DecodeError
// and a zero Transaction.
func (c *Codec) Open(blob []byte) (ledger.Transaction, error) {
	aead, err := chacha20poly1305.NewX(c.keys.seal)
	if err != nil {
		return ledger.Transaction{}, &ledger.DecodeError{Reason: "create aead", Err: err}
	}

	minLen := 1 + aead.NonceSize() + aead.Overhead()
	if len(blob) < minLen {
		return ledger.Transaction{}, &ledger.DecodeError{Reason: fmt.Sprintf("blob too short: %d bytes", len(blob))}
	}
	if blob[0] != SealVersion {
		return ledger.Transaction{}, &ledger.DecodeError{Reason: fmt.Sprintf("unsupported seal version %d", blob[0])}
	}

	header := blob[:1]
	nonce := blob[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, blob[1+aead.NonceSize():], header)
	if err != nil {
		return ledger.Transaction{}, &ledger.DecodeError{Reason: "authentication failed", Err: err}
	}

	var wire wireTransaction
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return ledger.Transaction{}, &ledger.DecodeError{Reason: "malformed payload", Err: err}
	}
	if dec.More() {
		return ledger.Transaction{}, &ledger.DecodeError{Reason: "trailing data after payload"}
	}

	tx := ledger.Transaction{
		ID:          wire.ID,
		From:        wire.From,
		To:          wire.To,
		Amount:      wire.Amount,
		Reason:      wire.Reason,
		Kind:        ledger.Kind(wire.Kind),
		CreatedAt:   time.Unix(0, wire.CreatedAt).UTC(),
		Nonce:       wire.Nonce,
		Signature:   wire.Signature,
		ContentHash: wire.ContentHash,
	}
	if err := checkDecoded(tx, wire.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func checkDecoded(tx ledger.Transaction, createdAt int64) error {
	if _, err := uuid.Parse(tx.ID); err != nil {
		return &ledger.DecodeError{Reason: "invalid id", Err: err}
	}
	if createdAt <= 0 {
		return &ledger.DecodeError{Reason: "invalid created_at"}
	}
	if err := checkFields(tx.From, tx.To, tx.Amount, tx.Reason, tx.Kind); err != nil {
		// Not wrapped: a decoded payload must classify as a decode error only.
		return &ledger.DecodeError{Reason: "invalid fields: " + err.Error()}
	}
	if !isHex(tx.Nonce, nonceSize) {
		return &ledger.DecodeError{Reason: "invalid nonce"}
	}
	if !isHex(tx.Signature, sha256.Size) || !isHex(tx.ContentHash, sha256.Size) {
		return &ledger.DecodeError{Reason: "invalid digest encoding"}
	}
	return nil
}

func isHex(s string, size int) bool {
	if len(s) != size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// IsDecodeError reports whether err came from Open.
func IsDecodeError(err error) bool {
	var decodeErr *ledger.DecodeError
	return errors.As(err, &decodeErr)
}
