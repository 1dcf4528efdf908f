package codec

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

var testSecret = bytes.Repeat([]byte{0x42}, MinSecretSize)

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := New(testSecret, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New([]byte("too-short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 bytes")
}

func TestKeysAreRedacted(t *testing.T) {
	c := newTestCodec(t)
	assert.Equal(t, "codec.keys{redacted}", c.keys.String())
	assert.NotEqual(t, c.keys.mac, c.keys.seal, "mac and seal keys must be independent")
}

func TestCreate_SignsAndHashes(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 891, time.UTC)
	c := newTestCodec(t, WithClock(func() time.Time { return now }))

	tx, err := c.Create("alice", "bob", 40, "lunch", ledger.KindTransfer)
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID)
	assert.Len(t, tx.Nonce, nonceSize*2)
	assert.True(t, tx.CreatedAt.Equal(now))
	assert.Equal(t, ContentHash(tx), tx.ContentHash)
	assert.True(t, c.VerifySignature(tx))
	assert.True(t, VerifyContentHash(tx))
}

func TestCreate_FreshIDAndNonce(t *testing.T) {
	c := newTestCodec(t)
	ids := make(map[string]struct{})
	nonces := make(map[string]struct{})
	sigs := make(map[string]struct{})

	for i := 0; i < 200; i++ {
		tx, err := c.Create("alice", "bob", 10, "same", ledger.KindTransfer)
		require.NoError(t, err)
		ids[tx.ID] = struct{}{}
		nonces[tx.Nonce] = struct{}{}
		sigs[tx.Signature] = struct{}{}
	}

	assert.Len(t, ids, 200)
	assert.Len(t, nonces, 200)
	assert.Len(t, sigs, 200, "structurally identical transactions must not share a signature")
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name   string
		from   string
		to     string
		amount int64
		reason string
		kind   ledger.Kind
		bound  ledger.Bound
	}{
		{name: "negative amount", from: "a", to: "b", amount: -5, kind: ledger.KindTransfer, bound: ledger.BoundMin},
		{name: "zero amount", from: "a", to: "b", amount: 0, kind: ledger.KindTransfer, bound: ledger.BoundMin},
		{name: "unknown kind", from: "a", to: "b", amount: 1, kind: "gift", bound: ledger.BoundKind},
		{name: "missing account", from: "", to: "b", amount: 1, kind: ledger.KindTransfer, bound: ledger.BoundAccount},
		{name: "self transfer", from: "a", to: "a", amount: 1, kind: ledger.KindTransfer, bound: ledger.BoundAccount},
		{name: "long reason", from: "a", to: "b", amount: 1, reason: strings.Repeat("x", ledger.MaxReasonLength+1), kind: ledger.KindTransfer, bound: ledger.BoundReason},
		{name: "invalid utf8", from: "a", to: "b", amount: 1, reason: string([]byte{0xff, 0xfe}), kind: ledger.KindTransfer, bound: ledger.BoundReason},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(tt.from, tt.to, tt.amount, tt.reason, tt.kind)
			require.ErrorIs(t, err, ledger.ErrRuleViolation)
			var violation *ledger.RuleViolation
			require.ErrorAs(t, err, &violation)
			assert.Equal(t, tt.bound, violation.Bound)
		})
	}
}

func TestCanonical_SortedKeys(t *testing.T) {
	c := newTestCodec(t)
	tx, err := c.Create("alice", "bob", 7, "r", ledger.KindSpend)
	require.NoError(t, err)

	payload, err := canonical(tx, false)
	require.NoError(t, err)

	var keys []string
	dec := json.NewDecoder(bytes.NewReader(payload))
	_, err = dec.Token()
	require.NoError(t, err)
	for dec.More() {
		tok, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, tok.(string))
		_, err = dec.Token()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"amount", "content_hash", "created_at", "from", "id", "kind", "nonce", "reason", "to"}, keys)
}

func TestVerifySignature_DetectsEveryFieldChange(t *testing.T) {
	c := newTestCodec(t)
	tx, err := c.Create("alice", "bob", 40, "lunch", ledger.KindTransfer)
	require.NoError(t, err)

	mutations := map[string]func(*ledger.Transaction){
		"id":           func(t *ledger.Transaction) { t.ID = "00000000-0000-4000-8000-000000000000" },
		"from":         func(t *ledger.Transaction) { t.From = "mallory" },
		"to":           func(t *ledger.Transaction) { t.To = "mallory" },
		"amount":       func(t *ledger.Transaction) { t.Amount++ },
		"reason":       func(t *ledger.Transaction) { t.Reason = "dinner" },
		"kind":         func(t *ledger.Transaction) { t.Kind = ledger.KindSpend },
		"created_at":   func(t *ledger.Transaction) { t.CreatedAt = t.CreatedAt.Add(time.Nanosecond) },
		"nonce":        func(t *ledger.Transaction) { t.Nonce = strings.Repeat("0", nonceSize*2) },
		"content_hash": func(t *ledger.Transaction) { t.ContentHash = strings.Repeat("0", 64) },
		"signature":    func(t *ledger.Transaction) { t.Signature = strings.Repeat("a", 64) },
		"signature_nonhex": func(t *ledger.Transaction) {
			t.Signature = "zz"
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tampered := tx
			mutate(&tampered)
			assert.False(t, c.VerifySignature(tampered))
		})
	}
}

func TestVerifySignature_OtherSecretRejects(t *testing.T) {
	a := newTestCodec(t)
	b, err := New(bytes.Repeat([]byte{0x43}, MinSecretSize))
	require.NoError(t, err)

	tx, err := a.Create("alice", "bob", 1, "", ledger.KindTransfer)
	require.NoError(t, err)
	assert.False(t, b.VerifySignature(tx))
}

func TestSealOpen_RoundTrip(t *testing.T) {
	c := newTestCodec(t)
	tx, err := c.Create("alice", "bob", 40, "shared secret reason", ledger.KindTransfer)
	require.NoError(t, err)

	blob, err := c.Seal(tx)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "alice")
	assert.NotContains(t, string(blob), "shared secret reason")

	opened, err := c.Open(blob)
	require.NoError(t, err)

	assert.Equal(t, tx.ID, opened.ID)
	assert.Equal(t, tx.From, opened.From)
	assert.Equal(t, tx.To, opened.To)
	assert.Equal(t, tx.Amount, opened.Amount)
	assert.Equal(t, tx.Reason, opened.Reason)
	assert.Equal(t, tx.Kind, opened.Kind)
	assert.True(t, tx.CreatedAt.Equal(opened.CreatedAt))
	assert.Equal(t, tx.Nonce, opened.Nonce)
	assert.Equal(t, tx.Signature, opened.Signature)
	assert.Equal(t, tx.ContentHash, opened.ContentHash)
	assert.True(t, c.VerifySignature(opened))
}

func TestSeal_RandomizedPerCall(t *testing.T) {
	c := newTestCodec(t)
	tx, err := c.Create("alice", "bob", 1, "", ledger.KindTransfer)
	require.NoError(t, err)

	first, err := c.Seal(tx)
	require.NoError(t, err)
	second, err := c.Seal(tx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestOpen_EveryBitFlipFails(t *testing.T) {
	c := newTestCodec(t)
	tx, err := c.Create("alice", "bob", 40, "lunch", ledger.KindTransfer)
	require.NoError(t, err)
	blob, err := c.Seal(tx)
	require.NoError(t, err)

	for i := range blob {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), blob...)
			tampered[i] ^= 1 << bit

			opened, err := c.Open(tampered)
			require.ErrorIs(t, err, ledger.ErrDecode, "byte %d bit %d", i, bit)
			require.Equal(t, ledger.Transaction{}, opened)
		}
	}
}

func TestOpen_AdversarialInput(t *testing.T) {
	c := newTestCodec(t)

	inputs := [][]byte{
		nil,
		{},
		{SealVersion},
		{0x02},
		bytes.Repeat([]byte{SealVersion}, 41),
		bytes.Repeat([]byte{0xff}, 4096),
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		buf := make([]byte, rng.Intn(512))
		rng.Read(buf)
		if len(buf) > 0 && rng.Intn(2) == 0 {
			buf[0] = SealVersion
		}
		inputs = append(inputs, buf)
	}

	for _, in := range inputs {
		require.NotPanics(t, func() {
			tx, err := c.Open(in)
			require.ErrorIs(t, err, ledger.ErrDecode)
			require.True(t, IsDecodeError(err))
			require.Equal(t, ledger.Transaction{}, tx)
		})
	}
}

func TestOpen_RejectsWrongKey(t *testing.T) {
	a := newTestCodec(t)
	b, err := New(bytes.Repeat([]byte{0x01}, MinSecretSize))
	require.NoError(t, err)

	tx, err := a.Create("alice", "bob", 1, "", ledger.KindTransfer)
	require.NoError(t, err)
	blob, err := a.Seal(tx)
	require.NoError(t, err)

	_, err = b.Open(blob)
	require.ErrorIs(t, err, ledger.ErrDecode)
}

func FuzzOpen(f *testing.F) {
	c, err := New(testSecret)
	if err != nil {
		f.Fatal(err)
	}
	tx, err := c.Create("alice", "bob", 1, "seed", ledger.KindTransfer)
	if err != nil {
		f.Fatal(err)
	}
	blob, err := c.Seal(tx)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(blob)
	f.Add([]byte{})
	f.Add([]byte{SealVersion, 0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		opened, err := c.Open(data)
		if err != nil {
			if !IsDecodeError(err) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		if !c.VerifySignature(opened) && bytes.Equal(data, blob) {
			t.Fatal("original blob must verify")
		}
	})
}
