package fraud

import (
	"sync"
	"time"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

// DefaultHistoryWindow bounds how far back per-account activity is kept.
const DefaultHistoryWindow = 24 * time.Hour

// Entry is one outgoing transaction in an account's recent history.
type Entry struct {
	Amount int64
	At     time.Time
}

// Snapshot is the read-only view of an account handed to rules.
type Snapshot struct {
	Account string
	Now     time.Time
	// Recent holds outgoing entries inside the history window, oldest first.
	Recent []Entry
	// FirstSeen is zero when Known is false.
	FirstSeen time.Time
	Known     bool
}

// AgeSource reports when an account was first seen. The identity layer can supply
// real creation times; History serves first-activity times by default.
type AgeSource interface {
	FirstSeen(account string) (time.Time, bool)
}

// History is a per-account rolling window of outgoing amounts. Eviction is purely
// time-based: entries older than the window are dropped on access and by Prune.
// First-seen times are never evicted, since forgetting them would make old
// accounts look new again; they grow with the number of accounts ever seen.
// Deployments with an identity layer should pass a real AgeSource instead.
type History struct {
	mu        sync.Mutex
	window    time.Duration
	entries   map[string][]Entry
	firstSeen map[string]time.Time
	now       func() time.Time
}

// NewHistory creates a history with the given window.
func NewHistory(window time.Duration, now func() time.Time) *History {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if now == nil {
		now = time.Now
	}
	return &History{
		window:    window,
		entries:   make(map[string][]Entry),
		firstSeen: make(map[string]time.Time),
		now:       now,
	}
}

// Window returns the retention window.
func (h *History) Window() time.Duration { return h.window }

// Record adds an applied transaction: an outgoing entry for the sender and a
// first-seen mark for both parties. The system account is never tracked.
func (h *History) Record(tx ledger.Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for _, account := range []string{tx.From, tx.To} {
		if account == ledger.SystemAccount {
			continue
		}
		if _, ok := h.firstSeen[account]; !ok {
			h.firstSeen[account] = now
		}
	}
	if tx.From == ledger.SystemAccount {
		return
	}

	recent := h.evictLocked(tx.From, now)
	h.entries[tx.From] = append(recent, Entry{Amount: tx.Amount, At: now})
}

// Touch marks account as seen without adding activity.
func (h *History) Touch(account string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.firstSeen[account]; !ok {
		h.firstSeen[account] = h.now()
	}
}

// FirstSeen implements AgeSource.
func (h *History) FirstSeen(account string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.firstSeen[account]
	return t, ok
}

// Snapshot returns the current window for account.
func (h *History) Snapshot(account string) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	recent := h.evictLocked(account, now)
	snap := Snapshot{
		Account: account,
		Now:     now,
		Recent:  append([]Entry(nil), recent...),
	}
	snap.FirstSeen, snap.Known = h.firstSeen[account]
	return snap
}

// Prune evicts expired entries for every account and returns how many were dropped.
func (h *History) Prune() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	dropped := 0
	for account, entries := range h.entries {
		kept := h.evictLocked(account, now)
		dropped += len(entries) - len(kept)
	}
	return dropped
}

// Len returns the number of accounts with activity inside the window.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Accounts returns the number of accounts with a first-seen time.
func (h *History) Accounts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.firstSeen)
}

func (h *History) evictLocked(account string, now time.Time) []Entry {
	entries := h.entries[account]
	cutoff := now.Add(-h.window)
	i := 0
	for i < len(entries) && !entries[i].At.After(cutoff) {
		i++
	}
	if i == len(entries) {
		delete(h.entries, account)
		return nil
	}
	if i > 0 {
		entries = append([]Entry(nil), entries[i:]...)
		h.entries[account] = entries
	}
	return entries
}
