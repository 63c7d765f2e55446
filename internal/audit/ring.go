// Package audit implements the Registration Ring: a bounded,
// hash-chained record of subscription and connection lifecycle events,
// grounded on the ambient daemon's own append-only audit logger.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/sensorfabric/sensord/internal/sensor"
)

// Action distinguishes an activate from a deactivate entry in the ring.
type Action int

const (
	ActionActivate Action = iota
	ActionDeactivate
)

// RegistrationEntry is one forensic record of a subscription change. Hash
// and Sequence are filled in by Append; callers only populate the rest.
type RegistrationEntry struct {
	Timestamp  time.Time
	Package    string
	Handle     sensor.Handle
	PeriodNs   int64
	LatencyNs  int64
	Action     Action
	ResultCode int

	Sequence uint64
	PrevHash string
	Hash     string
	valid    bool
}

// Ring is a bounded ring buffer of RegistrationEntry values. A zero-value
// entry (valid == false) marks an empty slot. Each appended entry chains
// its hash to the previous one the same way the ambient daemon's audit
// logger chains its own log file, so a privileged reader can detect
// whether any entry still present was tampered with after the fact
// (entries evicted by ring wraparound are, by design, not verifiable this
// way — only the live window is).
type Ring struct {
	mu       sync.Mutex
	entries  []RegistrationEntry
	next     int
	count    int
	sequence uint64
	prevHash []byte
}

const DefaultSize = 256

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{entries: make([]RegistrationEntry, size)}
}

// Append records e, overwriting the oldest slot once the ring is full.
func (r *Ring) Append(e RegistrationEntry) {
	e.valid = true

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequence++
	e.Sequence = r.sequence
	e.PrevHash = hex.EncodeToString(r.prevHash)

	payload, err := json.Marshal(hashableEntry{
		Sequence:   e.Sequence,
		Timestamp:  e.Timestamp.UTC(),
		Package:    e.Package,
		Handle:     e.Handle,
		PeriodNs:   e.PeriodNs,
		LatencyNs:  e.LatencyNs,
		Action:     e.Action,
		ResultCode: e.ResultCode,
		PrevHash:   e.PrevHash,
	})
	if err == nil {
		sum := sha256.Sum256(append(r.prevHash, payload...))
		r.prevHash = sum[:]
		e.Hash = hex.EncodeToString(sum[:])
	}

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

type hashableEntry struct {
	Sequence   uint64
	Timestamp  time.Time
	Package    string
	Handle     sensor.Handle
	PeriodNs   int64
	LatencyNs  int64
	Action     Action
	ResultCode int
	PrevHash   string
}

// Recent returns up to n entries in reverse-chronological order (newest
// first), the ordering the privileged diagnostic dump uses.
func (r *Ring) Recent(n int) []RegistrationEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]RegistrationEntry, 0, n)
	idx := (r.next - 1 + len(r.entries)) % len(r.entries)
	for i := 0; i < n; i++ {
		e := r.entries[idx]
		if e.valid {
			out = append(out, e)
		}
		idx = (idx - 1 + len(r.entries)) % len(r.entries)
	}
	return out
}
