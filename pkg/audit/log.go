// Package audit records every decision a deployment run makes as an
// append-only, hash-chained sequence of entries. Each entry's hash
// covers the previous hash and the entry's canonical content, so any
// interior deletion, reordering, or mutation is detectable by
// recomputing the chain. A run's full decision history must be
// reconstructable from its entries alone.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// genesisHash seeds the chain before the first entry.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// actorEngine marks entries written by the orchestration engine itself.
const actorEngine = "engine"

// Entry is one hash-chained audit record.
type Entry struct {
	// Sequence is 1-based and gapless within a run.
	Sequence uint64 `json:"sequence"`

	// Timestamp is when the entry was appended.
	Timestamp time.Time `json:"timestamp"`

	// Actor identifies who made the decision.
	Actor string `json:"actor"`

	// Action names the decision or transition.
	Action string `json:"action"`

	// Payload is the action's detail, canonical JSON.
	Payload json.RawMessage `json:"payload"`

	// PrevHash is the hash of the preceding entry, or the genesis hash
	// for the first entry.
	PrevHash string `json:"prev_hash"`

	// Hash is hex SHA-256 over PrevHash and the entry's canonical
	// content.
	Hash string `json:"hash"`
}

// hashEnvelope is the canonical content covered by an entry's hash.
// Field order is fixed, so the encoded bytes are stable.
type hashEnvelope struct {
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

// Sink persists entries as they are appended.
type Sink interface {
	// Write persists one entry. A failed write blocks the append.
	Write(entry *Entry) error
}

// Log is the audit chain for a single deployment run. Runs never share
// a Log.
type Log struct {
	mu      sync.Mutex
	entries []*Entry
	sink    Sink
}

// NewLog creates an in-memory audit log.
func NewLog() *Log {
	return &Log{}
}

// NewLogWithSink creates an audit log that persists every entry through
// sink before accepting it into the chain.
func NewLogWithSink(sink Sink) *Log {
	return &Log{sink: sink}
}

// Append records an action and its payload as the next chain entry.
// The payload is encoded to canonical JSON; a nil payload is recorded
// as JSON null. When a sink is configured the entry is persisted first,
// and a sink failure leaves the chain unchanged.
func (l *Log) Append(action string, payload interface{}) (*Entry, error) {
	if action == "" {
		return nil, fmt.Errorf("audit action must not be empty")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit payload for %s: %w", action, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := genesisHash
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	entry := &Entry{
		Sequence:  uint64(len(l.entries)) + 1,
		Timestamp: time.Now().UTC(),
		Actor:     actorEngine,
		Action:    action,
		Payload:   encoded,
		PrevHash:  prev,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	if l.sink != nil {
		if err := l.sink.Write(entry); err != nil {
			return nil, fmt.Errorf("failed to persist audit entry %d: %w", entry.Sequence, err)
		}
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// Entries returns the chain in append order.
func (l *Log) Entries() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries in the chain.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Verify recomputes this log's hash chain.
func (l *Log) Verify() bool {
	return Verify(l.Entries())
}

// Verify recomputes the hash chain over entries and reports whether it
// is intact: sequences 1..n without gaps, each entry linked to its
// predecessor, and every hash matching the entry's content. An empty
// chain is intact.
func Verify(entries []*Entry) bool {
	prev := genesisHash
	for i, entry := range entries {
		if entry == nil {
			return false
		}
		if entry.Sequence != uint64(i)+1 {
			return false
		}
		if entry.PrevHash != prev {
			return false
		}
		hash, err := entryHash(entry)
		if err != nil || hash != entry.Hash {
			return false
		}
		prev = entry.Hash
	}
	return true
}

// entryHash computes hex SHA-256 over the previous hash and the entry's
// canonical content.
func entryHash(entry *Entry) (string, error) {
	body, err := json.Marshal(hashEnvelope{
		Sequence:  entry.Sequence,
		Timestamp: entry.Timestamp,
		Actor:     entry.Actor,
		Action:    entry.Action,
		Payload:   entry.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode audit entry %d: %w", entry.Sequence, err)
	}
	h := sha256.New()
	h.Write([]byte(entry.PrevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
