package ledger

import "go.etcd.io/bbolt"

// Stream names registered by the kernel core. Additional streams may be
// registered by collaborators; SequenceAllocator does not restrict names.
const (
	StreamAuditEvent   = "AUDIT_EVENT"
	StreamJournalEntry = "JOURNAL_ENTRY"
)

// SequenceAllocator hands out a monotonic, gapless-per-transaction counter
// value for a named stream, within the caller's transaction (spec.md
// §4.2). Counters begin at 1; 0 is never returned. bbolt allows only one
// writable transaction at a time, so two calls for the same stream from
// concurrent callers are serialized by bbolt itself rather than by an
// explicit row lock — the allocator never needs to acquire anything beyond
// the *bbolt.Tx it is handed.
type SequenceAllocator struct {
	storage *Storage
}

// NewSequenceAllocator constructs a SequenceAllocator over storage.
func NewSequenceAllocator(storage *Storage) *SequenceAllocator {
	return &SequenceAllocator{storage: storage}
}

// Next allocates and returns the next value for stream within tx.
func (a *SequenceAllocator) Next(tx *bbolt.Tx, stream string) (uint64, error) {
	current := a.storage.currentSeq(tx, stream)
	next := current + 1
	if err := a.storage.setSeq(tx, stream, next); err != nil {
		return 0, err
	}
	return next, nil
}
