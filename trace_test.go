package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

// TestTraceAssemblerGetPostedEntry covers spec.md §4.11 trace.get: given
// a posted entry's id, Get must assemble a bundle without error (the
// traceBundleToMap/HashTraceBundle path this exercises was previously
// broken: struct pointers reached canonicalize unflattened and every
// call returned ErrSerialization).
func TestTraceAssemblerGetPostedEntry(t *testing.T) {
	f := newScenarioFixture(t)
	assembler := NewTraceAssembler(f.storage, f.links, nil, f.clock)

	eventID := uuid.New()
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var entryID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "100.00"}, 1)
		require.NoError(t, err)
		require.Equal(t, PostingPosted, result.Status)
		entryID = *result.EntryID
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		bundle, err := assembler.Get(tx, entryID)
		require.NoError(t, err)
		require.NotNil(t, bundle)
		require.Equal(t, entryID, bundle.ArtifactRef)
		require.NotNil(t, bundle.OriginEvent)
		require.Equal(t, eventID, bundle.OriginEvent.EventID)
		require.Len(t, bundle.JournalEntries, 1)
		require.Equal(t, entryID, bundle.JournalEntries[0].EntryID)
		require.NotEmpty(t, bundle.AuditEvents)
		require.False(t, bundle.LogsAvailable, "no LogQueryPort wired")

		hash, ok := bundle.Integrity["bundle_hash"].(string)
		require.True(t, ok)
		require.NotEmpty(t, hash)
		return nil
	}))
}

// TestTraceAssemblerGetByEvent covers looking a bundle up by its origin
// event id rather than its journal entry id.
func TestTraceAssemblerGetByEvent(t *testing.T) {
	f := newScenarioFixture(t)
	assembler := NewTraceAssembler(f.storage, f.links, nil, f.clock)

	eventID := uuid.New()
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "100.00"}, 1)
		require.NoError(t, err)
		require.Equal(t, PostingPosted, result.Status)
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		bundle, err := assembler.Get(tx, eventID)
		require.NoError(t, err)
		require.NotNil(t, bundle)
		require.NotNil(t, bundle.OriginEvent)
		require.Equal(t, eventID, bundle.OriginEvent.EventID)
		require.Len(t, bundle.JournalEntries, 1)
		return nil
	}))
}

// TestTraceAssemblerGetWithReversalIncludesBoth covers S5/S6-style
// traces: the reversal must appear alongside the original in the bundle.
func TestTraceAssemblerGetWithReversalIncludesBoth(t *testing.T) {
	f := newScenarioFixture(t)
	assembler := NewTraceAssembler(f.storage, f.links, nil, f.clock)

	eventID := uuid.New()
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var originalID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "100.00"}, 1)
		require.NoError(t, err)
		originalID = *result.EntryID

		_, err = f.reversals.ReverseInSamePeriod(tx, originalID, "correction", f.actorID, nil)
		require.NoError(t, err)
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		bundle, err := assembler.Get(tx, originalID)
		require.NoError(t, err)
		require.Len(t, bundle.JournalEntries, 2, "original plus its reversal")
		require.NotEmpty(t, bundle.EconomicLinks, "REVERSED_BY link should surface")
		return nil
	}))
}
