package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// TestHasherPayloadDeterministic checks that HashPayload is insensitive to
// map key insertion order and produces a stable hex digest, the property
// spec.md §4.1 calls out ("canonical JSON... keys sorted
// lexicographically").
func TestHasherPayloadDeterministic(t *testing.T) {
	h := NewHasher()

	a := map[string]any{"z": 1, "a": "two", "m": decimal.RequireFromString("10.5")}
	b := map[string]any{"a": "two", "m": decimal.RequireFromString("10.5"), "z": 1}

	ha, err := h.HashPayload(a)
	require.NoError(t, err)
	hb, err := h.HashPayload(b)
	require.NoError(t, err)
	require.Equal(t, ha, hb)
	require.Len(t, ha, 64, "sha256 hex digest is 64 chars")
}

// TestHasherPayloadDistinguishesValues checks that differing content
// produces differing hashes.
func TestHasherPayloadDistinguishesValues(t *testing.T) {
	h := NewHasher()
	h1, err := h.HashPayload(map[string]any{"amount": "10.00"})
	require.NoError(t, err)
	h2, err := h.HashPayload(map[string]any{"amount": "10.01"})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

// TestHasherAuditEventGenesis checks that a nil prevHash hashes using the
// literal "GENESIS" delimiter (spec.md §4.1).
func TestHasherAuditEventGenesis(t *testing.T) {
	h := NewHasher()
	genesisHash := h.HashAuditEvent("event", "e1", ActionEventIngested, "deadbeef", nil)

	explicitGenesis := "GENESIS"
	sameHash := h.HashAuditEvent("event", "e1", ActionEventIngested, "deadbeef", &explicitGenesis)
	require.Equal(t, genesisHash, sameHash, "nil prevHash must hash identically to the literal GENESIS sentinel")

	other := "someotherhash"
	differentHash := h.HashAuditEvent("event", "e1", ActionEventIngested, "deadbeef", &other)
	require.NotEqual(t, genesisHash, differentHash)
}

// TestHasherJournalEntryOrderInsensitive checks that HashJournalEntry
// sorts by LineSeq before hashing, so line submission order in the slice
// does not affect the result.
func TestHasherJournalEntryOrderInsensitive(t *testing.T) {
	h := NewHasher()
	entryID := uuid.New()
	acct1, acct2 := uuid.New(), uuid.New()

	line1 := JournalLine{LineID: uuid.New(), AccountID: acct1, Side: Debit, Amount: decimal.RequireFromString("10.00"), Currency: "USD", LineSeq: 0}
	line2 := JournalLine{LineID: uuid.New(), AccountID: acct2, Side: Credit, Amount: decimal.RequireFromString("10.00"), Currency: "USD", LineSeq: 1}

	inOrder, err := h.HashJournalEntry(entryID, []JournalLine{line1, line2})
	require.NoError(t, err)
	reversed, err := h.HashJournalEntry(entryID, []JournalLine{line2, line1})
	require.NoError(t, err)
	require.Equal(t, inOrder, reversed)
}

// TestHasherTraceBundleExcludesVolatileFields checks that generated_at,
// trace_id, and a nested bundle_hash do not affect the hash (spec.md
// §4.1's HashTraceBundle).
func TestHasherTraceBundleExcludesVolatileFields(t *testing.T) {
	h := NewHasher()
	base := map[string]any{
		"artifact_ref": "abc",
		"integrity":    map[string]any{"bundle_hash": "should-be-ignored"},
	}
	withVolatile := map[string]any{
		"artifact_ref": "abc",
		"generated_at": time.Now().Format(time.RFC3339Nano),
		"trace_id":     uuid.New().String(),
		"integrity":    map[string]any{"bundle_hash": "different-value-entirely"},
	}

	h1, err := h.HashTraceBundle(base)
	require.NoError(t, err)
	h2, err := h.HashTraceBundle(withVolatile)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

// TestHasherTrialBalanceSortsRows checks HashTrialBalance sorts by
// (account_id, currency) before hashing.
func TestHasherTrialBalanceSortsRows(t *testing.T) {
	h := NewHasher()
	a1, a2 := uuid.New(), uuid.New()
	rows := []TrialBalanceRow{
		{AccountID: a2, Currency: "USD", DebitTotal: decimal.RequireFromString("5"), CreditTotal: decimal.Zero},
		{AccountID: a1, Currency: "USD", DebitTotal: decimal.RequireFromString("5"), CreditTotal: decimal.Zero},
	}
	reversed := []TrialBalanceRow{rows[1], rows[0]}

	h1, err := h.HashTrialBalance(rows)
	require.NoError(t, err)
	h2, err := h.HashTrialBalance(reversed)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
