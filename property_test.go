package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

// TestPropertyBalance checks I1: every POSTED entry balances per currency.
func TestPropertyBalance(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var entryID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, uuid.New(), "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "37.50"}, 1)
		require.NoError(t, err)
		entryID = *result.EntryID
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		entry, found, err := f.storage.GetJournalEntry(tx, entryID)
		require.NoError(t, err)
		require.True(t, found)
		totals := map[string]decimal.Decimal{}
		for _, l := range entry.Lines {
			signed := l.Amount
			if l.Side == Credit {
				signed = signed.Neg()
			}
			totals[l.Currency] = totals[l.Currency].Add(signed)
		}
		for currency, total := range totals {
			require.Truef(t, total.IsZero(), "currency %s does not balance: %s", currency, total)
		}
		return nil
	}))
}

// TestPropertyMonotonicAuditChain checks I2: every audit row's hash
// recomputes to its stored value and links to its predecessor's hash.
func TestPropertyMonotonicAuditChain(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		for i := 0; i < 3; i++ {
			_, err := f.posting.PostEvent(tx, uuid.New(), "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "10.00"}, 1)
			require.NoError(t, err)
		}
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		brokenAt, ok, err := f.auditor.ValidateChain(tx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Zero(t, brokenAt)

		all, err := f.storage.AllAuditEventsBySeq(tx)
		require.NoError(t, err)
		require.True(t, len(all) > 1)
		for i, a := range all {
			if i == 0 {
				require.Nil(t, a.PrevHash)
			} else {
				require.NotNil(t, a.PrevHash)
				require.Equal(t, all[i-1].Hash, *a.PrevHash)
			}
		}
		return nil
	}))
}

// TestPropertyMonotonicJournalSeq checks I3: POSTED entry seq values
// strictly increase starting from 1.
func TestPropertyMonotonicJournalSeq(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		for i := 0; i < 5; i++ {
			_, err := f.posting.PostEvent(tx, uuid.New(), "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "10.00"}, 1)
			require.NoError(t, err)
		}
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		entries, err := f.storage.AllPostedJournalEntriesBySeq(tx)
		require.NoError(t, err)
		require.Len(t, entries, 5)
		var last uint64
		for i, e := range entries {
			require.NotNil(t, e.Seq)
			if i == 0 {
				require.Equal(t, uint64(1), *e.Seq)
			} else {
				require.Greater(t, *e.Seq, last)
			}
			last = *e.Seq
		}
		return nil
	}))
}

// TestPropertyIdempotency checks I4: repeating post_event with the same
// inputs yields exactly one POSTED entry and the same entry_id every time.
func TestPropertyIdempotency(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	eventID := uuid.New()
	payload := map[string]any{"amount": "20.00"}

	var firstID uuid.UUID
	for i := 0; i < 5; i++ {
		require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
			result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", payload, 1)
			require.NoError(t, err)
			if i == 0 {
				require.Equal(t, PostingPosted, result.Status)
				firstID = *result.EntryID
			} else {
				require.Equal(t, PostingAlreadyPosted, result.Status)
				require.Equal(t, firstID, *result.EntryID)
			}
			return nil
		}))
	}

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		entries, err := f.storage.AllJournalEntries(tx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		return nil
	}))
}

// TestPropertyAtMostOneReversal checks I7: an entry cannot be reversed
// twice.
func TestPropertyAtMostOneReversal(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var originalID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, uuid.New(), "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "10.00"}, 1)
		require.NoError(t, err)
		originalID = *result.EntryID
		return nil
	}))

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		_, err := f.reversals.ReverseInSamePeriod(tx, originalID, "first", f.actorID, nil)
		require.NoError(t, err)
		_, err = f.reversals.ReverseInSamePeriod(tx, originalID, "second", f.actorID, nil)
		require.Error(t, err)
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		all, err := f.storage.AllJournalEntries(tx)
		require.NoError(t, err)
		reversalCount := 0
		for _, e := range all {
			if e.ReversalOfID != nil && *e.ReversalOfID == originalID {
				reversalCount++
			}
		}
		require.Equal(t, 1, reversalCount)
		return nil
	}))
}

// TestPropertyLedgerHashDeterminism checks I8: canonical_hash is a pure
// function of committed state.
func TestPropertyLedgerHashDeterminism(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		_, err := f.posting.PostEvent(tx, uuid.New(), "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "10.00"}, 1)
		return err
	}))

	asOf := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	var h1, h2 string
	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		var err error
		h1, err = f.ledger.CanonicalHash(tx, &asOf)
		return err
	}))
	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		var err error
		h2, err = f.ledger.CanonicalHash(tx, &asOf)
		return err
	}))
	require.Equal(t, h1, h2)
	require.NotEmpty(t, h1)
}

// TestPropertyRoundingBound checks I9: a rounding line is absorbed only
// within the 0.01 x non-rounding-line-count bound, against a configured
// rounding account.
func TestPropertyRoundingBound(t *testing.T) {
	f := newScenarioFixture(t)
	roundingAccountID := uuid.New()

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		return f.storage.PutAccount(tx, &Account{AccountID: roundingAccountID, Code: "9999", Name: "Rounding", Type: Expense, IsActive: true})
	}))

	journalWithRounding := NewJournalWriter(f.storage, f.seq, f.auditor, f.clock, RoundingAccounts{"USD": roundingAccountID})

	proposal := &ProposedJournalEntry{
		Event: Event{
			EventID:       uuid.New(),
			EventType:     "rounding.test",
			OccurredAt:    time.Now().UTC(),
			EffectiveDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			ActorID:       f.actorID,
		},
		IdempotencyKey: "test:rounding:1",
		Lines: []ProposedLine{
			{AccountID: f.account1000, Side: Debit, Amount: decimal.RequireFromString("33.34"), Currency: "USD"},
			{AccountID: f.account1000, Side: Debit, Amount: decimal.RequireFromString("33.33"), Currency: "USD"},
			{AccountID: f.account4000, Side: Credit, Amount: decimal.RequireFromString("33.33"), Currency: "USD"},
			{AccountID: f.account4000, Side: Credit, Amount: decimal.RequireFromString("33.33"), Currency: "USD"},
		},
	}

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := journalWithRounding.Persist(tx, proposal)
		require.NoError(t, err)
		require.Equal(t, PersistPersisted, result.Status)

		var roundingLine *JournalLine
		for i := range result.Entry.Lines {
			if result.Entry.Lines[i].IsRounding {
				roundingLine = &result.Entry.Lines[i]
			}
		}
		require.NotNil(t, roundingLine)
		bound := decimal.New(1, -2).Mul(decimal.NewFromInt(int64(len(proposal.Lines))))
		require.True(t, roundingLine.Amount.LessThanOrEqual(bound))
		return nil
	}))
}

// TestPropertyPeriodNonOverlap checks I10: no two FiscalPeriods may share
// any date.
func TestPropertyPeriodNonOverlap(t *testing.T) {
	f := newScenarioFixture(t)

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		_, err := f.periods.CreatePeriod(tx, "2024-01-overlap", "Overlap",
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
			f.actorID, true)
		require.Error(t, err)
		return nil
	}))
}

// TestPropertyNoOrphanDimensionValue checks I6: ValidateDimensions
// rejects a dimension code with no matching Dimension row.
func TestPropertyNoOrphanDimensionValue(t *testing.T) {
	f := newScenarioFixture(t)

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		ref, err := f.posting.refData.Load(tx, time.Now())
		require.NoError(t, err)
		errs := ref.ValidateDimensions(map[string]string{"nonexistent_dimension": "x"})
		require.NotEmpty(t, errs)
		return nil
	}))
}

// TestPropertyImmutability checks I5: a POSTED entry, its lines, and any
// audit_events row reject a second write attempt at the storage layer.
func TestPropertyImmutability(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var entryID uuid.UUID
	var eventID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		eventID = uuid.New()
		result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "10.00"}, 1)
		require.NoError(t, err)
		entryID = *result.EntryID
		return nil
	}))

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		entry, found, err := f.storage.GetJournalEntry(tx, entryID)
		require.NoError(t, err)
		require.True(t, found)
		entry.Description = "tampered"
		err = f.storage.PutJournalEntry(tx, entry)
		require.Error(t, err)
		return nil
	}))

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		event, found, err := f.storage.GetEvent(tx, eventID)
		require.NoError(t, err)
		require.True(t, found)
		event.Payload["amount"] = "999.00"
		err = f.storage.PutEvent(tx, event)
		require.Error(t, err)
		return nil
	}))

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		last, ok, err := f.storage.LastAuditEvent(tx)
		require.NoError(t, err)
		require.True(t, ok)
		tampered := *last
		tampered.Payload = map[string]any{"tampered": true}
		err = f.storage.AppendAuditEvent(tx, &tampered)
		require.Error(t, err)
		return nil
	}))
}
