package ledger

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

// scenarioFixture wires a fresh kernel with accounts 1000 (asset) and
// 4000 (revenue) in an OPEN period 2024-01, the setup every S1-S6
// scenario in spec.md §8 shares.
type scenarioFixture struct {
	t       *testing.T
	storage *Storage
	seq     *SequenceAllocator
	auditor *Auditor
	periods *PeriodController
	journal *JournalWriter
	links   *LinkGraph
	ledger  *LedgerSelector
	posting *PostingOrchestrator
	reversals *ReversalService
	close   *CloseOrchestrator
	clock   Clock
	account1000 uuid.UUID
	account4000 uuid.UUID
	actorID     uuid.UUID
}

type saleLineStrategy struct {
	debitCode, creditCode string
}

func (saleLineStrategy) SupportedVersions() (int, int) { return 1, 1 }

func (s saleLineStrategy) Interpret(envelope Event, ref *ReferenceSnapshot) (*ProposedJournalEntry, []error) {
	amountStr, _ := envelope.Payload["amount"].(string)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, []error{err}
	}
	debit, ok := ref.AccountByCode(s.debitCode)
	if !ok {
		return nil, []error{fmt.Errorf("debit account %q not found", s.debitCode)}
	}
	credit, ok := ref.AccountByCode(s.creditCode)
	if !ok {
		return nil, []error{fmt.Errorf("credit account %q not found", s.creditCode)}
	}
	return &ProposedJournalEntry{
		Description: "test sale",
		Lines: []ProposedLine{
			{AccountID: debit.AccountID, Side: Debit, Amount: amount, Currency: "USD"},
			{AccountID: credit.AccountID, Side: Credit, Amount: amount, Currency: "USD"},
		},
	}, nil
}

func newScenarioFixture(t *testing.T) *scenarioFixture {
	t.Helper()
	dbFile := t.TempDir() + "/scenario.db"
	storage, err := NewStorage(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close(); os.Remove(dbFile) })

	clock := NewFixedClock(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	seq := NewSequenceAllocator(storage)
	auditor := NewAuditor(storage, seq, clock)
	periods := NewPeriodController(storage, auditor, clock)
	refData := NewReferenceDataCache(storage)
	journal := NewJournalWriter(storage, seq, auditor, clock, nil)
	links := NewLinkGraph(storage, clock)
	ledgerSel := NewLedgerSelector(storage)
	reversals := NewReversalService(journal, auditor, links, periods, clock)
	subledgers := NewSubledgerSelector(ledgerSel, storage)
	closeOrch := NewCloseOrchestrator(periods, auditor, ledgerSel, subledgers, storage, clock, nil, nil, nil, nil)

	registry := NewStrategyRegistry()
	registry.Register("sale", saleLineStrategy{debitCode: "1000", creditCode: "4000"})
	ingestor := NewEventIngestor(storage, auditor, clock, nil)
	posting := NewPostingOrchestrator(ingestor, refData, periods, registry, journal, auditor, storage, clock)

	actorID := uuid.New()
	var account1000, account4000 uuid.UUID

	require.NoError(t, storage.Update(func(tx *bbolt.Tx) error {
		a1 := &Account{AccountID: uuid.New(), Code: "1000", Name: "Cash", Type: Asset, IsActive: true}
		require.NoError(t, storage.PutAccount(tx, a1))
		a4 := &Account{AccountID: uuid.New(), Code: "4000", Name: "Revenue", Type: Revenue, IsActive: true}
		require.NoError(t, storage.PutAccount(tx, a4))
		account1000, account4000 = a1.AccountID, a4.AccountID

		_, err := periods.CreatePeriod(tx, "2024-01", "January 2024",
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
			actorID, true)
		return err
	}))

	return &scenarioFixture{
		t: t, storage: storage, seq: seq, auditor: auditor, periods: periods,
		journal: journal, links: links, ledger: ledgerSel, posting: posting,
		reversals: reversals, close: closeOrch, clock: clock,
		account1000: account1000, account4000: account4000, actorID: actorID,
	}
}

// TestScenarioS1FirstTimePost covers spec.md §8 S1.
func TestScenarioS1FirstTimePost(t *testing.T) {
	f := newScenarioFixture(t)
	eventID := uuid.New()
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var entryID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "100.00"}, 1)
		require.NoError(t, err)
		require.Equal(t, PostingPosted, result.Status)
		require.NotNil(t, result.EntryID)
		entryID = *result.EntryID
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		entry, found, err := f.storage.GetJournalEntry(tx, entryID)
		require.NoError(t, err)
		require.True(t, found)
		require.NotNil(t, entry.Seq)
		require.Equal(t, uint64(1), *entry.Seq)
		require.Len(t, entry.Lines, 2)

		audits, err := f.storage.AuditEventsByEntity(tx, "journal_entry", entryID.String())
		require.NoError(t, err)
		require.Len(t, audits, 2)
		require.Equal(t, ActionJournalDraftCreated, audits[0].Action)
		require.Equal(t, ActionJournalPosted, audits[1].Action)

		asOf := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
		tb, err := f.ledger.TrialBalance(tx, &asOf)
		require.NoError(t, err)
		byCode := map[string]TrialBalanceEntry{}
		for _, row := range tb {
			byCode[row.AccountCode] = row
		}
		require.True(t, byCode["1000"].DebitTotal.Equal(decimal.RequireFromString("100.00")))
		require.True(t, byCode["4000"].CreditTotal.Equal(decimal.RequireFromString("100.00")))
		return nil
	}))
}

// TestScenarioS2IdempotentRetry covers spec.md §8 S2.
func TestScenarioS2IdempotentRetry(t *testing.T) {
	f := newScenarioFixture(t)
	eventID := uuid.New()
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	payload := map[string]any{"amount": "100.00"}

	var firstEntryID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", payload, 1)
		require.NoError(t, err)
		require.Equal(t, PostingPosted, result.Status)
		firstEntryID = *result.EntryID
		return nil
	}))

	for i := 0; i < 9; i++ {
		require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
			result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", payload, 1)
			require.NoError(t, err)
			require.Equal(t, PostingAlreadyPosted, result.Status)
			require.Equal(t, firstEntryID, *result.EntryID)
			return nil
		}))
	}

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		_, ok, err := f.auditor.ValidateChain(tx)
		require.NoError(t, err)
		require.True(t, ok)
		entries, err := f.storage.AllJournalEntries(tx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		return nil
	}))
}

// TestScenarioS3ProtocolViolation covers spec.md §8 S3.
func TestScenarioS3ProtocolViolation(t *testing.T) {
	f := newScenarioFixture(t)
	eventID := uuid.New()
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "100.00"}, 1)
		require.NoError(t, err)
		require.Equal(t, PostingPosted, result.Status)
		return nil
	}))

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, eventID, "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "999.00"}, 1)
		require.NoError(t, err)
		require.Equal(t, PostingIngestionFailed, result.Status)
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		events, err := f.storage.GetEventsByType(tx, "sale", 10)
		require.NoError(t, err)
		require.Len(t, events, 1, "payload mismatch must not create a new Event")

		all, err := f.storage.AllAuditEventsBySeq(tx)
		require.NoError(t, err)
		found := false
		for _, a := range all {
			if a.Action == ActionPayloadMismatch {
				found = true
			}
		}
		require.True(t, found)
		return nil
	}))
}

// TestScenarioS4ClosedPeriod covers spec.md §8 S4.
func TestScenarioS4ClosedPeriod(t *testing.T) {
	f := newScenarioFixture(t)

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		_, err := f.periods.BeginClosing(tx, "2024-01", uuid.New(), f.actorID)
		require.NoError(t, err)
		_, err = f.periods.ClosePeriod(tx, "2024-01", f.actorID)
		return err
	}))

	effective := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, uuid.New(), "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "50.00"}, 1)
		require.NoError(t, err)
		require.Equal(t, PostingPeriodClosed, result.Status)
		require.Nil(t, result.EntryID)
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		all, err := f.storage.AllAuditEventsBySeq(tx)
		require.NoError(t, err)
		found := false
		for _, a := range all {
			if a.Action == ActionPeriodViolation {
				found = true
			}
		}
		require.True(t, found)
		return nil
	}))
}

// TestScenarioS5Reversal covers spec.md §8 S5.
func TestScenarioS5Reversal(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var originalID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, uuid.New(), "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "100.00"}, 1)
		require.NoError(t, err)
		originalID = *result.EntryID
		return nil
	}))

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.reversals.ReverseInSamePeriod(tx, originalID, "test", f.actorID, nil)
		require.NoError(t, err)

		reversal, found, err := f.storage.GetJournalEntry(tx, result.ReversalEntryID)
		require.NoError(t, err)
		require.True(t, found)
		require.NotNil(t, reversal.ReversalOfID)
		require.Equal(t, originalID, *reversal.ReversalOfID)

		var sawCashCredit, sawRevenueDebit bool
		for _, l := range reversal.Lines {
			if l.AccountID == f.account1000 && l.Side == Credit {
				sawCashCredit = true
			}
			if l.AccountID == f.account4000 && l.Side == Debit {
				sawRevenueDebit = true
			}
		}
		require.True(t, sawCashCredit)
		require.True(t, sawRevenueDebit)

		children, err := f.links.ChildrenOf(tx, LinkReversedBy, originalID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		require.Equal(t, result.ReversalEntryID, children[0].ChildRef)
		return nil
	}))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		asOf := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
		cashBalance, err := f.ledger.AccountBalance(tx, f.account1000, &asOf, "USD")
		require.NoError(t, err)
		require.True(t, cashBalance.IsZero())
		revenueBalance, err := f.ledger.AccountBalance(tx, f.account4000, &asOf, "USD")
		require.NoError(t, err)
		require.True(t, revenueBalance.IsZero())
		return nil
	}))

	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		_, err := f.reversals.ReverseInSamePeriod(tx, originalID, "test again", f.actorID, nil)
		require.Error(t, err)
		return nil
	}))
}

// TestScenarioS6CloseCertificate covers spec.md §8 S6.
func TestScenarioS6CloseCertificate(t *testing.T) {
	f := newScenarioFixture(t)
	effective := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var originalID uuid.UUID
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, uuid.New(), "sale", effective, effective, f.actorID, "test", map[string]any{"amount": "100.00"}, 1)
		require.NoError(t, err)
		originalID = *result.EntryID
		return nil
	}))
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		_, err := f.reversals.ReverseInSamePeriod(tx, originalID, "test", f.actorID, nil)
		return err
	}))

	var independentHash string
	periodEnd := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		h, err := f.ledger.CanonicalHash(tx, &periodEnd)
		require.NoError(t, err)
		independentHash = h
		return nil
	}))

	var runResult *CloseRunResult
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		_, err := f.close.BeginClose(tx, "2024-01", f.actorID, false)
		require.NoError(t, err)
		runResult, err = f.close.ClosePeriodFull(tx, "2024-01", f.actorID, false)
		require.NoError(t, err)
		return nil
	}))

	require.Equal(t, CloseCompleted, runResult.Status)
	require.NotNil(t, runResult.Certificate)
	require.Equal(t, independentHash, runResult.Certificate.LedgerHash)
	require.True(t, runResult.Certificate.TrialBalanceDebits.Equal(decimal.RequireFromString("100.00")))
	require.True(t, runResult.Certificate.TrialBalanceCredits.Equal(decimal.RequireFromString("100.00")))

	require.NoError(t, f.storage.View(func(tx *bbolt.Tx) error {
		all, err := f.storage.AllAuditEventsBySeq(tx)
		require.NoError(t, err)
		found := false
		for _, a := range all {
			if a.Action == ActionCloseCertified {
				found = true
			}
		}
		require.True(t, found)
		return nil
	}))

	laterEffective := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.storage.Update(func(tx *bbolt.Tx) error {
		result, err := f.posting.PostEvent(tx, uuid.New(), "sale", laterEffective, laterEffective, f.actorID, "test", map[string]any{"amount": "10.00"}, 1)
		require.NoError(t, err)
		require.Equal(t, PostingPeriodClosed, result.Status)
		return nil
	}))
}
