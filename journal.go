package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

// PersistStatus is the outcome of a JournalWriter.Persist call.
type PersistStatus string

const (
	PersistPersisted    PersistStatus = "PERSISTED"
	PersistAlreadyExists PersistStatus = "ALREADY_EXISTS"
	PersistFailed        PersistStatus = "FAILED"
)

// LedgerResult is the result of persisting one proposed journal entry.
type LedgerResult struct {
	Status          PersistStatus
	Entry           *JournalEntry
	Message         string
	ExistingEntryID *uuid.UUID
}

// RoundingAccounts maps currency to the account a rounding gap is posted
// against. A currency absent from this map cannot receive a rounding
// line; JournalWriter fails with RoundingAmountExceeded if a gap arises
// for it.
type RoundingAccounts map[string]uuid.UUID

// JournalWriter persists ProposedJournalEntry values as balanced,
// sequenced JournalEntry rows (spec.md §4.7), ported from
// _examples/original_source/finance_kernel/services/ledger_service.py.
// bbolt's single-writer transaction substitutes for the original's
// SELECT ... FOR UPDATE idempotency-key lock.
type JournalWriter struct {
	storage   *Storage
	seq       *SequenceAllocator
	auditor   *Auditor
	clock     Clock
	hasher    Hasher
	roundingAccounts RoundingAccounts
}

// NewJournalWriter constructs a JournalWriter. roundingAccounts may be
// nil, in which case no rounding gap can ever be absorbed.
func NewJournalWriter(storage *Storage, seq *SequenceAllocator, auditor *Auditor, clock Clock, roundingAccounts RoundingAccounts) *JournalWriter {
	if roundingAccounts == nil {
		roundingAccounts = RoundingAccounts{}
	}
	return &JournalWriter{storage: storage, seq: seq, auditor: auditor, clock: clock, hasher: NewHasher(), roundingAccounts: roundingAccounts}
}

// Persist writes proposal as a balanced, posted JournalEntry (spec.md
// §4.7 steps 1-9).
func (w *JournalWriter) Persist(tx *bbolt.Tx, proposal *ProposedJournalEntry) (LedgerResult, error) {
	existing, found, err := w.storage.GetJournalEntryByIdempotencyKey(tx, proposal.IdempotencyKey)
	if err != nil {
		return LedgerResult{}, err
	}
	if found {
		if existing.Status == EntryPosted {
			return LedgerResult{Status: PersistAlreadyExists, ExistingEntryID: &existing.EntryID, Message: fmt.Sprintf("entry already exists with seq=%v", existing.Seq)}, nil
		}
		// DRAFT left over from a crashed attempt: rebuild its lines.
		return w.finalize(tx, existing, proposal)
	}

	for _, p := range proposal.Lines {
		if p.IsRounding {
			return LedgerResult{Status: PersistFailed, Message: "strategy output may not include is_rounding lines"}, ErrStrategyRoundingViolation(proposal.Event.EventType)
		}
	}

	entry := &JournalEntry{
		EntryID:            uuid.New(),
		SourceEventID:       proposal.Event.EventID,
		SourceEventType:     proposal.Event.EventType,
		OccurredAt:          proposal.Event.OccurredAt,
		EffectiveDate:       proposal.Event.EffectiveDate,
		ActorID:             proposal.Event.ActorID,
		Status:              EntryDraft,
		IdempotencyKey:      proposal.IdempotencyKey,
		PostingRuleVersion:  proposal.PostingRuleVersion,
		Description:         proposal.Description,
		EntryMetadata:       proposal.Metadata,
	}
	if err := w.storage.PutJournalEntry(tx, entry); err != nil {
		return LedgerResult{}, fmt.Errorf("put draft entry: %w", err)
	}
	if _, err := w.auditor.RecordJournalDraftCreated(tx, entry.EntryID, entry.ActorID, entry.SourceEventID); err != nil {
		return LedgerResult{}, err
	}

	return w.finalize(tx, entry, proposal)
}

// finalize builds lines from proposal, applies rounding, validates
// balance, allocates a sequence, and marks the entry POSTED.
func (w *JournalWriter) finalize(tx *bbolt.Tx, entry *JournalEntry, proposal *ProposedJournalEntry) (LedgerResult, error) {
	lines := make([]JournalLine, 0, len(proposal.Lines)+4)
	for i, p := range proposal.Lines {
		lines = append(lines, JournalLine{
			LineID:         uuid.New(),
			EntryID:        entry.EntryID,
			AccountID:      p.AccountID,
			Side:           p.Side,
			Amount:         p.Amount,
			Currency:       p.Currency,
			Dimensions:     p.Dimensions,
			IsRounding:     false,
			LineMemo:       p.Memo,
			LineSeq:        i,
			ExchangeRateID: p.ExchangeRateID,
		})
	}

	lines, err := w.applyRounding(lines)
	if err != nil {
		return LedgerResult{Status: PersistFailed, Message: err.Error()}, err
	}
	if err := validateBalance(lines); err != nil {
		return LedgerResult{Status: PersistFailed, Message: err.Error()}, err
	}

	entry.Lines = lines

	nextSeq, err := w.seq.Next(tx, StreamJournalEntry)
	if err != nil {
		return LedgerResult{}, err
	}
	postedAt := w.clock.Now()
	entry.Seq = &nextSeq
	entry.PostedAt = &postedAt
	entry.Status = EntryPosted

	if err := w.storage.PutJournalEntry(tx, entry); err != nil {
		return LedgerResult{}, fmt.Errorf("put posted entry: %w", err)
	}

	entryHash, err := w.hasher.HashJournalEntry(entry.EntryID, entry.Lines)
	if err != nil {
		return LedgerResult{}, err
	}
	if _, err := w.auditor.RecordJournalPosted(tx, entry.EntryID, entry.ActorID, entryHash, nextSeq); err != nil {
		return LedgerResult{}, err
	}

	return LedgerResult{Status: PersistPersisted, Entry: entry}, nil
}

// applyRounding closes any per-currency balance gap with at most one
// synthetic rounding line per currency (spec.md §4.7 rounding policy).
func (w *JournalWriter) applyRounding(lines []JournalLine) ([]JournalLine, error) {
	gaps := map[string]decimal.Decimal{}
	counts := map[string]int{}
	for _, l := range lines {
		signed := l.Amount
		if l.Side == Credit {
			signed = signed.Neg()
		}
		gaps[l.Currency] = gaps[l.Currency].Add(signed)
		counts[l.Currency]++
	}

	out := lines
	nextSeq := len(lines)
	for currency, gap := range gaps {
		if gap.IsZero() {
			continue
		}
		bound := decimal.New(1, -2).Mul(decimal.NewFromInt(int64(counts[currency])))
		if gap.Abs().GreaterThan(bound) {
			return nil, ErrRoundingAmountExceeded(currency)
		}
		acct, ok := w.roundingAccounts[currency]
		if !ok {
			return nil, ErrRoundingAmountExceeded(currency)
		}
		side := Credit
		amount := gap
		if gap.IsNegative() {
			side = Debit
			amount = gap.Neg()
		}
		out = append(out, JournalLine{
			LineID:     uuid.New(),
			AccountID:  acct,
			Side:       side,
			Amount:     amount,
			Currency:   currency,
			IsRounding: true,
			LineMemo:   "rounding adjustment",
			LineSeq:    nextSeq,
		})
		nextSeq++
	}
	return out, nil
}

// validateBalance enforces R4: for each currency, debits equal credits.
func validateBalance(lines []JournalLine) error {
	totals := map[string]decimal.Decimal{}
	for _, l := range lines {
		signed := l.Amount
		if l.Side == Credit {
			signed = signed.Neg()
		}
		totals[l.Currency] = totals[l.Currency].Add(signed)
	}
	for currency, total := range totals {
		if !total.IsZero() {
			return ErrUnbalancedEntry(currency)
		}
	}
	return nil
}

// WriteReversal persists a reversing entry whose lines mirror original's
// with sides flipped, linked via ReversalOfID (spec.md §4.7 reversal
// path). reversalEvent is the synthetic system.reversal event driving
// this write. Fails with ErrCrossLedgerReversal if expectedLedgerID does
// not match the original's owning ledger.
func (w *JournalWriter) WriteReversal(tx *bbolt.Tx, original *JournalEntry, reversalEvent Event, actorID uuid.UUID, reason string, expectedLedgerID uuid.UUID) (LedgerResult, error) {
	if original.EntryMetadata.OwningLedgerID != expectedLedgerID {
		return LedgerResult{}, ErrCrossLedgerReversal(original.EntryID.String())
	}

	proposedLines := make([]ProposedLine, len(original.Lines))
	for i, l := range original.Lines {
		flipped := Debit
		if l.Side == Debit {
			flipped = Credit
		}
		proposedLines[i] = ProposedLine{
			AccountID:      l.AccountID,
			Side:           flipped,
			Amount:         l.Amount,
			Currency:       l.Currency,
			Dimensions:     l.Dimensions,
			Memo:           fmt.Sprintf("reversal of entry %s: %s", original.EntryID, reason),
			ExchangeRateID: l.ExchangeRateID,
		}
	}

	idempotencyKey := fmt.Sprintf("%s:%s:%s", reversalEvent.Producer, reversalEvent.EventType, reversalEvent.EventID)
	entry := &JournalEntry{
		EntryID:            uuid.New(),
		SourceEventID:       reversalEvent.EventID,
		SourceEventType:     reversalEvent.EventType,
		OccurredAt:          reversalEvent.OccurredAt,
		EffectiveDate:       reversalEvent.EffectiveDate,
		ActorID:             actorID,
		Status:              EntryDraft,
		IdempotencyKey:      idempotencyKey,
		PostingRuleVersion:  original.PostingRuleVersion,
		Description:         fmt.Sprintf("reversal of %s", original.EntryID),
		EntryMetadata:       original.EntryMetadata,
		ReversalOfID:        &original.EntryID,
	}
	if err := w.storage.PutJournalEntry(tx, entry); err != nil {
		return LedgerResult{}, err
	}

	proposal := &ProposedJournalEntry{
		Event:              reversalEvent,
		IdempotencyKey:      idempotencyKey,
		PostingRuleVersion:  original.PostingRuleVersion,
		Description:         entry.Description,
		Metadata:            original.EntryMetadata,
		Lines:               proposedLines,
	}
	return w.finalize(tx, entry, proposal)
}

// GetEntry returns a posted or draft journal entry by id.
func (w *JournalWriter) GetEntry(tx *bbolt.Tx, id uuid.UUID) (*JournalEntry, bool, error) {
	return w.storage.GetJournalEntry(tx, id)
}

// GetEntryByEvent returns the entry produced from the given source event,
// if any, by scanning the journal.
func (w *JournalWriter) GetEntryByEvent(tx *bbolt.Tx, eventID uuid.UUID) (*JournalEntry, bool, error) {
	all, err := w.storage.AllJournalEntries(tx)
	if err != nil {
		return nil, false, err
	}
	for _, e := range all {
		if e.SourceEventID == eventID {
			return e, true, nil
		}
	}
	return nil, false, nil
}
