package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

// JournalSelector answers read-only journal queries, never mutating
// state, matching the teacher's query_api.go scan-and-filter idiom but
// returning the journal's own DTOs (spec.md §4.11).
type JournalSelector struct {
	storage *Storage
}

// NewJournalSelector constructs a JournalSelector over storage.
func NewJournalSelector(storage *Storage) *JournalSelector {
	return &JournalSelector{storage: storage}
}

// GetEntry returns a journal entry by id, with lines sorted by LineSeq.
func (s *JournalSelector) GetEntry(tx *bbolt.Tx, id uuid.UUID) (*JournalEntry, bool, error) {
	e, found, err := s.storage.GetJournalEntry(tx, id)
	if err != nil || !found {
		return nil, found, err
	}
	sortLines(e)
	return e, true, nil
}

// GetByEvent returns the entry produced from sourceEventID, if any.
func (s *JournalSelector) GetByEvent(tx *bbolt.Tx, sourceEventID uuid.UUID) (*JournalEntry, bool, error) {
	all, err := s.storage.AllJournalEntries(tx)
	if err != nil {
		return nil, false, err
	}
	for _, e := range all {
		if e.SourceEventID == sourceEventID {
			sortLines(e)
			return e, true, nil
		}
	}
	return nil, false, nil
}

// InPeriod returns entries of any status whose effective date falls in
// [start, end]; a non-nil status keeps only entries with that status.
func (s *JournalSelector) InPeriod(tx *bbolt.Tx, start, end time.Time, status *EntryStatus) ([]*JournalEntry, error) {
	all, err := s.storage.AllJournalEntries(tx)
	if err != nil {
		return nil, err
	}
	var out []*JournalEntry
	for _, e := range all {
		if e.EffectiveDate.Before(start) || e.EffectiveDate.After(end) {
			continue
		}
		if status != nil && e.Status != *status {
			continue
		}
		sortLines(e)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

// ForAccount returns POSTED entries touching accountID, optionally
// limited to those with effective_date <= asOf.
func (s *JournalSelector) ForAccount(tx *bbolt.Tx, accountID uuid.UUID, asOf *time.Time) ([]*JournalEntry, error) {
	all, err := s.storage.AllJournalEntries(tx)
	if err != nil {
		return nil, err
	}
	var out []*JournalEntry
	for _, e := range all {
		if e.Status != EntryPosted {
			continue
		}
		if asOf != nil && e.EffectiveDate.After(*asOf) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				sortLines(e)
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func sortLines(e *JournalEntry) {
	sort.Slice(e.Lines, func(i, j int) bool { return e.Lines[i].LineSeq < e.Lines[j].LineSeq })
}

// TrialBalanceEntry is one row of a trial balance report.
type TrialBalanceEntry struct {
	AccountCode string
	Currency    string
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
	Balance     decimal.Decimal
}

// LedgerSelector answers read-only ledger-wide queries: balances, trial
// balance, and the canonical ledger hash (spec.md §4.11).
type LedgerSelector struct {
	storage *Storage
	hasher  Hasher
}

// NewLedgerSelector constructs a LedgerSelector over storage.
func NewLedgerSelector(storage *Storage) *LedgerSelector {
	return &LedgerSelector{storage: storage, hasher: NewHasher()}
}

func (s *LedgerSelector) postedLinesAsOf(tx *bbolt.Tx, asOf *time.Time) ([]*JournalEntry, error) {
	all, err := s.storage.AllJournalEntries(tx)
	if err != nil {
		return nil, err
	}
	var out []*JournalEntry
	for _, e := range all {
		if e.Status != EntryPosted {
			continue
		}
		if asOf != nil && e.EffectiveDate.After(*asOf) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// AccountBalance returns the signed balance of accountID in currency
// (debits positive, credits negative — callers apply the account's
// normal-side convention), as of asOf.
func (s *LedgerSelector) AccountBalance(tx *bbolt.Tx, accountID uuid.UUID, asOf *time.Time, currency string) (decimal.Decimal, error) {
	entries, err := s.postedLinesAsOf(tx, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		for _, l := range e.Lines {
			if l.AccountID != accountID || l.Currency != currency {
				continue
			}
			if l.Side == Debit {
				total = total.Add(l.Amount)
			} else {
				total = total.Sub(l.Amount)
			}
		}
	}
	return total, nil
}

// TrialBalance returns an (account_code, currency) trial balance as of
// asOf, ordered by account code then currency.
func (s *LedgerSelector) TrialBalance(tx *bbolt.Tx, asOf *time.Time) ([]TrialBalanceEntry, error) {
	entries, err := s.postedLinesAsOf(tx, asOf)
	if err != nil {
		return nil, err
	}
	accounts, err := s.storage.AllAccounts(tx)
	if err != nil {
		return nil, err
	}
	codeByID := make(map[uuid.UUID]string, len(accounts))
	for _, a := range accounts {
		codeByID[a.AccountID] = a.Code
	}

	type key struct {
		account  uuid.UUID
		currency string
	}
	debits := map[key]decimal.Decimal{}
	credits := map[key]decimal.Decimal{}
	for _, e := range entries {
		for _, l := range e.Lines {
			k := key{l.AccountID, l.Currency}
			if l.Side == Debit {
				debits[k] = debits[k].Add(l.Amount)
			} else {
				credits[k] = credits[k].Add(l.Amount)
			}
		}
	}

	var out []TrialBalanceEntry
	seen := map[key]bool{}
	for k := range debits {
		seen[k] = true
	}
	for k := range credits {
		seen[k] = true
	}
	for k := range seen {
		out = append(out, TrialBalanceEntry{
			AccountCode: codeByID[k.account],
			Currency:    k.currency,
			DebitTotal:  debits[k],
			CreditTotal: credits[k],
			Balance:     debits[k].Sub(credits[k]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountCode != out[j].AccountCode {
			return out[i].AccountCode < out[j].AccountCode
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

// TrialBalanceTotals sums gross debit and credit footings across posted
// entries as of asOf, excluding reversal entries: a reversing entry
// corrects its original rather than recording new period volume, so the
// pair is counted once, through the original it points at (spec.md §8
// S6: "100.00 (from the two entries combined)" for a 100.00 sale and
// its same-period reversal).
func (s *LedgerSelector) TrialBalanceTotals(tx *bbolt.Tx, asOf *time.Time) (debits, credits decimal.Decimal, err error) {
	entries, err := s.postedLinesAsOf(tx, asOf)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	debits, credits = decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.ReversalOfID != nil {
			continue
		}
		for _, l := range e.Lines {
			if l.Side == Debit {
				debits = debits.Add(l.Amount)
			} else {
				credits = credits.Add(l.Amount)
			}
		}
	}
	return debits, credits, nil
}

// CanonicalHash computes a deterministic hash over all POSTED lines with
// effective_date <= asOf, sorted by (entry_seq, line_seq): hash each
// entry with HashJournalEntry, then hash the concatenated list.
// Identical content produces an identical hash across any replay.
func (s *LedgerSelector) CanonicalHash(tx *bbolt.Tx, asOf *time.Time) (string, error) {
	entries, err := s.postedLinesAsOf(tx, asOf)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool {
		si, sj := uint64(0), uint64(0)
		if entries[i].Seq != nil {
			si = *entries[i].Seq
		}
		if entries[j].Seq != nil {
			sj = *entries[j].Seq
		}
		return si < sj
	})

	entryHashes := make([]any, len(entries))
	for i, e := range entries {
		sortLines(e)
		h, err := s.hasher.HashJournalEntry(e.EntryID, e.Lines)
		if err != nil {
			return "", err
		}
		entryHashes[i] = h
	}
	return s.hasher.HashPayload(map[string]any{"entries": entryHashes})
}

// SubledgerSelector aggregates subledger balances and reports variance
// against the corresponding GL control account, adapted from the
// teacher's reconciliation.go summary idiom.
type SubledgerSelector struct {
	ledger  *LedgerSelector
	storage *Storage
}

// NewSubledgerSelector constructs a SubledgerSelector.
func NewSubledgerSelector(ledger *LedgerSelector, storage *Storage) *SubledgerSelector {
	return &SubledgerSelector{ledger: ledger, storage: storage}
}

// AggregateBalance sums the balance of every account of subledgerType as
// of asOf, in currency.
func (s *SubledgerSelector) AggregateBalance(tx *bbolt.Tx, subledgerType SubledgerType, asOf time.Time, currency string) (decimal.Decimal, error) {
	accounts, err := s.storage.AllAccounts(tx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range accounts {
		if a.SubledgerType != string(subledgerType) {
			continue
		}
		bal, err := s.ledger.AccountBalance(tx, a.AccountID, &asOf, currency)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(bal)
	}
	return total, nil
}

// ReconciliationVariance reports the subledger's aggregate balance, the
// GL control account's balance, and their difference (ideally zero).
func (s *SubledgerSelector) ReconciliationVariance(tx *bbolt.Tx, subledgerType SubledgerType, asOf time.Time, currency string) (subledgerBalance, controlBalance, variance decimal.Decimal, err error) {
	subledgerBalance, err = s.AggregateBalance(tx, subledgerType, asOf, currency)
	if err != nil {
		return
	}
	controlCode, ok := ControlAccountCodes[subledgerType]
	if !ok {
		err = ErrNotFound("control account code", string(subledgerType))
		return
	}
	controlAccount, found, aErr := s.storage.AccountByCode(tx, controlCode)
	if aErr != nil {
		err = aErr
		return
	}
	if !found {
		err = ErrInvalidAccount(controlCode)
		return
	}
	controlBalance, err = s.ledger.AccountBalance(tx, controlAccount.AccountID, &asOf, currency)
	if err != nil {
		return
	}
	variance = subledgerBalance.Sub(controlBalance)
	return
}
