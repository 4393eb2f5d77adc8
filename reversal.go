package ledger

import (
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// ReversalResult is the outcome of a successful reversal.
type ReversalResult struct {
	OriginalEntryID uuid.UUID
	ReversalEntryID uuid.UUID
	ReversalSeq     uint64
	EffectiveDate   time.Time
	LinkID          uuid.UUID
}

// ReversalService reverses a POSTED journal entry by writing a mirrored
// reversing entry, linking it to the original, and recording an audit
// event, all within one transaction (spec.md §4.10), ported from
// _examples/original_source/finance_kernel/services/reversal_service.py.
// The original entry is never mutated (R10): "is reversed" is derived
// from the existence of a JournalEntry whose ReversalOfID points at it.
type ReversalService struct {
	journal *JournalWriter
	auditor *Auditor
	links   *LinkGraph
	periods *PeriodController
	clock   Clock
}

// NewReversalService constructs a ReversalService over its collaborators.
func NewReversalService(journal *JournalWriter, auditor *Auditor, links *LinkGraph, periods *PeriodController, clock Clock) *ReversalService {
	return &ReversalService{journal: journal, auditor: auditor, links: links, periods: periods, clock: clock}
}

// ReverseInSamePeriod reverses originalEntryID using its own effective
// date as the reversal's effective date. Fails if that period is no
// longer open.
func (r *ReversalService) ReverseInSamePeriod(tx *bbolt.Tx, originalEntryID uuid.UUID, reason string, actorID uuid.UUID, reversalEventID *uuid.UUID) (*ReversalResult, error) {
	original, err := r.loadAndValidate(tx, originalEntryID)
	if err != nil {
		return nil, err
	}
	return r.execute(tx, original, original.EffectiveDate, reason, actorID, reversalEventID)
}

// ReverseInCurrentPeriod reverses originalEntryID into a caller-specified
// open period, for use when the original's own period is closed.
func (r *ReversalService) ReverseInCurrentPeriod(tx *bbolt.Tx, originalEntryID uuid.UUID, reason string, actorID uuid.UUID, effectiveDate time.Time, reversalEventID *uuid.UUID) (*ReversalResult, error) {
	original, err := r.loadAndValidate(tx, originalEntryID)
	if err != nil {
		return nil, err
	}
	return r.execute(tx, original, effectiveDate, reason, actorID, reversalEventID)
}

func (r *ReversalService) loadAndValidate(tx *bbolt.Tx, originalEntryID uuid.UUID) (*JournalEntry, error) {
	original, found, err := r.journal.GetEntry(tx, originalEntryID)
	if err != nil {
		return nil, err
	}
	if !found || original.Status != EntryPosted {
		return nil, ErrEntryNotPosted(originalEntryID.String())
	}
	existingReversal, found, err := r.journal.storage.GetJournalEntryByReversalOf(tx, originalEntryID)
	if err != nil {
		return nil, err
	}
	if found && existingReversal != nil {
		return nil, ErrEntryAlreadyReversed(originalEntryID.String())
	}
	return original, nil
}

func (r *ReversalService) execute(tx *bbolt.Tx, original *JournalEntry, effectiveDate time.Time, reason string, actorID uuid.UUID, reversalEventID *uuid.UUID) (*ReversalResult, error) {
	if _, err := r.periods.ValidateEffectiveDate(tx, effectiveDate, true); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	eventID := uuid.New()
	if reversalEventID != nil {
		eventID = *reversalEventID
	}

	var originalSeq uint64
	if original.Seq != nil {
		originalSeq = *original.Seq
	}
	reversalEvent := Event{
		EventID:       eventID,
		EventType:     "system.reversal",
		OccurredAt:    now,
		EffectiveDate: effectiveDate,
		ActorID:       actorID,
		Producer:      "kernel.reversal_service",
		Payload: map[string]any{
			"original_entry_id": original.EntryID,
			"original_seq":      originalSeq,
			"reason":            reason,
		},
		SchemaVersion: 1,
		IngestedAt:    now,
	}

	result, err := r.journal.WriteReversal(tx, original, reversalEvent, actorID, reason, original.EntryMetadata.OwningLedgerID)
	if err != nil {
		return nil, err
	}
	if result.Status != PersistPersisted {
		return nil, ErrEntryAlreadyReversed(original.EntryID.String())
	}

	link, err := r.links.Establish(tx, LinkReversedBy, original.EntryID, result.Entry.EntryID, eventID, map[string]any{
		"reason":        reason,
		"original_seq":  originalSeq,
		"reversal_seq":  *result.Entry.Seq,
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.auditor.RecordJournalReversed(tx, result.Entry.EntryID, original.EntryID, actorID); err != nil {
		return nil, err
	}

	return &ReversalResult{
		OriginalEntryID: original.EntryID,
		ReversalEntryID: result.Entry.EntryID,
		ReversalSeq:     *result.Entry.Seq,
		EffectiveDate:   effectiveDate,
		LinkID:          link.LinkID,
	}, nil
}
