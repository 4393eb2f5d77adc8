package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// Auditor appends hash-chained rows to the audit log and exposes
// domain-specific recorder methods, one per AuditAction, matching the
// narrow recording surface original_source's AuditorService exposes to its
// collaborators (record_event_ingested, record_event_rejected, and so on)
// rather than one generic "append anything" call.
type Auditor struct {
	storage *Storage
	seq     *SequenceAllocator
	hasher  Hasher
	clock   Clock
}

// NewAuditor constructs an Auditor over storage, using clock for
// AuditEvent.OccurredAt timestamps.
func NewAuditor(storage *Storage, seq *SequenceAllocator, clock Clock) *Auditor {
	return &Auditor{storage: storage, seq: seq, hasher: NewHasher(), clock: clock}
}

// append computes the next seq and hash-chain link, then persists the row.
// Every recorder method funnels through here so the chain can never skip a
// link (R11).
func (a *Auditor) append(tx *bbolt.Tx, entityType, entityID string, action AuditAction, actorID *uuid.UUID, payload map[string]any) (*AuditEvent, error) {
	payloadHash, err := a.hasher.HashPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("hash audit payload: %w", err)
	}

	prevRow, ok, err := a.storage.LastAuditEvent(tx)
	if err != nil {
		return nil, fmt.Errorf("read last audit event: %w", err)
	}
	var prevHash *string
	if ok {
		prevHash = &prevRow.Hash
	}

	nextSeq, err := a.seq.Next(tx, StreamAuditEvent)
	if err != nil {
		return nil, fmt.Errorf("allocate audit seq: %w", err)
	}

	row := &AuditEvent{
		AuditID:     uuid.New(),
		Seq:         nextSeq,
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		ActorID:     actorID,
		OccurredAt:  a.clock.Now(),
		Payload:     payload,
		PayloadHash: payloadHash,
		PrevHash:    prevHash,
		Hash:        a.hasher.HashAuditEvent(entityType, entityID, action, payloadHash, prevHash),
	}
	if err := a.storage.AppendAuditEvent(tx, row); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	return row, nil
}

// RecordEventIngested records a successful event ingestion.
func (a *Auditor) RecordEventIngested(tx *bbolt.Tx, eventID uuid.UUID, eventType, producer string, actorID uuid.UUID) (*AuditEvent, error) {
	return a.append(tx, "event", eventID.String(), ActionEventIngested, &actorID, map[string]any{
		"event_type": eventType,
		"producer":   producer,
	})
}

// RecordEventRejected records a rejected event (validation failure, hash
// mismatch, or concurrent-insert conflict).
func (a *Auditor) RecordEventRejected(tx *bbolt.Tx, eventID uuid.UUID, reason string, actorID uuid.UUID) (*AuditEvent, error) {
	return a.append(tx, "event", eventID.String(), ActionEventRejected, &actorID, map[string]any{
		"reason": reason,
	})
}

// RecordJournalDraftCreated records the creation of a draft journal entry.
func (a *Auditor) RecordJournalDraftCreated(tx *bbolt.Tx, entryID uuid.UUID, actorID uuid.UUID, sourceEventID uuid.UUID) (*AuditEvent, error) {
	return a.append(tx, "journal_entry", entryID.String(), ActionJournalDraftCreated, &actorID, map[string]any{
		"source_event_id": sourceEventID,
	})
}

// RecordJournalPosted records the posting of a balanced journal entry.
func (a *Auditor) RecordJournalPosted(tx *bbolt.Tx, entryID uuid.UUID, actorID uuid.UUID, entryHash string, seq uint64) (*AuditEvent, error) {
	return a.append(tx, "journal_entry", entryID.String(), ActionJournalPosted, &actorID, map[string]any{
		"entry_hash": entryHash,
		"seq":        seq,
	})
}

// RecordJournalReversed records the posting of a reversing entry against
// an original.
func (a *Auditor) RecordJournalReversed(tx *bbolt.Tx, reversingEntryID, originalEntryID uuid.UUID, actorID uuid.UUID) (*AuditEvent, error) {
	return a.append(tx, "journal_entry", reversingEntryID.String(), ActionJournalReversed, &actorID, map[string]any{
		"reversal_of_id": originalEntryID,
	})
}

// RecordPeriodOpened records the creation of a new fiscal period.
func (a *Auditor) RecordPeriodOpened(tx *bbolt.Tx, periodCode string, actorID uuid.UUID) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionPeriodOpened, &actorID, map[string]any{})
}

// RecordPeriodClosed records a period transitioning to CLOSED or LOCKED.
func (a *Auditor) RecordPeriodClosed(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, newStatus PeriodStatus) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionPeriodClosed, &actorID, map[string]any{
		"new_status": string(newStatus),
	})
}

// RecordPeriodViolation records an attempted posting against a closed,
// closing, or locked period.
func (a *Auditor) RecordPeriodViolation(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, reason string) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionPeriodViolation, &actorID, map[string]any{
		"reason": reason,
	})
}

// RecordProtocolViolation records a structural protocol violation (e.g.
// unbalanced entry, invalid account) caught during posting.
func (a *Auditor) RecordProtocolViolation(tx *bbolt.Tx, entityID string, actorID uuid.UUID, reason string) (*AuditEvent, error) {
	return a.append(tx, "journal_entry", entityID, ActionProtocolViolation, &actorID, map[string]any{
		"reason": reason,
	})
}

// RecordPayloadMismatch records a re-submitted event_id whose payload hash
// no longer matches the original (R2).
func (a *Auditor) RecordPayloadMismatch(tx *bbolt.Tx, eventID uuid.UUID, expected, got string, actorID uuid.UUID) (*AuditEvent, error) {
	return a.append(tx, "event", eventID.String(), ActionPayloadMismatch, &actorID, map[string]any{
		"expected_hash": expected,
		"got_hash":      got,
	})
}

// RecordValidationFailure records a schema/boundary validation failure.
func (a *Auditor) RecordValidationFailure(tx *bbolt.Tx, eventID uuid.UUID, actorID uuid.UUID, errs []string) (*AuditEvent, error) {
	anyErrs := make([]any, len(errs))
	for i, e := range errs {
		anyErrs[i] = e
	}
	return a.append(tx, "event", eventID.String(), ActionValidationFailure, &actorID, map[string]any{
		"errors": anyErrs,
	})
}

// RecordCloseBegun records a period entering CLOSING.
func (a *Auditor) RecordCloseBegun(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, closingRunID uuid.UUID) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionCloseBegun, &actorID, map[string]any{
		"closing_run_id": closingRunID,
	})
}

// RecordSubledgerClosed records one subledger's reconciliation phase
// completing during a close run.
func (a *Auditor) RecordSubledgerClosed(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, subledger string, variance string) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionSubledgerClosed, &actorID, map[string]any{
		"subledger": subledger,
		"variance":  variance,
	})
}

// RecordCloseCertified records the issuance of a CloseCertificate.
func (a *Auditor) RecordCloseCertified(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, certificateID uuid.UUID, ledgerHash string) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionCloseCertified, &actorID, map[string]any{
		"certificate_id": certificateID,
		"ledger_hash":    ledgerHash,
	})
}

// RecordCloseCancelled records an in-progress close run being abandoned.
func (a *Auditor) RecordCloseCancelled(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, reason string) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionCloseCancelled, &actorID, map[string]any{
		"reason": reason,
	})
}

// RecordAccountCreated records a chart-of-accounts addition.
func (a *Auditor) RecordAccountCreated(tx *bbolt.Tx, accountID uuid.UUID, actorID uuid.UUID, code string) (*AuditEvent, error) {
	return a.append(tx, "account", accountID.String(), ActionAccountCreated, &actorID, map[string]any{
		"code": code,
	})
}

// RecordAccountDeactivated records an account being retired from posting.
func (a *Auditor) RecordAccountDeactivated(tx *bbolt.Tx, accountID uuid.UUID, actorID uuid.UUID) (*AuditEvent, error) {
	return a.append(tx, "account", accountID.String(), ActionAccountDeactivated, &actorID, map[string]any{})
}

// RecordApprovalGranted records a close-phase approval.
func (a *Auditor) RecordApprovalGranted(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, phase int) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionApprovalGranted, &actorID, map[string]any{
		"phase": phase,
	})
}

// RecordApprovalRejected records a close-phase approval denial.
func (a *Auditor) RecordApprovalRejected(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, phase int, reason string) (*AuditEvent, error) {
	return a.append(tx, "fiscal_period", periodCode, ActionApprovalRejected, &actorID, map[string]any{
		"phase":  phase,
		"reason": reason,
	})
}

// ValidateChain walks the entire audit log in seq order and verifies each
// row's hash re-derives from its own fields and the previous row's hash,
// matching original_source's AuditorService.validate_chain. Returns the
// seq of the first broken link, or ok=true if the chain is intact.
func (a *Auditor) ValidateChain(tx *bbolt.Tx) (brokenAtSeq uint64, ok bool, err error) {
	rows, err := a.storage.AllAuditEventsBySeq(tx)
	if err != nil {
		return 0, false, err
	}
	var prevHash *string
	for _, row := range rows {
		expected := a.hasher.HashAuditEvent(row.EntityType, row.EntityID, row.Action, row.PayloadHash, prevHash)
		if expected != row.Hash {
			return row.Seq, false, nil
		}
		h := row.Hash
		prevHash = &h
	}
	return 0, true, nil
}
