package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// PostingStatus is the outcome of one PostEvent pipeline run.
type PostingStatus string

const (
	PostingPosted            PostingStatus = "POSTED"
	PostingAlreadyPosted      PostingStatus = "ALREADY_POSTED"
	PostingDuplicateNoop      PostingStatus = "DUPLICATE_NOOP"
	PostingValidationFailed   PostingStatus = "VALIDATION_FAILED"
	PostingPeriodClosed       PostingStatus = "PERIOD_CLOSED"
	PostingIngestionFailed    PostingStatus = "INGESTION_FAILED"
)

// PostingResult is the outcome of PostingOrchestrator.PostEvent.
type PostingResult struct {
	Status  PostingStatus
	EntryID *uuid.UUID
	Message string
}

// closeNamespacePrefix marks an event type as a close posting for the
// period gate (spec.md §4.9 step 3). Collaborators driving the close
// pipeline use event types under this namespace.
const closeNamespacePrefix = "close."

// PostingOrchestrator runs the single post_event pipeline that turns an
// external event into a posted journal entry (spec.md §4.9): ingest,
// load reference data, gate on the fiscal period, interpret via a
// Strategy, persist, audit, and record an InterpretationOutcome.
type PostingOrchestrator struct {
	ingestor *EventIngestor
	refData  *ReferenceDataCache
	periods  *PeriodController
	registry *StrategyRegistry
	journal  *JournalWriter
	auditor  *Auditor
	storage  *Storage
	clock    Clock
}

// NewPostingOrchestrator wires the pipeline's collaborators.
func NewPostingOrchestrator(ingestor *EventIngestor, refData *ReferenceDataCache, periods *PeriodController, registry *StrategyRegistry, journal *JournalWriter, auditor *Auditor, storage *Storage, clock Clock) *PostingOrchestrator {
	return &PostingOrchestrator{
		ingestor: ingestor,
		refData:  refData,
		periods:  periods,
		registry: registry,
		journal:  journal,
		auditor:  auditor,
		storage:  storage,
		clock:    clock,
	}
}

// PostEvent runs the full pipeline within tx.
func (o *PostingOrchestrator) PostEvent(tx *bbolt.Tx, eventID uuid.UUID, eventType string, occurredAt, effectiveDate time.Time, actorID uuid.UUID, producer string, payload map[string]any, schemaVersion int) (PostingResult, error) {
	isClosePosting := strings.HasPrefix(eventType, closeNamespacePrefix)

	// 1. Ingest.
	ingestResult, err := o.ingestor.Ingest(tx, eventID, eventType, occurredAt, effectiveDate, actorID, producer, payload, schemaVersion)
	if err != nil {
		return PostingResult{}, err
	}
	if ingestResult.Status == IngestRejected {
		if err := o.recordOutcome(tx, eventID, OutcomeRejected, nil, "IngestionFailed", ingestResult.Message); err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Status: PostingIngestionFailed, Message: ingestResult.Message}, nil
	}
	if ingestResult.Status == IngestDuplicate {
		existing, found, err := o.journal.GetEntryByEvent(tx, eventID)
		if err != nil {
			return PostingResult{}, err
		}
		if found {
			return PostingResult{Status: PostingAlreadyPosted, EntryID: &existing.EntryID, Message: "duplicate event, already posted"}, nil
		}
		return PostingResult{Status: PostingDuplicateNoop, Message: "duplicate event, not yet posted"}, nil
	}

	// 2. Load reference snapshot.
	ref, err := o.refData.Load(tx, effectiveDate)
	if err != nil {
		return PostingResult{}, err
	}

	// 3. Period gate.
	if _, err := o.periods.ValidateEffectiveDate(tx, effectiveDate, isClosePosting); err != nil {
		if _, auditErr := o.auditor.RecordPeriodViolation(tx, effectiveDate.Format("2006-01-02"), actorID, err.Error()); auditErr != nil {
			return PostingResult{}, auditErr
		}
		if err := o.recordOutcome(tx, eventID, OutcomePeriodClosed, nil, "PeriodClosed", err.Error()); err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Status: PostingPeriodClosed, Message: err.Error()}, nil
	}

	// 4. Interpret via strategy.
	strategy, err := o.registry.Resolve(eventType, schemaVersion)
	if err != nil {
		if err := o.recordOutcome(tx, eventID, OutcomeValidationFailed, nil, "StrategyVersionOutOfRange", err.Error()); err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Status: PostingValidationFailed, Message: err.Error()}, nil
	}

	envelope := ingestResult.Event
	if envelope == nil {
		loaded, found, err := o.ingestor.GetEvent(tx, eventID)
		if err != nil {
			return PostingResult{}, err
		}
		if !found {
			return PostingResult{}, ErrEventNotFound(eventID.String())
		}
		envelope = loaded
	}

	proposal, validationErrs := strategy.Interpret(*envelope, ref)
	if len(validationErrs) > 0 {
		msg := joinErrors(validationErrs)
		if err := o.recordOutcome(tx, eventID, OutcomeValidationFailed, nil, "ValidationError", msg); err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Status: PostingValidationFailed, Message: msg}, nil
	}

	// 5. Idempotency key.
	proposal.IdempotencyKey = producer + ":" + eventType + ":" + eventID.String()
	proposal.Event = *envelope
	if proposal.Metadata.ReferenceSnapshotVersions == nil {
		proposal.Metadata.ReferenceSnapshotVersions = ref.VersionIdentifiers()
	}

	// 6. Persist.
	result, err := o.journal.Persist(tx, proposal)
	if err != nil {
		if err := o.recordOutcome(tx, eventID, OutcomeValidationFailed, nil, "PostingFailed", err.Error()); err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Status: PostingValidationFailed, Message: err.Error()}, nil
	}
	switch result.Status {
	case PersistAlreadyExists:
		if err := o.recordOutcome(tx, eventID, OutcomeAlreadyPosted, result.ExistingEntryID, "", result.Message); err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Status: PostingAlreadyPosted, EntryID: result.ExistingEntryID, Message: result.Message}, nil
	case PersistFailed:
		if err := o.recordOutcome(tx, eventID, OutcomeValidationFailed, nil, "PostingFailed", result.Message); err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Status: PostingValidationFailed, Message: result.Message}, nil
	}

	// 7 & 8. Audit (already recorded by JournalWriter) and outcome.
	if err := o.recordOutcome(tx, eventID, OutcomePosted, &result.Entry.EntryID, "", ""); err != nil {
		return PostingResult{}, err
	}
	return PostingResult{Status: PostingPosted, EntryID: &result.Entry.EntryID}, nil
}

func (o *PostingOrchestrator) recordOutcome(tx *bbolt.Tx, eventID uuid.UUID, status InterpretationOutcomeStatus, entryID *uuid.UUID, errorCode, errorMsg string) error {
	return o.storage.PutInterpretationOutcome(tx, &InterpretationOutcome{
		OutcomeID:  uuid.New(),
		EventID:    eventID,
		Status:     status,
		EntryID:    entryID,
		ErrorCode:  errorCode,
		ErrorMsg:   errorMsg,
		RecordedAt: o.clock.Now(),
	})
}

func joinErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}
