package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// IngestStatus is the outcome of an ingestion attempt.
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "ACCEPTED"
	IngestDuplicate IngestStatus = "DUPLICATE" // idempotent success
	IngestRejected  IngestStatus = "REJECTED"
)

// IngestResult reports what Ingest did with one submitted event.
type IngestResult struct {
	Status  IngestStatus
	EventID uuid.UUID
	Event   *Event
	Message string
}

// IsSuccess reports whether ingestion succeeded, including idempotent
// duplicates.
func (r IngestResult) IsSuccess() bool {
	return r.Status == IngestAccepted || r.Status == IngestDuplicate
}

// EventSchema describes the minimal shape ValidateEvent enforces for a
// given event type. The kernel ships no built-in schemas; collaborators
// register one per event_type they intend to post.
type EventSchema struct {
	RequiredFields []string
	MaxVersion     int
}

// EventIngestor is the entry point for external events (spec.md §4.4),
// ported from
// _examples/original_source/finance_kernel/services/ingestor_service.py.
// It validates payloads at the boundary, detects duplicate/conflicting
// submissions via payload-hash comparison, and writes immutable Event
// rows.
type EventIngestor struct {
	storage *Storage
	auditor *Auditor
	clock   Clock
	schemas map[string]EventSchema
}

// NewEventIngestor constructs an EventIngestor. schemas may be nil; event
// types absent from it are accepted with no field-presence or
// schema_version checks.
func NewEventIngestor(storage *Storage, auditor *Auditor, clock Clock, schemas map[string]EventSchema) *EventIngestor {
	if schemas == nil {
		schemas = map[string]EventSchema{}
	}
	return &EventIngestor{storage: storage, auditor: auditor, clock: clock, schemas: schemas}
}

// RegisterSchema adds or replaces the schema for eventType.
func (ing *EventIngestor) RegisterSchema(eventType string, schema EventSchema) {
	ing.schemas[eventType] = schema
}

func (ing *EventIngestor) validate(eventType string, payload map[string]any, schemaVersion int) []string {
	schema, ok := ing.schemas[eventType]
	if !ok {
		return nil
	}
	var errs []string
	if schema.MaxVersion > 0 && schemaVersion > schema.MaxVersion {
		errs = append(errs, fmt.Sprintf("schema_version %d exceeds max %d for %s", schemaVersion, schema.MaxVersion, eventType))
	}
	for _, field := range schema.RequiredFields {
		if _, present := payload[field]; !present {
			errs = append(errs, fmt.Sprintf("missing required field %q", field))
		}
	}
	return errs
}

// Ingest validates, deduplicates, and persists one event within tx
// (spec.md §4.4):
//  1. Validate at the boundary against any registered schema.
//  2. Compute the payload hash (R2).
//  3. Look up an existing event with the same id; same hash is an
//     idempotent DUPLICATE, different hash is a REJECTED protocol
//     violation (R2).
//  4. Otherwise persist a new immutable Event row (R1) and record
//     EVENT_INGESTED.
func (ing *EventIngestor) Ingest(tx *bbolt.Tx, eventID uuid.UUID, eventType string, occurredAt, effectiveDate time.Time, actorID uuid.UUID, producer string, payload map[string]any, schemaVersion int) (IngestResult, error) {
	if errs := ing.validate(eventType, payload, schemaVersion); len(errs) > 0 {
		if _, err := ing.auditor.RecordValidationFailure(tx, eventID, actorID, errs); err != nil {
			return IngestResult{}, err
		}
		return IngestResult{Status: IngestRejected, EventID: eventID, Message: "validation failed"}, nil
	}

	hasher := NewHasher()
	payloadHash, err := hasher.HashPayload(payload)
	if err != nil {
		return IngestResult{}, fmt.Errorf("hash payload: %w", err)
	}

	existing, found, err := ing.storage.GetEvent(tx, eventID)
	if err != nil {
		return IngestResult{}, err
	}
	if found {
		if existing.PayloadHash != payloadHash {
			if _, err := ing.auditor.RecordPayloadMismatch(tx, eventID, existing.PayloadHash, payloadHash, actorID); err != nil {
				return IngestResult{}, err
			}
			return IngestResult{Status: IngestRejected, EventID: eventID, Message: "payload hash mismatch - events are immutable"}, nil
		}
		return IngestResult{Status: IngestDuplicate, EventID: eventID, Event: existing, Message: "event already ingested"}, nil
	}

	event := &Event{
		EventID:       eventID,
		EventType:     eventType,
		OccurredAt:    occurredAt,
		EffectiveDate: effectiveDate,
		ActorID:       actorID,
		Producer:      producer,
		Payload:       payload,
		PayloadHash:   payloadHash,
		SchemaVersion: schemaVersion,
		IngestedAt:    ing.clock.Now(),
	}
	if err := ing.storage.PutEvent(tx, event); err != nil {
		return IngestResult{}, fmt.Errorf("put event: %w", err)
	}
	if _, err := ing.auditor.RecordEventIngested(tx, eventID, eventType, producer, actorID); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Status: IngestAccepted, EventID: eventID, Event: event, Message: "event ingested successfully"}, nil
}

// GetEvent returns a previously ingested event by id.
func (ing *EventIngestor) GetEvent(tx *bbolt.Tx, eventID uuid.UUID) (*Event, bool, error) {
	return ing.storage.GetEvent(tx, eventID)
}

// GetEventsByType returns up to limit events of eventType.
func (ing *EventIngestor) GetEventsByType(tx *bbolt.Tx, eventType string, limit int) ([]*Event, error) {
	return ing.storage.GetEventsByType(tx, eventType, limit)
}
