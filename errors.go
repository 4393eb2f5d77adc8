package ledger

import "fmt"

// KernelError is the closed taxonomy of domain errors the kernel raises.
// It carries a stable machine code, matched with errors.As rather than
// string comparison, in the spirit of the teacher's posting_engine.go
// PostingError{Code, Message} but widened to spec.md §7's full grouping.
type KernelError struct {
	code    string
	message string
}

func newErr(code, format string, args ...any) *KernelError {
	return &KernelError{code: code, message: fmt.Sprintf(format, args...)}
}

func (e *KernelError) Error() string { return fmt.Sprintf("%s: %s", e.code, e.message) }

// Code returns the stable machine-readable error code.
func (e *KernelError) Code() string { return e.code }

// Event protocol errors.
func ErrEventNotFound(eventID string) error {
	return newErr("EventNotFound", "event %s not found", eventID)
}
func ErrPayloadMismatch(eventID, expected, got string) error {
	return newErr("PayloadMismatch", "event %s: payload hash mismatch (expected %s, got %s)", eventID, expected, got)
}
func ErrUnsupportedSchemaVersion(eventType string, version int) error {
	return newErr("UnsupportedSchemaVersion", "event type %s: unsupported schema version %d", eventType, version)
}
func ErrSchemaValidation(msg string) error {
	return newErr("SchemaValidationError", "%s", msg)
}

// Posting errors.
func ErrAlreadyPosted(entryID string) error {
	return newErr("AlreadyPosted", "entry %s already posted", entryID)
}
func ErrUnbalancedEntry(currency string) error {
	return newErr("UnbalancedEntry", "entry does not balance for currency %s", currency)
}
func ErrInvalidAccount(accountID string) error {
	return newErr("InvalidAccount", "account %s does not exist or is not postable", accountID)
}
func ErrMissingDimension(dimCode string) error {
	return newErr("MissingDimension", "dimension %s not found", dimCode)
}
func ErrInvalidDimensionValue(dimCode, valueCode string) error {
	return newErr("InvalidDimensionValue", "dimension %s has no value %s", dimCode, valueCode)
}
func ErrInactiveDimension(dimCode string) error {
	return newErr("InactiveDimension", "dimension %s is inactive", dimCode)
}
func ErrInactiveDimensionValue(dimCode, valueCode string) error {
	return newErr("InactiveDimensionValue", "dimension %s value %s is inactive", dimCode, valueCode)
}
func ErrDimensionNotFound(dimCode string) error {
	return newErr("DimensionNotFound", "dimension %s not found", dimCode)
}

// Period errors.
func ErrClosedPeriod(periodCode string) error {
	return newErr("ClosedPeriod", "period %s is closed", periodCode)
}
func ErrPeriodNotFound(dateOrCode string) error {
	return newErr("PeriodNotFound", "no fiscal period covers %s", dateOrCode)
}
func ErrPeriodAlreadyClosed(periodCode string) error {
	return newErr("PeriodAlreadyClosed", "period %s is already closed", periodCode)
}
func ErrPeriodOverlap(periodCode, other string) error {
	return newErr("PeriodOverlap", "period %s overlaps existing period %s", periodCode, other)
}
func ErrPeriodImmutable(periodCode string) error {
	return newErr("PeriodImmutable", "period %s is closed or locked and cannot be changed", periodCode)
}
func ErrAdjustmentsNotAllowed(periodCode string) error {
	return newErr("AdjustmentsNotAllowed", "period %s does not allow adjustments", periodCode)
}
func ErrPeriodClosing(periodCode string) error {
	return newErr("PeriodClosing", "period %s is closing; only close postings are accepted", periodCode)
}
func ErrCloseAuthorityDenied(actorID string, phase int) error {
	return newErr("CloseAuthorityDenied", "actor %s lacks authority for close phase %d", actorID, phase)
}

// Reversal errors.
func ErrEntryNotPosted(entryID string) error {
	return newErr("EntryNotPosted", "entry %s is not posted", entryID)
}
func ErrEntryAlreadyReversed(entryID string) error {
	return newErr("EntryAlreadyReversed", "entry %s already has a reversal", entryID)
}
func ErrCrossLedgerReversal(entryID string) error {
	return newErr("CrossLedgerReversal", "reversal of %s would cross ledger boundaries", entryID)
}

// Rounding errors.
func ErrMultipleRoundingLines(currency string) error {
	return newErr("MultipleRoundingLines", "more than one rounding line proposed for currency %s", currency)
}
func ErrRoundingAmountExceeded(currency string) error {
	return newErr("RoundingAmountExceeded", "rounding gap for currency %s exceeds the bound", currency)
}
func ErrStrategyRoundingViolation(strategyKey string) error {
	return newErr("StrategyRoundingViolation", "strategy %s emitted an is_rounding line", strategyKey)
}

// Reference snapshot errors.
func ErrMissingReferenceSnapshot() error {
	return newErr("MissingReferenceSnapshot", "no reference data snapshot available")
}
func ErrStaleReferenceSnapshot(scope string) error {
	return newErr("StaleReferenceSnapshot", "reference snapshot for %s drifted since posting", scope)
}

// Strategy errors.
func ErrStrategyVersionOutOfRange(eventType string, version int) error {
	return newErr("StrategyVersionOutOfRange", "event type %s: strategy version %d out of supported range", eventType, version)
}

// Audit errors.
func ErrAuditChainBroken(auditID string, expected, actual string) error {
	return newErr("AuditChainBroken", "audit event %s: expected hash %s, got %s", auditID, expected, actual)
}

// Concurrency errors.
func ErrOptimisticLockConflict(entity string) error {
	return newErr("OptimisticLockConflict", "%s was concurrently modified", entity)
}

// Exchange rate / link graph errors.
func ErrExchangeRateArbitrage(from, to string) error {
	return newErr("ExchangeRateArbitrage", "rate %s->%s is inconsistent with its inverse", from, to)
}
func ErrExchangeRateNotFound(from, to string) error {
	return newErr("ExchangeRateNotFound", "no rate found for %s->%s", from, to)
}
func ErrSelfLink() error {
	return newErr("SelfLinkError", "a link cannot connect an artifact to itself")
}
func ErrInvalidLinkType(linkType string) error {
	return newErr("InvalidLinkType", "%s is not a declared link type", linkType)
}
func ErrLinkCycle(linkType string) error {
	return newErr("LinkCycleError", "establishing this %s link would create a cycle", linkType)
}
func ErrDuplicateLink(linkType, parent, child string) error {
	return newErr("DuplicateLink", "link %s %s->%s already exists", linkType, parent, child)
}
func ErrMaxChildrenExceeded(linkType, parent string) error {
	return newErr("MaxChildrenExceeded", "parent %s already has the maximum number of %s links", parent, linkType)
}

// Serialization errors (Hasher, spec.md §4.1).
func ErrSerialization(msg string) error {
	return newErr("SerializationError", "%s", msg)
}

// Not-found / generic storage errors.
func ErrNotFound(kind, id string) error {
	return newErr("NotFound", "%s %s not found", kind, id)
}

// ErrImmutableWrite is the storage-layer rejection of an UPDATE or DELETE
// against a row spec.md §6 declares immutable once written: an Event
// after insert, a POSTED JournalEntry, or any audit_events row.
func ErrImmutableWrite(kind, id string) error {
	return newErr("ImmutableWrite", "%s %s is immutable and cannot be modified", kind, id)
}
