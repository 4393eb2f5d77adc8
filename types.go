// Package ledger implements a double-entry financial posting kernel:
// event ingestion, balanced journal posting, an immutable journal with a
// fiscal-period state machine, a tamper-evident audit hash chain, and a
// six-phase period-close orchestrator.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amount is a fixed-point monetary value. Never compare amounts as floats;
// decimal.Decimal equality is exact.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// Event is the immutable boundary record of something that happened,
// before interpretation. Once persisted, no field changes (R1).
type Event struct {
	EventID       uuid.UUID      `json:"event_id"`
	EventType     string         `json:"event_type"`
	OccurredAt    time.Time      `json:"occurred_at"`
	EffectiveDate time.Time      `json:"effective_date"`
	ActorID       uuid.UUID      `json:"actor_id"`
	Producer      string         `json:"producer"`
	Payload       map[string]any `json:"payload"`
	PayloadHash   string         `json:"payload_hash"`
	SchemaVersion int            `json:"schema_version"`
	IngestedAt    time.Time      `json:"ingested_at"`
}

// PeriodStatus is the fiscal-period lifecycle state.
type PeriodStatus string

const (
	PeriodOpen    PeriodStatus = "OPEN"
	PeriodClosing PeriodStatus = "CLOSING"
	PeriodClosed  PeriodStatus = "CLOSED"
	PeriodLocked  PeriodStatus = "LOCKED"
)

// FiscalPeriod is a window of business time controlling postability.
type FiscalPeriod struct {
	PeriodID          uuid.UUID    `json:"period_id"`
	PeriodCode        string       `json:"period_code"`
	Name              string       `json:"name"`
	StartDate         time.Time    `json:"start_date"`
	EndDate           time.Time    `json:"end_date"`
	Status            PeriodStatus `json:"status"`
	AllowsAdjustments bool         `json:"allows_adjustments"`
	ClosingRunID      *uuid.UUID   `json:"closing_run_id,omitempty"`
	ClosedAt          *time.Time  `json:"closed_at,omitempty"`
	ClosedBy          *uuid.UUID   `json:"closed_by,omitempty"`
}

// AccountType is the normal-side classification of a chart-of-accounts node.
type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Revenue   AccountType = "REVENUE"
	Expense   AccountType = "EXPENSE"
)

// Account is a chart-of-accounts node. Posted lines reference AccountID;
// posted accounts cannot be deleted.
type Account struct {
	AccountID     uuid.UUID   `json:"account_id"`
	Code          string      `json:"code"`
	Name          string      `json:"name"`
	Type          AccountType `json:"type"`
	IsActive      bool        `json:"is_active"`
	SubledgerType string      `json:"subledger_type,omitempty"`
}

// Dimension is an analytical tag category (project, cost center, etc.).
type Dimension struct {
	DimensionCode string `json:"dimension_code"`
	Name          string `json:"name"`
	IsActive      bool   `json:"is_active"`
}

// DimensionValue is a permitted value within a Dimension. ValueCode is
// unique within DimensionCode; DimensionCode must reference an existing
// Dimension (I6 — no orphan dimension value).
type DimensionValue struct {
	DimensionCode string `json:"dimension_code"`
	ValueCode     string `json:"value_code"`
	Name          string `json:"name"`
	IsActive      bool   `json:"is_active"`
}

// ExchangeRate is a from/to currency rate valid on a date. Once referenced
// by a posted line it is immutable and undeletable.
type ExchangeRate struct {
	RateID       uuid.UUID       `json:"rate_id"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	ValidOn      time.Time       `json:"valid_on"`
	Referenced   bool            `json:"referenced"`
}

// EntryStatus is the lifecycle state of a JournalEntry. There is
// deliberately no REVERSED value — see DESIGN.md, Open Question 1.
// "Is reversed" is a derived property: whether a JournalEntry exists whose
// ReversalOfID points at this entry.
type EntryStatus string

const (
	EntryDraft  EntryStatus = "DRAFT"
	EntryPosted EntryStatus = "POSTED"
)

// Side is a journal line's debit/credit side.
type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// EntryMetadata is the opaque dict attached to a JournalEntry. It always
// carries the owning ledger id (so ReversalService can detect a
// cross-ledger reversal attempt) and the reference-snapshot version
// identifiers recorded at posting time (R21), used by replay to detect
// reference-data drift (R23).
type EntryMetadata struct {
	OwningLedgerID      uuid.UUID         `json:"owning_ledger_id"`
	ReferenceSnapshotVersions map[string]string `json:"reference_snapshot_versions"`
	Extra               map[string]any    `json:"extra,omitempty"`
}

// JournalEntry is the posting unit: a balanced group of debit/credit lines
// representing a single accounting transaction.
type JournalEntry struct {
	EntryID            uuid.UUID      `json:"entry_id"`
	SourceEventID       uuid.UUID      `json:"source_event_id"`
	SourceEventType     string         `json:"source_event_type"`
	OccurredAt          time.Time      `json:"occurred_at"`
	EffectiveDate       time.Time      `json:"effective_date"`
	ActorID             uuid.UUID      `json:"actor_id"`
	Status              EntryStatus    `json:"status"`
	Seq                 *uint64        `json:"seq,omitempty"`
	PostedAt            *time.Time     `json:"posted_at,omitempty"`
	IdempotencyKey       string         `json:"idempotency_key"`
	PostingRuleVersion   int            `json:"posting_rule_version"`
	Description          string         `json:"description,omitempty"`
	EntryMetadata        EntryMetadata  `json:"entry_metadata"`
	ReversalOfID         *uuid.UUID     `json:"reversal_of_id,omitempty"`
	Lines                []JournalLine  `json:"lines"`
}

// JournalLine is a single debit or credit within a JournalEntry.
type JournalLine struct {
	LineID          uuid.UUID         `json:"line_id"`
	EntryID         uuid.UUID         `json:"entry_id"`
	AccountID       uuid.UUID         `json:"account_id"`
	Side            Side              `json:"side"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Dimensions      map[string]string `json:"dimensions,omitempty"`
	IsRounding      bool              `json:"is_rounding"`
	LineMemo        string            `json:"line_memo,omitempty"`
	LineSeq         int               `json:"line_seq"`
	ExchangeRateID  *uuid.UUID        `json:"exchange_rate_id,omitempty"`
}

// AuditAction is a member of the closed audit-action taxonomy (spec.md §6).
type AuditAction string

const (
	ActionEventIngested      AuditAction = "EVENT_INGESTED"
	ActionEventRejected      AuditAction = "EVENT_REJECTED"
	ActionJournalDraftCreated AuditAction = "JOURNAL_DRAFT_CREATED"
	ActionJournalPosted      AuditAction = "JOURNAL_POSTED"
	ActionJournalReversed    AuditAction = "JOURNAL_REVERSED"
	ActionPeriodOpened       AuditAction = "PERIOD_OPENED"
	ActionPeriodClosed       AuditAction = "PERIOD_CLOSED"
	ActionPeriodViolation    AuditAction = "PERIOD_VIOLATION"
	ActionProtocolViolation  AuditAction = "PROTOCOL_VIOLATION"
	ActionPayloadMismatch    AuditAction = "PAYLOAD_MISMATCH"
	ActionValidationFailure  AuditAction = "VALIDATION_FAILURE"
	ActionCloseBegun         AuditAction = "CLOSE_BEGUN"
	ActionSubledgerClosed    AuditAction = "SUBLEDGER_CLOSED"
	ActionCloseCertified     AuditAction = "CLOSE_CERTIFIED"
	ActionCloseCancelled     AuditAction = "CLOSE_CANCELLED"
	ActionAccountCreated     AuditAction = "ACCOUNT_CREATED"
	ActionAccountDeactivated AuditAction = "ACCOUNT_DEACTIVATED"
	ActionApprovalGranted    AuditAction = "APPROVAL_GRANTED"
	ActionApprovalRejected   AuditAction = "APPROVAL_REJECTED"
)

// AuditEvent is a hash-chained append-only log row (R11).
type AuditEvent struct {
	AuditID     uuid.UUID      `json:"audit_id"`
	Seq         uint64         `json:"seq"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Action      AuditAction    `json:"action"`
	ActorID     *uuid.UUID     `json:"actor_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload"`
	PayloadHash string         `json:"payload_hash"`
	PrevHash    *string        `json:"prev_hash,omitempty"`
	Hash        string         `json:"hash"`
}

// LinkType is a closed tagged variant for EconomicLink edges.
type LinkType string

const (
	LinkReversedBy LinkType = "REVERSED_BY"
	LinkSettles    LinkType = "SETTLES"
	LinkCorrects   LinkType = "CORRECTS"
)

// MaxChildrenPerParent is the declared cardinality bound per link type.
var MaxChildrenPerParent = map[LinkType]int{
	LinkReversedBy: 1,
	LinkSettles:    0, // 0 means unbounded
	LinkCorrects:   0,
}

// EconomicLink is a typed directed edge between two artifacts. Once
// created it is immutable; there is no update or delete.
type EconomicLink struct {
	LinkID          uuid.UUID      `json:"link_id"`
	LinkType        LinkType       `json:"link_type"`
	ParentRef       uuid.UUID      `json:"parent_ref"`
	ChildRef        uuid.UUID      `json:"child_ref"`
	CreatingEventID uuid.UUID      `json:"creating_event_id"`
	CreatedAt       time.Time      `json:"created_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// InterpretationOutcomeStatus records what the PostingOrchestrator did
// with an event.
type InterpretationOutcomeStatus string

const (
	OutcomePosted            InterpretationOutcomeStatus = "POSTED"
	OutcomeAlreadyPosted      InterpretationOutcomeStatus = "ALREADY_POSTED"
	OutcomeRejected           InterpretationOutcomeStatus = "REJECTED"
	OutcomeValidationFailed   InterpretationOutcomeStatus = "VALIDATION_FAILED"
	OutcomePeriodClosed       InterpretationOutcomeStatus = "PERIOD_CLOSED"
)

// InterpretationOutcome is the per-event forensic record of what the
// PostingOrchestrator did with it.
type InterpretationOutcome struct {
	OutcomeID  uuid.UUID                  `json:"outcome_id"`
	EventID    uuid.UUID                  `json:"event_id"`
	Status     InterpretationOutcomeStatus `json:"status"`
	EntryID    *uuid.UUID                  `json:"entry_id,omitempty"`
	ErrorCode  string                      `json:"error_code,omitempty"`
	ErrorMsg   string                      `json:"error_message,omitempty"`
	RecordedAt time.Time                   `json:"recorded_at"`
}

// CloseCertificate is the immutable artifact produced at close completion.
type CloseCertificate struct {
	CertificateID         uuid.UUID       `json:"certificate_id"`
	PeriodCode            string          `json:"period_code"`
	ClosedAt              time.Time       `json:"closed_at"`
	ClosedBy              uuid.UUID       `json:"closed_by"`
	CorrelationID          string          `json:"correlation_id"`
	LedgerHash             string          `json:"ledger_hash"`
	TrialBalanceDebits     decimal.Decimal `json:"trial_balance_debits"`
	TrialBalanceCredits    decimal.Decimal `json:"trial_balance_credits"`
	SubledgersClosed       []string        `json:"subledgers_closed"`
	AdjustmentsPosted      int             `json:"adjustments_posted"`
	ClosingEntriesPosted   int             `json:"closing_entries_posted"`
	PhasesCompleted        int             `json:"phases_completed"`
	PhasesSkipped          int             `json:"phases_skipped"`
	AuditEventID           *uuid.UUID      `json:"audit_event_id,omitempty"`
}

// Ledger is the minimal owning-ledger concept adapted from the teacher's
// multi-company module: just enough to give JournalEntry.EntryMetadata an
// owning ledger id to compare for cross-ledger reversal detection.
type Ledger struct {
	LedgerID uuid.UUID `json:"ledger_id"`
	Name     string    `json:"name"`
	Currency string    `json:"currency"`
}

// SubledgerType enumerates the subledgers the close orchestrator
// reconciles against GL control accounts.
type SubledgerType string

const (
	SubledgerAP        SubledgerType = "AP"
	SubledgerAR        SubledgerType = "AR"
	SubledgerInventory SubledgerType = "INVENTORY"
	SubledgerBank      SubledgerType = "BANK"
)

// ControlAccountCodes maps each subledger to the GL control account code
// its balance should reconcile against, ported from the close
// orchestrator's hardcoded mapping in original_source.
var ControlAccountCodes = map[SubledgerType]string{
	SubledgerAP:        "2000",
	SubledgerAR:        "1200",
	SubledgerInventory: "1400",
	SubledgerBank:      "1000",
}
