package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProposedLine is one line of a ProposedJournalEntry, as a strategy emits
// it (spec.md §4.7/§6). IsRounding must always be false on a
// strategy-produced line (R22); JournalWriter is the only component
// allowed to set it.
type ProposedLine struct {
	AccountID      uuid.UUID
	Side           Side
	Amount         decimal.Decimal
	Currency       string
	Dimensions     map[string]string
	IsRounding     bool
	Memo           string
	ExchangeRateID *uuid.UUID
}

// ProposedJournalEntry is the pure output of a Strategy: everything
// JournalWriter needs to persist a balanced entry, minus any storage
// concerns (sequence, posted_at, id).
type ProposedJournalEntry struct {
	Event              Event
	IdempotencyKey     string
	PostingRuleVersion int
	Description        string
	Metadata           EntryMetadata
	Lines              []ProposedLine
}

// Strategy interprets one event type into a proposed journal entry. It
// must be pure: no I/O, no clock access, reference data only via the
// snapshot it is handed (spec.md §6).
type Strategy interface {
	// Interpret turns envelope into a ProposedJournalEntry, or returns
	// validation errors if the event cannot be posted.
	Interpret(envelope Event, ref *ReferenceSnapshot) (*ProposedJournalEntry, []error)
	// SupportedVersions returns the inclusive [min, max] strategy_version
	// range this implementation accepts.
	SupportedVersions() (min, max int)
}

// StrategyKey identifies a registered strategy by event type and the
// version the event was produced against.
type StrategyKey struct {
	EventType string
	Version   int
}

// StrategyRegistry maps (event_type, version) to a Strategy
// implementation, version-range checked at lookup time (R23).
type StrategyRegistry struct {
	byType map[string]Strategy
}

// NewStrategyRegistry constructs an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{byType: make(map[string]Strategy)}
}

// Register associates eventType with a Strategy implementation. A later
// call for the same event type replaces the earlier one.
func (r *StrategyRegistry) Register(eventType string, strategy Strategy) {
	r.byType[eventType] = strategy
}

// Resolve looks up the strategy for eventType and checks that version
// falls within its supported range.
func (r *StrategyRegistry) Resolve(eventType string, version int) (Strategy, error) {
	strategy, ok := r.byType[eventType]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for event type %q", eventType)
	}
	min, max := strategy.SupportedVersions()
	if version < min || version > max {
		return nil, ErrStrategyVersionOutOfRange(eventType, version)
	}
	return strategy, nil
}
