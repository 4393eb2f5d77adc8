package ledger

import (
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// LogEntry is one structured log line returned by a LogQueryPort.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LogQueryPort is an optional injected collaborator for pulling
// structured log excerpts into a trace bundle. It may be nil; trace
// bundles mark log facts as missing rather than failing, per spec.md §6.
type LogQueryPort interface {
	Query(entityType, entityID string, from, to time.Time) ([]LogEntry, error)
}

// TraceBundle is the forensic assembly for one artifact: its origin
// event, every journal entry and line touching it, the subgraph of
// economic links, audit events, interpretation outcomes, and (if
// available) log excerpts. Adapted from the teacher's forensic.go
// traversal idiom, minus its AML pattern-detection heuristics.
type TraceBundle struct {
	TraceID            string                   `json:"trace_id"`
	ArtifactRef         uuid.UUID                `json:"artifact_ref"`
	GeneratedAt         time.Time                `json:"generated_at"`
	OriginEvent         *Event                   `json:"origin_event,omitempty"`
	JournalEntries      []*JournalEntry          `json:"journal_entries"`
	EconomicLinks       []*EconomicLink          `json:"economic_links"`
	AuditEvents         []*AuditEvent            `json:"audit_events"`
	InterpretationOutcomes []*InterpretationOutcome `json:"interpretation_outcomes"`
	LogEntries          []LogEntry               `json:"log_entries,omitempty"`
	LogsAvailable       bool                     `json:"logs_available"`
	Integrity           map[string]any           `json:"integrity"`
}

// TraceAssembler builds TraceBundles for an artifact reference (spec.md
// §4.11's trace.get).
type TraceAssembler struct {
	storage *Storage
	links   *LinkGraph
	logs    LogQueryPort
	hasher  Hasher
	clock   Clock
}

// NewTraceAssembler constructs a TraceAssembler. logs may be nil.
func NewTraceAssembler(storage *Storage, links *LinkGraph, logs LogQueryPort, clock Clock) *TraceAssembler {
	return &TraceAssembler{storage: storage, links: links, logs: logs, hasher: NewHasher(), clock: clock}
}

// Get assembles a TraceBundle for artifactRef, treating it first as a
// journal entry id and, if not found, as a source event id.
func (t *TraceAssembler) Get(tx *bbolt.Tx, artifactRef uuid.UUID) (*TraceBundle, error) {
	var originEventID uuid.UUID
	var entries []*JournalEntry

	if entry, found, err := t.storage.GetJournalEntry(tx, artifactRef); err != nil {
		return nil, err
	} else if found {
		originEventID = entry.SourceEventID
		entries = append(entries, entry)
		if reversal, found, err := t.storage.GetJournalEntryByReversalOf(tx, artifactRef); err != nil {
			return nil, err
		} else if found {
			entries = append(entries, reversal)
		}
	} else {
		originEventID = artifactRef
		all, err := t.storage.AllJournalEntries(tx)
		if err != nil {
			return nil, err
		}
		for _, e := range all {
			if e.SourceEventID == artifactRef {
				entries = append(entries, e)
			}
		}
	}

	var originEvent *Event
	if e, found, err := t.storage.GetEvent(tx, originEventID); err != nil {
		return nil, err
	} else if found {
		originEvent = e
	}

	var links []*EconomicLink
	seenLinks := map[uuid.UUID]bool{}
	for _, e := range entries {
		for _, linkType := range []LinkType{LinkReversedBy, LinkSettles, LinkCorrects} {
			children, err := t.links.ChildrenOf(tx, linkType, e.EntryID)
			if err != nil {
				return nil, err
			}
			for _, l := range children {
				if !seenLinks[l.LinkID] {
					seenLinks[l.LinkID] = true
					links = append(links, l)
				}
			}
		}
	}

	allAudits, err := t.storage.AllAuditEventsBySeq(tx)
	if err != nil {
		return nil, err
	}
	entryIDs := map[string]bool{}
	for _, e := range entries {
		entryIDs[e.EntryID.String()] = true
	}
	var auditEvents []*AuditEvent
	for _, a := range allAudits {
		switch {
		case a.EntityType == "journal_entry" && entryIDs[a.EntityID]:
			auditEvents = append(auditEvents, a)
		case a.EntityType == "event" && a.EntityID == originEventID.String():
			auditEvents = append(auditEvents, a)
		}
	}

	outcomes, err := t.storage.InterpretationOutcomesByEvent(tx, originEventID)
	if err != nil {
		return nil, err
	}

	var logEntries []LogEntry
	logsAvailable := false
	if t.logs != nil {
		from := time.Time{}
		to := t.clock.Now()
		if originEvent != nil {
			from = originEvent.OccurredAt.Add(-24 * time.Hour)
		}
		got, err := t.logs.Query("journal_entry", artifactRef.String(), from, to)
		if err == nil {
			logEntries = got
			logsAvailable = true
		}
	}

	bundle := &TraceBundle{
		TraceID:                uuid.New().String(),
		ArtifactRef:            artifactRef,
		GeneratedAt:            t.clock.Now(),
		OriginEvent:            originEvent,
		JournalEntries:         entries,
		EconomicLinks:          links,
		AuditEvents:            auditEvents,
		InterpretationOutcomes: outcomes,
		LogEntries:             logEntries,
		LogsAvailable:          logsAvailable,
	}

	hash, err := t.hasher.HashTraceBundle(traceBundleToMap(bundle))
	if err != nil {
		return nil, err
	}
	bundle.Integrity = map[string]any{"bundle_hash": hash}
	return bundle, nil
}

// traceBundleToMap lowers a TraceBundle to the map[string]any / []any tree
// canonicalize knows how to walk. Hasher.canonicalize only understands
// plain maps, slices, and the leaf types (decimal, time, uuid, ...); it
// has no case for struct pointers, so every entity here is flattened to
// its own leaf-only map first, the same way HashJournalEntry flattens
// JournalLine before hashing.
func traceBundleToMap(b *TraceBundle) map[string]any {
	journalEntries := make([]any, len(b.JournalEntries))
	for i, e := range b.JournalEntries {
		journalEntries[i] = journalEntryToMap(e)
	}
	links := make([]any, len(b.EconomicLinks))
	for i, l := range b.EconomicLinks {
		links[i] = economicLinkToMap(l)
	}
	audits := make([]any, len(b.AuditEvents))
	for i, a := range b.AuditEvents {
		audits[i] = auditEventToMap(a)
	}
	outcomes := make([]any, len(b.InterpretationOutcomes))
	for i, o := range b.InterpretationOutcomes {
		outcomes[i] = interpretationOutcomeToMap(o)
	}

	return map[string]any{
		"trace_id":                b.TraceID,
		"artifact_ref":            b.ArtifactRef,
		"generated_at":            b.GeneratedAt,
		"origin_event":            eventToMap(b.OriginEvent),
		"journal_entries":         journalEntries,
		"economic_links":          links,
		"audit_events":            audits,
		"interpretation_outcomes": outcomes,
		"logs_available":          b.LogsAvailable,
		"integrity":               map[string]any{},
	}
}

func eventToMap(e *Event) any {
	if e == nil {
		return nil
	}
	return map[string]any{
		"event_id":       e.EventID,
		"event_type":     e.EventType,
		"occurred_at":    e.OccurredAt,
		"effective_date": e.EffectiveDate,
		"actor_id":       e.ActorID,
		"producer":       e.Producer,
		"payload":        e.Payload,
		"payload_hash":   e.PayloadHash,
		"schema_version": e.SchemaVersion,
		"ingested_at":    e.IngestedAt,
	}
}

func journalLineToMap(l JournalLine) map[string]any {
	m := map[string]any{
		"line_id":     l.LineID,
		"entry_id":    l.EntryID,
		"account_id":  l.AccountID,
		"side":        string(l.Side),
		"amount":      l.Amount,
		"currency":    l.Currency,
		"dimensions":  l.Dimensions,
		"is_rounding": l.IsRounding,
		"line_memo":   l.LineMemo,
		"line_seq":    l.LineSeq,
	}
	if l.ExchangeRateID != nil {
		m["exchange_rate_id"] = *l.ExchangeRateID
	}
	return m
}

func journalEntryToMap(e *JournalEntry) any {
	if e == nil {
		return nil
	}
	lines := make([]any, len(e.Lines))
	for i, l := range e.Lines {
		lines[i] = journalLineToMap(l)
	}
	m := map[string]any{
		"entry_id":             e.EntryID,
		"source_event_id":      e.SourceEventID,
		"source_event_type":    e.SourceEventType,
		"occurred_at":          e.OccurredAt,
		"effective_date":       e.EffectiveDate,
		"actor_id":             e.ActorID,
		"status":               string(e.Status),
		"idempotency_key":      e.IdempotencyKey,
		"posting_rule_version": e.PostingRuleVersion,
		"description":          e.Description,
		"entry_metadata": map[string]any{
			"owning_ledger_id":            e.EntryMetadata.OwningLedgerID,
			"reference_snapshot_versions": e.EntryMetadata.ReferenceSnapshotVersions,
			"extra":                       e.EntryMetadata.Extra,
		},
		"lines": lines,
	}
	if e.Seq != nil {
		m["seq"] = *e.Seq
	}
	if e.PostedAt != nil {
		m["posted_at"] = *e.PostedAt
	}
	if e.ReversalOfID != nil {
		m["reversal_of_id"] = *e.ReversalOfID
	}
	return m
}

func economicLinkToMap(l *EconomicLink) any {
	if l == nil {
		return nil
	}
	return map[string]any{
		"link_id":           l.LinkID,
		"link_type":         string(l.LinkType),
		"parent_ref":        l.ParentRef,
		"child_ref":         l.ChildRef,
		"creating_event_id": l.CreatingEventID,
		"created_at":        l.CreatedAt,
		"metadata":          l.Metadata,
	}
}

func auditEventToMap(a *AuditEvent) any {
	if a == nil {
		return nil
	}
	m := map[string]any{
		"audit_id":     a.AuditID,
		"seq":          a.Seq,
		"entity_type":  a.EntityType,
		"entity_id":    a.EntityID,
		"action":       string(a.Action),
		"occurred_at":  a.OccurredAt,
		"payload":      a.Payload,
		"payload_hash": a.PayloadHash,
		"hash":         a.Hash,
	}
	if a.ActorID != nil {
		m["actor_id"] = *a.ActorID
	}
	if a.PrevHash != nil {
		m["prev_hash"] = *a.PrevHash
	}
	return m
}

func interpretationOutcomeToMap(o *InterpretationOutcome) any {
	if o == nil {
		return nil
	}
	m := map[string]any{
		"outcome_id":  o.OutcomeID,
		"event_id":    o.EventID,
		"status":      string(o.Status),
		"error_code":  o.ErrorCode,
		"error_message": o.ErrorMsg,
		"recorded_at": o.RecordedAt,
	}
	if o.EntryID != nil {
		m["entry_id"] = *o.EntryID
	}
	return m
}
