package ledger

// Kernel is the main entry point for the posting kernel, wiring every
// component over one shared Storage handle — the same flat
// construct-everything-in-order shape as the teacher's
// AccountingEngine/NewAccountingEngine.
type Kernel struct {
	Storage *Storage
	Clock   Clock

	Sequence   *SequenceAllocator
	RefData    *ReferenceDataCache
	Auditor    *Auditor
	Ingestor   *EventIngestor
	Periods    *PeriodController
	Strategies *StrategyRegistry
	Journal    *JournalWriter
	Links      *LinkGraph
	Posting    *PostingOrchestrator
	Reversals  *ReversalService
	Trace      *TraceAssembler

	Journals   *JournalSelector
	Ledger     *LedgerSelector
	Subledgers *SubledgerSelector
	Close      *CloseOrchestrator
}

// KernelOptions carries the caller-supplied collaborators that have no
// sensible kernel-wide default: event schemas, rounding accounts, an
// optional log port for trace bundles, and the close orchestrator's
// pluggable phase collaborators.
type KernelOptions struct {
	Clock            Clock
	Schemas          map[string]EventSchema
	RoundingAccounts RoundingAccounts
	Logs             LogQueryPort
	Roles            RoleResolver
	SubledgerClosers map[SubledgerType]SubledgerCloser
	Adjustments      AdjustmentPoster
	ClosingEntries   ClosingEntryPoster
}

// NewKernel opens dbPath and assembles the full component graph. The
// caller registers Strategy implementations on k.Strategies after
// construction (e.g. k.Strategies.Register("system.recognize_schedule",
// NewRecognitionStrategy())).
func NewKernel(dbPath string, opts KernelOptions) (*Kernel, error) {
	storage, err := NewStorage(dbPath)
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	seq := NewSequenceAllocator(storage)
	refData := NewReferenceDataCache(storage)
	auditor := NewAuditor(storage, seq, clock)
	ingestor := NewEventIngestor(storage, auditor, clock, opts.Schemas)
	periods := NewPeriodController(storage, auditor, clock)
	strategies := NewStrategyRegistry()
	journal := NewJournalWriter(storage, seq, auditor, clock, opts.RoundingAccounts)
	links := NewLinkGraph(storage, clock)
	posting := NewPostingOrchestrator(ingestor, refData, periods, strategies, journal, auditor, storage, clock)
	reversals := NewReversalService(journal, auditor, links, periods, clock)
	trace := NewTraceAssembler(storage, links, opts.Logs, clock)

	journals := NewJournalSelector(storage)
	ledgerSelector := NewLedgerSelector(storage)
	subledgers := NewSubledgerSelector(ledgerSelector, storage)
	closeOrchestrator := NewCloseOrchestrator(periods, auditor, ledgerSelector, subledgers, storage, clock, opts.Roles, opts.SubledgerClosers, opts.Adjustments, opts.ClosingEntries)

	return &Kernel{
		Storage:    storage,
		Clock:      clock,
		Sequence:   seq,
		RefData:    refData,
		Auditor:    auditor,
		Ingestor:   ingestor,
		Periods:    periods,
		Strategies: strategies,
		Journal:    journal,
		Links:      links,
		Posting:    posting,
		Reversals:  reversals,
		Trace:      trace,
		Journals:   journals,
		Ledger:     ledgerSelector,
		Subledgers: subledgers,
		Close:      closeOrchestrator,
	}, nil
}

// CloseKernel releases the underlying storage handle.
func (k *Kernel) CloseKernel() error {
	return k.Storage.Close()
}
