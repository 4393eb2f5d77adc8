package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// Storage is the bbolt-backed persistence layer, one bucket per entity
// type, adapted from the teacher's storage.go. The teacher serialized
// every value via protobuf against a generated package absent from this
// codebase's retrieval pack (see DESIGN.md); this kernel serializes with
// canonical-adjacent JSON instead, since spec.md already mandates JSON as
// the canonical wire format for hashing, and the teacher's own structs
// already carry full json struct tags.
type Storage struct {
	db *bbolt.DB
}

var (
	bktEvents                    = []byte("events")
	bktFiscalPeriods              = []byte("fiscal_periods")
	bktAccounts                   = []byte("accounts")
	bktDimensions                 = []byte("dimensions")
	bktDimensionValues            = []byte("dimension_values")
	bktExchangeRates              = []byte("exchange_rates")
	bktJournalEntries             = []byte("journal_entries")
	bktJournalEntriesByIdemKey    = []byte("journal_entries_by_idempotency_key")
	bktJournalEntriesByReversalOf = []byte("journal_entries_by_reversal_of")
	bktJournalEntriesBySeq        = []byte("journal_entries_by_seq")
	bktAuditEvents                = []byte("audit_events")
	bktEconomicLinks              = []byte("economic_links")
	bktEconomicLinksByParentType  = []byte("economic_links_by_parent_type")
	bktInterpretationOutcomes     = []byte("interpretation_outcomes")
	bktCloseCertificates          = []byte("close_certificates")
	bktSequenceCounters           = []byte("sequence_counters")
	bktLedgers                    = []byte("ledgers")
)

var allBuckets = [][]byte{
	bktEvents, bktFiscalPeriods, bktAccounts, bktDimensions, bktDimensionValues,
	bktExchangeRates, bktJournalEntries, bktJournalEntriesByIdemKey,
	bktJournalEntriesByReversalOf, bktJournalEntriesBySeq, bktAuditEvents,
	bktEconomicLinks, bktEconomicLinksByParentType, bktInterpretationOutcomes,
	bktCloseCertificates, bktSequenceCounters, bktLedgers,
}

// NewStorage opens (creating if necessary) the bbolt file at dbPath and
// ensures every bucket exists.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	s := &Storage{db: db}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

// Close releases the underlying bbolt file.
func (s *Storage) Close() error { return s.db.Close() }

// Update runs fn inside a single bbolt read-write transaction. This is the
// kernel's transaction boundary: every public operation (ingest, post,
// reverse, period transition, close phase) calls Update exactly once, and
// every component method takes the *bbolt.Tx handed down from it, the same
// way original_source's services all accept a shared SQLAlchemy Session.
// bbolt allows only one writable transaction system-wide, so this
// naturally provides the row-lock serialization spec.md §5 describes for
// sequence counters, idempotency keys, and period-state changes.
func (s *Storage) Update(fn func(tx *bbolt.Tx) error) error {
	return s.db.Update(fn)
}

// View runs fn inside a read-only transaction, for Selectors.
func (s *Storage) View(fn func(tx *bbolt.Tx) error) error {
	return s.db.View(fn)
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return b.Put(key, data)
}

func getJSON(b *bbolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal: %w", err)
	}
	return true, nil
}

func idKey(id uuid.UUID) []byte { return []byte(id.String()) }

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// --- Events ---

// PutEvent inserts a new Event row. Events are immutable after insert
// (R1); a second PutEvent call for the same EventID fails rather than
// silently overwriting, enforcing R1 at the storage layer and not just
// in EventIngestor.Ingest's lookup-before-insert logic.
func (s *Storage) PutEvent(tx *bbolt.Tx, e *Event) error {
	if tx.Bucket(bktEvents).Get(idKey(e.EventID)) != nil {
		return ErrImmutableWrite("event", e.EventID.String())
	}
	return putJSON(tx.Bucket(bktEvents), idKey(e.EventID), e)
}

func (s *Storage) GetEvent(tx *bbolt.Tx, id uuid.UUID) (*Event, bool, error) {
	var e Event
	ok, err := getJSON(tx.Bucket(bktEvents), idKey(id), &e)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &e, true, nil
}

func (s *Storage) GetEventsByType(tx *bbolt.Tx, eventType string, limit int) ([]*Event, error) {
	var out []*Event
	c := tx.Bucket(bktEvents).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var e Event
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, err
		}
		if e.EventType == eventType {
			out = append(out, &e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// --- FiscalPeriods ---

func (s *Storage) PutPeriod(tx *bbolt.Tx, p *FiscalPeriod) error {
	return putJSON(tx.Bucket(bktFiscalPeriods), []byte(p.PeriodCode), p)
}

func (s *Storage) GetPeriodByCode(tx *bbolt.Tx, code string) (*FiscalPeriod, bool, error) {
	var p FiscalPeriod
	ok, err := getJSON(tx.Bucket(bktFiscalPeriods), []byte(code), &p)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &p, true, nil
}

func (s *Storage) AllPeriods(tx *bbolt.Tx) ([]*FiscalPeriod, error) {
	var out []*FiscalPeriod
	c := tx.Bucket(bktFiscalPeriods).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var p FiscalPeriod
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, nil
}

// GetPeriodForDate scans periods for one whose [start,end] covers date.
// Linear scan, matching the teacher's cursor-scan-and-filter idiom for
// queries bbolt has no native index for.
func (s *Storage) GetPeriodForDate(tx *bbolt.Tx, date time.Time) (*FiscalPeriod, bool, error) {
	periods, err := s.AllPeriods(tx)
	if err != nil {
		return nil, false, err
	}
	for _, p := range periods {
		if !date.Before(p.StartDate) && !date.After(p.EndDate) {
			return p, true, nil
		}
	}
	return nil, false, nil
}

// --- Accounts ---

func (s *Storage) PutAccount(tx *bbolt.Tx, a *Account) error {
	return putJSON(tx.Bucket(bktAccounts), idKey(a.AccountID), a)
}

func (s *Storage) GetAccount(tx *bbolt.Tx, id uuid.UUID) (*Account, bool, error) {
	var a Account
	ok, err := getJSON(tx.Bucket(bktAccounts), idKey(id), &a)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &a, true, nil
}

func (s *Storage) AllAccounts(tx *bbolt.Tx) ([]*Account, error) {
	var out []*Account
	c := tx.Bucket(bktAccounts).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var a Account
		if err := json.Unmarshal(v, &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *Storage) AccountByCode(tx *bbolt.Tx, code string) (*Account, bool, error) {
	accounts, err := s.AllAccounts(tx)
	if err != nil {
		return nil, false, err
	}
	for _, a := range accounts {
		if a.Code == code {
			return a, true, nil
		}
	}
	return nil, false, nil
}

// --- Dimensions & DimensionValues ---

func (s *Storage) PutDimension(tx *bbolt.Tx, d *Dimension) error {
	return putJSON(tx.Bucket(bktDimensions), []byte(d.DimensionCode), d)
}

func (s *Storage) GetDimension(tx *bbolt.Tx, code string) (*Dimension, bool, error) {
	var d Dimension
	ok, err := getJSON(tx.Bucket(bktDimensions), []byte(code), &d)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &d, true, nil
}

func (s *Storage) AllDimensions(tx *bbolt.Tx) ([]*Dimension, error) {
	var out []*Dimension
	c := tx.Bucket(bktDimensions).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var d Dimension
		if err := json.Unmarshal(v, &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, nil
}

func dimValueKey(dimCode, valueCode string) []byte {
	return []byte(dimCode + "\x00" + valueCode)
}

func (s *Storage) PutDimensionValue(tx *bbolt.Tx, dv *DimensionValue) error {
	return putJSON(tx.Bucket(bktDimensionValues), dimValueKey(dv.DimensionCode, dv.ValueCode), dv)
}

func (s *Storage) GetDimensionValue(tx *bbolt.Tx, dimCode, valueCode string) (*DimensionValue, bool, error) {
	var dv DimensionValue
	ok, err := getJSON(tx.Bucket(bktDimensionValues), dimValueKey(dimCode, valueCode), &dv)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &dv, true, nil
}

func (s *Storage) AllDimensionValues(tx *bbolt.Tx) ([]*DimensionValue, error) {
	var out []*DimensionValue
	c := tx.Bucket(bktDimensionValues).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var dv DimensionValue
		if err := json.Unmarshal(v, &dv); err != nil {
			return nil, err
		}
		out = append(out, &dv)
	}
	return out, nil
}

// --- ExchangeRates ---

func exchangeRateKey(from, to string, on time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%s_%s", from, to, on.UTC().Format("2006-01-02")))
}

func (s *Storage) PutExchangeRate(tx *bbolt.Tx, r *ExchangeRate) error {
	return putJSON(tx.Bucket(bktExchangeRates), exchangeRateKey(r.FromCurrency, r.ToCurrency, r.ValidOn), r)
}

func (s *Storage) AllExchangeRates(tx *bbolt.Tx) ([]*ExchangeRate, error) {
	var out []*ExchangeRate
	c := tx.Bucket(bktExchangeRates).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var r ExchangeRate
		if err := json.Unmarshal(v, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}

// --- JournalEntries ---

// PutJournalEntry writes an entry, permitting the DRAFT->POSTED transition
// JournalWriter.finalize performs but rejecting any further write once an
// entry is POSTED (R10) — enforced here rather than trusted to callers, the
// same way spec.md §6 asks storage triggers to reject UPDATE/DELETE on a
// POSTED journal_entries row.
func (s *Storage) PutJournalEntry(tx *bbolt.Tx, e *JournalEntry) error {
	if existing := tx.Bucket(bktJournalEntries).Get(idKey(e.EntryID)); existing != nil {
		var prior JournalEntry
		if err := json.Unmarshal(existing, &prior); err != nil {
			return err
		}
		if prior.Status == EntryPosted {
			return ErrImmutableWrite("journal_entry", e.EntryID.String())
		}
	}
	if err := putJSON(tx.Bucket(bktJournalEntries), idKey(e.EntryID), e); err != nil {
		return err
	}
	if e.IdempotencyKey != "" {
		if err := tx.Bucket(bktJournalEntriesByIdemKey).Put([]byte(e.IdempotencyKey), idKey(e.EntryID)); err != nil {
			return err
		}
	}
	if e.ReversalOfID != nil {
		if err := tx.Bucket(bktJournalEntriesByReversalOf).Put(idKey(*e.ReversalOfID), idKey(e.EntryID)); err != nil {
			return err
		}
	}
	if e.Seq != nil {
		if err := tx.Bucket(bktJournalEntriesBySeq).Put(seqKey(*e.Seq), idKey(e.EntryID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) GetJournalEntry(tx *bbolt.Tx, id uuid.UUID) (*JournalEntry, bool, error) {
	var e JournalEntry
	ok, err := getJSON(tx.Bucket(bktJournalEntries), idKey(id), &e)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &e, true, nil
}

func (s *Storage) DeleteJournalEntry(tx *bbolt.Tx, id uuid.UUID) error {
	if existing := tx.Bucket(bktJournalEntries).Get(idKey(id)); existing != nil {
		var prior JournalEntry
		if err := json.Unmarshal(existing, &prior); err != nil {
			return err
		}
		if prior.Status == EntryPosted {
			return ErrImmutableWrite("journal_entry", id.String())
		}
	}
	return tx.Bucket(bktJournalEntries).Delete(idKey(id))
}

func (s *Storage) GetJournalEntryByIdempotencyKey(tx *bbolt.Tx, key string) (*JournalEntry, bool, error) {
	idBytes := tx.Bucket(bktJournalEntriesByIdemKey).Get([]byte(key))
	if idBytes == nil {
		return nil, false, nil
	}
	id, err := uuid.Parse(string(idBytes))
	if err != nil {
		return nil, false, err
	}
	return s.GetJournalEntry(tx, id)
}

func (s *Storage) GetJournalEntryByReversalOf(tx *bbolt.Tx, originalID uuid.UUID) (*JournalEntry, bool, error) {
	idBytes := tx.Bucket(bktJournalEntriesByReversalOf).Get(idKey(originalID))
	if idBytes == nil {
		return nil, false, nil
	}
	id, err := uuid.Parse(string(idBytes))
	if err != nil {
		return nil, false, err
	}
	return s.GetJournalEntry(tx, id)
}

// AllPostedJournalEntriesBySeq returns every POSTED entry in seq order.
func (s *Storage) AllPostedJournalEntriesBySeq(tx *bbolt.Tx) ([]*JournalEntry, error) {
	var out []*JournalEntry
	c := tx.Bucket(bktJournalEntriesBySeq).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		id, err := uuid.Parse(string(v))
		if err != nil {
			return nil, err
		}
		e, ok, err := s.GetJournalEntry(tx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// AllJournalEntries does a full bucket scan, for queries with no
// dedicated index (by event, by account, by period), matching the
// teacher's GetEntriesByAccount/QueryEntries scan-and-filter idiom.
func (s *Storage) AllJournalEntries(tx *bbolt.Tx) ([]*JournalEntry, error) {
	var out []*JournalEntry
	c := tx.Bucket(bktJournalEntries).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var e JournalEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, nil
}

// --- AuditEvents ---

// AppendAuditEvent inserts a new audit row. audit_events is append-only
// (R11): there is deliberately no UpdateAuditEvent or DeleteAuditEvent
// method anywhere in this package, and this guard additionally refuses to
// silently overwrite a seq that is already occupied.
func (s *Storage) AppendAuditEvent(tx *bbolt.Tx, a *AuditEvent) error {
	if tx.Bucket(bktAuditEvents).Get(seqKey(a.Seq)) != nil {
		return ErrImmutableWrite("audit_event", fmt.Sprintf("seq=%d", a.Seq))
	}
	return putJSON(tx.Bucket(bktAuditEvents), seqKey(a.Seq), a)
}

// LastAuditEvent returns the audit row with the highest seq, or ok=false
// if the chain is empty.
func (s *Storage) LastAuditEvent(tx *bbolt.Tx) (*AuditEvent, bool, error) {
	c := tx.Bucket(bktAuditEvents).Cursor()
	k, v := c.Last()
	if k == nil {
		return nil, false, nil
	}
	var a AuditEvent
	if err := json.Unmarshal(v, &a); err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

func (s *Storage) AllAuditEventsBySeq(tx *bbolt.Tx) ([]*AuditEvent, error) {
	var out []*AuditEvent
	c := tx.Bucket(bktAuditEvents).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var a AuditEvent
		if err := json.Unmarshal(v, &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *Storage) AuditEventsByEntity(tx *bbolt.Tx, entityType, entityID string) ([]*AuditEvent, error) {
	all, err := s.AllAuditEventsBySeq(tx)
	if err != nil {
		return nil, err
	}
	var out []*AuditEvent
	for _, a := range all {
		if a.EntityType == entityType && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- EconomicLinks ---

func (s *Storage) PutEconomicLink(tx *bbolt.Tx, l *EconomicLink) error {
	if err := putJSON(tx.Bucket(bktEconomicLinks), idKey(l.LinkID), l); err != nil {
		return err
	}
	idxKey := []byte(string(l.LinkType) + "\x00" + l.ParentRef.String())
	b := tx.Bucket(bktEconomicLinksByParentType)
	var ids []string
	if existing := b.Get(idxKey); existing != nil {
		if err := json.Unmarshal(existing, &ids); err != nil {
			return err
		}
	}
	ids = append(ids, l.LinkID.String())
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return b.Put(idxKey, data)
}

func (s *Storage) AllEconomicLinks(tx *bbolt.Tx) ([]*EconomicLink, error) {
	var out []*EconomicLink
	c := tx.Bucket(bktEconomicLinks).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var l EconomicLink
		if err := json.Unmarshal(v, &l); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, nil
}

func (s *Storage) ChildrenOfType(tx *bbolt.Tx, linkType LinkType, parent uuid.UUID) ([]*EconomicLink, error) {
	idxKey := []byte(string(linkType) + "\x00" + parent.String())
	data := tx.Bucket(bktEconomicLinksByParentType).Get(idxKey)
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	var out []*EconomicLink
	for _, idStr := range ids {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		var l EconomicLink
		ok, err := getJSON(tx.Bucket(bktEconomicLinks), idKey(id), &l)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, &l)
		}
	}
	return out, nil
}

// --- InterpretationOutcomes ---

func (s *Storage) PutInterpretationOutcome(tx *bbolt.Tx, o *InterpretationOutcome) error {
	return putJSON(tx.Bucket(bktInterpretationOutcomes), idKey(o.OutcomeID), o)
}

func (s *Storage) InterpretationOutcomesByEvent(tx *bbolt.Tx, eventID uuid.UUID) ([]*InterpretationOutcome, error) {
	var out []*InterpretationOutcome
	c := tx.Bucket(bktInterpretationOutcomes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var o InterpretationOutcome
		if err := json.Unmarshal(v, &o); err != nil {
			return nil, err
		}
		if o.EventID == eventID {
			out = append(out, &o)
		}
	}
	return out, nil
}

// --- CloseCertificates ---

func (s *Storage) PutCloseCertificate(tx *bbolt.Tx, c *CloseCertificate) error {
	return putJSON(tx.Bucket(bktCloseCertificates), idKey(c.CertificateID), c)
}

func (s *Storage) CloseCertificateByPeriod(tx *bbolt.Tx, periodCode string) (*CloseCertificate, bool, error) {
	cur := tx.Bucket(bktCloseCertificates).Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		var c CloseCertificate
		if err := json.Unmarshal(v, &c); err != nil {
			return nil, false, err
		}
		if c.PeriodCode == periodCode {
			return &c, true, nil
		}
	}
	return nil, false, nil
}

// --- SequenceCounters ---

func (s *Storage) currentSeq(tx *bbolt.Tx, stream string) uint64 {
	b := tx.Bucket(bktSequenceCounters).Get([]byte(stream))
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (s *Storage) setSeq(tx *bbolt.Tx, stream string, value uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, value)
	return tx.Bucket(bktSequenceCounters).Put([]byte(stream), b)
}

// --- Ledgers ---

func (s *Storage) PutLedger(tx *bbolt.Tx, l *Ledger) error {
	return putJSON(tx.Bucket(bktLedgers), idKey(l.LedgerID), l)
}

func (s *Storage) GetLedger(tx *bbolt.Tx, id uuid.UUID) (*Ledger, bool, error) {
	var l Ledger
	ok, err := getJSON(tx.Bucket(bktLedgers), idKey(id), &l)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &l, true, nil
}
