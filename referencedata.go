package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

// ReferenceSnapshot is a point-in-time view of accounts, dimensions, rates,
// and their version identifiers, loaded at the start of a posting pipeline
// (spec.md §4.3). Strategies read it but never mutate it; JournalWriter
// records its version identifiers into EntryMetadata (R21) so a replayer
// can detect drift (R23).
type ReferenceSnapshot struct {
	AsOf             time.Time
	accountsByID     map[uuid.UUID]*Account
	accountsByCode   map[string]*Account
	dimensions       map[string]*Dimension
	dimensionValues  map[string]map[string]*DimensionValue
	rates            []*ExchangeRate
	accountsVersion  string
	dimensionsVersion string
	ratesVersion     string
}

// IsAccountPostable reports whether id names an active account.
func (r *ReferenceSnapshot) IsAccountPostable(id uuid.UUID) bool {
	a, ok := r.accountsByID[id]
	return ok && a.IsActive
}

// AccountByCode looks up an account by its chart-of-accounts code.
func (r *ReferenceSnapshot) AccountByCode(code string) (*Account, bool) {
	a, ok := r.accountsByCode[code]
	return a, ok
}

// Account looks up an account by id regardless of active state (callers
// distinguish "does not exist" from "exists but inactive").
func (r *ReferenceSnapshot) Account(id uuid.UUID) (*Account, bool) {
	a, ok := r.accountsByID[id]
	return a, ok
}

// IsDimensionActive reports whether code names an active dimension.
func (r *ReferenceSnapshot) IsDimensionActive(code string) bool {
	d, ok := r.dimensions[code]
	return ok && d.IsActive
}

// IsDimensionValueActive reports whether (dim, value) names an active
// dimension value.
func (r *ReferenceSnapshot) IsDimensionValueActive(dim, value string) bool {
	values, ok := r.dimensionValues[dim]
	if !ok {
		return false
	}
	dv, ok := values[value]
	return ok && dv.IsActive
}

// ValidateDimensions checks a dimension map against the snapshot, as
// spec.md §4.3's validate_dimensions. Returns one error per problem found.
func (r *ReferenceSnapshot) ValidateDimensions(dims map[string]string) []error {
	var errs []error
	for dim, value := range dims {
		d, ok := r.dimensions[dim]
		if !ok {
			errs = append(errs, ErrDimensionNotFound(dim))
			continue
		}
		if !d.IsActive {
			errs = append(errs, ErrInactiveDimension(dim))
			continue
		}
		values, ok := r.dimensionValues[dim]
		if !ok {
			errs = append(errs, ErrInvalidDimensionValue(dim, value))
			continue
		}
		dv, ok := values[value]
		if !ok {
			errs = append(errs, ErrInvalidDimensionValue(dim, value))
			continue
		}
		if !dv.IsActive {
			errs = append(errs, ErrInactiveDimensionValue(dim, value))
		}
	}
	return errs
}

// ResolveRate finds the exchange rate effective on the given date for
// from->to. Returns ok=false if none is in effect.
func (r *ReferenceSnapshot) ResolveRate(from, to string, on time.Time) (rateID uuid.UUID, value decimal.Decimal, ok bool) {
	var best *ExchangeRate
	for _, rate := range r.rates {
		if rate.FromCurrency != from || rate.ToCurrency != to {
			continue
		}
		if rate.ValidOn.After(on) {
			continue
		}
		if best == nil || rate.ValidOn.After(best.ValidOn) {
			best = rate
		}
	}
	if best == nil {
		return uuid.Nil, decimal.Zero, false
	}
	return best.RateID, best.Rate, true
}

// VersionIdentifiers returns the snapshot's per-scope content hashes, to
// be recorded in EntryMetadata.ReferenceSnapshotVersions.
func (r *ReferenceSnapshot) VersionIdentifiers() map[string]string {
	return map[string]string{
		"accounts":   r.accountsVersion,
		"dimensions": r.dimensionsVersion,
		"rates":      r.ratesVersion,
	}
}

// ReferenceDataCache loads ReferenceSnapshots from Storage.
type ReferenceDataCache struct {
	storage *Storage
	hasher  Hasher
}

// NewReferenceDataCache constructs a ReferenceDataCache over storage.
func NewReferenceDataCache(storage *Storage) *ReferenceDataCache {
	return &ReferenceDataCache{storage: storage, hasher: NewHasher()}
}

// Load builds a ReferenceSnapshot as of asOf within tx.
func (c *ReferenceDataCache) Load(tx *bbolt.Tx, asOf time.Time) (*ReferenceSnapshot, error) {
	accounts, err := c.storage.AllAccounts(tx)
	if err != nil {
		return nil, err
	}
	dims, err := c.storage.AllDimensions(tx)
	if err != nil {
		return nil, err
	}
	dimValues, err := c.storage.AllDimensionValues(tx)
	if err != nil {
		return nil, err
	}
	rates, err := c.storage.AllExchangeRates(tx)
	if err != nil {
		return nil, err
	}

	snap := &ReferenceSnapshot{
		AsOf:            asOf,
		accountsByID:    make(map[uuid.UUID]*Account, len(accounts)),
		accountsByCode:  make(map[string]*Account, len(accounts)),
		dimensions:      make(map[string]*Dimension, len(dims)),
		dimensionValues: make(map[string]map[string]*DimensionValue),
		rates:           rates,
	}
	for _, a := range accounts {
		snap.accountsByID[a.AccountID] = a
		snap.accountsByCode[a.Code] = a
	}
	for _, d := range dims {
		snap.dimensions[d.DimensionCode] = d
	}
	for _, dv := range dimValues {
		if snap.dimensionValues[dv.DimensionCode] == nil {
			snap.dimensionValues[dv.DimensionCode] = make(map[string]*DimensionValue)
		}
		snap.dimensionValues[dv.DimensionCode][dv.ValueCode] = dv
	}

	snap.accountsVersion, err = c.versionHash(accountSummaries(accounts))
	if err != nil {
		return nil, err
	}
	snap.dimensionsVersion, err = c.versionHash(dimensionSummaries(dims, dimValues))
	if err != nil {
		return nil, err
	}
	snap.ratesVersion, err = c.versionHash(rateSummaries(rates))
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *ReferenceDataCache) versionHash(rows []any) (string, error) {
	sort.Slice(rows, func(i, j int) bool {
		mi, mj := rows[i].(map[string]any), rows[j].(map[string]any)
		return mi["_key"].(string) < mj["_key"].(string)
	})
	return c.hasher.HashPayload(map[string]any{"rows": rows})
}

func accountSummaries(accounts []*Account) []any {
	out := make([]any, len(accounts))
	for i, a := range accounts {
		out[i] = map[string]any{"_key": a.AccountID.String(), "code": a.Code, "active": a.IsActive}
	}
	return out
}

func dimensionSummaries(dims []*Dimension, values []*DimensionValue) []any {
	out := make([]any, 0, len(dims)+len(values))
	for _, d := range dims {
		out = append(out, map[string]any{"_key": "dim:" + d.DimensionCode, "active": d.IsActive})
	}
	for _, v := range values {
		out = append(out, map[string]any{"_key": "dimval:" + v.DimensionCode + ":" + v.ValueCode, "active": v.IsActive})
	}
	return out
}

func rateSummaries(rates []*ExchangeRate) []any {
	out := make([]any, len(rates))
	for i, r := range rates {
		out[i] = map[string]any{"_key": r.RateID.String(), "rate": r.Rate}
	}
	return out
}
