package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// PeriodController manages the fiscal period lifecycle
// (OPEN -> CLOSING -> CLOSED -> LOCKED) and validates that postings
// target an open period, ported from
// _examples/original_source/finance_kernel/services/period_service.py.
// bbolt's single-writer transaction is this kernel's substitute for the
// original's SELECT ... FOR UPDATE row lock.
type PeriodController struct {
	storage *Storage
	auditor *Auditor
	clock   Clock
}

// NewPeriodController constructs a PeriodController over storage.
func NewPeriodController(storage *Storage, auditor *Auditor, clock Clock) *PeriodController {
	return &PeriodController{storage: storage, auditor: auditor, clock: clock}
}

// CreatePeriod adds a new OPEN period, rejecting date ranges that overlap
// an existing period.
func (p *PeriodController) CreatePeriod(tx *bbolt.Tx, periodCode, name string, start, end time.Time, actorID uuid.UUID, allowsAdjustments bool) (*FiscalPeriod, error) {
	if start.After(end) {
		return nil, fmt.Errorf("start_date (%s) cannot be after end_date (%s)", start, end)
	}
	existing, err := p.storage.AllPeriods(tx)
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		if !start.After(other.EndDate) && !other.StartDate.After(end) {
			return nil, ErrPeriodOverlap(periodCode, other.PeriodCode)
		}
	}

	period := &FiscalPeriod{
		PeriodID:          uuid.New(),
		PeriodCode:        periodCode,
		Name:              name,
		StartDate:         start,
		EndDate:           end,
		Status:            PeriodOpen,
		AllowsAdjustments: allowsAdjustments,
	}
	if err := p.storage.PutPeriod(tx, period); err != nil {
		return nil, err
	}
	if _, err := p.auditor.RecordPeriodOpened(tx, periodCode, actorID); err != nil {
		return nil, err
	}
	return period, nil
}

// GetByCode returns the period with the given code.
func (p *PeriodController) GetByCode(tx *bbolt.Tx, periodCode string) (*FiscalPeriod, bool, error) {
	return p.storage.GetPeriodByCode(tx, periodCode)
}

// GetForDate returns the period whose [start,end] window covers date.
func (p *PeriodController) GetForDate(tx *bbolt.Tx, date time.Time) (*FiscalPeriod, bool, error) {
	return p.storage.GetPeriodForDate(tx, date)
}

// ValidateEffectiveDate enforces R12/R25: a period must exist for date,
// must not be CLOSED or LOCKED, and if CLOSING must be posting with
// isClosePosting true.
func (p *PeriodController) ValidateEffectiveDate(tx *bbolt.Tx, date time.Time, isClosePosting bool) (*FiscalPeriod, error) {
	period, found, err := p.storage.GetPeriodForDate(tx, date)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPeriodNotFound(date.Format("2006-01-02"))
	}
	if period.Status == PeriodClosed || period.Status == PeriodLocked {
		return nil, ErrClosedPeriod(period.PeriodCode)
	}
	if period.Status == PeriodClosing && !isClosePosting {
		return nil, ErrPeriodClosing(period.PeriodCode)
	}
	return period, nil
}

// ValidateAdjustmentAllowed additionally enforces R13: an adjusting entry
// requires period.AllowsAdjustments.
func (p *PeriodController) ValidateAdjustmentAllowed(tx *bbolt.Tx, date time.Time, isAdjustment, isClosePosting bool) (*FiscalPeriod, error) {
	period, err := p.ValidateEffectiveDate(tx, date, isClosePosting)
	if err != nil {
		return nil, err
	}
	if isAdjustment && !period.AllowsAdjustments {
		return nil, ErrAdjustmentsNotAllowed(period.PeriodCode)
	}
	return period, nil
}

// BeginClosing transitions a period OPEN -> CLOSING and records the
// owning closing run id, acquiring the exclusive close lock (R25).
func (p *PeriodController) BeginClosing(tx *bbolt.Tx, periodCode string, closingRunID uuid.UUID, actorID uuid.UUID) (*FiscalPeriod, error) {
	period, found, err := p.storage.GetPeriodByCode(tx, periodCode)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPeriodNotFound(periodCode)
	}
	if period.Status == PeriodClosed || period.Status == PeriodLocked {
		return nil, ErrPeriodAlreadyClosed(periodCode)
	}
	if period.Status == PeriodClosing {
		return nil, ErrPeriodClosing(periodCode)
	}
	period.Status = PeriodClosing
	period.ClosingRunID = &closingRunID
	if err := p.storage.PutPeriod(tx, period); err != nil {
		return nil, err
	}
	if _, err := p.auditor.RecordCloseBegun(tx, periodCode, actorID, closingRunID); err != nil {
		return nil, err
	}
	return period, nil
}

// CancelClosing releases the close lock and reverts CLOSING -> OPEN.
func (p *PeriodController) CancelClosing(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, reason string) (*FiscalPeriod, error) {
	period, found, err := p.storage.GetPeriodByCode(tx, periodCode)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPeriodNotFound(periodCode)
	}
	if period.Status != PeriodClosing {
		return nil, fmt.Errorf("period %s is not in CLOSING state (current: %s)", periodCode, period.Status)
	}
	period.Status = PeriodOpen
	period.ClosingRunID = nil
	if err := p.storage.PutPeriod(tx, period); err != nil {
		return nil, err
	}
	if _, err := p.auditor.RecordCloseCancelled(tx, periodCode, actorID, reason); err != nil {
		return nil, err
	}
	return period, nil
}

// ClosePeriod transitions a period (OPEN or CLOSING) to CLOSED, recording
// the closing actor and timestamp. Accepts OPEN directly so callers that
// skip the orchestrated close can still close a period outright.
func (p *PeriodController) ClosePeriod(tx *bbolt.Tx, periodCode string, actorID uuid.UUID) (*FiscalPeriod, error) {
	period, found, err := p.storage.GetPeriodByCode(tx, periodCode)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPeriodNotFound(periodCode)
	}
	if period.Status == PeriodClosed || period.Status == PeriodLocked {
		return nil, ErrPeriodAlreadyClosed(periodCode)
	}
	now := p.clock.Now()
	period.Status = PeriodClosed
	period.ClosedAt = &now
	period.ClosedBy = &actorID
	period.ClosingRunID = nil
	if err := p.storage.PutPeriod(tx, period); err != nil {
		return nil, err
	}
	if _, err := p.auditor.RecordPeriodClosed(tx, periodCode, actorID, PeriodClosed); err != nil {
		return nil, err
	}
	return period, nil
}

// LockPeriod permanently transitions CLOSED -> LOCKED. No reopening is
// possible thereafter.
func (p *PeriodController) LockPeriod(tx *bbolt.Tx, periodCode string, actorID uuid.UUID) (*FiscalPeriod, error) {
	period, found, err := p.storage.GetPeriodByCode(tx, periodCode)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPeriodNotFound(periodCode)
	}
	if period.Status != PeriodClosed {
		return nil, fmt.Errorf("period %s must be CLOSED to lock (current: %s)", periodCode, period.Status)
	}
	period.Status = PeriodLocked
	if err := p.storage.PutPeriod(tx, period); err != nil {
		return nil, err
	}
	if _, err := p.auditor.RecordPeriodClosed(tx, periodCode, actorID, PeriodLocked); err != nil {
		return nil, err
	}
	return period, nil
}

// ReopenPeriod always fails for a closed or locked period: reopening is
// not a supported transition (spec.md §4.5). A period already OPEN is a
// no-op.
func (p *PeriodController) ReopenPeriod(tx *bbolt.Tx, periodCode string) error {
	period, found, err := p.storage.GetPeriodByCode(tx, periodCode)
	if err != nil {
		return err
	}
	if !found {
		return ErrPeriodNotFound(periodCode)
	}
	if period.Status == PeriodClosed || period.Status == PeriodLocked {
		return ErrPeriodImmutable(periodCode)
	}
	return nil
}

// EnableAdjustments sets AllowsAdjustments true on an OPEN or CLOSING
// period.
func (p *PeriodController) EnableAdjustments(tx *bbolt.Tx, periodCode string) (*FiscalPeriod, error) {
	return p.setAdjustments(tx, periodCode, true)
}

// DisableAdjustments sets AllowsAdjustments false on an OPEN or CLOSING
// period.
func (p *PeriodController) DisableAdjustments(tx *bbolt.Tx, periodCode string) (*FiscalPeriod, error) {
	return p.setAdjustments(tx, periodCode, false)
}

func (p *PeriodController) setAdjustments(tx *bbolt.Tx, periodCode string, allow bool) (*FiscalPeriod, error) {
	period, found, err := p.storage.GetPeriodByCode(tx, periodCode)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPeriodNotFound(periodCode)
	}
	if period.Status == PeriodClosed || period.Status == PeriodLocked {
		return nil, ErrPeriodImmutable(periodCode)
	}
	period.AllowsAdjustments = allow
	if err := p.storage.PutPeriod(tx, period); err != nil {
		return nil, err
	}
	return period, nil
}
