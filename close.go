package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

// CloseRole is the minimum authority level a phase requires, ranked
// Auditor < Preparer < Approver (spec.md §4.12).
type CloseRole int

const (
	RoleAuditor CloseRole = iota
	RolePreparer
	RoleApprover
)

// RoleResolver maps an actor to the close role they hold. The default
// resolver grants every actor Approver, matching spec.md §6's stated
// default.
type RoleResolver interface {
	Resolve(actorID uuid.UUID) CloseRole
}

// DefaultRoleResolver always resolves to RoleApprover.
type DefaultRoleResolver struct{}

// Resolve implements RoleResolver.
func (DefaultRoleResolver) Resolve(uuid.UUID) CloseRole { return RoleApprover }

// SubledgerCloser closes one subledger for a period, returning its
// final balance for reconciliation. Phase 1 is skipped entirely when no
// closer is configured for a subledger type.
type SubledgerCloser interface {
	Close(tx *bbolt.Tx, subledgerType SubledgerType, period *FiscalPeriod, actorID uuid.UUID) (decimal.Decimal, error)
}

// AdjustmentPoster posts period-end adjustments via a caller-supplied
// callback (phase 3). Skipped when nil.
type AdjustmentPoster func(tx *bbolt.Tx, period *FiscalPeriod, actorID uuid.UUID) (count int, err error)

// ClosingEntryPoster posts year-end closing entries (phase 4, year-end
// closes only). Skipped when nil or when the close is not year-end.
type ClosingEntryPoster func(tx *bbolt.Tx, period *FiscalPeriod, actorID uuid.UUID) (count int, err error)

// HealthCheckResult is phase 0's read-only report, grounded in
// original_source's health_check: subledger-vs-GL variance per
// subledger type, suspense/clearing account balances, whether the trial
// balance balances, and the period's entry count. A non-zero subledger
// variance or an unbalanced trial balance is listed in Blocking; suspense
// balances are listed in Warnings. RejectionCount is not computed and
// stays zero, and ClosePeriodFull does not run HealthCheck.
type HealthCheckResult struct {
	TrialBalanceBalanced bool
	SubledgerVariances   map[SubledgerType]decimal.Decimal
	SuspenseBalances     map[string]decimal.Decimal
	EntryCount           int
	RejectionCount       int
	Blocking             []string
	Warnings             []string
}

// CloseStatus is the lifecycle state of one close run.
type CloseStatus string

const (
	CloseNotStarted CloseStatus = "NOT_STARTED"
	CloseInProgress CloseStatus = "IN_PROGRESS"
	CloseCompleted  CloseStatus = "COMPLETED"
	CloseFailed     CloseStatus = "FAILED"
	CloseCancelled  CloseStatus = "CANCELLED"
)

// CloseRunResult reports the outcome of close_period_full.
type CloseRunResult struct {
	Status          CloseStatus
	FailedPhase     int
	Message         string
	PhasesCompleted int
	PhasesSkipped   int
	Certificate     *CloseCertificate
}

// closePhase threshold constants mirror the spec's phase table.
const (
	phaseHealthCheck   = 0
	phaseCloseSubledgers = 1
	phaseVerifyTrialBalance = 2
	phasePostAdjustments = 3
	phasePostClosingEntries = 4
	phaseCloseGL = 5
	phaseLock = 6
)

var phaseRoleThreshold = map[int]CloseRole{
	phaseHealthCheck:        RoleAuditor,
	phaseCloseSubledgers:    RolePreparer,
	phaseVerifyTrialBalance: RolePreparer,
	phasePostAdjustments:    RolePreparer,
	phasePostClosingEntries: RolePreparer,
	phaseCloseGL:            RoleApprover,
	phaseLock:               RoleApprover,
}

var suspenseAccountCodes = []string{"9000", "9001"}

// CloseOrchestrator runs the six-phase fiscal period close (spec.md
// §4.12), ported from original_source's period_close_orchestrator.py
// and the teacher's reconciliation.go summary arithmetic.
type CloseOrchestrator struct {
	periods    *PeriodController
	auditor    *Auditor
	ledger     *LedgerSelector
	subledgers *SubledgerSelector
	storage    *Storage
	clock      Clock
	roles      RoleResolver
	closers    map[SubledgerType]SubledgerCloser
	adjust     AdjustmentPoster
	closingEntries ClosingEntryPoster
}

// NewCloseOrchestrator wires a CloseOrchestrator. roles defaults to
// DefaultRoleResolver if nil; closers, adjust, and closingEntries may
// all be nil, in which case their phases are skipped.
func NewCloseOrchestrator(periods *PeriodController, auditor *Auditor, ledger *LedgerSelector, subledgers *SubledgerSelector, storage *Storage, clock Clock, roles RoleResolver, closers map[SubledgerType]SubledgerCloser, adjust AdjustmentPoster, closingEntries ClosingEntryPoster) *CloseOrchestrator {
	if roles == nil {
		roles = DefaultRoleResolver{}
	}
	return &CloseOrchestrator{
		periods:        periods,
		auditor:        auditor,
		ledger:         ledger,
		subledgers:     subledgers,
		storage:        storage,
		clock:          clock,
		roles:          roles,
		closers:        closers,
		adjust:         adjust,
		closingEntries: closingEntries,
	}
}

func (c *CloseOrchestrator) requireRole(actorID uuid.UUID, phase int) error {
	if c.roles.Resolve(actorID) < phaseRoleThreshold[phase] {
		return ErrCloseAuthorityDenied(actorID.String(), phase)
	}
	return nil
}

// HealthCheck runs phase 0: a read-only report an Auditor-level actor
// may request at any time, independent of a close run being active.
func (c *CloseOrchestrator) HealthCheck(tx *bbolt.Tx, periodCode string, actorID uuid.UUID) (*HealthCheckResult, error) {
	if err := c.requireRole(actorID, phaseHealthCheck); err != nil {
		return nil, err
	}
	period, found, err := c.periods.GetByCode(tx, periodCode)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPeriodNotFound(periodCode)
	}

	debits, credits, err := c.ledger.TrialBalanceTotals(tx, &period.EndDate)
	if err != nil {
		return nil, err
	}
	balanced := debits.Sub(credits).IsZero()

	result := &HealthCheckResult{
		TrialBalanceBalanced: balanced,
		SubledgerVariances:   map[SubledgerType]decimal.Decimal{},
		SuspenseBalances:     map[string]decimal.Decimal{},
	}
	if !balanced {
		result.Blocking = append(result.Blocking, "trial balance does not balance")
	}

	for subledgerType := range ControlAccountCodes {
		_, _, variance, err := c.subledgers.ReconciliationVariance(tx, subledgerType, period.EndDate, "USD")
		if err != nil {
			continue
		}
		result.SubledgerVariances[subledgerType] = variance
		if !variance.IsZero() {
			result.Blocking = append(result.Blocking, fmt.Sprintf("subledger %s variance %s", subledgerType, variance.String()))
		}
	}

	for _, code := range suspenseAccountCodes {
		account, found, err := c.storage.AccountByCode(tx, code)
		if err != nil || !found {
			continue
		}
		bal, err := c.ledger.AccountBalance(tx, account.AccountID, &period.EndDate, "USD")
		if err != nil {
			continue
		}
		result.SuspenseBalances[code] = bal
		if !bal.IsZero() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("suspense account %s has non-zero balance %s", code, bal.String()))
		}
	}

	entries, err := c.storage.AllJournalEntries(tx)
	if err == nil {
		for _, e := range entries {
			if !e.EffectiveDate.Before(period.StartDate) && !e.EffectiveDate.After(period.EndDate) {
				result.EntryCount++
			}
		}
	}

	return result, nil
}

// BeginClose transitions the period OPEN -> CLOSING, acquiring the
// exclusive close lock (R25). isYearEnd is not used here; phases 4 and 6
// are gated by ClosePeriodFull's own isYearEnd.
func (c *CloseOrchestrator) BeginClose(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, isYearEnd bool) (*FiscalPeriod, error) {
	if err := c.requireRole(actorID, phaseCloseSubledgers); err != nil {
		return nil, err
	}
	runID := uuid.New()
	period, err := c.periods.BeginClosing(tx, periodCode, runID, actorID)
	if err != nil {
		return nil, err
	}
	return period, nil
}

// CancelClose reverts CLOSING -> OPEN. Requires Approver authority,
// grounded in original_source's cancel_close.
func (c *CloseOrchestrator) CancelClose(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, reason string) error {
	if err := c.requireRole(actorID, phaseCloseGL); err != nil {
		return err
	}
	if _, err := c.periods.CancelClosing(tx, periodCode, actorID, reason); err != nil {
		return err
	}
	_, err := c.auditor.RecordCloseCancelled(tx, periodCode, actorID, reason)
	return err
}

// Status reports the current close run state for periodCode, a
// convenience read ported from original_source's get_status.
func (c *CloseOrchestrator) Status(tx *bbolt.Tx, periodCode string) (status CloseStatus, isClosing bool, isClosed bool, err error) {
	period, found, err := c.periods.GetByCode(tx, periodCode)
	if err != nil {
		return "", false, false, err
	}
	if !found {
		return "", false, false, ErrPeriodNotFound(periodCode)
	}
	switch period.Status {
	case PeriodClosing:
		return CloseInProgress, true, false, nil
	case PeriodClosed, PeriodLocked:
		if cert, found, err := c.storage.CloseCertificateByPeriod(tx, periodCode); err == nil && found && cert != nil {
			return CloseCompleted, false, true, nil
		}
		return CloseCompleted, false, true, nil
	default:
		return CloseNotStarted, false, false, nil
	}
}

// ClosePeriodFull runs phases 1 through 6 in order within tx. It stops
// at the first blocking phase failure and returns FAILED with phase
// details; no compensation is attempted — CancelClose is the separate
// remediation path (spec.md §4.12).
func (c *CloseOrchestrator) ClosePeriodFull(tx *bbolt.Tx, periodCode string, actorID uuid.UUID, isYearEnd bool) (*CloseRunResult, error) {
	period, found, err := c.periods.GetByCode(tx, periodCode)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPeriodNotFound(periodCode)
	}
	if period.Status != PeriodClosing {
		return nil, ErrPeriodClosing(periodCode)
	}

	completed, skipped := 0, 0
	var subledgersClosed []string

	// Phase 1: close subledgers.
	if err := c.requireRole(actorID, phaseCloseSubledgers); err != nil {
		return nil, err
	}
	if c.closers == nil {
		skipped++
	} else {
		for subledgerType, closer := range c.closers {
			variance, err := closer.Close(tx, subledgerType, period, actorID)
			if err != nil {
				return &CloseRunResult{Status: CloseFailed, FailedPhase: phaseCloseSubledgers, Message: err.Error(), PhasesCompleted: completed, PhasesSkipped: skipped}, nil
			}
			if _, err := c.auditor.RecordSubledgerClosed(tx, periodCode, actorID, string(subledgerType), variance.String()); err != nil {
				return nil, err
			}
			subledgersClosed = append(subledgersClosed, string(subledgerType))
		}
		completed++
	}

	// Phase 2: verify trial balance.
	if err := c.requireRole(actorID, phaseVerifyTrialBalance); err != nil {
		return nil, err
	}
	debits, credits, err := c.ledger.TrialBalanceTotals(tx, &period.EndDate)
	if err != nil {
		return nil, err
	}
	if !debits.Sub(credits).IsZero() {
		return &CloseRunResult{Status: CloseFailed, FailedPhase: phaseVerifyTrialBalance, Message: "trial balance does not balance", PhasesCompleted: completed, PhasesSkipped: skipped}, nil
	}
	completed++

	// Phase 3: post adjustments.
	if err := c.requireRole(actorID, phasePostAdjustments); err != nil {
		return nil, err
	}
	adjustmentsPosted := 0
	if c.adjust == nil {
		skipped++
	} else {
		n, err := c.adjust(tx, period, actorID)
		if err != nil {
			return &CloseRunResult{Status: CloseFailed, FailedPhase: phasePostAdjustments, Message: err.Error(), PhasesCompleted: completed, PhasesSkipped: skipped}, nil
		}
		adjustmentsPosted = n
		completed++
	}

	// Phase 4: post year-end closing entries.
	if err := c.requireRole(actorID, phasePostClosingEntries); err != nil {
		return nil, err
	}
	closingEntriesPosted := 0
	if !isYearEnd || c.closingEntries == nil {
		skipped++
	} else {
		n, err := c.closingEntries(tx, period, actorID)
		if err != nil {
			return &CloseRunResult{Status: CloseFailed, FailedPhase: phasePostClosingEntries, Message: err.Error(), PhasesCompleted: completed, PhasesSkipped: skipped}, nil
		}
		closingEntriesPosted = n
		completed++
	}

	// Phase 5: close GL.
	if err := c.requireRole(actorID, phaseCloseGL); err != nil {
		return nil, err
	}
	period, err = c.periods.ClosePeriod(tx, periodCode, actorID)
	if err != nil {
		return &CloseRunResult{Status: CloseFailed, FailedPhase: phaseCloseGL, Message: err.Error(), PhasesCompleted: completed, PhasesSkipped: skipped}, nil
	}
	completed++

	// Phase 6: lock, year-end only.
	if err := c.requireRole(actorID, phaseLock); err != nil {
		return nil, err
	}
	if !isYearEnd {
		skipped++
	} else {
		period, err = c.periods.LockPeriod(tx, periodCode, actorID)
		if err != nil {
			return &CloseRunResult{Status: CloseFailed, FailedPhase: phaseLock, Message: err.Error(), PhasesCompleted: completed, PhasesSkipped: skipped}, nil
		}
		completed++
	}

	ledgerHash, err := c.ledger.CanonicalHash(tx, &period.EndDate)
	if err != nil {
		return nil, err
	}

	cert := &CloseCertificate{
		CertificateID:        uuid.New(),
		PeriodCode:           periodCode,
		ClosedAt:             c.clock.Now(),
		ClosedBy:             actorID,
		LedgerHash:           ledgerHash,
		TrialBalanceDebits:   debits,
		TrialBalanceCredits:  credits,
		SubledgersClosed:     subledgersClosed,
		AdjustmentsPosted:    adjustmentsPosted,
		ClosingEntriesPosted: closingEntriesPosted,
		PhasesCompleted:      completed,
		PhasesSkipped:        skipped,
	}
	if err := c.storage.PutCloseCertificate(tx, cert); err != nil {
		return nil, err
	}
	auditEvent, err := c.auditor.RecordCloseCertified(tx, periodCode, actorID, cert.CertificateID, ledgerHash)
	if err != nil {
		return nil, err
	}
	cert.AuditEventID = &auditEvent.AuditID
	if err := c.storage.PutCloseCertificate(tx, cert); err != nil {
		return nil, err
	}

	return &CloseRunResult{
		Status:          CloseCompleted,
		PhasesCompleted: completed,
		PhasesSkipped:   skipped,
		Certificate:     cert,
	}, nil
}
