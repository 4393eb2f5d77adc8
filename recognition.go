package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecognitionType distinguishes accrual/deferral recognition postings,
// grounded in the teacher's accrual_service.go AccrualType.
type RecognitionType string

const (
	RecognitionRevenue         RecognitionType = "REVENUE"
	RecognitionExpense         RecognitionType = "EXPENSE"
	RecognitionDeferredRevenue RecognitionType = "DEFERRED_REVENUE"
	RecognitionDeferredExpense RecognitionType = "DEFERRED_EXPENSE"
)

// RecognitionStrategy interprets a "system.recognize_schedule" event —
// one occurrence of a recurring recognition schedule — into a balanced
// two-line ProposedJournalEntry. It is a supplemented feature: the
// schedule bookkeeping itself (which occurrence is due, when) belongs
// to a collaborator outside the kernel, per §1's I/O boundary; this
// strategy only supplies the pure interpretation function, adapted from
// the teacher's accrual_service.go recognition-entry shape.
//
// Expected payload fields:
//
//	schedule_id       string
//	occurrence_index  number
//	recognition_type  one of RecognitionType
//	amount             decimal string
//	currency           ISO 4217 code
//	accrual_account_code   string
//	contra_account_code    string
//	dimensions         map[string]string, optional
type RecognitionStrategy struct{}

// NewRecognitionStrategy constructs a RecognitionStrategy.
func NewRecognitionStrategy() *RecognitionStrategy {
	return &RecognitionStrategy{}
}

// SupportedVersions reports the strategy_version range this
// implementation accepts.
func (s *RecognitionStrategy) SupportedVersions() (int, int) {
	return 1, 1
}

// Interpret turns one recognize_schedule occurrence into a proposed
// entry debiting/crediting the accrual and contra accounts by amount.
func (s *RecognitionStrategy) Interpret(envelope Event, ref *ReferenceSnapshot) (*ProposedJournalEntry, []error) {
	var errs []error

	scheduleID, _ := envelope.Payload["schedule_id"].(string)
	if scheduleID == "" {
		errs = append(errs, fmt.Errorf("schedule_id is required"))
	}

	recognitionType, _ := envelope.Payload["recognition_type"].(string)
	switch RecognitionType(recognitionType) {
	case RecognitionRevenue, RecognitionExpense, RecognitionDeferredRevenue, RecognitionDeferredExpense:
	default:
		errs = append(errs, fmt.Errorf("recognition_type %q is not recognized", recognitionType))
	}

	amountStr, _ := envelope.Payload["amount"].(string)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		errs = append(errs, fmt.Errorf("amount %q is not a valid decimal: %w", amountStr, err))
	} else if !amount.IsPositive() {
		errs = append(errs, fmt.Errorf("amount must be positive"))
	}

	currency, _ := envelope.Payload["currency"].(string)
	if currency == "" {
		errs = append(errs, fmt.Errorf("currency is required"))
	}

	accrualCode, _ := envelope.Payload["accrual_account_code"].(string)
	contraCode, _ := envelope.Payload["contra_account_code"].(string)
	var accrualAccount, contraAccount *Account
	if accrualCode == "" {
		errs = append(errs, fmt.Errorf("accrual_account_code is required"))
	} else if a, ok := ref.AccountByCode(accrualCode); !ok {
		errs = append(errs, fmt.Errorf("accrual account %q not found", accrualCode))
	} else {
		accrualAccount = a
	}
	if contraCode == "" {
		errs = append(errs, fmt.Errorf("contra_account_code is required"))
	} else if a, ok := ref.AccountByCode(contraCode); !ok {
		errs = append(errs, fmt.Errorf("contra account %q not found", contraCode))
	} else {
		contraAccount = a
	}

	var dims map[string]string
	if raw, ok := envelope.Payload["dimensions"].(map[string]any); ok {
		dims = make(map[string]string, len(raw))
		for k, v := range raw {
			if sv, ok := v.(string); ok {
				dims[k] = sv
			}
		}
		errs = append(errs, ref.ValidateDimensions(dims)...)
	}

	if accrualAccount != nil && !ref.IsAccountPostable(accrualAccount.AccountID) {
		errs = append(errs, fmt.Errorf("accrual account %q is not postable", accrualCode))
	}
	if contraAccount != nil && !ref.IsAccountPostable(contraAccount.AccountID) {
		errs = append(errs, fmt.Errorf("contra account %q is not postable", contraCode))
	}

	if len(errs) > 0 {
		return nil, errs
	}

	debitIsAccrual, creditIsAccrual := recognitionSides(RecognitionType(recognitionType))

	lines := []ProposedLine{
		{
			AccountID:  pickAccount(accrualAccount, contraAccount, debitIsAccrual),
			Side:       Debit,
			Amount:     amount,
			Currency:   currency,
			Dimensions: dims,
			Memo:       fmt.Sprintf("recognition schedule %s occurrence", scheduleID),
		},
		{
			AccountID:  pickAccount(accrualAccount, contraAccount, creditIsAccrual),
			Side:       Credit,
			Amount:     amount,
			Currency:   currency,
			Dimensions: dims,
			Memo:       fmt.Sprintf("recognition schedule %s occurrence", scheduleID),
		},
	}

	occurrenceIdx := envelope.Payload["occurrence_index"]
	return &ProposedJournalEntry{
		Description: fmt.Sprintf("recognition schedule %s occurrence %v (%s)", scheduleID, occurrenceIdx, recognitionType),
		Lines:       lines,
	}, nil
}

// sideIsAccrual/sideIsContra are markers for pickAccount's selection of
// which account takes the debit vs. credit leg per recognition type.
const (
	sideIsAccrual = true
	sideIsContra  = false
)

// recognitionSides reports, for a recognition type, whether the accrual
// account (true) or the contra account (false) takes the debit and
// credit legs respectively.
func recognitionSides(t RecognitionType) (debitIsAccrual, creditIsAccrual bool) {
	switch t {
	case RecognitionRevenue, RecognitionDeferredExpense:
		// accrual account debited, contra (revenue/expense) credited
		return true, false
	default:
		// RecognitionExpense, RecognitionDeferredRevenue: contra debited, accrual credited
		return false, true
	}
}

func pickAccount(accrual, contra *Account, wantAccrual bool) uuid.UUID {
	if wantAccrual {
		return accrual.AccountID
	}
	return contra.AccountID
}
