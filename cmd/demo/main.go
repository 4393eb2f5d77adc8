package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"

	ledger "ledgerkernel"
)

// saleStrategy is a demo-only Strategy: it interprets a "sale.recorded"
// event into a cash-debit / revenue-credit entry. The kernel's own
// RecognitionStrategy lives in recognition.go; this one exists to
// exercise the pipeline here.
type saleStrategy struct{}

func (saleStrategy) SupportedVersions() (int, int) { return 1, 1 }

func (saleStrategy) Interpret(envelope ledger.Event, ref *ledger.ReferenceSnapshot) (*ledger.ProposedJournalEntry, []error) {
	amountStr, _ := envelope.Payload["amount"].(string)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, []error{fmt.Errorf("invalid amount: %w", err)}
	}
	cash, ok := ref.AccountByCode("1000")
	if !ok {
		return nil, []error{fmt.Errorf("cash account 1000 not found")}
	}
	revenue, ok := ref.AccountByCode("4000")
	if !ok {
		return nil, []error{fmt.Errorf("revenue account 4000 not found")}
	}
	return &ledger.ProposedJournalEntry{
		Description: "sale recorded",
		Lines: []ledger.ProposedLine{
			{AccountID: cash.AccountID, Side: ledger.Debit, Amount: amount, Currency: "USD"},
			{AccountID: revenue.AccountID, Side: ledger.Credit, Amount: amount, Currency: "USD"},
		},
	}, nil
}

// expenseStrategy interprets "expense.recorded" into an expense-debit /
// cash-credit entry.
type expenseStrategy struct{}

func (expenseStrategy) SupportedVersions() (int, int) { return 1, 1 }

func (expenseStrategy) Interpret(envelope ledger.Event, ref *ledger.ReferenceSnapshot) (*ledger.ProposedJournalEntry, []error) {
	amountStr, _ := envelope.Payload["amount"].(string)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, []error{fmt.Errorf("invalid amount: %w", err)}
	}
	expense, ok := ref.AccountByCode("5000")
	if !ok {
		return nil, []error{fmt.Errorf("expense account 5000 not found")}
	}
	cash, ok := ref.AccountByCode("1000")
	if !ok {
		return nil, []error{fmt.Errorf("cash account 1000 not found")}
	}
	return &ledger.ProposedJournalEntry{
		Description: "expense recorded",
		Lines: []ledger.ProposedLine{
			{AccountID: expense.AccountID, Side: ledger.Debit, Amount: amount, Currency: "USD"},
			{AccountID: cash.AccountID, Side: ledger.Credit, Amount: amount, Currency: "USD"},
		},
	}, nil
}

func mustAccount(tx *bbolt.Tx, storage *ledger.Storage, code, name string, accountType ledger.AccountType, actorID uuid.UUID, auditor *ledger.Auditor) uuid.UUID {
	a := &ledger.Account{
		AccountID: uuid.New(),
		Code:      code,
		Name:      name,
		Type:      accountType,
		IsActive:  true,
	}
	if err := storage.PutAccount(tx, a); err != nil {
		log.Fatalf("failed to create account %s: %v", code, err)
	}
	if _, err := auditor.RecordAccountCreated(tx, a.AccountID, actorID, code); err != nil {
		log.Fatalf("failed to audit account %s: %v", code, err)
	}
	return a.AccountID
}

func main() {
	fmt.Println("Posting Kernel Demo")
	fmt.Println("===================")

	dbFile := "demo_ledger.db"
	os.Remove(dbFile)
	defer os.Remove(dbFile)

	k, err := ledger.NewKernel(dbFile, ledger.KernelOptions{
		Schemas: map[string]ledger.EventSchema{
			"sale.recorded":    {RequiredFields: []string{"amount"}, MaxVersion: 1},
			"expense.recorded": {RequiredFields: []string{"amount"}, MaxVersion: 1},
		},
	})
	if err != nil {
		log.Fatalf("failed to open kernel: %v", err)
	}
	defer k.CloseKernel()

	k.Strategies.Register("sale.recorded", saleStrategy{})
	k.Strategies.Register("expense.recorded", expenseStrategy{})
	k.Strategies.Register("system.recognize_schedule", ledger.NewRecognitionStrategy())

	actorID := uuid.New()

	fmt.Println("\nStep 1: Creating chart of accounts")
	if err := k.Storage.Update(func(tx *bbolt.Tx) error {
		mustAccount(tx, k.Storage, "1000", "Cash", ledger.Asset, actorID, k.Auditor)
		mustAccount(tx, k.Storage, "4000", "Revenue", ledger.Revenue, actorID, k.Auditor)
		mustAccount(tx, k.Storage, "5000", "Expenses", ledger.Expense, actorID, k.Auditor)
		return nil
	}); err != nil {
		log.Fatalf("failed to create accounts: %v", err)
	}
	fmt.Println("accounts created: 1000 Cash, 4000 Revenue, 5000 Expenses")

	periodStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	fmt.Println("\nStep 2: Opening fiscal period 2024-01")
	if err := k.Storage.Update(func(tx *bbolt.Tx) error {
		_, err := k.Periods.CreatePeriod(tx, "2024-01", "January 2024", periodStart, periodEnd, actorID, true)
		return err
	}); err != nil {
		log.Fatalf("failed to create period: %v", err)
	}

	effective := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	fmt.Println("\nStep 3: Posting a sale")
	saleEventID := uuid.New()
	var saleEntryID *uuid.UUID
	if err := k.Storage.Update(func(tx *bbolt.Tx) error {
		result, err := k.Posting.PostEvent(tx, saleEventID, "sale.recorded", time.Now().UTC(), effective, actorID, "demo.cli", map[string]any{"amount": "2500.00"}, 1)
		if err != nil {
			return err
		}
		fmt.Printf("   status=%s entry_id=%v\n", result.Status, result.EntryID)
		saleEntryID = result.EntryID
		return nil
	}); err != nil {
		log.Fatalf("failed to post sale: %v", err)
	}

	fmt.Println("\nStep 4: Posting an expense")
	expenseEventID := uuid.New()
	var expenseEntryID *uuid.UUID
	if err := k.Storage.Update(func(tx *bbolt.Tx) error {
		result, err := k.Posting.PostEvent(tx, expenseEventID, "expense.recorded", time.Now().UTC(), effective, actorID, "demo.cli", map[string]any{"amount": "150.00"}, 1)
		if err != nil {
			return err
		}
		fmt.Printf("   status=%s entry_id=%v\n", result.Status, result.EntryID)
		expenseEntryID = result.EntryID
		return nil
	}); err != nil {
		log.Fatalf("failed to post expense: %v", err)
	}

	fmt.Println("\nStep 5: Trial balance as of 2024-01-31")
	if err := k.Storage.View(func(tx *bbolt.Tx) error {
		asOf := periodEnd
		rows, err := k.Ledger.TrialBalance(tx, &asOf)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Printf("   %-8s %s debit=%s credit=%s balance=%s\n", row.AccountCode, row.Currency, row.DebitTotal, row.CreditTotal, row.Balance)
		}
		return nil
	}); err != nil {
		log.Fatalf("failed to read trial balance: %v", err)
	}

	fmt.Println("\nStep 6: Reversing the expense entry")
	if expenseEntryID != nil {
		if err := k.Storage.Update(func(tx *bbolt.Tx) error {
			result, err := k.Reversals.ReverseInSamePeriod(tx, *expenseEntryID, "office supplies returned", actorID, nil)
			if err != nil {
				return err
			}
			fmt.Printf("   reversal entry_id=%s seq=%d\n", result.ReversalEntryID, result.ReversalSeq)
			return nil
		}); err != nil {
			log.Fatalf("failed to reverse expense: %v", err)
		}
	}

	fmt.Println("\nStep 7: Tracing the sale entry")
	if saleEntryID != nil {
		if err := k.Storage.View(func(tx *bbolt.Tx) error {
			bundle, err := k.Trace.Get(tx, *saleEntryID)
			if err != nil {
				return err
			}
			fmt.Printf("   journal_entries=%d audit_events=%d economic_links=%d bundle_hash=%v\n",
				len(bundle.JournalEntries), len(bundle.AuditEvents), len(bundle.EconomicLinks), bundle.Integrity["bundle_hash"])
			return nil
		}); err != nil {
			log.Fatalf("failed to trace sale entry: %v", err)
		}
	}

	fmt.Println("\nStep 8: Closing the period")
	if err := k.Storage.Update(func(tx *bbolt.Tx) error {
		if _, err := k.Close.BeginClose(tx, "2024-01", actorID, false); err != nil {
			return err
		}
		result, err := k.Close.ClosePeriodFull(tx, "2024-01", actorID, false)
		if err != nil {
			return err
		}
		fmt.Printf("   status=%s phases_completed=%d phases_skipped=%d\n", result.Status, result.PhasesCompleted, result.PhasesSkipped)
		if result.Certificate != nil {
			fmt.Printf("   ledger_hash=%s debits=%s credits=%s\n", result.Certificate.LedgerHash, result.Certificate.TrialBalanceDebits, result.Certificate.TrialBalanceCredits)
		}
		return nil
	}); err != nil {
		log.Fatalf("failed to close period: %v", err)
	}

	fmt.Println("\nStep 9: Posting after close is rejected")
	if err := k.Storage.Update(func(tx *bbolt.Tx) error {
		result, err := k.Posting.PostEvent(tx, uuid.New(), "sale.recorded", time.Now().UTC(), effective, actorID, "demo.cli", map[string]any{"amount": "10.00"}, 1)
		if err != nil {
			return err
		}
		fmt.Printf("   status=%s message=%s\n", result.Status, result.Message)
		return nil
	}); err != nil {
		log.Fatalf("failed to post after close: %v", err)
	}

	fmt.Println("\nStep 10: Validating the audit chain")
	if err := k.Storage.View(func(tx *bbolt.Tx) error {
		brokenAt, ok, err := k.Auditor.ValidateChain(tx)
		if err != nil {
			return err
		}
		fmt.Printf("   chain_ok=%v broken_at=%d\n", ok, brokenAt)
		return nil
	}); err != nil {
		log.Fatalf("failed to validate audit chain: %v", err)
	}

	fmt.Println("\nDemo complete.")
}
