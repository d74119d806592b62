package banking

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// historyEntry is one synthetic transaction, dated daysAgo before now.
type historyEntry struct {
	daysAgo     int
	description string
	typ         TxType
	amount      string
}

// historyEntries is ordered newest first.
var historyEntries = []historyEntry{
	{2, "Loyalty Bonus", TxBonus, "50.00"},
	{5, "Interest Payment", TxInterest, "3.27"},
	{12, "ATM Withdrawal", TxWithdrawal, "-60.00"},
	{15, "Monthly Service Fee", TxFee, "-12.00"},
	{28, "Federal Tax Withholding", TxTax, "-125.00"},
	{30, "Direct Deposit - Payroll", TxDeposit, "2450.00"},
	{90, "Initial Deposit", TxDeposit, "1000.00"},
}

// GenerateHistory builds a deterministic transaction list for acct,
// newest first. Dates before the account was opened are clamped to the
// open date. Running balances are computed backwards from the current
// balance so the newest entry always matches it.
func GenerateHistory(acct Account, now time.Time) []Transaction {
	txs := make([]Transaction, len(historyEntries))
	for i, e := range historyEntries {
		date := now.AddDate(0, 0, -e.daysAgo)
		if !acct.OpenedAt.IsZero() && date.Before(acct.OpenedAt) {
			date = acct.OpenedAt
		}
		amount := decimal.RequireFromString(e.amount)
		if acct.IsCredit() {
			// on a credit line, inflows reduce the owed balance
			amount = amount.Neg()
		}
		txs[i] = Transaction{
			ID:          fmt.Sprintf("%s-h%02d", acct.ID, i+1),
			AccountID:   acct.ID,
			Date:        date,
			Description: e.description,
			Type:        e.typ,
			Amount:      amount,
			Status:      StatusCompleted,
		}
	}

	// clamped entries share the open date and keep their listed order
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Date.After(txs[j].Date)
	})

	running := acct.Balance
	for i := range txs {
		txs[i].RunningBalance = running
		running = running.Sub(txs[i].Amount)
	}
	return txs
}
