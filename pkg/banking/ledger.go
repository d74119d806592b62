package banking

import (
	"fmt"
	"time"

	"bankflow/pkg/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// moveOut takes amount out of a: deposit accounts lose balance, credit
// accounts owe more.
func moveOut(a Account, amount decimal.Decimal) Account {
	if a.IsCredit() {
		a.Balance = a.Balance.Add(amount)
	} else {
		a.Balance = a.Balance.Sub(amount)
	}
	a.AvailableBalance = a.AvailableBalance.Sub(amount)
	return a
}

// moveIn puts amount into a: deposit accounts gain balance, credit
// accounts owe less.
func moveIn(a Account, amount decimal.Decimal) Account {
	if a.IsCredit() {
		a.Balance = a.Balance.Sub(amount)
	} else {
		a.Balance = a.Balance.Add(amount)
	}
	a.AvailableBalance = a.AvailableBalance.Add(amount)
	return a
}

func entry(before, after Account, at time.Time, desc string, typ TxType, status TxStatus) Transaction {
	return Transaction{
		ID:             uuid.NewString(),
		AccountID:      after.ID,
		Date:           at,
		Description:    desc,
		Type:           typ,
		Amount:         after.Balance.Sub(before.Balance),
		Status:         status,
		RunningBalance: after.Balance,
	}
}

// CheckAmount accepts a positive amount with at most two decimals and
// twelve whole digits.
func CheckAmount(amount decimal.Decimal) error {
	if err := money.Check(amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// ApplyDeposit adds amount to acct and returns the updated account with
// the matching transaction.
func ApplyDeposit(acct Account, amount decimal.Decimal, now time.Time) (Account, Transaction, error) {
	if err := CheckAmount(amount); err != nil {
		return acct, Transaction{}, err
	}
	updated := moveIn(acct, amount)
	if acct.IsCredit() {
		// a deposit to a credit line is a payment
		return updated, entry(acct, updated, now, "Payment - Thank You", TxPayment, StatusCompleted), nil
	}
	return updated, entry(acct, updated, now, "Deposit", TxDeposit, StatusCompleted), nil
}

// ApplyPayment subtracts amount from acct's balance. On a credit account
// the payment reduces what is owed; elsewhere it is a bill payment that
// must fit the available balance.
func ApplyPayment(acct Account, amount decimal.Decimal, payee string, now time.Time) (Account, Transaction, error) {
	if err := CheckAmount(amount); err != nil {
		return acct, Transaction{}, err
	}
	desc := "Payment"
	if payee != "" {
		desc = "Payment - " + payee
	}
	if acct.IsCredit() {
		updated := moveIn(acct, amount)
		return updated, entry(acct, updated, now, desc, TxPayment, StatusCompleted), nil
	}
	if amount.GreaterThan(acct.AvailableBalance) {
		return acct, Transaction{}, ErrInsufficientFunds
	}
	updated := moveOut(acct, amount)
	return updated, entry(acct, updated, now, desc, TxPayment, StatusCompleted), nil
}

// TransferResult is the outcome of ApplyTransfer.
type TransferResult struct {
	From   Account
	To     Account
	Debit  Transaction
	Credit Transaction
	Record Transfer
}

// ApplyTransfer moves amount from one account to another. Both balances
// change immediately; a transfer with scheduledFor set is recorded as
// Scheduled, otherwise Completed.
func ApplyTransfer(from, to Account, amount decimal.Decimal, memo string, scheduledFor *time.Time, now time.Time) (TransferResult, error) {
	if err := CheckAmount(amount); err != nil {
		return TransferResult{}, err
	}
	if from.ID == to.ID {
		return TransferResult{}, ErrSameAccount
	}
	if amount.GreaterThan(from.AvailableBalance) {
		return TransferResult{}, fmt.Errorf("%w: %s available", ErrInsufficientFunds, from.AvailableBalance.StringFixed(2))
	}

	status := StatusCompleted
	if scheduledFor != nil {
		status = StatusScheduled
	}

	newFrom := moveOut(from, amount)
	newTo := moveIn(to, amount)

	return TransferResult{
		From:   newFrom,
		To:     newTo,
		Debit:  entry(from, newFrom, now, "Transfer to "+to.Label(), TxTransfer, status),
		Credit: entry(to, newTo, now, "Transfer from "+from.Label(), TxTransfer, status),
		Record: Transfer{
			ID:           uuid.NewString(),
			From:         from.ID,
			To:           to.ID,
			Amount:       amount,
			Memo:         memo,
			Date:         now,
			ScheduledFor: scheduledFor,
			Status:       status,
		},
	}, nil
}

// CashAdvanceFee is max(amount * 5%, $10.00).
func CashAdvanceFee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(decimal.RequireFromString("0.05")).Round(2)
	minimum := decimal.NewFromInt(10)
	if fee.LessThan(minimum) {
		return minimum
	}
	return fee
}

// CashAdvanceResult is the outcome of ApplyCashAdvance.
type CashAdvanceResult struct {
	Account Account
	Advance Transaction
	Fee     Transaction
	Total   decimal.Decimal
}

// ApplyCashAdvance draws amount plus fee against a credit account.
func ApplyCashAdvance(acct Account, amount decimal.Decimal, now time.Time) (CashAdvanceResult, error) {
	if err := CheckAmount(amount); err != nil {
		return CashAdvanceResult{}, err
	}
	if !acct.IsCredit() {
		return CashAdvanceResult{}, fmt.Errorf("%w: cash advance needs a credit account", ErrAccountType)
	}
	fee := CashAdvanceFee(amount)
	total := amount.Add(fee)
	if total.GreaterThan(acct.AvailableBalance) {
		return CashAdvanceResult{}, ErrInsufficientFunds
	}

	afterAdvance := moveOut(acct, amount)
	afterFee := moveOut(afterAdvance, fee)
	return CashAdvanceResult{
		Account: afterFee,
		Advance: entry(acct, afterAdvance, now, "Cash Advance", TxWithdrawal, StatusCompleted),
		Fee:     entry(afterAdvance, afterFee, now, "Cash Advance Fee", TxFee, StatusCompleted),
		Total:   total,
	}, nil
}

// Prepend returns txs with t at the head.
func Prepend(txs []Transaction, t ...Transaction) []Transaction {
	out := make([]Transaction, 0, len(txs)+len(t))
	out = append(out, t...)
	return append(out, txs...)
}
