// Package banking models accounts, transactions and beneficiaries, and
// applies balance changes locally when the API cannot.
package banking

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("banking: amount must be greater than zero")

	// ErrInsufficientFunds is returned when a debit exceeds the available
	// balance.
	ErrInsufficientFunds = errors.New("banking: insufficient available balance")

	// ErrAllocation is returned when beneficiary percentages do not add
	// up.
	ErrAllocation = errors.New("banking: beneficiary allocation must total 100%")

	// ErrSameAccount is returned for transfers to the source account.
	ErrSameAccount = errors.New("banking: source and destination must differ")

	// ErrAccountType is returned when an operation does not apply to the
	// account type.
	ErrAccountType = errors.New("banking: operation not supported for account type")

	// ErrAccountNotFound is returned by lookups.
	ErrAccountNotFound = errors.New("banking: account not found")
)

// AccountType is the product behind an account.
type AccountType string

const (
	Checking    AccountType = "checking"
	Savings     AccountType = "savings"
	Credit      AccountType = "credit"
	Retirement  AccountType = "retirement"
	MoneyMarket AccountType = "money-market"
	CD          AccountType = "cd"
)

// Account is a customer account. For credit accounts Balance is the
// amount owed and AvailableBalance the unused credit.
type Account struct {
	ID               string          `json:"id"`
	Type             AccountType     `json:"type"`
	Nickname         string          `json:"nickname"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	AccountNumber    string          `json:"accountNumber"`
	RoutingNumber    string          `json:"routingNumber,omitempty"`
	OpenedAt         time.Time       `json:"openedAt"`
	CreditLimit      decimal.Decimal `json:"creditLimit"`
}

// IsCredit reports whether the account is a credit line.
func (a Account) IsCredit() bool {
	return a.Type == Credit
}

// Masked returns the account number with all but the last four digits
// hidden.
func (a Account) Masked() string {
	n := a.AccountNumber
	if len(n) <= 4 {
		return n
	}
	return strings.Repeat("*", 4) + n[len(n)-4:]
}

// Label renders "Nickname (****1234)".
func (a Account) Label() string {
	if a.Nickname == "" {
		return a.Masked()
	}
	return a.Nickname + " (" + a.Masked() + ")"
}

// Find returns the account with id.
func Find(accounts []Account, id string) (Account, bool) {
	for _, a := range accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// Replace returns accounts with the entry matching updated.ID swapped.
func Replace(accounts []Account, updated ...Account) []Account {
	out := make([]Account, len(accounts))
	copy(out, accounts)
	for _, u := range updated {
		for i := range out {
			if out[i].ID == u.ID {
				out[i] = u
			}
		}
	}
	return out
}

// Primary returns the first checking account, or the first account.
func Primary(accounts []Account) (Account, bool) {
	for _, a := range accounts {
		if a.Type == Checking {
			return a, true
		}
	}
	if len(accounts) > 0 {
		return accounts[0], true
	}
	return Account{}, false
}

// TxType classifies a transaction.
type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxPayment    TxType = "payment"
	TxTransfer   TxType = "transfer"
	TxFee        TxType = "fee"
	TxInterest   TxType = "interest"
	TxBonus      TxType = "bonus"
	TxTax        TxType = "tax"
)

// TxStatus is the settlement state of a transaction or transfer.
type TxStatus string

const (
	StatusCompleted TxStatus = "Completed"
	StatusPending   TxStatus = "Pending"
	StatusScheduled TxStatus = "Scheduled"
)

// Transaction is one ledger entry. Amount is the signed change to the
// account balance and RunningBalance the balance after it.
type Transaction struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"accountId"`
	Date           time.Time       `json:"date"`
	Description    string          `json:"description"`
	Type           TxType          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Status         TxStatus        `json:"status"`
	RunningBalance decimal.Decimal `json:"runningBalance"`
}

// Transfer records money moved between two of the customer's accounts.
type Transfer struct {
	ID           string          `json:"id"`
	From         string          `json:"fromAccountId"`
	To           string          `json:"toAccountId"`
	Amount       decimal.Decimal `json:"amount"`
	Memo         string          `json:"memo,omitempty"`
	Date         time.Time       `json:"date"`
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
	Status       TxStatus        `json:"status"`
	Reference    string          `json:"reference,omitempty"`
}
