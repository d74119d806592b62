package banking

import (
	"fmt"

	"bankflow/pkg/money"

	"github.com/shopspring/decimal"
)

// Alert delivery channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// AlertPreferences are the notification settings of one account.
// A zero threshold disables that alert.
type AlertPreferences struct {
	AccountID        string          `json:"accountId"`
	LowBalance       decimal.Decimal `json:"lowBalance"`
	LargeTransaction decimal.Decimal `json:"largeTransaction"`
	LargeWithdrawal  decimal.Decimal `json:"largeWithdrawal"`
	PaymentDue       bool            `json:"paymentDue"`
	Deposits         bool            `json:"deposits"`
	Channels         []string        `json:"channels"`
}

// DefaultAlerts is served when the account has no saved preferences.
func DefaultAlerts(accountID string) AlertPreferences {
	return AlertPreferences{
		AccountID:        accountID,
		LowBalance:       decimal.NewFromInt(100),
		LargeTransaction: decimal.NewFromInt(500),
		Deposits:         true,
		Channels:         []string{ChannelEmail},
	}
}

// Validate rejects negative or out of range thresholds.
func (p AlertPreferences) Validate() error {
	for name, d := range map[string]decimal.Decimal{
		"lowBalance":       p.LowBalance,
		"largeTransaction": p.LargeTransaction,
		"largeWithdrawal":  p.LargeWithdrawal,
	} {
		if err := money.Check(d); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidAmount, name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, name)
		}
	}
	return nil
}
