package flows

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"bankflow/pkg/banking"
	"bankflow/pkg/form"
	"bankflow/pkg/money"
	"bankflow/pkg/receipt"
	"bankflow/pkg/wizard"

	"github.com/shopspring/decimal"
)

// Alert fields. Channels is a comma separated list.
const (
	FieldAlertAccount     = "accountId"
	FieldLowBalance       = "lowBalance"
	FieldLargeTransaction = "largeTransaction"
	FieldLargeWithdrawal  = "largeWithdrawal"
	FieldPaymentDue       = "paymentDue"
	FieldDeposits         = "deposits"
	FieldChannels         = "channels"
)

var channels = []string{banking.ChannelEmail, banking.ChannelSMS, banking.ChannelPush}

func validChannels(st form.State, errs form.Errors) {
	list := st.List(FieldChannels)
	if len(list) == 0 {
		errs.Add(FieldChannels, "Choose at least one way to be notified")
		return
	}
	for _, c := range list {
		if !slices.Contains(channels, c) {
			errs.Add(FieldChannels, strconv.Quote(c)+" is not a notification channel")
			return
		}
	}
}

// preferences reads the form into preferences; a blank threshold is zero.
func preferences(st form.State) banking.AlertPreferences {
	amount := func(field string) decimal.Decimal {
		d, _ := st.Amount(field)
		return money.Cents(d)
	}
	return banking.AlertPreferences{
		AccountID:        st.Get(FieldAlertAccount),
		LowBalance:       amount(FieldLowBalance),
		LargeTransaction: amount(FieldLargeTransaction),
		LargeWithdrawal:  amount(FieldLargeWithdrawal),
		PaymentDue:       st.Bool(FieldPaymentDue),
		Deposits:         st.Bool(FieldDeposits),
		Channels:         st.List(FieldChannels),
	}
}

func (s *Service) alertsFlow(ctx context.Context, presets form.State) (wizard.Definition, []wizard.Option, error) {
	out, err := s.List(ctx)
	if err != nil {
		return wizard.Definition{}, nil, err
	}
	accounts := out.Value

	accountID := presets.Get(FieldAlertAccount)
	if accountID == "" {
		if primary, ok := banking.Primary(accounts); ok {
			accountID = primary.ID
		}
	}

	// Saved preferences seed whatever the caller left blank.
	var opts []wizard.Option
	if _, ok := banking.Find(accounts, accountID); ok {
		prefs, err := s.Alerts(ctx, accountID)
		if err != nil {
			return wizard.Definition{}, nil, err
		}
		p := prefs.Value
		for field, value := range map[string]string{
			FieldAlertAccount:     accountID,
			FieldLowBalance:       p.LowBalance.StringFixed(2),
			FieldLargeTransaction: p.LargeTransaction.StringFixed(2),
			FieldLargeWithdrawal:  p.LargeWithdrawal.StringFixed(2),
			FieldPaymentDue:       strconv.FormatBool(p.PaymentDue),
			FieldDeposits:         strconv.FormatBool(p.Deposits),
			FieldChannels:         strings.Join(p.Channels, ","),
		} {
			if !presets.Has(field) {
				opts = append(opts, wizard.WithPreset(field, value))
			}
		}
	}

	summarize := func(st form.State) *receipt.Summary {
		p := preferences(st)
		sum := receipt.NewSummary("Review alerts")
		if acct, ok := banking.Find(accounts, p.AccountID); ok {
			sum.Add("Account", acct.Label())
		}
		threshold := func(label, when string, d decimal.Decimal) {
			if d.IsPositive() {
				sum.Add(label, when+" "+money.Format(d))
			} else {
				sum.Add(label, "off")
			}
		}
		threshold("Low balance", "under", p.LowBalance)
		threshold("Large transaction", "over", p.LargeTransaction)
		threshold("Large withdrawal", "over", p.LargeWithdrawal)
		sum.Add("Payment due", onOff(p.PaymentDue))
		sum.Add("Deposits", onOff(p.Deposits))
		sum.Add("Channels", strings.Join(p.Channels, ", "))
		return sum
	}

	def := wizard.Definition{
		Flow: FlowAlerts,
		Steps: []wizard.Step{
			{Name: "preferences", Title: "Alert preferences"},
		},
		Validate: func(step int, st form.State) form.Errors {
			if step != 1 {
				return nil
			}
			return form.Check(st,
				knownAccount(FieldAlertAccount, "Select an account", accounts),
				form.NonNegativeAmount(FieldLowBalance),
				form.NonNegativeAmount(FieldLargeTransaction),
				form.NonNegativeAmount(FieldLargeWithdrawal),
				validChannels,
			)
		},
		Summarize: summarizer(summarize),
		Submit: func(ctx context.Context, st form.State) (receipt.Confirmation, error) {
			res, err := s.SaveAlerts(ctx, preferences(st))
			if err != nil {
				return receipt.Confirmation{}, err
			}
			return confirm(res, "ALR", "", "Your alert preferences have been saved.", *summarize(st), s.now()), nil
		},
	}
	return def, opts, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
