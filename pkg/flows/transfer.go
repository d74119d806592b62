package flows

import (
	"context"
	"fmt"
	"time"

	"bankflow/pkg/banking"
	"bankflow/pkg/form"
	"bankflow/pkg/money"
	"bankflow/pkg/receipt"
	"bankflow/pkg/wizard"
)

// Transfer fields.
const (
	FieldFromAccount  = "fromAccount"
	FieldToAccount    = "toAccount"
	FieldAmount       = "amount"
	FieldMemo         = "memo"
	FieldScheduleDate = "scheduleDate"
)

// knownAccount requires field to name one of accounts.
func knownAccount(field, msg string, accounts []banking.Account) form.Rule {
	return func(st form.State, errs form.Errors) {
		if !st.Has(field) {
			errs.Add(field, msg)
			return
		}
		if _, ok := banking.Find(accounts, st.Get(field)); !ok {
			errs.Add(field, "Unknown account")
		}
	}
}

func (s *Service) transferFlow(ctx context.Context, _ form.State) (wizard.Definition, []wizard.Option, error) {
	out, err := s.List(ctx)
	if err != nil {
		return wizard.Definition{}, nil, err
	}
	accounts := out.Value

	fundsAvailable := func(st form.State, errs form.Errors) {
		from, ok := banking.Find(accounts, st.Get(FieldFromAccount))
		if !ok {
			return
		}
		if amt, ok := st.Amount(FieldAmount); ok && amt.GreaterThan(from.AvailableBalance) {
			errs.Add(FieldAmount, "Amount exceeds the available balance of "+money.Format(from.AvailableBalance))
		}
	}

	summarize := func(st form.State) *receipt.Summary {
		sum := receipt.NewSummary("Review transfer")
		if from, ok := banking.Find(accounts, st.Get(FieldFromAccount)); ok {
			sum.Add("From", from.Label())
		}
		if to, ok := banking.Find(accounts, st.Get(FieldToAccount)); ok {
			sum.Add("To", to.Label())
		}
		when := "Immediately"
		if st.Has(FieldScheduleDate) {
			when = st.Get(FieldScheduleDate)
		}
		sum.Add("Date", when)
		sum.Add("Memo", st.Get(FieldMemo))
		if amt, ok := st.Amount(FieldAmount); ok {
			sum.AddTotal("Amount", amt)
		}
		return sum
	}

	def := wizard.Definition{
		Flow: FlowTransfer,
		Steps: []wizard.Step{
			{Name: "details", Title: "Transfer details"},
			{Name: "review", Title: "Review and confirm"},
		},
		Validate: func(step int, st form.State) form.Errors {
			if step != 1 {
				return nil
			}
			return form.Check(st,
				knownAccount(FieldFromAccount, "Select an account to transfer from", accounts),
				knownAccount(FieldToAccount, "Select an account to transfer to", accounts),
				form.Different(FieldToAccount, FieldFromAccount, "Choose a different account"),
				form.Amount(FieldAmount),
				fundsAvailable,
				form.FutureDate(FieldScheduleDate, s.now()),
			)
		},
		Summarize: summarizer(summarize),
		Submit: func(ctx context.Context, st form.State) (receipt.Confirmation, error) {
			amt, _ := st.Amount(FieldAmount)
			req := TransferRequest{
				From:   st.Get(FieldFromAccount),
				To:     st.Get(FieldToAccount),
				Amount: money.Cents(amt),
				Memo:   st.Get(FieldMemo),
			}
			if st.Has(FieldScheduleDate) {
				d, err := time.Parse(form.DateLayout, st.Get(FieldScheduleDate))
				if err != nil {
					return receipt.Confirmation{}, fmt.Errorf("flows: schedule date: %w", err)
				}
				req.ScheduledFor = &d
			}

			res, err := s.Transfer(ctx, req)
			if err != nil {
				return receipt.Confirmation{}, err
			}
			msg := "Your transfer is complete."
			if res.Value.Status == banking.StatusScheduled {
				msg = "Your transfer is scheduled for " + st.Get(FieldScheduleDate) + "."
			}
			sum := summarize(st).Add("Status", string(res.Value.Status))
			return confirm(res, "TRF", res.Value.Reference, msg, *sum, s.now()), nil
		},
	}
	return def, nil, nil
}
