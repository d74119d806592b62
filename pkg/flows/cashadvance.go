package flows

import (
	"context"

	"bankflow/pkg/banking"
	"bankflow/pkg/form"
	"bankflow/pkg/money"
	"bankflow/pkg/receipt"
	"bankflow/pkg/wizard"
)

// Cash advance fields.
const (
	FieldAdvanceAccount = "accountId"
	FieldAdvanceAmount  = "amount"
	FieldAcceptTerms    = "acceptTerms"
)

func (s *Service) cashAdvanceFlow(ctx context.Context, presets form.State) (wizard.Definition, []wizard.Option, error) {
	out, err := s.List(ctx)
	if err != nil {
		return wizard.Definition{}, nil, err
	}
	var credit []banking.Account
	for _, a := range out.Value {
		if a.IsCredit() {
			credit = append(credit, a)
		}
	}

	var opts []wizard.Option
	if !presets.Has(FieldAdvanceAccount) && len(credit) > 0 {
		opts = append(opts, wizard.WithPreset(FieldAdvanceAccount, credit[0].ID))
	}

	withinLimit := func(st form.State, errs form.Errors) {
		acct, ok := banking.Find(credit, st.Get(FieldAdvanceAccount))
		if !ok {
			return
		}
		amt, ok := st.Amount(FieldAdvanceAmount)
		if !ok || !amt.IsPositive() {
			return
		}
		if total := amt.Add(banking.CashAdvanceFee(amt)); total.GreaterThan(acct.AvailableBalance) {
			errs.Add(FieldAdvanceAmount, "Amount plus fee exceeds your available credit of "+money.Format(acct.AvailableBalance))
		}
	}

	summarize := func(st form.State) *receipt.Summary {
		sum := receipt.NewSummary("Review cash advance")
		if acct, ok := banking.Find(credit, st.Get(FieldAdvanceAccount)); ok {
			sum.Add("Account", acct.Label())
		}
		if amt, ok := st.Amount(FieldAdvanceAmount); ok {
			fee := banking.CashAdvanceFee(amt)
			sum.AddTotal("Advance", amt)
			sum.AddTotal("Fee", fee)
			sum.AddTotal("Total", amt.Add(fee))
		}
		return sum
	}

	def := wizard.Definition{
		Flow: FlowCashAdvance,
		Steps: []wizard.Step{
			{Name: "amount", Title: "Advance amount"},
			{Name: "review", Title: "Review terms"},
		},
		Validate: func(step int, st form.State) form.Errors {
			switch step {
			case 1:
				return form.Check(st,
					knownAccount(FieldAdvanceAccount, "Select a credit card account", credit),
					form.Amount(FieldAdvanceAmount),
					withinLimit,
				)
			case 2:
				return form.Check(st,
					form.Checked(FieldAcceptTerms, "You must accept the cash advance terms"),
				)
			}
			return nil
		},
		Summarize: summarizer(summarize),
		Submit: func(ctx context.Context, st form.State) (receipt.Confirmation, error) {
			amt, _ := st.Amount(FieldAdvanceAmount)
			res, err := s.CashAdvance(ctx, st.Get(FieldAdvanceAccount), money.Cents(amt))
			if err != nil {
				return receipt.Confirmation{}, err
			}
			msg := "Your cash advance of " + money.Format(amt) + " has been deposited."
			return confirm(res, "CSH", res.Value.Reference, msg, *summarize(st), s.now()), nil
		},
	}
	return def, opts, nil
}
