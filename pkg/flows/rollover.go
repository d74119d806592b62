package flows

import (
	"context"
	"net/url"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/banking"
	"bankflow/pkg/form"
	"bankflow/pkg/money"
	"bankflow/pkg/receipt"
	"bankflow/pkg/wizard"

	"github.com/shopspring/decimal"
)

// Rollover fields. Allocations use one "alloc.<fund>" field per fund.
const (
	FieldRolloverAccount = "accountId"
	FieldPlanType        = "planType"
	FieldInstitution     = "institution"
	FieldRolloverAmount  = "amount"
	FieldRolloverType    = "rolloverType"
	AllocPrefix          = "alloc."
)

// Rollover types.
const (
	RolloverDirect   = "direct"
	RolloverIndirect = "indirect"
)

// IndirectWithholding is the federal withholding on an indirect rollover.
var IndirectWithholding = decimal.NewFromInt(20)

// Funds offered for rollover allocations.
var Funds = map[string]string{
	"target-2055":  "Target Date 2055",
	"sp500-index":  "S&P 500 Index",
	"intl-equity":  "International Equity",
	"bond-index":   "Total Bond Index",
	"stable-value": "Stable Value",
}

// FundAllocation is one line of a rollover allocation.
type FundAllocation struct {
	Fund       string          `json:"fund"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Rollover is the body of POST /retirement/{id}/rollover.
type Rollover struct {
	PlanType    string           `json:"planType"`
	Institution string           `json:"institution"`
	Amount      decimal.Decimal  `json:"amount"`
	Type        string           `json:"rolloverType"`
	Withholding decimal.Decimal  `json:"withholding"`
	Allocations []FundAllocation `json:"allocations"`
}

// allocations reads the alloc.<fund> fields that hold a value.
func allocations(st form.State) []form.Field {
	var out []form.Field
	for _, f := range st.WithPrefix(AllocPrefix) {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}

// validAllocation requires at least one known fund, each share 1 to 100,
// and a total of exactly 100.
func validAllocation(st form.State, errs form.Errors) {
	fields := allocations(st)
	if len(fields) == 0 {
		errs.Add("allocation", "Allocate the rollover to at least one fund")
		return
	}
	total := decimal.Zero
	for _, f := range fields {
		key := AllocPrefix + f.Name
		if _, ok := Funds[f.Name]; !ok {
			errs.Add(key, "Unknown fund")
			continue
		}
		before := len(errs)
		form.Percentage(key)(st, errs)
		if len(errs) != before {
			continue
		}
		pct, _ := st.Amount(key)
		total = total.Add(pct)
	}
	if !errs.Empty() {
		return
	}
	if !total.Equal(decimal.NewFromInt(100)) {
		errs.Add("allocation", "Allocations total "+total.String()+"%, they must total 100%")
	}
}

func withholding(st form.State, amount decimal.Decimal) decimal.Decimal {
	if st.Get(FieldRolloverType) != RolloverIndirect {
		return decimal.Zero
	}
	return money.Percent(amount, IndirectWithholding)
}

func (s *Service) rolloverFlow(ctx context.Context, presets form.State) (wizard.Definition, []wizard.Option, error) {
	out, err := s.List(ctx)
	if err != nil {
		return wizard.Definition{}, nil, err
	}
	var retirement []banking.Account
	for _, a := range out.Value {
		if a.Type == banking.Retirement {
			retirement = append(retirement, a)
		}
	}

	var opts []wizard.Option
	if !presets.Has(FieldRolloverAccount) && len(retirement) > 0 {
		opts = append(opts, wizard.WithPreset(FieldRolloverAccount, retirement[0].ID))
	}

	summarize := func(st form.State) *receipt.Summary {
		sum := receipt.NewSummary("Review rollover")
		if acct, ok := banking.Find(retirement, st.Get(FieldRolloverAccount)); ok {
			sum.Add("Into", acct.Label())
		}
		sum.Add("From plan", st.Get(FieldPlanType))
		sum.Add("Institution", st.Get(FieldInstitution))
		sum.Add("Rollover type", st.Get(FieldRolloverType))
		for _, f := range allocations(st) {
			sum.Add(Funds[f.Name], f.Value+"%")
		}
		if amt, ok := st.Amount(FieldRolloverAmount); ok {
			sum.AddTotal("Amount", amt)
			if w := withholding(st, amt); w.IsPositive() {
				sum.AddTotal("Withholding (20%)", w)
				sum.AddTotal("Net rollover", amt.Sub(w))
			}
		}
		return sum
	}

	def := wizard.Definition{
		Flow: FlowRollover,
		Steps: []wizard.Step{
			{Name: "source", Title: "Source plan"},
			{Name: "amount", Title: "Rollover amount"},
			{Name: "allocation", Title: "Investment allocation"},
			{Name: "review", Title: "Review and submit"},
		},
		Validate: func(step int, st form.State) form.Errors {
			switch step {
			case 1:
				return form.Check(st,
					form.OneOf(FieldPlanType, "401k", "403b", "457b", "ira"),
					form.Required(FieldInstitution, "Enter the institution holding the plan"),
					knownAccount(FieldRolloverAccount, "Select the receiving retirement account", retirement),
				)
			case 2:
				return form.Check(st,
					form.Amount(FieldRolloverAmount),
					form.OneOf(FieldRolloverType, RolloverDirect, RolloverIndirect),
				)
			case 3:
				return form.Check(st, validAllocation)
			case 4:
				return form.Check(st,
					form.Checked(FieldAcceptTerms, "You must accept the rollover terms"),
				)
			}
			return nil
		},
		Summarize: summarizer(summarize),
		Submit: func(ctx context.Context, st form.State) (receipt.Confirmation, error) {
			amt, _ := st.Amount(FieldRolloverAmount)
			amt = money.Cents(amt)
			body := Rollover{
				PlanType:    st.Get(FieldPlanType),
				Institution: st.Get(FieldInstitution),
				Amount:      amt,
				Type:        st.Get(FieldRolloverType),
				Withholding: withholding(st, amt),
			}
			for _, f := range allocations(st) {
				pct, _ := st.Amount(AllocPrefix + f.Name)
				body.Allocations = append(body.Allocations, FundAllocation{Fund: f.Name, Percentage: pct})
			}

			path := "/retirement/" + url.PathEscape(st.Get(FieldRolloverAccount)) + "/rollover"
			res, err := apiclient.Resolve(ctx, s.client, "/retirement/{id}/rollover",
				func(ctx context.Context) (Ack, error) {
					return apiclient.PostJSON[Ack](ctx, s.client, path, body)
				},
				localAck,
			)
			if err != nil {
				return receipt.Confirmation{}, err
			}
			return confirm(res, "ROL", res.Value.Ref(),
				"Your rollover request has been submitted. Funds usually arrive within 2 to 3 weeks.",
				*summarize(st), s.now()), nil
		},
	}
	return def, opts, nil
}
