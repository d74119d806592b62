package flows

import (
	"context"
	"strings"
	"time"

	"bankflow/pkg/banking"
	"bankflow/pkg/form"
	"bankflow/pkg/money"
	"bankflow/pkg/receipt"
	"bankflow/pkg/wizard"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account opening fields.
const (
	FieldProduct        = "product"
	FieldFirstName      = "firstName"
	FieldLastName       = "lastName"
	FieldEmail          = "email"
	FieldDOB            = "dateOfBirth"
	FieldSSN            = "ssn"
	FieldFundingAmount  = "fundingAmount"
	FieldFundingSource  = "fundingSource"
	FieldFundingAccount = "fundingAccount"
)

// Product is an account that can be opened online.
type Product struct {
	Type    banking.AccountType
	Name    string
	Minimum decimal.Decimal
}

// Products lists the products offered by account opening.
var Products = []Product{
	{banking.Checking, "Everyday Checking", money.MustParse("25")},
	{banking.Savings, "High-Yield Savings", money.MustParse("100")},
	{banking.MoneyMarket, "Money Market", money.MustParse("2500")},
	{banking.CD, "Certificate of Deposit", money.MustParse("1000")},
}

// FindProduct looks a product up by account type.
func FindProduct(t string) (Product, bool) {
	for _, p := range Products {
		if string(p.Type) == t {
			return p, true
		}
	}
	return Product{}, false
}

func productTypes() []string {
	out := make([]string, len(Products))
	for i, p := range Products {
		out[i] = string(p.Type)
	}
	return out
}

// Application is the body of POST /accounts.
type Application struct {
	Product        banking.AccountType `json:"product"`
	FirstName      string              `json:"firstName"`
	LastName       string              `json:"lastName"`
	Email          string              `json:"email"`
	DOB            string              `json:"dateOfBirth"`
	SSN            string              `json:"ssn"`
	FundingAmount  decimal.Decimal     `json:"fundingAmount"`
	FundingSource  string              `json:"fundingSource"`
	FundingAccount string              `json:"fundingAccountId,omitempty"`
}

// provisionalAccount is the account shown when the application could
// not reach the bank. Its number is derived from a fresh uuid.
func (app Application) provisionalAccount(now time.Time) banking.Account {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	digits := make([]byte, 10)
	for i := range digits {
		digits[i] = '0' + id[i]%10
	}
	name := string(app.Product)
	if p, ok := FindProduct(name); ok {
		name = p.Name
	}
	return banking.Account{
		ID:               "new-" + id[:8],
		Type:             app.Product,
		Nickname:         name,
		Balance:          app.FundingAmount,
		AvailableBalance: app.FundingAmount,
		AccountNumber:    string(digits),
		RoutingNumber:    "021000021",
		OpenedAt:         now,
	}
}

func (s *Service) accountOpeningFlow(ctx context.Context, presets form.State) (wizard.Definition, []wizard.Option, error) {
	out, err := s.List(ctx)
	if err != nil {
		return wizard.Definition{}, nil, err
	}
	accounts := out.Value

	var opts []wizard.Option
	if _, ok := FindProduct(presets.Get(FieldProduct)); ok {
		opts = append(opts, wizard.WithStartStep(2))
	}

	fundingMinimum := func(st form.State, errs form.Errors) {
		p, ok := FindProduct(st.Get(FieldProduct))
		if !ok {
			return
		}
		form.MinAmount(FieldFundingAmount, p.Minimum)(st, errs)
	}

	summarize := func(st form.State) *receipt.Summary {
		sum := receipt.NewSummary("Review application")
		if p, ok := FindProduct(st.Get(FieldProduct)); ok {
			sum.Add("Product", p.Name)
		}
		sum.Add("Name", strings.TrimSpace(st.Get(FieldFirstName)+" "+st.Get(FieldLastName)))
		sum.Add("Email", st.Get(FieldEmail))
		sum.Add("Funding source", st.Get(FieldFundingSource))
		if acct, ok := banking.Find(accounts, st.Get(FieldFundingAccount)); ok {
			sum.Add("Funding account", acct.Label())
		}
		if amt, ok := st.Amount(FieldFundingAmount); ok {
			sum.AddTotal("Opening deposit", amt)
		}
		return sum
	}

	def := wizard.Definition{
		Flow: FlowAccountOpening,
		Steps: []wizard.Step{
			{Name: "product", Title: "Choose an account"},
			{Name: "applicant", Title: "About you"},
			{Name: "funding", Title: "Fund your account"},
			{Name: "review", Title: "Review and open"},
		},
		Validate: func(step int, st form.State) form.Errors {
			switch step {
			case 1:
				return form.Check(st, form.OneOf(FieldProduct, productTypes()...))
			case 2:
				return form.Check(st,
					form.Required(FieldFirstName, "First name is required"),
					form.Required(FieldLastName, "Last name is required"),
					form.Email(FieldEmail),
					form.Date(FieldDOB),
					form.MinAge(FieldDOB, 18, s.now()),
					form.Digits(FieldSSN, 9, "SSN must be 9 digits"),
				)
			case 3:
				return form.Check(st,
					form.Amount(FieldFundingAmount),
					fundingMinimum,
					form.OneOf(FieldFundingSource, "existing-account", "external-bank", "check"),
					form.When(form.Equals(FieldFundingSource, "existing-account"),
						knownAccount(FieldFundingAccount, "Select the account to fund from", accounts),
					),
				)
			case 4:
				return form.Check(st,
					form.Checked(FieldAcceptTerms, "You must accept the account agreement"),
				)
			}
			return nil
		},
		Summarize: summarizer(summarize),
		Submit: func(ctx context.Context, st form.State) (receipt.Confirmation, error) {
			amt, _ := st.Amount(FieldFundingAmount)
			app := Application{
				Product:       banking.AccountType(st.Get(FieldProduct)),
				FirstName:     st.Get(FieldFirstName),
				LastName:      st.Get(FieldLastName),
				Email:         st.Get(FieldEmail),
				DOB:           st.Get(FieldDOB),
				SSN:           st.Get(FieldSSN),
				FundingAmount: money.Cents(amt),
				FundingSource: st.Get(FieldFundingSource),
			}
			if app.FundingSource == "existing-account" {
				app.FundingAccount = st.Get(FieldFundingAccount)
			}
			res, err := s.OpenAccount(ctx, app)
			if err != nil {
				return receipt.Confirmation{}, err
			}
			sum := summarize(st).Add("Account number", res.Value.Masked())
			return confirm(res, "APP", res.Value.ID, "Your new account is open.", *sum, s.now()), nil
		},
	}
	return def, opts, nil
}
