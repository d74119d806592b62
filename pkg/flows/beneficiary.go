package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bankflow/pkg/banking"
	"bankflow/pkg/form"
	"bankflow/pkg/receipt"
	"bankflow/pkg/wizard"

	"github.com/google/uuid"
)

// Beneficiary edit fields. The shares of the other beneficiaries on the
// account are edited through "pct.<id>" fields.
const (
	FieldBeneficiaryAccount = "accountId"
	FieldBeneficiaryID      = "beneficiaryId"
	FieldBeneficiaryName    = "name"
	FieldRelationship       = "relationship"
	FieldBeneficiaryDOB     = "dateOfBirth"
	FieldBeneficiarySSN     = "ssn"
	FieldBeneficiaryType    = "beneficiaryType"
	FieldPercentage         = "percentage"
	SharePrefix             = "pct."
)

// draft applies the form to the current designations: the edited
// beneficiary is replaced or appended and every other share is taken
// from its pct.<id> field.
func draft(current []banking.Beneficiary, id string, st form.State) []banking.Beneficiary {
	out := make([]banking.Beneficiary, 0, len(current)+1)
	for _, b := range current {
		if b.ID == id {
			continue
		}
		if pct, ok := st.Amount(SharePrefix + b.ID); ok {
			b.Percentage = pct
		}
		out = append(out, b)
	}
	pct, _ := st.Amount(FieldPercentage)
	return append(out, banking.Beneficiary{
		ID:           id,
		Name:         st.Get(FieldBeneficiaryName),
		Relationship: st.Get(FieldRelationship),
		SSN:          strings.NewReplacer("-", "", " ", "").Replace(st.Get(FieldBeneficiarySSN)),
		DOB:          st.Get(FieldBeneficiaryDOB),
		Percentage:   pct,
		Type:         banking.BeneficiaryType(st.Get(FieldBeneficiaryType)),
	})
}

func (s *Service) beneficiaryFlow(ctx context.Context, presets form.State) (wizard.Definition, []wizard.Option, error) {
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

	accountID := presets.Get(FieldBeneficiaryAccount)
	if accountID == "" {
		if len(retirement) == 0 {
			return wizard.Definition{}, nil, fmt.Errorf("%w: no retirement account", banking.ErrAccountNotFound)
		}
		accountID = retirement[0].ID
	}
	if _, ok := banking.Find(retirement, accountID); !ok {
		return wizard.Definition{}, nil, fmt.Errorf("%w: %s", banking.ErrAccountType, accountID)
	}

	bens, err := s.Beneficiaries(ctx, accountID)
	if err != nil {
		return wizard.Definition{}, nil, err
	}
	current := bens.Value

	opts := []wizard.Option{wizard.WithPreset(FieldBeneficiaryAccount, accountID)}
	id := presets.Get(FieldBeneficiaryID)
	editing, found := banking.Beneficiary{}, false
	for _, b := range current {
		if b.ID == id {
			editing, found = b, true
			continue
		}
		if !presets.Has(SharePrefix + b.ID) {
			opts = append(opts, wizard.WithPreset(SharePrefix+b.ID, b.Percentage.String()))
		}
	}
	if found {
		for field, value := range map[string]string{
			FieldBeneficiaryName: editing.Name,
			FieldRelationship:    editing.Relationship,
			FieldBeneficiaryDOB:  editing.DOB,
			FieldBeneficiarySSN:  editing.SSN,
			FieldBeneficiaryType: string(editing.Type),
			FieldPercentage:      editing.Percentage.String(),
		} {
			if !presets.Has(field) && value != "" {
				opts = append(opts, wizard.WithPreset(field, value))
			}
		}
	} else {
		id = "ben-" + uuid.NewString()[:8]
	}

	balanced := func(st form.State, errs form.Errors) {
		for _, b := range current {
			if b.ID != id {
				form.Percentage(SharePrefix + b.ID)(st, errs)
			}
		}
		form.Percentage(FieldPercentage)(st, errs)
		if !errs.Empty() {
			return
		}
		var ae *banking.AllocationError
		switch err := banking.ValidateAllocations(draft(current, id, st)); {
		case err == nil:
		case errors.As(err, &ae):
			errs.Add(FieldPercentage, fmt.Sprintf("%s beneficiaries total %s%%, they must total 100%%",
				strings.ToUpper(string(ae.Type[:1]))+string(ae.Type[1:]), ae.Sum.String()))
		default:
			errs.Add(FieldPercentage, "Check the beneficiary shares")
		}
	}

	summarize := func(st form.State) *receipt.Summary {
		sum := receipt.NewSummary("Review beneficiaries")
		for _, b := range draft(current, id, st) {
			if b.Name == "" {
				continue
			}
			sum.Add(b.Name, fmt.Sprintf("%s, %s%%", b.Type, b.Percentage.String()))
		}
		return sum
	}

	def := wizard.Definition{
		Flow: FlowBeneficiary,
		Steps: []wizard.Step{
			{Name: "person", Title: "Beneficiary details"},
			{Name: "allocation", Title: "Allocation"},
		},
		Validate: func(step int, st form.State) form.Errors {
			switch step {
			case 1:
				return form.Check(st,
					form.Required(FieldBeneficiaryName, "Name is required"),
					form.Required(FieldRelationship, "Relationship is required"),
					form.Date(FieldBeneficiaryDOB),
					form.Digits(FieldBeneficiarySSN, 9, "SSN must be 9 digits"),
					form.OneOf(FieldBeneficiaryType, string(banking.BeneficiaryPrimary), string(banking.BeneficiaryContingent)),
				)
			case 2:
				return form.Check(st, balanced)
			}
			return nil
		},
		Summarize: summarizer(summarize),
		Submit: func(ctx context.Context, st form.State) (receipt.Confirmation, error) {
			res, err := s.SaveBeneficiaries(ctx, accountID, draft(current, id, st))
			if err != nil {
				return receipt.Confirmation{}, err
			}
			return confirm(res, "BEN", "", "Your beneficiary designations have been updated.", *summarize(st), s.now()), nil
		},
	}
	return def, opts, nil
}
