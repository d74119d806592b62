package banking

import (
	"fmt"

	"bankflow/pkg/money"

	"github.com/shopspring/decimal"
)

// BeneficiaryType is the designation level of a beneficiary.
type BeneficiaryType string

const (
	BeneficiaryPrimary    BeneficiaryType = "primary"
	BeneficiaryContingent BeneficiaryType = "contingent"
)

// Beneficiary is a person designated on an account.
type Beneficiary struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Relationship string          `json:"relationship"`
	SSN          string          `json:"ssn,omitempty"`
	DOB          string          `json:"dateOfBirth,omitempty"`
	Percentage   decimal.Decimal `json:"percentage"`
	Type         BeneficiaryType `json:"type"`
}

// AllocationError reports a designation level whose percentages do not
// sum to 100.
type AllocationError struct {
	Type BeneficiaryType
	Sum  decimal.Decimal
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("banking: %s beneficiaries total %s%%, expected 100%%", e.Type, e.Sum.String())
}

func (e *AllocationError) Unwrap() error {
	return ErrAllocation
}

// ValidateAllocations checks that primary beneficiaries sum to exactly
// 100 and that contingent beneficiaries, when any exist, do as well.
// Each share must be between 1 and 100.
func ValidateAllocations(bens []Beneficiary) error {
	hundred := decimal.NewFromInt(100)
	one := decimal.NewFromInt(1)

	sums := map[BeneficiaryType]decimal.Decimal{}
	seen := map[BeneficiaryType]bool{}
	for _, b := range bens {
		if err := money.Check(b.Percentage); err != nil {
			return fmt.Errorf("%w: %s has share %v", ErrAllocation, b.Name, err)
		}
		if b.Percentage.LessThan(one) || b.Percentage.GreaterThan(hundred) {
			return fmt.Errorf("%w: %s has share %s%%", ErrAllocation, b.Name, b.Percentage.String())
		}
		if b.Type != BeneficiaryPrimary && b.Type != BeneficiaryContingent {
			return fmt.Errorf("%w: unknown beneficiary type %q", ErrAllocation, b.Type)
		}
		sums[b.Type] = sums[b.Type].Add(b.Percentage)
		seen[b.Type] = true
	}

	if !sums[BeneficiaryPrimary].Equal(hundred) {
		return &AllocationError{Type: BeneficiaryPrimary, Sum: sums[BeneficiaryPrimary]}
	}
	if seen[BeneficiaryContingent] && !sums[BeneficiaryContingent].Equal(hundred) {
		return &AllocationError{Type: BeneficiaryContingent, Sum: sums[BeneficiaryContingent]}
	}
	return nil
}
