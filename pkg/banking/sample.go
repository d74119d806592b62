package banking

import (
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// SampleAccounts is the account set served while the API is unreachable.
func SampleAccounts() []Account {
	return []Account{
		{
			ID:               "chk-1001",
			Type:             Checking,
			Nickname:         "Everyday Checking",
			Balance:          d("5420.65"),
			AvailableBalance: d("5420.65"),
			AccountNumber:    "4829301001",
			RoutingNumber:    "021000021",
			OpenedAt:         date(2019, time.March, 14),
		},
		{
			ID:               "sav-2002",
			Type:             Savings,
			Nickname:         "High-Yield Savings",
			Balance:          d("12850.00"),
			AvailableBalance: d("12850.00"),
			AccountNumber:    "4829302002",
			RoutingNumber:    "021000021",
			OpenedAt:         date(2020, time.June, 2),
		},
		{
			ID:               "crd-3003",
			Type:             Credit,
			Nickname:         "Rewards Card",
			Balance:          d("1245.30"),
			AvailableBalance: d("6754.70"),
			AccountNumber:    "5412753003",
			OpenedAt:         date(2021, time.January, 20),
			CreditLimit:      d("8000.00"),
		},
		{
			ID:               "ret-4004",
			Type:             Retirement,
			Nickname:         "Rollover IRA",
			Balance:          d("48210.55"),
			AvailableBalance: d("48210.55"),
			AccountNumber:    "7730104004",
			OpenedAt:         date(2016, time.September, 9),
		},
	}
}

// SampleBeneficiaries is the designation list served for retirement
// accounts while the API is unreachable.
func SampleBeneficiaries() []Beneficiary {
	return []Beneficiary{
		{ID: "ben-1", Name: "Jordan Rivera", Relationship: "Spouse", DOB: "1984-05-17", Percentage: d("100"), Type: BeneficiaryPrimary},
		{ID: "ben-2", Name: "Casey Rivera", Relationship: "Child", DOB: "2012-11-03", Percentage: d("50"), Type: BeneficiaryContingent},
		{ID: "ben-3", Name: "Avery Rivera", Relationship: "Child", DOB: "2015-02-21", Percentage: d("50"), Type: BeneficiaryContingent},
	}
}
