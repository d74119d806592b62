package form

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"bankflow/pkg/money"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of every date field.
const DateLayout = "2006-01-02"

// Rule checks one constraint and records a message on failure.
// Rules never panic; malformed input is reported as invalid.
type Rule func(st State, errs Errors)

// Check runs rules in order and returns the collected errors.
func Check(st State, rules ...Rule) Errors {
	errs := Errors{}
	for _, r := range rules {
		r(st, errs)
	}
	return errs
}

// When applies rules only if cond holds for the current state.
func When(cond func(State) bool, rules ...Rule) Rule {
	return func(st State, errs Errors) {
		if !cond(st) {
			return
		}
		for _, r := range rules {
			r(st, errs)
		}
	}
}

// Equals is a When condition matching a field value.
func Equals(field, value string) func(State) bool {
	return func(st State) bool { return st.Get(field) == value }
}

// Required fails when field is blank.
func Required(field, msg string) Rule {
	return func(st State, errs Errors) {
		if !st.Has(field) {
			errs.Add(field, msg)
		}
	}
}

// Amount requires a well formed, strictly positive amount.
func Amount(field string) Rule {
	return func(st State, errs Errors) {
		if !st.Has(field) {
			errs.Add(field, "Amount is required")
			return
		}
		d, ok := st.Amount(field)
		if !ok {
			errs.Add(field, "Enter a valid amount")
			return
		}
		if !d.IsPositive() {
			errs.Add(field, "Amount must be greater than zero")
		}
	}
}

// NonNegativeAmount accepts zero; blank is allowed unless required separately.
func NonNegativeAmount(field string) Rule {
	return func(st State, errs Errors) {
		if !st.Has(field) {
			return
		}
		d, ok := st.Amount(field)
		if !ok {
			errs.Add(field, "Enter a valid amount")
			return
		}
		if d.IsNegative() {
			errs.Add(field, "Amount cannot be negative")
		}
	}
}

// MinAmount fails when the parsed amount is below min. Blank or
// malformed values are left to Amount.
func MinAmount(field string, min decimal.Decimal) Rule {
	return func(st State, errs Errors) {
		if d, ok := st.Amount(field); ok && d.LessThan(min) {
			errs.Add(field, "Minimum amount is "+money.Format(min))
		}
	}
}

// MaxAmount fails when the parsed amount exceeds max.
func MaxAmount(field string, max decimal.Decimal, msg string) Rule {
	return func(st State, errs Errors) {
		if d, ok := st.Amount(field); ok && d.GreaterThan(max) {
			errs.Add(field, msg)
		}
	}
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Percentage requires a number in the inclusive range 1..100.
func Percentage(field string) Rule {
	return func(st State, errs Errors) {
		if !st.Has(field) {
			errs.Add(field, "Percentage is required")
			return
		}
		d, ok := st.Amount(field)
		if !ok {
			errs.Add(field, "Enter a valid percentage")
			return
		}
		if d.LessThan(one) || d.GreaterThan(hundred) {
			errs.Add(field, "Percentage must be between 1 and 100")
		}
	}
}

// OneOf requires the value to be one of allowed.
func OneOf(field string, allowed ...string) Rule {
	return func(st State, errs Errors) {
		v := st.Get(field)
		if v == "" {
			errs.Add(field, "Please make a selection")
			return
		}
		if !slices.Contains(allowed, v) {
			errs.Add(field, fmt.Sprintf("%q is not a valid option", v))
		}
	}
}

// Different fails when two fields hold the same non-blank value.
func Different(field, other, msg string) Rule {
	return func(st State, errs Errors) {
		if v := st.Get(field); v != "" && v == st.Get(other) {
			errs.Add(field, msg)
		}
	}
}

// Date requires a YYYY-MM-DD value.
func Date(field string) Rule {
	return func(st State, errs Errors) {
		if !st.Has(field) {
			errs.Add(field, "Date is required")
			return
		}
		if _, err := time.Parse(DateLayout, st.Get(field)); err != nil {
			errs.Add(field, "Use the format YYYY-MM-DD")
		}
	}
}

// FutureDate accepts a blank field; a present value must be a valid
// date strictly after today.
func FutureDate(field string, now time.Time) Rule {
	return func(st State, errs Errors) {
		if !st.Has(field) {
			return
		}
		d, err := time.Parse(DateLayout, st.Get(field))
		if err != nil {
			errs.Add(field, "Use the format YYYY-MM-DD")
			return
		}
		today := truncateDay(now)
		if !d.After(today) {
			errs.Add(field, "Date must be in the future")
		}
	}
}

// MinAge requires a birth date at least years before now.
func MinAge(field string, years int, now time.Time) Rule {
	return func(st State, errs Errors) {
		d, err := time.Parse(DateLayout, st.Get(field))
		if err != nil {
			return
		}
		if d.AddDate(years, 0, 0).After(truncateDay(now)) {
			errs.Add(field, fmt.Sprintf("Applicant must be at least %d years old", years))
		}
	}
}

// Digits requires exactly n digits; dashes and spaces are ignored.
func Digits(field string, n int, msg string) Rule {
	return func(st State, errs Errors) {
		v := strings.NewReplacer("-", "", " ", "").Replace(st.Get(field))
		if len(v) != n {
			errs.Add(field, msg)
			return
		}
		for _, r := range v {
			if r < '0' || r > '9' {
				errs.Add(field, msg)
				return
			}
		}
	}
}

// Email requires a plain address.
func Email(field string) Rule {
	return func(st State, errs Errors) {
		v := st.Get(field)
		if v == "" {
			errs.Add(field, "Email is required")
			return
		}
		addr, err := mail.ParseAddress(v)
		if err != nil || addr.Address != v {
			errs.Add(field, "Enter a valid email address")
		}
	}
}

// Checked requires an acknowledgement checkbox.
func Checked(field, msg string) Rule {
	return func(st State, errs Errors) {
		if !st.Bool(field) {
			errs.Add(field, msg)
		}
	}
}

// MinLength requires at least n characters once trimmed.
func MinLength(field string, n int, msg string) Rule {
	return func(st State, errs Errors) {
		if len([]rune(st.Get(field))) < n {
			errs.Add(field, msg)
		}
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
