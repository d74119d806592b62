// Package receipt renders the review summary shown before a submission
// and the confirmation shown after it.
package receipt

import (
	"fmt"
	"strings"
	"time"

	"bankflow/pkg/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is one labelled value on a summary.
type Line struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Total is one labelled amount, e.g. "Subtotal" or "Fee".
type Total struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary is the read-only rendering of a wizard's collected state.
type Summary struct {
	Title  string  `json:"title"`
	Lines  []Line  `json:"lines,omitempty"`
	Totals []Total `json:"totals,omitempty"`
}

// NewSummary starts a summary with the given title.
func NewSummary(title string) *Summary {
	return &Summary{Title: title}
}

// Add appends a line. Blank values are skipped so optional fields
// disappear from the review instead of rendering empty.
func (s *Summary) Add(label, value string) *Summary {
	if strings.TrimSpace(value) == "" {
		return s
	}
	s.Lines = append(s.Lines, Line{Label: label, Value: value})
	return s
}

// AddAmount appends a formatted money line.
func (s *Summary) AddAmount(label string, d decimal.Decimal) *Summary {
	return s.Add(label, money.Format(d))
}

// AddTotal appends a total.
func (s *Summary) AddTotal(label string, d decimal.Decimal) *Summary {
	s.Totals = append(s.Totals, Total{Label: label, Amount: money.Cents(d)})
	return s
}

// Value returns the value of the first line with label.
func (s Summary) Value(label string) (string, bool) {
	for _, l := range s.Lines {
		if l.Label == label {
			return l.Value, true
		}
	}
	return "", false
}

// TotalOf returns the amount of the total with label.
func (s Summary) TotalOf(label string) (decimal.Decimal, bool) {
	for _, t := range s.Totals {
		if t.Label == label {
			return t.Amount, true
		}
	}
	return decimal.Zero, false
}

// String renders the summary as plain text.
func (s Summary) String() string {
	var b strings.Builder
	b.WriteString(s.Title)
	b.WriteByte('\n')
	for _, l := range s.Lines {
		fmt.Fprintf(&b, "  %s: %s\n", l.Label, l.Value)
	}
	for _, t := range s.Totals {
		fmt.Fprintf(&b, "  %s: %s\n", t.Label, money.Format(t.Amount))
	}
	return b.String()
}

// Confirmation is what a successful submission shows the customer.
type Confirmation struct {
	Reference string `json:"reference"`
	// Provisional is set when the server did not issue a reference and
	// one was generated locally.
	Provisional bool      `json:"provisional"`
	Message     string    `json:"message,omitempty"`
	Summary     Summary   `json:"summary"`
	At          time.Time `json:"at"`
	// Degraded is set when the submission was recorded locally because
	// the server could not be reached.
	Degraded bool `json:"degraded,omitempty"`
}

// Reference returns serverRef when present, otherwise a locally
// generated PREFIX-XXXXXXXXXX reference. provisional reports which.
func Reference(prefix, serverRef string) (ref string, provisional bool) {
	if ref = strings.TrimSpace(serverRef); ref != "" {
		return ref, false
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(prefix) + "-" + strings.ToUpper(id[:10]), true
}

// Confirm builds a Confirmation for sum.
func Confirm(prefix, serverRef, message string, sum Summary, at time.Time) Confirmation {
	ref, provisional := Reference(prefix, serverRef)
	return Confirmation{
		Reference:   ref,
		Provisional: provisional,
		Message:     message,
		Summary:     sum,
		At:          at,
	}
}
