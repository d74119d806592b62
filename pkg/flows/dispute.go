package flows

import (
	"context"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/form"
	"bankflow/pkg/receipt"
	"bankflow/pkg/wizard"

	"github.com/shopspring/decimal"
)

// Dispute fields.
const (
	FieldDisputeAccount     = "accountId"
	FieldDisputeTransaction = "transactionId"
	FieldDisputeReason      = "disputeReason"
	FieldDisputeDescription = "description"
	FieldDisputedAmount     = "disputedAmount"
	FieldContactMethod      = "contactMethod"
	FieldAcknowledge        = "acknowledge"
)

// ReasonOther requires a free text description.
const ReasonOther = "other"

var disputeReasons = []string{
	"unauthorized",
	"duplicate",
	"incorrect-amount",
	"not-received",
	"defective",
	"cancelled",
	ReasonOther,
}

// Dispute is the body of POST /disputes.
type Dispute struct {
	AccountID      string            `json:"accountId"`
	TransactionID  string            `json:"transactionId"`
	Reason         string            `json:"reason"`
	Description    string            `json:"description,omitempty"`
	DisputedAmount *decimal.Decimal  `json:"disputedAmount,omitempty"`
	ContactMethod  string            `json:"contactMethod"`
	Attachments    []form.Attachment `json:"attachments,omitempty"`
}

// disputeFlow has no sample fallback: a dispute the bank never received
// is reported as failed and the customer may retry it.
func (s *Service) disputeFlow(ctx context.Context, _ form.State) (wizard.Definition, []wizard.Option, error) {
	summarize := func(st form.State) *receipt.Summary {
		sum := receipt.NewSummary("Review dispute")
		sum.Add("Transaction", st.Get(FieldDisputeTransaction))
		sum.Add("Reason", st.Get(FieldDisputeReason))
		sum.Add("Description", st.Get(FieldDisputeDescription))
		sum.Add("Contact by", st.Get(FieldContactMethod))
		if files, ok := st.Attachments(); ok && len(files) > 0 {
			for _, f := range files {
				sum.Add("Attachment", f.Name)
			}
		}
		if amt, ok := st.Amount(FieldDisputedAmount); ok {
			sum.AddTotal("Disputed amount", amt)
		}
		return sum
	}

	def := wizard.Definition{
		Flow: FlowDispute,
		Steps: []wizard.Step{
			{Name: "transaction", Title: "Select transaction"},
			{Name: "reason", Title: "Reason for dispute"},
			{Name: "evidence", Title: "Supporting documents"},
			{Name: "review", Title: "Review and submit"},
		},
		Validate: func(step int, st form.State) form.Errors {
			switch step {
			case 1:
				return form.Check(st,
					form.Required(FieldDisputeAccount, "Select an account"),
					form.Required(FieldDisputeTransaction, "Select the transaction to dispute"),
				)
			case 2:
				return form.Check(st,
					form.OneOf(FieldDisputeReason, disputeReasons...),
					form.When(form.Equals(FieldDisputeReason, ReasonOther),
						form.Required(FieldDisputeDescription, "Please describe the issue"),
					),
					form.NonNegativeAmount(FieldDisputedAmount),
				)
			case 3:
				return form.Check(st,
					form.OneOf(FieldContactMethod, "email", "phone", "mail"),
					form.AttachmentsRule(false, ""),
					form.Checked(FieldAcknowledge, "Please confirm the information is accurate"),
				)
			}
			return nil
		},
		Summarize: summarizer(summarize),
		Submit: func(ctx context.Context, st form.State) (receipt.Confirmation, error) {
			files, _ := st.Attachments()
			body := Dispute{
				AccountID:     st.Get(FieldDisputeAccount),
				TransactionID: st.Get(FieldDisputeTransaction),
				Reason:        st.Get(FieldDisputeReason),
				Description:   st.Get(FieldDisputeDescription),
				ContactMethod: st.Get(FieldContactMethod),
				Attachments:   files,
			}
			if amt, ok := st.Amount(FieldDisputedAmount); ok {
				body.DisputedAmount = &amt
			}
			res, err := apiclient.Resolve(ctx, s.client, "/disputes",
				func(ctx context.Context) (Ack, error) {
					return apiclient.PostJSON[Ack](ctx, s.client, "/disputes", body)
				},
				nil,
			)
			if err != nil {
				return receipt.Confirmation{}, err
			}
			return confirm(res, "DSP", res.Value.Ref(),
				"Your dispute has been submitted. We will contact you within 10 business days.",
				*summarize(st), s.now()), nil
		},
	}
	return def, nil, nil
}
