package flows

import (
	"context"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/banking"
	"bankflow/pkg/form"
	"bankflow/pkg/money"
	"bankflow/pkg/receipt"
	"bankflow/pkg/wizard"

	"github.com/shopspring/decimal"
)

// Order checks fields.
const (
	FieldCheckAccount = "accountId"
	FieldCheckStyle   = "checkStyle"
	FieldQuantity     = "quantity"
	FieldDelivery     = "delivery"
	FieldShipName     = "shipName"
	FieldShipAddress  = "shipAddress"
	FieldShipCity     = "shipCity"
	FieldShipState    = "shipState"
	FieldShipZip      = "shipZip"
)

// CheckTaxRate is applied to the check subtotal.
var CheckTaxRate = decimal.RequireFromString("0.0825")

type option struct {
	label string
	price decimal.Decimal
}

var (
	checkStyles = map[string]option{
		"standard": {"Standard", money.MustParse("20.00")},
		"premium":  {"Premium", money.MustParse("35.00")},
		"custom":   {"Custom photo", money.MustParse("45.00")},
	}
	checkQuantities = map[string]option{
		"1": {"1 box (100 checks)", money.MustParse("20.00")},
		"2": {"2 boxes (200 checks)", money.MustParse("35.00")},
		"4": {"4 boxes (400 checks)", money.MustParse("60.00")},
	}
	checkDeliveries = map[string]option{
		"standard":  {"Standard (7-10 business days)", money.MustParse("0.00")},
		"expedited": {"Expedited (3-5 business days)", money.MustParse("12.95")},
		"overnight": {"Overnight", money.MustParse("24.95")},
	}
)

// CheckPricing is the price breakdown of a check order.
type CheckPricing struct {
	Style    decimal.Decimal
	Quantity decimal.Decimal
	Delivery decimal.Decimal
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// PriceChecks prices an order. The subtotal is style plus quantity;
// tax is CheckTaxRate of the subtotal rounded to cents, and delivery is
// added untaxed.
func PriceChecks(style, quantity, delivery string) (CheckPricing, bool) {
	s, ok1 := checkStyles[style]
	q, ok2 := checkQuantities[quantity]
	d, ok3 := checkDeliveries[delivery]
	if !ok1 || !ok2 || !ok3 {
		return CheckPricing{}, false
	}
	subtotal := s.price.Add(q.price)
	tax := money.Cents(subtotal.Mul(CheckTaxRate))
	return CheckPricing{
		Style:    s.price,
		Quantity: q.price,
		Delivery: d.price,
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax).Add(d.price),
	}, true
}

func keys(m map[string]option) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// CheckOrder is the body of POST /checks/orders.
type CheckOrder struct {
	AccountID string            `json:"accountId"`
	Style     string            `json:"style"`
	Quantity  string            `json:"quantity"`
	Delivery  string            `json:"delivery"`
	Photo     []form.Attachment `json:"photo,omitempty"`
	ShipTo    map[string]string `json:"shipTo"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	Tax       decimal.Decimal   `json:"tax"`
	Total     decimal.Decimal   `json:"total"`
}

func (s *Service) orderChecksFlow(ctx context.Context, presets form.State) (wizard.Definition, []wizard.Option, error) {
	out, err := s.List(ctx)
	if err != nil {
		return wizard.Definition{}, nil, err
	}
	accounts := out.Value

	var opts []wizard.Option
	if !presets.Has(FieldCheckAccount) {
		if primary, ok := banking.Primary(accounts); ok {
			opts = append(opts, wizard.WithPreset(FieldCheckAccount, primary.ID))
		}
	}

	summarize := func(st form.State) *receipt.Summary {
		sum := receipt.NewSummary("Review check order")
		sum.Add("Style", checkStyles[st.Get(FieldCheckStyle)].label)
		sum.Add("Quantity", checkQuantities[st.Get(FieldQuantity)].label)
		sum.Add("Delivery", checkDeliveries[st.Get(FieldDelivery)].label)
		sum.Add("Ship to", st.Get(FieldShipName))
		if p, ok := PriceChecks(st.Get(FieldCheckStyle), st.Get(FieldQuantity), st.Get(FieldDelivery)); ok {
			sum.AddTotal("Subtotal", p.Subtotal)
			sum.AddTotal("Tax", p.Tax)
			sum.AddTotal("Delivery", p.Delivery)
			sum.AddTotal("Total", p.Total)
		}
		return sum
	}

	def := wizard.Definition{
		Flow: FlowOrderChecks,
		Steps: []wizard.Step{
			{Name: "style", Title: "Choose a style"},
			{Name: "quantity", Title: "Quantity and delivery"},
			{Name: "shipping", Title: "Shipping address"},
			{Name: "review", Title: "Review order"},
		},
		Validate: func(step int, st form.State) form.Errors {
			switch step {
			case 1:
				return form.Check(st,
					knownAccount(FieldCheckAccount, "Select the account for these checks", accounts),
					form.OneOf(FieldCheckStyle, keys(checkStyles)...),
					form.When(form.Equals(FieldCheckStyle, "custom"),
						form.AttachmentsRule(true, "Upload a photo for custom checks"),
					),
				)
			case 2:
				return form.Check(st,
					form.OneOf(FieldQuantity, keys(checkQuantities)...),
					form.OneOf(FieldDelivery, keys(checkDeliveries)...),
				)
			case 3:
				return form.Check(st,
					form.Required(FieldShipName, "Name is required"),
					form.Required(FieldShipAddress, "Street address is required"),
					form.Required(FieldShipCity, "City is required"),
					form.MinLength(FieldShipState, 2, "State is required"),
					form.Digits(FieldShipZip, 5, "ZIP code must be 5 digits"),
				)
			}
			return nil
		},
		Summarize: summarizer(summarize),
		Submit: func(ctx context.Context, st form.State) (receipt.Confirmation, error) {
			p, _ := PriceChecks(st.Get(FieldCheckStyle), st.Get(FieldQuantity), st.Get(FieldDelivery))
			photo, _ := st.Attachments()
			order := CheckOrder{
				AccountID: st.Get(FieldCheckAccount),
				Style:     st.Get(FieldCheckStyle),
				Quantity:  st.Get(FieldQuantity),
				Delivery:  st.Get(FieldDelivery),
				Photo:     photo,
				ShipTo: map[string]string{
					"name":    st.Get(FieldShipName),
					"address": st.Get(FieldShipAddress),
					"city":    st.Get(FieldShipCity),
					"state":   st.Get(FieldShipState),
					"zip":     st.Get(FieldShipZip),
				},
				Subtotal: p.Subtotal,
				Tax:      p.Tax,
				Total:    p.Total,
			}
			res, err := apiclient.Resolve(ctx, s.client, "/checks/orders",
				func(ctx context.Context) (Ack, error) {
					return apiclient.PostJSON[Ack](ctx, s.client, "/checks/orders", order)
				},
				localAck,
			)
			if err != nil {
				return receipt.Confirmation{}, err
			}
			return confirm(res, "CHK", res.Value.Ref(), "Your check order has been placed.", *summarize(st), s.now()), nil
		},
	}
	return def, opts, nil
}
