package flows

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/banking"
	"bankflow/pkg/form"
	"bankflow/pkg/wizard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		FlowAccountOpening,
		FlowAlerts,
		FlowBeneficiary,
		FlowCashAdvance,
		FlowDispute,
		FlowOrderChecks,
		FlowRollover,
		FlowTransfer,
	}, f.svc.Names())
}

func TestStart_UnknownFlow(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(f.ctx, "wire-abroad", nil)
	assert.ErrorIs(t, err, ErrUnknownFlow)
}

func TestStart_UnauthorizedSurfaces(t *testing.T) {
	f := newFixture(t)
	f.api.setStatus(http.StatusUnauthorized)

	_, err := f.svc.Start(f.ctx, FlowTransfer, nil)
	assert.True(t, apiclient.IsUnauthorized(err), "Expected unauthorized, got %v", err)
}

func TestTransfer_DegradedMovesBalances(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowTransfer, nil)
	require.NoError(t, err)
	fill(t, f.ctx, w, map[string]string{
		FieldFromAccount: "chk-1001",
		FieldToAccount:   "sav-2002",
		FieldAmount:      "200",
		FieldMemo:        "rainy day",
	})
	assert.Equal(t, 2, w.CurrentStep())

	sum, ok := w.Summary()
	require.True(t, ok)
	total, ok := sum.TotalOf("Amount")
	require.True(t, ok)
	assert.True(t, total.Equal(dec("200")))
	when, _ := sum.Value("Date")
	assert.Equal(t, "Immediately", when)

	require.NoError(t, w.Next(f.ctx))
	require.True(t, w.Done())

	conf, ok := w.Confirmation()
	require.True(t, ok)
	assert.True(t, conf.Degraded)
	assert.True(t, conf.Provisional)
	assert.True(t, strings.HasPrefix(conf.Reference, "TRF-"), "got %s", conf.Reference)
	assert.Contains(t, conf.Message, "recorded locally")

	from, err := f.sessions.Account(f.ctx, "s1", "chk-1001")
	require.NoError(t, err)
	to, err := f.sessions.Account(f.ctx, "s1", "sav-2002")
	require.NoError(t, err)
	assert.True(t, from.Balance.Equal(dec("5220.65")), "Expected 5220.65, got %s", from.Balance)
	assert.True(t, to.Balance.Equal(dec("13050.00")), "Expected 13050.00, got %s", to.Balance)

	recent, err := f.svc.RecentTransfers(f.ctx)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, banking.StatusCompleted, recent[0].Status)

	txs, err := f.sessions.Transactions(f.ctx, "s1", "chk-1001")
	require.NoError(t, err)
	assert.True(t, txs[0].Amount.Equal(dec("-200")))
}

func TestTransfer_Scheduled(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowTransfer, nil)
	require.NoError(t, err)
	fill(t, f.ctx, w, map[string]string{
		FieldFromAccount:  "chk-1001",
		FieldToAccount:    "sav-2002",
		FieldAmount:       "200",
		FieldScheduleDate: "2024-07-01",
	})
	require.NoError(t, w.Next(f.ctx))

	conf, _ := w.Confirmation()
	assert.Contains(t, conf.Message, "scheduled for 2024-07-01")
	status, _ := conf.Summary.Value("Status")
	assert.Equal(t, string(banking.StatusScheduled), status)

	from, err := f.sessions.Account(f.ctx, "s1", "chk-1001")
	require.NoError(t, err)
	assert.True(t, from.Balance.Equal(dec("5220.65")))
}

func TestTransfer_Validation(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowTransfer, nil)
	require.NoError(t, err)

	errs := blocked(t, f.ctx, w, nil)
	assert.Contains(t, errs, FieldFromAccount)
	assert.Contains(t, errs, FieldToAccount)
	assert.Contains(t, errs, FieldAmount)

	errs = blocked(t, f.ctx, w, map[string]string{
		FieldFromAccount:  "chk-1001",
		FieldToAccount:    "chk-1001",
		FieldAmount:       "6000",
		FieldScheduleDate: "2024-06-15",
	})
	assert.Equal(t, "Choose a different account", errs[FieldToAccount])
	assert.Contains(t, errs[FieldAmount], "$5,420.65")
	assert.Equal(t, "Date must be in the future", errs[FieldScheduleDate])

	errs = blocked(t, f.ctx, w, map[string]string{FieldAmount: "abc"})
	assert.Equal(t, "Enter a valid amount", errs[FieldAmount])
}

func TestTransfer_ServedUsesServerReference(t *testing.T) {
	f := newFixture(t)
	f.api.handle("GET /accounts", banking.SampleAccounts())
	f.api.handle("POST /transfers", banking.Transfer{ID: "t-1", Reference: "TR-884213", Status: banking.StatusCompleted})

	w, err := f.svc.Start(f.ctx, FlowTransfer, nil)
	require.NoError(t, err)
	fill(t, f.ctx, w, map[string]string{
		FieldFromAccount: "sav-2002",
		FieldToAccount:   "chk-1001",
		FieldAmount:      "75.50",
	})
	require.NoError(t, w.Next(f.ctx))

	conf, _ := w.Confirmation()
	assert.Equal(t, "TR-884213", conf.Reference)
	assert.False(t, conf.Provisional)
	assert.False(t, conf.Degraded)

	var sent TransferRequest
	require.NoError(t, json.Unmarshal(f.api.body("POST /transfers"), &sent))
	assert.Equal(t, "sav-2002", sent.From)
	assert.True(t, sent.Amount.Equal(dec("75.50")))
	assert.Nil(t, sent.ScheduledFor)
}

func TestTransfer_SubmitUnauthorizedFails(t *testing.T) {
	f := newFixture(t)
	f.api.handle("GET /accounts", banking.SampleAccounts())

	w, err := f.svc.Start(f.ctx, FlowTransfer, nil)
	require.NoError(t, err)
	fill(t, f.ctx, w, map[string]string{
		FieldFromAccount: "chk-1001",
		FieldToAccount:   "sav-2002",
		FieldAmount:      "10",
	})

	f.api.setStatus(http.StatusUnauthorized)
	err = w.Next(f.ctx)
	assert.True(t, apiclient.IsUnauthorized(err))
	assert.Equal(t, wizard.StatusFailed, w.Status())

	recent, err := f.svc.RecentTransfers(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestPriceChecks(t *testing.T) {
	tests := []struct {
		style, qty, delivery string
		subtotal, tax, total string
	}{
		{"standard", "1", "standard", "40.00", "3.30", "43.30"},
		{"standard", "1", "expedited", "40.00", "3.30", "56.25"},
		{"premium", "2", "overnight", "70.00", "5.78", "100.73"},
		{"custom", "4", "standard", "105.00", "8.66", "113.66"},
	}
	for _, tt := range tests {
		t.Run(tt.style+"/"+tt.qty+"/"+tt.delivery, func(t *testing.T) {
			p, ok := PriceChecks(tt.style, tt.qty, tt.delivery)
			require.True(t, ok)
			assert.True(t, p.Subtotal.Equal(dec(tt.subtotal)), "subtotal: expected %s, got %s", tt.subtotal, p.Subtotal)
			assert.True(t, p.Tax.Equal(dec(tt.tax)), "tax: expected %s, got %s", tt.tax, p.Tax)
			assert.True(t, p.Total.Equal(dec(tt.total)), "total: expected %s, got %s", tt.total, p.Total)
		})
	}

	_, ok := PriceChecks("gold", "1", "standard")
	assert.False(t, ok)
}

func TestOrderChecks_Flow(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowOrderChecks, nil)
	require.NoError(t, err)
	assert.Equal(t, "chk-1001", w.State().Get(FieldCheckAccount), "primary account should be preselected")

	errs := blocked(t, f.ctx, w, map[string]string{FieldCheckStyle: "custom"})
	assert.Contains(t, errs, form.AttachmentsField)

	photo := form.State{}
	require.NoError(t, form.SetAttachments(photo, []form.Attachment{
		{Name: "dog.png", ContentType: "image/png", Size: 2048},
	}))
	fill(t, f.ctx, w, map[string]string{form.AttachmentsField: photo.Get(form.AttachmentsField)})

	errs = blocked(t, f.ctx, w, map[string]string{FieldQuantity: "3"})
	assert.Contains(t, errs, FieldQuantity)
	assert.Contains(t, errs, FieldDelivery)
	fill(t, f.ctx, w, map[string]string{FieldQuantity: "1", FieldDelivery: "standard"})

	errs = blocked(t, f.ctx, w, map[string]string{FieldShipZip: "9021"})
	assert.Equal(t, "ZIP code must be 5 digits", errs[FieldShipZip])
	fill(t, f.ctx, w, map[string]string{
		FieldShipName:    "Sam Doe",
		FieldShipAddress: "1 Main St",
		FieldShipCity:    "Springfield",
		FieldShipState:   "IL",
		FieldShipZip:     "62701",
	})

	sum, _ := w.Summary()
	total, ok := sum.TotalOf("Total")
	require.True(t, ok)
	assert.True(t, total.Equal(dec("70.36")), "Expected 70.36, got %s", total)

	require.NoError(t, w.Next(f.ctx))
	conf, _ := w.Confirmation()
	assert.True(t, conf.Degraded)
	assert.True(t, strings.HasPrefix(conf.Reference, "CHK-"))
}

func startDispute(t *testing.T, f *fixture) *wizard.Wizard {
	t.Helper()
	w, err := f.svc.Start(f.ctx, FlowDispute, map[string]string{
		FieldDisputeAccount:     "chk-1001",
		FieldDisputeTransaction: "chk-1001-h03",
	})
	require.NoError(t, err)
	require.NoError(t, w.Next(f.ctx))
	return w
}

func TestDispute_OtherNeedsDescription(t *testing.T) {
	f := newFixture(t)
	w := startDispute(t, f)

	errs := blocked(t, f.ctx, w, map[string]string{FieldDisputeReason: ReasonOther})
	assert.Equal(t, "Please describe the issue", errs[FieldDisputeDescription])

	fill(t, f.ctx, w, map[string]string{FieldDisputeDescription: "Charged twice at the pump"})
	assert.Equal(t, 3, w.CurrentStep())
}

func TestDispute_DescriptionOptionalForOtherReasons(t *testing.T) {
	f := newFixture(t)
	w := startDispute(t, f)

	fill(t, f.ctx, w, map[string]string{FieldDisputeReason: "duplicate"})
	assert.Equal(t, 3, w.CurrentStep())
}

func TestDispute_OutageFailsThenRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	w := startDispute(t, f)
	fill(t, f.ctx, w, map[string]string{FieldDisputeReason: "unauthorized"})
	fill(t, f.ctx, w, map[string]string{FieldContactMethod: "email", FieldAcknowledge: "true"})

	f.api.setDown(true)
	err := w.Next(f.ctx)
	require.Error(t, err)
	assert.Equal(t, wizard.StatusFailed, w.Status())
	_, ok := w.Confirmation()
	assert.False(t, ok, "a dispute must never be confirmed from sample data")

	f.api.setDown(false)
	f.api.handle("POST /disputes", Ack{ID: "d-1", Reference: "DSP-77120"})
	require.NoError(t, w.Retry(f.ctx))

	conf, ok := w.Confirmation()
	require.True(t, ok)
	assert.Equal(t, "DSP-77120", conf.Reference)
	assert.False(t, conf.Degraded)
	assert.Equal(t, 2, f.api.called("POST /disputes"))
}

func TestCashAdvance_Flow(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowCashAdvance, nil)
	require.NoError(t, err)
	assert.Equal(t, "crd-3003", w.State().Get(FieldAdvanceAccount))

	errs := blocked(t, f.ctx, w, map[string]string{FieldAdvanceAmount: "6500"})
	assert.Contains(t, errs[FieldAdvanceAmount], "available credit")

	fill(t, f.ctx, w, map[string]string{FieldAdvanceAmount: "100"})
	sum, _ := w.Summary()
	fee, _ := sum.TotalOf("Fee")
	assert.True(t, fee.Equal(dec("10")), "Expected minimum fee 10, got %s", fee)
	total, _ := sum.TotalOf("Total")
	assert.True(t, total.Equal(dec("110")))

	blocked(t, f.ctx, w, nil)
	fill(t, f.ctx, w, map[string]string{FieldAcceptTerms: "on"})
	require.True(t, w.Done())

	acct, err := f.sessions.Account(f.ctx, "s1", "crd-3003")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("1355.30")))
}

func TestAccountOpening_ProductPresetSkipsFirstStep(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowAccountOpening, map[string]string{FieldProduct: "savings"})
	require.NoError(t, err)
	assert.Equal(t, 2, w.CurrentStep())

	other, err := f.svc.Start(f.ctx, FlowAccountOpening, map[string]string{FieldProduct: "brokerage"})
	require.NoError(t, err)
	assert.Equal(t, 1, other.CurrentStep())
}

func TestAccountOpening_Flow(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowAccountOpening, map[string]string{FieldProduct: "money-market"})
	require.NoError(t, err)

	errs := blocked(t, f.ctx, w, map[string]string{
		FieldFirstName: "Sam",
		FieldLastName:  "Doe",
		FieldEmail:     "sam.example.com",
		FieldDOB:       "2010-01-01",
		FieldSSN:       "123-45-678",
	})
	assert.Contains(t, errs, FieldEmail)
	assert.Equal(t, "Applicant must be at least 18 years old", errs[FieldDOB])
	assert.Contains(t, errs, FieldSSN)

	fill(t, f.ctx, w, map[string]string{
		FieldEmail: "sam@example.com",
		FieldDOB:   "1990-04-12",
		FieldSSN:   "123-45-6789",
	})

	errs = blocked(t, f.ctx, w, map[string]string{
		FieldFundingAmount: "500",
		FieldFundingSource: "existing-account",
	})
	assert.Equal(t, "Minimum amount is $2,500.00", errs[FieldFundingAmount])
	assert.Contains(t, errs, FieldFundingAccount)

	fill(t, f.ctx, w, map[string]string{FieldFundingAmount: "3000", FieldFundingAccount: "sav-2002"})
	fill(t, f.ctx, w, map[string]string{FieldAcceptTerms: "true"})

	conf, ok := w.Confirmation()
	require.True(t, ok)
	assert.True(t, conf.Degraded)
	assert.True(t, strings.HasPrefix(conf.Reference, "APP-"))

	opened, err := f.sessions.OpenedAccount(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, banking.MoneyMarket, opened.Type)
	assert.True(t, opened.Balance.Equal(dec("3000")))
	assert.Len(t, opened.AccountNumber, 10)

	accounts, err := f.sessions.Accounts(f.ctx, "s1")
	require.NoError(t, err)
	_, found := banking.Find(accounts, opened.ID)
	assert.True(t, found, "opened account should join the account list")
}

func TestRollover_AllocationMustTotal100(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowRollover, nil)
	require.NoError(t, err)
	assert.Equal(t, "ret-4004", w.State().Get(FieldRolloverAccount))

	fill(t, f.ctx, w, map[string]string{FieldPlanType: "401k", FieldInstitution: "Acme Retirement"})
	fill(t, f.ctx, w, map[string]string{FieldRolloverAmount: "10000", FieldRolloverType: RolloverIndirect})

	errs := blocked(t, f.ctx, w, nil)
	assert.Contains(t, errs, "allocation")

	errs = blocked(t, f.ctx, w, map[string]string{
		AllocPrefix + "sp500-index": "60",
		AllocPrefix + "bond-index":  "30",
	})
	assert.Equal(t, "Allocations total 90%, they must total 100%", errs["allocation"])

	errs = blocked(t, f.ctx, w, map[string]string{AllocPrefix + "crypto": "10"})
	assert.Equal(t, "Unknown fund", errs[AllocPrefix+"crypto"])

	fill(t, f.ctx, w, map[string]string{
		AllocPrefix + "crypto":     "",
		AllocPrefix + "bond-index": "40",
	})

	sum, _ := w.Summary()
	withheld, ok := sum.TotalOf("Withholding (20%)")
	require.True(t, ok)
	assert.True(t, withheld.Equal(dec("2000")))

	fill(t, f.ctx, w, map[string]string{FieldAcceptTerms: "yes"})
	conf, _ := w.Confirmation()
	assert.True(t, strings.HasPrefix(conf.Reference, "ROL-"))
}

func TestBeneficiary_EditMustKeepPrimaryAt100(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowBeneficiary, map[string]string{FieldBeneficiaryID: "ben-1"})
	require.NoError(t, err)
	assert.Equal(t, "Jordan Rivera", w.State().Get(FieldBeneficiaryName))
	assert.Equal(t, "50", w.State().Get(SharePrefix+"ben-2"))

	fill(t, f.ctx, w, map[string]string{FieldBeneficiarySSN: "987654321"})

	errs := blocked(t, f.ctx, w, map[string]string{FieldPercentage: "90"})
	assert.Equal(t, "Primary beneficiaries total 90%, they must total 100%", errs[FieldPercentage])

	errs = blocked(t, f.ctx, w, map[string]string{FieldPercentage: "100", SharePrefix + "ben-3": "40"})
	assert.Equal(t, "Contingent beneficiaries total 90%, they must total 100%", errs[FieldPercentage])

	errs = blocked(t, f.ctx, w, map[string]string{SharePrefix + "ben-3": "0"})
	assert.Contains(t, errs, SharePrefix+"ben-3")

	fill(t, f.ctx, w, map[string]string{SharePrefix + "ben-3": "50"})
	require.True(t, w.Done())
}

func TestBeneficiary_AddSplitsPrimary(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowBeneficiary, nil)
	require.NoError(t, err)
	fill(t, f.ctx, w, map[string]string{
		FieldBeneficiaryName: "Morgan Lee",
		FieldRelationship:    "Sibling",
		FieldBeneficiaryDOB:  "1988-08-08",
		FieldBeneficiarySSN:  "111-22-3333",
		FieldBeneficiaryType: "primary",
	})
	fill(t, f.ctx, w, map[string]string{
		FieldPercentage:      "40",
		SharePrefix + "ben-1": "60",
	})

	saved, err := f.sessions.Beneficiaries(f.ctx, "s1", "ret-4004")
	require.NoError(t, err)
	require.Len(t, saved, 4)
	assert.NoError(t, banking.ValidateAllocations(saved))
	assert.Equal(t, "111223333", saved[3].SSN)
}

func TestBeneficiary_RequiresRetirementAccount(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	_, err := f.svc.Start(f.ctx, FlowBeneficiary, map[string]string{FieldBeneficiaryAccount: "chk-1001"})
	assert.ErrorIs(t, err, banking.ErrAccountType)
}

func TestAlerts_Flow(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowAlerts, nil)
	require.NoError(t, err)
	st := w.State()
	assert.Equal(t, "chk-1001", st.Get(FieldAlertAccount))
	assert.Equal(t, "100.00", st.Get(FieldLowBalance))
	assert.Equal(t, "email", st.Get(FieldChannels))

	errs := blocked(t, f.ctx, w, map[string]string{FieldChannels: "", FieldLargeWithdrawal: "-1"})
	assert.Equal(t, "Choose at least one way to be notified", errs[FieldChannels])
	assert.Equal(t, "Amount cannot be negative", errs[FieldLargeWithdrawal])

	errs = blocked(t, f.ctx, w, map[string]string{FieldChannels: "email,fax", FieldLargeWithdrawal: "0"})
	assert.Contains(t, errs[FieldChannels], "fax")

	fill(t, f.ctx, w, map[string]string{FieldChannels: "sms, push", FieldPaymentDue: "on"})

	saved, err := f.sessions.Alerts(f.ctx, "s1", "chk-1001")
	require.NoError(t, err)
	assert.Equal(t, []string{"sms", "push"}, saved.Channels)
	assert.True(t, saved.PaymentDue)
	assert.True(t, saved.LargeWithdrawal.IsZero())
}

func TestStepMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	w, err := f.svc.Start(f.ctx, FlowTransfer, nil)
	require.NoError(t, err)
	blocked(t, f.ctx, w, nil)

	fm := f.metrics.Flow(FlowTransfer)
	require.NotNil(t, fm)
	assert.Equal(t, int64(1), fm.Blocked)
}
