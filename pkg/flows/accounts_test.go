package flows

import (
	"context"
	"net/http"
	"testing"
	"time"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/banking"
	"bankflow/pkg/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestList_ServedFromServerIsMirrored(t *testing.T) {
	f := newFixture(t)
	f.api.handle("GET /accounts", []banking.Account{
		{ID: "chk-9", Type: banking.Checking, Balance: dec("10.00"), AvailableBalance: dec("10.00")},
	})

	out, err := f.svc.List(f.ctx)
	require.NoError(t, err)
	assert.False(t, out.Degraded)
	assert.Equal(t, apiclient.SourceServer, out.Source)
	require.Len(t, out.Value, 1)

	mirrored, err := f.sessions.Accounts(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "chk-9", mirrored[0].ID)
}

func TestList_FallsBackToSampleAccounts(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	out, err := f.svc.List(f.ctx)
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.Equal(t, apiclient.SourceSample, out.Source)
	assert.Error(t, out.Cause)
	assert.Len(t, out.Value, len(banking.SampleAccounts()))

	em := f.metrics.Endpoint("/accounts")
	require.NotNil(t, em)
	assert.Equal(t, int64(1), em.Fallbacks)
}

func TestList_UnauthorizedNeverFallsBack(t *testing.T) {
	f := newFixture(t)
	f.api.setStatus(http.StatusUnauthorized)

	_, err := f.svc.List(f.ctx)
	assert.True(t, apiclient.IsUnauthorized(err), "Expected unauthorized, got %v", err)
	assert.False(t, f.layer.Has("bankflow:session:s1:accounts"))
}

func TestList_ClientRejectionNeverFallsBack(t *testing.T) {
	f := newFixture(t)
	f.api.setStatus(http.StatusBadRequest)

	_, err := f.svc.List(f.ctx)
	var apiErr *apiclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestList_FailPolicySurfacesOutage(t *testing.T) {
	f := newFixture(t, func(c *apiclient.Config) { c.Fallback = apiclient.FallbackFail })
	f.api.setDown(true)

	_, err := f.svc.List(f.ctx)
	assert.Error(t, err)
}

func TestDeposit_DegradedUpdatesMirror(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	out, err := f.svc.Deposit(f.ctx, "chk-1001", dec("100"))
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.True(t, out.Value.Account.Balance.Equal(dec("5520.65")), "Expected 5520.65, got %s", out.Value.Account.Balance)

	acct, err := f.sessions.Account(f.ctx, "s1", "chk-1001")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("5520.65")))

	txs, err := f.sessions.Transactions(f.ctx, "s1", "chk-1001")
	require.NoError(t, err)
	require.NotEmpty(t, txs)
	assert.True(t, txs[0].Amount.Equal(dec("100")))
	assert.Equal(t, banking.TxDeposit, txs[0].Type)
	assert.Greater(t, len(txs), 1, "generated history should sit under the new entry")
}

func TestPayment_DegradedCreditReducesOwed(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	out, err := f.svc.Payment(f.ctx, "crd-3003", dec("245.30"), "Card payment")
	require.NoError(t, err)
	assert.True(t, out.Value.Account.Balance.Equal(dec("1000.00")), "Expected 1000.00 owed, got %s", out.Value.Account.Balance)

	txs, err := f.sessions.Transactions(f.ctx, "s1", "crd-3003")
	require.NoError(t, err)
	assert.True(t, txs[0].Amount.Equal(dec("-245.30")))
}

func TestPayment_DegradedInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	_, err := f.svc.Payment(f.ctx, "chk-1001", dec("9000"), "Landlord")
	assert.ErrorIs(t, err, banking.ErrInsufficientFunds)

	acct, err := f.sessions.Account(f.ctx, "s1", "chk-1001")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("5420.65")), "a rejected payment must not change the balance")
}

func TestBalanceActions_RejectNonPositiveBeforeCalling(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"0", "-5"} {
		_, err := f.svc.Deposit(f.ctx, "chk-1001", dec(amount))
		assert.ErrorIs(t, err, banking.ErrInvalidAmount)
		_, err = f.svc.Payment(f.ctx, "chk-1001", dec(amount), "")
		assert.ErrorIs(t, err, banking.ErrInvalidAmount)
		_, err = f.svc.CashAdvance(f.ctx, "crd-3003", dec(amount))
		assert.ErrorIs(t, err, banking.ErrInvalidAmount)
	}
	assert.Zero(t, f.api.called("POST /accounts/chk-1001/deposit"))
	assert.Zero(t, f.api.called("POST /accounts/chk-1001/payment"))
}

func TestDeposit_WithoutSessionUsesSampleData(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	out, err := f.svc.Deposit(context.Background(), "sav-2002", dec("50"))
	require.NoError(t, err)
	assert.True(t, out.Value.Account.Balance.Equal(dec("12900.00")))
}

func TestDeposit_ServedRefreshesExistingMirror(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.SaveAccounts(f.ctx, "s1", banking.SampleAccounts()))

	updated := banking.SampleAccounts()[0]
	updated.Balance = dec("6000.00")
	f.api.handle("POST /accounts/chk-1001/deposit", BalanceChange{Account: updated})

	out, err := f.svc.Deposit(f.ctx, "chk-1001", dec("579.35"))
	require.NoError(t, err)
	assert.False(t, out.Degraded)

	acct, err := f.sessions.Account(f.ctx, "s1", "chk-1001")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("6000.00")))
}

func TestTransactions_FallbackIsStable(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	first, err := f.svc.Transactions(f.ctx, "sav-2002")
	require.NoError(t, err)
	second, err := f.svc.Transactions(f.ctx, "sav-2002")
	require.NoError(t, err)
	require.Len(t, second.Value, len(first.Value))
	for i := range first.Value {
		assert.Equal(t, first.Value[i].ID, second.Value[i].ID)
		assert.True(t, first.Value[i].Amount.Equal(second.Value[i].Amount))
	}
	assert.True(t, first.Value[0].RunningBalance.Equal(dec("12850.00")))
}

func TestCashAdvance_DegradedChargesFee(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	out, err := f.svc.CashAdvance(f.ctx, "crd-3003", dec("500"))
	require.NoError(t, err)
	assert.True(t, out.Value.Fee.Equal(dec("25")))
	assert.True(t, out.Value.Total.Equal(dec("525")))
	assert.True(t, out.Value.Account.Balance.Equal(dec("1770.30")))
	assert.True(t, out.Value.Account.AvailableBalance.Equal(dec("6229.70")))

	txs, err := f.sessions.Transactions(f.ctx, "s1", "crd-3003")
	require.NoError(t, err)
	assert.Equal(t, "Cash Advance Fee", txs[0].Description)
	assert.Equal(t, "Cash Advance", txs[1].Description)
}

func TestCashAdvance_RequiresCreditAccount(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	_, err := f.svc.CashAdvance(f.ctx, "chk-1001", dec("100"))
	assert.ErrorIs(t, err, banking.ErrAccountType)
}

func TestRecentTransfers_EmptyWithoutSession(t *testing.T) {
	f := newFixture(t)
	ts, err := f.svc.RecentTransfers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestSaveBeneficiaries_RejectsBeforeCalling(t *testing.T) {
	f := newFixture(t)
	bens := banking.SampleBeneficiaries()
	bens[0].Percentage = dec("90")

	_, err := f.svc.SaveBeneficiaries(f.ctx, "ret-4004", bens)
	assert.ErrorIs(t, err, banking.ErrAllocation)
	assert.Zero(t, f.api.called("PUT /retirement/ret-4004/beneficiaries"))

	_, err = f.sessions.Beneficiaries(f.ctx, "s1", "ret-4004")
	assert.Error(t, err, "nothing should be stored")
}

func TestAlerts_DefaultsWhenNothingSaved(t *testing.T) {
	f := newFixture(t)
	f.api.setDown(true)

	out, err := f.svc.Alerts(f.ctx, "chk-1001")
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.Equal(t, banking.DefaultAlerts("chk-1001"), out.Value)
}

func TestMirrorWriteFailureDoesNotFailCall(t *testing.T) {
	f := newFixture(t)
	f.api.handle("GET /accounts", banking.SampleAccounts())
	f.layer.SetFunc = func(context.Context, string, []byte, time.Duration) error {
		return assert.AnError
	}

	out, err := f.svc.List(session.WithID(context.Background(), "s2"))
	require.NoError(t, err)
	assert.False(t, out.Degraded)
}
