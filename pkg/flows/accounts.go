package flows

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/banking"
	"bankflow/pkg/logging"
	"bankflow/pkg/session"
	"bankflow/pkg/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Accounts runs the account actions shared by pages and flows.
type Accounts struct {
	client   *apiclient.Client
	sessions *session.Store
	logger   *logging.Logger
	now      func() time.Time
}

// BalanceChange is the server's answer to a deposit or payment.
type BalanceChange struct {
	Account     banking.Account     `json:"account"`
	Transaction banking.Transaction `json:"transaction"`
}

// CashAdvance is the server's answer to a cash advance.
type CashAdvance struct {
	Account   banking.Account `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Total     decimal.Decimal `json:"total"`
	Reference string          `json:"reference,omitempty"`
}

// TransferRequest is the body of POST /transfers.
type TransferRequest struct {
	From         string          `json:"fromAccountId"`
	To           string          `json:"toAccountId"`
	Amount       decimal.Decimal `json:"amount"`
	Memo         string          `json:"memo,omitempty"`
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
}

func accountPath(id string, rest ...string) string {
	p := "/accounts/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// remember logs a failed mirror write. The mirror is best effort; a
// request without a session has no mirror at all.
func (a *Accounts) remember(what string, err error) {
	if err == nil || errors.Is(err, session.ErrNoSession) {
		return
	}
	a.logger.Warn("session mirror not updated", zap.String("item", what), zap.Error(err))
}

// mirrorAccounts returns the session's accounts, seeding the mirror with
// the sample set when it is empty.
func (a *Accounts) mirrorAccounts(ctx context.Context) ([]banking.Account, error) {
	sid := session.IDFrom(ctx)
	accounts, err := a.sessions.Accounts(ctx, sid)
	if err == nil {
		return accounts, nil
	}
	if !store.IsNotFound(err) && !errors.Is(err, session.ErrNoSession) {
		return nil, err
	}
	accounts = banking.SampleAccounts()
	a.remember("accounts", a.sessions.SaveAccounts(ctx, sid, accounts))
	return accounts, nil
}

// mirrorAccount finds one account in the mirror.
func (a *Accounts) mirrorAccount(ctx context.Context, id string) (banking.Account, error) {
	accounts, err := a.mirrorAccounts(ctx)
	if err != nil {
		return banking.Account{}, err
	}
	acct, ok := banking.Find(accounts, id)
	if !ok {
		return banking.Account{}, fmt.Errorf("%w: %s", banking.ErrAccountNotFound, id)
	}
	return acct, nil
}

// mirrorHistory returns an account's mirrored transactions, generating
// and storing a history when none is present.
func (a *Accounts) mirrorHistory(ctx context.Context, id string) ([]banking.Transaction, error) {
	sid := session.IDFrom(ctx)
	txs, err := a.sessions.Transactions(ctx, sid, id)
	if err == nil {
		return txs, nil
	}
	if !store.IsNotFound(err) && !errors.Is(err, session.ErrNoSession) {
		return nil, err
	}
	acct, err := a.mirrorAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	txs = banking.GenerateHistory(acct, a.now())
	a.remember("transactions", a.sessions.SaveTransactions(ctx, sid, id, txs))
	return txs, nil
}

// mutate applies a local balance change to the mirror. ids name the
// accounts whose histories are seeded first, so the new entries land on
// top of a full list.
func (a *Accounts) mutate(ctx context.Context, ids []string, fn func([]banking.Account) (session.Change, error)) (session.Change, error) {
	sid := session.IDFrom(ctx)
	if sid == "" {
		return fn(banking.SampleAccounts())
	}
	if _, err := a.mirrorAccounts(ctx); err != nil {
		return session.Change{}, err
	}
	for _, id := range ids {
		if _, err := a.mirrorHistory(ctx, id); err != nil {
			return session.Change{}, err
		}
	}
	return a.sessions.ApplyBalanceDelta(ctx, sid, fn)
}

// refresh copies server state into an existing mirror. A session that
// never loaded its accounts is left alone.
func (a *Accounts) refresh(ctx context.Context, change session.Change) {
	sid := session.IDFrom(ctx)
	if sid == "" {
		return
	}
	_, err := a.sessions.ApplyBalanceDelta(ctx, sid, func([]banking.Account) (session.Change, error) {
		return change, nil
	})
	if store.IsNotFound(err) {
		return
	}
	a.remember("accounts", err)
}

// List returns the customer's accounts.
func (a *Accounts) List(ctx context.Context) (apiclient.Outcome[[]banking.Account], error) {
	out, err := apiclient.Resolve(ctx, a.client, "/accounts",
		func(ctx context.Context) ([]banking.Account, error) {
			return apiclient.GetJSON[[]banking.Account](ctx, a.client, "/accounts")
		},
		func(ctx context.Context) ([]banking.Account, error) {
			return a.mirrorAccounts(ctx)
		},
	)
	if err != nil {
		return out, err
	}
	if !out.Degraded {
		a.remember("accounts", a.sessions.SaveAccounts(ctx, session.IDFrom(ctx), out.Value))
	}
	return out, nil
}

// Primary returns the account shown on the dashboard.
func (a *Accounts) Primary(ctx context.Context) (apiclient.Outcome[banking.Account], error) {
	out, err := apiclient.Resolve(ctx, a.client, "/accounts/primary",
		func(ctx context.Context) (banking.Account, error) {
			return apiclient.GetJSON[banking.Account](ctx, a.client, "/accounts/primary")
		},
		func(ctx context.Context) (banking.Account, error) {
			accounts, err := a.mirrorAccounts(ctx)
			if err != nil {
				return banking.Account{}, err
			}
			acct, ok := banking.Primary(accounts)
			if !ok {
				return banking.Account{}, banking.ErrAccountNotFound
			}
			return acct, nil
		},
	)
	if err == nil && !out.Degraded {
		a.refresh(ctx, session.Change{Accounts: []banking.Account{out.Value}})
	}
	return out, err
}

// Get returns one account.
func (a *Accounts) Get(ctx context.Context, id string) (apiclient.Outcome[banking.Account], error) {
	out, err := apiclient.Resolve(ctx, a.client, "/accounts/{id}",
		func(ctx context.Context) (banking.Account, error) {
			return apiclient.GetJSON[banking.Account](ctx, a.client, accountPath(id))
		},
		func(ctx context.Context) (banking.Account, error) {
			return a.mirrorAccount(ctx, id)
		},
	)
	if err == nil && !out.Degraded {
		a.refresh(ctx, session.Change{Accounts: []banking.Account{out.Value}})
	}
	return out, err
}

// Transactions returns an account's history, newest first. Without the
// server the mirrored or generated history is served.
func (a *Accounts) Transactions(ctx context.Context, id string) (apiclient.Outcome[[]banking.Transaction], error) {
	out, err := apiclient.Resolve(ctx, a.client, "/accounts/{id}/transactions",
		func(ctx context.Context) ([]banking.Transaction, error) {
			return apiclient.GetJSON[[]banking.Transaction](ctx, a.client, accountPath(id, "transactions"))
		},
		func(ctx context.Context) ([]banking.Transaction, error) {
			return a.mirrorHistory(ctx, id)
		},
	)
	if err == nil && !out.Degraded {
		a.remember("transactions", a.sessions.SaveTransactions(ctx, session.IDFrom(ctx), id, out.Value))
	}
	return out, err
}

func (a *Accounts) balanceAction(
	ctx context.Context,
	id, action string,
	body any,
	local func(banking.Account) (banking.Account, banking.Transaction, error),
) (apiclient.Outcome[BalanceChange], error) {
	out, err := apiclient.Resolve(ctx, a.client, "/accounts/{id}/"+action,
		func(ctx context.Context) (BalanceChange, error) {
			return apiclient.PostJSON[BalanceChange](ctx, a.client, accountPath(id, action), body)
		},
		func(ctx context.Context) (BalanceChange, error) {
			change, err := a.mutate(ctx, []string{id}, func(accounts []banking.Account) (session.Change, error) {
				acct, ok := banking.Find(accounts, id)
				if !ok {
					return session.Change{}, fmt.Errorf("%w: %s", banking.ErrAccountNotFound, id)
				}
				updated, tx, err := local(acct)
				if err != nil {
					return session.Change{}, err
				}
				return session.Change{
					Accounts:     []banking.Account{updated},
					Transactions: []banking.Transaction{tx},
				}, nil
			})
			if err != nil {
				return BalanceChange{}, err
			}
			return BalanceChange{Account: change.Accounts[0], Transaction: change.Transactions[0]}, nil
		},
	)
	if err != nil {
		return out, err
	}
	if !out.Degraded {
		change := session.Change{Accounts: []banking.Account{out.Value.Account}}
		if out.Value.Transaction.ID != "" {
			change.Transactions = []banking.Transaction{out.Value.Transaction}
		}
		a.refresh(ctx, change)
	}
	return out, nil
}

// Deposit adds amount to an account. Without the server the deposit is
// applied to the mirror and a transaction is put at the head of the
// account's history.
func (a *Accounts) Deposit(ctx context.Context, id string, amount decimal.Decimal) (apiclient.Outcome[BalanceChange], error) {
	if err := banking.CheckAmount(amount); err != nil {
		return apiclient.Outcome[BalanceChange]{}, err
	}
	body := map[string]any{"amount": amount}
	return a.balanceAction(ctx, id, "deposit", body, func(acct banking.Account) (banking.Account, banking.Transaction, error) {
		return banking.ApplyDeposit(acct, amount, a.now())
	})
}

// Payment subtracts amount from an account, reducing the owed balance
// of a credit account.
func (a *Accounts) Payment(ctx context.Context, id string, amount decimal.Decimal, payee string) (apiclient.Outcome[BalanceChange], error) {
	if err := banking.CheckAmount(amount); err != nil {
		return apiclient.Outcome[BalanceChange]{}, err
	}
	body := map[string]any{"amount": amount, "payee": payee}
	return a.balanceAction(ctx, id, "payment", body, func(acct banking.Account) (banking.Account, banking.Transaction, error) {
		return banking.ApplyPayment(acct, amount, payee, a.now())
	})
}

// Transfer moves money between two accounts and records it in the
// recent transfers list.
func (a *Accounts) Transfer(ctx context.Context, req TransferRequest) (apiclient.Outcome[banking.Transfer], error) {
	if err := banking.CheckAmount(req.Amount); err != nil {
		return apiclient.Outcome[banking.Transfer]{}, err
	}
	now := a.now()
	local := func(accounts []banking.Account) (session.Change, banking.Transfer, error) {
		from, ok := banking.Find(accounts, req.From)
		if !ok {
			return session.Change{}, banking.Transfer{}, fmt.Errorf("%w: %s", banking.ErrAccountNotFound, req.From)
		}
		to, ok := banking.Find(accounts, req.To)
		if !ok {
			return session.Change{}, banking.Transfer{}, fmt.Errorf("%w: %s", banking.ErrAccountNotFound, req.To)
		}
		res, err := banking.ApplyTransfer(from, to, req.Amount, req.Memo, req.ScheduledFor, now)
		if err != nil {
			return session.Change{}, banking.Transfer{}, err
		}
		return session.Change{
			Accounts:     []banking.Account{res.From, res.To},
			Transactions: []banking.Transaction{res.Debit, res.Credit},
		}, res.Record, nil
	}

	out, err := apiclient.Resolve(ctx, a.client, "/transfers",
		func(ctx context.Context) (banking.Transfer, error) {
			return apiclient.PostJSON[banking.Transfer](ctx, a.client, "/transfers", req)
		},
		func(ctx context.Context) (banking.Transfer, error) {
			var record banking.Transfer
			_, err := a.mutate(ctx, []string{req.From, req.To}, func(accounts []banking.Account) (session.Change, error) {
				change, rec, err := local(accounts)
				record = rec
				return change, err
			})
			return record, err
		},
	)
	if err != nil {
		return out, err
	}

	sid := session.IDFrom(ctx)
	if !out.Degraded {
		if out.Value.Status == "" {
			out.Value.Status = banking.StatusCompleted
			if req.ScheduledFor != nil {
				out.Value.Status = banking.StatusScheduled
			}
		}
		if sid != "" {
			// keep already loaded pages in step with the server
			_, merr := a.sessions.ApplyBalanceDelta(ctx, sid, func(accounts []banking.Account) (session.Change, error) {
				change, _, err := local(accounts)
				return change, err
			})
			if !store.IsNotFound(merr) {
				a.remember("accounts", merr)
			}
		}
	}
	a.remember("transfers", a.sessions.AddTransfer(ctx, sid, out.Value))
	return out, nil
}

// RecentTransfers returns the session's recent transfers.
func (a *Accounts) RecentTransfers(ctx context.Context) ([]banking.Transfer, error) {
	ts, err := a.sessions.RecentTransfers(ctx, session.IDFrom(ctx))
	if errors.Is(err, session.ErrNoSession) {
		return []banking.Transfer{}, nil
	}
	return ts, err
}

// CashAdvance draws amount against a credit account.
func (a *Accounts) CashAdvance(ctx context.Context, id string, amount decimal.Decimal) (apiclient.Outcome[CashAdvance], error) {
	if err := banking.CheckAmount(amount); err != nil {
		return apiclient.Outcome[CashAdvance]{}, err
	}
	out, err := apiclient.Resolve(ctx, a.client, "/accounts/{id}/cash-advance",
		func(ctx context.Context) (CashAdvance, error) {
			return apiclient.PostJSON[CashAdvance](ctx, a.client, accountPath(id, "cash-advance"), map[string]any{"amount": amount})
		},
		func(ctx context.Context) (CashAdvance, error) {
			var result CashAdvance
			_, err := a.mutate(ctx, []string{id}, func(accounts []banking.Account) (session.Change, error) {
				acct, ok := banking.Find(accounts, id)
				if !ok {
					return session.Change{}, fmt.Errorf("%w: %s", banking.ErrAccountNotFound, id)
				}
				res, err := banking.ApplyCashAdvance(acct, amount, a.now())
				if err != nil {
					return session.Change{}, err
				}
				result = CashAdvance{Account: res.Account, Amount: amount, Fee: banking.CashAdvanceFee(amount), Total: res.Total}
				return session.Change{
					Accounts:     []banking.Account{res.Account},
					Transactions: []banking.Transaction{res.Advance, res.Fee},
				}, nil
			})
			return result, err
		},
	)
	if err == nil && !out.Degraded {
		a.refresh(ctx, session.Change{Accounts: []banking.Account{out.Value.Account}})
	}
	return out, err
}

// OpenAccount submits an application and stores the resulting account
// for the confirmation page.
func (a *Accounts) OpenAccount(ctx context.Context, app Application) (apiclient.Outcome[banking.Account], error) {
	out, err := apiclient.Resolve(ctx, a.client, "/accounts",
		func(ctx context.Context) (banking.Account, error) {
			return apiclient.PostJSON[banking.Account](ctx, a.client, "/accounts", app)
		},
		func(ctx context.Context) (banking.Account, error) {
			return app.provisionalAccount(a.now()), nil
		},
	)
	if err != nil {
		return out, err
	}
	sid := session.IDFrom(ctx)
	a.remember("opened-account", a.sessions.SaveOpenedAccount(ctx, sid, out.Value))
	a.remember("accounts", a.sessions.AddAccount(ctx, sid, out.Value))
	return out, nil
}

// Beneficiaries returns the designations of a retirement account.
func (a *Accounts) Beneficiaries(ctx context.Context, id string) (apiclient.Outcome[[]banking.Beneficiary], error) {
	path := "/retirement/" + url.PathEscape(id) + "/beneficiaries"
	out, err := apiclient.Resolve(ctx, a.client, "/retirement/{id}/beneficiaries",
		func(ctx context.Context) ([]banking.Beneficiary, error) {
			return apiclient.GetJSON[[]banking.Beneficiary](ctx, a.client, path)
		},
		func(ctx context.Context) ([]banking.Beneficiary, error) {
			bens, err := a.sessions.Beneficiaries(ctx, session.IDFrom(ctx), id)
			if err == nil {
				return bens, nil
			}
			if store.IsNotFound(err) || errors.Is(err, session.ErrNoSession) {
				return banking.SampleBeneficiaries(), nil
			}
			return nil, err
		},
	)
	if err == nil && !out.Degraded {
		a.remember("beneficiaries", a.sessions.SaveBeneficiaries(ctx, session.IDFrom(ctx), id, out.Value))
	}
	return out, err
}

// SaveBeneficiaries replaces the designations of an account. The list
// is rejected before any call unless each level sums to 100.
func (a *Accounts) SaveBeneficiaries(ctx context.Context, id string, bens []banking.Beneficiary) (apiclient.Outcome[[]banking.Beneficiary], error) {
	if err := banking.ValidateAllocations(bens); err != nil {
		return apiclient.Outcome[[]banking.Beneficiary]{}, err
	}
	path := "/retirement/" + url.PathEscape(id) + "/beneficiaries"
	out, err := apiclient.Resolve(ctx, a.client, "/retirement/{id}/beneficiaries",
		func(ctx context.Context) ([]banking.Beneficiary, error) {
			return apiclient.PutJSON[[]banking.Beneficiary](ctx, a.client, path, bens)
		},
		func(context.Context) ([]banking.Beneficiary, error) {
			return bens, nil
		},
	)
	if err != nil {
		return out, err
	}
	a.remember("beneficiaries", a.sessions.SaveBeneficiaries(ctx, session.IDFrom(ctx), id, out.Value))
	return out, nil
}

// Alerts returns an account's alert preferences.
func (a *Accounts) Alerts(ctx context.Context, id string) (apiclient.Outcome[banking.AlertPreferences], error) {
	out, err := apiclient.Resolve(ctx, a.client, "/accounts/{id}/alerts",
		func(ctx context.Context) (banking.AlertPreferences, error) {
			return apiclient.GetJSON[banking.AlertPreferences](ctx, a.client, accountPath(id, "alerts"))
		},
		func(ctx context.Context) (banking.AlertPreferences, error) {
			prefs, err := a.sessions.Alerts(ctx, session.IDFrom(ctx), id)
			if err == nil {
				return prefs, nil
			}
			if store.IsNotFound(err) || errors.Is(err, session.ErrNoSession) {
				return banking.DefaultAlerts(id), nil
			}
			return banking.AlertPreferences{}, err
		},
	)
	return out, err
}

// SaveAlerts stores an account's alert preferences.
func (a *Accounts) SaveAlerts(ctx context.Context, prefs banking.AlertPreferences) (apiclient.Outcome[banking.AlertPreferences], error) {
	if err := prefs.Validate(); err != nil {
		return apiclient.Outcome[banking.AlertPreferences]{}, err
	}
	out, err := apiclient.Resolve(ctx, a.client, "/accounts/{id}/alerts",
		func(ctx context.Context) (banking.AlertPreferences, error) {
			return apiclient.PutJSON[banking.AlertPreferences](ctx, a.client, accountPath(prefs.AccountID, "alerts"), prefs)
		},
		func(context.Context) (banking.AlertPreferences, error) {
			return prefs, nil
		},
	)
	if err != nil {
		return out, err
	}
	if out.Value.AccountID == "" {
		out.Value.AccountID = prefs.AccountID
	}
	a.remember("alerts", a.sessions.SaveAlerts(ctx, session.IDFrom(ctx), out.Value))
	return out, nil
}
