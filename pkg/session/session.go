// Package session keeps the per-session mirror of account state that
// flows read when the API cannot answer.
//
// Every item lives under bankflow:session:<id>:<item> in a store.Tiered,
// encoded as JSON. Nothing is shared between sessions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"bankflow/pkg/banking"
	"bankflow/pkg/logging"
	"bankflow/pkg/store"

	"go.uber.org/zap"
)

// MaxRecentTransfers bounds the recent transfer list.
const MaxRecentTransfers = 10

// KV is the storage the mirror needs. *store.Tiered satisfies it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ErrNoSession is returned for an empty session ID.
var ErrNoSession = errors.New("session: missing session id")

const (
	itemAccounts      = "accounts"
	itemTransactions  = "transactions"
	itemOpened        = "opened-account"
	itemTransfers     = "transfers"
	itemBeneficiaries = "beneficiaries"
	itemAlerts        = "alerts"
)

type ctxKey struct{}

// WithID attaches a session ID to ctx.
func WithID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, ctxKey{}, sid)
}

// IDFrom returns the session ID carried by ctx, or "".
func IDFrom(ctx context.Context) string {
	sid, _ := ctx.Value(ctxKey{}).(string)
	return sid
}

// Store gives typed access to one session's mirror.
type Store struct {
	kv     KV
	ns     store.Namespace
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is held by one read-modify-write cycle at a time. refs
// counts holders and waiters; the entry is dropped when it reaches zero.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Store over kv.
func New(kv KV, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.L()
	}
	return &Store{
		kv:     kv,
		ns:     store.NewNamespace("bankflow", "session"),
		logger: logger.Named("session"),
		locks:  make(map[string]*sessionLock),
	}
}

func (s *Store) key(sid string, item ...string) (string, error) {
	if sid == "" {
		return "", ErrNoSession
	}
	return s.ns.Sub(sid).Key(item...), nil
}

// lock serialises read-modify-write cycles within one session.
func (s *Store) lock(sid string) func() {
	s.mu.Lock()
	l, ok := s.locks[sid]
	if !ok {
		l = &sessionLock{}
		s.locks[sid] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sid)
		}
		s.mu.Unlock()
	}
}

func load[T any](ctx context.Context, s *Store, sid string, item ...string) (T, error) {
	var out T
	key, err := s.key(sid, item...)
	if err != nil {
		return out, err
	}
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("session: decode %s: %w", key, err)
	}
	return out, nil
}

func save(ctx context.Context, s *Store, v any, sid string, item ...string) error {
	key, err := s.key(sid, item...)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		s.logger.Warn("mirror write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Accounts returns the mirrored account list or store.ErrNotFound.
func (s *Store) Accounts(ctx context.Context, sid string) ([]banking.Account, error) {
	return load[[]banking.Account](ctx, s, sid, itemAccounts)
}

// SaveAccounts replaces the mirrored account list.
func (s *Store) SaveAccounts(ctx context.Context, sid string, accounts []banking.Account) error {
	return save(ctx, s, accounts, sid, itemAccounts)
}

// Account returns one mirrored account.
func (s *Store) Account(ctx context.Context, sid, id string) (banking.Account, error) {
	accounts, err := s.Accounts(ctx, sid)
	if err != nil {
		return banking.Account{}, err
	}
	a, ok := banking.Find(accounts, id)
	if !ok {
		return banking.Account{}, fmt.Errorf("%w: %s", banking.ErrAccountNotFound, id)
	}
	return a, nil
}

// Change is the result of a balance mutation: accounts to replace and
// transactions to put at the head of their account's list.
type Change struct {
	Accounts     []banking.Account
	Transactions []banking.Transaction
}

// ApplyBalanceDelta runs fn against the mirrored accounts and writes
// back its Change. Calls for one session never interleave. When fn
// fails nothing is written.
func (s *Store) ApplyBalanceDelta(ctx context.Context, sid string, fn func(accounts []banking.Account) (Change, error)) (Change, error) {
	if sid == "" {
		return Change{}, ErrNoSession
	}
	unlock := s.lock(sid)
	defer unlock()

	accounts, err := s.Accounts(ctx, sid)
	if err != nil {
		return Change{}, err
	}
	change, err := fn(accounts)
	if err != nil {
		return Change{}, err
	}

	if err := s.commit(ctx, sid, accounts, change); err != nil {
		return Change{}, err
	}
	return change, nil
}

// txList is one account's transactions before and after a change.
type txList struct {
	before  []banking.Transaction
	existed bool
	after   []banking.Transaction
}

// commit writes the transaction lists first and the accounts last, so
// the balance only moves once its transactions are stored. When the
// accounts write fails the lists already written are put back.
func (s *Store) commit(ctx context.Context, sid string, accounts []banking.Account, change Change) error {
	lists := map[string]*txList{}
	var order []string
	for _, tx := range change.Transactions {
		l, ok := lists[tx.AccountID]
		if !ok {
			txs, err := s.Transactions(ctx, sid, tx.AccountID)
			if err != nil && !store.IsNotFound(err) {
				return err
			}
			l = &txList{before: txs, existed: err == nil, after: txs}
			lists[tx.AccountID] = l
			order = append(order, tx.AccountID)
		}
		l.after = banking.Prepend(l.after, tx)
	}

	var written []string
	err := func() error {
		for _, id := range order {
			if err := s.SaveTransactions(ctx, sid, id, lists[id].after); err != nil {
				return err
			}
			written = append(written, id)
		}
		return s.SaveAccounts(ctx, sid, banking.Replace(accounts, change.Accounts...))
	}()
	if err == nil {
		return nil
	}

	for _, id := range written {
		l := lists[id]
		var rerr error
		if l.existed {
			rerr = s.SaveTransactions(ctx, sid, id, l.before)
		} else {
			key, _ := s.key(sid, itemTransactions, id)
			rerr = s.kv.Delete(ctx, key)
		}
		if rerr != nil {
			s.logger.Error("mirror rollback failed",
				zap.String("session", sid),
				zap.String("account", id),
				zap.Error(rerr),
			)
		}
	}
	return err
}

// AddAccount appends acct to the mirrored list, replacing an entry with
// the same ID. A session without a list gets a new one.
func (s *Store) AddAccount(ctx context.Context, sid string, acct banking.Account) error {
	if sid == "" {
		return ErrNoSession
	}
	unlock := s.lock(sid)
	defer unlock()

	accounts, err := s.Accounts(ctx, sid)
	if err != nil && !store.IsNotFound(err) {
		return err
	}
	if _, ok := banking.Find(accounts, acct.ID); ok {
		accounts = banking.Replace(accounts, acct)
	} else {
		accounts = append(accounts, acct)
	}
	return s.SaveAccounts(ctx, sid, accounts)
}

// Transactions returns the mirrored transaction list of an account,
// newest first, or store.ErrNotFound.
func (s *Store) Transactions(ctx context.Context, sid, accountID string) ([]banking.Transaction, error) {
	return load[[]banking.Transaction](ctx, s, sid, itemTransactions, accountID)
}

// SaveTransactions replaces an account's mirrored transactions.
func (s *Store) SaveTransactions(ctx context.Context, sid, accountID string, txs []banking.Transaction) error {
	return save(ctx, s, txs, sid, itemTransactions, accountID)
}

// PrependTransaction puts tx at the head of its account's list.
func (s *Store) PrependTransaction(ctx context.Context, sid string, tx banking.Transaction) error {
	if sid == "" {
		return ErrNoSession
	}
	unlock := s.lock(sid)
	defer unlock()
	return s.prependLocked(ctx, sid, tx)
}

func (s *Store) prependLocked(ctx context.Context, sid string, tx banking.Transaction) error {
	txs, err := s.Transactions(ctx, sid, tx.AccountID)
	if err != nil && !store.IsNotFound(err) {
		return err
	}
	return s.SaveTransactions(ctx, sid, tx.AccountID, banking.Prepend(txs, tx))
}

// OpenedAccount returns the account stored by the last account opening.
func (s *Store) OpenedAccount(ctx context.Context, sid string) (banking.Account, error) {
	return load[banking.Account](ctx, s, sid, itemOpened)
}

// SaveOpenedAccount stores a freshly opened account for its
// confirmation screen.
func (s *Store) SaveOpenedAccount(ctx context.Context, sid string, acct banking.Account) error {
	return save(ctx, s, acct, sid, itemOpened)
}

// RecentTransfers returns recent transfers, newest first. A session
// without transfers gets an empty list.
func (s *Store) RecentTransfers(ctx context.Context, sid string) ([]banking.Transfer, error) {
	ts, err := load[[]banking.Transfer](ctx, s, sid, itemTransfers)
	if store.IsNotFound(err) {
		return []banking.Transfer{}, nil
	}
	return ts, err
}

// AddTransfer records t at the head of the recent list.
func (s *Store) AddTransfer(ctx context.Context, sid string, t banking.Transfer) error {
	if sid == "" {
		return ErrNoSession
	}
	unlock := s.lock(sid)
	defer unlock()

	ts, err := s.RecentTransfers(ctx, sid)
	if err != nil {
		return err
	}
	ts = append([]banking.Transfer{t}, ts...)
	if len(ts) > MaxRecentTransfers {
		ts = ts[:MaxRecentTransfers]
	}
	return save(ctx, s, ts, sid, itemTransfers)
}

// Beneficiaries returns the designations saved for an account.
func (s *Store) Beneficiaries(ctx context.Context, sid, accountID string) ([]banking.Beneficiary, error) {
	return load[[]banking.Beneficiary](ctx, s, sid, itemBeneficiaries, accountID)
}

// SaveBeneficiaries stores bens after checking the allocation sums. A
// rejected list leaves the stored one untouched.
func (s *Store) SaveBeneficiaries(ctx context.Context, sid, accountID string, bens []banking.Beneficiary) error {
	if err := banking.ValidateAllocations(bens); err != nil {
		return err
	}
	return save(ctx, s, bens, sid, itemBeneficiaries, accountID)
}

// Alerts returns an account's alert preferences.
func (s *Store) Alerts(ctx context.Context, sid, accountID string) (banking.AlertPreferences, error) {
	return load[banking.AlertPreferences](ctx, s, sid, itemAlerts, accountID)
}

// SaveAlerts stores an account's alert preferences.
func (s *Store) SaveAlerts(ctx context.Context, sid string, prefs banking.AlertPreferences) error {
	return save(ctx, s, prefs, sid, itemAlerts, prefs.AccountID)
}

// Clear removes every known item of the session.
func (s *Store) Clear(ctx context.Context, sid string) error {
	if sid == "" {
		return ErrNoSession
	}
	unlock := s.lock(sid)
	defer unlock()

	keys := []string{
		s.ns.Sub(sid).Key(itemAccounts),
		s.ns.Sub(sid).Key(itemOpened),
		s.ns.Sub(sid).Key(itemTransfers),
	}
	if accounts, err := s.Accounts(ctx, sid); err == nil {
		for _, a := range accounts {
			keys = append(keys,
				s.ns.Sub(sid).Key(itemTransactions, a.ID),
				s.ns.Sub(sid).Key(itemBeneficiaries, a.ID),
				s.ns.Sub(sid).Key(itemAlerts, a.ID),
			)
		}
	}

	var firstErr error
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
