package payment

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/routing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process LedgerStore and AccountDirectory for tests.
// CommitSettlement re-verifies capacities the same way the Postgres store
// does.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]ledger.Account
	trust     map[[2]string]ledger.TrustDeclaration
	payments  map[string]*ledger.Payment
	transfers []ledger.SettlementTransfer

	// LoadErr, CommitErr and FailErr are returned by the matching method
	// when set.
	LoadErr   error
	CommitErr error
	FailErr   error

	// BeforeCommit runs at the start of CommitSettlement, without the store
	// lock held.
	BeforeCommit func(paymentID string)

	Commits int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]ledger.Account),
		trust:    make(map[[2]string]ledger.TrustDeclaration),
		payments: make(map[string]*ledger.Payment),
	}
}

// AddAccount registers an account.
func (s *MemoryStore) AddAccount(id, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = ledger.Account{ID: id, DisplayName: displayName, CreatedAt: time.Now()}
}

// SetTrust creates or replaces the declaration of truster for trustee.
func (s *MemoryStore) SetTrust(truster, trustee string, limit decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.trust[[2]string{truster, trustee}] = ledger.TrustDeclaration{
		Truster: truster, Trustee: trustee, Limit: limit, CreatedAt: now, UpdatedAt: now,
	}
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ledger.ErrAccountNotFound)
	}
	return &acc, nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, filter []string) (ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("%w: %w", ledger.ErrLedgerUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return ledger.Snapshot{}, s.LoadErr
	}
	return s.snapshotLocked(filter), nil
}

func (s *MemoryStore) snapshotLocked(filter []string) ledger.Snapshot {
	keep := func(ids ...string) bool {
		if len(filter) == 0 {
			return true
		}
		for _, id := range ids {
			if !slices.Contains(filter, id) {
				return false
			}
		}
		return true
	}

	var snap ledger.Snapshot
	for _, acc := range s.accounts {
		if keep(acc.ID) {
			snap.Accounts = append(snap.Accounts, acc)
		}
	}
	for _, d := range s.trust {
		if keep(d.Truster, d.Trustee) {
			snap.Declarations = append(snap.Declarations, d)
		}
	}
	for _, t := range s.transfers {
		if s.payments[t.PaymentID].Status != ledger.StatusCompleted {
			continue
		}
		if keep(t.Payer, t.Recipient) {
			snap.Settlements = append(snap.Settlements, ledger.Settlement{Payer: t.Payer, Recipient: t.Recipient, Amount: t.Amount})
		}
	}
	return snap
}

func (s *MemoryStore) CreatePayment(ctx context.Context, params ledger.CreatePaymentParams) (*ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	p := &ledger.Payment{
		ID:        uuid.NewString(),
		Payer:     params.Payer,
		Recipient: params.Recipient,
		Amount:    params.Amount,
		Memo:      params.Memo,
		Status:    ledger.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.payments[p.ID] = p
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CommitSettlement(ctx context.Context, paymentID string, drafts []ledger.TransferDraft) ([]ledger.SettlementTransfer, error) {
	if s.BeforeCommit != nil {
		s.BeforeCommit(paymentID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commits++

	if s.CommitErr != nil {
		return nil, s.CommitErr
	}

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
	}
	switch p.Status {
	case ledger.StatusCompleted:
		return s.transfersLocked(paymentID), nil
	case ledger.StatusFailed:
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentTerminal)
	}

	var touched []string
	for _, d := range drafts {
		touched = append(touched, d.Payer, d.Recipient)
	}
	g := routing.Build(s.snapshotLocked(touched), routing.NewAccountFilter(touched...))
	if d, ok := routing.Covers(g, drafts); !ok {
		return nil, fmt.Errorf("%s->%s needs %s: %w", d.Payer, d.Recipient, d.Amount, ledger.ErrCapacityConsumed)
	}

	now := time.Now()
	for _, d := range drafts {
		s.transfers = append(s.transfers, ledger.SettlementTransfer{
			ID:        uuid.NewString(),
			PaymentID: paymentID,
			Payer:     d.Payer,
			Recipient: d.Recipient,
			Amount:    d.Amount,
			CreatedAt: now,
		})
	}
	p.Status = ledger.StatusCompleted
	p.UpdatedAt = now
	return s.transfersLocked(paymentID), nil
}

func (s *MemoryStore) FailPayment(ctx context.Context, paymentID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailErr != nil {
		return s.FailErr
	}
	p, ok := s.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
	}
	if p.Status != ledger.StatusPending {
		return fmt.Errorf("payment %s is %s: %w", paymentID, p.Status, ledger.ErrPaymentTerminal)
	}
	p.Status = ledger.StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, paymentID string) (*ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListSettlementTransfers(ctx context.Context, paymentID string) ([]ledger.SettlementTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfersLocked(paymentID), nil
}

// Payments returns every payment, in no particular order.
func (s *MemoryStore) Payments() []ledger.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, *p)
	}
	return out
}

func (s *MemoryStore) transfersLocked(paymentID string) []ledger.SettlementTransfer {
	var out []ledger.SettlementTransfer
	for _, t := range s.transfers {
		if t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	return out
}

// CreateAccount registers a new account.
func (s *MemoryStore) CreateAccount(ctx context.Context, params ledger.CreateAccountParams) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[params.ID]; ok {
		return nil, fmt.Errorf("account %s: %w", params.ID, ledger.ErrAccountExists)
	}
	acc := ledger.Account{ID: params.ID, DisplayName: params.DisplayName, CreatedAt: time.Now()}
	s.accounts[params.ID] = acc
	return &acc, nil
}

// ListAccounts returns every account ordered by id.
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b ledger.Account) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// DeclareTrust creates or replaces a declaration between two known accounts.
func (s *MemoryStore) DeclareTrust(ctx context.Context, params ledger.DeclareTrustParams) (*ledger.TrustDeclaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range []string{params.Truster, params.Trustee} {
		if _, ok := s.accounts[id]; !ok {
			return nil, fmt.Errorf("declare trust %s->%s: %w", params.Truster, params.Trustee, ledger.ErrAccountNotFound)
		}
	}
	if params.Truster == params.Trustee || params.Limit.IsNegative() {
		return nil, fmt.Errorf("declare trust %s->%s: limit must be non-negative and parties distinct", params.Truster, params.Trustee)
	}

	now := time.Now()
	key := [2]string{params.Truster, params.Trustee}
	d, ok := s.trust[key]
	if !ok {
		d = ledger.TrustDeclaration{Truster: params.Truster, Trustee: params.Trustee, CreatedAt: now}
	}
	d.Limit = params.Limit
	d.UpdatedAt = now
	s.trust[key] = d
	return &d, nil
}

// ListTrustDeclarations returns the declarations where accountID is truster
// or trustee, ordered by truster then trustee.
func (s *MemoryStore) ListTrustDeclarations(ctx context.Context, accountID string) ([]ledger.TrustDeclaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.TrustDeclaration{}
	for _, d := range s.trust {
		if d.Truster == accountID || d.Trustee == accountID {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b ledger.TrustDeclaration) int {
		if c := strings.Compare(a.Truster, b.Truster); c != 0 {
			return c
		}
		return strings.Compare(a.Trustee, b.Trustee)
	})
	return out, nil
}

// ListPaymentsByAccount returns the payments accountID sent or received,
// most recent first.
func (s *MemoryStore) ListPaymentsByAccount(ctx context.Context, accountID string, limit, offset int32) ([]ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []ledger.Payment{}
	for _, p := range s.payments {
		if p.Payer == accountID || p.Recipient == accountID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b ledger.Payment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if int(offset) >= len(out) {
		return []ledger.Payment{}, nil
	}
	out = out[offset:]
	if len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

// Ping reports whether the store is reachable. It fails with LoadErr when
// that is set.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LoadErr
}
