// Package payment orchestrates routed payments over the trust network:
// every operation rebuilds a fresh graph from the ledger, routes on it and
// discards it.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/metrics"
	"github.com/brojonat/ripple/service/routing"
	"github.com/shopspring/decimal"
)

const (
	// DefaultCommitTimeout bounds a settlement commit once it has started.
	DefaultCommitTimeout = 10 * time.Second

	// DefaultNotifyTimeout bounds one notification attempt.
	DefaultNotifyTimeout = 5 * time.Second

	// maxRouteAttempts is how often Pay re-routes when the locked route
	// moved onto accounts it did not hold.
	maxRouteAttempts = 3
)

// Config tunes the orchestrator.
type Config struct {
	Budget        routing.Budget
	CommitTimeout time.Duration
	NotifyTimeout time.Duration
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Budget:        routing.Budget{MaxPaths: 1000, MaxPathLength: 10},
		CommitTimeout: DefaultCommitTimeout,
		NotifyTimeout: DefaultNotifyTimeout,
	}
}

// Orchestrator implements the payment operations.
type Orchestrator struct {
	store    LedgerStore
	accounts AccountDirectory
	notifier Notifier
	locks    *AccountLocks
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	notifyWG sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. notifier and m may be nil.
func NewOrchestrator(store LedgerStore, accounts AccountDirectory, notifier Notifier, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		accounts: accounts,
		notifier: notifier,
		locks:    NewAccountLocks(),
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "payment"),
	}
}

// GetGraphSnapshot returns the full trust graph with a circular layout.
func (o *Orchestrator) GetGraphSnapshot(ctx context.Context) (routing.GraphView, error) {
	g, err := o.buildGraph(ctx, "snapshot", nil)
	if err != nil {
		return routing.GraphView{}, err
	}
	return routing.View(g, true), nil
}

// PreviewRoute runs an unbounded allocation from sender to recipient and
// returns the graph restricted to the accounts on the candidate routes.
// Nothing is written to the ledger.
func (o *Orchestrator) PreviewRoute(ctx context.Context, sender, recipient string) (routing.GraphView, error) {
	g, err := o.buildGraph(ctx, "preview", nil)
	if err != nil {
		return routing.GraphView{}, err
	}
	if err := validateParties(g, sender, recipient); err != nil {
		return routing.GraphView{}, err
	}

	alloc := o.allocate(g, sender, recipient, nil, "preview")

	var ids []string
	for _, p := range alloc.Candidates {
		ids = append(ids, p...)
	}
	if len(ids) == 0 {
		ids = []string{sender, recipient}
	}

	sub, err := o.buildGraph(ctx, "preview", routing.NewAccountFilter(ids...))
	if err != nil {
		return routing.GraphView{}, err
	}
	return routing.View(sub, true), nil
}

// GetMaxSendable reports what an unbounded allocation can deliver from
// sender to recipient, with the transfers it would take. It never reserves.
func (o *Orchestrator) GetMaxSendable(ctx context.Context, sender, recipient string) (*MaxSendable, error) {
	g, err := o.buildGraph(ctx, "max_sendable", nil)
	if err != nil {
		return nil, err
	}
	if err := validateParties(g, sender, recipient); err != nil {
		return nil, err
	}

	alloc := o.allocate(g, sender, recipient, nil, "max_sendable")
	return &MaxSendable{
		Amount:    alloc.Total,
		Transfers: routing.Plan(alloc),
		Paths:     alloc.Paths,
	}, nil
}

// Pay routes and settles one payment. The payment is persisted Pending
// first and ends either Completed with all of its transfers or Failed with
// none. Cancelling ctx before the commit starts fails the payment without
// settlement; once the commit starts it runs to completion.
func (o *Orchestrator) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	start := time.Now()
	logger := o.logger.With("payer", req.Payer, "recipient", req.Recipient, "amount", req.Amount.String())

	p, err := o.Open(ctx, req)
	if err != nil {
		o.metrics.RecordPayment(Outcome(err), time.Since(start).Seconds())
		logger.Debug("payment rejected", "error", err)
		return nil, err
	}
	logger = logger.With("payment_id", p.ID)

	route, transfers, err := o.routeAndSettle(ctx, p)
	if err != nil {
		if ferr := o.Fail(ctx, p.ID, err); ferr != nil {
			logger.Error("failed to mark payment failed", "error", ferr, "cause", err)
		}
		outcome := Outcome(err)
		o.metrics.RecordPayment(outcome, time.Since(start).Seconds())
		if outcome == "ledger" {
			logger.Error("payment failed", "error", err)
		} else {
			logger.Info("payment failed", "outcome", outcome, "error", err)
		}
		return nil, err
	}

	p.Status = ledger.StatusCompleted
	p.UpdatedAt = time.Now()

	o.metrics.RecordPayment("completed", time.Since(start).Seconds())
	logger.Info("payment completed", "transfers", len(transfers), "paths", len(route.Paths))

	o.notifyAsync(p, len(transfers))

	return &PayResult{Payment: p, Transfers: transfers, Paths: route.Paths}, nil
}

// Open validates req and persists it as a Pending payment.
func (o *Orchestrator) Open(ctx context.Context, req PayRequest) (*ledger.Payment, error) {
	if req.Payer == "" {
		return nil, &ValidationError{Field: "payer", Reason: "payer is required"}
	}
	if req.Recipient == "" {
		return nil, &ValidationError{Field: "recipient", Reason: "recipient is required"}
	}
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "amount must be greater than zero"}
	}

	p, err := o.store.CreatePayment(ctx, ledger.CreatePaymentParams{
		Payer:     req.Payer,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Memo:      req.Memo,
	})
	if err != nil {
		return nil, ledgerErr("create payment", err)
	}
	return p, nil
}

// Route plans the settlement of p on a freshly built graph. It returns a
// ValidationError for a self-payment or an unknown party and a
// CapacityError when the network cannot carry p.Amount.
func (o *Orchestrator) Route(ctx context.Context, p *ledger.Payment) (*Route, error) {
	g, err := o.buildGraph(ctx, "pay", nil)
	if err != nil {
		return nil, err
	}
	if err := validateParties(g, p.Payer, p.Recipient); err != nil {
		return nil, err
	}

	requested := p.Amount
	alloc := o.allocate(g, p.Payer, p.Recipient, &requested, "pay")
	if alloc.Total.LessThan(p.Amount) {
		g.Reset()
		unbounded := o.allocate(g, p.Payer, p.Recipient, nil, "max_sendable")
		return nil, &CapacityError{Requested: p.Amount, MaxSendable: unbounded.Total}
	}

	return &Route{
		Total:    alloc.Total,
		Drafts:   routing.Plan(alloc),
		Paths:    alloc.Paths,
		Accounts: alloc.Touched(),
	}, nil
}

// Settle commits drafts for paymentID as one unit. The commit is detached
// from ctx cancellation and bounded by the commit timeout.
func (o *Orchestrator) Settle(ctx context.Context, paymentID string, drafts []ledger.TransferDraft) ([]ledger.SettlementTransfer, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CommitTimeout)
	defer cancel()

	transfers, err := o.store.CommitSettlement(cctx, paymentID, drafts)
	switch {
	case err == nil:
		return transfers, nil
	case errors.Is(err, ledger.ErrCapacityConsumed):
		o.metrics.RecordCommitConflict()
		return nil, fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	case errors.Is(err, ErrPaymentTerminal):
		return nil, fmt.Errorf("commit settlement: %w", err)
	default:
		return nil, ledgerErr("commit settlement", err)
	}
}

// Fail marks paymentID Failed with the reason derived from cause.
func (o *Orchestrator) Fail(ctx context.Context, paymentID string, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CommitTimeout)
	defer cancel()

	err := o.store.FailPayment(cctx, paymentID, failureReason(cause))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPaymentTerminal), errors.Is(err, ledger.ErrPaymentNotFound):
		return fmt.Errorf("fail payment: %w", err)
	default:
		return ledgerErr("fail payment", err)
	}
}

// GetPayment returns the stored payment with its settlement transfers.
func (o *Orchestrator) GetPayment(ctx context.Context, paymentID string) (*ledger.Payment, []ledger.SettlementTransfer, error) {
	p, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ledger.ErrPaymentNotFound) {
			return nil, nil, err
		}
		return nil, nil, ledgerErr("get payment", err)
	}
	transfers, err := o.store.ListSettlementTransfers(ctx, paymentID)
	if err != nil {
		return nil, nil, ledgerErr("list settlement transfers", err)
	}
	return p, transfers, nil
}

// Notify sends the completion event of p to its recipient.
func (o *Orchestrator) Notify(ctx context.Context, p *ledger.Payment, transfers int) error {
	if o.notifier == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.NotifyTimeout)
	defer cancel()

	payerName := o.displayName(ctx, p.Payer)
	event := Event{
		PaymentID:     p.ID,
		Payer:         p.Payer,
		PayerName:     payerName,
		Recipient:     p.Recipient,
		RecipientName: o.displayName(ctx, p.Recipient),
		Amount:        p.Amount,
		Memo:          p.Memo,
		Transfers:     transfers,
		Message:       NotificationText(payerName, p.Amount),
		CompletedAt:   p.UpdatedAt,
	}

	err := o.notifier.NotifyPayment(ctx, event)
	if err != nil {
		o.metrics.RecordNotification("error")
		return fmt.Errorf("notify recipient: %w", err)
	}
	o.metrics.RecordNotification("success")
	return nil
}

// Wait blocks until every notification started by Pay has finished.
func (o *Orchestrator) Wait() {
	o.notifyWG.Wait()
}

// routeAndSettle holds the account locks of the chosen route from the
// allocation that is committed through the end of the commit. The first
// routing pass only discovers which accounts to lock.
func (o *Orchestrator) routeAndSettle(ctx context.Context, p *ledger.Payment) (*Route, []ledger.SettlementTransfer, error) {
	first, err := o.Route(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	lockSet := first.Accounts

	for attempt := 1; attempt <= maxRouteAttempts; attempt++ {
		release, err := o.locks.Acquire(ctx, lockSet)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire account locks: %w", err)
		}

		route, err := o.Route(ctx, p)
		if err != nil {
			release()
			return nil, nil, err
		}

		if !subset(route.Accounts, lockSet) {
			release()
			lockSet = union(lockSet, route.Accounts)
			o.logger.Debug("route moved while locking, retrying", "payment_id", p.ID, "attempt", attempt)
			continue
		}

		if err := ctx.Err(); err != nil {
			release()
			return nil, nil, err
		}

		transfers, err := o.Settle(ctx, p.ID, route.Drafts)
		release()
		if err != nil {
			return nil, nil, err
		}
		return route, transfers, nil
	}

	return nil, nil, fmt.Errorf("%w: route kept changing while locking", ErrConcurrencyConflict)
}

func (o *Orchestrator) notifyAsync(p *ledger.Payment, transfers int) {
	if o.notifier == nil {
		return
	}
	o.notifyWG.Add(1)
	go func() {
		defer o.notifyWG.Done()
		if err := o.Notify(context.Background(), p, transfers); err != nil {
			o.logger.Warn("notification failed", "payment_id", p.ID, "recipient", p.Recipient, "error", err)
		}
	}()
}

func (o *Orchestrator) buildGraph(ctx context.Context, operation string, filter routing.AccountFilter) (*routing.Graph, error) {
	snap, err := o.store.LoadSnapshot(ctx, filter.IDs())
	if err != nil {
		return nil, ledgerErr("load snapshot", err)
	}
	g := routing.Build(snap, filter)
	o.metrics.RecordGraphBuild(operation, g.NodeCount(), g.EdgeCount())
	return g, nil
}

func (o *Orchestrator) allocate(g *routing.Graph, sender, recipient string, requested *decimal.Decimal, operation string) *routing.Allocation {
	paths := routing.NewEnumerator(o.cfg.Budget).Paths(g, sender, recipient)
	alloc := routing.Allocate(g, paths, requested)
	total, _ := alloc.Total.Float64()
	o.metrics.RecordAllocation(operation, alloc.Examined, total)
	return alloc
}

func (o *Orchestrator) displayName(ctx context.Context, id string) string {
	if o.accounts == nil {
		return id
	}
	acc, err := o.accounts.GetAccount(ctx, id)
	if err != nil || acc.DisplayName == "" {
		return id
	}
	return acc.DisplayName
}

func validateParties(g *routing.Graph, sender, recipient string) error {
	if sender == recipient {
		return &ValidationError{Field: "recipient", Reason: "you cannot send to yourself"}
	}
	if !g.HasNode(recipient) {
		return &ValidationError{Field: "recipient", Reason: "this recipient has no account"}
	}
	if !g.HasNode(sender) {
		return &ValidationError{Field: "payer", Reason: "this payer has no account"}
	}
	return nil
}

func subset(ids, of []string) bool {
	for _, id := range ids {
		if !slices.Contains(of, id) {
			return false
		}
	}
	return true
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
