package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/routing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id::text, payer, recipient, amount::text, memo, status, failure_reason, created_at, updated_at`

// CreatePayment inserts a Pending payment.
func (s *Store) CreatePayment(ctx context.Context, params ledger.CreatePaymentParams) (p *ledger.Payment, err error) {
	defer func(start time.Time) { s.observe("insert", "payments", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		INSERT INTO payments (id, payer, recipient, amount, memo, status)
		VALUES ($1::uuid, $2, $3, $4::numeric, $5, 'Pending')
		RETURNING `+paymentColumns,
		uuid.NewString(), params.Payer, params.Recipient, params.Amount.String(), params.Memo,
	)
	p, err = scanPayment(row)
	if err != nil {
		return nil, unavailable("create payment", err)
	}
	return p, nil
}

// GetPayment retrieves a payment by id.
func (s *Store) GetPayment(ctx context.Context, paymentID string) (p *ledger.Payment, err error) {
	defer func(start time.Time) { s.observe("select", "payments", start, err) }(time.Now())

	if _, perr := uuid.Parse(paymentID); perr != nil {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
	}

	p, err = scanPayment(s.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE id = $1::uuid`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
		}
		return nil, unavailable("get payment", err)
	}
	return p, nil
}

// ListPaymentsByAccount returns the payments an account sent or received,
// most recent first.
func (s *Store) ListPaymentsByAccount(ctx context.Context, accountID string, limit, offset int32) (ps []ledger.Payment, err error) {
	defer func(start time.Time) { s.observe("select", "payments", start, err) }(time.Now())

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE payer = $1 OR recipient = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, unavailable("list payments", err)
	}
	ps, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Payment, error) {
		p, err := scanPayment(row)
		if err != nil {
			return ledger.Payment{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, unavailable("list payments", err)
	}
	return ps, nil
}

// FailPayment moves a Pending payment to Failed.
func (s *Store) FailPayment(ctx context.Context, paymentID, reason string) (err error) {
	defer func(start time.Time) { s.observe("update", "payments", start, err) }(time.Now())

	if _, perr := uuid.Parse(paymentID); perr != nil {
		return fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
	}

	var status string
	err = s.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT id, status FROM payments WHERE id = $1::uuid
		), updated AS (
			UPDATE payments p
			SET status = 'Failed', failure_reason = $2, updated_at = now()
			FROM target
			WHERE p.id = target.id AND target.status = 'Pending'
			RETURNING p.id
		)
		SELECT CASE WHEN EXISTS (SELECT 1 FROM updated) THEN 'Failed' ELSE target.status END
		FROM target`,
		paymentID, reason,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
		}
		return unavailable("fail payment", err)
	}
	if status != string(ledger.StatusFailed) {
		return fmt.Errorf("payment %s is %s: %w", paymentID, status, ledger.ErrPaymentTerminal)
	}
	return nil
}

// ListSettlementTransfers returns the transfers of a payment in the order
// they were planned.
func (s *Store) ListSettlementTransfers(ctx context.Context, paymentID string) (ts []ledger.SettlementTransfer, err error) {
	defer func(start time.Time) { s.observe("select", "settlement_transfers", start, err) }(time.Now())

	if _, perr := uuid.Parse(paymentID); perr != nil {
		return nil, nil
	}
	ts, err = queryTransfers(ctx, s.pool, paymentID)
	if err != nil {
		return nil, unavailable("list settlement transfers", err)
	}
	return ts, nil
}

// CommitSettlement writes every draft and marks the payment Completed in one
// transaction. Advisory locks on the touched accounts serialise it with
// other commits and trust updates on those accounts; under the locks the
// drafts are re-verified against capacities rebuilt from the ledger, and
// ledger.ErrCapacityConsumed is returned when one no longer fits. A payment
// that is already Completed returns its stored transfers unchanged.
func (s *Store) CommitSettlement(ctx context.Context, paymentID string, drafts []ledger.TransferDraft) (ts []ledger.SettlementTransfer, err error) {
	defer func(start time.Time) { s.observe("commit", "settlement_transfers", start, err) }(time.Now())

	if _, perr := uuid.Parse(paymentID); perr != nil {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin settlement", err)
	}
	defer tx.Rollback(ctx)

	touched := make([]string, 0, 2*len(drafts))
	for _, d := range drafts {
		touched = append(touched, d.Payer, d.Recipient)
	}
	if err := lockAccounts(ctx, tx, touched); err != nil {
		return nil, unavailable("lock accounts", err)
	}

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1::uuid FOR UPDATE`, paymentID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentNotFound)
		}
		return nil, unavailable("lock payment", err)
	}
	switch ledger.PaymentStatus(status) {
	case ledger.StatusCompleted:
		ts, err = queryTransfers(ctx, tx, paymentID)
		if err != nil {
			return nil, unavailable("list settlement transfers", err)
		}
		return ts, nil
	case ledger.StatusFailed:
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrPaymentTerminal)
	}

	snap, err := loadSnapshot(ctx, tx, touched)
	if err != nil {
		return nil, unavailable("verify capacity", err)
	}
	g := routing.Build(snap, routing.NewAccountFilter(touched...))
	if d, ok := routing.Covers(g, drafts); !ok {
		return nil, fmt.Errorf("%s->%s needs %s, has %s: %w",
			d.Payer, d.Recipient, d.Amount, g.Capacity(d.Payer, d.Recipient), ledger.ErrCapacityConsumed)
	}

	batch := &pgx.Batch{}
	for i, d := range drafts {
		batch.Queue(`
			INSERT INTO settlement_transfers (id, payment_id, position, payer, recipient, amount)
			VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6::numeric)`,
			uuid.NewString(), paymentID, i, d.Payer, d.Recipient, d.Amount.String())
	}
	batch.Queue(`UPDATE payments SET status = 'Completed', updated_at = now() WHERE id = $1::uuid`, paymentID)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, unavailable("write settlement", err)
	}

	ts, err = queryTransfers(ctx, tx, paymentID)
	if err != nil {
		return nil, unavailable("list settlement transfers", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit settlement", err)
	}
	return ts, nil
}

func queryTransfers(ctx context.Context, q querier, paymentID string) ([]ledger.SettlementTransfer, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, payment_id::text, payer, recipient, amount::text, created_at
		FROM settlement_transfers
		WHERE payment_id = $1::uuid
		ORDER BY position`, paymentID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.SettlementTransfer, error) {
		var t ledger.SettlementTransfer
		var amount string
		if err := row.Scan(&t.ID, &t.PaymentID, &t.Payer, &t.Recipient, &amount, &t.CreatedAt); err != nil {
			return t, err
		}
		var err error
		t.Amount, err = parseDecimal(amount)
		return t, err
	})
}

func scanPayment(row pgx.Row) (*ledger.Payment, error) {
	var p ledger.Payment
	var amount, status string
	if err := row.Scan(&p.ID, &p.Payer, &p.Recipient, &amount, &p.Memo, &status, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	p.Status = ledger.PaymentStatus(status)
	return &p, nil
}
