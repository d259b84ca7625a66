package db

import (
	"context"
	"hash/fnv"
	"slices"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/jackc/pgx/v5"
)

// LoadSnapshot reads accounts, trust declarations and the transfers of
// completed payments in one REPEATABLE READ transaction. A non-empty filter
// keeps accounts in filter and records whose endpoints are both in filter.
func (s *Store) LoadSnapshot(ctx context.Context, filter []string) (snap ledger.Snapshot, err error) {
	defer func(start time.Time) { s.observe("snapshot", "ledger", start, err) }(time.Now())

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return ledger.Snapshot{}, unavailable("begin snapshot", err)
	}
	defer tx.Rollback(ctx)

	snap, err = loadSnapshot(ctx, tx, filter)
	if err != nil {
		return ledger.Snapshot{}, unavailable("load snapshot", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Snapshot{}, unavailable("commit snapshot", err)
	}
	return snap, nil
}

func loadSnapshot(ctx context.Context, q querier, filter []string) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	var err error

	if snap.Accounts, err = queryAccounts(ctx, q, filter); err != nil {
		return snap, err
	}

	filtered, ids := len(filter) > 0, nonNil(filter)

	rows, err := q.Query(ctx, `
		SELECT truster, trustee, credit_limit::text, created_at, updated_at
		FROM trust_declarations
		WHERE NOT $1::bool OR (truster = ANY($2::text[]) AND trustee = ANY($2::text[]))
		ORDER BY truster, trustee`,
		filtered, ids,
	)
	if err != nil {
		return snap, err
	}
	if snap.Declarations, err = pgx.CollectRows(rows, scanDeclaration); err != nil {
		return snap, err
	}

	rows, err = q.Query(ctx, `
		SELECT t.payer, t.recipient, t.amount::text
		FROM settlement_transfers t
		JOIN payments p ON p.id = t.payment_id
		WHERE p.status = 'Completed'
		  AND (NOT $1::bool OR (t.payer = ANY($2::text[]) AND t.recipient = ANY($2::text[])))`,
		filtered, ids,
	)
	if err != nil {
		return snap, err
	}
	snap.Settlements, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Settlement, error) {
		var st ledger.Settlement
		var amount string
		if err := row.Scan(&st.Payer, &st.Recipient, &amount); err != nil {
			return st, err
		}
		var err error
		st.Amount, err = parseDecimal(amount)
		return st, err
	})
	return snap, err
}

// lockAccounts takes a transaction-scoped advisory lock per account. Keys
// are sorted and deduplicated so concurrent transactions always lock in the
// same order.
func lockAccounts(ctx context.Context, tx pgx.Tx, ids []string) error {
	keys := make([]int64, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, advisoryKey(id))
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for _, k := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, k); err != nil {
			return err
		}
	}
	return nil
}

func advisoryKey(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte("account:" + id))
	return int64(h.Sum64())
}
