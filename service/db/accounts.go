package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/jackc/pgx/v5"
)

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, params ledger.CreateAccountParams) (acc *ledger.Account, err error) {
	defer func(start time.Time) { s.observe("insert", "accounts", start, err) }(time.Now())

	var a ledger.Account
	err = s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, display_name)
		VALUES ($1, $2)
		RETURNING id, display_name, created_at`,
		params.ID, params.DisplayName,
	).Scan(&a.ID, &a.DisplayName, &a.CreatedAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return nil, fmt.Errorf("account %s: %w", params.ID, ledger.ErrAccountExists)
		}
		return nil, unavailable("create account", err)
	}
	return &a, nil
}

// GetAccount retrieves an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (acc *ledger.Account, err error) {
	defer func(start time.Time) { s.observe("select", "accounts", start, err) }(time.Now())

	var a ledger.Account
	err = s.pool.QueryRow(ctx, `
		SELECT id, display_name, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.DisplayName, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, ledger.ErrAccountNotFound)
		}
		return nil, unavailable("get account", err)
	}
	return &a, nil
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) (accs []ledger.Account, err error) {
	defer func(start time.Time) { s.observe("select", "accounts", start, err) }(time.Now())

	accs, err = queryAccounts(ctx, s.pool, nil)
	if err != nil {
		return nil, unavailable("list accounts", err)
	}
	return accs, nil
}

// queryAccounts reads accounts, restricted to filter when it is non-empty.
func queryAccounts(ctx context.Context, q querier, filter []string) ([]ledger.Account, error) {
	rows, err := q.Query(ctx, `
		SELECT id, display_name, created_at
		FROM accounts
		WHERE NOT $1::bool OR id = ANY($2::text[])
		ORDER BY id`,
		len(filter) > 0, nonNil(filter),
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Account, error) {
		var a ledger.Account
		err := row.Scan(&a.ID, &a.DisplayName, &a.CreatedAt)
		return a, err
	})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
