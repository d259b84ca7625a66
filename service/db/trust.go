package db

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/jackc/pgx/v5"
)

// DeclareTrust creates or replaces the declaration of truster for trustee.
// It takes the same account locks as CommitSettlement, so a commit never
// verifies against a limit that changes before it finishes.
func (s *Store) DeclareTrust(ctx context.Context, params ledger.DeclareTrustParams) (decl *ledger.TrustDeclaration, err error) {
	defer func(start time.Time) { s.observe("upsert", "trust_declarations", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin declare trust", err)
	}
	defer tx.Rollback(ctx)

	if err := lockAccounts(ctx, tx, []string{params.Truster, params.Trustee}); err != nil {
		return nil, unavailable("lock accounts", err)
	}

	var d ledger.TrustDeclaration
	var limit string
	err = tx.QueryRow(ctx, `
		INSERT INTO trust_declarations (truster, trustee, credit_limit)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (truster, trustee)
		DO UPDATE SET credit_limit = EXCLUDED.credit_limit, updated_at = now()
		RETURNING truster, trustee, credit_limit::text, created_at, updated_at`,
		params.Truster, params.Trustee, params.Limit.String(),
	).Scan(&d.Truster, &d.Trustee, &limit, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		switch pgCode(err) {
		case codeForeignKeyViolation:
			return nil, fmt.Errorf("declare trust %s->%s: %w", params.Truster, params.Trustee, ledger.ErrAccountNotFound)
		case codeCheckViolation:
			return nil, fmt.Errorf("declare trust %s->%s: limit must be non-negative and parties distinct: %w", params.Truster, params.Trustee, err)
		}
		return nil, unavailable("declare trust", err)
	}
	if d.Limit, err = parseDecimal(limit); err != nil {
		return nil, unavailable("declare trust", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit declare trust", err)
	}
	return &d, nil
}

// ListTrustDeclarations returns the declarations where accountID is
// truster or trustee.
func (s *Store) ListTrustDeclarations(ctx context.Context, accountID string) (decls []ledger.TrustDeclaration, err error) {
	defer func(start time.Time) { s.observe("select", "trust_declarations", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT truster, trustee, credit_limit::text, created_at, updated_at
		FROM trust_declarations
		WHERE truster = $1 OR trustee = $1
		ORDER BY truster, trustee`, accountID)
	if err != nil {
		return nil, unavailable("list trust declarations", err)
	}
	decls, err = pgx.CollectRows(rows, scanDeclaration)
	if err != nil {
		return nil, unavailable("list trust declarations", err)
	}
	return decls, nil
}

func scanDeclaration(row pgx.CollectableRow) (ledger.TrustDeclaration, error) {
	var d ledger.TrustDeclaration
	var limit string
	if err := row.Scan(&d.Truster, &d.Trustee, &limit, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	var err error
	d.Limit, err = parseDecimal(limit)
	return d, err
}
