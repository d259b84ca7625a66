package db

import (
	"context"
	"sync"
	"testing"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/routing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedChain creates A, B, C with B trusting A for 10 and C trusting B for 5.
func seedChain(t *testing.T, store *TestStore) {
	t.Helper()
	store.SeedAccounts(t, "A", "B", "C")
	store.SeedTrust(t, "B", "A", "10")
	store.SeedTrust(t, "C", "B", "5")
}

func TestAccounts(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		acc, err := store.CreateAccount(ctx, ledger.CreateAccountParams{ID: "alice", DisplayName: "Alice"})
		require.NoError(t, err)
		assert.Equal(t, "alice", acc.ID)
		assert.Equal(t, "Alice", acc.DisplayName)
		assert.False(t, acc.CreatedAt.IsZero())

		got, err := store.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, acc.DisplayName, got.DisplayName)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := store.CreateAccount(ctx, ledger.CreateAccountParams{ID: "alice"})
		assert.ErrorIs(t, err, ledger.ErrAccountExists)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetAccount(ctx, "nobody")
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
		assert.NotErrorIs(t, err, ledger.ErrLedgerUnavailable)
	})

	t.Run("list", func(t *testing.T) {
		_, err := store.CreateAccount(ctx, ledger.CreateAccountParams{ID: "bob"})
		require.NoError(t, err)
		accs, err := store.ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accs, 2)
		assert.Equal(t, "alice", accs[0].ID)
		assert.Equal(t, "bob", accs[1].ID)
	})
}

func TestDeclareTrust(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	seedChain(t, store)

	t.Run("upsert replaces limit", func(t *testing.T) {
		d, err := store.DeclareTrust(ctx, ledger.DeclareTrustParams{Truster: "B", Trustee: "A", Limit: dec("12.5")})
		require.NoError(t, err)
		assert.True(t, dec("12.5").Equal(d.Limit))

		decls, err := store.ListTrustDeclarations(ctx, "B")
		require.NoError(t, err)
		require.Len(t, decls, 2)
		assert.Equal(t, "B", decls[0].Truster)
		assert.True(t, dec("12.5").Equal(decls[0].Limit))
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := store.DeclareTrust(ctx, ledger.DeclareTrustParams{Truster: "B", Trustee: "nobody", Limit: dec("1")})
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	})

	t.Run("negative limit rejected", func(t *testing.T) {
		_, err := store.DeclareTrust(ctx, ledger.DeclareTrustParams{Truster: "B", Trustee: "C", Limit: dec("-1")})
		assert.Error(t, err)
	})
}

func TestPaymentLifecycle(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	seedChain(t, store)

	p, err := store.CreatePayment(ctx, ledger.CreatePaymentParams{Payer: "A", Recipient: "C", Amount: dec("5"), Memo: "rent"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, p.Status)
	assert.True(t, dec("5").Equal(p.Amount))

	drafts := []ledger.TransferDraft{
		{Payer: "A", Recipient: "B", Amount: dec("5")},
		{Payer: "B", Recipient: "C", Amount: dec("5")},
	}
	transfers, err := store.CommitSettlement(ctx, p.ID, drafts)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, "A", transfers[0].Payer)
	assert.Equal(t, "C", transfers[1].Recipient)

	got, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)

	t.Run("replayed commit is a no-op", func(t *testing.T) {
		again, err := store.CommitSettlement(ctx, p.ID, drafts)
		require.NoError(t, err)
		assert.Len(t, again, 2)
		listed, err := store.ListSettlementTransfers(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, listed, 2)
	})

	t.Run("completed payment cannot fail", func(t *testing.T) {
		err := store.FailPayment(ctx, p.ID, "late")
		assert.ErrorIs(t, err, ledger.ErrPaymentTerminal)
	})

	t.Run("snapshot reflects settlement", func(t *testing.T) {
		snap, err := store.LoadSnapshot(ctx, nil)
		require.NoError(t, err)
		g := routing.Build(snap, nil)
		assert.True(t, dec("5").Equal(g.Capacity("A", "B")))
		assert.True(t, dec("5").Equal(g.Capacity("B", "A")))
		assert.True(t, g.Capacity("B", "C").IsZero())
	})

	t.Run("history", func(t *testing.T) {
		ps, err := store.ListPaymentsByAccount(ctx, "C", 10, 0)
		require.NoError(t, err)
		require.Len(t, ps, 1)
		assert.Equal(t, p.ID, ps[0].ID)
	})
}

func TestCommitSettlement_CapacityConsumed(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	seedChain(t, store)

	p, err := store.CreatePayment(ctx, ledger.CreatePaymentParams{Payer: "A", Recipient: "C", Amount: dec("6")})
	require.NoError(t, err)

	_, err = store.CommitSettlement(ctx, p.ID, []ledger.TransferDraft{
		{Payer: "A", Recipient: "B", Amount: dec("6")},
		{Payer: "B", Recipient: "C", Amount: dec("6")},
	})
	require.ErrorIs(t, err, ledger.ErrCapacityConsumed)

	transfers, err := store.ListSettlementTransfers(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, transfers)

	got, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, got.Status)

	require.NoError(t, store.FailPayment(ctx, p.ID, "conflict"))
	_, err = store.CommitSettlement(ctx, p.ID, nil)
	assert.ErrorIs(t, err, ledger.ErrPaymentTerminal)
}

func TestCommitSettlement_ConcurrentCommitsNeverOverdraw(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	seedChain(t, store)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		p, err := store.CreatePayment(ctx, ledger.CreatePaymentParams{Payer: "A", Recipient: "C", Amount: dec("2")})
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = store.CommitSettlement(ctx, id, []ledger.TransferDraft{
				{Payer: "A", Recipient: "B", Amount: dec("2")},
				{Payer: "B", Recipient: "C", Amount: dec("2")},
			})
		}(i, p.ID)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ledger.ErrCapacityConsumed)
	}
	assert.Equal(t, 2, ok)
}

func TestLoadSnapshot_Filter(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	seedChain(t, store)

	snap, err := store.LoadSnapshot(ctx, []string{"A", "B"})
	require.NoError(t, err)
	assert.Len(t, snap.Accounts, 2)
	require.Len(t, snap.Declarations, 1)
	assert.Equal(t, "B", snap.Declarations[0].Truster)
}

func TestGetPayment_InvalidID(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	_, err := store.GetPayment(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestAdvisoryKey(t *testing.T) {
	assert.Equal(t, advisoryKey("alice"), advisoryKey("alice"))
	assert.NotEqual(t, advisoryKey("alice"), advisoryKey("bob"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "00001_init.sql", entries[0].Name())
}
