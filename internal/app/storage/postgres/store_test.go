package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/ledger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	aliceKeys    = storage.Keys{Config: "cfg-alice", Vault: "vault-alice"}
	activityTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetAccountLocksRows(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM user_configs WHERE id = \$1 FOR UPDATE`).
		WithArgs("cfg-alice").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner", "savings_rate", "total_saved", "total_withdrawn", "transaction_count", "is_active", "bump", "vault_bump",
		}).AddRow("cfg-alice", "alice", int64(10), "18446744073709551615", "5", "2", true, int64(1), int64(254)))
	mock.ExpectQuery(`SELECT (.+) FROM vaults WHERE id = \$1 FOR UPDATE`).
		WithArgs("vault-alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "balance"}).AddRow("vault-alice", "alice", "996000000"))
	mock.ExpectCommit()

	var got ledger.Account
	err := store.Update(ctx, func(tx storage.Tx) error {
		var err error
		got, err = tx.GetAccount(ctx, aliceKeys)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), got.Config.TotalSaved)
	assert.Equal(t, uint8(10), got.Config.SavingsRate)
	assert.Equal(t, uint8(254), got.Config.VaultBump)
	assert.Equal(t, uint64(996_000_000), got.Vault.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViewDoesNotLock(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM treasury_configs WHERE id = \$1$`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "authority", "is_paused", "total_tvl", "tvl_cap", "total_fees_collected", "bump", "vault_bump",
		}).AddRow("t", "admin", false, "100", "10000000000", "4", int64(0), int64(0)))
	mock.ExpectQuery(`FROM treasury_vaults WHERE id = \$1$`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("tv", "4"))
	mock.ExpectRollback()

	err := store.View(ctx, func(tx storage.Tx) error {
		tr, err := tx.GetTreasury(ctx, storage.Keys{Config: "t", Vault: "tv"})
		require.NoError(t, err)
		assert.Equal(t, uint64(10_000_000_000), tr.Config.TvlCap)
		assert.Equal(t, uint64(4), tr.Vault.Balance)

		return tx.SaveTreasury(ctx, storage.Keys{Config: "t", Vault: "tv"}, tr)
	})
	assert.ErrorIs(t, err, storage.ErrReadOnly)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM allocation_configs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "allocations", "total_allocations", "bump"}))
	mock.ExpectRollback()

	err := store.Update(ctx, func(tx storage.Tx) error {
		_, err := tx.GetAllocationConfig(ctx, "alloc-alice")
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountConflict(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_configs`).
		WillReturnError(&pq.Error{Code: uniqueViolation, Message: "duplicate key"})
	mock.ExpectRollback()

	acct, err := ledger.InitializeUser(nil, "alice", 10, 0, 0)
	require.NoError(t, err)
	err = store.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateAccount(ctx, aliceKeys, acct)
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAccountWritesDecimalStrings(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_configs`).
		WithArgs(int16(10), "18446744073709551615", "0", "3", true, "cfg-alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE vaults`).
		WithArgs("42", "vault-alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acct := ledger.Account{
		Config: ledger.UserConfig{Owner: "alice", SavingsRate: 10, TotalSaved: 18446744073709551615, TransactionCount: 3, IsActive: true},
		Vault:  ledger.Vault{Owner: "alice", Balance: 42},
	}
	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveAccount(ctx, aliceKeys, acct)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE allocation_configs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveAllocationConfig(ctx, "alloc-alice", ledger.AllocationConfig{Owner: "alice"})
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationsRoundTripAsJSON(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM allocation_configs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "allocations", "total_allocations", "bump"}).
			AddRow("alloc-alice", "alice",
				[]byte(`[{"name":"rent","percentage":60,"is_active":true,"total_saved":10,"total_withdrawn":0},{"name":"old","percentage":0,"is_active":false,"total_saved":0,"total_withdrawn":0}]`),
				int64(2), int64(0)))
	mock.ExpectCommit()

	err := store.View(ctx, func(tx storage.Tx) error {
		cfg, err := tx.GetAllocationConfig(ctx, "alloc-alice")
		require.NoError(t, err)
		require.Len(t, cfg.Allocations, 2)
		assert.Equal(t, "rent", cfg.Allocations[0].Name)
		assert.Equal(t, uint64(10), cfg.Allocations[0].TotalSaved)
		assert.False(t, cfg.Allocations[1].IsActive)
		assert.NoError(t, cfg.Validate())
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRollsBackOnCallbackError(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ledger_activity`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.AppendActivity(ctx, storage.Activity{ID: "00000000-0000-0000-0000-000000000001", Owner: "alice", Operation: ledger.OpDeposit}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActivityLimit(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM ledger_activity WHERE owner = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("alice", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "operation", "amount", "fee", "net", "idx", "created_at"}).
			AddRow("a1", "alice", ledger.OpDeposit, "1000", "4", "996", int64(0), activityTime))
	mock.ExpectCommit()

	err := store.View(ctx, func(tx storage.Tx) error {
		acts, err := tx.ListActivity(ctx, "alice", 1)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, uint64(996), acts[0].Net)
		assert.Equal(t, uint64(4), acts[0].Fee)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()
	keys := storage.Keys{Config: "it-cfg-" + t.Name(), Vault: "it-vault-" + t.Name()}

	acct, err := ledger.InitializeUser(nil, "it-"+t.Name(), 10, 0, 0)
	if err != nil {
		t.Fatalf("init user: %v", err)
	}
	err = store.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateAccount(ctx, keys, acct)
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("create account: %v", err)
	}
}
