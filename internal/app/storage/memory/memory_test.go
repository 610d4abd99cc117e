package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aliceKeys = storage.Keys{Config: "cfg-alice", Vault: "vault-alice"}

func seedAccount(t *testing.T, s *Store) {
	t.Helper()
	acct, err := ledger.InitializeUser(nil, "alice", 10, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.Update(context.Background(), func(tx storage.Tx) error {
		return tx.CreateAccount(context.Background(), aliceKeys, acct)
	}))
}

func TestStore_AccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.View(ctx, func(tx storage.Tx) error {
		_, err := tx.GetAccount(ctx, aliceKeys)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	seedAccount(t, s)

	err = s.Update(ctx, func(tx storage.Tx) error {
		acct, err := ledger.InitializeUser(nil, "alice", 10, 0, 0)
		require.NoError(t, err)
		return tx.CreateAccount(ctx, aliceKeys, acct)
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		acct, err := tx.GetAccount(ctx, aliceKeys)
		if err != nil {
			return err
		}
		acct.Vault.Balance = 42
		return tx.SaveAccount(ctx, aliceKeys, acct)
	}))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		acct, err := tx.GetAccount(ctx, aliceKeys)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), acct.Vault.Balance)
		return nil
	}))
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAccount(t, s)

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx storage.Tx) error {
		acct, err := tx.GetAccount(ctx, aliceKeys)
		require.NoError(t, err)
		acct.Vault.Balance = 99
		require.NoError(t, tx.SaveAccount(ctx, aliceKeys, acct))
		require.NoError(t, tx.AppendActivity(ctx, storage.Activity{ID: "1", Owner: "alice"}))

		// staged write is visible inside the transaction
		staged, err := tx.GetAccount(ctx, aliceKeys)
		require.NoError(t, err)
		assert.Equal(t, uint64(99), staged.Vault.Balance)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		acct, err := tx.GetAccount(ctx, aliceKeys)
		require.NoError(t, err)
		assert.Zero(t, acct.Vault.Balance)
		acts, err := tx.ListActivity(ctx, "alice", 0)
		require.NoError(t, err)
		assert.Empty(t, acts)
		return nil
	}))
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.View(ctx, func(tx storage.Tx) error {
		return tx.CreateTreasury(ctx, storage.Keys{Config: "t", Vault: "tv"}, ledger.Treasury{})
	})
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestStore_SaveMissing(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveAllocationConfig(ctx, "missing", ledger.AllocationConfig{})
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_AllocationsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	cfg := ledger.AllocationConfig{
		Owner:            "alice",
		Allocations:      []ledger.Allocation{{Name: "rent", Percentage: 50, IsActive: true}},
		TotalAllocations: 1,
	}
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateAllocationConfig(ctx, "alloc-alice", cfg)
	}))
	cfg.Allocations[0].Name = "mutated"

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		got, err := tx.GetAllocationConfig(ctx, "alloc-alice")
		require.NoError(t, err)
		assert.Equal(t, "rent", got.Allocations[0].Name)
		return nil
	}))
}

func TestStore_ListActivityNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		for i, op := range []string{"deposit", "withdraw", "process_transfer"} {
			err := tx.AppendActivity(ctx, storage.Activity{
				ID:        op,
				Owner:     "alice",
				Operation: op,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
		}
		return tx.AppendActivity(ctx, storage.Activity{ID: "other", Owner: "bob", CreatedAt: base})
	}))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		acts, err := tx.ListActivity(ctx, "alice", 2)
		require.NoError(t, err)
		require.Len(t, acts, 2)
		assert.Equal(t, "process_transfer", acts[0].Operation)
		assert.Equal(t, "withdraw", acts[1].Operation)
		return nil
	}))
}

func TestStore_ConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAccount(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, func(tx storage.Tx) error {
				acct, err := tx.GetAccount(ctx, aliceKeys)
				if err != nil {
					return err
				}
				acct.Vault.Balance++
				return tx.SaveAccount(ctx, aliceKeys, acct)
			})
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		acct, err := tx.GetAccount(ctx, aliceKeys)
		require.NoError(t, err)
		assert.Equal(t, uint64(50), acct.Vault.Balance)
		return nil
	}))
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New().Update(ctx, func(storage.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
