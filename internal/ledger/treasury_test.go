package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeTreasury(t *testing.T) {
	tr := newTreasury(t)
	assert.Equal(t, "admin", tr.Config.Authority)
	assert.False(t, tr.Config.IsPaused)
	assert.Equal(t, DefaultTvlCap, tr.Config.TvlCap)
	assert.Zero(t, tr.Config.TotalTvl)
	assert.Zero(t, tr.Vault.Balance)

	_, err := InitializeTreasury(&tr.Config, "admin", DefaultTvlCap, 0, 0)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	_, err = InitializeTreasury(nil, "", DefaultTvlCap, 0, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCollectFee(t *testing.T) {
	tr := newTreasury(t)

	next, err := tr.CollectFee(4, 996)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.Vault.Balance)
	assert.Equal(t, uint64(4), next.Config.TotalFeesCollected)
	assert.Equal(t, uint64(996), next.Config.TotalTvl)

	full := tr
	full.Config.TvlCap = math.MaxUint64
	full.Config.TotalTvl = math.MaxUint64 - 1
	_, err = full.CollectFee(0, 2)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestReleaseTvl(t *testing.T) {
	tr := newTreasury(t)
	tr.Config.TotalTvl = 100

	assert.Equal(t, uint64(40), tr.ReleaseTvl(60).Config.TotalTvl)
	assert.Zero(t, tr.ReleaseTvl(500).Config.TotalTvl)
	assert.Equal(t, uint64(100), tr.Config.TotalTvl)
}

func TestTreasuryWithdraw(t *testing.T) {
	tr := newTreasury(t)
	tr.Vault.Balance = 1_000

	tests := []struct {
		name    string
		caller  string
		amount  uint64
		wantErr error
	}{
		{"not authority", "alice", 10, ErrUnauthorized},
		{"zero", "admin", 0, ErrInvalidAmount},
		{"too much", "admin", 1_001, ErrInsufficientFunds},
		{"all", "admin", 1_000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, receipt, err := tr.Withdraw(tt.caller, tt.amount)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Zero(t, next.Vault.Balance)
			assert.Equal(t, OpWithdrawTreasury, receipt.Operation)
		})
	}
	assert.Equal(t, uint64(1_000), tr.Vault.Balance)
}

func TestSetPausedAndCap(t *testing.T) {
	tr := newTreasury(t)

	_, err := tr.SetPaused("alice", true)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = tr.SetTvlCap("alice", 1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	paused, err := tr.SetPaused("admin", true)
	require.NoError(t, err)
	assert.True(t, paused.Config.IsPaused)

	_, err = paused.CollectFee(1, 1)
	assert.ErrorIs(t, err, ErrPaused)
	assert.Equal(t, KindState, KindOf(err))

	zeroCap, err := tr.SetTvlCap("admin", 0)
	require.NoError(t, err)
	assert.Zero(t, zeroCap.Config.TvlCap)
}

func TestWithdraw_WhilePaused(t *testing.T) {
	a := newAccount(t, "alice", 10)
	tr := newTreasury(t)

	a, tr, _, err := Deposit(a, tr, "alice", 1_000)
	require.NoError(t, err)
	tr, err = tr.SetPaused("admin", true)
	require.NoError(t, err)

	a, receipt, err := a.Withdraw("alice", 996)
	require.NoError(t, err)
	tr = tr.ReleaseTvl(receipt.Amount)
	assert.Zero(t, a.Vault.Balance)
	assert.Zero(t, tr.Config.TotalTvl)
}

func TestKindOfForeignError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Empty(t, CodeOf(err))
	assert.Equal(t, "validation", KindValidation.String())
}
