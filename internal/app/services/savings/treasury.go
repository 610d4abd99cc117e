package savings

import (
	"context"
	"errors"

	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/ledger"
)

// InitializeTreasury creates the treasury singleton with the caller as
// authority and the configured default TVL cap.
func (s *Service) InitializeTreasury(ctx context.Context, caller string) (TreasuryResult, error) {
	var result TreasuryResult
	err := s.update(ctx, ledger.OpInitializeTreasury, caller, func(tx storage.Tx) (ledger.Receipt, error) {
		ids, keys, err := s.treasuryKeys()
		if err != nil {
			return ledger.Receipt{}, err
		}
		var existing *ledger.TreasuryConfig
		current, err := tx.GetTreasury(ctx, keys)
		switch {
		case err == nil:
			existing = &current.Config
		case !errors.Is(err, storage.ErrNotFound):
			return ledger.Receipt{}, err
		}

		treasury, err := ledger.InitializeTreasury(existing, caller, s.defaultTvlCap, ids.Config.Bump, ids.Vault.Bump)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.CreateTreasury(ctx, keys, treasury); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ledger.Receipt{}, ledger.ErrAlreadyInitialized
			}
			return ledger.Receipt{}, err
		}
		result = TreasuryResult{Treasury: treasury, Receipt: ledger.Receipt{Operation: ledger.OpInitializeTreasury, Owner: caller}}
		return result.Receipt, nil
	})
	return result, err
}

// GetTreasury returns the treasury singleton.
func (s *Service) GetTreasury(ctx context.Context) (ledger.Treasury, error) {
	_, keys, err := s.treasuryKeys()
	if err != nil {
		return ledger.Treasury{}, err
	}
	var treasury ledger.Treasury
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		treasury, err = tx.GetTreasury(ctx, keys)
		return err
	})
	return treasury, err
}

func (s *Service) mutateTreasury(ctx context.Context, op, caller string, fn func(ledger.Treasury) (ledger.Treasury, ledger.Receipt, error)) (TreasuryResult, error) {
	var result TreasuryResult
	err := s.update(ctx, op, caller, func(tx storage.Tx) (ledger.Receipt, error) {
		_, keys, err := s.treasuryKeys()
		if err != nil {
			return ledger.Receipt{}, err
		}
		treasury, err := tx.GetTreasury(ctx, keys)
		if err != nil {
			return ledger.Receipt{}, err
		}
		next, receipt, err := fn(treasury)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.SaveTreasury(ctx, keys, next); err != nil {
			return ledger.Receipt{}, err
		}
		result = TreasuryResult{Treasury: next, Receipt: receipt}
		return receipt, nil
	})
	return result, err
}

// WithdrawTreasury moves collected fees out of the treasury vault.
func (s *Service) WithdrawTreasury(ctx context.Context, caller string, amount uint64) (TreasuryResult, error) {
	return s.mutateTreasury(ctx, ledger.OpWithdrawTreasury, caller, func(t ledger.Treasury) (ledger.Treasury, ledger.Receipt, error) {
		return t.Withdraw(caller, amount)
	})
}

// SetPaused toggles the deposit pause.
func (s *Service) SetPaused(ctx context.Context, caller string, paused bool) (TreasuryResult, error) {
	return s.mutateTreasury(ctx, ledger.OpSetPaused, caller, func(t ledger.Treasury) (ledger.Treasury, ledger.Receipt, error) {
		next, err := t.SetPaused(caller, paused)
		return next, ledger.Receipt{Operation: ledger.OpSetPaused, Owner: caller}, err
	})
}

// SetTvlCap replaces the TVL cap.
func (s *Service) SetTvlCap(ctx context.Context, caller string, tvlCap uint64) (TreasuryResult, error) {
	return s.mutateTreasury(ctx, ledger.OpSetTvlCap, caller, func(t ledger.Treasury) (ledger.Treasury, ledger.Receipt, error) {
		next, err := t.SetTvlCap(caller, tvlCap)
		return next, ledger.Receipt{Operation: ledger.OpSetTvlCap, Owner: caller, Amount: tvlCap}, err
	})
}
