package savings

import (
	"context"
	"errors"

	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/ledger"
)

func (s *Service) allocationID(owner string) (string, error) {
	ids, _, err := s.userKeys(owner)
	if err != nil {
		return "", err
	}
	return ids.Allocation.String(), nil
}

// InitializeAllocationConfig creates the caller's empty bucket list.
func (s *Service) InitializeAllocationConfig(ctx context.Context, caller string) (AllocationResult, error) {
	var result AllocationResult
	err := s.update(ctx, ledger.OpInitializeAllocationConfig, caller, func(tx storage.Tx) (ledger.Receipt, error) {
		ids, _, err := s.userKeys(caller)
		if err != nil {
			return ledger.Receipt{}, err
		}
		id := ids.Allocation.String()

		var existing *ledger.AllocationConfig
		current, err := tx.GetAllocationConfig(ctx, id)
		switch {
		case err == nil:
			existing = &current
		case !errors.Is(err, storage.ErrNotFound):
			return ledger.Receipt{}, err
		}

		cfg, err := ledger.InitializeAllocationConfig(existing, caller, ids.Allocation.Bump)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.CreateAllocationConfig(ctx, id, cfg); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ledger.Receipt{}, ledger.ErrAlreadyInitialized
			}
			return ledger.Receipt{}, err
		}
		result = AllocationResult{Allocations: cfg, Receipt: ledger.Receipt{Operation: ledger.OpInitializeAllocationConfig, Owner: caller}}
		return result.Receipt, nil
	})
	return result, err
}

// GetAllocations returns owner's bucket list.
func (s *Service) GetAllocations(ctx context.Context, owner string) (ledger.AllocationConfig, error) {
	id, err := s.allocationID(owner)
	if err != nil {
		return ledger.AllocationConfig{}, err
	}
	var cfg ledger.AllocationConfig
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		cfg, err = tx.GetAllocationConfig(ctx, id)
		return err
	})
	return cfg, err
}

func (s *Service) mutateAllocations(ctx context.Context, op, owner string, fn func(ledger.AllocationConfig) (ledger.AllocationConfig, ledger.Receipt, error)) (AllocationResult, error) {
	var result AllocationResult
	err := s.update(ctx, op, owner, func(tx storage.Tx) (ledger.Receipt, error) {
		id, err := s.allocationID(owner)
		if err != nil {
			return ledger.Receipt{}, err
		}
		cfg, err := tx.GetAllocationConfig(ctx, id)
		if err != nil {
			return ledger.Receipt{}, err
		}
		next, receipt, err := fn(cfg)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.SaveAllocationConfig(ctx, id, next); err != nil {
			return ledger.Receipt{}, err
		}
		result = AllocationResult{Allocations: next, Receipt: receipt}
		return receipt, nil
	})
	return result, err
}

// CreateAllocation appends a bucket to owner's list.
func (s *Service) CreateAllocation(ctx context.Context, caller, owner, name string, pct uint8) (AllocationResult, error) {
	return s.mutateAllocations(ctx, ledger.OpCreateAllocation, owner, func(c ledger.AllocationConfig) (ledger.AllocationConfig, ledger.Receipt, error) {
		return c.Create(caller, name, pct)
	})
}

// UpdateAllocation applies the supplied fields to the bucket at index.
func (s *Service) UpdateAllocation(ctx context.Context, caller, owner string, index int, upd ledger.AllocationUpdate) (AllocationResult, error) {
	return s.mutateAllocations(ctx, ledger.OpUpdateAllocation, owner, func(c ledger.AllocationConfig) (ledger.AllocationConfig, ledger.Receipt, error) {
		return c.Update(caller, index, upd)
	})
}

// RemoveAllocation deactivates the bucket at index.
func (s *Service) RemoveAllocation(ctx context.Context, caller, owner string, index int) (AllocationResult, error) {
	return s.mutateAllocations(ctx, ledger.OpRemoveAllocation, owner, func(c ledger.AllocationConfig) (ledger.AllocationConfig, ledger.Receipt, error) {
		return c.Remove(caller, index)
	})
}

// WithdrawFromAllocation withdraws from owner's vault and charges the bucket
// at index.
func (s *Service) WithdrawFromAllocation(ctx context.Context, caller, owner string, index int, amount uint64) (AllocationResult, error) {
	var result AllocationResult
	err := s.update(ctx, ledger.OpWithdrawFromAllocation, owner, func(tx storage.Tx) (ledger.Receipt, error) {
		ids, keys, err := s.userKeys(owner)
		if err != nil {
			return ledger.Receipt{}, err
		}
		id := ids.Allocation.String()
		acct, err := tx.GetAccount(ctx, keys)
		if err != nil {
			return ledger.Receipt{}, err
		}
		cfg, err := tx.GetAllocationConfig(ctx, id)
		if err != nil {
			return ledger.Receipt{}, err
		}

		nextAcct, nextCfg, receipt, err := ledger.WithdrawFromAllocation(acct, cfg, caller, index, amount)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.SaveAccount(ctx, keys, nextAcct); err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.SaveAllocationConfig(ctx, id, nextCfg); err != nil {
			return ledger.Receipt{}, err
		}
		if err := s.releaseTvl(ctx, tx, receipt.Amount); err != nil {
			return ledger.Receipt{}, err
		}
		result = AllocationResult{Allocations: nextCfg, Account: &nextAcct, Receipt: receipt}
		return receipt, nil
	})
	return result, err
}
