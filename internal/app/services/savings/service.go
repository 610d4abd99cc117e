// Package savings dispatches ledger operations against durable storage. Each
// call derives the record ids, loads the records inside one storage
// transaction, applies the pure ledger transition and writes back every
// returned record together with an activity entry, or nothing at all.
package savings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/savings_layer/internal/app/metrics"
	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/derive"
	"github.com/R3E-Network/savings_layer/internal/ledger"
	"github.com/R3E-Network/savings_layer/pkg/logger"
	"github.com/google/uuid"
)

// ErrTreasuryNotInitialized is returned by deposits before the treasury exists.
var ErrTreasuryNotInitialized = fmt.Errorf("treasury not initialized: %w", storage.ErrNotFound)

// Service is the operation dispatcher for user, allocation and treasury
// records.
type Service struct {
	store         storage.Store
	deriver       derive.Deriver
	defaultTvlCap uint64
	log           *logger.Logger
	now           func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithDeriver overrides the account id deriver.
func WithDeriver(d derive.Deriver) Option {
	return func(s *Service) { s.deriver = d }
}

// WithDefaultTvlCap sets the cap applied by InitializeTreasury.
func WithDefaultTvlCap(tvlCap uint64) Option {
	return func(s *Service) { s.defaultTvlCap = tvlCap }
}

// WithClock overrides the activity timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a savings service.
func New(store storage.Store, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("savings")
	}
	s := &Service{
		store:         store,
		deriver:       derive.Default,
		defaultTvlCap: ledger.DefaultTvlCap,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccountResult is returned by operations that touch a user account.
type AccountResult struct {
	Account ledger.Account `json:"account"`
	Receipt ledger.Receipt `json:"receipt"`
}

// AllocationResult is returned by allocation operations.
type AllocationResult struct {
	Allocations ledger.AllocationConfig `json:"allocations"`
	Account     *ledger.Account         `json:"account,omitempty"`
	Receipt     ledger.Receipt          `json:"receipt"`
}

// TreasuryResult is returned by treasury operations.
type TreasuryResult struct {
	Treasury ledger.Treasury `json:"treasury"`
	Receipt  ledger.Receipt  `json:"receipt"`
}

func (s *Service) userKeys(owner string) (derive.UserAccounts, storage.Keys, error) {
	ids, err := s.deriver.ForOwner(owner)
	if err != nil {
		return derive.UserAccounts{}, storage.Keys{}, err
	}
	return ids, storage.Keys{Config: ids.Config.String(), Vault: ids.Vault.String()}, nil
}

func (s *Service) treasuryKeys() (derive.TreasuryAccounts, storage.Keys, error) {
	ids, err := s.deriver.Treasury()
	if err != nil {
		return derive.TreasuryAccounts{}, storage.Keys{}, err
	}
	return ids, storage.Keys{Config: ids.Config.String(), Vault: ids.Vault.String()}, nil
}

// update runs fn in a write transaction, appends the receipt to the activity
// log on success and reports the outcome.
func (s *Service) update(ctx context.Context, op, owner string, fn func(tx storage.Tx) (ledger.Receipt, error)) error {
	start := time.Now()
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		receipt, err := fn(tx)
		if err != nil {
			return err
		}
		return tx.AppendActivity(ctx, storage.Activity{
			ID:        uuid.NewString(),
			Owner:     owner,
			Operation: op,
			Amount:    receipt.Amount,
			Fee:       receipt.Fee,
			Net:       receipt.Net,
			Index:     receipt.Index,
			CreatedAt: s.now(),
		})
	})
	s.observe(op, owner, start, err)
	return err
}

func (s *Service) observe(op, owner string, start time.Time, err error) {
	code := ledger.CodeOf(err)
	if err != nil && code == "" {
		code = "error"
	}
	metrics.RecordOperation(op, code, time.Since(start))

	entry := s.log.With(map[string]interface{}{
		"operation":   op,
		"owner":       owner,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	switch {
	case err == nil:
		entry.Info("ledger operation committed")
	case ledger.KindOf(err) != ledger.KindUnknown && ledger.KindOf(err) != ledger.KindFatal:
		entry.WithField("error_code", code).Warn(err.Error())
	case errors.Is(err, storage.ErrNotFound):
		entry.WithField("error_code", "NotFound").Warn(err.Error())
	default:
		entry.WithError(err).Error("ledger operation failed")
	}
}

// --- user accounts ----------------------------------------------------------

// InitializeUser creates the caller's config and vault.
func (s *Service) InitializeUser(ctx context.Context, caller string, rate uint8) (AccountResult, error) {
	var result AccountResult
	err := s.update(ctx, ledger.OpInitializeUser, caller, func(tx storage.Tx) (ledger.Receipt, error) {
		ids, keys, err := s.userKeys(caller)
		if err != nil {
			return ledger.Receipt{}, err
		}
		var existing *ledger.UserConfig
		current, err := tx.GetAccount(ctx, keys)
		switch {
		case err == nil:
			existing = &current.Config
		case !errors.Is(err, storage.ErrNotFound):
			return ledger.Receipt{}, err
		}

		acct, err := ledger.InitializeUser(existing, caller, rate, ids.Config.Bump, ids.Vault.Bump)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.CreateAccount(ctx, keys, acct); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ledger.Receipt{}, ledger.ErrAlreadyInitialized
			}
			return ledger.Receipt{}, err
		}
		result = AccountResult{Account: acct, Receipt: ledger.Receipt{Operation: ledger.OpInitializeUser, Owner: caller}}
		return result.Receipt, nil
	})
	return result, err
}

// GetAccount returns the config and vault for owner.
func (s *Service) GetAccount(ctx context.Context, owner string) (ledger.Account, error) {
	_, keys, err := s.userKeys(owner)
	if err != nil {
		return ledger.Account{}, err
	}
	var acct ledger.Account
	err = s.store.View(ctx, func(tx storage.Tx) error {
		acct, err = tx.GetAccount(ctx, keys)
		return err
	})
	return acct, err
}

// mutateAccount loads owner's account, applies fn and saves the result.
func (s *Service) mutateAccount(ctx context.Context, op, owner string, fn func(ledger.Account) (ledger.Account, ledger.Receipt, error)) (AccountResult, error) {
	var result AccountResult
	err := s.update(ctx, op, owner, func(tx storage.Tx) (ledger.Receipt, error) {
		_, keys, err := s.userKeys(owner)
		if err != nil {
			return ledger.Receipt{}, err
		}
		acct, err := tx.GetAccount(ctx, keys)
		if err != nil {
			return ledger.Receipt{}, err
		}
		next, receipt, err := fn(acct)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.SaveAccount(ctx, keys, next); err != nil {
			return ledger.Receipt{}, err
		}
		result = AccountResult{Account: next, Receipt: receipt}
		return receipt, nil
	})
	return result, err
}

// UpdateSavingsRate changes owner's savings rate.
func (s *Service) UpdateSavingsRate(ctx context.Context, caller, owner string, rate uint8) (AccountResult, error) {
	return s.mutateAccount(ctx, ledger.OpUpdateSavingsRate, owner, func(a ledger.Account) (ledger.Account, ledger.Receipt, error) {
		next, err := a.UpdateSavingsRate(caller, rate)
		return next, ledger.Receipt{Operation: ledger.OpUpdateSavingsRate, Owner: owner}, err
	})
}

// Deactivate soft-disables owner's account.
func (s *Service) Deactivate(ctx context.Context, caller, owner string) (AccountResult, error) {
	return s.mutateAccount(ctx, ledger.OpDeactivate, owner, func(a ledger.Account) (ledger.Account, ledger.Receipt, error) {
		next, err := a.Deactivate(caller)
		return next, ledger.Receipt{Operation: ledger.OpDeactivate, Owner: owner}, err
	})
}

// Reactivate re-enables owner's account.
func (s *Service) Reactivate(ctx context.Context, caller, owner string) (AccountResult, error) {
	return s.mutateAccount(ctx, ledger.OpReactivate, owner, func(a ledger.Account) (ledger.Account, ledger.Receipt, error) {
		next, err := a.Reactivate(caller)
		return next, ledger.Receipt{Operation: ledger.OpReactivate, Owner: owner}, err
	})
}

// ProcessTransfer auto-saves a share of an outgoing transfer.
func (s *Service) ProcessTransfer(ctx context.Context, caller, owner string, transferAmount uint64) (AccountResult, error) {
	return s.mutateAccount(ctx, ledger.OpProcessTransfer, owner, func(a ledger.Account) (ledger.Account, ledger.Receipt, error) {
		return a.ProcessTransfer(caller, transferAmount)
	})
}

// Deposit credits owner's vault net of the platform fee. The account, the
// treasury and, when present, the allocation tracking are committed together.
func (s *Service) Deposit(ctx context.Context, caller, owner string, amount uint64) (AccountResult, error) {
	var result AccountResult
	err := s.update(ctx, ledger.OpDeposit, owner, func(tx storage.Tx) (ledger.Receipt, error) {
		ids, keys, err := s.userKeys(owner)
		if err != nil {
			return ledger.Receipt{}, err
		}
		_, tKeys, err := s.treasuryKeys()
		if err != nil {
			return ledger.Receipt{}, err
		}
		acct, err := tx.GetAccount(ctx, keys)
		if err != nil {
			return ledger.Receipt{}, err
		}
		treasury, err := tx.GetTreasury(ctx, tKeys)
		if errors.Is(err, storage.ErrNotFound) {
			return ledger.Receipt{}, ErrTreasuryNotInitialized
		}
		if err != nil {
			return ledger.Receipt{}, err
		}

		nextAcct, nextTreasury, receipt, err := ledger.Deposit(acct, treasury, caller, amount)
		if err != nil {
			return ledger.Receipt{}, err
		}

		allocID := ids.Allocation.String()
		allocs, err := tx.GetAllocationConfig(ctx, allocID)
		switch {
		case err == nil:
			tracked, err := allocs.TrackDeposit(receipt.Net)
			if err != nil {
				return ledger.Receipt{}, err
			}
			if err := tx.SaveAllocationConfig(ctx, allocID, tracked); err != nil {
				return ledger.Receipt{}, err
			}
		case !errors.Is(err, storage.ErrNotFound):
			return ledger.Receipt{}, err
		}

		if err := tx.SaveAccount(ctx, keys, nextAcct); err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.SaveTreasury(ctx, tKeys, nextTreasury); err != nil {
			return ledger.Receipt{}, err
		}
		result = AccountResult{Account: nextAcct, Receipt: receipt}
		return receipt, nil
	})
	return result, err
}

// releaseTvl lowers the treasury TVL after a withdrawal when the treasury
// exists.
func (s *Service) releaseTvl(ctx context.Context, tx storage.Tx, amount uint64) error {
	_, tKeys, err := s.treasuryKeys()
	if err != nil {
		return err
	}
	treasury, err := tx.GetTreasury(ctx, tKeys)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.SaveTreasury(ctx, tKeys, treasury.ReleaseTvl(amount))
}

// Withdraw debits owner's vault. It is not blocked by pause or deactivation.
func (s *Service) Withdraw(ctx context.Context, caller, owner string, amount uint64) (AccountResult, error) {
	var result AccountResult
	err := s.update(ctx, ledger.OpWithdraw, owner, func(tx storage.Tx) (ledger.Receipt, error) {
		_, keys, err := s.userKeys(owner)
		if err != nil {
			return ledger.Receipt{}, err
		}
		acct, err := tx.GetAccount(ctx, keys)
		if err != nil {
			return ledger.Receipt{}, err
		}
		next, receipt, err := acct.Withdraw(caller, amount)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := tx.SaveAccount(ctx, keys, next); err != nil {
			return ledger.Receipt{}, err
		}
		if err := s.releaseTvl(ctx, tx, receipt.Amount); err != nil {
			return ledger.Receipt{}, err
		}
		result = AccountResult{Account: next, Receipt: receipt}
		return receipt, nil
	})
	return result, err
}

// Activity returns owner's most recent operations, newest first.
func (s *Service) Activity(ctx context.Context, owner string, limit int) ([]storage.Activity, error) {
	var acts []storage.Activity
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		acts, err = tx.ListActivity(ctx, owner, limit)
		return err
	})
	return acts, err
}
