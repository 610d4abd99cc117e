package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/ledger"
)

// Store is an in-memory implementation of storage.Store. Update holds a
// single lock for the whole transaction and stages writes until fn succeeds.
// It is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	configs        map[string]ledger.UserConfig
	vaults         map[string]ledger.Vault
	allocations    map[string]ledger.AllocationConfig
	treasuries     map[string]ledger.TreasuryConfig
	treasuryVaults map[string]ledger.TreasuryVault
	activity       map[string][]storage.Activity
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		configs:        make(map[string]ledger.UserConfig),
		vaults:         make(map[string]ledger.Vault),
		allocations:    make(map[string]ledger.AllocationConfig),
		treasuries:     make(map[string]ledger.TreasuryConfig),
		treasuryVaults: make(map[string]ledger.TreasuryVault),
		activity:       make(map[string][]storage.Activity),
	}
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s, false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTx(s, true))
}

type tx struct {
	store    *Store
	readOnly bool

	configs        map[string]ledger.UserConfig
	vaults         map[string]ledger.Vault
	allocations    map[string]ledger.AllocationConfig
	treasuries     map[string]ledger.TreasuryConfig
	treasuryVaults map[string]ledger.TreasuryVault
	activity       []storage.Activity
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		store:          s,
		readOnly:       readOnly,
		configs:        make(map[string]ledger.UserConfig),
		vaults:         make(map[string]ledger.Vault),
		allocations:    make(map[string]ledger.AllocationConfig),
		treasuries:     make(map[string]ledger.TreasuryConfig),
		treasuryVaults: make(map[string]ledger.TreasuryVault),
	}
}

func (t *tx) commit() {
	for k, v := range t.configs {
		t.store.configs[k] = v
	}
	for k, v := range t.vaults {
		t.store.vaults[k] = v
	}
	for k, v := range t.allocations {
		t.store.allocations[k] = v
	}
	for k, v := range t.treasuries {
		t.store.treasuries[k] = v
	}
	for k, v := range t.treasuryVaults {
		t.store.treasuryVaults[k] = v
	}
	for _, act := range t.activity {
		t.store.activity[act.Owner] = append(t.store.activity[act.Owner], act)
	}
}

func lookup[V any](staged, base map[string]V, key string) (V, bool) {
	if v, ok := staged[key]; ok {
		return v, true
	}
	v, ok := base[key]
	return v, ok
}

func cloneAllocations(cfg ledger.AllocationConfig) ledger.AllocationConfig {
	if cfg.Allocations != nil {
		cfg.Allocations = append([]ledger.Allocation(nil), cfg.Allocations...)
	}
	return cfg
}

func (t *tx) GetAccount(_ context.Context, keys storage.Keys) (ledger.Account, error) {
	cfg, ok := lookup(t.configs, t.store.configs, keys.Config)
	if !ok {
		return ledger.Account{}, storage.ErrNotFound
	}
	vault, ok := lookup(t.vaults, t.store.vaults, keys.Vault)
	if !ok {
		return ledger.Account{}, storage.ErrNotFound
	}
	return ledger.Account{Config: cfg, Vault: vault}, nil
}

func (t *tx) CreateAccount(_ context.Context, keys storage.Keys, acct ledger.Account) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := lookup(t.configs, t.store.configs, keys.Config); ok {
		return storage.ErrConflict
	}
	if _, ok := lookup(t.vaults, t.store.vaults, keys.Vault); ok {
		return storage.ErrConflict
	}
	t.configs[keys.Config] = acct.Config
	t.vaults[keys.Vault] = acct.Vault
	return nil
}

func (t *tx) SaveAccount(ctx context.Context, keys storage.Keys, acct ledger.Account) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, err := t.GetAccount(ctx, keys); err != nil {
		return err
	}
	t.configs[keys.Config] = acct.Config
	t.vaults[keys.Vault] = acct.Vault
	return nil
}

func (t *tx) GetAllocationConfig(_ context.Context, id string) (ledger.AllocationConfig, error) {
	cfg, ok := lookup(t.allocations, t.store.allocations, id)
	if !ok {
		return ledger.AllocationConfig{}, storage.ErrNotFound
	}
	return cloneAllocations(cfg), nil
}

func (t *tx) CreateAllocationConfig(_ context.Context, id string, cfg ledger.AllocationConfig) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := lookup(t.allocations, t.store.allocations, id); ok {
		return storage.ErrConflict
	}
	t.allocations[id] = cloneAllocations(cfg)
	return nil
}

func (t *tx) SaveAllocationConfig(_ context.Context, id string, cfg ledger.AllocationConfig) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := lookup(t.allocations, t.store.allocations, id); !ok {
		return storage.ErrNotFound
	}
	t.allocations[id] = cloneAllocations(cfg)
	return nil
}

func (t *tx) GetTreasury(_ context.Context, keys storage.Keys) (ledger.Treasury, error) {
	cfg, ok := lookup(t.treasuries, t.store.treasuries, keys.Config)
	if !ok {
		return ledger.Treasury{}, storage.ErrNotFound
	}
	vault, ok := lookup(t.treasuryVaults, t.store.treasuryVaults, keys.Vault)
	if !ok {
		return ledger.Treasury{}, storage.ErrNotFound
	}
	return ledger.Treasury{Config: cfg, Vault: vault}, nil
}

func (t *tx) CreateTreasury(_ context.Context, keys storage.Keys, tr ledger.Treasury) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := lookup(t.treasuries, t.store.treasuries, keys.Config); ok {
		return storage.ErrConflict
	}
	t.treasuries[keys.Config] = tr.Config
	t.treasuryVaults[keys.Vault] = tr.Vault
	return nil
}

func (t *tx) SaveTreasury(ctx context.Context, keys storage.Keys, tr ledger.Treasury) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, err := t.GetTreasury(ctx, keys); err != nil {
		return err
	}
	t.treasuries[keys.Config] = tr.Config
	t.treasuryVaults[keys.Vault] = tr.Vault
	return nil
}

func (t *tx) AppendActivity(_ context.Context, act storage.Activity) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	t.activity = append(t.activity, act)
	return nil
}

func (t *tx) ListActivity(_ context.Context, owner string, limit int) ([]storage.Activity, error) {
	var result []storage.Activity
	result = append(result, t.store.activity[owner]...)
	for _, act := range t.activity {
		if act.Owner == owner {
			result = append(result, act)
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
