package ledger

// Limits and rates.
const (
	MinSavingsRate uint8 = 1
	MaxSavingsRate uint8 = 90

	// PlatformFeeBasisPoints is the deposit fee: 40 bps = 0.4%.
	PlatformFeeBasisPoints uint64 = 40
	BasisPointsDivisor     uint64 = 10_000

	// DefaultTvlCap is 10 units in the 1e9-scaled base.
	DefaultTvlCap uint64 = 10_000_000_000

	MaxAllocations       = 16
	MaxAllocationNameLen = 32

	MinAllocationPercentage uint8 = 1
	MaxAllocationPercentage uint8 = 100
)

// Operation names, used for receipts, activity and metrics labels.
const (
	OpInitializeUser             = "initialize_user"
	OpUpdateSavingsRate          = "update_savings_rate"
	OpDeposit                    = "deposit"
	OpWithdraw                   = "withdraw"
	OpProcessTransfer            = "process_transfer"
	OpDeactivate                 = "deactivate"
	OpReactivate                 = "reactivate"
	OpInitializeAllocationConfig = "initialize_allocation_config"
	OpCreateAllocation           = "create_allocation"
	OpUpdateAllocation           = "update_allocation"
	OpRemoveAllocation           = "remove_allocation"
	OpWithdrawFromAllocation     = "withdraw_from_allocation"
	OpInitializeTreasury         = "initialize_treasury"
	OpWithdrawTreasury           = "withdraw_treasury"
	OpSetPaused                  = "set_paused"
	OpSetTvlCap                  = "set_tvl_cap"
)

// UserConfig is the per-owner configuration record. TotalSaved and
// TotalWithdrawn are cumulative counters, not the current balance.
type UserConfig struct {
	Owner            string `json:"owner"`
	SavingsRate      uint8  `json:"savings_rate"`
	TotalSaved       uint64 `json:"total_saved"`
	TotalWithdrawn   uint64 `json:"total_withdrawn"`
	TransactionCount uint64 `json:"transaction_count"`
	IsActive         bool   `json:"is_active"`
	Bump             uint8  `json:"bump"`
	VaultBump        uint8  `json:"vault_bump"`
}

// Vault holds an owner's spendable balance in base units.
type Vault struct {
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

// Account is the config/vault pair touched together by user operations.
type Account struct {
	Config UserConfig `json:"config"`
	Vault  Vault      `json:"vault"`
}

// Allocation is one named percentage bucket. Removed buckets keep their slot
// and name with IsActive=false and Percentage=0.
type Allocation struct {
	Name           string `json:"name"`
	Percentage     uint8  `json:"percentage"`
	IsActive       bool   `json:"is_active"`
	TotalSaved     uint64 `json:"total_saved"`
	TotalWithdrawn uint64 `json:"total_withdrawn"`
}

// Available is the tracked amount still attributable to the bucket.
func (a Allocation) Available() uint64 {
	if a.TotalWithdrawn >= a.TotalSaved {
		return 0
	}
	return a.TotalSaved - a.TotalWithdrawn
}

// AllocationConfig is the optional per-owner bucket list.
type AllocationConfig struct {
	Owner            string       `json:"owner"`
	Allocations      []Allocation `json:"allocations"`
	TotalAllocations uint8        `json:"total_allocations"`
	Bump             uint8        `json:"bump"`
}

// TreasuryConfig is the singleton fee/TVL configuration.
type TreasuryConfig struct {
	Authority          string `json:"authority"`
	IsPaused           bool   `json:"is_paused"`
	TotalTvl           uint64 `json:"total_tvl"`
	TvlCap             uint64 `json:"tvl_cap"`
	TotalFeesCollected uint64 `json:"total_fees_collected"`
	Bump               uint8  `json:"bump"`
	VaultBump          uint8  `json:"vault_bump"`
}

// TreasuryVault holds collected fees.
type TreasuryVault struct {
	Balance uint64 `json:"balance"`
}

// Treasury is the singleton config/vault pair.
type Treasury struct {
	Config TreasuryConfig `json:"config"`
	Vault  TreasuryVault  `json:"vault"`
}

// Receipt describes the monetary effect of an operation.
type Receipt struct {
	Operation string `json:"operation"`
	Owner     string `json:"owner"`
	// Amount is the amount named by the caller.
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
	// Net is what actually moved into or out of the vault.
	Net   uint64 `json:"net"`
	Index int    `json:"index,omitempty"`
}
