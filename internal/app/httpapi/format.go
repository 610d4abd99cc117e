package httpapi

import (
	"math/big"
	"time"

	"github.com/R3E-Network/savings_layer/internal/app/services/savings"
	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/ledger"
	"github.com/shopspring/decimal"
)

// UnitDecimals is the number of decimal places in one whole unit.
const UnitDecimals = 9

// units renders a base-unit amount in whole units, e.g. 1992000000 -> "1.992".
func units(v uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -UnitDecimals).String()
}

type accountView struct {
	Owner                 string `json:"owner"`
	SavingsRate           uint8  `json:"savings_rate"`
	TotalSaved            uint64 `json:"total_saved"`
	TotalSavedDisplay     string `json:"total_saved_display"`
	TotalWithdrawn        uint64 `json:"total_withdrawn"`
	TotalWithdrawnDisplay string `json:"total_withdrawn_display"`
	TransactionCount      uint64 `json:"transaction_count"`
	IsActive              bool   `json:"is_active"`
	Balance               uint64 `json:"balance"`
	BalanceDisplay        string `json:"balance_display"`
	Bump                  uint8  `json:"bump"`
	VaultBump             uint8  `json:"vault_bump"`
}

func newAccountView(a ledger.Account) accountView {
	return accountView{
		Owner:                 a.Config.Owner,
		SavingsRate:           a.Config.SavingsRate,
		TotalSaved:            a.Config.TotalSaved,
		TotalSavedDisplay:     units(a.Config.TotalSaved),
		TotalWithdrawn:        a.Config.TotalWithdrawn,
		TotalWithdrawnDisplay: units(a.Config.TotalWithdrawn),
		TransactionCount:      a.Config.TransactionCount,
		IsActive:              a.Config.IsActive,
		Balance:               a.Vault.Balance,
		BalanceDisplay:        units(a.Vault.Balance),
		Bump:                  a.Config.Bump,
		VaultBump:             a.Config.VaultBump,
	}
}

type receiptView struct {
	Operation     string `json:"operation"`
	Owner         string `json:"owner"`
	Amount        uint64 `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Fee           uint64 `json:"fee"`
	FeeDisplay    string `json:"fee_display"`
	Net           uint64 `json:"net"`
	NetDisplay    string `json:"net_display"`
	Index         *int   `json:"index,omitempty"`
}

func newReceiptView(r ledger.Receipt) receiptView {
	v := receiptView{
		Operation:     r.Operation,
		Owner:         r.Owner,
		Amount:        r.Amount,
		AmountDisplay: units(r.Amount),
		Fee:           r.Fee,
		FeeDisplay:    units(r.Fee),
		Net:           r.Net,
		NetDisplay:    units(r.Net),
	}
	switch r.Operation {
	case ledger.OpCreateAllocation, ledger.OpUpdateAllocation, ledger.OpRemoveAllocation, ledger.OpWithdrawFromAllocation:
		idx := r.Index
		v.Index = &idx
	}
	return v
}

type allocationView struct {
	Index                 int    `json:"index"`
	Name                  string `json:"name"`
	Percentage            uint8  `json:"percentage"`
	IsActive              bool   `json:"is_active"`
	TotalSaved            uint64 `json:"total_saved"`
	TotalSavedDisplay     string `json:"total_saved_display"`
	TotalWithdrawn        uint64 `json:"total_withdrawn"`
	TotalWithdrawnDisplay string `json:"total_withdrawn_display"`
	Available             uint64 `json:"available"`
	AvailableDisplay      string `json:"available_display"`
}

type allocationsView struct {
	Owner            string           `json:"owner"`
	TotalAllocations uint8            `json:"total_allocations"`
	ActivePercentage uint64           `json:"active_percentage"`
	Allocations      []allocationView `json:"allocations"`
}

func newAllocationsView(c ledger.AllocationConfig) allocationsView {
	v := allocationsView{
		Owner:            c.Owner,
		TotalAllocations: c.TotalAllocations,
		ActivePercentage: c.ActivePercentage(-1),
		Allocations:      make([]allocationView, 0, len(c.Allocations)),
	}
	for i, a := range c.Allocations {
		v.Allocations = append(v.Allocations, allocationView{
			Index:                 i,
			Name:                  a.Name,
			Percentage:            a.Percentage,
			IsActive:              a.IsActive,
			TotalSaved:            a.TotalSaved,
			TotalSavedDisplay:     units(a.TotalSaved),
			TotalWithdrawn:        a.TotalWithdrawn,
			TotalWithdrawnDisplay: units(a.TotalWithdrawn),
			Available:             a.Available(),
			AvailableDisplay:      units(a.Available()),
		})
	}
	return v
}

type treasuryView struct {
	Authority                 string `json:"authority"`
	IsPaused                  bool   `json:"is_paused"`
	TotalTvl                  uint64 `json:"total_tvl"`
	TotalTvlDisplay           string `json:"total_tvl_display"`
	TvlCap                    uint64 `json:"tvl_cap"`
	TvlCapDisplay             string `json:"tvl_cap_display"`
	TotalFeesCollected        uint64 `json:"total_fees_collected"`
	TotalFeesCollectedDisplay string `json:"total_fees_collected_display"`
	Balance                   uint64 `json:"balance"`
	BalanceDisplay            string `json:"balance_display"`
}

func newTreasuryView(t ledger.Treasury) treasuryView {
	return treasuryView{
		Authority:                 t.Config.Authority,
		IsPaused:                  t.Config.IsPaused,
		TotalTvl:                  t.Config.TotalTvl,
		TotalTvlDisplay:           units(t.Config.TotalTvl),
		TvlCap:                    t.Config.TvlCap,
		TvlCapDisplay:             units(t.Config.TvlCap),
		TotalFeesCollected:        t.Config.TotalFeesCollected,
		TotalFeesCollectedDisplay: units(t.Config.TotalFeesCollected),
		Balance:                   t.Vault.Balance,
		BalanceDisplay:            units(t.Vault.Balance),
	}
}

type activityView struct {
	ID            string    `json:"id"`
	Operation     string    `json:"operation"`
	Amount        uint64    `json:"amount"`
	AmountDisplay string    `json:"amount_display"`
	Fee           uint64    `json:"fee"`
	Net           uint64    `json:"net"`
	NetDisplay    string    `json:"net_display"`
	Index         int       `json:"index"`
	CreatedAt     time.Time `json:"created_at"`
}

func newActivityViews(acts []storage.Activity) []activityView {
	out := make([]activityView, 0, len(acts))
	for _, a := range acts {
		out = append(out, activityView{
			ID:            a.ID,
			Operation:     a.Operation,
			Amount:        a.Amount,
			AmountDisplay: units(a.Amount),
			Fee:           a.Fee,
			Net:           a.Net,
			NetDisplay:    units(a.Net),
			Index:         a.Index,
			CreatedAt:     a.CreatedAt,
		})
	}
	return out
}

type accountResponse struct {
	Account accountView `json:"account"`
	Receipt receiptView `json:"receipt"`
}

func newAccountResponse(res savings.AccountResult) accountResponse {
	return accountResponse{Account: newAccountView(res.Account), Receipt: newReceiptView(res.Receipt)}
}

type allocationResponse struct {
	Allocations allocationsView `json:"allocations"`
	Account     *accountView    `json:"account,omitempty"`
	Receipt     receiptView     `json:"receipt"`
}

func newAllocationResponse(res savings.AllocationResult) allocationResponse {
	out := allocationResponse{Allocations: newAllocationsView(res.Allocations), Receipt: newReceiptView(res.Receipt)}
	if res.Account != nil {
		acct := newAccountView(*res.Account)
		out.Account = &acct
	}
	return out
}

type treasuryResponse struct {
	Treasury treasuryView `json:"treasury"`
	Receipt  receiptView  `json:"receipt"`
}

func newTreasuryResponse(res savings.TreasuryResult) treasuryResponse {
	return treasuryResponse{Treasury: newTreasuryView(res.Treasury), Receipt: newReceiptView(res.Receipt)}
}
