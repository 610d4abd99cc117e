package ledger

// InitializeTreasury creates the singleton treasury with the given TVL cap.
func InitializeTreasury(existing *TreasuryConfig, authority string, tvlCap uint64, bump, vaultBump uint8) (Treasury, error) {
	if authority == "" {
		return Treasury{}, ErrUnauthorized
	}
	if existing != nil {
		return Treasury{}, ErrAlreadyInitialized
	}
	return Treasury{
		Config: TreasuryConfig{
			Authority: authority,
			TvlCap:    tvlCap,
			Bump:      bump,
			VaultBump: vaultBump,
		},
	}, nil
}

func (t Treasury) authorize(caller string) error {
	if caller == "" || caller != t.Config.Authority {
		return ErrUnauthorized
	}
	return nil
}

// CollectFee books a deposit's fee and net amount. It is only reachable
// through Deposit.
func (t Treasury) CollectFee(fee, net uint64) (Treasury, error) {
	if t.Config.IsPaused {
		return Treasury{}, ErrPaused
	}
	tvl, err := checkedAdd(t.Config.TotalTvl, net)
	if err != nil {
		return Treasury{}, err
	}
	if tvl > t.Config.TvlCap {
		return Treasury{}, ErrTvlCapExceeded
	}
	balance, err := checkedAdd(t.Vault.Balance, fee)
	if err != nil {
		return Treasury{}, err
	}
	fees, err := checkedAdd(t.Config.TotalFeesCollected, fee)
	if err != nil {
		return Treasury{}, err
	}

	t.Config.TotalTvl = tvl
	t.Config.TotalFeesCollected = fees
	t.Vault.Balance = balance
	return t, nil
}

// ReleaseTvl lowers TotalTvl after a user withdrawal, saturating at zero.
func (t Treasury) ReleaseTvl(amount uint64) Treasury {
	if amount >= t.Config.TotalTvl {
		t.Config.TotalTvl = 0
	} else {
		t.Config.TotalTvl -= amount
	}
	return t
}

// Withdraw moves collected fees out of the treasury vault.
func (t Treasury) Withdraw(caller string, amount uint64) (Treasury, Receipt, error) {
	if err := t.authorize(caller); err != nil {
		return Treasury{}, Receipt{}, err
	}
	if amount == 0 {
		return Treasury{}, Receipt{}, ErrInvalidAmount
	}
	if amount > t.Vault.Balance {
		return Treasury{}, Receipt{}, ErrInsufficientFunds
	}
	t.Vault.Balance -= amount
	return t, Receipt{Operation: OpWithdrawTreasury, Owner: caller, Amount: amount, Net: amount}, nil
}

// SetPaused toggles the emergency pause. Only deposits are blocked.
func (t Treasury) SetPaused(caller string, paused bool) (Treasury, error) {
	if err := t.authorize(caller); err != nil {
		return Treasury{}, err
	}
	t.Config.IsPaused = paused
	return t, nil
}

// SetTvlCap replaces the cap. A cap below the current TVL only blocks new
// deposits.
func (t Treasury) SetTvlCap(caller string, tvlCap uint64) (Treasury, error) {
	if err := t.authorize(caller); err != nil {
		return Treasury{}, err
	}
	t.Config.TvlCap = tvlCap
	return t, nil
}
