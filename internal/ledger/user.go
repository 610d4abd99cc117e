package ledger

func validRate(rate uint8) bool {
	return rate >= MinSavingsRate && rate <= MaxSavingsRate
}

// InitializeUser creates the config/vault pair for owner. existing is the
// currently stored config, nil when absent.
func InitializeUser(existing *UserConfig, owner string, rate uint8, bump, vaultBump uint8) (Account, error) {
	if owner == "" {
		return Account{}, ErrUnauthorized
	}
	if !validRate(rate) {
		return Account{}, ErrInvalidSavingsRate
	}
	if existing != nil {
		return Account{}, ErrAlreadyInitialized
	}
	return Account{
		Config: UserConfig{
			Owner:       owner,
			SavingsRate: rate,
			IsActive:    true,
			Bump:        bump,
			VaultBump:   vaultBump,
		},
		Vault: Vault{Owner: owner},
	}, nil
}

func (a Account) authorize(caller string) error {
	if caller == "" || caller != a.Config.Owner {
		return ErrUnauthorized
	}
	return nil
}

// UpdateSavingsRate replaces the savings rate. Allowed while inactive.
func (a Account) UpdateSavingsRate(caller string, rate uint8) (Account, error) {
	if err := a.authorize(caller); err != nil {
		return Account{}, err
	}
	if !validRate(rate) {
		return Account{}, ErrInvalidSavingsRate
	}
	a.Config.SavingsRate = rate
	return a, nil
}

// Deposit charges the platform fee into the treasury and credits the net
// amount to the vault. Both records are returned; on error neither changes.
func Deposit(a Account, t Treasury, caller string, amount uint64) (Account, Treasury, Receipt, error) {
	if err := a.authorize(caller); err != nil {
		return Account{}, Treasury{}, Receipt{}, err
	}
	if amount == 0 {
		return Account{}, Treasury{}, Receipt{}, ErrInvalidAmount
	}
	if !a.Config.IsActive {
		return Account{}, Treasury{}, Receipt{}, ErrAccountNotActive
	}

	fee, net, err := PlatformFee(amount)
	if err != nil {
		return Account{}, Treasury{}, Receipt{}, err
	}
	if _, err := checkedAdd(a.Config.TotalSaved, amount); err != nil {
		return Account{}, Treasury{}, Receipt{}, err
	}
	totalSaved, err := checkedAdd(a.Config.TotalSaved, net)
	if err != nil {
		return Account{}, Treasury{}, Receipt{}, err
	}
	balance, err := checkedAdd(a.Vault.Balance, net)
	if err != nil {
		return Account{}, Treasury{}, Receipt{}, err
	}
	count, err := checkedAdd(a.Config.TransactionCount, 1)
	if err != nil {
		return Account{}, Treasury{}, Receipt{}, err
	}

	nextTreasury, err := t.CollectFee(fee, net)
	if err != nil {
		return Account{}, Treasury{}, Receipt{}, err
	}

	a.Config.TotalSaved = totalSaved
	a.Config.TransactionCount = count
	a.Vault.Balance = balance
	return a, nextTreasury, Receipt{Operation: OpDeposit, Owner: a.Config.Owner, Amount: amount, Fee: fee, Net: net}, nil
}

// Withdraw debits the vault. No fee is charged and it works while inactive.
// Releasing TVL on the treasury is the caller's job, see Treasury.ReleaseTvl.
func (a Account) Withdraw(caller string, amount uint64) (Account, Receipt, error) {
	if err := a.authorize(caller); err != nil {
		return Account{}, Receipt{}, err
	}
	if amount == 0 {
		return Account{}, Receipt{}, ErrInvalidAmount
	}
	if amount > a.Vault.Balance {
		return Account{}, Receipt{}, ErrInsufficientFunds
	}
	withdrawn, err := checkedAdd(a.Config.TotalWithdrawn, amount)
	if err != nil {
		return Account{}, Receipt{}, err
	}
	count, err := checkedAdd(a.Config.TransactionCount, 1)
	if err != nil {
		return Account{}, Receipt{}, err
	}

	a.Vault.Balance -= amount
	a.Config.TotalWithdrawn = withdrawn
	a.Config.TransactionCount = count
	return a, Receipt{Operation: OpWithdraw, Owner: a.Config.Owner, Amount: amount, Net: amount}, nil
}

// ProcessTransfer retains floor(transferAmount * rate / 100) of an outgoing
// payment. The rest of the payment never enters the ledger.
func (a Account) ProcessTransfer(caller string, transferAmount uint64) (Account, Receipt, error) {
	if err := a.authorize(caller); err != nil {
		return Account{}, Receipt{}, err
	}
	if !a.Config.IsActive {
		return Account{}, Receipt{}, ErrAccountNotActive
	}
	if transferAmount == 0 {
		return Account{}, Receipt{}, ErrInvalidAmount
	}

	cut, err := SavingsCut(transferAmount, a.Config.SavingsRate)
	if err != nil {
		return Account{}, Receipt{}, err
	}
	if cut == 0 {
		return Account{}, Receipt{}, ErrInvalidAmount
	}
	totalSaved, err := checkedAdd(a.Config.TotalSaved, cut)
	if err != nil {
		return Account{}, Receipt{}, err
	}
	balance, err := checkedAdd(a.Vault.Balance, cut)
	if err != nil {
		return Account{}, Receipt{}, err
	}
	count, err := checkedAdd(a.Config.TransactionCount, 1)
	if err != nil {
		return Account{}, Receipt{}, err
	}

	a.Config.TotalSaved = totalSaved
	a.Config.TransactionCount = count
	a.Vault.Balance = balance
	return a, Receipt{Operation: OpProcessTransfer, Owner: a.Config.Owner, Amount: transferAmount, Net: cut}, nil
}

// Deactivate soft-disables the account. Deactivating twice succeeds.
func (a Account) Deactivate(caller string) (Account, error) {
	if err := a.authorize(caller); err != nil {
		return Account{}, err
	}
	a.Config.IsActive = false
	return a, nil
}

// Reactivate re-enables the account. Reactivating an active account succeeds.
func (a Account) Reactivate(caller string) (Account, error) {
	if err := a.authorize(caller); err != nil {
		return Account{}, err
	}
	a.Config.IsActive = true
	return a, nil
}
