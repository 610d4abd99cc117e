package ledger

// AllocationUpdate carries the optional fields of an allocation update.
// Nil fields are left unchanged.
type AllocationUpdate struct {
	Name       *string `json:"name,omitempty"`
	Percentage *uint8  `json:"percentage,omitempty"`
}

func validAllocationName(name string) bool {
	return name != "" && len(name) <= MaxAllocationNameLen
}

func validAllocationPercentage(pct uint8) bool {
	return pct >= MinAllocationPercentage && pct <= MaxAllocationPercentage
}

// clone returns a copy whose Allocations slice does not alias c's.
func (c AllocationConfig) clone() AllocationConfig {
	if c.Allocations != nil {
		out := make([]Allocation, len(c.Allocations))
		copy(out, c.Allocations)
		c.Allocations = out
	}
	return c
}

func (c AllocationConfig) authorize(caller string) error {
	if caller == "" || caller != c.Owner {
		return ErrUnauthorized
	}
	return nil
}

func (c AllocationConfig) checkIndex(index int) error {
	if index < 0 || index >= int(c.TotalAllocations) || index >= len(c.Allocations) {
		return ErrIndexOutOfRange
	}
	return nil
}

// InitializeAllocationConfig creates an empty bucket list for owner.
func InitializeAllocationConfig(existing *AllocationConfig, owner string, bump uint8) (AllocationConfig, error) {
	if owner == "" {
		return AllocationConfig{}, ErrUnauthorized
	}
	if existing != nil {
		return AllocationConfig{}, ErrAlreadyInitialized
	}
	return AllocationConfig{Owner: owner, Allocations: []Allocation{}, Bump: bump}, nil
}

// ActivePercentage sums the percentages of active buckets, skipping skip
// (pass -1 to include all).
func (c AllocationConfig) ActivePercentage(skip int) uint64 {
	var sum uint64
	for i, a := range c.Allocations {
		if i == skip || !a.IsActive {
			continue
		}
		sum += uint64(a.Percentage)
	}
	return sum
}

// Validate checks the whole list: active sum <= 100, the entry limit and
// per-entry field bounds.
func (c AllocationConfig) Validate() error {
	if len(c.Allocations) > MaxAllocations || int(c.TotalAllocations) != len(c.Allocations) {
		return ErrTooManyAllocations
	}
	for _, a := range c.Allocations {
		if !validAllocationName(a.Name) {
			return ErrInvalidAllocationName
		}
		if a.IsActive && !validAllocationPercentage(a.Percentage) {
			return ErrInvalidAllocationPercentage
		}
	}
	if c.ActivePercentage(-1) > uint64(MaxAllocationPercentage) {
		return ErrAllocationPercentageExceeded
	}
	return nil
}

// Create appends a new active bucket.
func (c AllocationConfig) Create(caller, name string, pct uint8) (AllocationConfig, Receipt, error) {
	if err := c.authorize(caller); err != nil {
		return AllocationConfig{}, Receipt{}, err
	}
	if !validAllocationName(name) {
		return AllocationConfig{}, Receipt{}, ErrInvalidAllocationName
	}
	if !validAllocationPercentage(pct) {
		return AllocationConfig{}, Receipt{}, ErrInvalidAllocationPercentage
	}
	if len(c.Allocations) >= MaxAllocations {
		return AllocationConfig{}, Receipt{}, ErrTooManyAllocations
	}
	if c.ActivePercentage(-1)+uint64(pct) > uint64(MaxAllocationPercentage) {
		return AllocationConfig{}, Receipt{}, ErrAllocationPercentageExceeded
	}

	next := c.clone()
	index := len(next.Allocations)
	next.Allocations = append(next.Allocations, Allocation{Name: name, Percentage: pct, IsActive: true})
	next.TotalAllocations++
	if err := next.Validate(); err != nil {
		return AllocationConfig{}, Receipt{}, err
	}
	return next, Receipt{Operation: OpCreateAllocation, Owner: c.Owner, Index: index}, nil
}

// Update applies the supplied fields to the bucket at index. Removed buckets
// cannot be updated.
func (c AllocationConfig) Update(caller string, index int, upd AllocationUpdate) (AllocationConfig, Receipt, error) {
	if err := c.authorize(caller); err != nil {
		return AllocationConfig{}, Receipt{}, err
	}
	if err := c.checkIndex(index); err != nil {
		return AllocationConfig{}, Receipt{}, err
	}
	if upd.Name != nil && !validAllocationName(*upd.Name) {
		return AllocationConfig{}, Receipt{}, ErrInvalidAllocationName
	}
	if upd.Percentage != nil && !validAllocationPercentage(*upd.Percentage) {
		return AllocationConfig{}, Receipt{}, ErrInvalidAllocationPercentage
	}
	if !c.Allocations[index].IsActive {
		return AllocationConfig{}, Receipt{}, ErrAllocationInactive
	}
	if upd.Percentage != nil && c.ActivePercentage(index)+uint64(*upd.Percentage) > uint64(MaxAllocationPercentage) {
		return AllocationConfig{}, Receipt{}, ErrAllocationPercentageExceeded
	}

	next := c.clone()
	if upd.Name != nil {
		next.Allocations[index].Name = *upd.Name
	}
	if upd.Percentage != nil {
		next.Allocations[index].Percentage = *upd.Percentage
	}
	if err := next.Validate(); err != nil {
		return AllocationConfig{}, Receipt{}, err
	}
	return next, Receipt{Operation: OpUpdateAllocation, Owner: c.Owner, Index: index}, nil
}

// Remove deactivates the bucket at index. The slot, name and tracking
// counters are kept. Removing a removed bucket succeeds.
func (c AllocationConfig) Remove(caller string, index int) (AllocationConfig, Receipt, error) {
	if err := c.authorize(caller); err != nil {
		return AllocationConfig{}, Receipt{}, err
	}
	if err := c.checkIndex(index); err != nil {
		return AllocationConfig{}, Receipt{}, err
	}

	next := c.clone()
	next.Allocations[index].IsActive = false
	next.Allocations[index].Percentage = 0
	if err := next.Validate(); err != nil {
		return AllocationConfig{}, Receipt{}, err
	}
	return next, Receipt{Operation: OpRemoveAllocation, Owner: c.Owner, Index: index}, nil
}

// TrackDeposit attributes floor(net*pct/100) of a deposit to every active
// bucket.
func (c AllocationConfig) TrackDeposit(net uint64) (AllocationConfig, error) {
	next := c.clone()
	for i, a := range next.Allocations {
		if !a.IsActive {
			continue
		}
		share, err := mulDiv(net, uint64(a.Percentage), 100)
		if err != nil {
			return AllocationConfig{}, err
		}
		saved, err := checkedAdd(a.TotalSaved, share)
		if err != nil {
			return AllocationConfig{}, err
		}
		next.Allocations[i].TotalSaved = saved
	}
	return next, nil
}

// WithdrawFromAllocation withdraws amount from the vault and charges it to
// the bucket at index.
func WithdrawFromAllocation(a Account, c AllocationConfig, caller string, index int, amount uint64) (Account, AllocationConfig, Receipt, error) {
	if err := c.authorize(caller); err != nil {
		return Account{}, AllocationConfig{}, Receipt{}, err
	}
	if err := a.authorize(caller); err != nil {
		return Account{}, AllocationConfig{}, Receipt{}, err
	}
	if amount == 0 {
		return Account{}, AllocationConfig{}, Receipt{}, ErrInvalidAmount
	}
	if err := c.checkIndex(index); err != nil {
		return Account{}, AllocationConfig{}, Receipt{}, err
	}
	bucket := c.Allocations[index]
	if !bucket.IsActive {
		return Account{}, AllocationConfig{}, Receipt{}, ErrAllocationInactive
	}
	if amount > bucket.Available() {
		return Account{}, AllocationConfig{}, Receipt{}, ErrInsufficientFunds
	}
	withdrawn, err := checkedAdd(bucket.TotalWithdrawn, amount)
	if err != nil {
		return Account{}, AllocationConfig{}, Receipt{}, err
	}

	nextAccount, receipt, err := a.Withdraw(caller, amount)
	if err != nil {
		return Account{}, AllocationConfig{}, Receipt{}, err
	}
	next := c.clone()
	next.Allocations[index].TotalWithdrawn = withdrawn

	receipt.Operation = OpWithdrawFromAllocation
	receipt.Index = index
	return nextAccount, next, receipt, nil
}
