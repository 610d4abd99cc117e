// Package derive maps (namespace, owner) pairs to stable account identifiers.
//
// Candidates are Hash160(namespace || 0x00 || owner || bump) for bump 0..255,
// tried in increasing order; the first candidate accepted by the deriver's
// predicate is returned together with its bump. Identifiers render as Neo N3
// addresses, which is also the key format used by the storage layer.
package derive

import (
	"errors"
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Namespaces used by the savings ledger.
const (
	NamespaceConfig           = "config"
	NamespaceVault            = "vault"
	NamespaceAllocationConfig = "allocation_config"
	NamespaceTreasuryConfig   = "treasury_config"
	NamespaceTreasuryVault    = "treasury_vault"
)

// MaxCandidates is the number of bump values tried before giving up.
const MaxCandidates = 256

// ErrDerivationExhausted is returned when every bump candidate was rejected.
var ErrDerivationExhausted = errors.New("derivation exhausted: no valid account id in 256 candidates")

// AccountID identifies a ledger record.
type AccountID struct {
	Hash util.Uint160
	Bump uint8
}

// String returns the Neo address form of the id.
func (a AccountID) String() string {
	return address.Uint160ToString(a.Hash)
}

// Predicate reports whether a candidate hash may be used as an account id.
type Predicate func(util.Uint160) bool

// NotZero rejects the all-zero hash, which is reserved.
func NotZero(candidate util.Uint160) bool {
	return !candidate.Equals(util.Uint160{})
}

// Deriver derives account ids. The zero value uses NotZero.
type Deriver struct {
	Accept Predicate
}

// Default is the deriver used by the ledger services.
var Default = Deriver{Accept: NotZero}

// Derive returns the account id for namespace and owner.
func (d Deriver) Derive(namespace, owner string) (AccountID, error) {
	accept := d.Accept
	if accept == nil {
		accept = NotZero
	}

	seed := make([]byte, 0, len(namespace)+len(owner)+2)
	seed = append(seed, namespace...)
	seed = append(seed, 0)
	seed = append(seed, owner...)
	seed = append(seed, 0)
	last := len(seed) - 1

	for bump := 0; bump < MaxCandidates; bump++ {
		seed[last] = byte(bump)
		candidate := hash.Hash160(seed)
		if accept(candidate) {
			return AccountID{Hash: candidate, Bump: uint8(bump)}, nil
		}
	}
	return AccountID{}, fmt.Errorf("%s/%s: %w", namespace, owner, ErrDerivationExhausted)
}

// Derive uses the Default deriver.
func Derive(namespace, owner string) (AccountID, error) {
	return Default.Derive(namespace, owner)
}

// UserAccounts holds the ids of every record owned by one principal.
type UserAccounts struct {
	Config     AccountID
	Vault      AccountID
	Allocation AccountID
}

// ForOwner derives all per-owner ids in one call.
func (d Deriver) ForOwner(owner string) (UserAccounts, error) {
	cfg, err := d.Derive(NamespaceConfig, owner)
	if err != nil {
		return UserAccounts{}, err
	}
	vault, err := d.Derive(NamespaceVault, owner)
	if err != nil {
		return UserAccounts{}, err
	}
	alloc, err := d.Derive(NamespaceAllocationConfig, owner)
	if err != nil {
		return UserAccounts{}, err
	}
	return UserAccounts{Config: cfg, Vault: vault, Allocation: alloc}, nil
}

// TreasuryAccounts holds the ids of the treasury singleton.
type TreasuryAccounts struct {
	Config AccountID
	Vault  AccountID
}

// Treasury derives the singleton ids. The owner component is empty.
func (d Deriver) Treasury() (TreasuryAccounts, error) {
	cfg, err := d.Derive(NamespaceTreasuryConfig, "")
	if err != nil {
		return TreasuryAccounts{}, err
	}
	vault, err := d.Derive(NamespaceTreasuryVault, "")
	if err != nil {
		return TreasuryAccounts{}, err
	}
	return TreasuryAccounts{Config: cfg, Vault: vault}, nil
}

// IsKnownNamespace reports whether ns is one of the ledger namespaces.
func IsKnownNamespace(ns string) bool {
	switch ns {
	case NamespaceConfig, NamespaceVault, NamespaceAllocationConfig, NamespaceTreasuryConfig, NamespaceTreasuryVault:
		return true
	}
	return false
}
