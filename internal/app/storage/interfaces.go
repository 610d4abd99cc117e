package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/savings_layer/internal/ledger"
)

var (
	// ErrNotFound is returned when a record does not exist at the given key.
	ErrNotFound = errors.New("storage: record not found")
	// ErrConflict is returned by Create* when a record already exists.
	ErrConflict = errors.New("storage: record already exists")
	// ErrReadOnly is returned by writes attempted inside View.
	ErrReadOnly = errors.New("storage: read-only transaction")
)

// Keys addresses a config/vault record pair.
type Keys struct {
	Config string
	Vault  string
}

// Activity is one committed ledger operation in an owner's history.
type Activity struct {
	ID        string    `json:"id" db:"id"`
	Owner     string    `json:"owner" db:"owner"`
	Operation string    `json:"operation" db:"operation"`
	Amount    uint64    `json:"amount" db:"-"`
	Fee       uint64    `json:"fee" db:"-"`
	Net       uint64    `json:"net" db:"-"`
	Index     int       `json:"index" db:"idx"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Tx is the record-level view of one storage transaction. Get* returns
// ErrNotFound for missing records, Create* returns ErrConflict when the key is
// taken and Save* returns ErrNotFound when it is not.
type Tx interface {
	GetAccount(ctx context.Context, keys Keys) (ledger.Account, error)
	CreateAccount(ctx context.Context, keys Keys, acct ledger.Account) error
	SaveAccount(ctx context.Context, keys Keys, acct ledger.Account) error

	GetAllocationConfig(ctx context.Context, id string) (ledger.AllocationConfig, error)
	CreateAllocationConfig(ctx context.Context, id string, cfg ledger.AllocationConfig) error
	SaveAllocationConfig(ctx context.Context, id string, cfg ledger.AllocationConfig) error

	GetTreasury(ctx context.Context, keys Keys) (ledger.Treasury, error)
	CreateTreasury(ctx context.Context, keys Keys, t ledger.Treasury) error
	SaveTreasury(ctx context.Context, keys Keys, t ledger.Treasury) error

	AppendActivity(ctx context.Context, act Activity) error
	// ListActivity returns the newest entries first. limit <= 0 means all.
	ListActivity(ctx context.Context, owner string, limit int) ([]Activity, error)
}

// Store runs functions against a Tx. Update commits every write made by fn
// when fn returns nil and discards all of them otherwise. Records read inside
// Update are held until commit so overlapping operations serialize.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}
