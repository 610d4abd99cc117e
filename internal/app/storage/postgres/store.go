package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/ledger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// Store implements storage.Store backed by PostgreSQL. Amounts are stored as
// NUMERIC(20,0) and travel as decimal strings so the full uint64 range
// survives. Rows read inside Update are locked with FOR UPDATE.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lock := " FOR UPDATE"
	if readOnly {
		lock = ""
	}
	if err := fn(&pgTx{tx: tx, lock: lock, readOnly: readOnly}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx       *sqlx.Tx
	lock     string
	readOnly bool
}

var _ storage.Tx = (*pgTx)(nil)

// --- rows -------------------------------------------------------------------

type userConfigRow struct {
	ID               string `db:"id"`
	Owner            string `db:"owner"`
	SavingsRate      int16  `db:"savings_rate"`
	TotalSaved       string `db:"total_saved"`
	TotalWithdrawn   string `db:"total_withdrawn"`
	TransactionCount string `db:"transaction_count"`
	IsActive         bool   `db:"is_active"`
	Bump             int16  `db:"bump"`
	VaultBump        int16  `db:"vault_bump"`
}

type vaultRow struct {
	ID      string `db:"id"`
	Owner   string `db:"owner"`
	Balance string `db:"balance"`
}

type allocationConfigRow struct {
	ID               string `db:"id"`
	Owner            string `db:"owner"`
	Allocations      []byte `db:"allocations"`
	TotalAllocations int16  `db:"total_allocations"`
	Bump             int16  `db:"bump"`
}

type treasuryConfigRow struct {
	ID                 string `db:"id"`
	Authority          string `db:"authority"`
	IsPaused           bool   `db:"is_paused"`
	TotalTvl           string `db:"total_tvl"`
	TvlCap             string `db:"tvl_cap"`
	TotalFeesCollected string `db:"total_fees_collected"`
	Bump               int16  `db:"bump"`
	VaultBump          int16  `db:"vault_bump"`
}

type treasuryVaultRow struct {
	ID      string `db:"id"`
	Balance string `db:"balance"`
}

type activityRow struct {
	ID        string    `db:"id"`
	Owner     string    `db:"owner"`
	Operation string    `db:"operation"`
	Amount    string    `db:"amount"`
	Fee       string    `db:"fee"`
	Net       string    `db:"net"`
	Index     int       `db:"idx"`
	CreatedAt time.Time `db:"created_at"`
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmounts(dst []*uint64, src ...string) error {
	for i, s := range src {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parse amount %q: %w", s, err)
		}
		*dst[i] = v
	}
	return nil
}

func (r userConfigRow) toLedger() (ledger.UserConfig, error) {
	cfg := ledger.UserConfig{
		Owner:       r.Owner,
		SavingsRate: uint8(r.SavingsRate),
		IsActive:    r.IsActive,
		Bump:        uint8(r.Bump),
		VaultBump:   uint8(r.VaultBump),
	}
	err := parseAmounts(
		[]*uint64{&cfg.TotalSaved, &cfg.TotalWithdrawn, &cfg.TransactionCount},
		r.TotalSaved, r.TotalWithdrawn, r.TransactionCount,
	)
	return cfg, err
}

func userConfigToRow(id string, cfg ledger.UserConfig) userConfigRow {
	return userConfigRow{
		ID:               id,
		Owner:            cfg.Owner,
		SavingsRate:      int16(cfg.SavingsRate),
		TotalSaved:       formatAmount(cfg.TotalSaved),
		TotalWithdrawn:   formatAmount(cfg.TotalWithdrawn),
		TransactionCount: formatAmount(cfg.TransactionCount),
		IsActive:         cfg.IsActive,
		Bump:             int16(cfg.Bump),
		VaultBump:        int16(cfg.VaultBump),
	}
}

func (r treasuryConfigRow) toLedger() (ledger.TreasuryConfig, error) {
	cfg := ledger.TreasuryConfig{
		Authority: r.Authority,
		IsPaused:  r.IsPaused,
		Bump:      uint8(r.Bump),
		VaultBump: uint8(r.VaultBump),
	}
	err := parseAmounts(
		[]*uint64{&cfg.TotalTvl, &cfg.TvlCap, &cfg.TotalFeesCollected},
		r.TotalTvl, r.TvlCap, r.TotalFeesCollected,
	)
	return cfg, err
}

func treasuryConfigToRow(id string, cfg ledger.TreasuryConfig) treasuryConfigRow {
	return treasuryConfigRow{
		ID:                 id,
		Authority:          cfg.Authority,
		IsPaused:           cfg.IsPaused,
		TotalTvl:           formatAmount(cfg.TotalTvl),
		TvlCap:             formatAmount(cfg.TvlCap),
		TotalFeesCollected: formatAmount(cfg.TotalFeesCollected),
		Bump:               int16(cfg.Bump),
		VaultBump:          int16(cfg.VaultBump),
	}
}

func mapGetError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func mapInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

func (t *pgTx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *pgTx) exec(ctx context.Context, query string, arg any) error {
	result, err := t.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- accounts ---------------------------------------------------------------

func (t *pgTx) GetAccount(ctx context.Context, keys storage.Keys) (ledger.Account, error) {
	var cfgRow userConfigRow
	err := t.tx.GetContext(ctx, &cfgRow, `
		SELECT id, owner, savings_rate, total_saved, total_withdrawn, transaction_count, is_active, bump, vault_bump
		FROM user_configs
		WHERE id = $1`+t.lock, keys.Config)
	if err != nil {
		return ledger.Account{}, mapGetError(err)
	}
	cfg, err := cfgRow.toLedger()
	if err != nil {
		return ledger.Account{}, err
	}

	var vRow vaultRow
	err = t.tx.GetContext(ctx, &vRow, `
		SELECT id, owner, balance
		FROM vaults
		WHERE id = $1`+t.lock, keys.Vault)
	if err != nil {
		return ledger.Account{}, mapGetError(err)
	}
	vault := ledger.Vault{Owner: vRow.Owner}
	if err := parseAmounts([]*uint64{&vault.Balance}, vRow.Balance); err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{Config: cfg, Vault: vault}, nil
}

func (t *pgTx) CreateAccount(ctx context.Context, keys storage.Keys, acct ledger.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO user_configs (id, owner, savings_rate, total_saved, total_withdrawn, transaction_count, is_active, bump, vault_bump)
		VALUES (:id, :owner, :savings_rate, :total_saved, :total_withdrawn, :transaction_count, :is_active, :bump, :vault_bump)
	`, userConfigToRow(keys.Config, acct.Config))
	if err != nil {
		return mapInsertError(err)
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO vaults (id, owner, balance)
		VALUES (:id, :owner, :balance)
	`, vaultRow{ID: keys.Vault, Owner: acct.Vault.Owner, Balance: formatAmount(acct.Vault.Balance)})
	return mapInsertError(err)
}

func (t *pgTx) SaveAccount(ctx context.Context, keys storage.Keys, acct ledger.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	err := t.exec(ctx, `
		UPDATE user_configs
		SET savings_rate = :savings_rate, total_saved = :total_saved, total_withdrawn = :total_withdrawn,
		    transaction_count = :transaction_count, is_active = :is_active, updated_at = NOW()
		WHERE id = :id
	`, userConfigToRow(keys.Config, acct.Config))
	if err != nil {
		return err
	}
	return t.exec(ctx, `
		UPDATE vaults
		SET balance = :balance, updated_at = NOW()
		WHERE id = :id
	`, vaultRow{ID: keys.Vault, Owner: acct.Vault.Owner, Balance: formatAmount(acct.Vault.Balance)})
}

// --- allocations ------------------------------------------------------------

func (t *pgTx) GetAllocationConfig(ctx context.Context, id string) (ledger.AllocationConfig, error) {
	var row allocationConfigRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT id, owner, allocations, total_allocations, bump
		FROM allocation_configs
		WHERE id = $1`+t.lock, id)
	if err != nil {
		return ledger.AllocationConfig{}, mapGetError(err)
	}

	cfg := ledger.AllocationConfig{
		Owner:            row.Owner,
		Allocations:      []ledger.Allocation{},
		TotalAllocations: uint8(row.TotalAllocations),
		Bump:             uint8(row.Bump),
	}
	if len(row.Allocations) > 0 {
		if err := json.Unmarshal(row.Allocations, &cfg.Allocations); err != nil {
			return ledger.AllocationConfig{}, fmt.Errorf("decode allocations: %w", err)
		}
	}
	return cfg, nil
}

func allocationConfigToRow(id string, cfg ledger.AllocationConfig) (allocationConfigRow, error) {
	list := cfg.Allocations
	if list == nil {
		list = []ledger.Allocation{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return allocationConfigRow{}, err
	}
	return allocationConfigRow{
		ID:               id,
		Owner:            cfg.Owner,
		Allocations:      raw,
		TotalAllocations: int16(cfg.TotalAllocations),
		Bump:             int16(cfg.Bump),
	}, nil
}

func (t *pgTx) CreateAllocationConfig(ctx context.Context, id string, cfg ledger.AllocationConfig) error {
	if err := t.writable(); err != nil {
		return err
	}
	row, err := allocationConfigToRow(id, cfg)
	if err != nil {
		return err
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO allocation_configs (id, owner, allocations, total_allocations, bump)
		VALUES (:id, :owner, :allocations, :total_allocations, :bump)
	`, row)
	return mapInsertError(err)
}

func (t *pgTx) SaveAllocationConfig(ctx context.Context, id string, cfg ledger.AllocationConfig) error {
	if err := t.writable(); err != nil {
		return err
	}
	row, err := allocationConfigToRow(id, cfg)
	if err != nil {
		return err
	}
	return t.exec(ctx, `
		UPDATE allocation_configs
		SET allocations = :allocations, total_allocations = :total_allocations, updated_at = NOW()
		WHERE id = :id
	`, row)
}

// --- treasury ---------------------------------------------------------------

func (t *pgTx) GetTreasury(ctx context.Context, keys storage.Keys) (ledger.Treasury, error) {
	var cfgRow treasuryConfigRow
	err := t.tx.GetContext(ctx, &cfgRow, `
		SELECT id, authority, is_paused, total_tvl, tvl_cap, total_fees_collected, bump, vault_bump
		FROM treasury_configs
		WHERE id = $1`+t.lock, keys.Config)
	if err != nil {
		return ledger.Treasury{}, mapGetError(err)
	}
	cfg, err := cfgRow.toLedger()
	if err != nil {
		return ledger.Treasury{}, err
	}

	var vRow treasuryVaultRow
	err = t.tx.GetContext(ctx, &vRow, `
		SELECT id, balance
		FROM treasury_vaults
		WHERE id = $1`+t.lock, keys.Vault)
	if err != nil {
		return ledger.Treasury{}, mapGetError(err)
	}
	var vault ledger.TreasuryVault
	if err := parseAmounts([]*uint64{&vault.Balance}, vRow.Balance); err != nil {
		return ledger.Treasury{}, err
	}
	return ledger.Treasury{Config: cfg, Vault: vault}, nil
}

func (t *pgTx) CreateTreasury(ctx context.Context, keys storage.Keys, tr ledger.Treasury) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO treasury_configs (id, authority, is_paused, total_tvl, tvl_cap, total_fees_collected, bump, vault_bump)
		VALUES (:id, :authority, :is_paused, :total_tvl, :tvl_cap, :total_fees_collected, :bump, :vault_bump)
	`, treasuryConfigToRow(keys.Config, tr.Config))
	if err != nil {
		return mapInsertError(err)
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO treasury_vaults (id, balance)
		VALUES (:id, :balance)
	`, treasuryVaultRow{ID: keys.Vault, Balance: formatAmount(tr.Vault.Balance)})
	return mapInsertError(err)
}

func (t *pgTx) SaveTreasury(ctx context.Context, keys storage.Keys, tr ledger.Treasury) error {
	if err := t.writable(); err != nil {
		return err
	}
	err := t.exec(ctx, `
		UPDATE treasury_configs
		SET is_paused = :is_paused, total_tvl = :total_tvl, tvl_cap = :tvl_cap,
		    total_fees_collected = :total_fees_collected, updated_at = NOW()
		WHERE id = :id
	`, treasuryConfigToRow(keys.Config, tr.Config))
	if err != nil {
		return err
	}
	return t.exec(ctx, `
		UPDATE treasury_vaults
		SET balance = :balance, updated_at = NOW()
		WHERE id = :id
	`, treasuryVaultRow{ID: keys.Vault, Balance: formatAmount(tr.Vault.Balance)})
}

// --- activity ---------------------------------------------------------------

func (t *pgTx) AppendActivity(ctx context.Context, act storage.Activity) error {
	if err := t.writable(); err != nil {
		return err
	}
	if act.CreatedAt.IsZero() {
		act.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO ledger_activity (id, owner, operation, amount, fee, net, idx, created_at)
		VALUES (:id, :owner, :operation, :amount, :fee, :net, :idx, :created_at)
	`, activityRow{
		ID:        act.ID,
		Owner:     act.Owner,
		Operation: act.Operation,
		Amount:    formatAmount(act.Amount),
		Fee:       formatAmount(act.Fee),
		Net:       formatAmount(act.Net),
		Index:     act.Index,
		CreatedAt: act.CreatedAt,
	})
	return mapInsertError(err)
}

func (t *pgTx) ListActivity(ctx context.Context, owner string, limit int) ([]storage.Activity, error) {
	query := `
		SELECT id, owner, operation, amount, fee, net, idx, created_at
		FROM ledger_activity
		WHERE owner = $1
		ORDER BY created_at DESC`
	args := []any{owner}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []activityRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]storage.Activity, 0, len(rows))
	for _, r := range rows {
		act := storage.Activity{
			ID:        r.ID,
			Owner:     r.Owner,
			Operation: r.Operation,
			Index:     r.Index,
			CreatedAt: r.CreatedAt,
		}
		if err := parseAmounts([]*uint64{&act.Amount, &act.Fee, &act.Net}, r.Amount, r.Fee, r.Net); err != nil {
			return nil, err
		}
		result = append(result, act)
	}
	return result, nil
}
