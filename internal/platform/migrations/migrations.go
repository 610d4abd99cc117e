// Package migrations holds the ordered schema for the Postgres store.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var files embed.FS

// Execer is satisfied by *sql.DB, *sql.Tx and their sqlx wrappers.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Migration is one schema step.
type Migration struct {
	Name string
	SQL  string
}

// All returns the migrations in application order.
func All() ([]Migration, error) {
	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, Migration{Name: name, SQL: string(body)})
	}
	return out, nil
}

// Apply executes every migration in order. Each statement is idempotent so
// Apply can run on every start.
func Apply(ctx context.Context, db Execer) error {
	migrations, err := All()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}
	return nil
}
