// Package migrate applies the embedded Postgres schema and demo seed files
// and records what ran in two bookkeeping tables.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// ErrNothingApplied is returned by Down when the history is empty.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// ledger names a bookkeeping table.
type ledger string

const (
	migrationLedger ledger = "schema_migrations"
	seedLedger      ledger = "schema_seeds"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	seedSuffix = ".sql"
)

// Manager runs schema migrations and seed files against db. Both file
// systems are flat: every file sits at the root.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	now        func() time.Time
}

// NewManager constructs a Manager. Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS) *Manager {
	return &Manager{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Up applies every pending migration in name order. Each file runs in its
// own transaction together with its ledger row.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyAll(ctx, m.migrations, upSuffix, migrationLedger)
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyAll(ctx, m.seeds, seedSuffix, seedLedger)
}

// Pending lists migrations not applied yet, in apply order.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	return m.pending(ctx, m.migrations, upSuffix, migrationLedger)
}

// Status returns applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.prepare(ctx); err != nil {
		return nil, err
	}
	return m.names(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, migrationLedger))
}

// Down reverts the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	body, err := readFile(m.migrations, down)
	if err != nil {
		return fmt.Errorf("revert %s: %w", last, err)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, migrationLedger)
	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if err := execScript(ctx, tx, body); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, forget, last)
		return err
	})
	if err != nil {
		return fmt.Errorf("revert %s: %w", last, err)
	}
	return nil
}

func (m *Manager) applyAll(ctx context.Context, fsys fs.FS, suffix string, l ledger) error {
	todo, err := m.pending(ctx, fsys, suffix, l)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, l)
	for _, name := range todo {
		body, err := readFile(fsys, name)
		if err != nil {
			return err
		}
		err = m.inTx(ctx, func(tx *sql.Tx) error {
			if err := execScript(ctx, tx, body); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, record, name, m.now())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) pending(ctx context.Context, fsys fs.FS, suffix string, l ledger) ([]string, error) {
	if err := m.prepare(ctx); err != nil {
		return nil, err
	}
	done, err := m.names(ctx, fmt.Sprintf(`select name from %s`, l))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(done))
	for _, n := range done {
		seen[n] = struct{}{}
	}
	files, err := listSQL(fsys, suffix)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if _, ok := seen[f]; !ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Manager) prepare(ctx context.Context) error {
	for _, l := range []ledger{migrationLedger, seedLedger} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, l)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", l, err)
		}
	}
	return nil
}

func (m *Manager) names(ctx context.Context, query string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (m *Manager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func execScript(ctx context.Context, tx *sql.Tx, body string) error {
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// listSQL returns the names of root-level files ending in suffix, sorted.
func listSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	return fs.Glob(fsys, "*"+suffix)
}

func readFile(fsys fs.FS, name string) (string, error) {
	if fsys == nil {
		return "", fs.ErrNotExist
	}
	b, err := fs.ReadFile(fsys, name)
	return string(b), err
}

// splitStatements cuts a script on semicolons outside single-quoted
// literals and drops "--" line comments. Blank statements are skipped.
func splitStatements(script string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
		case !quoted && c == '-' && i+1 < len(script) && script[i+1] == '-':
			comment = true
			i++
		case c == '\'':
			quoted = !quoted
			cur.WriteByte(c)
		case c == ';' && !quoted:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}
