// Package migrate applies the versioned schema and the demo seeds.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"sourcedesk.io/internal/obs"
)

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"

	// lockKey serialises concurrent migrators (two API replicas starting at once).
	lockKey int64 = 0x5d_6d16
)

var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Applied is one row of the migration history.
type Applied struct {
	Name      string
	AppliedAt time.Time
}

// Manager runs SQL migrations and seed files read from a file system,
// usually the embedded ops/migrations tree.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	now        func() time.Time
}

// NewManager constructs a Manager. Either source may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS) *Manager {
	return &Manager{db: db, migrations: migrations, seeds: seeds, now: time.Now}
}

// Up applies all pending migrations in name order. Each file and its history
// row commit together.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.migrations, ".up.sql", migrationsTable, "migration")
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds, ".sql", seedsTable, "seed")
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	history, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return ErrNothingApplied
	}
	if m.migrations == nil {
		return errors.New("migrate: no migrations source configured")
	}
	last := history[len(history)-1].Name
	downPath := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.migrations, downPath); err != nil {
		return fmt.Errorf("migrate: missing down migration for %s", last)
	}
	err = m.apply(ctx, m.migrations, downPath, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `delete from `+migrationsTable+` where name = $1`, last)
		return err
	})
	if err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	obs.Logger().InfoContext(ctx, "migration rolled back", slog.String("name", last))
	return nil
}

// Status returns applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, `select name, applied_at from `+migrationsTable+` order by applied_at asc, name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (m *Manager) applyPending(ctx context.Context, fsys fs.FS, suffix, table, kind string) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return err
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if done[f.Base] {
			continue
		}
		name := f.Base
		err := m.apply(ctx, fsys, f.Path, func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `insert into `+table+`(name, applied_at) values ($1, $2) on conflict (name) do nothing`,
				name, m.now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, name, err)
		}
		obs.Logger().InfoContext(ctx, kind+" applied", slog.String("name", name))
	}
	return nil
}

// apply runs one file and record inside a single transaction holding the
// migration lock.
func (m *Manager) apply(ctx context.Context, fsys fs.FS, name string, record func(context.Context, *sql.Tx) error) (err error) {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return err
	}
	for _, stmt := range splitStatements(string(body)) {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err = record(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		ddl := `create table if not exists ` + table + ` (
			name text primary key,
			applied_at timestamptz not null default now()
		)`
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `select name from `+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

// collectSQL lists files ending in suffix, ordered by base name. Note that
// ".sql" also matches ".up.sql"; seeds live in their own tree.
func collectSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{Base: path.Base(p), Path: p})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Base < files[j].Base })
	return files, nil
}

// splitStatements splits a script on top-level semicolons. Quoted strings,
// dollar-quoted bodies and "--" comments are respected; comments are dropped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		quote   bool
		dollar  string
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" && s != ";" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case dollar != "":
			if strings.HasPrefix(script[i:], dollar) {
				current.WriteString(dollar)
				i += len(dollar) - 1
				dollar = ""
				continue
			}
		case quote:
			if c == '\'' {
				quote = false
			}
		case c == '\'':
			quote = true
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			for i < len(script) && script[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
			continue
		case c == '$':
			if end := strings.IndexByte(script[i+1:], '$'); end >= 0 && validTag(script[i+1:i+1+end]) {
				dollar = script[i : i+end+2]
				current.WriteString(dollar)
				i += len(dollar) - 1
				continue
			}
		case c == ';':
			current.WriteByte(c)
			flush()
			continue
		}
		current.WriteByte(c)
	}
	flush()
	return stmts
}

func validTag(tag string) bool {
	if tag != "" && tag[0] >= '0' && tag[0] <= '9' {
		return false
	}
	for _, r := range tag {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
