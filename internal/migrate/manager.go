// Package migrate applies the directory schema and its seed data.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "tlr_schema_migrations"
	defaultSeedsTable      = "tlr_schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	seedSuffix = ".sql"
)

var (
	// ErrNothingApplied is returned by Down when no migration has run yet.
	ErrNothingApplied = errors.New("migrate: no migrations applied")
	// ErrMissingDown means the latest migration has no rollback file.
	ErrMissingDown = errors.New("migrate: missing down migration")
)

// Migration is one schema version and when it was applied, if ever.
type Migration struct {
	Version   string
	AppliedAt time.Time
}

// Applied reports whether the migration has run.
func (m Migration) Applied() bool { return !m.AppliedAt.IsZero() }

func (m Migration) String() string {
	if !m.Applied() {
		return m.Version + " pending"
	}
	return m.Version + " applied " + m.AppliedAt.UTC().Format(time.RFC3339)
}

// Manager runs versioned migrations and seed files from fsys, usually the
// embedded migrations.FS. Each file runs in its own transaction together with
// its bookkeeping row.
type Manager struct {
	db              *sql.DB
	fsys            fs.FS
	migrationsDir   string
	seedsDir        string
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithClock sets the time recorded for applied files.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager. The directories are paths inside fsys.
func NewManager(db *sql.DB, fsys fs.FS, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		fsys:            fsys,
		migrationsDir:   migrationsDir,
		seedsDir:        seedsDir,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration in version order and returns the
// versions it ran.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.applyAll(ctx, m.migrationsTable, m.migrationsDir, upSuffix)
}

// Seed applies seed files that have not run before.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.applyAll(ctx, m.seedsTable, m.seedsDir, seedSuffix)
}

// Down rolls back the most recently applied migration and returns its version.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	applied, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", ErrNothingApplied
	}
	last := applied[len(applied)-1].Version
	name := path.Join(m.migrationsDir, last+downSuffix)
	body, err := fs.ReadFile(m.fsys, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingDown, last)
	}
	forget := fmt.Sprintf(`delete from %s where version = $1`, m.migrationsTable)
	if err := m.run(ctx, string(body), forget, last); err != nil {
		return "", fmt.Errorf("rollback %s: %w", last, err)
	}
	return last, nil
}

// Status lists applied migrations followed by pending ones.
func (m *Manager) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.fsys, m.migrationsDir, upSuffix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(applied))
	for _, mig := range applied {
		seen[mig.Version] = true
	}
	for _, f := range files {
		if !seen[f.Version] {
			applied = append(applied, Migration{Version: f.Version})
		}
	}
	return applied, nil
}

func (m *Manager) applyAll(ctx context.Context, table, dir, suffix string) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(done))
	for _, mig := range done {
		seen[mig.Version] = true
	}
	files, err := collectSQL(m.fsys, dir, suffix)
	if err != nil {
		return nil, err
	}
	record := fmt.Sprintf(`insert into %s(version, applied_at) values ($1, $2)`, table)
	var ran []string
	for _, f := range files {
		if seen[f.Version] {
			continue
		}
		body, err := fs.ReadFile(m.fsys, f.Path)
		if err != nil {
			return ran, err
		}
		if err := m.run(ctx, string(body), record, f.Version, m.now().UTC()); err != nil {
			return ran, fmt.Errorf("apply %s: %w", f.Version, err)
		}
		ran = append(ran, f.Version)
	}
	return ran, nil
}

// run executes body statement by statement and then the bookkeeping query,
// all in one transaction.
func (m *Manager) run(ctx context.Context, body, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(body) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			version text primary key,
			applied_at timestamptz not null
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, table string) ([]Migration, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select version, applied_at from %s order by version`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Migration
	for rows.Next() {
		var mig Migration
		if err := rows.Scan(&mig.Version, &mig.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, mig)
	}
	return out, rows.Err()
}

type sqlFile struct {
	Version string
	Path    string
}

// collectSQL returns files in dir ending in suffix, ordered by version. The
// version is the file name without the suffix.
func collectSQL(fsys fs.FS, dir, suffix string) ([]sqlFile, error) {
	if fsys == nil || dir == "" {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []sqlFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		// A seed suffix of ".sql" would otherwise also pick up rollbacks.
		if suffix == seedSuffix && (strings.HasSuffix(name, upSuffix) || strings.HasSuffix(name, downSuffix)) {
			continue
		}
		files = append(files, sqlFile{
			Version: strings.TrimSuffix(name, suffix),
			Path:    path.Join(dir, name),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings and
// drops "--" line comments.
func splitStatements(body string) []string {
	var stmts []string
	var cur strings.Builder
	inString, inComment := false, false
	runes := []rune(body)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
				cur.WriteRune(r)
			}
		case !inString && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case r == '\'':
			inString = !inString
			cur.WriteRune(r)
		case r == ';' && !inString:
			cur.WriteRune(r)
			stmts = append(stmts, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts
}
