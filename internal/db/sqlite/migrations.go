package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Migration is one forward-only schema step.
type Migration struct {
	// Done reports whether the target state already holds. A migration
	// whose target state holds is recorded without running Apply.
	Done    func(ctx context.Context, m *SchemaManager) (bool, error)
	Apply   func(ctx context.Context, m *SchemaManager) error
	Name    string
	Version int
	// Fatal migrations abort startup on failure; the rest log and continue
	// and are retried on the next start.
	Fatal bool
}

// SchemaManager applies versioned migrations against the ledger table.
type SchemaManager struct {
	db         *sql.DB
	migrations []Migration
}

// NewSchemaManager returns a manager loaded with all known migrations.
func NewSchemaManager(db *sql.DB) *SchemaManager {
	return &SchemaManager{db: db, migrations: migrations()}
}

const createLedgerSQL = `
	CREATE TABLE IF NOT EXISTS schema_versions (
		id INTEGER PRIMARY KEY,
		version INTEGER UNIQUE NOT NULL,
		applied_at TEXT NOT NULL
	)
`

// Run applies every unrecorded migration in ascending version order.
func (m *SchemaManager) Run(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createLedgerSQL); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, mig := range m.migrations {
		if done[mig.Version] {
			continue
		}
		if err := m.runOne(ctx, mig); err != nil {
			if mig.Fatal {
				return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err)
			}
			log.Warn().Err(err).Int("version", mig.Version).Str("name", mig.Name).
				Msg("Schema migration failed, continuing")
		}
	}
	return nil
}

func (m *SchemaManager) runOne(ctx context.Context, mig Migration) error {
	if mig.Done != nil {
		ok, err := mig.Done(ctx, m)
		if err != nil {
			return fmt.Errorf("probe: %w", err)
		}
		if ok {
			log.Debug().Int("version", mig.Version).Msg("Schema already in target state, recording")
			return m.record(ctx, mig.Version)
		}
	}
	if err := mig.Apply(ctx, m); err != nil {
		return err
	}
	log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Applied schema migration")
	return m.record(ctx, mig.Version)
}

func (m *SchemaManager) record(ctx context.Context, version int) error {
	const query = `INSERT OR IGNORE INTO schema_versions (version, applied_at) VALUES (?, ?)`
	_, err := m.db.ExecContext(ctx, query, version, time.Now().UTC().Format(time.RFC3339))
	return err
}

// AppliedVersions returns the recorded migration versions in ascending order.
func (m *SchemaManager) AppliedVersions(ctx context.Context) ([]int, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_versions ORDER BY version ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (m *SchemaManager) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?`, name,
	).Scan(&n)
	return n > 0, err
}

func (m *SchemaManager) columnExists(ctx context.Context, table, column string) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&n)
	return n > 0, err
}

func (m *SchemaManager) columnsExist(ctx context.Context, table string, columns ...string) (bool, error) {
	for _, c := range columns {
		ok, err := m.columnExists(ctx, table, c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// addColumn adds a column unless it is already present.
func (m *SchemaManager) addColumn(ctx context.Context, table, column, decl string) error {
	ok, err := m.columnExists(ctx, table, column)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	// #nosec G202 -- identifiers are compile-time constants
	_, err = m.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

func (m *SchemaManager) execAll(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// tableRebuild describes a shadow-table swap.
type tableRebuild struct {
	Table     string
	CreateSQL string // creates <Table>_new in the target shape
	KeepWhere string // rows failing this predicate are not copied
	Indexes   []string
	// Mirror names the FTS table fed by triggers on Table. When it exists,
	// MirrorDDL is replayed after the swap.
	Mirror    string
	MirrorDDL []string
}

type columnInfo struct {
	Name    string
	Type    string
	Default sql.NullString
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) ([]columnInfo, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, type, dflt_value FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.Default); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// rebuildTable swaps a table for a shadow copy in a single transaction.
// Live columns the shadow shape does not declare are carried over, so a
// rebuild retried after later migrations keeps their columns and data.
func (m *SchemaManager) rebuildTable(ctx context.Context, r tableRebuild) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	shadow := r.Table + "_new"
	exec := func(stmt string) error {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild %s: %s: %w", r.Table, firstLine(stmt), err)
		}
		return nil
	}

	live, err := tableColumns(ctx, tx, r.Table)
	if err != nil {
		return err
	}
	if err = exec(`DROP TABLE IF EXISTS ` + shadow); err != nil {
		return err
	}
	if err = exec(r.CreateSQL); err != nil {
		return err
	}
	shaped, err := tableColumns(ctx, tx, shadow)
	if err != nil {
		return err
	}
	declared := make(map[string]bool, len(shaped))
	for _, c := range shaped {
		declared[c.Name] = true
	}

	cols := make([]string, 0, len(live))
	for _, c := range live {
		if !declared[c.Name] {
			decl := c.Type
			if c.Default.Valid {
				decl += " DEFAULT " + c.Default.String
			}
			// #nosec G202 -- identifiers come from the live schema
			if err = exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, shadow, c.Name, decl)); err != nil {
				return err
			}
		}
		cols = append(cols, c.Name)
	}
	colList := strings.Join(cols, ", ")

	stmts := []string{
		// #nosec G202 -- identifiers come from the live schema
		fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s`, shadow, colList, colList, r.Table, r.KeepWhere),
		`DROP TABLE ` + r.Table,
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, shadow, r.Table),
	}
	stmts = append(stmts, r.Indexes...)
	for _, stmt := range stmts {
		if err = exec(stmt); err != nil {
			return err
		}
	}

	if r.Mirror != "" {
		var n int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, r.Mirror,
		).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			for _, stmt := range r.MirrorDDL {
				if err = exec(stmt); err != nil {
					return err
				}
			}
		}
	}
	return tx.Commit()
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

func migrations() []Migration {
	return []Migration{
		{
			Version: 4,
			Name:    "core_tables",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				for _, t := range []string{"sdk_sessions", "observations", "session_summaries"} {
					ok, err := m.tableExists(ctx, t)
					if err != nil || !ok {
						return false, err
					}
				}
				return true, nil
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.execAll(ctx, coreTablesDDL)
			},
		},
		{
			Version: 5,
			Name:    "worker_port",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				return m.columnExists(ctx, "sdk_sessions", "worker_port")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.addColumn(ctx, "sdk_sessions", "worker_port", "INTEGER")
			},
		},
		{
			Version: 6,
			Name:    "prompt_tracking",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				ok, err := m.columnExists(ctx, "sdk_sessions", "prompt_counter")
				if err != nil || !ok {
					return false, err
				}
				ok, err = m.columnExists(ctx, "observations", "prompt_number")
				if err != nil || !ok {
					return false, err
				}
				return m.columnExists(ctx, "session_summaries", "prompt_number")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				if err := m.addColumn(ctx, "sdk_sessions", "prompt_counter", "INTEGER DEFAULT 0"); err != nil {
					return err
				}
				if err := m.addColumn(ctx, "observations", "prompt_number", "INTEGER"); err != nil {
					return err
				}
				return m.addColumn(ctx, "session_summaries", "prompt_number", "INTEGER")
			},
		},
		{
			Version: 7,
			Name:    "summaries_drop_unique",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				var n int
				err := m.db.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM pragma_index_list('session_summaries') WHERE "unique" = 1 AND origin = 'u'`,
				).Scan(&n)
				return n == 0, err
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.rebuildTable(ctx, summariesRebuild)
			},
		},
		{
			Version: 8,
			Name:    "observation_hierarchy",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				return m.columnsExist(ctx, "observations", hierarchicalColumns...)
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				for _, c := range hierarchicalColumns {
					if err := m.addColumn(ctx, "observations", c, "TEXT"); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version: 9,
			Name:    "observations_open_type",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				var notNull int
				err := m.db.QueryRowContext(ctx,
					`SELECT "notnull" FROM pragma_table_info('observations') WHERE name = 'text'`,
				).Scan(&notNull)
				if err != nil {
					return false, err
				}
				var ddl string
				err = m.db.QueryRowContext(ctx,
					`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'observations'`,
				).Scan(&ddl)
				if err != nil {
					return false, err
				}
				return notNull == 0 && !strings.Contains(strings.ToUpper(ddl), "CHECK(TYPE"), nil
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.rebuildTable(ctx, observationsRebuild)
			},
		},
		{
			Version: 10,
			Name:    "user_prompts",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				ok, err := m.tableExists(ctx, "user_prompts")
				if err != nil || !ok {
					return false, err
				}
				return m.tableExists(ctx, "user_prompts_fts")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.execAll(ctx, userPromptsDDL)
			},
		},
		{
			Version: 11,
			Name:    "discovery_tokens",
			Fatal:   true,
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				ok, err := m.columnExists(ctx, "observations", "discovery_tokens")
				if err != nil || !ok {
					return false, err
				}
				return m.columnExists(ctx, "session_summaries", "discovery_tokens")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				if err := m.addColumn(ctx, "observations", "discovery_tokens", "INTEGER DEFAULT 0"); err != nil {
					return err
				}
				return m.addColumn(ctx, "session_summaries", "discovery_tokens", "INTEGER DEFAULT 0")
			},
		},
		{
			Version: 12,
			Name:    "lexical_mirrors",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				ok, err := m.tableExists(ctx, "observations_fts")
				if err != nil || !ok {
					return false, err
				}
				return m.tableExists(ctx, "session_summaries_fts")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.execAll(ctx, lexicalMirrorDDL)
			},
		},
		{
			Version: 13,
			Name:    "session_metadata",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				return m.columnExists(ctx, "sdk_sessions", "metadata")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.addColumn(ctx, "sdk_sessions", "metadata", "TEXT")
			},
		},
		{
			Version: 16,
			Name:    "pending_messages",
			Fatal:   true,
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				return m.tableExists(ctx, "pending_messages")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.execAll(ctx, pendingMessagesDDL)
			},
		},
		{
			Version: 20,
			Name:    "pending_failed_at",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				return m.columnExists(ctx, "pending_messages", "failed_at_epoch")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.addColumn(ctx, "pending_messages", "failed_at_epoch", "INTEGER")
			},
		},
		{
			Version: 21,
			Name:    "read_tokens",
			Done: func(ctx context.Context, m *SchemaManager) (bool, error) {
				return m.columnExists(ctx, "observations", "read_tokens")
			},
			Apply: func(ctx context.Context, m *SchemaManager) error {
				return m.addColumn(ctx, "observations", "read_tokens", "INTEGER DEFAULT 0")
			},
		},
	}
}

var hierarchicalColumns = []string{
	"title", "subtitle", "facts", "narrative", "concepts", "files_read", "files_modified",
}
