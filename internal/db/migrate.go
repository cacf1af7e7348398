package db

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
)

// Migration is one schema change. Applied inspects the live schema and
// reports whether the change is already present; it runs even when the
// version ledger has no record, so databases whose ledger was lost or
// predates the ledger are never migrated twice. Apply runs inside a
// transaction.
type Migration struct {
	Version int
	Name    string
	Applied func(db *sql.DB) (bool, error)
	Apply   func(tx *sql.Tx) error
}

// RunAll brings the database up to the current schema. Each migration is
// recorded in schema_versions exactly once, whether it was applied or
// detected as already present.
func RunAll(conn *sql.DB, logger *log.Logger) error {
	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER UNIQUE NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range Migrations {
		recorded, err := versionRecorded(conn, m.Version)
		if err != nil {
			return err
		}
		if recorded {
			continue
		}

		applied := false
		if m.Applied != nil {
			applied, err = m.Applied(conn)
			if err != nil {
				return fmt.Errorf("migration %d (%s) check: %w", m.Version, m.Name, err)
			}
		}

		if !applied {
			logger.Info("applying migration", "version", m.Version, "name", m.Name)
			tx, err := conn.Begin()
			if err != nil {
				return fmt.Errorf("migration %d begin: %w", m.Version, err)
			}
			if err := m.Apply(tx); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("migration %d commit: %w", m.Version, err)
			}
		} else {
			logger.Debug("migration already present, recording", "version", m.Version, "name", m.Name)
		}

		if _, err := conn.Exec(
			`INSERT OR IGNORE INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`,
			m.Version,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func versionRecorded(conn *sql.DB, version int) (bool, error) {
	var n int
	err := conn.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, version).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read schema_versions: %w", err)
	}
	return n > 0, nil
}

// tableExists reports whether a table or virtual table exists.
func tableExists(conn *sql.DB, table string) (bool, error) {
	var n int
	err := conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?`, table,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// columnExists reports whether table has the named column.
func columnExists(conn *sql.DB, table, column string) (bool, error) {
	rows, err := conn.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// tableHasUniqueIndex reports whether the table carries a unique index
// covering exactly the given column.
func tableHasUniqueIndex(conn *sql.DB, table, column string) (bool, error) {
	rows, err := conn.Query(fmt.Sprintf(`PRAGMA index_list(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var uniqueIndexes []string
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if unique == 1 {
			uniqueIndexes = append(uniqueIndexes, name)
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	for _, idx := range uniqueIndexes {
		cols, err := indexColumns(conn, idx)
		if err != nil {
			return false, err
		}
		if len(cols) == 1 && cols[0] == column {
			return true, nil
		}
	}
	return false, nil
}

// tableSQL returns the CREATE TABLE statement recorded for a table, or ""
// when the table does not exist.
func tableSQL(conn *sql.DB, table string) (string, error) {
	var ddl sql.NullString
	err := conn.QueryRow(
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&ddl)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ddl.String, nil
}

func indexColumns(conn *sql.DB, index string) ([]string, error) {
	rows, err := conn.Query(fmt.Sprintf(`PRAGMA index_info(%s)`, index))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}
