package sqlite

import (
	"database/sql"
	"fmt"
)

func initDatabase(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			date TEXT NOT NULL,
			pair TEXT NOT NULL,
			direction TEXT NOT NULL CHECK(direction IN ('Long', 'Short')),
			session TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			risk TEXT NOT NULL,
			result_r TEXT NOT NULL,
			result_usd TEXT NOT NULL,
			setup_tag TEXT,
			mood TEXT CHECK(mood IS NULL OR mood IN ('Calm', 'Focused', 'Tilted', 'Revenge', 'Fearful')),
			notes TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	// Journals created before screenshots were supported lack the column.
	hasScreenshot, err := tableHasColumn(tx, "trades", "screenshot_url")
	if err != nil {
		return err
	}
	if !hasScreenshot {
		if err := exec(tx, "ALTER TABLE trades ADD COLUMN screenshot_url TEXT"); err != nil {
			return err
		}
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS change_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL CHECK(kind IN ('INSERT', 'UPDATE', 'DELETE')),
			trade_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			payload TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_trades_user_date ON trades(user_id, date)",
		"CREATE INDEX IF NOT EXISTS idx_change_log_user ON change_log(user_id, seq)",
	}
	for _, idx := range indexes {
		if err := exec(tx, idx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func exec(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

func tableExists(tx *sql.Tx, table string) (bool, error) {
	var name string
	err := tx.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tableHasColumn(tx *sql.Tx, table, column string) (bool, error) {
	exists, err := tableExists(tx, table)
	if err != nil || !exists {
		return false, err
	}
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
