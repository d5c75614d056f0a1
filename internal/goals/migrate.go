package goals

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const schemaVersion = 2

type column struct {
	Name    string
	Type    string
	NotNull bool
	Default string
}

// migrate brings the schema to schemaVersion. Version 1 had no goal targets
// and no contribution index; both are added in place.
func migrate(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	version, err := userVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}
	log.Debug().Str("path", dbPath(ctx, db)).Int("user_version", version).Msg("goals: sqlite opened")

	base := []string{
		`CREATE TABLE IF NOT EXISTS goals (
  currency TEXT PRIMARY KEY,
  total REAL NOT NULL DEFAULT 0,
  contributions INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS contributions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  platform TEXT NOT NULL,
  username TEXT NOT NULL,
  currency TEXT NOT NULL,
  amount REAL NOT NULL
);`,
	}
	for _, stmt := range base {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}

	columns, err := tableInfo(ctx, db, "goals")
	if err != nil {
		return fmt.Errorf("sqlite: describe goals: %w", err)
	}
	if _, ok := columns["target"]; !ok {
		if _, err := db.ExecContext(ctx, `ALTER TABLE goals ADD COLUMN target REAL NOT NULL DEFAULT 0;`); err != nil {
			return fmt.Errorf("sqlite: ensure target column: %w", err)
		}
		log.Info().Msg("goals: added target column")
	}

	indexed, err := hasIndex(ctx, db, "contributions", "contributions_currency")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}
	if !indexed {
		if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS contributions_currency
        ON contributions(currency, id);`); err != nil {
			return fmt.Errorf("sqlite: ensure contributions_currency: %w", err)
		}
	}

	if version < schemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
			return fmt.Errorf("sqlite: set user_version: %w", err)
		}
	}
	return nil
}

func dbPath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func tableInfo(ctx context.Context, db *sql.DB, table string) (map[string]column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]column)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(name))] = column{
			Name:    name,
			Type:    strings.TrimSpace(colType),
			NotNull: notNull == 1,
			Default: strings.TrimSpace(defaultVal.String),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func hasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return false, nil
}
