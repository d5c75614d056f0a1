package goals

import (
	"context"
	"database/sql"
	"errors"
	"os"

	"github.com/rs/zerolog"
)

// ApplyPragmas applies optional SQLite tuning statements when enabled via the
// GNASTY_SQLITE_TUNING environment variable. Each pragma result is logged at
// info level.
func ApplyPragmas(ctx context.Context, db *sql.DB, log zerolog.Logger) {
	if os.Getenv("GNASTY_SQLITE_TUNING") != "1" {
		return
	}

	pragmas := []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA wal_autocheckpoint=1000;",
		"PRAGMA temp_store=MEMORY;",
	}

	for _, pragma := range pragmas {
		if value, err := applyPragma(ctx, db, pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("goals: pragma failed")
		} else {
			log.Info().Str("pragma", pragma).Interface("value", value).Msg("goals: pragma applied")
		}
	}
}

func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	row := db.QueryRowContext(ctx, pragma)
	var value any
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				return nil, execErr
			}
			return "ok", nil
		}
		return nil, err
	}
	return value, nil
}
