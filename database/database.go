package database

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Querier is satisfied by *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// InitDB opens the attendance ledger database and ensures its schema
func InitDB(dataSourceName string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", withSQLitePragmas(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable write-ahead Logging for better concurrency
	_, err = db.Exec("PRAGMA journal_mode=WAL;")
	if err != nil {
		logger.Warn("failed to set WAL mode", zap.Error(err))
	}

	if err := ensureLedgerSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger database initialized", zap.String("path", dataSourceName))
	return db, nil
}

func ensureLedgerSchema(db *sql.DB) error {
	sqlStmt := `
	CREATE TABLE IF NOT EXISTS attendance_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		recorded_by INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(student_id, date)
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_entries_date ON attendance_entries(date);
	`
	if _, err := db.Exec(sqlStmt); err != nil {
		return fmt.Errorf("failed to create attendance_entries table: %w", err)
	}
	return nil
}

// withSQLitePragmas appends the connection options every handle in this
// service relies on: a busy timeout and immediate write transactions.
func withSQLitePragmas(dsn string) string {
	sep := "?"
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == '?' {
			sep = "&"
			break
		}
	}
	return dsn + sep + "_busy_timeout=5000&_txlock=immediate"
}
