package store

import (
	"fmt"
	"strings"

	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
)

const memoryDSN = ":memory:"

type dialect struct {
	driverName  string
	schema      []string
	findQuery   string
	insertQuery string
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + TableName + ` (
		id BIGSERIAL PRIMARY KEY,
		phone_number BIGINT UNIQUE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_` + TableName + `_phone_number ON ` + TableName + `(phone_number)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + TableName + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phone_number INTEGER UNIQUE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_` + TableName + `_phone_number ON ` + TableName + `(phone_number)`,
}

func postgresDialect(driverName string) dialect {
	return dialect{
		driverName:  driverName,
		schema:      postgresSchema,
		findQuery:   `SELECT id, phone_number FROM ` + TableName + ` WHERE phone_number = $1`,
		insertQuery: `INSERT INTO ` + TableName + ` (phone_number) VALUES ($1) RETURNING id`,
	}
}

func sqliteDialect() dialect {
	return dialect{
		driverName:  configpkg.DriverSQLite,
		schema:      sqliteSchema,
		findQuery:   `SELECT id, phone_number FROM ` + TableName + ` WHERE phone_number = ?`,
		insertQuery: `INSERT INTO ` + TableName + ` (phone_number) VALUES (?) RETURNING id`,
	}
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", configpkg.DriverPostgres, "postgresql":
		return postgresDialect(configpkg.DriverPostgres), nil
	case configpkg.DriverPgx:
		return postgresDialect(configpkg.DriverPgx), nil
	case configpkg.DriverSQLite, "sqlite":
		return sqliteDialect(), nil
	default:
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func (d dialect) dsn(cfg configpkg.StoreConfig) string {
	if d.driverName != configpkg.DriverSQLite {
		return cfg.DSN()
	}
	file := cfg.SQLiteFile
	if file == "" {
		file = memoryDSN
	}
	if file == memoryDSN || strings.Contains(file, "?") {
		return file
	}
	return file + "?_journal_mode=WAL&_busy_timeout=5000"
}

// singleConnection reports whether the pool must hold exactly one
// connection. Every new connection to ":memory:" is a fresh empty database.
func (d dialect) singleConnection(cfg configpkg.StoreConfig) bool {
	if d.driverName != configpkg.DriverSQLite {
		return false
	}
	return cfg.SQLiteFile == "" || cfg.SQLiteFile == memoryDSN
}
