// Package dialect abstracts the SQL differences between the embedded
// sqlite profile used for dev/test and the postgres profile used in
// production.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns the dialect name.
	Name() string

	// DriverName returns the database/sql driver name to use.
	DriverName() string

	// Rebind converts ? placeholders to the dialect's format.
	Rebind(query string) string

	// TimestampType returns the SQL type for timestamps.
	TimestampType() string

	// InitStatements returns dialect-specific statements run at open.
	InitStatements() []string
}

// FromDriverName returns the dialect for a configured driver name.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "postgres", "pgx":
		return &postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

type sqliteDialect struct{}

func (d *sqliteDialect) Name() string       { return "sqlite" }
func (d *sqliteDialect) DriverName() string { return "sqlite" }

func (d *sqliteDialect) Rebind(query string) string { return query }

func (d *sqliteDialect) TimestampType() string { return "TIMESTAMP" }

func (d *sqliteDialect) InitStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
}

type postgresDialect struct{}

func (d *postgresDialect) Name() string       { return "postgres" }
func (d *postgresDialect) DriverName() string { return "pgx" }

func (d *postgresDialect) Rebind(query string) string {
	var b strings.Builder
	idx := 1
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&b, "$%d", idx)
			idx++
		} else {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func (d *postgresDialect) TimestampType() string { return "TIMESTAMP WITH TIME ZONE" }

func (d *postgresDialect) InitStatements() []string { return nil }
