package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const entriesTable = "ledger_entries"

func (s *Store) initializeSchema(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case "sqlite3":
		ddl = `CREATE TABLE IF NOT EXISTS ledger_entries (
			bucket TEXT NOT NULL,
			item   TEXT NOT NULL,
			value  BLOB NOT NULL,
			PRIMARY KEY (bucket, item)
		)`
	case "postgres":
		ddl = `CREATE TABLE IF NOT EXISTS ledger_entries (
			bucket TEXT NOT NULL,
			item   TEXT NOT NULL,
			value  BYTEA NOT NULL,
			PRIMARY KEY (bucket, item)
		)`
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDriver, s.driver)
	}

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", entriesTable, err)
	}
	return nil
}

// rebind rewrites ? placeholders into the driver's bind syntax.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
