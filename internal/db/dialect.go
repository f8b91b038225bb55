package db

import (
	"strconv"
	"strings"
)

// Dialect covers the few SQL differences between the supported drivers.
// Queries are written with ? placeholders and rebound per dialect.
type Dialect struct {
	Driver string
}

func DialectFor(driver string) Dialect {
	if driver == "" {
		driver = DriverSQLite
	}
	return Dialect{Driver: driver}
}

func (d Dialect) Postgres() bool { return d.Driver == DriverPostgres }

// Rebind rewrites ? placeholders into $n for postgres. Question marks inside
// single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.Postgres() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ForUpdate returns the row-locking suffix for guard reads. SQLite serializes
// writers through its single connection and needs none.
func (d Dialect) ForUpdate() string {
	if d.Postgres() {
		return " FOR UPDATE"
	}
	return ""
}

// IsUniqueViolation reports whether err came from a unique constraint.
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if d.Postgres() {
		return strings.Contains(msg, "sqlstate 23505") || strings.Contains(msg, "duplicate key")
	}
	return strings.Contains(msg, "unique constraint failed")
}
