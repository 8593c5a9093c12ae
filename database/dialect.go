// database/dialect.go
package database

import (
	"strconv"
	"strings"
)

// Dialect holds the SQL differences between the supported drivers.
type Dialect struct {
	Name          string
	quote         string
	numbered      bool
	TimestampType string
	KeyType       string
}

var (
	Postgres = Dialect{Name: DriverPostgres, quote: `"`, numbered: true, TimestampType: "TIMESTAMPTZ", KeyType: "TEXT"}
	MySQL    = Dialect{Name: DriverMySQL, quote: "`", numbered: false, TimestampType: "DATETIME", KeyType: "VARCHAR(36)"}
)

// DialectFor returns the dialect for a config driver name.
func DialectFor(driver string) Dialect {
	if driver == DriverMySQL {
		return MySQL
	}
	return Postgres
}

// QuoteIdent quotes an identifier. Dotted names are quoted per part.
func (d Dialect) QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.quote + strings.ReplaceAll(p, d.quote, d.quote+d.quote) + d.quote
	}
	return strings.Join(parts, ".")
}

// Placeholder returns the bind parameter for the n-th argument, 1-based.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}
