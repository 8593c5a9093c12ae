// database/staging_store.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/gewnthar/lobbying/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// maxBindParams is the bind parameter limit shared by Postgres and MySQL.
const maxBindParams = 65535

// mysqlIndexPrefix is the key prefix length used to index TEXT columns.
const mysqlIndexPrefix = 191

// Store is a connection handle for a SQL strategy. It writes into a staging
// table whose columns are all TEXT.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
	// Name is the strategy that opened the connection.
	Name string
	// UseCopy switches Postgres batch writes to COPY FROM STDIN.
	UseCopy bool
	Logger  *slog.Logger
}

func NewStore(db *sql.DB, dialect Dialect, name string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{DB: db, Dialect: dialect, Name: name, Logger: logger}
}

func (s *Store) Strategy() string { return s.Name }

func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// CreateTableSQL returns the statements that create table with one TEXT
// column per entry in columns, followed by the indexes on indexColumns that
// exist in columns. With recreate the table is dropped first; otherwise an
// existing table is kept.
func (d Dialect) CreateTableSQL(table string, columns, indexColumns []string, recreate bool) []string {
	var stmts []string
	if recreate {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+d.QuoteIdent(table))
	}

	defs := make([]string, 0, len(columns)+len(indexColumns))
	for _, c := range columns {
		defs = append(defs, d.QuoteIdent(c)+" TEXT")
	}

	var indexed []string
	for _, c := range indexColumns {
		if slices.Contains(columns, c) && !slices.Contains(indexed, c) {
			indexed = append(indexed, c)
		}
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS, so its keys go inline.
	if d.Name == DriverMySQL {
		for _, c := range indexed {
			defs = append(defs, fmt.Sprintf("INDEX %s (%s(%d))", d.QuoteIdent(indexName(table, c)), d.QuoteIdent(c), mysqlIndexPrefix))
		}
	}

	create := "CREATE TABLE "
	if !recreate {
		create += "IF NOT EXISTS "
	}
	stmts = append(stmts, create+d.QuoteIdent(table)+" (\n    "+strings.Join(defs, ",\n    ")+"\n)")

	if d.Name != DriverMySQL {
		for _, c := range indexed {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				d.QuoteIdent(indexName(table, c)), d.QuoteIdent(table), d.QuoteIdent(c)))
		}
	}
	return stmts
}

// indexName builds idx_<table>_<column>, cut to the 63-byte identifier limit.
func indexName(table, column string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	name := "idx_" + table + "_" + column
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// EnsureTable creates the staging table and its indexes.
func (s *Store) EnsureTable(ctx context.Context, table string, columns, indexColumns []string, recreate bool) error {
	if len(columns) == 0 {
		return fmt.Errorf("failed to create table %s: no columns", table)
	}
	for _, stmt := range s.Dialect.CreateTableSQL(table, columns, indexColumns, recreate) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare table %s: %w", table, err)
		}
	}
	s.Logger.Info("staging table ready",
		slog.String("table", table),
		slog.Int("columns", len(columns)),
		slog.Bool("recreated", recreate))
	return nil
}

// InsertBatch writes batch atomically: either every row is committed or none.
func (s *Store) InsertBatch(ctx context.Context, table string, batch models.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	if s.UseCopy && s.Dialect.Name == DriverPostgres {
		return s.copyBatch(ctx, table, batch)
	}
	return s.insertBatch(ctx, table, batch)
}

func (s *Store) insertBatch(ctx context.Context, table string, batch models.Batch) error {
	columns := batch.Columns()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	perStmt := max(1, maxBindParams/len(columns))
	for start := 0; start < len(batch); start += perStmt {
		end := min(start+perStmt, len(batch))
		query, args := s.insertSQL(table, columns, batch[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert rows %d-%d into %s: %w", start+1, end, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch into %s: %w", table, err)
	}
	return nil
}

// insertSQL builds one multi-row INSERT. Short rows are padded with empty
// strings.
func (s *Store) insertSQL(table string, columns []string, rows models.Batch) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.Dialect.QuoteIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(s.Dialect.QuoteIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	n := 1
	for r, rec := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.Dialect.Placeholder(n))
			n++
			v := ""
			if i < len(rec.Values) {
				v = rec.Values[i]
			}
			args = append(args, v)
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// copyBatch streams the batch with a single COPY, which Postgres applies
// atomically.
func (s *Store) copyBatch(ctx context.Context, table string, batch models.Batch) error {
	columns := batch.Columns()
	rows := make([][]any, len(batch))
	for r, rec := range batch {
		row := make([]any, len(columns))
		for i := range columns {
			v := ""
			if i < len(rec.Values) {
				v = rec.Values[i]
			}
			row[i] = v
		}
		rows[r] = row
	}

	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return errors.New("COPY requires the pgx driver")
		}
		n, err := sc.Conn().CopyFrom(ctx, pgx.Identifier(strings.Split(table, ".")), columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy batch into %s: %w", table, err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("failed to copy batch into %s: copied %d of %d rows", table, n, len(rows))
		}
		return nil
	})
}
