// database/connection.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gewnthar/lobbying/config"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

// Driver names as they appear in config.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Open opens a pool for driver and pings it. The ping is bounded by ctx, so the
// caller's deadline decides how long an unreachable server may take.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sqlDriver := driver
	if driver == DriverPostgres {
		sqlDriver = "pgx"
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	// One writer at a time; a small pool is enough.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	logger.Debug("database connection established", slog.String("driver", driver))
	return db, nil
}

// DSN builds the connection string for cfg.Driver on the given port.
func DSN(cfg config.DatabaseConfig, port int, timeout time.Duration) string {
	if cfg.Driver == DriverMySQL {
		return MySQLDSN(cfg, port, timeout)
	}
	return PostgresDSN(cfg, port, timeout)
}

// PostgresDSN builds a key=value connection string.
func PostgresDSN(cfg config.DatabaseConfig, port int, timeout time.Duration) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + dsnValue(host),
		"port=" + strconv.Itoa(port),
		"dbname=" + dsnValue(cfg.DBName),
		"sslmode=" + dsnValue(sslmode),
	}
	if cfg.User != "" {
		parts = append(parts, "user="+dsnValue(cfg.User))
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+dsnValue(cfg.Password))
	}
	if secs := int(timeout.Round(time.Second) / time.Second); secs > 0 {
		parts = append(parts, "connect_timeout="+strconv.Itoa(secs))
	}
	return strings.Join(parts, " ")
}

// dsnValue quotes a key=value DSN value when it is empty or holds spaces,
// quotes or backslashes.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// MySQLDSN builds a go-sql-driver/mysql DSN. sslmode maps to the driver's tls
// parameter.
func MySQLDSN(cfg config.DatabaseConfig, port int, timeout time.Duration) string {
	if port == 0 {
		port = 3306
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = cfg.DBName
	mc.Timeout = timeout
	mc.ParseTime = true
	switch cfg.SSLMode {
	case "require", "verify-ca", "verify-full":
		mc.TLSConfig = "true"
	case "disable", "":
		mc.TLSConfig = "false"
	default:
		mc.TLSConfig = "preferred"
	}
	return mc.FormatDSN()
}
