// Package store prepares the database backing the WhatsApp session store.
//
// SendLater keeps no data of its own: scheduled messages live in the
// scheduling service. The only local database is the whatsmeow device store,
// which may be SQLite (default) or PostgreSQL. Both drivers are registered here.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names registered with database/sql.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

// ErrEmptyDSN is returned when no connection string is configured.
var ErrEmptyDSN = errors.New("database DSN not set")

// DetectDSNType returns the database/sql driver name for dsn.
// URLs with a postgres scheme and libpq key=value strings are PostgreSQL;
// everything else is treated as an SQLite path or file: URI.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	if strings.Contains(dsn, "=") && !strings.HasPrefix(lower, "file:") && !strings.Contains(dsn, "?") {
		for _, key := range []string{"host=", "user=", "dbname=", "password=", "sslmode="} {
			if strings.Contains(lower, key) {
				return DriverPostgres
			}
		}
	}
	return DriverSQLite
}

// HasForeignKeys reports whether an SQLite DSN enables foreign keys, which
// whatsmeow requires for its schema. PostgreSQL DSNs always report true.
func HasForeignKeys(dsn string) bool {
	if DetectDSNType(dsn) == DriverPostgres {
		return true
	}
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// SQLitePath extracts the file path from an SQLite DSN ("/x.db", "file:/x.db?..").
// It returns "" for in-memory databases.
func SQLitePath(dsn string) string {
	path := strings.TrimSpace(dsn)
	if strings.HasPrefix(path, "file:") {
		path = strings.TrimPrefix(path, "file:")
		if u, err := url.Parse("file:" + path); err == nil && u.Opaque == "" {
			path = u.Path
		}
	}
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// Prepare validates dsn and returns the driver to open it with. For SQLite it
// creates the parent directory of the database file and warns when foreign
// keys are not enabled.
func Prepare(dsn string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", ErrEmptyDSN
	}
	driver := DetectDSNType(dsn)
	if driver == DriverPostgres {
		slog.Debug("store.Prepare: PostgreSQL DSN detected")
		return driver, nil
	}

	if !HasForeignKeys(dsn) {
		slog.Warn("store.Prepare: SQLite database does not appear to have foreign keys enabled; "+
			"consider adding '?_foreign_keys=on' to the connection string", "dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}
	if path := SQLitePath(dsn); path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("store.Prepare: failed to create database directory", "error", err, "dir", dir)
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("store.Prepare: SQLite database directory verified/created", "dir", dir)
	}
	return driver, nil
}
