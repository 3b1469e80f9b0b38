// Package warehouse talks to Redshift: it opens the connection, bootstraps the
// destination table and issues the COPY that ingests the staged files.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/airframesio/redshift-loader/cmd/loaderr"
	"github.com/airframesio/redshift-loader/cmd/table"
)

// ConnectionConfig holds the parameters of a warehouse session.
type ConnectionConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// ConnectTimeout is in seconds; 0 waits indefinitely.
	ConnectTimeout int
}

// DSN renders the config as a lib/pq key/value connection string.
func (c ConnectionConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	parts := []string{
		"host=" + quoteDSNValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + quoteDSNValue(c.User),
		"password=" + quoteDSNValue(c.Password),
		"dbname=" + quoteDSNValue(c.Database),
		"sslmode=" + quoteDSNValue(sslMode),
	}
	if c.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", c.ConnectTimeout))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Connect opens and pings a warehouse session.
func Connect(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, loaderr.Wrap(loaderr.ErrConnection, err, "failed to open connection to %s:%d", cfg.Host, cfg.Port)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify(err, loaderr.ErrConnection, "failed to connect to %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}
	return db, nil
}

// TableRef identifies the destination table.
type TableRef struct {
	Schema string
	Name   string
}

// Quoted returns the schema-qualified, quoted identifier.
func (t TableRef) Quoted() string {
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

func (t TableRef) String() string {
	return t.Schema + "." + t.Name
}

// ColumnType maps a column type to the Redshift type used when creating the table.
func ColumnType(t table.Type) string {
	switch t {
	case table.TypeInt:
		return "BIGINT"
	case table.TypeFloat:
		return "DOUBLE PRECISION"
	case table.TypeBool:
		return "BOOLEAN"
	case table.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR(MAX)"
	}
}

func quoteColumns(columns []table.Column) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col.Name)
	}
	return strings.Join(quoted, ", ")
}

// isConnectionError checks if an error is due to a closed or broken database connection
func isConnectionError(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "bad connection") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "sql: database is closed")
}

// isAuthorizationError reports rejected logins, missing privileges and S3 access
// failures surfaced by COPY.
func isAuthorizationError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28000", "28P01", "42501":
			return true
		}
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "access denied") ||
		strings.Contains(errStr, "not authorized") ||
		strings.Contains(errStr, "invalidaccesskeyid") ||
		strings.Contains(errStr, "signaturedoesnotmatch") ||
		strings.Contains(errStr, "password authentication failed")
}

// classify wraps err with its category. Authorization failures outside of loading are
// credential errors; during loading they are both load and credential errors.
func classify(err error, fallback error, format string, args ...interface{}) error {
	switch {
	case isConnectionError(err):
		return loaderr.Wrap(loaderr.ErrConnection, err, format, args...)
	case isAuthorizationError(err) && fallback == loaderr.ErrLoad:
		return fmt.Errorf("%w: %w", loaderr.ErrCredential, loaderr.Wrap(loaderr.ErrLoad, err, format, args...))
	case isAuthorizationError(err):
		return loaderr.Wrap(loaderr.ErrCredential, err, format, args...)
	default:
		return loaderr.Wrap(fallback, err, format, args...)
	}
}
