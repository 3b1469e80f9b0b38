package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/airframesio/redshift-loader/cmd/loaderr"
	"github.com/airframesio/redshift-loader/cmd/table"
)

// Bootstrapper recreates the destination table so that it is empty and typed like the
// source table before the bulk load.
type Bootstrapper struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewBootstrapper creates a Bootstrapper
func NewBootstrapper(db *sql.DB, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{db: db, logger: logger}
}

// Statements returns the DDL and DML Bootstrap runs, in order.
func Statements(ref TableRef, columns []table.Column) (drop, create, insert, del, count string) {
	defs := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = fmt.Sprintf("%s %s", pq.QuoteIdentifier(col.Name), ColumnType(col.Type))
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	quoted := ref.Quoted()
	drop = "DROP TABLE IF EXISTS " + quoted
	create = fmt.Sprintf("CREATE TABLE %s (%s)", quoted, strings.Join(defs, ", "))
	insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoted, quoteColumns(columns), strings.Join(placeholders, ", "))
	del = "DELETE FROM " + quoted
	count = "SELECT COUNT(*) FROM " + quoted
	return drop, create, insert, del, count
}

// Bootstrap drops and recreates ref, writes the first row of tbl, deletes it again and
// verifies the table is empty, all in one transaction. An empty tbl only creates the
// table.
func (b *Bootstrapper) Bootstrap(ctx context.Context, ref TableRef, tbl *table.Table) error {
	drop, create, insert, del, count := Statements(ref, tbl.Columns())

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, loaderr.ErrSchema, "failed to begin bootstrap of %s", ref)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, drop); err != nil {
		return classify(err, loaderr.ErrSchema, "failed to drop %s", ref)
	}
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return classify(err, loaderr.ErrSchema, "failed to create %s", ref)
	}
	b.logger.Debug(fmt.Sprintf("  🏗️  %s", create))

	if tbl.Len() > 0 {
		if _, err := tx.ExecContext(ctx, insert, tbl.Row(0)...); err != nil {
			return classify(err, loaderr.ErrSchema, "failed to insert sample row into %s", ref)
		}
		if _, err := tx.ExecContext(ctx, del); err != nil {
			return classify(err, loaderr.ErrSchema, "failed to delete sample row from %s", ref)
		}
	}

	var rows int64
	if err := tx.QueryRowContext(ctx, count).Scan(&rows); err != nil {
		return classify(err, loaderr.ErrSchema, "failed to verify %s is empty", ref)
	}
	if rows != 0 {
		return fmt.Errorf("%w: %s has %d rows after bootstrap", loaderr.ErrSchema, ref, rows)
	}

	if err := tx.Commit(); err != nil {
		return classify(err, loaderr.ErrSchema, "failed to commit bootstrap of %s", ref)
	}

	b.logger.Info(fmt.Sprintf("🏗️  Created %s with %d columns", ref, len(tbl.Columns())))
	return nil
}
