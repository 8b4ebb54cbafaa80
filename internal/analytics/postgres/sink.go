// Package postgres stores analytics rows in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/backoffice/internal/analytics"
	"github.com/xenking/backoffice/internal/domain/errs"
)

var _ analytics.Sink = (*Sink)(nil)

// Sink inserts rows into the migrated analytics tables.
type Sink struct {
	pool   *pgxpool.Pool
	tables map[string]struct{}
}

// NewSink returns a Sink over pool. Only the known analytics tables are
// writable.
func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{
		pool: pool,
		tables: map[string]struct{}{
			analytics.TablePromoCodeUsage: {},
			analytics.TableOrders:         {},
		},
	}
}

// Insert appends row to table. A row whose event_id is already stored is a
// redelivery and is silently dropped.
func (s *Sink) Insert(ctx context.Context, table string, row analytics.Row) error {
	if _, ok := s.tables[table]; !ok {
		return errors.Errorf("unknown analytics table %q", table)
	}
	query, args := insertQuery(table, row)

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return nil
			}
			if pgerrcode.IsConnectionException(pgErr.Code) || pgerrcode.IsInsufficientResources(pgErr.Code) {
				return errs.Transient("insert "+table, err)
			}
			return errors.Wrapf(err, "insert %s", table)
		}
		if pgconn.Timeout(err) {
			return errs.Transient("insert "+table, err)
		}
		return errors.Wrapf(err, "insert %s", table)
	}
	return nil
}

// insertQuery builds a parameterized INSERT with columns in sorted order.
func insertQuery(table string, row analytics.Row) (string, []any) {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	slices.Sort(cols)

	idents := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		idents[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(idents, ", "),
		strings.Join(placeholders, ", "),
	)
	return query, args
}
