// Package sqlxrepos implements the repositories on postgres with sqlx, building the SQL with goqu.
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/storage/database"
)

const (
	dialectPostgres   = "postgres"
	pqUniqueViolation = "23505"
	pqFKViolation     = "23503"

	tableUser     = "user"
	tableDevice   = "device"
	tableLoan     = "loan"
	tableSanction = "sanction"
	tableIncident = "incident"

	colID         = "id"
	colGUID       = "guid"
	colUserGUID   = "user_guid"
	colDeviceGUID = "device_guid"
	colLoanGUID   = "loan_guid"
	colState      = "state"
	colDeleted    = "deleted"
	colCreatedAt  = "created_at"
)

var dialect = goqu.Dialect(dialectPostgres)

// sqlBuilder is any goqu dataset.
type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

// repository holds what every postgres repository needs: queries run in the transaction carried by
// the context, or on the DB.
type repository struct {
	tx *database.Transactor
}

func newRepository(db *sqlx.DB) repository {
	return repository{tx: database.NewTransactor(db)}
}

func (repo repository) get(ctx context.Context, dest interface{}, b sqlBuilder, notFound error) error {
	q, args, err := b.ToSQL()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if err = repo.tx.Executor(ctx).GetContext(ctx, dest, q, args...); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return notFound
		}
		return core.NewStorageError(err, "querying")
	}
	return nil
}

func (repo repository) selectAll(ctx context.Context, dest interface{}, b sqlBuilder) error {
	q, args, err := b.ToSQL()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if err = repo.tx.Executor(ctx).SelectContext(ctx, dest, q, args...); err != nil {
		return core.NewStorageError(err, "querying")
	}
	return nil
}

func (repo repository) exec(ctx context.Context, b sqlBuilder) error {
	q, args, err := b.ToSQL()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err = repo.tx.Executor(ctx).ExecContext(ctx, q, args...); err != nil {
		return core.NewStorageError(err, "executing")
	}
	return nil
}

// nextID reserves the next surrogate id of table, for rows whose GUID derives from it.
func (repo repository) nextID(ctx context.Context, table string) (int64, error) {
	var id int64
	b := dialect.Select(goqu.Func("nextval", goqu.V(table+"_id_seq"))).Prepared(true)
	if err := repo.get(ctx, &id, b, sql.ErrNoRows); err != nil {
		return 0, err
	}
	return id, nil
}

// orderedBy turns orderings into ORDER BY expressions, ignoring fields that are not sortable.
// fallback orders ties and unordered queries.
func orderedBy(ordering []core.DBOrdering, sortable map[string]bool, fallback exp.OrderedExpression) []exp.OrderedExpression {
	exprs := make([]exp.OrderedExpression, 0, len(ordering)+1)
	for _, ord := range ordering {
		if !sortable[ord.Field] {
			continue
		}
		if ord.Ascending {
			exprs = append(exprs, goqu.I(ord.Field).Asc())
		} else {
			exprs = append(exprs, goqu.I(ord.Field).Desc())
		}
	}
	return append(exprs, fallback)
}

// uniqueViolation returns the constraint violated by err, if err is a unique violation.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// foreignKeyViolation reports whether err is raised by a row still referenced from another table.
func foreignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqFKViolation
}
