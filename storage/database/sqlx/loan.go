package sqlxrepos

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/loan"
)

type (
	loanRepository struct {
		repository
	}

	loanRow struct {
		ID         int64     `db:"id" goqu:"skipinsert,skipupdate"`
		GUID       string    `db:"guid" goqu:"skipupdate"`
		UserGUID   string    `db:"user_guid" goqu:"skipupdate"`
		DeviceGUID string    `db:"device_guid" goqu:"skipupdate"`
		State      string    `db:"state"`
		LoanDate   time.Time `db:"loan_date" goqu:"skipupdate"`
		DueDate    time.Time `db:"due_date"`
		ClosedAt   null.Time `db:"closed_at"`
		Deleted    bool      `db:"deleted"`
		CreatedAt  time.Time `db:"created_at" goqu:"skipupdate"`
		UpdatedAt  time.Time `db:"updated_at"`
	}
)

var (
	_ loan.Repository = (*loanRepository)(nil) // interface compliance check

	loanSortable = map[string]bool{"guid": true, "state": true, "loan_date": true, "due_date": true, "created_at": true}
)

func NewLoanRepository(db *sqlx.DB) loan.Repository {
	return &loanRepository{repository: newRepository(db)}
}

func fromLoan(ln loan.Loan) loanRow {
	row := loanRow{
		ID:         ln.ID,
		GUID:       ln.GUID,
		UserGUID:   ln.UserGUID,
		DeviceGUID: ln.DeviceGUID,
		State:      string(ln.State),
		LoanDate:   ln.LoanDate.UTC(),
		DueDate:    ln.DueDate.UTC(),
		Deleted:    ln.Deleted,
		CreatedAt:  ln.CreatedAt.UTC(),
		UpdatedAt:  ln.UpdatedAt.UTC(),
	}
	if ln.ClosedAt != nil {
		row.ClosedAt = null.TimeFrom(ln.ClosedAt.UTC())
	}
	return row
}

func (row loanRow) toLoan() loan.Loan {
	ln := loan.Loan{
		ID:         row.ID,
		GUID:       row.GUID,
		UserGUID:   row.UserGUID,
		DeviceGUID: row.DeviceGUID,
		State:      loan.State(row.State),
		LoanDate:   row.LoanDate.UTC(),
		DueDate:    row.DueDate.UTC(),
		Deleted:    row.Deleted,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if row.ClosedAt.Valid {
		closedAt := row.ClosedAt.Time.UTC()
		ln.ClosedAt = &closedAt
	}
	return ln
}

func (repo *loanRepository) live() *goqu.SelectDataset {
	return dialect.From(tableLoan).Prepared(true).Where(goqu.C(colDeleted).IsFalse())
}

func (repo *loanRepository) CreateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error) {
	ds := dialect.Insert(tableLoan).Prepared(true).Rows(fromLoan(ln)).Returning(colID)
	if err := repo.get(ctx, &ln.ID, ds, loan.ErrNotFound); err != nil {
		return loan.Loan{}, err
	}
	return ln, nil
}

func (repo *loanRepository) GetLoan(ctx context.Context, guid string) (loan.Loan, error) {
	var row loanRow
	if err := repo.get(ctx, &row, repo.live().Where(goqu.C(colGUID).Eq(guid)), loan.ErrNotFound); err != nil {
		return loan.Loan{}, err
	}
	return row.toLoan(), nil
}

func (repo *loanRepository) QueryLoans(ctx context.Context, filter *loan.QueryFilter, ordering []core.DBOrdering) ([]loan.Loan, error) {
	ds := repo.live()

	if filter != nil {
		if filter.UserGUID != "" {
			ds = ds.Where(goqu.C(colUserGUID).Eq(filter.UserGUID))
		}
		if filter.DeviceGUID != "" {
			ds = ds.Where(goqu.C(colDeviceGUID).Eq(filter.DeviceGUID))
		}
		if len(filter.States) > 0 {
			states := make([]string, 0, len(filter.States))
			for _, s := range filter.States {
				states = append(states, string(s))
			}
			ds = ds.Where(goqu.C(colState).In(states))
		}
		if !filter.DueFrom.IsZero() {
			ds = ds.Where(goqu.C("due_date").Gte(filter.DueFrom.UTC()))
		}
		if !filter.DueBefore.IsZero() {
			ds = ds.Where(goqu.C("due_date").Lt(filter.DueBefore.UTC()))
		}
	}
	ds = ds.Order(orderedBy(ordering, loanSortable, goqu.I(colID).Asc())...)

	var rows []loanRow
	if err := repo.selectAll(ctx, &rows, ds); err != nil {
		return nil, err
	}
	loans := make([]loan.Loan, 0, len(rows))
	for _, row := range rows {
		loans = append(loans, row.toLoan())
	}
	return loans, nil
}

func (repo *loanRepository) MutateLoan(ctx context.Context, guid string, fn func(*loan.Loan) error) (loan.Loan, error) {
	var ln loan.Loan
	err := repo.tx.RunInTx(ctx, func(ctx context.Context) error {
		var row loanRow
		sel := repo.live().Where(goqu.C(colGUID).Eq(guid)).ForUpdate(exp.Wait)
		if err := repo.get(ctx, &row, sel, loan.ErrNotFound); err != nil {
			return err
		}

		ln = row.toLoan()
		if err := fn(&ln); err != nil {
			return err
		}
		return repo.exec(ctx, dialect.Update(tableLoan).Prepared(true).Set(fromLoan(ln)).Where(goqu.C(colID).Eq(ln.ID)))
	})
	if err != nil {
		return loan.Loan{}, err
	}
	return ln, nil
}
