package sqlxrepos

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/sanction"
)

type (
	sanctionRepository struct {
		repository
	}

	sanctionRow struct {
		ID           int64       `db:"id" goqu:"skipupdate"`
		GUID         string      `db:"guid" goqu:"skipupdate"`
		UserGUID     string      `db:"user_guid" goqu:"skipupdate"`
		LoanGUID     null.String `db:"loan_guid" goqu:"skipupdate"`
		Type         string      `db:"type"`
		SanctionDate time.Time   `db:"sanction_date" goqu:"skipupdate"`
		EndDate      null.Time   `db:"end_date"`
		Deleted      bool        `db:"deleted"`
		CreatedAt    time.Time   `db:"created_at" goqu:"skipupdate"`
		UpdatedAt    time.Time   `db:"updated_at"`
	}
)

var (
	_ sanction.Repository = (*sanctionRepository)(nil) // interface compliance check

	sanctionSortable = map[string]bool{"guid": true, "type": true, "sanction_date": true, "created_at": true}
)

func NewSanctionRepository(db *sqlx.DB) sanction.Repository {
	return &sanctionRepository{repository: newRepository(db)}
}

func fromSanction(s sanction.Sanction) sanctionRow {
	row := sanctionRow{
		ID:           s.ID,
		GUID:         s.GUID,
		UserGUID:     s.UserGUID,
		LoanGUID:     null.NewString(s.LoanGUID, s.LoanGUID != ""),
		Type:         string(s.Type),
		SanctionDate: s.SanctionDate.UTC(),
		Deleted:      s.Deleted,
		CreatedAt:    s.CreatedAt.UTC(),
		UpdatedAt:    s.UpdatedAt.UTC(),
	}
	if s.EndDate != nil {
		row.EndDate = null.TimeFrom(s.EndDate.UTC())
	}
	return row
}

func (row sanctionRow) toSanction() sanction.Sanction {
	s := sanction.Sanction{
		ID:           row.ID,
		GUID:         row.GUID,
		UserGUID:     row.UserGUID,
		LoanGUID:     row.LoanGUID.String,
		Type:         sanction.Type(row.Type),
		SanctionDate: row.SanctionDate.UTC(),
		Deleted:      row.Deleted,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.EndDate.Valid {
		end := row.EndDate.Time.UTC()
		s.EndDate = &end
	}
	return s
}

func (repo *sanctionRepository) live() *goqu.SelectDataset {
	return dialect.From(tableSanction).Prepared(true).Where(goqu.C(colDeleted).IsFalse())
}

func (repo *sanctionRepository) CreateSanction(ctx context.Context, s sanction.Sanction) (sanction.Sanction, error) {
	id, err := repo.nextID(ctx, tableSanction)
	if err != nil {
		return sanction.Sanction{}, err
	}
	s.ID = id
	s.GUID = core.SequentialGUID(core.SanctionPrefix, id)

	if err = repo.exec(ctx, dialect.Insert(tableSanction).Prepared(true).Rows(fromSanction(s))); err != nil {
		return sanction.Sanction{}, err
	}
	return s, nil
}

func (repo *sanctionRepository) GetSanction(ctx context.Context, guid string) (sanction.Sanction, error) {
	var row sanctionRow
	if err := repo.get(ctx, &row, repo.live().Where(goqu.C(colGUID).Eq(guid)), sanction.ErrNotFound); err != nil {
		return sanction.Sanction{}, err
	}
	return row.toSanction(), nil
}

func (repo *sanctionRepository) GetSanctionByLoan(ctx context.Context, loanGUID string) (sanction.Sanction, error) {
	var row sanctionRow
	ds := dialect.From(tableSanction).Prepared(true).Where(goqu.C(colLoanGUID).Eq(loanGUID))
	if err := repo.get(ctx, &row, ds, sanction.ErrNotFound); err != nil {
		return sanction.Sanction{}, err
	}
	return row.toSanction(), nil
}

func (repo *sanctionRepository) QuerySanctions(ctx context.Context, filter *sanction.QueryFilter, ordering []core.DBOrdering) ([]sanction.Sanction, error) {
	ds := repo.live()

	if filter != nil {
		if filter.UserGUID != "" {
			ds = ds.Where(goqu.C(colUserGUID).Eq(filter.UserGUID))
		}
		if filter.LoanGUID != "" {
			ds = ds.Where(goqu.C(colLoanGUID).Eq(filter.LoanGUID))
		}
		if len(filter.Types) > 0 {
			types := make([]string, 0, len(filter.Types))
			for _, t := range filter.Types {
				types = append(types, string(t))
			}
			ds = ds.Where(goqu.C("type").In(types))
		}
		if !filter.IssuedFrom.IsZero() {
			ds = ds.Where(goqu.C("sanction_date").Gte(filter.IssuedFrom.UTC()))
		}
		if !filter.IssuedTo.IsZero() {
			ds = ds.Where(goqu.C("sanction_date").Lte(filter.IssuedTo.UTC()))
		}
	}
	ds = ds.Order(orderedBy(ordering, sanctionSortable, goqu.I(colID).Asc())...)

	var rows []sanctionRow
	if err := repo.selectAll(ctx, &rows, ds); err != nil {
		return nil, err
	}
	sanctions := make([]sanction.Sanction, 0, len(rows))
	for _, row := range rows {
		sanctions = append(sanctions, row.toSanction())
	}
	return sanctions, nil
}

func (repo *sanctionRepository) CountSanctions(ctx context.Context, userGUID string, since time.Time) (int, error) {
	var count int
	ds := repo.live().
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(colUserGUID).Eq(userGUID), goqu.C("sanction_date").Gte(since.UTC()))
	if err := repo.get(ctx, &count, ds, sanction.ErrNotFound); err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *sanctionRepository) MutateSanction(ctx context.Context, guid string, fn func(*sanction.Sanction) error) (sanction.Sanction, error) {
	var s sanction.Sanction
	err := repo.tx.RunInTx(ctx, func(ctx context.Context) error {
		var row sanctionRow
		sel := repo.live().Where(goqu.C(colGUID).Eq(guid)).ForUpdate(exp.Wait)
		if err := repo.get(ctx, &row, sel, sanction.ErrNotFound); err != nil {
			return err
		}

		s = row.toSanction()
		if err := fn(&s); err != nil {
			return err
		}
		return repo.exec(ctx, dialect.Update(tableSanction).Prepared(true).Set(fromSanction(s)).Where(goqu.C(colID).Eq(s.ID)))
	})
	if err != nil {
		return sanction.Sanction{}, err
	}
	return s, nil
}
