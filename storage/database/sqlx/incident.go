package sqlxrepos

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/incident"
)

type (
	incidentRepository struct {
		repository
	}

	incidentRow struct {
		ID           int64       `db:"id" goqu:"skipupdate"`
		GUID         string      `db:"guid" goqu:"skipupdate"`
		DeviceGUID   string      `db:"device_guid" goqu:"skipupdate"`
		ReporterGUID null.String `db:"reporter_guid" goqu:"skipupdate"`
		Description  string      `db:"description"`
		Resolved     bool        `db:"resolved"`
		ResolvedAt   null.Time   `db:"resolved_at"`
		CreatedAt    time.Time   `db:"created_at" goqu:"skipupdate"`
		UpdatedAt    time.Time   `db:"updated_at"`
	}
)

var (
	_ incident.Repository = (*incidentRepository)(nil) // interface compliance check

	incidentSortable = map[string]bool{"guid": true, "created_at": true}
)

func NewIncidentRepository(db *sqlx.DB) incident.Repository {
	return &incidentRepository{repository: newRepository(db)}
}

func fromIncident(inc incident.Incident) incidentRow {
	row := incidentRow{
		ID:           inc.ID,
		GUID:         inc.GUID,
		DeviceGUID:   inc.DeviceGUID,
		ReporterGUID: null.NewString(inc.ReporterGUID, inc.ReporterGUID != ""),
		Description:  inc.Description,
		Resolved:     inc.Resolved,
		CreatedAt:    inc.CreatedAt.UTC(),
		UpdatedAt:    inc.UpdatedAt.UTC(),
	}
	if inc.ResolvedAt != nil {
		row.ResolvedAt = null.TimeFrom(inc.ResolvedAt.UTC())
	}
	return row
}

func (row incidentRow) toIncident() incident.Incident {
	inc := incident.Incident{
		ID:           row.ID,
		GUID:         row.GUID,
		DeviceGUID:   row.DeviceGUID,
		ReporterGUID: row.ReporterGUID.String,
		Description:  row.Description,
		Resolved:     row.Resolved,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.ResolvedAt.Valid {
		resolvedAt := row.ResolvedAt.Time.UTC()
		inc.ResolvedAt = &resolvedAt
	}
	return inc
}

func (repo *incidentRepository) CreateIncident(ctx context.Context, inc incident.Incident) (incident.Incident, error) {
	id, err := repo.nextID(ctx, tableIncident)
	if err != nil {
		return incident.Incident{}, err
	}
	inc.ID = id
	inc.GUID = core.SequentialGUID(core.IncidentPrefix, id)

	if err = repo.exec(ctx, dialect.Insert(tableIncident).Prepared(true).Rows(fromIncident(inc))); err != nil {
		return incident.Incident{}, err
	}
	return inc, nil
}

func (repo *incidentRepository) GetIncident(ctx context.Context, guid string) (incident.Incident, error) {
	var row incidentRow
	ds := dialect.From(tableIncident).Prepared(true).Where(goqu.C(colGUID).Eq(guid))
	if err := repo.get(ctx, &row, ds, incident.ErrNotFound); err != nil {
		return incident.Incident{}, err
	}
	return row.toIncident(), nil
}

func (repo *incidentRepository) QueryIncidents(ctx context.Context, filter *incident.QueryFilter, ordering []core.DBOrdering) ([]incident.Incident, error) {
	ds := dialect.From(tableIncident).Prepared(true)

	if filter != nil {
		if filter.DeviceGUID != "" {
			ds = ds.Where(goqu.C(colDeviceGUID).Eq(filter.DeviceGUID))
		}
		if filter.ReporterGUID != "" {
			ds = ds.Where(goqu.C("reporter_guid").Eq(filter.ReporterGUID))
		}
		if filter.Resolved != nil {
			ds = ds.Where(goqu.C("resolved").Eq(*filter.Resolved))
		}
	}
	ds = ds.Order(orderedBy(ordering, incidentSortable, goqu.I(colID).Asc())...)

	var rows []incidentRow
	if err := repo.selectAll(ctx, &rows, ds); err != nil {
		return nil, err
	}
	incidents := make([]incident.Incident, 0, len(rows))
	for _, row := range rows {
		incidents = append(incidents, row.toIncident())
	}
	return incidents, nil
}

func (repo *incidentRepository) MutateIncident(ctx context.Context, guid string, fn func(*incident.Incident) error) (incident.Incident, error) {
	var inc incident.Incident
	err := repo.tx.RunInTx(ctx, func(ctx context.Context) error {
		var row incidentRow
		sel := dialect.From(tableIncident).Prepared(true).Where(goqu.C(colGUID).Eq(guid)).ForUpdate(exp.Wait)
		if err := repo.get(ctx, &row, sel, incident.ErrNotFound); err != nil {
			return err
		}

		inc = row.toIncident()
		if err := fn(&inc); err != nil {
			return err
		}
		return repo.exec(ctx, dialect.Update(tableIncident).Prepared(true).Set(fromIncident(inc)).Where(goqu.C(colID).Eq(inc.ID)))
	})
	if err != nil {
		return incident.Incident{}, err
	}
	return inc, nil
}
