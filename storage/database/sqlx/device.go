package sqlxrepos

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
)

type (
	deviceRepository struct {
		repository
	}

	deviceRow struct {
		ID                   int64       `db:"id" goqu:"skipinsert,skipupdate"`
		GUID                 string      `db:"guid" goqu:"skipupdate"`
		SerialNumber         string      `db:"serial_number"`
		ComponentDescription string      `db:"component_description"`
		State                string      `db:"state"`
		IncidentGUID         null.String `db:"incident_guid"`
		StockCount           int         `db:"stock_count"`
		IsActive             bool        `db:"is_active"`
		CreatedAt            time.Time   `db:"created_at" goqu:"skipupdate"`
		UpdatedAt            time.Time   `db:"updated_at"`
	}
)

var (
	_ device.Repository = (*deviceRepository)(nil) // interface compliance check

	deviceSortable = map[string]bool{"guid": true, "serial_number": true, "state": true, "stock_count": true, "created_at": true}
)

func NewDeviceRepository(db *sqlx.DB) device.Repository {
	return &deviceRepository{repository: newRepository(db)}
}

func fromDevice(dev device.Device) deviceRow {
	return deviceRow{
		ID:                   dev.ID,
		GUID:                 dev.GUID,
		SerialNumber:         dev.SerialNumber,
		ComponentDescription: dev.ComponentDescription,
		State:                string(dev.State),
		IncidentGUID:         null.NewString(dev.IncidentGUID, dev.IncidentGUID != ""),
		StockCount:           dev.StockCount,
		IsActive:             dev.IsActive,
		CreatedAt:            dev.CreatedAt.UTC(),
		UpdatedAt:            dev.UpdatedAt.UTC(),
	}
}

func (row deviceRow) toDevice() device.Device {
	return device.Device{
		ID:                   row.ID,
		GUID:                 row.GUID,
		SerialNumber:         row.SerialNumber,
		ComponentDescription: row.ComponentDescription,
		State:                device.State(row.State),
		IncidentGUID:         row.IncidentGUID.String,
		StockCount:           row.StockCount,
		IsActive:             row.IsActive,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
}

// loanable matches the partial index device_loanable_idx.
func loanable() exp.Expression {
	return goqu.And(
		goqu.C(colState).Eq(string(device.StateAvailable)),
		goqu.C("stock_count").Gt(0),
		goqu.C("is_active").IsTrue(),
	)
}

func (repo *deviceRepository) CheckSerialNumberUniqueness(ctx context.Context, serialNumber string, excludedDevices ...device.Device) error {
	ds := dialect.From(tableDevice).Prepared(true).Where(goqu.C("serial_number").Eq(serialNumber)).Limit(1)
	if len(excludedDevices) > 0 {
		guids := make([]string, 0, len(excludedDevices))
		for _, dev := range excludedDevices {
			guids = append(guids, dev.GUID)
		}
		ds = ds.Where(goqu.C(colGUID).NotIn(guids))
	}

	var row deviceRow
	if err := repo.get(ctx, &row, ds, device.ErrNotFound); err != nil {
		if err == device.ErrNotFound {
			return nil
		}
		return err
	}
	return device.ErrSerialNumberExists
}

func (repo *deviceRepository) CreateDevice(ctx context.Context, dev device.Device) (device.Device, error) {
	ds := dialect.Insert(tableDevice).Prepared(true).Rows(fromDevice(dev)).Returning(colID)
	if err := repo.get(ctx, &dev.ID, ds, device.ErrNotFound); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return device.Device{}, device.ErrSerialNumberExists
		}
		return device.Device{}, err
	}
	return dev, nil
}

func (repo *deviceRepository) GetDevice(ctx context.Context, guid string) (device.Device, error) {
	var row deviceRow
	ds := dialect.From(tableDevice).Prepared(true).Where(goqu.C(colGUID).Eq(guid))
	if err := repo.get(ctx, &row, ds, device.ErrNotFound); err != nil {
		return device.Device{}, err
	}
	return row.toDevice(), nil
}

func (repo *deviceRepository) QueryDevices(ctx context.Context, filter *device.QueryFilter, ordering []core.DBOrdering) ([]device.Device, error) {
	ds := dialect.From(tableDevice).Prepared(true)

	if filter != nil {
		if filter.Search != "" {
			pattern := "%" + filter.Search + "%"
			ds = ds.Where(goqu.Or(
				goqu.C("serial_number").ILike(pattern),
				goqu.C("component_description").ILike(pattern),
			))
		}
		if len(filter.States) > 0 {
			states := make([]string, 0, len(filter.States))
			for _, s := range filter.States {
				states = append(states, string(s))
			}
			ds = ds.Where(goqu.C(colState).In(states))
		}
		if filter.IsActive != nil {
			ds = ds.Where(goqu.C("is_active").Eq(*filter.IsActive))
		}
		if filter.Loanable {
			ds = ds.Where(loanable())
		}
	}
	ds = ds.Order(orderedBy(ordering, deviceSortable, goqu.I(colGUID).Asc())...)

	var rows []deviceRow
	if err := repo.selectAll(ctx, &rows, ds); err != nil {
		return nil, err
	}
	devs := make([]device.Device, 0, len(rows))
	for _, row := range rows {
		devs = append(devs, row.toDevice())
	}
	return devs, nil
}

func (repo *deviceRepository) MutateDevice(ctx context.Context, guid string, fn func(*device.Device) error) (device.Device, error) {
	ds := dialect.From(tableDevice).Prepared(true).Where(goqu.C(colGUID).Eq(guid)).ForUpdate(exp.Wait)
	return repo.mutate(ctx, ds, device.ErrNotFound, fn)
}

// MutateFirstLoanable skips the rows other transactions hold: under contention the lowest GUID is not guaranteed.
func (repo *deviceRepository) MutateFirstLoanable(ctx context.Context, fn func(*device.Device) error) (device.Device, error) {
	return repo.mutate(ctx, firstLoanableQuery(), device.ErrUnavailable, fn)
}

func firstLoanableQuery() *goqu.SelectDataset {
	return dialect.From(tableDevice).Prepared(true).
		Where(loanable()).
		Order(goqu.I(colGUID).Asc()).
		Limit(1).
		ForUpdate(exp.SkipLocked)
}

func (repo *deviceRepository) mutate(ctx context.Context, sel sqlBuilder, notFound error, fn func(*device.Device) error) (device.Device, error) {
	var dev device.Device
	err := repo.tx.RunInTx(ctx, func(ctx context.Context) error {
		var row deviceRow
		if err := repo.get(ctx, &row, sel, notFound); err != nil {
			return err
		}

		dev = row.toDevice()
		if err := fn(&dev); err != nil {
			return err
		}

		upd := dialect.Update(tableDevice).Prepared(true).Set(fromDevice(dev)).Where(goqu.C(colID).Eq(dev.ID))
		if err := repo.exec(ctx, upd); err != nil {
			if _, ok := uniqueViolation(err); ok {
				return device.ErrSerialNumberExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return device.Device{}, err
	}
	return dev, nil
}
