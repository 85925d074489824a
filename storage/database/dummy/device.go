package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
)

type deviceRepository struct {
	db *deviceTable
}

var _ device.Repository = (*deviceRepository)(nil) // interface compliance check

func NewDeviceRepository(db *DB) device.Repository {
	return &deviceRepository{db: db.device}
}

// query returns the devices by ascending GUID.
func (repo *deviceRepository) query() []device.Device {
	devs := make([]device.Device, 0, len(repo.db.table))
	for _, d := range repo.db.table {
		devs = append(devs, *d)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].GUID < devs[j].GUID })
	return devs
}

func (repo *deviceRepository) CheckSerialNumberUniqueness(_ context.Context, serialNumber string, excludedDevices ...device.Device) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, dev := range repo.db.table {
		if dev.SerialNumber != serialNumber {
			continue
		}
		var excluded bool
		for _, excl := range excludedDevices {
			if excl.GUID == dev.GUID {
				excluded = true
				break
			}
		}
		if !excluded {
			return device.ErrSerialNumberExists
		}
	}
	return nil
}

func (repo *deviceRepository) CreateDevice(_ context.Context, dev device.Device) (device.Device, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, d := range repo.db.table {
		if d.SerialNumber == dev.SerialNumber {
			return device.Device{}, device.ErrSerialNumberExists
		}
	}

	repo.db.pk++
	dev.ID = repo.db.pk
	repo.db.table[dev.GUID] = &dev
	return dev, nil
}

func (repo *deviceRepository) GetDevice(_ context.Context, guid string) (device.Device, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if dev, ok := repo.db.table[guid]; ok {
		return *dev, nil
	}
	return device.Device{}, device.ErrNotFound
}

func (repo *deviceRepository) QueryDevices(_ context.Context, filter *device.QueryFilter, ordering []core.DBOrdering) ([]device.Device, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	devs := repo.query()

	if filter != nil {
		filtered := make([]device.Device, 0, len(devs))
		for _, d := range devs {
			if filter.Search != "" && !(containsFold(d.SerialNumber, filter.Search) || containsFold(d.ComponentDescription, filter.Search)) {
				continue
			}
			if len(filter.States) > 0 && !hasState(filter.States, d.State) {
				continue
			}
			if filter.IsActive != nil && d.IsActive != *filter.IsActive {
				continue
			}
			if filter.Loanable && !d.Loanable() {
				continue
			}
			filtered = append(filtered, d)
		}
		devs = filtered
	}

	sort.SliceStable(devs, orderBy(ordering, func(field string, i, j int) int {
		switch field {
		case "guid":
			return compareStrings(devs[i].GUID, devs[j].GUID)
		case "serial_number":
			return compareStrings(devs[i].SerialNumber, devs[j].SerialNumber)
		case "state":
			return compareStrings(string(devs[i].State), string(devs[j].State))
		case "stock_count":
			return compareInts(int64(devs[i].StockCount), int64(devs[j].StockCount))
		case "created_at":
			return compareTimes(devs[i].CreatedAt, devs[j].CreatedAt)
		}
		return 0
	}))
	return devs, nil
}

func (repo *deviceRepository) MutateDevice(_ context.Context, guid string, fn func(*device.Device) error) (device.Device, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	dev, ok := repo.db.table[guid]
	if !ok {
		return device.Device{}, device.ErrNotFound
	}
	return mutateDevice(dev, fn)
}

func (repo *deviceRepository) MutateFirstLoanable(_ context.Context, fn func(*device.Device) error) (device.Device, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, d := range repo.query() {
		if d.Loanable() {
			return mutateDevice(repo.db.table[d.GUID], fn)
		}
	}
	return device.Device{}, device.ErrUnavailable
}

func mutateDevice(dev *device.Device, fn func(*device.Device) error) (device.Device, error) {
	d := *dev
	if err := fn(&d); err != nil {
		return device.Device{}, err
	}
	*dev = d
	return d, nil
}

func hasState(states []device.State, state device.State) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
