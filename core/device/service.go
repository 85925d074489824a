package device

import (
	"context"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core"
)

var (
	// errors
	ErrNotFound           = core.NewError(core.KindNotFound, "device not found")
	ErrUnavailable        = core.NewError(core.KindUnavailable, "no device available")
	ErrSerialNumberExists = core.NewError(core.KindPolicyViolation, "a device with this serial number already exists")
)

type (
	Repository interface {
		CheckSerialNumberUniqueness(ctx context.Context, serialNumber string, excludedDevices ...Device) error
		CreateDevice(ctx context.Context, dev Device) (Device, error)
		GetDevice(ctx context.Context, guid string) (Device, error)
		QueryDevices(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Device, error)
		// MutateDevice loads the device under an exclusive lock, applies fn and saves the result.
		// Nothing is saved when fn fails.
		MutateDevice(ctx context.Context, guid string, fn func(*Device) error) (Device, error)
		// MutateFirstLoanable does the same on the loanable device with the lowest GUID.
		// It fails with ErrUnavailable when no device is loanable.
		MutateFirstLoanable(ctx context.Context, fn func(*Device) error) (Device, error)
	}

	// Service is the device allocator: it alone changes the stock and state of devices.
	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
	).CheckAndPanic()

	return &Service{repo: repo}
}

func (svc *Service) CheckUniqueness(ctx context.Context, serialNumber string, exclDevices ...Device) error {
	if err := svc.repo.CheckSerialNumberUniqueness(ctx, serialNumber, exclDevices...); err != nil {
		if errors.Cause(err) == ErrSerialNumberExists {
			return core.NewValidationError(err, core.FieldError{Field: "serial_number", Error: ErrSerialNumberExists.Error()})
		}
		return errors.Wrap(err, "checking serial number uniqueness")
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nd NewDevice) (Device, error) {
	now := core.Now()
	dev := Device{
		GUID:                 core.NewGUID(),
		SerialNumber:         nd.SerialNumber,
		ComponentDescription: nd.ComponentDescription,
		State:                nd.State,
		StockCount:           nd.StockCount,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if dev.State == "" {
		dev.State = StateNew
	}
	return svc.repo.CreateDevice(ctx, dev)
}

func (svc *Service) Get(ctx context.Context, guid string) (Device, error) {
	return svc.repo.GetDevice(ctx, guid)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Device, error) {
	return svc.repo.QueryDevices(ctx, filter, ordering)
}

func (svc *Service) Update(ctx context.Context, guid string, ud UpdateDevice) (Device, error) {
	now := core.Now()
	return svc.repo.MutateDevice(ctx, guid, func(dev *Device) error {
		dev.SerialNumber = ud.SerialNumber
		dev.ComponentDescription = ud.ComponentDescription
		if ud.IsActive != nil {
			dev.IsActive = *ud.IsActive
		}
		dev.UpdatedAt = now
		return nil
	})
}

// Reserve takes one unit of the device identified by guid, or of the loanable device with the lowest
// GUID when guid is empty. It fails with ErrUnavailable when the device is out of stock, not AVAILABLE
// or inactive.
func (svc *Service) Reserve(ctx context.Context, guid string) (Device, error) {
	now := core.Now()
	take := func(dev *Device) error { return dev.takeUnit(now) }

	if guid == "" {
		return svc.repo.MutateFirstLoanable(ctx, take)
	}
	return svc.repo.MutateDevice(ctx, guid, take)
}

// Release puts one unit of the device back in stock.
func (svc *Service) Release(ctx context.Context, guid string) (Device, error) {
	now := core.Now()
	return svc.repo.MutateDevice(ctx, guid, func(dev *Device) error {
		dev.returnUnit(now)
		return nil
	})
}

// MarkUnavailable takes the device out of circulation because of an incident. Idempotent.
func (svc *Service) MarkUnavailable(ctx context.Context, guid, incidentGUID string) (Device, error) {
	now := core.Now()
	return svc.repo.MutateDevice(ctx, guid, func(dev *Device) error {
		dev.markUnavailable(incidentGUID, now)
		return nil
	})
}

// MarkAvailable puts a NEW or UNAVAILABLE device in circulation and unlinks its incident. Idempotent.
func (svc *Service) MarkAvailable(ctx context.Context, guid string) (Device, error) {
	now := core.Now()
	return svc.repo.MutateDevice(ctx, guid, func(dev *Device) error {
		dev.markAvailable(now)
		return nil
	})
}

// Restore marks the device available if it is still taken out by the incident incidentGUID.
// A device linked to a later incident stays UNAVAILABLE.
func (svc *Service) Restore(ctx context.Context, guid, incidentGUID string) (Device, error) {
	now := core.Now()
	return svc.repo.MutateDevice(ctx, guid, func(dev *Device) error {
		if dev.State == StateUnavailable && dev.IncidentGUID == incidentGUID {
			dev.markAvailable(now)
		}
		return nil
	})
}
