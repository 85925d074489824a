package incident

import (
	"context"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
)

var (
	// errors
	ErrNotFound        = core.NewError(core.KindNotFound, "incident not found")
	ErrAlreadyResolved = core.NewError(core.KindAlreadyTerminal, "incident is already resolved")
)

type (
	Repository interface {
		// CreateIncident stores inc and assigns its ID and GUID (INC######).
		CreateIncident(ctx context.Context, inc Incident) (Incident, error)
		GetIncident(ctx context.Context, guid string) (Incident, error)
		QueryIncidents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Incident, error)
		MutateIncident(ctx context.Context, guid string, fn func(*Incident) error) (Incident, error)
	}

	// DeviceKeeper takes devices out of circulation and puts them back.
	DeviceKeeper interface {
		Get(ctx context.Context, guid string) (device.Device, error)
		MarkUnavailable(ctx context.Context, guid, incidentGUID string) (device.Device, error)
		Restore(ctx context.Context, guid, incidentGUID string) (device.Device, error)
	}

	Service struct {
		repo    Repository
		tx      core.Transactor
		devices DeviceKeeper
	}
)

func NewService(repo Repository, tx core.Transactor, devices DeviceKeeper) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(tx, "tx"),
		vala.IsNotNil(devices, "devices"),
	).CheckAndPanic()

	return &Service{repo: repo, tx: tx, devices: devices}
}

// Report records an incident on a device and takes the device out of circulation.
func (svc *Service) Report(ctx context.Context, ni NewIncident, reporterGUID string) (Incident, error) {
	var inc Incident
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := svc.devices.Get(ctx, ni.DeviceGUID); err != nil {
			return err
		}

		var err error
		now := core.Now()
		inc, err = svc.repo.CreateIncident(ctx, Incident{
			DeviceGUID:   ni.DeviceGUID,
			ReporterGUID: reporterGUID,
			Description:  ni.Description,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}

		_, err = svc.devices.MarkUnavailable(ctx, inc.DeviceGUID, inc.GUID)
		return errors.Wrap(err, "marking device unavailable")
	})
	if err != nil {
		return Incident{}, err
	}
	return inc, nil
}

// Resolve closes the incident. Its device goes back in circulation unless a later incident holds it.
func (svc *Service) Resolve(ctx context.Context, guid string) (Incident, error) {
	var inc Incident
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		now := core.Now()
		inc, err = svc.repo.MutateIncident(ctx, guid, func(i *Incident) error {
			return i.resolve(now)
		})
		if err != nil {
			return err
		}

		_, err = svc.devices.Restore(ctx, inc.DeviceGUID, inc.GUID)
		return errors.Wrap(err, "restoring device")
	})
	if err != nil {
		return Incident{}, err
	}
	return inc, nil
}

func (svc *Service) Get(ctx context.Context, guid string) (Incident, error) {
	return svc.repo.GetIncident(ctx, guid)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Incident, error) {
	return svc.repo.QueryIncidents(ctx, filter, ordering)
}
