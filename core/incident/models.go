package incident

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mkopo/core"
)

type Incident struct {
	ID           int64      `json:"-"`
	GUID         string     `json:"guid"`
	DeviceGUID   string     `json:"device_guid"`
	ReporterGUID string     `json:"reporter_guid"`
	Description  string     `json:"description"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolved_at"` // UTC
	CreatedAt    time.Time  `json:"created_at"`  // UTC
	UpdatedAt    time.Time  `json:"updated_at"`  // UTC
}

func (inc *Incident) resolve(now time.Time) error {
	if inc.Resolved {
		return ErrAlreadyResolved
	}
	inc.Resolved = true
	inc.ResolvedAt = &now
	inc.UpdatedAt = now
	return nil
}

// NewIncident contains information needed to report an Incident on a device.
type NewIncident struct {
	DeviceGUID  string `json:"device_guid" validate:"required,guid"`
	Description string `json:"description" validate:"required"`
}

func (ni *NewIncident) Validate(validate *validator.Validate) error {
	ni.DeviceGUID = core.CleanString(ni.DeviceGUID)
	ni.Description = core.CleanString(ni.Description)
	return validate.Struct(ni)
}

type QueryFilter struct {
	DeviceGUID   string `query:"device_guid"`
	ReporterGUID string `query:"reporter_guid"`
	Resolved     *bool  `query:"resolved"`
}

func (qf *QueryFilter) Clean() {
	qf.DeviceGUID = core.CleanString(qf.DeviceGUID)
	qf.ReporterGUID = core.CleanString(qf.ReporterGUID)
}
