package device

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mkopo/core"
)

type State string

const (
	StateNew         State = "NEW"
	StateAvailable   State = "AVAILABLE"
	StateLoaned      State = "LOANED"
	StateUnavailable State = "UNAVAILABLE"
)

var States = []State{StateNew, StateAvailable, StateLoaned, StateUnavailable}

func (s State) IsValid() bool {
	for _, state := range States {
		if s == state {
			return true
		}
	}
	return false
}

type Device struct {
	ID                   int64     `json:"-"`
	GUID                 string    `json:"guid"`
	SerialNumber         string    `json:"serial_number"`
	ComponentDescription string    `json:"component_description"`
	State                State     `json:"state"`
	IncidentGUID         string    `json:"incident_guid,omitempty"`
	StockCount           int       `json:"stock_count"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"` // UTC
	UpdatedAt            time.Time `json:"updated_at"` // UTC
}

// Loanable reports whether one unit of the device can be reserved.
func (d *Device) Loanable() bool {
	return d.IsActive && d.State == StateAvailable && d.StockCount > 0
}

// takeUnit decrements the stock of a loanable device; the last unit leaves it LOANED.
func (d *Device) takeUnit(now time.Time) error {
	if !d.Loanable() {
		return ErrUnavailable
	}
	d.StockCount--
	if d.StockCount == 0 {
		d.State = StateLoaned
	}
	d.UpdatedAt = now
	return nil
}

// returnUnit puts one unit back in stock. A device LOANED out of stock becomes AVAILABLE again;
// NEW and UNAVAILABLE devices keep their state.
func (d *Device) returnUnit(now time.Time) {
	d.StockCount++
	if d.State == StateLoaned {
		d.State = StateAvailable
	}
	d.UpdatedAt = now
}

func (d *Device) markUnavailable(incidentGUID string, now time.Time) {
	if d.State == StateUnavailable && d.IncidentGUID == incidentGUID {
		return
	}
	d.State = StateUnavailable
	d.IncidentGUID = incidentGUID
	d.UpdatedAt = now
}

func (d *Device) markAvailable(now time.Time) {
	if d.State == StateAvailable || d.State == StateLoaned {
		return
	}
	d.State = StateAvailable
	if d.StockCount == 0 {
		d.State = StateLoaned
	}
	d.IncidentGUID = ""
	d.UpdatedAt = now
}

// NewDevice contains information needed to register a new Device.
type NewDevice struct {
	SerialNumber         string `json:"serial_number" validate:"required,max=100"`
	ComponentDescription string `json:"component_description" validate:"required"`
	StockCount           int    `json:"stock_count" validate:"min=1"`
	// State is the initial state: NEW (default) or AVAILABLE.
	State State `json:"state" validate:"omitempty,oneof=NEW AVAILABLE"`
}

func (nd *NewDevice) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nd.SerialNumber = core.CleanString(nd.SerialNumber)
	nd.ComponentDescription = core.CleanString(nd.ComponentDescription)
	if nd.StockCount == 0 {
		nd.StockCount = 1
	}

	if err := validate.Struct(nd); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nd.SerialNumber)
}

// UpdateDevice defines what information may be provided to modify an existing Device.
// Stock and state only change through the allocator operations.
type UpdateDevice struct {
	SerialNumber         string `json:"serial_number" validate:"max=100"`
	ComponentDescription string `json:"component_description"`
	IsActive             *bool  `json:"is_active"`
}

func (ud *UpdateDevice) Validate(ctx context.Context, origDev Device, validate *validator.Validate, svc *Service) error {
	if sn := core.CleanString(ud.SerialNumber); sn != "" {
		ud.SerialNumber = sn
	} else {
		ud.SerialNumber = origDev.SerialNumber
	}
	if desc := core.CleanString(ud.ComponentDescription); desc != "" {
		ud.ComponentDescription = desc
	} else {
		ud.ComponentDescription = origDev.ComponentDescription
	}

	if err := validate.Struct(ud); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, ud.SerialNumber, origDev)
}

type QueryFilter struct {
	Search   string  `query:"search"` // serial number or description
	States   []State `query:"state"`
	IsActive *bool   `query:"is_active"`
	Loanable bool    `query:"loanable"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
