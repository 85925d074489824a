package sanction

import (
	"time"

	"github.com/trezcool/mkopo/core"
)

type Type string

const (
	TypeWarning    Type = "WARNING"
	TypeTempBlock  Type = "TEMP_BLOCK"
	TypeIndefinite Type = "INDEFINITE"
)

// BlockingTypes are the sanction types that prevent new loans.
var BlockingTypes = []Type{TypeTempBlock, TypeIndefinite}

type Sanction struct {
	ID           int64      `json:"-"`
	GUID         string     `json:"guid"`
	UserGUID     string     `json:"user_guid"`
	LoanGUID     string     `json:"loan_guid,omitempty"`
	Type         Type       `json:"type"`
	SanctionDate time.Time  `json:"sanction_date"` // UTC
	EndDate      *time.Time `json:"end_date"`      // TEMP_BLOCK only
	Deleted      bool       `json:"-"`
	CreatedAt    time.Time  `json:"created_at"` // UTC
	UpdatedAt    time.Time  `json:"updated_at"` // UTC
}

// Validate checks that EndDate is set, and after SanctionDate, for TEMP_BLOCK only.
func (s Sanction) Validate() error {
	switch s.Type {
	case TypeTempBlock:
		if s.EndDate == nil || !s.EndDate.After(s.SanctionDate) {
			return ErrInvalidEndDate
		}
	case TypeWarning, TypeIndefinite:
		if s.EndDate != nil {
			return ErrInvalidEndDate
		}
	default:
		return ErrInvalidType
	}
	return nil
}

// Blocks reports whether the sanction prevents its user from borrowing at time t.
func (s Sanction) Blocks(t time.Time) bool {
	if s.Deleted {
		return false
	}
	switch s.Type {
	case TypeIndefinite:
		return true
	case TypeTempBlock:
		return s.EndDate != nil && s.EndDate.After(t)
	}
	return false
}

// Policy drives the escalation of sanctions for overdue loans.
type Policy struct {
	Window      time.Duration // prior sanctions younger than Window count as prior offenses
	BlockPeriod time.Duration // duration of a TEMP_BLOCK
}

var DefaultPolicy = Policy{
	Window:      90 * 24 * time.Hour,
	BlockPeriod: 7 * 24 * time.Hour,
}

func NewPolicy(conf *core.Config) Policy {
	p := DefaultPolicy
	if conf.Sanction.Window > 0 {
		p.Window = conf.Sanction.Window
	}
	if conf.Sanction.BlockPeriod > 0 {
		p.BlockPeriod = conf.Sanction.BlockPeriod
	}
	return p
}

// typeFor returns the sanction type of an offense preceded by prior offenses within the window.
func (p Policy) typeFor(prior int) Type {
	switch {
	case prior <= 0:
		return TypeWarning
	case prior == 1:
		return TypeTempBlock
	default:
		return TypeIndefinite
	}
}

type QueryFilter struct {
	UserGUID     string    `query:"user_guid"`
	LoanGUID     string    `query:"loan_guid"`
	Types        []Type    `query:"type"`
	IssuedFrom   time.Time `query:"issued_from"`
	IssuedTo     time.Time `query:"issued_to"`
	BlockingOnly bool      `query:"blocking"` // only sanctions blocking new loans now
}

func (qf *QueryFilter) Clean() {
	qf.UserGUID = core.CleanString(qf.UserGUID)
	qf.LoanGUID = core.CleanString(qf.LoanGUID)
}
