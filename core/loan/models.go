package loan

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mkopo/core"
)

type State string

const (
	StateInProgress State = "IN_PROGRESS"
	StateReturned   State = "RETURNED"
	StateCancelled  State = "CANCELLED"
	StateOverdue    State = "OVERDUE"
)

var (
	States = []State{StateInProgress, StateReturned, StateCancelled, StateOverdue}

	// OpenStates are the states of loans whose device is still out.
	OpenStates = []State{StateInProgress, StateOverdue}

	transitions = map[State][]State{
		StateInProgress: {StateReturned, StateCancelled, StateOverdue},
		StateOverdue:    {StateReturned, StateCancelled},
	}
)

func (s State) IsValid() bool {
	for _, state := range States {
		if s == state {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateReturned || s == StateCancelled
}

func (s State) canTransitionTo(to State) bool {
	for _, state := range transitions[s] {
		if state == to {
			return true
		}
	}
	return false
}

type Loan struct {
	ID         int64      `json:"-"`
	GUID       string     `json:"guid"`
	UserGUID   string     `json:"user_guid"`
	DeviceGUID string     `json:"device_guid"`
	State      State      `json:"state"`
	LoanDate   time.Time  `json:"loan_date"` // UTC
	DueDate    time.Time  `json:"due_date"`  // UTC
	ClosedAt   *time.Time `json:"closed_at"` // UTC
	Deleted    bool       `json:"-"`
	CreatedAt  time.Time  `json:"created_at"` // UTC
	UpdatedAt  time.Time  `json:"updated_at"` // UTC
}

// IsOverdue reports whether an in-progress loan passed its due date at t.
func (l *Loan) IsOverdue(t time.Time) bool {
	return l.State == StateInProgress && l.DueDate.Before(t)
}

// transition moves the loan to state `to`. Terminal loans fail with ErrAlreadyTerminal.
func (l *Loan) transition(to State, now time.Time) error {
	if l.State.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if !l.State.canTransitionTo(to) {
		return ErrInvalidTransition
	}
	l.State = to
	if to.IsTerminal() {
		l.ClosedAt = &now
	}
	l.UpdatedAt = now
	return nil
}

// NewLoan contains information needed to open a new Loan.
type NewLoan struct {
	UserGUID   string `json:"user_guid"`
	DeviceGUID string `json:"device_guid" validate:"omitempty,guid"` // any loanable device when empty
}

func (nl *NewLoan) Validate(validate *validator.Validate) error {
	nl.UserGUID = core.CleanString(nl.UserGUID)
	nl.DeviceGUID = core.CleanString(nl.DeviceGUID)
	return validate.Struct(nl)
}

type QueryFilter struct {
	UserGUID   string    `query:"user_guid"`
	DeviceGUID string    `query:"device_guid"`
	States     []State   `query:"state"`
	DueFrom    time.Time `query:"due_from"`
	DueBefore  time.Time `query:"due_before"` // exclusive
}

func (qf *QueryFilter) Clean() {
	qf.UserGUID = core.CleanString(qf.UserGUID)
	qf.DeviceGUID = core.CleanString(qf.DeviceGUID)
}
