package loan

import (
	"context"
	"fmt"
	"net/mail"
	"sync/atomic"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
	"github.com/trezcool/mkopo/core/sanction"
	"github.com/trezcool/mkopo/core/user"
)

// DefaultPeriod is the loan period used when none is configured.
const DefaultPeriod = 7 * 24 * time.Hour

var (
	// errors
	ErrNotFound          = core.NewError(core.KindNotFound, "loan not found")
	ErrAlreadyTerminal   = core.NewError(core.KindAlreadyTerminal, "loan is already returned or cancelled")
	ErrInvalidTransition = core.NewError(core.KindPolicyViolation, "invalid loan state transition")
	ErrUserInactive      = core.NewError(core.KindPolicyViolation, "user is inactive")
	ErrUserSanctioned    = core.NewError(core.KindPolicyViolation, "user is blocked by a sanction")
	ErrLoanOpen          = core.NewError(core.KindPolicyViolation, "only returned or cancelled loans can be deleted")
	ErrSweepInProgress   = core.NewError(core.KindUnavailable, "sweep already in progress")

	errNotOverdue = errors.New("loan is not overdue")
)

type (
	Repository interface {
		// CreateLoan stores ln and assigns its ID.
		CreateLoan(ctx context.Context, ln Loan) (Loan, error)
		// GetLoan ignores deleted loans.
		GetLoan(ctx context.Context, guid string) (Loan, error)
		// QueryLoans applies AND operation on available QueryFilter fields, deleted loans excluded.
		QueryLoans(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Loan, error)
		// MutateLoan loads the loan under an exclusive lock, applies fn and saves the result.
		// Nothing is saved when fn fails.
		MutateLoan(ctx context.Context, guid string, fn func(*Loan) error) (Loan, error)
	}

	// Allocator hands out and takes back device units.
	Allocator interface {
		Reserve(ctx context.Context, deviceGUID string) (device.Device, error)
		Release(ctx context.Context, deviceGUID string) (device.Device, error)
	}

	// SanctionIssuer sanctions overdue loans and tells whether a user may borrow.
	SanctionIssuer interface {
		IssueForOverdueLoan(ctx context.Context, loanGUID, userGUID string) (sanction.Sanction, error)
		IsSanctionActive(ctx context.Context, userGUID string) (bool, error)
	}

	UserLookup interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	// Service is the loan lifecycle manager: it alone changes the state of loans.
	Service struct {
		repo      Repository
		tx        core.Transactor
		devices   Allocator
		sanctions SanctionIssuer
		users     UserLookup
		mailer    core.EmailService
		logger    core.Logger
		period    time.Duration
		sweeping  int32
	}

	// emailData feeds the loan_* email templates.
	emailData struct {
		Name         string
		LoanGUID     string
		DeviceGUID   string
		DueDate      time.Time
		SanctionType string
		SanctionEnd  time.Time
	}
)

func NewService(
	repo Repository,
	tx core.Transactor,
	devices Allocator,
	sanctions SanctionIssuer,
	users UserLookup,
	mailer core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(tx, "tx"),
		vala.IsNotNil(devices, "devices"),
		vala.IsNotNil(sanctions, "sanctions"),
		vala.IsNotNil(users, "users"),
		vala.IsNotNil(mailer, "mailer"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	period := conf.Loan.Period
	if period <= 0 {
		period = DefaultPeriod
	}

	return &Service{
		repo:      repo,
		tx:        tx,
		devices:   devices,
		sanctions: sanctions,
		users:     users,
		mailer:    mailer,
		logger:    logger,
		period:    period,
	}
}

// Create opens a loan for an active, unsanctioned user. The device unit is reserved in the same
// transaction as the loan insert: either both happen or neither does.
func (svc *Service) Create(ctx context.Context, nl NewLoan) (Loan, error) {
	usr, err := svc.users.GetByID(ctx, nl.UserGUID)
	if err != nil {
		return Loan{}, err
	}
	if !usr.IsActive {
		return Loan{}, ErrUserInactive
	}

	blocked, err := svc.sanctions.IsSanctionActive(ctx, usr.ID)
	if err != nil {
		return Loan{}, errors.Wrap(err, "checking sanctions")
	}
	if blocked {
		return Loan{}, ErrUserSanctioned
	}

	var ln Loan
	err = svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		dev, err := svc.devices.Reserve(ctx, nl.DeviceGUID)
		if err != nil {
			return err
		}

		now := core.Now()
		ln, err = svc.repo.CreateLoan(ctx, Loan{
			GUID:       core.NewGUID(),
			UserGUID:   usr.ID,
			DeviceGUID: dev.GUID,
			State:      StateInProgress,
			LoanDate:   now,
			DueDate:    now.Add(svc.period),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		return err
	})
	if err != nil {
		return Loan{}, err
	}

	svc.notify(usr, "Your loan", "loan_created", emailData{
		Name:       usr.Name,
		LoanGUID:   ln.GUID,
		DeviceGUID: ln.DeviceGUID,
		DueDate:    ln.DueDate,
	})
	return ln, nil
}

func (svc *Service) Get(ctx context.Context, guid string) (Loan, error) {
	return svc.repo.GetLoan(ctx, guid)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Loan, error) {
	return svc.repo.QueryLoans(ctx, filter, ordering)
}

// Return closes the loan as RETURNED and puts its device unit back in stock.
func (svc *Service) Return(ctx context.Context, guid string) (Loan, error) {
	return svc.close(ctx, guid, StateReturned)
}

// Cancel closes the loan as CANCELLED and puts its device unit back in stock.
func (svc *Service) Cancel(ctx context.Context, guid string) (Loan, error) {
	return svc.close(ctx, guid, StateCancelled)
}

// close is a compare-and-set on the loan state: only the caller that closes the loan releases the device.
func (svc *Service) close(ctx context.Context, guid string, to State) (Loan, error) {
	var ln Loan
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		now := core.Now()
		ln, err = svc.repo.MutateLoan(ctx, guid, func(l *Loan) error {
			return l.transition(to, now)
		})
		if err != nil {
			return err
		}

		_, err = svc.devices.Release(ctx, ln.DeviceGUID)
		return errors.Wrap(err, "releasing device")
	})
	if err != nil {
		return Loan{}, err
	}
	return ln, nil
}

// Delete soft-deletes a returned or cancelled loan.
func (svc *Service) Delete(ctx context.Context, guid string) error {
	now := core.Now()
	_, err := svc.repo.MutateLoan(ctx, guid, func(l *Loan) error {
		if !l.State.IsTerminal() {
			return ErrLoanOpen
		}
		l.Deleted = true
		l.UpdatedAt = now
		return nil
	})
	return err
}

// SweepOverdue flags every in-progress loan past its due date as OVERDUE and sanctions its borrower.
// Each loan is handled in its own transaction; a failing loan is logged and the sweep goes on.
// Only one sweep runs at a time: a concurrent call fails with ErrSweepInProgress.
func (svc *Service) SweepOverdue(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&svc.sweeping, 0, 1) {
		return 0, ErrSweepInProgress
	}
	defer atomic.StoreInt32(&svc.sweeping, 0)

	now := core.Now()
	due, err := svc.repo.QueryLoans(
		ctx,
		&QueryFilter{States: []State{StateInProgress}, DueBefore: now},
		[]core.DBOrdering{{Field: "due_date", Ascending: true}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "querying overdue loans")
	}

	var count, failed int
	for _, ln := range due {
		if err = ctx.Err(); err != nil {
			return count, err
		}

		marked, sanc, err := svc.markOverdue(ctx, ln.GUID, now)
		if err != nil {
			failed++
			svc.logger.Error(fmt.Sprintf("marking loan %s overdue: %v", ln.GUID, err), err)
			continue
		}
		if !marked {
			continue
		}
		count++
		svc.notifyOverdue(ctx, ln, sanc)
	}

	if failed > 0 {
		return count, errors.Errorf("%d overdue loan(s) could not be processed", failed)
	}
	return count, nil
}

// markOverdue transitions one loan and issues its sanction in the same transaction.
// Loans closed or swept since they were listed are skipped.
func (svc *Service) markOverdue(ctx context.Context, guid string, now time.Time) (bool, sanction.Sanction, error) {
	var (
		marked bool
		sanc   sanction.Sanction
	)
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		ln, err := svc.repo.MutateLoan(ctx, guid, func(l *Loan) error {
			if !l.IsOverdue(now) {
				return errNotOverdue
			}
			return l.transition(StateOverdue, now)
		})
		if err != nil {
			if errors.Cause(err) == errNotOverdue {
				return nil
			}
			return err
		}

		sanc, err = svc.sanctions.IssueForOverdueLoan(ctx, ln.GUID, ln.UserGUID)
		if err != nil {
			return errors.Wrap(err, "issuing sanction")
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, sanction.Sanction{}, err
	}
	return marked, sanc, nil
}

func (svc *Service) notifyOverdue(ctx context.Context, ln Loan, sanc sanction.Sanction) {
	usr, err := svc.users.GetByID(ctx, ln.UserGUID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("overdue notice for loan %s: %v", ln.GUID, err), err)
		return
	}

	data := emailData{
		Name:         usr.Name,
		LoanGUID:     ln.GUID,
		DeviceGUID:   ln.DeviceGUID,
		DueDate:      ln.DueDate,
		SanctionType: string(sanc.Type),
	}
	if sanc.EndDate != nil {
		data.SanctionEnd = *sanc.EndDate
	}
	svc.notify(usr, "Overdue loan", "loan_overdue", data)
}

func (svc *Service) notify(usr user.User, subject, tmpl string, data emailData) {
	if usr.Email == "" {
		return
	}
	svc.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: data,
	})
}
