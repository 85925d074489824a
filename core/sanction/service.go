package sanction

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core"
)

var (
	// errors
	ErrNotFound       = core.NewError(core.KindNotFound, "sanction not found")
	ErrInvalidEndDate = core.NewError(core.KindPolicyViolation, "end date is required and must follow the sanction date for temporary blocks only")
	ErrInvalidType    = core.NewError(core.KindPolicyViolation, "invalid sanction type")
)

type (
	Repository interface {
		// CreateSanction stores s and assigns its ID and GUID (SANC######).
		CreateSanction(ctx context.Context, s Sanction) (Sanction, error)
		// GetSanction ignores lifted sanctions.
		GetSanction(ctx context.Context, guid string) (Sanction, error)
		// GetSanctionByLoan includes lifted sanctions.
		GetSanctionByLoan(ctx context.Context, loanGUID string) (Sanction, error)
		// QuerySanctions ignores lifted sanctions and QueryFilter.BlockingOnly.
		QuerySanctions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Sanction, error)
		// CountSanctions counts the user's sanctions issued since `since`, lifted ones excluded.
		CountSanctions(ctx context.Context, userGUID string, since time.Time) (int, error)
		MutateSanction(ctx context.Context, guid string, fn func(*Sanction) error) (Sanction, error)
	}

	// Service is the sanction issuer: it alone creates sanctions.
	Service struct {
		repo   Repository
		policy Policy
	}
)

func NewService(repo Repository, policy Policy) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
	).CheckAndPanic()

	return &Service{repo: repo, policy: policy}
}

// IssueForOverdueLoan sanctions the borrower of an overdue loan, escalating with the number of the
// user's sanctions within the policy window: WARNING, then TEMP_BLOCK, then INDEFINITE.
// A loan is sanctioned once; issuing again returns the existing sanction.
func (svc *Service) IssueForOverdueLoan(ctx context.Context, loanGUID, userGUID string) (Sanction, error) {
	existing, err := svc.repo.GetSanctionByLoan(ctx, loanGUID)
	if err == nil {
		return existing, nil
	} else if errors.Cause(err) != ErrNotFound {
		return Sanction{}, errors.Wrap(err, "finding loan sanction")
	}

	now := core.Now()
	prior, err := svc.repo.CountSanctions(ctx, userGUID, now.Add(-svc.policy.Window))
	if err != nil {
		return Sanction{}, errors.Wrap(err, "counting prior sanctions")
	}

	s := Sanction{
		UserGUID:     userGUID,
		LoanGUID:     loanGUID,
		Type:         svc.policy.typeFor(prior),
		SanctionDate: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.Type == TypeTempBlock {
		end := now.Add(svc.policy.BlockPeriod)
		s.EndDate = &end
	}
	if err = s.Validate(); err != nil {
		return Sanction{}, err
	}
	return svc.repo.CreateSanction(ctx, s)
}

// Lift soft-deletes a sanction. Loan eligibility is always computed from live sanctions.
func (svc *Service) Lift(ctx context.Context, guid string) error {
	now := core.Now()
	_, err := svc.repo.MutateSanction(ctx, guid, func(s *Sanction) error {
		s.Deleted = true
		s.UpdatedAt = now
		return nil
	})
	return err
}

// IsSanctionActive reports whether the user holds a sanction that blocks new loans.
func (svc *Service) IsSanctionActive(ctx context.Context, userGUID string) (bool, error) {
	blocking, err := svc.Query(ctx, &QueryFilter{UserGUID: userGUID, BlockingOnly: true}, nil)
	if err != nil {
		return false, errors.Wrap(err, "querying blocking sanctions")
	}
	return len(blocking) > 0, nil
}

func (svc *Service) Get(ctx context.Context, guid string) (Sanction, error) {
	return svc.repo.GetSanction(ctx, guid)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Sanction, error) {
	if filter == nil || !filter.BlockingOnly {
		return svc.repo.QuerySanctions(ctx, filter, ordering)
	}

	f := *filter
	if len(f.Types) == 0 {
		f.Types = BlockingTypes
	}
	sanctions, err := svc.repo.QuerySanctions(ctx, &f, ordering)
	if err != nil {
		return nil, err
	}
	now := core.Now()
	blocking := sanctions[:0]
	for _, s := range sanctions {
		if s.Blocks(now) {
			blocking = append(blocking, s)
		}
	}
	return blocking, nil
}
