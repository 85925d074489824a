package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/loan"
)

type loanRepository struct {
	db *loanTable
}

var _ loan.Repository = (*loanRepository)(nil) // interface compliance check

func NewLoanRepository(db *DB) loan.Repository {
	return &loanRepository{db: db.loan}
}

func (repo *loanRepository) CreateLoan(_ context.Context, ln loan.Loan) (loan.Loan, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.pk++
	ln.ID = repo.db.pk
	repo.db.table[ln.GUID] = &ln
	return ln, nil
}

func (repo *loanRepository) GetLoan(_ context.Context, guid string) (loan.Loan, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ln, ok := repo.db.table[guid]; ok && !ln.Deleted {
		return *ln, nil
	}
	return loan.Loan{}, loan.ErrNotFound
}

func (repo *loanRepository) QueryLoans(_ context.Context, filter *loan.QueryFilter, ordering []core.DBOrdering) ([]loan.Loan, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter == nil {
		filter = new(loan.QueryFilter)
	}

	loans := make([]loan.Loan, 0, len(repo.db.table))
	for _, ln := range repo.db.table {
		if ln.Deleted {
			continue
		}
		if filter.UserGUID != "" && ln.UserGUID != filter.UserGUID {
			continue
		}
		if filter.DeviceGUID != "" && ln.DeviceGUID != filter.DeviceGUID {
			continue
		}
		if len(filter.States) > 0 && !hasLoanState(filter.States, ln.State) {
			continue
		}
		if !filter.DueFrom.IsZero() && ln.DueDate.Before(filter.DueFrom.UTC()) {
			continue
		}
		if !filter.DueBefore.IsZero() && !ln.DueDate.Before(filter.DueBefore.UTC()) {
			continue
		}
		loans = append(loans, *ln)
	}

	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
	sort.SliceStable(loans, orderBy(ordering, func(field string, i, j int) int {
		switch field {
		case "guid":
			return compareStrings(loans[i].GUID, loans[j].GUID)
		case "state":
			return compareStrings(string(loans[i].State), string(loans[j].State))
		case "loan_date":
			return compareTimes(loans[i].LoanDate, loans[j].LoanDate)
		case "due_date":
			return compareTimes(loans[i].DueDate, loans[j].DueDate)
		case "created_at":
			return compareTimes(loans[i].CreatedAt, loans[j].CreatedAt)
		}
		return 0
	}))
	return loans, nil
}

func (repo *loanRepository) MutateLoan(_ context.Context, guid string, fn func(*loan.Loan) error) (loan.Loan, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ln, ok := repo.db.table[guid]
	if !ok || ln.Deleted {
		return loan.Loan{}, loan.ErrNotFound
	}

	l := *ln
	if err := fn(&l); err != nil {
		return loan.Loan{}, err
	}
	*ln = l
	return l, nil
}

func hasLoanState(states []loan.State, state loan.State) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
