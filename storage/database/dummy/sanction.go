package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/sanction"
)

type sanctionRepository struct {
	db *sanctionTable
}

var _ sanction.Repository = (*sanctionRepository)(nil) // interface compliance check

func NewSanctionRepository(db *DB) sanction.Repository {
	return &sanctionRepository{db: db.sanction}
}

func (repo *sanctionRepository) CreateSanction(_ context.Context, s sanction.Sanction) (sanction.Sanction, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if s.LoanGUID != "" {
		for _, existing := range repo.db.table {
			if existing.LoanGUID == s.LoanGUID {
				return sanction.Sanction{}, core.NewStorageError(errors.New("duplicate loan_guid"), "creating sanction")
			}
		}
	}

	repo.db.pk++
	s.ID = repo.db.pk
	s.GUID = core.SequentialGUID(core.SanctionPrefix, s.ID)
	repo.db.table[s.GUID] = &s
	return s, nil
}

func (repo *sanctionRepository) GetSanction(_ context.Context, guid string) (sanction.Sanction, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.table[guid]; ok && !s.Deleted {
		return *s, nil
	}
	return sanction.Sanction{}, sanction.ErrNotFound
}

func (repo *sanctionRepository) GetSanctionByLoan(_ context.Context, loanGUID string) (sanction.Sanction, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, s := range repo.db.table {
		if s.LoanGUID == loanGUID {
			return *s, nil
		}
	}
	return sanction.Sanction{}, sanction.ErrNotFound
}

func (repo *sanctionRepository) QuerySanctions(_ context.Context, filter *sanction.QueryFilter, ordering []core.DBOrdering) ([]sanction.Sanction, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter == nil {
		filter = new(sanction.QueryFilter)
	}

	sanctions := make([]sanction.Sanction, 0, len(repo.db.table))
	for _, s := range repo.db.table {
		if s.Deleted {
			continue
		}
		if filter.UserGUID != "" && s.UserGUID != filter.UserGUID {
			continue
		}
		if filter.LoanGUID != "" && s.LoanGUID != filter.LoanGUID {
			continue
		}
		if len(filter.Types) > 0 && !hasSanctionType(filter.Types, s.Type) {
			continue
		}
		if !inRange(s.SanctionDate, filter.IssuedFrom, filter.IssuedTo) {
			continue
		}
		sanctions = append(sanctions, *s)
	}

	sort.Slice(sanctions, func(i, j int) bool { return sanctions[i].ID < sanctions[j].ID })
	sort.SliceStable(sanctions, orderBy(ordering, func(field string, i, j int) int {
		switch field {
		case "guid":
			return compareStrings(sanctions[i].GUID, sanctions[j].GUID)
		case "type":
			return compareStrings(string(sanctions[i].Type), string(sanctions[j].Type))
		case "sanction_date":
			return compareTimes(sanctions[i].SanctionDate, sanctions[j].SanctionDate)
		case "created_at":
			return compareTimes(sanctions[i].CreatedAt, sanctions[j].CreatedAt)
		}
		return 0
	}))
	return sanctions, nil
}

func (repo *sanctionRepository) CountSanctions(_ context.Context, userGUID string, since time.Time) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var count int
	for _, s := range repo.db.table {
		if !s.Deleted && s.UserGUID == userGUID && !s.SanctionDate.Before(since) {
			count++
		}
	}
	return count, nil
}

func (repo *sanctionRepository) MutateSanction(_ context.Context, guid string, fn func(*sanction.Sanction) error) (sanction.Sanction, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s, ok := repo.db.table[guid]
	if !ok || s.Deleted {
		return sanction.Sanction{}, sanction.ErrNotFound
	}

	cp := *s
	if err := fn(&cp); err != nil {
		return sanction.Sanction{}, err
	}
	*s = cp
	return cp, nil
}

func hasSanctionType(types []sanction.Type, t sanction.Type) bool {
	for _, typ := range types {
		if typ == t {
			return true
		}
	}
	return false
}
