package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/user"
)

type userRepository struct {
	db        *userTable
	loans     *loanTable
	sanctions *sanctionTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user, loans: db.loan, sanctions: db.sanction}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded[usr.ID] = true
	}

	for _, usr := range repo.db.table {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = uuid.New().String()
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := repo.query()

	if filter != nil {
		filtered := make([]user.User, 0, len(users))
		for _, u := range users {
			// search keyword matching any Name, Username or Email ?
			if filter.Search != "" &&
				!(containsFold(u.Username, filter.Search) || containsFold(u.Email, filter.Search) || containsFold(u.Name, filter.Search)) {
				continue
			}
			// any of the specified roles
			if len(filter.Roles) > 0 {
				var hasRole bool
				for _, r := range filter.Roles {
					if u.RoleStartsWith(r) {
						hasRole = true
						break
					}
				}
				if !hasRole {
					continue
				}
			}
			if filter.IsActive != nil && u.IsActive != *filter.IsActive {
				continue
			}
			if !inRange(u.CreatedAt, filter.CreatedFrom, filter.CreatedTo) {
				continue
			}
			filtered = append(filtered, u)
		}
		users = filtered
	}

	sort.SliceStable(users, orderBy(ordering, func(field string, i, j int) int {
		switch field {
		case "name":
			return compareStrings(users[i].Name, users[j].Name)
		case "username":
			return compareStrings(users[i].Username, users[j].Username)
		case "email":
			return compareStrings(users[i].Email, users[j].Email)
		case "created_at":
			return compareTimes(users[i].CreatedAt, users[j].CreatedAt)
		case "last_login":
			return compareTimes(users[i].LastLogin, users[j].LastLogin)
		}
		return 0
	}))
	return users, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.table[filter.ID]; ok {
			return *usr, nil
		}
		return user.User{}, user.ErrNotFound
	}

	for _, usr := range repo.db.table {
		switch {
		case filter.Username != "":
			if usr.Username == filter.Username {
				return *usr, nil
			}
		case filter.Email != "":
			if usr.Email == filter.Email {
				return *usr, nil
			}
		case filter.UsernameOrEmail != "":
			if usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail {
				return *usr, nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) DeleteUsers(_ context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.referenced(ids) {
		return user.ErrHasLoans
	}
	for _, id := range ids {
		delete(repo.db.table, id)
	}
	return nil
}

// referenced reports whether a loan or a sanction, deleted ones included, belongs to one of the users.
func (repo *userRepository) referenced(ids []string) bool {
	owned := make(map[string]bool, len(ids))
	for _, id := range ids {
		owned[id] = true
	}

	repo.loans.RLock()
	defer repo.loans.RUnlock()
	for _, ln := range repo.loans.table {
		if owned[ln.UserGUID] {
			return true
		}
	}

	repo.sanctions.RLock()
	defer repo.sanctions.RUnlock()
	for _, s := range repo.sanctions.table {
		if owned[s.UserGUID] {
			return true
		}
	}
	return false
}
