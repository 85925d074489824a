package sqlxrepos

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/user"
)

type (
	userRepository struct {
		repository
	}

	userRow struct {
		ID           string         `db:"id" goqu:"skipupdate"`
		Name         string         `db:"name"`
		Username     null.String    `db:"username"`
		Email        null.String    `db:"email"`
		IsActive     bool           `db:"is_active"`
		Roles        pq.StringArray `db:"roles"`
		PasswordHash []byte         `db:"password_hash"`
		CreatedAt    time.Time      `db:"created_at" goqu:"skipupdate"`
		UpdatedAt    time.Time      `db:"updated_at"`
		LastLogin    null.Time      `db:"last_login"`
	}
)

var (
	_ user.Repository = (*userRepository)(nil) // interface compliance check

	userSortable = map[string]bool{"name": true, "username": true, "email": true, "created_at": true, "last_login": true}
)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{repository: newRepository(db)}
}

func fromUser(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Roles:        roles,
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		IsActive:     row.IsActive,
		Roles:        row.Roles,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.LastLogin.Valid {
		usr.LastLogin = row.LastLogin.Time.UTC()
	}
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	return usr
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	var conds []goqu.Expression
	if username != "" {
		conds = append(conds, goqu.C("username").Eq(username))
	}
	if email != "" {
		conds = append(conds, goqu.C("email").Eq(email))
	}
	if len(conds) == 0 {
		return nil
	}

	ds := dialect.From(tableUser).Prepared(true).Where(goqu.Or(conds...)).Limit(1)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		ds = ds.Where(goqu.C(colID).NotIn(ids))
	}

	var row userRow
	if err := repo.get(ctx, &row, ds, user.ErrNotFound); err != nil {
		if err == user.ErrNotFound {
			return nil
		}
		return err
	}
	if username != "" && row.Username.String == username {
		return user.ErrUsernameExists
	}
	return user.ErrEmailExists
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	if err := repo.exec(ctx, dialect.Insert(tableUser).Prepared(true).Rows(fromUser(usr))); err != nil {
		return user.User{}, repo.mapUniqueViolation(err)
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	ds := dialect.From(tableUser).Prepared(true)

	if filter != nil {
		if filter.Search != "" {
			pattern := "%" + filter.Search + "%"
			ds = ds.Where(goqu.Or(
				goqu.C("name").ILike(pattern),
				goqu.C("username").ILike(pattern),
				goqu.C("email").ILike(pattern),
			))
		}
		if len(filter.Roles) > 0 {
			prefixes := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				prefixes = append(prefixes, role+"%")
			}
			ds = ds.Where(goqu.L("EXISTS (SELECT 1 FROM unnest(roles) AS r WHERE r LIKE ANY(?))", pq.StringArray(prefixes)))
		}
		if filter.IsActive != nil {
			ds = ds.Where(goqu.C("is_active").Eq(*filter.IsActive))
		}
		if !filter.CreatedFrom.IsZero() {
			ds = ds.Where(goqu.C(colCreatedAt).Gte(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			ds = ds.Where(goqu.C(colCreatedAt).Lte(filter.CreatedTo.UTC()))
		}
	}
	ds = ds.Order(orderedBy(ordering, userSortable, goqu.I(colCreatedAt).Asc())...)

	var rows []userRow
	if err := repo.selectAll(ctx, &rows, ds); err != nil {
		return nil, err
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	ds := dialect.From(tableUser).Prepared(true)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		ds = ds.Where(goqu.C(colID).Eq(filter.ID))
	case filter.Username != "":
		ds = ds.Where(goqu.C("username").Eq(filter.Username))
	case filter.Email != "":
		ds = ds.Where(goqu.C("email").Eq(filter.Email))
	case filter.UsernameOrEmail != "":
		ds = ds.Where(goqu.Or(
			goqu.C("username").Eq(filter.UsernameOrEmail),
			goqu.C("email").Eq(filter.UsernameOrEmail),
		))
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := repo.get(ctx, &row, ds.Limit(1), user.ErrNotFound); err != nil {
		return user.User{}, err
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	ds := dialect.Update(tableUser).Prepared(true).Set(fromUser(usr)).Where(goqu.C(colID).Eq(usr.ID))
	if err := repo.exec(ctx, ds); err != nil {
		return user.User{}, repo.mapUniqueViolation(err)
	}
	return usr, nil
}

func (repo *userRepository) DeleteUsers(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := repo.exec(ctx, dialect.Delete(tableUser).Prepared(true).Where(goqu.C(colID).In(ids))); err != nil {
		if foreignKeyViolation(err) {
			return user.ErrHasLoans
		}
		return err
	}
	return nil
}

func (repo *userRepository) mapUniqueViolation(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch constraint {
	case "user_username_key":
		return user.ErrUsernameExists
	case "user_email_key":
		return user.ErrEmailExists
	}
	return err
}
