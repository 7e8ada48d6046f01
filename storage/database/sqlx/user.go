package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var userColumns = []string{
	"id", "name", "username", "email", "is_active", "roles",
	"sector", "password_hash", "created_at", "updated_at", "last_login",
}

type userRow struct {
	ID           string         `db:"id"`
	Name         null.String    `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	IsActive     null.Bool      `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	Sector       null.String    `db:"sector"`
	PasswordHash null.Bytes     `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name.String,
		Username:     row.Username.String,
		Email:        row.Email.String,
		Roles:        row.Roles,
		Sector:       row.Sector.String,
		PasswordHash: row.PasswordHash.Bytes,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		LastLogin:    row.LastLogin.Time,
	}
	if row.IsActive.Valid {
		usr.SetActive(row.IsActive.Bool)
	}
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	uname := psql.Select("count(*)").From(`"user"`).Where(sq.Eq{"username": username})
	mail := psql.Select("count(*)").From(`"user"`).Where(sq.Eq{"email": email})
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		uname = uname.Where(sq.NotEq{"id": ids})
		mail = mail.Where(sq.NotEq{"id": ids})
	}

	var cnt int
	if username != "" {
		query, args, err := uname.ToSql()
		if err != nil {
			return errors.Wrap(err, "building query")
		}
		if err = repo.db.GetContext(ctx, &cnt, query, args...); err != nil {
			return errors.Wrap(err, "checking username uniqueness")
		}
		if cnt > 0 {
			return user.ErrUsernameExists
		}
	}
	if email != "" {
		query, args, err := mail.ToSql()
		if err != nil {
			return errors.Wrap(err, "building query")
		}
		if err = repo.db.GetContext(ctx, &cnt, query, args...); err != nil {
			return errors.Wrap(err, "checking email uniqueness")
		}
		if cnt > 0 {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	query, args, err := psql.Insert(`"user"`).
		Columns(userColumns...).
		Values(
			usr.ID, null.NewString(usr.Name, usr.Name != ""), null.NewString(usr.Username, usr.Username != ""),
			null.NewString(usr.Email, usr.Email != ""), null.BoolFromPtr(usr.IsActive), pq.StringArray(usr.Roles),
			null.NewString(usr.Sector, usr.Sector != ""), null.BytesFrom(usr.PasswordHash),
			usr.CreatedAt, usr.UpdatedAt, null.NewTime(usr.LastLogin, !usr.LastLogin.IsZero()),
		).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	qb := psql.Select(userColumns...).From(`"user"`).Limit(1)
	switch {
	case filter.ID != "":
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.Username != "":
		qb = qb.Where(sq.Eq{"username": filter.Username})
	case filter.Email != "":
		qb = qb.Where(sq.Eq{"email": filter.Email})
	case filter.UsernameOrEmail != nil:
		qb = qb.Where(sq.Or{sq.Eq{"username": filter.UsernameOrEmail}, sq.Eq{"email": filter.UsernameOrEmail}})
	default:
		return user.User{}, user.ErrNotFound
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	qb := psql.Select(userColumns...).From(`"user"`)

	if filter != nil {
		if filter.Search != "" {
			search := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.ILike{"username": search},
				sq.ILike{"email": search},
				sq.ILike{"name": search},
			})
		}
		if len(filter.Roles) > 0 {
			// roles hold hierarchical prefixes ("student:", "mentor:"); a user
			// matches when any of their roles starts with a requested prefix
			or := make(sq.Or, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				or = append(or, sq.Expr(
					"EXISTS (SELECT 1 FROM unnest(roles) AS role WHERE role LIKE ?)", role+"%",
				))
			}
			qb = qb.Where(or)
		}
		if filter.Sector != "" {
			qb = qb.Where(sq.Expr("lower(sector) = lower(?)", filter.Sector))
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}

	if len(ordering) > 0 {
		for _, ord := range ordering {
			qb = qb.OrderBy(ord.String())
		}
	} else {
		qb = qb.OrderBy("created_at ASC", "id ASC")
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool, sector *string) (user.User, error) {
	qb := psql.Update(`"user"`).Where(sq.Eq{"id": usr.ID})

	// only save set fields
	if usr.Name != "" {
		qb = qb.Set("name", usr.Name)
	}
	if usr.Username != "" {
		qb = qb.Set("username", usr.Username)
	}
	if usr.Email != "" {
		qb = qb.Set("email", usr.Email)
	}
	if usr.Roles != nil {
		qb = qb.Set("roles", pq.StringArray(usr.Roles))
	}
	if usr.PasswordHash != nil {
		qb = qb.Set("password_hash", usr.PasswordHash)
	}
	if isActive != nil {
		qb = qb.Set("is_active", *isActive)
	}
	if sector != nil {
		qb = qb.Set("sector", *sector)
	}
	if !usr.LastLogin.IsZero() {
		qb = qb.Set("last_login", usr.LastLogin)
	}
	if !usr.UpdatedAt.IsZero() {
		qb = qb.Set("updated_at", usr.UpdatedAt)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr)
	}
	return repo.UpdateUser(ctx, usr, usr.IsActive, nil)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	query, args, err := psql.Delete(`"user"`).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return int(n), nil
}
