package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (r *UsersRepo) CreateUser(ctx context.Context, name, email, passwordHash string) (user.User, error) {
	u := user.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	err := r.prom.ObserveDB("users.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, name, email, password_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt,
		)
		// the UNIQUE index is the arbiter; a racing duplicate lands here
		if IsUniqueViolation(err) {
			return user.ErrEmailTaken
		}
		return err
	}, user.ErrEmailTaken)

	if err != nil {
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) FindUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB("users.find_by_email", func() error {
		err := r.pool.QueryRow(
			ctx,
			`SELECT id, name, email, password_hash, created_at
			 FROM users
			 WHERE email = $1`,
			email,
		).Scan(
			&u.ID,
			&u.Name,
			&u.Email,
			&u.PasswordHash,
			&u.CreatedAt,
		)

		if errors.Is(err, pgx.ErrNoRows) {
			return user.ErrNotFound
		}
		return err
	}, user.ErrNotFound)

	if err != nil {
		return user.User{}, err
	}
	return u, nil
}
