package postgres

import (
	"context"

	"github.com/geocoder89/habithub/internal/observability"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the users and habits repos into one credential store.
type Store struct {
	*UsersRepo
	*HabitsRepo
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool, prom *observability.Prom) *Store {
	return &Store{
		UsersRepo:  NewUsersRepo(pool, prom),
		HabitsRepo: NewHabitsRepo(pool, prom),
		pool:       pool,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
