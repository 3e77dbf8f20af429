package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/geocoder89/habithub/internal/db"
	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/google/uuid"
	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store is the file-backed credential store. SQLite allows a single writer, so
// the pool is pinned to one connection and every statement is serialized.
type Store struct {
	db   *sql.DB
	prom *observability.Prom
}

func Open(ctx context.Context, path string, prom *observability.Prom) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")

	sqlDB, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.MigrateSQLite(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Store{db: sqlDB, prom: prom}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) observe(op string, fn func() error, expected ...error) error {
	return s.prom.ObserveDB(op, fn, expected...)
}

func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (user.User, error) {
	u := user.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	err := s.observe("users.create", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
			u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt,
		)
		if isUniqueViolation(err) {
			return user.ErrEmailTaken
		}
		return err
	}, user.ErrEmailTaken)

	if err != nil {
		return user.User{}, err
	}

	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := s.observe("users.find_by_email", func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`,
			email,
		).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)

		if errors.Is(err, sql.ErrNoRows) {
			return user.ErrNotFound
		}
		return err
	}, user.ErrNotFound)

	if err != nil {
		return user.User{}, err
	}

	return u, nil
}

func (s *Store) ListHabits(ctx context.Context, userID string) ([]habit.Habit, error) {
	out := make([]habit.Habit, 0)

	err := s.observe("habits.list", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, user_id, name, progress, version, created_at, updated_at
			 FROM habits WHERE user_id = ? ORDER BY seq ASC`,
			userID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			h, err := scanHabit(rows)
			if err != nil {
				return err
			}
			out = append(out, h)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) CreateHabit(ctx context.Context, userID, name string, progress habit.Progress) (habit.Habit, error) {
	raw, err := json.Marshal(progress)
	if err != nil {
		return habit.Habit{}, err
	}

	now := time.Now().UTC()
	h := habit.Habit{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Progress:  progress.Clone(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.observe("habits.create", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO habits (id, user_id, name, progress, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.UserID, h.Name, string(raw), h.Version, h.CreatedAt, h.UpdatedAt,
		)
		if isForeignKeyViolation(err) {
			return user.ErrNotFound
		}
		return err
	}, user.ErrNotFound)

	if err != nil {
		return habit.Habit{}, err
	}

	return h, nil
}

func (s *Store) GetHabit(ctx context.Context, habitID string) (habit.Habit, error) {
	var h habit.Habit

	err := s.observe("habits.get", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, user_id, name, progress, version, created_at, updated_at FROM habits WHERE id = ?`,
			habitID,
		)

		var err error
		h, err = scanHabit(row)
		if errors.Is(err, sql.ErrNoRows) {
			return habit.ErrNotFound
		}
		return err
	}, habit.ErrNotFound)

	if err != nil {
		return habit.Habit{}, err
	}

	return h, nil
}

func (s *Store) ReplaceHabitProgress(ctx context.Context, habitID string, progress habit.Progress, ifVersion int) (int64, error) {
	raw, err := json.Marshal(progress)
	if err != nil {
		return 0, err
	}

	var affected int64

	err = s.observe("habits.replace_progress", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE habits
			 SET progress = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND (? = 0 OR version = ?)`,
			string(raw), time.Now().UTC(), habitID, ifVersion, ifVersion,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})

	return affected, err
}

func (s *Store) DeleteHabit(ctx context.Context, habitID string) (int64, error) {
	var affected int64

	err := s.observe("habits.delete", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, habitID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})

	return affected, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHabit(row scanner) (habit.Habit, error) {
	var (
		h   habit.Habit
		raw string
	)

	if err := row.Scan(&h.ID, &h.UserID, &h.Name, &raw, &h.Version, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return habit.Habit{}, err
	}

	if err := json.Unmarshal([]byte(raw), &h.Progress); err != nil {
		return habit.Habit{}, fmt.Errorf("decode progress of habit %s: %w", h.ID, err)
	}

	return h, nil
}

// modernc returns extended result codes, so constraint kinds can be told apart.
func errorCode(err error) (int, bool) {
	var sqlErr *driver.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code(), true
	}
	return 0, false
}

func isUniqueViolation(err error) bool {
	code, ok := errorCode(err)
	return ok && (code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func isForeignKeyViolation(err error) bool {
	code, ok := errorCode(err)
	return ok && code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}
