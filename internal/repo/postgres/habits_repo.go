package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type HabitsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewHabitsRepo(pool *pgxpool.Pool, prom *observability.Prom) *HabitsRepo {
	return &HabitsRepo{pool: pool, prom: prom}
}

const habitColumns = `id, user_id, name, progress, version, created_at, updated_at`

func (r *HabitsRepo) ListHabits(ctx context.Context, userID string) ([]habit.Habit, error) {
	out := make([]habit.Habit, 0)

	err := r.prom.ObserveDB("habits.list", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+habitColumns+` FROM habits WHERE user_id = $1 ORDER BY seq ASC`,
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

func (r *HabitsRepo) CreateHabit(ctx context.Context, userID, name string, progress habit.Progress) (habit.Habit, error) {
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

	err = r.prom.ObserveDB("habits.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO habits (id, user_id, name, progress, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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

func (r *HabitsRepo) GetHabit(ctx context.Context, habitID string) (habit.Habit, error) {
	// ids are UUIDs in postgres; anything else cannot exist
	if uuid.Validate(habitID) != nil {
		return habit.Habit{}, habit.ErrNotFound
	}

	var h habit.Habit

	err := r.prom.ObserveDB("habits.get", func() error {
		var err error
		h, err = scanHabit(r.pool.QueryRow(ctx,
			`SELECT `+habitColumns+` FROM habits WHERE id = $1`,
			habitID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return habit.ErrNotFound
		}
		return err
	}, habit.ErrNotFound)

	if err != nil {
		return habit.Habit{}, err
	}

	return h, nil
}

func (r *HabitsRepo) ReplaceHabitProgress(ctx context.Context, habitID string, progress habit.Progress, ifVersion int) (int64, error) {
	if uuid.Validate(habitID) != nil {
		return 0, nil
	}

	raw, err := json.Marshal(progress)
	if err != nil {
		return 0, err
	}

	var affected int64

	err = r.prom.ObserveDB("habits.replace_progress", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE habits
				SET progress = $2,
					version = version + 1,
					updated_at = NOW()
			 WHERE id = $1 AND ($3 = 0 OR version = $3)`,
			habitID, string(raw), ifVersion,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})

	return affected, err
}

func (r *HabitsRepo) DeleteHabit(ctx context.Context, habitID string) (int64, error) {
	if uuid.Validate(habitID) != nil {
		return 0, nil
	}

	var affected int64

	err := r.prom.ObserveDB("habits.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM habits WHERE id = $1`, habitID)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})

	return affected, err
}

func scanHabit(row pgx.Row) (habit.Habit, error) {
	var (
		h   habit.Habit
		raw string
	)

	err := row.Scan(&h.ID, &h.UserID, &h.Name, &raw, &h.Version, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return habit.Habit{}, err
	}

	if err := json.Unmarshal([]byte(raw), &h.Progress); err != nil {
		return habit.Habit{}, fmt.Errorf("decode progress of habit %s: %w", h.ID, err)
	}

	return h, nil
}
