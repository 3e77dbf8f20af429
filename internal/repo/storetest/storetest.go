// Package storetest holds the behaviour every credential store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (user.User, error)
	FindUserByEmail(ctx context.Context, email string) (user.User, error)
	ListHabits(ctx context.Context, userID string) ([]habit.Habit, error)
	CreateHabit(ctx context.Context, userID, name string, progress habit.Progress) (habit.Habit, error)
	GetHabit(ctx context.Context, habitID string) (habit.Habit, error)
	ReplaceHabitProgress(ctx context.Context, habitID string, progress habit.Progress, ifVersion int) (int64, error)
	DeleteHabit(ctx context.Context, habitID string) (int64, error)
	Ping(ctx context.Context) error
}

// missingID is a well-formed UUID that no backend will ever assign.
const missingID = "00000000-0000-4000-8000-000000000000"

// Run exercises open() with a fresh, empty store per subtest.
func Run(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()

	t.Run("create_and_find_user", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		u, err := s.CreateUser(ctx, "Ada", "ada@example.com", "hash")
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)

		got, err := s.FindUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "Ada", got.Name)
		assert.Equal(t, "hash", got.PasswordHash)
	})

	t.Run("find_unknown_email", func(t *testing.T) {
		s := open(t)

		_, err := s.FindUserByEmail(context.Background(), "nobody@example.com")
		require.ErrorIs(t, err, user.ErrNotFound)
	})

	t.Run("duplicate_email_keeps_first_user", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		first, err := s.CreateUser(ctx, "Ada", "ada@example.com", "hash-1")
		require.NoError(t, err)

		_, err = s.CreateUser(ctx, "Imposter", "ada@example.com", "hash-2")
		require.ErrorIs(t, err, user.ErrEmailTaken)

		got, err := s.FindUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "hash-1", got.PasswordHash)
	})

	t.Run("email_is_case_sensitive", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.CreateUser(ctx, "Ada", "ada@example.com", "hash")
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, "Ada", "ADA@example.com", "hash")
		require.NoError(t, err)
	})

	t.Run("create_habit_with_empty_grid", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "ada@example.com")

		created, err := s.CreateHabit(ctx, u.ID, "Read", habit.NewProgress(7, 30))
		require.NoError(t, err)
		assert.Equal(t, 1, created.Version)

		list, err := s.ListHabits(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)

		h := list[0]
		assert.Equal(t, created.ID, h.ID)
		assert.Equal(t, u.ID, h.UserID)
		assert.Equal(t, "Read", h.Name)
		require.Len(t, h.Progress, 210)
		for _, m := range h.Progress {
			require.Equal(t, habit.Empty, m)
		}
	})

	t.Run("create_habit_for_unknown_user", func(t *testing.T) {
		s := open(t)

		_, err := s.CreateHabit(context.Background(), missingID, "Read", habit.Progress{0})
		require.ErrorIs(t, err, user.ErrNotFound)
	})

	t.Run("list_is_per_user_in_insertion_order", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		a := mustUser(t, s, "a@example.com")
		b := mustUser(t, s, "b@example.com")

		for _, name := range []string{"one", "two", "three"} {
			_, err := s.CreateHabit(ctx, a.ID, name, habit.Progress{0})
			require.NoError(t, err)
		}
		_, err := s.CreateHabit(ctx, b.ID, "other", habit.Progress{0})
		require.NoError(t, err)

		list, err := s.ListHabits(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "one", list[0].Name)
		assert.Equal(t, "two", list[1].Name)
		assert.Equal(t, "three", list[2].Name)

		empty, err := s.ListHabits(ctx, missingID)
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})

	t.Run("get_habit", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "ada@example.com")

		created, err := s.CreateHabit(ctx, u.ID, "Read", habit.Progress{1, 0, -1})
		require.NoError(t, err)

		got, err := s.GetHabit(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.UserID)
		assert.Equal(t, habit.Progress{1, 0, -1}, got.Progress)

		_, err = s.GetHabit(ctx, missingID)
		require.ErrorIs(t, err, habit.ErrNotFound)

		_, err = s.GetHabit(ctx, "not-a-uuid")
		require.ErrorIs(t, err, habit.ErrNotFound)
	})

	t.Run("replace_round_trips_and_is_idempotent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "ada@example.com")

		h, err := s.CreateHabit(ctx, u.ID, "Read", habit.NewProgress(1, 5))
		require.NoError(t, err)

		next := habit.Progress{1, -1, 0, 1, 1}

		n, err := s.ReplaceHabitProgress(ctx, h.ID, next, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		first, err := s.ListHabits(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.Equal(t, next, first[0].Progress)

		n, err = s.ReplaceHabitProgress(ctx, h.ID, next, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		second, err := s.ListHabits(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, first[0].Progress, second[0].Progress)
		assert.Equal(t, 3, second[0].Version)
	})

	t.Run("replace_does_not_alias_caller_slice", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "ada@example.com")

		h, err := s.CreateHabit(ctx, u.ID, "Read", habit.Progress{0, 0})
		require.NoError(t, err)

		next := habit.Progress{1, 1}
		_, err = s.ReplaceHabitProgress(ctx, h.ID, next, 0)
		require.NoError(t, err)
		next[0] = habit.Negative

		got, err := s.GetHabit(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, habit.Progress{1, 1}, got.Progress)
	})

	t.Run("replace_with_version", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "ada@example.com")

		h, err := s.CreateHabit(ctx, u.ID, "Read", habit.Progress{0, 0})
		require.NoError(t, err)

		n, err := s.ReplaceHabitProgress(ctx, h.ID, habit.Progress{1, 0}, 1)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		// version is now 2; a writer still holding 1 loses
		n, err = s.ReplaceHabitProgress(ctx, h.ID, habit.Progress{-1, -1}, 1)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		got, err := s.GetHabit(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, habit.Progress{1, 0}, got.Progress)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("replace_missing_habit", func(t *testing.T) {
		s := open(t)

		n, err := s.ReplaceHabitProgress(context.Background(), missingID, habit.Progress{1}, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "ada@example.com")

		h, err := s.CreateHabit(ctx, u.ID, "Read", habit.Progress{0})
		require.NoError(t, err)

		n, err := s.DeleteHabit(ctx, h.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = s.DeleteHabit(ctx, h.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		list, err := s.ListHabits(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("delete_missing_habit", func(t *testing.T) {
		s := open(t)

		n, err := s.DeleteHabit(context.Background(), missingID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Ping(context.Background()))
	})
}

func mustUser(t *testing.T, s Store, email string) user.User {
	t.Helper()

	u, err := s.CreateUser(context.Background(), "User", email, "hash")
	require.NoError(t, err)
	return u
}
