package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/google/uuid"
)

// Store keeps users and habits in process memory. It is used for tests and
// for `STORE_DRIVER=memory` local runs; nothing survives a restart.
type Store struct {
	mu sync.RWMutex

	users       map[string]user.User // by id
	usersByMail map[string]string    // email -> id

	habits     map[string]habit.Habit // by id
	habitOrder []string               // insertion order
}

func NewStore() *Store {
	return &Store{
		users:       make(map[string]user.User),
		usersByMail: make(map[string]string),
		habits:      make(map[string]habit.Habit),
	}
}

func (s *Store) CreateUser(_ context.Context, name, email, passwordHash string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByMail[email]; taken {
		return user.User{}, user.ErrEmailTaken
	}

	u := user.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	s.users[u.ID] = u
	s.usersByMail[email] = u.ID

	return u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByMail[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	return s.users[id], nil
}

// UserCount reports how many users exist.
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users)
}

func (s *Store) ListHabits(_ context.Context, userID string) ([]habit.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]habit.Habit, 0)
	for _, id := range s.habitOrder {
		h, ok := s.habits[id]
		if ok && h.UserID == userID {
			out = append(out, cloneHabit(h))
		}
	}

	return out, nil
}

func (s *Store) CreateHabit(_ context.Context, userID, name string, progress habit.Progress) (habit.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return habit.Habit{}, user.ErrNotFound
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

	s.habits[h.ID] = h
	s.habitOrder = append(s.habitOrder, h.ID)

	return cloneHabit(h), nil
}

func (s *Store) GetHabit(_ context.Context, habitID string) (habit.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.habits[habitID]
	if !ok {
		return habit.Habit{}, habit.ErrNotFound
	}

	return cloneHabit(h), nil
}

func (s *Store) ReplaceHabitProgress(_ context.Context, habitID string, progress habit.Progress, ifVersion int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.habits[habitID]
	if !ok {
		return 0, nil
	}
	if ifVersion > 0 && h.Version != ifVersion {
		return 0, nil
	}

	h.Progress = progress.Clone()
	h.Version++
	h.UpdatedAt = time.Now().UTC()
	s.habits[habitID] = h

	return 1, nil
}

func (s *Store) DeleteHabit(_ context.Context, habitID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.habits[habitID]; !ok {
		return 0, nil
	}

	delete(s.habits, habitID)
	for i, id := range s.habitOrder {
		if id == habitID {
			s.habitOrder = append(s.habitOrder[:i], s.habitOrder[i+1:]...)
			break
		}
	}

	return 1, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func cloneHabit(h habit.Habit) habit.Habit {
	h.Progress = h.Progress.Clone()
	return h
}
