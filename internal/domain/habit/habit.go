package habit

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("habit not found")
	ErrInvalidProgress = errors.New("invalid progress")
	ErrGridFull        = errors.New("habit has no empty day left")
)

// MaxProgressLen bounds a single progress sequence.
const MaxProgressLen = 10000

// Mark is the state of one tracked day.
type Mark int

const (
	Negative Mark = -1
	Empty    Mark = 0
	Positive Mark = 1
)

func (m Mark) Valid() bool {
	return m >= Negative && m <= Positive
}

// Progress is the ordered day-by-day record of a habit.
type Progress []Mark

// NewProgress returns an all-empty grid of rows*cols days.
func NewProgress(rows, cols int) Progress {
	return make(Progress, rows*cols)
}

func (p Progress) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: must not be empty", ErrInvalidProgress)
	}
	if len(p) > MaxProgressLen {
		return fmt.Errorf("%w: at most %d days", ErrInvalidProgress, MaxProgressLen)
	}
	for i, m := range p {
		if !m.Valid() {
			return fmt.Errorf("%w: day %d has mark %d", ErrInvalidProgress, i, m)
		}
	}
	return nil
}

func (p Progress) Clone() Progress {
	if p == nil {
		return nil
	}
	out := make(Progress, len(p))
	copy(out, p)
	return out
}

type Habit struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Progress  Progress  `json:"progress"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewHabit is one entry of an add-habits request. A missing progress means a
// fresh, all-empty grid.
type NewHabit struct {
	Name     string   `json:"name" binding:"required,max=120"`
	Progress Progress `json:"progress" binding:"omitempty,max=10000,dive,oneof=-1 0 1"`
}

type CreateHabitsRequest struct {
	Habits []NewHabit `json:"habits" binding:"required,min=1,max=50,dive"`
}

// UpdateProgressRequest replaces the whole sequence. Version is optional; when
// set the update only applies if the stored habit is still at that version.
type UpdateProgressRequest struct {
	Progress Progress `json:"progress" binding:"required,min=1,max=10000,dive,oneof=-1 0 1"`
	Version  int      `json:"version" binding:"omitempty,min=1"`
}

type FillRequest struct {
	Mark Mark `json:"mark" binding:"required,oneof=-1 1"`
}
