// Package gateway authenticates callers and mediates every habit operation
// through an ownership check against the credential store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/habithub/internal/auth"
	"github.com/geocoder89/habithub/internal/cache"
	"github.com/geocoder89/habithub/internal/config"
	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/geocoder89/habithub/internal/security"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store is the credential store as the gateway needs it. It knows nothing
// about ownership; every check happens here.
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

// fillAttempts bounds the read-modify-write loop of FillRandomDay.
const fillAttempts = 3

type Deps struct {
	Store  Store
	Tokens *auth.Manager
	Hasher *security.Hasher
	Cache  cache.Store // optional
	Log    *slog.Logger
	Prom   *observability.Prom // optional
}

type Gateway struct {
	store  Store
	tokens *auth.Manager
	hasher *security.Hasher
	cache  cache.Store
	log    *slog.Logger
	prom   *observability.Prom
	tracer trace.Tracer

	rows, cols int
	opTimeout  time.Duration

	dummyOnce sync.Once
	dummyHash string
}

type LoginResult struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func New(deps Deps, cfg config.Config) *Gateway {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Gateway{
		store:     deps.Store,
		tokens:    deps.Tokens,
		hasher:    deps.Hasher,
		cache:     deps.Cache,
		log:       log,
		prom:      deps.Prom,
		tracer:    otel.Tracer("github.com/geocoder89/habithub/internal/gateway"),
		rows:      cfg.GridRows,
		cols:      cfg.GridCols,
		opTimeout: 3 * time.Second,
	}
}

func (g *Gateway) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

func (g *Gateway) Register(ctx context.Context, req user.RegisterRequest) (u user.User, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Register")
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)

	if name == "" || email == "" || req.Password == "" {
		g.prom.RecordAuth("register", "invalid")
		return user.User{}, fmt.Errorf("%w: name, email and password are required", ErrValidation)
	}
	if len(req.Password) > security.MaxPasswordBytes {
		g.prom.RecordAuth("register", "invalid")
		return user.User{}, fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, security.MaxPasswordBytes)
	}

	hash, err := g.hasher.HashPassword(req.Password)
	if err != nil {
		g.prom.RecordAuth("register", "error")
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	cctx, cancel := config.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	u, err = g.store.CreateUser(cctx, name, email, hash)
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			g.prom.RecordAuth("register", "conflict")
			return user.User{}, err
		}
		g.prom.RecordAuth("register", "error")
		g.log.ErrorContext(ctx, "create user failed", "err", err)
		return user.User{}, err
	}

	g.prom.RecordAuth("register", "ok")
	span.SetAttributes(attribute.String("user.id", u.ID))

	return u, nil
}

func (g *Gateway) Login(ctx context.Context, req user.LoginRequest) (res LoginResult, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Login")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		g.prom.RecordAuth("login", "invalid")
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	// no stored account can hold a longer password
	if len(req.Password) > security.MaxPasswordBytes {
		g.prom.RecordAuth("login", "rejected")
		return LoginResult{}, ErrInvalidCredentials
	}

	cctx, cancel := config.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	found, err := g.store.FindUserByEmail(cctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// spend the same bcrypt time as a real mismatch
			_ = g.hasher.CheckPassword(g.dummy(), req.Password)
			g.prom.RecordAuth("login", "rejected")
			return LoginResult{}, ErrInvalidCredentials
		}
		g.prom.RecordAuth("login", "error")
		g.log.ErrorContext(ctx, "find user failed", "err", err)
		return LoginResult{}, err
	}

	if err := g.hasher.CheckPassword(found.PasswordHash, req.Password); err != nil {
		if errors.Is(err, security.ErrMismatch) {
			g.prom.RecordAuth("login", "rejected")
			return LoginResult{}, ErrInvalidCredentials
		}
		g.prom.RecordAuth("login", "error")
		return LoginResult{}, fmt.Errorf("check password: %w", err)
	}

	token, expiresAt, err := g.tokens.GenerateAccessToken(found.ID)
	if err != nil {
		g.prom.RecordAuth("login", "error")
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	g.prom.RecordAuth("login", "ok")
	span.SetAttributes(attribute.String("user.id", found.ID))

	return LoginResult{
		Token:     token,
		Name:      found.Name,
		UserID:    found.ID,
		ExpiresAt: expiresAt,
	}, nil
}

func (g *Gateway) dummy() string {
	g.dummyOnce.Do(func() {
		h, err := g.hasher.HashPassword("habithub-dummy-password")
		if err == nil {
			g.dummyHash = h
		}
	})
	return g.dummyHash
}

// Authenticate verifies a raw bearer token and returns the user it was issued to.
func (g *Gateway) Authenticate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingToken
	}

	claims, err := g.tokens.VerifyAccessToken(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return claims.UserID, nil
}

// AuthorizeHabitAccess loads a habit by id and confirms userID owns it.
func (g *Gateway) AuthorizeHabitAccess(ctx context.Context, userID, habitID string) (h habit.Habit, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.AuthorizeHabitAccess",
		trace.WithAttributes(attribute.String("habit.id", habitID)))
	defer func() { endSpan(span, err) }()

	return g.authorize(ctx, userID, habitID)
}

func (g *Gateway) authorize(ctx context.Context, userID, habitID string) (habit.Habit, error) {
	if userID == "" {
		return habit.Habit{}, ErrMissingToken
	}

	cctx, cancel := config.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	h, err := g.store.GetHabit(cctx, habitID)
	if err != nil {
		return habit.Habit{}, err
	}

	if h.UserID != userID {
		g.log.WarnContext(ctx, "habit access denied", "habit_id", habitID)
		return habit.Habit{}, ErrForbidden
	}

	return h, nil
}

func (g *Gateway) ListHabits(ctx context.Context, userID string) (list []habit.Habit, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.ListHabits")
	defer func() { endSpan(span, err) }()

	gen, cacheable := g.listGeneration(ctx, userID)
	if cacheable {
		if list, ok := g.cachedList(ctx, userID, gen); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return list, nil
		}
	}

	cctx, cancel := config.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	list, err = g.store.ListHabits(cctx, userID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		g.storeList(ctx, userID, gen, list)
	}

	return list, nil
}

// AddHabits validates every entry before creating any of them. An entry
// without progress starts from an empty grid.
func (g *Gateway) AddHabits(ctx context.Context, userID string, entries []habit.NewHabit) (created []habit.Habit, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.AddHabits",
		trace.WithAttributes(attribute.Int("habits.count", len(entries))))
	defer func() { endSpan(span, err) }()

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: habits must be a non-empty array", ErrValidation)
	}

	prepared := make([]habit.NewHabit, 0, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: habits[%d].name is required", ErrValidation, i)
		}

		progress := e.Progress
		if progress == nil {
			progress = habit.NewProgress(g.rows, g.cols)
		} else if err := progress.Validate(); err != nil {
			return nil, fmt.Errorf("%w: habits[%d]: %w", ErrValidation, i, err)
		}

		prepared = append(prepared, habit.NewHabit{Name: name, Progress: progress})
	}

	defer g.invalidate(ctx, userID)

	cctx, cancel := config.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	created = make([]habit.Habit, 0, len(prepared))
	for _, e := range prepared {
		h, err := g.store.CreateHabit(cctx, userID, e.Name, e.Progress)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return created, fmt.Errorf("%w: token subject no longer exists", ErrInvalidToken)
			}
			return created, err
		}
		created = append(created, h)
	}

	return created, nil
}

// UpdateProgress replaces the whole sequence of a habit the caller owns.
// ifVersion 0 means last write wins; otherwise a stale version yields
// ErrVersionConflict.
func (g *Gateway) UpdateProgress(ctx context.Context, userID, habitID string, progress habit.Progress, ifVersion int) (h habit.Habit, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.UpdateProgress",
		trace.WithAttributes(
			attribute.String("habit.id", habitID),
			attribute.Int("habit.if_version", ifVersion),
		))
	defer func() { endSpan(span, err) }()

	if err := progress.Validate(); err != nil {
		return habit.Habit{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if ifVersion < 0 {
		return habit.Habit{}, fmt.Errorf("%w: version must be positive", ErrValidation)
	}

	current, err := g.authorize(ctx, userID, habitID)
	if err != nil {
		return habit.Habit{}, err
	}

	defer g.invalidate(ctx, userID)

	cctx, cancel := config.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	n, err := g.store.ReplaceHabitProgress(cctx, habitID, progress, ifVersion)
	if err != nil {
		return habit.Habit{}, err
	}

	if n == 0 {
		return habit.Habit{}, g.explainMiss(cctx, habitID, ifVersion)
	}

	if ifVersion > 0 {
		current.Progress = progress.Clone()
		current.Version = ifVersion + 1
		return current, nil
	}

	return g.store.GetHabit(cctx, habitID)
}

func (g *Gateway) DeleteHabit(ctx context.Context, userID, habitID string) (err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.DeleteHabit",
		trace.WithAttributes(attribute.String("habit.id", habitID)))
	defer func() { endSpan(span, err) }()

	if _, err := g.authorize(ctx, userID, habitID); err != nil {
		return err
	}

	defer g.invalidate(ctx, userID)

	cctx, cancel := config.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	n, err := g.store.DeleteHabit(cctx, habitID)
	if err != nil {
		return err
	}

	// lost a race with another delete
	if n == 0 {
		return habit.ErrNotFound
	}

	return nil
}

func (g *Gateway) HabitStats(ctx context.Context, userID, habitID string) (s habit.Stats, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.HabitStats",
		trace.WithAttributes(attribute.String("habit.id", habitID)))
	defer func() { endSpan(span, err) }()

	h, err := g.authorize(ctx, userID, habitID)
	if err != nil {
		return habit.Stats{}, err
	}

	return habit.ComputeStats(h.Progress), nil
}

// FillRandomDay marks one random empty day of an owned habit. Each attempt is
// a versioned write, so concurrent edits are never overwritten.
func (g *Gateway) FillRandomDay(ctx context.Context, userID, habitID string, mark habit.Mark) (h habit.Habit, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.FillRandomDay",
		trace.WithAttributes(attribute.String("habit.id", habitID)))
	defer func() { endSpan(span, err) }()

	if mark != habit.Positive && mark != habit.Negative {
		return habit.Habit{}, fmt.Errorf("%w: mark must be 1 or -1", ErrValidation)
	}

	defer g.invalidate(ctx, userID)

	for attempt := 0; attempt < fillAttempts; attempt++ {
		current, err := g.authorize(ctx, userID, habitID)
		if err != nil {
			return habit.Habit{}, err
		}

		next, day, err := habit.FillRandom(current.Progress, mark, nil)
		if err != nil {
			return habit.Habit{}, err
		}

		cctx, cancel := config.WithTimeout(ctx, g.opTimeout)
		n, err := g.store.ReplaceHabitProgress(cctx, habitID, next, current.Version)
		cancel()
		if err != nil {
			return habit.Habit{}, err
		}

		if n == 1 {
			span.SetAttributes(attribute.Int("habit.day", day))
			current.Progress = next
			current.Version++
			return current, nil
		}
	}

	return habit.Habit{}, ErrVersionConflict
}

// explainMiss tells a vanished habit apart from a stale version after an
// update touched no row.
func (g *Gateway) explainMiss(ctx context.Context, habitID string, ifVersion int) error {
	if ifVersion == 0 {
		return habit.ErrNotFound
	}

	if _, err := g.store.GetHabit(ctx, habitID); err != nil {
		return err
	}

	return ErrVersionConflict
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
