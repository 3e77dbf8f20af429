package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/habithub/internal/auth"
	"github.com/geocoder89/habithub/internal/cache"
	"github.com/geocoder89/habithub/internal/config"
	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/geocoder89/habithub/internal/repo/memory"
	"github.com/geocoder89/habithub/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testSecret = "test-secret-at-least-16-bytes"

type fixture struct {
	gw     *Gateway
	store  *memory.Store
	tokens *auth.Manager
	cache  cache.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store := memory.NewStore()
	return newFixtureWith(t, store, store, cache.NewMemory(time.Minute), nil)
}

// newFixtureWith lets a test wrap the memory store or swap the cache.
func newFixtureWith(t *testing.T, s Store, mem *memory.Store, c cache.Store, prom *observability.Prom) fixture {
	t.Helper()

	tokens := auth.NewManager(testSecret, time.Hour)

	gw := New(Deps{
		Store:  s,
		Tokens: tokens,
		Hasher: security.NewHasher(bcrypt.MinCost),
		Cache:  c,
		Prom:   prom,
	}, config.Config{GridRows: 7, GridCols: 30})

	return fixture{gw: gw, store: mem, tokens: tokens, cache: c}
}

// signIn registers a user and returns the id the token authenticates as.
func (f fixture) signIn(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()

	_, err := f.gw.Register(ctx, user.RegisterRequest{Name: "User", Email: email, Password: "pa55word"})
	require.NoError(t, err)

	res, err := f.gw.Login(ctx, user.LoginRequest{Email: email, Password: "pa55word"})
	require.NoError(t, err)

	id, err := f.gw.Authenticate(res.Token)
	require.NoError(t, err)
	return id
}

func (f fixture) addHabit(t *testing.T, userID string, progress habit.Progress) habit.Habit {
	t.Helper()

	created, err := f.gw.AddHabits(context.Background(), userID, []habit.NewHabit{{Name: "Read", Progress: progress}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.gw.Register(ctx, user.RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "s3cret!"})
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", u.PasswordHash)

	res, err := f.gw.Login(ctx, user.LoginRequest{Email: "ada@example.com", Password: "s3cret!"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", res.Name)
	assert.Equal(t, u.ID, res.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)

	id, err := f.gw.Authenticate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := user.RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "pw"}

	_, err := f.gw.Register(ctx, req)
	require.NoError(t, err)

	_, err = f.gw.Register(ctx, req)
	require.ErrorIs(t, err, user.ErrEmailTaken)
	assert.Equal(t, 1, f.store.UserCount())
}

func TestRegisterRequiresEveryField(t *testing.T) {
	tests := []struct {
		name string
		req  user.RegisterRequest
	}{
		{name: "no_name", req: user.RegisterRequest{Email: "a@example.com", Password: "pw"}},
		{name: "blank_name", req: user.RegisterRequest{Name: "  ", Email: "a@example.com", Password: "pw"}},
		{name: "no_email", req: user.RegisterRequest{Name: "A", Password: "pw"}},
		{name: "no_password", req: user.RegisterRequest{Name: "A", Email: "a@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.gw.Register(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, 0, f.store.UserCount())
		})
	}
}

func TestRegisterMeasuresPasswordInBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 40 runes passes a character count but is 80 bytes
	_, err := f.gw.Register(ctx, user.RegisterRequest{Name: "Zoé", Email: "zoe@example.com", Password: strings.Repeat("é", 40)})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.store.UserCount())

	_, err = f.gw.Register(ctx, user.RegisterRequest{Name: "Zoé", Email: "zoe@example.com", Password: strings.Repeat("é", 36)})
	require.NoError(t, err)

	_, err = f.gw.Login(ctx, user.LoginRequest{Email: "zoe@example.com", Password: strings.Repeat("é", 36)})
	require.NoError(t, err)

	_, err = f.gw.Login(ctx, user.LoginRequest{Email: "zoe@example.com", Password: strings.Repeat("é", 40)})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gw.Register(ctx, user.RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "right"})
	require.NoError(t, err)

	res, err := f.gw.Login(ctx, user.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, res.Token)

	res, err = f.gw.Login(ctx, user.LoginRequest{Email: "nobody@example.com", Password: "right"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, res.Token)

	_, err = f.gw.Login(ctx, user.LoginRequest{Email: "ada@example.com"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.Authenticate("")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = f.gw.Authenticate("not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)

	foreign, _, err := auth.NewManager("another-secret-16-bytes", time.Hour).GenerateAccessToken("u1")
	require.NoError(t, err)
	_, err = f.gw.Authenticate(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)

	past := f.tokens.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	token, _, err := past.GenerateAccessToken("u1")
	require.NoError(t, err)

	_, err = f.gw.Authenticate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestAuthorizeHabitAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.signIn(t, "alice@example.com")
	bob := f.signIn(t, "bob@example.com")

	h := f.addHabit(t, alice, nil)

	got, err := f.gw.AuthorizeHabitAccess(ctx, alice, h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, got.ID)

	_, err = f.gw.AuthorizeHabitAccess(ctx, bob, h.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.gw.AuthorizeHabitAccess(ctx, alice, "missing")
	require.ErrorIs(t, err, habit.ErrNotFound)
}

func TestAddHabitsDefaultsToEmptyGrid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")

	f.addHabit(t, alice, nil)

	list, err := f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Progress, 210)
	for _, m := range list[0].Progress {
		require.Equal(t, habit.Empty, m)
	}
}

func TestAddHabitsValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")

	_, err := f.gw.AddHabits(ctx, alice, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.gw.AddHabits(ctx, alice, []habit.NewHabit{
		{Name: "ok"},
		{Name: "bad", Progress: habit.Progress{0, 5}},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, habit.ErrInvalidProgress)

	list, err := f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdateProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")
	bob := f.signIn(t, "bob@example.com")
	h := f.addHabit(t, alice, habit.Progress{0, 0, 0})

	next := habit.Progress{1, -1, 1}

	updated, err := f.gw.UpdateProgress(ctx, alice, h.ID, next, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	again, err := f.gw.UpdateProgress(ctx, alice, h.ID, next, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Version)

	list, err := f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, next, list[0].Progress)

	_, err = f.gw.UpdateProgress(ctx, bob, h.ID, habit.Progress{0}, 0)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.gw.UpdateProgress(ctx, alice, "missing", habit.Progress{0}, 0)
	require.ErrorIs(t, err, habit.ErrNotFound)

	_, err = f.gw.UpdateProgress(ctx, alice, h.ID, habit.Progress{}, 0)
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateProgressWithStaleVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")
	h := f.addHabit(t, alice, habit.Progress{0, 0})

	updated, err := f.gw.UpdateProgress(ctx, alice, h.ID, habit.Progress{1, 0}, h.Version)
	require.NoError(t, err)
	assert.Equal(t, h.Version+1, updated.Version)

	_, err = f.gw.UpdateProgress(ctx, alice, h.ID, habit.Progress{-1, -1}, h.Version)
	require.ErrorIs(t, err, ErrVersionConflict)

	got, err := f.gw.AuthorizeHabitAccess(ctx, alice, h.ID)
	require.NoError(t, err)
	assert.Equal(t, habit.Progress{1, 0}, got.Progress)
}

func TestDeleteHabit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")
	bob := f.signIn(t, "bob@example.com")
	h := f.addHabit(t, alice, nil)

	require.ErrorIs(t, f.gw.DeleteHabit(ctx, bob, h.ID), ErrForbidden)
	require.NoError(t, f.gw.DeleteHabit(ctx, alice, h.ID))
	require.ErrorIs(t, f.gw.DeleteHabit(ctx, alice, h.ID), habit.ErrNotFound)
	require.ErrorIs(t, f.gw.DeleteHabit(ctx, alice, "never-existed"), habit.ErrNotFound)
}

func TestListIsCachedAndInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")

	list, err := f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, ok := f.cache.Get(ctx, cache.HabitsKey(alice, 0))
	require.True(t, ok, "listing should be cached")

	h := f.addHabit(t, alice, habit.Progress{0})

	list, err = f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.gw.UpdateProgress(ctx, alice, h.ID, habit.Progress{1}, 0)
	require.NoError(t, err)

	list, err = f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, habit.Progress{1}, list[0].Progress)

	require.NoError(t, f.gw.DeleteHabit(ctx, alice, h.ID))

	list, err = f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// pausingStore holds the first ListHabits after it has read its rows.
type pausingStore struct {
	*memory.Store
	once    sync.Once
	listed  chan struct{}
	release chan struct{}
}

func (s *pausingStore) ListHabits(ctx context.Context, userID string) ([]habit.Habit, error) {
	list, err := s.Store.ListHabits(ctx, userID)
	s.once.Do(func() {
		s.listed <- struct{}{}
		<-s.release
	})
	return list, err
}

func TestListingReadBeforeUpdateIsNeverServedAfterIt(t *testing.T) {
	mem := memory.NewStore()
	store := &pausingStore{Store: mem, listed: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWith(t, store, mem, cache.NewMemory(time.Minute), nil)
	ctx := context.Background()

	alice := f.signIn(t, "alice@example.com")
	h := f.addHabit(t, alice, habit.Progress{0, 0, 0})

	done := make(chan []habit.Habit, 1)
	go func() {
		list, err := f.gw.ListHabits(ctx, alice)
		assert.NoError(t, err)
		done <- list
	}()

	<-store.listed
	_, err := f.gw.UpdateProgress(ctx, alice, h.ID, habit.Progress{1, 0, 0}, 0)
	require.NoError(t, err)
	close(store.release)

	early := <-done
	require.Len(t, early, 1)
	assert.Equal(t, habit.Empty, early[0].Progress[0], "listing began before the update")

	list, err := f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, habit.Progress{1, 0, 0}, list[0].Progress)
}

// flakyCache fails its counter operations on demand.
type flakyCache struct {
	*cache.Memory
	incrErr    error
	counterErr error
}

func (c flakyCache) Incr(ctx context.Context, key string) (int64, error) {
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	return c.Memory.Incr(ctx, key)
}

func (c flakyCache) Counter(ctx context.Context, key string) (int64, error) {
	if c.counterErr != nil {
		return 0, c.counterErr
	}
	return c.Memory.Counter(ctx, key)
}

func TestFailedInvalidationIsRecordedButWriteSucceeds(t *testing.T) {
	mem := memory.NewStore()
	prom := observability.NewProm(prometheus.NewRegistry())
	f := newFixtureWith(t, mem, mem, flakyCache{Memory: cache.NewMemory(time.Minute), incrErr: errors.New("redis down")}, prom)
	ctx := context.Background()

	alice := f.signIn(t, "alice@example.com")
	h := f.addHabit(t, alice, habit.Progress{0})

	_, err := f.gw.UpdateProgress(ctx, alice, h.ID, habit.Progress{1}, 0)
	require.NoError(t, err)

	// one failure from the add, one from the update
	assert.Equal(t, float64(2), testutil.ToFloat64(prom.CacheErrors.WithLabelValues("invalidate")))
}

func TestListingBypassesCacheWithoutGeneration(t *testing.T) {
	mem := memory.NewStore()
	prom := observability.NewProm(prometheus.NewRegistry())
	f := newFixtureWith(t, mem, mem, flakyCache{Memory: cache.NewMemory(time.Minute), counterErr: errors.New("redis down")}, prom)
	ctx := context.Background()

	alice := f.signIn(t, "alice@example.com")
	h := f.addHabit(t, alice, habit.Progress{0})

	_, err := f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)

	_, err = f.gw.UpdateProgress(ctx, alice, h.ID, habit.Progress{-1}, 0)
	require.NoError(t, err)

	list, err := f.gw.ListHabits(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, habit.Progress{-1}, list[0].Progress)

	assert.Equal(t, float64(2), testutil.ToFloat64(prom.CacheErrors.WithLabelValues("generation")))
	assert.Equal(t, float64(0), testutil.ToFloat64(prom.CacheLookups.WithLabelValues("hit")))
}

func TestHabitStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")
	bob := f.signIn(t, "bob@example.com")
	h := f.addHabit(t, alice, habit.Progress{1, 1, -1, 1, 0})

	s, err := f.gw.HabitStats(ctx, alice, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.LongestRun)
	assert.Equal(t, 0, s.LongestStart)
	assert.Equal(t, 1, s.CurrentStreak)
	assert.False(t, s.Complete)

	_, err = f.gw.HabitStats(ctx, bob, h.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestFillRandomDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")
	h := f.addHabit(t, alice, habit.Progress{1, 0})

	filled, err := f.gw.FillRandomDay(ctx, alice, h.ID, habit.Negative)
	require.NoError(t, err)
	assert.Equal(t, habit.Progress{1, -1}, filled.Progress)
	assert.Equal(t, 2, filled.Version)

	_, err = f.gw.FillRandomDay(ctx, alice, h.ID, habit.Positive)
	require.ErrorIs(t, err, habit.ErrGridFull)

	_, err = f.gw.FillRandomDay(ctx, alice, h.ID, habit.Empty)
	require.ErrorIs(t, err, ErrValidation)
}

func TestConcurrentFillsNeverOverwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signIn(t, "alice@example.com")
	h := f.addHabit(t, alice, habit.NewProgress(1, 40))

	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := f.gw.FillRandomDay(ctx, alice, h.ID, habit.Positive)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrVersionConflict)
		}()
	}
	wg.Wait()

	got, err := f.gw.AuthorizeHabitAccess(ctx, alice, h.ID)
	require.NoError(t, err)
	assert.Equal(t, successes, habit.ComputeStats(got.Progress).Positive)
	assert.Equal(t, successes+1, got.Version)
}
