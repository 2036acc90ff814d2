package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"traveldiary/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock выдает время, каждый раз сдвигаясь на step.
type stepClock struct {
	mu   sync.Mutex
	cur  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{cur: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(c.step)
	return c.cur
}

type storeFactory func(t *testing.T, opts ...Option) Storage

func newMem(t *testing.T, opts ...Option) Storage {
	t.Helper()
	return NewMemStorage(opts...)
}

func newSQLite(t *testing.T, opts ...Option) Storage {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var backends = map[string]storeFactory{
	"memory": newMem,
	"sqlite": newSQLite,
}

func forEachBackend(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	for name, factory := range backends {
		factory := factory
		t.Run(name, func(t *testing.T) { fn(t, factory) })
	}
}

func assertShareInvariant(t *testing.T, e *models.Entry) {
	t.Helper()
	assert.Equal(t, e.IsShared, e.ShareID != nil, "isShared=%v shareId=%v", e.IsShared, e.ShareID)
}

func TestCreateEntry_AssignsIDAndDefaults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)

		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)

		assert.Equal(t, int64(1), e.ID)
		assert.Equal(t, "u1", e.UserID)
		assert.Equal(t, models.DefaultCaption, e.Caption)
		assert.Equal(t, models.DefaultImageURL, e.ImageURL)
		assert.Nil(t, e.Location)
		assert.Equal(t, models.DefaultScreenInfo(), e.ScreenInfo)
		assert.False(t, e.IsShared)
		assert.Nil(t, e.ShareID)
		assert.False(t, e.CreatedAt.IsZero())
	})
}

func TestCreateEntry_KeepsPayload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)

		in := models.NewEntry{
			Caption:    "Beach",
			ImageURL:   "http://x/y.jpg",
			Location:   &models.Location{Lat: 43.7, Lng: 7.26},
			ScreenInfo: &models.ScreenInfo{Width: 1080, Height: 1920, Orientation: "portrait"},
		}
		created, err := s.CreateEntry(ctx, "u1", in)
		require.NoError(t, err)

		got, err := s.GetEntry(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Beach", got.Caption)
		assert.Equal(t, "http://x/y.jpg", got.ImageURL)
		require.NotNil(t, got.Location)
		assert.InDelta(t, 43.7, got.Location.Lat, 1e-9)
		assert.InDelta(t, 7.26, got.Location.Lng, 1e-9)
		assert.Equal(t, models.ScreenInfo{Width: 1080, Height: 1920, Orientation: "portrait"}, got.ScreenInfo)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	})
}

func TestCreateEntry_IDsStrictlyIncreaseAndAreNeverReused(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)

		var last int64
		for i := 0; i < 3; i++ {
			e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
			require.NoError(t, err)
			require.Greater(t, e.ID, last)
			last = e.ID
		}
		for id := int64(1); id <= last; id++ {
			require.NoError(t, s.DeleteEntry(ctx, id))
		}

		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)
		assert.Equal(t, last+1, e.ID)
	})
}

func TestCreateEntry_ConcurrentIDsUnique(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)

		const n = 50
		ids := make(chan int64, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e, err := s.CreateEntry(ctx, fmt.Sprintf("u%d", i%3), models.NewEntry{})
				if err == nil {
					ids <- e.ID
				}
			}(i)
		}
		wg.Wait()
		close(ids)

		seen := make(map[int64]bool)
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
	})
}

func TestGetEntry_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		_, err := newStore(t).GetEntry(context.Background(), 42)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetEntriesByOwner_NewestFirstAndOwnerOnly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		clock := newStepClock(time.Second)
		s := newStore(t, WithClock(clock.Now))

		for i, owner := range []string{"alice", "bob", "alice", "alice", "bob"} {
			_, err := s.CreateEntry(ctx, owner, models.NewEntry{Caption: fmt.Sprintf("c%d", i)})
			require.NoError(t, err)
		}

		got, err := s.GetEntriesByOwner(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for _, e := range got {
			assert.Equal(t, "alice", e.UserID)
		}
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i-1].CreatedAt.After(got[i].CreatedAt), "entries must be newest first")
		}
		assert.Equal(t, []string{"c3", "c2", "c0"}, []string{got[0].Caption, got[1].Caption, got[2].Caption})
	})
}

func TestGetEntriesByOwner_SameTimestampOrdersByID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		s := newStore(t, WithClock(func() time.Time { return fixed }))

		for i := 0; i < 3; i++ {
			_, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
			require.NoError(t, err)
		}
		got, err := s.GetEntriesByOwner(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []int64{3, 2, 1}, []int64{got[0].ID, got[1].ID, got[2].ID})
	})
}

func TestGetEntriesByOwner_EmptyIsNotNil(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		got, err := newStore(t).GetEntriesByOwner(context.Background(), "nobody")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestDeleteEntry_IsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)

		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)

		require.NoError(t, s.DeleteEntry(ctx, e.ID))
		require.NoError(t, s.DeleteEntry(ctx, e.ID))
		require.NoError(t, s.DeleteEntry(ctx, 999))

		_, err = s.GetEntry(ctx, e.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateEntrySharing_ShareIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)
		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)

		first, err := s.UpdateEntrySharing(ctx, e.ID, true, "")
		require.NoError(t, err)
		assertShareInvariant(t, first)
		require.NotNil(t, first.ShareID)
		assert.GreaterOrEqual(t, len(*first.ShareID), 22, "token must carry at least 128 bits")

		second, err := s.UpdateEntrySharing(ctx, e.ID, true, "")
		require.NoError(t, err)
		assertShareInvariant(t, second)
		assert.Equal(t, *first.ShareID, *second.ShareID)
	})
}

func TestUpdateEntrySharing_SuppliedToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)
		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)

		got, err := s.UpdateEntrySharing(ctx, e.ID, true, "supplied-token-0123456789abcdef")
		require.NoError(t, err)
		require.NotNil(t, got.ShareID)
		assert.Equal(t, "supplied-token-0123456789abcdef", *got.ShareID)

		byToken, err := s.GetEntryByShareToken(ctx, "supplied-token-0123456789abcdef")
		require.NoError(t, err)
		assert.Equal(t, e.ID, byToken.ID)
	})
}

func TestUpdateEntrySharing_SuppliedTokenConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)
		a, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)
		b, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)

		_, err = s.UpdateEntrySharing(ctx, a.ID, true, "same-token-0123456789abcdef")
		require.NoError(t, err)
		_, err = s.UpdateEntrySharing(ctx, b.ID, true, "same-token-0123456789abcdef")
		assert.ErrorIs(t, err, ErrShareTokenConflict)

		got, err := s.GetEntry(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, got.IsShared)
		assertShareInvariant(t, got)
	})
}

func TestUpdateEntrySharing_UnshareRevokesToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)
		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{Caption: "Beach"})
		require.NoError(t, err)

		shared, err := s.UpdateEntrySharing(ctx, e.ID, true, "")
		require.NoError(t, err)
		token := *shared.ShareID

		found, err := s.GetEntryByShareToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, e.ID, found.ID)

		// Переданный при отзыве токен игнорируется.
		unshared, err := s.UpdateEntrySharing(ctx, e.ID, false, token)
		require.NoError(t, err)
		assert.False(t, unshared.IsShared)
		assert.Nil(t, unshared.ShareID)

		_, err = s.GetEntryByShareToken(ctx, token)
		assert.ErrorIs(t, err, ErrNotFound)

		still, err := s.GetEntry(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "Beach", still.Caption)
		assertShareInvariant(t, still)
	})
}

func TestUpdateEntrySharing_ReshareMintsFreshToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)
		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)

		first, err := s.UpdateEntrySharing(ctx, e.ID, true, "")
		require.NoError(t, err)
		_, err = s.UpdateEntrySharing(ctx, e.ID, false, "")
		require.NoError(t, err)
		again, err := s.UpdateEntrySharing(ctx, e.ID, true, "")
		require.NoError(t, err)

		assertShareInvariant(t, again)
		assert.NotEqual(t, *first.ShareID, *again.ShareID)

		_, err = s.GetEntryByShareToken(ctx, *first.ShareID)
		assert.ErrorIs(t, err, ErrNotFound)
		found, err := s.GetEntryByShareToken(ctx, *again.ShareID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, found.ID)
	})
}

func TestUpdateEntrySharing_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.UpdateEntrySharing(ctx, 7, true, "")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.UpdateEntrySharing(ctx, 7, false, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateEntrySharing_TokenGeneratorFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		boom := errors.New("entropy exhausted")
		s := newStore(t, WithTokenGenerator(func() (string, error) { return "", boom }))
		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)

		_, err = s.UpdateEntrySharing(ctx, e.ID, true, "")
		assert.ErrorIs(t, err, boom)

		got, err := s.GetEntry(ctx, e.ID)
		require.NoError(t, err)
		assert.False(t, got.IsShared)
		assertShareInvariant(t, got)
	})
}

func TestGetEntryByShareToken_UnknownToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		_, err := newStore(t).GetEntryByShareToken(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteEntry_InvalidatesShareToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)
		e, err := s.CreateEntry(ctx, "u1", models.NewEntry{})
		require.NoError(t, err)
		shared, err := s.UpdateEntrySharing(ctx, e.ID, true, "")
		require.NoError(t, err)

		require.NoError(t, s.DeleteEntry(ctx, e.ID))
		_, err = s.GetEntryByShareToken(ctx, *shared.ShareID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUsers_CreateAndLookup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t)

		u, err := s.CreateUser(ctx, "alice", "hash")
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		assert.Equal(t, "alice", u.Username)

		_, err = s.CreateUser(ctx, "alice", "other")
		assert.ErrorIs(t, err, ErrUsernameTaken)

		// Имена чувствительны к регистру.
		_, err = s.CreateUser(ctx, "Alice", "hash2")
		require.NoError(t, err)

		byID, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash", byID.PasswordHash)

		byName, err := s.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)

		_, err = s.GetUser(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetUserByUsername(ctx, "bob")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	e, err := s.CreateEntry(ctx, "u1", models.NewEntry{Caption: "orig", Location: &models.Location{Lat: 1, Lng: 2}})
	require.NoError(t, err)

	e.Caption = "mutated"
	e.Location.Lat = 99

	got, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "orig", got.Caption)
	assert.Equal(t, 1.0, got.Location.Lat)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", SQLiteDSN(":memory:"))
	assert.Contains(t, SQLiteDSN("/data/service.db"), "journal_mode(WAL)")
	assert.Equal(t, "x.db?mode=ro", SQLiteDSN("x.db?mode=ro"))
}
