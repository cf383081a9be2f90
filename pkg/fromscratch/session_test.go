package fromscratch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	rec     SessionRecord
	has     bool
	loadErr error
	saveErr error
	saves   int
}

func (s *fakeSessionStore) Load(ctx context.Context) (SessionRecord, bool, error) {
	return s.rec, s.has, s.loadErr
}

func (s *fakeSessionStore) Save(ctx context.Context, rec SessionRecord) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rec = rec
	s.has = true
	return nil
}

func sessionProviderAt(store SessionStore, at time.Time) *SessionProvider {
	p := NewSessionProvider(store)
	p.now = func() time.Time { return at }
	return p
}

func TestSessionIDMintsWhenEmpty(t *testing.T) {
	store := &fakeSessionStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id := sessionProviderAt(store, now).SessionID(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, store.rec.ID)
	assert.Equal(t, now.Add(SessionTTL), store.rec.ExpiresAt)
}

func TestSessionIDSlidesExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeSessionStore{
		rec: SessionRecord{ID: "existing", ExpiresAt: now.Add(5 * time.Minute)},
		has: true,
	}

	later := now.Add(4 * time.Minute)
	id := sessionProviderAt(store, later).SessionID(context.Background())
	assert.Equal(t, "existing", id)
	assert.Equal(t, later.Add(SessionTTL), store.rec.ExpiresAt)
}

func TestSessionIDReplacesExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeSessionStore{
		rec: SessionRecord{ID: "stale", ExpiresAt: now.Add(-time.Minute)},
		has: true,
	}

	id := sessionProviderAt(store, now).SessionID(context.Background())
	assert.NotEqual(t, "stale", id)
	assert.Equal(t, id, store.rec.ID)
}

func TestSessionIDDegradesOnStoreFailure(t *testing.T) {
	store := &fakeSessionStore{loadErr: assert.AnError}
	now := time.Now()

	// A read failure yields an ephemeral identifier, never an error.
	id := sessionProviderAt(store, now).SessionID(context.Background())
	assert.NotEmpty(t, id)
	assert.Zero(t, store.saves)

	store = &fakeSessionStore{saveErr: assert.AnError}
	id = sessionProviderAt(store, now).SessionID(context.Background())
	assert.NotEmpty(t, id)
}
