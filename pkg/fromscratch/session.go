package fromscratch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SessionProvider produces a stable pseudo-anonymous session identifier for
// correlating events from one browsing session. An unexpired identifier is
// reused and its expiry slid forward, so active sessions never expire. If
// the backing store fails, the provider falls back to a one-off ephemeral
// identifier rather than returning an error.
type SessionProvider struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionProvider creates a provider over the given store with the
// standard sliding expiry.
func NewSessionProvider(store SessionStore) *SessionProvider {
	return &SessionProvider{
		store: store,
		ttl:   SessionTTL,
		now:   time.Now,
	}
}

// SessionID returns the session identifier for the current client, minting
// a new one when none is stored or the stored one has expired. It never
// fails; storage errors degrade to an ephemeral identifier for this call.
func (p *SessionProvider) SessionID(ctx context.Context) string {
	now := p.now()

	rec, ok, err := p.store.Load(ctx)
	if err != nil {
		slog.Warn("session store read failed, using ephemeral id", "error", err)
		return uuid.New().String()
	}

	if ok && now.Before(rec.ExpiresAt) {
		rec.ExpiresAt = now.Add(p.ttl)
		if err := p.store.Save(ctx, rec); err != nil {
			slog.Warn("session store write failed", "error", err)
		}
		return rec.ID
	}

	rec = SessionRecord{ID: uuid.New().String(), ExpiresAt: now.Add(p.ttl)}
	if err := p.store.Save(ctx, rec); err != nil {
		slog.Warn("session store write failed, using ephemeral id", "error", err)
	}
	return rec.ID
}
