package signaling

import (
	"context"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

// CredentialProvider supplies time-limited relay-server credentials for a
// session's room. Implementations talk to an external TURN/relay vendor.
type CredentialProvider interface {
	Credentials(ctx context.Context, sessionID uuid.UUID) (RoomConfig, error)
}

// CachedProvider wraps a CredentialProvider with a TTL cache so the
// external source is not hit on every room registration.
type CachedProvider struct {
	inner CredentialProvider
	cache *cache.Cache
}

// NewCachedProvider caches credentials for ttl.
func NewCachedProvider(inner CredentialProvider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Credentials returns cached credentials when fresh, otherwise fetches.
func (p *CachedProvider) Credentials(ctx context.Context, sessionID uuid.UUID) (RoomConfig, error) {
	key := sessionID.String()
	if v, ok := p.cache.Get(key); ok {
		return v.(RoomConfig), nil
	}
	cfg, err := p.inner.Credentials(ctx, sessionID)
	if err != nil {
		return RoomConfig{}, err
	}
	p.cache.Set(key, cfg, cache.DefaultExpiration)
	return cfg, nil
}

// StaticProvider serves a fixed configuration; used when the deployment
// has long-lived relay credentials configured directly.
type StaticProvider struct {
	Config RoomConfig
}

// Credentials returns the static configuration.
func (p *StaticProvider) Credentials(_ context.Context, _ uuid.UUID) (RoomConfig, error) {
	return p.Config, nil
}
