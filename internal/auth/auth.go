// Package auth resolves sender phone numbers to the devices they control.
package auth

import (
	"context"
	"time"

	"github.com/pkg/errors"
	cache "github.com/patrickmn/go-cache"

	"github.com/saharasprout/smsgateway/internal/store"
)

// ErrUnauthorized indicates the number is not registered with any device.
var ErrUnauthorized = errors.New("unauthorized")

// Resolver answers which device, if any, a phone number may control.
//
// Successful lookups are cached so a chatty sender does not hit the
// database on every message. Misses are not cached, so registering a new
// number takes effect on the next message rather than after the TTL.
type Resolver struct {
	store store.Store
	cache *cache.Cache
}

// NewResolver creates a Resolver over the store, caching hits for ttl.
func NewResolver(s store.Store, ttl time.Duration) *Resolver {
	return &Resolver{
		store: s,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Resolve returns the device ID the number is authorized to control, or
// ErrUnauthorized if the number is not registered.
func (r *Resolver) Resolve(ctx context.Context, number string) (string, error) {
	if id, ok := r.cache.Get(number); ok {
		return id.(string), nil
	}
	id, err := r.store.DeviceIDByNumber(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", err
	}
	r.cache.Set(number, id, cache.DefaultExpiration)
	return id, nil
}

// Forget drops the cached entry for the number, if any. Used when a
// number's registration is revoked.
func (r *Resolver) Forget(number string) {
	r.cache.Delete(number)
}
