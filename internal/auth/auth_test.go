package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saharasprout/smsgateway/internal/auth"
	"github.com/saharasprout/smsgateway/internal/store"
)

type stubStore struct {
	store.Store
	numbers map[string]string
	lookups int
	err     error
}

func (s *stubStore) DeviceIDByNumber(_ context.Context, number string) (string, error) {
	s.lookups++
	if s.err != nil {
		return "", s.err
	}
	id, ok := s.numbers[number]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func TestResolve(t *testing.T) {
	ss := &stubStore{numbers: map[string]string{"+233501234567": "dev-1"}}
	r := auth.NewResolver(ss, time.Minute)
	ctx := context.Background()

	id, err := r.Resolve(ctx, "+233501234567")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", id)

	_, err = r.Resolve(ctx, "+233509999999")
	assert.Equal(t, auth.ErrUnauthorized, err)
}

func TestResolveCachesHits(t *testing.T) {
	ss := &stubStore{numbers: map[string]string{"+233501234567": "dev-1"}}
	r := auth.NewResolver(ss, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(ctx, "+233501234567")
		require.NoError(t, err)
		assert.Equal(t, "dev-1", id)
	}
	assert.Equal(t, 1, ss.lookups)
}

func TestResolveDoesNotCacheMisses(t *testing.T) {
	ss := &stubStore{numbers: map[string]string{}}
	r := auth.NewResolver(ss, time.Minute)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "+233501234567")
	assert.Equal(t, auth.ErrUnauthorized, err)

	// registration takes effect immediately
	ss.numbers["+233501234567"] = "dev-2"
	id, err := r.Resolve(ctx, "+233501234567")
	require.NoError(t, err)
	assert.Equal(t, "dev-2", id)
	assert.Equal(t, 2, ss.lookups)
}

func TestResolveStoreError(t *testing.T) {
	serr := errors.New("database locked")
	ss := &stubStore{err: serr}
	r := auth.NewResolver(ss, time.Minute)

	_, err := r.Resolve(context.Background(), "+233501234567")
	assert.Equal(t, serr, err)
}

func TestForget(t *testing.T) {
	ss := &stubStore{numbers: map[string]string{"+233501234567": "dev-1"}}
	r := auth.NewResolver(ss, time.Minute)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "+233501234567")
	require.NoError(t, err)

	delete(ss.numbers, "+233501234567")
	r.Forget("+233501234567")

	_, err = r.Resolve(ctx, "+233501234567")
	assert.Equal(t, auth.ErrUnauthorized, err)
}
