package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearbyKey(t *testing.T) {
	type q struct {
		Lon, Lat, Radius float64
	}

	a, err := NearbyKey(q{126.97, 37.55, 1000})
	require.NoError(t, err)
	b, err := NearbyKey(q{126.97, 37.55, 1000})
	require.NoError(t, err)
	c, err := NearbyKey(q{126.97, 37.55, 2000})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, PrefixNearby))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNilClient(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	assert.False(t, svc.IsAvailable())
	assert.Error(t, svc.Ping(ctx))

	var out []string
	assert.ErrorIs(t, svc.GetNearby(ctx, "q", &out), ErrMiss)
	assert.NoError(t, svc.SetNearby(ctx, "q", []string{"x"}, 0))
	assert.NoError(t, svc.InvalidateNearby(ctx))
	assert.NoError(t, svc.Delete(ctx, "k"))
}
