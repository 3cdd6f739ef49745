package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigOptions(t *testing.T) {
	t.Run("기본값", func(t *testing.T) {
		opts := Config{Host: "localhost", Port: 6379}.options()
		assert.Equal(t, "localhost:6379", opts.Addr)
		assert.Equal(t, defaultPoolSize, opts.PoolSize)
		assert.Equal(t, defaultIOTimeout, opts.ReadTimeout)
		assert.True(t, opts.ContextTimeoutEnabled)
	})

	t.Run("지정값 유지", func(t *testing.T) {
		opts := Config{Host: "redis", Port: 6380, Password: "pw", DB: 2, PoolSize: 5}.options()
		assert.Equal(t, "redis:6380", opts.Addr)
		assert.Equal(t, "pw", opts.Password)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 5, opts.PoolSize)
	})
}

func TestNewClient_Unreachable(t *testing.T) {
	start := time.Now()
	client, err := NewClient(context.Background(), Config{Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.Less(t, time.Since(start), 5*time.Second)
}
