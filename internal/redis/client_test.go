package redisclient

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("booking", "secret")

	rdb, err := NewRedisClient(context.Background(), ClientOptions{Addr: mr.Addr(), Username: "booking", Password: "secret"})
	require.NoError(t, err)
	defer rdb.Close()
	assert.Equal(t, 10, rdb.Options().PoolSize)

	_, err = NewRedisClient(context.Background(), ClientOptions{Addr: mr.Addr(), Username: "booking", Password: "wrong"})
	assert.Error(t, err)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), ClientOptions{Addr: addr})
	assert.ErrorContains(t, err, "ping redis "+addr)
}
