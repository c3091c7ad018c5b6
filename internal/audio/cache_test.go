package audio

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "first"))
	require.NoError(t, c.Set(ctx, "k", "second"))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", v)
	assert.Equal(t, 1, c.Len())
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client, time.Hour)
	t.Cleanup(func() { c.Close() })

	_, ok, err := c.Get(ctx, "ai:audio:nova:hi")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "ai:audio:nova:hi", "payload"))
	require.NoError(t, c.Set(ctx, "ai:audio:nova:hi", "other"))

	v, ok, err := c.Get(ctx, "ai:audio:nova:hi")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", v)
	assert.Equal(t, time.Hour, mr.TTL("ai:audio:nova:hi"))
}

func TestRedisCacheNoTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Set(context.Background(), "k", "v"))
	assert.Zero(t, mr.TTL("k"))
}

func TestTranscoderSharesRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	speech := &fakeSpeech{pcm: pcm16(1, 2, 3, 4)}

	a := newTranscoder(speech, NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0))
	b := newTranscoder(speech, NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0))

	pa, err := a.Synthesize(context.Background(), "shared", "shimmer")
	require.NoError(t, err)
	pb, err := b.Synthesize(context.Background(), "shared", "shimmer")
	require.NoError(t, err)

	assert.Equal(t, pa, pb)
	assert.EqualValues(t, 1, speech.calls.Load())
}

func TestDialRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client, err := DialRedis(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)
	client.Close()

	client, err = DialRedis(ctx, "redis://"+mr.Addr()+"/0", "", 0)
	require.NoError(t, err)
	client.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = DialRedis(ctx, addr, "", 0)
	assert.Error(t, err)
}
