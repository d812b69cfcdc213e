package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"campusbook/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStateRepository(t *testing.T) {
	s := miniredis.RunT(t)

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()

	repo := NewRedisStateRepository(client)
	ctx := context.Background()

	t.Run("RateLimit", func(t *testing.T) {
		key := "invite:host-1"
		window := time.Second

		for i := 0; i < 2; i++ {
			allowed, err := repo.CheckRateLimit(ctx, key, 2, window)
			require.NoError(t, err)
			assert.True(t, allowed)
		}

		allowed, err := repo.CheckRateLimit(ctx, key, 2, window)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.True(t, s.Exists(rateLimitPrefix+key))
		assert.Equal(t, window, s.TTL(rateLimitPrefix+key))

		s.FastForward(window + time.Millisecond)

		allowed, err = repo.CheckRateLimit(ctx, key, 2, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("NilClient", func(t *testing.T) {
		_, err := NewRedisStateRepository(nil).CheckRateLimit(ctx, "k", 1, time.Second)
		assert.ErrorContains(t, err, "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("Close", func(t *testing.T) {
		other := redis.NewClient(&redis.Options{Addr: s.Addr()})
		assert.NoError(t, Close(other))
		assert.NoError(t, Close(nil))
	})
}

func TestRedisStateRepository_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("IncrFails", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		repo := NewRedisStateRepository(db)
		mock.ExpectIncr(rateLimitPrefix + "invite:x").SetErr(errors.New("READONLY"))

		_, err := repo.CheckRateLimit(ctx, "invite:x", 5, time.Minute)
		assert.ErrorContains(t, err, "READONLY")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ExpireFails", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		repo := NewRedisStateRepository(db)
		mock.ExpectIncr(rateLimitPrefix + "invite:y").SetVal(1)
		mock.ExpectExpire(rateLimitPrefix+"invite:y", time.Minute).SetErr(errors.New("timeout"))

		_, err := repo.CheckRateLimit(ctx, "invite:y", 5, time.Minute)
		assert.ErrorContains(t, err, "rate limit window")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LaterHitSkipsExpire", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		repo := NewRedisStateRepository(db)
		mock.ExpectIncr(rateLimitPrefix + "invite:z").SetVal(6)

		allowed, err := repo.CheckRateLimit(ctx, "invite:z", 5, time.Minute)
		assert.NoError(t, err)
		assert.False(t, allowed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
