package prefs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestStoreDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryKV())

	on, err := s.SoundEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	_, ok, err := s.LastActive(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryKV())

	require.NoError(t, s.SetSoundEnabled(ctx, false))
	on, err := s.SoundEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastActive(ctx, at))
	got, ok, err := s.LastActive(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))
}

func TestStoreCorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.Set(ctx, keyLastActive, "yesterday")
	kv.Set(ctx, keySoundEnabled, "maybe")
	s := NewStore(kv)

	_, _, err := s.LastActive(ctx)
	assert.Error(t, err)
	on, err := s.SoundEnabled(ctx)
	assert.Error(t, err)
	assert.True(t, on)
}

type fakeRedis struct {
	data map[string]string
	err  error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func TestRedisKV(t *testing.T) {
	ctx := context.Background()
	f := &fakeRedis{data: map[string]string{}}
	kv := &RedisKV{rdb: f, prefix: "carewire:prefs:u1"}

	_, err := kv.Get(ctx, "sound_enabled")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "sound_enabled", "false"))
	assert.Equal(t, "false", f.data["carewire:prefs:u1:sound_enabled"])

	v, err := kv.Get(ctx, "sound_enabled")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	f.err = errors.New("connection reset")
	_, err = kv.Get(ctx, "sound_enabled")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func setupGorm(t *testing.T) (*GormKV, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)
	return NewGormKV(db, "u1"), mock
}

func TestGormKVGet(t *testing.T) {
	kv, mock := setupGorm(t)

	mock.ExpectQuery(`SELECT \* FROM "preferences" WHERE owner = \$1 AND key = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"owner", "key", "value", "updated_at"}).
			AddRow("u1", "sound_enabled", "false", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM "preferences"`).
		WillReturnRows(sqlmock.NewRows([]string{"owner", "key", "value", "updated_at"}))

	v, err := kv.Get(context.Background(), "sound_enabled")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	_, err = kv.Get(context.Background(), "last_active")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormKVSetUpserts(t *testing.T) {
	kv, mock := setupGorm(t)

	mock.ExpectExec(`INSERT INTO "preferences" .* ON CONFLICT \("owner","key"\) DO UPDATE`).
		WithArgs("u1", "last_active", "1714550400000", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(kv)
	require.NoError(t, store.SetLastActive(context.Background(), time.UnixMilli(1714550400000)))

	assert.NoError(t, mock.ExpectationsWereMet())
}
