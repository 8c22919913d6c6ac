package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/models"
)

func newTestCache(t *testing.T, cfg config.CacheConfig) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, cfg, logger.NewTestLogger(t)), mr
}

func sampleProfile() *models.UserProfile {
	return &models.UserProfile{
		Query:     "jane@example.com",
		QueryType: models.QueryTypeEmail,
		Fields: map[string]interface{}{
			"email":     "jane@example.com",
			"firstName": "Jane",
		},
		SourceBreakdown: []models.SourceAttribution{
			{Field: "email", Value: "jane@example.com", Source: "query"},
			{Field: "firstName", Value: "Jane", Source: "crm"},
		},
		RetrievedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// ==========================
// Key Tests
// ==========================

func TestKey(t *testing.T) {
	assert.Equal(t, "profile:email:jane@example.com", Key(models.QueryTypeEmail, "jane@example.com"))
	assert.Equal(t, "profile:phone:+14155551234", Key(models.QueryTypePhone, "+14155551234"))
	assert.Equal(t, "profile:name:Jane Doe", Key(models.QueryTypeName, "Jane Doe"))
}

// ==========================
// Round-trip Tests
// ==========================

func TestResultCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(t, config.CacheConfig{TTL: 300000})
	ctx := context.Background()

	want := sampleProfile()
	require.NoError(t, c.Set(ctx, models.QueryTypeEmail, "jane@example.com", want, 0))

	got, err := c.Get(ctx, models.QueryTypeEmail, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, want.Query, got.Query)
	assert.Equal(t, want.QueryType, got.QueryType)
	assert.Equal(t, want.Fields["firstName"], got.Fields["firstName"])
	assert.Len(t, got.SourceBreakdown, 2)
}

func TestResultCache_Get_Miss(t *testing.T) {
	c, _ := newTestCache(t, config.CacheConfig{TTL: 300000})

	_, err := c.Get(context.Background(), models.QueryTypeEmail, "nobody@example.com")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestResultCache_Get_CorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t, config.CacheConfig{TTL: 300000})

	require.NoError(t, mr.Set(Key(models.QueryTypeEmail, "jane@example.com"), "{not json"))

	_, err := c.Get(context.Background(), models.QueryTypeEmail, "jane@example.com")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t, config.CacheConfig{TTL: 300000})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, models.QueryTypeEmail, "jane@example.com", sampleProfile(), time.Minute))

	_, err := c.Get(ctx, models.QueryTypeEmail, "jane@example.com")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = c.Get(ctx, models.QueryTypeEmail, "jane@example.com")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestResultCache_Delete(t *testing.T) {
	c, _ := newTestCache(t, config.CacheConfig{TTL: 300000})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, models.QueryTypeEmail, "jane@example.com", sampleProfile(), 0))
	require.NoError(t, c.Delete(ctx, models.QueryTypeEmail, "jane@example.com"))

	_, err := c.Get(ctx, models.QueryTypeEmail, "jane@example.com")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestResultCache_Clear(t *testing.T) {
	c, mr := newTestCache(t, config.CacheConfig{TTL: 300000})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, models.QueryTypeEmail, "a@example.com", sampleProfile(), 0))
	require.NoError(t, c.Set(ctx, models.QueryTypePhone, "+14155551234", sampleProfile(), 0))
	require.NoError(t, mr.Set("unrelated:key", "keep me"))

	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, models.QueryTypeEmail, "a@example.com")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, models.QueryTypePhone, "+14155551234")
	assert.ErrorIs(t, err, ErrMiss)
	assert.True(t, mr.Exists("unrelated:key"))
}

// ==========================
// Negative Caching Tests
// ==========================

func TestResultCache_SetNoData_Enabled(t *testing.T) {
	c, _ := newTestCache(t, config.CacheConfig{TTL: 300000, NegativeTTL: 60000})
	ctx := context.Background()

	require.NoError(t, c.SetNoData(ctx, models.QueryTypeEmail, "ghost@example.com"))

	_, err := c.Get(ctx, models.QueryTypeEmail, "ghost@example.com")
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeNoDataFound))
}

func TestResultCache_SetNoData_DisabledIsNoOp(t *testing.T) {
	c, _ := newTestCache(t, config.CacheConfig{TTL: 300000, NegativeTTL: 0})
	ctx := context.Background()

	require.NoError(t, c.SetNoData(ctx, models.QueryTypeEmail, "ghost@example.com"))

	_, err := c.Get(ctx, models.QueryTypeEmail, "ghost@example.com")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestResultCache_NegativeEntryExpires(t *testing.T) {
	c, mr := newTestCache(t, config.CacheConfig{TTL: 300000, NegativeTTL: 60000})
	ctx := context.Background()

	require.NoError(t, c.SetNoData(ctx, models.QueryTypeEmail, "ghost@example.com"))
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, models.QueryTypeEmail, "ghost@example.com")
	assert.ErrorIs(t, err, ErrMiss)
}

// ==========================
// Failure Mode Tests
// ==========================

func TestResultCache_Get_RedisErrorIsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, config.CacheConfig{TTL: 300000}, logger.NewTestLogger(t))

	key := Key(models.QueryTypeEmail, "jane@example.com")
	mock.ExpectGet(key).SetErr(errors.New("connection refused"))

	_, err := c.Get(context.Background(), models.QueryTypeEmail, "jane@example.com")
	assert.ErrorIs(t, err, ErrMiss)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultCache_Set_RedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, config.CacheConfig{TTL: 300000}, logger.NewTestLogger(t))

	mock.Regexp().ExpectSet(Key(models.QueryTypeEmail, "jane@example.com"), `.*`, 5*time.Minute).
		SetErr(errors.New("connection refused"))

	err := c.Set(context.Background(), models.QueryTypeEmail, "jane@example.com", sampleProfile(), 0)
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeCacheUnavailable))
}
