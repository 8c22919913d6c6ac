package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile-gateway/internal/cache"
	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/common/observability"
	"profile-gateway/internal/consolidate"
	"profile-gateway/internal/models"
	"profile-gateway/internal/query"
	"profile-gateway/internal/sources"
)

// ==========================
// Stub Source Implementation
// ==========================

type stubSource struct {
	name   string
	fields map[string]interface{}
	err    error
	delay  time.Duration
	calls  atomic.Int64
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Lookup(ctx context.Context, normalizedQuery string, queryType models.QueryType) (*models.SourceRecord, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.fields == nil {
		return nil, sources.ErrNotFound
	}
	return &models.SourceRecord{Source: s.name, Fields: s.fields}, nil
}

func newTestService(t *testing.T, clients ...sources.Client) *Service {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewTestLogger(t)
	cacheCfg := config.CacheConfig{TTL: 300000, NegativeTTL: 60000}

	precedence := make([]string, 0, len(clients))
	for _, c := range clients {
		precedence = append(precedence, c.Name())
	}

	return New(
		query.NewClassifier(config.QueryConfig{DefaultRegion: "US", DefaultCountryCode: "1"}, log),
		cache.New(rdb, cacheCfg, log),
		consolidate.New(precedence, log),
		clients,
		cacheCfg,
		log,
		observability.NewNoop(),
	)
}

// ==========================
// Pipeline Tests
// ==========================

func TestService_GetUserProfile_ConsolidatesAllSources(t *testing.T) {
	crm := &stubSource{name: "crm", fields: map[string]interface{}{"firstName": "Jane", "company": "Acme"}}
	billing := &stubSource{name: "billing", fields: map[string]interface{}{"plan": "pro-monthly", "mrr": 99.0}}
	records := &stubSource{name: "records"}

	svc := newTestService(t, crm, billing, records)

	profile, err := svc.GetUserProfile(context.Background(), " JANE@Example.com ")
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", profile.Query)
	assert.Equal(t, models.QueryTypeEmail, profile.QueryType)
	assert.Equal(t, "jane@example.com", profile.Fields["email"])
	assert.Equal(t, "Jane", profile.Fields["firstName"])
	assert.Equal(t, "pro-monthly", profile.Fields["plan"])

	assert.EqualValues(t, 1, crm.calls.Load())
	assert.EqualValues(t, 1, billing.calls.Load())
	assert.EqualValues(t, 1, records.calls.Load())
}

func TestService_GetUserProfile_EmptyQuery(t *testing.T) {
	svc := newTestService(t, &stubSource{name: "crm"})

	_, err := svc.GetUserProfile(context.Background(), "")
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeInvalidQuery))
}

func TestService_GetUserProfile_InvalidEmail(t *testing.T) {
	crm := &stubSource{name: "crm", fields: map[string]interface{}{"firstName": "Jane"}}
	svc := newTestService(t, crm)

	_, err := svc.GetUserProfile(context.Background(), "broken@@example..com")
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeInvalidQuery))
	assert.EqualValues(t, 0, crm.calls.Load(), "sources must not be queried for invalid input")
}

func TestService_GetUserProfile_SecondCallHitsCache(t *testing.T) {
	crm := &stubSource{name: "crm", fields: map[string]interface{}{"firstName": "Jane"}}
	svc := newTestService(t, crm)

	first, err := svc.GetUserProfile(context.Background(), "jane@example.com")
	require.NoError(t, err)

	second, err := svc.GetUserProfile(context.Background(), "jane@example.com")
	require.NoError(t, err)

	assert.Equal(t, first.Fields, second.Fields)
	assert.EqualValues(t, 1, crm.calls.Load(), "second call must be served from cache")
}

func TestService_GetUserProfile_EquivalentQueriesShareCacheEntry(t *testing.T) {
	crm := &stubSource{name: "crm", fields: map[string]interface{}{"firstName": "Jane"}}
	svc := newTestService(t, crm)

	_, err := svc.GetUserProfile(context.Background(), "jane@example.com")
	require.NoError(t, err)
	_, err = svc.GetUserProfile(context.Background(), "  JANE@EXAMPLE.COM ")
	require.NoError(t, err)

	assert.EqualValues(t, 1, crm.calls.Load())
}

// ==========================
// Failure Mode Tests
// ==========================

func TestService_GetUserProfile_PartialFailure(t *testing.T) {
	crm := &stubSource{name: "crm", fields: map[string]interface{}{"firstName": "Jane"}}
	billing := &stubSource{name: "billing", err: gwerrors.NewSourceTimeoutError("billing")}

	svc := newTestService(t, crm, billing)

	profile, err := svc.GetUserProfile(context.Background(), "jane@example.com")
	require.NoError(t, err)

	assert.Equal(t, "Jane", profile.Fields["firstName"])

	var errSources []string
	for _, attr := range profile.SourceBreakdown {
		if attr.Field == "error" {
			errSources = append(errSources, attr.Source)
		}
	}
	assert.Equal(t, []string{"billing"}, errSources)
}

func TestService_GetUserProfile_NoDataAnywhere(t *testing.T) {
	svc := newTestService(t,
		&stubSource{name: "crm"},
		&stubSource{name: "billing"},
	)

	_, err := svc.GetUserProfile(context.Background(), "+1 (555) 019-2837")
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeNoDataFound))
}

func TestService_GetUserProfile_NegativeResultCached(t *testing.T) {
	crm := &stubSource{name: "crm"}
	svc := newTestService(t, crm)

	_, err := svc.GetUserProfile(context.Background(), "ghost@example.com")
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeNoDataFound))

	_, err = svc.GetUserProfile(context.Background(), "ghost@example.com")
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeNoDataFound))

	assert.EqualValues(t, 1, crm.calls.Load(), "repeat no-data query must be served from the negative cache")
}

// ==========================
// Concurrency Tests
// ==========================

func TestService_GetUserProfile_CoalescesConcurrentIdenticalQueries(t *testing.T) {
	crm := &stubSource{
		name:   "crm",
		fields: map[string]interface{}{"firstName": "Jane"},
		delay:  50 * time.Millisecond,
	}
	svc := newTestService(t, crm)

	const concurrency = 10
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			profile, err := svc.GetUserProfile(context.Background(), "jane@example.com")
			assert.NoError(t, err)
			assert.Equal(t, "Jane", profile.Fields["firstName"])
		}()
	}
	wg.Wait()

	assert.Less(t, crm.calls.Load(), int64(concurrency), "concurrent identical queries must share fan-outs")
}

func TestService_GetUserProfile_DistinctQueriesDoNotBlockEachOther(t *testing.T) {
	crm := &stubSource{name: "crm", fields: map[string]interface{}{"firstName": "Someone"}}
	svc := newTestService(t, crm)

	queries := []string{"a@example.com", "b@example.com", "+14155551234", "Jane Doe"}

	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			_, err := svc.GetUserProfile(context.Background(), q)
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	assert.EqualValues(t, int64(len(queries)), crm.calls.Load())
}
