// Package service ties the pipeline together: classify, normalize, validate,
// consult the cache, fan out to every configured source in parallel, and
// consolidate the answers into one attributed profile.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"profile-gateway/internal/cache"
	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/common/metrics"
	"profile-gateway/internal/common/observability"
	"profile-gateway/internal/consolidate"
	"profile-gateway/internal/models"
	"profile-gateway/internal/query"
	"profile-gateway/internal/sources"
)

// Service handles profile queries end to end.
type Service struct {
	classifier   *query.Classifier
	cache        *cache.ResultCache
	consolidator *consolidate.Consolidator
	clients      []sources.Client
	cacheTTL     time.Duration
	logger       logger.Logger
	obs          *observability.Observability
	errHandler   *gwerrors.Handler

	// flight coalesces concurrent identical queries into a single fan-out.
	flight singleflight.Group
}

func New(
	classifier *query.Classifier,
	resultCache *cache.ResultCache,
	consolidator *consolidate.Consolidator,
	clients []sources.Client,
	cacheCfg config.CacheConfig,
	log logger.Logger,
	obs *observability.Observability,
) *Service {
	return &Service{
		classifier:   classifier,
		cache:        resultCache,
		consolidator: consolidator,
		clients:      clients,
		cacheTTL:     config.GetDuration(cacheCfg.TTL),
		logger:       log.WithFields(map[string]interface{}{"component": "service"}),
		obs:          obs,
		errHandler:   gwerrors.NewHandler(log),
	}
}

// GetUserProfile resolves a raw query string into a consolidated profile.
// Cache hits return immediately; misses trigger a parallel fan-out across
// all configured sources, and concurrent identical misses share one fan-out.
func (s *Service) GetUserProfile(ctx context.Context, rawQuery string) (*models.UserProfile, error) {
	start := time.Now()
	requestID := uuid.New().String()

	if rawQuery == "" {
		metrics.QueriesTotal.WithLabelValues("unknown", "invalid").Inc()
		return nil, gwerrors.NewInvalidQueryError("query must not be empty")
	}

	queryType := s.classifier.Classify(rawQuery)
	normalized := s.classifier.Normalize(rawQuery, queryType)
	if err := s.classifier.Validate(normalized, queryType); err != nil {
		metrics.QueriesTotal.WithLabelValues(string(queryType), "invalid").Inc()
		return nil, s.errHandler.HandleQueryError(rawQuery, err)
	}

	log := s.logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"query_type": string(queryType),
	})

	ctx, span := s.obs.Tracer().Start(ctx, "profile.lookup", trace.WithAttributes(
		attribute.String("query.type", string(queryType)),
		attribute.String("request.id", requestID),
	))
	defer span.End()

	profile, err := s.cache.Get(ctx, queryType, normalized)
	if err == nil {
		log.Debug("cache hit", nil)
		s.recordOutcome(ctx, queryType, "cache_hit", start)
		return profile, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		// Cached negative outcome.
		s.recordOutcome(ctx, queryType, "no_data", start)
		return nil, err
	}

	key := cache.Key(queryType, normalized)
	result, err, shared := s.flight.Do(key, func() (interface{}, error) {
		return s.lookupAndConsolidate(ctx, log, normalized, queryType)
	})
	if shared {
		metrics.FanoutsCoalesced.Inc()
	}
	if err != nil {
		status := "error"
		if gwerrors.HasCode(err, gwerrors.ErrCodeNoDataFound) {
			status = "no_data"
		}
		s.recordOutcome(ctx, queryType, status, start)
		return nil, err
	}

	s.recordOutcome(ctx, queryType, "success", start)
	return result.(*models.UserProfile), nil
}

func (s *Service) lookupAndConsolidate(ctx context.Context, log logger.Logger, normalized string, queryType models.QueryType) (*models.UserProfile, error) {
	results := s.fanOut(ctx, log, normalized, queryType)

	profile, err := s.consolidator.Consolidate(results, normalized, queryType)
	if err != nil {
		if gwerrors.HasCode(err, gwerrors.ErrCodeNoDataFound) {
			if cerr := s.cache.SetNoData(ctx, queryType, normalized); cerr != nil {
				log.Warn("negative cache write failed", map[string]interface{}{"error": cerr.Error()})
			}
		}
		return nil, err
	}

	if cerr := s.cache.Set(ctx, queryType, normalized, profile, s.cacheTTL); cerr != nil {
		log.Warn("cache write failed", map[string]interface{}{"error": cerr.Error()})
	}
	return profile, nil
}

// fanOut queries every source concurrently and collects each outcome into a
// per-source slot. Source failures never abort the group; they are carried
// into consolidation as error attributions.
func (s *Service) fanOut(ctx context.Context, log logger.Logger, normalized string, queryType models.QueryType) map[string]consolidate.LookupResult {
	slots := make([]consolidate.LookupResult, len(s.clients))

	g, gctx := errgroup.WithContext(ctx)
	for i, client := range s.clients {
		g.Go(func() error {
			record, err := client.Lookup(gctx, normalized, queryType)
			switch {
			case errors.Is(err, sources.ErrNotFound):
				slots[i] = consolidate.LookupResult{}
			case err != nil:
				s.errHandler.HandleSourceError(client.Name(), err)
				slots[i] = consolidate.LookupResult{Err: err}
			default:
				slots[i] = consolidate.LookupResult{Record: record}
			}
			return nil
		})
	}
	g.Wait()

	results := make(map[string]consolidate.LookupResult, len(s.clients))
	for i, client := range s.clients {
		results[client.Name()] = slots[i]
	}
	return results
}

func (s *Service) recordOutcome(ctx context.Context, queryType models.QueryType, status string, start time.Time) {
	metrics.QueriesTotal.WithLabelValues(string(queryType), status).Inc()
	metrics.QueryDuration.WithLabelValues(string(queryType)).Observe(time.Since(start).Seconds())
	s.obs.RecordQueryProcessed(ctx, string(queryType), status)
	s.obs.RecordQueryDuration(ctx, time.Since(start), string(queryType))
}
