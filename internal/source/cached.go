package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mangashelf/internal/cache"
	"mangashelf/pkg/models"
)

// cachedSource memoizes the popular and latest listings. Search, details,
// chapter and page lookups always go to the site.
type cachedSource struct {
	Source
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// Cached wraps src so listing pages are served from c for ttl.
func Cached(src Source, c cache.Cache, ttl time.Duration, log *zap.Logger) Source {
	if log == nil {
		log = zap.NewNop()
	}
	return &cachedSource{Source: src, cache: c, ttl: ttl, log: log}
}

func (s *cachedSource) Popular(ctx context.Context, page int) (models.SearchResult, error) {
	return s.listing(ctx, "popular", page, s.Source.Popular)
}

func (s *cachedSource) Latest(ctx context.Context, page int) (models.SearchResult, error) {
	return s.listing(ctx, "latest", page, s.Source.Latest)
}

func (s *cachedSource) listing(ctx context.Context, kind string, page int, fetch func(context.Context, int) (models.SearchResult, error)) (models.SearchResult, error) {
	key := fmt.Sprintf("%s:%s:%d", s.Info().ID, kind, clampPage(page))

	var cached models.SearchResult
	if ok, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.log.Debug("listing cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	res, err := fetch(ctx, page)
	if err != nil {
		return models.SearchResult{}, err
	}
	if err := s.cache.Set(ctx, key, res, s.ttl); err != nil {
		s.log.Debug("listing cache write failed", zap.String("key", key), zap.Error(err))
	}
	return res, nil
}
