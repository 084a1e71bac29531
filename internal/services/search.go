package services

import (
	"context"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/shared"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultPageSize  = 20
	DefaultCacheSize = 128
)

// Searcher runs a single track search request.
type Searcher interface {
	SearchTracks(ctx context.Context, token, query string, offset, limit int) (models.SearchPage, error)
}

// SearchCache memoizes search pages by normalized query and offset.
type SearchCache struct {
	searcher Searcher
	pageSize int
	pages    *lru.Cache[string, models.SearchPage]
	logger   *log.Logger
}

// NewSearchCache wraps searcher with an LRU of cfg.CacheSize pages.
func NewSearchCache(searcher Searcher, cfg shared.SearchConfig, logger *log.Logger) (*SearchCache, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	pages, err := lru.New[string, models.SearchPage](size)
	if err != nil {
		return nil, err
	}
	return &SearchCache{
		searcher: searcher,
		pageSize: pageSize,
		pages:    pages,
		logger:   shared.WithLogger(logger, "component", "search"),
	}, nil
}

func cacheKey(query string, offset int) string {
	return strings.ToLower(strings.TrimSpace(query)) + "\x00" + strconv.Itoa(offset)
}

// Search returns the page of results at offset, hitting the provider only on a cache miss.
// Failed searches are not cached.
func (c *SearchCache) Search(ctx context.Context, token, query string, offset int) (models.SearchPage, error) {
	offset = max(offset, 0)
	key := cacheKey(query, offset)
	if page, ok := c.pages.Get(key); ok {
		c.logger.Debug("search cache hit", "query", query, "offset", offset)
		return page, nil
	}

	page, err := c.searcher.SearchTracks(ctx, token, query, offset, c.pageSize)
	if err != nil {
		return models.SearchPage{}, err
	}
	c.pages.Add(key, page)
	return page, nil
}

// PageSize is the number of results requested per page.
func (c *SearchCache) PageSize() int { return c.pageSize }

// Purge drops every cached page.
func (c *SearchCache) Purge() { c.pages.Purge() }

// Len reports the number of cached pages.
func (c *SearchCache) Len() int { return c.pages.Len() }
