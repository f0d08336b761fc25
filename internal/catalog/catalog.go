// Package catalog maintains a cached, filterable snapshot of the remote
// edge-server catalog. The upstream feed is fetched at most once per TTL;
// concurrent callers share a single in-flight fetch, and a stale snapshot
// is served when the upstream is unreachable.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"netdiag-mcp/internal/clock"
	"netdiag-mcp/internal/domain"
	"netdiag-mcp/internal/geo"
	"netdiag-mcp/internal/metrics"
	"netdiag-mcp/internal/ratelimit"
	"netdiag-mcp/internal/types"
)

// CacheTTL is the snapshot age after which a refetch is attempted; when that
// refetch fails the stale snapshot is still served.
const CacheTTL = 5 * time.Minute

// StatusOperational marks entries present in the latest upstream feed.
const StatusOperational = "operational"

// Cache states reported by Stats.
const (
	CacheValid = "valid"
	CacheStale = "stale"
	CacheEmpty = "empty"
)

// Lister fetches the raw upstream catalog. Satisfied by the probe client.
type Lister interface {
	ListServers(ctx context.Context) ([]domain.ServerEntry, error)
}

// Admitter gates catalog fetches through the connection_info bucket.
// Satisfied by the rate limiter.
type Admitter interface {
	CheckAndConsume(op ratelimit.Class) (ratelimit.Admission, error)
}

// Filter narrows a List call. Provided fields are conjunctive.
// MaxDistanceKm prunes only entries with a computed distance; entries
// without coordinates pass unless another field excludes them.
type Filter struct {
	Name          string
	Continent     string
	Country       string
	Region        string
	MaxDistanceKm *float64
}

// LocationQuery matches entries on whichever of its fields are non-empty.
type LocationQuery struct {
	City    string
	Country string
	Region  string
}

// Stats summarizes the cached snapshot without triggering a fetch.
type Stats struct {
	Total       int            `json:"total"`
	ByContinent map[string]int `json:"byContinent"`
	ByCountry   map[string]int `json:"byCountry"`
	CacheStatus string         `json:"cacheStatus"`
}

// Catalog is the cached server catalog. Safe for concurrent use; the cache
// cell is guarded by a single RWMutex and upstream fetches are deduplicated
// through a singleflight group.
type Catalog struct {
	lister  Lister
	limiter Admitter
	clk     clock.Clock
	ttl     time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	entries   []domain.ServerEntry
	fetchedAt time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock injects a time source.
func WithClock(c clock.Clock) Option {
	return func(cat *Catalog) { cat.clk = c }
}

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(cat *Catalog) { cat.ttl = ttl }
}

// New builds an empty catalog. Entries are fetched lazily on first use.
func New(lister Lister, limiter Admitter, opts ...Option) *Catalog {
	c := &Catalog{
		lister:  lister,
		limiter: limiter,
		clk:     clock.Real(),
		ttl:     CacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// snapshot returns the cached entries and whether they are within TTL.
func (c *Catalog) snapshot() ([]domain.ServerEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return nil, false
	}
	return c.entries, c.clk.Now().Sub(c.fetchedAt) < c.ttl
}

// ensure returns a fresh snapshot, fetching from upstream when the cache is
// empty or expired. On upstream failure a stale snapshot is served with a
// diagnostic; with no snapshot at all the error propagates.
func (c *Catalog) ensure(ctx context.Context) ([]domain.ServerEntry, error) {
	if entries, fresh := c.snapshot(); fresh {
		return entries, nil
	}

	v, err, _ := c.group.Do("catalog", func() (any, error) {
		// A concurrent caller may have completed the fetch while this one
		// awaited the flight slot.
		if entries, fresh := c.snapshot(); fresh {
			return entries, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.ServerEntry), nil
}

// refresh performs one admission-gated upstream fetch.
func (c *Catalog) refresh(ctx context.Context) ([]domain.ServerEntry, error) {
	adm, err := c.limiter.CheckAndConsume(ratelimit.ClassConnectionInfo)
	if err != nil {
		return nil, fmt.Errorf("catalog discovery: %w", err)
	}
	if !adm.Allowed {
		metrics.CatalogRefreshes.WithLabelValues("denied").Inc()
		return nil, fmt.Errorf("catalog discovery: %w", &types.RateLimitError{
			Operation: string(ratelimit.ClassConnectionInfo),
			Reason:    adm.Reason,
			WaitTime:  adm.WaitTime,
		})
	}

	raw, err := c.lister.ListServers(ctx)
	if err != nil {
		c.mu.RLock()
		stale := c.entries
		c.mu.RUnlock()
		if len(stale) > 0 {
			slog.Warn("catalog refresh failed, serving stale snapshot", "error", err, "entries", len(stale))
			metrics.CatalogRefreshes.WithLabelValues("stale_served").Inc()
			return stale, nil
		}
		metrics.CatalogRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("catalog discovery: %w", err)
	}

	now := c.clk.Now()
	entries := make([]domain.ServerEntry, len(raw))
	for i, e := range raw {
		e.Continent = geo.ContinentOf(e.Country)
		if e.Status == "" {
			e.Status = StatusOperational
		}
		e.LastChecked = now
		entries[i] = e
	}

	c.mu.Lock()
	c.entries = entries
	c.fetchedAt = now
	c.mu.Unlock()

	slog.Debug("catalog refreshed", "entries", len(entries))
	metrics.CatalogRefreshes.WithLabelValues("success").Inc()
	return entries, nil
}

// List returns entries matching the filter. When userLocation carries both
// coordinates, entries are distance-enriched and sorted ascending by
// distance, entries without one sorting last.
func (c *Catalog) List(ctx context.Context, f *Filter, userLocation *domain.UserLocation) ([]domain.ServerEntry, error) {
	entries, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}

	haveUser := userLocation != nil && userLocation.Latitude != nil && userLocation.Longitude != nil

	out := make([]domain.ServerEntry, 0, len(entries))
	for _, e := range entries {
		if haveUser && e.Latitude != nil && e.Longitude != nil {
			if km, ok := geo.Haversine(*userLocation.Latitude, *userLocation.Longitude, *e.Latitude, *e.Longitude); ok {
				e.DistanceKm = domain.Float(km)
			}
		}
		if f != nil && !matches(&e, f) {
			continue
		}
		out = append(out, e)
	}

	if haveUser {
		sort.SliceStable(out, func(i, j int) bool {
			di, dj := out[i].DistanceKm, out[j].DistanceKm
			switch {
			case di == nil:
				return false
			case dj == nil:
				return true
			default:
				return *di < *dj
			}
		})
	}
	return out, nil
}

func matches(e *domain.ServerEntry, f *Filter) bool {
	if f.Name != "" && e.Name != f.Name {
		return false
	}
	if f.Continent != "" && e.Continent != f.Continent {
		return false
	}
	if f.Country != "" && e.Country != f.Country {
		return false
	}
	if f.Region != "" && !strings.EqualFold(e.Region, f.Region) {
		return false
	}
	// Distance pruning applies only to entries that have a distance.
	if f.MaxDistanceKm != nil && e.DistanceKm != nil && *e.DistanceKm > *f.MaxDistanceKm {
		return false
	}
	return true
}

// Get returns the entry with the given code, or nil when absent. Matching
// is exact and case-sensitive.
func (c *Catalog) Get(ctx context.Context, name string) (*domain.ServerEntry, error) {
	entries, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == name {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

// ByLocation returns entries matching every provided query field.
func (c *Catalog) ByLocation(ctx context.Context, q LocationQuery) ([]domain.ServerEntry, error) {
	entries, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.ServerEntry
	for _, e := range entries {
		if q.City != "" && !strings.EqualFold(e.City, q.City) {
			continue
		}
		if q.Country != "" && !strings.EqualFold(e.Country, q.Country) {
			continue
		}
		if q.Region != "" && !strings.EqualFold(e.Region, q.Region) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Stats summarizes the current snapshot. It never triggers a fetch.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	entries := c.entries
	fetchedAt := c.fetchedAt
	c.mu.RUnlock()

	st := Stats{
		ByContinent: make(map[string]int),
		ByCountry:   make(map[string]int),
		CacheStatus: CacheEmpty,
	}
	if len(entries) == 0 {
		return st
	}

	if c.clk.Now().Sub(fetchedAt) < c.ttl {
		st.CacheStatus = CacheValid
	} else {
		st.CacheStatus = CacheStale
	}
	st.Total = len(entries)
	for _, e := range entries {
		if e.Continent != "" {
			st.ByContinent[e.Continent]++
		}
		if e.Country != "" {
			st.ByCountry[e.Country]++
		}
	}
	return st
}

// Clear invalidates the cache. The next use fetches from upstream.
func (c *Catalog) Clear() {
	c.mu.Lock()
	c.entries = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
