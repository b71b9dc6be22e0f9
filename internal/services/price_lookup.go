package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/repositories"
)

const (
	defaultPriceCacheTTL  = 24 * time.Hour
	priceMetricNamespace  = "github.com/homefit-remodel/api/internal/services"
	defaultLookupTimeout  = 3 * time.Second
	defaultLookupParallel = 8
)

// PriceLookup is the authoritative source of unit prices and quantity rules.
type PriceLookup interface {
	GetPrice(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error)
	GetQuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error)
}

// RepositoryPriceLookup adapts a PriceRepository to the lookup contract, translating repository errors.
type RepositoryPriceLookup struct {
	repo repositories.PriceRepository
}

var _ PriceLookup = (*RepositoryPriceLookup)(nil)

func NewRepositoryPriceLookup(repo repositories.PriceRepository) (*RepositoryPriceLookup, error) {
	if repo == nil {
		return nil, errors.New("price lookup: price repository is required")
	}
	return &RepositoryPriceLookup{repo: repo}, nil
}

func (l *RepositoryPriceLookup) GetPrice(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error) {
	code := strings.TrimSpace(itemCode)
	quote, err := l.repo.FindPrice(ctx, code, grade)
	if err != nil {
		return domain.PriceQuote{}, translateLookupError(code, err, &PriceNotFoundError{ItemCode: code, Grade: grade})
	}
	if quote.ItemCode == "" {
		quote.ItemCode = code
	}
	if quote.Grade == "" {
		quote.Grade = grade
	}
	return quote, nil
}

func (l *RepositoryPriceLookup) GetQuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error) {
	code := strings.TrimSpace(itemCode)
	rule, err := l.repo.FindQuantityRule(ctx, code)
	if err != nil {
		return domain.QuantityRule{}, translateLookupError(code, err, &QuantityRuleNotFoundError{ItemCode: code})
	}
	if rule.ItemCode == "" {
		rule.ItemCode = code
	}
	return rule, nil
}

func translateLookupError(itemCode string, err error, notFound error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LookupUnavailableError{ItemCode: itemCode, Timeout: true, Err: err}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return notFound
	}
	return &LookupUnavailableError{ItemCode: itemCode, Err: err}
}

// CachedPriceLookup is a read-through TTL cache in front of another lookup. Misses and errors are never cached.
type CachedPriceLookup struct {
	next PriceLookup
	ttl  time.Duration
	now  func() time.Time

	mu     sync.RWMutex
	prices map[priceKey]cachedQuote
	rules  map[string]cachedRule

	hits          metric.Int64Counter
	misses        metric.Int64Counter
	countsEnabled bool
}

type priceKey struct {
	code  string
	grade domain.GradeTier
}

type cachedQuote struct {
	quote   domain.PriceQuote
	expires time.Time
}

type cachedRule struct {
	rule    domain.QuantityRule
	expires time.Time
}

var _ PriceLookup = (*CachedPriceLookup)(nil)

// PriceCacheOption customises CachedPriceLookup construction.
type PriceCacheOption func(*priceCacheConfig)

type priceCacheConfig struct {
	ttl   time.Duration
	now   func() time.Time
	meter metric.Meter
}

// WithPriceCacheTTL overrides the 24h default entry lifetime.
func WithPriceCacheTTL(ttl time.Duration) PriceCacheOption {
	return func(cfg *priceCacheConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithPriceCacheClock injects a clock for tests.
func WithPriceCacheClock(now func() time.Time) PriceCacheOption {
	return func(cfg *priceCacheConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithPriceCacheMeter injects the meter used for hit/miss counters.
func WithPriceCacheMeter(meter metric.Meter) PriceCacheOption {
	return func(cfg *priceCacheConfig) {
		if meter != nil {
			cfg.meter = meter
		}
	}
}

func NewCachedPriceLookup(next PriceLookup, opts ...PriceCacheOption) (*CachedPriceLookup, error) {
	if next == nil {
		return nil, errors.New("price cache: underlying lookup is required")
	}
	cfg := priceCacheConfig{ttl: defaultPriceCacheTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(priceMetricNamespace)
	}

	hits, hitErr := meter.Int64Counter("pricing.cache.hits", metric.WithDescription("Price cache hits"))
	misses, missErr := meter.Int64Counter("pricing.cache.misses", metric.WithDescription("Price cache misses"))

	return &CachedPriceLookup{
		next:          next,
		ttl:           cfg.ttl,
		now:           cfg.now,
		prices:        make(map[priceKey]cachedQuote),
		rules:         make(map[string]cachedRule),
		hits:          hits,
		misses:        misses,
		countsEnabled: hitErr == nil && missErr == nil,
	}, nil
}

func (c *CachedPriceLookup) GetPrice(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error) {
	key := priceKey{code: itemCode, grade: grade}

	c.mu.RLock()
	entry, ok := c.prices[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		c.record(ctx, true, "price")
		return entry.quote, nil
	}
	if ok {
		c.mu.Lock()
		if current, still := c.prices[key]; still && !c.now().Before(current.expires) {
			delete(c.prices, key)
		}
		c.mu.Unlock()
	}

	c.record(ctx, false, "price")
	quote, err := c.next.GetPrice(ctx, itemCode, grade)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	c.mu.Lock()
	c.prices[key] = cachedQuote{quote: quote, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return quote, nil
}

func (c *CachedPriceLookup) GetQuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error) {
	c.mu.RLock()
	entry, ok := c.rules[itemCode]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		c.record(ctx, true, "rule")
		return entry.rule, nil
	}

	c.record(ctx, false, "rule")
	rule, err := c.next.GetQuantityRule(ctx, itemCode)
	if err != nil {
		return domain.QuantityRule{}, err
	}

	c.mu.Lock()
	c.rules[itemCode] = cachedRule{rule: rule, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return rule, nil
}

// Purge drops every cached entry.
func (c *CachedPriceLookup) Purge() {
	c.mu.Lock()
	c.prices = make(map[priceKey]cachedQuote)
	c.rules = make(map[string]cachedRule)
	c.mu.Unlock()
}

func (c *CachedPriceLookup) record(ctx context.Context, hit bool, kind string) {
	if !c.countsEnabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if hit {
		c.hits.Add(ctx, 1, attrs)
		return
	}
	c.misses.Add(ctx, 1, attrs)
}

// PriceSnapshot memoises lookups for a single estimate run so every item sees one
// stable price per (code, grade), including stable failures.
type PriceSnapshot struct {
	lookup  PriceLookup
	timeout time.Duration

	mu     sync.Mutex
	prices map[priceKey]snapshotQuote
	rules  map[string]snapshotRule
}

type snapshotQuote struct {
	quote domain.PriceQuote
	err   error
}

type snapshotRule struct {
	rule domain.QuantityRule
	err  error
}

func NewPriceSnapshot(lookup PriceLookup, timeout time.Duration) *PriceSnapshot {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &PriceSnapshot{
		lookup:  lookup,
		timeout: timeout,
		prices:  make(map[priceKey]snapshotQuote),
		rules:   make(map[string]snapshotRule),
	}
}

// Price returns the memoised quote for itemCode at grade, fetching it on first use.
func (s *PriceSnapshot) Price(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error) {
	key := priceKey{code: itemCode, grade: grade}
	s.mu.Lock()
	entry, ok := s.prices[key]
	s.mu.Unlock()
	if ok {
		return entry.quote, entry.err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	quote, err := s.lookup.GetPrice(callCtx, itemCode, grade)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return domain.PriceQuote{}, ctx.Err()
		}
		err = classifySnapshotError(itemCode, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, raced := s.prices[key]; raced {
		return existing.quote, existing.err
	}
	s.prices[key] = snapshotQuote{quote: quote, err: err}
	return quote, err
}

// QuantityRule returns the memoised quantity rule for itemCode.
func (s *PriceSnapshot) QuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error) {
	s.mu.Lock()
	entry, ok := s.rules[itemCode]
	s.mu.Unlock()
	if ok {
		return entry.rule, entry.err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	rule, err := s.lookup.GetQuantityRule(callCtx, itemCode)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return domain.QuantityRule{}, ctx.Err()
		}
		err = classifySnapshotError(itemCode, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, raced := s.rules[itemCode]; raced {
		return existing.rule, existing.err
	}
	s.rules[itemCode] = snapshotRule{rule: rule, err: err}
	return rule, err
}

func classifySnapshotError(itemCode string, err error) error {
	var (
		notFound     *PriceNotFoundError
		ruleNotFound *QuantityRuleNotFoundError
		unavailable  *LookupUnavailableError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &ruleNotFound), errors.As(err, &unavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &LookupUnavailableError{ItemCode: itemCode, Timeout: true, Err: err}
	default:
		return &LookupUnavailableError{ItemCode: itemCode, Err: err}
	}
}
