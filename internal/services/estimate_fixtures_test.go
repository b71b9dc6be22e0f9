package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
)

func mustDefaultCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	if err != nil {
		t.Fatalf("load default catalog: %v", err)
	}
	return c
}

type fakePriceLookup struct {
	mu         sync.Mutex
	prices     map[priceKey]int64
	rules      map[string]domain.QuantityRule
	priceErr   map[string]error
	ruleErr    map[string]error
	delay      map[string]time.Duration
	priceCalls map[priceKey]int
	ruleCalls  map[string]int
}

func newFakePriceLookup() *fakePriceLookup {
	return &fakePriceLookup{
		prices:     make(map[priceKey]int64),
		rules:      make(map[string]domain.QuantityRule),
		priceErr:   make(map[string]error),
		ruleErr:    make(map[string]error),
		delay:      make(map[string]time.Duration),
		priceCalls: make(map[priceKey]int),
		ruleCalls:  make(map[string]int),
	}
}

func seededPriceLookup(t *testing.T, c *catalog.Catalog) *fakePriceLookup {
	t.Helper()
	lookup := newFakePriceLookup()
	for _, row := range c.PriceRows() {
		lookup.prices[priceKey{code: row.ItemCode, grade: row.Grade}] = row.UnitPrice
	}
	for _, rule := range c.QuantityRules {
		lookup.rules[rule.ItemCode] = rule
	}
	return lookup
}

func (f *fakePriceLookup) removePrice(code string, grade domain.GradeTier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, priceKey{code: code, grade: grade})
}

func (f *fakePriceLookup) setPrice(code string, grade domain.GradeTier, price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[priceKey{code: code, grade: grade}] = price
}

func (f *fakePriceLookup) totalPriceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.priceCalls {
		total += n
	}
	for _, n := range f.ruleCalls {
		total += n
	}
	return total
}

func (f *fakePriceLookup) wait(ctx context.Context, code string) error {
	f.mu.Lock()
	delay := f.delay[code]
	f.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (f *fakePriceLookup) GetPrice(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error) {
	key := priceKey{code: itemCode, grade: grade}
	f.mu.Lock()
	f.priceCalls[key]++
	err := f.priceErr[itemCode]
	f.mu.Unlock()

	if waitErr := f.wait(ctx, itemCode); waitErr != nil {
		return domain.PriceQuote{}, waitErr
	}
	if err != nil {
		return domain.PriceQuote{}, err
	}

	f.mu.Lock()
	price, ok := f.prices[key]
	f.mu.Unlock()
	if !ok {
		return domain.PriceQuote{}, &PriceNotFoundError{ItemCode: itemCode, Grade: grade}
	}
	return domain.PriceQuote{ItemCode: itemCode, Grade: grade, UnitPrice: price}, nil
}

func (f *fakePriceLookup) GetQuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error) {
	f.mu.Lock()
	f.ruleCalls[itemCode]++
	err := f.ruleErr[itemCode]
	rule, ok := f.rules[itemCode]
	f.mu.Unlock()

	if waitErr := f.wait(ctx, itemCode); waitErr != nil {
		return domain.QuantityRule{}, waitErr
	}
	if err != nil {
		return domain.QuantityRule{}, err
	}
	if !ok {
		return domain.QuantityRule{}, &QuantityRuleNotFoundError{ItemCode: itemCode}
	}
	return rule, nil
}

type memoryTraceRepository struct {
	mu        sync.Mutex
	questions map[string][]domain.QuestionLogEntry
	answers   map[string]map[string]string
	loadErr   error
	now       time.Time
}

func newMemoryTraceRepository() *memoryTraceRepository {
	return &memoryTraceRepository{
		questions: make(map[string][]domain.QuestionLogEntry),
		answers:   make(map[string]map[string]string),
		now:       time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (r *memoryTraceRepository) AppendQuestion(_ context.Context, sessionID, questionCode string) (domain.QuestionLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := domain.QuestionLogEntry{
		SessionID:    sessionID,
		QuestionCode: questionCode,
		Index:        int64(len(r.questions[sessionID]) + 1),
		AskedAt:      r.now,
	}
	r.questions[sessionID] = append(r.questions[sessionID], entry)
	return entry, nil
}

func (r *memoryTraceRepository) SaveAnswer(_ context.Context, sessionID, questionCode, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.answers[sessionID] == nil {
		r.answers[sessionID] = make(map[string]string)
	}
	r.answers[sessionID][questionCode] = value
	return nil
}

func (r *memoryTraceRepository) LoadTrace(_ context.Context, sessionID string) (domain.DecisionTrace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return domain.DecisionTrace{}, r.loadErr
	}
	trace := domain.DecisionTrace{
		SessionID: sessionID,
		Questions: append([]domain.QuestionLogEntry(nil), r.questions[sessionID]...),
		Answers:   make(map[string]string, len(r.answers[sessionID])),
	}
	for code, value := range r.answers[sessionID] {
		trace.Answers[code] = value
	}
	return trace, nil
}

type recordingEventPublisher struct {
	mu         sync.Mutex
	calculated []EstimateCalculatedEvent
	mismatches []ReproducibilityMismatchEvent
	err        error
}

func (p *recordingEventPublisher) PublishEstimateCalculated(_ context.Context, event EstimateCalculatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calculated = append(p.calculated, event)
	return p.err
}

func (p *recordingEventPublisher) PublishReproducibilityMismatch(_ context.Context, event ReproducibilityMismatchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mismatches = append(p.mismatches, event)
	return p.err
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (r *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.fields = append(r.fields, fields)
}

func (r *logRecorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func intPtr(v int) *int {
	return &v
}

func fullScope() domain.SelectedScope {
	return domain.SelectedScope{Spaces: []domain.SpaceSelection{
		{SpaceID: "living", Processes: []domain.ProcessID{"demolition", "electrical", "flooring", "wallpaper", "cleanup"}},
		{SpaceID: "room", Processes: []domain.ProcessID{"flooring", "wallpaper", "doors"}},
		{SpaceID: "kitchen", Processes: []domain.ProcessID{"kitchen", "tiling"}},
		{SpaceID: "bathroom", Processes: []domain.ProcessID{"bathroom", "tiling"}},
		{SpaceID: "entrance", Processes: []domain.ProcessID{"tiling"}},
		{SpaceID: "balcony", Processes: []domain.ProcessID{"balcony"}},
	}}
}

func sampleCommand() EstimateCommand {
	return EstimateCommand{
		House: domain.HouseProfile{
			HousingType: domain.HousingApartment,
			Area:        32,
			Rooms:       3,
			Bathrooms:   2,
			BuildingAge: intPtr(22),
		},
		Scope: fullScope(),
		Answers: []domain.Answer{
			{QuestionID: "Q_COOKING", Value: "daily"},
		},
		Preferences: domain.Preferences{
			Budget:    &domain.BudgetPreference{Min: 3000, Max: 4500, FlexibilityPercent: 10},
			Family:    domain.FamilyPreference{Adults: 2, Children: 1},
			Lifestyle: domain.LifestylePreference{Primary: "COOKING_LOVER"},
			Purpose:   "longterm",
		},
	}
}
