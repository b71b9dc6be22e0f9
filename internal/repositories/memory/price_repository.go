// Package memory holds in-process repository backends used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/repositories"
)

type priceKey struct {
	code  string
	grade domain.GradeTier
}

// PriceRepository serves a price table held in memory. Rows flagged invalid are kept but never served.
type PriceRepository struct {
	mu     sync.RWMutex
	prices map[priceKey]domain.PriceRow
	rules  map[string]domain.QuantityRule
}

var (
	_ repositories.PriceRepository = (*PriceRepository)(nil)
	_ repositories.PriceSeeder     = (*PriceRepository)(nil)
)

// NewPriceRepository builds a repository seeded with rows and rules. A malformed row or
// rule fails construction.
func NewPriceRepository(rows []domain.PriceRow, rules []domain.QuantityRule) (*PriceRepository, error) {
	repo := &PriceRepository{
		prices: make(map[priceKey]domain.PriceRow, len(rows)),
		rules:  make(map[string]domain.QuantityRule, len(rules)),
	}
	if err := repo.UpsertPrices(context.Background(), rows); err != nil {
		return nil, err
	}
	if err := repo.UpsertQuantityRules(context.Background(), rules); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *PriceRepository) FindPrice(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return domain.PriceQuote{}, err
	}
	code := strings.TrimSpace(itemCode)

	r.mu.RLock()
	row, ok := r.prices[priceKey{code: code, grade: grade}]
	r.mu.RUnlock()
	if !ok || !row.Valid {
		return domain.PriceQuote{}, repositories.NotFound("prices.find", fmt.Sprintf("no valid %s price for %s", grade, code))
	}
	return domain.PriceQuote{ItemCode: row.ItemCode, Grade: row.Grade, UnitPrice: row.UnitPrice}, nil
}

func (r *PriceRepository) FindQuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuantityRule{}, err
	}
	code := strings.TrimSpace(itemCode)

	r.mu.RLock()
	rule, ok := r.rules[code]
	r.mu.RUnlock()
	if !ok {
		return domain.QuantityRule{}, repositories.NotFound("quantityRules.find", "no quantity rule for "+code)
	}
	return rule, nil
}

// UpsertPrices replaces rows with the same item code and grade.
func (r *PriceRepository) UpsertPrices(_ context.Context, rows []domain.PriceRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		code := strings.TrimSpace(row.ItemCode)
		if code == "" || !row.Grade.Valid() {
			return repositories.NewStoreError("prices.upsert", repositories.StoreErrorUnknown, fmt.Sprintf("invalid price row %q/%q", row.ItemCode, row.Grade), nil)
		}
		row.ItemCode = code
		r.prices[priceKey{code: code, grade: row.Grade}] = row
	}
	return nil
}

// UpsertQuantityRules replaces rules with the same item code.
func (r *PriceRepository) UpsertQuantityRules(_ context.Context, rules []domain.QuantityRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range rules {
		code := strings.TrimSpace(rule.ItemCode)
		if code == "" || !rule.Basis.Valid() {
			return repositories.NewStoreError("quantityRules.upsert", repositories.StoreErrorUnknown, fmt.Sprintf("invalid quantity rule %q", rule.ItemCode), nil)
		}
		rule.ItemCode = code
		r.rules[code] = rule
	}
	return nil
}
