package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/homefit-remodel/api/internal/domain"
	pfirestore "github.com/homefit-remodel/api/internal/platform/firestore"
	"github.com/homefit-remodel/api/internal/repositories"
)

const (
	pricesCollection        = "prices"
	quantityRulesCollection = "quantityRules"
)

type priceDocument struct {
	ItemCode  string    `firestore:"itemCode"`
	Grade     string    `firestore:"grade"`
	UnitPrice int64     `firestore:"unitPrice"`
	Valid     bool      `firestore:"valid"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type quantityRuleDocument struct {
	ItemCode  string    `firestore:"itemCode"`
	Basis     string    `firestore:"basis"`
	PerUnit   float64   `firestore:"perUnit"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// PriceRepository reads the price table from Firestore. Prices live under prices/{ITEM_GRADE}.
type PriceRepository struct {
	prices *pfirestore.Collection[priceDocument]
	rules  *pfirestore.Collection[quantityRuleDocument]
	now    func() time.Time
	retry  []pfirestore.RetryOption
}

var (
	_ repositories.PriceRepository = (*PriceRepository)(nil)
	_ repositories.PriceSeeder     = (*PriceRepository)(nil)
)

// NewPriceRepository constructs a Firestore-backed price repository.
func NewPriceRepository(provider *pfirestore.Provider, retry ...pfirestore.RetryOption) (*PriceRepository, error) {
	if provider == nil {
		return nil, errors.New("price repository requires firestore provider")
	}
	return &PriceRepository{
		prices: pfirestore.NewCollection[priceDocument](provider, pricesCollection),
		rules:  pfirestore.NewCollection[quantityRuleDocument](provider, quantityRulesCollection),
		now:    func() time.Time { return time.Now().UTC() },
		retry:  retry,
	}, nil
}

func priceDocID(code string, grade domain.GradeTier) string {
	return code + "_" + string(grade)
}

func (r *PriceRepository) FindPrice(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error) {
	code := strings.TrimSpace(itemCode)
	if code == "" || !grade.Valid() {
		return domain.PriceQuote{}, repositories.NotFound("prices.find", fmt.Sprintf("no valid %s price for %q", grade, itemCode))
	}

	var doc pfirestore.Doc[priceDocument]
	err := pfirestore.Retry(ctx, func(ctx context.Context) error {
		var err error
		doc, err = r.prices.Get(ctx, priceDocID(code, grade))
		return err
	}, r.retry...)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	if !doc.Data.Valid {
		return domain.PriceQuote{}, repositories.NotFound("prices.find", fmt.Sprintf("price %s is flagged invalid", doc.ID))
	}
	return domain.PriceQuote{ItemCode: code, Grade: grade, UnitPrice: doc.Data.UnitPrice}, nil
}

func (r *PriceRepository) FindQuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error) {
	code := strings.TrimSpace(itemCode)
	if code == "" {
		return domain.QuantityRule{}, repositories.NotFound("quantityRules.find", "item code is required")
	}

	var doc pfirestore.Doc[quantityRuleDocument]
	err := pfirestore.Retry(ctx, func(ctx context.Context) error {
		var err error
		doc, err = r.rules.Get(ctx, code)
		return err
	}, r.retry...)
	if err != nil {
		return domain.QuantityRule{}, err
	}
	rule := domain.QuantityRule{ItemCode: code, Basis: domain.QuantityBasis(doc.Data.Basis), PerUnit: doc.Data.PerUnit}
	if !rule.Basis.Valid() {
		return domain.QuantityRule{}, repositories.NewStoreError("quantityRules.find", repositories.StoreErrorUnknown, fmt.Sprintf("rule %s has unknown basis %q", code, doc.Data.Basis), nil)
	}
	return rule, nil
}

// UpsertPrices writes each row under its item/grade document in one bulk write.
func (r *PriceRepository) UpsertPrices(ctx context.Context, rows []domain.PriceRow) error {
	now := r.now()
	docs := make(map[string]priceDocument, len(rows))
	for _, row := range rows {
		code := strings.TrimSpace(row.ItemCode)
		if code == "" || !row.Grade.Valid() {
			return repositories.NewStoreError("prices.upsert", repositories.StoreErrorUnknown, fmt.Sprintf("invalid price row %q/%q", row.ItemCode, row.Grade), nil)
		}
		docs[priceDocID(code, row.Grade)] = priceDocument{
			ItemCode:  code,
			Grade:     string(row.Grade),
			UnitPrice: row.UnitPrice,
			Valid:     row.Valid,
			UpdatedAt: now,
		}
	}
	return r.prices.SetAll(ctx, docs)
}

// UpsertQuantityRules writes each rule under its item code.
func (r *PriceRepository) UpsertQuantityRules(ctx context.Context, rules []domain.QuantityRule) error {
	now := r.now()
	for _, rule := range rules {
		code := strings.TrimSpace(rule.ItemCode)
		if code == "" || !rule.Basis.Valid() {
			return repositories.NewStoreError("quantityRules.upsert", repositories.StoreErrorUnknown, fmt.Sprintf("invalid quantity rule %q", rule.ItemCode), nil)
		}
		if err := r.rules.Set(ctx, code, quantityRuleDocument{
			ItemCode:  code,
			Basis:     string(rule.Basis),
			PerUnit:   rule.PerUnit,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}
