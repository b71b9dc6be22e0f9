package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/repositories"
)

const (
	selectPriceSQL = `SELECT unit_price, valid FROM price_table WHERE item_code = $1 AND grade = $2`
	selectRuleSQL  = `SELECT basis, per_unit FROM quantity_rules WHERE item_code = $1`
	upsertPriceSQL = `INSERT INTO price_table (item_code, grade, unit_price, valid, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_code, grade) DO UPDATE
		SET unit_price = EXCLUDED.unit_price, valid = EXCLUDED.valid, updated_at = EXCLUDED.updated_at`
	upsertRuleSQL = `INSERT INTO quantity_rules (item_code, basis, per_unit, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_code) DO UPDATE
		SET basis = EXCLUDED.basis, per_unit = EXCLUDED.per_unit, updated_at = EXCLUDED.updated_at`
)

// PriceRepository reads the price_table and quantity_rules tables.
type PriceRepository struct {
	db  DB
	now func() time.Time
}

var (
	_ repositories.PriceRepository = (*PriceRepository)(nil)
	_ repositories.PriceSeeder     = (*PriceRepository)(nil)
)

// NewPriceRepository constructs a Postgres-backed price repository.
func NewPriceRepository(db DB) (*PriceRepository, error) {
	if db == nil {
		return nil, errors.New("price repository requires postgres pool")
	}
	return &PriceRepository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *PriceRepository) FindPrice(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error) {
	code := strings.TrimSpace(itemCode)
	var (
		unitPrice int64
		valid     bool
	)
	err := r.db.QueryRow(ctx, selectPriceSQL, code, string(grade)).Scan(&unitPrice, &valid)
	if err != nil {
		return domain.PriceQuote{}, wrapError("prices.find", err)
	}
	if !valid {
		return domain.PriceQuote{}, repositories.NotFound("prices.find", fmt.Sprintf("price %s/%s is flagged invalid", code, grade))
	}
	return domain.PriceQuote{ItemCode: code, Grade: grade, UnitPrice: unitPrice}, nil
}

func (r *PriceRepository) FindQuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error) {
	code := strings.TrimSpace(itemCode)
	var (
		basis   string
		perUnit float64
	)
	if err := r.db.QueryRow(ctx, selectRuleSQL, code).Scan(&basis, &perUnit); err != nil {
		return domain.QuantityRule{}, wrapError("quantityRules.find", err)
	}
	rule := domain.QuantityRule{ItemCode: code, Basis: domain.QuantityBasis(basis), PerUnit: perUnit}
	if !rule.Basis.Valid() {
		return domain.QuantityRule{}, repositories.NewStoreError("quantityRules.find", repositories.StoreErrorUnknown, fmt.Sprintf("rule %s has unknown basis %q", code, basis), nil)
	}
	return rule, nil
}

// UpsertPrices writes all rows in one batch.
func (r *PriceRepository) UpsertPrices(ctx context.Context, rows []domain.PriceRow) error {
	now := r.now()
	batch := &pgx.Batch{}
	for _, row := range rows {
		code := strings.TrimSpace(row.ItemCode)
		if code == "" || !row.Grade.Valid() {
			return repositories.NewStoreError("prices.upsert", repositories.StoreErrorUnknown, fmt.Sprintf("invalid price row %q/%q", row.ItemCode, row.Grade), nil)
		}
		batch.Queue(upsertPriceSQL, code, string(row.Grade), row.UnitPrice, row.Valid, now)
	}
	return r.sendBatch(ctx, "prices.upsert", batch)
}

// UpsertQuantityRules writes all rules in one batch.
func (r *PriceRepository) UpsertQuantityRules(ctx context.Context, rules []domain.QuantityRule) error {
	now := r.now()
	batch := &pgx.Batch{}
	for _, rule := range rules {
		code := strings.TrimSpace(rule.ItemCode)
		if code == "" || !rule.Basis.Valid() {
			return repositories.NewStoreError("quantityRules.upsert", repositories.StoreErrorUnknown, fmt.Sprintf("invalid quantity rule %q", rule.ItemCode), nil)
		}
		batch.Queue(upsertRuleSQL, code, string(rule.Basis), rule.PerUnit, now)
	}
	return r.sendBatch(ctx, "quantityRules.upsert", batch)
}

func (r *PriceRepository) sendBatch(ctx context.Context, op string, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := r.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return wrapError(op, err)
		}
	}
	return wrapError(op, results.Close())
}
