package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
)

// DowngradePolicy selects which process blocks a budget suggestion drops first.
type DowngradePolicy string

const (
	// PolicyLowestImpactFirst drops processes with the lowest catalog impact first, larger blocks first on ties.
	PolicyLowestImpactFirst DowngradePolicy = "lowest-impact-first"
	// PolicyCheapestFirst drops the cheapest blocks first.
	PolicyCheapestFirst DowngradePolicy = "cheapest-first"
)

// ParseDowngradePolicy accepts the configured policy name. Empty selects PolicyLowestImpactFirst.
func ParseDowngradePolicy(value string) (DowngradePolicy, error) {
	switch DowngradePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyLowestImpactFirst:
		return PolicyLowestImpactFirst, nil
	case PolicyCheapestFirst:
		return PolicyCheapestFirst, nil
	default:
		return "", fmt.Errorf("estimate aggregator: unknown downgrade policy %q", value)
	}
}

// AggregateInput carries the priced blocks and context of one run.
type AggregateInput struct {
	Blocks   []domain.ProcessBlock
	Failures []domain.ProcessFailure
	Area     float64
	Grade    domain.GradeTier
	Budget   *domain.BudgetPreference
	Warnings []string
}

// EstimateAggregator sums process blocks into the final estimate.
type EstimateAggregator struct {
	catalog *catalog.Catalog
	policy  DowngradePolicy
}

func NewEstimateAggregator(c *catalog.Catalog, policy DowngradePolicy) (*EstimateAggregator, error) {
	if c == nil {
		return nil, errors.New("estimate aggregator: catalog is required")
	}
	if policy == "" {
		policy = PolicyLowestImpactFirst
	}
	if _, err := ParseDowngradePolicy(string(policy)); err != nil {
		return nil, err
	}
	return &EstimateAggregator{catalog: c, policy: policy}, nil
}

// Aggregate computes totals, VAT and the budget check. Inputs are never mutated.
func (a *EstimateAggregator) Aggregate(in AggregateInput) domain.EstimateResult {
	result := domain.EstimateResult{
		Grade:     in.Grade,
		GradeName: a.catalog.GradeName(in.Grade),
		Blocks:    append([]domain.ProcessBlock(nil), in.Blocks...),
		Failures:  append([]domain.ProcessFailure(nil), in.Failures...),
		Warnings:  append([]string(nil), in.Warnings...),
	}
	if result.Blocks == nil {
		result.Blocks = []domain.ProcessBlock{}
	}
	if result.Failures == nil {
		result.Failures = []domain.ProcessFailure{}
	}

	for _, block := range in.Blocks {
		result.MaterialTotal += block.MaterialTotal
		result.LaborTotal += block.LaborTotal
	}
	result.GrandTotal = result.MaterialTotal + result.LaborTotal
	result.VAT = applyVAT(result.GrandTotal, a.catalog.VATPercent)
	result.TotalWithVAT = result.GrandTotal + result.VAT
	if in.Area > 0 {
		result.PricePerArea = int64(math.Round(float64(result.TotalWithVAT) / in.Area))
	}

	if in.Budget != nil && in.Budget.Max > 0 {
		result.Budget = a.checkBudget(result, *in.Budget)
	}
	return result
}

// applyVAT rounds half up on non-negative amounts.
func applyVAT(amount, percent int64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return (amount*percent + 50) / 100
}

// budgetCeiling converts the budget maximum (10,000 KRW units) plus flexibility into KRW.
// Budgets too large to represent saturate at math.MaxInt64.
func budgetCeiling(budget domain.BudgetPreference) int64 {
	if budget.Max <= 0 {
		return 0
	}
	flex := int64(budget.FlexibilityPercent)
	flex = min(max(flex, 0), 100)
	factor := 10000 * (100 + flex)
	if budget.Max > math.MaxInt64/factor {
		return math.MaxInt64
	}
	return budget.Max * factor / 100
}

func (a *EstimateAggregator) checkBudget(result domain.EstimateResult, budget domain.BudgetPreference) *domain.BudgetCheck {
	ceiling := budgetCeiling(budget)
	check := &domain.BudgetCheck{Ceiling: ceiling}
	if result.TotalWithVAT <= ceiling {
		return check
	}
	check.Exceeded = true
	check.Overage = result.TotalWithVAT - ceiling
	check.Suggestion = a.suggestDowngrade(result, ceiling)
	return check
}

func (a *EstimateAggregator) suggestDowngrade(result domain.EstimateResult, ceiling int64) *domain.DowngradeSuggestion {
	ordered := a.orderForDowngrade(result.Blocks)
	suggestion := &domain.DowngradeSuggestion{
		Policy:         string(a.policy),
		ProjectedTotal: result.TotalWithVAT,
	}
	if lower, ok := result.Grade.Lower(); ok {
		suggestion.LowerGrade = lower
	}

	remaining := result.GrandTotal
	for _, block := range ordered {
		if suggestion.ProjectedTotal <= ceiling {
			break
		}
		remaining -= block.Total()
		suggestion.DropProcesses = append(suggestion.DropProcesses, block.ProcessID)
		suggestion.ProjectedTotal = remaining + applyVAT(remaining, a.catalog.VATPercent)
	}
	suggestion.Savings = result.TotalWithVAT - suggestion.ProjectedTotal
	suggestion.Sufficient = suggestion.ProjectedTotal <= ceiling
	return suggestion
}

func (a *EstimateAggregator) orderForDowngrade(blocks []domain.ProcessBlock) []domain.ProcessBlock {
	ordered := append([]domain.ProcessBlock(nil), blocks...)
	impact := func(id domain.ProcessID) int {
		if process, ok := a.catalog.Process(id); ok {
			return process.Impact
		}
		return 0
	}
	order := func(id domain.ProcessID) int {
		return a.catalog.ProcessOrder(id)
	}

	switch a.policy {
	case PolicyCheapestFirst:
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].Total() != ordered[j].Total() {
				return ordered[i].Total() < ordered[j].Total()
			}
			return order(ordered[i].ProcessID) < order(ordered[j].ProcessID)
		})
	default:
		sort.SliceStable(ordered, func(i, j int) bool {
			left, right := impact(ordered[i].ProcessID), impact(ordered[j].ProcessID)
			if left != right {
				return left < right
			}
			if ordered[i].Total() != ordered[j].Total() {
				return ordered[i].Total() > ordered[j].Total()
			}
			return order(ordered[i].ProcessID) < order(ordered[j].ProcessID)
		})
	}
	return ordered
}
