package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
)

// ProcessRequest is the input for pricing one selected process.
type ProcessRequest struct {
	Process    catalog.Process
	Spaces     []domain.SpaceID
	Quantities domain.QuantitySet
	Profile    domain.HouseProfile
	Traits     []domain.TraitTag
	Grade      domain.GradeTier
}

// ProcessOutcome holds exactly one of Block or Failure.
type ProcessOutcome struct {
	Block    *domain.ProcessBlock
	Failure  *domain.ProcessFailure
	Warnings []string
}

// PriceResolver prices the items of a process block against a per-run snapshot.
type PriceResolver struct {
	catalog     *catalog.Catalog
	concurrency int
}

func NewPriceResolver(c *catalog.Catalog, concurrency int) (*PriceResolver, error) {
	if c == nil {
		return nil, errors.New("price resolver: catalog is required")
	}
	if concurrency <= 0 {
		concurrency = defaultLookupParallel
	}
	return &PriceResolver{catalog: c, concurrency: concurrency}, nil
}

type plannedLine struct {
	code          string
	recommendedBy domain.TraitTag
}

type resolvedLine struct {
	line    domain.LineItem
	omitted bool
	skipped bool
	missing bool
	reason  domain.FailureReason
}

// PriceProcess prices every applicable item. A single missing price or rule fails
// the whole block with every missing item listed; no partial block is returned.
// The only error returned is context cancellation.
func (r *PriceResolver) PriceProcess(ctx context.Context, req ProcessRequest, snapshot *PriceSnapshot) (ProcessOutcome, error) {
	if snapshot == nil {
		return ProcessOutcome{}, errors.New("price resolver: snapshot is required")
	}

	plan, contributing := r.planItems(req)
	results := make([]resolvedLine, len(plan))

	var group errgroup.Group
	group.SetLimit(r.concurrency)
	for i, planned := range plan {
		i, planned := i, planned
		group.Go(func() error {
			resolved, err := r.resolveLine(ctx, req, planned, snapshot)
			if err != nil {
				return err
			}
			results[i] = resolved
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return ProcessOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return ProcessOutcome{}, err
	}

	var (
		outcome  ProcessOutcome
		missing  []string
		reasons  = make(map[domain.FailureReason]bool)
		block    = domain.ProcessBlock{ProcessID: req.Process.ID, ProcessName: req.Process.Name}
		traitSet = make(map[domain.TraitTag]bool)
	)
	for _, result := range results {
		switch {
		case result.omitted:
			continue
		case result.missing:
			missing = append(missing, result.line.Code)
			reasons[result.reason] = true
		case result.skipped:
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("%s: item %s skipped because its quantity is zero; its price was not checked", req.Process.ID, result.line.Code))
		default:
			block.Items = append(block.Items, result.line)
			if result.line.Kind.IsLabor() {
				block.LaborTotal += result.line.Amount
			} else {
				block.MaterialTotal += result.line.Amount
			}
			if result.line.RecommendedBy != "" {
				traitSet[result.line.RecommendedBy] = true
			}
		}
	}

	if len(missing) > 0 {
		reason := dominantReason(reasons)
		outcome.Failure = &domain.ProcessFailure{
			ProcessID:    req.Process.ID,
			ProcessName:  req.Process.Name,
			MissingItems: missing,
			Reason:       reason,
			Message:      failureMessage(req.Process, reason, missing, req.Grade),
		}
		return outcome, nil
	}

	for _, trait := range contributing {
		if traitSet[trait] {
			block.Traits = append(block.Traits, trait)
		}
	}
	outcome.Block = &block
	return outcome, nil
}

// planItems lists the item codes of the block in catalog order, applying trait
// replacements in place and appending trait additions.
func (r *PriceResolver) planItems(req ProcessRequest) ([]plannedLine, []domain.TraitTag) {
	var plan []plannedLine
	for _, ref := range req.Process.Items {
		if ref.Space != "" && !containsSpaceID(req.Spaces, ref.Space) {
			continue
		}
		plan = append(plan, plannedLine{code: ref.Code})
	}

	var contributing []domain.TraitTag
	for _, trait := range req.Traits {
		recs := r.catalog.RecommendationsFor(trait, req.Process.ID)
		if len(recs) == 0 {
			continue
		}
		contributing = append(contributing, trait)
		for _, rec := range recs {
			for i := range plan {
				if plan[i].recommendedBy != "" {
					continue
				}
				if replacement, ok := rec.Replace[plan[i].code]; ok {
					plan[i] = plannedLine{code: replacement, recommendedBy: trait}
				}
			}
			for _, code := range rec.Add {
				if planContains(plan, code) {
					continue
				}
				plan = append(plan, plannedLine{code: code, recommendedBy: trait})
			}
		}
	}
	return plan, contributing
}

func (r *PriceResolver) resolveLine(ctx context.Context, req ProcessRequest, planned plannedLine, snapshot *PriceSnapshot) (resolvedLine, error) {
	item, ok := r.catalog.Item(planned.code)
	if !ok {
		return resolvedLine{line: domain.LineItem{Code: planned.code}, missing: true, reason: domain.FailurePriceNotFound}, nil
	}
	line := domain.LineItem{
		Code:          item.Code,
		Name:          item.Name,
		Spec:          item.Spec,
		Unit:          item.Unit,
		Kind:          item.Kind,
		IsRecommended: planned.recommendedBy != "",
		RecommendedBy: planned.recommendedBy,
	}

	var quantity int64
	if item.Quantity != "" {
		value, present := req.Quantities.Get(item.Quantity)
		if !present {
			return resolvedLine{line: line, omitted: true}, nil
		}
		quantity = value
	} else {
		rule, err := snapshot.QuantityRule(ctx, item.Code)
		if err != nil {
			if ctx.Err() != nil {
				return resolvedLine{}, ctx.Err()
			}
			return resolvedLine{line: line, missing: true, reason: reasonFor(err)}, nil
		}
		quantity = evaluateQuantityRule(rule, req.Profile)
	}
	if quantity <= 0 {
		return resolvedLine{line: line, skipped: true}, nil
	}

	quote, err := snapshot.Price(ctx, item.Code, req.Grade)
	if err != nil {
		if ctx.Err() != nil {
			return resolvedLine{}, ctx.Err()
		}
		return resolvedLine{line: line, missing: true, reason: reasonFor(err)}, nil
	}

	line.Quantity = quantity
	line.UnitPrice = quote.UnitPrice
	line.Amount = quantity * quote.UnitPrice
	return resolvedLine{line: line}, nil
}

func evaluateQuantityRule(rule domain.QuantityRule, profile domain.HouseProfile) int64 {
	var base float64
	switch rule.Basis {
	case domain.BasisPerBathroom:
		base = float64(profile.Bathrooms)
	case domain.BasisPerRoom:
		base = float64(profile.Rooms)
	case domain.BasisPerArea:
		base = profile.Area
	case domain.BasisPerHouse:
		base = 1
	default:
		return 0
	}
	return roundHalfAwayFromZero(base * rule.PerUnit)
}

func reasonFor(err error) domain.FailureReason {
	var (
		unavailable  *LookupUnavailableError
		ruleNotFound *QuantityRuleNotFoundError
	)
	switch {
	case errors.As(err, &unavailable):
		if unavailable.Timeout {
			return domain.FailureLookupTimeout
		}
		return domain.FailureLookupUnavailable
	case errors.As(err, &ruleNotFound):
		return domain.FailureQuantityRuleMissing
	default:
		return domain.FailurePriceNotFound
	}
}

// dominantReason ranks timeouts over outages over missing rules over missing prices.
func dominantReason(reasons map[domain.FailureReason]bool) domain.FailureReason {
	for _, reason := range []domain.FailureReason{
		domain.FailureLookupTimeout,
		domain.FailureLookupUnavailable,
		domain.FailureQuantityRuleMissing,
		domain.FailurePriceNotFound,
	} {
		if reasons[reason] {
			return reason
		}
	}
	return domain.FailurePriceNotFound
}

func failureMessage(process catalog.Process, reason domain.FailureReason, missing []string, grade domain.GradeTier) string {
	items := strings.Join(missing, ", ")
	switch reason {
	case domain.FailureLookupTimeout:
		return fmt.Sprintf("%s: price lookup timed out for %s", process.Name, items)
	case domain.FailureLookupUnavailable:
		return fmt.Sprintf("%s: price store unavailable for %s", process.Name, items)
	case domain.FailureQuantityRuleMissing:
		return fmt.Sprintf("%s: quantity rule missing for %s", process.Name, items)
	default:
		return fmt.Sprintf("%s: no %s price for %s", process.Name, grade, items)
	}
}

func containsSpaceID(list []domain.SpaceID, id domain.SpaceID) bool {
	for _, candidate := range list {
		if candidate == id {
			return true
		}
	}
	return false
}

func planContains(plan []plannedLine, code string) bool {
	for _, line := range plan {
		if line.code == code {
			return true
		}
	}
	return false
}
