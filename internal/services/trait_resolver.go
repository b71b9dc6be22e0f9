package services

import (
	"errors"
	"strings"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
)

// ApplyTagPriority removes lower-priority tags from mutually exclusive groups.
// Ungrouped tags come first in input order without duplicates, followed by one
// representative per group in the order groups were first encountered. The
// representative is the encountered tag listed earliest in its group.
func ApplyTagPriority(tags []domain.TraitTag, groups []catalog.PriorityGroup) []domain.TraitTag {
	if len(tags) == 0 {
		return nil
	}

	groupOf := make(map[domain.TraitTag]int)
	rank := make(map[domain.TraitTag]int)
	for gi, group := range groups {
		for ti, tag := range group.Tags {
			if _, exists := groupOf[tag]; exists {
				continue
			}
			groupOf[tag] = gi
			rank[tag] = ti
		}
	}

	var (
		ungrouped  []domain.TraitTag
		seen       = make(map[domain.TraitTag]struct{}, len(tags))
		groupOrder []int
		chosen     = make(map[int]domain.TraitTag)
	)
	for _, tag := range tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}

		gi, grouped := groupOf[tag]
		if !grouped {
			ungrouped = append(ungrouped, tag)
			continue
		}
		current, ok := chosen[gi]
		if !ok {
			groupOrder = append(groupOrder, gi)
			chosen[gi] = tag
			continue
		}
		if rank[tag] < rank[current] {
			chosen[gi] = tag
		}
	}

	out := make([]domain.TraitTag, 0, len(ungrouped)+len(groupOrder))
	out = append(out, ungrouped...)
	for _, gi := range groupOrder {
		out = append(out, chosen[gi])
	}
	return out
}

// TraitResolver maps profile facts, preferences and answers to trait tags using catalog rules.
type TraitResolver struct {
	catalog *catalog.Catalog
}

func NewTraitResolver(c *catalog.Catalog) (*TraitResolver, error) {
	if c == nil {
		return nil, errors.New("trait resolver: catalog is required")
	}
	return &TraitResolver{catalog: c}, nil
}

// DeriveTraits collects tags in a fixed order (building age, purpose, lifestyle,
// family, answers) and applies group priority.
func (r *TraitResolver) DeriveTraits(profile domain.HouseProfile, prefs domain.Preferences, answers []domain.Answer) []domain.TraitTag {
	rules := r.catalog.Traits
	var tags []domain.TraitTag

	if profile.BuildingAge != nil {
		for _, rule := range rules.BuildingAge {
			if *profile.BuildingAge >= rule.MinAge {
				tags = append(tags, rule.Tag)
				break
			}
		}
	}

	if purpose := normalisePurpose(prefs.Purpose); purpose != "" {
		tags = append(tags, rules.Purpose[purpose]...)
	}

	for _, trait := range lifestyleSignals(prefs.Lifestyle) {
		tags = append(tags, rules.Lifestyle[trait]...)
	}

	if prefs.Family.Children > 0 {
		tags = append(tags, rules.Children...)
	}
	if prefs.Family.Pets {
		tags = append(tags, rules.Pets...)
	}

	for _, answer := range answers {
		question := strings.TrimSpace(answer.QuestionID)
		value := strings.ToLower(strings.TrimSpace(answer.Value))
		for _, rule := range rules.Answers {
			if rule.Question == question && strings.ToLower(rule.Value) == value {
				tags = append(tags, rule.Tags...)
			}
		}
	}

	return ApplyTagPriority(tags, r.catalog.PriorityGroups)
}

func normalisePurpose(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normaliseLifestyle(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

func lifestyleSignals(pref domain.LifestylePreference) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(value string) {
		normalised := normaliseLifestyle(value)
		if normalised == "" {
			return
		}
		if _, dup := seen[normalised]; dup {
			return
		}
		seen[normalised] = struct{}{}
		out = append(out, normalised)
	}
	add(pref.Primary)
	for _, trait := range pref.Traits {
		add(trait)
	}
	return out
}
