// Package catalog loads the remodeling rule catalog: spaces, processes, items,
// baseline quantities, grade tables, trait rules and explanation templates.
// A Catalog is immutable once built and safe for concurrent use.
package catalog

import (
	"sort"

	domain "github.com/homefit-remodel/api/internal/domain"
)

// ScalingMode controls how a baseline quantity follows the size multiplier.
type ScalingMode string

const (
	// ScalingScaled multiplies the base and rounds half away from zero.
	ScalingScaled ScalingMode = "scaled"
	// ScalingFloored behaves like ScalingScaled but never drops below one when the base is positive.
	ScalingFloored ScalingMode = "floored"
	// ScalingFixed keeps the base regardless of size.
	ScalingFixed ScalingMode = "fixed"
)

// SizeBand maps areas up to UpTo (inclusive) to a multiplier. A zero UpTo is unbounded.
type SizeBand struct {
	UpTo       float64 `yaml:"up_to"`
	Multiplier float64 `yaml:"multiplier"`
}

// Space is a selectable area of the home.
type Space struct {
	ID   domain.SpaceID `yaml:"id"`
	Name string         `yaml:"name"`
}

// QuantitySpec declares a baseline quantity at the reference area.
type QuantitySpec struct {
	Key     domain.QuantityKey `yaml:"key"`
	Space   domain.SpaceID     `yaml:"space"`
	Base    int64              `yaml:"base"`
	Scaling ScalingMode        `yaml:"scaling"`
}

// Item describes a priceable line item.
type Item struct {
	Code     string             `yaml:"code"`
	Name     string             `yaml:"name"`
	Spec     string             `yaml:"spec"`
	Unit     string             `yaml:"unit"`
	Kind     domain.ItemKind    `yaml:"kind"`
	Quantity domain.QuantityKey `yaml:"quantity"`
}

// ProcessItem references an item used by a process, optionally limited to one space.
type ProcessItem struct {
	Code  string         `yaml:"code"`
	Space domain.SpaceID `yaml:"space"`
}

// Process is a construction process and its base item list in presentation order.
type Process struct {
	ID     domain.ProcessID `yaml:"id"`
	Name   string           `yaml:"name"`
	Impact int              `yaml:"impact"`
	Spaces []domain.SpaceID `yaml:"spaces"`
	Items  []ProcessItem    `yaml:"items"`
}

// AllowsSpace reports whether the process can be selected for the space.
func (p Process) AllowsSpace(space domain.SpaceID) bool {
	for _, candidate := range p.Spaces {
		if candidate == space {
			return true
		}
	}
	return false
}

// GradeWeights are integer percentages that sum to 100.
type GradeWeights struct {
	Budget    int `yaml:"budget"`
	Lifestyle int `yaml:"lifestyle"`
	Purpose   int `yaml:"purpose"`
}

// BudgetBucket classifies budget per area (10,000 KRW per pyeong). Min is inclusive, Max exclusive, zero Max is unbounded.
type BudgetBucket struct {
	Name   string  `yaml:"name"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
	Points float64 `yaml:"points"`
}

// GradeBand assigns scores up to Max (inclusive) to a grade.
type GradeBand struct {
	Grade domain.GradeTier `yaml:"grade"`
	Name  string           `yaml:"name"`
	Max   float64          `yaml:"max"`
}

// GradeTable holds the weighted grade decision tables.
type GradeTable struct {
	Weights         GradeWeights       `yaml:"weights"`
	BudgetBuckets   []BudgetBucket     `yaml:"budget_buckets"`
	LifestylePoints map[string]float64 `yaml:"lifestyle_points"`
	PurposePoints   map[string]float64 `yaml:"purpose_points"`
	Bands           []GradeBand        `yaml:"bands"`
}

// PriorityGroup lists mutually exclusive tags, highest priority first.
type PriorityGroup struct {
	Name string            `yaml:"name"`
	Tags []domain.TraitTag `yaml:"tags"`
}

// AgeRule tags buildings at least MinAge years old. Rules are evaluated in order and the first match wins.
type AgeRule struct {
	MinAge int             `yaml:"min_age"`
	Tag    domain.TraitTag `yaml:"tag"`
}

// AnswerRule tags a specific questionnaire answer.
type AnswerRule struct {
	Question string            `yaml:"question"`
	Value    string            `yaml:"value"`
	Tags     []domain.TraitTag `yaml:"tags"`
}

// TraitRules maps profile facts and answers to trait tags.
type TraitRules struct {
	BuildingAge []AgeRule                    `yaml:"building_age"`
	Purpose     map[string][]domain.TraitTag `yaml:"purpose"`
	Lifestyle   map[string][]domain.TraitTag `yaml:"lifestyle"`
	Children    []domain.TraitTag            `yaml:"children"`
	Pets        []domain.TraitTag            `yaml:"pets"`
	Answers     []AnswerRule                 `yaml:"answers"`
}

// Recommendation adjusts a process item list when a trait is present.
type Recommendation struct {
	Trait   domain.TraitTag   `yaml:"trait"`
	Process domain.ProcessID  `yaml:"process"`
	Add     []string          `yaml:"add"`
	Replace map[string]string `yaml:"replace"`
	Note    string            `yaml:"note"`
}

// Template renders one explanation line for a question. Text may contain {answer}.
type Template struct {
	Question string `yaml:"question"`
	Text     string `yaml:"text"`
	Always   bool   `yaml:"always"`
}

// Catalog is the validated, indexed rule set.
type Catalog struct {
	Version         string
	ReferenceArea   float64
	VATPercent      int64
	SizeBands       []SizeBand
	Spaces          []Space
	Quantities      []QuantitySpec
	Items           []Item
	Processes       []Process
	Grades          GradeTable
	PriorityGroups  []PriorityGroup
	Traits          TraitRules
	Recommendations []Recommendation
	Templates       []Template
	QuantityRules   []domain.QuantityRule

	prices      map[string]map[domain.GradeTier]int64
	items       map[string]Item
	processes   map[domain.ProcessID]Process
	spaces      map[domain.SpaceID]Space
	quantities  map[domain.QuantityKey]QuantitySpec
	recommended map[recommendationKey][]Recommendation
	templates   map[string]Template
	bandNames   map[domain.GradeTier]string
}

type recommendationKey struct {
	trait   domain.TraitTag
	process domain.ProcessID
}

// Item returns the item definition for code.
func (c *Catalog) Item(code string) (Item, bool) {
	item, ok := c.items[code]
	return item, ok
}

// Process returns the process definition for id.
func (c *Catalog) Process(id domain.ProcessID) (Process, bool) {
	process, ok := c.processes[id]
	return process, ok
}

// Space returns the space definition for id.
func (c *Catalog) Space(id domain.SpaceID) (Space, bool) {
	space, ok := c.spaces[id]
	return space, ok
}

// QuantitySpec returns the baseline declaration for key.
func (c *Catalog) QuantitySpec(key domain.QuantityKey) (QuantitySpec, bool) {
	spec, ok := c.quantities[key]
	return spec, ok
}

// RecommendationsFor returns the recommendations registered for a trait and process in catalog order.
func (c *Catalog) RecommendationsFor(trait domain.TraitTag, process domain.ProcessID) []Recommendation {
	return c.recommended[recommendationKey{trait: trait, process: process}]
}

// Template returns the explanation template registered for a question code.
func (c *Catalog) Template(question string) (Template, bool) {
	template, ok := c.templates[question]
	return template, ok
}

// GradeName returns the display name of a grade.
func (c *Catalog) GradeName(grade domain.GradeTier) string {
	if name, ok := c.bandNames[grade]; ok {
		return name
	}
	return string(grade)
}

// Multiplier returns the size multiplier for area using the configured step bands.
func (c *Catalog) Multiplier(area float64) float64 {
	for _, band := range c.SizeBands {
		if band.UpTo == 0 || area <= band.UpTo {
			return band.Multiplier
		}
	}
	return c.SizeBands[len(c.SizeBands)-1].Multiplier
}

// ProcessOrder returns the catalog order index of a process, or -1 when unknown.
func (c *Catalog) ProcessOrder(id domain.ProcessID) int {
	for i, process := range c.Processes {
		if process.ID == id {
			return i
		}
	}
	return -1
}

// PriceRows flattens the seed price table. Rows follow item order then grade order.
func (c *Catalog) PriceRows() []domain.PriceRow {
	rows := make([]domain.PriceRow, 0, len(c.prices)*3)
	for _, item := range c.Items {
		grades, ok := c.prices[item.Code]
		if !ok {
			continue
		}
		ordered := make([]domain.GradeTier, 0, len(grades))
		for grade := range grades {
			ordered = append(ordered, grade)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Rank() < ordered[j].Rank() })
		for _, grade := range ordered {
			rows = append(rows, domain.PriceRow{
				ItemCode:  item.Code,
				Grade:     grade,
				UnitPrice: grades[grade],
				Valid:     true,
			})
		}
	}
	return rows
}
