package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/homefit-remodel/api/internal/domain"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// ErrEmptyCatalog is returned when the supplied document has no content.
var ErrEmptyCatalog = errors.New("catalog: document is empty")

// ValidationError lists every problem found while validating a catalog document.
type ValidationError struct {
	problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog validation failed: %s", strings.Join(e.problems, "; "))
}

// Problems returns a copy of the validation problems.
func (e *ValidationError) Problems() []string {
	out := make([]string, len(e.problems))
	copy(out, e.problems)
	return out
}

// ObjectReader fetches a catalog document from remote storage.
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, object string) ([]byte, error)
}

type document struct {
	Version         string                                `yaml:"version"`
	ReferenceArea   float64                               `yaml:"reference_area"`
	VATPercent      int64                                 `yaml:"vat_percent"`
	SizeBands       []SizeBand                            `yaml:"size_bands"`
	Spaces          []Space                               `yaml:"spaces"`
	Quantities      []QuantitySpec                        `yaml:"quantities"`
	Items           []Item                                `yaml:"items"`
	Processes       []Process                             `yaml:"processes"`
	Grades          GradeTable                            `yaml:"grades"`
	PriorityGroups  []PriorityGroup                       `yaml:"priority_groups"`
	Traits          TraitRules                            `yaml:"traits"`
	Recommendations []Recommendation                      `yaml:"recommendations"`
	Templates       []Template                            `yaml:"templates"`
	QuantityRules   []quantityRuleDocument                `yaml:"quantity_rules"`
	Prices          map[string]map[domain.GradeTier]int64 `yaml:"prices"`
}

type quantityRuleDocument struct {
	Item    string               `yaml:"item"`
	Basis   domain.QuantityBasis `yaml:"basis"`
	PerUnit float64              `yaml:"per_unit"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// LoadFile parses the catalog stored at path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadObject parses the catalog stored in a bucket object.
func LoadObject(ctx context.Context, reader ObjectReader, bucket, object string) (*Catalog, error) {
	if reader == nil {
		return nil, errors.New("catalog: object reader is required")
	}
	data, err := reader.ReadObject(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("catalog: read gs://%s/%s: %w", bucket, object, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog document. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyCatalog
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc document
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCatalog
		}
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	normalise(&doc)
	if err := validate(doc); err != nil {
		return nil, err
	}
	return build(doc), nil
}

func normalise(doc *document) {
	if doc.VATPercent == 0 {
		doc.VATPercent = 10
	}
	for i := range doc.Quantities {
		if doc.Quantities[i].Scaling == "" {
			doc.Quantities[i].Scaling = ScalingScaled
		}
	}
	for i := range doc.Items {
		doc.Items[i].Code = strings.TrimSpace(doc.Items[i].Code)
	}
}

func validate(doc document) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if doc.ReferenceArea <= 0 || math.IsNaN(doc.ReferenceArea) {
		addf("reference_area must be positive")
	}
	if doc.VATPercent < 0 {
		addf("vat_percent must not be negative")
	}

	if len(doc.SizeBands) == 0 {
		addf("size_bands must not be empty")
	}
	var previous float64
	for i, band := range doc.SizeBands {
		if band.Multiplier <= 0 {
			addf("size_bands[%d]: multiplier must be positive", i)
		}
		last := i == len(doc.SizeBands)-1
		if band.UpTo == 0 && !last {
			addf("size_bands[%d]: only the last band may be unbounded", i)
		}
		if band.UpTo != 0 && band.UpTo <= previous {
			addf("size_bands[%d]: up_to must increase", i)
		}
		if last && band.UpTo != 0 {
			addf("size_bands: last band must be unbounded")
		}
		previous = band.UpTo
	}

	spaces := make(map[domain.SpaceID]struct{}, len(doc.Spaces))
	for _, space := range doc.Spaces {
		if space.ID == "" {
			addf("spaces: id is required")
			continue
		}
		if _, dup := spaces[space.ID]; dup {
			addf("spaces: duplicate id %q", space.ID)
		}
		spaces[space.ID] = struct{}{}
	}

	quantities := make(map[domain.QuantityKey]struct{}, len(doc.Quantities))
	for _, quantity := range doc.Quantities {
		if quantity.Key == "" {
			addf("quantities: key is required")
			continue
		}
		if _, dup := quantities[quantity.Key]; dup {
			addf("quantities: duplicate key %q", quantity.Key)
		}
		quantities[quantity.Key] = struct{}{}
		if quantity.Space != "" {
			if _, ok := spaces[quantity.Space]; !ok {
				addf("quantities[%s]: unknown space %q", quantity.Key, quantity.Space)
			}
		}
		if quantity.Base < 0 {
			addf("quantities[%s]: base must not be negative", quantity.Key)
		}
		switch quantity.Scaling {
		case ScalingScaled, ScalingFloored, ScalingFixed:
		default:
			addf("quantities[%s]: unknown scaling %q", quantity.Key, quantity.Scaling)
		}
	}

	items := make(map[string]struct{}, len(doc.Items))
	for _, item := range doc.Items {
		if item.Code == "" {
			addf("items: code is required")
			continue
		}
		if _, dup := items[item.Code]; dup {
			addf("items: duplicate code %q", item.Code)
		}
		items[item.Code] = struct{}{}
		if !item.Kind.Valid() {
			addf("items[%s]: unknown kind %q", item.Code, item.Kind)
		}
		if item.Quantity != "" {
			if _, ok := quantities[item.Quantity]; !ok {
				addf("items[%s]: unknown quantity key %q", item.Code, item.Quantity)
			}
		}
	}

	processes := make(map[domain.ProcessID]struct{}, len(doc.Processes))
	for _, process := range doc.Processes {
		if process.ID == "" {
			addf("processes: id is required")
			continue
		}
		if _, dup := processes[process.ID]; dup {
			addf("processes: duplicate id %q", process.ID)
		}
		processes[process.ID] = struct{}{}
		if len(process.Spaces) == 0 {
			addf("processes[%s]: at least one space is required", process.ID)
		}
		for _, space := range process.Spaces {
			if _, ok := spaces[space]; !ok {
				addf("processes[%s]: unknown space %q", process.ID, space)
			}
		}
		for _, ref := range process.Items {
			if _, ok := items[ref.Code]; !ok {
				addf("processes[%s]: unknown item %q", process.ID, ref.Code)
			}
			if ref.Space != "" && !process.AllowsSpace(ref.Space) {
				addf("processes[%s]: item %q bound to space %q outside the process", process.ID, ref.Code, ref.Space)
			}
		}
	}

	grades := doc.Grades
	if sum := grades.Weights.Budget + grades.Weights.Lifestyle + grades.Weights.Purpose; sum != 100 {
		addf("grades.weights must sum to 100, got %d", sum)
	}
	if len(grades.BudgetBuckets) == 0 {
		addf("grades.budget_buckets must not be empty")
	}
	for i, bucket := range grades.BudgetBuckets {
		if bucket.Name == "" {
			addf("grades.budget_buckets[%d]: name is required", i)
		}
		if i == 0 && bucket.Min != 0 {
			addf("grades.budget_buckets[0]: min must be 0")
		}
		if i > 0 && bucket.Min != grades.BudgetBuckets[i-1].Max {
			addf("grades.budget_buckets[%d]: min must equal previous max", i)
		}
		last := i == len(grades.BudgetBuckets)-1
		if last && bucket.Max != 0 {
			addf("grades.budget_buckets: last bucket must be unbounded")
		}
		if !last && bucket.Max <= bucket.Min {
			addf("grades.budget_buckets[%d]: max must exceed min", i)
		}
	}
	previous = 0
	for i, band := range grades.Bands {
		if !band.Grade.Valid() {
			addf("grades.bands[%d]: unknown grade %q", i, band.Grade)
		}
		if band.Max <= previous {
			addf("grades.bands[%d]: max must increase", i)
		}
		previous = band.Max
	}
	if len(grades.Bands) == 0 || grades.Bands[len(grades.Bands)-1].Max < 100 {
		addf("grades.bands must cover scores up to 100")
	}

	grouped := make(map[domain.TraitTag]string)
	for _, group := range doc.PriorityGroups {
		if group.Name == "" || len(group.Tags) == 0 {
			addf("priority_groups: name and tags are required")
			continue
		}
		for _, tag := range group.Tags {
			if owner, ok := grouped[tag]; ok {
				addf("priority_groups: tag %q appears in %q and %q", tag, owner, group.Name)
				continue
			}
			grouped[tag] = group.Name
		}
	}

	for _, rec := range doc.Recommendations {
		if rec.Trait == "" {
			addf("recommendations: trait is required")
		}
		if _, ok := processes[rec.Process]; !ok {
			addf("recommendations[%s]: unknown process %q", rec.Trait, rec.Process)
		}
		for _, code := range rec.Add {
			if _, ok := items[code]; !ok {
				addf("recommendations[%s]: unknown item %q", rec.Trait, code)
			}
		}
		for from, to := range rec.Replace {
			if _, ok := items[from]; !ok {
				addf("recommendations[%s]: unknown item %q", rec.Trait, from)
			}
			if _, ok := items[to]; !ok {
				addf("recommendations[%s]: unknown item %q", rec.Trait, to)
			}
		}
	}

	templates := make(map[string]struct{}, len(doc.Templates))
	for _, template := range doc.Templates {
		if template.Question == "" || template.Text == "" {
			addf("templates: question and text are required")
			continue
		}
		if _, dup := templates[template.Question]; dup {
			addf("templates: duplicate question %q", template.Question)
		}
		templates[template.Question] = struct{}{}
	}

	for _, rule := range doc.QuantityRules {
		if _, ok := items[rule.Item]; !ok {
			addf("quantity_rules: unknown item %q", rule.Item)
		}
		if !rule.Basis.Valid() {
			addf("quantity_rules[%s]: unknown basis %q", rule.Item, rule.Basis)
		}
		if rule.PerUnit < 0 {
			addf("quantity_rules[%s]: per_unit must not be negative", rule.Item)
		}
	}

	for code, grades := range doc.Prices {
		if _, ok := items[code]; !ok {
			addf("prices: unknown item %q", code)
		}
		for grade, price := range grades {
			if !grade.Valid() {
				addf("prices[%s]: unknown grade %q", code, grade)
			}
			if price < 0 {
				addf("prices[%s]: negative price for %s", code, grade)
			}
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &ValidationError{problems: problems}
	}
	return nil
}

func build(doc document) *Catalog {
	c := &Catalog{
		Version:         doc.Version,
		ReferenceArea:   doc.ReferenceArea,
		VATPercent:      doc.VATPercent,
		SizeBands:       doc.SizeBands,
		Spaces:          doc.Spaces,
		Quantities:      doc.Quantities,
		Items:           doc.Items,
		Processes:       doc.Processes,
		Grades:          doc.Grades,
		PriorityGroups:  doc.PriorityGroups,
		Traits:          doc.Traits,
		Recommendations: doc.Recommendations,
		Templates:       doc.Templates,
		prices:          doc.Prices,
		items:           make(map[string]Item, len(doc.Items)),
		processes:       make(map[domain.ProcessID]Process, len(doc.Processes)),
		spaces:          make(map[domain.SpaceID]Space, len(doc.Spaces)),
		quantities:      make(map[domain.QuantityKey]QuantitySpec, len(doc.Quantities)),
		recommended:     make(map[recommendationKey][]Recommendation),
		templates:       make(map[string]Template, len(doc.Templates)),
		bandNames:       make(map[domain.GradeTier]string, len(doc.Grades.Bands)),
	}

	for _, item := range doc.Items {
		c.items[item.Code] = item
	}
	for _, process := range doc.Processes {
		c.processes[process.ID] = process
	}
	for _, space := range doc.Spaces {
		c.spaces[space.ID] = space
	}
	for _, quantity := range doc.Quantities {
		c.quantities[quantity.Key] = quantity
	}
	for _, rec := range doc.Recommendations {
		key := recommendationKey{trait: rec.Trait, process: rec.Process}
		c.recommended[key] = append(c.recommended[key], rec)
	}
	for _, template := range doc.Templates {
		c.templates[template.Question] = template
	}
	for _, band := range doc.Grades.Bands {
		name := band.Name
		if name == "" {
			name = string(band.Grade)
		}
		c.bandNames[band.Grade] = name
	}
	for _, rule := range doc.QuantityRules {
		c.QuantityRules = append(c.QuantityRules, domain.QuantityRule{
			ItemCode: rule.Item,
			Basis:    rule.Basis,
			PerUnit:  rule.PerUnit,
		})
	}
	return c
}
