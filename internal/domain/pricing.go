package domain

import "sort"

// ItemKind classifies a line item for subtotal accumulation.
type ItemKind string

const (
	// ItemKindMaterial is a material whose quantity scales with the home.
	ItemKindMaterial ItemKind = "material"
	// ItemKindLabor is a labor or service charge.
	ItemKindLabor ItemKind = "labor"
	// ItemKindFixed is a material bought in a fixed count regardless of size.
	ItemKindFixed ItemKind = "fixed"
)

// Valid reports whether the kind is recognised.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindMaterial, ItemKindLabor, ItemKindFixed:
		return true
	default:
		return false
	}
}

// IsLabor reports whether amounts of this kind accumulate into the labor subtotal.
func (k ItemKind) IsLabor() bool {
	return k == ItemKindLabor
}

// QuantityKey names a derived quantity such as demolition_labor_days.
type QuantityKey string

// QuantitySet is the output of the quantity model. Keys owned by unselected spaces are absent.
type QuantitySet struct {
	Multiplier float64
	values     map[QuantityKey]int64
}

// NewQuantitySet copies the supplied values into an immutable set.
func NewQuantitySet(multiplier float64, values map[QuantityKey]int64) QuantitySet {
	copied := make(map[QuantityKey]int64, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return QuantitySet{Multiplier: multiplier, values: copied}
}

// Get returns the value for key and whether it is present.
func (q QuantitySet) Get(key QuantityKey) (int64, bool) {
	value, ok := q.values[key]
	return value, ok
}

// Len reports the number of quantities present.
func (q QuantitySet) Len() int {
	return len(q.values)
}

// Keys returns the present keys sorted lexicographically.
func (q QuantitySet) Keys() []QuantityKey {
	keys := make([]QuantityKey, 0, len(q.values))
	for key := range q.values {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// PriceQuote is the unit price of an item at a grade, in KRW.
type PriceQuote struct {
	ItemCode  string    `json:"itemCode"`
	Grade     GradeTier `json:"grade"`
	UnitPrice int64     `json:"unitPrice"`
}

// QuantityBasis selects the house parameter a quantity rule multiplies.
type QuantityBasis string

const (
	BasisPerBathroom QuantityBasis = "per_bathroom"
	BasisPerRoom     QuantityBasis = "per_room"
	BasisPerHouse    QuantityBasis = "per_house"
	BasisPerArea     QuantityBasis = "per_area"
)

// Valid reports whether the basis is recognised.
func (b QuantityBasis) Valid() bool {
	switch b {
	case BasisPerBathroom, BasisPerRoom, BasisPerHouse, BasisPerArea:
		return true
	default:
		return false
	}
}

// QuantityRule derives an item quantity from the house profile when no model quantity exists.
type QuantityRule struct {
	ItemCode string        `json:"itemCode"`
	Basis    QuantityBasis `json:"basis"`
	PerUnit  float64       `json:"perUnit"`
}

// PriceRow is a row of the authoritative price table.
type PriceRow struct {
	ItemCode  string    `json:"itemCode"`
	Grade     GradeTier `json:"grade"`
	UnitPrice int64     `json:"unitPrice"`
	Valid     bool      `json:"valid"`
}

// LineItem is one priced row of a process block.
type LineItem struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	Spec          string   `json:"spec,omitempty"`
	Unit          string   `json:"unit"`
	Kind          ItemKind `json:"kind"`
	Quantity      int64    `json:"quantity"`
	UnitPrice     int64    `json:"unitPrice"`
	Amount        int64    `json:"amount"`
	IsRecommended bool     `json:"isRecommended,omitempty"`
	RecommendedBy TraitTag `json:"recommendedBy,omitempty"`
}

// ProcessBlock is the priced result for one construction process.
type ProcessBlock struct {
	ProcessID     ProcessID  `json:"processId"`
	ProcessName   string     `json:"processName"`
	Items         []LineItem `json:"items"`
	MaterialTotal int64      `json:"materialTotal"`
	LaborTotal    int64      `json:"laborTotal"`
	Traits        []TraitTag `json:"traits,omitempty"`
}

// Total returns the pre-VAT amount of the block.
func (b ProcessBlock) Total() int64 {
	return b.MaterialTotal + b.LaborTotal
}

// FailureReason categorises why a process block could not be priced.
type FailureReason string

const (
	FailurePriceNotFound       FailureReason = "PRICE_NOT_FOUND"
	FailureLookupUnavailable   FailureReason = "LOOKUP_UNAVAILABLE"
	FailureLookupTimeout       FailureReason = "LOOKUP_TIMEOUT"
	FailureQuantityRuleMissing FailureReason = "QUANTITY_RULE_MISSING"
)

// ProcessFailure records a process that was excluded because pricing data was incomplete.
type ProcessFailure struct {
	ProcessID    ProcessID     `json:"processId"`
	ProcessName  string        `json:"processName"`
	MissingItems []string      `json:"missingItems"`
	Reason       FailureReason `json:"reason"`
	Message      string        `json:"message"`
}

// DowngradeSuggestion proposes how to bring an estimate back within budget.
type DowngradeSuggestion struct {
	Policy         string      `json:"policy"`
	DropProcesses  []ProcessID `json:"dropProcesses,omitempty"`
	Savings        int64       `json:"savings"`
	ProjectedTotal int64       `json:"projectedTotal"`
	Sufficient     bool        `json:"sufficient"`
	LowerGrade     GradeTier   `json:"lowerGrade,omitempty"`
}

// BudgetCheck compares the estimate against the customer's budget ceiling.
type BudgetCheck struct {
	Exceeded   bool                 `json:"exceeded"`
	Ceiling    int64                `json:"ceiling"`
	Overage    int64                `json:"overage"`
	Suggestion *DowngradeSuggestion `json:"suggestion,omitempty"`
}

// EstimateResult is the aggregated output of one engine run. Amounts are KRW.
type EstimateResult struct {
	Grade         GradeTier        `json:"grade"`
	GradeName     string           `json:"gradeName"`
	Blocks        []ProcessBlock   `json:"blocks"`
	Failures      []ProcessFailure `json:"failures"`
	MaterialTotal int64            `json:"materialTotal"`
	LaborTotal    int64            `json:"laborTotal"`
	GrandTotal    int64            `json:"grandTotal"`
	VAT           int64            `json:"vat"`
	TotalWithVAT  int64            `json:"totalWithVat"`
	PricePerArea  int64            `json:"pricePerArea"`
	Budget        *BudgetCheck     `json:"budget,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}
