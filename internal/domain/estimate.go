// Package domain defines the estimate, pricing and decision trace types shared across layers.
package domain

import (
	"sort"
	"strings"
)

// GradeTier identifies the quality and price level applied uniformly to every price lookup of an estimate.
type GradeTier string

const (
	// GradeEssential is the entry level finish tier.
	GradeEssential GradeTier = "ESSENTIAL"
	// GradeStandard is the mid-range finish tier.
	GradeStandard GradeTier = "STANDARD"
	// GradeOpus is the premium finish tier.
	GradeOpus GradeTier = "OPUS"
)

var gradeOrder = []GradeTier{GradeEssential, GradeStandard, GradeOpus}

// ParseGradeTier normalises the supplied value into a known grade tier.
func ParseGradeTier(value string) (GradeTier, bool) {
	candidate := GradeTier(strings.ToUpper(strings.TrimSpace(value)))
	if candidate.Rank() < 0 {
		return "", false
	}
	return candidate, true
}

// Rank reports the position of the grade in ascending order, or -1 when unknown.
func (g GradeTier) Rank() int {
	for i, grade := range gradeOrder {
		if grade == g {
			return i
		}
	}
	return -1
}

// Valid reports whether the grade is one of the known tiers.
func (g GradeTier) Valid() bool {
	return g.Rank() >= 0
}

// Lower returns the next cheaper tier when one exists.
func (g GradeTier) Lower() (GradeTier, bool) {
	rank := g.Rank()
	if rank <= 0 {
		return "", false
	}
	return gradeOrder[rank-1], true
}

// HousingType enumerates the supported building categories.
type HousingType string

const (
	HousingApartment HousingType = "apartment"
	HousingVilla     HousingType = "villa"
	HousingOfficetel HousingType = "officetel"
	HousingHouse     HousingType = "house"
)

// Valid reports whether the housing type is recognised.
func (h HousingType) Valid() bool {
	switch h {
	case HousingApartment, HousingVilla, HousingOfficetel, HousingHouse:
		return true
	default:
		return false
	}
}

// HouseProfile captures the physical parameters of the home being remodeled. Area is expressed in pyeong.
type HouseProfile struct {
	HousingType HousingType `json:"housingType"`
	Area        float64     `json:"area"`
	Rooms       int         `json:"rooms"`
	Bathrooms   int         `json:"bathrooms"`
	BuildingAge *int        `json:"buildingAge,omitempty"`
	Floor       *int        `json:"floor,omitempty"`
}

// SpaceID identifies a physical space of the home (kitchen, bathroom, ...).
type SpaceID string

// ProcessID identifies a construction process (demolition, tiling, ...).
type ProcessID string

// SpaceSelection lists the processes requested for one space.
type SpaceSelection struct {
	SpaceID    SpaceID     `json:"spaceId"`
	Processes  []ProcessID `json:"processes"`
	Customized bool        `json:"customized,omitempty"`
}

// SelectedScope is the set of spaces and processes requested by the customer.
type SelectedScope struct {
	Spaces []SpaceSelection `json:"spaces"`
}

// HasSpace reports whether the space was selected with at least one process.
func (s SelectedScope) HasSpace(id SpaceID) bool {
	for _, space := range s.Spaces {
		if space.SpaceID == id && len(space.Processes) > 0 {
			return true
		}
	}
	return false
}

// Empty reports whether no process was selected in any space.
func (s SelectedScope) Empty() bool {
	for _, space := range s.Spaces {
		if len(space.Processes) > 0 {
			return false
		}
	}
	return true
}

// ProcessSpaces maps every selected process to the spaces that requested it, in selection order.
func (s SelectedScope) ProcessSpaces() map[ProcessID][]SpaceID {
	out := make(map[ProcessID][]SpaceID)
	for _, space := range s.Spaces {
		for _, process := range space.Processes {
			if containsSpace(out[process], space.SpaceID) {
				continue
			}
			out[process] = append(out[process], space.SpaceID)
		}
	}
	return out
}

// CustomizedSpaces returns the sorted identifiers of spaces flagged as customised.
func (s SelectedScope) CustomizedSpaces() []SpaceID {
	var out []SpaceID
	for _, space := range s.Spaces {
		if space.Customized && !containsSpace(out, space.SpaceID) {
			out = append(out, space.SpaceID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsSpace(list []SpaceID, id SpaceID) bool {
	for _, existing := range list {
		if existing == id {
			return true
		}
	}
	return false
}

// TraitTag is a symbolic label derived from answers that influences item selection.
type TraitTag string

// Answer records the value a customer supplied for a questionnaire item.
type Answer struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

// BudgetPreference expresses the budget range in units of 10,000 KRW.
type BudgetPreference struct {
	Min                int64 `json:"min"`
	Max                int64 `json:"max"`
	FlexibilityPercent int   `json:"flexibilityPercent"`
}

// FamilyPreference describes the household living in the home.
type FamilyPreference struct {
	Adults   int  `json:"adults"`
	Children int  `json:"children"`
	Pets     bool `json:"pets"`
}

// LifestylePreference holds the primary lifestyle trait and any secondary ones.
type LifestylePreference struct {
	Primary string   `json:"primary"`
	Traits  []string `json:"traits,omitempty"`
}

// Preferences groups the soft inputs used for trait derivation and grade decision.
type Preferences struct {
	Budget    *BudgetPreference   `json:"budget,omitempty"`
	Family    FamilyPreference    `json:"family"`
	Lifestyle LifestylePreference `json:"lifestyle"`
	Purpose   string              `json:"purpose"`
}
