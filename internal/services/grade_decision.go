package services

import (
	"errors"
	"math"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
)

const (
	SignalBudget    = "budget"
	SignalLifestyle = "lifestyle"
	SignalPurpose   = "purpose"
)

// GradeSignals are the categorical inputs of the grade decision.
type GradeSignals struct {
	BudgetBucket string `json:"budgetBucket"`
	Lifestyle    string `json:"lifestyle"`
	Purpose      string `json:"purpose"`
}

// SignalScore records how one signal contributed to the decision.
type SignalScore struct {
	Signal string  `json:"signal"`
	Value  string  `json:"value"`
	Points float64 `json:"points"`
	Weight int     `json:"weight"`
}

// GradeDecision is the recommended grade together with the scores that produced it.
type GradeDecision struct {
	Grade     domain.GradeTier `json:"grade"`
	GradeName string           `json:"gradeName"`
	Score     float64          `json:"score"`
	Signals   []SignalScore    `json:"signals"`
}

// GradeDecider scores budget, lifestyle and purpose signals into a grade tier.
type GradeDecider struct {
	catalog *catalog.Catalog
}

func NewGradeDecider(c *catalog.Catalog) (*GradeDecider, error) {
	if c == nil {
		return nil, errors.New("grade decider: catalog is required")
	}
	return &GradeDecider{catalog: c}, nil
}

// BudgetBucket classifies the budget maximum (10,000 KRW units) per pyeong.
func (d *GradeDecider) BudgetBucket(budgetMax int64, area float64) (string, error) {
	verr := newInputValidationError()
	if budgetMax <= 0 {
		verr.add("preferences.budget.max", "must be positive")
	}
	if math.IsNaN(area) || math.IsInf(area, 0) || area <= 0 {
		verr.add("house.area", "must be a positive number")
	}
	if err := verr.orNil(); err != nil {
		return "", err
	}

	perArea := float64(budgetMax) / area
	for _, bucket := range d.catalog.Grades.BudgetBuckets {
		if perArea >= bucket.Min && (bucket.Max == 0 || perArea < bucket.Max) {
			return bucket.Name, nil
		}
	}
	verr.add("preferences.budget.max", "outside every budget bucket")
	return "", verr
}

// DetermineGrade computes the weighted score and maps it onto the grade bands.
// Bands are upper-bound inclusive.
func (d *GradeDecider) DetermineGrade(signals GradeSignals) (GradeDecision, error) {
	table := d.catalog.Grades
	verr := newInputValidationError()

	budgetPoints, ok := bucketPoints(table, signals.BudgetBucket)
	if !ok {
		verr.add("signals.budget", "unknown budget bucket "+signals.BudgetBucket)
	}
	lifestyle := normaliseLifestyle(signals.Lifestyle)
	lifestylePoints, ok := table.LifestylePoints[lifestyle]
	if !ok {
		verr.add("signals.lifestyle", "unknown lifestyle "+signals.Lifestyle)
	}
	purpose := normalisePurpose(signals.Purpose)
	purposePoints, ok := table.PurposePoints[purpose]
	if !ok {
		verr.add("signals.purpose", "unknown purpose "+signals.Purpose)
	}
	if err := verr.orNil(); err != nil {
		return GradeDecision{}, err
	}

	weights := table.Weights
	weighted := float64(weights.Budget)*budgetPoints +
		float64(weights.Lifestyle)*lifestylePoints +
		float64(weights.Purpose)*purposePoints
	score := weighted / 100

	grade := table.Bands[len(table.Bands)-1].Grade
	for _, band := range table.Bands {
		if score <= band.Max {
			grade = band.Grade
			break
		}
	}

	return GradeDecision{
		Grade:     grade,
		GradeName: d.catalog.GradeName(grade),
		Score:     score,
		Signals: []SignalScore{
			{Signal: SignalBudget, Value: signals.BudgetBucket, Points: budgetPoints, Weight: weights.Budget},
			{Signal: SignalLifestyle, Value: lifestyle, Points: lifestylePoints, Weight: weights.Lifestyle},
			{Signal: SignalPurpose, Value: purpose, Points: purposePoints, Weight: weights.Purpose},
		},
	}, nil
}

// Recommend derives the signals from the house profile and preferences and decides the grade.
func (d *GradeDecider) Recommend(profile domain.HouseProfile, prefs domain.Preferences) (GradeDecision, error) {
	verr := newInputValidationError()
	if prefs.Budget == nil {
		verr.add("preferences.budget", "is required when no grade is forced")
	}
	lifestyle := lifestyleSignals(prefs.Lifestyle)
	if len(lifestyle) == 0 {
		verr.add("preferences.lifestyle", "is required when no grade is forced")
	}
	if normalisePurpose(prefs.Purpose) == "" {
		verr.add("preferences.purpose", "is required when no grade is forced")
	}
	if err := verr.orNil(); err != nil {
		return GradeDecision{}, err
	}

	bucket, err := d.BudgetBucket(prefs.Budget.Max, profile.Area)
	if err != nil {
		return GradeDecision{}, err
	}
	return d.DetermineGrade(GradeSignals{
		BudgetBucket: bucket,
		Lifestyle:    lifestyle[0],
		Purpose:      prefs.Purpose,
	})
}

func bucketPoints(table catalog.GradeTable, name string) (float64, bool) {
	for _, bucket := range table.BudgetBuckets {
		if bucket.Name == name {
			return bucket.Points, true
		}
	}
	return 0, false
}
