package services

import (
	"errors"
	"math"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
)

// QuantityModel derives baseline quantities scaled to the size of the home.
type QuantityModel struct {
	catalog *catalog.Catalog
}

func NewQuantityModel(c *catalog.Catalog) (*QuantityModel, error) {
	if c == nil {
		return nil, errors.New("quantity model: catalog is required")
	}
	return &QuantityModel{catalog: c}, nil
}

// Derive scales every baseline quantity whose owning space is selected. House-wide
// quantities are present whenever any space is selected.
func (m *QuantityModel) Derive(profile domain.HouseProfile, scope domain.SelectedScope) (domain.QuantitySet, error) {
	if math.IsNaN(profile.Area) || math.IsInf(profile.Area, 0) || profile.Area <= 0 {
		verr := newInputValidationError()
		verr.add("house.area", "must be a positive number")
		return domain.QuantitySet{}, verr
	}

	multiplier := m.catalog.Multiplier(profile.Area)
	values := make(map[domain.QuantityKey]int64, len(m.catalog.Quantities))
	if scope.Empty() {
		return domain.NewQuantitySet(multiplier, values), nil
	}

	for _, spec := range m.catalog.Quantities {
		if spec.Space != "" && !scope.HasSpace(spec.Space) {
			continue
		}
		values[spec.Key] = scaleQuantity(spec, multiplier)
	}
	return domain.NewQuantitySet(multiplier, values), nil
}

func scaleQuantity(spec catalog.QuantitySpec, multiplier float64) int64 {
	switch spec.Scaling {
	case catalog.ScalingFixed:
		return spec.Base
	case catalog.ScalingFloored:
		scaled := roundHalfAwayFromZero(float64(spec.Base) * multiplier)
		if spec.Base > 0 && scaled < 1 {
			return 1
		}
		return scaled
	default:
		return roundHalfAwayFromZero(float64(spec.Base) * multiplier)
	}
}

func roundHalfAwayFromZero(value float64) int64 {
	return int64(math.Round(value))
}
