package repositories

import (
	"context"
	"errors"
)

// Backend bundles the repositories one storage backend provides.
type Backend struct {
	Prices PriceRepository
	Traces TraceRepository
	Health HealthRepository
	// Closers run in reverse order on Close.
	Closers []func(context.Context) error
}

type registry struct {
	backend Backend
}

// NewRegistry validates backend and exposes it as a Registry.
func NewRegistry(backend Backend) (Registry, error) {
	if backend.Prices == nil {
		return nil, errors.New("registry: price repository is required")
	}
	if backend.Traces == nil {
		return nil, errors.New("registry: trace repository is required")
	}
	return &registry{backend: backend}, nil
}

func (r *registry) Prices() PriceRepository { return r.backend.Prices }

func (r *registry) Seeder() PriceSeeder {
	seeder, _ := r.backend.Prices.(PriceSeeder)
	return seeder
}

func (r *registry) Traces() TraceRepository  { return r.backend.Traces }
func (r *registry) Health() HealthRepository { return r.backend.Health }

func (r *registry) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.backend.Closers) - 1; i >= 0; i-- {
		if closer := r.backend.Closers[i]; closer != nil {
			if err := closer(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
